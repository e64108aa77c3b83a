package generation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"novel-forge-api/internal/domain/entity"
	apperrors "novel-forge-api/pkg/errors"
)

// maxChapterWordTarget 单章字数目标上限
const maxChapterWordTarget = 8000

// extractJSONObject 从模型输出中截取首个完整的 JSON 对象。
// 模型经常在 JSON 前后附带解释文字或代码块围栏，这里按括号深度扫描，
// 跳过字符串字面量内部的大括号。
func extractJSONObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

// DecodeAnalysis 解析前提分析输出
func DecodeAnalysis(raw string) (*entity.PremiseAnalysis, error) {
	jsonText := extractJSONObject(raw)
	if jsonText == "" {
		return nil, apperrors.New(apperrors.CodeResponseFormat, "analysis response does not contain a JSON object")
	}

	var analysis entity.PremiseAnalysis
	if err := json.Unmarshal([]byte(jsonText), &analysis); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeResponseFormat, "failed to parse analysis json")
	}
	if len(analysis.Themes) == 0 && analysis.PlotStructure == "" {
		return nil, apperrors.New(apperrors.CodeResponseFormat, "analysis json is missing themes and plot structure")
	}
	return &analysis, nil
}

type outlineEnvelope struct {
	Outline []entity.ChapterSpec `json:"outline"`
}

// DecodeOutline 解析大纲输出并补齐缺失字段。
// 章号缺失时按位置补号，key_events 缺失时写入占位事件，
// 字数目标无效时回落到全书目标的均值并封顶
func DecodeOutline(raw string, targetWordCount, targetChapters int) ([]entity.ChapterSpec, error) {
	jsonText := extractJSONObject(raw)
	if jsonText == "" {
		return nil, apperrors.New(apperrors.CodeResponseFormat, "outline response does not contain a JSON object")
	}

	var envelope outlineEnvelope
	if err := json.Unmarshal([]byte(jsonText), &envelope); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeResponseFormat, "failed to parse outline json")
	}
	if len(envelope.Outline) == 0 {
		return nil, apperrors.New(apperrors.CodeResponseFormat, "outline json contains no chapters")
	}

	defaultTarget := 0
	if targetChapters > 0 {
		defaultTarget = int(math.Round(float64(targetWordCount) / float64(targetChapters)))
	}

	specs := envelope.Outline
	for i := range specs {
		spec := &specs[i]
		if spec.ChapterNumber <= 0 {
			spec.ChapterNumber = i + 1
		}
		if strings.TrimSpace(spec.Title) == "" || strings.TrimSpace(spec.Summary) == "" {
			return nil, apperrors.New(apperrors.CodeResponseFormat,
				fmt.Sprintf("outline chapter %d is missing title or summary", spec.ChapterNumber))
		}
		if len(spec.KeyEvents) == 0 {
			spec.KeyEvents = []string{"Chapter events to be determined"}
		}
		if spec.WordTarget <= 0 {
			spec.WordTarget = defaultTarget
		}
		if spec.WordTarget > maxChapterWordTarget {
			spec.WordTarget = maxChapterWordTarget
		}
	}
	return specs, nil
}
