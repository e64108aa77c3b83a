package generation

import (
	"math"

	"novel-forge-api/internal/infrastructure/llm"
)

// 规划类调用（分析、大纲、梗概、摘要）统一使用轻量模型，
// 章节正文使用配置指定的主力模型
const (
	planningModel       = "gpt-4o-mini"
	chapterModelDefault = "gpt-4o"
)

// maxCompletionTokens 模型单次输出上限
const maxCompletionTokens = 16000

func clampTokens(n, floor int) int {
	if n < floor {
		n = floor
	}
	if n > maxCompletionTokens {
		n = maxCompletionTokens
	}
	return n
}

func analysisRequest(prompt string) llm.ChatRequest {
	return llm.ChatRequest{
		Prompt:      prompt,
		Model:       planningModel,
		Temperature: 0.3,
		MaxTokens:   4000,
	}
}

// outlineRequest 按目标章数放大输出预算，长大纲需要更多 token
func outlineRequest(prompt string, targetChapters int) llm.ChatRequest {
	return llm.ChatRequest{
		Prompt:      prompt,
		Model:       planningModel,
		Temperature: 0.4,
		MaxTokens:   clampTokens(targetChapters*300, 8000),
	}
}

func chapterRequest(prompt, model string, wordTarget int) llm.ChatRequest {
	return llm.ChatRequest{
		Prompt:      prompt,
		Model:       model,
		Temperature: 0.7,
		MaxTokens:   clampTokens(int(math.Round(float64(wordTarget)*1.6)), 4000),
	}
}

func synopsisRequest(prompt string) llm.ChatRequest {
	return llm.ChatRequest{
		Prompt:      prompt,
		Model:       planningModel,
		Temperature: 0.3,
		MaxTokens:   1500,
	}
}

func summaryRequest(prompt string) llm.ChatRequest {
	return llm.ChatRequest{
		Prompt:      prompt,
		Model:       planningModel,
		Temperature: 0.3,
		MaxTokens:   200,
	}
}
