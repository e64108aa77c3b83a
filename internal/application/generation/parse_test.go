package generation

import (
	"strings"
	"testing"

	apperrors "novel-forge-api/pkg/errors"
)

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare object",
			in:   `{"a":1}`,
			want: `{"a":1}`,
		},
		{
			name: "fenced with prose",
			in:   "Here is the result:\n```json\n{\"a\":1}\n```\nHope this helps!",
			want: `{"a":1}`,
		},
		{
			name: "braces inside strings",
			in:   `prefix {"text":"a {nested} \"quote\" }"} suffix`,
			want: `{"text":"a {nested} \"quote\" }"}`,
		},
		{
			name: "nested objects",
			in:   `{"outer":{"inner":{"deep":true}}}`,
			want: `{"outer":{"inner":{"deep":true}}}`,
		},
		{
			name: "no object",
			in:   "sorry, I cannot do that",
			want: "",
		},
		{
			name: "unterminated object",
			in:   `{"a":1`,
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSONObject(tc.in); got != tc.want {
				t.Errorf("extractJSONObject(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDecodeAnalysis(t *testing.T) {
	analysis, err := DecodeAnalysis("Analysis below.\n" + testAnalysisJSON)
	if err != nil {
		t.Fatalf("DecodeAnalysis: %v", err)
	}
	if len(analysis.Themes) != 2 || analysis.PlotStructure == "" {
		t.Errorf("analysis = %+v", analysis)
	}
	if sketch, ok := analysis.Characters["Aldric"]; !ok || sketch.Type != "protagonist" {
		t.Errorf("characters = %+v", analysis.Characters)
	}
}

func TestDecodeAnalysisRejectsEmptyPayload(t *testing.T) {
	_, err := DecodeAnalysis(`{"tone":"grim"}`)
	assertCode(t, err, apperrors.CodeResponseFormat)

	_, err = DecodeAnalysis("no json here")
	assertCode(t, err, apperrors.CodeResponseFormat)
}

func TestDecodeOutlineDefaults(t *testing.T) {
	raw := `{"outline":[
		{"title":"One","summary":"First"},
		{"chapter_number":2,"title":"Two","summary":"Second","key_events":["duel"],"word_target":50000},
		{"title":"Three","summary":"Third","word_target":-5}
	]}`

	specs, err := DecodeOutline(raw, 30000, 3)
	if err != nil {
		t.Fatalf("DecodeOutline: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("len = %d, want 3", len(specs))
	}

	// 缺章号按位置补号
	if specs[0].ChapterNumber != 1 || specs[2].ChapterNumber != 3 {
		t.Errorf("chapter numbers = %d, %d, %d", specs[0].ChapterNumber, specs[1].ChapterNumber, specs[2].ChapterNumber)
	}
	// 缺 key_events 写入占位事件
	if len(specs[0].KeyEvents) != 1 || specs[0].KeyEvents[0] != "Chapter events to be determined" {
		t.Errorf("key events = %v", specs[0].KeyEvents)
	}
	if len(specs[1].KeyEvents) != 1 || specs[1].KeyEvents[0] != "duel" {
		t.Errorf("explicit key events overwritten: %v", specs[1].KeyEvents)
	}
	// 无效目标回落到均值，超限封顶
	if specs[0].WordTarget != 10000 {
		t.Errorf("defaulted word target = %d, want 10000", specs[0].WordTarget)
	}
	if specs[1].WordTarget != maxChapterWordTarget {
		t.Errorf("capped word target = %d, want %d", specs[1].WordTarget, maxChapterWordTarget)
	}
	if specs[2].WordTarget != 10000 {
		t.Errorf("negative word target = %d, want 10000", specs[2].WordTarget)
	}
}

func TestDecodeOutlineRejectsMissingTitleOrSummary(t *testing.T) {
	_, err := DecodeOutline(`{"outline":[{"chapter_number":1,"summary":"no title"}]}`, 10000, 1)
	assertCode(t, err, apperrors.CodeResponseFormat)

	_, err = DecodeOutline(`{"outline":[{"chapter_number":1,"title":"  ","summary":"blank title"}]}`, 10000, 1)
	assertCode(t, err, apperrors.CodeResponseFormat)
}

func TestDecodeOutlineRejectsEmptyEnvelope(t *testing.T) {
	_, err := DecodeOutline(`{"outline":[]}`, 10000, 1)
	assertCode(t, err, apperrors.CodeResponseFormat)

	_, err = DecodeOutline(`{"chapters":[{"title":"t","summary":"s"}]}`, 10000, 1)
	assertCode(t, err, apperrors.CodeResponseFormat)
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("字", 20)
	got := truncateRunes(long, 5)
	if got != strings.Repeat("字", 5)+"..." {
		t.Errorf("got %q", got)
	}
}

func assertCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		t.Fatalf("error %v is not an AppError", err)
	}
	if appErr.Code != code {
		t.Errorf("error code = %s, want %s", appErr.Code, code)
	}
}
