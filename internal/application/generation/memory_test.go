package generation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"novel-forge-api/internal/domain/entity"
	"novel-forge-api/internal/infrastructure/llm"
	apperrors "novel-forge-api/pkg/errors"
)

func completedChapter(number int, summary string) entity.ChapterRecord {
	ch := entity.ChapterRecord{
		Number:  number,
		Title:   fmt.Sprintf("Chapter %d Title", number),
		Status:  entity.ChapterCompleted,
		Summary: summary,
	}
	ch.SetContent(fmt.Sprintf("Full text of chapter %d. %s", number, strings.Repeat("Prose. ", 10)))
	return ch
}

func TestStoryMemoryFirstChapter(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{respond: scriptedResponder(3, nil)}
	r, _ := writingRun(t, store, provider, 3)

	got := r.storyMemory(context.Background(), 1, nil)
	if got != "\nSTORY PROGRESS: This is the first chapter\n" {
		t.Errorf("memory = %q", got)
	}
}

func TestStoryMemoryComposition(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{respond: scriptedResponder(4, nil)}
	r, job := writingRun(t, store, provider, 4)

	completed := []entity.ChapterRecord{
		completedChapter(1, "The heir returned."),
		completedChapter(2, "The plot thickened."),
		completedChapter(3, "A betrayal surfaced."),
	}

	got := r.storyMemory(context.Background(), 4, completed)

	if !strings.Contains(got, "CHAPTER SUMMARIES (ALL PREVIOUS CHAPTERS):") {
		t.Error("missing summaries header")
	}
	for _, ch := range completed {
		line := fmt.Sprintf("Ch%d: %s - %s", ch.Number, ch.Title, ch.Summary)
		if !strings.Contains(got, line) {
			t.Errorf("missing summary line %q", line)
		}
	}

	// 窗口为 2：只有最近两章带全文
	if !strings.Contains(got, "RECENT CHAPTERS (FULL TEXT - LAST 2):") {
		t.Error("missing recent chapters header")
	}
	if strings.Contains(got, "--- CHAPTER 1:") {
		t.Error("chapter 1 full text should be outside the window")
	}
	for _, n := range []int{2, 3} {
		marker := fmt.Sprintf("--- CHAPTER %d: Chapter %d Title ---", n, n)
		if !strings.Contains(got, marker) {
			t.Errorf("missing full text block %q", marker)
		}
	}

	want := fmt.Sprintf("CURRENT PROGRESS: Writing Chapter 4 of %d total", job.TargetChapters)
	if !strings.Contains(got, want) {
		t.Errorf("missing progress line %q", want)
	}
}

func TestStoryMemoryBackfillsMissingSummaries(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{respond: scriptedResponder(3, nil)}
	r, job := writingRun(t, store, provider, 3)

	first := job.ChapterByNumber(1)
	first.SetContent("Chapter one text. " + strings.Repeat("Prose. ", 10))
	first.Status = entity.ChapterCompleted

	got := r.storyMemory(context.Background(), 2, job.CompletedChapters())

	if n := provider.countKind("summary"); n != 1 {
		t.Fatalf("summary requests = %d, want 1", n)
	}
	if !strings.Contains(got, "Ch1: Chapter 1 Title - The heir advanced the plot.") {
		t.Errorf("generated summary not used in memory: %q", got)
	}
	// 补生成的摘要应当落库
	if stored := store.stored(job.ID); stored.ChapterByNumber(1).Summary != "The heir advanced the plot." {
		t.Errorf("stored summary = %q", stored.ChapterByNumber(1).Summary)
	}
}

func TestChapterSummaryFallback(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{}
	provider.respond = func(req llm.ChatRequest) (*llm.ChatResult, error) {
		if requestKind(req) == "summary" {
			return nil, apperrors.New(apperrors.CodeProviderServer, "transient")
		}
		return scriptedResponder(3, nil)(req)
	}
	r, _ := writingRun(t, store, provider, 3)

	got := r.chapterSummary(context.Background(), 2, "The Long Night", "content")
	want := "Chapter 2: The Long Night - Content generated successfully"
	if got != want {
		t.Errorf("fallback summary = %q, want %q", got, want)
	}
}

func TestSummaryPromptTruncatesLongContent(t *testing.T) {
	content := strings.Repeat("x", summaryExcerptRunes+500)
	prompt := buildSummaryPrompt(7, "A Title", content)
	if strings.Contains(prompt, content) {
		t.Error("prompt contains untruncated content")
	}
	if !strings.Contains(prompt, strings.Repeat("x", summaryExcerptRunes)+"...") {
		t.Error("prompt missing truncated excerpt with ellipsis")
	}
	if !strings.Contains(prompt, "CHAPTER 7: A Title") {
		t.Error("prompt missing chapter header")
	}
}

func TestUpdateChapterSummaryPersists(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{respond: scriptedResponder(3, nil)}
	r, job := writingRun(t, store, provider, 3)

	slot := job.ChapterByNumber(1)
	slot.SetContent("Chapter text.")
	slot.Status = entity.ChapterCompleted
	slot.GeneratedAt = func() *time.Time { now := time.Now(); return &now }()

	r.updateChapterSummary(context.Background(), slot)

	if slot.Summary != "The heir advanced the plot." {
		t.Errorf("slot summary = %q", slot.Summary)
	}
	if stored := store.stored(job.ID); stored.ChapterByNumber(1).Summary == "" {
		t.Error("summary not persisted")
	}
}
