package generation

import (
	"context"
	"fmt"
	"strings"

	"novel-forge-api/internal/domain/entity"
	"novel-forge-api/pkg/logger"
)

// completedWithContent 返回已完成且正文非空的章节，按章号顺序
func (r *run) completedWithContent() []entity.ChapterRecord {
	out := make([]entity.ChapterRecord, 0, len(r.job.Chapters))
	for _, ch := range r.job.Chapters {
		if ch.Status == entity.ChapterCompleted && ch.Content != "" {
			out = append(out, ch)
		}
	}
	return out
}

// storyMemory 为当前章节构建故事记忆：全部前情的章节摘要，
// 加上最近几章的完整正文。缺失的摘要按需补生成并落库
func (r *run) storyMemory(ctx context.Context, currentChapter int, completed []entity.ChapterRecord) string {
	var b strings.Builder

	if len(completed) == 0 {
		b.WriteString("\nSTORY PROGRESS: This is the first chapter\n")
		return b.String()
	}

	needsSaving := false
	b.WriteString("\nCHAPTER SUMMARIES (ALL PREVIOUS CHAPTERS):\n")
	for i := range completed {
		ch := &completed[i]
		if ch.Summary == "" {
			ch.Summary = r.chapterSummary(ctx, ch.Number, ch.Title, ch.Content)
			if slot := r.job.ChapterByNumber(ch.Number); slot != nil {
				slot.Summary = ch.Summary
				needsSaving = true
			}
		}
		fmt.Fprintf(&b, "Ch%d: %s - %s\n", ch.Number, ch.Title, ch.Summary)
	}
	if needsSaving {
		if err := r.save(ctx); err != nil {
			logger.Warn(ctx, "failed to persist generated chapter summaries",
				"job_id", r.job.ID, "error", err.Error())
		}
	}

	window := r.engine.opts.RecentChapterWindow
	recent := completed
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	fmt.Fprintf(&b, "\nRECENT CHAPTERS (FULL TEXT - LAST %d):\n", window)
	for _, ch := range recent {
		fmt.Fprintf(&b, "\n--- CHAPTER %d: %s ---\n", ch.Number, ch.Title)
		b.WriteString(ch.Content)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nCURRENT PROGRESS: Writing Chapter %d of %d total\n", currentChapter, r.job.TargetChapters)
	return b.String()
}

// updateChapterSummary 为刚完成的章节生成并落库摘要
func (r *run) updateChapterSummary(ctx context.Context, slot *entity.ChapterRecord) {
	slot.Summary = r.chapterSummary(ctx, slot.Number, slot.Title, slot.Content)
	if err := r.save(ctx); err != nil {
		logger.Warn(ctx, "failed to persist chapter summary",
			"job_id", r.job.ID, "chapter", slot.Number, "error", err.Error())
	}
}

// chapterSummary 生成单章摘要，失败时回落到占位摘要
func (r *run) chapterSummary(ctx context.Context, number int, title, content string) string {
	res, err := r.engine.provider.Chat(ctx, summaryRequest(buildSummaryPrompt(number, title, content)))
	if err != nil {
		logger.Warn(ctx, "failed to generate chapter summary",
			"job_id", r.job.ID, "chapter", number, "error", err.Error())
		return fmt.Sprintf("Chapter %d: %s - Content generated successfully", number, title)
	}
	r.tel.record(ctx, r.job, entity.PhaseChapterWriting, res)
	return strings.TrimSpace(res.Content)
}
