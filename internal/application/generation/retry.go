package generation

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"novel-forge-api/internal/application/genre"
	"novel-forge-api/internal/domain/entity"
	"novel-forge-api/internal/infrastructure/messaging"
	apperrors "novel-forge-api/pkg/errors"
	"novel-forge-api/pkg/logger"
	"novel-forge-api/pkg/metrics"
)

// retryBackoff 第 n 次尝试后的指数退避间隔
func retryBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// writeChapterWithRetry 有界重试地生成单章。
// 每次尝试前把 generating 状态与尝试次数落库，失败原因同样落库，
// 耗尽尝试后章节进入 failed，任务继续写后面的章节
func (r *run) writeChapterWithRetry(ctx context.Context, spec entity.ChapterSpec) {
	ctx, span := tracer.Start(ctx, "generation.writeChapter",
		trace.WithAttributes(attribute.Int("chapter", spec.ChapterNumber)))
	defer span.End()

	slot := r.job.ChapterByNumber(spec.ChapterNumber)
	if slot == nil {
		logger.Warn(ctx, "no chapter slot for outline entry, skipping",
			"job_id", r.job.ID, "chapter", spec.ChapterNumber)
		return
	}
	wasFailed := slot.Status == entity.ChapterFailed

	maxAttempts := r.engine.opts.MaxChapterAttempts
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slot.Status = entity.ChapterGenerating
		slot.Attempts = attempt
		slot.FailureReason = ""
		if err := r.save(ctx); err != nil {
			if errors.Is(err, errStopped) {
				return
			}
			logger.Warn(ctx, "failed to persist chapter attempt state",
				"job_id", r.job.ID, "chapter", spec.ChapterNumber, "error", err.Error())
		}

		started := time.Now()
		content, model, warnings, err := r.generateChapter(ctx, spec)
		if err == nil {
			r.completeChapter(ctx, slot, spec, content, model, warnings, wasFailed, time.Since(started))
			return
		}

		lastErr = err
		slot.FailureReason = err.Error()
		if saveErr := r.save(ctx); saveErr != nil {
			if errors.Is(saveErr, errStopped) {
				return
			}
			logger.Warn(ctx, "failed to persist chapter failure reason",
				"job_id", r.job.ID, "chapter", spec.ChapterNumber, "error", saveErr.Error())
		}

		logger.Error(ctx, "chapter attempt failed", err,
			"job_id", r.job.ID, "chapter", spec.ChapterNumber, "attempt", attempt)

		if !apperrors.IsRetryable(err) {
			logger.Warn(ctx, "chapter error is not retryable, giving up",
				"job_id", r.job.ID, "chapter", spec.ChapterNumber)
			break
		}
		if attempt < maxAttempts {
			metrics.ChapterAttemptsTotal.WithLabelValues("retry").Inc()
			if sleepErr := r.engine.sleep(ctx, retryBackoff(attempt)); sleepErr != nil {
				break
			}
		}
	}

	slot.Status = entity.ChapterFailed
	if lastErr != nil {
		slot.FailureReason = lastErr.Error()
	}
	if !wasFailed {
		r.job.RecordChapterFailure(spec.ChapterNumber)
	} else {
		r.job.Progress.HasFailures = true
	}
	if err := r.save(ctx); err != nil {
		if errors.Is(err, errStopped) {
			return
		}
		logger.Error(ctx, "failed to persist failed chapter", err,
			"job_id", r.job.ID, "chapter", spec.ChapterNumber)
	}

	metrics.ChapterAttemptsTotal.WithLabelValues("failure").Inc()
	r.emit(ctx, messaging.Event{
		Kind:    messaging.EventChapterFailed,
		Phase:   string(entity.PhaseChapterWriting),
		Chapter: spec.ChapterNumber,
		Detail: map[string]interface{}{
			"attempts": slot.Attempts,
			"reason":   slot.FailureReason,
		},
	})
}

// generateChapter 单次章节生成尝试
func (r *run) generateChapter(ctx context.Context, spec entity.ChapterSpec) (string, string, []string, error) {
	completed := r.completedWithContent()

	memory := r.storyMemory(ctx, spec.ChapterNumber, completed)
	notes := consistencyNotes(completed)
	guidance, _ := genre.Guidance(r.job.Genre, r.job.Subgenre)

	prompt := buildChapterPrompt(r.job, spec, memory, notes, guidance)
	res, err := r.engine.provider.Chat(ctx, chapterRequest(prompt, r.engine.opts.ChapterModel, spec.WordTarget))
	if err != nil {
		return "", "", nil, err
	}
	r.tel.record(ctx, r.job, entity.PhaseChapterWriting, res)

	content := strings.TrimSpace(res.Content)
	if content == "" {
		return "", "", nil, apperrors.New(apperrors.CodeResponseFormat, "model returned empty chapter content")
	}

	warnings := validateConsistency(content, completed)
	if len(warnings) > 0 {
		logger.Warn(ctx, "consistency warnings for chapter",
			"job_id", r.job.ID, "chapter", spec.ChapterNumber, "warnings", strings.Join(warnings, "; "))
	}
	return content, res.Model, warnings, nil
}

// completeChapter 写入成功章节并更新进度计数
func (r *run) completeChapter(
	ctx context.Context,
	slot *entity.ChapterRecord,
	spec entity.ChapterSpec,
	content, model string,
	warnings []string,
	wasFailed bool,
	elapsed time.Duration,
) {
	now := time.Now()
	slot.Title = spec.Title
	slot.SetContent(content)
	slot.Status = entity.ChapterCompleted
	slot.FailureReason = ""
	slot.ContinuityWarnings = warnings
	slot.Model = model
	slot.DurationMs = int(elapsed.Milliseconds())
	slot.GeneratedAt = &now

	if wasFailed {
		r.job.ClearChapterFailure(spec.ChapterNumber)
	}
	r.job.Progress.ChaptersCompleted++

	if err := r.save(ctx); err != nil {
		if errors.Is(err, errStopped) {
			return
		}
		logger.Error(ctx, "failed to persist completed chapter", err,
			"job_id", r.job.ID, "chapter", spec.ChapterNumber)
	}

	// 摘要生成失败不影响章节结果
	r.updateChapterSummary(ctx, slot)

	metrics.ChapterAttemptsTotal.WithLabelValues("success").Inc()
	metrics.ChapterWordCount.WithLabelValues(r.job.Genre).Observe(float64(slot.WordCount))
	r.emit(ctx, messaging.Event{
		Kind:    messaging.EventChapterCompleted,
		Phase:   string(entity.PhaseChapterWriting),
		Chapter: spec.ChapterNumber,
		Detail: map[string]interface{}{
			"word_count": slot.WordCount,
			"attempts":   slot.Attempts,
		},
	})

	logger.Info(ctx, "chapter completed",
		"job_id", r.job.ID,
		"chapter", spec.ChapterNumber,
		"word_count", slot.WordCount,
		"attempts", slot.Attempts,
		"progress", r.job.Progress.ChaptersCompleted)
}
