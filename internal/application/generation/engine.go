package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"novel-forge-api/internal/application/genre"
	"novel-forge-api/internal/domain/entity"
	"novel-forge-api/internal/infrastructure/messaging"
	apperrors "novel-forge-api/pkg/errors"
	"novel-forge-api/pkg/logger"
	"novel-forge-api/pkg/metrics"
)

var tracer = otel.Tracer("generation")

// errStopped 任务被外部取消或删除，静默停止而不进入收尾
var errStopped = errors.New("generation stopped")

// largeOutlineThreshold 超过该章数的大纲可能触及模型输出上限
const largeOutlineThreshold = 40

// Engine 小说生成编排引擎。
// 每个任务同一时刻只有一个执行者在推进，状态全部落库，
// 取消与删除通过回读持久化状态在章节边界生效
type Engine struct {
	store    JobStore
	provider TextProvider
	events   EventSink
	opts     Options

	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine 创建编排引擎
func NewEngine(store JobStore, provider TextProvider, events EventSink, opts Options) *Engine {
	opts.normalize()
	return &Engine{
		store:    store,
		provider: provider,
		events:   events,
		opts:     opts,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// run 单次任务执行的上下文
type run struct {
	engine    *Engine
	job       *entity.NovelJob
	tel       *telemetry
	startedAt time.Time

	cancelNoted bool
}

// Run 从头执行整个生成流水线：前提分析、大纲、逐章写作、收尾
func (e *Engine) Run(ctx context.Context, jobID string) error {
	ctx, span := tracer.Start(ctx, "generation.Engine.Run",
		trace.WithAttributes(attribute.String("job_id", jobID)))
	defer span.End()

	job, err := e.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		logger.Warn(ctx, "job already terminal, skipping", "job_id", jobID, "status", string(job.Status))
		return nil
	}

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	r := &run{
		engine:    e,
		job:       job,
		tel:       newTelemetry(e.opts, e.events),
		startedAt: time.Now(),
	}

	logger.Info(ctx, "starting novel generation",
		"job_id", jobID, "genre", job.Genre, "target_chapters", job.TargetChapters)

	if err := r.analyzePremise(ctx); err != nil {
		return r.fail(ctx, entity.PhasePremiseAnalysis, err)
	}
	if r.stopped(ctx) {
		return nil
	}

	if err := r.generateOutline(ctx); err != nil {
		return r.fail(ctx, entity.PhaseOutlineGeneration, err)
	}
	if r.stopped(ctx) {
		return nil
	}

	if err := r.enterWriting(ctx, "starting chapter writing"); err != nil {
		return r.fail(ctx, entity.PhaseChapterWriting, err)
	}
	if err := r.writeChapters(ctx, r.job.Outline); err != nil {
		if errors.Is(err, errStopped) {
			return nil
		}
		return r.fail(ctx, entity.PhaseChapterWriting, err)
	}

	return r.finalize(ctx)
}

// Resume 从指定章号恢复写作，只重做失败与未完成的章节
func (e *Engine) Resume(ctx context.Context, jobID string, startChapter int) error {
	ctx, span := tracer.Start(ctx, "generation.Engine.Resume",
		trace.WithAttributes(
			attribute.String("job_id", jobID),
			attribute.Int("start_chapter", startChapter),
		))
	defer span.End()

	job, err := e.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Progress.OutlineComplete || len(job.Outline) == 0 {
		return apperrors.New(apperrors.CodeJobNotRetryable, "job has no outline to resume from")
	}
	if startChapter < 1 {
		startChapter = 1
	}

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	r := &run{
		engine:    e,
		job:       job,
		tel:       newTelemetry(e.opts, e.events),
		startedAt: time.Now(),
	}

	var targets []entity.ChapterSpec
	for _, ch := range job.Chapters {
		if ch.Number < startChapter {
			continue
		}
		if ch.Status != entity.ChapterFailed && ch.Status != entity.ChapterPending {
			continue
		}
		spec := specByNumber(job.Outline, ch.Number)
		if spec == nil {
			logger.Warn(ctx, "no outline entry for chapter, skipping", "job_id", jobID, "chapter", ch.Number)
			continue
		}
		targets = append(targets, *spec)
	}

	logger.Info(ctx, "resuming chapter generation",
		"job_id", jobID, "start_chapter", startChapter, "chapters_to_regenerate", len(targets))

	if err := r.enterWriting(ctx, fmt.Sprintf("resuming from chapter %d", startChapter)); err != nil {
		return r.fail(ctx, entity.PhaseChapterWriting, err)
	}
	if err := r.writeChapters(ctx, targets); err != nil {
		if errors.Is(err, errStopped) {
			return nil
		}
		return r.fail(ctx, entity.PhaseChapterWriting, err)
	}

	return r.finalize(ctx)
}

func specByNumber(outline []entity.ChapterSpec, number int) *entity.ChapterSpec {
	for i := range outline {
		if outline[i].ChapterNumber == number {
			return &outline[i]
		}
	}
	return nil
}

// stopped 回读持久化状态，任务被外部取消或删除时停止推进。
// 引擎自身从不把活跃中的任务置为终态，这里看到的终态都来自外部
func (r *run) stopped(ctx context.Context) bool {
	status, phase, err := r.engine.store.GetStatus(ctx, r.job.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrJobNotFound) {
			logger.Info(ctx, "job deleted during generation, stopping", "job_id", r.job.ID)
			return true
		}
		logger.Warn(ctx, "failed to read job status, continuing", "job_id", r.job.ID, "error", err.Error())
		return false
	}
	if status == entity.NovelStatusFailed && phase == entity.PhaseCancelled {
		if !r.cancelNoted {
			r.cancelNoted = true
			logger.Info(ctx, "job cancelled, stopping", "job_id", r.job.ID)
			metrics.NovelJobsTotal.WithLabelValues("cancelled").Inc()
		}
		return true
	}
	return false
}

// save 带乐观锁落库。版本冲突说明有外部写入者抢先改过这一行，
// 此时回读持久化状态：已取消或已删除则转为停止信号，绝不覆盖外部写入
func (r *run) save(ctx context.Context) error {
	r.job.Progress.LastActivity = time.Now()
	err := r.engine.store.Update(ctx, r.job)
	if errors.Is(err, apperrors.ErrJobConflict) && r.stopped(ctx) {
		return errStopped
	}
	return err
}

func (r *run) emit(ctx context.Context, event messaging.Event) {
	if r.engine.events == nil {
		return
	}
	event.JobID = r.job.ID
	r.engine.events.Emit(ctx, event)
}

func (r *run) enterPhase(ctx context.Context, status entity.NovelStatus, phase entity.GenerationPhase, detail string) error {
	from := string(r.job.CurrentPhase)
	r.job.EnterPhase(status, phase)
	if err := r.save(ctx); err != nil {
		if errors.Is(err, errStopped) {
			return err
		}
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to persist phase transition")
	}
	r.emit(ctx, messaging.Event{
		Kind:  messaging.EventPhaseTransition,
		Phase: string(phase),
		Detail: map[string]interface{}{
			"from":    from,
			"message": detail,
		},
	})
	return nil
}

func (r *run) enterWriting(ctx context.Context, detail string) error {
	return r.enterPhase(ctx, entity.NovelStatusWriting, entity.PhaseChapterWriting, detail)
}

// fail 将整个任务标记为失败并落库。
// 任务已被外部取消或删除时不再写入，静默让位
func (r *run) fail(ctx context.Context, phase entity.GenerationPhase, cause error) error {
	if errors.Is(cause, errStopped) {
		return nil
	}
	logger.Error(ctx, "novel generation failed", cause, "job_id", r.job.ID, "phase", string(phase))

	r.job.FailWith(phase, cause.Error())
	if err := r.save(ctx); err != nil {
		if errors.Is(err, errStopped) {
			return nil
		}
		logger.Error(ctx, "failed to persist job failure", err, "job_id", r.job.ID)
	}

	r.emit(ctx, messaging.Event{
		Kind:  messaging.EventJobFailed,
		Phase: string(phase),
		Detail: map[string]interface{}{
			"message": cause.Error(),
		},
	})
	metrics.NovelJobsTotal.WithLabelValues("failed").Inc()
	return cause
}

// analyzePremise 第一阶段：用轻量模型分析前提并提取结构要素
func (r *run) analyzePremise(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "generation.analyzePremise")
	defer span.End()
	phaseStart := time.Now()

	if err := r.enterPhase(ctx, entity.NovelStatusPlanning, entity.PhasePremiseAnalysis,
		"analyzing premise and planning story structure"); err != nil {
		return err
	}

	guidance, ok := genre.Guidance(r.job.Genre, r.job.Subgenre)
	if !ok {
		return apperrors.New(apperrors.CodeGenreUnknown,
			fmt.Sprintf("unsupported genre combination: %s/%s", r.job.Genre, r.job.Subgenre))
	}

	res, err := r.engine.provider.Chat(ctx, analysisRequest(buildAnalysisPrompt(r.job, guidance)))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeGenerationFailed, "premise analysis failed")
	}
	r.tel.record(ctx, r.job, entity.PhasePremiseAnalysis, res)

	analysis, err := DecodeAnalysis(res.Content)
	if err != nil {
		return err
	}

	r.job.Analysis = analysis
	if err := r.save(ctx); err != nil {
		if errors.Is(err, errStopped) {
			return err
		}
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to persist analysis")
	}

	metrics.NovelPhaseDuration.WithLabelValues(string(entity.PhasePremiseAnalysis)).
		Observe(time.Since(phaseStart).Seconds())
	logger.Info(ctx, "completed premise analysis", "job_id", r.job.ID, "themes", len(analysis.Themes))
	return nil
}

// generateOutline 第二阶段：生成整本大纲与梗概，初始化章节占位
func (r *run) generateOutline(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "generation.generateOutline")
	defer span.End()
	phaseStart := time.Now()

	if err := r.enterPhase(ctx, entity.NovelStatusOutlining, entity.PhaseOutlineGeneration,
		"creating detailed chapter-by-chapter outline"); err != nil {
		return err
	}

	if r.job.TargetChapters > largeOutlineThreshold {
		logger.Warn(ctx, "large outline requested, may hit token limits",
			"job_id", r.job.ID, "target_chapters", r.job.TargetChapters)
	}

	res, err := r.engine.provider.Chat(ctx, outlineRequest(buildOutlinePrompt(r.job), r.job.TargetChapters))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeGenerationFailed, "outline generation failed")
	}
	r.tel.record(ctx, r.job, entity.PhaseOutlineGeneration, res)

	specs, err := DecodeOutline(res.Content, r.job.TargetWordCount, r.job.TargetChapters)
	if err != nil {
		return err
	}
	if len(specs) != r.job.TargetChapters {
		logger.Warn(ctx, "outline chapter count differs from target",
			"job_id", r.job.ID, "got", len(specs), "want", r.job.TargetChapters)
	}

	r.job.Outline = specs
	r.job.Synopsis = r.generateSynopsis(ctx)
	r.job.InitChapterSlots()
	r.job.Progress.OutlineComplete = true
	if err := r.save(ctx); err != nil {
		if errors.Is(err, errStopped) {
			return err
		}
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to persist outline")
	}

	metrics.NovelPhaseDuration.WithLabelValues(string(entity.PhaseOutlineGeneration)).
		Observe(time.Since(phaseStart).Seconds())
	logger.Info(ctx, "completed outline generation", "job_id", r.job.ID, "chapters", len(specs))
	return nil
}

// generateSynopsis 梗概生成失败不阻断流程，回落到基于前提的占位文本
func (r *run) generateSynopsis(ctx context.Context) string {
	res, err := r.engine.provider.Chat(ctx, synopsisRequest(buildSynopsisPrompt(r.job)))
	if err != nil {
		logger.Warn(ctx, "failed to generate synopsis, using fallback",
			"job_id", r.job.ID, "error", err.Error())
		return "Novel based on premise: " + r.job.Premise
	}
	r.tel.record(ctx, r.job, entity.PhaseOutlineGeneration, res)
	return strings.TrimSpace(res.Content)
}

// writeChapters 第三阶段：顺序逐章写作。
// 单章失败不中断循环，只记录并继续，收尾阶段统一裁决
func (r *run) writeChapters(ctx context.Context, targets []entity.ChapterSpec) error {
	ctx, span := tracer.Start(ctx, "generation.writeChapters",
		trace.WithAttributes(attribute.Int("chapters", len(targets))))
	defer span.End()
	phaseStart := time.Now()

	processed := 0
	for _, spec := range targets {
		if r.stopped(ctx) {
			return errStopped
		}

		r.writeChapterWithRetry(ctx, spec)
		processed++

		remaining := len(targets) - processed
		if remaining > 0 {
			avg := time.Since(phaseStart) / time.Duration(processed)
			eta := time.Now().Add(avg * time.Duration(remaining))
			r.job.Progress.EstimatedCompletion = &eta
		} else {
			r.job.Progress.EstimatedCompletion = nil
		}
		if err := r.save(ctx); err != nil {
			if errors.Is(err, errStopped) {
				return errStopped
			}
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to persist chapter progress")
		}

		if remaining > 0 {
			if err := r.engine.sleep(ctx, r.engine.opts.ChapterDelay); err != nil {
				return errStopped
			}
		}
	}

	metrics.NovelPhaseDuration.WithLabelValues(string(entity.PhaseChapterWriting)).
		Observe(time.Since(phaseStart).Seconds())
	return nil
}

// finalize 写作收尾：汇总质量统计并按完成情况裁决终态。
// 全部失败记任务失败，部分失败仍算完成但保留失败清单供恢复
func (r *run) finalize(ctx context.Context) error {
	completed := len(r.job.CompletedChapters())
	failed := len(r.job.FailedChapters())

	r.job.QualityMetrics = buildQualityMetrics(r.job)
	r.job.Progress.HasFailures = failed > 0
	r.job.Progress.EstimatedCompletion = nil

	switch {
	case completed == 0:
		r.job.FailWith(entity.PhaseChapterWriting,
			fmt.Sprintf("All chapter generation failed. %d chapters could not be generated.", failed))
	case failed == 0:
		r.job.EnterPhase(entity.NovelStatusCompleted, entity.PhaseCompleted)
		r.job.Error = nil
	default:
		failedNumbers := make([]string, 0, failed)
		for _, ch := range r.job.FailedChapters() {
			failedNumbers = append(failedNumbers, fmt.Sprintf("%d", ch.Number))
		}
		r.job.EnterPhase(entity.NovelStatusCompleted, entity.PhaseCompleted)
		r.job.Error = &entity.JobError{
			Message: fmt.Sprintf("Novel completed with %d failed chapters. Chapters %s need to be regenerated.",
				failed, strings.Join(failedNumbers, ", ")),
			Phase:     entity.PhaseChapterWriting,
			Timestamp: time.Now(),
		}
	}

	if err := r.save(ctx); err != nil {
		if errors.Is(err, errStopped) {
			return nil
		}
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to persist final job state")
	}

	totalCost := r.job.Usage.TotalCostUSD()
	duration := time.Since(r.startedAt)

	if r.job.Status == entity.NovelStatusCompleted {
		metrics.NovelJobsTotal.WithLabelValues("completed").Inc()
		metrics.NovelJobDuration.WithLabelValues(r.job.Genre).Observe(duration.Seconds())
		r.emit(ctx, messaging.Event{
			Kind:  messaging.EventJobCompleted,
			Phase: string(entity.PhaseCompleted),
			Detail: map[string]interface{}{
				"chapters_completed": completed,
				"chapters_failed":    failed,
				"total_cost_usd":     totalCost,
			},
		})
		logger.Info(ctx, "novel generation completed",
			"job_id", r.job.ID,
			"chapters_completed", completed,
			"chapters_failed", failed,
			"total_cost_usd", fmt.Sprintf("%.4f", totalCost),
			"duration", duration.String())
		return nil
	}

	metrics.NovelJobsTotal.WithLabelValues("failed").Inc()
	r.emit(ctx, messaging.Event{
		Kind:  messaging.EventJobFailed,
		Phase: string(entity.PhaseChapterWriting),
		Detail: map[string]interface{}{
			"message": r.job.Error.Message,
		},
	})
	logger.Error(ctx, "novel generation finished with no completed chapters",
		errors.New(r.job.Error.Message), "job_id", r.job.ID)
	return apperrors.New(apperrors.CodeGenerationFailed, r.job.Error.Message)
}
