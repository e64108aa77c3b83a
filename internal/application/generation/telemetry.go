package generation

import (
	"context"
	"fmt"
	"math"

	"novel-forge-api/internal/config"
	"novel-forge-api/internal/domain/entity"
	"novel-forge-api/internal/infrastructure/llm"
	"novel-forge-api/internal/infrastructure/messaging"
	"novel-forge-api/pkg/logger"
	"novel-forge-api/pkg/metrics"
)

// telemetry 单个任务运行期的用量与成本聚合。
// 不做跨任务累计，任务完成后随引擎调用一起丢弃
type telemetry struct {
	pricing        map[string]config.ModelPricing
	alertThreshold float64
	events         EventSink

	alerted      bool
	warnedModels map[string]bool
}

func newTelemetry(opts Options, events EventSink) *telemetry {
	return &telemetry{
		pricing:        opts.Pricing,
		alertThreshold: opts.CostAlertThresholdUSD,
		events:         events,
		warnedModels:   make(map[string]bool),
	}
}

// costFor 按价格表折算单次调用成本，未知模型计零并告警一次
func (t *telemetry) costFor(ctx context.Context, model string, promptTokens, completionTokens int) float64 {
	rates, ok := t.pricing[model]
	if !ok {
		if !t.warnedModels[model] {
			t.warnedModels[model] = true
			logger.Warn(ctx, "no pricing configured for model, cost recorded as zero", "model", model)
		}
		return 0
	}
	return float64(promptTokens)*rates.InputPer1K/1000 + float64(completionTokens)*rates.OutputPer1K/1000
}

// record 将一次调用的用量累加到任务的对应阶段，并检查成本告警阈值
func (t *telemetry) record(ctx context.Context, job *entity.NovelJob, phase entity.GenerationPhase, res *llm.ChatResult) {
	if res == nil {
		return
	}

	cost := t.costFor(ctx, res.Model, res.PromptTokens, res.CompletionTokens)

	var bucket *entity.PhaseUsage
	switch phase {
	case entity.PhasePremiseAnalysis:
		bucket = &job.Usage.PremiseAnalysis
	case entity.PhaseOutlineGeneration:
		bucket = &job.Usage.OutlineGeneration
	default:
		bucket = &job.Usage.ChapterGeneration
	}
	bucket.Model = res.Model
	bucket.PromptTokens += res.PromptTokens
	bucket.CompletionTokens += res.CompletionTokens
	bucket.CostUSD += cost
	bucket.DurationMs += int(res.Duration.Milliseconds())

	metrics.LLMCostUSD.WithLabelValues(res.Model, string(phase)).Add(cost)

	total := job.Usage.TotalCostUSD()
	if !t.alerted && t.alertThreshold > 0 && total >= t.alertThreshold {
		t.alerted = true
		logger.Warn(ctx, "generation cost crossed alert threshold",
			"job_id", job.ID,
			"total_cost_usd", fmt.Sprintf("%.4f", total),
			"threshold_usd", fmt.Sprintf("%.2f", t.alertThreshold))
		if t.events != nil {
			t.events.Emit(ctx, messaging.Event{
				JobID: job.ID,
				Kind:  messaging.EventCostAlert,
				Phase: string(phase),
				Detail: map[string]interface{}{
					"total_cost_usd": total,
					"threshold_usd":  t.alertThreshold,
				},
			})
		}
	}
}

// buildQualityMetrics 写作结束后汇总质量统计
func buildQualityMetrics(job *entity.NovelJob) *entity.QualityMetrics {
	completed := job.CompletedChapters()
	failed := job.FailedChapters()

	totalWords := 0
	for _, ch := range completed {
		totalWords += ch.WordCount
	}

	qm := &entity.QualityMetrics{
		TotalWordCount:    totalWords,
		ChaptersCompleted: len(completed),
		ChaptersFailed:    len(failed),
		HasFailures:       len(failed) > 0,
	}
	if len(completed) > 0 {
		qm.AverageChapterLength = int(math.Round(float64(totalWords) / float64(len(completed))))
	}
	if job.TargetWordCount > 0 {
		qm.TargetAccuracy = math.Round(float64(totalWords) / float64(job.TargetWordCount) * 100)
	}
	if job.TargetChapters > 0 {
		qm.CompletionRate = math.Round(float64(len(completed)) / float64(job.TargetChapters) * 100)
	}
	for _, ch := range failed {
		qm.FailedChapters = append(qm.FailedChapters, ch.Number)
	}
	return qm
}
