package generation

import (
	"context"
	"math"
	"testing"
	"time"

	"novel-forge-api/internal/config"
	"novel-forge-api/internal/domain/entity"
	"novel-forge-api/internal/infrastructure/llm"
	"novel-forge-api/internal/infrastructure/messaging"
)

func TestCostFor(t *testing.T) {
	tel := newTelemetry(Options{
		Pricing: map[string]config.ModelPricing{
			"gpt-4o": {InputPer1K: 0.0025, OutputPer1K: 0.01},
		},
	}, nil)
	ctx := context.Background()

	got := tel.costFor(ctx, "gpt-4o", 2000, 1000)
	want := 2.0*0.0025 + 1.0*0.01
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("cost = %v, want %v", got, want)
	}

	// 未知模型计零，不报错
	if got := tel.costFor(ctx, "mystery-model", 1000, 1000); got != 0 {
		t.Errorf("unknown model cost = %v, want 0", got)
	}
}

func TestRecordAccumulatesPerPhase(t *testing.T) {
	tel := newTelemetry(testOptions(), nil)
	job := testJob(3)
	ctx := context.Background()

	res := &llm.ChatResult{
		Model:            "gpt-4o-mini",
		PromptTokens:     1000,
		CompletionTokens: 500,
		Duration:         200 * time.Millisecond,
	}
	tel.record(ctx, job, entity.PhasePremiseAnalysis, res)
	tel.record(ctx, job, entity.PhaseOutlineGeneration, res)
	tel.record(ctx, job, entity.PhaseChapterWriting, res)
	tel.record(ctx, job, entity.PhaseChapterWriting, res)

	if job.Usage.PremiseAnalysis.PromptTokens != 1000 {
		t.Errorf("analysis prompt tokens = %d", job.Usage.PremiseAnalysis.PromptTokens)
	}
	if job.Usage.OutlineGeneration.CompletionTokens != 500 {
		t.Errorf("outline completion tokens = %d", job.Usage.OutlineGeneration.CompletionTokens)
	}
	if job.Usage.ChapterGeneration.PromptTokens != 2000 || job.Usage.ChapterGeneration.DurationMs != 400 {
		t.Errorf("chapter usage = %+v", job.Usage.ChapterGeneration)
	}

	perCall := 1.0*0.00015 + 0.5*0.0006
	if math.Abs(job.Usage.TotalCostUSD()-4*perCall) > 1e-9 {
		t.Errorf("total cost = %v, want %v", job.Usage.TotalCostUSD(), 4*perCall)
	}
}

func TestRecordIgnoresNilResult(t *testing.T) {
	tel := newTelemetry(testOptions(), nil)
	job := testJob(1)
	tel.record(context.Background(), job, entity.PhaseChapterWriting, nil)
	if job.Usage.TotalCostUSD() != 0 {
		t.Errorf("usage recorded for nil result: %+v", job.Usage)
	}
}

func TestCostAlertFiresOnce(t *testing.T) {
	sink := &fakeSink{}
	opts := testOptions()
	opts.CostAlertThresholdUSD = 0.005
	tel := newTelemetry(opts, sink)
	job := testJob(1)
	ctx := context.Background()

	res := &llm.ChatResult{Model: "gpt-4o", PromptTokens: 1000, CompletionTokens: 500}
	tel.record(ctx, job, entity.PhaseChapterWriting, res)
	tel.record(ctx, job, entity.PhaseChapterWriting, res)
	tel.record(ctx, job, entity.PhaseChapterWriting, res)

	alerts := 0
	for _, kind := range sink.kinds() {
		if kind == messaging.EventCostAlert {
			alerts++
		}
	}
	if alerts != 1 {
		t.Errorf("cost alerts = %d, want exactly 1", alerts)
	}
}

func TestBuildQualityMetrics(t *testing.T) {
	job := testJob(4)
	job.Outline = mustDecodeOutline(t, testOutlineJSON(4), job.TargetWordCount, job.TargetChapters)
	job.InitChapterSlots()

	for _, n := range []int{1, 2, 3} {
		slot := job.ChapterByNumber(n)
		slot.Status = entity.ChapterCompleted
		slot.WordCount = 1000
	}
	job.ChapterByNumber(4).Status = entity.ChapterFailed

	qm := buildQualityMetrics(job)
	if qm.TotalWordCount != 3000 || qm.AverageChapterLength != 1000 {
		t.Errorf("word counts = %+v", qm)
	}
	if qm.ChaptersCompleted != 3 || qm.ChaptersFailed != 1 || !qm.HasFailures {
		t.Errorf("chapter counts = %+v", qm)
	}
	// 4000 字目标完成 3000 字
	if qm.TargetAccuracy != 75 {
		t.Errorf("target accuracy = %v, want 75", qm.TargetAccuracy)
	}
	if qm.CompletionRate != 75 {
		t.Errorf("completion rate = %v, want 75", qm.CompletionRate)
	}
	if len(qm.FailedChapters) != 1 || qm.FailedChapters[0] != 4 {
		t.Errorf("failed chapters = %v", qm.FailedChapters)
	}
}

func TestBuildQualityMetricsNoCompletedChapters(t *testing.T) {
	job := testJob(2)
	job.Outline = mustDecodeOutline(t, testOutlineJSON(2), job.TargetWordCount, job.TargetChapters)
	job.InitChapterSlots()
	for _, ch := range []int{1, 2} {
		job.ChapterByNumber(ch).Status = entity.ChapterFailed
	}

	qm := buildQualityMetrics(job)
	if qm.AverageChapterLength != 0 || qm.CompletionRate != 0 {
		t.Errorf("metrics = %+v, want zeros", qm)
	}
}
