package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"novel-forge-api/internal/config"
	"novel-forge-api/internal/domain/entity"
	"novel-forge-api/internal/infrastructure/llm"
	"novel-forge-api/internal/infrastructure/messaging"
	apperrors "novel-forge-api/pkg/errors"
)

// fakeStore 内存版任务存储，按行语义模拟真实仓储：
// 外部取消就是对同一行的一次带版本号的写入，
// Update 走乐观锁，版本不一致时返回 ErrJobConflict 且不落任何字段
type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]*entity.NovelJob
	updates int
}

func newFakeStore(jobs ...*entity.NovelJob) *fakeStore {
	s := &fakeStore{jobs: make(map[string]*entity.NovelJob)}
	for _, job := range jobs {
		if job.Version == 0 {
			job.Version = 1
		}
		s.jobs[job.ID] = cloneJob(job)
	}
	return s
}

func cloneJob(job *entity.NovelJob) *entity.NovelJob {
	data, err := json.Marshal(job)
	if err != nil {
		panic(err)
	}
	var out entity.NovelJob
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*entity.NovelJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *fakeStore) Update(_ context.Context, job *entity.NovelJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[job.ID]
	if !ok || row.Version != job.Version {
		return apperrors.ErrJobConflict
	}
	job.Version++
	s.jobs[job.ID] = cloneJob(job)
	s.updates++
	return nil
}

func (s *fakeStore) CountByStatuses(_ context.Context, statuses []entity.NovelStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, job := range s.jobs {
		for _, status := range statuses {
			if job.Status == status {
				count++
				break
			}
		}
	}
	return count, nil
}

func (s *fakeStore) GetStatus(_ context.Context, id string) (entity.NovelStatus, entity.GenerationPhase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return "", "", apperrors.ErrJobNotFound
	}
	return job.Status, job.CurrentPhase, nil
}

// setCancelled 模拟用户取消：直接改写存储中的行并抬升版本号，
// 引擎内存副本随之过期
func (s *fakeStore) setCancelled(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.jobs[id]
	row.Cancel("Job cancelled by user")
	row.Version++
}

// setDeleted 模拟用户删除：移除存储中的行
func (s *fakeStore) setDeleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *fakeStore) stored(id string) *entity.NovelJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJob(s.jobs[id])
}

// fakeProvider 按请求内容分发脚本化响应
type fakeProvider struct {
	mu       sync.Mutex
	requests []llm.ChatRequest
	respond  func(req llm.ChatRequest) (*llm.ChatResult, error)
}

func (p *fakeProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResult, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return p.respond(req)
}

func (p *fakeProvider) countKind(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, req := range p.requests {
		if requestKind(req) == kind {
			n++
		}
	}
	return n
}

// requestKind 按提示词开头识别请求种类
func requestKind(req llm.ChatRequest) string {
	switch {
	case strings.HasPrefix(req.Prompt, "Analyze this novel premise"):
		return "analysis"
	case strings.HasPrefix(req.Prompt, "Create a "):
		return "outline"
	case strings.HasPrefix(req.Prompt, "Based on the premise"):
		return "synopsis"
	case strings.HasPrefix(req.Prompt, "Summarize this chapter"):
		return "summary"
	default:
		return "chapter"
	}
}

type fakeSink struct {
	mu     sync.Mutex
	events []messaging.Event
}

func (s *fakeSink) Emit(_ context.Context, event messaging.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func (s *fakeSink) hasKind(kind string) bool {
	for _, k := range s.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

const testAnalysisJSON = `{
  "themes": ["power", "loyalty"],
  "characters": {"Aldric": {"type": "protagonist", "conflicts": ["duty vs revenge"]}},
  "plot_structure": "three act with midpoint reversal",
  "key_beats": ["the return", "the betrayal"],
  "tone": "grim but hopeful"
}`

func testOutlineJSON(chapters int) string {
	specs := make([]map[string]interface{}, 0, chapters)
	for i := 1; i <= chapters; i++ {
		specs = append(specs, map[string]interface{}{
			"chapter_number": i,
			"title":          fmt.Sprintf("Chapter %d Title", i),
			"summary":        fmt.Sprintf("Key events of chapter %d", i),
			"key_events":     []string{"an event"},
			"word_target":    1000,
		})
	}
	data, err := json.Marshal(map[string]interface{}{"outline": specs})
	if err != nil {
		panic(err)
	}
	return string(data)
}

func chatResult(model, content string) (*llm.ChatResult, error) {
	return &llm.ChatResult{
		Content:          content,
		Model:            model,
		PromptTokens:     100,
		CompletionTokens: 200,
		Duration:         50 * time.Millisecond,
	}, nil
}

// scriptedResponder 完整流水线的默认脚本，可被单个种类覆盖
func scriptedResponder(chapters int, overrides map[string]func(req llm.ChatRequest) (*llm.ChatResult, error)) func(req llm.ChatRequest) (*llm.ChatResult, error) {
	return func(req llm.ChatRequest) (*llm.ChatResult, error) {
		kind := requestKind(req)
		if override, ok := overrides[kind]; ok {
			return override(req)
		}
		switch kind {
		case "analysis":
			return chatResult(req.Model, testAnalysisJSON)
		case "outline":
			return chatResult(req.Model, testOutlineJSON(chapters))
		case "synopsis":
			return chatResult(req.Model, "An exiled heir returns to reclaim a stolen throne.")
		case "summary":
			return chatResult(req.Model, "The heir advanced the plot.")
		default:
			return chatResult(req.Model, "The chapter unfolded. "+strings.Repeat("Prose continued apace. ", 20))
		}
	}
}

func testJob(chapters int) *entity.NovelJob {
	premise := strings.Repeat("An exiled heir plots a careful return to the usurped throne. ", 3)
	return entity.NewNovelJob("The Hollow Crown", premise, "fantasy", "epic_fantasy", chapters*1000, chapters)
}

func testOptions() Options {
	return Options{
		ChapterModel:        "gpt-4o",
		MaxChapterAttempts:  3,
		RecentChapterWindow: 2,
		Pricing: map[string]config.ModelPricing{
			"gpt-4o":      {InputPer1K: 0.0025, OutputPer1K: 0.01},
			"gpt-4o-mini": {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		},
	}
}

func newTestEngine(store JobStore, provider TextProvider, sink EventSink) *Engine {
	e := NewEngine(store, provider, sink, testOptions())
	e.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return e
}

func TestRunCompletesFullPipeline(t *testing.T) {
	job := testJob(3)
	store := newFakeStore(job)
	provider := &fakeProvider{respond: scriptedResponder(3, nil)}
	sink := &fakeSink{}
	engine := newTestEngine(store, provider, sink)

	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	got := store.stored(job.ID)
	if got.Status != entity.NovelStatusCompleted {
		t.Fatalf("status = %s, want %s", got.Status, entity.NovelStatusCompleted)
	}
	if got.CurrentPhase != entity.PhaseCompleted {
		t.Errorf("phase = %s, want %s", got.CurrentPhase, entity.PhaseCompleted)
	}
	if got.Error != nil {
		t.Errorf("unexpected job error: %+v", got.Error)
	}
	if got.Analysis == nil || len(got.Analysis.Themes) != 2 {
		t.Errorf("analysis not persisted: %+v", got.Analysis)
	}
	if len(got.Outline) != 3 {
		t.Fatalf("outline length = %d, want 3", len(got.Outline))
	}
	if got.Synopsis == "" || strings.HasPrefix(got.Synopsis, "Novel based on premise") {
		t.Errorf("synopsis = %q, want model-generated text", got.Synopsis)
	}
	if got.Progress.ChaptersCompleted != 3 {
		t.Errorf("chapters completed = %d, want 3", got.Progress.ChaptersCompleted)
	}
	for _, ch := range got.Chapters {
		if ch.Status != entity.ChapterCompleted {
			t.Errorf("chapter %d status = %s, want completed", ch.Number, ch.Status)
		}
		if ch.Content == "" || ch.WordCount == 0 {
			t.Errorf("chapter %d has no content", ch.Number)
		}
		if ch.Summary == "" {
			t.Errorf("chapter %d has no summary", ch.Number)
		}
		if ch.Attempts != 1 {
			t.Errorf("chapter %d attempts = %d, want 1", ch.Number, ch.Attempts)
		}
	}
	if got.QualityMetrics == nil {
		t.Fatal("quality metrics not built")
	}
	if got.QualityMetrics.ChaptersCompleted != 3 || got.QualityMetrics.CompletionRate != 100 {
		t.Errorf("quality metrics = %+v", got.QualityMetrics)
	}
	if got.Usage.TotalCostUSD() <= 0 {
		t.Error("total cost not accumulated")
	}

	if !sink.hasKind(messaging.EventJobCompleted) {
		t.Errorf("missing job_completed event, got %v", sink.kinds())
	}
	if !sink.hasKind(messaging.EventPhaseTransition) {
		t.Errorf("missing phase_transition events, got %v", sink.kinds())
	}
	if n := provider.countKind("chapter"); n != 3 {
		t.Errorf("chapter requests = %d, want 3", n)
	}
}

func TestRunSkipsTerminalJob(t *testing.T) {
	job := testJob(3)
	job.Status = entity.NovelStatusCompleted
	job.CurrentPhase = entity.PhaseCompleted
	store := newFakeStore(job)
	provider := &fakeProvider{respond: scriptedResponder(3, nil)}
	engine := newTestEngine(store, provider, &fakeSink{})

	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(provider.requests) != 0 {
		t.Errorf("expected no model calls for terminal job, got %d", len(provider.requests))
	}
}

func TestRunPartialFailureStillCompletes(t *testing.T) {
	job := testJob(3)
	store := newFakeStore(job)
	provider := &fakeProvider{respond: scriptedResponder(3, map[string]func(req llm.ChatRequest) (*llm.ChatResult, error){
		"chapter": func(req llm.ChatRequest) (*llm.ChatResult, error) {
			if strings.HasPrefix(req.Prompt, "Write Chapter 2 ") {
				return nil, apperrors.New(apperrors.CodeProviderContextLength, "context length exceeded")
			}
			return chatResult(req.Model, strings.Repeat("Steady prose. ", 30))
		},
	})}
	sink := &fakeSink{}
	engine := newTestEngine(store, provider, sink)

	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	got := store.stored(job.ID)
	if got.Status != entity.NovelStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.Error == nil {
		t.Fatal("expected failure summary in job error")
	}
	want := "Novel completed with 1 failed chapters. Chapters 2 need to be regenerated."
	if got.Error.Message != want {
		t.Errorf("error message = %q, want %q", got.Error.Message, want)
	}
	if len(got.Progress.FailedChapterNumbers) != 1 || got.Progress.FailedChapterNumbers[0] != 2 {
		t.Errorf("failed chapter numbers = %v, want [2]", got.Progress.FailedChapterNumbers)
	}
	if !got.Progress.HasFailures {
		t.Error("HasFailures not set")
	}
	if ch := got.ChapterByNumber(2); ch == nil || ch.Status != entity.ChapterFailed || ch.Attempts != 1 {
		t.Errorf("chapter 2 = %+v, want failed after a single attempt", ch)
	}
	if !sink.hasKind(messaging.EventChapterFailed) {
		t.Errorf("missing chapter_failed event, got %v", sink.kinds())
	}
}

func TestRunAllChaptersFailedMarksJobFailed(t *testing.T) {
	job := testJob(2)
	store := newFakeStore(job)
	provider := &fakeProvider{respond: scriptedResponder(2, map[string]func(req llm.ChatRequest) (*llm.ChatResult, error){
		"chapter": func(llm.ChatRequest) (*llm.ChatResult, error) {
			return nil, apperrors.New(apperrors.CodeProviderServer, "upstream unavailable")
		},
	})}
	engine := newTestEngine(store, provider, &fakeSink{})

	err := engine.Run(context.Background(), job.ID)
	if err == nil {
		t.Fatal("expected error when every chapter fails")
	}

	got := store.stored(job.ID)
	if got.Status != entity.NovelStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	want := "All chapter generation failed. 2 chapters could not be generated."
	if got.Error == nil || got.Error.Message != want {
		t.Errorf("error = %+v, want message %q", got.Error, want)
	}
	// 可重试错误应当用满尝试次数
	for _, ch := range got.Chapters {
		if ch.Attempts != 3 {
			t.Errorf("chapter %d attempts = %d, want 3", ch.Number, ch.Attempts)
		}
	}
}

func TestRunStopsOnExternalCancellation(t *testing.T) {
	job := testJob(3)
	store := newFakeStore(job)
	provider := &fakeProvider{}
	provider.respond = func(req llm.ChatRequest) (*llm.ChatResult, error) {
		if requestKind(req) == "chapter" && strings.HasPrefix(req.Prompt, "Write Chapter 1 ") {
			// 第一章生成期间任务被外部取消
			store.setCancelled(job.ID)
		}
		return scriptedResponder(3, nil)(req)
	}
	engine := newTestEngine(store, provider, &fakeSink{})

	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if n := provider.countKind("chapter"); n != 1 {
		t.Errorf("chapter requests = %d, want 1 (stop before chapter 2)", n)
	}
	got := store.stored(job.ID)
	if got.Status != entity.NovelStatusFailed || got.CurrentPhase != entity.PhaseCancelled {
		t.Errorf("stored state = %s/%s, want failed/cancelled", got.Status, got.CurrentPhase)
	}
}

// 取消落库后，正在写作中的任务不得用整体保存把取消状态改回去
func TestCancellationSurvivesInFlightChapterSave(t *testing.T) {
	job := testJob(2)
	store := newFakeStore(job)
	provider := &fakeProvider{}
	provider.respond = func(req llm.ChatRequest) (*llm.ChatResult, error) {
		if requestKind(req) == "chapter" {
			// 章节生成返回前行已被取消写入占据
			store.setCancelled(job.ID)
		}
		return scriptedResponder(2, nil)(req)
	}
	engine := newTestEngine(store, provider, &fakeSink{})

	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	got := store.stored(job.ID)
	if got.Status != entity.NovelStatusFailed {
		t.Errorf("status = %s, want failed (cancel must not be overwritten)", got.Status)
	}
	if got.CurrentPhase != entity.PhaseCancelled {
		t.Errorf("phase = %s, want cancelled", got.CurrentPhase)
	}
	if got.Error == nil || got.Error.Message != "Job cancelled by user" {
		t.Errorf("error = %+v, want the cancellation message", got.Error)
	}
	// 引擎内存里的完成章节不得渗入已取消的行
	for _, ch := range got.Chapters {
		if ch.Status == entity.ChapterCompleted {
			t.Errorf("chapter %d persisted as completed after cancellation", ch.Number)
		}
	}
}

func TestRunStopsWhenJobDeleted(t *testing.T) {
	job := testJob(3)
	store := newFakeStore(job)
	provider := &fakeProvider{}
	provider.respond = func(req llm.ChatRequest) (*llm.ChatResult, error) {
		if requestKind(req) == "outline" {
			defer store.setDeleted(job.ID)
		}
		return scriptedResponder(3, nil)(req)
	}
	engine := newTestEngine(store, provider, &fakeSink{})

	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if n := provider.countKind("chapter"); n != 0 {
		t.Errorf("chapter requests = %d, want 0 after deletion", n)
	}
}

func TestRunFailsOnUnknownGenre(t *testing.T) {
	job := testJob(2)
	job.Genre = "western"
	job.Subgenre = "weird_west"
	store := newFakeStore(job)
	engine := newTestEngine(store, &fakeProvider{respond: scriptedResponder(2, nil)}, &fakeSink{})

	err := engine.Run(context.Background(), job.ID)
	if err == nil {
		t.Fatal("expected error for unknown genre")
	}
	appErr, ok := err.(*apperrors.AppError)
	if !ok || appErr.Code != apperrors.CodeGenreUnknown {
		t.Errorf("error = %v, want code %s", err, apperrors.CodeGenreUnknown)
	}
	if got := store.stored(job.ID); got.Status != entity.NovelStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestRunSynopsisFallbackOnFailure(t *testing.T) {
	job := testJob(2)
	store := newFakeStore(job)
	provider := &fakeProvider{respond: scriptedResponder(2, map[string]func(req llm.ChatRequest) (*llm.ChatResult, error){
		"synopsis": func(llm.ChatRequest) (*llm.ChatResult, error) {
			return nil, apperrors.New(apperrors.CodeProviderServer, "transient")
		},
	})}
	engine := newTestEngine(store, provider, &fakeSink{})

	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := store.stored(job.ID)
	if !strings.HasPrefix(got.Synopsis, "Novel based on premise: ") {
		t.Errorf("synopsis = %q, want premise fallback", got.Synopsis)
	}
	if got.Status != entity.NovelStatusCompleted {
		t.Errorf("status = %s, synopsis failure must not block completion", got.Status)
	}
}

func TestResumeRegeneratesFailedAndPendingChapters(t *testing.T) {
	job := testJob(3)
	job.Status = entity.NovelStatusCompleted
	job.CurrentPhase = entity.PhaseCompleted
	job.Outline = mustDecodeOutline(t, testOutlineJSON(3), job.TargetWordCount, job.TargetChapters)
	job.InitChapterSlots()
	job.Progress.OutlineComplete = true

	first := job.ChapterByNumber(1)
	first.SetContent("The opening chapter stood complete. " + strings.Repeat("More prose. ", 10))
	first.Status = entity.ChapterCompleted
	first.Summary = "The heir returned home."
	job.Progress.ChaptersCompleted = 1

	second := job.ChapterByNumber(2)
	second.Status = entity.ChapterFailed
	second.FailureReason = "upstream unavailable"
	second.Attempts = 3
	job.RecordChapterFailure(2)

	store := newFakeStore(job)
	provider := &fakeProvider{respond: scriptedResponder(3, nil)}
	sink := &fakeSink{}
	engine := newTestEngine(store, provider, sink)

	if err := engine.Resume(context.Background(), job.ID, 2); err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}

	got := store.stored(job.ID)
	if got.Status != entity.NovelStatusCompleted || got.Error != nil {
		t.Fatalf("status = %s, error = %+v, want clean completion", got.Status, got.Error)
	}
	if got.Progress.ChaptersCompleted != 3 {
		t.Errorf("chapters completed = %d, want 3", got.Progress.ChaptersCompleted)
	}
	if got.Progress.ChaptersFailed != 0 || len(got.Progress.FailedChapterNumbers) != 0 {
		t.Errorf("failure counters not cleared: %+v", got.Progress)
	}
	if got.Progress.HasFailures {
		t.Error("HasFailures still set after successful resume")
	}
	// 已完成的第一章不应被重写
	if n := provider.countKind("chapter"); n != 2 {
		t.Errorf("chapter requests = %d, want 2", n)
	}
}

func TestResumeRequiresOutline(t *testing.T) {
	job := testJob(3)
	store := newFakeStore(job)
	engine := newTestEngine(store, &fakeProvider{respond: scriptedResponder(3, nil)}, &fakeSink{})

	err := engine.Resume(context.Background(), job.ID, 1)
	if err == nil {
		t.Fatal("expected error when resuming without outline")
	}
	appErr, ok := err.(*apperrors.AppError)
	if !ok || appErr.Code != apperrors.CodeJobNotRetryable {
		t.Errorf("error = %v, want code %s", err, apperrors.CodeJobNotRetryable)
	}
}

func mustDecodeOutline(t *testing.T, raw string, targetWordCount, targetChapters int) []entity.ChapterSpec {
	t.Helper()
	specs, err := DecodeOutline(raw, targetWordCount, targetChapters)
	if err != nil {
		t.Fatalf("DecodeOutline: %v", err)
	}
	return specs
}
