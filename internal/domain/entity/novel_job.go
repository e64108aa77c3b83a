// Package entity 定义领域实体
package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NovelStatus 小说任务状态
type NovelStatus string

const (
	NovelStatusPending   NovelStatus = "pending"
	NovelStatusPlanning  NovelStatus = "planning"
	NovelStatusOutlining NovelStatus = "outlining"
	NovelStatusWriting   NovelStatus = "writing"
	NovelStatusCompleted NovelStatus = "completed"
	NovelStatusFailed    NovelStatus = "failed"
)

// GenerationPhase 生成阶段
type GenerationPhase string

const (
	PhasePremiseAnalysis   GenerationPhase = "premise_analysis"
	PhaseOutlineGeneration GenerationPhase = "outline_generation"
	PhaseChapterWriting    GenerationPhase = "chapter_writing"
	PhaseCompleted         GenerationPhase = "completed"
	PhaseCancelled         GenerationPhase = "cancelled"
)

// ActiveStatuses 占用生成容量的状态集合
func ActiveStatuses() []NovelStatus {
	return []NovelStatus{NovelStatusPlanning, NovelStatusOutlining, NovelStatusWriting}
}

// CharacterSketch 前提分析得到的角色描写
type CharacterSketch struct {
	Type          string   `json:"type"`
	Conflicts     []string `json:"conflicts,omitempty"`
	SpeechPattern string   `json:"speech_pattern,omitempty"`
}

// Subplot 副线情节
type Subplot struct {
	Main       string `json:"main"`
	Resolution string `json:"resolution,omitempty"`
}

// PremiseAnalysis 前提分析结果
type PremiseAnalysis struct {
	Themes        []string                   `json:"themes"`
	Characters    map[string]CharacterSketch `json:"characters"`
	PlotStructure string                     `json:"plot_structure"`
	KeyBeats      []string                   `json:"key_beats"`
	Subplots      []Subplot                  `json:"subplots,omitempty"`
	Tone          string                     `json:"tone"`
	StyleNotes    string                     `json:"style_notes,omitempty"`
}

// ChapterSpec 大纲中的单章规格
type ChapterSpec struct {
	ChapterNumber   int      `json:"chapter_number"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	KeyEvents       []string `json:"key_events"`
	CharacterFocus  []string `json:"character_focus,omitempty"`
	PlotAdvancement string   `json:"plot_advancement,omitempty"`
	WordTarget      int      `json:"word_target"`
	GenreElements   []string `json:"genre_elements,omitempty"`
}

// ChapterRecordStatus 章节生成状态
type ChapterRecordStatus string

const (
	ChapterPending    ChapterRecordStatus = "pending"
	ChapterGenerating ChapterRecordStatus = "generating"
	ChapterCompleted  ChapterRecordStatus = "completed"
	ChapterFailed     ChapterRecordStatus = "failed"
)

// ChapterRecord 单章生成结果与尝试记录
type ChapterRecord struct {
	Number             int                 `json:"number"`
	Title              string              `json:"title"`
	Content            string              `json:"content,omitempty"`
	Summary            string              `json:"summary,omitempty"`
	WordCount          int                 `json:"word_count"`
	Status             ChapterRecordStatus `json:"status"`
	Attempts           int                 `json:"attempts"`
	FailureReason      string              `json:"failure_reason,omitempty"`
	ContinuityWarnings []string            `json:"continuity_warnings,omitempty"`
	Model              string              `json:"model,omitempty"`
	DurationMs         int                 `json:"duration_ms,omitempty"`
	GeneratedAt        *time.Time          `json:"generated_at,omitempty"`
}

// SetContent 写入章节正文并统计词数
func (c *ChapterRecord) SetContent(content string) {
	c.Content = content
	c.WordCount = CountWords(content)
}

// CountWords 按空白切分统计词数
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// JobProgress 任务进度
type JobProgress struct {
	OutlineComplete      bool       `json:"outline_complete"`
	ChaptersCompleted    int        `json:"chapters_completed"`
	ChaptersFailed       int        `json:"chapters_failed"`
	FailedChapterNumbers []int      `json:"failed_chapter_numbers,omitempty"`
	HasFailures          bool       `json:"has_failures"`
	LastActivity         time.Time  `json:"last_activity"`
	EstimatedCompletion  *time.Time `json:"estimated_completion,omitempty"`
}

// PhaseUsage 单阶段模型用量
type PhaseUsage struct {
	Model            string  `json:"model,omitempty"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	DurationMs       int     `json:"duration_ms"`
}

// ModelUsage 各阶段模型用量汇总
type ModelUsage struct {
	PremiseAnalysis   PhaseUsage `json:"premise_analysis"`
	OutlineGeneration PhaseUsage `json:"outline_generation"`
	ChapterGeneration PhaseUsage `json:"chapter_generation"`
}

// TotalCostUSD 全任务累计成本
func (u ModelUsage) TotalCostUSD() float64 {
	return u.PremiseAnalysis.CostUSD + u.OutlineGeneration.CostUSD + u.ChapterGeneration.CostUSD
}

// QualityMetrics 写作完成后的质量统计
type QualityMetrics struct {
	AverageChapterLength int     `json:"average_chapter_length"`
	TotalWordCount       int     `json:"total_word_count"`
	TargetAccuracy       float64 `json:"target_accuracy"`
	ChaptersCompleted    int     `json:"chapters_completed"`
	ChaptersFailed       int     `json:"chapters_failed"`
	CompletionRate       float64 `json:"completion_rate"`
	HasFailures          bool    `json:"has_failures"`
	FailedChapters       []int   `json:"failed_chapters,omitempty"`
}

// JobError 结构化任务错误
type JobError struct {
	Message   string          `json:"message"`
	Phase     GenerationPhase `json:"phase"`
	Timestamp time.Time       `json:"timestamp"`
}

// NovelJob 小说生成任务聚合根
type NovelJob struct {
	ID              string           `json:"id" gorm:"type:uuid;primaryKey"`
	Title           string           `json:"title" gorm:"type:varchar(255);not null"`
	Premise         string           `json:"premise" gorm:"type:text;not null"`
	Genre           string           `json:"genre" gorm:"type:varchar(64);index"`
	Subgenre        string           `json:"subgenre" gorm:"type:varchar(64)"`
	TargetWordCount int              `json:"target_word_count" gorm:"not null"`
	TargetChapters  int              `json:"target_chapters" gorm:"not null"`
	Status          NovelStatus      `json:"status" gorm:"type:varchar(32);index;default:'pending'"`
	CurrentPhase    GenerationPhase  `json:"current_phase" gorm:"type:varchar(32)"`
	Progress        JobProgress      `json:"progress" gorm:"type:jsonb;serializer:json"`
	Analysis        *PremiseAnalysis `json:"analysis,omitempty" gorm:"type:jsonb;serializer:json"`
	Outline         []ChapterSpec    `json:"outline,omitempty" gorm:"type:jsonb;serializer:json"`
	Chapters        []ChapterRecord  `json:"chapters,omitempty" gorm:"type:jsonb;serializer:json"`
	Synopsis        string           `json:"synopsis,omitempty" gorm:"type:text"`
	Usage           ModelUsage       `json:"model_usage" gorm:"column:model_usage;type:jsonb;serializer:json"`
	QualityMetrics  *QualityMetrics  `json:"quality_metrics,omitempty" gorm:"type:jsonb;serializer:json"`
	Error           *JobError        `json:"error,omitempty" gorm:"type:jsonb;serializer:json"`
	Version         int              `json:"version" gorm:"not null;default:1"`
	CreatedAt       time.Time        `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (NovelJob) TableName() string {
	return "novel_jobs"
}

// NewNovelJob 创建待执行的小说任务
func NewNovelJob(title, premise, genre, subgenre string, targetWordCount, targetChapters int) *NovelJob {
	now := time.Now()
	return &NovelJob{
		ID:              uuid.NewString(),
		Title:           title,
		Premise:         premise,
		Genre:           genre,
		Subgenre:        subgenre,
		TargetWordCount: targetWordCount,
		TargetChapters:  targetChapters,
		Status:          NovelStatusPending,
		Version:         1,
		Progress: JobProgress{
			LastActivity: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive 是否处于占用容量的活跃阶段
func (j *NovelJob) IsActive() bool {
	switch j.Status {
	case NovelStatusPlanning, NovelStatusOutlining, NovelStatusWriting:
		return true
	}
	return false
}

// IsTerminal 是否已进入终态
func (j *NovelJob) IsTerminal() bool {
	return j.Status == NovelStatusCompleted || j.Status == NovelStatusFailed
}

// IsCancelled 是否被取消
func (j *NovelJob) IsCancelled() bool {
	return j.Status == NovelStatusFailed && j.CurrentPhase == PhaseCancelled
}

// EnterPhase 推进到下一阶段
func (j *NovelJob) EnterPhase(status NovelStatus, phase GenerationPhase) {
	j.Status = status
	j.CurrentPhase = phase
	j.Progress.LastActivity = time.Now()
}

// Cancel 取消任务
func (j *NovelJob) Cancel(message string) {
	j.Status = NovelStatusFailed
	j.CurrentPhase = PhaseCancelled
	j.Error = &JobError{
		Message:   message,
		Phase:     PhaseCancelled,
		Timestamp: time.Now(),
	}
	j.Progress.LastActivity = time.Now()
}

// FailWith 记录阶段失败
func (j *NovelJob) FailWith(phase GenerationPhase, message string) {
	j.Status = NovelStatusFailed
	j.Error = &JobError{
		Message:   message,
		Phase:     phase,
		Timestamp: time.Now(),
	}
	j.Progress.LastActivity = time.Now()
}

// InitChapterSlots 按大纲初始化章节占位记录
func (j *NovelJob) InitChapterSlots() {
	j.Chapters = make([]ChapterRecord, len(j.Outline))
	for i, spec := range j.Outline {
		j.Chapters[i] = ChapterRecord{
			Number: spec.ChapterNumber,
			Title:  spec.Title,
			Status: ChapterPending,
		}
	}
}

// ChapterByNumber 返回指定章号的记录
func (j *NovelJob) ChapterByNumber(number int) *ChapterRecord {
	for i := range j.Chapters {
		if j.Chapters[i].Number == number {
			return &j.Chapters[i]
		}
	}
	return nil
}

// CompletedChapters 按章号顺序返回已完成章节
func (j *NovelJob) CompletedChapters() []ChapterRecord {
	out := make([]ChapterRecord, 0, len(j.Chapters))
	for _, ch := range j.Chapters {
		if ch.Status == ChapterCompleted {
			out = append(out, ch)
		}
	}
	return out
}

// FailedChapters 返回失败章节
func (j *NovelJob) FailedChapters() []ChapterRecord {
	out := make([]ChapterRecord, 0)
	for _, ch := range j.Chapters {
		if ch.Status == ChapterFailed {
			out = append(out, ch)
		}
	}
	return out
}

// RecordChapterFailure 登记失败章节到进度
func (j *NovelJob) RecordChapterFailure(number int) {
	j.Progress.ChaptersFailed++
	j.Progress.HasFailures = true
	for _, n := range j.Progress.FailedChapterNumbers {
		if n == number {
			return
		}
	}
	j.Progress.FailedChapterNumbers = append(j.Progress.FailedChapterNumbers, number)
}

// ClearChapterFailure 重试成功后从进度中摘除失败记录
func (j *NovelJob) ClearChapterFailure(number int) {
	if j.Progress.ChaptersFailed > 0 {
		j.Progress.ChaptersFailed--
	}
	nums := j.Progress.FailedChapterNumbers[:0]
	for _, n := range j.Progress.FailedChapterNumbers {
		if n != number {
			nums = append(nums, n)
		}
	}
	j.Progress.FailedChapterNumbers = nums
	j.Progress.HasFailures = j.Progress.ChaptersFailed > 0
}
