package dto

import (
	"math"
	"regexp"
	"strings"
	"time"

	"novel-forge-api/internal/application/genre"
	"novel-forge-api/internal/domain/entity"
	apperrors "novel-forge-api/pkg/errors"
)

// 创建任务的输入边界
const (
	titleMaxLen        = 200
	premiseMinLen      = 50
	premiseMaxLen      = 30000
	premiseMinWords    = 10
	minTargetWordCount = 10000
	maxTargetWordCount = 500000
	minTargetChapters  = 3
	maxTargetChapters  = 100
	minAvgChapterWords = 500
	maxAvgChapterWords = 10000
)

var titleCharsetRe = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.,:!?'"()]+$`)

// CreateNovelRequest 创建小说生成任务请求
type CreateNovelRequest struct {
	Title           string `json:"title" binding:"required"`
	Premise         string `json:"premise" binding:"required"`
	Genre           string `json:"genre" binding:"required"`
	Subgenre        string `json:"subgenre" binding:"required"`
	TargetWordCount int    `json:"target_word_count" binding:"required"`
	TargetChapters  int    `json:"target_chapters" binding:"required"`
}

// Sanitize 清理输入，去除首尾空白与标题中的尖括号
func (r *CreateNovelRequest) Sanitize() {
	r.Title = strings.NewReplacer("<", "", ">", "").Replace(strings.TrimSpace(r.Title))
	r.Premise = strings.TrimSpace(r.Premise)
	r.Genre = strings.TrimSpace(r.Genre)
	r.Subgenre = strings.TrimSpace(r.Subgenre)
}

// Validate 校验业务规则
func (r *CreateNovelRequest) Validate() error {
	if len(r.Title) < 1 || len(r.Title) > titleMaxLen {
		return apperrors.New(apperrors.CodeInvalidParam, "Title must be 1-200 characters")
	}
	if !titleCharsetRe.MatchString(r.Title) {
		return apperrors.New(apperrors.CodeInvalidParam, "Title contains invalid characters")
	}
	if len(r.Premise) < premiseMinLen || len(r.Premise) > premiseMaxLen {
		return apperrors.New(apperrors.CodeInvalidParam, "Premise must be 50-30,000 characters (approximately 5,000 words)")
	}
	if entity.CountWords(r.Premise) < premiseMinWords {
		return apperrors.New(apperrors.CodeInvalidParam, "Premise must contain at least 10 words")
	}
	if !genre.IsValid(r.Genre, r.Subgenre) {
		return apperrors.New(apperrors.CodeGenreUnknown, "Invalid genre or subgenre selected")
	}
	if r.TargetWordCount < minTargetWordCount || r.TargetWordCount > maxTargetWordCount {
		return apperrors.New(apperrors.CodeInvalidParam, "Target word count must be between 10,000 and 500,000")
	}
	if r.TargetChapters < minTargetChapters || r.TargetChapters > maxTargetChapters {
		return apperrors.New(apperrors.CodeInvalidParam, "Target chapters must be between 3 and 100")
	}

	avg := float64(r.TargetWordCount) / float64(r.TargetChapters)
	if avg < minAvgChapterWords {
		return apperrors.New(apperrors.CodeInvalidParam, "Average chapter length would be too short (minimum 500 words per chapter)")
	}
	if avg > maxAvgChapterWords {
		return apperrors.New(apperrors.CodeInvalidParam, "Average chapter length would be too long (maximum 10,000 words per chapter)")
	}
	return nil
}

// ToEntity 构建待执行的任务实体
func (r *CreateNovelRequest) ToEntity() *entity.NovelJob {
	return entity.NewNovelJob(r.Title, r.Premise, r.Genre, r.Subgenre, r.TargetWordCount, r.TargetChapters)
}

// CreateNovelResponse 创建任务响应
type CreateNovelResponse struct {
	JobID            string `json:"job_id"`
	Message          string `json:"message"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

// EstimateMinutes 按目标字数粗估生成耗时
func EstimateMinutes(targetWordCount int) int {
	return int(math.Round(float64(targetWordCount) / 1000 * 2))
}

// NovelProgress 任务进度视图
type NovelProgress struct {
	OutlineComplete      bool       `json:"outline_complete"`
	ChaptersCompleted    int        `json:"chapters_completed"`
	ChaptersFailed       int        `json:"chapters_failed"`
	FailedChapterNumbers []int      `json:"failed_chapter_numbers,omitempty"`
	HasFailures          bool       `json:"has_failures"`
	LastActivity         time.Time  `json:"last_activity"`
	EstimatedCompletion  *time.Time `json:"estimated_completion,omitempty"`
	Percentage           int        `json:"percentage"`
}

// FailureSummary 失败概览
type FailureSummary struct {
	HasFailures    bool  `json:"has_failures"`
	FailedCount    int   `json:"failed_count"`
	FailedChapters []int `json:"failed_chapters"`
	CanRetry       bool  `json:"can_retry"`
}

// NovelStatusResponse 任务状态响应
type NovelStatusResponse struct {
	JobID           string                 `json:"job_id"`
	Status          string                 `json:"status"`
	CurrentPhase    string                 `json:"current_phase,omitempty"`
	Progress        NovelProgress          `json:"progress"`
	Title           string                 `json:"title"`
	Genre           string                 `json:"genre"`
	Subgenre        string                 `json:"subgenre"`
	TargetWordCount int                    `json:"target_word_count"`
	TargetChapters  int                    `json:"target_chapters"`
	CreatedAt       time.Time              `json:"created_at"`
	Outline         []entity.ChapterSpec   `json:"outline,omitempty"`
	Error           *entity.JobError       `json:"error,omitempty"`
	QualityMetrics  *entity.QualityMetrics `json:"quality_metrics,omitempty"`
	Failures        *FailureSummary        `json:"failures,omitempty"`
}

// ProgressPercentage 按阶段折算进度百分比。
// 分析 10%，大纲 25%，写作阶段在 25% 到 95% 之间按章节推进
func ProgressPercentage(job *entity.NovelJob) int {
	switch {
	case job.Status == entity.NovelStatusCompleted:
		return 100
	case job.CurrentPhase == entity.PhasePremiseAnalysis:
		return 10
	case job.CurrentPhase == entity.PhaseOutlineGeneration:
		return 25
	case job.CurrentPhase == entity.PhaseChapterWriting && job.TargetChapters > 0:
		return int(math.Round(25 + float64(job.Progress.ChaptersCompleted)/float64(job.TargetChapters)*70))
	}
	return 0
}

// ToNovelStatusResponse 将任务实体转换为状态响应
func ToNovelStatusResponse(job *entity.NovelJob) *NovelStatusResponse {
	resp := &NovelStatusResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		CurrentPhase: string(job.CurrentPhase),
		Progress: NovelProgress{
			OutlineComplete:      job.Progress.OutlineComplete,
			ChaptersCompleted:    job.Progress.ChaptersCompleted,
			ChaptersFailed:       job.Progress.ChaptersFailed,
			FailedChapterNumbers: job.Progress.FailedChapterNumbers,
			HasFailures:          job.Progress.HasFailures,
			LastActivity:         job.Progress.LastActivity,
			EstimatedCompletion:  job.Progress.EstimatedCompletion,
			Percentage:           ProgressPercentage(job),
		},
		Title:           job.Title,
		Genre:           job.Genre,
		Subgenre:        job.Subgenre,
		TargetWordCount: job.TargetWordCount,
		TargetChapters:  job.TargetChapters,
		CreatedAt:       job.CreatedAt,
	}

	if len(job.Outline) > 0 {
		resp.Outline = job.Outline
	}
	if job.Status == entity.NovelStatusFailed && job.Error != nil {
		resp.Error = job.Error
	}
	if job.Status == entity.NovelStatusCompleted && job.QualityMetrics != nil {
		resp.QualityMetrics = job.QualityMetrics
	}
	if job.Progress.HasFailures {
		resp.Failures = &FailureSummary{
			HasFailures:    true,
			FailedCount:    job.Progress.ChaptersFailed,
			FailedChapters: job.Progress.FailedChapterNumbers,
			CanRetry:       true,
		}
	}
	return resp
}

// NovelListItem 任务列表项
type NovelListItem struct {
	JobID             string    `json:"job_id"`
	Title             string    `json:"title"`
	Status            string    `json:"status"`
	CurrentPhase      string    `json:"current_phase,omitempty"`
	ChaptersCompleted int       `json:"chapters_completed"`
	TotalChapters     int       `json:"total_chapters"`
	CreatedAt         time.Time `json:"created_at"`
}

// NovelListResponse 任务列表响应
type NovelListResponse struct {
	Jobs []NovelListItem `json:"jobs"`
}

// ToNovelListResponse 将任务实体列表转换为列表响应
func ToNovelListResponse(jobs []*entity.NovelJob) *NovelListResponse {
	resp := &NovelListResponse{Jobs: make([]NovelListItem, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, NovelListItem{
			JobID:             job.ID,
			Title:             job.Title,
			Status:            string(job.Status),
			CurrentPhase:      string(job.CurrentPhase),
			ChaptersCompleted: job.Progress.ChaptersCompleted,
			TotalChapters:     job.TargetChapters,
			CreatedAt:         job.CreatedAt,
		})
	}
	return resp
}

// DownloadChapter 下载响应中的完成章节
type DownloadChapter struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	WordCount int    `json:"word_count"`
}

// DownloadFailedChapter 下载响应中的失败章节
type DownloadFailedChapter struct {
	Number        int    `json:"number"`
	Title         string `json:"title"`
	FailureReason string `json:"failure_reason,omitempty"`
	Attempts      int    `json:"attempts"`
}

// CompletionStats 完成统计
type CompletionStats struct {
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Total          int `json:"total"`
	CompletionRate int `json:"completion_rate"`
}

// DownloadNovelResponse 整本下载响应
type DownloadNovelResponse struct {
	ID              string                  `json:"id"`
	Title           string                  `json:"title"`
	Genre           string                  `json:"genre"`
	Subgenre        string                  `json:"subgenre"`
	Premise         string                  `json:"premise"`
	Chapters        []DownloadChapter       `json:"chapters"`
	FailedChapters  []DownloadFailedChapter `json:"failed_chapters"`
	WordCount       int                     `json:"word_count"`
	TargetWordCount int                     `json:"target_word_count"`
	CompletedAt     time.Time               `json:"completed_at"`
	QualityMetrics  *entity.QualityMetrics  `json:"quality_metrics,omitempty"`
	HasFailures     bool                    `json:"has_failures"`
	CompletionStats CompletionStats         `json:"completion_stats"`
}

// ToDownloadNovelResponse 将任务实体转换为下载响应
func ToDownloadNovelResponse(job *entity.NovelJob) *DownloadNovelResponse {
	completed := job.CompletedChapters()
	failed := job.FailedChapters()

	totalWords := 0
	chapters := make([]DownloadChapter, 0, len(completed))
	for _, ch := range completed {
		totalWords += ch.WordCount
		chapters = append(chapters, DownloadChapter{
			Number:    ch.Number,
			Title:     ch.Title,
			Content:   ch.Content,
			WordCount: ch.WordCount,
		})
	}

	failedChapters := make([]DownloadFailedChapter, 0, len(failed))
	for _, ch := range failed {
		failedChapters = append(failedChapters, DownloadFailedChapter{
			Number:        ch.Number,
			Title:         ch.Title,
			FailureReason: ch.FailureReason,
			Attempts:      ch.Attempts,
		})
	}

	completionRate := 0
	if job.TargetChapters > 0 {
		completionRate = int(math.Round(float64(len(completed)) / float64(job.TargetChapters) * 100))
	}

	return &DownloadNovelResponse{
		ID:              job.ID,
		Title:           job.Title,
		Genre:           job.Genre,
		Subgenre:        job.Subgenre,
		Premise:         job.Premise,
		Chapters:        chapters,
		FailedChapters:  failedChapters,
		WordCount:       totalWords,
		TargetWordCount: job.TargetWordCount,
		CompletedAt:     job.Progress.LastActivity,
		QualityMetrics:  job.QualityMetrics,
		HasFailures:     job.Progress.HasFailures,
		CompletionStats: CompletionStats{
			Completed:      len(completed),
			Failed:         len(failed),
			Total:          job.TargetChapters,
			CompletionRate: completionRate,
		},
	}
}

// DeleteNovelResponse 取消或删除响应
type DeleteNovelResponse struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// RetryNovelRequest 重试失败章节请求
type RetryNovelRequest struct {
	ChapterNumbers []int `json:"chapter_numbers,omitempty"`
}

// RetryNovelResponse 重试响应
type RetryNovelResponse struct {
	Message          string `json:"message"`
	ChaptersToRetry  int    `json:"chapters_to_retry"`
	ChapterNumbers   []int  `json:"chapter_numbers"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

// FailedChapterDetail 失败章节详情
type FailedChapterDetail struct {
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// NovelFailuresResponse 失败详情响应
type NovelFailuresResponse struct {
	JobID          string                `json:"job_id"`
	Title          string                `json:"title"`
	FailedChapters []FailedChapterDetail `json:"failed_chapters"`
	Summary        CompletionStatsExt    `json:"summary"`
}

// CompletionStatsExt 带重试标记的完成统计
type CompletionStatsExt struct {
	TotalChapters  int  `json:"total_chapters"`
	Completed      int  `json:"completed"`
	Failed         int  `json:"failed"`
	CanRetry       bool `json:"can_retry"`
	CompletionRate int  `json:"completion_rate"`
}

// ToNovelFailuresResponse 将任务实体转换为失败详情响应
func ToNovelFailuresResponse(job *entity.NovelJob) *NovelFailuresResponse {
	completed := job.CompletedChapters()
	failed := job.FailedChapters()

	details := make([]FailedChapterDetail, 0, len(failed))
	for _, ch := range failed {
		details = append(details, FailedChapterDetail{
			ChapterNumber: ch.Number,
			Title:         ch.Title,
			Status:        string(ch.Status),
			Attempts:      ch.Attempts,
			FailureReason: ch.FailureReason,
		})
	}

	completionRate := 0
	if len(job.Chapters) > 0 {
		completionRate = int(math.Round(float64(len(completed)) / float64(len(job.Chapters)) * 100))
	}

	return &NovelFailuresResponse{
		JobID:          job.ID,
		Title:          job.Title,
		FailedChapters: details,
		Summary: CompletionStatsExt{
			TotalChapters:  len(job.Chapters),
			Completed:      len(completed),
			Failed:         len(failed),
			CanRetry:       len(failed) > 0,
			CompletionRate: completionRate,
		},
	}
}

// ContinuityAlert 单条一致性警告
type ContinuityAlert struct {
	ChapterNumber int    `json:"chapter_number"`
	Warning       string `json:"warning"`
}

// ContinuityAlertsResponse 一致性警告响应
type ContinuityAlertsResponse struct {
	JobID       string            `json:"job_id"`
	Alerts      []ContinuityAlert `json:"alerts"`
	TotalCount  int               `json:"total_count"`
	LastChecked time.Time         `json:"last_checked"`
}

// ToContinuityAlertsResponse 汇总各章节持久化的一致性警告
func ToContinuityAlertsResponse(job *entity.NovelJob) *ContinuityAlertsResponse {
	alerts := make([]ContinuityAlert, 0)
	for _, ch := range job.Chapters {
		for _, w := range ch.ContinuityWarnings {
			alerts = append(alerts, ContinuityAlert{ChapterNumber: ch.Number, Warning: w})
		}
	}
	return &ContinuityAlertsResponse{
		JobID:       job.ID,
		Alerts:      alerts,
		TotalCount:  len(alerts),
		LastChecked: job.UpdatedAt,
	}
}

// QualityMetricsResponse 质量统计响应
type QualityMetricsResponse struct {
	JobID       string                 `json:"job_id"`
	Metrics     *entity.QualityMetrics `json:"metrics,omitempty"`
	LastUpdated time.Time              `json:"last_updated"`
}

// PhaseCost 单阶段成本视图
type PhaseCost struct {
	Model            string  `json:"model,omitempty"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	DurationMs       int     `json:"duration_ms"`
}

// CostTrackingResponse 成本追踪响应
type CostTrackingResponse struct {
	JobID        string    `json:"job_id"`
	Analysis     PhaseCost `json:"analysis"`
	Outline      PhaseCost `json:"outline"`
	Chapters     PhaseCost `json:"chapters"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	TokensUsed   int       `json:"tokens_used"`
	LastUpdated  time.Time `json:"last_updated"`
}

func toPhaseCost(u entity.PhaseUsage) PhaseCost {
	return PhaseCost{
		Model:            u.Model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		CostUSD:          u.CostUSD,
		DurationMs:       u.DurationMs,
	}
}

// ToCostTrackingResponse 将任务用量转换为成本追踪响应
func ToCostTrackingResponse(job *entity.NovelJob) *CostTrackingResponse {
	total := job.Usage.TotalCostUSD()
	tokens := job.Usage.PremiseAnalysis.PromptTokens + job.Usage.PremiseAnalysis.CompletionTokens +
		job.Usage.OutlineGeneration.PromptTokens + job.Usage.OutlineGeneration.CompletionTokens +
		job.Usage.ChapterGeneration.PromptTokens + job.Usage.ChapterGeneration.CompletionTokens

	return &CostTrackingResponse{
		JobID:        job.ID,
		Analysis:     toPhaseCost(job.Usage.PremiseAnalysis),
		Outline:      toPhaseCost(job.Usage.OutlineGeneration),
		Chapters:     toPhaseCost(job.Usage.ChapterGeneration),
		TotalCostUSD: total,
		TokensUsed:   tokens,
		LastUpdated:  job.UpdatedAt,
	}
}

// RetryEstimateMinutes 按待重试章节数粗估耗时
func RetryEstimateMinutes(chapters int) int {
	return chapters * 3
}
