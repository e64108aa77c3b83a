package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"novel-forge-api/internal/application/generation"
	"novel-forge-api/internal/domain/entity"
	"novel-forge-api/internal/domain/repository"
	"novel-forge-api/internal/infrastructure/messaging"
	"novel-forge-api/internal/infrastructure/persistence/redis"
	"novel-forge-api/internal/interfaces/http/dto"
	apperrors "novel-forge-api/pkg/errors"
	"novel-forge-api/pkg/logger"
)

// 任务列表默认与最大返回条数
const (
	defaultJobListLimit = 10
	maxJobListLimit     = 50
)

// storyBibleTTL 故事圣经缓存时长
const storyBibleTTL = 5 * time.Minute

// NovelHandler 小说生成任务处理器
type NovelHandler struct {
	jobRepo   repository.JobRepository
	admission *generation.Admission
	producer  *messaging.Producer
	cache     *redis.Cache
}

// NewNovelHandler 创建小说任务处理器
func NewNovelHandler(
	jobRepo repository.JobRepository,
	admission *generation.Admission,
	producer *messaging.Producer,
	cache *redis.Cache,
) *NovelHandler {
	return &NovelHandler{
		jobRepo:   jobRepo,
		admission: admission,
		producer:  producer,
		cache:     cache,
	}
}

// CreateNovel 创建小说生成任务
// @Summary 创建小说生成任务
// @Description 校验输入与容量后创建任务并投递生成消息
// @Tags Novels
// @Accept json
// @Produce json
// @Param request body dto.CreateNovelRequest true "创建请求"
// @Success 201 {object} dto.Response[dto.CreateNovelResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse "容量已满"
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/novels [post]
func (h *NovelHandler) CreateNovel(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateNovelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	req.Sanitize()
	if err := req.Validate(); err != nil {
		respondError(c, err, "validation failed")
		return
	}

	if err := h.admission.Check(ctx); err != nil {
		respondError(c, err, "failed to check generation capacity")
		return
	}

	job := req.ToEntity()
	if err := h.jobRepo.Create(ctx, job); err != nil {
		respondError(c, err, "failed to create job")
		return
	}

	if _, err := h.producer.PublishGenerate(ctx, job.ID); err != nil {
		// 任务已落库但消息投递失败，调用方可通过 retry 恢复
		logger.Error(ctx, "failed to publish generate message", err, "job_id", job.ID)
		respondError(c, err, "failed to enqueue generation")
		return
	}

	logger.Info(ctx, "novel generation job created",
		"job_id", job.ID, "genre", job.Genre, "target_chapters", job.TargetChapters)

	dto.Created(c, &dto.CreateNovelResponse{
		JobID:            job.ID,
		Message:          "Novel generation started",
		EstimatedMinutes: dto.EstimateMinutes(job.TargetWordCount),
	})
}

// ListNovels 分页列出任务，按创建时间倒序
// @Summary 列出任务
// @Tags Novels
// @Produce json
// @Param page query int false "页码，默认 1"
// @Param limit query int false "每页条数，默认 10，最大 50"
// @Success 200 {object} dto.Response[dto.NovelListResponse]
// @Router /v1/novels [get]
func (h *NovelHandler) ListNovels(c *gin.Context) {
	ctx := c.Request.Context()
	limit := dto.BindLimit(c, defaultJobListLimit, maxJobListLimit)
	page := dto.BindPage(c)

	jobs, total, err := h.jobRepo.List(ctx, limit, (page-1)*limit)
	if err != nil {
		respondError(c, err, "failed to list jobs")
		return
	}
	dto.SuccessWithPage(c, dto.ToNovelListResponse(jobs), dto.NewPageMeta(page, limit, int(total)))
}

// GetNovelStatus 查询任务状态与进度
// @Summary 查询任务状态
// @Tags Novels
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.NovelStatusResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{jid} [get]
func (h *NovelHandler) GetNovelStatus(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := dto.BindJobID(c)
	if !ok {
		return
	}

	job, err := h.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		respondError(c, err, "failed to fetch job status")
		return
	}
	dto.Success(c, dto.ToNovelStatusResponse(job))
}

// DownloadNovel 下载整本内容
// @Summary 下载整本内容
// @Description 仅已完成任务可下载，含失败章节明细与完成统计
// @Tags Novels
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.DownloadNovelResponse]
// @Failure 400 {object} dto.ErrorResponse "任务未完成"
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{jid}/download [get]
func (h *NovelHandler) DownloadNovel(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := dto.BindJobID(c)
	if !ok {
		return
	}

	job, err := h.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		respondError(c, err, "failed to fetch job")
		return
	}

	if job.Status != entity.NovelStatusCompleted {
		dto.ErrorWithDetail(c, 400, "novel generation is not yet complete", &dto.ErrorDetail{
			Details: "current status: " + string(job.Status),
		})
		return
	}
	if len(job.Chapters) == 0 {
		dto.BadRequest(c, "no chapters were generated")
		return
	}

	dto.Success(c, dto.ToDownloadNovelResponse(job))
}

// DeleteNovel 取消或删除任务
// @Summary 取消或删除任务
// @Description 活跃任务被取消（状态置为失败、阶段置为已取消），终态任务被删除
// @Tags Novels
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.DeleteNovelResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{jid} [delete]
func (h *NovelHandler) DeleteNovel(c *gin.Context) {
	ctx := c.Request.Context()
	jobID, ok := dto.BindJobID(c)
	if !ok {
		return
	}

	job, err := h.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		respondError(c, err, "failed to fetch job")
		return
	}

	if job.IsActive() {
		if err := h.cancelJob(ctx, job); err != nil {
			respondError(c, err, "failed to cancel job")
			return
		}
		logger.Info(ctx, "job cancelled by user", "job_id", jobID)
		dto.Success(c, &dto.DeleteNovelResponse{
			Message: "Job cancelled successfully",
			Status:  "cancelled",
		})
		return
	}

	if err := h.jobRepo.Delete(ctx, jobID); err != nil {
		respondError(c, err, "failed to delete job")
		return
	}
	if h.cache != nil {
		if err := h.cache.InvalidateJob(ctx, jobID); err != nil {
			logger.Warn(ctx, "failed to invalidate job cache", "job_id", jobID, "error", err.Error())
		}
	}
	logger.Info(ctx, "job deleted", "job_id", jobID)
	dto.Success(c, &dto.DeleteNovelResponse{Message: "Job deleted successfully"})
}

// cancelRetryLimit 取消写入与引擎落库冲突时的重读次数上限
const cancelRetryLimit = 3

// cancelJob 取消活跃任务。引擎在持续推进落库，版本冲突时
// 重读最新版本再写，确保取消最终落到行上而不是反过来被覆盖
func (h *NovelHandler) cancelJob(ctx context.Context, job *entity.NovelJob) error {
	for attempt := 0; ; attempt++ {
		job.Cancel("Job cancelled by user")
		err := h.jobRepo.Update(ctx, job)
		if err == nil || !errors.Is(err, apperrors.ErrJobConflict) || attempt >= cancelRetryLimit {
			return err
		}
		fresh, getErr := h.jobRepo.GetByID(ctx, job.ID)
		if getErr != nil {
			return getErr
		}
		if fresh.IsTerminal() {
			return nil
		}
		job = fresh
	}
}

// RetryNovel 重试失败章节
// @Summary 重试失败章节
// @Description 任务空闲且存在失败章节时，从最小失败章号投递恢复消息
// @Tags Novels
// @Accept json
// @Produce json
// @Param jid path string true "任务 ID"
// @Param request body dto.RetryNovelRequest false "可选的指定章号"
// @Success 200 {object} dto.Response[dto.RetryNovelResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{jid}/retry [post]
func (h *NovelHandler) RetryNovel(c *gin.Context) {
	ctx := c.Request.Context()
	jobID, ok := dto.BindJobID(c)
	if !ok {
		return
	}

	var req dto.RetryNovelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			dto.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	job, err := h.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		respondError(c, err, "failed to fetch job")
		return
	}

	failed := job.FailedChapters()
	if len(failed) == 0 {
		dto.BadRequest(c, "this job has no failed chapters to retry")
		return
	}
	if job.IsActive() {
		dto.BadRequest(c, "cannot retry chapters while job is still processing")
		return
	}

	targets := failed
	if len(req.ChapterNumbers) > 0 {
		wanted := make(map[int]bool, len(req.ChapterNumbers))
		for _, n := range req.ChapterNumbers {
			wanted[n] = true
		}
		targets = targets[:0]
		for _, ch := range failed {
			if wanted[ch.Number] {
				targets = append(targets, ch)
			}
		}
		if len(targets) == 0 {
			dto.BadRequest(c, "none of the specified chapters are in failed status")
			return
		}
	}

	startChapter := targets[0].Number
	numbers := make([]int, 0, len(targets))
	for _, ch := range targets {
		if ch.Number < startChapter {
			startChapter = ch.Number
		}
		numbers = append(numbers, ch.Number)
	}

	if _, err := h.producer.PublishResume(ctx, jobID, startChapter); err != nil {
		respondError(c, err, "failed to enqueue chapter retry")
		return
	}

	logger.Info(ctx, "chapter retry started",
		"job_id", jobID, "start_chapter", startChapter, "chapters", len(numbers))

	dto.Success(c, &dto.RetryNovelResponse{
		Message:          "Chapter retry started",
		ChaptersToRetry:  len(numbers),
		ChapterNumbers:   numbers,
		EstimatedMinutes: dto.RetryEstimateMinutes(len(numbers)),
	})
}

// GetNovelFailures 失败章节详情
// @Summary 失败章节详情
// @Tags Novels
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.NovelFailuresResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{jid}/failures [get]
func (h *NovelHandler) GetNovelFailures(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := dto.BindJobID(c)
	if !ok {
		return
	}

	job, err := h.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		respondError(c, err, "failed to fetch failure details")
		return
	}
	dto.Success(c, dto.ToNovelFailuresResponse(job))
}

// GetStoryBible 故事圣经
// @Summary 故事圣经
// @Description 对已完成章节按需抽取角色、地点与关键物品，结果短暂缓存
// @Tags Novels
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[generation.StoryBible]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{jid}/story-bible [get]
func (h *NovelHandler) GetStoryBible(c *gin.Context) {
	ctx := c.Request.Context()
	jobID, ok := dto.BindJobID(c)
	if !ok {
		return
	}

	load := func() (interface{}, error) {
		job, err := h.jobRepo.GetByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return generation.BuildStoryBible(job.Chapters), nil
	}

	if h.cache == nil {
		bible, err := load()
		if err != nil {
			respondError(c, err, "failed to build story bible")
			return
		}
		dto.Success(c, bible)
		return
	}

	data, err := h.cache.GetOrLoadSafe(ctx, redis.StoryBibleKey(jobID), storyBibleTTL, load)
	if err != nil {
		respondError(c, err, "failed to build story bible")
		return
	}

	var bible generation.StoryBible
	if err := json.Unmarshal(data, &bible); err != nil {
		respondError(c, err, "failed to decode story bible")
		return
	}
	dto.Success(c, bible)
}

// GetContinuityAlerts 一致性警告
// @Summary 一致性警告
// @Tags Novels
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.ContinuityAlertsResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{jid}/continuity-alerts [get]
func (h *NovelHandler) GetContinuityAlerts(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := dto.BindJobID(c)
	if !ok {
		return
	}

	job, err := h.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		respondError(c, err, "failed to fetch continuity alerts")
		return
	}
	dto.Success(c, dto.ToContinuityAlertsResponse(job))
}

// GetQualityMetrics 质量统计
// @Summary 质量统计
// @Tags Novels
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.QualityMetricsResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{jid}/quality-metrics [get]
func (h *NovelHandler) GetQualityMetrics(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := dto.BindJobID(c)
	if !ok {
		return
	}

	job, err := h.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		respondError(c, err, "failed to fetch quality metrics")
		return
	}
	dto.Success(c, &dto.QualityMetricsResponse{
		JobID:       job.ID,
		Metrics:     job.QualityMetrics,
		LastUpdated: job.UpdatedAt,
	})
}

// GetCostTracking 成本追踪
// @Summary 成本追踪
// @Tags Novels
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.CostTrackingResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{jid}/cost-tracking [get]
func (h *NovelHandler) GetCostTracking(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := dto.BindJobID(c)
	if !ok {
		return
	}

	job, err := h.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		respondError(c, err, "failed to fetch cost tracking")
		return
	}
	dto.Success(c, dto.ToCostTrackingResponse(job))
}
