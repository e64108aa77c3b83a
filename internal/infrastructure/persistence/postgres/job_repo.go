// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"novel-forge-api/internal/domain/entity"
	apperrors "novel-forge-api/pkg/errors"
)

// JobRepository 小说任务仓储实现
type JobRepository struct {
	client *Client
}

// NewJobRepository 创建任务仓储
func NewJobRepository(client *Client) *JobRepository {
	return &JobRepository{client: client}
}

// Create 创建任务
func (r *JobRepository) Create(ctx context.Context, job *entity.NovelJob) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Create")
	defer span.End()

	db := r.client.db.WithContext(ctx)
	if err := db.Create(job).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create novel job: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取任务
func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.NovelJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.GetByID")
	defer span.End()

	db := r.client.db.WithContext(ctx)
	var job entity.NovelJob
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.ErrJobNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get novel job: %w", err)
	}
	return &job, nil
}

// Update 整体保存聚合，带乐观锁。
// 只有版本号与读取时一致才会写入，否则说明有并发写入者
// （例如用户取消），返回 ErrJobConflict 且不落任何字段
func (r *JobRepository) Update(ctx context.Context, job *entity.NovelJob) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Update")
	defer span.End()

	prev := job.Version
	job.Version = prev + 1

	db := r.client.db.WithContext(ctx)
	res := db.Model(&entity.NovelJob{}).
		Where("id = ? AND version = ?", job.ID, prev).
		Select("*").
		Omit("id", "created_at").
		Updates(job)
	if res.Error != nil {
		job.Version = prev
		span.RecordError(res.Error)
		return fmt.Errorf("failed to update novel job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		job.Version = prev
		return apperrors.ErrJobConflict
	}
	return nil
}

// Delete 删除任务
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Delete")
	defer span.End()

	db := r.client.db.WithContext(ctx)
	if err := db.Delete(&entity.NovelJob{}, "id = ?", id).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete novel job: %w", err)
	}
	return nil
}

// List 按创建时间倒序分页列出任务，并返回总数
func (r *JobRepository) List(ctx context.Context, limit, offset int) ([]*entity.NovelJob, int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.List")
	defer span.End()

	db := r.client.db.WithContext(ctx)
	var total int64
	if err := db.Model(&entity.NovelJob{}).Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to count novel jobs: %w", err)
	}

	var jobs []*entity.NovelJob
	if err := db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to list novel jobs: %w", err)
	}
	return jobs, total, nil
}

// CountByStatuses 统计处于给定状态的任务数
func (r *JobRepository) CountByStatuses(ctx context.Context, statuses []entity.NovelStatus) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.CountByStatuses")
	defer span.End()

	db := r.client.db.WithContext(ctx)
	var count int64
	if err := db.Model(&entity.NovelJob{}).Where("status IN ?", statuses).Count(&count).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count novel jobs: %w", err)
	}
	return count, nil
}

// GetStatus 只读取任务的状态与阶段
func (r *JobRepository) GetStatus(ctx context.Context, id string) (entity.NovelStatus, entity.GenerationPhase, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.GetStatus")
	defer span.End()

	db := r.client.db.WithContext(ctx)
	var row struct {
		Status       entity.NovelStatus
		CurrentPhase entity.GenerationPhase
	}
	if err := db.Model(&entity.NovelJob{}).
		Select("status", "current_phase").
		Where("id = ?", id).
		Take(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", "", apperrors.ErrJobNotFound
		}
		span.RecordError(err)
		return "", "", fmt.Errorf("failed to get novel job status: %w", err)
	}
	return row.Status, row.CurrentPhase, nil
}
