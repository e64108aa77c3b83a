// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"novel-forge-api/internal/domain/entity"
)

// JobRepository 小说任务仓储接口
type JobRepository interface {
	// Create 创建任务
	Create(ctx context.Context, job *entity.NovelJob) error

	// GetByID 根据 ID 获取任务
	GetByID(ctx context.Context, id string) (*entity.NovelJob, error)

	// Update 整体保存聚合，版本号不一致时返回 ErrJobConflict
	Update(ctx context.Context, job *entity.NovelJob) error

	// Delete 删除任务
	Delete(ctx context.Context, id string) error

	// List 按创建时间倒序分页列出任务，并返回总数
	List(ctx context.Context, limit, offset int) ([]*entity.NovelJob, int64, error)

	// CountByStatuses 统计处于给定状态的任务数
	CountByStatuses(ctx context.Context, statuses []entity.NovelStatus) (int64, error)

	// GetStatus 只读取任务的状态与阶段
	GetStatus(ctx context.Context, id string) (entity.NovelStatus, entity.GenerationPhase, error)
}
