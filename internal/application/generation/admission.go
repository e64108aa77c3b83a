package generation

import (
	"context"

	"novel-forge-api/internal/domain/entity"
	apperrors "novel-forge-api/pkg/errors"
	"novel-forge-api/pkg/logger"
)

// Admission 生成容量准入控制。
// 以数据库中活跃任务数为准，先查计数再建任务，两步之间不加锁，
// 并发提交可能短暂超出上限，这是可接受的软限制
type Admission struct {
	store JobStore
	max   int
}

// NewAdmission 创建准入控制器
func NewAdmission(store JobStore, maxConcurrent int) *Admission {
	return &Admission{store: store, max: maxConcurrent}
}

// Check 校验当前容量，超限时返回 CapacityError
func (a *Admission) Check(ctx context.Context) error {
	if a.max <= 0 {
		return nil
	}

	active, err := a.store.CountByStatuses(ctx, entity.ActiveStatuses())
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to count active jobs")
	}

	if int(active) >= a.max {
		logger.Warn(ctx, "generation capacity exceeded", "active", active, "max", a.max)
		return apperrors.NewCapacityError(int(active), a.max)
	}
	return nil
}
