package generation

import (
	"context"
	"testing"

	"novel-forge-api/internal/domain/entity"
	apperrors "novel-forge-api/pkg/errors"
)

func TestAdmissionCheck(t *testing.T) {
	writing := testJob(3)
	writing.Status = entity.NovelStatusWriting
	planning := testJob(3)
	planning.Status = entity.NovelStatusPlanning
	done := testJob(3)
	done.Status = entity.NovelStatusCompleted
	failed := testJob(3)
	failed.Status = entity.NovelStatusFailed

	store := newFakeStore(writing, planning, done, failed)
	ctx := context.Background()

	t.Run("below capacity", func(t *testing.T) {
		if err := NewAdmission(store, 3).Check(ctx); err != nil {
			t.Errorf("Check returned %v, want nil", err)
		}
	})

	t.Run("at capacity", func(t *testing.T) {
		err := NewAdmission(store, 2).Check(ctx)
		assertCode(t, err, apperrors.CodeCapacityExceeded)
	})

	// 终态任务不占用容量
	t.Run("terminal jobs ignored", func(t *testing.T) {
		if err := NewAdmission(store, 3).Check(ctx); err != nil {
			t.Errorf("Check returned %v, want nil", err)
		}
	})

	t.Run("unlimited when disabled", func(t *testing.T) {
		if err := NewAdmission(store, 0).Check(ctx); err != nil {
			t.Errorf("Check returned %v, want nil", err)
		}
	})
}
