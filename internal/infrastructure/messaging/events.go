// Package messaging 提供消息队列实现
package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"novel-forge-api/pkg/logger"
)

// 生成过程事件类型
const (
	EventPhaseTransition  = "phase_transition"
	EventChapterCompleted = "chapter_completed"
	EventChapterFailed    = "chapter_failed"
	EventJobCompleted     = "job_completed"
	EventJobFailed        = "job_failed"
	EventCostAlert        = "cost_alert"
)

// Event 生成过程事件
type Event struct {
	JobID      string                 `json:"job_id"`
	Kind       string                 `json:"kind"`
	Phase      string                 `json:"phase,omitempty"`
	Chapter    int                    `json:"chapter,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// EventPublisher 将生成过程事件发布到事件流
// 发布失败只记录日志，从不影响生成流程
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher 创建事件发布器
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Emit 发布事件
func (e *EventPublisher) Emit(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	msg, err := NewMessage(uuid.NewString(), event.Kind, event.JobID, &event)
	if err != nil {
		logger.Warn(ctx, "failed to build generation event", "kind", event.Kind, "error", err.Error())
		return
	}

	if _, err := e.producer.Publish(ctx, StreamNovelEvents, msg); err != nil {
		logger.Warn(ctx, "failed to publish generation event", "kind", event.Kind, "error", err.Error())
	}
}
