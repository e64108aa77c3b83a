// Package messaging 提供消息队列实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishGenerate 投递整本生成任务
func (p *Producer) PublishGenerate(ctx context.Context, jobID string) (string, error) {
	msg, err := NewMessage(uuid.NewString(), MsgTypeNovelGenerate, jobID, &GeneratePayload{JobID: jobID})
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, StreamNovelJobs, msg)
}

// PublishResume 投递失败章节续写任务
func (p *Producer) PublishResume(ctx context.Context, jobID string, startChapter int) (string, error) {
	msg, err := NewMessage(uuid.NewString(), MsgTypeNovelResume, jobID, &ResumePayload{
		JobID:        jobID,
		StartChapter: startChapter,
	})
	if err != nil {
		return "", err
	}
	msg.SetMetadata("start_chapter", fmt.Sprintf("%d", startChapter))
	return p.Publish(ctx, StreamNovelJobs, msg)
}
