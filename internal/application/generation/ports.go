// Package generation 实现小说生成编排引擎：阶段状态机、章节重试、
// 故事记忆构建、成本遥测与一致性启发式检查
package generation

import (
	"context"
	"time"

	"novel-forge-api/internal/config"
	"novel-forge-api/internal/domain/entity"
	"novel-forge-api/internal/infrastructure/llm"
	"novel-forge-api/internal/infrastructure/messaging"
)

// JobStore 引擎所需的任务持久化能力，由 repository.JobRepository 满足
type JobStore interface {
	GetByID(ctx context.Context, id string) (*entity.NovelJob, error)
	Update(ctx context.Context, job *entity.NovelJob) error
	CountByStatuses(ctx context.Context, statuses []entity.NovelStatus) (int64, error)
	GetStatus(ctx context.Context, id string) (entity.NovelStatus, entity.GenerationPhase, error)
}

// TextProvider 文本生成能力，由 llm.Client 满足
type TextProvider interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResult, error)
}

// EventSink 生成过程事件出口，由 messaging.EventPublisher 满足
type EventSink interface {
	Emit(ctx context.Context, event messaging.Event)
}

// Options 引擎运行参数
type Options struct {
	// ChapterModel 章节正文使用的模型
	ChapterModel string
	// MaxChapterAttempts 单章最大尝试次数
	MaxChapterAttempts int
	// ChapterDelay 相邻章节之间的固定间隔
	ChapterDelay time.Duration
	// RecentChapterWindow 记忆构建时携带全文的最近章节数
	RecentChapterWindow int
	// CostAlertThresholdUSD 累计成本告警阈值
	CostAlertThresholdUSD float64
	// Pricing 每千 token 的模型价格表
	Pricing map[string]config.ModelPricing
}

// OptionsFromConfig 从配置装配引擎参数
func OptionsFromConfig(gen *config.GenerationConfig, llmCfg *config.LLMConfig) Options {
	return Options{
		ChapterModel:          llmCfg.Model,
		MaxChapterAttempts:    gen.MaxChapterAttempts,
		ChapterDelay:          gen.ChapterDelay,
		RecentChapterWindow:   gen.RecentChapterWindow,
		CostAlertThresholdUSD: gen.CostAlertThresholdUSD,
		Pricing:               llmCfg.Pricing,
	}
}

func (o *Options) normalize() {
	if o.ChapterModel == "" {
		o.ChapterModel = chapterModelDefault
	}
	if o.MaxChapterAttempts <= 0 {
		o.MaxChapterAttempts = 3
	}
	if o.RecentChapterWindow <= 0 {
		o.RecentChapterWindow = 10
	}
}
