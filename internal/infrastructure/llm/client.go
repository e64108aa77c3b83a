// Package llm 提供大模型文本生成客户端
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"novel-forge-api/internal/config"
	"novel-forge-api/pkg/metrics"
)

var tracer = otel.Tracer("llm")

// ChatRequest 单次文本生成请求
type ChatRequest struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// ChatResult 单次文本生成结果
type ChatResult struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// Client OpenAI 兼容的生成客户端
type Client struct {
	api         openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewClient 创建生成客户端
func NewClient(cfg *config.LLMConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		api:         openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Chat 执行一次对话补全
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	ctx, span := tracer.Start(ctx, "llm.Chat",
		trace.WithAttributes(
			attribute.String("llm.model", model),
			attribute.Int("llm.max_tokens", maxTokens),
		))
	defer span.End()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	})
	duration := time.Since(start)

	metrics.LLMCallDuration.WithLabelValues(model).Observe(duration.Seconds())

	if err != nil {
		span.RecordError(err)
		metrics.LLMCallTotal.WithLabelValues(model, "error").Inc()
		return nil, classifyError(err)
	}

	if len(resp.Choices) == 0 {
		metrics.LLMCallTotal.WithLabelValues(model, "error").Inc()
		return nil, fmt.Errorf("llm returned no choices")
	}

	result := &ChatResult{
		Content:          resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Duration:         duration,
	}

	metrics.LLMCallTotal.WithLabelValues(model, "success").Inc()
	metrics.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(result.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(result.CompletionTokens))

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", result.PromptTokens),
		attribute.Int("llm.completion_tokens", result.CompletionTokens),
	)
	return result, nil
}

// HealthCheck 验证 API 可达且密钥有效
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.api.Models.List(ctx); err != nil {
		return fmt.Errorf("llm models list failed: %w", classifyError(err))
	}
	return nil
}
