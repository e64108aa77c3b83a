// Package main 小说生成执行器入口（novel-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"novel-forge-api/internal/application/generation"
	"novel-forge-api/internal/config"
	"novel-forge-api/internal/domain/entity"
	"novel-forge-api/internal/infrastructure/llm"
	"novel-forge-api/internal/infrastructure/messaging"
	"novel-forge-api/internal/infrastructure/persistence/postgres"
	"novel-forge-api/internal/infrastructure/persistence/redis"
	"novel-forge-api/pkg/logger"
	"novel-forge-api/pkg/tracer"

	"github.com/joho/godotenv"
)

// dlqAlertThreshold 死信队列堆积告警阈值
const dlqAlertThreshold = 100

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "novel-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal(ctx, "failed to init postgres", err)
	}
	defer func() { _ = pgClient.Close() }()

	if err := pgClient.AutoMigrate(&entity.NovelJob{}); err != nil {
		logger.Fatal(ctx, "failed to migrate database", err)
	}

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", err)
	}
	defer func() { _ = redisClient.Close() }()

	jobRepo := postgres.NewJobRepository(pgClient)
	llmClient := llm.NewClient(&cfg.LLM)
	producer := messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
	events := messaging.NewEventPublisher(producer)

	engine := generation.NewEngine(
		jobRepo,
		llmClient,
		events,
		generation.OptionsFromConfig(&cfg.Generation, &cfg.LLM),
	)

	consumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamNovelJobs,
		Group:         messaging.ConsumerGroupNovelWorker,
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  cfg.Messaging.RedisStream.BlockTimeout,
		ClaimInterval: cfg.Messaging.RedisStream.ClaimInterval,
		RetryLimit:    cfg.Messaging.RedisStream.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    cfg.Messaging.RedisStream.RetryBackoff.Initial,
			Max:        cfg.Messaging.RedisStream.RetryBackoff.Max,
			Multiplier: cfg.Messaging.RedisStream.RetryBackoff.Multiplier,
		},
	})

	consumer.RegisterHandler(messaging.MsgTypeNovelGenerate, func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.GeneratePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return engine.Run(ctx, payload.JobID)
	})

	consumer.RegisterHandler(messaging.MsgTypeNovelResume, func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.ResumePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return engine.Resume(ctx, payload.JobID, payload.StartChapter)
	})

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	go consumer.MonitorDLQ(monitorCtx, dlqAlertThreshold)

	log := logger.FromContext(ctx)
	log.Info("novel-worker started", "consumer", hostnameConsumerName())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("novel-worker shutting down")
	cancelMonitor()
	consumer.Stop()
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
