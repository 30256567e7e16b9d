package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lokutor-ai/dispatcher/pkg/backend"
	"github.com/lokutor-ai/dispatcher/pkg/config"
	"github.com/lokutor-ai/dispatcher/pkg/dispatch"
	"github.com/lokutor-ai/dispatcher/pkg/micsource"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()

	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	rawLogger := logrus.New()
	rawLogger.SetLevel(logLevel)
	logger := dispatch.NewLogrusLogger(rawLogger)

	if cfg.BackendURL == "" {
		log.Fatal("BACKEND_URL must be set")
	}

	var sttBackend dispatch.SpeechBackend
	switch cfg.BackendKind {
	case "ws":
		sttBackend = backend.NewWSBackend(cfg.BackendURL, cfg.BackendAPIKey)
	case "http":
		fallthrough
	default:
		b := backend.NewHTTPBackend(cfg.BackendURL, cfg.BackendAPIKey, cfg.Audio.SampleRateHz)
		b.Timeout = cfg.BackendPerCallTimeout
		sttBackend = b
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	if err := sttBackend.Initialize(initCtx); err != nil {
		cancelInit()
		log.Fatalf("speech backend initialization failed: %v", err)
	}
	cancelInit()

	engine := dispatch.NewEngine(logger)

	realtimeTrigger := cfg.TriggerChunks(cfg.Realtime.WindowSeconds)
	batchTrigger := cfg.TriggerChunks(cfg.Batch.WindowSeconds)

	realtime := dispatch.NewConsumer(dispatch.ConsumerConfig{
		Name:           "realtime",
		TriggerChunks:  realtimeTrigger,
		MaxWorkers:     cfg.Realtime.MaxWorkers,
		TaskQueueCap:   cfg.Realtime.QueueCapacity,
		BackendTimeout: cfg.BackendPerCallTimeout,
	}, sttBackend, nil, logger)

	batch := dispatch.NewConsumer(dispatch.ConsumerConfig{
		Name:           "batch",
		TriggerChunks:  batchTrigger,
		MaxWorkers:     cfg.Batch.MaxWorkers,
		TaskQueueCap:   cfg.Batch.QueueCapacity,
		BackendTimeout: cfg.BackendPerCallTimeout,
	}, sttBackend, nil, logger)

	engine.AddConsumer(realtime)
	engine.AddConsumer(batch)

	realtimeAgg := dispatch.NewAggregator("realtime", cfg.AggregatorPrintStepS, os.Stdout, logger)
	batchAgg := dispatch.NewAggregator("batch", cfg.AggregatorPrintStepS, os.Stdout, logger)
	engine.AddAggregator("realtime", realtimeAgg)
	engine.AddAggregator("batch", batchAgg)

	source := micsource.NewSource(cfg.Audio.SampleRateHz, cfg.Audio.Channels, cfg.Audio.FrameSamples, engine.PublishFrame)
	if err := source.Start(); err != nil {
		log.Fatalf("failed to start microphone source: %v", err)
	}

	logger.Info("dispatcher started",
		"sample_rate_hz", cfg.Audio.SampleRateHz,
		"realtime_trigger_chunks", realtimeTrigger,
		"batch_trigger_chunks", batchTrigger,
		"backend_kind", cfg.BackendKind)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	source.Stop()
	if ok := engine.Shutdown(10 * time.Second); !ok {
		logger.Warn("shutdown completed with unfinished work")
	}
}
