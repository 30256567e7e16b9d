// Package config loads the dispatcher's settings from the environment (and
// an optional .env file), the same way cmd/agent/main.go in the teacher
// repo reads STT_PROVIDER/OPENAI_API_KEY/etc via github.com/joho/godotenv.
package config

import (
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AudioConfig describes the capture format.
type AudioConfig struct {
	SampleRateHz int
	Channels     int
	FrameSamples int
}

// ConsumerSettings describes one windowing policy's sizing.
type ConsumerSettings struct {
	WindowSeconds float64
	MaxWorkers    int
	QueueCapacity int
}

// Config is the full set of settings the core recognizes (spec §6),
// expanded with the backend transport selection this repo adds.
type Config struct {
	Audio AudioConfig

	Realtime ConsumerSettings
	Batch    ConsumerSettings

	AggregatorPrintStepS float64

	BackendKind           string // "http" or "ws"
	BackendURL            string
	BackendAPIKey         string
	BackendPerCallTimeout time.Duration

	LogLevel string
}

// TriggerChunks computes trigger_chunks for a window, per spec §6:
// round(sample_rate_hz / frame_samples * window_seconds).
func (c Config) TriggerChunks(windowSeconds float64) int {
	if c.Audio.FrameSamples == 0 {
		return 0
	}
	framesPerSecond := float64(c.Audio.SampleRateHz) / float64(c.Audio.FrameSamples)
	return int(math.Round(framesPerSecond * windowSeconds))
}

// Load reads configuration from the environment, loading a .env file first
// if present (errors from a missing .env are ignored, as in
// cmd/agent/main.go).
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Audio: AudioConfig{
			SampleRateHz: envInt("AUDIO_SAMPLE_RATE_HZ", 16000),
			Channels:     envInt("AUDIO_CHANNELS", 1),
			FrameSamples: envInt("AUDIO_FRAME_SAMPLES", 1024),
		},
		Realtime: ConsumerSettings{
			WindowSeconds: envFloat("REALTIME_WINDOW_SECONDS", 2),
			MaxWorkers:    envInt("REALTIME_MAX_WORKERS", 4),
			QueueCapacity: envInt("REALTIME_QUEUE_CAPACITY", 0),
		},
		Batch: ConsumerSettings{
			WindowSeconds: envFloat("BATCH_WINDOW_SECONDS", 10),
			MaxWorkers:    envInt("BATCH_MAX_WORKERS", 4),
			QueueCapacity: envInt("BATCH_QUEUE_CAPACITY", 0),
		},
		AggregatorPrintStepS:  envFloat("AGGREGATOR_PRINT_STEP_S", 5),
		BackendKind:           envStr("BACKEND_KIND", "http"),
		BackendURL:            envStr("BACKEND_URL", ""),
		BackendAPIKey:         envStr("BACKEND_API_KEY", ""),
		BackendPerCallTimeout: time.Duration(envFloat("BACKEND_PER_CALL_TIMEOUT_S", 2) * float64(time.Second)),
		LogLevel:              envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
