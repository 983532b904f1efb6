package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultInstructions = "You are Dr. Sarah, an enthusiastic podcast host with deep expertise in " +
	"technology and science. Keep answers conversational, curious, and concise, " +
	"and ask one follow-up question when it moves the discussion forward."

// Config contains all runtime settings for the studio bridge service.
type Config struct {
	BindAddr                 string
	MetricsNamespace         string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	JanitorInterval          time.Duration
	ReadyTimeout             time.Duration
	CommitSettleDelay        time.Duration
	KeepAliveInterval        time.Duration

	OpenAIAPIKey         string
	RealtimeURL          string
	RealtimeModel        string
	Voice                string
	TranscriptionModel   string
	Temperature          float64
	VADThreshold         float64
	VADPrefixPaddingMS   int
	VADSilenceDurationMS int

	Instructions string
	DatabaseURL  string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "podcaststudio"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		JanitorInterval:          5 * time.Second,
		ReadyTimeout:             10 * time.Second,
		CommitSettleDelay:        500 * time.Millisecond,
		KeepAliveInterval:        15 * time.Second,
		OpenAIAPIKey:             stringsTrimSpace("OPENAI_API_KEY"),
		RealtimeURL:              envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:            envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		Voice:                    envOrDefault("OPENAI_VOICE", "alloy"),
		TranscriptionModel:       envOrDefault("OPENAI_TRANSCRIPTION_MODEL", "whisper-1"),
		Temperature:              0.8,
		VADThreshold:             0.5,
		VADPrefixPaddingMS:       300,
		VADSilenceDurationMS:     500,
		Instructions:             envOrDefault("STUDIO_INSTRUCTIONS", defaultInstructions),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("APP_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ReadyTimeout, err = durationFromEnv("APP_READY_TIMEOUT", cfg.ReadyTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CommitSettleDelay, err = durationFromEnv("APP_COMMIT_SETTLE_DELAY", cfg.CommitSettleDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepAliveInterval, err = durationFromEnv("APP_STREAM_KEEPALIVE_INTERVAL", cfg.KeepAliveInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature, err = floatFromEnv("OPENAI_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = floatFromEnv("OPENAI_VAD_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADPrefixPaddingMS, err = intFromEnv("OPENAI_VAD_PREFIX_PADDING_MS", cfg.VADPrefixPaddingMS)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilenceDurationMS, err = intFromEnv("OPENAI_VAD_SILENCE_DURATION_MS", cfg.VADSilenceDurationMS)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ReadyTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_READY_TIMEOUT must be positive")
	}
	if cfg.CommitSettleDelay < 0 {
		return Config{}, fmt.Errorf("APP_COMMIT_SETTLE_DELAY must be >= 0")
	}
	if cfg.KeepAliveInterval < time.Second {
		return Config{}, fmt.Errorf("APP_STREAM_KEEPALIVE_INTERVAL must be at least 1s")
	}
	if cfg.VADThreshold <= 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("OPENAI_VAD_THRESHOLD must be in (0, 1]")
	}
	if cfg.VADPrefixPaddingMS < 0 {
		return Config{}, fmt.Errorf("OPENAI_VAD_PREFIX_PADDING_MS must be >= 0")
	}
	if cfg.VADSilenceDurationMS <= 0 {
		return Config{}, fmt.Errorf("OPENAI_VAD_SILENCE_DURATION_MS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
