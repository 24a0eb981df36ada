package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the speech service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	// Engine selects the synthesizer backend: auto, mock or espeak.
	Engine string
	// Recognizer selects the recognizer backend: auto, mock, kaldi or none.
	Recognizer string

	// DefaultLocale is a BCP 47 tag; empty means the system locale.
	DefaultLocale  string
	PreferOffline  bool
	VoicePitch     float64
	VoiceRate      float64
	StrictLanguage bool
	SanitizeText   bool
	ListenPolicy   string

	StopTimeout      time.Duration
	InitTimeout      time.Duration
	HistoryRetention time.Duration

	EspeakBinary string

	KaldiWSURL      string
	KaldiSampleRate int

	MockVoicesFile string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "speechkit"),
		AllowAnyOrigin:   false,
		LogLevel:         strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("LOG_FORMAT", "text")),
		Engine:           strings.ToLower(envOrDefault("SPEECH_ENGINE", "auto")),
		Recognizer:       strings.ToLower(envOrDefault("SPEECH_RECOGNIZER", "auto")),
		DefaultLocale:    stringsTrimSpace("SPEECH_DEFAULT_LOCALE"),
		VoicePitch:       1.0,
		VoiceRate:        1.0,
		SanitizeText:     true,
		ListenPolicy:     strings.ToLower(envOrDefault("SPEECH_LISTEN_POLICY", "queue")),
		EspeakBinary:     envOrDefault("ESPEAK_BINARY", "espeak-ng"),
		KaldiWSURL:       stringsTrimSpace("KALDI_WS_URL"),
		KaldiSampleRate:  16000,
		MockVoicesFile:   stringsTrimSpace("MOCK_VOICES_FILE"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:  15 * time.Second,
		StopTimeout:      2 * time.Second,
		InitTimeout:      10 * time.Second,
		HistoryRetention: 10 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StopTimeout, err = durationFromEnv("SPEECH_STOP_TIMEOUT", cfg.StopTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.InitTimeout, err = durationFromEnv("SPEECH_INIT_TIMEOUT", cfg.InitTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryRetention, err = durationFromEnv("SPEECH_HISTORY_RETENTION", cfg.HistoryRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.PreferOffline, err = boolFromEnv("SPEECH_PREFER_OFFLINE", cfg.PreferOffline)
	if err != nil {
		return Config{}, err
	}
	cfg.StrictLanguage, err = boolFromEnv("SPEECH_STRICT_LANGUAGE", cfg.StrictLanguage)
	if err != nil {
		return Config{}, err
	}
	cfg.SanitizeText, err = boolFromEnv("SPEECH_SANITIZE_TEXT", cfg.SanitizeText)
	if err != nil {
		return Config{}, err
	}
	cfg.VoicePitch, err = floatFromEnv("SPEECH_VOICE_PITCH", cfg.VoicePitch)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceRate, err = floatFromEnv("SPEECH_VOICE_RATE", cfg.VoiceRate)
	if err != nil {
		return Config{}, err
	}
	cfg.KaldiSampleRate, err = intFromEnv("KALDI_SAMPLE_RATE", cfg.KaldiSampleRate)
	if err != nil {
		return Config{}, err
	}

	switch cfg.Engine {
	case "auto", "mock", "espeak":
	default:
		return Config{}, fmt.Errorf("SPEECH_ENGINE must be one of auto, mock, espeak")
	}
	switch cfg.Recognizer {
	case "auto", "mock", "kaldi", "none":
	default:
		return Config{}, fmt.Errorf("SPEECH_RECOGNIZER must be one of auto, mock, kaldi, none")
	}
	if cfg.Recognizer == "kaldi" && cfg.KaldiWSURL == "" {
		return Config{}, fmt.Errorf("KALDI_WS_URL is required when SPEECH_RECOGNIZER=kaldi")
	}
	switch cfg.ListenPolicy {
	case "queue", "flush":
	default:
		return Config{}, fmt.Errorf("SPEECH_LISTEN_POLICY must be queue or flush")
	}
	switch cfg.LogFormat {
	case "text", "json", "otel":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be one of text, json, otel")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	if cfg.VoicePitch <= 0 || cfg.VoicePitch > 4 {
		return Config{}, fmt.Errorf("SPEECH_VOICE_PITCH must be in (0, 4]")
	}
	if cfg.VoiceRate <= 0 || cfg.VoiceRate > 4 {
		return Config{}, fmt.Errorf("SPEECH_VOICE_RATE must be in (0, 4]")
	}
	if cfg.StopTimeout < 50*time.Millisecond {
		return Config{}, fmt.Errorf("SPEECH_STOP_TIMEOUT must be at least 50ms")
	}
	if cfg.InitTimeout <= 0 {
		return Config{}, fmt.Errorf("SPEECH_INIT_TIMEOUT must be positive")
	}
	if cfg.HistoryRetention < time.Second {
		return Config{}, fmt.Errorf("SPEECH_HISTORY_RETENTION must be at least 1s")
	}
	if cfg.KaldiSampleRate <= 0 {
		return Config{}, fmt.Errorf("KALDI_SAMPLE_RATE must be positive")
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
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
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

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
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
