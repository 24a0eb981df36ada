package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.Engine != "auto" || cfg.Recognizer != "auto" {
		t.Fatalf("Engine/Recognizer = %q/%q, want auto/auto", cfg.Engine, cfg.Recognizer)
	}
	if cfg.ListenPolicy != "queue" {
		t.Fatalf("ListenPolicy = %q, want %q", cfg.ListenPolicy, "queue")
	}
	if cfg.StopTimeout != 2*time.Second {
		t.Fatalf("StopTimeout = %s, want 2s", cfg.StopTimeout)
	}
	if cfg.InitTimeout != 10*time.Second {
		t.Fatalf("InitTimeout = %s, want 10s", cfg.InitTimeout)
	}
	if cfg.VoicePitch != 1.0 {
		t.Fatalf("VoicePitch = %v, want 1.0", cfg.VoicePitch)
	}
	if !cfg.SanitizeText {
		t.Fatalf("SanitizeText = false, want true by default")
	}
	if cfg.DefaultLocale != "" {
		t.Fatalf("DefaultLocale = %q, want empty default", cfg.DefaultLocale)
	}
}

func TestLoadReadsExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("SPEECH_ENGINE", "ESPEAK")
	t.Setenv("SPEECH_RECOGNIZER", "kaldi")
	t.Setenv("KALDI_WS_URL", "ws://localhost:2700")
	t.Setenv("SPEECH_VOICE_PITCH", " 1.2 ")
	t.Setenv("SPEECH_PREFER_OFFLINE", "yes")
	t.Setenv("SPEECH_LISTEN_POLICY", "flush")
	t.Setenv("SPEECH_STOP_TIMEOUT", "750ms")
	t.Setenv("SPEECH_DEFAULT_LOCALE", "de-DE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine != "espeak" {
		t.Fatalf("Engine = %q, want espeak", cfg.Engine)
	}
	if cfg.KaldiWSURL != "ws://localhost:2700" {
		t.Fatalf("KaldiWSURL = %q, want explicit value", cfg.KaldiWSURL)
	}
	if cfg.VoicePitch != 1.2 {
		t.Fatalf("VoicePitch = %v, want 1.2", cfg.VoicePitch)
	}
	if !cfg.PreferOffline {
		t.Fatalf("PreferOffline = false, want true")
	}
	if cfg.ListenPolicy != "flush" {
		t.Fatalf("ListenPolicy = %q, want flush", cfg.ListenPolicy)
	}
	if cfg.StopTimeout != 750*time.Millisecond {
		t.Fatalf("StopTimeout = %s, want 750ms", cfg.StopTimeout)
	}
	if cfg.DefaultLocale != "de-DE" {
		t.Fatalf("DefaultLocale = %q, want de-DE", cfg.DefaultLocale)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{name: "engine", key: "SPEECH_ENGINE", val: "festival"},
		{name: "recognizer", key: "SPEECH_RECOGNIZER", val: "whisper"},
		{name: "kaldi without url", key: "SPEECH_RECOGNIZER", val: "kaldi"},
		{name: "listen policy", key: "SPEECH_LISTEN_POLICY", val: "drop"},
		{name: "pitch zero", key: "SPEECH_VOICE_PITCH", val: "0"},
		{name: "pitch too high", key: "SPEECH_VOICE_PITCH", val: "4.5"},
		{name: "pitch parse", key: "SPEECH_VOICE_PITCH", val: "high"},
		{name: "stop timeout", key: "SPEECH_STOP_TIMEOUT", val: "10ms"},
		{name: "bool parse", key: "SPEECH_STRICT_LANGUAGE", val: "maybe"},
		{name: "log format", key: "LOG_FORMAT", val: "xml"},
		{name: "sample rate", key: "KALDI_SAMPLE_RATE", val: "-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want error for %s=%q", tc.key, tc.val)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"SPEECH_ENGINE",
		"SPEECH_RECOGNIZER",
		"SPEECH_DEFAULT_LOCALE",
		"SPEECH_PREFER_OFFLINE",
		"SPEECH_VOICE_PITCH",
		"SPEECH_VOICE_RATE",
		"SPEECH_STRICT_LANGUAGE",
		"SPEECH_SANITIZE_TEXT",
		"SPEECH_LISTEN_POLICY",
		"SPEECH_STOP_TIMEOUT",
		"SPEECH_INIT_TIMEOUT",
		"SPEECH_HISTORY_RETENTION",
		"ESPEAK_BINARY",
		"KALDI_WS_URL",
		"KALDI_SAMPLE_RATE",
		"MOCK_VOICES_FILE",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
