package config

import (
	"os"
	"path/filepath"
	"strings"
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
	if cfg.DetectTimeout != 3*time.Minute || cfg.TranscriptTimeout != 5*time.Minute {
		t.Fatalf("timeouts = %v/%v, want 3m/5m", cfg.DetectTimeout, cfg.TranscriptTimeout)
	}
	if cfg.TranscribeLanguage != "ja" {
		t.Fatalf("TranscribeLanguage = %q, want %q", cfg.TranscribeLanguage, "ja")
	}
	if cfg.MaxHistoryItems != 40 || cfg.MaxToolIterations != 3 {
		t.Fatalf("history/tool limits = %d/%d, want 40/3", cfg.MaxHistoryItems, cfg.MaxToolIterations)
	}
	if len(cfg.SilenceSentinels) != 5 || cfg.SilenceSentinels[0] != "NO_RESPONSE" {
		t.Fatalf("SilenceSentinels = %v", cfg.SilenceSentinels)
	}
	if !cfg.MemoryRedactPII {
		t.Fatalf("MemoryRedactPII = false, want true")
	}
	if cfg.RequiresAPIKey() {
		t.Fatalf("RequiresAPIKey() = true for auto providers")
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("DETECT_TIMEOUT", "30s")
	t.Setenv("VAD_THRESHOLD", "0.7")
	t.Setenv("TARGETS", " w1=Shell , ,w2=Editor")
	t.Setenv("LLM_PROVIDER", "Responses")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.DetectTimeout != 30*time.Second || cfg.VADThreshold != 0.7 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Targets) != 2 || cfg.Targets[1] != "w2=Editor" {
		t.Fatalf("Targets = %v", cfg.Targets)
	}
	if cfg.LLMProvider != "responses" || !cfg.RequiresAPIKey() {
		t.Fatalf("LLMProvider = %q, RequiresAPIKey = %v", cfg.LLMProvider, cfg.RequiresAPIKey())
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"bad duration", "DETECT_TIMEOUT", "soon", "DETECT_TIMEOUT parse error"},
		{"zero duration", "TRANSCRIPT_TIMEOUT", "0s", "TRANSCRIPT_TIMEOUT must be positive"},
		{"negative count", "MAX_HISTORY_ITEMS", "-1", "MAX_HISTORY_ITEMS must be positive"},
		{"target above max", "TTS_TARGET_CHARS", "500", "TTS_TARGET_CHARS must be <= TTS_MAX_CHARS"},
		{"min above target", "TTS_MIN_CHARS", "60", "TTS_MIN_CHARS must be < TTS_TARGET_CHARS"},
		{"unknown provider", "STT_PROVIDER", "whisper", "STT_PROVIDER must be one of"},
		{"bad bool", "MEMORY_REDACT_PII", "maybe", "MEMORY_REDACT_PII parse error"},
		{"threshold range", "VAD_THRESHOLD", "2", "VAD_THRESHOLD must be in"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TRANSCRIBE_LANGUAGE=en\nAPP_BIND_ADDR=:7000\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("APP_BIND_ADDR", ":6000")
	// Registered so the variable loaded from the file is cleared after the test.
	t.Setenv("TRANSCRIBE_LANGUAGE", "")
	os.Unsetenv("TRANSCRIBE_LANGUAGE")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TranscribeLanguage != "en" {
		t.Fatalf("TranscribeLanguage = %q, want %q", cfg.TranscribeLanguage, "en")
	}
	if cfg.BindAddr != ":6000" {
		t.Fatalf("BindAddr = %q, want existing env to win", cfg.BindAddr)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v, want nil", err)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR", "APP_SHUTDOWN_TIMEOUT", "APP_METRICS_NAMESPACE", "APP_ALLOW_ANY_ORIGIN", "APP_USER_ID",
		"LLM_PROVIDER", "LLM_FALLBACK_PROVIDER", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
		"SYSTEM_PROMPT", "MAX_HISTORY_ITEMS", "MAX_TOOL_ITERATIONS", "SILENCE_SENTINELS",
		"STT_PROVIDER", "OPENAI_REALTIME_URL", "TRANSCRIBE_MODEL", "TRANSCRIBE_LANGUAGE", "TRANSCRIBE_PROMPT",
		"VAD_THRESHOLD", "VAD_PREFIX_PADDING", "VAD_SILENCE_DURATION",
		"TTS_PROVIDER", "TTS_MODEL", "TTS_VOICE", "TTS_FORMAT", "TTS_INSTRUCTIONS",
		"TTS_TARGET_CHARS", "TTS_MAX_CHARS", "TTS_MIN_CHARS",
		"AUDIO_OUTPUT", "AUDIO_INPUT", "PLAYBACK_PREFILL", "PLAYBACK_IDLE_STOP",
		"DETECT_TIMEOUT", "TRANSCRIPT_TIMEOUT", "TARGET_REFRESH_INTERVAL", "TARGET_LIST_COMMAND", "TARGETS",
		"DISPATCH_COMMAND", "DATABASE_URL", "MEMORY_RESUME_TURNS", "MEMORY_REDACT_PII", "SOCKS_PROXY",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
