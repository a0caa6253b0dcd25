package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultSystemPrompt = "You are a hands-free voice assistant. The user speaks to you through a microphone " +
	"and hears your answers as speech. Keep answers short and conversational. " +
	"When the user is talking to someone else or nothing needs saying, reply with exactly NO_RESPONSE."

// Config contains all runtime settings for the voice bridge.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	UserID           string

	LLMProvider         string
	LLMFallbackProvider string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAIModel         string
	SystemPrompt        string
	MaxHistoryItems     int
	MaxToolIterations   int
	SilenceSentinels    []string

	STTProvider        string
	RealtimeURL        string
	TranscribeModel    string
	TranscribeLanguage string
	TranscribePrompt   string
	VADThreshold       float64
	VADPrefixPadding   time.Duration
	VADSilence         time.Duration

	TTSProvider     string
	TTSModel        string
	TTSVoice        string
	TTSFormat       string
	TTSInstructions string
	TTSTargetChars  int
	TTSMaxChars     int
	TTSMinChars     int

	AudioOutput      string
	AudioInput       string
	PlaybackPrefill  time.Duration
	PlaybackIdleStop time.Duration

	DetectTimeout         time.Duration
	TranscriptTimeout     time.Duration
	TargetRefreshInterval time.Duration
	TargetListCommand     string
	Targets               []string
	DispatchCommand       string

	DatabaseURL       string
	MemoryResumeTurns int
	MemoryRedactPII   bool

	SocksProxy string
}

// LoadDotEnv loads KEY=VALUE pairs from path without overriding variables that
// are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "voxbridge"),
		UserID:              envOrDefault("APP_USER_ID", "local"),
		LLMProvider:         strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		LLMFallbackProvider: strings.ToLower(stringsTrimSpace("LLM_FALLBACK_PROVIDER")),
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:       envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:         envOrDefault("OPENAI_MODEL", "gpt-4.1-mini"),
		SystemPrompt:        envOrDefault("SYSTEM_PROMPT", DefaultSystemPrompt),
		STTProvider:         strings.ToLower(envOrDefault("STT_PROVIDER", "auto")),
		RealtimeURL:         envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime?intent=transcription"),
		TranscribeModel:     envOrDefault("TRANSCRIBE_MODEL", "gpt-4o-transcribe"),
		TranscribeLanguage:  envOrDefault("TRANSCRIBE_LANGUAGE", "ja"),
		TranscribePrompt:    stringsTrimSpace("TRANSCRIBE_PROMPT"),
		TTSProvider:         strings.ToLower(envOrDefault("TTS_PROVIDER", "auto")),
		TTSModel:            envOrDefault("TTS_MODEL", "gpt-4o-mini-tts"),
		TTSVoice:            envOrDefault("TTS_VOICE", "alloy"),
		TTSFormat:           strings.ToLower(envOrDefault("TTS_FORMAT", "pcm")),
		TTSInstructions:     stringsTrimSpace("TTS_INSTRUCTIONS"),
		AudioOutput:         strings.ToLower(envOrDefault("AUDIO_OUTPUT", "portaudio")),
		AudioInput:          strings.ToLower(envOrDefault("AUDIO_INPUT", "portaudio")),
		TargetListCommand:   stringsTrimSpace("TARGET_LIST_COMMAND"),
		Targets:             listFromEnv("TARGETS", nil),
		DispatchCommand:     stringsTrimSpace("DISPATCH_COMMAND"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		SocksProxy:          stringsTrimSpace("SOCKS_PROXY"),
		SilenceSentinels: listFromEnv("SILENCE_SENTINELS",
			[]string{"NO_RESPONSE", "(silence)", "[silence]", "（無言）", "無言"}),
	}

	var err error
	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 10 * time.Second},
		{"VAD_PREFIX_PADDING", &cfg.VADPrefixPadding, 300 * time.Millisecond},
		{"VAD_SILENCE_DURATION", &cfg.VADSilence, 500 * time.Millisecond},
		{"PLAYBACK_PREFILL", &cfg.PlaybackPrefill, 100 * time.Millisecond},
		{"PLAYBACK_IDLE_STOP", &cfg.PlaybackIdleStop, 250 * time.Millisecond},
		{"DETECT_TIMEOUT", &cfg.DetectTimeout, 3 * time.Minute},
		{"TRANSCRIPT_TIMEOUT", &cfg.TranscriptTimeout, 5 * time.Minute},
		{"TARGET_REFRESH_INTERVAL", &cfg.TargetRefreshInterval, 5 * time.Second},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, d.fallback); err != nil {
			return Config{}, err
		}
		if *d.dst <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", d.key)
		}
	}

	ints := []struct {
		key      string
		dst      *int
		fallback int
	}{
		{"MAX_HISTORY_ITEMS", &cfg.MaxHistoryItems, 40},
		{"MAX_TOOL_ITERATIONS", &cfg.MaxToolIterations, 3},
		{"TTS_TARGET_CHARS", &cfg.TTSTargetChars, 60},
		{"TTS_MAX_CHARS", &cfg.TTSMaxChars, 120},
		{"TTS_MIN_CHARS", &cfg.TTSMinChars, 10},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, n.fallback); err != nil {
			return Config{}, err
		}
		if *n.dst <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", n.key)
		}
	}
	cfg.MemoryResumeTurns, err = intFromEnv("MEMORY_RESUME_TURNS", 0)
	if err != nil {
		return Config{}, err
	}
	if cfg.MemoryResumeTurns < 0 {
		return Config{}, fmt.Errorf("MEMORY_RESUME_TURNS must be >= 0")
	}

	cfg.VADThreshold, err = floatFromEnv("VAD_THRESHOLD", 0.5)
	if err != nil {
		return Config{}, err
	}
	if cfg.VADThreshold <= 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("VAD_THRESHOLD must be in (0, 1]")
	}

	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRedactPII, err = boolFromEnv("MEMORY_REDACT_PII", true)
	if err != nil {
		return Config{}, err
	}

	if cfg.TTSTargetChars > cfg.TTSMaxChars {
		return Config{}, fmt.Errorf("TTS_TARGET_CHARS must be <= TTS_MAX_CHARS")
	}
	if cfg.TTSMinChars >= cfg.TTSTargetChars {
		return Config{}, fmt.Errorf("TTS_MIN_CHARS must be < TTS_TARGET_CHARS")
	}

	enums := []struct {
		key     string
		value   string
		allowed []string
	}{
		{"LLM_PROVIDER", cfg.LLMProvider, []string{"auto", "responses", "chat", "mock"}},
		{"LLM_FALLBACK_PROVIDER", cfg.LLMFallbackProvider, []string{"", "none", "responses", "chat", "mock"}},
		{"STT_PROVIDER", cfg.STTProvider, []string{"auto", "openai", "mock"}},
		{"TTS_PROVIDER", cfg.TTSProvider, []string{"auto", "openai", "mock", "none"}},
		{"TTS_FORMAT", cfg.TTSFormat, []string{"pcm", "wav", "mp3"}},
		{"AUDIO_OUTPUT", cfg.AudioOutput, []string{"portaudio", "browser", "none"}},
		{"AUDIO_INPUT", cfg.AudioInput, []string{"portaudio", "browser"}},
	}
	for _, e := range enums {
		if !oneOf(e.value, e.allowed) {
			return Config{}, fmt.Errorf("%s must be one of %s, got %q", e.key, strings.Join(e.allowed, "|"), e.value)
		}
	}

	return cfg, nil
}

// RequiresAPIKey reports whether any selected provider must talk to the OpenAI API.
func (c Config) RequiresAPIKey() bool {
	return c.LLMProvider == "chat" || c.LLMProvider == "responses" ||
		c.LLMFallbackProvider == "chat" || c.LLMFallbackProvider == "responses" ||
		c.STTProvider == "openai" || c.TTSProvider == "openai"
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
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

// listFromEnv splits a comma-separated value, dropping empty entries.
func listFromEnv(key string, fallback []string) []string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
