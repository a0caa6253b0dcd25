package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voxbridge/internal/config"
	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/tts"
	"github.com/ent0n29/voxbridge/internal/voice"
)

type voiceSetup struct {
	stt       voice.STTProvider
	sttName   string
	synth     tts.Synthesizer
	synthName string
}

// resolveVoiceProviders picks the transcription and synthesis backends. "auto"
// means OpenAI when a key is configured and the local mocks otherwise.
func resolveVoiceProviders(cfg config.Config, noTTS bool, httpClient *http.Client, wsDialer *websocket.Dialer,
	logger *slog.Logger, metrics *observability.Metrics) (voiceSetup, error) {
	var setup voiceSetup
	hasKey := cfg.OpenAIAPIKey != ""

	switch cfg.STTProvider {
	case "openai", "auto":
		if !hasKey {
			if cfg.STTProvider == "openai" {
				return voiceSetup{}, fmt.Errorf("STT_PROVIDER=openai but OPENAI_API_KEY is not set")
			}
			setup.stt, setup.sttName = voice.NewMockProvider(), "mock"
			break
		}
		setup.stt = voice.NewRealtimeProvider(voice.RealtimeConfig{
			APIKey:           cfg.OpenAIAPIKey,
			URL:              cfg.RealtimeURL,
			Model:            cfg.TranscribeModel,
			Language:         cfg.TranscribeLanguage,
			Prompt:           cfg.TranscribePrompt,
			VADThreshold:     cfg.VADThreshold,
			VADPrefixPadding: cfg.VADPrefixPadding,
			VADSilence:       cfg.VADSilence,
			Dialer:           wsDialer,
			Logger:           logger,
			Metrics:          metrics,
		})
		setup.sttName = "openai realtime"
	case "mock":
		setup.stt, setup.sttName = voice.NewMockProvider(), "mock"
	default:
		return voiceSetup{}, fmt.Errorf("invalid STT_PROVIDER: %q (expected auto|openai|mock)", cfg.STTProvider)
	}

	provider := cfg.TTSProvider
	if noTTS {
		provider = "none"
	}
	switch provider {
	case "none":
		setup.synthName = "disabled"
	case "openai", "auto":
		if !hasKey {
			if provider == "openai" {
				return voiceSetup{}, fmt.Errorf("TTS_PROVIDER=openai but OPENAI_API_KEY is not set")
			}
			setup.synth, setup.synthName = tts.NewMockSynthesizer(), "mock"
			break
		}
		setup.synth = tts.NewOpenAISynthesizer(tts.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.TTSModel,
			Voice:        cfg.TTSVoice,
			Format:       cfg.TTSFormat,
			Instructions: cfg.TTSInstructions,
			HTTPClient:   httpClient,
			Metrics:      metrics,
		})
		setup.synthName = "openai " + cfg.TTSModel
	case "mock":
		setup.synth, setup.synthName = tts.NewMockSynthesizer(), "mock"
	default:
		return voiceSetup{}, fmt.Errorf("invalid TTS_PROVIDER: %q (expected auto|openai|mock|none)", cfg.TTSProvider)
	}
	return setup, nil
}
