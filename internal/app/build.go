package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voxbridge/internal/audio"
	"github.com/ent0n29/voxbridge/internal/audio/device"
	"github.com/ent0n29/voxbridge/internal/brain"
	"github.com/ent0n29/voxbridge/internal/config"
	"github.com/ent0n29/voxbridge/internal/conversation"
	"github.com/ent0n29/voxbridge/internal/dispatch"
	"github.com/ent0n29/voxbridge/internal/httpapi"
	"github.com/ent0n29/voxbridge/internal/memory"
	"github.com/ent0n29/voxbridge/internal/netproxy"
	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/playback"
	"github.com/ent0n29/voxbridge/internal/protocol"
	"github.com/ent0n29/voxbridge/internal/session"
	"github.com/ent0n29/voxbridge/internal/tools"
	"github.com/ent0n29/voxbridge/internal/tts"
	"github.com/ent0n29/voxbridge/internal/voice"
)

const restTimeout = 60 * time.Second

// Options carry command-line switches that are not part of the environment.
type Options struct {
	NoTTS       bool
	DebugMic    bool
	MicDumpPath string
	Logger      *slog.Logger
	// Metrics replaces the instruments registered under cfg.MetricsNamespace.
	Metrics *observability.Metrics
}

type VoiceInfo struct {
	STT     string
	TTS     string
	Backend string
	Input   string
	Output  string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Hub          *httpapi.Hub
	Orchestrator *voice.Orchestrator
	Engine       *playback.Engine
	Loop         *conversation.Loop
	Metrics      *observability.Metrics
	Voice        VoiceInfo

	logger    *slog.Logger
	mic       *device.Mic
	stt       voice.STTSession
	queue     *tts.Queue
	worker    *dispatch.Worker
	micDump   *audio.WAVWriter
	store     memory.Store
	recorder  *memory.Recorder
	runMu     sync.Mutex
	runCancel context.CancelFunc
	started   bool
	shutdown  sync.Once
	shutErr   error
}

// Build wires every component. On error, whatever was already opened is released.
func Build(ctx context.Context, cfg config.Config, opts Options) (_ *BuildResult, retErr error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}
	b := &BuildResult{Config: cfg, Metrics: metrics, logger: logger}
	defer func() {
		if retErr != nil {
			if err := b.Shutdown(context.Background()); err != nil {
				logger.Warn("cleanup after failed build", "err", err)
			}
		}
	}()

	httpClient, err := netproxy.HTTPClient(cfg.SocksProxy, restTimeout)
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}
	wsDialer, err := netproxy.WebsocketDialer(cfg.SocksProxy)
	if err != nil {
		return nil, fmt.Errorf("websocket dialer: %w", err)
	}

	b.store, err = memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	b.recorder = memory.NewRecorder(b.store, cfg.UserID, cfg.MemoryRedactPII)

	voiceSetup, err := resolveVoiceProviders(cfg, opts.NoTTS, httpClient, wsDialer, logger, metrics)
	if err != nil {
		return nil, err
	}
	backend, err := brain.NewBackend(brain.Config{
		Provider:         cfg.LLMProvider,
		FallbackProvider: cfg.LLMFallbackProvider,
		APIKey:           cfg.OpenAIAPIKey,
		BaseURL:          cfg.OpenAIBaseURL,
		Model:            cfg.OpenAIModel,
		HTTPClient:       httpClient,
		Metrics:          metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("language model backend: %w", err)
	}

	b.Hub = httpapi.NewHub(logger, metrics)
	outputs, err := b.openOutputs(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	b.Engine = playback.New(outputs, playback.Config{
		Prefill:  cfg.PlaybackPrefill,
		IdleStop: cfg.PlaybackIdleStop,
	}, logger, metrics)

	var speak func(string)
	if voiceSetup.synth != nil {
		b.queue = tts.NewQueue(voiceSetup.synth, b.Engine, tts.QueueOptions{
			Segments: tts.SegmentOptions{
				TargetChars: cfg.TTSTargetChars,
				MaxChars:    cfg.TTSMaxChars,
				MinChars:    cfg.TTSMinChars,
			},
			Logger:  logger,
			Metrics: metrics,
		})
		speak = b.queue.Speak
	}

	conv := conversation.NewConversation(cfg.SystemPrompt, cfg.MaxHistoryItems)
	if cfg.MemoryResumeTurns > 0 {
		history, err := memory.Resume(ctx, b.store, cfg.UserID, cfg.MemoryResumeTurns)
		if err != nil {
			logger.Warn("history resume failed", "err", err)
		} else if len(history) > 0 {
			conv.Append(history...)
			logger.Info("history resumed", "items", len(history))
		}
	}

	registry := tools.NewRegistry(logger)
	b.Loop = conversation.NewLoop(backend, conv, conversation.LoopConfig{
		MaxToolIterations: cfg.MaxToolIterations,
		Silence:           conversation.NewSilenceFilter(cfg.SilenceSentinels),
	}, conversation.LoopOptions{
		Router: registry,
		Sinks: conversation.Sinks{
			Speak: speak,
			Broadcast: func(text string) {
				b.Hub.Broadcast(protocol.AssistantText{Type: protocol.TypeAssistantText, Text: text})
			},
		},
		TurnLog: b.recorder,
		Logger:  logger,
		Metrics: metrics,
	})

	var sink dispatch.Sink = dispatch.LogSink{Logger: logger.With("component", "dispatch")}
	if cfg.DispatchCommand != "" {
		sink = dispatch.NewCommandSink(cfg.DispatchCommand)
	}
	b.worker = dispatch.NewWorker(sink, logger, metrics)

	var lister dispatch.Lister = dispatch.StaticLister{Targets: dispatch.ParseStatic(cfg.Targets)}
	if cfg.TargetListCommand != "" {
		lister = dispatch.NewCommandLister(cfg.TargetListCommand)
	}

	var micFrames <-chan []int16
	browserInput := cfg.AudioInput == "browser"
	if !browserInput {
		b.mic, err = device.OpenMic(audio.SampleRate, playback.DefaultBlockSamples, logger, metrics)
		if err != nil {
			return nil, err
		}
		micFrames = b.mic.Frames()
	}

	var micDump voice.FrameWriter
	if opts.MicDumpPath != "" {
		b.micDump, err = audio.CreateWAV(opts.MicDumpPath, audio.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("debug mic wav: %w", err)
		}
		micDump = b.micDump
	}

	sttSession, events, err := voiceSetup.stt.StartSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("transcription session: %w", err)
	}
	b.stt = sttSession

	b.Orchestrator = voice.NewOrchestrator(voice.Options{
		Machine: session.NewMachine(session.Config{
			DetectTimeout:     cfg.DetectTimeout,
			TranscriptTimeout: cfg.TranscriptTimeout,
		}),
		STT:           sttSession,
		Events:        events,
		Turns:         b.Loop,
		Dispatcher:    b.worker,
		Targets:       lister,
		TargetRefresh: cfg.TargetRefreshInterval,
		Mic:           micFrames,
		BrowserInput:  browserInput,
		Broadcast:     b.Hub,
		DebugMic:      opts.DebugMic,
		MicDump:       micDump,
		Logger:        logger,
		Metrics:       metrics,
	})
	b.Engine.OnStateChange(b.Orchestrator.OnPlaybackState)

	if err := tools.RegisterBuiltins(registry, tools.BuiltinDeps{
		Status: b.Orchestrator,
		Sender: b.Orchestrator,
	}); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	b.API = httpapi.New(cfg, b.Orchestrator, b.Engine, b.Hub, metrics, logger)
	b.Voice = VoiceInfo{
		STT:     voiceSetup.sttName,
		TTS:     voiceSetup.synthName,
		Backend: backendName(cfg),
		Input:   cfg.AudioInput,
		Output:  cfg.AudioOutput,
	}
	return b, nil
}

func (b *BuildResult) openOutputs(cfg config.Config, logger *slog.Logger, metrics *observability.Metrics) (playback.Device, error) {
	relay := httpapi.NewAudioRelay(b.Hub)
	switch cfg.AudioOutput {
	case "none":
		return playback.NopDevice{}, nil
	case "browser":
		return relay, nil
	default:
		speaker, err := device.OpenSpeaker(playback.DefaultSampleRate, playback.DefaultBlockSamples, logger, metrics)
		if err != nil {
			return nil, err
		}
		return playback.MultiDevice{speaker, relay}, nil
	}
}

func backendName(cfg config.Config) string {
	name := cfg.LLMProvider
	if name == "auto" {
		name = "mock"
		if cfg.OpenAIAPIKey != "" {
			name = "chat"
		}
	}
	if cfg.LLMFallbackProvider != "" && cfg.LLMFallbackProvider != "none" {
		name += " (fallback " + cfg.LLMFallbackProvider + ")"
	}
	return name
}

// Run starts microphone capture and blocks in the orchestrator event loop until
// ctx ends, Shutdown is called, or the transcription socket is lost.
func (b *BuildResult) Run(ctx context.Context) error {
	b.runMu.Lock()
	if b.started {
		b.runMu.Unlock()
		return errors.New("already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.runCancel = cancel
	b.started = true
	b.runMu.Unlock()
	defer cancel()

	if b.mic != nil {
		if err := b.mic.Start(); err != nil {
			return err
		}
	}
	b.logger.Info("voice bridge running",
		"stt", b.Voice.STT, "tts", b.Voice.TTS, "backend", b.Voice.Backend,
		"input", b.Voice.Input, "output", b.Voice.Output)
	return b.Orchestrator.Run(runCtx)
}

type shutdownStep struct {
	name string
	fn   func(ctx context.Context) error
}

// Shutdown releases everything in dependency order. Every step runs even when
// an earlier one fails; failures are joined with "; ". It is safe to call twice.
func (b *BuildResult) Shutdown(ctx context.Context) error {
	b.shutdown.Do(func() {
		var errs []string
		for _, step := range b.shutdownSteps() {
			if err := runStep(ctx, step); err != nil {
				b.logger.Warn("shutdown step failed", "step", step.name, "err", err)
				errs = append(errs, step.name+": "+err.Error())
			}
		}
		if len(errs) > 0 {
			b.shutErr = fmt.Errorf("%s", strings.Join(errs, "; "))
		}
	})
	return b.shutErr
}

func runStep(ctx context.Context, step shutdownStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step.fn(ctx)
}

func (b *BuildResult) shutdownSteps() []shutdownStep {
	return []shutdownStep{
		{"mic", func(context.Context) error {
			if b.mic == nil {
				return nil
			}
			return b.mic.Stop()
		}},
		{"transcription", func(context.Context) error {
			if b.Orchestrator != nil {
				b.Orchestrator.BeginShutdown()
			}
			if b.stt == nil {
				return nil
			}
			return b.stt.Close()
		}},
		{"conversation", func(context.Context) error {
			if b.Loop == nil {
				return nil
			}
			return b.Loop.Close()
		}},
		{"tts", func(context.Context) error {
			if b.queue == nil {
				return nil
			}
			return b.queue.Close()
		}},
		{"dispatch", func(context.Context) error {
			if b.worker == nil {
				return nil
			}
			return b.worker.Close()
		}},
		{"orchestrator", b.stopOrchestrator},
		{"playback", func(context.Context) error {
			if b.Engine != nil {
				b.Engine.Shutdown()
			}
			if b.micDump == nil {
				return nil
			}
			return b.micDump.Close()
		}},
		{"store", func(context.Context) error {
			if b.store == nil {
				return nil
			}
			return b.store.Close()
		}},
	}
}

func (b *BuildResult) stopOrchestrator(ctx context.Context) error {
	b.runMu.Lock()
	started, cancel := b.started, b.runCancel
	b.runMu.Unlock()
	if !started {
		return nil
	}
	cancel()
	select {
	case <-b.Orchestrator.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event loop did not stop: %w", ctx.Err())
	}
}
