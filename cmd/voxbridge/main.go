package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"

	"github.com/ent0n29/voxbridge/internal/app"
	"github.com/ent0n29/voxbridge/internal/config"
	"github.com/ent0n29/voxbridge/internal/voice"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	os.Exit(run())
}

func run() int {
	envFile := pflag.StringP("env", "e", ".env", "env file path")
	logLevel := pflag.StringP("log", "l", "info", "log level (debug|info|warn|error)")
	noTTS := pflag.Bool("no-tts", false, "disable speech synthesis")
	debugMic := pflag.Bool("debug-mic", false, "log per-frame microphone levels")
	micWAV := pflag.String("debug-mic-wav", "", "write forwarded microphone audio to this WAV file")
	addr := pflag.String("addr", "", "HTTP listen address (overrides APP_BIND_ADDR)")
	pflag.Parse()

	level, ok := logLevels[strings.ToLower(*logLevel)]
	if !ok {
		level = slog.LevelInfo
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly}))
	slog.SetDefault(logger)

	if err := config.LoadDotEnv(*envFile); err != nil {
		logger.Error("env file", "path", *envFile, "err", err)
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Error("config error", "err", err)
		return 1
	}
	if *addr != "" {
		cfg.BindAddr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, app.Options{
		NoTTS:       *noTTS,
		DebugMic:    *debugMic,
		MicDumpPath: *micWAV,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("startup failed", "err", err)
		return 1
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- built.Run(ctx) }()

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-runErr:
		if code = runExitCode(err); code != 0 {
			logger.Error("voice bridge failed", "err", err)
		} else if err != nil {
			logger.Warn("transcription connection lost", "err", err)
		}
	case err := <-listenErr:
		logger.Error("listen error", "err", err)
		code = 1
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful http shutdown failed", "err", err)
		_ = httpServer.Close()
	}
	if err := built.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown finished with errors", "err", err)
	}
	logger.Info("shutdown complete")
	return code
}

// runExitCode maps the event loop result to a process exit code. Losing the
// transcription connection after startup is a normal exit; anything else, such
// as a microphone that fails to start, is fatal.
func runExitCode(err error) int {
	if err == nil || errors.Is(err, voice.ErrTranscriptionClosed) {
		return 0
	}
	return 1
}
