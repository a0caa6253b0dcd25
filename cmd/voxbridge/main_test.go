package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ent0n29/voxbridge/internal/voice"
)

func TestRunExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"clean shutdown", nil, 0},
		{"transcription lost", voice.ErrTranscriptionClosed, 0},
		{"wrapped transcription lost", fmt.Errorf("run: %w", voice.ErrTranscriptionClosed), 0},
		{"mic failed to start", errors.New("start input stream: device unavailable"), 1},
	}
	for _, tt := range tests {
		if got := runExitCode(tt.err); got != tt.want {
			t.Fatalf("%s: runExitCode(%v) = %d, want %d", tt.name, tt.err, got, tt.want)
		}
	}
}
