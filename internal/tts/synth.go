package tts

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/voxbridge/internal/audio"
)

// Synthesizer turns one segment of text into audio. Implementations may report
// audio incrementally through onSegment; whatever they report there must not be
// repeated in the returned slice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, onSegment func(audio.Segment)) ([]audio.Segment, error)
}

const mockSampleRate = 16000

// MockSynthesizer produces a short tone per segment, sized by the text length.
// It runs at 16 kHz so the playback resampler is exercised.
type MockSynthesizer struct {
	PerRune time.Duration
	MaxLen  time.Duration
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{PerRune: 30 * time.Millisecond, MaxLen: 2 * time.Second}
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string, onSegment func(audio.Segment)) ([]audio.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := time.Duration(utf8.RuneCountInString(text)) * m.PerRune
	if d > m.MaxLen {
		d = m.MaxLen
	}
	if d <= 0 {
		return nil, nil
	}
	seg := audio.Segment{
		Samples:    audio.SineTone(440, mockSampleRate, d, 0.2),
		SampleRate: mockSampleRate,
	}
	if onSegment != nil {
		onSegment(seg)
		return nil, nil
	}
	return []audio.Segment{seg}, nil
}
