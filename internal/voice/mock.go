package voice

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ent0n29/voxbridge/internal/audio"
)

const (
	mockVoicedRMS      = 0.02
	mockSilenceFrames  = 12
	mockPartialEvery   = 5
	mockCompletedText  = "simulated voice input"
	mockDeltaStage     = "conversation.item.input_audio_transcription.delta"
	mockCompletedStage = "conversation.item.input_audio_transcription.completed"
)

// MockProvider is a local stand-in for the transcription service. It treats
// loud frames as speech and emits a canned utterance after a pause.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartSession(context.Context) (STTSession, <-chan STTEvent, error) {
	events := make(chan STTEvent, 64)
	return &mockSTTSession{events: events}, events, nil
}

type mockSTTSession struct {
	mu      sync.Mutex
	events  chan STTEvent
	closed  bool
	voiced  int
	silence int
	items   int
}

func (s *mockSTTSession) SendAudio(_ context.Context, samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}

	itemID := "mock_item_" + strconv.Itoa(s.items)
	if audio.RMS(samples) >= mockVoicedRMS {
		s.voiced++
		s.silence = 0
		if s.voiced%mockPartialEvery == 1 {
			s.emit(STTEvent{Type: STTEventTranscript, Stage: mockDeltaStage, ItemID: itemID, Text: "..."})
		}
		return nil
	}
	if s.voiced == 0 {
		return nil
	}
	s.silence++
	if s.silence >= mockSilenceFrames {
		s.emit(STTEvent{Type: STTEventTranscript, Stage: mockCompletedStage, ItemID: itemID, Text: mockCompletedText})
		s.voiced, s.silence = 0, 0
		s.items++
	}
	return nil
}

// emit drops events when the consumer falls behind.
func (s *mockSTTSession) emit(evt STTEvent) {
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case s.events <- evt:
	default:
	}
}

func (s *mockSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
