package voice

import "context"

type STTEventType string

const (
	// STTEventTranscript carries transcript text plus the provider's stage hint.
	STTEventTranscript STTEventType = "transcript"
	STTEventError      STTEventType = "error"
)

// STTEvent is one inbound transcription socket message after decoding. Stage is
// the provider event type, left for transcript.ClassifyStage to interpret.
type STTEvent struct {
	Type      STTEventType
	Stage     string
	Text      string
	ItemID    string
	Code      string
	Detail    string
	Retryable bool
	Timestamp int64
}

// STTSession streams 24 kHz mono PCM16 frames to a transcription service. The
// event channel paired with it is closed when the connection ends.
type STTSession interface {
	SendAudio(ctx context.Context, samples []int16) error
	Close() error
}

type STTProvider interface {
	StartSession(ctx context.Context) (STTSession, <-chan STTEvent, error)
}
