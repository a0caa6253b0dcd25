package session

import "time"

// Mode is the process-wide capture/dispatch mode.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeDetect Mode = "detect"
	ModeActive Mode = "active"
)

// Ordinal is used for the mode gauge.
func (m Mode) Ordinal() int {
	switch m {
	case ModeDetect:
		return 1
	case ModeActive:
		return 2
	default:
		return 0
	}
}

// Target is one external dispatch sink, for example a terminal window.
type Target struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Transition describes one mode change. Reason is user visible.
type Transition struct {
	From   Mode      `json:"from"`
	To     Mode      `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

func (t Transition) Changed() bool { return t.From != t.To }

// Status is a point-in-time snapshot for the UI and the HTTP API.
type Status struct {
	Mode                  Mode     `json:"mode"`
	Targets               []Target `json:"targets"`
	Selected              *Target  `json:"selected,omitempty"`
	DetectRemainingMS     int64    `json:"detect_remaining_ms,omitempty"`
	TranscriptRemainingMS int64    `json:"transcript_remaining_ms,omitempty"`
	Utterances            int      `json:"utterances"`
	Dispatched            int      `json:"dispatched"`
	LastReason            string   `json:"last_reason,omitempty"`
}

// SelectRequest defines payload for choosing a dispatch target.
type SelectRequest struct {
	TargetID string `json:"target_id"`
}
