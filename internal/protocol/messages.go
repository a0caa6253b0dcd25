package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/voxbridge/internal/session"
)

// MessageType identifies browser websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk  MessageType = "client_audio_chunk"
	TypeClientControl     MessageType = "client_control"
	TypeTranscriptPartial MessageType = "transcript_partial"
	TypeTranscriptFinal   MessageType = "transcript_final"
	TypeAssistantText     MessageType = "assistant_text"
	TypeModeStatus        MessageType = "mode_status"
	TypePlaybackAudio     MessageType = "playback_audio"
	TypePlaybackState     MessageType = "playback_state"
	TypeDispatchEvent     MessageType = "dispatch_event"
	TypeErrorEvent        MessageType = "error_event"
)

// Control actions accepted from the browser.
const (
	ActionAdvance        = "advance"
	ActionSelectTarget   = "select_target"
	ActionPausePlayback  = "pause_playback"
	ActionResumePlayback = "resume_playback"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries browser microphone audio as base64 PCM16 mono.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type     MessageType `json:"type"`
	Action   string      `json:"action"`
	TargetID string      `json:"target_id,omitempty"`
}

type TranscriptPartial struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type TranscriptFinal struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
	TSMs int64       `json:"ts_ms"`
}

type AssistantText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// ModeStatus is sent on every mode transition and on each countdown tick.
type ModeStatus struct {
	Type   MessageType    `json:"type"`
	Status session.Status `json:"status"`
	Reason string         `json:"reason,omitempty"`
}

// PlaybackAudio mirrors one flushed playback block to the browser.
type PlaybackAudio struct {
	Type        MessageType `json:"type"`
	Seq         int64       `json:"seq"`
	SampleRate  int         `json:"sample_rate"`
	PCM16Base64 string      `json:"pcm16_base64"`
}

type PlaybackState struct {
	Type  MessageType `json:"type"`
	State string      `json:"state"`
}

type DispatchEvent struct {
	Type     MessageType `json:"type"`
	TargetID string      `json:"target_id"`
	Text     string      `json:"text"`
	OK       bool        `json:"ok"`
	Detail   string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.TrimSpace(msg.Action)
		msg.TargetID = strings.TrimSpace(msg.TargetID)
		switch msg.Action {
		case ActionAdvance, ActionPausePlayback, ActionResumePlayback:
		case ActionSelectTarget:
			if msg.TargetID == "" {
				return nil, errors.New("invalid client_control: select_target needs target_id")
			}
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
