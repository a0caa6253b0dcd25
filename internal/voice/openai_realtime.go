package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voxbridge/internal/audio"
	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/reliability"
	"github.com/ent0n29/voxbridge/internal/transcript"
)

const (
	defaultRealtimeURL  = "wss://api.openai.com/v1/realtime?intent=transcription"
	defaultDialAttempts = 3
	writeTimeout        = 5 * time.Second
)

type RealtimeConfig struct {
	APIKey   string
	URL      string
	Model    string
	Language string
	Prompt   string

	VADThreshold     float64
	VADPrefixPadding time.Duration
	VADSilence       time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer       *websocket.Dialer
	DialAttempts int
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// RealtimeProvider opens transcription sessions on an OpenAI-style realtime socket.
type RealtimeProvider struct {
	cfg     RealtimeConfig
	backoff time.Duration
}

func NewRealtimeProvider(cfg RealtimeConfig) *RealtimeProvider {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = defaultRealtimeURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-transcribe"
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = defaultDialAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RealtimeProvider{cfg: cfg, backoff: 500 * time.Millisecond}
}

// StartSession dials the socket, retrying transient failures, and sends the
// session configuration before any audio.
func (p *RealtimeProvider) StartSession(ctx context.Context) (STTSession, <-chan STTEvent, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	s := &realtimeSession{
		conn:    conn,
		events:  make(chan STTEvent, 256),
		deltas:  make(map[string]string),
		logger:  p.cfg.Logger.With("component", "stt"),
		metrics: p.cfg.Metrics,
		done:    make(chan struct{}),
	}
	if err := s.writeJSON(p.sessionUpdate()); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("configure transcription session: %w", err)
	}
	go s.readLoop()
	return s, s.events, nil
}

func (p *RealtimeProvider) dial(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	var lastErr error
	for attempt := 0; attempt < p.cfg.DialAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, p.backoff, 4*time.Second)):
			}
		}
		conn, res, err := p.cfg.Dialer.DialContext(ctx, p.cfg.URL, headers)
		if err == nil {
			return conn, nil
		}
		status := 0
		if res != nil {
			status = res.StatusCode
			res.Body.Close()
		}
		code := "transport"
		if status > 0 {
			code = strconv.Itoa(status)
		}
		p.cfg.Metrics.ObserveProviderError("stt", code)
		lastErr = fmt.Errorf("dial transcription socket: %w", err)
		if status > 0 && !reliability.IsRetryableHTTPStatus(status) {
			break
		}
		p.cfg.Logger.Warn("transcription socket dial failed", "attempt", attempt+1, "status", status, "err", err)
	}
	return nil, lastErr
}

func (p *RealtimeProvider) sessionUpdate() map[string]any {
	transcription := map[string]any{"model": p.cfg.Model}
	if lang := strings.TrimSpace(p.cfg.Language); lang != "" {
		transcription["language"] = lang
	}
	if prompt := strings.TrimSpace(p.cfg.Prompt); prompt != "" {
		transcription["prompt"] = prompt
	}
	vad := map[string]any{"type": "server_vad"}
	if p.cfg.VADThreshold > 0 {
		vad["threshold"] = p.cfg.VADThreshold
	}
	if p.cfg.VADPrefixPadding > 0 {
		vad["prefix_padding_ms"] = p.cfg.VADPrefixPadding.Milliseconds()
	}
	if p.cfg.VADSilence > 0 {
		vad["silence_duration_ms"] = p.cfg.VADSilence.Milliseconds()
	}
	return map[string]any{
		"type": "transcription_session.update",
		"session": map[string]any{
			"input_audio_format":        "pcm16",
			"input_audio_transcription": transcription,
			"turn_detection":            vad,
		},
	}
}

type realtimeSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan STTEvent
	// deltas holds the running text per transcription item. Only readLoop touches it.
	deltas  map[string]string
	logger  *slog.Logger
	metrics *observability.Metrics
	done    chan struct{}
}

var errSessionClosed = errors.New("transcription session closed")

func (s *realtimeSession) SendAudio(_ context.Context, samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	return s.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": audio.EncodeBase64PCM16(samples),
	})
}

func (s *realtimeSession) writeJSON(payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(payload)
}

// Close ends the connection. readLoop then closes the event channel.
func (s *realtimeSession) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *realtimeSession) readLoop() {
	defer close(s.events)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("transcription read loop panicked", "panic", r)
		}
		_ = s.Close()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn("transcription socket closed", "err", err)
			}
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			s.logger.Debug("ignoring non-json transcription message", "err", err)
			continue
		}
		msgType := asString(raw["type"])
		s.metrics.ObserveWSMessage("stt_in", msgType)
		if evt, ok := s.decode(msgType, raw); ok {
			evt.Timestamp = time.Now().UnixMilli()
			select {
			case s.events <- evt:
			case <-s.done:
				return
			}
		}
	}
}

// decode maps one envelope to an event. Unknown types fall through to the
// generic extractor, so new provider events degrade to plain transcript text.
func (s *realtimeSession) decode(msgType string, raw map[string]any) (STTEvent, bool) {
	switch {
	case msgType == "error":
		errObj, _ := raw["error"].(map[string]any)
		errType, code := asString(errObj["type"]), asString(errObj["code"])
		if code == "" {
			code = errType
		}
		s.metrics.ObserveProviderError("stt", code)
		return STTEvent{
			Type:      STTEventError,
			Code:      code,
			Detail:    asString(errObj["message"]),
			Retryable: reliability.IsRetryableRealtimeError(errType, code),
		}, true
	case strings.HasSuffix(msgType, ".failed"):
		errObj, _ := raw["error"].(map[string]any)
		delete(s.deltas, asString(raw["item_id"]))
		s.metrics.ObserveProviderError("stt", "transcription_failed")
		return STTEvent{
			Type:      STTEventError,
			Stage:     msgType,
			Code:      "transcription_failed",
			Detail:    asString(errObj["message"]),
			Retryable: true,
		}, true
	case strings.HasPrefix(msgType, "transcription_session."),
		strings.HasPrefix(msgType, "session."),
		strings.HasPrefix(msgType, "input_audio_buffer."),
		msgType == "conversation.item.created":
		return STTEvent{}, false
	}

	itemID := asString(raw["item_id"])
	if delta, ok := raw["delta"].(string); ok && itemID != "" {
		running := s.deltas[itemID] + delta
		s.deltas[itemID] = running
		return STTEvent{Type: STTEventTranscript, Stage: msgType, ItemID: itemID, Text: running}, true
	}

	text := transcript.Extract(raw)
	if transcript.ClassifyStage(msgType) == transcript.StageFinal {
		if text == "" {
			text = s.deltas[itemID]
		}
		delete(s.deltas, itemID)
	}
	return STTEvent{Type: STTEventTranscript, Stage: msgType, ItemID: itemID, Text: text}, true
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
