package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voxbridge/internal/audio"
	"github.com/ent0n29/voxbridge/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
	wsReadLimit    = 2 << 20
)

// handleWS relays server events to one browser and routes its microphone
// chunks and control actions to the orchestrator.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := s.hub.register()
	s.hub.sendTo(c, protocol.ModeStatus{Type: protocol.TypeModeStatus, Status: s.ctrl.Status(time.Now())})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, c)
		cancel()
		// Unblocks ReadMessage when the writer gives up first.
		_ = conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.hub.sendTo(c, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			})
			continue
		}
		s.metrics.ObserveWSMessage("inbound", string(messageTypeOf(parsed)))
		s.handleClientMessage(ctx, c, parsed)
	}

	cancel()
	s.hub.unregister(c)
	<-writerDone
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("browser write failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) handleClientMessage(ctx context.Context, c *client, msg any) {
	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		samples, err := audio.DecodeBase64PCM16(m.PCM16Base64)
		if err != nil {
			s.sendClientError(c, "invalid_audio", err)
			return
		}
		s.ctrl.PushBrowserAudio(samples, m.SampleRate)
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionAdvance:
			if _, err := s.ctrl.Advance(ctx); err != nil {
				s.sendClientError(c, "advance_failed", err)
			}
		case protocol.ActionSelectTarget:
			if _, err := s.ctrl.Select(ctx, m.TargetID); err != nil {
				s.sendClientError(c, "select_failed", err)
			}
		case protocol.ActionPausePlayback:
			if s.playback != nil {
				s.playback.Pause()
			}
		case protocol.ActionResumePlayback:
			if s.playback != nil {
				s.playback.Resume()
			}
		}
	}
}

func (s *Server) sendClientError(c *client, code string, err error) {
	s.hub.sendTo(c, protocol.ErrorEvent{
		Type:   protocol.TypeErrorEvent,
		Code:   code,
		Source: "gateway",
		Detail: err.Error(),
	})
}
