package httpapi

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/protocol"
)

const clientBacklog = 256

// Hub fans server events out to every connected browser. Each client has its
// own bounded queue; a slow client loses messages instead of stalling others.
type Hub struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	send chan []byte
	// closed guards send; it is only touched under Hub.mu.
	closed bool
}

func NewHub(logger *slog.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "hub"),
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
}

// Broadcast implements voice.Broadcaster.
func (h *Hub) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode broadcast", "err", err)
		return
	}
	msgType := string(messageTypeOf(msg))

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.enqueue(c, data, msgType)
	}
}

// ClientCount reports connected browsers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register() *client {
	c := &client{send: make(chan []byte, clientBacklog)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.BrowserClients.Set(float64(n))
	}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.closed = true
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.BrowserClients.Set(float64(n))
	}
}

// sendTo queues a message for one client only.
func (h *Hub) sendTo(c *client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode client message", "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.enqueue(c, data, string(messageTypeOf(msg)))
}

// enqueue must run under h.mu.
func (h *Hub) enqueue(c *client, data []byte, msgType string) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
		h.metrics.ObserveWSMessage("outbound", msgType)
	default:
		h.metrics.ObserveWSMessage("outbound_dropped", msgType)
	}
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.TranscriptPartial:
		return m.Type
	case protocol.TranscriptFinal:
		return m.Type
	case protocol.AssistantText:
		return m.Type
	case protocol.ModeStatus:
		return m.Type
	case protocol.PlaybackAudio:
		return m.Type
	case protocol.PlaybackState:
		return m.Type
	case protocol.DispatchEvent:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	case protocol.ClientAudioChunk:
		return m.Type
	case protocol.ClientControl:
		return m.Type
	default:
		return "unknown"
	}
}
