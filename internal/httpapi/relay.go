package httpapi

import (
	"sync/atomic"

	"github.com/ent0n29/voxbridge/internal/audio"
	"github.com/ent0n29/voxbridge/internal/playback"
	"github.com/ent0n29/voxbridge/internal/protocol"
)

// AudioRelay is a playback.Device that mirrors every flushed block to the
// browsers connected to a Hub.
type AudioRelay struct {
	hub    *Hub
	seq    atomic.Int64
	closed atomic.Bool
}

var _ playback.Device = (*AudioRelay)(nil)

func NewAudioRelay(hub *Hub) *AudioRelay {
	return &AudioRelay{hub: hub}
}

func (r *AudioRelay) Enqueue(samples []int16, sampleRate int) error {
	if r.closed.Load() || len(samples) == 0 || r.hub.ClientCount() == 0 {
		return nil
	}
	r.hub.Broadcast(protocol.PlaybackAudio{
		Type:        protocol.TypePlaybackAudio,
		Seq:         r.seq.Add(1),
		SampleRate:  sampleRate,
		PCM16Base64: audio.EncodeBase64PCM16(samples),
	})
	return nil
}

func (r *AudioRelay) Start() error { return nil }
func (r *AudioRelay) Stop() error  { return nil }

func (r *AudioRelay) Shutdown() error {
	r.closed.Store(true)
	return nil
}
