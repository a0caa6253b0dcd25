package tts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voxbridge/internal/audio"
	"github.com/ent0n29/voxbridge/internal/observability"
)

var ErrQueueClosed = errors.New("tts queue closed")

// Player receives synthesized audio. playback.Engine satisfies it.
type Player interface {
	Enqueue(samples []int16, sourceRate int)
}

type QueueOptions struct {
	Segments SegmentOptions
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// Queue speaks assistant utterances one at a time. Segments of one utterance are
// synthesized and played in order, and utterances never interleave.
type Queue struct {
	synth   Synthesizer
	player  Player
	opts    SegmentOptions
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	pending []string
	busy    bool
	closed  bool
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueue(synth Synthesizer, player Player, opts QueueOptions) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		synth:   synth,
		player:  player,
		opts:    opts.Segments.withDefaults(),
		logger:  logger.With("component", "tts"),
		metrics: opts.Metrics,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue adds one assistant utterance behind whatever is being spoken.
func (q *Queue) Enqueue(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, text)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Speak adapts Enqueue to a sink callback.
func (q *Queue) Speak(text string) {
	if err := q.Enqueue(text); err != nil {
		q.logger.Debug("speech dropped", "err", err)
	}
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.busy {
		n++
	}
	return n
}

// Close discards queued utterances and any synthesis still in flight.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	<-q.done
	return nil
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		text, ok := q.next()
		if !ok {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		q.speak(q.ctx, text)
		q.mu.Lock()
		q.busy = false
		q.mu.Unlock()
	}
}

func (q *Queue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return "", false
	}
	text := q.pending[0]
	q.pending = q.pending[1:]
	q.busy = true
	return text, true
}

func (q *Queue) speak(ctx context.Context, text string) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("speech panicked", "panic", r)
		}
	}()

	start := time.Now()
	firstAudio := false
	forward := func(seg audio.Segment) {
		if ctx.Err() != nil || len(seg.Samples) == 0 {
			return
		}
		if !firstAudio {
			firstAudio = true
			q.metrics.ObserveFirstAudioLatency(time.Since(start))
		}
		q.player.Enqueue(seg.Samples, seg.SampleRate)
	}

	for i, segment := range SplitIntoSegments(Sanitize(text), q.opts) {
		if ctx.Err() != nil {
			return
		}
		synthStart := time.Now()
		rest, err := q.synth.Synthesize(ctx, segment, forward)
		q.metrics.ObserveStage("synthesis", time.Since(synthStart))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.metrics.ObserveTTSSegment("error")
			q.logger.Warn("synthesis failed, skipping rest of utterance", "err", err, "segment", i)
			return
		}
		for _, seg := range rest {
			forward(seg)
		}
		q.metrics.ObserveTTSSegment("ok")
	}
}
