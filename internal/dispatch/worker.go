package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/session"
)

var ErrWorkerClosed = errors.New("dispatch worker closed")

const defaultSendTimeout = 15 * time.Second

type job struct {
	target session.Target
	text   string
	done   chan error
}

// Worker sends utterances to their targets one at a time, off the caller's
// goroutine. Order of submission is preserved.
type Worker struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	pending []job
	closed  bool
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(sink Sink, logger *slog.Logger, metrics *observability.Metrics) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		sink:    sink,
		timeout: defaultSendTimeout,
		logger:  logger.With("component", "dispatch"),
		metrics: metrics,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit queues text for target. The returned channel receives the send result
// once; callers that do not care may ignore it.
func (w *Worker) Submit(target session.Target, text string) (<-chan error, error) {
	done := make(chan error, 1)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrWorkerClosed
	}
	w.pending = append(w.pending, job{target: target, text: text, done: done})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return done, nil
}

// Close drops queued sends and cancels the one in flight.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	dropped := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, j := range dropped {
		j.done <- ErrWorkerClosed
	}
	w.cancel()
	<-w.done
	return nil
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		j, ok := w.next()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case <-w.wake:
				continue
			}
		}
		j.done <- w.send(j)
	}
}

func (w *Worker) next() (job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || len(w.pending) == 0 {
		return job{}, false
	}
	j := w.pending[0]
	w.pending = w.pending[1:]
	return j, true
}

func (w *Worker) send(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("dispatch panicked", "panic", r)
			err = errors.New("dispatch panicked")
			w.metrics.ObserveDispatch("error")
		}
	}()

	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()

	start := time.Now()
	err = w.sink.Send(ctx, j.target, j.text)
	w.metrics.ObserveStage("dispatch", time.Since(start))
	if err != nil {
		if w.ctx.Err() != nil {
			return err
		}
		w.metrics.ObserveDispatch("error")
		w.logger.Warn("dispatch failed", "target", j.target.ID, "err", err)
		return err
	}
	w.metrics.ObserveDispatch("ok")
	w.logger.Debug("dispatched", "target", j.target.ID, "chars", len(j.text))
	return nil
}
