package playback

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ent0n29/voxbridge/internal/observability"
)

// State is reported to listeners whenever the output device starts or stops.
type State string

const (
	StateStart State = "start"
	StateStop  State = "stop"
)

const (
	DefaultSampleRate   = 24000
	DefaultBlockSamples = 960
	DefaultPrefill      = 100 * time.Millisecond
	DefaultIdleStop     = 250 * time.Millisecond
	minBlockPeriod      = 10 * time.Millisecond
)

// Device is a platform sound output.
type Device interface {
	Enqueue(samples []int16, sampleRate int) error
	Start() error
	Stop() error
	Shutdown() error
}

type Config struct {
	SampleRate   int
	BlockSamples int
	// Prefill is the amount of audio buffered before playback starts. Negative disables it.
	Prefill            time.Duration
	IdleStop           time.Duration
	NormalizeThreshold int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.BlockSamples <= 0 {
		c.BlockSamples = DefaultBlockSamples
	}
	if c.Prefill == 0 {
		c.Prefill = DefaultPrefill
	}
	if c.IdleStop <= 0 {
		c.IdleStop = DefaultIdleStop
	}
	if c.NormalizeThreshold <= 0 {
		c.NormalizeThreshold = DefaultNormalizeThreshold
	}
	return c
}

// Engine accumulates variable-sized audio segments and feeds fixed-size blocks
// to a Device on a steady clock. Device errors are logged, never returned.
type Engine struct {
	cfg     Config
	dev     Device
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu        sync.Mutex
	queue     [][]int16
	offset    int
	buffered  int
	playing   bool
	paused    bool
	closed    bool
	idleSince time.Time
	prefill   *time.Timer
	tickStop  chan struct{}
	tickDone  chan struct{}
	listeners []func(State)

	devMu sync.Mutex
}

func New(dev Device, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if dev == nil {
		dev = NopDevice{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg.withDefaults(),
		dev:     dev,
		logger:  logger.With("component", "playback"),
		metrics: metrics,
		now:     time.Now,
	}
}

// OnStateChange registers a listener for start/stop notifications.
// Listeners run outside the engine lock and must not block.
func (e *Engine) OnStateChange(fn func(State)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Enqueue resamples and normalizes samples, buffers them, and starts playback
// once the prefill threshold is met. It is a no-op after Shutdown.
func (e *Engine) Enqueue(samples []int16, sourceRate int) {
	if len(samples) == 0 {
		return
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}

	seg := Normalize(Resample(samples, sourceRate, e.cfg.SampleRate), e.cfg.NormalizeThreshold)
	if len(seg) == 0 {
		return
	}
	if &seg[0] == &samples[0] {
		seg = append([]int16(nil), seg...)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, seg)
	e.buffered += len(seg)
	e.idleSince = time.Time{}

	start := false
	if !e.playing && !e.paused {
		need := e.prefillSamples()
		if need <= 0 || e.buffered >= need {
			start = true
		} else if e.prefill == nil {
			e.prefill = time.AfterFunc(e.cfg.Prefill, e.onPrefillElapsed)
		}
	}
	e.mu.Unlock()

	if start {
		e.startPlayback()
	}
}

// BufferedSampleCount reports queued samples not yet pushed to the device.
func (e *Engine) BufferedSampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffered
}

func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Pause stops the device and the flush clock while keeping buffered audio.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.closed || e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = true
	e.cancelPrefillLocked()
	e.mu.Unlock()
	e.stopPlayback("pause")
}

// Resume restarts playback immediately when audio is buffered.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.closed || !e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = false
	pending := e.buffered > 0
	e.mu.Unlock()
	if pending {
		e.startPlayback()
	}
}

// Shutdown drops buffered audio, stops timers, and releases the device.
// It is idempotent; the engine stays inert afterwards.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.queue = nil
	e.offset = 0
	e.buffered = 0
	e.cancelPrefillLocked()
	wasPlaying := e.playing
	e.playing = false
	stop, done := e.tickStop, e.tickDone
	e.tickStop, e.tickDone = nil, nil
	e.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	e.devMu.Lock()
	if wasPlaying {
		if err := e.dev.Stop(); err != nil {
			e.logger.Warn("device stop failed", "err", err)
		}
	}
	if err := e.dev.Shutdown(); err != nil {
		e.logger.Warn("device shutdown failed", "err", err)
	}
	e.devMu.Unlock()

	if wasPlaying {
		e.notify(StateStop)
	}
}

func (e *Engine) onPrefillElapsed() {
	e.mu.Lock()
	e.prefill = nil
	ready := !e.closed && !e.paused && e.buffered > 0
	e.mu.Unlock()
	if ready {
		e.startPlayback()
	}
}

func (e *Engine) startPlayback() {
	e.mu.Lock()
	if e.playing || e.closed || e.paused {
		e.mu.Unlock()
		return
	}
	e.playing = true
	e.cancelPrefillLocked()
	e.idleSince = time.Time{}
	stop, done := make(chan struct{}), make(chan struct{})
	e.tickStop, e.tickDone = stop, done
	e.mu.Unlock()

	e.devMu.Lock()
	if err := e.dev.Start(); err != nil {
		e.logger.Warn("device start failed", "err", err)
	}
	e.devMu.Unlock()

	go e.runClock(stop, done)
	e.notify(StateStart)
}

func (e *Engine) stopPlayback(reason string) {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = false
	stop := e.tickStop
	e.tickStop, e.tickDone = nil, nil
	e.mu.Unlock()

	// The clock goroutine may be the caller, so do not wait for it here.
	if stop != nil {
		close(stop)
	}
	e.devMu.Lock()
	if err := e.dev.Stop(); err != nil {
		e.logger.Warn("device stop failed", "err", err, "reason", reason)
	}
	e.devMu.Unlock()

	e.logger.Debug("playback stopped", "reason", reason)
	e.notify(StateStop)
}

func (e *Engine) runClock(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.blockPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			e.flushTick()
		}
	}
}

func (e *Engine) flushTick() {
	block, kind, idle := e.nextBlock(e.now())
	if idle {
		e.stopPlayback("idle")
		return
	}
	if block == nil {
		return
	}
	e.devMu.Lock()
	err := e.dev.Enqueue(block, e.cfg.SampleRate)
	e.devMu.Unlock()
	if err != nil {
		e.logger.Warn("device write failed", "err", err)
	}
	e.metrics.ObservePlaybackBlock(kind, e.BufferedSampleCount())
}

// nextBlock pulls one block from the queue. An empty queue yields silence until
// the idle timeout elapses, after which idle is reported.
func (e *Engine) nextBlock(now time.Time) (block []int16, kind string, idle bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing || e.closed {
		return nil, "", false
	}
	if e.buffered == 0 {
		if e.idleSince.IsZero() {
			e.idleSince = now
		}
		if now.Sub(e.idleSince) >= e.cfg.IdleStop {
			return nil, "", true
		}
		return make([]int16, e.cfg.BlockSamples), "silence", false
	}
	e.idleSince = time.Time{}
	return e.pullLocked(e.cfg.BlockSamples), "audio", false
}

// pullLocked copies up to n samples across segment boundaries, zero-padding the tail.
func (e *Engine) pullLocked(n int) []int16 {
	block := make([]int16, n)
	filled := 0
	for filled < n && len(e.queue) > 0 {
		head := e.queue[0]
		copied := copy(block[filled:], head[e.offset:])
		filled += copied
		e.offset += copied
		e.buffered -= copied
		if e.offset >= len(head) {
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.offset = 0
		}
	}
	return block
}

func (e *Engine) notify(state State) {
	e.mu.Lock()
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()
	e.metrics.ObservePlaybackState(string(state))
	for _, fn := range listeners {
		fn(state)
	}
}

func (e *Engine) cancelPrefillLocked() {
	if e.prefill != nil {
		e.prefill.Stop()
		e.prefill = nil
	}
}

func (e *Engine) prefillSamples() int {
	if e.cfg.Prefill <= 0 {
		return 0
	}
	return int(int64(e.cfg.Prefill) * int64(e.cfg.SampleRate) / int64(time.Second))
}

func (e *Engine) blockPeriod() time.Duration {
	d := time.Duration(e.cfg.BlockSamples) * time.Second / time.Duration(e.cfg.SampleRate)
	if d < minBlockPeriod {
		return minBlockPeriod
	}
	return d
}
