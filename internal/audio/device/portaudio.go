// Package device binds the capture and playback pipeline to PortAudio.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/playback"
)

const (
	DefaultSampleRate   = 24000
	DefaultFrameSamples = 960
	speakerBacklog      = 32
	micBacklog          = 16
)

var ErrClosed = errors.New("audio device closed")

// Mic captures mono int16 frames from the default input device.
// PortAudio initialization is reference counted, so every Mic and Speaker
// pairs its own Initialize with a Terminate on close.
type Mic struct {
	rate    int
	buf     []int16
	stream  *portaudio.Stream
	frames  chan []int16
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	started bool
	stopped bool
	quit    chan struct{}
	done    chan struct{}
}

func OpenMic(sampleRate, frameSamples int, logger *slog.Logger, metrics *observability.Metrics) (*Mic, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	buf := make([]int16, frameSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	return &Mic{
		rate:    sampleRate,
		buf:     buf,
		stream:  stream,
		frames:  make(chan []int16, micBacklog),
		logger:  logger.With("component", "mic"),
		metrics: metrics,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Frames yields captured frames. The channel closes after Stop.
func (m *Mic) Frames() <-chan []int16 { return m.frames }

func (m *Mic) SampleRate() int { return m.rate }

func (m *Mic) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrClosed
	}
	if m.started {
		return nil
	}
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("start microphone: %w", err)
	}
	m.started = true
	go m.readLoop()
	return nil
}

func (m *Mic) readLoop() {
	defer close(m.done)
	defer close(m.frames)
	for {
		select {
		case <-m.quit:
			return
		default:
		}
		if err := m.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				m.metrics.ObserveMicFrame("local", "overflow")
				continue
			}
			select {
			case <-m.quit:
			default:
				m.logger.Error("microphone read failed", "err", err)
			}
			return
		}
		frame := make([]int16, len(m.buf))
		copy(frame, m.buf)
		select {
		case m.frames <- frame:
		default:
			m.metrics.ObserveMicFrame("local", "dropped")
		}
	}
}

// Stop ends capture and releases the device. It is safe to call more than once.
func (m *Mic) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	started := m.started
	m.mu.Unlock()

	close(m.quit)
	var errs []error
	if started {
		if err := m.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop microphone: %w", err))
		}
		<-m.done
	} else {
		close(m.frames)
	}
	if err := m.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close microphone: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("terminate portaudio: %w", err))
	}
	return errors.Join(errs...)
}

// Speaker plays fixed-size blocks on the default output device. Enqueue never
// blocks the playback clock; a writer goroutine drains a short backlog.
type Speaker struct {
	rate    int
	buf     []int16
	stream  *portaudio.Stream
	blocks  chan []int16
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	running bool
	closed  bool
	quit    chan struct{}
	done    chan struct{}
}

var _ playback.Device = (*Speaker)(nil)

func OpenSpeaker(sampleRate, blockSamples int, logger *slog.Logger, metrics *observability.Metrics) (*Speaker, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if blockSamples <= 0 {
		blockSamples = DefaultFrameSamples
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	buf := make([]int16, blockSamples)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open speaker: %w", err)
	}
	s := &Speaker{
		rate:    sampleRate,
		buf:     buf,
		stream:  stream,
		blocks:  make(chan []int16, speakerBacklog),
		logger:  logger.With("component", "speaker"),
		metrics: metrics,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

func (s *Speaker) Enqueue(samples []int16, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	if sampleRate != s.rate {
		samples = playback.Resample(samples, sampleRate, s.rate)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	for _, block := range splitBlocks(samples, len(s.buf)) {
		select {
		case s.blocks <- block:
		default:
			s.metrics.ObservePlaybackBlock("overrun", len(s.blocks))
			return fmt.Errorf("speaker backlog full")
		}
	}
	return nil
}

func (s *Speaker) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("start speaker: %w", err)
	}
	s.running = true
	return nil
}

func (s *Speaker) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Speaker) stopLocked() error {
	if !s.running {
		return nil
	}
	s.running = false
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("stop speaker: %w", err)
	}
	return nil
}

func (s *Speaker) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.quit)
	s.mu.Unlock()
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	errs := []error{s.stopLocked()}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close speaker: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("terminate portaudio: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Speaker) writeLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case block := <-s.blocks:
			s.write(block)
		}
	}
}

// write drops the block while the stream is stopped.
func (s *Speaker) write(block []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	copy(s.buf, block)
	if err := s.stream.Write(); err != nil {
		if errors.Is(err, portaudio.OutputUnderflowed) {
			s.metrics.ObservePlaybackBlock("underflow", 0)
			return
		}
		s.logger.Warn("speaker write failed", "err", err)
	}
}

// splitBlocks cuts samples into size-length blocks, zero-padding the last.
func splitBlocks(samples []int16, size int) [][]int16 {
	if size <= 0 || len(samples) == 0 {
		return nil
	}
	out := make([][]int16, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		block := make([]int16, size)
		copy(block, samples[start:min(start+size, len(samples))])
		out = append(out, block)
	}
	return out
}
