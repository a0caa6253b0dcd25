package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNoTarget      = errors.New("no dispatch target selected")
	ErrUnknownTarget = errors.New("unknown dispatch target")
)

const (
	DefaultDetectTimeout     = 3 * time.Minute
	DefaultTranscriptTimeout = 5 * time.Minute
)

type Config struct {
	DetectTimeout     time.Duration
	TranscriptTimeout time.Duration
}

// Machine is the OFF/DETECT/ACTIVE state machine. It owns no timers: callers arm
// one timer for NextDeadline and call Expire when it fires.
type Machine struct {
	mu  sync.RWMutex
	cfg Config

	mode                Mode
	detectExpiresAt     time.Time
	transcriptExpiresAt time.Time
	targets             []Target
	selected            int
	utterances          int
	dispatched          int
	lastReason          string
}

func NewMachine(cfg Config) *Machine {
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = DefaultDetectTimeout
	}
	if cfg.TranscriptTimeout <= 0 {
		cfg.TranscriptTimeout = DefaultTranscriptTimeout
	}
	return &Machine{cfg: cfg, mode: ModeOff, selected: -1}
}

func (m *Machine) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Advance cycles OFF -> DETECT -> ACTIVE -> OFF. DETECT -> ACTIVE without a selected
// target drops to OFF with the reason set on the returned transition.
func (m *Machine) Advance(now time.Time) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mode {
	case ModeOff:
		return m.enterLocked(ModeDetect, "capture started", now)
	case ModeDetect:
		switch {
		case len(m.targets) == 0:
			return m.enterLocked(ModeOff, "no dispatch targets available", now)
		case m.selected < 0:
			return m.enterLocked(ModeOff, ErrNoTarget.Error(), now)
		default:
			return m.enterLocked(ModeActive, "dispatching to "+m.targets[m.selected].Title, now)
		}
	default:
		return m.enterLocked(ModeOff, "stopped", now)
	}
}

// Expire applies whichever timeout has elapsed at now.
func (m *Machine) Expire(now time.Time) (Transition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode == ModeOff {
		return Transition{}, false
	}
	if !m.transcriptExpiresAt.IsZero() && !now.Before(m.transcriptExpiresAt) {
		reason := fmt.Sprintf("no transcript activity for %s", m.cfg.TranscriptTimeout)
		return m.enterLocked(ModeOff, reason, now), true
	}
	if m.mode == ModeDetect && !m.detectExpiresAt.IsZero() && !now.Before(m.detectExpiresAt) {
		reason := fmt.Sprintf("detect mode timed out after %s", m.cfg.DetectTimeout)
		return m.enterLocked(ModeOff, reason, now), true
	}
	return Transition{}, false
}

// NoteTranscriptActivity pushes the inactivity deadline out. Ignored while OFF.
func (m *Machine) NoteTranscriptActivity(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == ModeOff {
		return
	}
	m.transcriptExpiresAt = now.Add(m.cfg.TranscriptTimeout)
}

// SetTargets replaces the target list, keeping the selection when the selected
// target is still present. Losing the selected target while ACTIVE drops to DETECT.
func (m *Machine) SetTargets(targets []Target, now time.Time) (Transition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := ""
	if m.selected >= 0 && m.selected < len(m.targets) {
		prev = m.targets[m.selected].ID
	}
	m.targets = append([]Target(nil), targets...)
	m.selected = -1
	if prev != "" {
		m.selected = indexOf(m.targets, prev)
	}

	if prev != "" && m.selected < 0 && m.mode == ModeActive {
		return m.enterLocked(ModeDetect, fmt.Sprintf("dispatch target %q disappeared", prev), now), true
	}
	return Transition{}, false
}

func (m *Machine) Select(targetID string) (Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := indexOf(m.targets, targetID)
	if idx < 0 {
		return Target{}, fmt.Errorf("%w: %q", ErrUnknownTarget, targetID)
	}
	m.selected = idx
	return m.targets[idx], nil
}

// ShouldForwardAudio gates captured audio: everything except OFF forwards.
func (m *Machine) ShouldForwardAudio() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode != ModeOff
}

// DispatchTarget returns the sink for finalized utterances, only in ACTIVE with a selection.
func (m *Machine) DispatchTarget() (Target, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mode != ModeActive || m.selected < 0 {
		return Target{}, false
	}
	return m.targets[m.selected], true
}

func (m *Machine) NoteUtterance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utterances++
}

func (m *Machine) NoteDispatched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched++
}

// NextDeadline is the earliest pending timeout, if any.
func (m *Machine) NextDeadline() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mode == ModeOff {
		return time.Time{}, false
	}
	next := m.transcriptExpiresAt
	if m.mode == ModeDetect && !m.detectExpiresAt.IsZero() && (next.IsZero() || m.detectExpiresAt.Before(next)) {
		next = m.detectExpiresAt
	}
	return next, !next.IsZero()
}

func (m *Machine) Status(now time.Time) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		Mode:       m.mode,
		Targets:    append([]Target{}, m.targets...),
		Utterances: m.utterances,
		Dispatched: m.dispatched,
		LastReason: m.lastReason,
	}
	if m.selected >= 0 {
		t := m.targets[m.selected]
		st.Selected = &t
	}
	if m.mode == ModeDetect {
		st.DetectRemainingMS = remainingMS(m.detectExpiresAt, now)
	}
	if m.mode != ModeOff {
		st.TranscriptRemainingMS = remainingMS(m.transcriptExpiresAt, now)
	}
	return st
}

func (m *Machine) enterLocked(to Mode, reason string, now time.Time) Transition {
	from := m.mode
	m.mode = to
	m.lastReason = reason

	switch to {
	case ModeOff:
		m.detectExpiresAt = time.Time{}
		m.transcriptExpiresAt = time.Time{}
		m.utterances = 0
		m.dispatched = 0
	case ModeDetect:
		m.detectExpiresAt = now.Add(m.cfg.DetectTimeout)
		if from == ModeOff {
			m.transcriptExpiresAt = now.Add(m.cfg.TranscriptTimeout)
		}
	case ModeActive:
		m.detectExpiresAt = time.Time{}
	}
	return Transition{From: from, To: to, Reason: reason, At: now}
}

func indexOf(targets []Target, id string) int {
	if id == "" {
		return -1
	}
	for i, t := range targets {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func remainingMS(deadline, now time.Time) int64 {
	if deadline.IsZero() {
		return 0
	}
	d := deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}
