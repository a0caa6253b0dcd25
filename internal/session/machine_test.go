package session

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestAdvanceWithoutTargetsDowngradesToOff(t *testing.T) {
	m := NewMachine(Config{})

	tr := m.Advance(t0)
	if tr.From != ModeOff || tr.To != ModeDetect {
		t.Fatalf("first Advance() = %s->%s, want off->detect", tr.From, tr.To)
	}
	if !m.ShouldForwardAudio() {
		t.Fatalf("ShouldForwardAudio() = false in detect")
	}

	tr = m.Advance(t0.Add(time.Second))
	if tr.To != ModeOff {
		t.Fatalf("second Advance() to = %s, want off", tr.To)
	}
	if tr.Reason == "" {
		t.Fatalf("downgrade reason is empty")
	}
	if m.ShouldForwardAudio() {
		t.Fatalf("ShouldForwardAudio() = true in off")
	}
}

func TestAdvanceWithUnselectedTargetDowngrades(t *testing.T) {
	m := NewMachine(Config{})
	m.SetTargets([]Target{{ID: "w1", Title: "shell"}}, t0)
	m.Advance(t0)
	tr := m.Advance(t0)
	if tr.To != ModeOff || tr.Reason != ErrNoTarget.Error() {
		t.Fatalf("Advance() = %+v, want off with reason %q", tr, ErrNoTarget.Error())
	}
}

func TestFullCycleWithSelectedTarget(t *testing.T) {
	m := NewMachine(Config{})
	m.SetTargets([]Target{{ID: "w1", Title: "shell"}, {ID: "w2", Title: "editor"}}, t0)
	if _, err := m.Select("w2"); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	m.Advance(t0)
	if _, ok := m.DispatchTarget(); ok {
		t.Fatalf("DispatchTarget() ok in detect, want false")
	}
	if tr := m.Advance(t0); tr.To != ModeActive {
		t.Fatalf("Advance() to = %s, want active", tr.To)
	}
	target, ok := m.DispatchTarget()
	if !ok || target.ID != "w2" {
		t.Fatalf("DispatchTarget() = %+v, %v; want w2", target, ok)
	}

	m.NoteUtterance()
	m.NoteDispatched()
	if tr := m.Advance(t0); tr.To != ModeOff {
		t.Fatalf("Advance() to = %s, want off", tr.To)
	}
	st := m.Status(t0)
	if st.Utterances != 0 || st.Dispatched != 0 {
		t.Fatalf("counters after off = %d/%d, want 0/0", st.Utterances, st.Dispatched)
	}
	if st.Selected == nil || st.Selected.ID != "w2" {
		t.Fatalf("selection lost across off: %+v", st.Selected)
	}
}

func TestSelectUnknownTarget(t *testing.T) {
	m := NewMachine(Config{})
	if _, err := m.Select("nope"); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("Select() error = %v, want ErrUnknownTarget", err)
	}
}

func TestDetectTimeoutForcesOff(t *testing.T) {
	m := NewMachine(Config{DetectTimeout: time.Minute, TranscriptTimeout: time.Hour})
	m.Advance(t0)

	next, ok := m.NextDeadline()
	if !ok || !next.Equal(t0.Add(time.Minute)) {
		t.Fatalf("NextDeadline() = %v, %v; want detect deadline", next, ok)
	}
	if _, fired := m.Expire(t0.Add(59 * time.Second)); fired {
		t.Fatalf("Expire() fired early")
	}
	tr, fired := m.Expire(t0.Add(time.Minute))
	if !fired || tr.To != ModeOff {
		t.Fatalf("Expire() = %+v, %v; want off", tr, fired)
	}
	if _, ok := m.NextDeadline(); ok {
		t.Fatalf("NextDeadline() ok after off")
	}
}

func TestTranscriptInactivityForcesOffFromActive(t *testing.T) {
	m := NewMachine(Config{DetectTimeout: time.Minute, TranscriptTimeout: 5 * time.Minute})
	m.SetTargets([]Target{{ID: "w1"}}, t0)
	m.Select("w1")
	m.Advance(t0)
	m.Advance(t0)

	m.NoteTranscriptActivity(t0.Add(4 * time.Minute))
	if _, fired := m.Expire(t0.Add(5 * time.Minute)); fired {
		t.Fatalf("Expire() fired although activity extended the deadline")
	}
	tr, fired := m.Expire(t0.Add(9 * time.Minute))
	if !fired || tr.From != ModeActive || tr.To != ModeOff {
		t.Fatalf("Expire() = %+v, %v; want active->off", tr, fired)
	}
}

func TestActiveIgnoresDetectDeadline(t *testing.T) {
	m := NewMachine(Config{DetectTimeout: time.Minute, TranscriptTimeout: time.Hour})
	m.SetTargets([]Target{{ID: "w1"}}, t0)
	m.Select("w1")
	m.Advance(t0)
	m.Advance(t0.Add(10 * time.Second))
	if _, fired := m.Expire(t0.Add(2 * time.Minute)); fired {
		t.Fatalf("Expire() fired from detect deadline while active")
	}
}

func TestSetTargetsKeepsSelectionByIdentity(t *testing.T) {
	m := NewMachine(Config{})
	m.SetTargets([]Target{{ID: "a"}, {ID: "b"}}, t0)
	m.Select("b")
	m.SetTargets([]Target{{ID: "c"}, {ID: "b", Title: "renamed"}, {ID: "a"}}, t0)

	st := m.Status(t0)
	if st.Selected == nil || st.Selected.ID != "b" || st.Selected.Title != "renamed" {
		t.Fatalf("Selected = %+v, want b (renamed)", st.Selected)
	}

	m.SetTargets([]Target{{ID: "a"}}, t0)
	if st := m.Status(t0); st.Selected != nil {
		t.Fatalf("Selected = %+v, want nil after target vanished", st.Selected)
	}
}

func TestSelectedTargetDisappearingWhileActiveDropsToDetect(t *testing.T) {
	m := NewMachine(Config{DetectTimeout: time.Minute})
	m.SetTargets([]Target{{ID: "a"}}, t0)
	m.Select("a")
	m.Advance(t0)
	m.Advance(t0)

	tr, changed := m.SetTargets(nil, t0.Add(time.Second))
	if !changed || tr.From != ModeActive || tr.To != ModeDetect {
		t.Fatalf("SetTargets() = %+v, %v; want active->detect", tr, changed)
	}
	if !m.ShouldForwardAudio() {
		t.Fatalf("capture should continue in detect")
	}
	st := m.Status(t0.Add(time.Second))
	if st.DetectRemainingMS != time.Minute.Milliseconds() {
		t.Fatalf("DetectRemainingMS = %d, want %d", st.DetectRemainingMS, time.Minute.Milliseconds())
	}
}
