package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestLatencyWindowQuantiles(t *testing.T) {
	w := newLatencyWindow(4)
	for _, v := range []float64{400, 10, 20, 30, 40} {
		w.Observe("synthesis", v)
	}
	w.Observe("", 5)
	w.Observe("synthesis", -1)

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	got := snap.Stages[0]
	if got.Samples != 4 {
		t.Fatalf("Samples = %d, want 4 (oldest sample evicted)", got.Samples)
	}
	if got.LastMS != 40 {
		t.Fatalf("LastMS = %v, want 40", got.LastMS)
	}
	if got.AvgMS != 25 {
		t.Fatalf("AvgMS = %v, want 25", got.AvgMS)
	}
	if got.P50MS != 25 {
		t.Fatalf("P50MS = %v, want 25", got.P50MS)
	}
	if got.TargetP95MS != 700 {
		t.Fatalf("TargetP95MS = %v, want 700", got.TargetP95MS)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("ok", time.Second)
	m.ObservePlaybackBlock("audio", 10)
	if snap := m.StageSnapshot(); len(snap.Stages) != 0 {
		t.Fatalf("nil metrics snapshot stages = %d, want 0", len(snap.Stages))
	}
}

func TestMetricsStageSnapshot(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("test_obs_%d", time.Now().UnixNano()))
	m.ObserveTurn("ok", 1200*time.Millisecond)
	m.ObserveFirstAudioLatency(300 * time.Millisecond)

	snap := m.StageSnapshot()
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	if snap.Stages[0].Stage != "text_to_first_audio" || snap.Stages[1].Stage != "turn_total" {
		t.Fatalf("stages = %+v, want sorted text_to_first_audio, turn_total", snap.Stages)
	}
}
