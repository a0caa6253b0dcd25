package playback

import (
	"math"
	"testing"
)

func TestResampleSameRateReturnsInput(t *testing.T) {
	in := []int16{1, -2, 3, -4}
	got := Resample(in, 24000, 24000)
	if &got[0] != &in[0] || len(got) != len(in) {
		t.Fatalf("Resample() with equal rates did not return the input slice")
	}
}

func TestResampleInvalidSourceRateIsNoOp(t *testing.T) {
	in := []int16{5, 6, 7}
	for _, rate := range []int{0, -16000} {
		got := Resample(in, rate, 24000)
		if len(got) != 3 || got[0] != 5 || got[2] != 7 {
			t.Fatalf("Resample(rate=%d) = %v, want input unchanged", rate, got)
		}
	}
}

func TestResampleOutputLength(t *testing.T) {
	cases := []struct {
		from, n, want int
	}{
		{from: 48000, n: 100, want: 50},
		{from: 16000, n: 160, want: 240},
		{from: 44100, n: 441, want: 240},
		{from: 22050, n: 7, want: 7},
	}
	for _, tc := range cases {
		got := Resample(make([]int16, tc.n), tc.from, 24000)
		if len(got) != tc.want {
			t.Fatalf("len(Resample(%d samples @%d)) = %d, want %d", tc.n, tc.from, len(got), tc.want)
		}
	}
}

func TestResampleInterpolatesLinearly(t *testing.T) {
	got := Resample([]int16{0, 100, 200, 300}, 12000, 24000)
	want := []int16{0, 50, 100, 150, 200, 250, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Resample() = %v, want %v", got, want)
		}
	}
}

func TestNormalizeLeavesSilenceAndLoudBuffers(t *testing.T) {
	silent := []int16{0, 0, 0}
	if got := Normalize(silent, 30000); &got[0] != &silent[0] {
		t.Fatalf("Normalize(silence) returned a new buffer")
	}
	loud := []int16{-32768, 10, 30000}
	got := Normalize(loud, 30000)
	if &got[0] != &loud[0] || got[0] != -32768 {
		t.Fatalf("Normalize(loud) = %v, want unchanged", got)
	}
}

func TestNormalizeScalesPeakToThreshold(t *testing.T) {
	in := []int16{1000, -500, 250, -1200}
	got := Normalize(in, 30000)
	peak := 0
	for _, s := range got {
		v := int(math.Abs(float64(s)))
		if v > peak {
			peak = v
		}
	}
	if peak < 29999 || peak > 30000 {
		t.Fatalf("peak = %d, want 30000 within rounding", peak)
	}
	if got[3] != -30000 || got[0] != 25000 {
		t.Fatalf("Normalize() = %v, want [25000 -12500 6250 -30000]", got)
	}
	if in[0] != 1000 {
		t.Fatalf("Normalize() mutated its input")
	}
}
