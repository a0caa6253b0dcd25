package transcript

import (
	"testing"
	"time"
)

func TestNormalizePunctuation(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "こんにちはです", want: "こんにちはです。"},
		{in: "hello", want: "hello."},
		{in: "done.", want: "done."},
		{in: "  version 2  ", want: "version 2."},
		{in: "行きましょうね", want: "行きましょうね。"},
		{in: "本当ですか？", want: "本当ですか？"},
		{in: "こんにちは", want: "こんにちは"},
		{in: "えっと、", want: "えっと、"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := NormalizePunctuation(tc.in); got != tc.want {
			t.Fatalf("NormalizePunctuation(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClassifyStage(t *testing.T) {
	cases := map[string]Stage{
		"completed": StageFinal,
		"DONE":      StageFinal,
		"conversation.item.input_audio_transcription.completed": StageFinal,
		"conversation.item.input_audio_transcription.delta":     StagePartial,
		"in_progress":  StagePartial,
		"session.created": StagePartial,
		"rate_limits":  StageUnknown,
		"":             StageUnknown,
		"completely":   StageUnknown,
	}
	for hint, want := range cases {
		if got := ClassifyStage(hint); got != want {
			t.Fatalf("ClassifyStage(%q) = %v, want %v", hint, got, want)
		}
	}
}

func TestFinalizerLifecycle(t *testing.T) {
	f := NewFinalizer()
	f.now = func() time.Time { return time.UnixMilli(1700000000000) }

	res, ok := f.Process("天気", "delta")
	if !ok || res.Kind != KindPartial || res.Partial != "天気" {
		t.Fatalf("partial = %+v, %v; want partial 天気", res, ok)
	}
	res, ok = f.Process("天気", "delta")
	if !ok || res.Kind != KindUnchanged {
		t.Fatalf("duplicate partial kind = %q, want %q", res.Kind, KindUnchanged)
	}
	if got := f.Displayed(); got != "天気" {
		t.Fatalf("Displayed() = %q, want 天気", got)
	}

	res, ok = f.Process("天気はどうですか", "completed")
	if !ok || res.Kind != KindFinal {
		t.Fatalf("final kind = %q, %v; want final", res.Kind, ok)
	}
	if res.Utterance.Text != "天気はどうですか。" {
		t.Fatalf("Utterance.Text = %q, want %q", res.Utterance.Text, "天気はどうですか。")
	}
	if res.Utterance.Timestamp != 1700000000000 {
		t.Fatalf("Utterance.Timestamp = %d, want 1700000000000", res.Utterance.Timestamp)
	}
	if got := f.Displayed(); got != "" {
		t.Fatalf("Displayed() after final = %q, want empty", got)
	}
}

func TestFinalizerTextWithoutStageIsPartial(t *testing.T) {
	f := NewFinalizer()
	res, ok := f.Process("hello wor", "something.new")
	if !ok || res.Kind != KindPartial {
		t.Fatalf("Process() = %+v, %v; want partial", res, ok)
	}
}

func TestFinalizerEmptyPartialClears(t *testing.T) {
	f := NewFinalizer()
	f.Process("hel", "partial")
	res, ok := f.Process("", "updated")
	if !ok || res.Kind != KindCleared {
		t.Fatalf("Process(empty partial) = %+v, %v; want cleared", res, ok)
	}
	if got := f.Displayed(); got != "" {
		t.Fatalf("Displayed() = %q, want empty", got)
	}
}

func TestFinalizerUnknownEmptyIsNotHandled(t *testing.T) {
	f := NewFinalizer()
	f.Process("keep", "delta")
	if _, ok := f.Process("", "rate_limits"); ok {
		t.Fatalf("Process(empty, unknown) handled = true, want false")
	}
	if got := f.Displayed(); got != "keep" {
		t.Fatalf("Displayed() = %q, want keep", got)
	}
}
