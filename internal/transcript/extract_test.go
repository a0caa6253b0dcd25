package transcript

import (
	"encoding/json"
	"testing"
)

func TestExtractPrefersLongestCandidate(t *testing.T) {
	event := map[string]any{
		"delta": map[string]any{
			"items": []any{
				map[string]any{"transcript": "A"},
				map[string]any{"text": "ABC"},
			},
		},
	}
	if got := Extract(event); got != "ABC" {
		t.Fatalf("Extract() = %q, want %q", got, "ABC")
	}
}

func TestExtractIgnoresUnknownFields(t *testing.T) {
	event := map[string]any{
		"type":    "conversation.item.input_audio_transcription.completed",
		"item_id": "item_0123456789abcdef",
		"transcript": "hi",
	}
	if got := Extract(event); got != "hi" {
		t.Fatalf("Extract() = %q, want %q", got, "hi")
	}
}

func TestExtractTieGoesToLastSeen(t *testing.T) {
	event := map[string]any{
		"items": []any{"abc", "xyz", "abc"},
	}
	if got := Extract(event); got != "xyz" {
		t.Fatalf("Extract() = %q, want %q", got, "xyz")
	}
}

func TestExtractCountsRunesNotBytes(t *testing.T) {
	event := map[string]any{
		"content": []any{
			map[string]any{"text": "天気"},
			map[string]any{"text": "abc"},
		},
	}
	if got := Extract(event); got != "abc" {
		t.Fatalf("Extract() = %q, want %q", got, "abc")
	}
}

func TestExtractDecodesRawJSON(t *testing.T) {
	raw := json.RawMessage(`{"type":"x.delta","delta":"こんにちは","item":{"content":[{"transcript":"こん"}]}}`)
	if got := Extract(raw); got != "こんにちは" {
		t.Fatalf("Extract() = %q, want %q", got, "こんにちは")
	}
}

func TestExtractNeverPanicsOnOddInput(t *testing.T) {
	inputs := []any{
		nil,
		42,
		[]byte("{not json"),
		map[string]any{"text": 12.5, "items": "plain"},
		[]any{nil, map[string]any{}},
	}
	for _, in := range inputs {
		_ = Extract(in)
	}
	if got := Extract(map[string]any{"items": "plain"}); got != "plain" {
		t.Fatalf("Extract() = %q, want %q", got, "plain")
	}
	if got := Extract(nil); got != "" {
		t.Fatalf("Extract(nil) = %q, want empty", got)
	}
}
