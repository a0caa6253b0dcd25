package conversation

import "testing"

func TestSilenceFilter(t *testing.T) {
	f := NewSilenceFilter(DefaultSilenceSentinels)
	cases := []struct {
		text string
		want bool
	}{
		{"NO_RESPONSE", true},
		{"no response.", true},
		{" (silence) ", true},
		{"[Silence]", true},
		{"（無言）", true},
		{"無言", true},
		{"...", true},
		{"", true},
		{"silence is golden", false},
		{"了解しました。", false},
	}
	for _, tc := range cases {
		if got := f.Suppress(tc.text); got != tc.want {
			t.Fatalf("Suppress(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestSilenceFilterCustomList(t *testing.T) {
	f := NewSilenceFilter([]string{"<nothing>"})
	if !f.Suppress("NOTHING") {
		t.Fatalf("Suppress(NOTHING) = false, want true")
	}
	if f.Suppress("NO_RESPONSE") {
		t.Fatalf("Suppress(NO_RESPONSE) = true with a custom list")
	}
}
