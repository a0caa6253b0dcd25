package tts

import (
	"reflect"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestSplitAtSentenceAndClauseBoundaries(t *testing.T) {
	got := SplitIntoSegments("こんにちは。今日はいい天気ですね、散歩に行きましょう。", SegmentOptions{})
	want := []string{"こんにちは。", "今日はいい天気ですね、", "散歩に行きましょう。"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitIntoSegments() = %q, want %q", got, want)
	}
}

func TestSplitMergesShortSegments(t *testing.T) {
	got := SplitIntoSegments("はい。わかりました、すぐにやります。", SegmentOptions{})
	want := []string{"はい。わかりました、すぐにやります。"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitIntoSegments() = %q, want %q", got, want)
	}

	got = SplitIntoSegments("Sure thing, ok. Now the longer part follows.", SegmentOptions{})
	want = []string{"Sure thing, ok.", "Now the longer part follows."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitIntoSegments() = %q, want %q", got, want)
	}
}

func TestSplitBreaksBeforeOpeningBracket(t *testing.T) {
	got := SplitIntoSegments("See the note (which is long) now", SegmentOptions{})
	want := []string{"See the note", "(which is long) now"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitIntoSegments() = %q, want %q", got, want)
	}
}

func TestSplitHardChunksOversizedToken(t *testing.T) {
	text := strings.Repeat("a", 300)
	got := SplitIntoSegments(text, SegmentOptions{MaxChars: 120})
	if len(got) != 3 {
		t.Fatalf("len(segments) = %d, want 3", len(got))
	}
	if utf8.RuneCountInString(got[2]) != 60 {
		t.Fatalf("last chunk = %d runes, want 60", utf8.RuneCountInString(got[2]))
	}
}

func TestSplitFlushesAtTargetLength(t *testing.T) {
	text := "alpha beta gamma, delta epsilon zeta eta theta, iota kappa lambda mu nu xi omicron."
	opts := SegmentOptions{TargetChars: 20, MaxChars: 40, MinChars: 5}
	got := SplitIntoSegments(text, opts)
	for _, seg := range got {
		if n := utf8.RuneCountInString(seg); n > opts.MaxChars {
			t.Fatalf("segment %q has %d runes, max %d", seg, n, opts.MaxChars)
		}
	}
	if len(got) < 3 {
		t.Fatalf("segments = %q, want at least 3", got)
	}
}

func TestSplitNeverExceedsMaxAndKeepsContent(t *testing.T) {
	texts := []string{
		"",
		"   ",
		"Hello there. How are you doing today? I am fine, thanks!",
		"「これはテスト」です。（注：長い文章）をここに書きます、そして続けます。",
		strings.Repeat("長い文章が続きます", 30) + "。",
		"mixed 日本語 and English, with (brackets) and [more brackets]; done.",
		strings.Repeat("word ", 80),
	}
	optsList := []SegmentOptions{
		{},
		{TargetChars: 10, MaxChars: 15, MinChars: 3},
		{TargetChars: 200, MaxChars: 200, MinChars: 50},
		{TargetChars: 5, MaxChars: 5, MinChars: 1},
	}
	for _, opts := range optsList {
		eff := opts.withDefaults()
		for _, text := range texts {
			segs := SplitIntoSegments(text, opts)
			for _, seg := range segs {
				if utf8.RuneCountInString(seg) > eff.MaxChars {
					t.Fatalf("opts %+v: segment %q longer than %d", opts, seg, eff.MaxChars)
				}
				if strings.TrimSpace(seg) == "" {
					t.Fatalf("opts %+v: empty segment in %q", opts, segs)
				}
			}
			if got, want := stripSpace(strings.Join(segs, "")), stripSpace(text); got != want {
				t.Fatalf("opts %+v: content %q, want %q", opts, got, want)
			}
		}
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"**Bold** and `code` here":                 "Bold and here",
		"See [the docs](https://example.com) now.": "See the docs now.",
		"今日は晴れ☀️です。":                              "今日は晴れです。",
		"a\n\n- b":                                 "a - b",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Fatalf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
