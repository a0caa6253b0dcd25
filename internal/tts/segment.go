package tts

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultTargetChars = 60
	DefaultMaxChars    = 120
	DefaultMinChars    = 10
)

// SegmentOptions bound segment lengths, counted in runes.
type SegmentOptions struct {
	TargetChars int
	MaxChars    int
	MinChars    int
}

func (o SegmentOptions) withDefaults() SegmentOptions {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.TargetChars <= 0 || o.TargetChars > o.MaxChars {
		o.TargetChars = min(DefaultTargetChars, o.MaxChars)
	}
	if o.MinChars < 0 {
		o.MinChars = 0
	}
	if o.MinChars == 0 {
		o.MinChars = min(DefaultMinChars, o.TargetChars)
	}
	return o
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '．', '！', '？', '\n',
		',', ';', ':', '、', '，', '；', '：':
		return true
	}
	return false
}

func isOpening(r rune) bool {
	switch r {
	case '(', '[', '{', '（', '「', '『', '【', '〔', '《':
		return true
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case ')', ']', '}', '）', '」', '』', '】', '〕', '》':
		return true
	}
	return false
}

// tokenize cuts after every delimiter. Opening brackets become their own tokens.
func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	emit := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		if isOpening(r) {
			emit()
			tokens = append(tokens, string(r))
			continue
		}
		cur.WriteRune(r)
		if isTerminal(r) || isClosing(r) {
			emit()
		}
	}
	emit()
	return tokens
}

// SplitIntoSegments splits assistant text into speakable chunks. Every segment is
// at most MaxChars runes, and no non-space character is dropped or reordered.
func SplitIntoSegments(text string, opts SegmentOptions) []string {
	opts = opts.withDefaults()

	var segments []string
	var cur string
	flush := func() {
		if s := strings.TrimSpace(cur); s != "" {
			segments = append(segments, s)
		}
		cur = ""
	}

	for _, tok := range tokenize(text) {
		trimmed := strings.TrimSpace(tok)
		if trimmed == "" {
			cur += tok
			continue
		}
		r, _ := utf8.DecodeRuneInString(trimmed)
		if utf8.RuneCountInString(trimmed) == 1 && isOpening(r) && strings.TrimSpace(cur) != "" {
			flush()
		}

		switch {
		case utf8.RuneCountInString(trimmed) > opts.MaxChars:
			flush()
			segments = append(segments, hardChunk(trimmed, opts.MaxChars)...)
			continue
		case utf8.RuneCountInString(strings.TrimSpace(cur+tok)) > opts.MaxChars:
			flush()
			cur = tok
		default:
			cur += tok
		}

		last, _ := utf8.DecodeLastRuneInString(trimmed)
		if utf8.RuneCountInString(strings.TrimSpace(cur)) >= opts.TargetChars || isTerminal(last) {
			flush()
		}
	}
	flush()

	return mergeShort(segments, opts)
}

func hardChunk(s string, max int) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes)/max+1)
	for len(runes) > 0 {
		n := min(max, len(runes))
		if chunk := strings.TrimSpace(string(runes[:n])); chunk != "" {
			out = append(out, chunk)
		}
		runes = runes[n:]
	}
	return out
}

// mergeShort folds segments below MinChars into the previous one while the
// result stays within MaxChars.
func mergeShort(segments []string, opts SegmentOptions) []string {
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if len(out) > 0 && utf8.RuneCountInString(seg) < opts.MinChars {
			merged := joinSegments(out[len(out)-1], seg)
			if utf8.RuneCountInString(merged) <= opts.MaxChars {
				out[len(out)-1] = merged
				continue
			}
		}
		out = append(out, seg)
	}
	return out
}

func joinSegments(a, b string) string {
	last, _ := utf8.DecodeLastRuneInString(a)
	first, _ := utf8.DecodeRuneInString(b)
	if isWide(last) || isWide(first) {
		return a + b
	}
	return a + " " + b
}

func isWide(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) ||
		(r >= 0x3000 && r <= 0x303F) || (r >= 0xFF00 && r <= 0xFFEF)
}
