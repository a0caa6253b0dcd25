package conversation

import (
	"strings"
	"unicode"
)

// DefaultSilenceSentinels are outputs the model uses to say it has nothing to say.
var DefaultSilenceSentinels = []string{"NO_RESPONSE", "(silence)", "[silence]", "（無言）", "無言"}

// SilenceFilter recognizes sentinel outputs that must not be spoken or broadcast.
type SilenceFilter struct {
	canon map[string]struct{}
}

func NewSilenceFilter(sentinels []string) *SilenceFilter {
	f := &SilenceFilter{canon: make(map[string]struct{}, len(sentinels))}
	for _, s := range sentinels {
		if c := canonicalize(s); c != "" {
			f.canon[c] = struct{}{}
		}
	}
	return f
}

// Suppress reports whether text is a sentinel or has nothing speakable in it.
func (f *SilenceFilter) Suppress(text string) bool {
	c := canonicalize(text)
	if c == "" {
		return true
	}
	if f == nil {
		return false
	}
	_, ok := f.canon[c]
	return ok
}

func canonicalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	prevSpace := true
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
