package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var terminalMarks = map[rune]struct{}{
	'.': {}, '。': {}, '．': {}, '｡': {},
	'?': {}, '？': {},
	'!': {}, '！': {},
	',': {}, '，': {}, '、': {}, '､': {},
}

var (
	politeStems = []string{
		"です", "ます", "でした", "ました", "ません", "ませんでした",
		"でしょう", "ましょう", "ください", "ございます",
	}
	politeParticles = []string{"", "か", "ね", "よ", "よね", "な", "けど", "が"}
	politeEndings   = buildPoliteEndings()
)

func buildPoliteEndings() []string {
	out := make([]string, 0, len(politeStems)*len(politeParticles))
	for _, stem := range politeStems {
		for _, particle := range politeParticles {
			out = append(out, stem+particle)
		}
	}
	return out
}

// NormalizePunctuation appends a sentence terminator when the recognizer left it off:
// "。" after a polite verb ending, "." after a Latin letter or digit.
func NormalizePunctuation(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	last, _ := utf8.DecodeLastRuneInString(text)
	if _, ok := terminalMarks[last]; ok {
		return text
	}
	for _, ending := range politeEndings {
		if strings.HasSuffix(text, ending) {
			return text + "。"
		}
	}
	if isLatinLetter(last) || unicode.IsDigit(last) {
		return text + "."
	}
	return text
}

func isLatinLetter(r rune) bool {
	return unicode.IsLetter(r) && unicode.Is(unicode.Latin, r)
}
