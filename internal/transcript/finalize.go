package transcript

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

// Stage classifies a streaming transcript event.
type Stage int

const (
	StageUnknown Stage = iota
	StagePartial
	StageFinal
)

func (s Stage) String() string {
	switch s {
	case StagePartial:
		return "partial"
	case StageFinal:
		return "final"
	default:
		return "unknown"
	}
}

var (
	finalStageTokens   = map[string]struct{}{"completed": {}, "complete": {}, "final": {}, "finished": {}, "done": {}}
	partialStageTokens = map[string]struct{}{"partial": {}, "delta": {}, "updated": {}, "created": {}, "in_progress": {}}
)

// ClassifyStage matches a stage hint such as "completed" or a dotted event type
// ("conversation.item.input_audio_transcription.delta") case-insensitively.
func ClassifyStage(hint string) Stage {
	tokens := strings.FieldsFunc(strings.ToLower(hint), func(r rune) bool {
		return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	stage := StageUnknown
	for _, tok := range tokens {
		if _, ok := finalStageTokens[tok]; ok {
			return StageFinal
		}
		if _, ok := partialStageTokens[tok]; ok {
			stage = StagePartial
		}
	}
	return stage
}

// Utterance is one finalized unit of recognized speech.
type Utterance struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"ts_ms"`
}

// Kind tells the caller what a handled event changed.
type Kind string

const (
	KindPartial Kind = "partial"
	KindFinal   Kind = "final"
	KindCleared Kind = "cleared"
	// KindUnchanged marks a handled event that produced nothing new, such as a repeated partial.
	KindUnchanged Kind = "unchanged"
)

type Result struct {
	Kind      Kind
	Partial   string
	Utterance Utterance
}

// Finalizer tracks the currently displayed partial transcript and turns final-stage
// events into utterances.
type Finalizer struct {
	mu        sync.Mutex
	displayed string
	now       func() time.Time
}

func NewFinalizer() *Finalizer {
	return &Finalizer{now: time.Now}
}

// Process handles one event. It reports false when the event was neither a
// recognized stage nor carried text, so callers can try other interpretations.
func (f *Finalizer) Process(text, stageHint string) (Result, bool) {
	stage := ClassifyStage(stageHint)
	text = strings.TrimSpace(text)

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case stage == StageFinal:
		f.displayed = ""
		normalized := NormalizePunctuation(text)
		if normalized == "" {
			return Result{Kind: KindCleared}, true
		}
		return Result{
			Kind:      KindFinal,
			Utterance: Utterance{Text: normalized, Timestamp: f.now().UnixMilli()},
		}, true
	case text != "":
		if text == f.displayed {
			return Result{Kind: KindUnchanged, Partial: text}, true
		}
		f.displayed = text
		return Result{Kind: KindPartial, Partial: text}, true
	case stage == StagePartial:
		if f.displayed == "" {
			return Result{Kind: KindUnchanged}, true
		}
		f.displayed = ""
		return Result{Kind: KindCleared}, true
	default:
		return Result{}, false
	}
}

// Displayed returns the partial transcript currently on screen.
func (f *Finalizer) Displayed() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.displayed
}

// Reset clears the displayed partial, for example when capture stops.
func (f *Finalizer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.displayed = ""
}
