// Package intent classifies finalized transcriptions into coarse
// conversational intents that drive the planning stage. An LLM-backed
// detector handles open-ended utterances; a rule-based detector covers the
// unambiguous cases and serves as the offline fallback.
package intent

import (
	"context"
	"strings"
	"unicode"
)

// Intent names. The set is deliberately small: the planner only needs to
// know the shape of the turn, not its full semantics.
const (
	Question  = "question"
	Command   = "command"
	SmallTalk = "small-talk"
	Stop      = "stop"
	Unknown   = "unknown"
)

// Intent is a classified utterance.
type Intent struct {
	// Name is one of the package-level intent constants.
	Name string

	// Confidence is the detector's score in [0, 1].
	Confidence float64
}

// Detector classifies one utterance.
type Detector interface {
	Detect(ctx context.Context, text string) (Intent, error)
}

// Rules is a keyword-heuristic detector. It needs no network and is the
// fallback when no LLM provider is configured or reachable.
type Rules struct{}

// Ensure Rules implements Detector at compile time.
var _ Detector = (*Rules)(nil)

var (
	stopPhrases = []string{
		"stop", "cancel", "never mind", "nevermind", "forget it", "shut up",
		"стоп", "отмена", "хватит", "забудь",
	}
	questionWords = []string{
		"what", "who", "where", "when", "why", "how", "which", "is", "are",
		"can", "could", "do", "does", "did", "will", "would", "should",
		"что", "кто", "где", "когда", "почему", "как", "какой", "можно",
	}
	commandVerbs = []string{
		"turn", "switch", "open", "close", "start", "play", "pause", "set",
		"send", "call", "show", "find", "remind", "create", "delete",
		"включи", "выключи", "открой", "закрой", "поставь", "найди", "покажи",
		"отправь", "позвони", "напомни", "создай", "удали",
	}
)

// Detect classifies text with keyword heuristics. It never returns an error.
func (Rules) Detect(_ context.Context, text string) (Intent, error) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return Intent{Name: Unknown}, nil
	}

	for _, p := range stopPhrases {
		if t == p || strings.HasPrefix(t, p+" ") || strings.HasPrefix(t, p+",") {
			return Intent{Name: Stop, Confidence: 0.95}, nil
		}
	}

	if strings.HasSuffix(t, "?") {
		return Intent{Name: Question, Confidence: 0.9}, nil
	}

	first := firstWord(t)
	for _, w := range questionWords {
		if first == w {
			return Intent{Name: Question, Confidence: 0.7}, nil
		}
	}
	for _, v := range commandVerbs {
		if first == v {
			return Intent{Name: Command, Confidence: 0.75}, nil
		}
	}

	return Intent{Name: SmallTalk, Confidence: 0.4}, nil
}

// firstWord returns the first delimiter-separated token of s, or "" when s
// contains only delimiters (filler transcriptions like "..." produce that).
func firstWord(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '.' || r == '!'
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Chain tries detectors in order, returning the first successful result.
// A detector returning Unknown does not stop the chain unless it is last.
type Chain []Detector

// Ensure Chain implements Detector at compile time.
var _ Detector = (Chain)(nil)

// Detect runs the chain. Only the last detector's error propagates; earlier
// failures fall through to the next detector.
func (c Chain) Detect(ctx context.Context, text string) (Intent, error) {
	var last Intent
	for i, d := range c {
		in, err := d.Detect(ctx, text)
		if err != nil {
			if i == len(c)-1 {
				return last, err
			}
			continue
		}
		if in.Name != Unknown {
			return in, nil
		}
		last = in
	}
	return last, nil
}
