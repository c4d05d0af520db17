package speech

import (
	"strings"

	"formcopilot/internal/domain"
)

// utteranceAggregator stitches provider segments into utterances. Deepgram
// finalizes an utterance in several is_final segments and marks the last one
// with speech_final.
type utteranceAggregator struct {
	finals []string
}

type recognitionResult struct {
	text  string
	final bool
}

func newUtteranceAggregator() *utteranceAggregator {
	return &utteranceAggregator{}
}

// Add folds one event in and returns the result to surface, if any.
func (a *utteranceAggregator) Add(event domain.TranscriptEvent) (recognitionResult, bool) {
	text := strings.TrimSpace(event.Text)

	if event.Kind == domain.TranscriptKindPartial {
		if text == "" {
			return recognitionResult{}, false
		}
		return recognitionResult{text: a.join(text)}, true
	}

	if text != "" {
		a.finals = append(a.finals, text)
	}
	if event.IsSpeechFinal {
		return a.Flush()
	}
	if len(a.finals) == 0 {
		return recognitionResult{}, false
	}
	return recognitionResult{text: a.join("")}, true
}

// Flush emits pending segments as a final utterance.
func (a *utteranceAggregator) Flush() (recognitionResult, bool) {
	joined := a.join("")
	a.finals = nil
	if joined == "" {
		return recognitionResult{}, false
	}
	return recognitionResult{text: joined, final: true}, true
}

func (a *utteranceAggregator) join(tail string) string {
	parts := a.finals
	if tail != "" {
		parts = append(append([]string(nil), a.finals...), tail)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
