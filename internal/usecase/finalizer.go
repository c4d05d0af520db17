package usecase

import (
	"strings"

	"github.com/sirupsen/logrus"

	"formcopilot/internal/domain"
	"formcopilot/internal/normalize"
	"formcopilot/internal/ports"
)

// transcriptFinalizer turns a final recognition result into the message text
// that gets submitted: user vocabulary first, then normalization.
type transcriptFinalizer struct {
	vocabulary ports.RulesEngine
	log        logrus.FieldLogger
}

func newTranscriptFinalizer(vocabulary ports.RulesEngine, log logrus.FieldLogger) transcriptFinalizer {
	return transcriptFinalizer{vocabulary: vocabulary, log: log}
}

// Finalize never fails; a vocabulary error falls back to the raw text.
func (f transcriptFinalizer) Finalize(raw string, feature domain.Feature) string {
	text := strings.TrimSpace(raw)
	if f.vocabulary != nil {
		transformed, err := f.vocabulary.Apply(text)
		if err != nil {
			f.log.WithError(err).Warn("vocabulary rules failed; using raw transcript")
		} else {
			text = transformed
		}
	}
	return normalize.Normalize(text, feature)
}
