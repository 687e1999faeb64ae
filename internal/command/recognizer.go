// Package command maps raw utterance text to symbolic workflow commands:
// an ordered multilingual keyword table first, an NLU fallback second.
package command

import (
	"context"
	"log/slog"
	"strings"

	"github.com/voxlist/voxlist-core/internal/nlu"
)

// Recognizer classifies utterances. It is stateless and safe to call on
// both interim and final text; callers must tolerate duplicate recognition
// of the same logical utterance (the dispatcher's cooldown absorbs it).
type Recognizer struct {
	vocab         Vocabulary
	classifier    nlu.Classifier
	minConfidence float64
	log           *slog.Logger
}

func NewRecognizer(vocab Vocabulary, classifier nlu.Classifier, minConfidence float64, log *slog.Logger) *Recognizer {
	return &Recognizer{
		vocab:         vocab,
		classifier:    classifier,
		minConfidence: minConfidence,
		log:           log.With(slog.String("component", "recognizer")),
	}
}

// intentCommands is the small fixed set of NLU intents mapped to commands;
// every other classification is treated as unrecognized.
var intentCommands = map[string]Command{
	nlu.IntentStartTask:    CmdStartGuided,
	nlu.IntentNavigateBack: CmdBack,
	nlu.IntentAdvance:      CmdNext,
	nlu.IntentConfirm:      CmdConfirm,
}

// Recognize returns the symbolic command for the utterance, or false when
// neither the keyword table nor the NLU fallback produces one.
func (r *Recognizer) Recognize(ctx context.Context, utterance string) (Command, bool) {
	if strings.TrimSpace(utterance) == "" {
		return "", false
	}
	if cmd, ok := r.vocab.Match(utterance); ok {
		return cmd, true
	}
	if r.classifier == nil {
		return "", false
	}

	intent, err := r.classifier.Classify(ctx, utterance)
	if err != nil {
		r.log.Warn("nlu classification failed", slog.String("error", err.Error()))
		return "", false
	}
	if intent.Confidence <= r.minConfidence {
		return "", false
	}
	cmd, ok := intentCommands[intent.Type]
	return cmd, ok
}
