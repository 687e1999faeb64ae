package nlu

import (
	"context"
	"fmt"

	"github.com/voxlist/voxlist-core/internal/config"
)

// Intent is the conversational-intent service's classification of free text.
type Intent struct {
	Type       string  `json:"intent_type"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
}

// Intent types the command recognizer is willing to map. Anything else a
// backend reports is treated as unrecognized upstream.
const (
	IntentStartTask    = "start_task"
	IntentNavigateBack = "navigate_back"
	IntentAdvance      = "advance"
	IntentConfirm      = "confirm"
)

// Classifier defines a pluggable intent-classification backend.
type Classifier interface {
	Classify(ctx context.Context, text string) (Intent, error)
}

// New builds a classifier from config.
func New(cfg config.NLUConfig) (Classifier, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockClassifier(), nil
	case "http":
		return NewHTTPClassifier(cfg), nil
	case "exec":
		return NewExecClassifier(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown nlu mode %q", cfg.Mode)
	}
}
