package nlu

import (
	"context"
	"strings"
)

type mockClassifier struct{}

// NewMockClassifier returns a deterministic classifier for development and
// tests.
func NewMockClassifier() Classifier {
	return &mockClassifier{}
}

func (m *mockClassifier) Classify(_ context.Context, text string) (Intent, error) {
	lowered := strings.ToLower(text)
	switch {
	case strings.Contains(lowered, "sell"):
		return Intent{Type: IntentStartTask, Confidence: 0.9}, nil
	case strings.Contains(lowered, "previous"):
		return Intent{Type: IntentNavigateBack, Confidence: 0.8}, nil
	case strings.Contains(lowered, "proceed"):
		return Intent{Type: IntentAdvance, Confidence: 0.8}, nil
	case strings.Contains(lowered, "yes"):
		return Intent{Type: IntentConfirm, Confidence: 0.7}, nil
	default:
		return Intent{Type: "chitchat", Confidence: 0.2}, nil
	}
}
