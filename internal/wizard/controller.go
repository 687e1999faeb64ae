// Package wizard drives the fixed-order product-listing task sequence.
package wizard

import (
	"fmt"
	"strings"
	"sync"
)

// Step is one stage of the four-stage listing task.
type Step string

const (
	StepImageUpload    Step = "image-upload"
	StepAudioRecording Step = "audio-recording"
	StepPricingEngine  Step = "pricing-engine"
	StepProductDetails Step = "product-details"
)

// Order is the fixed traversal order. Advance only moves to the immediate
// successor, retreat only to the immediate predecessor.
var Order = []Step{StepImageUpload, StepAudioRecording, StepPricingEngine, StepProductDetails}

// FormState carries the data the step validators inspect. The core never
// produces this data itself; step-content producers fill it in.
type FormState struct {
	ImagePresent bool `json:"image_present"`

	Transcript string `json:"transcript,omitempty"`
	FreeText   string `json:"free_text,omitempty"`

	// Pricing is an optional step: a suggestion may or may not exist and
	// neither it nor an approval flag gates advancement.
	PriceSuggestionCents int64 `json:"price_suggestion_cents,omitempty"`
	PriceApproved        bool  `json:"price_approved,omitempty"`

	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	PriceCents  int64  `json:"price_cents,omitempty"`
}

// ValidationError reports why a step refused to complete. It is surfaced
// inline to the user and is never fatal.
type ValidationError struct {
	Step    Step
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("step %s incomplete: %s", e.Step, e.Message)
}

// Validate checks the step-specific completion predicate.
func Validate(step Step, form FormState) error {
	switch step {
	case StepImageUpload:
		if !form.ImagePresent {
			return &ValidationError{Step: step, Message: "add a product photo before continuing"}
		}
	case StepAudioRecording:
		if strings.TrimSpace(form.Transcript) == "" && strings.TrimSpace(form.FreeText) == "" {
			return &ValidationError{Step: step, Message: "record a description or type one before continuing"}
		}
	case StepPricingEngine:
		// optional step, always passes
	case StepProductDetails:
		if strings.TrimSpace(form.Name) == "" || strings.TrimSpace(form.Description) == "" || strings.TrimSpace(form.Category) == "" {
			return &ValidationError{Step: step, Message: "name, description and category are required"}
		}
		if form.PriceCents <= 0 {
			return &ValidationError{Step: step, Message: "price must be greater than zero"}
		}
	default:
		return &ValidationError{Step: step, Message: "unknown step"}
	}
	return nil
}

// CanAdvance reports whether the step's validator holds.
func CanAdvance(step Step, form FormState) bool {
	return Validate(step, form) == nil
}

// Controller tracks the current step and the monotonically growing
// completion set for one listing session.
type Controller struct {
	mu        sync.Mutex
	index     int
	completed map[Step]bool
}

func NewController() *Controller {
	return &Controller{completed: make(map[Step]bool)}
}

// Current returns the step the user is on.
func (c *Controller) Current() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Order[c.index]
}

// IsComplete reports whether a step has ever been completed. Completion
// never un-marks, including across retreats.
func (c *Controller) IsComplete(step Step) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed[step]
}

// Completed returns the completed steps in traversal order.
func (c *Controller) Completed() []Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	var steps []Step
	for _, s := range Order {
		if c.completed[s] {
			steps = append(steps, s)
		}
	}
	return steps
}

// Advance marks the current step complete and moves to the successor when
// the validator holds. No-op transitions (validator fails, or already at
// the last step) are absorbed silently; the return value reports whether
// the step changed.
func (c *Controller) Advance(form FormState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := Order[c.index]
	if Validate(current, form) != nil {
		return false
	}
	if c.index >= len(Order)-1 {
		c.completed[current] = true
		return false
	}
	c.completed[current] = true
	c.index++
	return true
}

// Retreat moves to the predecessor, or is a no-op at the first step.
// Retreating does not un-mark completion.
func (c *Controller) Retreat() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == 0 {
		return false
	}
	c.index--
	return true
}
