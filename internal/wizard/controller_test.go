package wizard

import "testing"

func completeForm() FormState {
	return FormState{
		ImagePresent: true,
		Transcript:   "a lovely handmade mug",
		Name:         "Mug",
		Description:  "Handmade ceramic mug",
		Category:     "kitchen",
		PriceCents:   1500,
	}
}

func TestValidators(t *testing.T) {
	cases := []struct {
		name string
		step Step
		form FormState
		ok   bool
	}{
		{"image missing", StepImageUpload, FormState{}, false},
		{"image present", StepImageUpload, FormState{ImagePresent: true}, true},
		{"audio empty", StepAudioRecording, FormState{}, false},
		{"audio transcript", StepAudioRecording, FormState{Transcript: "hello"}, true},
		{"audio free text", StepAudioRecording, FormState{FreeText: "typed instead"}, true},
		{"audio whitespace only", StepAudioRecording, FormState{Transcript: "   "}, false},
		{"pricing always ok", StepPricingEngine, FormState{}, true},
		{"details missing name", StepProductDetails, FormState{Description: "d", Category: "c", PriceCents: 100}, false},
		{"details zero price", StepProductDetails, FormState{Name: "n", Description: "d", Category: "c"}, false},
		{"details complete", StepProductDetails, FormState{Name: "n", Description: "d", Category: "c", PriceCents: 1}, true},
	}
	for _, tc := range cases {
		if got := CanAdvance(tc.step, tc.form); got != tc.ok {
			t.Errorf("%s: CanAdvance(%s) = %v, want %v", tc.name, tc.step, got, tc.ok)
		}
	}
}

func TestAdvanceBlockedLeavesStateUnchanged(t *testing.T) {
	c := NewController()
	if c.Advance(FormState{}) {
		t.Fatal("advance should fail without an image")
	}
	if c.Current() != StepImageUpload {
		t.Fatalf("expected to stay on %s, got %s", StepImageUpload, c.Current())
	}
	if len(c.Completed()) != 0 {
		t.Fatalf("expected empty completion set, got %v", c.Completed())
	}
}

func TestAdvanceMarksCompleteAndMoves(t *testing.T) {
	c := NewController()
	form := completeForm()
	if !c.Advance(form) {
		t.Fatal("advance from image-upload should succeed")
	}
	if c.Current() != StepAudioRecording {
		t.Fatalf("expected %s, got %s", StepAudioRecording, c.Current())
	}
	if !c.IsComplete(StepImageUpload) {
		t.Fatal("image-upload should be marked complete")
	}
}

func TestAdvanceAtLastStepIsNoOp(t *testing.T) {
	c := NewController()
	form := completeForm()
	for i := 0; i < len(Order)-1; i++ {
		if !c.Advance(form) {
			t.Fatalf("advance %d should succeed", i)
		}
	}
	if c.Current() != StepProductDetails {
		t.Fatalf("expected last step, got %s", c.Current())
	}
	if c.Advance(form) {
		t.Fatal("advance at last step must not move")
	}
	if c.Current() != StepProductDetails {
		t.Fatalf("expected to remain on last step, got %s", c.Current())
	}
	if !c.IsComplete(StepProductDetails) {
		t.Fatal("last step should still record completion")
	}
}

func TestRetreatDoesNotUnmarkCompletion(t *testing.T) {
	c := NewController()
	if c.Retreat() {
		t.Fatal("retreat at first step must be a no-op")
	}
	if !c.Advance(completeForm()) {
		t.Fatal("advance should succeed")
	}
	if !c.Retreat() {
		t.Fatal("retreat should move back")
	}
	if c.Current() != StepImageUpload {
		t.Fatalf("expected %s, got %s", StepImageUpload, c.Current())
	}
	if !c.IsComplete(StepImageUpload) {
		t.Fatal("completion must survive a retreat")
	}
}
