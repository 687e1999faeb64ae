package voice

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/voxlist/voxlist-core/internal/command"
	"github.com/voxlist/voxlist-core/internal/config"
	"github.com/voxlist/voxlist-core/internal/wizard"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordedSpeech struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordedSpeech) speak(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
}

func (r *recordedSpeech) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *recordedSpeech) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

type fakeEffects struct {
	pickerOpened  int
	captureStart  int
	captureStop   int
	capturePause  int
	pricingCalled int
	submitted     int
}

func (f *fakeEffects) OpenFilePicker()   { f.pickerOpened++ }
func (f *fakeEffects) StartCapture()     { f.captureStart++ }
func (f *fakeEffects) StopCapture()      { f.captureStop++ }
func (f *fakeEffects) PauseCapture()     { f.capturePause++ }
func (f *fakeEffects) CalculatePricing() { f.pricingCalled++ }
func (f *fakeEffects) Submit()           { f.submitted++ }

type harness struct {
	coord   *Coordinator
	speech  *recordedSpeech
	effects *fakeEffects
	form    wizard.FormState
	mu      sync.Mutex
}

func (h *harness) setForm(f wizard.FormState) {
	h.mu.Lock()
	h.form = f
	h.mu.Unlock()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{speech: &recordedSpeech{}, effects: &fakeEffects{}}
	// scans are driven manually via scanOnce so the ticker can't interleave
	cfg := config.VoiceConfig{Locale: "en-US", ScanIntervalMS: 3600000, HistoryLimit: 5, RetryThreshold: 2}
	h.coord = NewCoordinator(
		cfg,
		wizard.NewController(),
		func() wizard.FormState { h.mu.Lock(); defer h.mu.Unlock(); return h.form },
		h.speech.speak,
		h.effects,
		func(string) bool { return true },
		testLogger(),
	)
	h.coord.Start(context.Background())
	t.Cleanup(h.coord.Stop)
	return h
}

func TestStartResetsToWelcomeAndSpeaks(t *testing.T) {
	h := newHarness(t)
	if h.coord.Phase() != PhaseWelcome {
		t.Fatalf("expected welcome phase, got %s", h.coord.Phase())
	}
	if h.coord.Progress() != 0 {
		t.Fatalf("expected 0%% progress at welcome, got %d", h.coord.Progress())
	}
	if len(h.speech.all()) == 0 {
		t.Fatal("welcome prompt should be spoken")
	}
}

func TestAdvanceBlockedByValidator(t *testing.T) {
	h := newHarness(t)
	h.coord.AdvancePhase() // welcome -> image-upload, unvalidated

	// no image present: 'next' must speak a validation error and stay
	h.coord.HandleCommand("next", command.CmdNext, true)
	if h.coord.Phase() != PhaseImageUpload {
		t.Fatalf("expected to stay on image-upload, got %s", h.coord.Phase())
	}
	if !strings.Contains(h.speech.last(), "photo") {
		t.Fatalf("expected spoken validation error, got %q", h.speech.last())
	}
}

func TestAdvanceMovesWithValidForm(t *testing.T) {
	h := newHarness(t)
	h.coord.AdvancePhase()
	h.setForm(wizard.FormState{ImagePresent: true})
	h.coord.HandleCommand("next", command.CmdNext, true)
	if h.coord.Phase() != PhaseAudioRecording {
		t.Fatalf("expected audio-recording, got %s", h.coord.Phase())
	}
	if h.coord.Progress() != phaseProgress[PhaseAudioRecording] {
		t.Fatalf("progress must follow the static table")
	}
}

func TestRetryCounterEscalation(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		h.coord.HandleCommand("blargh", "", false)
		if h.coord.RetryCount() != i {
			t.Fatalf("expected retry count %d, got %d", i, h.coord.RetryCount())
		}
	}

	// at/above the threshold, the full accepted-action list is spoken
	last := h.speech.last()
	for _, verb := range phaseActions[PhaseWelcome] {
		if !strings.Contains(last, string(verb)) {
			t.Fatalf("expected full action list in %q, missing %s", last, verb)
		}
	}

	// a recognized command resets the counter
	h.coord.HandleCommand("next", command.CmdNext, true)
	if h.coord.RetryCount() != 0 {
		t.Fatalf("expected retry reset, got %d", h.coord.RetryCount())
	}
}

func TestShortNudgeBelowThreshold(t *testing.T) {
	h := newHarness(t)
	h.coord.HandleCommand("mumble", "", false)
	last := h.speech.last()
	if strings.Contains(last, string(command.CmdStartGuided)) {
		t.Fatalf("below threshold the nudge must stay short, got %q", last)
	}
}

func TestShortcutsBypassPhaseTable(t *testing.T) {
	h := newHarness(t)
	before := len(h.speech.all())
	h.coord.HandleCommand("repeat that", "", false)
	if h.coord.RetryCount() != 0 {
		t.Fatal("shortcut match must not count as unrecognized")
	}
	if len(h.speech.all()) != before+1 {
		t.Fatal("repeat should re-speak the guidance")
	}
	if h.speech.last() != phaseGuidance[PhaseWelcome] {
		t.Fatalf("expected welcome guidance repeated, got %q", h.speech.last())
	}

	// rate hints are accepted no-ops
	h.coord.HandleCommand("speak slower", "", false)
	if h.coord.RetryCount() != 0 {
		t.Fatal("rate hint must be a matched shortcut")
	}
}

func TestPhaseActionsTriggerEffects(t *testing.T) {
	h := newHarness(t)
	h.coord.AdvancePhase() // image-upload
	h.coord.HandleCommand("upload photo", command.CmdUploadPhoto, true)
	if h.effects.pickerOpened != 1 {
		t.Fatal("upload-photo should open the file picker")
	}

	h.setForm(wizard.FormState{ImagePresent: true})
	h.coord.HandleCommand("next", command.CmdNext, true) // audio-recording
	h.coord.HandleCommand("start recording", command.CmdStartRecording, true)
	if h.effects.captureStart != 1 {
		t.Fatal("start-recording should start capture")
	}
	h.coord.HandleCommand("stop", command.CmdStopRecording, true)
	if h.effects.captureStop != 1 {
		t.Fatal("stop-recording should stop capture")
	}

	h.setForm(wizard.FormState{ImagePresent: true, Transcript: "a mug"})
	h.coord.HandleCommand("next", command.CmdNext, true) // pricing
	h.coord.HandleCommand("calculate price", command.CmdCalculatePrice, true)
	if h.effects.pricingCalled != 1 {
		t.Fatal("calculate-price should trigger the pricing producer")
	}
}

func TestActionOutsidePhaseTableEscalates(t *testing.T) {
	h := newHarness(t)
	// welcome phase does not accept calculate-price
	h.coord.HandleCommand("calculate price", command.CmdCalculatePrice, true)
	if h.coord.RetryCount() != 1 {
		t.Fatalf("out-of-phase action must escalate, retry=%d", h.coord.RetryCount())
	}
}

func TestHistoryBoundedToLastFive(t *testing.T) {
	h := newHarness(t)
	utterances := []string{"one", "two", "three", "four", "five", "six", "seven"}
	for _, u := range utterances {
		h.coord.HandleCommand(u, "", false)
	}
	snap := h.coord.Snapshot()
	if len(snap.History) != 5 {
		t.Fatalf("expected history of 5, got %d", len(snap.History))
	}
	if snap.History[0] != "three" || snap.History[4] != "seven" {
		t.Fatalf("expected oldest entries dropped, got %v", snap.History)
	}
}

func TestSubmitOnReviewPhase(t *testing.T) {
	h := newHarness(t)
	h.setForm(wizard.FormState{
		ImagePresent: true, Transcript: "mug",
		Name: "Mug", Description: "handmade", Category: "kitchen", PriceCents: 900,
	})
	for h.coord.Phase() != PhaseReviewPublish {
		if !h.coord.AdvancePhase() {
			t.Fatalf("advance stalled on %s", h.coord.Phase())
		}
	}
	h.coord.HandleCommand("publish it", command.CmdSubmit, true)
	if h.effects.submitted != 1 {
		t.Fatal("submit should publish the listing")
	}
}

func TestErrorScanSpeaksOnceNotEveryTick(t *testing.T) {
	h := newHarness(t)
	h.coord.AdvancePhase() // image-upload, no image present

	spokenBefore := len(h.speech.all())
	h.coord.scanOnce()
	h.coord.scanOnce()
	h.coord.scanOnce()

	var errSpeech int
	for _, msg := range h.speech.all()[spokenBefore:] {
		if strings.Contains(msg, "photo has been added") {
			errSpeech++
		}
	}
	if errSpeech != 1 {
		t.Fatalf("detector must speak the same condition once, spoke %d times", errSpeech)
	}
	if len(h.coord.RecentErrors()) != 3 {
		t.Fatalf("expected last 3 errors exposed, got %d", len(h.coord.RecentErrors()))
	}
}

func TestErrorScanCapabilityUnavailable(t *testing.T) {
	speech := &recordedSpeech{}
	cfg := config.VoiceConfig{ScanIntervalMS: 3600000, HistoryLimit: 5, RetryThreshold: 2}
	coord := NewCoordinator(
		cfg,
		wizard.NewController(),
		func() wizard.FormState {
			return wizard.FormState{ImagePresent: true, Transcript: "a mug"}
		},
		speech.speak,
		&fakeEffects{},
		func(producer string) bool { return producer != "pricing-engine" },
		testLogger(),
	)
	coord.Start(context.Background())
	defer coord.Stop()

	coord.AdvancePhase() // image-upload
	coord.scanOnce()
	for _, msg := range speech.all() {
		if strings.Contains(msg, "unavailable") {
			t.Fatal("image-analyzer is available; no capability error expected")
		}
	}

	coord.AdvancePhase() // audio-recording
	coord.AdvancePhase() // pricing-engine
	if coord.Phase() != PhasePricingEngine {
		t.Fatalf("expected pricing-engine, got %s", coord.Phase())
	}
	coord.scanOnce()
	if !strings.Contains(speech.last(), "pricing-engine service is unavailable") {
		t.Fatalf("expected capability error spoken, got %q", speech.last())
	}
}

func TestReportErrorSpeaksAndRecords(t *testing.T) {
	h := newHarness(t)
	before := len(h.speech.all())

	h.coord.ReportError("Speech recognition stopped unexpectedly.", "Say 'start recording' to try again.")
	if got := h.coord.RecentErrors(); len(got) != 1 || !strings.Contains(got[0], "stopped unexpectedly") {
		t.Fatalf("reported error missing from recent errors: %v", got)
	}
	if !strings.Contains(h.speech.last(), "stopped unexpectedly") {
		t.Fatalf("reported error not spoken: %q", h.speech.last())
	}

	// the same condition repeating stays quiet
	h.coord.ReportError("Speech recognition stopped unexpectedly.", "Say 'start recording' to try again.")
	if len(h.speech.all()) != before+1 {
		t.Fatalf("repeated report re-spoken: %v", h.speech.all())
	}
	if got := h.coord.RecentErrors(); len(got) != 2 {
		t.Fatalf("repeated report should still be recorded: %v", got)
	}
}

func TestRetreatFromWelcomeIsNoOp(t *testing.T) {
	h := newHarness(t)
	if h.coord.RetreatPhase() {
		t.Fatal("retreat at welcome must be a no-op")
	}
}
