// Package voice runs the guided workflow: phase state, spoken guidance,
// escalating help, and the periodic error detector.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxlist/voxlist-core/internal/command"
	"github.com/voxlist/voxlist-core/internal/config"
	"github.com/voxlist/voxlist-core/internal/wizard"
)

// Effects are the side effects phase actions trigger. The coordinator only
// decides; the owner executes.
type Effects interface {
	OpenFilePicker()
	StartCapture()
	StopCapture()
	PauseCapture()
	CalculatePricing()
	Submit()
}

// Snapshot is the read-only view exposed to the host UI.
type Snapshot struct {
	Active       bool     `json:"active"`
	Phase        Phase    `json:"phase"`
	Progress     int      `json:"progress"`
	Guidance     string   `json:"guidance"`
	Hints        []string `json:"hints"`
	RecentErrors []string `json:"recent_errors"`
	History      []string `json:"history"`
	RetryCount   int      `json:"retry_count"`
}

// Coordinator owns the voice-guided workflow for one listing session. It is
// instance-scoped and injected; concurrent sessions never share state.
type Coordinator struct {
	cfg       config.VoiceConfig
	wiz       *wizard.Controller
	form      func() wizard.FormState
	speak     func(text string)
	effects   Effects
	available func(producer string) bool
	log       *slog.Logger

	escalations metric.Int64Counter

	mu            sync.Mutex
	active        bool
	phase         Phase
	history       []string
	errors        []string
	helps         []string
	retries       int
	lastErrSpoken string
	cancelScan    context.CancelFunc
}

func NewCoordinator(
	cfg config.VoiceConfig,
	wiz *wizard.Controller,
	form func() wizard.FormState,
	speak func(text string),
	effects Effects,
	available func(producer string) bool,
	log *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		wiz:       wiz,
		form:      form,
		speak:     speak,
		effects:   effects,
		available: available,
		log:       log.With(slog.String("component", "voice-coordinator")),
		phase:     PhaseWelcome,
	}
	c.initMetrics()
	return c
}

func (c *Coordinator) initMetrics() {
	meter := otel.Meter("github.com/voxlist/voxlist-core/voice")
	var err error
	c.escalations, err = meter.Int64Counter("voxlist.voice.escalations",
		metric.WithDescription("Unrecognized commands that triggered spoken help"))
	if err != nil {
		c.log.Warn("failed to register escalation counter", slog.String("error", err.Error()))
	}
}

// Start resets to the welcome phase, clears history, errors and hints, and
// speaks the welcome prompt. The periodic error detector runs until the
// context is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancelScan != nil {
		c.cancelScan()
	}
	scanCtx, cancel := context.WithCancel(ctx)
	c.cancelScan = cancel
	c.active = true
	c.phase = PhaseWelcome
	c.history = nil
	c.errors = nil
	c.helps = nil
	c.retries = 0
	c.lastErrSpoken = ""
	c.mu.Unlock()

	c.say(phaseGuidance[PhaseWelcome])
	go c.runErrorScan(scanCtx)
}

// Stop leaves guided mode.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.active = false
	if c.cancelScan != nil {
		c.cancelScan()
		c.cancelScan = nil
	}
	c.mu.Unlock()
}

func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Progress is the static per-phase percentage, never a function of time.
func (c *Coordinator) Progress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return phaseProgress[c.phase]
}

func (c *Coordinator) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// Snapshot returns the observable state for the host UI.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Active:       c.active,
		Phase:        c.phase,
		Progress:     phaseProgress[c.phase],
		Guidance:     phaseGuidance[c.phase],
		Hints:        append([]string(nil), phaseHints[c.phase]...),
		RecentErrors: lastN(c.errors, 3),
		History:      append([]string(nil), c.history...),
		RetryCount:   c.retries,
	}
}

// AdvancePhase validates the current phase with the shared step predicates
// before moving on. On failure it speaks the validation error and stays.
func (c *Coordinator) AdvancePhase() bool {
	c.mu.Lock()
	phase := c.phase
	idx := phaseIndex(phase)
	if idx >= len(phaseOrder)-1 {
		c.mu.Unlock()
		return false
	}

	if step, shared := phaseSteps[phase]; shared {
		if err := wizard.Validate(step, c.form()); err != nil {
			c.mu.Unlock()
			var verr *wizard.ValidationError
			msg := "That step isn't finished yet."
			if errors.As(err, &verr) {
				msg = verr.Message
			}
			c.say(msg)
			return false
		}
		c.wiz.Advance(c.form())
	}

	next := phaseOrder[idx+1]
	c.phase = next
	c.mu.Unlock()

	c.say(phaseGuidance[next])
	return true
}

// RetreatPhase moves to the previous phase, keeping the wizard in lockstep
// when both phases have wizard analogues.
func (c *Coordinator) RetreatPhase() bool {
	c.mu.Lock()
	idx := phaseIndex(c.phase)
	if idx == 0 {
		c.mu.Unlock()
		return false
	}
	_, currentShared := phaseSteps[c.phase]
	prev := phaseOrder[idx-1]
	_, prevShared := phaseSteps[prev]
	if currentShared && prevShared {
		c.wiz.Retreat()
	}
	c.phase = prev
	c.mu.Unlock()

	c.say(phaseGuidance[prev])
	return true
}

// HandleCommand processes one utterance: history, shortcuts, the phase's
// accepted-action table, then retry escalation for anything unmatched.
func (c *Coordinator) HandleCommand(rawText string, cmd command.Command, recognized bool) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.history = append(c.history, rawText)
	limit := c.cfg.HistoryLimit
	if limit <= 0 {
		limit = 5
	}
	if len(c.history) > limit {
		c.history = c.history[len(c.history)-limit:]
	}
	c.mu.Unlock()

	if c.handleShortcut(rawText) {
		c.resetRetries()
		return
	}

	if recognized && c.handleAction(cmd) {
		c.resetRetries()
		return
	}

	c.escalate()
}

// handleShortcut matches the fixed phase-independent shortcut table against
// the raw utterance.
func (c *Coordinator) handleShortcut(rawText string) bool {
	text := strings.ToLower(strings.TrimSpace(rawText))
	switch {
	case strings.Contains(text, "repeat"), strings.Contains(text, "say that again"):
		c.say(phaseGuidance[c.Phase()])
	case strings.Contains(text, "clear"):
		c.mu.Lock()
		c.errors = nil
		c.helps = nil
		c.mu.Unlock()
	case strings.Contains(text, "louder"), strings.Contains(text, "quieter"),
		strings.Contains(text, "faster"), strings.Contains(text, "slower"):
		// speech-rate and volume hints are accepted but currently no-ops
	case strings.Contains(text, "skip"):
		c.AdvancePhase()
	case strings.Contains(text, "restart"):
		c.mu.Lock()
		c.phase = PhaseWelcome
		c.history = nil
		c.errors = nil
		c.helps = nil
		c.mu.Unlock()
		c.say(phaseGuidance[PhaseWelcome])
	default:
		return false
	}
	return true
}

// handleAction dispatches a recognized symbolic command against the current
// phase's accepted-action table.
func (c *Coordinator) handleAction(cmd command.Command) bool {
	phase := c.Phase()
	if !actionAccepted(phase, cmd) {
		return false
	}

	switch cmd {
	case command.CmdNext, command.CmdStartGuided:
		c.AdvancePhase()
	case command.CmdConfirm:
		if phase == PhaseReviewPublish {
			c.effects.Submit()
		} else {
			c.AdvancePhase()
		}
	case command.CmdBack:
		c.RetreatPhase()
	case command.CmdUploadPhoto:
		c.effects.OpenFilePicker()
	case command.CmdStartRecording:
		c.effects.StartCapture()
	case command.CmdStopRecording:
		c.effects.StopCapture()
	case command.CmdPauseRecording:
		c.effects.PauseCapture()
	case command.CmdCalculatePrice:
		c.effects.CalculatePricing()
	case command.CmdSubmit:
		c.effects.Submit()
	case command.CmdHelp:
		c.say(strings.Join(phaseHints[phase], ". "))
	case command.CmdStatus:
		c.say(fmt.Sprintf("You're on the %s step, about %d percent done.", phase, phaseProgress[phase]))
	default:
		return false
	}
	return true
}

// escalate increments the retry counter and speaks help whose verbosity
// depends on the threshold: a short nudge below it, the full accepted
// action list at or above it.
func (c *Coordinator) escalate() {
	c.mu.Lock()
	c.retries++
	retries := c.retries
	phase := c.phase
	c.mu.Unlock()

	if c.escalations != nil {
		c.escalations.Add(context.Background(), 1)
	}

	threshold := c.cfg.RetryThreshold
	if threshold <= 0 {
		threshold = 2
	}

	if retries < threshold {
		c.say("Sorry, I didn't catch that. Try saying 'next' or 'help'.")
		return
	}

	verbs := phaseActions[phase]
	names := make([]string, 0, len(verbs))
	for _, v := range verbs {
		names = append(names, string(v))
	}
	c.say(fmt.Sprintf("Here's everything you can say right now: %s.", strings.Join(names, ", ")))
}

func (c *Coordinator) resetRetries() {
	c.mu.Lock()
	c.retries = 0
	c.mu.Unlock()
}

// runErrorScan periodically checks phase-specific conditions while guided
// mode is active.
func (c *Coordinator) runErrorScan(ctx context.Context) {
	interval := time.Duration(c.cfg.ScanIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 4 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.scanOnce()
		}
	}
}

// scanOnce accumulates phase errors and parallel help suggestions, and
// proactively speaks at most one combined message per distinct condition
// so consecutive ticks do not spam the user.
func (c *Coordinator) scanOnce() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	phase := c.phase
	c.mu.Unlock()

	form := c.form()
	var errMsg, helpMsg string
	critical := false

	switch phase {
	case PhaseImageUpload:
		if !form.ImagePresent {
			errMsg = "No product photo has been added."
			helpMsg = "Say 'upload photo' to open the picker."
			critical = true
		}
	case PhaseAudioRecording:
		if strings.TrimSpace(form.Transcript) == "" && strings.TrimSpace(form.FreeText) == "" {
			errMsg = "No description has been captured yet."
			helpMsg = "Say 'start recording' and describe your product."
			critical = true
		}
	case PhaseProductDetails:
		if wizard.Validate(wizard.StepProductDetails, form) != nil {
			errMsg = "Some required details are still missing."
			helpMsg = "Check that name, description, category and price are filled."
			critical = true
		}
	}

	if errMsg == "" {
		if producer, ok := phaseProducers[phase]; ok && c.available != nil && !c.available(producer) {
			errMsg = fmt.Sprintf("The %s service is unavailable.", producer)
			helpMsg = "You can continue with the other steps and retry later."
			critical = true
		}
	}

	if errMsg == "" {
		return
	}

	c.mu.Lock()
	c.errors = append(c.errors, errMsg)
	c.helps = append(c.helps, helpMsg)
	if len(c.errors) > 10 {
		c.errors = c.errors[len(c.errors)-10:]
		c.helps = c.helps[len(c.helps)-10:]
	}
	combined := errMsg + " " + helpMsg
	shouldSpeak := critical && helpMsg != "" && combined != c.lastErrSpoken
	if shouldSpeak {
		c.lastErrSpoken = combined
	}
	c.mu.Unlock()

	if shouldSpeak {
		c.say(combined)
	}
}

// ReportError records an externally detected failure alongside the periodic
// detector's findings and speaks it, rate-limited the same way so repeats of
// the same condition stay quiet.
func (c *Coordinator) ReportError(errMsg, helpMsg string) {
	c.mu.Lock()
	c.errors = append(c.errors, errMsg)
	c.helps = append(c.helps, helpMsg)
	if len(c.errors) > 10 {
		c.errors = c.errors[len(c.errors)-10:]
		c.helps = c.helps[len(c.helps)-10:]
	}
	combined := strings.TrimSpace(errMsg + " " + helpMsg)
	shouldSpeak := combined != c.lastErrSpoken
	if shouldSpeak {
		c.lastErrSpoken = combined
	}
	c.mu.Unlock()

	if shouldSpeak {
		c.say(combined)
	}
}

// RecentErrors exposes only the most recent few detector findings.
func (c *Coordinator) RecentErrors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lastN(c.errors, 3)
}

func (c *Coordinator) say(text string) {
	if c.speak == nil || text == "" {
		return
	}
	c.speak(text)
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return append([]string(nil), items...)
	}
	return append([]string(nil), items[len(items)-n:]...)
}

func actionAccepted(phase Phase, cmd command.Command) bool {
	for _, accepted := range phaseActions[phase] {
		if accepted == cmd {
			return true
		}
	}
	return false
}
