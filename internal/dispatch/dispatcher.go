// Package dispatch throttles recognized commands before they reach the
// workflow. Streaming recognition sees the same logical utterance more than
// once (interim text, then final text), so a cooldown window absorbs the
// duplicates.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxlist/voxlist-core/internal/command"
	"github.com/voxlist/voxlist-core/internal/config"
	"github.com/voxlist/voxlist-core/internal/protocol"
)

// Sink receives utterances that survive the cooldown. The orchestrator is
// the usual sink; it routes between guided mode and the plain command set.
type Sink interface {
	HandleCommand(rawText string, cmd command.Command, recognized bool)
}

// Notice is the transient "heard" acknowledgment shown to the user after a
// command is accepted. It expires on its own; the host UI polls.
type Notice struct {
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Dispatcher struct {
	cfg   config.DispatchConfig
	sink  Sink
	log   *slog.Logger
	clock func() time.Time

	// onAccepted, when set, observes every command that clears the cooldown.
	onAccepted func(protocol.CommandEvent)

	mu       sync.Mutex
	lastAt   time.Time
	lastSet  bool
	notice   Notice
	accepted metric.Int64Counter
	dropped  metric.Int64Counter
}

func NewDispatcher(cfg config.DispatchConfig, sink Sink, onAccepted func(protocol.CommandEvent), log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg,
		sink:       sink,
		onAccepted: onAccepted,
		log:        log.With(slog.String("component", "dispatcher")),
		clock:      time.Now,
	}
	if err := d.initMetrics(); err != nil {
		d.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return d
}

func (d *Dispatcher) initMetrics() error {
	meter := otel.Meter("github.com/voxlist/voxlist-core/runtime")
	accepted, err := meter.Int64Counter("voxlist.dispatch.accepted", metric.WithDescription("Commands dispatched to the workflow"))
	if err != nil {
		return err
	}
	dropped, err := meter.Int64Counter("voxlist.dispatch.suppressed", metric.WithDescription("Recognized commands suppressed by the cooldown"))
	if err != nil {
		return err
	}
	d.accepted = accepted
	d.dropped = dropped
	return nil
}

func (d *Dispatcher) cooldown() time.Duration {
	if d.cfg.CooldownMS <= 0 {
		return 0
	}
	return time.Duration(d.cfg.CooldownMS) * time.Millisecond
}

func (d *Dispatcher) noticeDuration() time.Duration {
	if d.cfg.NoticeDurationMS <= 0 {
		return 2500 * time.Millisecond
	}
	return time.Duration(d.cfg.NoticeDurationMS) * time.Millisecond
}

// Dispatch routes one utterance. Recognized commands inside the cooldown
// window are dropped without any feedback; the user already saw the first
// acknowledgment and a second reaction would double-trigger the action.
// Unrecognized utterances are never throttled, the workflow needs them for
// retry escalation.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, rawText string, cmd command.Command, recognized bool) bool {
	if !recognized {
		d.sink.HandleCommand(rawText, cmd, false)
		return true
	}

	now := d.clock()

	d.mu.Lock()
	if d.lastSet && now.Sub(d.lastAt) < d.cooldown() {
		d.mu.Unlock()
		if d.dropped != nil {
			d.dropped.Add(ctx, 1)
		}
		d.log.Debug("command suppressed by cooldown",
			slog.String("command", string(cmd)),
			slog.String("session_id", sessionID))
		return false
	}
	d.lastAt = now
	d.lastSet = true
	d.notice = Notice{
		Text:      fmt.Sprintf("Heard: %q", rawText),
		ExpiresAt: now.Add(d.noticeDuration()),
	}
	d.mu.Unlock()

	if d.accepted != nil {
		d.accepted.Add(ctx, 1)
	}
	d.log.Info("command dispatched",
		slog.String("command", string(cmd)),
		slog.String("session_id", sessionID))

	if d.onAccepted != nil {
		d.onAccepted(protocol.CommandEvent{
			SessionID:    sessionID,
			RawText:      rawText,
			Command:      string(cmd),
			RecognizedAt: now.UTC(),
		})
	}

	d.sink.HandleCommand(rawText, cmd, true)
	return true
}

// Notice returns the current acknowledgment, or false once it has expired.
func (d *Dispatcher) Notice() (Notice, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.notice.Text == "" || !d.clock().Before(d.notice.ExpiresAt) {
		return Notice{}, false
	}
	return d.notice, true
}
