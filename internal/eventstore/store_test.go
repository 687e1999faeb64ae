package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxlist/voxlist-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	// writes are accepted and dropped
	if err := es.AppendEvent(ctx, Event{SessionID: "s1", Type: TypeCommandAccepted}); err != nil {
		t.Fatalf("ephemeral append: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "s1", 10)
	if err != nil || events != nil {
		t.Fatalf("ephemeral store must return nothing, got %v / %v", events, err)
	}
}

func TestAppendAndQueryTimeline(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	sessionID := "session-123"
	if err := es.AppendSession(context.Background(), sessionID, "listing-7"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	timeline := []Event{
		{SessionID: sessionID, Type: TypeSessionStarted, Phase: "welcome"},
		{SessionID: sessionID, Type: TypeCommandAccepted, Phase: "welcome", Payload: []byte(`{"command":"next"}`)},
		{SessionID: sessionID, Type: TypePhaseChanged, Phase: "image-upload"},
		{SessionID: sessionID, Type: TypeCaptureStarted, Phase: "audio-recording"},
	}
	for _, evt := range timeline {
		if err := es.AppendEvent(context.Background(), evt); err != nil {
			t.Fatalf("append event %s: %v", evt.Type, err)
		}
	}

	events, err := es.ListSessionEvents(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != len(timeline) {
		t.Fatalf("expected %d events, got %d", len(timeline), len(events))
	}
	if events[1].Type != TypeCommandAccepted || string(events[1].Payload) != `{"command":"next"}` {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[2].Phase != "image-upload" {
		t.Fatalf("phase not persisted: %+v", events[2])
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "old-session", "listing-1"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{SessionID: "old-session", Type: TypeSessionStarted}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "new-session", "listing-2"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
