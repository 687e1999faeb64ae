package capture

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/voxlist/voxlist-core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.CaptureConfig {
	return config.CaptureConfig{
		SampleRate:       16000,
		Channels:         1,
		ChunkIntervalMS:  250,
		PreferredFormats: []string{"audio/webm;codecs=opus", "audio/webm"},
	}
}

// fakeDevice rejects the preferred constraint set a configurable number of
// times before handing out a stream.
type fakeDevice struct {
	rejectPreferred bool
	failAll         error
	formats         []string
	acquired        []Constraints
	stream          *FrameStream
}

func (d *fakeDevice) Acquire(_ context.Context, c Constraints) (Stream, error) {
	d.acquired = append(d.acquired, c)
	if d.failAll != nil {
		return nil, d.failAll
	}
	if d.rejectPreferred && c.EchoCancellation {
		return nil, &DeviceAccessError{Kind: DeviceErrorOverConstrained}
	}
	d.stream = NewFrameStream(d.formats)
	return d.stream, nil
}

func waitForChunks(t *testing.T, s *Session, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.chunks)
		s.mu.Unlock()
		if got >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d chunks", want)
}

func TestChunksAssembledInArrivalOrder(t *testing.T) {
	dev := &fakeDevice{formats: []string{"audio/webm"}}
	m := NewManager(dev, testConfig(), testLogger())
	s, err := m.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	a := bytes.Repeat([]byte{0x01}, 100)
	b := bytes.Repeat([]byte{0x02}, 200)
	c := bytes.Repeat([]byte{0x03}, 150)
	dev.stream.Push(a)
	dev.stream.Push(b)
	dev.stream.Push(c)
	waitForChunks(t, s, 3)

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.State() != StateFinalized {
		t.Fatalf("expected finalized, got %s", s.State())
	}

	buf, format, err := s.Buffer()
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if format != "audio/webm" {
		t.Fatalf("expected negotiated format audio/webm, got %q", format)
	}
	want := append(append(append([]byte{}, a...), b...), c...)
	if !bytes.Equal(buf, want) {
		t.Fatalf("assembled buffer out of order: got %d bytes", len(buf))
	}
}

func TestStopWithZeroChunksStaysStopped(t *testing.T) {
	dev := &fakeDevice{formats: []string{"audio/webm"}}
	m := NewManager(dev, testConfig(), testLogger())
	s, err := m.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := s.Stop(); err != ErrNoAudioCaptured {
		t.Fatalf("expected ErrNoAudioCaptured, got %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", s.State())
	}
	if _, _, err := s.Buffer(); err != ErrNotFinalized {
		t.Fatalf("expected ErrNotFinalized, got %v", err)
	}
}

func TestZeroLengthChunksDropped(t *testing.T) {
	dev := &fakeDevice{formats: []string{"audio/webm"}}
	m := NewManager(dev, testConfig(), testLogger())
	s, err := m.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	dev.stream.Push(nil)
	dev.stream.Push([]byte{})
	dev.stream.Push([]byte{0x7f})
	waitForChunks(t, s, 1)
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	buf, _, err := s.Buffer()
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if len(buf) != 1 {
		t.Fatalf("expected only the non-empty chunk, got %d bytes", len(buf))
	}
}

func TestConstraintFallbackOnOverConstrained(t *testing.T) {
	dev := &fakeDevice{rejectPreferred: true, formats: []string{"audio/webm"}}
	m := NewManager(dev, testConfig(), testLogger())
	s, err := m.StartSession(context.Background())
	if err != nil {
		t.Fatalf("expected graceful degradation, got %v", err)
	}
	if len(dev.acquired) != 2 {
		t.Fatalf("expected two acquisition attempts, got %d", len(dev.acquired))
	}
	if dev.acquired[1].EchoCancellation {
		t.Fatal("second attempt should use minimal constraints")
	}
	if s.State() != StateRecording {
		t.Fatalf("expected recording, got %s", s.State())
	}
}

func TestPermissionDeniedSurfaces(t *testing.T) {
	dev := &fakeDevice{failAll: &DeviceAccessError{Kind: DeviceErrorPermissionDenied}}
	m := NewManager(dev, testConfig(), testLogger())
	if _, err := m.StartSession(context.Background()); err == nil {
		t.Fatal("expected acquisition error")
	}
	if len(dev.acquired) != 1 {
		t.Fatalf("permission denial must not be retried, got %d attempts", len(dev.acquired))
	}
}

func TestFormatNegotiationFallsBackToUnspecified(t *testing.T) {
	dev := &fakeDevice{formats: []string{"audio/x-exotic"}}
	m := NewManager(dev, testConfig(), testLogger())
	s, err := m.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if s.Format() != FormatUnspecified {
		t.Fatalf("expected unspecified format, got %q", s.Format())
	}
}

func TestExclusiveDeviceOwnership(t *testing.T) {
	dev := &fakeDevice{formats: []string{"audio/webm"}}
	m := NewManager(dev, testConfig(), testLogger())
	s, err := m.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := m.StartSession(context.Background()); err != ErrDeviceBusy {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	dev.stream.Push([]byte{1})
	waitForChunks(t, s, 1)
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := m.StartSession(context.Background()); err != nil {
		t.Fatalf("expected new session after stop, got %v", err)
	}
}

func TestPauseGatesElapsedCounter(t *testing.T) {
	dev := &fakeDevice{formats: []string{"audio/webm"}}
	m := NewManager(dev, testConfig(), testLogger())
	s, err := m.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	s.mu.Lock()
	s.clock = func() time.Time { return now }
	s.recordingSince = base
	s.mu.Unlock()

	now = base.Add(3 * time.Second)
	if err := s.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if s.State() != StatePaused {
		t.Fatalf("expected paused, got %s", s.State())
	}

	// time passing while paused must not count
	now = base.Add(60 * time.Second)
	if got := s.ElapsedSeconds(); got != 3 {
		t.Fatalf("expected 3 elapsed seconds, got %d", got)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	now = now.Add(2 * time.Second)
	if got := s.ElapsedSeconds(); got != 5 {
		t.Fatalf("expected 5 elapsed seconds, got %d", got)
	}
}

func TestNaturalEndOfStreamFinalizesOnce(t *testing.T) {
	dev := &fakeDevice{formats: []string{"audio/webm"}}
	m := NewManager(dev, testConfig(), testLogger())
	s, err := m.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	dev.stream.Push([]byte{1, 2, 3})
	waitForChunks(t, s, 1)

	// device ends the stream on its own
	if err := dev.stream.Close(); err != nil {
		t.Fatalf("close stream: %v", err)
	}
	<-s.done
	if s.State() != StateFinalized {
		t.Fatalf("expected finalized after natural end, got %s", s.State())
	}

	// explicit stop racing in afterwards is absorbed
	if err := s.Stop(); err != nil {
		t.Fatalf("stop after natural end: %v", err)
	}
	buf, _, err := s.Buffer()
	if err != nil || len(buf) != 3 {
		t.Fatalf("assembly must run exactly once: %v, %d bytes", err, len(buf))
	}
}

func TestStopAfterEmptyNaturalEndStillReportsNoAudio(t *testing.T) {
	dev := &fakeDevice{formats: []string{"audio/webm"}}
	m := NewManager(dev, testConfig(), testLogger())
	s, err := m.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	// device ends the stream on its own before any chunk arrived
	if err := dev.stream.Close(); err != nil {
		t.Fatalf("close stream: %v", err)
	}
	<-s.done

	if err := s.Stop(); err != ErrNoAudioCaptured {
		t.Fatalf("expected ErrNoAudioCaptured from the late stop, got %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", s.State())
	}
}

func TestInvalidTransitions(t *testing.T) {
	dev := &fakeDevice{formats: []string{"audio/webm"}}
	m := NewManager(dev, testConfig(), testLogger())
	s, err := m.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := s.Resume(); err != ErrInvalidTransition {
		t.Fatalf("resume while recording: expected ErrInvalidTransition, got %v", err)
	}
	if err := s.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := s.Pause(); err != ErrInvalidTransition {
		t.Fatalf("pause while paused: expected ErrInvalidTransition, got %v", err)
	}
}
