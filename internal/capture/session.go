// Package capture owns the recording device lifecycle: chunked capture with
// pause/resume/stop/finalize semantics and exclusive device ownership.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voxlist/voxlist-core/internal/config"
)

// State enumerates the capture session lifecycle. The enumerated machine
// replaces the independent recording/paused boolean flags the feature grew
// up with; unreachable combinations are unrepresentable.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateStopped
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// FormatUnspecified is used when no preferred encoding format is supported
// by the acquired device.
const FormatUnspecified = "unspecified"

// Manager creates sessions against one Device and enforces that at most one
// session holds it (Recording or Paused) at a time.
type Manager struct {
	dev Device
	cfg config.CaptureConfig
	log *slog.Logger

	mu     sync.Mutex
	active *Session
}

func NewManager(dev Device, cfg config.CaptureConfig, log *slog.Logger) *Manager {
	return &Manager{
		dev: dev,
		cfg: cfg,
		log: log.With(slog.String("component", "capture")),
	}
}

// StartSession acquires the device and begins recording. A second session
// while one is Recording or Paused fails with ErrDeviceBusy.
func (m *Manager) StartSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.active != nil {
		state := m.active.State()
		if state == StateRecording || state == StatePaused {
			m.mu.Unlock()
			return nil, ErrDeviceBusy
		}
	}
	m.mu.Unlock()

	s := &Session{
		id:    uuid.NewString(),
		dev:   m.dev,
		cfg:   m.cfg,
		log:   m.log,
		clock: time.Now,
	}
	if err := s.start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.active = s
	m.mu.Unlock()
	return s, nil
}

// Active returns the session currently holding the device, if any.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Session is the lifecycle object owning one recording stream and its
// chunk buffer. It is created fresh each time recording starts.
type Session struct {
	id    string
	dev   Device
	cfg   config.CaptureConfig
	log   *slog.Logger
	clock func() time.Time

	mu        sync.Mutex
	state     State
	stream    Stream
	format    string
	chunks    [][]byte
	assembled []byte
	haltErr   error

	recordingSince time.Time
	accumulated    time.Duration

	done chan struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Format returns the negotiated encoding format.
func (s *Session) Format() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// ElapsedSeconds reports recorded time, excluding paused intervals.
func (s *Session) ElapsedSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := s.accumulated
	if s.state == StateRecording && !s.recordingSince.IsZero() {
		elapsed += s.clock().Sub(s.recordingSince)
	}
	return int(elapsed / time.Second)
}

func (s *Session) start(ctx context.Context) error {
	stream, err := s.dev.Acquire(ctx, Preferred(s.cfg))
	if err != nil {
		var devErr *DeviceAccessError
		if errors.As(err, &devErr) && devErr.Kind == DeviceErrorOverConstrained {
			s.log.Warn("preferred constraints rejected, retrying minimal",
				slog.String("session_id", s.id))
			stream, err = s.dev.Acquire(ctx, Minimal())
		}
		if err != nil {
			return err
		}
	}

	format := FormatUnspecified
	for _, candidate := range s.cfg.PreferredFormats {
		if stream.Supports(candidate) {
			format = candidate
			break
		}
	}

	s.mu.Lock()
	s.stream = stream
	s.format = format
	s.state = StateRecording
	s.recordingSince = s.clock()
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("capture session started",
		slog.String("session_id", s.id),
		slog.String("format", format))

	go s.consume(stream)
	return nil
}

// consume appends non-empty chunks in arrival order until the stream ends.
// A natural end-of-stream converges on the same assembly logic as Stop.
func (s *Session) consume(stream Stream) {
	defer close(s.done)
	for chunk := range stream.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		s.mu.Lock()
		if s.state == StateRecording || s.state == StatePaused {
			s.chunks = append(s.chunks, chunk)
		}
		s.mu.Unlock()
	}
	// Natural end-of-stream; Stop may already have run.
	_ = s.halt(false)
}

// Pause suspends the elapsed-time counter. The device's own pause is the
// authority for whether encoding continues.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.accumulated += s.clock().Sub(s.recordingSince)
	s.recordingSince = time.Time{}
	s.state = StatePaused
	stream := s.stream
	s.mu.Unlock()

	stream.Pause()
	return nil
}

func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.recordingSince = s.clock()
	s.state = StateRecording
	stream := s.stream
	s.mu.Unlock()

	stream.Resume()
	return nil
}

// Stop halts the elapsed counter, releases the device and assembles the
// captured chunks. With zero chunks it returns ErrNoAudioCaptured and the
// session remains Stopped.
func (s *Session) Stop() error {
	return s.halt(true)
}

func (s *Session) halt(closeStream bool) error {
	s.mu.Lock()
	switch s.state {
	case StateRecording:
		s.accumulated += s.clock().Sub(s.recordingSince)
		s.recordingSince = time.Time{}
	case StatePaused:
		// counter already halted
	default:
		// stop already ran (explicit stop racing natural end-of-stream);
		// assembly must not run twice, but its result still has to reach
		// whoever asks later
		err := s.haltErr
		s.mu.Unlock()
		return err
	}
	s.state = StateStopped
	stream := s.stream
	s.mu.Unlock()

	if closeStream && stream != nil {
		if err := stream.Close(); err != nil {
			s.log.Warn("failed to release capture stream",
				slog.String("session_id", s.id),
				slog.String("error", err.Error()))
		}
	}

	err := s.assemble()
	s.mu.Lock()
	s.haltErr = err
	s.mu.Unlock()
	return err
}

func (s *Session) assemble() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return nil
	}
	if len(s.chunks) == 0 {
		return ErrNoAudioCaptured
	}
	total := 0
	for _, c := range s.chunks {
		total += len(c)
	}
	buf := make([]byte, 0, total)
	for _, c := range s.chunks {
		buf = append(buf, c...)
	}
	s.assembled = buf
	s.state = StateFinalized
	s.log.Info("capture session finalized",
		slog.String("session_id", s.id),
		slog.Int("chunks", len(s.chunks)),
		slog.Int("bytes", total))
	return nil
}

// Buffer returns the finalized buffer and its negotiated format.
func (s *Session) Buffer() ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFinalized {
		return nil, "", ErrNotFinalized
	}
	return s.assembled, s.format, nil
}
