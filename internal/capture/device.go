package capture

import (
	"context"
	"sync"

	"github.com/voxlist/voxlist-core/internal/config"
)

// Constraints describes the capture parameters requested from a device.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// Preferred builds the full constraint set from configuration.
func Preferred(cfg config.CaptureConfig) Constraints {
	return Constraints{
		SampleRate:       cfg.SampleRate,
		Channels:         cfg.Channels,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Minimal is the degraded fallback requested when the preferred set is
// rejected as over-constrained.
func Minimal() Constraints {
	return Constraints{SampleRate: 0, Channels: 1}
}

// Stream is one acquired recording stream. Chunks are delivered in arrival
// order; the channel closes on the device's natural end-of-stream.
type Stream interface {
	Chunks() <-chan []byte
	// Supports reports whether the device can encode the given format.
	Supports(format string) bool
	// Pause and Resume control the device's own encoder; they are the
	// authority for whether audio keeps being produced.
	Pause()
	Resume()
	// Close releases the device and closes the chunk channel.
	Close() error
}

// Device abstracts the recording hardware behind acquisition semantics.
type Device interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// FrameStream is a Stream fed by audio frames arriving over the bus from a
// remote capture surface. The runtime pushes each frame payload; the edge
// device remains the pause/resume authority, so Pause/Resume only stop
// local delivery bookkeeping.
type FrameStream struct {
	mu      sync.Mutex
	ch      chan []byte
	formats map[string]bool
	closed  bool
}

func NewFrameStream(supportedFormats []string) *FrameStream {
	formats := make(map[string]bool, len(supportedFormats))
	for _, f := range supportedFormats {
		formats[f] = true
	}
	return &FrameStream{
		ch:      make(chan []byte, 64),
		formats: formats,
	}
}

// Push delivers one frame payload into the stream. Pushes after Close are
// dropped.
func (s *FrameStream) Push(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- pcm:
	default:
		// consumer stalled; dropping beats blocking the bus handler
	}
}

func (s *FrameStream) Chunks() <-chan []byte { return s.ch }

func (s *FrameStream) Supports(format string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.formats[format]
}

func (s *FrameStream) Pause()  {}
func (s *FrameStream) Resume() {}

func (s *FrameStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}

// FrameDevice hands out FrameStreams for bus-fed capture sessions.
type FrameDevice struct {
	formats []string
	mu      sync.Mutex
	current *FrameStream
}

func NewFrameDevice(supportedFormats []string) *FrameDevice {
	return &FrameDevice{formats: supportedFormats}
}

func (d *FrameDevice) Acquire(_ context.Context, _ Constraints) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stream := NewFrameStream(d.formats)
	d.current = stream
	return stream, nil
}

// Current returns the most recently acquired stream so the orchestrator can
// push arriving frames into it.
func (d *FrameDevice) Current() *FrameStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}
