// Package tts speaks guidance prompts. Synthesis backends stream PCM chunks
// over channels; the service relays them onto the bus.
package tts

import (
	"context"
	"fmt"

	"github.com/voxlist/voxlist-core/internal/config"
)

// SynthRequest contains parameters to synthesize speech. Locale comes from
// the guidance request so multilingual prompts keep their pronunciation.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
	Locale    string
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// NewSynthesizer builds the backend selected by config.
func NewSynthesizer(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
