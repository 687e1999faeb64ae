// Package stt turns captured audio into transcript segments. Two paths run
// side by side: a streaming transcriber fed live PCM frames, and a batch
// transcriber that processes the finalized capture buffer after recording
// ends. The transcript merger downstream reconciles their outputs.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/voxlist/voxlist-core/internal/config"
)

// StreamResult is one streaming recognition pass over the session buffer.
type StreamResult struct {
	Text       string
	Confidence float64
}

// StreamTranscriber performs incremental recognition on accumulated PCM.
type StreamTranscriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (StreamResult, error)
}

// BatchResult is the one-shot transcript of a complete capture buffer. The
// enhanced transcript, when present, is a cleaned-up rendition of the same
// speech and is preferred for display.
type BatchResult struct {
	Transcript         string
	EnhancedTranscript string
}

// BatchTranscriber processes a finalized, assembled audio buffer.
type BatchTranscriber interface {
	TranscribeBuffer(ctx context.Context, audio []byte, format string) (BatchResult, error)
}

// ErrorKind buckets recognition failures by how the workflow should react.
type ErrorKind string

const (
	// ErrorNetwork failures are transient; the session keeps listening and
	// the user is not interrupted.
	ErrorNetwork ErrorKind = "network"
	// ErrorPermission means microphone or model access was denied and the
	// user has to act. It is surfaced, not retried.
	ErrorPermission ErrorKind = "permission-denied"
	ErrorGeneric    ErrorKind = "generic"
)

// RecognitionError wraps a transcriber failure with its kind.
type RecognitionError struct {
	Kind ErrorKind
	Err  error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition failed (%s): %v", e.Kind, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// ClassifyError maps an arbitrary transcriber error onto an ErrorKind.
func ClassifyError(err error) ErrorKind {
	var recErr *RecognitionError
	if errors.As(err, &recErr) {
		return recErr.Kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorNetwork
	}
	if errors.Is(err, os.ErrPermission) {
		return ErrorPermission
	}
	return ErrorGeneric
}

// NewStreamTranscriber builds the streaming backend selected by config.
func NewStreamTranscriber(cfg config.STTConfig) (StreamTranscriber, error) {
	switch cfg.Mode {
	case "", "mock":
		return &mockStreamTranscriber{}, nil
	case "exec":
		return newExecStreamTranscriber(cfg)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

// NewBatchTranscriber builds the batch backend selected by config.
func NewBatchTranscriber(cfg config.STTConfig) (BatchTranscriber, error) {
	switch cfg.Mode {
	case "", "mock":
		return &mockBatchTranscriber{}, nil
	case "exec":
		return newExecBatchTranscriber(cfg)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
