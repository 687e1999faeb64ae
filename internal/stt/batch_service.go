package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxlist/voxlist-core/internal/bus"
	"github.com/voxlist/voxlist-core/internal/config"
	"github.com/voxlist/voxlist-core/internal/protocol"
)

// BatchService answers one-shot transcription requests for finalized capture
// buffers. A result is always published, carrying either the transcript or
// the error, so the requester never waits on a lost reply.
type BatchService struct {
	cfg         config.STTConfig
	bus         *bus.Client
	transcriber BatchTranscriber
	ctx         context.Context
	cancel      context.CancelFunc
	sub         *nats.Subscription
	ready       bool
}

func NewBatchService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, transcriber BatchTranscriber) *BatchService {
	ctx, cancel := context.WithCancel(parent)
	return &BatchService{
		cfg:         cfg,
		bus:         busClient,
		transcriber: transcriber,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *BatchService) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectBatchRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe batch requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *BatchService) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *BatchService) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *BatchService) handleRequest(msg *nats.Msg) {
	var req protocol.BatchTranscriptRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.bus.Logger().Warn("invalid batch transcript request", slogError(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, 120*time.Second)
		defer cancel()

		result := protocol.BatchTranscriptResult{
			SessionID: req.SessionID,
			Timestamp: time.Now().UTC(),
		}
		batch, err := s.transcriber.TranscribeBuffer(ctx, req.Audio, req.Format)
		if err != nil {
			result.Error = err.Error()
			s.bus.Logger().Warn("batch transcription failed",
				slogError(err))
		} else {
			result.Transcript = batch.Transcript
			result.EnhancedTranscript = batch.EnhancedTranscript
		}
		s.publishResult(result)
	}()
}

func (s *BatchService) publishResult(result protocol.BatchTranscriptResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal batch result", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectBatchResult, data); err != nil {
		s.bus.Logger().Warn("failed to publish batch result", slogError(err))
	}
}
