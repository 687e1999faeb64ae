package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxlist/voxlist-core/internal/bus"
	"github.com/voxlist/voxlist-core/internal/config"
	"github.com/voxlist/voxlist-core/internal/protocol"
)

// Service answers guidance requests from the workflow. Synthesis engines can
// take a while to load their voice model on first use, so the wait for the
// first chunk is bounded; past the deadline the request fails with a status
// message instead of hanging the prompt queue.
type Service struct {
	cfg    config.TTSConfig
	bus    *bus.Client
	synth  Synthesizer
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		synth:  synth,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectGuidanceRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) loadTimeout() time.Duration {
	if s.cfg.LoadTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.cfg.LoadTimeoutMS) * time.Millisecond
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.GuidanceRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode guidance request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()

		voice := req.VoiceID
		if voice == "" {
			voice = s.cfg.Voice
		}
		chunks, errs := s.synth.Synthesize(ctx, SynthRequest{
			SessionID: req.SessionID,
			Text:      req.Text,
			Voice:     voice,
			Locale:    req.Locale,
		})

		loadTimer := time.NewTimer(s.loadTimeout())
		defer loadTimer.Stop()
		firstChunk := false
		sequence := 0

		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					chunks = nil
					continue
				}
				if !firstChunk {
					firstChunk = true
					loadTimer.Stop()
				}
				chunk.Sequence = sequence
				sequence++
				s.publishChunk(req, chunk)
			case err, ok := <-errs:
				if ok && err != nil {
					s.logger.Warn("guidance synthesis error", slogError(err))
					s.publishStatus(req.SessionID, false, err.Error())
					return
				}
				errs = nil
			case <-loadTimer.C:
				if !firstChunk {
					s.logger.Warn("synthesis engine did not produce audio in time",
						slog.String("session_id", req.SessionID))
					s.publishStatus(req.SessionID, false, fmt.Sprintf("no audio within %s", s.loadTimeout()))
					return
				}
			case <-ctx.Done():
				s.logger.Warn("guidance synthesis cancelled", slogError(ctx.Err()))
				return
			}
			if chunks == nil && errs == nil {
				return
			}
		}
	}()
}

func (s *Service) publishChunk(req protocol.GuidanceRequest, chunk SynthChunk) {
	packet := protocol.AudioChunk{
		SessionID:  req.SessionID,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Sequence:   chunk.Sequence,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	}
	data, err := json.Marshal(packet)
	if err != nil {
		s.logger.Warn("failed to marshal guidance chunk", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectGuidanceAudio, data); err != nil {
		s.logger.Warn("failed to publish guidance chunk", slogError(err))
	}
	if chunk.Final {
		s.publishStatus(req.SessionID, true, "")
	}
}

func (s *Service) publishStatus(sessionID string, completed bool, errMsg string) {
	status := protocol.GuidanceStatus{
		SessionID: sessionID,
		Completed: completed,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	_ = s.bus.Conn().Publish(protocol.SubjectGuidanceDone, data)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
