package stt

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

// StreamService consumes live audio frames from the bus and publishes
// interim and final transcript segments. One recognition pass runs per
// session at a time; frames that arrive mid-pass extend the buffer and the
// next pass picks them up.
type StreamService struct {
	cfg         config.STTConfig
	bus         *bus.Client
	transcriber StreamTranscriber
	onError     func(sessionID string, kind ErrorKind, err error)
	sessions    map[string]*sessionState
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	sub         *nats.Subscription
	wg          sync.WaitGroup
	ready       bool
}

type sessionState struct {
	Buffer       []byte
	LastPartial  time.Time
	Inflight     bool
	PendingFinal bool
	// Stopped is set when the user ends listening on purpose. Frames still
	// in flight for the session are ignored and recognition never restarts
	// on its own.
	Stopped bool
}

func NewStreamService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, transcriber StreamTranscriber, onError func(string, ErrorKind, error)) *StreamService {
	ctx, cancel := context.WithCancel(parent)
	return &StreamService{
		cfg:         cfg,
		bus:         busClient,
		transcriber: transcriber,
		onError:     onError,
		sessions:    make(map[string]*sessionState),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *StreamService) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *StreamService) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *StreamService) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

// StopListening marks the session as deliberately ended. Anything already
// buffered gets one final pass; later frames are dropped.
func (s *StreamService) StopListening(sessionID string) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	state.Stopped = true
	s.mu.Unlock()

	s.scheduleTranscription(sessionID, true)
}

func (s *StreamService) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.bus.Logger().Warn("failed to decode audio frame", slogError(err))
		return
	}

	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{}
		s.sessions[frame.SessionID] = state
	}
	if state.Stopped {
		s.mu.Unlock()
		return
	}
	state.Buffer = append(state.Buffer, frame.PCM...)
	s.mu.Unlock()

	if s.cfg.PublishInterim && !frame.Final && s.shouldSchedulePartial(frame.SessionID) {
		s.scheduleTranscription(frame.SessionID, false)
	}
	if frame.Final {
		s.scheduleTranscription(frame.SessionID, true)
	}
}

func (s *StreamService) shouldSchedulePartial(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.sessions[sessionID]
	if state == nil || state.Inflight || state.Stopped {
		return false
	}
	if state.LastPartial.IsZero() {
		state.LastPartial = time.Now()
		return true
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 {
		return false
	}
	if time.Since(state.LastPartial) >= interval {
		state.LastPartial = time.Now()
		return true
	}
	return false
}

func (s *StreamService) scheduleTranscription(sessionID string, final bool) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.Inflight {
		if final {
			state.PendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), state.Buffer...)
	state.Inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()

		result, err := s.transcriber.Transcribe(ctx, pcm, s.cfg.SampleRate, s.cfg.Channels, final)
		if err != nil {
			s.reportError(sessionID, err)
		} else {
			s.publishSegment(sessionID, result.Text, final)
		}

		s.mu.Lock()
		state := s.sessions[sessionID]
		var pendingFinal bool
		if state != nil {
			state.Inflight = false
			pendingFinal = state.PendingFinal
			if !final {
				state.LastPartial = time.Now()
			}
			if final {
				delete(s.sessions, sessionID)
			}
		}
		s.mu.Unlock()

		if pendingFinal && !final {
			s.scheduleTranscription(sessionID, true)
		}
	}()
}

// reportError logs every failure but only escalates the ones the user must
// act on. Network blips stay in the logs; the stream keeps going.
func (s *StreamService) reportError(sessionID string, err error) {
	kind := ClassifyError(err)
	s.bus.Logger().Warn("stream transcription failed",
		slog.String("session_id", sessionID),
		slog.String("kind", string(kind)),
		slogError(err))
	if kind == ErrorNetwork {
		return
	}
	if s.onError != nil {
		s.onError(sessionID, kind, err)
	}
}

func (s *StreamService) publishSegment(sessionID, text string, final bool) {
	if text == "" {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	finality := protocol.FinalityInterim
	if final {
		subject = protocol.SubjectTranscriptFinal
		finality = protocol.FinalityFinal
	}
	segment := protocol.TranscriptSegment{
		SessionID: sessionID,
		Text:      text,
		Finality:  finality,
		Source:    protocol.SourceStream,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(segment)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal transcript segment", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.bus.Logger().Warn("failed to publish transcript segment", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
