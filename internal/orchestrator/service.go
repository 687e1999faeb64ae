// Package orchestrator wires one listing session together: it routes
// transcript segments into recognition and the transcript merger, drives the
// voice coordinator through the dispatcher, and executes the coordinator's
// side effects against the capture manager and the bus.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voxlist/voxlist-core/internal/bus"
	"github.com/voxlist/voxlist-core/internal/capture"
	"github.com/voxlist/voxlist-core/internal/command"
	"github.com/voxlist/voxlist-core/internal/config"
	"github.com/voxlist/voxlist-core/internal/dispatch"
	"github.com/voxlist/voxlist-core/internal/eventstore"
	"github.com/voxlist/voxlist-core/internal/protocol"
	"github.com/voxlist/voxlist-core/internal/registry"
	"github.com/voxlist/voxlist-core/internal/stt"
	"github.com/voxlist/voxlist-core/internal/transcript"
	"github.com/voxlist/voxlist-core/internal/voice"
	"github.com/voxlist/voxlist-core/internal/wizard"
)

// Availability answers whether a step-content producer is reachable. The
// collaborator registry implements it.
type Availability interface {
	Available(producer string) bool
}

// Service owns the currently active listing session. Sessions are serial:
// one listing at a time, a new BeginSession tears the previous one down.
type Service struct {
	cfg        config.Config
	bus        *bus.Client
	store      *eventstore.Store
	avail      Availability
	captureMgr *capture.Manager
	recognizer *command.Recognizer
	// stopListening tells the streaming recognizer the user ended the
	// session on purpose, so it must not restart on its own.
	stopListening func(sessionID string)
	// speak delivers a spoken prompt; it defaults to publishing a guidance
	// request on the bus.
	speak func(text string)
	log   *slog.Logger

	wizard      *wizard.Controller
	coordinator *voice.Coordinator
	dispatcher  *dispatch.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup

	mu             sync.Mutex
	sessionID      string
	form           wizard.FormState
	merger         *transcript.Merger
	captureSession *capture.Session
	listening      bool
}

func NewService(
	parent context.Context,
	cfg config.Config,
	busClient *bus.Client,
	store *eventstore.Store,
	avail Availability,
	captureMgr *capture.Manager,
	recognizer *command.Recognizer,
	stopListening func(sessionID string),
	log *slog.Logger,
) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:           cfg,
		bus:           busClient,
		store:         store,
		avail:         avail,
		captureMgr:    captureMgr,
		recognizer:    recognizer,
		stopListening: stopListening,
		log:           log.With(slog.String("component", "orchestrator")),
		ctx:           ctx,
		cancel:        cancel,
		listening:     cfg.Voice.ContinuousListening,
	}

	s.speak = s.publishGuidance
	s.wizard = wizard.NewController()
	s.coordinator = voice.NewCoordinator(
		cfg.Voice,
		s.wizard,
		s.formSnapshot,
		func(text string) { s.speak(text) },
		s,
		s.producerAvailable,
		log,
	)
	s.dispatcher = dispatch.NewDispatcher(cfg.Dispatch, s, s.recordAccepted, log)
	return s
}

func (s *Service) Start() error {
	conn := s.bus.Conn()

	partialSub, err := conn.Subscribe(protocol.SubjectTranscriptPartial, s.handleSegment)
	if err != nil {
		return fmt.Errorf("subscribe interim transcripts: %w", err)
	}
	s.subs = append(s.subs, partialSub)

	finalSub, err := conn.Subscribe(protocol.SubjectTranscriptFinal, s.handleSegment)
	if err != nil {
		return fmt.Errorf("subscribe final transcripts: %w", err)
	}
	s.subs = append(s.subs, finalSub)

	batchSub, err := conn.Subscribe(protocol.SubjectBatchResult, s.handleBatchResult)
	if err != nil {
		return fmt.Errorf("subscribe batch results: %w", err)
	}
	s.subs = append(s.subs, batchSub)

	stepSub, err := conn.Subscribe(protocol.SubjectStepData, s.handleStepData)
	if err != nil {
		return fmt.Errorf("subscribe step data: %w", err)
	}
	s.subs = append(s.subs, stepSub)

	startSub, err := conn.Subscribe(protocol.SubjectSessionStart, func(*nats.Msg) { s.BeginSession() })
	if err != nil {
		return fmt.Errorf("subscribe session start: %w", err)
	}
	s.subs = append(s.subs, startSub)

	endSub, err := conn.Subscribe(protocol.SubjectSessionEnd, func(*nats.Msg) { s.EndSession() })
	if err != nil {
		return fmt.Errorf("subscribe session end: %w", err)
	}
	s.subs = append(s.subs, endSub)

	return nil
}

func (s *Service) Close() {
	s.EndSession()
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return len(s.subs) == 6
}

// BeginSession starts a fresh guided listing session, ending any previous
// one first.
func (s *Service) BeginSession() string {
	s.EndSession()

	id := uuid.NewString()
	s.mu.Lock()
	s.sessionID = id
	s.form = wizard.FormState{}
	s.merger = nil
	s.captureSession = nil
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.AppendSession(s.ctx, id, ""); err != nil {
			s.log.Warn("failed to persist session", slogError(err))
		}
	}
	s.appendEvent(eventstore.TypeSessionStarted, nil)

	s.coordinator.Start(s.ctx)
	s.log.Info("listing session started", slog.String("session_id", id))
	return id
}

// EndSession stops guided mode and releases the capture device.
func (s *Service) EndSession() {
	s.mu.Lock()
	id := s.sessionID
	session := s.captureSession
	s.captureSession = nil
	s.mu.Unlock()

	if id == "" {
		return
	}
	if session != nil {
		if err := session.Stop(); err != nil && !errors.Is(err, capture.ErrNoAudioCaptured) {
			s.log.Warn("failed to stop capture on session end", slogError(err))
		}
	}
	s.coordinator.Stop()
	if s.stopListening != nil {
		s.stopListening(id)
	}
	s.appendEvent(eventstore.TypeSessionEnded, nil)

	s.mu.Lock()
	s.sessionID = ""
	s.mu.Unlock()
}

// SetContinuousListening switches between always-on command recognition and
// the dictation-widget mode where recognition only runs while recording.
// Turning continuous listening off ends the live recognition stream.
func (s *Service) SetContinuousListening(enabled bool) {
	s.mu.Lock()
	s.listening = enabled
	id := s.sessionID
	s.mu.Unlock()

	if !enabled && s.stopListening != nil && id != "" {
		s.stopListening(id)
	}
}

func (s *Service) formSnapshot() wizard.FormState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

func (s *Service) producerAvailable(producer string) bool {
	if s.avail == nil {
		return true
	}
	return s.avail.Available(producer)
}

// publishGuidance is the default speak path: a guidance request for the TTS
// service.
func (s *Service) publishGuidance(text string) {
	s.mu.Lock()
	id := s.sessionID
	s.mu.Unlock()

	req := protocol.GuidanceRequest{
		SessionID: id,
		Text:      text,
		Locale:    s.cfg.Voice.Locale,
	}
	data, err := json.Marshal(req)
	if err != nil {
		s.log.Warn("failed to marshal guidance request", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectGuidanceRequest, data); err != nil {
		s.log.Warn("failed to publish guidance request", slogError(err))
	}
}

// recordAccepted persists every command that cleared the dispatch cooldown
// and announces it on the bus.
func (s *Service) recordAccepted(ev protocol.CommandEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.appendEvent(eventstore.TypeCommandAccepted, payload)
	if err := s.bus.Conn().Publish(protocol.SubjectCommandAccepted, payload); err != nil {
		s.log.Warn("failed to publish accepted command", slogError(err))
	}
}

// HandleCommand is the dispatch sink. While guided mode is active every
// utterance routes through the coordinator; otherwise the direct command set
// applies to the wizard, and "guide me" turns guided mode on. Unrecognized
// text outside guided mode is dropped without escalation.
func (s *Service) HandleCommand(rawText string, cmd command.Command, recognized bool) {
	if s.coordinator.Active() {
		s.coordinator.HandleCommand(rawText, cmd, recognized)
		return
	}
	if !recognized {
		return
	}

	switch cmd {
	case command.CmdStartGuided:
		s.coordinator.Start(s.ctx)
	case command.CmdNext, command.CmdConfirm:
		form := s.formSnapshot()
		if !s.wizard.Advance(form) {
			if err := wizard.Validate(s.wizard.Current(), form); err != nil {
				var verr *wizard.ValidationError
				if errors.As(err, &verr) {
					s.speak(verr.Message)
				}
			}
		}
	case command.CmdBack:
		s.wizard.Retreat()
	case command.CmdSubmit:
		s.Submit()
	}
}

// NotifyRecognitionError surfaces a failed speech recognition attempt to the
// user. Network errors never reach here; the stream service retries those
// quietly.
func (s *Service) NotifyRecognitionError(kind stt.ErrorKind, err error) {
	var errMsg, helpMsg string
	switch kind {
	case stt.ErrorPermission:
		errMsg = "Microphone access for speech recognition was denied."
		helpMsg = "Allow microphone access and try again."
	default:
		errMsg = "Speech recognition stopped unexpectedly."
		helpMsg = "Say 'start recording' to try again, or type your description instead."
	}
	s.log.Warn("recognition error surfaced",
		slog.String("kind", string(kind)),
		slogError(err))

	if s.coordinator.Active() {
		s.coordinator.ReportError(errMsg, helpMsg)
		return
	}
	s.speak(errMsg + " " + helpMsg)
}

// commandRecognitionActive reports whether utterances should be classified
// right now. With continuous listening off, recognition only runs while the
// dictation widget has an active recording.
func (s *Service) commandRecognitionActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return true
	}
	return s.cfg.Voice.DictationWidget && s.captureSession != nil
}

func (s *Service) handleSegment(msg *nats.Msg) {
	var seg protocol.TranscriptSegment
	if err := json.Unmarshal(msg.Data, &seg); err != nil {
		s.log.Warn("failed to decode transcript segment", slogError(err))
		return
	}
	if seg.Text == "" {
		return
	}

	s.mu.Lock()
	merger := s.merger
	recording := s.captureSession != nil
	s.mu.Unlock()

	// dictation content accumulates while a recording is open
	if recording && merger != nil {
		merger.AddStream(seg)
		s.updateTranscript(merger.DisplayText())
	}

	if !s.commandRecognitionActive() {
		return
	}

	cmd, recognized := s.recognizer.Recognize(s.ctx, seg.Text)
	// interim text misfires constantly on incomplete phrases; only final
	// segments count as failed commands
	if !recognized && seg.Finality != protocol.FinalityFinal {
		return
	}
	s.mu.Lock()
	id := s.sessionID
	s.mu.Unlock()
	if id == "" {
		return
	}
	s.dispatcher.Dispatch(s.ctx, id, seg.Text, cmd, recognized)
}

func (s *Service) handleBatchResult(msg *nats.Msg) {
	var result protocol.BatchTranscriptResult
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		s.log.Warn("failed to decode batch result", slogError(err))
		return
	}

	if result.Error != "" {
		s.log.Warn("batch transcription failed",
			slog.String("session_id", result.SessionID),
			slog.String("error", result.Error))
		s.speak("I couldn't process the recording. The live transcript is still available.")
		return
	}

	text := result.EnhancedTranscript
	if text == "" {
		text = result.Transcript
	}

	s.mu.Lock()
	merger := s.merger
	s.mu.Unlock()
	if merger == nil {
		return
	}

	merged := merger.SetBatch(text)
	s.updateTranscript(merged)

	payload, _ := json.Marshal(map[string]string{"merged": merged})
	s.appendEvent(eventstore.TypeTranscriptMerged, payload)
}

func (s *Service) handleStepData(msg *nats.Msg) {
	var signal protocol.StepDataSignal
	if err := json.Unmarshal(msg.Data, &signal); err != nil {
		s.log.Warn("failed to decode step data signal", slogError(err))
		return
	}

	s.mu.Lock()
	switch signal.Producer {
	case registry.ProducerImageAnalyzer:
		s.form.ImagePresent = signal.Available
	case registry.ProducerDescriptionGenerator:
		if signal.Available {
			if v, ok := signal.Fields["name"]; ok {
				s.form.Name = v
			}
			if v, ok := signal.Fields["description"]; ok {
				s.form.Description = v
			}
			if v, ok := signal.Fields["category"]; ok {
				s.form.Category = v
			}
		}
	case registry.ProducerPricingEngine:
		if signal.Available {
			if v, ok := signal.Fields["price_cents"]; ok {
				if cents, err := strconv.ParseInt(v, 10, 64); err == nil {
					s.form.PriceSuggestionCents = cents
					if s.form.PriceCents == 0 {
						s.form.PriceCents = cents
					}
				}
			}
		}
	}
	s.mu.Unlock()

	s.log.Info("step data signal",
		slog.String("producer", signal.Producer),
		slog.String("step", signal.Step),
		slog.Bool("available", signal.Available))
}

func (s *Service) updateTranscript(text string) {
	s.mu.Lock()
	s.form.Transcript = text
	s.mu.Unlock()
}

// OpenFilePicker asks the host UI to open its image picker.
func (s *Service) OpenFilePicker() {
	s.publishSimple(protocol.SubjectPickerOpen)
}

// StartCapture acquires the device and opens a recording. Device failures
// are spoken, not returned; the user has to hear why nothing is happening.
func (s *Service) StartCapture() {
	s.mu.Lock()
	already := s.captureSession != nil
	s.mu.Unlock()
	if already {
		s.speak("Recording is already running.")
		return
	}

	session, err := s.captureMgr.StartSession(s.ctx)
	if err != nil {
		s.speakCaptureError(err)
		return
	}

	s.mu.Lock()
	s.captureSession = session
	s.merger = transcript.NewMerger()
	s.form.Transcript = ""
	s.mu.Unlock()

	s.appendEvent(eventstore.TypeCaptureStarted, nil)
}

// StopCapture finalizes the recording and hands the buffer to the batch
// transcription path.
func (s *Service) StopCapture() {
	s.mu.Lock()
	session := s.captureSession
	s.captureSession = nil
	id := s.sessionID
	s.mu.Unlock()

	if session == nil {
		return
	}

	err := session.Stop()
	if errors.Is(err, capture.ErrNoAudioCaptured) {
		s.appendEvent(eventstore.TypeCaptureStopped, nil)
		s.speak("I didn't catch any audio. Try recording again, a little closer to the microphone.")
		return
	}
	if err != nil {
		s.log.Warn("failed to stop capture", slogError(err))
		return
	}
	s.appendEvent(eventstore.TypeCaptureFinalized, nil)

	buf, format, err := session.Buffer()
	if err != nil {
		s.log.Warn("capture buffer unavailable", slogError(err))
		return
	}
	req := protocol.BatchTranscriptRequest{
		SessionID: id,
		Format:    format,
		Audio:     buf,
	}
	data, err := json.Marshal(req)
	if err != nil {
		s.log.Warn("failed to marshal batch request", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectBatchRequest, data); err != nil {
		s.log.Warn("failed to publish batch request", slogError(err))
	}
}

// PauseCapture toggles the pause state of the active recording.
func (s *Service) PauseCapture() {
	s.mu.Lock()
	session := s.captureSession
	s.mu.Unlock()
	if session == nil {
		return
	}

	switch session.State() {
	case capture.StateRecording:
		if err := session.Pause(); err == nil {
			s.appendEvent(eventstore.TypeCapturePaused, nil)
		}
	case capture.StatePaused:
		if err := session.Resume(); err == nil {
			s.appendEvent(eventstore.TypeCaptureResumed, nil)
		}
	}
}

// CalculatePricing asks the pricing producer for a suggestion.
func (s *Service) CalculatePricing() {
	s.publishSimple(protocol.SubjectPricingRequest)
}

// Submit asks the persistence producer to publish the listing.
func (s *Service) Submit() {
	s.publishSimple(protocol.SubjectPublishRequest)
	s.appendEvent(eventstore.TypeListingPublished, nil)
	s.speak("Your listing has been submitted.")
}

func (s *Service) publishSimple(subject string) {
	s.mu.Lock()
	id := s.sessionID
	form := s.form
	s.mu.Unlock()

	payload, err := json.Marshal(struct {
		SessionID string           `json:"session_id"`
		Form      wizard.FormState `json:"form"`
		Timestamp time.Time        `json:"timestamp"`
	}{id, form, time.Now().UTC()})
	if err != nil {
		return
	}
	if err := s.bus.Conn().Publish(subject, payload); err != nil {
		s.log.Warn("failed to publish request",
			slog.String("subject", subject),
			slogError(err))
	}
}

func (s *Service) speakCaptureError(err error) {
	if errors.Is(err, capture.ErrDeviceBusy) {
		s.speak("The microphone is already in use by another recording.")
		return
	}
	var devErr *capture.DeviceAccessError
	if errors.As(err, &devErr) {
		switch devErr.Kind {
		case capture.DeviceErrorPermissionDenied:
			s.speak("I don't have permission to use the microphone. Please allow microphone access and try again.")
		case capture.DeviceErrorNotFound:
			s.speak("I couldn't find a microphone. Please connect one and try again.")
		case capture.DeviceErrorInUse:
			s.speak("The microphone is busy in another application.")
		default:
			s.speak("I couldn't start recording. Please check your microphone.")
		}
		return
	}
	s.log.Warn("failed to start capture", slogError(err))
	s.speak("I couldn't start recording. Please try again.")
}

// Snapshot aggregates the observable session state for the HTTP surface.
type Snapshot struct {
	SessionID    string           `json:"session_id"`
	Voice        voice.Snapshot   `json:"voice"`
	Form         wizard.FormState `json:"form"`
	CaptureState string           `json:"capture_state,omitempty"`
	ElapsedSec   int              `json:"elapsed_seconds,omitempty"`
	Notice       *dispatch.Notice `json:"notice,omitempty"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	id := s.sessionID
	form := s.form
	session := s.captureSession
	s.mu.Unlock()

	snap := Snapshot{
		SessionID: id,
		Voice:     s.coordinator.Snapshot(),
		Form:      form,
	}
	if session != nil {
		snap.CaptureState = session.State().String()
		snap.ElapsedSec = session.ElapsedSeconds()
	}
	if notice, ok := s.dispatcher.Notice(); ok {
		snap.Notice = &notice
	}
	return snap
}

func (s *Service) appendEvent(eventType string, payload []byte) {
	s.mu.Lock()
	id := s.sessionID
	s.mu.Unlock()
	if id == "" || s.store == nil {
		return
	}
	evt := eventstore.Event{
		SessionID: id,
		Type:      eventType,
		Phase:     string(s.coordinator.Phase()),
		Payload:   payload,
	}
	if err := s.store.AppendEvent(s.ctx, evt); err != nil {
		s.log.Warn("failed to append event",
			slog.String("type", eventType),
			slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
