// Package runtime assembles the voxlist core: bus, telemetry, persistence
// and the voice workflow services, plus the HTTP surface that exposes
// health, metrics and read-only session observations.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxlist/voxlist-core/internal/bus"
	"github.com/voxlist/voxlist-core/internal/capture"
	"github.com/voxlist/voxlist-core/internal/command"
	"github.com/voxlist/voxlist-core/internal/config"
	"github.com/voxlist/voxlist-core/internal/eventstore"
	"github.com/voxlist/voxlist-core/internal/natsserver"
	"github.com/voxlist/voxlist-core/internal/nlu"
	"github.com/voxlist/voxlist-core/internal/orchestrator"
	"github.com/voxlist/voxlist-core/internal/protocol"
	"github.com/voxlist/voxlist-core/internal/registry"
	"github.com/voxlist/voxlist-core/internal/stt"
	"github.com/voxlist/voxlist-core/internal/tts"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	busClient    *bus.Client
	embedded     *natsserver.EmbeddedServer
	store        *eventstore.Store
	reg          *registry.Registry
	device       *capture.FrameDevice
	streamSvc    *stt.StreamService
	batchSvc     *stt.BatchService
	ttsSvc       *tts.Service
	orchestrator *orchestrator.Service
	frameSub     *nats.Subscription
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startServices(ctx); err != nil {
		r.stopServices()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	mux.HandleFunc("/v1/session", r.handleSession)
	mux.HandleFunc("/v1/session/events", r.handleSessionEvents)
	mux.HandleFunc("/v1/nodes", r.handleNodes)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.stopServices()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.busClient = busClient

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store

	reg, err := registry.NewRegistry(ctx, r.cfg.Registry, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("start registry: %w", err)
	}
	r.reg = reg

	r.device = capture.NewFrameDevice(r.cfg.Capture.PreferredFormats)
	captureMgr := capture.NewManager(r.device, r.cfg.Capture, r.logger)

	// without NLU the recognizer stays keyword-only
	var classifier nlu.Classifier
	if r.cfg.NLU.Enabled {
		classifier, err = nlu.New(r.cfg.NLU)
		if err != nil {
			return fmt.Errorf("build nlu classifier: %w", err)
		}
	}
	recognizer := command.NewRecognizer(command.DefaultVocabulary(), classifier, r.cfg.NLU.MinConfidence, r.logger)

	streamTranscriber, err := stt.NewStreamTranscriber(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("build stream transcriber: %w", err)
	}
	batchTranscriber, err := stt.NewBatchTranscriber(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("build batch transcriber: %w", err)
	}

	synth, err := tts.NewSynthesizer(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("build synthesizer: %w", err)
	}
	r.ttsSvc = tts.NewService(ctx, r.cfg.TTS, busClient, synth, r.logger)
	if err := r.ttsSvc.Start(); err != nil {
		return fmt.Errorf("start tts service: %w", err)
	}

	// The stream service and the orchestrator reference each other: the
	// orchestrator tells the stream to stop listening, the stream reports
	// fatal recognition errors back. The closures break the cycle.
	r.streamSvc = stt.NewStreamService(ctx, r.cfg.STT, busClient, streamTranscriber, func(sessionID string, kind stt.ErrorKind, err error) {
		r.onRecognitionError(sessionID, kind, err)
	})
	if err := r.streamSvc.Start(); err != nil {
		return fmt.Errorf("start stream stt service: %w", err)
	}

	r.batchSvc = stt.NewBatchService(ctx, r.cfg.STT, busClient, batchTranscriber)
	if err := r.batchSvc.Start(); err != nil {
		return fmt.Errorf("start batch stt service: %w", err)
	}

	r.orchestrator = orchestrator.NewService(
		ctx,
		r.cfg,
		busClient,
		store,
		reg,
		captureMgr,
		recognizer,
		r.streamSvc.StopListening,
		r.logger,
	)
	if err := r.orchestrator.Start(); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	// Arriving audio frames also feed the capture session buffer, which the
	// batch transcription path assembles after the recording stops.
	frameSub, err := busClient.Conn().Subscribe(protocol.SubjectAudioFramePrefix+".>", r.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	r.frameSub = frameSub

	return nil
}

func (r *Runtime) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		return
	}
	if stream := r.device.Current(); stream != nil {
		stream.Push(frame.PCM)
		if frame.Final {
			_ = stream.Close()
		}
	}
}

func (r *Runtime) onRecognitionError(sessionID string, kind stt.ErrorKind, err error) {
	r.logger.Warn("recognition error surfaced",
		slog.String("session_id", sessionID),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()))
	// the stream service starts before the orchestrator exists
	if r.orchestrator != nil {
		r.orchestrator.NotifyRecognitionError(kind, err)
	}
}

func (r *Runtime) stopServices() {
	if r.frameSub != nil {
		_ = r.frameSub.Drain()
	}
	if r.orchestrator != nil {
		r.orchestrator.Close()
	}
	if r.batchSvc != nil {
		r.batchSvc.Close()
	}
	if r.streamSvc != nil {
		r.streamSvc.Close()
	}
	if r.ttsSvc != nil {
		r.ttsSvc.Close()
	}
	if r.reg != nil {
		r.reg.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	healthy := r.ready.Load() &&
		r.busClient.Healthy() &&
		r.streamSvc.Healthy() &&
		r.batchSvc.Healthy() &&
		r.ttsSvc.Healthy() &&
		r.orchestrator.Healthy()
	if healthy {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleSession(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, r.orchestrator.Snapshot())
}

func (r *Runtime) handleSessionEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := req.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = r.orchestrator.Snapshot().SessionID
	}
	if sessionID == "" {
		http.Error(w, "no session", http.StatusNotFound)
		return
	}
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	events, err := r.store.ListSessionEvents(req.Context(), sessionID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (r *Runtime) handleNodes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, r.reg.Nodes())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
