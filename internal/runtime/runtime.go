// Package runtime assembles the daemon: telemetry, the message bus, the
// durable store, the capture and transcription sessions, the session
// coordinator, and the HTTP surface for health checks and the recordings
// browser.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxnote-labs/voxnote-core/internal/bus"
	"github.com/voxnote-labs/voxnote-core/internal/capture"
	"github.com/voxnote-labs/voxnote-core/internal/config"
	"github.com/voxnote-labs/voxnote-core/internal/coordinator"
	"github.com/voxnote-labs/voxnote-core/internal/export"
	"github.com/voxnote-labs/voxnote-core/internal/natsserver"
	"github.com/voxnote-labs/voxnote-core/internal/store"
	"github.com/voxnote-labs/voxnote-core/internal/transcribe"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	busClient   *bus.Client
	store       *store.Store
	transcriber *transcribe.Session
	coord       *coordinator.Coordinator
	exporter    *export.Exporter
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component and blocks until ctx is cancelled, then tears
// everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	// Releases whatever was wired so far, so a failure partway through
	// startup does not leak the embedded bus or the store.
	defer r.teardown()

	if r.cfg.Bus.Embedded {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		r.embedded = embedded
	}

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	r.busClient = busClient

	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("open recording store: %w", err)
	}
	r.store = st

	device, err := r.buildDevice()
	if err != nil {
		return fmt.Errorf("build capture device: %w", err)
	}
	recognizer, err := r.buildRecognizer()
	if err != nil {
		return fmt.Errorf("build recognizer: %w", err)
	}

	capSession := capture.NewSession(r.cfg.Capture, device, r.logger)
	r.transcriber = transcribe.NewSession(ctx, r.cfg.Recognition, recognizer, r.logger)
	r.exporter = export.New(r.cfg.Export, r.logger)

	r.coord = coordinator.New(r.cfg.Capture, capSession, r.transcriber, st, busClient, r.logger)
	if err := r.coord.Bind(busClient); err != nil {
		return fmt.Errorf("bind session commands: %w", err)
	}

	mux := r.routes(metricHandler)

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
	r.logger.Info("daemon started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("daemon stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	return nil
}

// teardown closes every wired component in reverse order. Components that
// never came up are nil and skipped, so it is safe on partial wiring.
func (r *Runtime) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.coord != nil {
		r.coord.Close()
	}
	if r.transcriber != nil {
		r.transcriber.Close()
	}
	r.busClient.Close()
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("store close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) routes(metricHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	mux.HandleFunc("GET /v1/recordings", r.handleListRecordings)
	mux.HandleFunc("DELETE /v1/recordings", r.handleClearRecordings)
	mux.HandleFunc("GET /v1/recordings/{id}/audio", r.handleRecordingAudio)
	mux.HandleFunc("DELETE /v1/recordings/{id}", r.handleDeleteRecording)
	mux.HandleFunc("POST /v1/recordings/{id}/export", r.handleExportRecording)
	return mux
}

func (r *Runtime) buildDevice() (capture.Device, error) {
	switch r.cfg.Capture.Mode {
	case "exec":
		return capture.NewExecDevice(r.cfg.Capture.Command)
	case "mock", "":
		return capture.NewMockDevice(), nil
	default:
		return nil, fmt.Errorf("unknown capture mode %q", r.cfg.Capture.Mode)
	}
}

func (r *Runtime) buildRecognizer() (transcribe.Recognizer, error) {
	switch r.cfg.Recognition.Mode {
	case "exec":
		return transcribe.NewExecRecognizer(r.cfg.Recognition)
	case "mock", "":
		return transcribe.NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown recognition mode %q", r.cfg.Recognition.Mode)
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleListRecordings(w http.ResponseWriter, req *http.Request) {
	recs, err := r.store.List(req.Context())
	if err != nil {
		r.respondError(w, err)
		return
	}
	if recs == nil {
		recs = []store.Recording{}
	}
	r.respondJSON(w, http.StatusOK, recs)
}

func (r *Runtime) handleClearRecordings(w http.ResponseWriter, req *http.Request) {
	if err := r.store.ClearAll(req.Context()); err != nil {
		r.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleRecordingAudio(w http.ResponseWriter, req *http.Request) {
	_, path, err := r.store.AudioFile(req.Context(), req.PathValue("id"))
	if err != nil {
		r.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, req, path)
}

func (r *Runtime) handleDeleteRecording(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Delete(req.Context(), req.PathValue("id")); err != nil {
		r.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleExportRecording(w http.ResponseWriter, req *http.Request) {
	rec, err := r.store.LoadWithPayload(req.Context(), req.PathValue("id"))
	if err != nil {
		r.respondError(w, err)
		return
	}

	format := req.URL.Query().Get("format")
	var path string
	switch format {
	case "audio":
		path, err = r.exporter.Audio(rec)
	case "transcript", "":
		path, err = r.exporter.Transcript(rec)
	default:
		r.respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown export format %q", format),
		})
		return
	}
	if err != nil {
		r.respondError(w, err)
		return
	}
	r.respondJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (r *Runtime) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		r.logger.Warn("failed to encode http response", slog.String("error", err.Error()))
	}
}

func (r *Runtime) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
	}
	r.respondJSON(w, status, map[string]string{"error": err.Error()})
}
