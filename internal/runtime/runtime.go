// Package runtime wires the captioning components together and owns
// their lifecycle: embedded bus, storage, engines, session manager and
// the HTTP surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livespeak-labs/livespeak-core/internal/bus"
	"github.com/livespeak-labs/livespeak-core/internal/config"
	"github.com/livespeak-labs/livespeak-core/internal/engine"
	"github.com/livespeak-labs/livespeak-core/internal/export"
	"github.com/livespeak-labs/livespeak-core/internal/natsserver"
	"github.com/livespeak-labs/livespeak-core/internal/persist"
	"github.com/livespeak-labs/livespeak-core/internal/session"
	"github.com/livespeak-labs/livespeak-core/internal/ws"
)

// Runtime is the composed livespeak process.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup
}

// New creates a runtime from config.
func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up and blocks until ctx is cancelled,
// then shuts down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := initTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer busClient.Close()

	store, err := persist.Open(ctx, r.cfg.Persistence, r.logger)
	if err != nil {
		return fmt.Errorf("open caption store: %w", err)
	}
	defer store.Close()

	sidecar := persist.NewSidecar(store, r.cfg.Persistence.QueueSize, r.cfg.Persistence.Workers, r.logger)
	defer sidecar.Close()

	exporter := export.New(r.cfg.Export, r.logger)
	defer exporter.Close()

	edge, cloud, err := r.buildEngines(ctx)
	if err != nil {
		return err
	}
	if closer, ok := cloud.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	manager := session.NewManager(session.Deps{
		Config:   r.cfg,
		Log:      r.logger,
		Edge:     edge,
		Cloud:    cloud,
		Sidecar:  sidecar,
		Exporter: exporter,
		Publish:  busClient.PublishEvent,
	})
	defer manager.StopAll()

	wsServer := ws.NewServer(manager, busClient, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/ws/captions", wsServer.Handle)
	mux.HandleFunc("/capture/start", captureHandler(manager, true))
	mux.HandleFunc("/capture/stop", captureHandler(manager, false))
	if tel.metricsHandler != nil {
		mux.Handle("/metrics", tel.metricsHandler)
	}

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
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("edge_mode", r.cfg.Edge.Mode),
		slog.String("cloud_mode", r.cfg.Cloud.Mode))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := tel.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

func (r *Runtime) buildEngines(ctx context.Context) (engine.EdgeTranscriber, engine.CloudTranscriber, error) {
	var edge engine.EdgeTranscriber
	switch r.cfg.Edge.Mode {
	case "exec":
		e, err := engine.NewExecEdge(r.cfg.Edge, r.cfg.Capture.SampleRate)
		if err != nil {
			return nil, nil, fmt.Errorf("build exec edge engine: %w", err)
		}
		edge = e
	default:
		edge = engine.NewMockEdge()
	}

	if !r.cfg.Cloud.Enabled {
		return edge, nil, nil
	}
	switch r.cfg.Cloud.Mode {
	case "google":
		cloud, err := engine.NewGoogleCloud(ctx, r.cfg.Cloud, r.cfg.Capture.SampleRate)
		if err != nil {
			return nil, nil, fmt.Errorf("build google cloud engine: %w", err)
		}
		return edge, cloud, nil
	default:
		return edge, engine.NewMockCloud(), nil
	}
}

func captureHandler(manager *session.Manager, enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		manager.SetCapture(enable)
		w.WriteHeader(http.StatusOK)
		if enable {
			_, _ = w.Write([]byte(`{"capture":"started"}`))
			return
		}
		_, _ = w.Write([]byte(`{"capture":"stopped"}`))
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
