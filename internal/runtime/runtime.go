package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-highlight/internal/backend"
	"github.com/loqalabs/loqa-highlight/internal/bus"
	"github.com/loqalabs/loqa-highlight/internal/config"
	"github.com/loqalabs/loqa-highlight/internal/controller"
	"github.com/loqalabs/loqa-highlight/internal/eventstore"
	"github.com/loqalabs/loqa-highlight/internal/natsserver"
	"github.com/loqalabs/loqa-highlight/internal/relay"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg        config.Config
	version    string
	logger     *slog.Logger
	httpServer *http.Server
	refServer  *http.Server
	telemetry  *telemetry
	nats       *natsserver.EmbeddedServer
	bus        *bus.Client
	store      *eventstore.Store
	ctrl       *controller.Controller
	relay      *relay.Relay
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start wires every component, serves until ctx is done and then shuts
// everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	if err := r.startComponents(ctx); err != nil {
		cancel()
		r.shutdown()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/metrics", tel.metrics)
	api := &sessionAPI{ctrl: r.ctrl, store: r.store, logger: r.logger.With(slog.String("component", "api"))}
	api.routes(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "loqa-highlight"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("backend", r.cfg.Backend.BaseURL))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		ns, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		r.nats = ns
		if ns != nil {
			busCfg.Servers = []string{ns.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return err
		}
		r.bus = client
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store
	r.wg.Add(1)
	go r.pruneLoop(ctx)

	if r.cfg.Reference.Enabled {
		srv, err := NewReferenceServer(r.cfg, r.logger)
		if err != nil {
			return err
		}
		r.refServer = srv
		r.serve(srv, "reference")
	}

	opts := []controller.Option{
		controller.WithLogger(r.logger),
		controller.WithRecorder(storeRecorder{store: store}),
		controller.WithCancelTimeout(time.Duration(r.cfg.Backend.CancelTimeout) * time.Millisecond),
	}
	var rel *relay.Relay
	if r.bus != nil && r.cfg.Relay.Enabled {
		opts = append(opts, controller.WithObserver(func(s controller.Snapshot) { rel.Publish(s) }))
	}
	// Background ctx: sessions are torn down explicitly in shutdown.
	r.ctrl = controller.New(context.Background(), backend.NewClient(r.cfg.Backend), opts...)

	if r.bus != nil {
		rel = relay.New(r.cfg.Relay, r.bus, r.ctrl, r.logger)
		if err := rel.Start(); err != nil {
			return err
		}
		r.relay = rel
	}
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slogError(err))
		}
	}()
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slogError(err))
			}
		}
	}
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	if r.relay != nil {
		r.relay.Close()
	}
	if r.ctrl != nil {
		r.ctrl.Close()
	}
	if r.refServer != nil {
		if err := r.refServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("reference shutdown error", slogError(err))
		}
	}
	r.wg.Wait()

	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slogError(err))
		}
	}
	if r.telemetry != nil {
		if err := r.telemetry.shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
