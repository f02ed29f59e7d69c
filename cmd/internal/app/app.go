// Package app wires the thoughtstream runtime: config, logging, storage, the firehose pipeline,
// the publish path and the local HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"thoughtstream/cmd/internal/atproto"
	"thoughtstream/cmd/internal/feed"
	"thoughtstream/cmd/internal/identity"
	"thoughtstream/cmd/internal/storage"
	"thoughtstream/cmd/internal/stream"
	"thoughtstream/cmd/internal/viewer"
	jetstreamv1 "thoughtstream/shared/contracts/jetstream/v1"
)

// Options are runtime knobs that do not belong in Config.
type Options struct {
	// Out receives rendered messages as they are stored. Nil disables terminal output.
	Out io.Writer
	// Location renders timestamps (local time when nil).
	Location *time.Location
	// Blobs overrides the configured backend.
	Blobs storage.Blobs
	// Dialer overrides the firehose dialer.
	Dialer stream.Dialer
	// HTTPClient is used for profile lookups and XRPC calls.
	HTTPClient *http.Client
}

// App owns every long-lived component and their lifecycles.
type App struct {
	cfg Config
	log Logger

	blobs storage.Blobs
	pool  *pgxpool.Pool
	reg   *prometheus.Registry

	store     *feed.Store
	resolver  *identity.Resolver
	client    *stream.Client
	processor *feed.Processor
	hub       *viewer.Hub
	gateway   *viewer.Gateway
	renderer  *viewer.Renderer
	sessions  *atproto.Sessions
	publisher *atproto.Publisher

	closeOnce sync.Once
}

// New opens storage, restores persisted state and wires the pipeline. Nothing connects
// until Run.
func New(ctx context.Context, cfg Config, log Logger, opts Options) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}

	blobs, pool := opts.Blobs, (*pgxpool.Pool)(nil)
	if blobs == nil {
		var err error
		blobs, pool, err = OpenBlobs(ctx, cfg.Storage, log)
		if err != nil {
			return nil, err
		}
	}

	a := &App{
		cfg:   cfg,
		log:   log,
		blobs: blobs,
		pool:  pool,
		reg:   prometheus.NewRegistry(),
	}

	var reg prometheus.Registerer
	if cfg.EnableMetrics {
		a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg = a.reg
	}

	if opts.Out != nil {
		a.renderer = viewer.NewRenderer(opts.Out, opts.Location)
	}
	a.hub = viewer.NewHub(log.With("component", "viewer"), reg)

	feedMetrics := feed.NewMetrics(reg)
	a.store = feed.NewStore(log.With("component", "feed"), blobs,
		feed.WithMaxMessages(cfg.MaxMessages),
		feed.WithStoreMetrics(feedMetrics),
		feed.WithInsertHook(a.onInsert),
	)

	a.resolver = identity.NewResolver(log.With("component", "identity"),
		identity.NewProfileClient(cfg.AppViewURL, opts.HTTPClient),
		blobs,
		identity.WithMetrics(identity.NewMetrics(reg)),
	)

	subscribeURL, err := jetstreamv1.SubscribeURL(cfg.JetstreamURL, cfg.Collection)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("jetstream url: %w", err)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = stream.NewWSDialer(0)
	}
	client, err := stream.NewClient(log.With("component", "stream"), stream.Options{
		URL:            subscribeURL,
		Dialer:         dialer,
		ReconnectDelay: cfg.ReconnectDelay,
		Metrics:        stream.NewMetrics(reg),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.client = client

	a.processor = feed.NewProcessor(log.With("component", "feed"), a.store, a.resolver,
		feed.WithCollection(cfg.Collection),
		feed.WithProcessorMetrics(feedMetrics),
	)

	a.gateway = viewer.NewGateway(log.With("component", "viewer"), a.hub, a.store, viewer.GatewayOptions{
		OriginRequired: cfg.WSOriginRequired,
		AllowedOrigins: cfg.WSAllowedOrigins,
	})

	a.sessions = atproto.NewSessions(log.With("component", "atproto"), blobs, atproto.SessionsOptions{
		Service:    cfg.ServiceURL,
		HTTPClient: opts.HTTPClient,
	})
	a.publisher = atproto.NewPublisher(log.With("component", "atproto"), a.sessions)

	a.resolver.Load(ctx)
	a.store.Load(ctx)
	if err := a.sessions.Load(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) onInsert(m feed.Message) {
	a.hub.Publish(m)
	if a.renderer != nil {
		if err := a.renderer.Render(m); err != nil {
			a.log.Debug("render.fail", "err", err)
		}
	}
}

// Store returns the message log.
func (a *App) Store() *feed.Store { return a.store }

// Sessions returns the session manager.
func (a *App) Sessions() *atproto.Sessions { return a.sessions }

// Publisher returns the publish path.
func (a *App) Publisher() *atproto.Publisher { return a.publisher }

// Renderer returns the terminal renderer or nil.
func (a *App) Renderer() *viewer.Renderer { return a.renderer }

// Run subscribes to the firehose, serves HTTP when configured and blocks until ctx is done
// or the server fails. Storage is closed on return.
func (a *App) Run(ctx context.Context) error {
	defer func() { _ = a.Close() }()

	if a.renderer != nil {
		if err := a.renderer.RenderLog(a.store.Messages()); err != nil {
			a.log.Debug("render.fail", "err", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.client.Start(ctx)

	procDone := make(chan struct{})
	go func() {
		defer close(procDone)
		a.processor.Run(ctx, a.client.Events())
	}()

	errCh := make(chan error, 1)
	var srv *http.Server
	if a.cfg.HTTPAddr != "" {
		srv = a.newServer()
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "storage", a.cfg.Storage.Backend)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("app.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	a.client.Close()
	cancel()
	<-procDone

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			if runErr == nil {
				runErr = err
			}
		}
	}

	a.log.Info("app.stopped")
	return runErr
}

func (a *App) newServer() *http.Server {
	mux := http.NewServeMux()
	registerHTTP(mux, a)

	// WriteTimeout stays unset: /ws sessions are long-lived and manage their own write deadlines.
	return &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithSecurityHeaders(WithRequestLogging(mux, a.log)),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}
}

// Close releases storage. It is safe to call more than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.client != nil {
			a.client.Close()
		}
		if a.blobs != nil {
			if err = a.blobs.Close(); err != nil {
				a.log.Error("storage.close.fail", "err", err)
			}
		}
	})
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
