// ABOUTME: Gateway orchestrator wiring capabilities, dispatch, conversations and the HTTP API
// ABOUTME: Owns the lifecycle of the ledger, caches, tracker, MCP server and HTTP server

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/funnel-gateway/internal/cache"
	"github.com/2389/funnel-gateway/internal/capability"
	"github.com/2389/funnel-gateway/internal/config"
	"github.com/2389/funnel-gateway/internal/conversation"
	"github.com/2389/funnel-gateway/internal/dispatch"
	"github.com/2389/funnel-gateway/internal/endpoint"
	"github.com/2389/funnel-gateway/internal/mcp"
	"github.com/2389/funnel-gateway/internal/metrics"
	"github.com/2389/funnel-gateway/internal/pipeline"
	"github.com/2389/funnel-gateway/internal/retry"
	"github.com/2389/funnel-gateway/internal/store"
	"github.com/2389/funnel-gateway/internal/toolclient"
)

// Gateway orchestrates the funnel-gateway server components.
type Gateway struct {
	config     *config.Config
	registry   *capability.Registry
	store      *store.SQLiteStore
	dispatcher *dispatch.Dispatcher
	cache      *cache.Cache
	tools      *toolclient.Client
	tracker    *conversation.Tracker
	metrics    *metrics.Metrics
	mcpServer  *mcp.Server
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger

	version   string
	startedAt time.Time
}

// Option customizes a Gateway.
type Option func(*options)

type options struct {
	pipeline conversation.Pipeline
	version  string
}

// WithPipeline replaces the keyword pipeline.
func WithPipeline(p conversation.Pipeline) Option {
	return func(o *options) { o.pipeline = p }
}

// WithVersion sets the version reported by health and MCP.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	gw := &Gateway{
		config:    cfg,
		registry:  capability.NewRegistry(logger),
		store:     sqlStore,
		logger:    logger.With("component", "gateway"),
		version:   o.version,
		startedAt: time.Now(),
	}
	if cfg.Metrics.Enabled {
		gw.metrics = metrics.New()
	}

	if err := gw.initDispatch(logger); err != nil {
		_ = sqlStore.Close()
		return nil, err
	}

	gw.cache = cache.New(cfg.Cache.MaxEntries, 0)
	gw.tools = toolclient.New(toolclient.Config{
		Dispatcher: gw.dispatcher,
		Cache:      gw.cache,
		TTLs:       cfg.TTLs(),
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Multiplier:  cfg.Retry.Multiplier,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Logger: logger,
	})

	p := o.pipeline
	if p == nil {
		p, err = pipeline.New(pipeline.Config{Tools: gw.tools, Logger: logger})
		if err != nil {
			_ = gw.closeComponents()
			return nil, fmt.Errorf("creating pipeline: %w", err)
		}
	}

	gw.tracker, err = conversation.NewTracker(conversation.Config{
		Pipeline:    p,
		Audit:       sqlStore,
		Usage:       sqlStore,
		Broadcaster: conversation.NewEventBroadcaster(logger),
		MaxActive:   cfg.Conversations.MaxActive,
		IdleTTL:     cfg.Conversations.IdleTTL,
		Logger:      logger,
	})
	if err != nil {
		_ = gw.closeComponents()
		return nil, fmt.Errorf("creating tracker: %w", err)
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	if cfg.Metrics.Enabled {
		if err := gw.metrics.Register(
			metrics.NewFunnelCollector(gw.tracker),
			metrics.NewCacheCollector(gw.tools),
		); err != nil {
			_ = gw.closeComponents()
			return nil, fmt.Errorf("registering collectors: %w", err)
		}
		mux.Handle(cfg.Metrics.Path, gw.metrics.Handler())
		logger.Info("prometheus metrics enabled", "path", cfg.Metrics.Path)
	}

	if cfg.MCP.Enabled {
		gw.mcpServer, err = mcp.NewServer(mcp.Config{
			Operations:    gw.dispatcher,
			Tools:         gw.tools,
			Conversations: gw.tracker,
			BaseURL:       cfg.GatewayURL(),
			Version:       o.version,
			Logger:        logger,
		})
		if err != nil {
			_ = gw.closeComponents()
			return nil, fmt.Errorf("creating MCP server: %w", err)
		}
		gw.mcpServer.RegisterRoutes(mux)
		logger.Info("MCP server enabled", "sse", cfg.GatewayURL()+mcp.SSEPath)
	}

	gw.handler = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// initDispatch builds the operation catalog and the dispatcher. The catalog
// always comes from provider declarations, optionally overlaid by the TOML
// operations file; in-process providers are skipped in remote mode.
func (g *Gateway) initDispatch(logger *slog.Logger) error {
	cfg := g.config
	providers := g.registry.GetAll(cfg.Capabilities.LatencyMode)

	catalog := dispatch.CatalogFromProviders(providers)
	if cfg.Dispatch.OperationsFile != "" {
		overrides, err := dispatch.LoadCatalogFile(cfg.Dispatch.OperationsFile)
		if err != nil {
			return fmt.Errorf("loading operations file: %w", err)
		}
		catalog = catalog.Overlay(overrides)
	}

	if cfg.Capabilities.Remote {
		providers = nil
	}
	targets := make(map[string]dispatch.Target, len(cfg.Capabilities.Targets))
	for name, url := range cfg.Capabilities.Targets {
		targets[name] = dispatch.Target{BaseURL: url}
	}

	observers := []dispatch.Observer{store.NewDispatchAuditor(g.store, logger)}
	if g.metrics != nil {
		observers = append(observers, g.metrics)
	}

	g.dispatcher = dispatch.New(dispatch.Config{
		Catalog:   catalog,
		Providers: providers,
		Targets:   targets,
		Timeout:   cfg.Dispatch.Timeout,
		Logger:    logger,
		Observers: observers,
	})
	g.logger.Info("dispatcher ready",
		"operations", catalog.Len(),
		"providers", len(providers),
		"targets", len(targets))
	return nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Tracker returns the conversation tracker.
func (g *Gateway) Tracker() *conversation.Tracker { return g.tracker }

// Dispatcher returns the tool dispatcher.
func (g *Gateway) Dispatcher() *dispatch.Dispatcher { return g.dispatcher }

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if g.mcpServer != nil {
		errs = appendCloseError(errs, "MCP shutdown", g.mcpServer.Shutdown(ctx))
	}
	errs = appendCloseError(errs, "store close", g.closeComponents())

	return errors.Join(errs...)
}

// closeComponents releases components that may be partially built.
func (g *Gateway) closeComponents() error {
	if g.tracker != nil {
		g.tracker.Close()
	}
	if g.tools != nil {
		g.tools.Close()
	}
	if g.cache != nil {
		g.cache.Close()
	}
	g.registry.Clear()
	return g.store.Close()
}

// CapabilityEndpoints builds one wire-protocol server per capability on the
// configured port layout.
func CapabilityEndpoints(cfg *config.Config, logger *slog.Logger) *endpoint.Group {
	registry := capability.NewRegistry(logger)
	return endpoint.NewGroup(registry.GetAll(cfg.Capabilities.LatencyMode), cfg.EndpointAddrs(), logger)
}
