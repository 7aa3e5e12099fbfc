// ABOUTME: Runs one endpoint server per capability, each on its own listen address.
// ABOUTME: Shuts every listener down gracefully when the context is cancelled.

package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/2389/funnel-gateway/internal/capability"
)

// shutdownTimeout bounds graceful shutdown of the group.
const shutdownTimeout = 5 * time.Second

// Group serves several providers on separate addresses.
type Group struct {
	servers map[string]*http.Server
	logger  *slog.Logger
}

// NewGroup builds an http.Server per provider. addrs maps capability name to
// listen address; providers without an address are skipped.
func NewGroup(providers map[string]capability.Provider, addrs map[string]string, logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Group{
		servers: make(map[string]*http.Server),
		logger:  logger.With("component", "endpoint_group"),
	}
	for name, p := range providers {
		addr, ok := addrs[name]
		if !ok || addr == "" {
			g.logger.Warn("no listen address for capability, skipping", "capability", name)
			continue
		}
		g.servers[name] = &http.Server{
			Addr:              addr,
			Handler:           NewServer(p, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return g
}

// Names returns the capabilities this group serves, sorted.
func (g *Group) Names() []string {
	names := make([]string, 0, len(g.servers))
	for name := range g.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run serves until ctx is cancelled or a listener fails.
func (g *Group) Run(ctx context.Context) error {
	if len(g.servers) == 0 {
		return errors.New("no capability endpoints configured")
	}

	errCh := make(chan error, len(g.servers))
	for _, name := range g.Names() {
		srv := g.servers[name]
		g.logger.Info("capability endpoint listening", "capability", name, "addr", srv.Addr)
		go func(name string, srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("capability %s: %w", name, err)
			}
		}(name, srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for name, srv := range g.servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			g.logger.Warn("endpoint shutdown failed", "capability", name, "error", err)
		}
	}
	return runErr
}
