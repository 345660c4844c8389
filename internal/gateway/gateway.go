// ABOUTME: Gateway orchestrator that wires the store, hub, and HTTP server
// ABOUTME: Owns startup, route registration, and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/relayhq/livedesk/internal/auth"
	"github.com/relayhq/livedesk/internal/config"
	"github.com/relayhq/livedesk/internal/conversation"
	"github.com/relayhq/livedesk/internal/hub"
	"github.com/relayhq/livedesk/internal/presence"
	"github.com/relayhq/livedesk/internal/store"
)

// Gateway orchestrates the livedesk server components: persistence, the
// session hub, presence, and the HTTP/websocket surface.
type Gateway struct {
	config       *config.Config
	store        store.Store
	hub          *hub.Hub
	typing       *hub.TypingTracker
	presence     *presence.Registry
	conversation *conversation.Service
	verifier     *auth.JWTVerifier
	httpServer   *http.Server
	logger       *slog.Logger
}

// New creates a gateway from configuration, opening the SQLite store at the
// configured path.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return NewWithStore(cfg, st, logger)
}

// NewWithStore creates a gateway around an existing store. Used by tests to
// inject a store with a controlled lifecycle.
func NewWithStore(cfg *config.Config, st store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h := hub.NewHub(logger)

	gw := &Gateway{
		config:       cfg,
		store:        st,
		hub:          h,
		typing:       hub.NewTypingTracker(cfg.Chat.TypingWindow, h, logger),
		presence:     presence.NewRegistry(h, logger),
		conversation: conversation.New(st, h, cfg.Chat.HistoryLimit, logger),
		verifier:     auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		logger:       logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoint - no auth required
	mux.HandleFunc("/health", gw.handleHealth)

	// Login issues tokens, so it sits outside the auth middleware
	mux.HandleFunc("/api/login", gw.handleLogin)

	// Everything else requires a verified identity
	authed := auth.HTTPMiddleware(gw.verifier)
	mux.Handle("/api/conversations", authed(http.HandlerFunc(gw.handleConversations)))
	mux.Handle("/api/conversations/", authed(http.HandlerFunc(gw.handleConversationRoutes)))
	mux.Handle("/ws/conversations/", authed(http.HandlerFunc(gw.handleChatSocket)))
	mux.Handle("/ws/presence", authed(http.HandlerFunc(gw.handlePresenceSocket)))

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
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
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, detaches every live connection, and
// releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error

	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.typing.Close()
	g.hub.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	for _, err := range errs {
		g.logger.Error("shutdown error", "error", err)
	}
	if len(errs) > 0 {
		return errs[0]
	}

	g.logger.Info("gateway stopped")
	return nil
}

// Handler exposes the HTTP handler for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// handleHealth responds to liveness probes.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
