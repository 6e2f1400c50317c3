// Package admin is the small authenticated administrative HTTP surface: a
// single PUT /{key} route that triggers a single-subscriber store reload,
// plus a /healthz liveness endpoint. Routed with github.com/tigerwill90/fox.
// The Prometheus /metrics endpoint is served separately, on its own
// listener, by internal/metrics.Registry.Serve, so a slow or misbehaving
// scrape can never block the reload route.
package admin

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/tigerwill90/fox"
	"go.uber.org/zap"

	"github.com/bskyhook/notifier/internal/config"
)

// Reloader reloads a single subscriber identified by its signing-key-hex.
// Implemented by internal/store.Store.LoadOne, bound to a tree/idents pair,
// at wiring time in cmd/notifier.
type Reloader func(ctx context.Context, privateKeyHex string)

// Server is the admin HTTP surface.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New builds the admin HTTP surface: PUT /{key}, GET /healthz.
func New(cfg config.AdminConfig, reload Reloader, logger *zap.Logger) *Server {
	router, err := fox.NewRouter()
	if err != nil {
		// fox.NewRouter only fails on invalid GlobalOptions; we pass none.
		panic(fmt.Sprintf("admin: building router: %v", err))
	}

	router.MustAdd([]string{http.MethodPut}, "/{key}", func(c *fox.Context) {
		handleReload(c, cfg.Secret, reload, logger)
	})
	router.MustAdd([]string{http.MethodGet}, "/healthz", func(c *fox.Context) {
		c.Writer().WriteHeader(http.StatusOK)
	})

	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
	}
}

// handleReload: missing Authorization header -> 400, mismatched secret
// (constant-time compared) -> 401, match -> reload + 204.
func handleReload(c *fox.Context, secret string, reload Reloader, logger *zap.Logger) {
	auth := c.Header("Authorization")
	if auth == "" {
		c.Writer().WriteHeader(http.StatusBadRequest)
		return
	}

	if subtle.ConstantTimeCompare([]byte(auth), []byte(secret)) != 1 {
		c.Writer().WriteHeader(http.StatusUnauthorized)
		return
	}

	key := c.Param("key")
	reload(c.Request().Context(), key)
	logger.Info("admin: subscriber reload requested", zap.String("private_key", key))
	c.Writer().WriteHeader(http.StatusNoContent)
}

// Serve starts the admin HTTP server and blocks until ctx is cancelled or it
// fails to serve, shutting the listener down gracefully on cancellation.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("admin server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
