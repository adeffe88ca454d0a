package statusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mirrorsync/mirrorsync/internal/sync"
)

// Server exposes a read-only HTTP view of one running sync pair. It is
// meant for loopback use; there is no auth and nothing it serves can
// mutate the pair.
type Server struct {
	addr   string
	server *http.Server
}

func New(addr string, mgr *sync.Manager) *Server {
	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:    addr,
			Handler: setupRoutes(mgr),
			// Timeouts to prevent slow client attacks
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20, // 1 MB
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("status api start", "addr", fmt.Sprintf("http://%s", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status api: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("status api stop")
	return s.server.Shutdown(ctx)
}
