package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorsync/mirrorsync/internal/statusapi"
	"github.com/mirrorsync/mirrorsync/internal/sync"
)

const shutdownTimeout = 10 * time.Second

// Daemon supervises the long-running pieces of one sync pair: the
// manager and, when enabled, the status API.
type Daemon struct {
	mgr *sync.Manager
	api *statusapi.Server
}

// New builds a daemon. api may be nil when the HTTP surface is off.
func New(mgr *sync.Manager, api *statusapi.Server) *Daemon {
	return &Daemon{mgr: mgr, api: api}
}

// Start runs everything until ctx is cancelled, then drains with a
// bounded shutdown window. The first component failure takes the whole
// daemon down.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("daemon start")

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := d.mgr.Start(egCtx); err != nil {
			return fmt.Errorf("sync manager: %w", err)
		}
		return nil
	})

	if d.api != nil {
		eg.Go(func() error {
			if err := d.api.Start(egCtx); err != nil {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}

	slog.Info("daemon stopped")
	return nil
}

func (d *Daemon) Stop(ctx context.Context) error {
	err := d.mgr.Stop()
	if d.api != nil {
		if apiErr := d.api.Stop(ctx); err == nil {
			err = apiErr
		}
	}
	return err
}
