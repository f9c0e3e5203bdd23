// Package shutdown provides graceful shutdown handling.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// CleanupFunc is a function called during shutdown.
type CleanupFunc func(ctx context.Context) error

// Handler manages graceful shutdown of multiple components.
type Handler struct {
	logger   *slog.Logger
	timeout  time.Duration
	cleanups []CleanupFunc
	mu       sync.Mutex
	once     sync.Once
}

// New creates a new shutdown handler.
func New(logger *slog.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a cleanup function. Cleanups run in LIFO order: the last
// registered component is the first shut down.
func (h *Handler) Register(fn CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, fn)
}

// RegisterNamed adds a named cleanup function for better logging.
func (h *Handler) RegisterNamed(name string, fn CleanupFunc) {
	h.Register(func(ctx context.Context) error {
		h.logger.Info("shutting down component", "component", name)
		if err := fn(ctx); err != nil {
			h.logger.Error("error shutting down component", "component", name, "error", err)
			return err
		}
		return nil
	})
}

// Wait blocks until SIGINT/SIGTERM/SIGQUIT, then performs cleanup.
func (h *Handler) Wait() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-quit
	h.logger.Info("received shutdown signal", "signal", sig.String())

	h.Shutdown()
}

// Shutdown runs all registered cleanups in LIFO order, bounded by the
// handler's timeout. Safe to call more than once; only the first call runs
// the cleanups.
func (h *Handler) Shutdown() {
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		h.mu.Lock()
		cleanups := make([]CleanupFunc, len(h.cleanups))
		copy(cleanups, h.cleanups)
		h.mu.Unlock()

		for i := len(cleanups) - 1; i >= 0; i-- {
			if ctx.Err() != nil {
				h.logger.Warn("shutdown timed out before all cleanups ran")
				return
			}
			if err := cleanups[i](ctx); err != nil {
				h.logger.Error("cleanup error", "error", err)
			}
		}

		h.logger.Info("graceful shutdown completed")
	})
}

// ListenAndShutdown starts listening for signals in a goroutine and returns
// a channel closed when shutdown is complete.
func (h *Handler) ListenAndShutdown() <-chan struct{} {
	done := make(chan struct{})

	go func() {
		h.Wait()
		close(done)
	}()

	return done
}
