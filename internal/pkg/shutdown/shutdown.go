// Package shutdown provides graceful shutdown coordination for the API and
// worker binaries.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"sharewear/internal/pkg/logger"
)

// Manager runs registered cleanup handlers when a termination signal
// arrives. Handlers run in reverse registration order, so the HTTP
// server drains before the connections it depends on are closed.
type Manager struct {
	log     *logger.Logger
	timeout time.Duration

	mu       sync.Mutex
	handlers []handler

	done     chan struct{}
	doneOnce sync.Once
}

type handler struct {
	name    string
	cleanup func(ctx context.Context) error
}

func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		log:     log,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register adds a cleanup handler. Later registrations run first.
func (m *Manager) Register(name string, cleanup func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler{name: name, cleanup: cleanup})
}

// RegisterSimple adds a handler that needs no context and cannot fail.
func (m *Manager) RegisterSimple(name string, cleanup func()) {
	m.Register(name, func(context.Context) error {
		cleanup()
		return nil
	})
}

// Wait blocks until SIGINT, SIGTERM or SIGHUP, then runs cleanup.
func (m *Manager) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	m.log.Info("shutdown signal received", "signal", sig.String())
	m.Shutdown()
}

// Shutdown runs every handler, newest first, within the manager's
// timeout. A failing handler is logged and does not stop the rest.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handlers := append([]handler(nil), m.handlers...)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.log.Info("starting graceful shutdown", "handlers", len(handlers))

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := len(handlers) - 1; i >= 0; i-- {
			h := handlers[i]
			start := time.Now()
			if err := h.cleanup(ctx); err != nil {
				m.log.Error("shutdown handler failed",
					"name", h.name, "error", err.Error(),
					"duration_ms", time.Since(start).Milliseconds())
				continue
			}
			m.log.Debug("shutdown handler completed",
				"name", h.name, "duration_ms", time.Since(start).Milliseconds())
		}
	}()

	select {
	case <-finished:
		m.log.Info("graceful shutdown completed")
	case <-ctx.Done():
		m.log.Warn("shutdown timeout exceeded, forcing exit")
	}

	m.doneOnce.Do(func() { close(m.done) })
}

// Done is closed once Shutdown has finished or timed out.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Context returns a context that is canceled when shutdown completes.
func (m *Manager) Context() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-m.done
		cancel()
	}()
	return ctx
}
