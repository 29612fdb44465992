// Package shutdown coordinates teardown of the agent's long-lived components.
// main registers closers in start order; Shutdown runs them concurrently
// under one deadline so a stuck component cannot hold the process hostage.
package shutdown

import (
	"context"
	"sync"

	"github.com/lanops/lanagent/pkg/logger"
)

// Closer is one teardown step. It must respect ctx and return promptly once
// the deadline passes.
type Closer func(ctx context.Context) error

// Manager collects named closers and runs them on shutdown.
type Manager struct {
	mu      sync.Mutex
	names   []string
	closers []Closer
}

func NewManager() *Manager {
	return &Manager{}
}

// Register adds a closer. Safe to call from any goroutine until Shutdown.
func (m *Manager) Register(name string, c Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	m.closers = append(m.closers, c)
}

// Shutdown runs all registered closers concurrently and waits for them to
// finish or for ctx to expire, whichever comes first. Closer errors are
// logged, never propagated: teardown always runs to completion.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	names := m.names
	closers := m.closers
	m.mu.Unlock()

	if len(closers) == 0 {
		return
	}
	logger.Infof("shutting down %d component(s)", len(closers))

	var wg sync.WaitGroup
	wg.Add(len(closers))
	for i := range closers {
		go func(name string, c Closer) {
			defer wg.Done()
			if err := c(ctx); err != nil {
				logger.WithField("component", name).Warnf("shutdown: %v", err)
			}
		}(names[i], closers[i])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-ctx.Done():
		logger.Warnf("shutdown deadline exceeded: %v", ctx.Err())
	}
}
