// Package lifetime implements the engine's graceful shutdown coordinator: a single
// owner of the root cancellation token, a registry of ordered shutdown hooks, and
// panic containment for every goroutine the engine spawns. Modeled on
// launch_trading_engine/EngineContext from the original implementation (one
// ApplicationManager owning the root CancellationToken, a shutdown_service that
// registers dependent services in start order) combined with the teacher's
// cmd/*/main.go signal-handling loop (os/signal -> cancel() -> bounded
// server.Shutdown(ctx)).
package lifetime

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/exchange/engine/internal/cancel"
	"github.com/exchange/engine/internal/logging"
)

// Action tells the process supervisor what to do once graceful shutdown finishes.
type Action int

const (
	ActionStop Action = iota
	ActionRestart
)

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// Manager owns the engine's root cancellation token and coordinates graceful
// shutdown across every subsystem. Construct one per process.
type Manager struct {
	logger *logging.Logger
	root   *cancel.Token

	mu    sync.Mutex
	hooks []hook

	wg sync.WaitGroup

	shutdownOnce sync.Once
	finished     chan struct{}
	action       Action
	reason       string
}

// New constructs a Manager with a fresh root token.
func New(logger *logging.Logger) *Manager {
	return &Manager{
		logger:   logger,
		root:     cancel.New(),
		finished: make(chan struct{}),
	}
}

// Token returns the root cancellation token. Subsystems derive linked tokens from
// it via Token().CreateLinkedToken() so a subsystem-scoped cancel never affects
// its siblings, while the root cancel reaches everything.
func (m *Manager) Token() *cancel.Token {
	return m.root
}

// RegisterShutdownHook appends a named shutdown hook. Hooks run in registration
// order during graceful shutdown — callers should register core services (event
// bus, reservation ledger) before dependent services (control surface, strategy
// runners), so core services are shut down first and dependents after them.
func (m *Manager) RegisterShutdownHook(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Spawn runs fn in a new goroutine. A panic inside fn is recovered and converted
// into a graceful shutdown instead of crashing the process, matching the teacher's
// pattern of never letting one failed worker take down the whole service.
func (m *Manager) Spawn(name string, fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.recoverAndShutdown(name)
		fn(contextFromToken(m.root))
	}()
}

// SpawnCritical is Spawn for functions that can fail: a non-nil return triggers a
// graceful shutdown tagged with the returned error, in addition to panic recovery.
func (m *Manager) SpawnCritical(name string, fn func(ctx context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.recoverAndShutdown(name)
		if err := fn(contextFromToken(m.root)); err != nil {
			m.logger.WithError(err).Errorf("critical task failed", map[string]interface{}{"task": name})
			m.SpawnGracefulShutdown("task "+name+" failed: "+err.Error(), ActionStop)
		}
	}()
}

func (m *Manager) recoverAndShutdown(name string) {
	if r := recover(); r != nil {
		m.logger.Errorf("recovered panic, initiating shutdown", map[string]interface{}{
			"task":  name,
			"panic": r,
		})
		m.SpawnGracefulShutdown("panic in "+name, ActionStop)
	}
}

// SpawnGracefulShutdown requests shutdown with the given reason and post-shutdown
// action. It is idempotent: only the first call actually runs hooks; later calls
// are no-ops. It cancels the root token immediately so in-flight operations see
// cancellation right away, then runs shutdown hooks in registration order, all
// sharing one context that expires 10 seconds after the hooks start (matching the
// teacher's server.Shutdown(ctx) pattern).
func (m *Manager) SpawnGracefulShutdown(reason string, action Action) {
	m.shutdownOnce.Do(func() {
		m.reason = reason
		m.action = action
		m.root.Cancel()

		go m.runHooks()
	})
}

func (m *Manager) runHooks() {
	m.logger.Infof("graceful shutdown starting", map[string]interface{}{"reason": m.reason})

	m.mu.Lock()
	hooks := m.hooks
	m.mu.Unlock()

	ctx, hookCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer hookCancel()

	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			m.logger.WithError(err).Warnf("shutdown hook failed", map[string]interface{}{"hook": h.name})
		}
	}

	m.wg.Wait()
	m.logger.Info("graceful shutdown complete")
	close(m.finished)
}

// Wait returns a channel closed once graceful shutdown has run every hook and every
// spawned goroutine has returned.
func (m *Manager) Wait() <-chan struct{} {
	return m.finished
}

// ActionAfterShutdown reports what the caller asked to happen once Wait()
// unblocks. Only meaningful after Wait() has unblocked.
func (m *Manager) ActionAfterShutdown() Action {
	return m.action
}

// ListenForSignals spawns a goroutine that triggers graceful shutdown on SIGINT or
// SIGTERM, the Unix equivalent of the teacher's sigCh/signal.Notify loop.
func (m *Manager) ListenForSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		m.SpawnGracefulShutdown("received signal "+sig.String(), ActionStop)
	}()
}

// contextFromToken adapts a cancel.Token into a context.Context so spawned
// goroutines written against stdlib APIs (HTTP clients, database/sql) can select
// on the same cancellation without the caller juggling two cancellation idioms.
func contextFromToken(t *cancel.Token) context.Context {
	ctx, ctxCancel := context.WithCancel(context.Background())
	go func() {
		<-t.Done()
		ctxCancel()
	}()
	return ctx
}
