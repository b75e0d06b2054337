package lifetime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/exchange/engine/internal/logging"
)

func newTestManager() *Manager {
	return New(logging.New("lifetime-test", nil))
}

func TestSpawnGracefulShutdownIsIdempotent(t *testing.T) {
	m := newTestManager()
	var hookCalls int32
	m.RegisterShutdownHook("h1", func(ctx context.Context) error {
		atomic.AddInt32(&hookCalls, 1)
		return nil
	})

	m.SpawnGracefulShutdown("first", ActionStop)
	m.SpawnGracefulShutdown("second", ActionRestart)

	select {
	case <-m.Wait():
	case <-time.After(time.Second):
		t.Fatal("shutdown never completed")
	}

	if atomic.LoadInt32(&hookCalls) != 1 {
		t.Fatalf("expected hook to run exactly once, ran %d times", hookCalls)
	}
	if m.ActionAfterShutdown() != ActionStop {
		t.Fatalf("expected first action (Stop) to win, got %v", m.ActionAfterShutdown())
	}
	if !m.Token().IsCancellationRequested() {
		t.Fatal("root token should be cancelled")
	}
}

func TestHooksRunInRegistrationOrder(t *testing.T) {
	m := newTestManager()
	var order []string
	m.RegisterShutdownHook("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	m.RegisterShutdownHook("second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	m.SpawnGracefulShutdown("test", ActionStop)
	<-m.Wait()

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("hooks ran out of order: %v", order)
	}
}

func TestHookErrorDoesNotBlockShutdown(t *testing.T) {
	m := newTestManager()
	m.RegisterShutdownHook("failing", func(ctx context.Context) error {
		return errors.New("boom")
	})

	m.SpawnGracefulShutdown("test", ActionStop)

	select {
	case <-m.Wait():
	case <-time.After(time.Second):
		t.Fatal("a failing hook should not block shutdown completion")
	}
}

func TestSpawnPanicTriggersShutdown(t *testing.T) {
	m := newTestManager()
	m.Spawn("panicker", func(ctx context.Context) {
		panic("boom")
	})

	select {
	case <-m.Wait():
	case <-time.After(time.Second):
		t.Fatal("panic in spawned task should trigger shutdown")
	}
	if !m.Token().IsCancellationRequested() {
		t.Fatal("root token should be cancelled after panic recovery")
	}
}

func TestSpawnCriticalErrorTriggersShutdown(t *testing.T) {
	m := newTestManager()
	m.SpawnCritical("failer", func(ctx context.Context) error {
		return errors.New("fatal")
	})

	select {
	case <-m.Wait():
	case <-time.After(time.Second):
		t.Fatal("critical task error should trigger shutdown")
	}
}

func TestSpawnObservesCancellation(t *testing.T) {
	m := newTestManager()
	done := make(chan struct{})
	m.Spawn("waiter", func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})

	m.SpawnGracefulShutdown("stop", ActionStop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("spawned task's context should be cancelled on shutdown")
	}
	<-m.Wait()
}
