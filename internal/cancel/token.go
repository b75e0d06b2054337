// Package cancel implements a hierarchical cancellation token: a lightweight signal
// that an in-flight operation should stop, with parent tokens able to cancel every
// token linked from them. Go's context.Context already does most of this, but the
// core needs two things context.Context doesn't give us directly: registering plain
// callback handlers that fire synchronously on cancel (used to unwind in-flight
// order/reservation state without polling), and a link topology that was modeled,
// in the original implementation this engine is derived from, on Arc<Weak<...>>
// so a cancelled child can be dropped without keeping its parent's handler list
// growing forever.
//
// Go has no native weak reference, so CreateLinkedToken here holds a normal strong
// reference from parent to child instead. A token tree that keeps creating and
// discarding linked tokens without ever cancelling the parent will accumulate
// handlers for the lifetime of the parent; in practice tokens are scoped to an
// order or a connection and are cancelled well before the parent (the engine
// lifetime token) is, so the handler list stays bounded by concurrent in-flight
// operations, not by historical churn.
package cancel

import (
	"context"
	"sync"

	"github.com/exchange/engine/internal/xerrors"
)

// Token signals cancellation of an operation. The zero value is not usable; use New.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
	handlers  []func()
}

// New returns a fresh, not-yet-cancelled Token.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel requests cancellation. It is idempotent: the second and later calls are
// no-ops. Registered handlers run synchronously, in registration order, before
// Cancel returns; handlers must not block.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	handlers := t.handlers
	t.handlers = nil
	t.mu.Unlock()

	for _, h := range handlers {
		h()
	}
	close(t.done)
}

// IsCancellationRequested reports whether Cancel has been called.
func (t *Token) IsCancellationRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// ErrorIfCancellationRequested returns a cancellation error if the token has been
// cancelled, otherwise nil.
func (t *Token) ErrorIfCancellationRequested() error {
	if t.IsCancellationRequested() {
		return xerrors.ErrOperationCanceled
	}
	return nil
}

// Done returns a channel that is closed when Cancel is called, mirroring
// context.Context.Done so a Token can be selected on alongside other channels.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// WhenCancelled blocks until Cancel is called or ctx is done, whichever comes first.
// It returns nil if the token was cancelled, or ctx.Err() if ctx ended first.
func (t *Token) WhenCancelled(ctx context.Context) error {
	if t.IsCancellationRequested() {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateLinkedToken returns a new Token that is cancelled whenever t is cancelled.
// If t is already cancelled, the returned token is cancelled immediately. Cancelling
// the returned token does not cancel t — cancellation only flows parent to child.
func (t *Token) CreateLinkedToken() *Token {
	child := New()

	t.registerHandler(func() {
		child.Cancel()
	})

	if t.IsCancellationRequested() {
		child.Cancel()
	}

	return child
}

// registerHandler appends handler to the token's handler list, or runs it immediately
// if the token is already cancelled (handlers registered post-cancellation must still
// observe the cancellation).
func (t *Token) registerHandler(handler func()) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		handler()
		return
	}
	t.handlers = append(t.handlers, handler)
	t.mu.Unlock()
}
