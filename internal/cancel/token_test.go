package cancel

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestJustCancel(t *testing.T) {
	token := New()
	if token.IsCancellationRequested() {
		t.Fatal("new token should not be cancelled")
	}
	token.Cancel()
	if !token.IsCancellationRequested() {
		t.Fatal("token should be cancelled after Cancel()")
	}
}

func TestDoubleCancelCall(t *testing.T) {
	token := New()
	token.Cancel()
	token.Cancel()
	if !token.IsCancellationRequested() {
		t.Fatal("token should remain cancelled")
	}
}

func spawnWorkingFuture(t *testing.T, signal *bool, mu *sync.Mutex, token *Token) {
	t.Helper()
	go func() {
		_ = token.WhenCancelled(context.Background())
		mu.Lock()
		*signal = true
		mu.Unlock()
	}()
}

func TestSingleAwait(t *testing.T) {
	token := New()
	var mu sync.Mutex
	var signal bool

	spawnWorkingFuture(t, &signal, &mu, token)
	time.Sleep(2 * time.Millisecond)

	mu.Lock()
	got := signal
	mu.Unlock()
	if got {
		t.Fatal("signal should not be set before cancel")
	}
	if token.IsCancellationRequested() {
		t.Fatal("should not be cancelled yet")
	}

	token.Cancel()
	waitForSignal(t, &signal, &mu)

	if !token.IsCancellationRequested() {
		t.Fatal("should be cancelled")
	}
}

func TestManyAwaits(t *testing.T) {
	token := New()
	var mu1, mu2 sync.Mutex
	var signal1, signal2 bool

	spawnWorkingFuture(t, &signal1, &mu1, token)
	spawnWorkingFuture(t, &signal2, &mu2, token)
	time.Sleep(2 * time.Millisecond)

	token.Cancel()
	waitForSignal(t, &signal1, &mu1)
	waitForSignal(t, &signal2, &mu2)

	if !token.IsCancellationRequested() {
		t.Fatal("should be cancelled")
	}
}

func waitForSignal(t *testing.T, signal *bool, mu *sync.Mutex) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := *signal
		mu.Unlock()
		if got {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("signal was never set")
}

func TestCancelSourceTokenWhenLinkedSourceTokenIsNotCancelled(t *testing.T) {
	source := New()
	if source.IsCancellationRequested() {
		t.Fatal("source should not be cancelled")
	}

	linked := source.CreateLinkedToken()
	if source.IsCancellationRequested() || linked.IsCancellationRequested() {
		t.Fatal("neither token should be cancelled yet")
	}

	source.Cancel()
	if !source.IsCancellationRequested() || !linked.IsCancellationRequested() {
		t.Fatal("cancelling source should cancel the linked token")
	}
}

func TestCreateLinkedTokenWhenSourceTokenIsCancelled(t *testing.T) {
	source := New()
	source.Cancel()
	if !source.IsCancellationRequested() {
		t.Fatal("source should be cancelled")
	}

	linked := source.CreateLinkedToken()
	if !linked.IsCancellationRequested() {
		t.Fatal("linked token created from a cancelled source should start cancelled")
	}
}

func TestCancelNewLinkedTokenWhenSourceTokenIsNotCancelled(t *testing.T) {
	source := New()
	linked := source.CreateLinkedToken()
	if source.IsCancellationRequested() || linked.IsCancellationRequested() {
		t.Fatal("neither token should be cancelled yet")
	}

	linked.Cancel()
	if source.IsCancellationRequested() {
		t.Fatal("cancelling a linked token must not cancel its source")
	}
	if !linked.IsCancellationRequested() {
		t.Fatal("linked token should be cancelled")
	}
}

func TestCancelWhen2NewLinkedTokensToSingleSource(t *testing.T) {
	// source -> token1
	//      \--> token2
	source := New()
	token1 := source.CreateLinkedToken()
	token2 := source.CreateLinkedToken()

	source.Cancel()

	if !source.IsCancellationRequested() || !token1.IsCancellationRequested() || !token2.IsCancellationRequested() {
		t.Fatal("cancelling source should cancel both linked tokens")
	}
}

func TestCancelSourceWhen2SequentiallyNewLinkedTokens(t *testing.T) {
	// source -> token1 -> token2
	source := New()
	token1 := source.CreateLinkedToken()
	token2 := token1.CreateLinkedToken()

	source.Cancel()

	if !source.IsCancellationRequested() || !token1.IsCancellationRequested() || !token2.IsCancellationRequested() {
		t.Fatal("cancelling source should cascade through the whole chain")
	}
}

func TestCancelToken1When2SequentiallyNewLinkedTokens(t *testing.T) {
	// source -> token1 -> token2
	source := New()
	token1 := source.CreateLinkedToken()
	token2 := token1.CreateLinkedToken()

	token1.Cancel()

	if source.IsCancellationRequested() {
		t.Fatal("cancelling token1 must not cancel source")
	}
	if !token1.IsCancellationRequested() || !token2.IsCancellationRequested() {
		t.Fatal("cancelling token1 should cancel its descendant token2")
	}
}
