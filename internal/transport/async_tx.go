// Package transport provides a reusable asynchronous frame transmitter
// that funnels writes from many producers through a single goroutine.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	canif "github.com/kstaniek/go-canif"
)

// ErrClosed is returned by SendFrame after Close.
var ErrClosed = errors.New("async tx closed")

// Hooks customize AsyncTx behavior without duplicating the goroutine and
// buffer plumbing at every call site.
type Hooks struct {
	// OnError runs when send returns a non-nil error (frame not sent).
	OnError func(error)
	// OnAfter runs after each successful send.
	OnAfter func()
	// OnDrop runs when the buffer is full; its return value is returned
	// from SendFrame. If nil, the overflow is silent.
	OnDrop func() error
}

// AsyncTx queues frames for a single writer goroutine. Enqueue is
// non-blocking: a full buffer invokes OnDrop instead of stalling the
// producer behind a slow or wedged device.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan canif.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(canif.Frame) error
	hooks  Hooks
	closed atomic.Bool
}

// New constructs an AsyncTx with a buffered channel of size buf and
// starts its writer goroutine.
func New(parent context.Context, buf int, send func(canif.Frame) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan canif.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(fr); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// SendFrame queues a frame or returns the drop error when the buffer is
// full. After Close it returns ErrClosed.
func (a *AsyncTx) SendFrame(fr canif.Frame) error {
	if a.closed.Load() {
		return ErrClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the writer goroutine and waits for it to finish.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
