package job

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until a job-added notification arrives or ctx ends.
type Waiter interface {
	WaitForNotification(ctx context.Context) error
}

// Notifier fans job-added notifications out to idle workers.
type Notifier interface {
	Subscribe() (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the default notifier.
type NotifierOptions struct {
	Waiter Waiter
	// WaitWindow bounds a single wait; subscribers are woken when it lapses so
	// delayed retries become visible without a NOTIFY. Defaults to 30s.
	WaitWindow time.Duration
	// Backoff is the first pause after a listener error. Consecutive errors double
	// it up to MaxBackoff. Defaults to 250ms and 10s.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultNotifier runs one listener goroutine while it has subscribers.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan struct{}
	loop   *listener
}

type listener struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}
	n := &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: opts.WaitWindow,
		backoff:    opts.Backoff,
		maxBackoff: opts.MaxBackoff,
		subs:       make(map[uint64]chan struct{}),
	}
	if n.waitWindow <= 0 {
		n.waitWindow = 30 * time.Second
	}
	if n.backoff <= 0 {
		n.backoff = 250 * time.Millisecond
	}
	if n.maxBackoff < n.backoff {
		n.maxBackoff = max(10*time.Second, n.backoff)
	}
	return n, nil
}

// Subscribe registers a wake-up channel with a buffer of one, so bursts of
// notifications coalesce. The returned func unsubscribes and closes the channel;
// calling it more than once is safe.
func (n *DefaultNotifier) Subscribe() (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan struct{}, 1)
	n.subs[id] = ch

	if n.loop == nil {
		ctx, cancel := context.WithCancel(context.Background())
		n.loop = &listener{cancel: cancel, done: make(chan struct{})}
		go n.listen(ctx, n.loop.done)
	}

	return func() { n.unsubscribe(id) }, ch
}

// Subscribers returns the number of live subscriptions.
func (n *DefaultNotifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// StopAll stops the listener, waits for it to exit and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	loop := n.loop
	n.loop = nil
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
	n.mu.Unlock()

	if loop != nil {
		loop.cancel()
		<-loop.done
	}
}

func (n *DefaultNotifier) unsubscribe(id uint64) {
	n.mu.Lock()
	ch, ok := n.subs[id]
	if !ok {
		n.mu.Unlock()
		return
	}
	delete(n.subs, id)
	close(ch)

	var loop *listener
	if len(n.subs) == 0 {
		loop, n.loop = n.loop, nil
	}
	n.mu.Unlock()

	if loop != nil {
		loop.cancel()
	}
}

func (n *DefaultNotifier) listen(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	pause := n.backoff
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}
		n.wakeAll()

		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			pause = n.backoff
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
		pause = min(pause*2, n.maxBackoff)
	}
}

func (n *DefaultNotifier) wakeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
