// Package eventbus is a small generic pub/sub used to decouple the
// request path from slow consumers. Publishing never blocks: a
// subscriber that cannot keep up drops events and the drop is counted,
// which is the right trade for telemetry traffic.
package eventbus

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

const DefaultBufferSize = 256

// Bus fans events out to any number of subscribers.
type Bus[T any] struct {
	subscribers *xsync.Map[string, *subscriber[T]]
	seq         atomic.Uint64
	shutdown    atomic.Bool
	bufferSize  int
}

// subscriber.mu orders sends against the close in unsubscribe; without
// it a publish racing a shutdown could send on a closed channel.
type subscriber[T any] struct {
	mu      sync.RWMutex
	ch      chan T
	dropped atomic.Uint64
	active  atomic.Bool
}

func New[T any]() *Bus[T] {
	return NewWithBuffer[T](DefaultBufferSize)
}

func NewWithBuffer[T any](bufferSize int) *Bus[T] {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	return &Bus[T]{
		subscribers: xsync.NewMap[string, *subscriber[T]](),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a consumer. The returned cancel function is
// idempotent; the channel is closed when the subscription ends or the
// bus shuts down. ctx cancellation also unsubscribes.
func (b *Bus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if b.shutdown.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := strconv.FormatUint(b.seq.Add(1), 10)
	sub := &subscriber[T]{ch: make(chan T, b.bufferSize)}
	sub.active.Store(true)
	b.subscribers.Store(id, sub)

	cancel := func() { b.unsubscribe(id) }
	go func() {
		<-ctx.Done()
		cancel()
	}()

	return sub.ch, cancel
}

// Publish delivers the event to every active subscriber, returning how
// many actually received it.
func (b *Bus[T]) Publish(event T) int {
	if b.shutdown.Load() {
		return 0
	}

	delivered := 0
	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		sub.mu.RLock()
		if sub.active.Load() {
			select {
			case sub.ch <- event:
				delivered++
			default:
				sub.dropped.Add(1)
			}
		}
		sub.mu.RUnlock()
		return true
	})
	return delivered
}

// Dropped totals the events discarded due to slow subscribers.
func (b *Bus[T]) Dropped() uint64 {
	var total uint64
	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		total += sub.dropped.Load()
		return true
	})
	return total
}

func (b *Bus[T]) unsubscribe(id string) {
	if sub, ok := b.subscribers.LoadAndDelete(id); ok {
		sub.mu.Lock()
		if sub.active.CompareAndSwap(true, false) {
			close(sub.ch)
		}
		sub.mu.Unlock()
	}
}

// Shutdown stops delivery and closes every subscriber channel.
func (b *Bus[T]) Shutdown() {
	if !b.shutdown.CompareAndSwap(false, true) {
		return
	}
	b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		b.unsubscribe(id)
		return true
	})
}
