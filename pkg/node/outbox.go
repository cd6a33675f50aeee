package node

import "sync"

// outbox is an unbounded FIFO between a producer holding the node mutex
// and a single consumer goroutine. push never blocks; the consumer waits
// on wake and takes everything queued so far with drain.
type outbox[T any] struct {
	mu    sync.Mutex
	items []T
	wake  chan struct{}
}

func newOutbox[T any]() *outbox[T] {
	return &outbox[T]{wake: make(chan struct{}, 1)}
}

func (o *outbox[T]) push(v T) {
	o.mu.Lock()
	o.items = append(o.items, v)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox[T]) drain() []T {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := o.items
	o.items = nil
	return batch
}
