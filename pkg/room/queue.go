package room

import "sync"

// queue is an unbounded FIFO of closures. Post never blocks, so code running
// on the loop may post to itself.
type queue struct {
	mx     sync.Mutex
	items  []func()
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) Post(fn func()) {
	q.mx.Lock()
	q.items = append(q.items, fn)
	q.mx.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop returns the oldest closure, or nil when empty.
func (q *queue) pop() func() {
	q.mx.Lock()
	defer q.mx.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	return fn
}
