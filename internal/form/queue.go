package form

import "sync"

// Queue hands async completions to the dialog loop. Post may be called
// from any goroutine; Flush runs the queued functions on the caller's.
type Queue struct {
	mu    sync.Mutex
	fns   []func()
	ready chan struct{}
}

func newQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Post queues fn.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after Post.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Flush runs everything queued so far, including functions queued by the
// functions it runs.
func (q *Queue) Flush() int {
	n := 0
	for {
		q.mu.Lock()
		fns := q.fns
		q.fns = nil
		q.mu.Unlock()
		if len(fns) == 0 {
			return n
		}
		for _, fn := range fns {
			fn()
		}
		n += len(fns)
	}
}

// Drain drops everything queued.
func (q *Queue) Drain() {
	q.mu.Lock()
	q.fns = nil
	q.mu.Unlock()
}
