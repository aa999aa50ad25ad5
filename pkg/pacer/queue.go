package pacer

// queued is a task plus its submission index.
type queued[T any] struct {
	index int
	task  Task[T]
}

// pendingQueue is a FIFO of tasks not yet dispatched.
//
// Appends happen only before Start (under Engine.mu); pops happen only on the
// dispatcher goroutine afterwards, so the queue itself needs no lock.
type pendingQueue[T any] struct {
	items []queued[T]
	head  int
	next  int
}

func (q *pendingQueue[T]) push(t Task[T]) {
	q.items = append(q.items, queued[T]{index: q.next, task: t})
	q.next++
}

func (q *pendingQueue[T]) pop() (queued[T], bool) {
	if q.head >= len(q.items) {
		return queued[T]{}, false
	}
	it := q.items[q.head]
	q.items[q.head] = queued[T]{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return it, true
}

func (q *pendingQueue[T]) Len() int { return len(q.items) - q.head }
