// Package queue is the in-memory FIFO of pending actions.
//
// The queue is not safe for concurrent use; its owner (the dispatcher)
// serializes access. Nothing is persisted: pending requests are lost on
// restart.
package queue

// Queue is a FIFO of Requests, optionally bounded.
type Queue struct {
	items    []Request
	head     int
	maxDepth int
	overflow Overflow
}

// New returns an unbounded queue.
func New() *Queue {
	return &Queue{}
}

// NewBounded returns a queue holding at most maxDepth requests.
// maxDepth <= 0 means unbounded.
func NewBounded(maxDepth int, overflow Overflow) *Queue {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Queue{maxDepth: maxDepth, overflow: overflow}
}

// Enqueue appends req at the tail. It never blocks. When the queue is
// bounded and full, the request dropped by the overflow policy is returned.
func (q *Queue) Enqueue(req Request) (dropped *Request) {
	if q.maxDepth > 0 && q.Len() >= q.maxDepth {
		if q.overflow == DropNewest {
			return &req
		}
		head, _ := q.Dequeue()
		dropped = &head
	}
	q.items = append(q.items, req)
	return dropped
}

// Dequeue removes and returns the head. ok is false when the queue is empty.
func (q *Queue) Dequeue() (req Request, ok bool) {
	if q.head >= len(q.items) {
		return Request{}, false
	}
	req = q.items[q.head]
	q.items[q.head] = Request{}
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 32 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return req, true
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	return len(q.items) - q.head
}

// Pending returns a copy of the pending requests, head first.
func (q *Queue) Pending() []Request {
	out := make([]Request, q.Len())
	copy(out, q.items[q.head:])
	return out
}
