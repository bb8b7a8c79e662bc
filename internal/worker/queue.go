// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"context"
	"sync"
)

// Submission is one queued execution request.
type Submission struct {
	Code  string
	Token int64
}

// queue is an unbounded FIFO. Push never blocks.
type queue struct {
	mu     sync.Mutex
	items  []Submission
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(s Submission) {
	q.mu.Lock()
	q.items = append(q.items, s)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop blocks until a submission is available or ctx is done.
func (q *queue) pop(ctx context.Context) (Submission, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			s := q.items[0]
			q.items[0] = Submission{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return s, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return Submission{}, ctx.Err()
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
