package memory

import (
	"context"
	"errors"
	"sync"

	"caseimport/internal/domain/importing"
	"caseimport/internal/ports"
)

const DefaultCapacity = 1024

// Queue is an in-process FIFO job queue. Jobs do not survive a restart.
type Queue struct {
	mu       sync.Mutex
	items    []importing.ImportJob
	capacity int
	notify   chan struct{}
	done     chan struct{}
	closed   bool
}

var _ ports.JobQueue = (*Queue)(nil)

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *Queue) Publish(ctx context.Context, job importing.ImportJob) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ports.ErrQueueClosed
	}
	for _, queued := range q.items {
		if queued.BatchID == job.BatchID {
			return nil
		}
	}
	if len(q.items) >= q.capacity {
		return ports.ErrQueueFull
	}
	q.items = append(q.items, job)
	q.signal()
	return nil
}

func (q *Queue) Receive(ctx context.Context) (ports.Delivery, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ports.ErrQueueClosed
		}
		if len(q.items) > 0 {
			job := q.items[0]
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return &delivery{queue: q, job: job}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ports.ErrQueueClosed
		case <-q.notify:
		}
	}
}

func (q *Queue) Remove(ctx context.Context, batchID string) (bool, error) {
	if ctx == nil {
		return false, errors.New("context is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, queued := range q.items {
		if queued.BatchID == batchID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (q *Queue) Depth(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *Queue) Health() ports.BrokerHealth {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ports.BrokerHealth{State: "closed"}
	}
	return ports.BrokerHealth{Connected: true, State: "in-process"}
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

// requeue puts a negatively acknowledged job back at the head.
func (q *Queue) requeue(job importing.ImportJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append([]importing.ImportJob{job}, q.items...)
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

type delivery struct {
	queue *Queue
	job   importing.ImportJob
	once  sync.Once
}

func (d *delivery) Job() importing.ImportJob { return d.job }

func (d *delivery) Ack(context.Context) error { return nil }

func (d *delivery) Nak(context.Context) error {
	d.once.Do(func() { d.queue.requeue(d.job) })
	return nil
}

func (d *delivery) Term(context.Context) error { return nil }

func (d *delivery) Heartbeat(context.Context) error { return nil }
