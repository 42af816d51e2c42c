package ports

import (
	"context"
	"errors"

	"caseimport/internal/domain/importing"
)

var (
	ErrQueueFull        = errors.New("job queue is full")
	ErrQueueUnavailable = errors.New("job queue unavailable")
	ErrQueueClosed      = errors.New("job queue closed")
)

// Delivery is one received job. Exactly one of Ack, Nak or Term should be called.
type Delivery interface {
	Job() importing.ImportJob
	Ack(ctx context.Context) error
	Nak(ctx context.Context) error
	Term(ctx context.Context) error
	// Heartbeat extends the redelivery deadline for long jobs.
	Heartbeat(ctx context.Context) error
}

// BrokerHealth describes the transport connection.
type BrokerHealth struct {
	Connected bool
	State     string
	Attempts  int
	LastError string
}

type JobQueue interface {
	Publish(ctx context.Context, job importing.ImportJob) error
	// Receive blocks until a job is available, ctx is done or the queue is closed.
	Receive(ctx context.Context) (Delivery, error)
	// Remove drops a job that has not been delivered yet.
	Remove(ctx context.Context, batchID string) (bool, error)
	Depth(ctx context.Context) (int, error)
	Health() BrokerHealth
	Close() error
}
