package natsjs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
	"caseimport/internal/ports"
)

type Config struct {
	Stream       string
	Subject      string
	Consumer     string
	AckWait      time.Duration
	MaxDeliver   int
	DedupeWindow time.Duration
	FetchWait    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = "CASE_IMPORT"
	}
	if c.Subject == "" {
		c.Subject = "caseimport.jobs"
	}
	if c.Consumer == "" {
		c.Consumer = "caseimport-workers"
	}
	if c.AckWait <= 0 {
		c.AckWait = 2 * time.Minute
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = 5
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 10 * time.Minute
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 2 * time.Second
	}
	return c
}

type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

type consumer interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
	Info(ctx context.Context) (*jetstream.ConsumerInfo, error)
}

type messageDeleter interface {
	DeleteMsg(ctx context.Context, seq uint64) error
}

// Queue carries jobs on a JetStream work-queue stream with one durable pull
// consumer shared by every worker process.
type Queue struct {
	cfg    Config
	js     publisher
	stream messageDeleter
	cons   consumer
	health func() ports.BrokerHealth
	logCtx context.Context

	mu     sync.Mutex
	seqs   map[string]uint64
	closed bool
}

var _ ports.JobQueue = (*Queue)(nil)

// New declares the stream and consumer when missing and returns the queue.
func New(ctx context.Context, js jetstream.JetStream, cfg Config, health func() ports.BrokerHealth) (*Queue, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	cfg = cfg.withDefaults()

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: cfg.DedupeWindow,
	})
	if err != nil {
		return nil, errs.Wrapf(err, "declare stream %s", cfg.Stream)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       cfg.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		FilterSubject: cfg.Subject,
	})
	if err != nil {
		return nil, errs.Wrapf(err, "declare consumer %s", cfg.Consumer)
	}

	return newQueue(ctx, cfg, js, stream, cons, health), nil
}

func newQueue(ctx context.Context, cfg Config, js publisher, stream messageDeleter, cons consumer, health func() ports.BrokerHealth) *Queue {
	if health == nil {
		health = func() ports.BrokerHealth { return ports.BrokerHealth{Connected: true, State: "connected"} }
	}
	return &Queue{
		cfg:    cfg.withDefaults(),
		js:     js,
		stream: stream,
		cons:   cons,
		health: health,
		logCtx: logging.WithAttrs(ctx, slog.String("component", "queue.natsjs")),
		seqs:   make(map[string]uint64),
	}
}

func (q *Queue) Publish(ctx context.Context, job importing.ImportJob) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if q.isClosed() {
		return ports.ErrQueueClosed
	}

	payload, err := importing.EncodeJob(job)
	if err != nil {
		return errs.Wrap(err, "encode import job")
	}

	ack, err := q.js.Publish(ctx, q.cfg.Subject, payload, jetstream.WithMsgID(job.BatchID))
	if err != nil {
		return errs.Wrap(errors.Join(ports.ErrQueueUnavailable, err), "publish import job")
	}
	if ack.Duplicate {
		logging.Info(q.logCtx, "duplicate publish ignored by stream", slog.String("batch_id", job.BatchID))
		return nil
	}

	q.mu.Lock()
	q.seqs[job.BatchID] = ack.Sequence
	q.mu.Unlock()
	return nil
}

func (q *Queue) Receive(ctx context.Context) (ports.Delivery, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	for {
		if q.isClosed() {
			return nil, ports.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := q.cons.Fetch(1, jetstream.FetchMaxWait(q.cfg.FetchWait))
		if err != nil {
			return nil, errs.Wrap(errors.Join(ports.ErrQueueUnavailable, err), "fetch import job")
		}

		for msg := range batch.Messages() {
			job, err := importing.DecodeJob(msg.Data())
			if err != nil {
				logging.Error(q.logCtx, "dropping undecodable job message", slog.Any("err", errs.Loggable(err)))
				if termErr := msg.Term(); termErr != nil {
					logging.Warn(q.logCtx, "term message failed", slog.Any("err", errs.Loggable(termErr)))
				}
				continue
			}

			q.mu.Lock()
			delete(q.seqs, job.BatchID)
			q.mu.Unlock()
			return &delivery{msg: msg, job: job}, nil
		}

		if err := batch.Error(); err != nil && !isFetchTimeout(err) {
			return nil, errs.Wrap(errors.Join(ports.ErrQueueUnavailable, err), "fetch import job")
		}
	}
}

// Remove deletes a job published by this process that no worker has taken.
// Jobs published elsewhere are unknown here; the worker skips their batch
// once it is terminal.
func (q *Queue) Remove(ctx context.Context, batchID string) (bool, error) {
	if ctx == nil {
		return false, errors.New("context is required")
	}

	q.mu.Lock()
	seq, ok := q.seqs[batchID]
	q.mu.Unlock()
	if !ok {
		return false, nil
	}

	if err := q.stream.DeleteMsg(ctx, seq); err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return false, nil
		}
		return false, errs.Wrapf(err, "delete job message %d", seq)
	}

	q.mu.Lock()
	delete(q.seqs, batchID)
	q.mu.Unlock()
	return true, nil
}

func (q *Queue) Depth(ctx context.Context) (int, error) {
	info, err := q.cons.Info(ctx)
	if err != nil {
		return 0, errs.Wrap(errors.Join(ports.ErrQueueUnavailable, err), "consumer info")
	}
	return int(info.NumPending), nil
}

func (q *Queue) Health() ports.BrokerHealth {
	return q.health()
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func isFetchTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, jetstream.ErrNoMessages)
}

type delivery struct {
	msg jetstream.Msg
	job importing.ImportJob
}

func (d *delivery) Job() importing.ImportJob { return d.job }

func (d *delivery) Ack(context.Context) error {
	return wrapAckErr(d.msg.Ack(), "ack")
}

func (d *delivery) Nak(context.Context) error {
	return wrapAckErr(d.msg.Nak(), "nak")
}

func (d *delivery) Term(context.Context) error {
	return wrapAckErr(d.msg.Term(), "term")
}

func (d *delivery) Heartbeat(context.Context) error {
	return wrapAckErr(d.msg.InProgress(), "in-progress")
}

func wrapAckErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s job message: %w", op, err)
}
