package importer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/errs"
	"caseimport/internal/ports"
)

// Pool runs a fixed number of workers. Each worker holds at most one job.
type Pool struct {
	queue     ports.JobQueue
	processor *Processor
	cfg       Config
	metrics   *metrics

	once       sync.Once
	wg         sync.WaitGroup
	stopRecv   context.CancelFunc
	cancelJobs context.CancelFunc
}

func NewPool(queue ports.JobQueue, processor *Processor, cfg Config) *Pool {
	return &Pool{
		queue:     queue,
		processor: processor,
		cfg:       cfg.withDefaults(),
		metrics:   getMetrics(),
	}
}

// Start launches the workers. Later calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		jobCtx, cancelJobs := context.WithCancel(ctx)
		recvCtx, stopRecv := context.WithCancel(jobCtx)
		p.cancelJobs = cancelJobs
		p.stopRecv = stopRecv

		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go func(id int) {
				defer p.wg.Done()
				p.workerLoop(recvCtx, jobCtx, id)
			}(i + 1)
		}
		logging.Info(logging.WithAttrs(ctx, slog.String("component", "importer.pool")),
			"worker pool started", slog.Int("workers", p.cfg.Workers))
	})
}

// Stop stops receiving and waits for running jobs. When ctx ends first the
// running jobs are cancelled and finalize as FAILED.
func (p *Pool) Stop(ctx context.Context) error {
	if p.stopRecv == nil {
		return nil
	}
	p.stopRecv()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancelJobs()
		return nil
	case <-ctx.Done():
		p.cancelJobs()
		<-done
		return errs.Wrap(ctx.Err(), "drain worker pool")
	}
}

func (p *Pool) workerLoop(recvCtx context.Context, jobCtx context.Context, id int) {
	logCtx := logging.WithJob(logging.WithAttrs(jobCtx, slog.String("component", "importer.pool")), "", id)
	for {
		delivery, err := p.queue.Receive(recvCtx)
		if err != nil {
			if recvCtx.Err() != nil || errors.Is(err, ports.ErrQueueClosed) {
				return
			}
			logging.Warn(logCtx, "receive job failed", slog.Any("err", errs.Loggable(err)))
			if !sleepWithContext(recvCtx, p.cfg.PollInterval) {
				return
			}
			continue
		}
		p.handle(logCtx, delivery)
	}
}

// handle runs one delivery. ctx carries the worker attrs and is cancelled
// when the pool stops abruptly.
func (p *Pool) handle(ctx context.Context, d ports.Delivery) {
	job := d.Job()
	logCtx := logging.WithJob(ctx, job.BatchID, 0)

	p.metrics.activeWorkers.Inc()
	defer p.metrics.activeWorkers.Dec()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go p.heartbeat(hbCtx, logCtx, d)

	batch, err := p.processor.Process(logCtx, job)
	stopHeartbeat()

	ackCtx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if ackErr := d.Ack(ackCtx); ackErr != nil {
			logging.Warn(logCtx, "ack job failed", slog.Any("err", errs.Loggable(ackErr)))
		}
		logging.Info(logCtx, "import job done", slog.String("status", batch.Status.String()))
	case errors.Is(err, ErrJobSkipped):
		if termErr := d.Term(ackCtx); termErr != nil {
			logging.Warn(logCtx, "term job failed", slog.Any("err", errs.Loggable(termErr)))
		}
		logging.Info(logCtx, "import job skipped", slog.String("reason", err.Error()))
	default:
		logging.Error(logCtx, "import job failed, requeueing", slog.Any("err", errs.Loggable(err)))
		if nakErr := d.Nak(ackCtx); nakErr != nil {
			logging.Warn(logCtx, "nak job failed", slog.Any("err", errs.Loggable(nakErr)))
		}
		// Keep an immediately redelivered job from spinning the worker.
		sleepWithContext(ctx, p.cfg.PollInterval)
	}
}

func (p *Pool) heartbeat(ctx context.Context, logCtx context.Context, d ports.Delivery) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Heartbeat(ctx); err != nil {
				logging.Warn(logCtx, "job heartbeat failed", slog.Any("err", errs.Loggable(err)))
			}
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
