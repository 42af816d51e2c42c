package importer

import (
	"errors"
	"time"

	"caseimport/internal/ports"
	"caseimport/internal/usecase/importer/csvrow"
	"caseimport/internal/usecase/importer/mapping"
	"caseimport/internal/usecase/importer/retry"
	"caseimport/internal/usecase/importer/upsert"
)

const (
	defaultSummarySize                 = 10
	defaultMaxConsecutivePersistFailed = 5
	defaultHeartbeatInterval           = 30 * time.Second
	defaultPollInterval                = time.Second
)

type Config struct {
	Workers    int
	JobTimeout time.Duration
	// LiveWrites is the operational switch that allows a submission to opt
	// out of dry run. Without it every job is a dry run.
	LiveWrites bool

	FlushEvery                        int
	SummarySize                       int
	MaxConsecutivePersistenceFailures int
	RowRetry                          retry.Policy
	HeartbeatInterval                 time.Duration
	PollInterval                      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 1
	}
	if c.SummarySize <= 0 {
		c.SummarySize = defaultSummarySize
	}
	if c.MaxConsecutivePersistenceFailures <= 0 {
		c.MaxConsecutivePersistenceFailures = defaultMaxConsecutivePersistFailed
	}
	if c.RowRetry.Attempts <= 0 {
		c.RowRetry = retry.DefaultPolicy()
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// Dependencies groups the collaborators of the import pipeline.
type Dependencies struct {
	Cases   ports.CaseRepository
	Batches ports.BatchRepository
	Users   ports.UserRepository
	UoW     ports.UnitOfWork
	Queue   ports.JobQueue
	Guard   ports.SubmissionGuard
	Locks   ports.KeyLocker
	Owners  ports.BatchOwnership
	Source  ports.FileSource
	Parser  *csvrow.Parser
	Mapper  *mapping.Mapper
}

func (d Dependencies) validate() error {
	switch {
	case d.Cases == nil:
		return errors.New("case repository is required")
	case d.Batches == nil:
		return errors.New("batch repository is required")
	case d.Users == nil:
		return errors.New("user repository is required")
	case d.UoW == nil:
		return errors.New("unit of work is required")
	case d.Queue == nil:
		return errors.New("job queue is required")
	case d.Guard == nil:
		return errors.New("submission guard is required")
	case d.Locks == nil:
		return errors.New("key locker is required")
	case d.Owners == nil:
		return errors.New("batch ownership is required")
	case d.Source == nil:
		return errors.New("file source is required")
	case d.Parser == nil:
		return errors.New("row parser is required")
	case d.Mapper == nil:
		return errors.New("field mapper is required")
	}
	return nil
}

// Service is the submission, cancellation and status surface of the
// import pipeline.
type Service struct {
	batches ports.BatchRepository
	users   ports.UserRepository
	queue   ports.JobQueue
	guard   ports.SubmissionGuard
	owners  ports.BatchOwnership
	source  ports.FileSource
	cfg     Config
	metrics *metrics

	processor *Processor
	now       func() time.Time
	newID     func() string
}

func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	engine := upsert.NewEngine(deps.Cases, deps.UoW, deps.Locks, cfg.RowRetry)

	return &Service{
		batches: deps.Batches,
		users:   deps.Users,
		queue:   deps.Queue,
		guard:   deps.Guard,
		owners:  deps.Owners,
		source:  deps.Source,
		cfg:     cfg,
		metrics: getMetrics(),

		processor: newProcessor(deps, engine, cfg),
		now:       time.Now,
		newID:     newBatchID,
	}, nil
}

// Processor returns the job processor used by worker pools.
func (s *Service) Processor() *Processor {
	return s.processor
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}
