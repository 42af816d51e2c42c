package bootstrap

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"caseimport/internal/bootstrap/config"
	"caseimport/internal/bootstrap/database"
	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/errs"
	"caseimport/internal/infrastructure/broker"
	"caseimport/internal/infrastructure/coordination"
	"caseimport/internal/infrastructure/file"
	sqliterepo "caseimport/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "caseimport/internal/infrastructure/persistence/sqlite/uow"
	"caseimport/internal/infrastructure/queue/memory"
	"caseimport/internal/infrastructure/queue/natsjs"
	"caseimport/internal/ports"
	"caseimport/internal/usecase/importer"
	"caseimport/internal/usecase/importer/csvrow"
	"caseimport/internal/usecase/importer/mapping"
	"caseimport/internal/usecase/importer/retry"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewCaseRepository,
			fx.As(new(ports.CaseRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewBatchRepository,
			fx.As(new(ports.BatchRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewUserRepository,
			fx.As(new(ports.UserRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			coordination.NewKeyedMutex,
			fx.As(new(ports.KeyLocker)),
		),
	),
	fx.Provide(
		fx.Annotate(
			coordination.NewOwnerRegistry,
			fx.As(new(ports.BatchOwnership)),
		),
	),
	fx.Provide(provideTransport),
	fx.Provide(provideFileSource),
	fx.Provide(provideParser),
	fx.Provide(provideMapper),
	fx.Provide(provideImporterConfig),
	fx.Provide(provideService),
	fx.Provide(providePool),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	cfg, err := config.Load(ctx, p.ConfigFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		return config.Config{}, errs.Wrap(err, "apply log level")
	}
	return cfg, nil
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

type transportResult struct {
	fx.Out

	Queue ports.JobQueue
	Guard ports.SubmissionGuard
}

// provideTransport builds the job queue and the submission guard. The memory
// driver pairs with the store guard; nats uses JetStream for both.
func provideTransport(lc fx.Lifecycle, ctx context.Context, cfg config.Config, db *gorm.DB, batches ports.BatchRepository) (transportResult, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.transport"))

	if strings.ToLower(cfg.Queue.Driver) != "nats" {
		queue := memory.New(cfg.Queue.Capacity)
		lc.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				return queue.Close()
			},
		})
		logging.Info(logCtx, "using in-process job queue", slog.Int("capacity", cfg.Queue.Capacity))
		return transportResult{Queue: queue, Guard: coordination.NewStoreGuard(db, batches)}, nil
	}

	connector := broker.NewConnector(broker.Config{
		URL:             cfg.Queue.NATSURL,
		Name:            cfg.App.Name,
		ConnectAttempts: cfg.Queue.ConnectAttempts,
		InitialInterval: cfg.Queue.ConnectInitialInterval,
	})
	conn, err := connector.Connect(logCtx)
	if err != nil {
		return transportResult{}, err
	}
	js, err := jetstream.New(conn)
	if err != nil {
		_ = connector.Close()
		return transportResult{}, errs.Wrap(err, "create jetstream context")
	}

	queue, err := natsjs.New(logCtx, js, natsjs.Config{
		Stream:     cfg.Queue.Stream,
		Subject:    cfg.Queue.Subject,
		Consumer:   cfg.Queue.Consumer,
		AckWait:    cfg.Queue.AckWait,
		MaxDeliver: cfg.Queue.MaxDeliver,
	}, connector.Health)
	if err != nil {
		_ = connector.Close()
		return transportResult{}, err
	}

	kv, err := js.CreateOrUpdateKeyValue(logCtx, jetstream.KeyValueConfig{
		Bucket:      cfg.Queue.GuardBucket,
		Description: "checksums held by live import batches",
	})
	if err != nil {
		_ = connector.Close()
		return transportResult{}, errs.Wrapf(err, "declare guard bucket %s", cfg.Queue.GuardBucket)
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			if err := queue.Close(); err != nil {
				logging.Warn(logCtx, "close job queue failed", slog.Any("err", errs.Loggable(err)))
			}
			return connector.Close()
		},
	})
	return transportResult{Queue: queue, Guard: coordination.NewKVGuard(kv, batches)}, nil
}

func provideFileSource(cfg config.Config) ports.FileSource {
	return file.NewLocalSource(cfg.Import.BaseDir)
}

func provideParser(cfg config.Config) (*csvrow.Parser, error) {
	headers, err := csvrow.LoadHeaderMapping(cfg.Import.MappingFile)
	if err != nil {
		return nil, errs.Wrap(err, "load header mapping")
	}
	if len(headers.DateLayouts) == 0 && len(cfg.Import.DateLayouts) > 0 {
		headers.DateLayouts = append([]string(nil), cfg.Import.DateLayouts...)
	}
	return csvrow.NewParser(headers), nil
}

func provideMapper(cfg config.Config) *mapping.Mapper {
	return mapping.NewMapper(
		mapping.WithCaseTypes(cfg.Import.CaseTypes),
		mapping.WithCaseStatuses(cfg.Import.CaseStatuses),
	)
}

func provideImporterConfig(cfg config.Config) importer.Config {
	policy := retry.DefaultPolicy()
	if cfg.Import.RowRetryAttempts > 0 {
		policy.Attempts = cfg.Import.RowRetryAttempts
	}
	if cfg.Import.RowRetryInitialInterval > 0 {
		policy.InitialInterval = cfg.Import.RowRetryInitialInterval
	}
	return importer.Config{
		Workers:                           cfg.Import.Workers,
		JobTimeout:                        cfg.Import.JobTimeout,
		LiveWrites:                        cfg.Import.LiveWrites,
		FlushEvery:                        cfg.Import.ErrorFlushEvery,
		SummarySize:                       cfg.Import.SummarySize,
		MaxConsecutivePersistenceFailures: cfg.Import.MaxConsecutivePersistenceFailures,
		RowRetry:                          policy,
		HeartbeatInterval:                 cfg.Import.HeartbeatInterval,
	}
}

type serviceParams struct {
	fx.In

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
	Config  importer.Config
}

func provideService(p serviceParams) (*importer.Service, error) {
	return importer.NewService(importer.Dependencies{
		Cases:   p.Cases,
		Batches: p.Batches,
		Users:   p.Users,
		UoW:     p.UoW,
		Queue:   p.Queue,
		Guard:   p.Guard,
		Locks:   p.Locks,
		Owners:  p.Owners,
		Source:  p.Source,
		Parser:  p.Parser,
		Mapper:  p.Mapper,
	}, p.Config)
}

// providePool builds the worker pool without starting it; commands that run
// workers call Start themselves.
func providePool(queue ports.JobQueue, svc *importer.Service) *importer.Pool {
	return importer.NewPool(queue, svc.Processor(), svc.Config())
}
