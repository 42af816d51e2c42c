package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/errs"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Import   ImportConfig   `mapstructure:"import"`
	Queue    QueueConfig    `mapstructure:"queue"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Log      LogConfig      `mapstructure:"log"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type ImportConfig struct {
	Workers     int           `mapstructure:"workers"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
	LiveWrites  bool          `mapstructure:"live_writes"`
	BaseDir     string        `mapstructure:"base_dir"`
	MappingFile string        `mapstructure:"mapping_file"`

	ErrorFlushEvery                   int               `mapstructure:"error_flush_every"`
	SummarySize                       int               `mapstructure:"summary_size"`
	RowRetryAttempts                  int               `mapstructure:"row_retry_attempts"`
	RowRetryInitialInterval           time.Duration     `mapstructure:"row_retry_initial_interval"`
	MaxConsecutivePersistenceFailures int               `mapstructure:"max_consecutive_persistence_failures"`
	HeartbeatInterval                 time.Duration     `mapstructure:"heartbeat_interval"`
	CaseTypes                         map[string]string `mapstructure:"case_types"`
	// CaseStatuses replaces the accepted case status codes when set.
	CaseStatuses []string `mapstructure:"case_statuses"`
	// DateLayouts applies when the header mapping file sets none.
	DateLayouts []string `mapstructure:"date_layouts"`
}

type QueueConfig struct {
	// Driver is memory or nats.
	Driver   string `mapstructure:"driver"`
	Capacity int    `mapstructure:"capacity"`

	NATSURL                string        `mapstructure:"nats_url"`
	Stream                 string        `mapstructure:"stream"`
	Subject                string        `mapstructure:"subject"`
	Consumer               string        `mapstructure:"consumer"`
	GuardBucket            string        `mapstructure:"guard_bucket"`
	ConnectAttempts        int           `mapstructure:"connect_attempts"`
	ConnectInitialInterval time.Duration `mapstructure:"connect_initial_interval"`
	AckWait                time.Duration `mapstructure:"ack_wait"`
	MaxDeliver             int           `mapstructure:"max_deliver"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type WatchConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(logCtx, v)

	v.SetEnvPrefix("CI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("queue_driver", cfg.Queue.Driver),
		slog.Bool("live_writes", cfg.Import.LiveWrites),
	)

	return cfg, nil
}

func (c Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	switch strings.ToLower(c.Queue.Driver) {
	case "memory":
	case "nats":
		if c.Queue.NATSURL == "" {
			return errors.New("queue.nats_url is required for the nats driver")
		}
	default:
		return fmt.Errorf("unsupported queue driver %q", c.Queue.Driver)
	}
	if c.Import.Workers < 0 {
		return errors.New("import.workers must be >= 0")
	}
	if c.Import.JobTimeout < 0 {
		return errors.New("import.job_timeout must be >= 0")
	}
	return nil
}

func setDefaults(ctx context.Context, v *viper.Viper) {
	if ctx == nil {
		return
	}

	v.SetDefault("app.name", "caseimport")
	v.SetDefault("app.env", "local")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".caseimport/caseimport.sqlite")

	v.SetDefault("import.workers", 2)
	v.SetDefault("import.job_timeout", 30*time.Minute)
	v.SetDefault("import.live_writes", false)
	v.SetDefault("import.base_dir", ".")
	v.SetDefault("import.mapping_file", "")
	v.SetDefault("import.error_flush_every", 1)
	v.SetDefault("import.summary_size", 10)
	v.SetDefault("import.row_retry_attempts", 3)
	v.SetDefault("import.row_retry_initial_interval", 50*time.Millisecond)
	v.SetDefault("import.max_consecutive_persistence_failures", 5)
	v.SetDefault("import.heartbeat_interval", 30*time.Second)
	v.SetDefault("import.case_statuses", []string{})
	v.SetDefault("import.date_layouts", []string{})

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.capacity", 128)
	v.SetDefault("queue.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("queue.stream", "CASE_IMPORT")
	v.SetDefault("queue.subject", "caseimport.jobs")
	v.SetDefault("queue.consumer", "caseimport-workers")
	v.SetDefault("queue.guard_bucket", "caseimport_guard")
	v.SetDefault("queue.connect_attempts", 5)
	v.SetDefault("queue.connect_initial_interval", 200*time.Millisecond)
	v.SetDefault("queue.ack_wait", 2*time.Minute)
	v.SetDefault("queue.max_deliver", 5)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("watch.dir", "")
	v.SetDefault("watch.debounce", 500*time.Millisecond)
	v.SetDefault("log.level", "info")
}
