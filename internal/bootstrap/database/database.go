package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"caseimport/internal/bootstrap/config"
	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/errs"
)

// Pragmas applied to every sqlite connection unless the DSN sets them.
// Workers write concurrently, so writers wait instead of failing with SQLITE_BUSY.
var sqlitePragmas = []string{"busy_timeout(5000)", "journal_mode(WAL)"}

// Open connects to the configured case store. SQLite is the default;
// postgres is for deployments where several worker processes share a database.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.database"))

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "sqlite3":
		driver = "sqlite"
		if err := ensureSQLiteDirectory(logCtx, cfg.DSN); err != nil {
			return nil, err
		}
		dialector = gormsqlite.Open(sqliteDSN(cfg.DSN))
	case "postgres", "postgresql":
		driver = "postgres"
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, errs.Wrapf(err, "open %s database", driver)
	}
	logging.Info(logCtx, "database opened", slog.String("driver", driver))
	return db, nil
}

// sqliteDSN appends the default pragmas that the DSN does not already name.
func sqliteDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || strings.Contains(dsn, ":memory:") {
		return dsn
	}
	lower := strings.ToLower(dsn)
	var params []string
	for _, pragma := range sqlitePragmas {
		name := pragma[:strings.Index(pragma, "(")]
		if strings.Contains(lower, name) {
			continue
		}
		params = append(params, "_pragma="+pragma)
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func sqlitePath(dsn string) string {
	path := strings.TrimSpace(dsn)
	if path == "" || strings.Contains(path, ":memory:") {
		return ""
	}
	if len(path) >= 5 && strings.EqualFold(path[:5], "file:") {
		path = path[5:]
	}
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	return path
}

func ensureSQLiteDirectory(ctx context.Context, dsn string) error {
	path := sqlitePath(dsn)
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrapf(err, "create sqlite directory %q", dir)
	}
	logging.Debug(ctx, "sqlite directory ready", slog.String("dir", dir))
	return nil
}
