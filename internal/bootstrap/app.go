package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"caseimport/internal/bootstrap/config"
	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/errs"
	"caseimport/internal/infrastructure/persistence/schema"
	"caseimport/internal/infrastructure/persistence/sqlite/model"
	"caseimport/internal/usecase/importer/csvrow"
)

// App is the bootstrapped store handle shared by commands.
type App struct {
	Config config.Config
	DB     *gorm.DB
}

// InitSchema migrates every table and records the accepted row schema version.
func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	logging.Info(logCtx, "start schema migration")

	tables := append(model.All(), &schema.SchemaMeta{})
	if err := a.DB.WithContext(ctx).AutoMigrate(tables...); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}

	meta := schema.SchemaMeta{Key: schema.RowSchemaVersionKey, Value: csvrow.SchemaV1.Version}
	if err := a.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&meta).Error; err != nil {
		return errs.Wrap(err, "record row schema version")
	}

	logging.Info(logCtx, "schema migration completed", slog.String("row_schema", meta.Value))
	return nil
}

// RowSchemaVersion returns the row schema recorded by InitSchema, or "" when
// the schema was never initialized.
func (a *App) RowSchemaVersion(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	var meta schema.SchemaMeta
	err := a.DB.WithContext(ctx).Where("key = ?", schema.RowSchemaVersionKey).Limit(1).Find(&meta).Error
	if err != nil {
		return "", errs.Wrap(err, "read row schema version")
	}
	return meta.Value, nil
}
