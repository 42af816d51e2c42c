package uow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"caseimport/internal/ports"
)

type probe struct {
	ID    string `gorm:"primaryKey"`
	Value string
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "uow.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&probe{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func insert(ctx context.Context, db *gorm.DB, id string) error {
	tx, _ := ports.TxFromContext(ctx).(*gorm.DB)
	if tx == nil {
		tx = db
	}
	return tx.WithContext(ctx).Create(&probe{ID: id, Value: id}).Error
}

func countRows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&probe{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	db := setupDB(t)
	u := NewUnitOfWork(db)
	ctx := context.Background()

	if err := u.WithTx(ctx, func(txCtx context.Context) error {
		if ports.TxFromContext(txCtx) == nil {
			t.Fatalf("callback ctx has no transaction")
		}
		return insert(txCtx, db, "a")
	}); err != nil {
		t.Fatalf("WithTx() commit error = %v", err)
	}

	boom := errors.New("row failed")
	err := u.WithTx(ctx, func(txCtx context.Context) error {
		if err := insert(txCtx, db, "b"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want %v", err, boom)
	}
	if errors.Is(err, ports.ErrStoreUnavailable) {
		t.Fatalf("callback error must not be reported as store unavailable")
	}
	if got := countRows(t, db); got != 1 {
		t.Fatalf("rows = %d, want 1", got)
	}
}

func TestNestedWithTxRollsBackSavepointOnly(t *testing.T) {
	db := setupDB(t)
	u := NewUnitOfWork(db)

	err := u.WithTx(context.Background(), func(txCtx context.Context) error {
		if err := insert(txCtx, db, "outer"); err != nil {
			return err
		}
		_ = u.WithTx(txCtx, func(inner context.Context) error {
			if err := insert(inner, db, "inner"); err != nil {
				return err
			}
			return errors.New("discard inner")
		})
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
	if got := countRows(t, db); got != 1 {
		t.Fatalf("rows = %d, want 1", got)
	}
}

func TestWithTxOnClosedStoreIsUnavailable(t *testing.T) {
	db := setupDB(t)
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	called := false
	err = NewUnitOfWork(db).WithTx(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("callback ran on a closed store")
	}
	if !errors.Is(err, ports.ErrStoreUnavailable) {
		t.Fatalf("WithTx() error = %v, want ErrStoreUnavailable", err)
	}
}
