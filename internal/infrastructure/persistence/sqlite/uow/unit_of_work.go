package uow

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"caseimport/internal/ports"
)

type UnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	base := u.db
	if current := ports.TxFromContext(ctx); current != nil {
		tx, ok := current.(*gorm.DB)
		if !ok || tx == nil {
			return fmt.Errorf("unexpected transaction handle %T", current)
		}
		base = tx
	}

	entered := false
	err := base.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entered = true
		return fn(ports.WithTxContext(ctx, tx))
	})
	if err != nil && !entered && ctx.Err() == nil {
		return fmt.Errorf("begin transaction: %w: %w", ports.ErrStoreUnavailable, err)
	}
	return err
}
