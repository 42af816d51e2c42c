package ports

import "context"

// UnitOfWork runs fn inside one store transaction. A nil return commits.
// Repositories handed the callback ctx join the transaction; nested calls
// become savepoints. Failing to start the transaction at all is reported
// as ErrStoreUnavailable.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// WithTxContext attaches the store-specific transaction handle to ctx.
func WithTxContext(ctx context.Context, tx any) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns nil when ctx has no transaction.
func TxFromContext(ctx context.Context) any {
	return ctx.Value(txKey{})
}
