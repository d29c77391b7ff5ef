package loader

import "context"

type contextKey struct{}

// WithLoader returns a copy of ctx carrying l.
func WithLoader(ctx context.Context, l *Loader) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the Loader carried by ctx.
func FromContext(ctx context.Context) (*Loader, bool) {
	l, ok := ctx.Value(contextKey{}).(*Loader)
	return l, ok && l != nil
}

// Transactional runs fn in a transaction using the Loader carried by ctx.
// An existing transaction is continued; otherwise a new one is started and
// the context passed to fn carries the transaction Loader, so nested
// Transactional calls join it.
func Transactional(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := TransactionalValue(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// TransactionalValue is Transactional for functions that return a value.
func TransactionalValue[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	l, ok := FromContext(ctx)
	if !ok {
		var zero T
		return zero, ErrNoLoader
	}
	if l.IsTransaction() {
		l.logger.Info("continuing existing transaction")
	} else {
		l.logger.Info("starting new transactional context")
	}
	return InTransaction(ctx, l, func(ctx context.Context, _ *Loader) (T, error) {
		return fn(ctx)
	})
}
