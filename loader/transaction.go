package loader

import (
	"context"
	"errors"
)

var errPanicked = errors.New("transaction function panicked")

// RunInTransaction runs fn inside a transaction. If l is already bound to
// one, fn runs with l and no new transaction is started. Otherwise a new
// Loader bound to a fresh transaction is passed to fn; the transaction
// commits if fn succeeds and l's cache is then cleared. On any failure the
// transaction is rolled back and the original error is returned.
func (l *Loader) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tl *Loader) error) error {
	_, err := InTransaction(ctx, l, func(ctx context.Context, tl *Loader) (struct{}, error) {
		return struct{}{}, fn(ctx, tl)
	})
	return err
}

// InTransaction is RunInTransaction for functions that return a value.
// The context passed to fn carries the transaction Loader.
func InTransaction[T any](ctx context.Context, l *Loader, fn func(ctx context.Context, tl *Loader) (T, error)) (T, error) {
	var zero T
	if l.tx != nil {
		return fn(WithLoader(ctx, l), l)
	}

	tx, err := l.backend.BeginTransaction(ctx)
	if err != nil {
		return zero, err
	}
	tl := newLoader(l.backend, tx, l.config)

	finished := false
	defer func() {
		if !finished {
			l.rollback(ctx, tx, errPanicked)
		}
	}()

	result, err := fn(WithLoader(ctx, tl), tl)
	if err == nil {
		err = tx.Commit(ctx)
	}
	finished = true
	if err != nil {
		l.rollback(ctx, tx, err)
		return zero, err
	}

	// Anything written in the transaction may be stale here. Tracking
	// deletes precisely is not attempted; drop the lot.
	l.cache.ClearAll()
	return result, nil
}

// rollback logs cause and rolls tx back. A rollback failure is logged only.
func (l *Loader) rollback(ctx context.Context, tx Transaction, cause error) {
	if IsNonFatal(cause) {
		l.logger.Warn("rolling back transaction: non-fatal error encountered", "error", cause)
	} else {
		l.logger.Error("rolling back transaction: error encountered", "error", cause)
	}
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		l.logger.Error("transaction rollback failed", "error", err, "cause", cause)
	}
}
