package loader

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/docload/internal/chunk"
)

// Save writes payloads unconditionally.
func (l *Loader) Save(ctx context.Context, payloads ...Payload) error {
	return l.applyBatched(ctx, OpSave, payloads)
}

// Update writes payloads that must already exist.
func (l *Loader) Update(ctx context.Context, payloads ...Payload) error {
	return l.applyBatched(ctx, OpUpdate, payloads)
}

// Upsert writes payloads, creating or replacing them.
func (l *Loader) Upsert(ctx context.Context, payloads ...Payload) error {
	return l.applyBatched(ctx, OpUpsert, payloads)
}

// Insert writes payloads that must not already exist.
func (l *Loader) Insert(ctx context.Context, payloads ...Payload) error {
	return l.applyBatched(ctx, OpInsert, payloads)
}

// Delete removes the documents for keys.
func (l *Loader) Delete(ctx context.Context, keys ...*Key) error {
	payloads := make([]Payload, len(keys))
	for i, k := range keys {
		payloads[i] = Payload{Key: k}
	}
	return l.applyBatched(ctx, OpDelete, payloads)
}

// applyBatched writes payloads and then updates the cache. Inside a
// transaction the whole set is staged in one call. Outside, payloads are
// split into chunks written concurrently; a failed chunk does not undo the
// others.
func (l *Loader) applyBatched(ctx context.Context, op Op, payloads []Payload) error {
	if len(payloads) == 0 {
		return nil
	}
	for _, p := range payloads {
		if !p.Key.valid() {
			return fmt.Errorf("%w: %v", ErrInvalidKey, p.Key)
		}
	}

	if l.tx != nil {
		if err := l.tx.Write(ctx, op, payloads); err != nil {
			return &BackendWriteError{Op: op, FailedChunks: 1, TotalChunks: 1, Err: err}
		}
	} else if err := l.writeChunks(ctx, op, payloads); err != nil {
		return err
	}

	for _, p := range payloads {
		if op == OpDelete {
			l.cache.Clear(p.Key)
			continue
		}
		// The caller keeps p.Data; later edits to it must not reach the cache.
		l.cache.Prime(p.Key, p.Data.Clone())
	}
	return nil
}

func (l *Loader) writeChunks(ctx context.Context, op Op, payloads []Payload) error {
	chunks := chunk.Split(payloads, l.config.ChunkSize)

	var g errgroup.Group
	var failed atomic.Int32
	for _, c := range chunks {
		g.Go(func() error {
			if err := l.backend.BatchWrite(ctx, op, c); err != nil {
				failed.Add(1)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &BackendWriteError{
			Op:           op,
			FailedChunks: int(failed.Load()),
			TotalChunks:  len(chunks),
			Err:          err,
		}
	}
	return nil
}
