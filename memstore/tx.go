package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/jacentio/docload/loader"
)

type stagedWrite struct {
	op       loader.Op
	payloads []loader.Payload
}

// Tx is an optimistic transaction over a Store snapshot.
type Tx struct {
	id    uuid.UUID
	store *Store
	snap  *btree.BTreeG[*record]

	mu     sync.Mutex
	seen   map[string]*record
	writes []stagedWrite
	closed bool
}

var _ loader.Transaction = (*Tx)(nil)

// BeginTransaction implements loader.Backend.
func (s *Store) BeginTransaction(ctx context.Context) (loader.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{
		id:    uuid.New(),
		store: s,
		snap:  s.snapshot(),
		seen:  make(map[string]*record),
	}, nil
}

// ID returns the transaction's identifier.
func (t *Tx) ID() string { return t.id.String() }

// GetMany reads from the snapshot taken when the transaction began.
// Staged writes are not visible.
func (t *Tx) GetMany(ctx context.Context, keys []*loader.Key) ([]loader.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, loader.ErrTransactionClosed
	}
	return readKeys(t.snap, keys, t.seen), nil
}

// Write stages op. Preconditions are checked at commit.
func (t *Tx) Write(ctx context.Context, op loader.Op, payloads []loader.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return loader.ErrTransactionClosed
	}
	staged := make([]loader.Payload, len(payloads))
	copy(staged, payloads)
	for _, p := range staged {
		id := p.Key.Encode()
		if _, ok := t.seen[id]; !ok {
			t.seen[id] = lookup(t.snap, id)
		}
	}
	t.writes = append(t.writes, stagedWrite{op: op, payloads: staged})
	return nil
}

// Commit applies the staged writes if nothing the transaction touched has
// changed since it began. A failed commit leaves the transaction open for
// Rollback.
func (t *Tx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return loader.ErrTransactionClosed
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, before := range t.seen {
		if lookup(s.tree, id) != before {
			return fmt.Errorf("%w: %s changed", loader.ErrTransactionConflict, id)
		}
	}

	// Check every write against the state the previous writes leave behind.
	work := s.tree.Copy()
	for _, w := range t.writes {
		if err := check(work, w.op, w.payloads); err != nil {
			return err
		}
		apply(work, w.op, w.payloads)
	}
	s.tree = work
	t.closed = true
	return nil
}

// Rollback discards the staged writes.
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return loader.ErrTransactionClosed
	}
	t.closed = true
	t.writes = nil
	return nil
}

// observe records that the transaction read r under id.
func (t *Tx) observe(id string, r *record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[id]; !ok {
		t.seen[id] = r
	}
}
