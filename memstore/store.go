// Package memstore provides an in-process document store backend for the
// loader, kept in a B-tree ordered by encoded key.
//
// It is meant for tests and local development. It supports every query
// option and optimistic transactions: a transaction reads from a snapshot
// taken when it begins and its commit fails with
// [loader.ErrTransactionConflict] if any document it read or wrote changed
// in the meantime.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/btree"

	"github.com/jacentio/docload/loader"
)

// The approximate number of items and children per B-tree node.
const bTreeDegree = 32

// record is an immutable stored document. A write always installs a new
// record, so pointer identity doubles as a version.
type record struct {
	id       string
	key      *loader.Key
	data     loader.Document
	excluded map[string]bool
}

func byID(a, b *record) bool { return a.id < b.id }

func newTree() *btree.BTreeG[*record] {
	return btree.NewBTreeGOptions(byID, btree.Options{Degree: bTreeDegree, NoLocks: true})
}

// Store is an in-memory Backend. The zero value is not usable; call New.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*record]
}

var _ loader.Backend = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{tree: newTree()}
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// snapshot returns a copy-on-write view of the current tree.
func (s *Store) snapshot() *btree.BTreeG[*record] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Copy()
}

func lookup(tree *btree.BTreeG[*record], id string) *record {
	r, ok := tree.Get(&record{id: id})
	if !ok {
		return nil
	}
	return r
}

// GetMany implements loader.Backend.
func (s *Store) GetMany(ctx context.Context, keys []*loader.Key) ([]loader.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readKeys(s.tree, keys, nil), nil
}

// readKeys looks keys up in tree. If seen is non-nil the record found for
// every key (nil when missing) is recorded in it.
func readKeys(tree *btree.BTreeG[*record], keys []*loader.Key, seen map[string]*record) []loader.Result {
	results := make([]loader.Result, len(keys))
	for i, k := range keys {
		r := lookup(tree, k.Encode())
		if seen != nil {
			if _, ok := seen[k.Encode()]; !ok {
				seen[k.Encode()] = r
			}
		}
		if r != nil {
			results[i].Data = r.data.Clone()
		}
	}
	return results
}

// BatchWrite implements loader.Backend. The batch applies atomically: if
// any payload fails its precondition nothing is written.
func (s *Store) BatchWrite(ctx context.Context, op loader.Op, payloads []loader.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := check(s.tree, op, payloads); err != nil {
		return err
	}
	apply(s.tree, op, payloads)
	return nil
}

// check verifies the preconditions of op against tree.
func check(tree *btree.BTreeG[*record], op loader.Op, payloads []loader.Payload) error {
	for _, p := range payloads {
		exists := lookup(tree, p.Key.Encode()) != nil
		switch {
		case op == loader.OpInsert && exists:
			return fmt.Errorf("%w: %s", loader.ErrAlreadyExists, p.Key)
		case op == loader.OpUpdate && !exists:
			return fmt.Errorf("%w: %s", loader.ErrNotFound, p.Key)
		}
	}
	return nil
}

func apply(tree *btree.BTreeG[*record], op loader.Op, payloads []loader.Payload) {
	for _, p := range payloads {
		id := p.Key.Encode()
		if op == loader.OpDelete {
			tree.Delete(&record{id: id})
			continue
		}
		r := &record{id: id, key: p.Key, data: p.Data.Clone()}
		if len(p.ExcludeFromIndexes) > 0 {
			r.excluded = make(map[string]bool, len(p.ExcludeFromIndexes))
			for _, f := range p.ExcludeFromIndexes {
				r.excluded[f] = true
			}
		}
		tree.Set(r)
	}
}

// NewQuery implements loader.Backend.
func (s *Store) NewQuery(kind string) loader.QueryBuilder {
	return &query{store: s, kind: kind}
}
