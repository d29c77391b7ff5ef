package loader

import (
	"context"
	"log/slog"
)

// Loader is the per-unit-of-work entry point for reads, writes, queries
// and transactions. Create one per request with New and drop it when the
// request ends.
type Loader struct {
	backend Backend
	tx      Transaction
	cache   *Cache
	config  Config
	logger  *slog.Logger
}

// New creates a Loader with an empty cache that is not bound to a transaction.
func New(backend Backend, config Config) *Loader {
	return newLoader(backend, nil, config)
}

func newLoader(backend Backend, tx Transaction, config Config) *Loader {
	config.validate()
	l := &Loader{
		backend: backend,
		tx:      tx,
		config:  config,
		logger:  config.Logger.With("component", "docload"),
	}
	l.cache = NewCache(l.load, config)
	return l
}

func (l *Loader) load(ctx context.Context, keys []*Key) ([]Result, error) {
	if l.tx != nil {
		return l.tx.GetMany(ctx, keys)
	}
	return l.backend.GetMany(ctx, keys)
}

// Get returns one document per key, in key order. Missing documents are nil.
func (l *Loader) Get(ctx context.Context, keys ...*Key) ([]Document, error) {
	return l.cache.Get(ctx, keys)
}

// GetOne returns the document for key, or nil if it does not exist.
func (l *Loader) GetOne(ctx context.Context, key *Key) (Document, error) {
	docs, err := l.cache.Get(ctx, []*Key{key})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

// IsTransaction reports whether the Loader is bound to a transaction.
func (l *Loader) IsTransaction() bool {
	return l.tx != nil
}

// Cache exposes the Loader's cache, mainly for priming and stats.
func (l *Loader) Cache() *Cache {
	return l.cache
}
