package loader

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FetchFunc loads a batch of keys. It must return one Result per key, in order.
type FetchFunc func(ctx context.Context, keys []*Key) ([]Result, error)

// Stats counts cache activity since the cache was created.
type Stats struct {
	// Hits counts keys served from a resolved or in-flight entry.
	Hits int
	// Misses counts keys that had to join a batch.
	Misses int
	// Batches counts FetchFunc calls.
	Batches int
	// KeysFetched counts keys sent to FetchFunc.
	KeysFetched int
}

// Cache deduplicates and batches point reads and memoizes their results.
// Documents handed out by the cache are shared; treat them as read-only.
//
// A Cache is safe for concurrent use. It belongs to one Loader and is never
// shared across units of work.
type Cache struct {
	fetch    FetchFunc
	wait     time.Duration
	maxBatch int

	mu      sync.Mutex
	entries map[string]*entry
	pending *batch
	stats   Stats
}

// entry is a resolved or in-flight lookup. done is closed exactly once,
// after doc and err are set.
type entry struct {
	done chan struct{}
	doc  Document
	err  error
}

func resolved(doc Document) *entry {
	e := &entry{done: make(chan struct{}), doc: doc}
	close(e.done)
	return e
}

type batch struct {
	ctx     context.Context
	keys    []*Key
	entries []*entry
	timer   *time.Timer
}

// NewCache returns an empty cache that loads misses through fetch.
// Only BatchWait and MaxBatch are read from config.
func NewCache(fetch FetchFunc, config Config) *Cache {
	config.validate()
	return &Cache{
		fetch:    fetch,
		wait:     config.BatchWait,
		maxBatch: config.MaxBatch,
		entries:  make(map[string]*entry),
	}
}

// Get returns one document per key, in key order, with nil for documents
// that do not exist. If any key fails, Get returns a *BatchFetchError and
// no documents.
func (c *Cache) Get(ctx context.Context, keys []*Key) ([]Document, error) {
	for _, k := range keys {
		if !k.valid() {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, k)
		}
	}

	waits := make([]*entry, len(keys))
	var ready []*batch

	c.mu.Lock()
	for i, k := range keys {
		id := k.Encode()
		if e, ok := c.entries[id]; ok {
			c.stats.Hits++
			waits[i] = e
			continue
		}
		c.stats.Misses++
		e := &entry{done: make(chan struct{})}
		c.entries[id] = e
		waits[i] = e
		if full := c.enqueue(ctx, k, e); full != nil {
			ready = append(ready, full)
		}
	}
	if c.wait <= 0 && c.pending != nil {
		ready = append(ready, c.pending)
		c.pending = nil
	}
	c.mu.Unlock()

	for _, b := range ready {
		go c.dispatch(b)
	}

	docs := make([]Document, len(keys))
	for i, e := range waits {
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, &BatchFetchError{Key: keys[i], Err: e.err}
		}
		docs[i] = e.doc
	}
	return docs, nil
}

// enqueue adds a miss to the open batch, opening one if needed. It returns
// the batch if it just became full. Callers hold c.mu.
func (c *Cache) enqueue(ctx context.Context, k *Key, e *entry) *batch {
	if c.pending == nil {
		b := &batch{ctx: context.WithoutCancel(ctx)}
		if c.wait > 0 {
			b.timer = time.AfterFunc(c.wait, func() { c.flush(b) })
		}
		c.pending = b
	}
	b := c.pending
	b.keys = append(b.keys, k)
	b.entries = append(b.entries, e)
	if len(b.keys) < c.maxBatch {
		return nil
	}
	c.pending = nil
	if b.timer != nil {
		b.timer.Stop()
	}
	return b
}

// flush dispatches b when its wait window closes, unless it already left
// as a full batch.
func (c *Cache) flush(b *batch) {
	c.mu.Lock()
	if c.pending != b {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()
	c.dispatch(b)
}

func (c *Cache) dispatch(b *batch) {
	results, err := c.fetch(b.ctx, b.keys)
	if err == nil && len(results) != len(b.keys) {
		err = fmt.Errorf("backend returned %d results for %d keys", len(results), len(b.keys))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Batches++
	c.stats.KeysFetched += len(b.keys)
	for i, e := range b.entries {
		if err != nil {
			e.err = err
		} else {
			e.doc, e.err = results[i].Data, results[i].Err
		}
		// Failures are not memoized. A Prime or Clear since registration
		// means the map no longer points at e and must be left alone.
		if e.err != nil {
			id := b.keys[i].Encode()
			if c.entries[id] == e {
				delete(c.entries, id)
			}
		}
		close(e.done)
	}
}

// Prime stores doc for key, replacing any resolved or in-flight entry.
// A nil doc records the key as not found.
func (c *Cache) Prime(key *Key, doc Document) {
	c.mu.Lock()
	c.entries[key.Encode()] = resolved(doc)
	c.mu.Unlock()
}

// Clear drops the entry for key so the next Get goes to the backend.
func (c *Cache) Clear(key *Key) {
	c.mu.Lock()
	delete(c.entries, key.Encode())
	c.mu.Unlock()
}

// ClearAll drops every entry. In-flight fetches still resolve their
// current waiters.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

// Len returns the number of resolved and in-flight entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
