package loader_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jacentio/docload/loader"
	"github.com/jacentio/docload/memstore"
)

// recorder wraps a memstore and records every backend call.
type recorder struct {
	*memstore.Store

	mu        sync.Mutex
	gets      [][]string
	writes    []writeCall
	begins    int
	commits   int
	rollbacks int
	txGets    [][]string
	txWrites  []writeCall

	// keyErrs fails individual keys of a GetMany.
	keyErrs map[string]error
	// getErr fails whole GetMany calls.
	getErr error
	// getDelay holds GetMany calls before they read.
	getDelay time.Duration
	// writeErr is consulted for every BatchWrite call.
	writeErr func(call int, payloads []loader.Payload) error
	// barrier, when set, holds every BatchWrite until that many calls are in flight.
	barrier *barrier

	commitErr   error
	rollbackErr error
}

type writeCall struct {
	op   loader.Op
	keys []string
}

func newRecorder() *recorder {
	return &recorder{Store: memstore.New(), keyErrs: map[string]error{}}
}

func encodeAll(keys []*loader.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Encode()
	}
	return out
}

func payloadKeys(payloads []loader.Payload) []string {
	out := make([]string, len(payloads))
	for i, p := range payloads {
		out[i] = p.Key.Encode()
	}
	return out
}

func (r *recorder) GetMany(ctx context.Context, keys []*loader.Key) ([]loader.Result, error) {
	r.mu.Lock()
	r.gets = append(r.gets, encodeAll(keys))
	getErr, delay := r.getErr, r.getDelay
	r.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if getErr != nil {
		return nil, getErr
	}
	results, err := r.Store.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, k := range keys {
		if e, ok := r.keyErrs[k.Encode()]; ok {
			results[i] = loader.Result{Err: e}
		}
	}
	return results, nil
}

func (r *recorder) BatchWrite(ctx context.Context, op loader.Op, payloads []loader.Payload) error {
	r.mu.Lock()
	call := len(r.writes)
	r.writes = append(r.writes, writeCall{op: op, keys: payloadKeys(payloads)})
	writeErr, b := r.writeErr, r.barrier
	r.mu.Unlock()

	if b != nil {
		if err := b.wait(); err != nil {
			return err
		}
	}
	if writeErr != nil {
		if err := writeErr(call, payloads); err != nil {
			return err
		}
	}
	return r.Store.BatchWrite(ctx, op, payloads)
}

func (r *recorder) BeginTransaction(ctx context.Context) (loader.Transaction, error) {
	tx, err := r.Store.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.begins++
	r.mu.Unlock()
	return &recordingTx{Transaction: tx, r: r}, nil
}

func (r *recorder) NewQuery(kind string) loader.QueryBuilder {
	return &unwrappingQuery{QueryBuilder: r.Store.NewQuery(kind)}
}

// unwrappingQuery hands memstore its own transaction type.
type unwrappingQuery struct {
	loader.QueryBuilder
}

func (q *unwrappingQuery) Run(ctx context.Context, tx loader.Transaction) ([]loader.Entity, loader.QueryInfo, error) {
	if rt, ok := tx.(*recordingTx); ok {
		tx = rt.Transaction
	}
	return q.QueryBuilder.Run(ctx, tx)
}

func (r *recorder) getCalls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.gets...)
}

func (r *recorder) writeCalls() []writeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]writeCall(nil), r.writes...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets, r.writes, r.txGets, r.txWrites = nil, nil, nil, nil
}

// recordingTx counts calls on a memstore transaction.
type recordingTx struct {
	loader.Transaction
	r *recorder
}

func (t *recordingTx) GetMany(ctx context.Context, keys []*loader.Key) ([]loader.Result, error) {
	t.r.mu.Lock()
	t.r.txGets = append(t.r.txGets, encodeAll(keys))
	t.r.mu.Unlock()
	return t.Transaction.GetMany(ctx, keys)
}

func (t *recordingTx) Write(ctx context.Context, op loader.Op, payloads []loader.Payload) error {
	t.r.mu.Lock()
	t.r.txWrites = append(t.r.txWrites, writeCall{op: op, keys: payloadKeys(payloads)})
	t.r.mu.Unlock()
	return t.Transaction.Write(ctx, op, payloads)
}

func (t *recordingTx) Commit(ctx context.Context) error {
	t.r.mu.Lock()
	t.r.commits++
	commitErr := t.r.commitErr
	t.r.mu.Unlock()
	if commitErr != nil {
		return commitErr
	}
	return t.Transaction.Commit(ctx)
}

func (t *recordingTx) Rollback(ctx context.Context) error {
	t.r.mu.Lock()
	t.r.rollbacks++
	rollbackErr := t.r.rollbackErr
	t.r.mu.Unlock()
	if err := t.Transaction.Rollback(ctx); err != nil {
		return err
	}
	return rollbackErr
}

// barrier releases its waiters once n of them have arrived.
type barrier struct {
	mu      sync.Mutex
	n       int
	arrived int
	release chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, release: make(chan struct{})}
}

var errNotConcurrent = errors.New("writes were not in flight together")

func (b *barrier) wait() error {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		close(b.release)
	}
	b.mu.Unlock()
	select {
	case <-b.release:
		return nil
	case <-time.After(2 * time.Second):
		return errNotConcurrent
	}
}

// newTestLoader returns a Loader over a fresh recorder with a log buffer.
func newTestLoader(t *testing.T) (*loader.Loader, *recorder, *bytes.Buffer) {
	t.Helper()
	rec := newRecorder()
	var buf bytes.Buffer
	cfg := loader.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(&lockedWriter{w: &buf}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return loader.New(rec, cfg), rec, &buf
}

type lockedWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

func docKey(id string) *loader.Key {
	return loader.NameKey("Doc", id, nil)
}

func seed(t *testing.T, rec *recorder, payloads ...loader.Payload) {
	t.Helper()
	if err := rec.Store.BatchWrite(context.Background(), loader.OpSave, payloads); err != nil {
		t.Fatalf("seed: %v", err)
	}
}
