package loader

import "context"

// Document is a document body: field name to value. Identity lives in the Key.
type Document map[string]any

// Clone returns a shallow copy of d. Nested maps and slices are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Payload is a document to write together with its key.
type Payload struct {
	Key  *Key
	Data Document

	// ExcludeFromIndexes lists fields the backend should not index.
	ExcludeFromIndexes []string
}

// Entity is a document returned by a query.
type Entity struct {
	Key  *Key
	Data Document
}

// Op identifies a write operation.
type Op int

const (
	// OpSave writes the document unconditionally.
	OpSave Op = iota
	// OpUpdate writes the document only if it already exists.
	OpUpdate
	// OpUpsert writes the document unconditionally.
	OpUpsert
	// OpInsert writes the document only if it does not exist.
	OpInsert
	// OpDelete removes the document. Payload.Data is ignored.
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpSave:
		return "save"
	case OpUpdate:
		return "update"
	case OpUpsert:
		return "upsert"
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Result is the outcome of reading one key. Data is nil and Err is nil
// when the document does not exist.
type Result struct {
	Data Document
	Err  error
}

// Backend is the document store a Loader reads from and writes to.
type Backend interface {
	// GetMany returns one Result per key, in key order. A non-nil error
	// fails the whole batch.
	GetMany(ctx context.Context, keys []*Key) ([]Result, error)

	// BatchWrite applies op to every payload in one backend call.
	BatchWrite(ctx context.Context, op Op, payloads []Payload) error

	// BeginTransaction opens a new transaction.
	BeginTransaction(ctx context.Context) (Transaction, error)

	// NewQuery returns an empty query over kind.
	NewQuery(kind string) QueryBuilder
}

// Transaction is an open backend transaction. It is owned by one Loader.
type Transaction interface {
	// GetMany reads keys with the transaction's isolation.
	GetMany(ctx context.Context, keys []*Key) ([]Result, error)

	// Write stages op for every payload. Staged writes apply on Commit.
	Write(ctx context.Context, op Op, payloads []Payload) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// QueryBuilder accumulates query options. The loader applies options in a
// fixed order and calls Run exactly once.
type QueryBuilder interface {
	Select(fields ...string)
	Filter(f Filter)
	Order(o Order)
	DistinctOn(fields ...string)
	Start(cursor string)
	End(cursor string)
	Ancestor(k *Key)
	Limit(n int)
	Offset(n int)

	// Run executes the query. tx is nil outside a transaction.
	Run(ctx context.Context, tx Transaction) ([]Entity, QueryInfo, error)
}
