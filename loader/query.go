package loader

import (
	"context"
	"fmt"
)

// KeyField names the document key in Order and Select.
const KeyField = "__key__"

// Operator is a filter comparison.
type Operator string

const (
	Equal          Operator = "="
	NotEqual       Operator = "!="
	LessThan       Operator = "<"
	LessOrEqual    Operator = "<="
	GreaterThan    Operator = ">"
	GreaterOrEqual Operator = ">="
	// In matches when the field equals any element of a slice Value.
	In Operator = "in"
)

func (o Operator) valid() bool {
	switch o {
	case Equal, NotEqual, LessThan, LessOrEqual, GreaterThan, GreaterOrEqual, In:
		return true
	}
	return false
}

// Filter is one field/operator/value predicate. Filters in a Query are ANDed.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Order sorts results by Field. Multiple orders break ties left to right.
type Order struct {
	Field      string
	Descending bool
}

// Query describes a declarative query over one kind. Zero-valued fields
// are not applied.
type Query struct {
	Kind       string
	Select     []string
	Filters    []Filter
	Orders     []Order
	DistinctOn []string

	// Start and End are cursors from a previous QueryInfo.
	Start string
	End   string

	Ancestor *Key
	Limit    int
	Offset   int
}

// Projected reports whether the query returns partial documents.
func (q Query) Projected() bool {
	return len(q.Select) > 0
}

func (q Query) validate() error {
	if q.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("%w: filter without field", ErrInvalidQuery)
		}
		if !f.Op.valid() {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
	}
	for _, o := range q.Orders {
		if o.Field == "" {
			return fmt.Errorf("%w: order without field", ErrInvalidQuery)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("%w: negative limit or offset", ErrInvalidQuery)
	}
	if q.Ancestor != nil && !q.Ancestor.valid() {
		return fmt.Errorf("%w: ancestor %v", ErrInvalidQuery, q.Ancestor)
	}
	return nil
}

// QueryInfo carries backend pagination state.
type QueryInfo struct {
	// EndCursor resumes after the last returned entity when passed as Start.
	EndCursor string
	// MoreResults reports whether the backend has results past EndCursor.
	MoreResults bool
}

// Query runs q once against the backend, inside the Loader's transaction
// if it has one. Results of queries without projection prime the cache.
func (l *Loader) Query(ctx context.Context, q Query) ([]Entity, QueryInfo, error) {
	if err := q.validate(); err != nil {
		return nil, QueryInfo{}, err
	}

	b := l.backend.NewQuery(q.Kind)
	if len(q.Select) > 0 {
		b.Select(q.Select...)
	}
	for _, f := range q.Filters {
		b.Filter(f)
	}
	for _, o := range q.Orders {
		b.Order(o)
	}
	if len(q.DistinctOn) > 0 {
		b.DistinctOn(q.DistinctOn...)
	}
	if q.Start != "" {
		b.Start(q.Start)
	}
	if q.End != "" {
		b.End(q.End)
	}
	if q.Ancestor != nil {
		b.Ancestor(q.Ancestor)
	}
	if q.Limit > 0 {
		b.Limit(q.Limit)
	}
	if q.Offset > 0 {
		b.Offset(q.Offset)
	}

	entities, info, err := b.Run(ctx, l.tx)
	if err != nil {
		return nil, QueryInfo{}, err
	}

	// Partial documents must never be mistaken for complete ones.
	if !q.Projected() {
		for _, e := range entities {
			l.cache.Clear(e.Key)
			l.cache.Prime(e.Key, e.Data)
		}
	}
	return entities, info, nil
}
