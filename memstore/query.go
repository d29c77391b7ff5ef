package memstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/btree"

	"github.com/jacentio/docload/loader"
)

var errBadCursor = errors.New("memstore: malformed cursor")

// query collects options from the loader's QueryBuilder calls.
type query struct {
	store    *Store
	kind     string
	selects  []string
	filters  []loader.Filter
	orders   []loader.Order
	distinct []string
	start    string
	end      string
	ancestor *loader.Key
	limit    int
	offset   int
}

func (q *query) Select(fields ...string)     { q.selects = append(q.selects, fields...) }
func (q *query) Filter(f loader.Filter)      { q.filters = append(q.filters, f) }
func (q *query) Order(o loader.Order)        { q.orders = append(q.orders, o) }
func (q *query) DistinctOn(fields ...string) { q.distinct = append(q.distinct, fields...) }
func (q *query) Start(cursor string)         { q.start = cursor }
func (q *query) End(cursor string)           { q.end = cursor }
func (q *query) Ancestor(k *loader.Key)      { q.ancestor = k }
func (q *query) Limit(n int)                 { q.limit = n }
func (q *query) Offset(n int)                { q.offset = n }

// Run evaluates the query. Inside a transaction it reads the transaction's
// snapshot and the returned documents join the transaction's read set.
func (q *query) Run(ctx context.Context, tx loader.Transaction) ([]loader.Entity, loader.QueryInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, loader.QueryInfo{}, err
	}

	var tree *btree.BTreeG[*record]
	var mtx *Tx
	if tx != nil {
		t, ok := tx.(*Tx)
		if !ok || t.store != q.store {
			return nil, loader.QueryInfo{}, fmt.Errorf("memstore: foreign transaction %T", tx)
		}
		mtx = t
		tree = t.snap
	} else {
		tree = q.store.snapshot()
	}

	matched := q.scan(tree)
	q.sort(matched)
	matched = q.dedupe(matched)

	lo, hi := 0, len(matched)
	if q.start != "" {
		pos, err := decodeCursor(q.start)
		if err != nil {
			return nil, loader.QueryInfo{}, err
		}
		lo = min(pos, hi)
	}
	if q.end != "" {
		pos, err := decodeCursor(q.end)
		if err != nil {
			return nil, loader.QueryInfo{}, err
		}
		hi = max(lo, min(pos, hi))
	}
	lo = min(lo+q.offset, hi)
	stop := hi
	if q.limit > 0 {
		stop = min(lo+q.limit, hi)
	}

	page := matched[lo:stop]
	out := make([]loader.Entity, len(page))
	for i, r := range page {
		if mtx != nil {
			mtx.observe(r.id, r)
		}
		out[i] = loader.Entity{Key: r.key, Data: q.project(r.data)}
	}
	return out, loader.QueryInfo{EndCursor: encodeCursor(stop), MoreResults: stop < hi}, nil
}

// scan returns the records of the query's kind that pass the ancestor
// constraint and every filter.
func (q *query) scan(tree *btree.BTreeG[*record]) []*record {
	var out []*record
	var prefix string
	if q.ancestor != nil {
		prefix = q.ancestor.Encode()
	}
	visit := func(r *record) bool {
		if q.ancestor != nil {
			// Descendants share the ancestor's encoding as a prefix, but
			// so do siblings such as "Kind:a-b" next to "Kind:a".
			if !strings.HasPrefix(r.id, prefix) {
				return false
			}
			if !r.key.HasAncestor(q.ancestor) {
				return true
			}
		}
		if r.key.Kind() == q.kind && q.accepts(r) {
			out = append(out, r)
		}
		return true
	}
	if q.ancestor != nil {
		tree.Ascend(&record{id: q.ancestor.Encode()}, visit)
	} else {
		tree.Scan(visit)
	}
	return out
}

func (q *query) accepts(r *record) bool {
	for _, f := range q.filters {
		var value any
		if f.Field == loader.KeyField {
			value = r.key
		} else {
			if r.excluded[f.Field] {
				return false
			}
			v, ok := r.data[f.Field]
			if !ok {
				return false
			}
			value = v
		}
		if !matches(value, f) {
			return false
		}
	}
	// Documents without a sort field are left out, as indexed stores do.
	for _, o := range q.orders {
		if o.Field == loader.KeyField {
			continue
		}
		if _, ok := r.data[o.Field]; !ok || r.excluded[o.Field] {
			return false
		}
	}
	return true
}

func (q *query) sort(records []*record) {
	if len(q.orders) == 0 {
		return
	}
	slices.SortStableFunc(records, func(a, b *record) int {
		for _, o := range q.orders {
			var c int
			if o.Field == loader.KeyField {
				c = a.key.Compare(b.key)
			} else {
				c, _ = compareValues(a.data[o.Field], b.data[o.Field])
			}
			if o.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

// dedupe keeps the first record for each combination of distinct fields.
func (q *query) dedupe(records []*record) []*record {
	if len(q.distinct) == 0 {
		return records
	}
	seen := make(map[string]bool)
	out := records[:0:0]
	for _, r := range records {
		parts := make([]string, len(q.distinct))
		for i, f := range q.distinct {
			parts[i] = fmt.Sprintf("%T:%v", r.data[f], r.data[f])
		}
		sig := strings.Join(parts, "\x00")
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, r)
	}
	return out
}

func (q *query) project(data loader.Document) loader.Document {
	if len(q.selects) == 0 {
		return data.Clone()
	}
	out := make(loader.Document, len(q.selects))
	for _, f := range q.selects {
		if v, ok := data[f]; ok {
			out[f] = v
		}
	}
	return out
}

func encodeCursor(pos int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("o:" + strconv.Itoa(pos)))
}

func decodeCursor(c string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errBadCursor, err)
	}
	s, ok := strings.CutPrefix(string(raw), "o:")
	if !ok {
		return 0, errBadCursor
	}
	pos, err := strconv.Atoi(s)
	if err != nil || pos < 0 {
		return 0, errBadCursor
	}
	return pos, nil
}
