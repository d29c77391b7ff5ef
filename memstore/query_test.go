package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docload/loader"
	"github.com/jacentio/docload/memstore"
)

func run(t *testing.T, s *memstore.Store, q loader.Query) ([]loader.Entity, loader.QueryInfo) {
	t.Helper()
	l := loader.New(s, loader.DefaultConfig())
	entities, info, err := l.Query(context.Background(), q)
	require.NoError(t, err)
	return entities, info
}

func names(entities []loader.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.Key.Name()
	}
	return out
}

func seedPeople(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	save(t, s,
		loader.Payload{Key: key("ann"), Data: loader.Document{"age": 31, "team": "red", "active": true}},
		loader.Payload{Key: key("bob"), Data: loader.Document{"age": 25, "team": "blue", "active": true}},
		loader.Payload{Key: key("cat"), Data: loader.Document{"age": 40, "team": "red", "active": false}},
		loader.Payload{Key: key("dan"), Data: loader.Document{"age": 25, "team": "green"}},
		loader.Payload{Key: loader.NameKey("Other", "eve", nil), Data: loader.Document{"age": 50}},
	)
	return s
}

func TestQuery_KindScan(t *testing.T) {
	s := seedPeople(t)
	entities, info := run(t, s, loader.Query{Kind: "Doc"})
	assert.Equal(t, []string{"ann", "bob", "cat", "dan"}, names(entities))
	assert.False(t, info.MoreResults)
	assert.NotEmpty(t, info.EndCursor)
}

func TestQuery_Filters(t *testing.T) {
	s := seedPeople(t)
	tests := []struct {
		name    string
		filters []loader.Filter
		want    []string
	}{
		{"equal", []loader.Filter{{Field: "team", Op: loader.Equal, Value: "red"}}, []string{"ann", "cat"}},
		{"not equal", []loader.Filter{{Field: "team", Op: loader.NotEqual, Value: "red"}}, []string{"bob", "dan"}},
		{"less than", []loader.Filter{{Field: "age", Op: loader.LessThan, Value: 31}}, []string{"bob", "dan"}},
		{"less or equal", []loader.Filter{{Field: "age", Op: loader.LessOrEqual, Value: 31}}, []string{"ann", "bob", "dan"}},
		{"greater than", []loader.Filter{{Field: "age", Op: loader.GreaterThan, Value: 31.5}}, []string{"cat"}},
		{"greater or equal", []loader.Filter{{Field: "age", Op: loader.GreaterOrEqual, Value: int64(31)}}, []string{"ann", "cat"}},
		{"in", []loader.Filter{{Field: "team", Op: loader.In, Value: []string{"blue", "green"}}}, []string{"bob", "dan"}},
		{"missing field never matches", []loader.Filter{{Field: "active", Op: loader.NotEqual, Value: true}}, []string{"cat"}},
		{"mixed types never compare", []loader.Filter{{Field: "age", Op: loader.GreaterThan, Value: "10"}}, []string{}},
		{"conjunction", []loader.Filter{
			{Field: "team", Op: loader.Equal, Value: "red"},
			{Field: "active", Op: loader.Equal, Value: true},
		}, []string{"ann"}},
		{"key", []loader.Filter{{Field: loader.KeyField, Op: loader.Equal, Value: key("bob")}}, []string{"bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entities, _ := run(t, s, loader.Query{Kind: "Doc", Filters: tt.filters})
			assert.Equal(t, tt.want, names(entities))
		})
	}
}

func TestQuery_Orders(t *testing.T) {
	s := seedPeople(t)

	entities, _ := run(t, s, loader.Query{Kind: "Doc", Orders: []loader.Order{
		{Field: "age"},
		{Field: loader.KeyField, Descending: true},
	}})
	assert.Equal(t, []string{"dan", "bob", "ann", "cat"}, names(entities))

	entities, _ = run(t, s, loader.Query{Kind: "Doc", Orders: []loader.Order{{Field: "age", Descending: true}}})
	assert.Equal(t, []string{"cat", "ann", "bob", "dan"}, names(entities), "ties keep key order")

	// Documents without the sort field are left out.
	entities, _ = run(t, s, loader.Query{Kind: "Doc", Orders: []loader.Order{{Field: "active"}}})
	assert.Equal(t, []string{"cat", "ann", "bob"}, names(entities))
}

func TestQuery_KeyOrderComparesIDsNumerically(t *testing.T) {
	s := memstore.New()
	for _, id := range []int64{9, 10, 2} {
		save(t, s, loader.Payload{Key: loader.IDKey("N", id, nil), Data: loader.Document{}})
	}
	ids := func(entities []loader.Entity) []int64 {
		out := make([]int64, len(entities))
		for i, e := range entities {
			out[i] = e.Key.ID()
		}
		return out
	}

	entities, _ := run(t, s, loader.Query{Kind: "N", Orders: []loader.Order{{Field: loader.KeyField}}})
	assert.Equal(t, []int64{2, 9, 10}, ids(entities))

	entities, _ = run(t, s, loader.Query{Kind: "N", Orders: []loader.Order{{Field: loader.KeyField, Descending: true}}})
	assert.Equal(t, []int64{10, 9, 2}, ids(entities))

	entities, _ = run(t, s, loader.Query{Kind: "N", Filters: []loader.Filter{
		{Field: loader.KeyField, Op: loader.GreaterThan, Value: loader.IDKey("N", 2, nil)},
	}, Orders: []loader.Order{{Field: loader.KeyField}}})
	assert.Equal(t, []int64{9, 10}, ids(entities))
}

func TestQuery_DistinctOn(t *testing.T) {
	s := seedPeople(t)
	entities, _ := run(t, s, loader.Query{
		Kind:       "Doc",
		Orders:     []loader.Order{{Field: "team"}, {Field: "age"}},
		DistinctOn: []string{"team"},
	})
	assert.Equal(t, []string{"bob", "dan", "ann"}, names(entities))
}

func TestQuery_Projection(t *testing.T) {
	s := seedPeople(t)
	entities, _ := run(t, s, loader.Query{
		Kind:    "Doc",
		Select:  []string{"team"},
		Filters: []loader.Filter{{Field: "age", Op: loader.Equal, Value: 31}},
	})
	require.Len(t, entities, 1)
	assert.Equal(t, loader.Document{"team": "red"}, entities[0].Data)
}

func TestQuery_Ancestor(t *testing.T) {
	s := memstore.New()
	acme := loader.NameKey("Org", "acme", nil)
	save(t, s,
		loader.Payload{Key: loader.NameKey("Doc", "x", acme), Data: loader.Document{}},
		loader.Payload{Key: loader.NameKey("Doc", "y", loader.NameKey("Team", "t1", acme)), Data: loader.Document{}},
		loader.Payload{Key: loader.NameKey("Doc", "z", loader.NameKey("Org", "acme-b", nil)), Data: loader.Document{}},
		loader.Payload{Key: loader.NameKey("Doc", "w", loader.NameKey("Org", "acmez", nil)), Data: loader.Document{}},
		loader.Payload{Key: loader.NameKey("Doc", "v", nil), Data: loader.Document{}},
	)

	entities, _ := run(t, s, loader.Query{Kind: "Doc", Ancestor: acme})
	assert.Equal(t, []string{"x", "y"}, names(entities))
}

func TestQuery_Paging(t *testing.T) {
	s := seedPeople(t)

	page, info := run(t, s, loader.Query{Kind: "Doc", Limit: 2})
	assert.Equal(t, []string{"ann", "bob"}, names(page))
	require.True(t, info.MoreResults)

	page, info = run(t, s, loader.Query{Kind: "Doc", Limit: 2, Start: info.EndCursor})
	assert.Equal(t, []string{"cat", "dan"}, names(page))
	assert.False(t, info.MoreResults)

	page, _ = run(t, s, loader.Query{Kind: "Doc", Offset: 1, Limit: 2})
	assert.Equal(t, []string{"bob", "cat"}, names(page))

	_, first := run(t, s, loader.Query{Kind: "Doc", Limit: 1})
	_, third := run(t, s, loader.Query{Kind: "Doc", Limit: 3})
	page, _ = run(t, s, loader.Query{Kind: "Doc", Start: first.EndCursor, End: third.EndCursor})
	assert.Equal(t, []string{"bob", "cat"}, names(page))

	page, info = run(t, s, loader.Query{Kind: "Doc", Offset: 10})
	assert.Empty(t, page)
	assert.False(t, info.MoreResults)
}

func TestQuery_BadCursor(t *testing.T) {
	s := seedPeople(t)
	l := loader.New(s, loader.DefaultConfig())
	_, _, err := l.Query(context.Background(), loader.Query{Kind: "Doc", Start: "not a cursor!"})
	assert.Error(t, err)
}

func TestQuery_ExcludedFieldsAreNotIndexed(t *testing.T) {
	s := memstore.New()
	save(t, s,
		loader.Payload{Key: key("a"), Data: loader.Document{"body": "x", "n": 1}, ExcludeFromIndexes: []string{"body"}},
		loader.Payload{Key: key("b"), Data: loader.Document{"body": "x", "n": 2}},
	)

	entities, _ := run(t, s, loader.Query{Kind: "Doc", Filters: []loader.Filter{{Field: "body", Op: loader.Equal, Value: "x"}}})
	assert.Equal(t, []string{"b"}, names(entities))

	entities, _ = run(t, s, loader.Query{Kind: "Doc", Orders: []loader.Order{{Field: "body"}}})
	assert.Equal(t, []string{"b"}, names(entities))

	// The field is still stored.
	entities, _ = run(t, s, loader.Query{Kind: "Doc"})
	assert.Equal(t, "x", entities[0].Data["body"])
}

func TestQuery_InTransactionJoinsReadSet(t *testing.T) {
	s := seedPeople(t)
	ctx := context.Background()
	l := loader.New(s, loader.DefaultConfig())

	err := l.RunInTransaction(ctx, func(ctx context.Context, tl *loader.Loader) error {
		entities, _, err := tl.Query(ctx, loader.Query{
			Kind:    "Doc",
			Filters: []loader.Filter{{Field: "team", Op: loader.Equal, Value: "blue"}},
		})
		require.NoError(t, err)
		require.Len(t, entities, 1)

		// A concurrent change to a queried document fails the commit.
		save(t, s, loader.Payload{Key: key("bob"), Data: loader.Document{"age": 26}})
		return tl.Save(ctx, loader.Payload{Key: key("new"), Data: loader.Document{}})
	})
	assert.ErrorIs(t, err, loader.ErrTransactionConflict)
}

func TestQuery_ForeignTransaction(t *testing.T) {
	a, b := memstore.New(), memstore.New()
	tx, err := b.BeginTransaction(context.Background())
	require.NoError(t, err)

	_, _, err = a.NewQuery("Doc").Run(context.Background(), tx)
	assert.Error(t, err)
}
