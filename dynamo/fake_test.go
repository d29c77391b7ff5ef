package dynamo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docload/loader"
)

// fakeClient serves reads from items, keyed by sort key, and records
// every request. Writes are recorded but not applied.
type fakeClient struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	batchGets    []*dynamodb.BatchGetItemInput
	transactGets []*dynamodb.TransactGetItemsInput
	writes       []*dynamodb.TransactWriteItemsInput
	queries      []*dynamodb.QueryInput
	scans        []*dynamodb.ScanInput

	// unprocessed lists sort keys left unprocessed, per BatchGetItem call.
	unprocessed map[int][]string
	batchGetErr error
	writeErr    error
	getErr      error

	// pages are returned by successive Query or Scan calls.
	pages [][]map[string]types.AttributeValue
}

var _ Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		items:       map[string]map[string]types.AttributeValue{},
		unprocessed: map[int][]string{},
	}
}

func (f *fakeClient) put(t *testing.T, k *loader.Key, rev string, doc loader.Document) {
	t.Helper()
	item, err := marshalItem(k, doc, rev)
	if err != nil {
		t.Fatalf("marshalItem: %v", err)
	}
	f.items[k.Encode()] = item
}

func (f *fakeClient) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := len(f.batchGets)
	f.batchGets = append(f.batchGets, in)
	if f.batchGetErr != nil {
		return nil, f.batchGetErr
	}

	skip := map[string]bool{}
	for _, sk := range f.unprocessed[call] {
		skip[sk] = true
	}
	out := &dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]types.AttributeValue{},
		UnprocessedKeys: map[string]types.KeysAndAttributes{},
	}
	for table, ka := range in.RequestItems {
		for _, key := range ka.Keys {
			sk := getString(key, attrSK)
			if skip[sk] {
				left := out.UnprocessedKeys[table]
				left.Keys = append(left.Keys, key)
				out.UnprocessedKeys[table] = left
				continue
			}
			if item, ok := f.items[sk]; ok {
				out.Responses[table] = append(out.Responses[table], item)
			}
		}
	}
	return out, nil
}

func (f *fakeClient) TransactGetItems(_ context.Context, in *dynamodb.TransactGetItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactGets = append(f.transactGets, in)
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := &dynamodb.TransactGetItemsOutput{Responses: make([]types.ItemResponse, len(in.TransactItems))}
	for i, g := range in.TransactItems {
		out.Responses[i].Item = f.items[getString(g.Get.Key, attrSK)]
	}
	return out, nil
}

func (f *fakeClient) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, in)
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeClient) nextPage() ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	n := len(f.queries) + len(f.scans) - 1
	if n >= len(f.pages) {
		return nil, nil
	}
	var last map[string]types.AttributeValue
	if n < len(f.pages)-1 && len(f.pages[n]) > 0 {
		final := f.pages[n][len(f.pages[n])-1]
		last = map[string]types.AttributeValue{attrPK: final[attrPK], attrSK: final[attrSK]}
	}
	return f.pages[n], last
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, in)
	items, last := f.nextPage()
	return &dynamodb.QueryOutput{Items: items, LastEvaluatedKey: last}, nil
}

func (f *fakeClient) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, in)
	items, last := f.nextPage()
	return &dynamodb.ScanOutput{Items: items, LastEvaluatedKey: last}, nil
}

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestBackend(f *fakeClient) *Backend {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	b := New(f, cfg)
	b.now = func() time.Time { return fixedNow }
	return b
}

func docKey(id string) *loader.Key {
	return loader.NameKey("Doc", id, nil)
}
