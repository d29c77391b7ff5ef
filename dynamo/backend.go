package dynamo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/docload/internal/chunk"
	"github.com/jacentio/docload/loader"
)

// DynamoDB request limits.
const (
	maxBatchGet     = 100
	maxTransactGet  = 100
	maxTransactions = 100
)

// Client is the subset of the DynamoDB API the backend uses.
// *dynamodb.Client satisfies it.
type Client interface {
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Backend stores documents in DynamoDB, one table per kind.
type Backend struct {
	client   Client
	config   Config
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

var _ loader.Backend = (*Backend)(nil)

// New creates a new Backend.
func New(client Client, config Config) *Backend {
	return NewWithRegistry(client, config, nil)
}

// NewWithRegistry creates a new Backend that resolves tables through registry.
func NewWithRegistry(client Client, config Config, registry *Registry) *Backend {
	config.validate()
	return &Backend{
		client:   client,
		config:   config,
		registry: registry,
		logger:   config.Logger.With("component", "docload.dynamo"),
		now:      time.Now,
	}
}

// Registry returns the table registry, or nil if not set.
func (b *Backend) Registry() *Registry {
	return b.registry
}

// TableName returns the table that stores documents of kind.
func (b *Backend) TableName(kind string) string {
	if name, ok := b.registry.TableFor(kind); ok {
		return name
	}
	return b.config.TablePrefix + kind
}

// KindFor returns the kind stored in table. It is the inverse of
// TableName.
func (b *Backend) KindFor(table string) (string, bool) {
	if kind, ok := b.registry.KindFor(table); ok {
		return kind, true
	}
	if kind, ok := strings.CutPrefix(table, b.config.TablePrefix); ok && kind != "" {
		return kind, true
	}
	return "", false
}

// Now returns the backend's clock reading used for ttl checks.
func (b *Backend) Now() time.Time {
	return b.now()
}

// GetMany implements loader.Backend with BatchGetItem. Expired items read
// as missing. Keys still unprocessed after the configured retries fail
// with ErrUnprocessed.
func (b *Backend) GetMany(ctx context.Context, keys []*loader.Key) ([]loader.Result, error) {
	unique, positions := dedupe(keys)
	found := make(map[string]map[string]types.AttributeValue, len(unique))
	failed := make(map[string]bool)

	for _, batch := range chunk.Split(unique, maxBatchGet) {
		if err := b.batchGet(ctx, batch, found, failed); err != nil {
			return nil, err
		}
	}

	results := make([]loader.Result, len(keys))
	now := b.now()
	for enc, idx := range positions {
		var r loader.Result
		switch item, ok := found[enc]; {
		case failed[enc]:
			r.Err = fmt.Errorf("%w: %s", ErrUnprocessed, enc)
		case ok && !IsExpired(item, now):
			_, r.Data, r.Err = unmarshalItem(item)
		}
		for _, i := range idx {
			results[i] = r
		}
	}
	return results, nil
}

func (b *Backend) batchGet(ctx context.Context, keys []*loader.Key, found map[string]map[string]types.AttributeValue, failed map[string]bool) error {
	request := make(map[string]types.KeysAndAttributes)
	for _, k := range keys {
		table := b.TableName(k.Kind())
		ka := request[table]
		ka.Keys = append(ka.Keys, keyAttrs(k))
		ka.ConsistentRead = aws.Bool(b.config.ConsistentRead)
		request[table] = ka
	}

	for attempt := 0; len(request) > 0; attempt++ {
		if attempt > 0 {
			if attempt > b.config.MaxRetries {
				break
			}
			b.logger.Debug("retrying unprocessed keys", "attempt", attempt, "tables", len(request))
			if err := b.backoff(ctx, attempt); err != nil {
				return err
			}
		}
		out, err := b.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return err
		}
		for _, items := range out.Responses {
			for _, item := range items {
				found[getString(item, attrSK)] = item
			}
		}
		request = out.UnprocessedKeys
	}

	for table, ka := range request {
		b.logger.Warn("keys left unprocessed", "table", table, "count", len(ka.Keys))
		for _, key := range ka.Keys {
			failed[getString(key, attrSK)] = true
		}
	}
	return nil
}

// backoff waits before retry attempt, doubling the delay each time.
func (b *Backend) backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(b.config.RetryBaseDelay << (attempt - 1))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BatchWrite implements loader.Backend with a single TransactWriteItems
// call, so the batch applies atomically. Insert fails with
// loader.ErrAlreadyExists and Update with loader.ErrNotFound.
func (b *Backend) BatchWrite(ctx context.Context, op loader.Op, payloads []loader.Payload) error {
	if len(payloads) == 0 {
		return nil
	}
	actions := plan([]stagedWrite{{op: op, payloads: payloads}}, nil)
	if len(actions) > maxTransactions {
		return fmt.Errorf("%w: batch of %d", ErrTransactionTooLarge, len(actions))
	}
	return b.transactWrite(ctx, actions, uuid.NewString())
}

func (b *Backend) transactWrite(ctx context.Context, actions []action, token string) error {
	now := b.now()
	items := make([]types.TransactWriteItem, len(actions))
	for i, a := range actions {
		item, err := b.writeItem(a, now)
		if err != nil {
			return err
		}
		items[i] = item
	}
	_, err := b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(token),
	})
	return mapTransactionError(err, actions)
}

// BeginTransaction implements loader.Backend.
func (b *Backend) BeginTransaction(ctx context.Context) (loader.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{
		b:     b,
		token: uuid.NewString(),
		reads: make(map[string]string),
	}, nil
}

// NewQuery implements loader.Backend.
func (b *Backend) NewQuery(kind string) loader.QueryBuilder {
	return &query{b: b, kind: kind}
}

// dedupe returns keys without repeats and, per encoded key, the positions
// it occupies in keys.
func dedupe(keys []*loader.Key) ([]*loader.Key, map[string][]int) {
	positions := make(map[string][]int, len(keys))
	unique := make([]*loader.Key, 0, len(keys))
	for i, k := range keys {
		enc := k.Encode()
		if _, ok := positions[enc]; !ok {
			unique = append(unique, k)
		}
		positions[enc] = append(positions[enc], i)
	}
	return unique, positions
}
