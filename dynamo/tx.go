package dynamo

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/docload/internal/chunk"
	"github.com/jacentio/docload/loader"
)

type stagedWrite struct {
	op       loader.Op
	payloads []loader.Payload
}

// action is one item of a TransactWriteItems call.
type action struct {
	key *loader.Key
	// op is the first operation staged for the key; its precondition is
	// checked against the stored item.
	op     loader.Op
	remove bool
	data   loader.Document
	// read marks a condition check for an item that was read but not written.
	read bool
	// checkRev requires the stored revision to still be rev ("" for an
	// item that was missing when read).
	checkRev bool
	rev      string
}

// plan folds staged writes into one action per key, last write winning,
// and adds a revision check for every key in reads.
func plan(writes []stagedWrite, reads map[string]string) []action {
	var actions []action
	byKey := make(map[string]int)
	for _, w := range writes {
		for _, p := range w.payloads {
			enc := p.Key.Encode()
			if i, ok := byKey[enc]; ok {
				actions[i].remove = w.op == loader.OpDelete
				actions[i].data = p.Data
				continue
			}
			a := action{key: p.Key, op: w.op, remove: w.op == loader.OpDelete, data: p.Data}
			if rev, ok := reads[enc]; ok {
				a.checkRev, a.rev = true, rev
			}
			byKey[enc] = len(actions)
			actions = append(actions, a)
		}
	}
	for _, enc := range slices.Sorted(maps.Keys(reads)) {
		if _, ok := byKey[enc]; ok {
			continue
		}
		k, err := loader.ParseKey(enc)
		if err != nil {
			continue
		}
		actions = append(actions, action{key: k, read: true, checkRev: true, rev: reads[enc]})
	}
	return actions
}

// writeItem builds the TransactWriteItem for a.
func (b *Backend) writeItem(a action, now time.Time) (types.TransactWriteItem, error) {
	var conds []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	useTTL := func() {
		names["#pk"], names["#ttl"] = attrPK, attrTTL
		values[":now"] = nowValue(now)
	}

	switch a.op {
	case loader.OpInsert:
		conds = append(conds, absentExpr())
		useTTL()
	case loader.OpUpdate:
		conds = append(conds, liveExpr())
		useTTL()
	}
	if a.checkRev {
		if a.rev == "" {
			if a.op != loader.OpInsert {
				conds = append(conds, absentExpr())
				useTTL()
			}
		} else {
			conds = append(conds, "#rev = :rev")
			names["#rev"] = attrRev
			values[":rev"] = &types.AttributeValueMemberS{Value: a.rev}
		}
	}

	table := aws.String(b.TableName(a.key.Kind()))
	var cond *string
	if len(conds) > 0 {
		cond = aws.String(strings.Join(conds, " AND "))
	} else {
		names, values = nil, nil
	}

	switch {
	case a.read:
		return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                 table,
			Key:                       keyAttrs(a.key),
			ConditionExpression:       cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		}}, nil
	case a.remove:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 table,
			Key:                       keyAttrs(a.key),
			ConditionExpression:       cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		}}, nil
	}
	item, err := marshalItem(a.key, a.data, uuid.NewString())
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:                 table,
		Item:                      item,
		ConditionExpression:       cond,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}}, nil
}

// Tx is a DynamoDB transaction. Reads go through TransactGetItems and
// remember each item's revision; writes are staged and committed in one
// TransactWriteItems call that also checks those revisions. Conflicts are
// detected only for documents the transaction read.
type Tx struct {
	b     *Backend
	token string

	mu     sync.Mutex
	reads  map[string]string
	writes []stagedWrite
	closed bool
}

var _ loader.Transaction = (*Tx)(nil)

// GetMany implements loader.Transaction. Staged writes are not visible.
func (t *Tx) GetMany(ctx context.Context, keys []*loader.Key) ([]loader.Result, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, loader.ErrTransactionClosed
	}

	unique, positions := dedupe(keys)
	results := make([]loader.Result, len(keys))
	now := t.b.now()
	for _, batch := range chunk.Split(unique, maxTransactGet) {
		gets := make([]types.TransactGetItem, len(batch))
		for i, k := range batch {
			gets[i] = types.TransactGetItem{Get: &types.Get{
				TableName: aws.String(t.b.TableName(k.Kind())),
				Key:       keyAttrs(k),
			}}
		}
		out, err := t.b.client.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{TransactItems: gets})
		if err != nil {
			return nil, mapTransactionError(err, nil)
		}
		for i, k := range batch {
			var item map[string]types.AttributeValue
			if i < len(out.Responses) {
				item = out.Responses[i].Item
			}
			var r loader.Result
			rev := ""
			if item != nil && !IsExpired(item, now) {
				rev = getString(item, attrRev)
				_, r.Data, r.Err = unmarshalItem(item)
			}
			t.observe(k.Encode(), rev)
			for _, p := range positions[k.Encode()] {
				results[p] = r
			}
		}
	}
	return results, nil
}

// observe records the revision a read saw. The first read of a key wins.
func (t *Tx) observe(enc, rev string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.reads[enc]; !ok {
		t.reads[enc] = rev
	}
}

// Write implements loader.Transaction.
func (t *Tx) Write(ctx context.Context, op loader.Op, payloads []loader.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return loader.ErrTransactionClosed
	}
	staged := make([]loader.Payload, len(payloads))
	copy(staged, payloads)
	t.writes = append(t.writes, stagedWrite{op: op, payloads: staged})
	return nil
}

// Commit implements loader.Transaction. A transaction without writes
// commits without calling DynamoDB. A failed commit leaves the
// transaction open for Rollback.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return loader.ErrTransactionClosed
	}
	if len(t.writes) == 0 {
		t.closed = true
		return nil
	}

	actions := plan(t.writes, t.reads)
	if len(actions) > maxTransactions {
		return fmt.Errorf("%w: %d items", ErrTransactionTooLarge, len(actions))
	}
	if err := t.b.transactWrite(ctx, actions, t.token); err != nil {
		return err
	}
	t.b.logger.Debug("transaction committed", "token", t.token, "items", len(actions))
	t.closed = true
	return nil
}

// Rollback implements loader.Transaction by discarding staged writes.
func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return loader.ErrTransactionClosed
	}
	t.closed = true
	t.writes = nil
	return nil
}
