package dynamo

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docload/loader"
)

// --- Config Tests ---

func TestConfigValidate_Defaults(t *testing.T) {
	cfg := Config{MaxRetries: -3}
	cfg.validate()
	if cfg.TablePrefix != "docload_" {
		t.Errorf("expected default prefix, got %q", cfg.TablePrefix)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("expected negative retries clamped to 0, got %d", cfg.MaxRetries)
	}
	if cfg.RetryBaseDelay != 25*time.Millisecond {
		t.Errorf("expected 25ms base delay, got %v", cfg.RetryBaseDelay)
	}
	if cfg.Logger == nil {
		t.Error("expected default logger")
	}

	cfg = Config{MaxRetries: 100}
	cfg.validate()
	if cfg.MaxRetries != 20 {
		t.Errorf("expected retries clamped to 20, got %d", cfg.MaxRetries)
	}
}

// --- Registry Tests ---

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(Table{Kind: "Invoice", Name: "invoices"})
	r.Register(Table{Kind: "Customer", Name: "customers"})
	r.Register(Table{Kind: "Invoice", Name: "invoices_v2"})

	if name, ok := r.TableFor("Invoice"); !ok || name != "invoices_v2" {
		t.Errorf("expected invoices_v2, got %q", name)
	}
	if _, ok := r.KindFor("invoices"); ok {
		t.Error("expected replaced table to be forgotten")
	}
	if kind, ok := r.KindFor("customers"); !ok || kind != "Customer" {
		t.Errorf("expected Customer, got %q", kind)
	}
	if n := len(r.Tables()); n != 2 {
		t.Errorf("expected 2 tables, got %d", n)
	}

	var nilRegistry *Registry
	if _, ok := nilRegistry.TableFor("Invoice"); ok {
		t.Error("expected nil registry to resolve nothing")
	}
}

func TestTableName(t *testing.T) {
	r := NewRegistry()
	r.Register(Table{Kind: "Invoice", Name: "invoices"})
	b := NewWithRegistry(newFakeClient(), DefaultConfig(), r)

	if got := b.TableName("Invoice"); got != "invoices" {
		t.Errorf("expected invoices, got %q", got)
	}
	if got := b.TableName("Doc"); got != "docload_Doc" {
		t.Errorf("expected docload_Doc, got %q", got)
	}

	for table, want := range map[string]string{"invoices": "Invoice", "docload_Doc": "Doc"} {
		if kind, ok := b.KindFor(table); !ok || kind != want {
			t.Errorf("expected %s for table %s, got %q (%v)", want, table, kind, ok)
		}
	}
	for _, table := range []string{"other", "docload_"} {
		if kind, ok := b.KindFor(table); ok {
			t.Errorf("expected no kind for table %q, got %q", table, kind)
		}
	}
}

// --- Item Tests ---

func TestItemRoundTrip(t *testing.T) {
	org := loader.NameKey("Org", "acme", nil)
	k := loader.IDKey("Doc", 7, org)
	item, err := marshalItem(k, loader.Document{"title": "hello", "owner": org, "n": 3}, "r1")
	if err != nil {
		t.Fatalf("marshalItem: %v", err)
	}
	if getString(item, attrPK) != "Org:acme" {
		t.Errorf("expected partition Org:acme, got %q", getString(item, attrPK))
	}
	if getString(item, attrSK) != "Org:acme/Doc#7" {
		t.Errorf("expected sort key Org:acme/Doc#7, got %q", getString(item, attrSK))
	}
	if getString(item, attrRev) != "r1" {
		t.Errorf("expected revision r1, got %q", getString(item, attrRev))
	}

	gotKey, doc, err := unmarshalItem(item)
	if err != nil {
		t.Fatalf("unmarshalItem: %v", err)
	}
	if !gotKey.Equal(k) {
		t.Errorf("expected key %s, got %s", k, gotKey)
	}
	if doc["title"] != "hello" || doc["owner"] != "Org:acme" || doc["n"] != float64(3) {
		t.Errorf("unexpected document %v", doc)
	}
	for _, reserved := range []string{attrPK, attrSK, attrRev} {
		if _, ok := doc[reserved]; ok {
			t.Errorf("expected %q stripped from document", reserved)
		}
	}
}

func TestMarshalItem_ReservedField(t *testing.T) {
	_, err := marshalItem(docKey("a"), loader.Document{"pk": "x"}, "r")
	if err == nil || !strings.Contains(err.Error(), "reserved") {
		t.Errorf("expected reserved field error, got %v", err)
	}
}

// --- TTL Tests ---

func TestIsExpired(t *testing.T) {
	tests := []struct {
		name     string
		item     map[string]types.AttributeValue
		expected bool
	}{
		{"no ttl", map[string]types.AttributeValue{}, false},
		{"past", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: "1699999999"}}, true},
		{"now", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: "1700000000"}}, true},
		{"future", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: "1700000001"}}, false},
		{"not a number", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberS{Value: "soon"}}, false},
		{"garbage", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: "x"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.item, fixedNow); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

// --- plan Tests ---

func TestPlan_FoldsWritesPerKey(t *testing.T) {
	writes := []stagedWrite{
		{op: loader.OpInsert, payloads: []loader.Payload{{Key: docKey("a"), Data: loader.Document{"v": 1}}}},
		{op: loader.OpSave, payloads: []loader.Payload{{Key: docKey("b"), Data: loader.Document{}}}},
		{op: loader.OpUpdate, payloads: []loader.Payload{{Key: docKey("a"), Data: loader.Document{"v": 2}}}},
		{op: loader.OpDelete, payloads: []loader.Payload{{Key: docKey("b")}}},
	}
	reads := map[string]string{"Doc:b": "rb", "Doc:z": "", "Doc:c": "rc"}

	actions := plan(writes, reads)
	if len(actions) != 4 {
		t.Fatalf("expected 4 actions, got %d", len(actions))
	}

	a := actions[0]
	if a.key.Encode() != "Doc:a" || a.op != loader.OpInsert || a.remove || a.data["v"] != 2 || a.checkRev {
		t.Errorf("unexpected action for a: %+v", a)
	}
	b := actions[1]
	if b.key.Encode() != "Doc:b" || !b.remove || !b.checkRev || b.rev != "rb" {
		t.Errorf("unexpected action for b: %+v", b)
	}
	if actions[2].key.Encode() != "Doc:c" || !actions[2].read || actions[2].rev != "rc" {
		t.Errorf("expected read check for c, got %+v", actions[2])
	}
	if actions[3].key.Encode() != "Doc:z" || !actions[3].read || actions[3].rev != "" {
		t.Errorf("expected read check for z, got %+v", actions[3])
	}
}

func TestWriteItem_Conditions(t *testing.T) {
	b := newTestBackend(newFakeClient())
	tests := []struct {
		name   string
		action action
		cond   string
	}{
		{"save", action{key: docKey("a"), op: loader.OpSave, data: loader.Document{}}, ""},
		{"insert", action{key: docKey("a"), op: loader.OpInsert, data: loader.Document{}}, absentExpr()},
		{"update", action{key: docKey("a"), op: loader.OpUpdate, data: loader.Document{}}, liveExpr()},
		{"revision", action{key: docKey("a"), op: loader.OpSave, data: loader.Document{}, checkRev: true, rev: "r1"}, "#rev = :rev"},
		{"read missing", action{key: docKey("a"), op: loader.OpSave, data: loader.Document{}, checkRev: true}, absentExpr()},
		{"insert read missing", action{key: docKey("a"), op: loader.OpInsert, data: loader.Document{}, checkRev: true}, absentExpr()},
		{"update with revision", action{key: docKey("a"), op: loader.OpUpdate, data: loader.Document{}, checkRev: true, rev: "r1"}, liveExpr() + " AND #rev = :rev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := b.writeItem(tt.action, fixedNow)
			if err != nil {
				t.Fatalf("writeItem: %v", err)
			}
			if item.Put == nil {
				t.Fatal("expected a put")
			}
			got := aws.ToString(item.Put.ConditionExpression)
			if got != tt.cond {
				t.Errorf("expected condition %q, got %q", tt.cond, got)
			}
			if tt.cond == "" && (item.Put.ExpressionAttributeNames != nil || item.Put.ExpressionAttributeValues != nil) {
				t.Error("expected no expression attributes without a condition")
			}
			if aws.ToString(item.Put.TableName) != "docload_Doc" {
				t.Errorf("expected table docload_Doc, got %q", aws.ToString(item.Put.TableName))
			}
		})
	}
}

func TestWriteItem_DeleteAndCheck(t *testing.T) {
	b := newTestBackend(newFakeClient())

	item, err := b.writeItem(action{key: docKey("a"), op: loader.OpDelete, remove: true}, fixedNow)
	if err != nil {
		t.Fatalf("writeItem: %v", err)
	}
	if item.Delete == nil || item.Delete.ConditionExpression != nil {
		t.Errorf("expected unconditional delete, got %+v", item)
	}

	item, err = b.writeItem(action{key: docKey("a"), read: true, checkRev: true, rev: "r1"}, fixedNow)
	if err != nil {
		t.Fatalf("writeItem: %v", err)
	}
	if item.ConditionCheck == nil || aws.ToString(item.ConditionCheck.ConditionExpression) != "#rev = :rev" {
		t.Errorf("expected revision condition check, got %+v", item)
	}
}

// --- mapTransactionError Tests ---

func cancelled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func TestMapTransactionError(t *testing.T) {
	actions := []action{
		{key: docKey("a"), op: loader.OpInsert},
		{key: docKey("b"), op: loader.OpUpdate},
		{key: docKey("c"), op: loader.OpSave, checkRev: true, rev: "r"},
		{key: docKey("d"), op: loader.OpSave},
	}
	other := errors.New("throttled")

	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"nil", nil, nil},
		{"insert exists", cancelled(reasonConditionFailed, "None", "None", "None"), loader.ErrAlreadyExists},
		{"update missing", cancelled("None", reasonConditionFailed, "None", "None"), loader.ErrNotFound},
		{"revision changed", cancelled("None", "None", reasonConditionFailed, "None"), loader.ErrTransactionConflict},
		{"conflict", cancelled("None", "None", "None", reasonConflict), loader.ErrTransactionConflict},
		{"conflict beyond actions", cancelled("None", "None", "None", "None", reasonConflict), loader.ErrTransactionConflict},
		{"conflict exception", &types.TransactionConflictException{}, loader.ErrTransactionConflict},
		{"other", other, other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapTransactionError(tt.err, actions)
			if tt.expected == nil {
				if got != nil {
					t.Errorf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

// --- Cursor Tests ---

func TestCursorRoundTrip(t *testing.T) {
	k := loader.NameKey("Doc", "x", loader.NameKey("Org", "acme", nil))
	key, err := decodeCursor(encodeCursor(k))
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	if getString(key, attrPK) != "Org:acme" || getString(key, attrSK) != "Org:acme/Doc:x" {
		t.Errorf("unexpected start key %v", key)
	}

	if key, err := decodeCursor(""); err != nil || key != nil {
		t.Errorf("expected no start key for empty cursor, got %v %v", key, err)
	}
	for _, bad := range []string{"!!", "bm90IGpzb24", "e30"} {
		if _, err := decodeCursor(bad); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("%q: expected ErrInvalidCursor, got %v", bad, err)
		}
	}
}
