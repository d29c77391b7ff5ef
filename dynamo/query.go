package dynamo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docload/loader"
)

// query collects options from the loader's QueryBuilder calls.
type query struct {
	b        *Backend
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

// page is one page of a Query or Scan.
type page struct {
	items []map[string]types.AttributeValue
	last  map[string]types.AttributeValue
}

// pager yields pages of a Query or Scan.
type pager interface {
	HasMorePages() bool
	next(ctx context.Context) (page, error)
}

type queryPager struct{ *dynamodb.QueryPaginator }

func (p queryPager) next(ctx context.Context) (page, error) {
	out, err := p.NextPage(ctx)
	if err != nil {
		return page{}, err
	}
	return page{items: out.Items, last: out.LastEvaluatedKey}, nil
}

type scanPager struct{ *dynamodb.ScanPaginator }

func (p scanPager) next(ctx context.Context) (page, error) {
	out, err := p.NextPage(ctx)
	if err != nil {
		return page{}, err
	}
	return page{items: out.Items, last: out.LastEvaluatedKey}, nil
}

// Run evaluates the query. With an ancestor it queries the ancestor's
// partition, otherwise it scans the kind's table. Offset and limit are
// applied while paging, so skipped items are still read.
func (q *query) Run(ctx context.Context, tx loader.Transaction) ([]loader.Entity, loader.QueryInfo, error) {
	if err := q.supported(); err != nil {
		return nil, loader.QueryInfo{}, err
	}
	var t *Tx
	if tx != nil {
		var ok bool
		if t, ok = tx.(*Tx); !ok || t.b != q.b {
			return nil, loader.QueryInfo{}, fmt.Errorf("docload: foreign transaction %T", tx)
		}
	}

	e := newExprBuilder()
	filter, empty, err := q.filterExpr(e)
	if err != nil {
		return nil, loader.QueryInfo{}, err
	}
	if empty {
		return nil, loader.QueryInfo{}, nil
	}
	e.values[":now"] = nowValue(q.b.now())
	var projection *string
	if len(q.selects) > 0 {
		fields := []string{e.name(attrPK), e.name(attrSK), e.name(attrRev)}
		for _, f := range q.selects {
			fields = append(fields, e.name(f))
		}
		projection = aws.String(strings.Join(fields, ", "))
	}
	startKey, err := decodeCursor(q.start)
	if err != nil {
		return nil, loader.QueryInfo{}, err
	}

	table := aws.String(q.b.TableName(q.kind))
	consistent := aws.Bool(t != nil || q.b.config.ConsistentRead)
	var p pager
	if q.ancestor != nil {
		keyCond := e.name(attrPK) + " = " + e.value(q.ancestor.Root().Encode()) +
			" AND begins_with(" + e.name(attrSK) + ", " + e.value(q.ancestor.Encode()) + ")"
		in := &dynamodb.QueryInput{
			TableName:                 table,
			KeyConditionExpression:    aws.String(keyCond),
			FilterExpression:          aws.String(filter),
			ProjectionExpression:      projection,
			ExpressionAttributeNames:  e.names,
			ExpressionAttributeValues: e.values,
			ExclusiveStartKey:         startKey,
			ConsistentRead:            consistent,
		}
		if len(q.orders) == 1 && q.orders[0].Descending {
			in.ScanIndexForward = aws.Bool(false)
		}
		p = queryPager{dynamodb.NewQueryPaginator(q.b.client, in)}
	} else {
		p = scanPager{dynamodb.NewScanPaginator(q.b.client, &dynamodb.ScanInput{
			TableName:                 table,
			FilterExpression:          aws.String(filter),
			ProjectionExpression:      projection,
			ExpressionAttributeNames:  e.names,
			ExpressionAttributeValues: e.values,
			ExclusiveStartKey:         startKey,
			ConsistentRead:            consistent,
		})}
	}

	var out []loader.Entity
	info := loader.QueryInfo{EndCursor: q.start}
	skip := q.offset
	for p.HasMorePages() {
		pg, err := p.next(ctx)
		if err != nil {
			return nil, loader.QueryInfo{}, err
		}
		for i, item := range pg.items {
			k, doc, err := unmarshalItem(item)
			if err != nil {
				return nil, loader.QueryInfo{}, err
			}
			if k.Kind() != q.kind || (q.ancestor != nil && !q.descendant(k)) {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			if t != nil {
				t.observe(k.Encode(), getString(item, attrRev))
			}
			out = append(out, loader.Entity{Key: k, Data: doc})
			info.EndCursor = encodeCursor(k)
			if q.limit > 0 && len(out) == q.limit {
				info.MoreResults = i < len(pg.items)-1 || pg.last != nil
				return out, info, nil
			}
		}
	}
	return out, info, nil
}

// supported rejects options DynamoDB cannot evaluate.
func (q *query) supported() error {
	if len(q.distinct) > 0 {
		return fmt.Errorf("%w: distinct on", ErrUnsupportedQuery)
	}
	if q.end != "" {
		return fmt.Errorf("%w: end cursor", ErrUnsupportedQuery)
	}
	if len(q.orders) > 1 {
		return fmt.Errorf("%w: more than one sort order", ErrUnsupportedQuery)
	}
	for _, o := range q.orders {
		if o.Field != loader.KeyField {
			return fmt.Errorf("%w: sort on %q", ErrUnsupportedQuery, o.Field)
		}
		if q.ancestor == nil {
			return fmt.Errorf("%w: key order requires an ancestor", ErrUnsupportedQuery)
		}
	}
	return nil
}

// descendant reports whether k lies under the query's ancestor and passes
// its key filters, which a Query cannot evaluate server side.
func (q *query) descendant(k *loader.Key) bool {
	if !k.HasAncestor(q.ancestor) {
		return false
	}
	for _, f := range q.filters {
		if f.Field == loader.KeyField && !matchKey(k, f) {
			return false
		}
	}
	return true
}

func matchKey(k *loader.Key, f loader.Filter) bool {
	if f.Op == loader.In {
		rv := reflect.ValueOf(f.Value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if matchKey(k, loader.Filter{Field: f.Field, Op: loader.Equal, Value: rv.Index(i).Interface()}) {
				return true
			}
		}
		return false
	}
	var other string
	switch v := f.Value.(type) {
	case *loader.Key:
		other = v.Encode()
	case string:
		other = v
	default:
		return false
	}
	c := strings.Compare(k.Encode(), other)
	switch f.Op {
	case loader.Equal:
		return c == 0
	case loader.NotEqual:
		return c != 0
	case loader.LessThan:
		return c < 0
	case loader.LessOrEqual:
		return c <= 0
	case loader.GreaterThan:
		return c > 0
	case loader.GreaterOrEqual:
		return c >= 0
	}
	return false
}

// filterExpr combines the ttl filter with the query's filters. empty is
// true when a filter can never match.
func (q *query) filterExpr(e *exprBuilder) (expr string, empty bool, err error) {
	e.names["#ttl"] = attrTTL
	clauses := []string{ttlFilterExpr()}
	for _, f := range q.filters {
		field := f.Field
		value := f.Value
		if field == loader.KeyField {
			if q.ancestor != nil {
				// Query filters may not name key attributes.
				continue
			}
			field = attrSK
		}
		name := e.name(field)

		if f.Op == loader.In {
			rv := reflect.ValueOf(value)
			if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
				return "", false, fmt.Errorf("%w: %q in needs a list, got %T", loader.ErrInvalidQuery, f.Field, value)
			}
			if rv.Len() == 0 {
				return "", true, nil
			}
			placeholders := make([]string, rv.Len())
			for i := range placeholders {
				av, err := toAttr(rv.Index(i).Interface())
				if err != nil {
					return "", false, err
				}
				placeholders[i] = e.attr(av)
			}
			clauses = append(clauses, name+" IN ("+strings.Join(placeholders, ", ")+")")
			continue
		}

		av, err := toAttr(value)
		if err != nil {
			return "", false, err
		}
		op := string(f.Op)
		if f.Op == loader.NotEqual {
			op = "<>"
		}
		clauses = append(clauses, name+" "+op+" "+e.attr(av))
	}
	return strings.Join(clauses, " AND "), false, nil
}

func toAttr(v any) (types.AttributeValue, error) {
	if k, ok := v.(*loader.Key); ok {
		return &types.AttributeValueMemberS{Value: k.Encode()}, nil
	}
	return attributevalue.Marshal(v)
}

// exprBuilder hands out expression attribute placeholders.
type exprBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
	byName map[string]string
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
		byName: map[string]string{},
	}
}

// name returns the placeholder for an attribute name.
func (e *exprBuilder) name(attr string) string {
	if p, ok := e.byName[attr]; ok {
		return p
	}
	p := fmt.Sprintf("#f%d", len(e.byName))
	e.byName[attr] = p
	e.names[p] = attr
	return p
}

func (e *exprBuilder) value(s string) string {
	return e.attr(&types.AttributeValueMemberS{Value: s})
}

// attr returns a fresh placeholder bound to v.
func (e *exprBuilder) attr(v types.AttributeValue) string {
	p := fmt.Sprintf(":v%d", len(e.values))
	e.values[p] = v
	return p
}

// cursor is the primary key a page resumes after.
type cursor struct {
	PK string `json:"pk"`
	SK string `json:"sk"`
}

func encodeCursor(k *loader.Key) string {
	raw, _ := json.Marshal(cursor{PK: k.Root().Encode(), SK: k.Encode()})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (map[string]types.AttributeValue, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	if c.PK == "" || c.SK == "" {
		return nil, ErrInvalidCursor
	}
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: c.PK},
		attrSK: &types.AttributeValueMemberS{Value: c.SK},
	}, nil
}
