package dynamo

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docload/loader"
)

// Item attributes managed by the backend. Documents may not use attrPK,
// attrSK or attrRev as field names. A document field named attrTTL is
// stored as is and soft-deletes the item once it passes.
const (
	attrPK  = "pk"
	attrSK  = "sk"
	attrRev = "_rev"
	attrTTL = "ttl"
)

// keyAttrs returns the primary key of k: the encoded root segment as the
// partition key and the full encoded key as the sort key. All descendants
// of a root therefore share a partition, in key order.
func keyAttrs(k *loader.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: k.Root().Encode()},
		attrSK: &types.AttributeValueMemberS{Value: k.Encode()},
	}
}

// marshalItem converts a document to a DynamoDB item. Key values are
// stored in their encoded form.
func marshalItem(k *loader.Key, doc loader.Document, rev string) (map[string]types.AttributeValue, error) {
	clean := make(map[string]any, len(doc))
	for field, v := range doc {
		switch field {
		case attrPK, attrSK, attrRev:
			return nil, fmt.Errorf("docload: %s: field %q is reserved", k, field)
		}
		if key, ok := v.(*loader.Key); ok {
			v = key.Encode()
		}
		clean[field] = v
	}
	item, err := attributevalue.MarshalMap(clean)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", k, err)
	}
	for name, v := range keyAttrs(k) {
		item[name] = v
	}
	item[attrRev] = &types.AttributeValueMemberS{Value: rev}
	return item, nil
}

// unmarshalItem converts a DynamoDB item back to its key and document.
func unmarshalItem(item map[string]types.AttributeValue) (*loader.Key, loader.Document, error) {
	k, err := loader.ParseKey(getString(item, attrSK))
	if err != nil {
		return nil, nil, err
	}
	rest := make(map[string]types.AttributeValue, len(item))
	for name, v := range item {
		switch name {
		case attrPK, attrSK, attrRev:
			continue
		}
		rest[name] = v
	}
	doc := loader.Document{}
	if err := attributevalue.UnmarshalMap(rest, &doc); err != nil {
		return nil, nil, fmt.Errorf("unmarshal %s: %w", k, err)
	}
	return k, doc, nil
}

// DecodeItem converts a stored item, such as a stream image, to its key
// and document.
func DecodeItem(item map[string]types.AttributeValue) (*loader.Key, loader.Document, error) {
	return unmarshalItem(item)
}

// getString extracts a string attribute from an item.
func getString(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
