package dynamo

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsExpired reports whether an item carries a ttl at or before now. Such
// items are soft-deleted and read as missing until DynamoDB removes them.
func IsExpired(item map[string]types.AttributeValue, now time.Time) bool {
	ttlAttr, exists := item[attrTTL]
	if !exists {
		return false
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// ttlFilterExpr excludes expired items from queries and scans.
func ttlFilterExpr() string {
	return "(attribute_not_exists(#ttl) OR #ttl > :now)"
}

// liveExpr holds for items that exist and have not expired.
func liveExpr() string {
	return "attribute_exists(#pk) AND " + ttlFilterExpr()
}

// absentExpr holds for items that were never written or have expired.
func absentExpr() string {
	return "(attribute_not_exists(#pk) OR #ttl <= :now)"
}

func nowValue(now time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
}
