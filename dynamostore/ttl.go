package dynamostore

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TTLAttribute is the item attribute DynamoDB's time-to-live feature reads.
const TTLAttribute = "ttl"

// IsExpired reports whether an item carries a TTL at or before now. DynamoDB
// removes expired items lazily, so reads treat them as already gone.
func IsExpired(item map[string]types.AttributeValue, now time.Time) bool {
	ttlAttr, exists := item[TTLAttribute]
	if !exists {
		return false // No TTL = live
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

// liveFilterExpr excludes expired items from scans.
const liveFilterExpr = "attribute_not_exists(#ttl) OR #ttl > :now"

func liveFilterNames() map[string]string {
	return map[string]string{"#ttl": TTLAttribute}
}

func liveFilterValues(now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
	}
}
