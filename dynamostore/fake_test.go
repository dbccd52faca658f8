package dynamostore_test

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/internal/shard"
)

type attrs = map[string]types.AttributeValue

// fakeDynamo is an in-memory DynamoDB understanding exactly the condition
// and update expressions the adapter sends.
type fakeDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]attrs

	calls      map[string]int
	created    []string
	ttlEnabled map[string]string
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		tables:     make(map[string]map[string]attrs),
		calls:      make(map[string]int),
		ttlEnabled: make(map[string]string),
	}
}

func (f *fakeDynamo) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeDynamo) table(name string) map[string]attrs {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]attrs)
		f.tables[name] = t
	}
	return t
}

func keyString(key attrs) string {
	return key["id"].(*types.AttributeValueMemberS).Value
}

func number(v types.AttributeValue) int64 {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	i, _ := strconv.ParseInt(n.Value, 10, 64)
	return i
}

// holds evaluates cond against the current item of table under key.
func (f *fakeDynamo) holds(table, key string, cond *string, values attrs) bool {
	if cond == nil {
		return true
	}
	existing, ok := f.table(table)[key]
	switch *cond {
	case "attribute_not_exists(id)":
		return !ok
	case "#version = :base":
		return ok && number(existing["version"]) == number(values[":base"])
	case "attribute_exists(id) AND attribute_not_exists(#ttl)":
		_, expiring := existing["ttl"]
		return ok && !expiring
	}
	panic(fmt.Sprintf("fakeDynamo: unexpected condition %q", *cond))
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetItem"]++

	it, ok := f.table(*in.TableName)[keyString(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: maps.Clone(it)}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PutItem"]++

	key := keyString(in.Item)
	if !f.holds(*in.TableName, key, in.ConditionExpression, in.ExpressionAttributeValues) {
		return nil, conditionFailed()
	}
	f.table(*in.TableName)[key] = maps.Clone(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// UpdateItem supports the expiry update only.
func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateItem"]++

	if *in.UpdateExpression != "SET #ttl = :at, #version = #version + :one" {
		panic(fmt.Sprintf("fakeDynamo: unexpected update %q", *in.UpdateExpression))
	}
	key := keyString(in.Key)
	if !f.holds(*in.TableName, key, in.ConditionExpression, in.ExpressionAttributeValues) {
		return nil, conditionFailed()
	}
	it := f.table(*in.TableName)[key]
	it["ttl"] = in.ExpressionAttributeValues[":at"]
	it["version"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(number(it["version"])+1, 10)}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteItem"]++

	key := keyString(in.Key)
	if !f.holds(*in.TableName, key, in.ConditionExpression, in.ExpressionAttributeValues) {
		return nil, conditionFailed()
	}
	delete(f.table(*in.TableName), key)
	return &dynamodb.DeleteItemOutput{}, nil
}

// Scan returns every live item of the requested segment in a single page.
func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Scan"]++

	now := number(in.ExpressionAttributeValues[":now"])
	out := &dynamodb.ScanOutput{}
	for key, it := range f.table(*in.TableName) {
		if in.TotalSegments != nil && segmentOf(key, *in.TotalSegments) != *in.Segment {
			continue
		}
		if ttl, ok := it["ttl"]; ok && number(ttl) <= now {
			continue
		}
		out.Items = append(out.Items, maps.Clone(it))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func segmentOf(key string, total int32) int32 {
	return int32(shard.Of(key, int(total)))
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["TransactWriteItems"]++

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		ok := true
		switch {
		case ti.Put != nil:
			ok = f.holds(*ti.Put.TableName, keyString(ti.Put.Item), ti.Put.ConditionExpression, ti.Put.ExpressionAttributeValues)
		case ti.Delete != nil:
			ok = f.holds(*ti.Delete.TableName, keyString(ti.Delete.Key), ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeValues)
		}
		if ok {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
		} else {
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.table(*ti.Put.TableName)[keyString(ti.Put.Item)] = maps.Clone(ti.Put.Item)
		case ti.Delete != nil:
			delete(f.table(*ti.Delete.TableName), keyString(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// --- Table provisioning ---

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateTable"]++

	if _, ok := f.tables[*in.TableName]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists")}
	}
	f.table(*in.TableName)
	f.created = append(f.created, *in.TableName)
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DescribeTable"]++

	if _, ok := f.tables[*in.TableName]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeDynamo) UpdateTimeToLive(_ context.Context, in *dynamodb.UpdateTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateTimeToLive"]++

	f.ttlEnabled[*in.TableName] = *in.TimeToLiveSpecification.AttributeName
	return &dynamodb.UpdateTimeToLiveOutput{}, nil
}
