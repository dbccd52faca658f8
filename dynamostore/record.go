package dynamostore

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/jacentio/lattice/internal/bsondoc"
	"github.com/jacentio/lattice/store"
)

// Item attribute names.
const (
	keyAttribute     = "id"
	bodyAttribute    = "doc"
	versionAttribute = "version"
)

// item is the stored shape of a document: the hex id as partition key, the
// whole document as a BSON body, and a version for optimistic locking.
type item struct {
	ID      string `dynamodbav:"id"`
	Body    []byte `dynamodbav:"doc"`
	Version int64  `dynamodbav:"version"`
	TTL     int64  `dynamodbav:"ttl,omitempty"`
}

// record is a decoded item.
type record struct {
	id      store.ID
	doc     store.Document
	version int64
}

func encodeItem(doc store.Document, version int64) (map[string]types.AttributeValue, error) {
	id, ok := doc.ID()
	if !ok {
		return nil, fmt.Errorf("%w: document without %s", store.ErrInvalidID, store.IDField)
	}
	body, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", id.Hex(), err)
	}
	av, err := attributevalue.MarshalMap(item{ID: id.Hex(), Body: body, Version: version})
	if err != nil {
		return nil, fmt.Errorf("marshal item %s: %w", id.Hex(), err)
	}
	return av, nil
}

func decodeItem(raw map[string]types.AttributeValue) (record, error) {
	var it item
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return record{}, fmt.Errorf("unmarshal item: %w", err)
	}
	id, err := store.ParseID(it.ID)
	if err != nil {
		return record{}, err
	}
	var body bson.M
	if err := bson.Unmarshal(it.Body, &body); err != nil {
		return record{}, fmt.Errorf("decode document %s: %w", it.ID, err)
	}
	doc := bsondoc.Normalize(body)
	doc[store.IDField] = id
	return record{id: id, doc: doc, version: it.Version}, nil
}

func keyOf(id store.ID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyAttribute: &types.AttributeValueMemberS{Value: id.Hex()},
	}
}
