package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/store"
)

// Commit conditions.
const (
	condNew     = "attribute_not_exists(id)"
	condVersion = "#version = :base"
)

type writeKey struct {
	collection string
	id         store.ID
}

// pendingWrite is the buffered final state of one document.
type pendingWrite struct {
	// doc is nil when the session deleted the document.
	doc store.Document
	// base is the committed version the first write saw, 0 if the document
	// didn't exist.
	base int64
}

// entry is a document as a session sees it.
type entry struct {
	doc  store.Document
	base int64
}

// session buffers writes and commits them with one TransactWriteItems call.
// Reads see committed items overlaid with the session's own writes.
type session struct {
	id    string
	store *Store

	mu      sync.Mutex
	closed  bool
	pending map[writeKey]*pendingWrite
	order   []writeKey
}

func (tx *session) ID() string { return tx.id }

// Commit publishes every buffered write or none of them. A document changed
// by someone else since the session read it fails the commit with
// store.ErrConcurrentModification.
func (tx *session) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return store.ErrSessionClosed
	}
	tx.closed = true

	items, inserts, err := tx.transactItems()
	if err != nil {
		return err
	}
	switch {
	case len(items) == 0:
		return nil
	case len(items) > tx.store.config.MaxTransactItems:
		return fmt.Errorf("%w: %d writes, limit %d", store.ErrTransactionTooLarge, len(items), tx.store.config.MaxTransactItems)
	case len(items) == 1:
		// Fast path: single conditional write
		return tx.commitOne(ctx, items[0], inserts[0])
	}

	_, err = tx.store.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapTransactionError(err, inserts)
}

// Abort drops every buffered write. Aborting a closed session is a no-op.
func (tx *session) Abort(context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.closed = true
	tx.pending = nil
	tx.order = nil
	return nil
}

// transactItems converts the buffered writes, in first-write order. inserts
// marks the items conditioned on the id being new.
func (tx *session) transactItems() ([]types.TransactWriteItem, []bool, error) {
	var items []types.TransactWriteItem
	var inserts []bool

	for _, key := range tx.order {
		w := tx.pending[key]
		table := aws.String(tx.store.Table(key.collection))

		switch {
		case w.doc != nil:
			av, err := encodeItem(w.doc, w.base+1)
			if err != nil {
				return nil, nil, err
			}
			put := &types.Put{TableName: table, Item: av}
			if w.base == 0 {
				put.ConditionExpression = aws.String(condNew)
			} else {
				put.ConditionExpression = aws.String(condVersion)
				put.ExpressionAttributeNames = versionNames()
				put.ExpressionAttributeValues = versionValues(w.base)
			}
			items = append(items, types.TransactWriteItem{Put: put})
			inserts = append(inserts, w.base == 0)

		case w.base > 0:
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName:                 table,
				Key:                       keyOf(key.id),
				ConditionExpression:       aws.String(condVersion),
				ExpressionAttributeNames:  versionNames(),
				ExpressionAttributeValues: versionValues(w.base),
			}})
			inserts = append(inserts, false)
		}
		// Inserted and deleted within the session: nothing to write.
	}
	return items, inserts, nil
}

func (tx *session) commitOne(ctx context.Context, item types.TransactWriteItem, insert bool) error {
	var err error
	if put := item.Put; put != nil {
		_, err = tx.store.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 put.TableName,
			Item:                      put.Item,
			ConditionExpression:       put.ConditionExpression,
			ExpressionAttributeNames:  put.ExpressionAttributeNames,
			ExpressionAttributeValues: put.ExpressionAttributeValues,
		})
	} else {
		del := item.Delete
		_, err = tx.store.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 del.TableName,
			Key:                       del.Key,
			ConditionExpression:       del.ConditionExpression,
			ExpressionAttributeNames:  del.ExpressionAttributeNames,
			ExpressionAttributeValues: del.ExpressionAttributeValues,
		})
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if insert {
			return store.ErrAlreadyExists
		}
		return store.ErrConcurrentModification
	}
	return err
}

// mapTransactionError maps DynamoDB transaction errors to store errors.
// inserts[i] tells whether transact item i was an insert.
func mapTransactionError(err error, inserts []bool) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				if i < len(inserts) && inserts[i] {
					return store.ErrAlreadyExists
				}
				return store.ErrConcurrentModification
			}
		}
		// Conflicts with a concurrent transaction on the same items.
		for _, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "TransactionConflict" {
				return store.ErrConcurrentModification
			}
		}
	}

	return err
}

func versionNames() map[string]string {
	return map[string]string{"#version": versionAttribute}
}

func versionValues(base int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":base": &types.AttributeValueMemberN{Value: strconv.FormatInt(base, 10)},
	}
}

// --- Buffered operations ---

func (tx *session) insert(ctx context.Context, collection string, id store.ID, doc store.Document) error {
	key := writeKey{collection, id}

	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return store.ErrSessionClosed
	}
	w, buffered := tx.pending[key]
	tx.mu.Unlock()

	if buffered {
		if w.doc != nil {
			return fmt.Errorf("%w: %s %s", store.ErrAlreadyExists, collection, id.Hex())
		}
	} else {
		existing, err := tx.store.load(ctx, collection, store.ByID(id))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: %s %s", store.ErrAlreadyExists, collection, id.Hex())
		}
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return store.ErrSessionClosed
	}
	tx.write(key, doc.Clone(), 0)
	return nil
}

func (tx *session) update(ctx context.Context, collection string, filter store.Filter, upd store.Update) (store.UpdateResult, error) {
	records, err := tx.store.load(ctx, collection, filter)
	if err != nil {
		return store.UpdateResult{}, err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	view, err := tx.viewLocked(collection, records)
	if err != nil {
		return store.UpdateResult{}, err
	}

	var res store.UpdateResult
	for id, e := range view {
		if !filter.Match(e.doc) {
			continue
		}
		res.Matched++
		next, changed := upd.Apply(e.doc)
		if !changed {
			continue
		}
		res.Modified++
		tx.write(writeKey{collection, id}, next, e.base)
	}
	return res, nil
}

func (tx *session) delete(ctx context.Context, collection string, filter store.Filter) (store.DeleteResult, error) {
	records, err := tx.store.load(ctx, collection, filter)
	if err != nil {
		return store.DeleteResult{}, err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	view, err := tx.viewLocked(collection, records)
	if err != nil {
		return store.DeleteResult{}, err
	}

	var res store.DeleteResult
	for id, e := range view {
		if filter.Match(e.doc) {
			tx.write(writeKey{collection, id}, nil, e.base)
			res.Deleted++
		}
	}
	return res, nil
}

func (tx *session) view(collection string, records []record) (map[store.ID]entry, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.viewLocked(collection, records)
}

// viewLocked overlays the session's writes on committed records. Callers hold tx.mu.
func (tx *session) viewLocked(collection string, records []record) (map[store.ID]entry, error) {
	if tx.closed {
		return nil, store.ErrSessionClosed
	}
	out := make(map[store.ID]entry, len(records))
	for _, rec := range records {
		out[rec.id] = entry{doc: rec.doc, base: rec.version}
	}
	for key, w := range tx.pending {
		if key.collection != collection {
			continue
		}
		if w.doc == nil {
			delete(out, key.id)
			continue
		}
		out[key.id] = entry{doc: w.doc, base: w.base}
	}
	return out, nil
}

// write buffers the final state of a document, keeping the base version of
// the first write. Callers hold tx.mu.
func (tx *session) write(key writeKey, doc store.Document, base int64) {
	if w, ok := tx.pending[key]; ok {
		w.doc = doc
		return
	}
	tx.pending[key] = &pendingWrite{doc: doc, base: base}
	tx.order = append(tx.order, key)
}
