package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/lattice/internal/shard"
	"github.com/jacentio/lattice/store"
)

// API is the subset of the DynamoDB client the adapter uses.
// *dynamodb.Client satisfies it.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store is a store.Adapter over DynamoDB. Each collection is a table keyed
// by the hex document id.
type Store struct {
	client API
	config Config
	now    func() time.Time
}

// New creates a new Store instance.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
		now:    time.Now,
	}
}

var _ store.Adapter = (*Store)(nil)

// Table returns the table name backing collection.
func (s *Store) Table(collection string) string {
	return s.config.TablePrefix + collection
}

// CollectionOf reverses Table. The boolean is false when table doesn't carry the prefix.
func (s *Store) CollectionOf(table string) (string, bool) {
	return strings.CutPrefix(table, s.config.TablePrefix)
}

// OpenSession starts a session buffering writes until Commit.
func (s *Store) OpenSession(ctx context.Context) (store.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.newSession(), nil
}

func (s *Store) newSession() *session {
	return &session{
		id:      uuid.NewString(),
		store:   s,
		pending: make(map[writeKey]*pendingWrite),
	}
}

// InsertOne stores doc. Without a session the put is conditional on the id being new.
func (s *Store) InsertOne(ctx context.Context, collection string, doc store.Document, sess store.Session) (store.ID, error) {
	id, ok := doc.ID()
	if !ok {
		return store.NilID, fmt.Errorf("%w: document without %s", store.ErrInvalidID, store.IDField)
	}

	if sess != nil {
		tx, err := s.session(sess)
		if err != nil {
			return store.NilID, err
		}
		return id, tx.insert(ctx, collection, id, doc)
	}

	tx := s.newSession()
	if err := tx.insert(ctx, collection, id, doc); err != nil {
		return store.NilID, err
	}
	return id, tx.Commit(ctx)
}

// Find returns matching documents ordered by id unless opts.Sort says otherwise.
func (s *Store) Find(ctx context.Context, collection string, filter store.Filter, opts store.FindOptions, sess store.Session) iter.Seq2[store.Document, error] {
	return func(yield func(store.Document, error) bool) {
		docs, err := s.match(ctx, collection, filter, sess)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, doc := range store.ApplyFindOptions(docs, opts) {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// UpdateMany applies upd to every matching document. Without a session the
// writes still commit in one transaction.
func (s *Store) UpdateMany(ctx context.Context, collection string, filter store.Filter, upd store.Update, sess store.Session) (store.UpdateResult, error) {
	if sess != nil {
		tx, err := s.session(sess)
		if err != nil {
			return store.UpdateResult{}, err
		}
		return tx.update(ctx, collection, filter, upd)
	}

	tx := s.newSession()
	res, err := tx.update(ctx, collection, filter, upd)
	if err != nil {
		return store.UpdateResult{}, err
	}
	return res, tx.Commit(ctx)
}

// DeleteMany removes every matching document.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter store.Filter, sess store.Session) (store.DeleteResult, error) {
	if sess != nil {
		tx, err := s.session(sess)
		if err != nil {
			return store.DeleteResult{}, err
		}
		return tx.delete(ctx, collection, filter)
	}

	tx := s.newSession()
	res, err := tx.delete(ctx, collection, filter)
	if err != nil {
		return store.DeleteResult{}, err
	}
	return res, tx.Commit(ctx)
}

// Count returns the number of matching documents.
func (s *Store) Count(ctx context.Context, collection string, filter store.Filter, sess store.Session) (int64, error) {
	docs, err := s.match(ctx, collection, filter, sess)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// Expire marks a document for removal by DynamoDB's TTL process at the given
// time. Reads ignore it from then on; the table's stream reports the
// removal once DynamoDB deletes it. The version is bumped so open sessions
// that wrote the document fail to commit.
func (s *Store) Expire(ctx context.Context, collection string, id store.ID, at time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.Table(collection)),
		Key:                 keyOf(id),
		UpdateExpression:    aws.String("SET #ttl = :at, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     TTLAttribute,
			"#version": versionAttribute,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":  &types.AttributeValueMemberN{Value: strconv.FormatInt(at.Unix(), 10)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})

	// Ignore condition failure - already expiring or gone
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// match returns the documents matching filter, as seen by sess.
func (s *Store) match(ctx context.Context, collection string, filter store.Filter, sess store.Session) ([]store.Document, error) {
	var tx *session
	if sess != nil {
		var err error
		if tx, err = s.session(sess); err != nil {
			return nil, err
		}
	}

	records, err := s.load(ctx, collection, filter)
	if err != nil {
		return nil, err
	}

	var docs []store.Document
	if tx == nil {
		for _, rec := range records {
			if filter.Match(rec.doc) {
				docs = append(docs, rec.doc)
			}
		}
	} else {
		view, err := tx.view(collection, records)
		if err != nil {
			return nil, err
		}
		for _, e := range view {
			if filter.Match(e.doc) {
				docs = append(docs, e.doc.Clone())
			}
		}
	}
	sortByID(docs)
	return docs, nil
}

// load reads the committed live records a filter may match. Pure id filters
// use GetItem; everything else scans the table, since documents are stored as
// opaque bodies and can only be matched client-side.
func (s *Store) load(ctx context.Context, collection string, filter store.Filter) ([]record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table := s.Table(collection)
	if ids, ok := filter.IDs(); ok {
		return s.getItems(ctx, table, ids)
	}
	return s.scan(ctx, table)
}

func (s *Store) getItems(ctx context.Context, table string, ids []store.ID) ([]record, error) {
	now := s.now()
	var records []record
	for _, id := range ids {
		result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(table),
			Key:            keyOf(id),
			ConsistentRead: aws.Bool(s.config.ConsistentReads),
		})
		if err != nil {
			return nil, err
		}
		if result.Item == nil || IsExpired(result.Item, now) {
			continue
		}
		rec, err := decodeItem(result.Item)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// scan reads every live item of table, fanning out over ScanSegments.
func (s *Store) scan(ctx context.Context, table string) ([]record, error) {
	segments := s.config.ScanSegments

	// Fast path for a single segment (default)
	if segments == 1 {
		return s.scanSegment(ctx, table, 0, 1)
	}

	// Parallel scan fan-out
	var mu sync.Mutex
	var all []record
	var wg sync.WaitGroup
	errs := make(chan error, segments)

	for segment := 0; segment < segments; segment++ {
		wg.Add(1)
		go func(segment int) {
			defer wg.Done()

			records, err := s.scanSegment(ctx, table, segment, segments)
			if err != nil {
				errs <- fmt.Errorf("segment %s: %w", shard.Label(segment), err)
				return
			}

			mu.Lock()
			all = append(all, records...)
			mu.Unlock()
		}(segment)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return all, nil
}

func (s *Store) scanSegment(ctx context.Context, table string, segment, total int) ([]record, error) {
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(table),
		FilterExpression:          aws.String(liveFilterExpr),
		ExpressionAttributeNames:  liveFilterNames(),
		ExpressionAttributeValues: liveFilterValues(s.now()),
		ConsistentRead:            aws.Bool(s.config.ConsistentReads),
	}
	if total > 1 {
		input.Segment = aws.Int32(int32(segment))
		input.TotalSegments = aws.Int32(int32(total))
	}

	var records []record
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			rec, err := decodeItem(raw)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func (s *Store) session(sess store.Session) (*session, error) {
	tx, ok := sess.(*session)
	if !ok || tx.store != s {
		return nil, fmt.Errorf("dynamostore: session %q belongs to another store", sess.ID())
	}
	return tx, nil
}

func sortByID(docs []store.Document) {
	slices.SortFunc(docs, func(a, b store.Document) int {
		ia, _ := a.ID()
		ib, _ := b.ID()
		return strings.Compare(ia.Hex(), ib.Hex())
	})
}
