package mongostore

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/jacentio/lattice/internal/bsondoc"
	"github.com/jacentio/lattice/store"
)

// Store is a store.Adapter over one MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	config Config
}

// New creates a new Store instance over an already connected client.
func New(client *mongo.Client, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		db:     client.Database(config.Database),
		config: config,
	}
}

// Connect dials uri, checks the primary is reachable and returns a Store.
func Connect(ctx context.Context, uri string, config Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping: %w", err)
	}
	return New(client, config), nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ store.Adapter = (*Store)(nil)

// OpenSession starts a server session with a snapshot, majority-committed
// transaction. It requires a replica set or sharded cluster.
func (s *Store) OpenSession(ctx context.Context) (store.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	timeout := s.config.TransactionTimeout
	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority()).
		SetMaxCommitTime(&timeout)
	if err := ms.StartTransaction(txOpts); err != nil {
		ms.EndSession(ctx)
		return nil, fmt.Errorf("start transaction: %w", err)
	}
	return &session{id: uuid.NewString(), store: s, ms: ms}, nil
}

// InsertOne stores doc under its IDField.
func (s *Store) InsertOne(ctx context.Context, collection string, doc store.Document, sess store.Session) (store.ID, error) {
	id, ok := doc.ID()
	if !ok {
		return store.NilID, fmt.Errorf("%w: document without %s", store.ErrInvalidID, store.IDField)
	}
	ctx, err := s.bind(ctx, sess)
	if err != nil {
		return store.NilID, err
	}
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return store.NilID, mapError(err)
	}
	return id, nil
}

// Find streams matching documents from a server cursor.
func (s *Store) Find(ctx context.Context, collection string, filter store.Filter, opts store.FindOptions, sess store.Session) iter.Seq2[store.Document, error] {
	return func(yield func(store.Document, error) bool) {
		sctx, err := s.bind(ctx, sess)
		if err != nil {
			yield(nil, err)
			return
		}
		cur, err := s.db.Collection(collection).Find(sctx, FilterDocument(filter), findOptions(opts))
		if err != nil {
			yield(nil, mapError(err))
			return
		}
		defer cur.Close(context.WithoutCancel(ctx))

		for cur.Next(sctx) {
			var m bson.M
			if err := cur.Decode(&m); err != nil {
				yield(nil, fmt.Errorf("decode %s: %w", collection, err))
				return
			}
			if !yield(bsondoc.Normalize(m), nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(nil, mapError(err))
		}
	}
}

// UpdateMany applies upd to every matching document.
func (s *Store) UpdateMany(ctx context.Context, collection string, filter store.Filter, upd store.Update, sess store.Session) (store.UpdateResult, error) {
	ctx, err := s.bind(ctx, sess)
	if err != nil {
		return store.UpdateResult{}, err
	}
	coll := s.db.Collection(collection)

	// MongoDB rejects empty update documents.
	if upd.IsZero() {
		n, err := coll.CountDocuments(ctx, FilterDocument(filter))
		if err != nil {
			return store.UpdateResult{}, mapError(err)
		}
		return store.UpdateResult{Matched: n}, nil
	}

	res, err := coll.UpdateMany(ctx, FilterDocument(filter), UpdateDocument(upd))
	if err != nil {
		return store.UpdateResult{}, mapError(err)
	}
	return store.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// DeleteMany removes every matching document.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter store.Filter, sess store.Session) (store.DeleteResult, error) {
	ctx, err := s.bind(ctx, sess)
	if err != nil {
		return store.DeleteResult{}, err
	}
	res, err := s.db.Collection(collection).DeleteMany(ctx, FilterDocument(filter))
	if err != nil {
		return store.DeleteResult{}, mapError(err)
	}
	return store.DeleteResult{Deleted: res.DeletedCount}, nil
}

// Count returns the number of matching documents.
func (s *Store) Count(ctx context.Context, collection string, filter store.Filter, sess store.Session) (int64, error) {
	ctx, err := s.bind(ctx, sess)
	if err != nil {
		return 0, err
	}
	n, err := s.db.Collection(collection).CountDocuments(ctx, FilterDocument(filter))
	return n, mapError(err)
}

// EnsureCollections creates missing collections and an ascending index on
// each reference key, so cascades and protect rules looking children up by
// parent don't scan. Collections must exist before transactions write to
// them on servers older than 4.4.
func (s *Store) EnsureCollections(ctx context.Context, indexes map[string][]string) error {
	existing, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for collection, keys := range indexes {
		if !have[collection] {
			if err := s.db.CreateCollection(ctx, collection); err != nil {
				return fmt.Errorf("create collection %s: %w", collection, err)
			}
		}
		if len(keys) == 0 {
			continue
		}
		models := make([]mongo.IndexModel, len(keys))
		for i, key := range keys {
			models[i] = mongo.IndexModel{Keys: bson.D{{Key: key, Value: 1}}}
		}
		if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", collection, err)
		}
	}
	return nil
}

// bind attaches sess to ctx. A nil session leaves ctx unchanged.
func (s *Store) bind(ctx context.Context, sess store.Session) (context.Context, error) {
	if sess == nil {
		return ctx, nil
	}
	tx, ok := sess.(*session)
	if !ok || tx.store != s {
		return nil, fmt.Errorf("mongostore: session %q belongs to another store", sess.ID())
	}
	return tx.bind(ctx)
}
