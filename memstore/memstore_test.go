package memstore_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/memstore"
	"github.com/jacentio/lattice/store"
)

const coll = "items"

func seed(t *testing.T, s *memstore.Store, names ...string) []store.ID {
	t.Helper()
	ids := make([]store.ID, len(names))
	for i, name := range names {
		id := store.NewID()
		_, err := s.InsertOne(context.Background(), coll, store.Document{store.IDField: id, "name": name}, nil)
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func collect(t *testing.T, s *memstore.Store, filter store.Filter, opts store.FindOptions, sess store.Session) []store.Document {
	t.Helper()
	var docs []store.Document
	for doc, err := range s.Find(context.Background(), coll, filter, opts, sess) {
		require.NoError(t, err)
		docs = append(docs, doc)
	}
	return docs
}

func TestStore_InsertOne(t *testing.T) {
	s := memstore.New()
	ids := seed(t, s, "a")

	_, err := s.InsertOne(context.Background(), coll, store.Document{store.IDField: ids[0]}, nil)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	_, err = s.InsertOne(context.Background(), coll, store.Document{"name": "no id"}, nil)
	assert.ErrorIs(t, err, store.ErrInvalidID)

	assert.Equal(t, 1, s.Len(coll))
}

func TestStore_InsertOne_CopiesDocument(t *testing.T) {
	s := memstore.New()
	doc := store.Document{store.IDField: store.NewID(), "name": "a"}
	_, err := s.InsertOne(context.Background(), coll, doc, nil)
	require.NoError(t, err)

	doc["name"] = "mutated"
	assert.Equal(t, "a", s.Snapshot(coll)[0]["name"])

	found := collect(t, s, store.Filter{}, store.FindOptions{}, nil)
	found[0]["name"] = "mutated too"
	assert.Equal(t, "a", s.Snapshot(coll)[0]["name"])
}

func TestStore_Find(t *testing.T) {
	s := memstore.New()
	seed(t, s, "c", "a", "b")

	docs := collect(t, s, store.Ne("name", "b"), store.FindOptions{Sort: []store.SortField{{Field: "name"}}}, nil)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0]["name"])
	assert.Equal(t, "c", docs[1]["name"])

	docs = collect(t, s, store.Filter{}, store.FindOptions{Projection: []string{store.IDField}}, nil)
	require.Len(t, docs, 3)
	assert.Len(t, docs[0], 1)
}

func TestStore_Find_CancelledContext(t *testing.T) {
	s := memstore.New()
	seed(t, s, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range s.Find(ctx, coll, store.Filter{}, store.FindOptions{}, nil) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestStore_UpdateMany(t *testing.T) {
	s := memstore.New()
	seed(t, s, "a", "b", "c")

	res, err := s.UpdateMany(context.Background(), coll, store.In("name", "a", "b"),
		store.SetFields(store.Document{"tag": "x"}), nil)
	require.NoError(t, err)
	assert.Equal(t, store.UpdateResult{Matched: 2, Modified: 2}, res)

	// Setting the same values again matches but doesn't modify.
	res, err = s.UpdateMany(context.Background(), coll, store.Eq("tag", "x"),
		store.SetFields(store.Document{"tag": "x"}), nil)
	require.NoError(t, err)
	assert.Equal(t, store.UpdateResult{Matched: 2, Modified: 0}, res)
}

func TestStore_DeleteMany(t *testing.T) {
	s := memstore.New()
	seed(t, s, "a", "b", "c")

	res, err := s.DeleteMany(context.Background(), coll, store.In("name", "a", "c"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)

	n, err := s.Count(context.Background(), coll, store.Filter{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// --- Sessions ---

func TestSession_Isolation(t *testing.T) {
	s := memstore.New()
	ids := seed(t, s, "a", "b")
	ctx := context.Background()

	sess, err := s.OpenSession(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())

	_, err = s.DeleteMany(ctx, coll, store.ByID(ids[0]), sess)
	require.NoError(t, err)
	_, err = s.UpdateMany(ctx, coll, store.ByID(ids[1]), store.SetFields(store.Document{"name": "B"}), sess)
	require.NoError(t, err)
	newID := store.NewID()
	_, err = s.InsertOne(ctx, coll, store.Document{store.IDField: newID, "name": "n"}, sess)
	require.NoError(t, err)

	// The session reads its own writes.
	inside := collect(t, s, store.Filter{}, store.FindOptions{Sort: []store.SortField{{Field: "name"}}}, sess)
	require.Len(t, inside, 2)
	assert.Equal(t, "B", inside[0]["name"])
	assert.Equal(t, "n", inside[1]["name"])

	// Nobody else does until commit.
	outside := collect(t, s, store.Filter{}, store.FindOptions{Sort: []store.SortField{{Field: "name"}}}, nil)
	require.Len(t, outside, 2)
	assert.Equal(t, "a", outside[0]["name"])
	assert.Equal(t, "b", outside[1]["name"])

	require.NoError(t, sess.Commit(ctx))

	after := collect(t, s, store.Filter{}, store.FindOptions{Sort: []store.SortField{{Field: "name"}}}, nil)
	require.Len(t, after, 2)
	assert.Equal(t, "B", after[0]["name"])
	assert.Equal(t, newID, after[1][store.IDField])
}

func TestSession_Abort(t *testing.T) {
	s := memstore.New()
	seed(t, s, "a")
	ctx := context.Background()
	before := s.Snapshot(coll)

	sess, err := s.OpenSession(ctx)
	require.NoError(t, err)
	_, err = s.DeleteMany(ctx, coll, store.Filter{}, sess)
	require.NoError(t, err)

	require.NoError(t, sess.Abort(ctx))
	assert.Equal(t, before, s.Snapshot(coll))

	// Aborting again is a no-op; everything else is refused.
	require.NoError(t, sess.Abort(ctx))
	assert.ErrorIs(t, sess.Commit(ctx), store.ErrSessionClosed)
	_, err = s.Count(ctx, coll, store.Filter{}, sess)
	assert.ErrorIs(t, err, store.ErrSessionClosed)
	_, err = s.DeleteMany(ctx, coll, store.Filter{}, sess)
	assert.ErrorIs(t, err, store.ErrSessionClosed)
}

func TestSession_InsertConflictsWithinSession(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	sess, err := s.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Abort(ctx)

	id := store.NewID()
	_, err = s.InsertOne(ctx, coll, store.Document{store.IDField: id}, sess)
	require.NoError(t, err)
	_, err = s.InsertOne(ctx, coll, store.Document{store.IDField: id}, sess)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestSession_ConcurrentModification(t *testing.T) {
	s := memstore.New()
	ids := seed(t, s, "a")
	ctx := context.Background()

	first, err := s.OpenSession(ctx)
	require.NoError(t, err)
	second, err := s.OpenSession(ctx)
	require.NoError(t, err)

	_, err = s.UpdateMany(ctx, coll, store.ByID(ids[0]), store.SetFields(store.Document{"name": "first"}), first)
	require.NoError(t, err)
	_, err = s.DeleteMany(ctx, coll, store.ByID(ids[0]), second)
	require.NoError(t, err)

	require.NoError(t, first.Commit(ctx))
	assert.ErrorIs(t, second.Commit(ctx), store.ErrConcurrentModification)

	snap := s.Snapshot(coll)
	require.Len(t, snap, 1)
	assert.Equal(t, "first", snap[0]["name"])
}

func TestSession_ForeignSession(t *testing.T) {
	a, b := memstore.New(), memstore.New()
	sess, err := a.OpenSession(context.Background())
	require.NoError(t, err)

	_, err = b.Count(context.Background(), coll, store.Filter{}, sess)
	assert.Error(t, err)
}

func TestStore_ConcurrentInserts(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := s.OpenSession(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := s.InsertOne(ctx, coll, store.Document{store.IDField: store.NewID()}, sess); err != nil {
				t.Error(err)
			}
			if err := sess.Commit(ctx); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, s.Len(coll))
}
