// Package memstore provides an in-memory transactional store.Adapter.
//
// Writes issued without a session apply immediately. Writes issued inside a
// session are buffered per document and become visible to other callers
// only on Commit; reads inside the session see its own buffered writes.
// Commit fails with store.ErrConcurrentModification when a document the
// session wrote was changed by someone else in the meantime.
package memstore

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/lattice/store"
)

type record struct {
	doc     store.Document
	version uint64
}

// Store is an in-memory document store. The zero value is not usable; call New.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[store.ID]*record
	clock       uint64
}

// New creates an empty Store.
func New() *Store {
	return &Store{collections: make(map[string]map[store.ID]*record)}
}

var _ store.Adapter = (*Store)(nil)

// OpenSession starts a buffered session.
func (s *Store) OpenSession(ctx context.Context) (store.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{
		id:      uuid.NewString(),
		store:   s,
		pending: make(map[string]map[store.ID]*pendingWrite),
	}, nil
}

// InsertOne stores doc under its IDField.
func (s *Store) InsertOne(ctx context.Context, collection string, doc store.Document, sess store.Session) (store.ID, error) {
	if err := ctx.Err(); err != nil {
		return store.NilID, err
	}
	id, ok := doc.ID()
	if !ok {
		return store.NilID, fmt.Errorf("%w: document without %s", store.ErrInvalidID, store.IDField)
	}

	if sess != nil {
		tx, err := s.session(sess)
		if err != nil {
			return store.NilID, err
		}
		return id, tx.insert(collection, id, doc)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collection(collection)
	if _, exists := coll[id]; exists {
		return store.NilID, fmt.Errorf("%w: %s %s", store.ErrAlreadyExists, collection, id.Hex())
	}
	s.clock++
	coll[id] = &record{doc: doc.Clone(), version: s.clock}
	return id, nil
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
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// UpdateMany applies upd to every matching document.
func (s *Store) UpdateMany(ctx context.Context, collection string, filter store.Filter, upd store.Update, sess store.Session) (store.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return store.UpdateResult{}, err
	}

	if sess != nil {
		tx, err := s.session(sess)
		if err != nil {
			return store.UpdateResult{}, err
		}
		return tx.update(collection, filter, upd)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var res store.UpdateResult
	for _, rec := range s.collection(collection) {
		if !filter.Match(rec.doc) {
			continue
		}
		res.Matched++
		next, changed := upd.Apply(rec.doc)
		if !changed {
			continue
		}
		res.Modified++
		s.clock++
		rec.doc = next
		rec.version = s.clock
	}
	return res, nil
}

// DeleteMany removes every matching document.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter store.Filter, sess store.Session) (store.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return store.DeleteResult{}, err
	}

	if sess != nil {
		tx, err := s.session(sess)
		if err != nil {
			return store.DeleteResult{}, err
		}
		return tx.delete(collection, filter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var res store.DeleteResult
	coll := s.collection(collection)
	for id, rec := range coll {
		if filter.Match(rec.doc) {
			delete(coll, id)
			res.Deleted++
		}
	}
	return res, nil
}

// Count returns the number of matching documents.
func (s *Store) Count(ctx context.Context, collection string, filter store.Filter, sess store.Session) (int64, error) {
	docs, err := s.match(ctx, collection, filter, sess)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// Len returns the number of committed documents in collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// Snapshot returns copies of every committed document in collection, ordered by id.
func (s *Store) Snapshot(collection string) []store.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]store.Document, 0, len(s.collections[collection]))
	for _, rec := range s.collections[collection] {
		docs = append(docs, rec.doc.Clone())
	}
	sortByID(docs)
	return docs
}

// match returns copies of the documents matching filter, as seen by sess.
func (s *Store) match(ctx context.Context, collection string, filter store.Filter, sess store.Session) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tx *session
	if sess != nil {
		var err error
		if tx, err = s.session(sess); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []store.Document
	if tx == nil {
		for _, rec := range s.collections[collection] {
			if filter.Match(rec.doc) {
				docs = append(docs, rec.doc.Clone())
			}
		}
	} else {
		tx.mu.Lock()
		if tx.closed {
			tx.mu.Unlock()
			return nil, store.ErrSessionClosed
		}
		for _, doc := range tx.view(collection) {
			if filter.Match(doc) {
				docs = append(docs, doc.Clone())
			}
		}
		tx.mu.Unlock()
	}
	sortByID(docs)
	return docs, nil
}

// collection returns the live collection map, creating it. Callers hold s.mu.
func (s *Store) collection(name string) map[store.ID]*record {
	coll, ok := s.collections[name]
	if !ok {
		coll = make(map[store.ID]*record)
		s.collections[name] = coll
	}
	return coll
}

func (s *Store) session(sess store.Session) (*session, error) {
	tx, ok := sess.(*session)
	if !ok || tx.store != s {
		return nil, fmt.Errorf("memstore: session %q belongs to another store", sess.ID())
	}
	return tx, nil
}

func sortByID(docs []store.Document) {
	slices.SortFunc(docs, func(a, b store.Document) int {
		ia, _ := a.ID()
		ib, _ := b.ID()
		return strings.Compare(string(ia[:]), string(ib[:]))
	})
}
