package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/jacentio/lattice/store"
)

// pendingWrite is the buffered final state of one document in a session.
type pendingWrite struct {
	// doc is nil when the session deleted the document.
	doc store.Document
	// base is the committed version the write was made against, 0 if the
	// document didn't exist.
	base uint64
}

type session struct {
	id    string
	store *Store

	// Lock order: store.mu before mu.
	mu      sync.Mutex
	closed  bool
	pending map[string]map[store.ID]*pendingWrite
}

func (tx *session) ID() string { return tx.id }

// Commit publishes every buffered write, or none of them.
func (tx *session) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return store.ErrSessionClosed
	}

	// 1. Verify nothing this session wrote changed underneath it.
	for collection, writes := range tx.pending {
		live := s.collections[collection]
		for id, w := range writes {
			var current uint64
			if rec, ok := live[id]; ok {
				current = rec.version
			}
			if current != w.base {
				return fmt.Errorf("%w: %s %s", store.ErrConcurrentModification, collection, id.Hex())
			}
		}
	}

	// 2. Apply all writes under one version.
	s.clock++
	for collection, writes := range tx.pending {
		live := s.collection(collection)
		for id, w := range writes {
			if w.doc == nil {
				delete(live, id)
				continue
			}
			live[id] = &record{doc: w.doc, version: s.clock}
		}
	}

	tx.closed = true
	tx.pending = nil
	return nil
}

// Abort drops every buffered write. Aborting a closed session is a no-op.
func (tx *session) Abort(context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.closed = true
	tx.pending = nil
	return nil
}

func (tx *session) insert(collection string, id store.ID, doc store.Document) error {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return store.ErrSessionClosed
	}
	if _, exists := tx.lookup(collection, id); exists {
		return fmt.Errorf("%w: %s %s", store.ErrAlreadyExists, collection, id.Hex())
	}
	tx.write(collection, id, doc.Clone())
	return nil
}

func (tx *session) update(collection string, filter store.Filter, upd store.Update) (store.UpdateResult, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return store.UpdateResult{}, store.ErrSessionClosed
	}
	var res store.UpdateResult
	for id, doc := range tx.view(collection) {
		if !filter.Match(doc) {
			continue
		}
		res.Matched++
		next, changed := upd.Apply(doc)
		if !changed {
			continue
		}
		res.Modified++
		tx.write(collection, id, next)
	}
	return res, nil
}

func (tx *session) delete(collection string, filter store.Filter) (store.DeleteResult, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return store.DeleteResult{}, store.ErrSessionClosed
	}
	var res store.DeleteResult
	for id, doc := range tx.view(collection) {
		if filter.Match(doc) {
			tx.write(collection, id, nil)
			res.Deleted++
		}
	}
	return res, nil
}

// view merges committed documents with the session's writes. Callers hold
// store.mu (read) and tx.mu. Returned documents must not be mutated.
func (tx *session) view(collection string) map[store.ID]store.Document {
	out := make(map[store.ID]store.Document)
	for id, rec := range tx.store.collections[collection] {
		out[id] = rec.doc
	}
	for id, w := range tx.pending[collection] {
		if w.doc == nil {
			delete(out, id)
			continue
		}
		out[id] = w.doc
	}
	return out
}

func (tx *session) lookup(collection string, id store.ID) (store.Document, bool) {
	if w, ok := tx.pending[collection][id]; ok {
		return w.doc, w.doc != nil
	}
	rec, ok := tx.store.collections[collection][id]
	if !ok {
		return nil, false
	}
	return rec.doc, true
}

// write buffers the final state of a document, remembering the committed
// version the first write saw.
func (tx *session) write(collection string, id store.ID, doc store.Document) {
	writes, ok := tx.pending[collection]
	if !ok {
		writes = make(map[store.ID]*pendingWrite)
		tx.pending[collection] = writes
	}
	if w, ok := writes[id]; ok {
		w.doc = doc
		return
	}
	var base uint64
	if rec, ok := tx.store.collections[collection][id]; ok {
		base = rec.version
	}
	writes[id] = &pendingWrite{doc: doc, base: base}
}
