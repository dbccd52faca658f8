package store

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"
)

// Entity describes one collection and its rules.
type Entity struct {
	// Name is the collection name. It also names the entity in errors and logs.
	Name string

	// Rules is the entity's resolved registry. Nil means no hooks.
	Rules *Registry

	// PrepareInsert derives the stored document from a creation payload. It
	// receives a copy with IDField and timestamps already set.
	PrepareInsert func(doc Document) (Document, error)

	// PrepareUpdate derives the stored change set from an update payload. It
	// receives a copy with the update timestamp already set.
	PrepareUpdate func(upd Update) (Update, error)
}

// Service is the mutation façade of one entity. It runs validators before
// inserts and updates and delete rules before deletes, and owns or borrows
// the session each operation runs in.
type Service struct {
	adapter  Adapter
	entity   Entity
	name     string
	registry *Registry
	config   Config
	logger   *slog.Logger
	now      func() time.Time
	catalog  *Catalog
}

// NewService creates the service of entity over adapter. A nil logger uses slog.Default().
func NewService(adapter Adapter, entity Entity, config Config, logger *slog.Logger) *Service {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		adapter:  adapter,
		entity:   entity,
		name:     entity.Name,
		registry: entity.Rules,
		config:   config,
		logger:   logger.With("component", "lattice"),
		now:      time.Now,
	}
}

// Name returns the entity (collection) name.
func (s *Service) Name() string { return s.name }

// Registry returns the entity's rule registry, or nil.
func (s *Service) Registry() *Registry { return s.registry }

// Adapter returns the underlying store adapter.
func (s *Service) Adapter() Adapter { return s.adapter }

// Logger returns the service logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// SetClock replaces the time source used for managed timestamps.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Catalog returns the catalog the service is registered in, or nil.
func (s *Service) Catalog() *Catalog { return s.catalog }

// Self names the entity a rule is registered on, for helpers taking an entity name.
const Self = ""

// Peer resolves another entity's service through the catalog. Rules use it
// to reach related collections without capturing them at declaration time.
// Self and the service's own name resolve to s.
func (s *Service) Peer(name string) (*Service, error) {
	if name == Self || name == s.name {
		return s, nil
	}
	if s.catalog == nil {
		return nil, fmt.Errorf("%w: %q (service %q has no catalog)", ErrUnknownEntity, name, s.name)
	}
	return s.catalog.Service(name)
}

// OpenSession starts a session the caller owns. Pass it to any number of
// service calls, then Commit or Abort it.
func (s *Service) OpenSession(ctx context.Context) (Session, error) {
	sess, err := s.adapter.OpenSession(ctx)
	return sess, wrapStore("open session", s.name, err)
}

// --- Writes ---

// Insert validates and stores a new document, returning its id.
func (s *Service) Insert(ctx context.Context, doc Document, sess Session) (InsertResult, error) {
	prepared, err := s.prepareInsert(doc)
	if err != nil {
		return InsertResult{}, err
	}

	var id ID
	err = s.write(ctx, sess, func(ctx context.Context, sess Session) error {
		m := &Mutation{Kind: KindInsert, Document: prepared, Session: sess, svc: s}
		if err := s.validate(ctx, m); err != nil {
			return err
		}
		var err error
		id, err = s.adapter.InsertOne(ctx, s.name, prepared, sess)
		return wrapStore("insert", s.name, err)
	})
	if err != nil {
		return InsertResult{}, err
	}

	s.logger.Debug("document inserted", "entity", s.name, "id", id.Hex(), "session", sessionID(sess))
	return InsertResult{ID: id}, nil
}

// Update validates and applies upd to the documents matching filter.
func (s *Service) Update(ctx context.Context, filter Filter, upd Update, sess Session) (UpdateResult, error) {
	prepared, err := s.prepareUpdate(upd)
	if err != nil {
		return UpdateResult{}, err
	}

	var res UpdateResult
	err = s.write(ctx, sess, func(ctx context.Context, sess Session) error {
		m := &Mutation{Kind: KindUpdate, Filter: filter, Update: prepared, Session: sess, svc: s}
		if err := s.validate(ctx, m); err != nil {
			return err
		}
		var err error
		res, err = s.adapter.UpdateMany(ctx, s.name, filter, prepared, sess)
		return wrapStore("update", s.name, err)
	})
	if err != nil {
		return UpdateResult{}, err
	}

	s.logger.Debug("documents updated",
		"entity", s.name,
		"matched", res.Matched,
		"modified", res.Modified,
		"session", sessionID(sess),
	)
	return res, nil
}

// UpdateByID updates the document with the given id.
func (s *Service) UpdateByID(ctx context.Context, id ID, upd Update, sess Session) (UpdateResult, error) {
	return s.Update(ctx, ByID(id), upd, sess)
}

// UpdateOne applies upd to the first document matching filter. No match is
// a zero result, not an error.
func (s *Service) UpdateOne(ctx context.Context, filter Filter, upd Update, sess Session) (UpdateResult, error) {
	var res UpdateResult
	err := s.write(ctx, sess, func(ctx context.Context, sess Session) error {
		ids, err := s.firstID(ctx, filter, sess)
		if err != nil || len(ids) == 0 {
			return err
		}
		res, err = s.Update(ctx, ByID(ids[0]), upd, sess)
		return err
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return res, nil
}

// write runs an insert or update in the caller's session, in an owned one
// when TransactionalWrites is set, or without a session.
func (s *Service) write(ctx context.Context, sess Session, fn func(ctx context.Context, sess Session) error) error {
	if sess == nil && !s.config.TransactionalWrites {
		return fn(ctx, nil)
	}
	return s.withSession(ctx, sess, fn)
}

// deleteState is a step of a delete call, logged on transition.
type deleteState int

const (
	stateResolvingIDs deleteState = iota + 1
	stateRunningDenyRules
	stateRunningPreRules
	stateDeleting
	stateCommitted
	stateAborted
)

func (st deleteState) String() string {
	switch st {
	case stateResolvingIDs:
		return "resolving-ids"
	case stateRunningDenyRules:
		return "running-deny-rules"
	case stateRunningPreRules:
		return "running-pre-rules"
	case stateDeleting:
		return "deleting"
	case stateCommitted:
		return "committed"
	case stateAborted:
		return "aborted"
	}
	return "idle"
}

// Delete removes the documents matching filter after running the entity's
// delete rules. Without a caller session the call owns a new one and the
// whole cascade commits or aborts together. The result counts only this
// entity's documents matched by filter, not cascaded ones.
func (s *Service) Delete(ctx context.Context, filter Filter, sess Session) (DeleteResult, error) {
	return s.delete(ctx, sess, func(ctx context.Context, sess Session) ([]ID, error) {
		return s.FindIDs(ctx, filter, sess)
	})
}

// DeleteByID deletes a single document.
func (s *Service) DeleteByID(ctx context.Context, id ID, sess Session) (DeleteResult, error) {
	return s.Delete(ctx, ByID(id), sess)
}

// DeleteOne deletes the first document matching filter, cascading like Delete.
func (s *Service) DeleteOne(ctx context.Context, filter Filter, sess Session) (DeleteResult, error) {
	return s.delete(ctx, sess, func(ctx context.Context, sess Session) ([]ID, error) {
		return s.firstID(ctx, filter, sess)
	})
}

// DeleteIDs deletes the given documents without resolving them first. Rules
// receive ids exactly as given, minus duplicates.
func (s *Service) DeleteIDs(ctx context.Context, ids []ID, sess Session) (DeleteResult, error) {
	ids = uniqueIDs(ids)
	return s.delete(ctx, sess, func(context.Context, Session) ([]ID, error) {
		return ids, nil
	})
}

func (s *Service) delete(ctx context.Context, sess Session, resolve func(ctx context.Context, sess Session) ([]ID, error)) (DeleteResult, error) {
	var res DeleteResult
	owner := sess == nil

	err := s.withSession(ctx, sess, func(ctx context.Context, sess Session) error {
		s.traceDelete(stateResolvingIDs, sess)
		ids, err := resolve(ctx, sess)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := s.beforeDelete(ctx, ids, sess); err != nil {
			return err
		}

		s.traceDelete(stateDeleting, sess)
		res, err = s.adapter.DeleteMany(ctx, s.name, ByIDs(ids), sess)
		return wrapStore("delete", s.name, err)
	})
	if err != nil {
		if owner {
			s.traceDelete(stateAborted, nil)
		}
		return DeleteResult{}, err
	}
	if owner {
		s.traceDelete(stateCommitted, nil)
	}

	s.logger.Info("documents deleted",
		"entity", s.name,
		"deleted", res.Deleted,
		"owner", owner,
	)
	return res, nil
}

func (s *Service) traceDelete(st deleteState, sess Session) {
	s.logger.Debug("delete state", "entity", s.name, "state", st.String(), "session", sessionID(sess))
}

// Sweep runs only the pre delete rules for documents that are already gone
// from the store, for example removed by TTL expiry. Deny rules are skipped
// because there is nothing left to protect.
func (s *Service) Sweep(ctx context.Context, ids []ID, sess Session) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	return s.withSession(ctx, sess, func(ctx context.Context, sess Session) error {
		return s.runPreRules(ctx, ids, sess)
	})
}

// --- Reads ---

// Find returns a lazy sequence of the documents matching filter. Each range
// over the sequence issues a fresh query.
func (s *Service) Find(ctx context.Context, filter Filter, opts FindOptions, sess Session) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for doc, err := range s.adapter.Find(ctx, s.name, filter, opts, sess) {
			if err != nil {
				yield(nil, wrapStore("find", s.name, err))
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// FindAll collects the documents matching filter.
func (s *Service) FindAll(ctx context.Context, filter Filter, opts FindOptions, sess Session) ([]Document, error) {
	var docs []Document
	for doc, err := range s.Find(ctx, filter, opts, sess) {
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// FindOne returns the first document matching filter, or ErrNotFound.
func (s *Service) FindOne(ctx context.Context, filter Filter, sess Session) (Document, error) {
	for doc, err := range s.Find(ctx, filter, FindOptions{Limit: 1}, sess) {
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
	return nil, ErrNotFound
}

// GetByID returns the document with the given id, or ErrNotFound.
func (s *Service) GetByID(ctx context.Context, id ID, sess Session) (Document, error) {
	return s.FindOne(ctx, ByID(id), sess)
}

// FindIDs returns the ids of the documents matching filter. No match is an
// empty result, not an error.
func (s *Service) FindIDs(ctx context.Context, filter Filter, sess Session) ([]ID, error) {
	var ids []ID
	for doc, err := range s.Find(ctx, filter, FindOptions{Projection: []string{IDField}}, sess) {
		if err != nil {
			return nil, err
		}
		if id, ok := doc.ID(); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// firstID resolves at most one matching id.
func (s *Service) firstID(ctx context.Context, filter Filter, sess Session) ([]ID, error) {
	for doc, err := range s.Find(ctx, filter, FindOptions{Projection: []string{IDField}, Limit: 1}, sess) {
		if err != nil {
			return nil, err
		}
		if id, ok := doc.ID(); ok {
			return []ID{id}, nil
		}
	}
	return nil, nil
}

// Count returns the number of documents matching filter.
func (s *Service) Count(ctx context.Context, filter Filter, sess Session) (int64, error) {
	n, err := s.adapter.Count(ctx, s.name, filter, sess)
	return n, wrapStore("count", s.name, err)
}

// Exists reports whether a document with the given id exists.
func (s *Service) Exists(ctx context.Context, id ID, sess Session) (bool, error) {
	n, err := s.Count(ctx, ByID(id), sess)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Preparation hooks ---

func (s *Service) prepareInsert(doc Document) (Document, error) {
	out := doc.Clone()
	if out == nil {
		out = Document{}
	}

	switch v := out[IDField].(type) {
	case nil:
		out[IDField] = NewID()
	case ID:
		if v.IsZero() {
			out[IDField] = NewID()
		}
	default:
		return nil, fmt.Errorf("%w: %s of type %T", ErrInvalidID, IDField, v)
	}

	if s.config.Timestamps {
		now := s.now().UTC()
		out[s.config.CreatedAtField] = now
		out[s.config.UpdatedAtField] = now
	}

	if s.entity.PrepareInsert != nil {
		prepared, err := s.entity.PrepareInsert(out)
		if err != nil {
			return nil, &ValidationError{Entity: s.name, Validator: "prepare_insert", Reason: err.Error(), Err: err}
		}
		out = prepared
	}
	return out, nil
}

func (s *Service) prepareUpdate(upd Update) (Update, error) {
	if err := upd.check(); err != nil {
		return Update{}, err
	}
	out := upd.Clone()
	if out.Set == nil {
		out.Set = Document{}
	}

	if s.config.Timestamps {
		out.Set[s.config.UpdatedAtField] = s.now().UTC()
	}

	if s.entity.PrepareUpdate != nil {
		prepared, err := s.entity.PrepareUpdate(out)
		if err != nil {
			return Update{}, &ValidationError{Entity: s.name, Validator: "prepare_update", Reason: err.Error(), Err: err}
		}
		if err := prepared.check(); err != nil {
			return Update{}, err
		}
		out = prepared
	}
	return out, nil
}
