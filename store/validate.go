package store

import (
	"context"
	"errors"
	"slices"
)

// MutationKind is the kind of write a Mutation describes.
type MutationKind int

const (
	// KindInsert is an insert of a new document.
	KindInsert MutationKind = iota + 1
	// KindUpdate is a partial update of the documents matching a filter.
	KindUpdate
)

func (k MutationKind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	}
	return "unknown"
}

// Mutation is the context handed to validators for a single insert or update.
type Mutation struct {
	Kind MutationKind

	// Document is the prepared document of an insert.
	Document Document

	// Filter selects the documents an update affects. Nil for inserts.
	Filter Filter

	// Update is the prepared change set of an update.
	Update Update

	// Session is the active session, or nil.
	Session Session

	svc     *Service
	matched []ID
	loaded  bool
}

// Value returns the candidate value of field: from the document for
// inserts, from the update's Set for updates.
func (m *Mutation) Value(field string) (any, bool) {
	if m.Kind == KindInsert {
		return m.Document.Get(field)
	}
	v, ok := m.Update.Set[field]
	return v, ok
}

// Unsets reports whether the mutation removes field.
func (m *Mutation) Unsets(field string) bool {
	if m.Kind == KindInsert {
		return false
	}
	return slices.Contains(m.Update.Unset, field)
}

// MatchedIDs resolves the ids the mutation affects. For an insert this is
// the new document's id when it is already assigned; otherwise nil. For an
// update the filter is resolved through the service within the mutation's
// session, once.
func (m *Mutation) MatchedIDs(ctx context.Context) ([]ID, error) {
	if m.loaded {
		return m.matched, nil
	}
	switch m.Kind {
	case KindInsert:
		if id, ok := m.Document.ID(); ok {
			m.matched = []ID{id}
		}
	case KindUpdate:
		if m.svc == nil {
			return nil, nil
		}
		ids, err := m.svc.FindIDs(ctx, m.Filter, m.Session)
		if err != nil {
			return nil, err
		}
		m.matched = ids
	}
	m.loaded = true
	return m.matched, nil
}

// validate runs every validator applicable to the mutation in registry
// order, stopping at the first failure.
func (s *Service) validate(ctx context.Context, m *Mutation) error {
	for _, v := range s.registry.Validators(m.Kind) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := v.Handler(ctx, s, m); err != nil {
			s.logger.Debug("validator rejected mutation",
				"entity", s.name,
				"validator", v.Name,
				"kind", m.Kind.String(),
				"error", err,
			)
			var ve *ValidationError
			if errors.As(err, &ve) && ve.Entity == s.name && ve.Validator == v.Name {
				return ve
			}
			return &ValidationError{Entity: s.name, Validator: v.Name, Reason: err.Error(), Err: err}
		}
	}
	return nil
}
