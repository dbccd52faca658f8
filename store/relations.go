package store

import (
	"context"
	"fmt"
	"slices"
)

// OnDelete selects what happens to referencing children when a parent is deleted.
type OnDelete int

const (
	// Cascade deletes referencing children in the parent's session.
	Cascade OnDelete = iota + 1
	// Protect denies the delete while referencing children exist.
	Protect
	// Nullify removes the reference from the children.
	Nullify
)

func (o OnDelete) String() string {
	switch o {
	case Cascade:
		return "cascade"
	case Protect:
		return "protect"
	case Nullify:
		return "nullify"
	}
	return "unknown"
}

// Relationship defines a reference from a child entity to a parent entity.
type Relationship struct {
	// Parent is the referenced entity (e.g. "organization").
	Parent string

	// Child is the referencing entity (e.g. "studio"). It may equal Parent;
	// Self on both sides declares a self-referencing entity.
	Child string

	// ParentKey is the child field holding the parent id (e.g. "organization_id").
	ParentKey string

	// OnDelete is applied to children when parents are deleted.
	OnDelete OnDelete
}

// Apply declares the relationship's rules: a delete rule on the parent
// according to OnDelete, a parent-exists validator on the child, and, for
// self-referencing entities, a self-reference validator.
func (rel Relationship) Apply(parent, child *Rules) {
	suffix := rel.ParentKey
	if rel.Child != Self {
		suffix = rel.Child + "." + rel.ParentKey
	}
	switch rel.OnDelete {
	case Cascade:
		parent.DeleteRule("cascade:"+suffix, Pre, CascadeChildren(rel.Child, rel.ParentKey))
	case Protect:
		parent.DeleteRule("protect:"+suffix, Deny, ProtectChildren(rel.Child, rel.ParentKey))
	case Nullify:
		parent.DeleteRule("nullify:"+suffix, Pre, NullifyChildren(rel.Child, rel.ParentKey))
	}

	child.Validator("parent_exists:"+rel.ParentKey, OnInsertUpdate, ParentExists(rel.Parent, rel.ParentKey))
	if rel.Parent == rel.Child {
		child.Validator("not_self_reference:"+rel.ParentKey, OnInsertUpdate, NotSelfReference(rel.ParentKey))
	}
}

// CascadeChildren returns a pre rule deleting every child document whose key
// references one of the deleted ids. The nested delete joins the session, so
// grandchildren follow through the child's own rules.
func CascadeChildren(child, key string) DeleteRuleFunc {
	return func(ctx context.Context, svc *Service, sess Session, ids []ID) error {
		children, err := svc.Peer(child)
		if err != nil {
			return err
		}
		_, err = children.Delete(ctx, In(key, ids...), sess)
		return err
	}
}

// ProtectChildren returns a deny rule failing with ErrHasChildren while any
// child document references one of the ids. For self-referencing entities,
// children that are part of the same delete don't count.
func ProtectChildren(child, key string) DeleteRuleFunc {
	return func(ctx context.Context, svc *Service, sess Session, ids []ID) error {
		children, err := svc.Peer(child)
		if err != nil {
			return err
		}
		refs, err := children.FindIDs(ctx, In(key, ids...), sess)
		if err != nil {
			return err
		}
		if children == svc {
			refs = slices.DeleteFunc(refs, func(id ID) bool { return slices.Contains(ids, id) })
		}
		if len(refs) > 0 {
			return fmt.Errorf("%w: %d %s document(s) reference it", ErrHasChildren, len(refs), child)
		}
		return nil
	}
}

// NullifyChildren returns a pre rule removing key from every child document
// that references one of the ids.
func NullifyChildren(child, key string) DeleteRuleFunc {
	return func(ctx context.Context, svc *Service, sess Session, ids []ID) error {
		children, err := svc.Peer(child)
		if err != nil {
			return err
		}
		_, err = children.Update(ctx, In(key, ids...), Update{Unset: []string{key}}, sess)
		return err
	}
}

// ParentExists returns a validator requiring that key, when set, references
// an existing parent document. Mutations that leave key unset pass.
func ParentExists(parent, key string) ValidatorFunc {
	return func(ctx context.Context, svc *Service, m *Mutation) error {
		v, ok := m.Value(key)
		if !ok || v == nil {
			return nil
		}
		id, ok := v.(ID)
		if !ok {
			return fmt.Errorf("%w: %s holds %T", ErrInvalidID, key, v)
		}
		parents, err := svc.Peer(parent)
		if err != nil {
			return err
		}
		exists, err := parents.Exists(ctx, id, m.Session)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s %s", ErrParentNotFound, parent, id.Hex())
		}
		return nil
	}
}

// NotSelfReference returns a validator rejecting mutations that would make
// a document reference itself through key. When the affected ids cannot be
// determined the check passes.
func NotSelfReference(key string) ValidatorFunc {
	return func(ctx context.Context, svc *Service, m *Mutation) error {
		v, ok := m.Value(key)
		if !ok || v == nil {
			return nil
		}
		ref, ok := v.(ID)
		if !ok {
			return nil
		}
		matched, err := m.MatchedIDs(ctx)
		if err != nil {
			return err
		}
		if slices.Contains(matched, ref) {
			return fmt.Errorf("%w: %s %s", ErrSelfReference, key, ref.Hex())
		}
		return nil
	}
}
