// Package tree is the hierarchical node entity: documents that reference a
// parent node of the same collection through the "parent" field.
//
// Deleting a node deletes its whole subtree in one session. Parents must
// exist and a node can't be its own parent. The protected variant also
// refuses to delete root nodes.
package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jacentio/lattice/store"
)

// Field names.
const (
	ParentKey = "parent"
	NameField = "name"
)

// DefaultCollection is the collection nodes live in unless configured otherwise.
const DefaultCollection = "nodes"

var (
	// ErrRootProtected is returned by the protected variant when a delete targets a root node.
	ErrRootProtected = errors.New("lattice: root nodes cannot be deleted")

	// ErrNameRequired is returned when a node is created or renamed without a name.
	ErrNameRequired = errors.New("lattice: node name is required")
)

// Rules returns the base node rules: children cascade with their parent,
// parents must exist, a node can't reference itself and nodes are named.
func Rules() *store.Rules {
	r := store.NewRules("node")
	store.Relationship{
		Parent:    store.Self,
		Child:     store.Self,
		ParentKey: ParentKey,
		OnDelete:  store.Cascade,
	}.Apply(r, r)
	r.Validator("name_required", store.OnInsertUpdate, requireName)
	return r
}

// ProtectedRules extends Rules with a deny rule refusing to delete roots.
// The cascade still removes every descendant of a deleted inner node.
func ProtectedRules() *store.Rules {
	return store.NewRules("protected_node").
		Extends(Rules()).
		DeleteRule("protect_root", store.Deny, ProtectRoot)
}

// ProtectRoot is a deny rule failing when any of ids is a root node.
func ProtectRoot(ctx context.Context, svc *store.Service, sess store.Session, ids []store.ID) error {
	roots, err := svc.FindIDs(ctx, store.And(store.ByIDs(ids), store.Missing(ParentKey)), sess)
	if err != nil {
		return err
	}
	if len(roots) > 0 {
		return fmt.Errorf("%w: %s", ErrRootProtected, roots[0].Hex())
	}
	return nil
}

func requireName(_ context.Context, _ *store.Service, m *store.Mutation) error {
	if m.Unsets(NameField) {
		return ErrNameRequired
	}
	v, ok := m.Value(NameField)
	if !ok {
		if m.Kind == store.KindInsert {
			return ErrNameRequired
		}
		return nil
	}
	name, _ := v.(string)
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	return nil
}

// Options configures NewService.
type Options struct {
	// Collection holds the nodes.
	// Default: "nodes"
	Collection string

	// ProtectRoots selects ProtectedRules over Rules.
	ProtectRoots bool

	// Config is the service configuration.
	// Default: store.DefaultConfig()
	Config *store.Config

	// Logger is handed to the service.
	Logger *slog.Logger
}

// NewService builds the node rules and returns the node service over adapter.
func NewService(adapter store.Adapter, opts Options) (*store.Service, error) {
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	cfg := store.DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}

	rules := Rules()
	if opts.ProtectRoots {
		rules = ProtectedRules()
	}
	reg, err := rules.Build()
	if err != nil {
		return nil, err
	}

	return store.NewService(adapter, store.Entity{
		Name:          opts.Collection,
		Rules:         reg,
		PrepareInsert: trimName,
	}, cfg, opts.Logger), nil
}

func trimName(doc store.Document) (store.Document, error) {
	if name, ok := doc[NameField].(string); ok {
		doc[NameField] = strings.TrimSpace(name)
	}
	return doc, nil
}
