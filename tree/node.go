package tree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jacentio/lattice/store"
)

// Node is the typed view of a node document.
type Node struct {
	ID        store.ID  `json:"id"`
	Name      string    `json:"name"`
	Parent    *store.ID `json:"parent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool { return n.Parent == nil }

// Decode reads a node from a stored document. The parent may be stored as an
// id or as its hex form.
func Decode(doc store.Document) (Node, error) {
	id, ok := doc.ID()
	if !ok {
		return Node{}, fmt.Errorf("%w: node without %s", store.ErrInvalidID, store.IDField)
	}
	n := Node{ID: id}
	n.Name, _ = doc[NameField].(string)

	switch p := doc[ParentKey].(type) {
	case nil:
	case store.ID:
		n.Parent = &p
	case string:
		parent, err := store.ParseID(p)
		if err != nil {
			return Node{}, err
		}
		n.Parent = &parent
	default:
		return Node{}, fmt.Errorf("%w: %s holds %T", store.ErrInvalidID, ParentKey, p)
	}

	n.CreatedAt, _ = doc["created_at"].(time.Time)
	n.UpdatedAt, _ = doc["updated_at"].(time.Time)
	return n, nil
}

// Create inserts a node under parent, or a root when parent is nil.
func Create(ctx context.Context, svc *store.Service, name string, parent *store.ID) (store.ID, error) {
	doc := store.Document{NameField: name}
	if parent != nil {
		doc[ParentKey] = *parent
	}
	res, err := svc.Insert(ctx, doc, nil)
	if err != nil {
		return store.NilID, err
	}
	return res.ID, nil
}

// Get returns one node.
func Get(ctx context.Context, svc *store.Service, id store.ID) (Node, error) {
	doc, err := svc.GetByID(ctx, id, nil)
	if err != nil {
		return Node{}, err
	}
	return Decode(doc)
}

// Move re-parents a node. A nil parent turns it into a root.
func Move(ctx context.Context, svc *store.Service, id store.ID, parent *store.ID) error {
	upd := store.Update{Unset: []string{ParentKey}}
	if parent != nil {
		upd = store.SetFields(store.Document{ParentKey: *parent})
	}
	res, err := svc.UpdateByID(ctx, id, upd, nil)
	if err != nil {
		return err
	}
	if res.Matched == 0 {
		return fmt.Errorf("%w: node %s", store.ErrNotFound, id.Hex())
	}
	return nil
}

// Children lists the direct children of id, or the roots when id is nil,
// ordered by name.
func Children(ctx context.Context, svc *store.Service, id *store.ID) ([]Node, error) {
	filter := store.Missing(ParentKey)
	if id != nil {
		filter = store.Eq(ParentKey, *id)
	}
	opts := store.FindOptions{Sort: []store.SortField{{Field: NameField}}}

	var out []Node
	for doc, err := range svc.Find(ctx, filter, opts, nil) {
		if err != nil {
			return nil, err
		}
		n, err := Decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// ErrCycle is returned by Ancestors when parent references loop.
var ErrCycle = errors.New("lattice: node hierarchy contains a cycle")

// Ancestors returns the chain from id's parent up to its root. A dangling
// parent reference ends the chain.
func Ancestors(ctx context.Context, svc *store.Service, id store.ID) ([]Node, error) {
	n, err := Get(ctx, svc, id)
	if err != nil {
		return nil, err
	}

	seen := map[store.ID]bool{id: true}
	var out []Node
	for n.Parent != nil {
		if seen[*n.Parent] {
			return out, fmt.Errorf("%w at %s", ErrCycle, n.Parent.Hex())
		}
		seen[*n.Parent] = true

		parent, err := Get(ctx, svc, *n.Parent)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, parent)
		n = parent
	}
	return out, nil
}
