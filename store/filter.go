package store

import (
	"fmt"
	"slices"
	"strings"
)

// Op is a filter condition operator.
type Op int

const (
	// OpEq matches documents whose field equals Value.
	OpEq Op = iota + 1
	// OpNe matches documents whose field is absent or differs from Value.
	OpNe
	// OpIn matches documents whose field equals any element of Value ([]any).
	OpIn
	// OpExists matches documents where the field is present and not null.
	OpExists
	// OpMissing matches documents where the field is absent or null.
	OpMissing
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpNe:
		return "ne"
	case OpIn:
		return "in"
	case OpExists:
		return "exists"
	case OpMissing:
		return "missing"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Cond is a single filter condition.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. An empty Filter matches every document.
type Filter []Cond

// Eq matches field == value.
func Eq(field string, value any) Filter {
	return Filter{{Field: field, Op: OpEq, Value: value}}
}

// Ne matches field != value.
func Ne(field string, value any) Filter {
	return Filter{{Field: field, Op: OpNe, Value: value}}
}

// In matches field ∈ values.
func In[T any](field string, values ...T) Filter {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return Filter{{Field: field, Op: OpIn, Value: vals}}
}

// Exists matches documents that carry a non-null field.
func Exists(field string) Filter {
	return Filter{{Field: field, Op: OpExists}}
}

// Missing matches documents where field is absent or null.
func Missing(field string) Filter {
	return Filter{{Field: field, Op: OpMissing}}
}

// ByID matches a single document.
func ByID(id ID) Filter {
	return Eq(IDField, id)
}

// ByIDs matches the given documents.
func ByIDs(ids []ID) Filter {
	return In(IDField, ids...)
}

// And concatenates filters into one conjunction.
func And(filters ...Filter) Filter {
	var out Filter
	for _, f := range filters {
		out = append(out, f...)
	}
	return out
}

// Match evaluates the filter against a document in memory.
func (f Filter) Match(doc Document) bool {
	for _, c := range f {
		if !c.match(doc) {
			return false
		}
	}
	return true
}

func (c Cond) match(doc Document) bool {
	v, ok := doc.Get(c.Field)
	present := ok && v != nil
	switch c.Op {
	case OpEq:
		return ok && valuesEqual(v, c.Value)
	case OpNe:
		return !ok || !valuesEqual(v, c.Value)
	case OpIn:
		if !ok {
			return false
		}
		vals, _ := c.Value.([]any)
		for _, candidate := range vals {
			if valuesEqual(v, candidate) {
				return true
			}
		}
		return false
	case OpExists:
		return present
	case OpMissing:
		return !present
	}
	return false
}

// IDs reports the exact identifier set addressed by the filter when it is a
// single _id equality or membership predicate.
func (f Filter) IDs() ([]ID, bool) {
	if len(f) != 1 || f[0].Field != IDField {
		return nil, false
	}
	switch f[0].Op {
	case OpEq:
		id, ok := f[0].Value.(ID)
		if !ok {
			return nil, false
		}
		return []ID{id}, true
	case OpIn:
		vals, _ := f[0].Value.([]any)
		ids := make([]ID, 0, len(vals))
		for _, v := range vals {
			id, ok := v.(ID)
			if !ok {
				return nil, false
			}
			ids = append(ids, id)
		}
		return ids, true
	}
	return nil, false
}

func (f Filter) String() string {
	parts := make([]string, len(f))
	for i, c := range f {
		switch c.Op {
		case OpExists, OpMissing:
			parts[i] = fmt.Sprintf("%s %s", c.Field, c.Op)
		default:
			parts[i] = fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ApplyFindOptions sorts, pages and projects an in-memory result set.
// Adapters without server-side support for FindOptions use it.
func ApplyFindOptions(docs []Document, opts FindOptions) []Document {
	if len(opts.Sort) > 0 {
		slices.SortStableFunc(docs, func(a, b Document) int {
			for _, s := range opts.Sort {
				av, _ := a.Get(s.Field)
				bv, _ := b.Get(s.Field)
				c := compareValues(av, bv)
				if s.Desc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(docs)) {
		docs = docs[:opts.Limit]
	}
	if len(opts.Projection) > 0 {
		for i, d := range docs {
			docs[i] = d.Project(opts.Projection)
		}
	}
	return docs
}

// uniqueIDs drops duplicate identifiers, keeping first occurrences.
func uniqueIDs(ids []ID) []ID {
	seen := make(map[ID]struct{}, len(ids))
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
