package store

import (
	"fmt"
	"maps"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the document key holding the primary key.
const IDField = "_id"

// ID is the store-native document identifier (a 12-byte BSON ObjectID).
type ID = primitive.ObjectID

// NilID is the zero identifier.
var NilID = primitive.NilObjectID

// NewID returns a fresh identifier.
func NewID() ID {
	return primitive.NewObjectID()
}

// ParseID parses the hex form of an identifier.
func ParseID(s string) (ID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return NilID, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

// Document is an opaque stored document. The primary key lives under IDField.
type Document map[string]any

// ID returns the document identifier, if present and well typed.
func (d Document) ID() (ID, bool) {
	id, ok := d[IDField].(ID)
	return id, ok
}

// Get resolves a dotted field path ("a.b.c") through nested documents.
func (d Document) Get(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a shallow copy of the document with nested documents copied.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		if m, ok := asMap(v); ok {
			out[k] = Document(m).Clone()
			continue
		}
		out[k] = v
	}
	return out
}

// Project returns a copy holding only the given fields (and IDField).
// An empty field list returns a full clone.
func (d Document) Project(fields []string) Document {
	if len(fields) == 0 {
		return d.Clone()
	}
	out := Document{}
	if v, ok := d[IDField]; ok {
		out[IDField] = v
	}
	for _, f := range fields {
		if v, ok := d[f]; ok {
			out[f] = v
		}
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

// Update is a partial update: fields to set and fields to remove.
type Update struct {
	Set   Document
	Unset []string
}

// SetFields returns an Update setting the given fields.
func SetFields(fields Document) Update {
	return Update{Set: fields}
}

// IsZero reports whether the update changes nothing.
func (u Update) IsZero() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0
}

// Clone returns a copy that does not share the Set map or Unset slice.
func (u Update) Clone() Update {
	return Update{Set: u.Set.Clone(), Unset: append([]string(nil), u.Unset...)}
}

// check rejects updates that both set and unset a field or touch the primary key.
func (u Update) check() error {
	if _, ok := u.Set[IDField]; ok {
		return fmt.Errorf("%w: %s is immutable", ErrInvalidUpdate, IDField)
	}
	for _, f := range u.Unset {
		if f == IDField {
			return fmt.Errorf("%w: %s is immutable", ErrInvalidUpdate, IDField)
		}
		if _, ok := u.Set[f]; ok {
			return fmt.Errorf("%w: field %q is both set and unset", ErrInvalidUpdate, f)
		}
	}
	return nil
}

// Apply returns a modified copy of doc and whether anything changed.
func (u Update) Apply(doc Document) (Document, bool) {
	out := doc.Clone()
	changed := false
	for k, v := range u.Set {
		if old, ok := out[k]; !ok || !valuesEqual(old, v) {
			changed = true
		}
		out[k] = v
	}
	for _, k := range u.Unset {
		if _, ok := out[k]; ok {
			changed = true
			delete(out, k)
		}
	}
	return out, changed
}

// InsertResult is the outcome of an insert.
type InsertResult struct {
	ID ID
}

// UpdateResult is the outcome of an update.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// DeleteResult is the outcome of a delete. Deleted counts only the
// documents removed by the call itself, not cascaded ones.
type DeleteResult struct {
	Deleted int64
}

// SortField orders find results by a field.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions tunes a find.
type FindOptions struct {
	// Projection restricts the returned fields. IDField is always included.
	Projection []string
	Sort       []SortField
	Skip       int64
	// Limit of 0 means no limit.
	Limit int64
}

// valuesEqual compares two document values, treating numeric kinds as equal
// when they hold the same number.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if rank(a) == 4 {
		return rank(b) == 4 && toTime(a).Equal(toTime(b))
	}
	if ma, ok := asMap(a); ok {
		mb, ok := asMap(b)
		return ok && maps.EqualFunc(ma, mb, valuesEqual)
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values of the same family. Values of different
// families order by family rank so sorting stays total.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case 1:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 3:
		ia, ib := a.(ID), b.(ID)
		return strings.Compare(string(ia[:]), string(ib[:]))
	case 4:
		return toTime(a).Compare(toTime(b))
	case 5:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		}
		if !ba {
			return -1
		}
		return 1
	}
	return 0
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := toFloat(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case ID:
		return 3
	case time.Time, primitive.DateTime:
		return 4
	case bool:
		return 5
	}
	return 6
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toTime(v any) time.Time {
	if dt, ok := v.(primitive.DateTime); ok {
		return dt.Time()
	}
	return v.(time.Time)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
