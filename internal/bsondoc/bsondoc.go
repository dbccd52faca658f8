// Package bsondoc converts decoded BSON values to the types store documents use.
package bsondoc

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jacentio/lattice/store"
)

// Normalize converts a decoded BSON document. Nested documents become
// store.Document, arrays become []any and BSON datetimes become UTC time.Time.
func Normalize(m map[string]any) store.Document {
	out := make(store.Document, len(m))
	for k, v := range m {
		out[k] = Value(v)
	}
	return out
}

// Value normalizes a single decoded value.
func Value(v any) any {
	switch x := v.(type) {
	case bson.M:
		return Normalize(x)
	case map[string]any:
		return Normalize(x)
	case bson.D:
		out := make(store.Document, len(x))
		for _, e := range x {
			out[e.Key] = Value(e.Value)
		}
		return out
	case bson.A:
		return list(x)
	case []any:
		return list(x)
	case primitive.DateTime:
		return x.Time().UTC()
	}
	return v
}

func list(in []any) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = Value(v)
	}
	return out
}
