package mongostore

import (
	"slices"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jacentio/lattice/store"
)

// FilterDocument translates a filter to a MongoDB query. Conditions are
// joined with $and so several conditions on one field don't collide.
func FilterDocument(f store.Filter) bson.D {
	switch len(f) {
	case 0:
		return bson.D{}
	case 1:
		return condDocument(f[0])
	}
	and := make(bson.A, len(f))
	for i, c := range f {
		and[i] = condDocument(c)
	}
	return bson.D{{Key: "$and", Value: and}}
}

func condDocument(c store.Cond) bson.D {
	var expr any
	switch c.Op {
	case store.OpEq:
		expr = bson.D{{Key: "$eq", Value: c.Value}}
	case store.OpNe:
		expr = bson.D{{Key: "$ne", Value: c.Value}}
	case store.OpIn:
		vals, _ := c.Value.([]any)
		if vals == nil {
			vals = []any{}
		}
		expr = bson.D{{Key: "$in", Value: bson.A(vals)}}
	case store.OpExists:
		expr = bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: nil}}
	case store.OpMissing:
		// Equality with null matches absent and null fields alike.
		expr = nil
	}
	return bson.D{{Key: c.Field, Value: expr}}
}

// UpdateDocument translates an update to $set and $unset operators. Fields
// are emitted in sorted order.
func UpdateDocument(u store.Update) bson.D {
	var out bson.D
	if len(u.Set) > 0 {
		keys := make([]string, 0, len(u.Set))
		for k := range u.Set {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		set := make(bson.D, len(keys))
		for i, k := range keys {
			set[i] = bson.E{Key: k, Value: u.Set[k]}
		}
		out = append(out, bson.E{Key: "$set", Value: set})
	}
	if len(u.Unset) > 0 {
		unset := make(bson.D, len(u.Unset))
		for i, k := range u.Unset {
			unset[i] = bson.E{Key: k, Value: ""}
		}
		out = append(out, bson.E{Key: "$unset", Value: unset})
	}
	return out
}

// findOptions translates find options. Without an explicit sort results are
// ordered by id, matching the other adapters.
func findOptions(opts store.FindOptions) *options.FindOptions {
	fo := options.Find()

	sort := bson.D{}
	for _, s := range opts.Sort {
		dir := 1
		if s.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: s.Field, Value: dir})
	}
	if len(sort) == 0 {
		sort = bson.D{{Key: store.IDField, Value: 1}}
	}
	fo.SetSort(sort)

	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	if len(opts.Projection) > 0 {
		proj := bson.D{}
		for _, f := range opts.Projection {
			proj = append(proj, bson.E{Key: f, Value: 1})
		}
		fo.SetProjection(proj)
	}
	return fo
}
