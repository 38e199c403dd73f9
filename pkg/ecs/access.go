package ecs

import (
	"github.com/kelindar/bitmap"
)

// queryAccess is what a single query touches. Bits are type IDs.
type queryAccess struct {
	reads    bitmap.Bitmap // Read, Changed and Added terms
	writes   bitmap.Bitmap // Write terms
	required bitmap.Bitmap // Every term except Without
	excluded bitmap.Bitmap // Without terms
}

// disjoint reports whether no entity can match both queries, which is the case when one requires
// a type the other excludes.
func (a *queryAccess) disjoint(b *queryAccess) bool {
	return intersects(a.required, b.excluded) || intersects(b.required, a.excluded)
}

// conflicts returns the types one query writes and the other reads or writes. Disjoint queries
// never conflict.
func (a *queryAccess) conflicts(b *queryAccess) bitmap.Bitmap {
	var out bitmap.Bitmap
	if a.disjoint(b) {
		return out
	}
	union(&out, intersection(a.writes, b.reads))
	union(&out, intersection(a.writes, b.writes))
	union(&out, intersection(b.writes, a.reads))
	return out
}

// systemAccess is the full access declaration of a system, derived from its state fields.
type systemAccess struct {
	queries   []queryAccess
	resReads  bitmap.Bitmap
	resWrites bitmap.Bitmap
	exclusive bool // Has the whole world, conflicts with everything
}

// accessConflict describes why two systems can't run at the same time.
type accessConflict struct {
	components bitmap.Bitmap
	resources  bitmap.Bitmap
	exclusive  bool
}

// empty reports whether there is no conflict.
func (c *accessConflict) empty() bool {
	return !c.exclusive && c.components.Count() == 0 && c.resources.Count() == 0
}

// conflictsWith compares two systems' accesses.
func (a *systemAccess) conflictsWith(b *systemAccess) accessConflict {
	var c accessConflict
	if a.exclusive || b.exclusive {
		c.exclusive = true
		return c
	}
	for i := range a.queries {
		for j := range b.queries {
			union(&c.components, a.queries[i].conflicts(&b.queries[j]))
		}
	}
	union(&c.resources, intersection(a.resWrites, b.resReads))
	union(&c.resources, intersection(a.resWrites, b.resWrites))
	union(&c.resources, intersection(b.resWrites, a.resReads))
	return c
}

// union adds the bits of src to dst. Bitmap.Or reads src[0] on accelerated hardware whenever dst
// is non-empty, so an empty src must never reach it.
func union(dst *bitmap.Bitmap, src bitmap.Bitmap) {
	if len(src) == 0 {
		return
	}
	dst.Or(src)
}

// intersects checks if any bits in a are also set in b.
func intersects(a, b bitmap.Bitmap) bool {
	return intersection(a, b).Count() != 0
}

// intersection returns a new bitmap with the bits set in both a and b.
func intersection(a, b bitmap.Bitmap) bitmap.Bitmap {
	clone := a.Clone(nil)
	clone.And(b)
	return clone
}

// typeIDs lists the bits of a bitmap as type IDs.
func typeIDs(bm bitmap.Bitmap) []TypeID {
	ids := make([]TypeID, 0, bm.Count())
	bm.Range(func(x uint32) {
		ids = append(ids, TypeID(x))
	})
	return ids
}
