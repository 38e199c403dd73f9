package ecs

import (
	"encoding/binary"
	"slices"

	"github.com/argus-labs/ecs-core/pkg/assert"
	"github.com/cespare/xxhash/v2"
	"github.com/kelindar/bitmap"
)

// archetypeID is the unique identifier for an archetype. It is the archetype's index in the
// world's archetype list, so IDs also give the archetypes' creation order.
type archetypeID = int

// archetype is the table of all entities that have exactly the same set of component types.
// NOTE: types is kept sorted and is the canonical form of the component set; the bitmap is the
// same set in a shape that's cheap to intersect during query matching. Columns are parallel to
// types and stored in a slice instead of a map because it's faster for small # of components.
type archetype struct {
	id         archetypeID    // Corresponds to the index in the archetypes array
	types      []TypeID       // Sorted component type IDs
	components bitmap.Bitmap  // Bitmap of components contained in this archetype
	entities   []Entity       // Row -> entity
	columns    []*column      // Parallel to types
	addEdges   map[TypeID]int // Cached destination when inserting one component type
	rmEdges    map[TypeID]int // Cached destination when removing one component type
}

// newArchetype creates an archetype for the given sorted component types.
func newArchetype(aid archetypeID, infos []*typeInfo) *archetype {
	arch := &archetype{
		id:       aid,
		types:    make([]TypeID, len(infos)),
		entities: make([]Entity, 0),
		columns:  make([]*column, len(infos)),
		addEdges: make(map[TypeID]int),
		rmEdges:  make(map[TypeID]int),
	}
	for i, info := range infos {
		arch.types[i] = info.ID
		arch.columns[i] = newColumn(info)
		arch.components.Set(uint32(info.ID))
	}
	assert.That(slices.IsSorted(arch.types), "archetype types must be sorted")
	assert.That(arch.components.Count() == len(arch.columns), "mismatched number of columns and components")
	return arch
}

// archetypeKey hashes a sorted type sequence. Two component sets hash the same regardless of the
// order their types were added in, because the sequence is canonicalized before hashing.
func archetypeKey(types []TypeID) uint64 {
	buf := make([]byte, 0, 4*len(types))
	for _, id := range types {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
	}
	return xxhash.Sum64(buf)
}

// len returns the number of rows.
func (a *archetype) len() int {
	return len(a.entities)
}

// has returns true if the archetype stores the component type.
func (a *archetype) has(id TypeID) bool {
	return a.components.Contains(uint32(id))
}

// column returns the column storing the component type.
func (a *archetype) column(id TypeID) (*column, bool) {
	i, found := slices.BinarySearch(a.types, id)
	if !found {
		return nil, false
	}
	return a.columns[i], true
}

// contains returns true if the archetype contains all of the components in the given components.
func (a *archetype) contains(components bitmap.Bitmap) bool {
	intersect := components.Clone(nil)
	intersect.And(a.components)
	return intersect.Count() == components.Count()
}

// excludes returns true if the archetype contains none of the given components.
func (a *archetype) excludes(components bitmap.Bitmap) bool {
	intersect := components.Clone(nil)
	intersect.And(a.components)
	return intersect.Count() == 0
}

// -------------------------------------------------------------------------------------------------
// Row operations
// -------------------------------------------------------------------------------------------------

// pushEntity appends the entity to the entity column and returns its row. The caller must push
// exactly one value to every column before the next structural operation.
func (a *archetype) pushEntity(e Entity) int {
	a.entities = append(a.entities, e)
	return len(a.entities) - 1
}

// removeRow removes a row by swapping the last row into it. It returns the entity that now
// occupies the row, if one was moved, so the caller can fix up its location. Values are not
// dropped here; callers drop what ceases to exist before removing.
func (a *archetype) removeRow(row int) (Entity, bool) {
	assert.That(row < len(a.entities), "row %d out of range in archetype %d", row, a.id)

	last := len(a.entities) - 1
	a.entities[row] = a.entities[last]
	a.entities = a.entities[:last]

	for _, col := range a.columns {
		col.remove(row)
		assert.That(col.len() == len(a.entities), "column length doesn't match entities")
	}

	// If the entity is the last item in the slice, nothing is swapped so we can just return.
	if row == last {
		return Entity{}, false
	}
	return a.entities[row], true
}

// moveRow copies the row's values into a new row of dst for every type both archetypes share,
// keeping their ticks. dst columns with no counterpart here are left for the caller to fill.
// Returns the new row. The source row is not removed.
func (a *archetype) moveRow(dst *archetype, row int, e Entity) int {
	newRow := dst.pushEntity(e)
	for i, id := range dst.types {
		if src, ok := a.column(id); ok {
			dst.columns[i].pushFrom(src, row)
		}
	}
	return newRow
}

// dropRow runs the drop routine of every value in the row.
func (a *archetype) dropRow(row int) {
	for _, col := range a.columns {
		col.drop(row)
	}
}
