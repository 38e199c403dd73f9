package ecs

// location is where an entity's data lives: an archetype and a row in its table.
type location struct {
	arch archetypeID
	row  int
}

// tombstone marks an index with no materialized entity (free, or reserved but not yet spawned).
const tombstone = -1

// sparseSet maps entity indices to locations. It's the entity location map: every structural
// change updates it in the same call that moves the row.
type sparseSet []location

// newSparseSet creates a sparse set with an initial capacity.
func newSparseSet() sparseSet {
	const initialSparseSetCapacity = 128
	return make(sparseSet, 0, initialSparseSetCapacity)
}

// get returns the location of the entity index and whether it exists.
func (s sparseSet) get(index uint32) (location, bool) {
	if int(index) >= len(s) || s[index].arch == tombstone {
		return location{}, false
	}
	return s[index], true
}

// set records the location of an entity index, growing the set when needed.
func (s *sparseSet) set(index uint32, loc location) {
	for int(index) >= len(*s) {
		*s = append(*s, location{arch: tombstone, row: tombstone})
	}
	(*s)[index] = loc
}

// setRow updates only the row, used when a swap-remove relocates an entity within its table.
func (s sparseSet) setRow(index uint32, row int) {
	s[index].row = row
}

// remove clears the location of an entity index. Returns false if it had none.
func (s sparseSet) remove(index uint32) bool {
	if int(index) >= len(s) || s[index].arch == tombstone {
		return false
	}
	s[index] = location{arch: tombstone, row: tombstone}
	return true
}
