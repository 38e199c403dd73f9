package ecs

import (
	"fmt"
	"math"
	"sync"

	"github.com/argus-labs/ecs-core/pkg/assert"
	"github.com/rotisserie/eris"
)

// Entity is a handle to an entity. The index names a slot and the generation tells apart the
// successive entities that reuse that slot, so a handle kept past a despawn never resolves to the
// slot's next occupant. The zero Entity is never live because generations start at 1.
type Entity struct {
	index      uint32
	generation uint32
}

// MaxEntityIndex is the largest slot index the registry hands out.
const MaxEntityIndex = math.MaxUint32 - 1

// Index returns the entity's slot index.
func (e Entity) Index() uint32 { return e.index }

// Generation returns the entity's generation.
func (e Entity) Generation() uint32 { return e.generation }

// Bits packs the entity into a single integer (generation in the high half).
func (e Entity) Bits() uint64 {
	return uint64(e.generation)<<32 | uint64(e.index)
}

// EntityFromBits is the inverse of Entity.Bits.
func EntityFromBits(bits uint64) Entity {
	return Entity{index: uint32(bits), generation: uint32(bits >> 32)} //nolint:gosec // intended
}

func (e Entity) String() string {
	return fmt.Sprintf("%dv%d", e.index, e.generation)
}

// entityManager is the identity registry. It allocates and recycles indices, tracks their
// generations, and owns the entity location map. Reservation is safe to call from concurrently
// running systems (command buffers reserve handles for deferred spawns), so everything here is
// guarded by mu.
type entityManager struct {
	mu          sync.RWMutex
	generations []uint32  // Index -> current generation
	locations   sparseSet // Index -> location, tombstone while free or reserved
	free        []uint32  // FIFO queue of recyclable indices
	alive       int       // Number of materialized entities
}

// newEntityManager creates a new entity manager.
func newEntityManager() entityManager {
	return entityManager{
		generations: make([]uint32, 0),
		locations:   newSparseSet(),
		free:        make([]uint32, 0),
	}
}

// reserve hands out a new handle without giving it a location. The handle becomes alive once
// place is called for it, and can be given back with release before that.
func (em *entityManager) reserve() (Entity, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if len(em.free) > 0 {
		index := em.free[0]
		em.free = em.free[1:]
		return Entity{index: index, generation: em.generations[index]}, nil
	}

	if len(em.generations) > MaxEntityIndex {
		return Entity{}, eris.New("max number of entities exceeded")
	}
	index := uint32(len(em.generations)) //nolint:gosec // bounded by MaxEntityIndex
	em.generations = append(em.generations, 1)
	return Entity{index: index, generation: 1}, nil
}

// place sets the location of a live or reserved entity.
func (em *entityManager) place(e Entity, loc location) {
	em.mu.Lock()
	defer em.mu.Unlock()

	assert.That(em.generations[e.index] == e.generation, "placing stale entity %s", e)
	if _, ok := em.locations.get(e.index); !ok {
		em.alive++
	}
	em.locations.set(e.index, loc)
}

// relocate updates the row of a live entity after a swap-remove moved it inside its table.
func (em *entityManager) relocate(e Entity, row int) {
	em.mu.Lock()
	defer em.mu.Unlock()

	assert.That(em.generations[e.index] == e.generation, "relocating stale entity %s", e)
	em.locations.setRow(e.index, row)
}

// release retires a live or reserved entity: its location is cleared and the slot's generation
// is incremented so every outstanding handle goes stale. A slot whose generation would overflow
// is never recycled. Returns false if the handle was already stale.
func (em *entityManager) release(e Entity) bool {
	em.mu.Lock()
	defer em.mu.Unlock()

	if !em.current(e) {
		return false
	}

	if em.locations.remove(e.index) {
		em.alive--
	}

	if em.generations[e.index] == math.MaxUint32 {
		em.generations[e.index] = 0 // Retired, no handle can match generation 0
		return true
	}
	em.generations[e.index]++
	em.free = append(em.free, e.index)
	return true
}

// locate returns the location of a live entity.
func (em *entityManager) locate(e Entity) (location, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	if !em.current(e) {
		return location{}, false
	}
	return em.locations.get(e.index)
}

// isReserved reports whether the handle is reserved but not yet placed.
func (em *entityManager) isReserved(e Entity) bool {
	em.mu.RLock()
	defer em.mu.RUnlock()

	if !em.current(e) {
		return false
	}
	_, placed := em.locations.get(e.index)
	return !placed
}

// current reports whether the handle matches its slot's generation. Must hold mu.
func (em *entityManager) current(e Entity) bool {
	return e.generation != 0 && int(e.index) < len(em.generations) && em.generations[e.index] == e.generation
}

// count returns the number of live entities.
func (em *entityManager) count() int {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.alive
}
