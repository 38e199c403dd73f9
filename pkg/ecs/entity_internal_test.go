package ecs

import (
	"math"
	"testing"

	"github.com/argus-labs/ecs-core/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------------------------------------------------------------------------------------
// Model-based fuzzing of the identity registry
// -------------------------------------------------------------------------------------------------
// Random sequences of reserve/place/release are applied to the entity manager while a model keeps
// every handle ever handed out. Properties: a released handle never resolves again, a slot is only
// reused with a higher generation, and the live count matches the model.
// -------------------------------------------------------------------------------------------------

func TestEntityManager_ModelFuzz(t *testing.T) {
	t.Parallel()
	prng := testutils.NewRand(t)

	const opsMax = 1 << 13

	em := newEntityManager()
	live := make(map[Entity]bool) // Handle -> placed
	dead := make([]Entity, 0)
	lastGen := make(map[uint32]uint32) // Highest generation handed out per index

	for range opsMax {
		op := testutils.RandWeightedOp(prng, entityOps)
		switch op {
		case e_reserve:
			e, err := em.reserve()
			require.NoError(t, err)

			// Property: a reused index always comes back with a higher generation.
			if gen, seen := lastGen[e.Index()]; seen {
				assert.Greater(t, e.Generation(), gen, "index %d reused without a generation bump", e.Index())
			}
			lastGen[e.Index()] = e.Generation()
			live[e] = false
			assert.True(t, em.isReserved(e))

		case e_place:
			e, ok := pickUnplaced(prng, live)
			if !ok {
				continue
			}
			em.place(e, location{arch: 0, row: int(e.Index())})
			live[e] = true

			loc, found := em.locate(e)
			require.True(t, found)
			assert.Equal(t, int(e.Index()), loc.row)

		case e_release:
			if len(live) == 0 {
				continue
			}
			e := testutils.RandMapKey(prng, live)
			assert.True(t, em.release(e))
			delete(live, e)
			dead = append(dead, e)

			// Property: releasing twice fails.
			assert.False(t, em.release(e))

		default:
			panic("unreachable")
		}

		placed := 0
		for _, p := range live {
			if p {
				placed++
			}
		}
		require.Equal(t, placed, em.count(), "live count mismatch")
	}

	// Property: no released handle resolves, even after its slot was reused.
	for _, e := range dead {
		_, found := em.locate(e)
		assert.False(t, found, "stale handle %s resolved", e)
		assert.False(t, em.isReserved(e), "stale handle %s is reserved", e)
	}
}

// Op values double as pick weights, so they must all differ.
type entityOp uint8

const (
	e_reserve entityOp = 40
	e_place   entityOp = 32
	e_release entityOp = 28
)

var entityOps = []entityOp{e_reserve, e_place, e_release}

func pickUnplaced(prng interface{ IntN(int) int }, live map[Entity]bool) (Entity, bool) {
	candidates := make([]Entity, 0)
	for e, placed := range live {
		if !placed {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return Entity{}, false
	}
	return candidates[prng.IntN(len(candidates))], true
}

func TestEntityManager_ReuseIsFIFO(t *testing.T) {
	t.Parallel()

	em := newEntityManager()
	a, err := em.reserve()
	require.NoError(t, err)
	b, err := em.reserve()
	require.NoError(t, err)

	require.True(t, em.release(a))
	require.True(t, em.release(b))

	first, err := em.reserve()
	require.NoError(t, err)
	second, err := em.reserve()
	require.NoError(t, err)

	assert.Equal(t, a.Index(), first.Index())
	assert.Equal(t, a.Generation()+1, first.Generation())
	assert.Equal(t, b.Index(), second.Index())
}

func TestEntityManager_RetiresOverflowingSlot(t *testing.T) {
	t.Parallel()

	em := newEntityManager()
	e, err := em.reserve()
	require.NoError(t, err)

	// Fast-forward the slot to the last generation.
	em.generations[e.Index()] = math.MaxUint32
	last := Entity{index: e.Index(), generation: math.MaxUint32}
	require.True(t, em.release(last))

	// The slot is never handed out again.
	next, err := em.reserve()
	require.NoError(t, err)
	assert.NotEqual(t, e.Index(), next.Index())
	assert.False(t, em.isReserved(Entity{index: e.Index(), generation: 0}))
}

func TestEntity_Bits(t *testing.T) {
	t.Parallel()

	e := Entity{index: 7, generation: 3}
	assert.Equal(t, e, EntityFromBits(e.Bits()))
	assert.Equal(t, "7v3", e.String())
	em := newEntityManager()
	assert.False(t, em.current(Entity{}), "zero entity must never be current")
}
