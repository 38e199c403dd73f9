package testutils

import "github.com/argus-labs/ecs-core/pkg/assert"

// Gen enumerates every combination of bounded choices a test body makes. Drive it with
//
//	for g := testutils.NewGen(); !g.Done(); {
//	    n := g.Intn(3)
//	    ...
//	}
//
// Each pass replays the previous choice sequence with the rightmost choice that can still grow
// incremented and everything after it reset to zero.
// See <https://matklad.github.io/2021/11/07/generate-all-the-things.html>.
type Gen struct {
	started bool
	choices [32]choice
	pos     int
	depth   int
}

type choice struct {
	value, bound uint32
}

func NewGen() *Gen {
	return &Gen{}
}

// Done advances to the next combination and reports whether none are left.
func (g *Gen) Done() bool {
	if !g.started {
		g.started = true
		return false
	}
	for i := g.depth - 1; i >= 0; i-- {
		if g.choices[i].value < g.choices[i].bound {
			g.choices[i].value++
			g.depth = i + 1
			g.pos = 0
			return false
		}
	}
	return true
}

// Intn returns a choice in [0, bound], inclusive.
func (g *Gen) Intn(bound int) int {
	assert.That(g.pos < len(g.choices), "exhaustigen: exceeded maximum depth of %d", len(g.choices))
	if g.pos == g.depth {
		g.choices[g.pos] = choice{}
		g.depth++
	}
	g.choices[g.pos].bound = uint32(bound) //nolint:gosec // bounds are small in tests
	g.pos++
	return int(g.choices[g.pos-1].value)
}

// Index returns a valid index into a slice of the given length.
func (g *Gen) Index(length int) int {
	assert.That(length > 0, "exhaustigen: empty slice")
	return g.Intn(length - 1)
}

func (g *Gen) Bool() bool {
	return g.Intn(1) == 1
}

// Pick returns an element from the slice.
func Pick[T any](g *Gen, slice []T) T {
	return slice[g.Index(len(slice))]
}
