package testutils

// -------------------------------------------------------------------------------------------------
// Components
// -------------------------------------------------------------------------------------------------

type Position struct {
	X, Y float64
}

func (Position) Name() string { return "position" }

type Velocity struct {
	X, Y float64
}

func (Velocity) Name() string { return "velocity" }

type Health struct {
	HP int
}

func (Health) Name() string { return "health" }

// PlayerTag is a zero-sized marker component.
type PlayerTag struct{}

func (PlayerTag) Name() string { return "player_tag" }

// Inventory holds pointers (a slice and a string) so it exercises the non-raw storage paths.
type Inventory struct {
	Owner string
	Items []string
}

func (Inventory) Name() string { return "inventory" }

// -------------------------------------------------------------------------------------------------
// Resources
// -------------------------------------------------------------------------------------------------

type Gravity struct {
	Y float64
}

func (Gravity) Name() string { return "gravity" }

type Score struct {
	Points int
}

func (Score) Name() string { return "score" }
