package main

// Position is where a body is.
type Position struct {
	X, Y float64
}

func (Position) Name() string { return "position" }

// Velocity is how far a body moves per tick.
type Velocity struct {
	X, Y float64
}

func (Velocity) Name() string { return "velocity" }

// Health of a player. Players at zero are despawned.
type Health struct {
	HP int
}

func (Health) Name() string { return "health" }

// Player marks the bodies that score.
type Player struct {
	Nickname string
}

func (Player) Name() string { return "player" }

// Gravity is a resource pulling every body down.
type Gravity struct {
	Y float64
}

func (Gravity) Name() string { return "gravity" }

// Arena is a resource with the world's bounds and the spawn population.
type Arena struct {
	Width, Height float64
	Population    int
}

func (Arena) Name() string { return "arena" }

// Stats is a resource summarizing the last tick.
type Stats struct {
	Bodies   int
	Players  int
	Despawns int
}

func (Stats) Name() string { return "stats" }
