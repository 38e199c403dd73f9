package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/argus-labs/ecs-core/pkg/ecs"
	"github.com/rotisserie/eris"
)

// SpawnSystemState spawns the initial population.
type SpawnSystemState struct {
	ecs.BaseSystemState
	Arena    ecs.Res[Arena]
	Commands ecs.Commands
}

// SpawnSystem runs once, in the Init hook.
func SpawnSystem(state *SpawnSystemState) error {
	arena, ok := state.Arena.Get()
	if !ok {
		return eris.New("arena resource is missing")
	}
	for i := range arena.Population {
		components := []ecs.Component{
			Position{X: rand.Float64() * arena.Width, Y: arena.Height}, //nolint:gosec // game randomness
			Velocity{X: rand.Float64()*2 - 1},                          //nolint:gosec // game randomness
		}
		if i%10 == 0 {
			components = append(components, Player{Nickname: fmt.Sprintf("player-%d", i)}, Health{HP: 100})
		}
		state.Commands.Spawn(components...)
	}
	state.Logger().Info().Int("population", arena.Population).Msg("spawning population")
	return nil
}

// GravitySystemState accelerates every body.
type GravitySystemState struct {
	Gravity ecs.Res[Gravity]
	Bodies  ecs.Query[struct {
		Velocity ecs.Write[Velocity]
	}]
}

func GravitySystem(state *GravitySystemState) error {
	g, ok := state.Gravity.Get()
	if !ok {
		return nil
	}
	for _, body := range state.Bodies.Iter() {
		body.Velocity.Mut().Y += g.Y
	}
	return nil
}

// MovementSystemState moves every body by its velocity.
type MovementSystemState struct {
	Bodies ecs.Query[struct {
		Position ecs.Write[Position]
		Velocity ecs.Read[Velocity]
	}]
}

func MovementSystem(state *MovementSystemState) error {
	for _, body := range state.Bodies.Iter() {
		p, v := body.Position.Get(), body.Velocity.Get()
		body.Position.Set(Position{X: p.X + v.X, Y: p.Y + v.Y})
	}
	return nil
}

// FloorSystemState hurts the players that touched the floor and replaces the other bodies there
// with new ones dropped from the top.
type FloorSystemState struct {
	ecs.BaseSystemState
	Arena    ecs.Res[Arena]
	Commands ecs.Commands
	Landed   ecs.Query[struct {
		Position ecs.Changed[Position]
		Velocity ecs.Read[Velocity]
		Player   ecs.Without[Player]
	}]
	Players ecs.Query[struct {
		Position ecs.Read[Position]
		Health   ecs.Write[Health]
		Player   ecs.With[Player]
	}]
	Stats ecs.ResMut[Stats]
}

func FloorSystem(state *FloorSystemState) error {
	arena, _ := state.Arena.Get()
	despawns := 0
	for e, body := range state.Landed.Iter() {
		p := body.Position.Get()
		if p.Y > 0 {
			continue
		}
		state.Commands.Despawn(e)
		state.Commands.Spawn(Position{X: p.X, Y: arena.Height}, Velocity{X: -body.Velocity.Get().X})
		despawns++
	}
	for e, player := range state.Players.Iter() {
		if player.Position.Get().Y > 0 {
			continue
		}
		health := player.Health.Mut()
		health.HP -= 10
		if health.HP <= 0 {
			state.Logger().Info().Stringer("entity", e).Msg("player died")
			state.Commands.Despawn(e)
			despawns++
		}
	}
	if stats, ok := state.Stats.Mut(); ok {
		stats.Despawns += despawns
	}
	return nil
}

// StatsSystemState counts what's left after the update.
type StatsSystemState struct {
	Bodies  ecs.Query[struct{ Position ecs.Read[Position] }]
	Players ecs.Query[struct{ Player ecs.Read[Player] }]
	Stats   ecs.ResMut[Stats]
}

func StatsSystem(state *StatsSystemState) error {
	stats, ok := state.Stats.Mut()
	if !ok {
		state.Stats.Set(Stats{})
		stats, _ = state.Stats.Mut()
	}
	stats.Bodies = state.Bodies.Count()
	stats.Players = state.Players.Count()
	return nil
}
