package ecs

import (
	"errors"
	"reflect"

	"github.com/argus-labs/ecs-core/pkg/assert"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Commands is a buffer of deferred structural changes. As a system state field it gives the system
// its own buffer, which the scheduler applies at the next sync point or at the end of the run.
// Operations are applied in the order they were recorded. Operations on entities that no longer
// exist by then are dropped.
//
// Example:
//
//	type ReaperState struct {
//	    Commands ecs.Commands
//	    Dead     ecs.Query[struct{ Health ecs.Read[Health] }]
//	}
//
//	func Reaper(state *ReaperState) error {
//	    for e, dead := range state.Dead.Iter() {
//	        if dead.Health.Get().HP <= 0 {
//	            state.Commands.Despawn(e)
//	        }
//	    }
//	    return nil
//	}
type Commands struct {
	world *World
	ops   []command
}

// commandKind is an enum type for buffered operations.
type commandKind uint8

const (
	commandSpawn commandKind = iota
	commandDespawn
	commandInsert
	commandRemove
)

func (k commandKind) String() string {
	switch k {
	case commandSpawn:
		return "spawn"
	case commandDespawn:
		return "despawn"
	case commandInsert:
		return "insert"
	case commandRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// command is one buffered operation.
type command struct {
	kind       commandKind
	entity     Entity
	components []Component  // Spawn and insert
	removeType reflect.Type // Remove, resolved to a type ID when applied
}

// NewCommands creates a command buffer that isn't owned by a system. Call Apply to run it.
func NewCommands(w *World) *Commands {
	return &Commands{world: w, ops: make([]command, 0)}
}

func (c *Commands) init(meta *systemMeta) error {
	c.world = meta.world
	c.ops = make([]command, 0)
	meta.commands = c
	return nil
}

// Spawn records the creation of an entity and returns its handle right away. The handle can be
// used in later operations of any buffer, but the entity only exists once the buffer is applied.
func (c *Commands) Spawn(components ...Component) Entity {
	e, err := c.world.state.entities.reserve()
	assert.That(err == nil, "failed to reserve entity: %v", err)
	c.ops = append(c.ops, command{kind: commandSpawn, entity: e, components: components})
	return e
}

// Despawn records the deletion of an entity.
func (c *Commands) Despawn(e Entity) {
	c.ops = append(c.ops, command{kind: commandDespawn, entity: e})
}

// Insert records adding or overwriting components on an entity.
func (c *Commands) Insert(e Entity, components ...Component) {
	c.ops = append(c.ops, command{kind: commandInsert, entity: e, components: components})
}

// RemoveDeferred records removing the component T from an entity. The removed value is dropped.
func RemoveDeferred[T Component](c *Commands, e Entity) {
	c.ops = append(c.ops, command{kind: commandRemove, entity: e, removeType: reflect.TypeFor[T]()})
}

// Len returns the number of recorded operations.
func (c *Commands) Len() int {
	return len(c.ops)
}

// Apply runs the recorded operations against the world and clears the buffer. Must not be called
// while a schedule of the world is running, except from an exclusive system.
func (c *Commands) Apply() error {
	return c.apply(c.world.state.clock.advance())
}

// apply runs every operation under one tick. Stale operations are dropped and logged at debug
// level; invalid ones (duplicate component types) are returned as errors and don't stop the rest.
func (c *Commands) apply(tick Tick) error {
	ws := c.world.state
	log := &c.world.logger

	var errs []error
	for _, op := range c.ops {
		switch op.kind {
		case commandSpawn:
			if !ws.entities.isReserved(op.entity) {
				logStale(log, op)
				continue
			}
			values, err := ws.toPendingValues(op.components)
			if err != nil {
				ws.entities.release(op.entity)
				errs = append(errs, eris.Wrapf(err, "failed to spawn entity %s", op.entity))
				continue
			}
			ws.place(op.entity, values, tick)

		case commandDespawn:
			if !ws.despawn(op.entity) {
				logStale(log, op)
			}

		case commandInsert:
			if _, ok := ws.entities.locate(op.entity); !ok {
				logStale(log, op)
				continue
			}
			values, err := ws.toPendingValues(op.components)
			if err != nil {
				errs = append(errs, eris.Wrapf(err, "failed to insert into entity %s", op.entity))
				continue
			}
			if len(values) == 0 {
				continue
			}
			if err := ws.insert(op.entity, values, tick); err != nil {
				errs = append(errs, err)
			}

		case commandRemove:
			id, ok := ws.types.lookup(op.removeType)
			if !ok || !ws.removeAndDrop(op.entity, id) {
				logStale(log, op)
			}
		}
	}

	c.ops = c.ops[:0]
	return errors.Join(errs...)
}

func logStale(log *zerolog.Logger, op command) {
	event := log.Debug().Stringer("op", op.kind).Stringer("entity", op.entity)
	if op.removeType != nil {
		event = event.Stringer("type", op.removeType)
	}
	event.Msg("dropping stale command")
}

// discard drops the recorded operations. Handles reserved by spawns are given back.
func (c *Commands) discard() {
	for _, op := range c.ops {
		if op.kind == commandSpawn {
			c.world.state.entities.release(op.entity)
		}
	}
	c.ops = c.ops[:0]
}
