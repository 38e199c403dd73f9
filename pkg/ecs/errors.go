package ecs

import "github.com/rotisserie/eris"

var (
	// ErrEntityNotFound is returned when attempting to operate on a non-existent entity
	// or when an entity handle has gone stale.
	ErrEntityNotFound = eris.New("entity does not exist")

	// ErrComponentNotFound is returned when an entity doesn't have the requested component.
	ErrComponentNotFound = eris.New("entity does not have the component")

	// ErrDuplicateComponent is returned when the same component type is passed more than once to
	// a spawn or insert.
	ErrDuplicateComponent = eris.New("duplicate component type")

	// ErrTypeMismatch is returned when bytes or values don't fit the registered type.
	ErrTypeMismatch = eris.New("type mismatch")

	// ErrAccessConflict is returned when two accesses that can't run together were declared
	// without an order between them.
	ErrAccessConflict = eris.New("conflicting access")

	// ErrScheduleCycle is returned when the ordering constraints of a schedule form a cycle.
	ErrScheduleCycle = eris.New("schedule has a cycle")

	// ErrUnknownSystem is returned when an ordering constraint names a system that isn't in the
	// schedule.
	ErrUnknownSystem = eris.New("unknown system")

	// ErrDuplicateSystem is returned when a schedule already has a system with the same name.
	ErrDuplicateSystem = eris.New("duplicate system name")

	// ErrScheduleRunning is returned when a schedule is changed or run while it's running.
	ErrScheduleRunning = eris.New("schedule is running")
)
