package ecs

import (
	"iter"
	"reflect"

	"github.com/rotisserie/eris"
)

// The functions in this file change the world directly. They're meant for setup code, tests, and
// exclusive systems. Regular systems must go through Commands for structural changes and through
// their queries for writes.

// Spawn creates an entity with the given components. Returns ErrDuplicateComponent if a component
// type appears more than once.
func Spawn(w *World, components ...Component) (Entity, error) {
	values, err := w.state.toPendingValues(components)
	if err != nil {
		return Entity{}, err
	}
	return w.state.spawn(values, w.state.clock.advance())
}

// Despawn deletes an entity and all its components from the world. Returns true if the entity is
// deleted, false if the handle was stale or unknown.
func Despawn(w *World, e Entity) bool {
	return w.state.despawn(e)
}

// Alive checks if an entity exists in the world.
func Alive(w *World, e Entity) bool {
	_, ok := w.state.entities.locate(e)
	return ok
}

// Len returns the number of live entities.
func Len(w *World) int {
	return w.state.entities.count()
}

// Insert adds components to an entity. Components of types the entity already has are overwritten
// in place, new ones move the entity to the archetype with the combined set.
func Insert(w *World, e Entity, components ...Component) error {
	values, err := w.state.toPendingValues(components)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		if !Alive(w, e) {
			return eris.Wrapf(ErrEntityNotFound, "entity %s", e)
		}
		return nil
	}
	return w.state.insert(e, values, w.state.clock.advance())
}

// Remove removes a component from an entity and returns it. Returns false, and does nothing, if the
// entity doesn't exist or doesn't have the component.
func Remove[T Component](w *World, e Entity) (T, bool) {
	var zero T
	id, ok := TypeOf[T](w)
	if !ok {
		return zero, false
	}
	value, ok := w.state.remove(e, id)
	if !ok {
		return zero, false
	}
	component, ok := value.Interface().(T)
	return component, ok
}

// Get returns a copy of an entity's component.
func Get[T Component](w *World, e Entity) (T, bool) {
	ptr, ok := componentPtr[T](w, e)
	if !ok {
		var zero T
		return zero, false
	}
	return *ptr, true
}

// GetMut returns a pointer to an entity's component and marks it changed. The pointer is valid
// until the next structural change to the entity's archetype.
func GetMut[T Component](w *World, e Entity) (*T, bool) {
	id, ok := TypeOf[T](w)
	if !ok {
		return nil, false
	}
	col, row, ok := w.state.component(e, id)
	if !ok {
		return nil, false
	}
	col.markChanged(row, w.state.clock.advance())
	return &columnData[T](col, id)[row], true
}

// Has checks if an entity has a specific component type.
// Returns false if either the entity doesn't exist or doesn't have the component.
func Has[T Component](w *World, e Entity) bool {
	_, ok := componentPtr[T](w, e)
	return ok
}

// Ticks returns the change ticks of an entity's component.
func Ticks[T Component](w *World, e Entity) (ComponentTicks, bool) {
	id, ok := TypeOf[T](w)
	if !ok {
		return ComponentTicks{}, false
	}
	col, row, ok := w.state.component(e, id)
	if !ok {
		return ComponentTicks{}, false
	}
	return col.ticks(row), true
}

// Components returns the type IDs of an entity's components in ascending order.
func Components(w *World, e Entity) ([]TypeID, bool) {
	loc, ok := w.state.entities.locate(e)
	if !ok {
		return nil, false
	}
	types := w.state.archetypes[loc.arch].types
	out := make([]TypeID, len(types))
	copy(out, types)
	return out, true
}

// Entities returns an iterator over every live entity, archetype by archetype in creation order.
func (w *World) Entities() iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		for _, arch := range w.state.archetypes {
			for _, e := range arch.entities {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// componentPtr returns a pointer into the column holding an entity's component.
func componentPtr[T Component](w *World, e Entity) (*T, bool) {
	id, ok := w.state.types.lookup(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	col, row, ok := w.state.component(e, id)
	if !ok {
		return nil, false
	}
	return &columnData[T](col, id)[row], true
}
