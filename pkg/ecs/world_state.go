package ecs

import (
	"cmp"
	"reflect"
	"slices"

	"github.com/argus-labs/ecs-core/pkg/assert"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// worldState holds the storage half of the world: type registry, identity registry, archetype
// tables, resources and the change clock. Structural operations here are not safe to call while
// systems other than an exclusive one are running; the scheduler guarantees that by routing
// structural changes through command buffers.
type worldState struct {
	types      typeRegistry
	entities   entityManager
	archetypes []*archetype             // Index is the archetype ID, in creation order
	archIndex  map[uint64][]archetypeID // archetypeKey -> archetypes with that hash
	resources  resourceStore
	clock      changeClock
}

// newWorldState creates a new world state with the empty archetype already in place.
func newWorldState() *worldState {
	ws := &worldState{
		types:      newTypeRegistry(),
		entities:   newEntityManager(),
		archetypes: make([]*archetype, 0),
		archIndex:  make(map[uint64][]archetypeID),
		resources:  newResourceStore(),
	}
	ws.findOrCreateArchetype(nil)
	return ws
}

// pendingValue is a component value on its way into storage.
type pendingValue struct {
	id    TypeID
	value reflect.Value
}

// toPendingValues registers the types of the given components and returns their values sorted by
// type ID. Returns ErrDuplicateComponent if a type appears more than once.
func (ws *worldState) toPendingValues(components []Component) ([]pendingValue, error) {
	values := make([]pendingValue, 0, len(components))
	for _, component := range components {
		id, err := registerValue(&ws.types, component)
		if err != nil {
			return nil, err
		}
		values = append(values, pendingValue{id: id, value: reflect.ValueOf(component)})
	}
	return sortPendingValues(values)
}

// sortPendingValues sorts values by type ID in place and rejects repeated types.
func sortPendingValues(values []pendingValue) ([]pendingValue, error) {
	slices.SortFunc(values, func(a, b pendingValue) int { return cmp.Compare(a.id, b.id) })
	for i := 1; i < len(values); i++ {
		if values[i].id == values[i-1].id {
			return nil, eris.Wrapf(ErrDuplicateComponent, "%s", values[i].value.Type())
		}
	}
	return values, nil
}

// -------------------------------------------------------------------------------------------------
// Archetypes
// -------------------------------------------------------------------------------------------------

// findOrCreateArchetype finds the archetype storing exactly the given sorted component types, or
// creates it. Archetypes are never destroyed, even when emptied, so that cached query matches
// stay valid.
func (ws *worldState) findOrCreateArchetype(types []TypeID) *archetype {
	assert.That(slices.IsSorted(types), "archetype types must be sorted")

	key := archetypeKey(types)
	for _, id := range ws.archIndex[key] {
		if slices.Equal(ws.archetypes[id].types, types) {
			return ws.archetypes[id]
		}
	}

	infos := make([]*typeInfo, len(types))
	for i, id := range types {
		info, ok := ws.types.info(id)
		assert.That(ok, "archetype with unregistered type %d", id)
		infos[i] = info
	}

	arch := newArchetype(len(ws.archetypes), infos)
	ws.archetypes = append(ws.archetypes, arch)
	ws.archIndex[key] = append(ws.archIndex[key], arch.id)
	return arch
}

// archetypeWith returns the destination archetype after inserting one type, using the edge cache.
func (ws *worldState) archetypeWith(src *archetype, id TypeID) *archetype {
	if dst, ok := src.addEdges[id]; ok {
		return ws.archetypes[dst]
	}
	types := append(slices.Clone(src.types), id)
	slices.Sort(types)
	dst := ws.findOrCreateArchetype(types)
	src.addEdges[id] = dst.id
	dst.rmEdges[id] = src.id
	return dst
}

// archetypeWithout returns the destination archetype after removing one type, using the edge cache.
func (ws *worldState) archetypeWithout(src *archetype, id TypeID) *archetype {
	if dst, ok := src.rmEdges[id]; ok {
		return ws.archetypes[dst]
	}
	types := slices.DeleteFunc(slices.Clone(src.types), func(t TypeID) bool { return t == id })
	dst := ws.findOrCreateArchetype(types)
	src.rmEdges[id] = dst.id
	dst.addEdges[id] = src.id
	return dst
}

// archContains returns the IDs of archetypes, starting at from, that have every type in required
// and none in excluded, in creation order.
func (ws *worldState) archContains(from int, required, excluded bitmap.Bitmap) []archetypeID {
	var ids []archetypeID
	for _, arch := range ws.archetypes[from:] {
		if arch.contains(required) && arch.excludes(excluded) {
			ids = append(ids, arch.id)
		}
	}
	return ids
}

// -------------------------------------------------------------------------------------------------
// Entity operations
// -------------------------------------------------------------------------------------------------

// spawn creates an entity with the given values.
func (ws *worldState) spawn(values []pendingValue, tick Tick) (Entity, error) {
	e, err := ws.entities.reserve()
	if err != nil {
		return Entity{}, err
	}
	ws.place(e, values, tick)
	return e, nil
}

// place materializes a reserved entity in the archetype matching its values.
func (ws *worldState) place(e Entity, values []pendingValue, tick Tick) {
	types := make([]TypeID, len(values))
	for i, v := range values {
		types[i] = v.id
	}
	arch := ws.findOrCreateArchetype(types)

	row := arch.pushEntity(e)
	for i, v := range values {
		arch.columns[i].push(v.value, tick)
	}
	ws.entities.place(e, location{arch: arch.id, row: row})
}

// despawn removes a live entity and all its components, or gives back a reserved handle. Returns
// false if the handle is stale.
func (ws *worldState) despawn(e Entity) bool {
	loc, ok := ws.entities.locate(e)
	if !ok {
		return ws.entities.release(e)
	}

	arch := ws.archetypes[loc.arch]
	arch.dropRow(loc.row)
	ws.removeRow(arch, loc.row)
	released := ws.entities.release(e)
	assert.That(released, "live entity %s wasn't released", e)
	return true
}

// removeRow swap-removes a row and fixes up the location of the entity moved into it.
func (ws *worldState) removeRow(arch *archetype, row int) {
	if moved, ok := arch.removeRow(row); ok {
		ws.entities.relocate(moved, row)
	}
}

// insert adds values to a live entity. Values of types the entity already has overwrite the
// stored ones in place (the old value is dropped), the rest move the entity once into the
// archetype with the combined set.
func (ws *worldState) insert(e Entity, values []pendingValue, tick Tick) error {
	loc, ok := ws.entities.locate(e)
	if !ok {
		return eris.Wrapf(ErrEntityNotFound, "entity %s", e)
	}

	src := ws.archetypes[loc.arch]
	added := make([]pendingValue, 0, len(values))
	for _, v := range values {
		col, exists := src.column(v.id)
		if !exists {
			added = append(added, v)
			continue
		}
		col.drop(loc.row)
		col.setAbstract(loc.row, v.value, tick)
	}
	if len(added) == 0 {
		return nil
	}

	var dst *archetype
	if len(added) == 1 {
		dst = ws.archetypeWith(src, added[0].id)
	} else {
		types := slices.Clone(src.types)
		for _, v := range added {
			types = append(types, v.id)
		}
		slices.Sort(types)
		dst = ws.findOrCreateArchetype(types)
	}

	newRow := src.moveRow(dst, loc.row, e)
	for _, v := range added {
		col, exists := dst.column(v.id)
		assert.That(exists, "destination archetype is missing inserted type %d", v.id)
		col.push(v.value, tick)
	}
	ws.removeRow(src, loc.row)
	ws.entities.place(e, location{arch: dst.id, row: newRow})
	return nil
}

// remove takes one component off a live entity and returns a copy of its value. Returns false if
// the entity is stale or doesn't have the component.
func (ws *worldState) remove(e Entity, id TypeID) (reflect.Value, bool) {
	loc, ok := ws.entities.locate(e)
	if !ok {
		return reflect.Value{}, false
	}
	src := ws.archetypes[loc.arch]
	col, exists := src.column(id)
	if !exists {
		return reflect.Value{}, false
	}

	value := reflect.New(col.info.Type).Elem()
	value.Set(col.getAbstract(loc.row))

	dst := ws.archetypeWithout(src, id)
	newRow := src.moveRow(dst, loc.row, e)
	ws.removeRow(src, loc.row)
	ws.entities.place(e, location{arch: dst.id, row: newRow})
	return value, true
}

// removeAndDrop removes a component whose value nobody receives, so its drop routine runs.
func (ws *worldState) removeAndDrop(e Entity, id TypeID) bool {
	loc, ok := ws.entities.locate(e)
	if !ok {
		return false
	}
	col, exists := ws.archetypes[loc.arch].column(id)
	if !exists {
		return false
	}
	col.drop(loc.row)
	_, removed := ws.remove(e, id)
	return removed
}

// component returns the column and row holding a live entity's component.
func (ws *worldState) component(e Entity, id TypeID) (*column, int, bool) {
	loc, ok := ws.entities.locate(e)
	if !ok {
		return nil, 0, false
	}
	col, exists := ws.archetypes[loc.arch].column(id)
	if !exists {
		return nil, 0, false
	}
	return col, loc.row, true
}
