package ecs

import (
	"iter"
	"reflect"

	"github.com/argus-labs/ecs-core/pkg/assert"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// Query is a system state field that iterates over the entities having a fixed shape. T must be a
// struct whose fields are query terms: Read, Write, With, Without, Changed, and Added. The terms
// decide which archetypes match and what the system is allowed to touch, which is what the
// scheduler uses to run systems in parallel.
//
// Example:
//
//	type MovementSystemState struct {
//	    Movers ecs.Query[struct {
//	        Position ecs.Write[Position]
//	        Velocity ecs.Read[Velocity]
//	    }]
//	}
//
//	func MovementSystem(state *MovementSystemState) error {
//	    for _, mover := range state.Movers.Iter() {
//	        pos, vel := mover.Position.Get(), mover.Velocity.Get()
//	        mover.Position.Set(Position{X: pos.X + vel.X, Y: pos.Y + vel.Y})
//	    }
//	    return nil
//	}
type Query[T any] struct {
	world    *World
	meta     *systemMeta
	access   queryAccess
	template T // Terms with their type IDs registered, never bound
	fields   int
	matched  []archetypeID // Matching archetypes in creation order
	scanned  int           // Number of archetypes already checked against the query
}

// cursor is the state of one iteration or lookup. Every Iter and Get call gets its own, so a query
// can be used again while one of its iterations is running.
type cursor[T any] struct {
	result  T
	terms   []term // Pointers into result
	lastRun Tick
	thisRun Tick
}

// NewQuery creates a query outside of any system, for setup code and tests. Its change filters
// compare against the previous call to Iter, Get, Count or Single.
func NewQuery[T any](w *World) (*Query[T], error) {
	meta := newSystemMeta(w, "query", nil)
	meta.standalone = true
	q := &Query[T]{}
	if err := q.init(meta); err != nil {
		return nil, err
	}
	return q, nil
}

// init registers the component types of every term and computes the query's access.
func (q *Query[T]) init(meta *systemMeta) error {
	q.world = meta.world
	q.meta = meta
	q.fields = 0
	q.access = queryAccess{}

	resultValue := reflect.ValueOf(&q.template).Elem()
	resultType := resultValue.Type()
	if resultType.Kind() != reflect.Struct {
		return eris.Errorf("query type must be a struct of query terms, got %s", resultType)
	}

	var seen bitmap.Bitmap
	for i := range resultType.NumField() {
		field := resultType.Field(i)
		if !field.IsExported() {
			return eris.Errorf("query field %s must be exported", field.Name)
		}
		t, ok := resultValue.Field(i).Addr().Interface().(term)
		if !ok {
			return eris.Errorf("query field %s must be a query term, got %s", field.Name, field.Type)
		}

		id, err := t.register(q.world.state)
		if err != nil {
			return eris.Wrapf(err, "failed to register component of query field %s", field.Name)
		}

		bit := uint32(id)
		if seen.Contains(bit) {
			if q.access.excluded.Contains(bit) || t.kind() == termWithout {
				return eris.Errorf("query field %s: type %s is both required and excluded",
					field.Name, q.world.typeName(id))
			}
			return eris.Errorf("query field %s: type %s appears more than once",
				field.Name, q.world.typeName(id))
		}
		seen.Set(bit)

		switch t.kind() {
		case termRead, termChanged, termAdded:
			q.access.reads.Set(bit)
			q.access.required.Set(bit)
		case termWrite:
			q.access.writes.Set(bit)
			q.access.required.Set(bit)
		case termWith:
			q.access.required.Set(bit)
		case termWithout:
			q.access.excluded.Set(bit)
		}
		q.fields++
	}

	q.matched = q.matched[:0]
	q.scanned = 0
	q.refresh()
	return nil
}

func (q *Query[T]) declared() *queryAccess {
	return &q.access
}

// refresh checks archetypes created since the last refresh. Archetypes are append-only and never
// destroyed, so earlier matches stay valid.
func (q *Query[T]) refresh() {
	ws := q.world.state
	if q.scanned == len(ws.archetypes) {
		return
	}
	q.matched = append(q.matched, ws.archContains(q.scanned, q.access.required, q.access.excluded)...)
	q.scanned = len(ws.archetypes)
}

// begin prepares an iteration or lookup and returns its cursor. Standalone queries advance their
// own ticks here.
func (q *Query[T]) begin() *cursor[T] {
	if q.meta.standalone {
		q.meta.lastRun = q.meta.thisRun
		q.meta.thisRun = q.world.state.clock.advance()
	}
	q.refresh()

	c := &cursor[T]{
		result:  q.template,
		terms:   make([]term, 0, q.fields),
		lastRun: q.meta.lastRun,
		thisRun: q.meta.thisRun,
	}
	resultValue := reflect.ValueOf(&c.result).Elem()
	for i := range q.fields {
		t, ok := resultValue.Field(i).Addr().Interface().(term)
		assert.That(ok, "query field %d is not a term after init", i)
		c.terms = append(c.terms, t)
	}
	return c
}

// bind points every term at the columns of an archetype.
func (c *cursor[T]) bind(arch *archetype) {
	for _, t := range c.terms {
		t.bind(arch, c.thisRun)
	}
}

// attach points every term at a row. Returns false if a change filter rejects the row.
func (c *cursor[T]) attach(row int) bool {
	match := true
	for _, t := range c.terms {
		if !t.attach(row, c.lastRun) {
			match = false
		}
	}
	return match
}

// Iter returns an iterator over the matching entities and their terms. Archetypes are visited in
// creation order and rows in table order. The iterator can be restarted.
//
// Example:
//
//	for entity, mover := range state.Movers.Iter() {
//	    // Process entity and components.
//	}
func (q *Query[T]) Iter() iter.Seq2[Entity, T] {
	c := q.begin()
	ws := q.world.state
	matched := q.matched
	return func(yield func(Entity, T) bool) {
		for _, id := range matched {
			arch := ws.archetypes[id]
			if arch.len() == 0 {
				continue
			}
			c.bind(arch)
			for row, e := range arch.entities {
				if !c.attach(row) {
					continue
				}
				if !yield(e, c.result) {
					return
				}
			}
		}
	}
}

// Get returns the terms of one entity. Returns false if the entity doesn't exist or doesn't match.
func (q *Query[T]) Get(e Entity) (T, bool) {
	c := q.begin()
	var zero T
	ws := q.world.state
	loc, ok := ws.entities.locate(e)
	if !ok {
		return zero, false
	}
	arch := ws.archetypes[loc.arch]
	if !arch.contains(q.access.required) || !arch.excludes(q.access.excluded) {
		return zero, false
	}
	c.bind(arch)
	if !c.attach(loc.row) {
		return zero, false
	}
	return c.result, true
}

// Count returns the number of matching entities.
func (q *Query[T]) Count() int {
	n := 0
	for range q.Iter() {
		n++
	}
	return n
}

// Single returns the only matching entity. Returns false if there are none or more than one.
func (q *Query[T]) Single() (Entity, T, bool) {
	var (
		found  Entity
		result T
		n      int
	)
	for e, r := range q.Iter() {
		n++
		if n > 1 {
			var zero T
			return Entity{}, zero, false
		}
		found, result = e, r
	}
	return found, result, n == 1
}

// -------------------------------------------------------------------------------------------------
// Query Terms
// -------------------------------------------------------------------------------------------------

// termKind is an enum type for query term kinds.
type termKind uint8

const (
	termRead termKind = iota
	termWrite
	termWith
	termWithout
	termChanged
	termAdded
)

// term is the internal interface of query terms.
type term interface {
	register(*worldState) (TypeID, error)
	kind() termKind
	bind(arch *archetype, thisRun Tick)
	attach(row int, lastRun Tick) bool
}

var _ term = &Read[Component]{}
var _ term = &Write[Component]{}
var _ term = &With[Component]{}
var _ term = &Without[Component]{}
var _ term = &Changed[Component]{}
var _ term = &Added[Component]{}

// Read gives read access to the component C of the current entity.
type Read[C Component] struct {
	id   TypeID
	data []C
	row  int
}

func (r *Read[C]) register(ws *worldState) (TypeID, error) {
	id, err := registerType[C](&ws.types)
	r.id = id
	return id, err
}

func (r *Read[C]) kind() termKind { return termRead }

func (r *Read[C]) bind(arch *archetype, _ Tick) {
	r.data = typedColumn[C](arch, r.id)
}

func (r *Read[C]) attach(row int, _ Tick) bool {
	r.row = row
	return true
}

// Get returns a copy of the component.
func (r *Read[C]) Get() C {
	return r.data[r.row]
}

// Write gives write access to the component C of the current entity. Set and Mut stamp the value
// as changed with the running system's tick.
type Write[C Component] struct {
	id   TypeID
	col  *column
	data []C
	row  int
	tick Tick
}

func (w *Write[C]) register(ws *worldState) (TypeID, error) {
	id, err := registerType[C](&ws.types)
	w.id = id
	return id, err
}

func (w *Write[C]) kind() termKind { return termWrite }

func (w *Write[C]) bind(arch *archetype, thisRun Tick) {
	w.col, _ = arch.column(w.id)
	w.data = typedColumn[C](arch, w.id)
	w.tick = thisRun
}

func (w *Write[C]) attach(row int, _ Tick) bool {
	w.row = row
	return true
}

// Get returns a copy of the component.
func (w *Write[C]) Get() C {
	return w.data[w.row]
}

// Set overwrites the component.
func (w *Write[C]) Set(value C) {
	w.data[w.row] = value
	w.col.markChanged(w.row, w.tick)
}

// Mut returns a pointer to the component and marks it changed. The pointer must not be kept past
// the end of the system.
func (w *Write[C]) Mut() *C {
	w.col.markChanged(w.row, w.tick)
	return &w.data[w.row]
}

// With requires the entity to have C without accessing it.
type With[C Component] struct {
	id TypeID
}

func (w *With[C]) register(ws *worldState) (TypeID, error) {
	id, err := registerType[C](&ws.types)
	w.id = id
	return id, err
}

func (w *With[C]) kind() termKind { return termWith }

func (w *With[C]) bind(*archetype, Tick) {}

func (w *With[C]) attach(int, Tick) bool { return true }

// Without requires the entity not to have C.
type Without[C Component] struct {
	id TypeID
}

func (w *Without[C]) register(ws *worldState) (TypeID, error) {
	id, err := registerType[C](&ws.types)
	w.id = id
	return id, err
}

func (w *Without[C]) kind() termKind { return termWithout }

func (w *Without[C]) bind(*archetype, Tick) {}

func (w *Without[C]) attach(int, Tick) bool { return true }

// Changed matches entities whose C was written (or added) since the system last ran, and gives
// read access to it.
type Changed[C Component] struct {
	tickFilter[C]
}

func (c *Changed[C]) kind() termKind { return termChanged }

func (c *Changed[C]) attach(row int, lastRun Tick) bool {
	c.row = row
	return c.col.changed[row] > lastRun
}

// Added matches entities whose C was added since the system last ran, and gives read access to it.
// Values that were only overwritten don't match.
type Added[C Component] struct {
	tickFilter[C]
}

func (a *Added[C]) kind() termKind { return termAdded }

func (a *Added[C]) attach(row int, lastRun Tick) bool {
	a.row = row
	return a.col.added[row] > lastRun
}

// tickFilter is the part Changed and Added share.
type tickFilter[C Component] struct {
	id   TypeID
	col  *column
	data []C
	row  int
}

func (f *tickFilter[C]) register(ws *worldState) (TypeID, error) {
	id, err := registerType[C](&ws.types)
	f.id = id
	return id, err
}

func (f *tickFilter[C]) bind(arch *archetype, _ Tick) {
	f.col, _ = arch.column(f.id)
	f.data = typedColumn[C](arch, f.id)
}

// Get returns a copy of the component.
func (f *tickFilter[C]) Get() C {
	return f.data[f.row]
}

// Ticks returns the component's change ticks.
func (f *tickFilter[C]) Ticks() ComponentTicks {
	return f.col.ticks(f.row)
}

// typedColumn returns the typed data of an archetype's column.
func typedColumn[C Component](arch *archetype, id TypeID) []C {
	col, ok := arch.column(id)
	assert.That(ok, "archetype %d matched a query but has no column for type %d", arch.id, id)
	return columnData[C](col, id)
}
