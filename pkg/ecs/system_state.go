package ecs

import (
	"reflect"

	"github.com/argus-labs/ecs-core/pkg/assert"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// systemStateField defines the interface for system state initialization. All system state fields
// must implement this interface.
type systemStateField interface {
	init(*systemMeta) error
}

var _ systemStateField = &BaseSystemState{}
var _ systemStateField = &Query[struct{}]{}
var _ systemStateField = &Res[Component]{}
var _ systemStateField = &ResMut[Component]{}
var _ systemStateField = &Commands{}
var _ systemStateField = &Exclusive{}

// -------------------------------------------------------------------------------------------------
// Base System State Field
// -------------------------------------------------------------------------------------------------

// BaseSystemState is a barebones system state field that can be embedded in your custom system
// state types to give systems a logger and their change ticks.
//
// Example:
//
//	type DebugSystemState struct {
//	    ecs.BaseSystemState
//	    // Other fields...
//	}
//
//	func DebugSystem(state *DebugSystemState) error {
//	    state.Logger().Debug().Uint64("frame", state.Frame()).Msg("running")
//	    return nil
//	}
type BaseSystemState struct {
	meta *systemMeta
}

// init initializes the base system state.
func (b *BaseSystemState) init(meta *systemMeta) error {
	b.meta = meta
	return nil
}

// Logger returns a logger tagged with the system's name.
func (b *BaseSystemState) Logger() *zerolog.Logger {
	return &b.meta.logger
}

// Name returns the system's name.
func (b *BaseSystemState) Name() string {
	return b.meta.name
}

// LastRun returns the tick of the system's previous run, 0 if this is its first.
func (b *BaseSystemState) LastRun() Tick {
	return b.meta.lastRun
}

// ThisRun returns the tick the system's writes are stamped with in this run.
func (b *BaseSystemState) ThisRun() Tick {
	return b.meta.thisRun
}

// Frame returns the number of schedule runs the world had completed when this run started.
func (b *BaseSystemState) Frame() uint64 {
	return b.meta.frame
}

// -------------------------------------------------------------------------------------------------
// Exclusive Field
// -------------------------------------------------------------------------------------------------

// Exclusive gives a system the whole world. Exclusive systems never run alongside any other system
// in their schedule, so they may use the world-level API freely, including structural changes.
//
// Example:
//
//	type CleanupState struct {
//	    ecs.Exclusive
//	}
//
//	func Cleanup(state *CleanupState) error {
//	    for _, e := range doomed {
//	        ecs.Despawn(state.World(), e)
//	    }
//	    return nil
//	}
type Exclusive struct {
	world *World
}

func (x *Exclusive) init(meta *systemMeta) error {
	x.world = meta.world
	meta.access.exclusive = true
	return nil
}

// World returns the world.
func (x *Exclusive) World() *World {
	return x.world
}

// -------------------------------------------------------------------------------------------------
// Resource Fields
// -------------------------------------------------------------------------------------------------

// Res gives a system read access to the resource R. If the resource is absent when the system runs,
// Get reports false.
//
// Example:
//
//	type FallState struct {
//	    Gravity ecs.Res[Gravity]
//	    Bodies  ecs.Query[struct{ Velocity ecs.Write[Velocity] }]
//	}
type Res[R Component] struct {
	slot *resourceSlot
	meta *systemMeta
}

func (r *Res[R]) init(meta *systemMeta) error {
	slot, err := declareResource[R](meta, false)
	if err != nil {
		return err
	}
	r.slot = slot
	r.meta = meta
	return nil
}

// Get returns a copy of the resource.
func (r *Res[R]) Get() (R, bool) {
	if !r.slot.present {
		var zero R
		return zero, false
	}
	return *resourcePtr[R](r.slot), true
}

// IsChanged reports whether the resource was written since the system last ran.
func (r *Res[R]) IsChanged() bool {
	return r.slot.present && r.slot.ticks.IsChanged(r.meta.lastRun)
}

// IsAdded reports whether the resource was inserted since the system last ran.
func (r *Res[R]) IsAdded() bool {
	return r.slot.present && r.slot.ticks.IsAdded(r.meta.lastRun)
}

// ResMut gives a system write access to the resource R.
type ResMut[R Component] struct {
	Res[R]
}

func (r *ResMut[R]) init(meta *systemMeta) error {
	slot, err := declareResource[R](meta, true)
	if err != nil {
		return err
	}
	r.slot = slot
	r.meta = meta
	return nil
}

// Set stores the resource, inserting it if it's absent.
func (r *ResMut[R]) Set(value R) {
	r.slot.set(reflect.ValueOf(value), r.meta.thisRun)
}

// Mut returns a pointer to the resource and marks it changed.
func (r *ResMut[R]) Mut() (*R, bool) {
	if !r.slot.present {
		return nil, false
	}
	r.slot.ticks.Changed = r.meta.thisRun
	return resourcePtr[R](r.slot), true
}

// declareResource registers R, records the access, and returns R's slot. The slot is created here
// so that nothing writes to the resource map while systems run.
func declareResource[R Component](meta *systemMeta, write bool) (*resourceSlot, error) {
	ws := meta.world.state
	id, err := registerType[R](&ws.types)
	if err != nil {
		return nil, eris.Wrap(err, "failed to register resource")
	}
	info, _ := ws.types.info(id)

	access := &meta.access
	switch {
	case access.resWrites.Contains(uint32(id)):
		return nil, eris.Wrapf(ErrAccessConflict, "resource %s is already declared mutable", info.Name)
	case write && access.resReads.Contains(uint32(id)):
		return nil, eris.Wrapf(ErrAccessConflict, "resource %s is already declared", info.Name)
	case write:
		access.resWrites.Set(uint32(id))
	default:
		access.resReads.Set(uint32(id))
	}
	return ws.resources.slot(info), nil
}

// -------------------------------------------------------------------------------------------------
// Internal
// -------------------------------------------------------------------------------------------------

// queryField is implemented by Query fields so the scheduler can refresh their archetype caches.
type queryField interface {
	refresh()
	declared() *queryAccess
}

// Helper function to initialize fields when registering systems.
func initializeSystemState[T any](meta *systemMeta, state *T) error {
	value := reflect.ValueOf(state).Elem()
	if value.Kind() != reflect.Struct {
		return eris.Errorf("system state must be a struct, got %s", value.Type())
	}

	hasCommands := false
	for i := range value.NumField() {
		field := value.Field(i)
		fieldType := value.Type().Field(i)

		if !fieldType.IsExported() {
			return eris.Errorf("field %s must be exported", fieldType.Name)
		}

		stateField, ok := field.Addr().Interface().(systemStateField)
		if !ok {
			return eris.Errorf("field %s of type %s is not a system state field", fieldType.Name, fieldType.Type)
		}

		if _, ok := stateField.(*Commands); ok {
			if hasCommands {
				return eris.New("systems cannot declare more than one Commands field")
			}
			hasCommands = true
		}

		if err := stateField.init(meta); err != nil {
			return eris.Wrapf(err, "failed to initialize field %s", fieldType.Name)
		}

		if q, ok := stateField.(queryField); ok {
			if err := meta.addQuery(fieldType.Name, q); err != nil {
				return err
			}
		}
	}
	return nil
}

// addQuery checks a new query against the system's other queries and records it. Two queries of
// the same system that could see the same entity must not write what the other touches.
func (m *systemMeta) addQuery(name string, q queryField) error {
	access := q.declared()
	for i := range m.access.queries {
		conflict := m.access.queries[i].conflicts(access)
		if conflict.Count() == 0 {
			continue
		}
		return eris.Wrapf(ErrAccessConflict, "query %s aliases %s on types %s",
			name, m.queryNames[i], m.world.typeNames(typeIDs(conflict)))
	}
	m.access.queries = append(m.access.queries, *access)
	m.queryNames = append(m.queryNames, name)
	m.queries = append(m.queries, q)
	assert.That(len(m.queries) == len(m.access.queries), "query bookkeeping out of sync")
	return nil
}
