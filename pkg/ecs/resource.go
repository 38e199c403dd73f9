package ecs

import (
	"reflect"

	"github.com/argus-labs/ecs-core/pkg/assert"
)

// resourceSlot stores one resource value. Slots are created when a resource is first inserted or
// declared by a system and are never removed, so the slot map is only written outside of runs;
// removing a resource just clears the slot.
type resourceSlot struct {
	info    *typeInfo
	value   reflect.Value // Addressable value of the resource type
	present bool
	ticks   ComponentTicks
}

// resourceStore holds the world's singleton values keyed by type.
type resourceStore struct {
	slots map[TypeID]*resourceSlot
}

func newResourceStore() resourceStore {
	return resourceStore{slots: make(map[TypeID]*resourceSlot)}
}

// slot returns the slot for a resource type, creating an empty one if needed.
func (rs *resourceStore) slot(info *typeInfo) *resourceSlot {
	if s, ok := rs.slots[info.ID]; ok {
		return s
	}
	s := &resourceSlot{info: info, value: reflect.New(info.Type).Elem()}
	rs.slots[info.ID] = s
	return s
}

// lookup returns the slot of a resource type if one exists.
func (rs *resourceStore) lookup(id TypeID) (*resourceSlot, bool) {
	s, ok := rs.slots[id]
	return s, ok
}

// set stores a value. Overwriting a present value drops the old one and counts as a change,
// storing into an empty slot counts as an add.
func (s *resourceSlot) set(value reflect.Value, tick Tick) {
	if s.present {
		s.drop()
	} else {
		s.ticks.Added = tick
	}
	s.value.Set(value)
	s.present = true
	s.ticks.Changed = tick
}

// take clears the slot and returns a copy of the removed value.
func (s *resourceSlot) take() (reflect.Value, bool) {
	if !s.present {
		return reflect.Value{}, false
	}
	value := reflect.New(s.info.Type).Elem()
	value.Set(s.value)
	s.value.SetZero()
	s.present = false
	return value, true
}

func (s *resourceSlot) drop() {
	if s.info.drop != nil && s.present {
		s.info.drop(s.value.Addr().Interface())
	}
}

// resourcePtr returns a typed pointer to the slot's value.
func resourcePtr[R any](s *resourceSlot) *R {
	ptr, ok := s.value.Addr().Interface().(*R)
	assert.That(ok, "resource %s accessed as %s", s.info.Name, reflect.TypeFor[R]())
	return ptr
}

// -------------------------------------------------------------------------------------------------
// Public resource API
// -------------------------------------------------------------------------------------------------

// InsertResource stores a resource, replacing any previous value of the same type.
func InsertResource[R Component](w *World, resource R) error {
	id, err := registerType[R](&w.state.types)
	if err != nil {
		return err
	}
	info, _ := w.state.types.info(id)
	w.state.resources.slot(info).set(reflect.ValueOf(resource), w.state.clock.advance())
	return nil
}

// GetResource returns a copy of a resource.
func GetResource[R Component](w *World) (R, bool) {
	var zero R
	s, ok := lookupResource[R](w)
	if !ok {
		return zero, false
	}
	return *resourcePtr[R](s), true
}

// ResourceMut returns a pointer to a resource and marks it changed.
func ResourceMut[R Component](w *World) (*R, bool) {
	s, ok := lookupResource[R](w)
	if !ok {
		return nil, false
	}
	s.ticks.Changed = w.state.clock.advance()
	return resourcePtr[R](s), true
}

// RemoveResource removes a resource and hands it back to the caller.
func RemoveResource[R Component](w *World) (R, bool) {
	var zero R
	s, ok := lookupResource[R](w)
	if !ok {
		return zero, false
	}
	value, _ := s.take()
	resource, _ := value.Interface().(R)
	return resource, true
}

// ResourceTicks returns the change ticks of a resource.
func ResourceTicks[R Component](w *World) (ComponentTicks, bool) {
	s, ok := lookupResource[R](w)
	if !ok {
		return ComponentTicks{}, false
	}
	return s.ticks, true
}

func lookupResource[R Component](w *World) (*resourceSlot, bool) {
	id, ok := TypeOf[R](w)
	if !ok {
		return nil, false
	}
	s, ok := w.state.resources.lookup(id)
	if !ok || !s.present {
		return nil, false
	}
	return s, true
}
