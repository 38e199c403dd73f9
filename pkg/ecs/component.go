package ecs

import (
	"math"
	"reflect"
	"sync"

	"github.com/argus-labs/ecs-core/pkg/assert"
	"github.com/rotisserie/eris"
)

// TypeID is the runtime identifier of a registered component or resource type. IDs are dense and
// assigned in registration order, which makes them usable as bitmap positions.
type TypeID uint32

// MaxTypeID is the maximum number of types that can be registered.
const MaxTypeID = math.MaxUint32 - 1

// Component is the interface that all components and resources must implement. Components are
// plain value types; behavior lives in systems. The name must be unique within a world and stable
// across processes since it tags serialized bytes.
type Component interface {
	Name() string
}

// Dropper is implemented by component types whose values hold something that must be released
// when a value stops existing in storage (overwritten, deferred-removed, or despawned with its
// entity). Drop is called on a pointer to the stored value.
type Dropper interface {
	Drop()
}

// Descriptor is what a registration layer supplies for a type. The core never looks at the type's
// fields; it only needs a name, the Go type, and an optional drop routine.
type Descriptor struct {
	Name string
	Type reflect.Type
	Drop func(value any) // Receives a pointer to the value that ceases to exist, may be nil
}

// TypeInfo is the metadata stored for a registered type.
type TypeInfo struct {
	ID    TypeID
	Name  string
	Type  reflect.Type
	Size  uintptr
	Align uintptr
	// Raw is true when the type holds no pointers, in which case its bytes can be copied out of
	// and into storage directly.
	Raw bool
}

// typeInfo is the internal, shared form of TypeInfo.
type typeInfo struct {
	TypeInfo
	drop func(value any)
}

// typeRegistry maps Go types to type IDs and holds their metadata. Lookups happen while systems
// run, registration happens when systems and schedules are built or when a world-level operation
// sees a new type, hence the RWMutex.
type typeRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]TypeID
	byName map[string]TypeID
	infos  []*typeInfo // Type ID -> metadata
}

// newTypeRegistry creates a new type registry.
func newTypeRegistry() typeRegistry {
	return typeRegistry{
		byType: make(map[reflect.Type]TypeID),
		byName: make(map[string]TypeID),
		infos:  make([]*typeInfo, 0),
	}
}

// register registers a type. Registering the same type under the same name again returns the
// existing ID.
func (r *typeRegistry) register(desc Descriptor) (TypeID, error) {
	if desc.Name == "" {
		return 0, eris.New("component name cannot be empty")
	}
	if desc.Type == nil {
		return 0, eris.Errorf("component %s has no type", desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.byType[desc.Type]; exists {
		if r.infos[id].Name != desc.Name {
			return 0, eris.Errorf("type %s is already registered as %s", desc.Type, r.infos[id].Name)
		}
		return id, nil
	}
	if id, exists := r.byName[desc.Name]; exists {
		return 0, eris.Errorf("component name %s is already used by type %s", desc.Name, r.infos[id].Type)
	}
	if len(r.infos) > MaxTypeID {
		return 0, eris.New("max number of component types exceeded")
	}

	id := TypeID(len(r.infos)) //nolint:gosec // bounded by MaxTypeID
	r.infos = append(r.infos, &typeInfo{
		TypeInfo: TypeInfo{
			ID:    id,
			Name:  desc.Name,
			Type:  desc.Type,
			Size:  desc.Type.Size(),
			Align: uintptr(desc.Type.Align()),
			Raw:   !hasPointers(desc.Type),
		},
		drop: desc.Drop,
	})
	r.byType[desc.Type] = id
	r.byName[desc.Name] = id
	assert.That(len(r.byType) == len(r.infos), "type registry maps out of sync")

	return id, nil
}

// lookup returns the ID of a registered Go type.
func (r *typeRegistry) lookup(typ reflect.Type) (TypeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[typ]
	return id, ok
}

// lookupName returns the ID of the type registered under name.
func (r *typeRegistry) lookupName(name string) (TypeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// info returns the metadata of a registered type ID.
func (r *typeRegistry) info(id TypeID) (*typeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.infos) {
		return nil, false
	}
	return r.infos[id], true
}

// registerType registers T, deriving its descriptor from the Component and Dropper interfaces.
func registerType[T Component](r *typeRegistry) (TypeID, error) {
	typ := reflect.TypeFor[T]()
	if id, ok := r.lookup(typ); ok {
		return id, nil
	}

	var zero T
	desc := Descriptor{Name: zero.Name(), Type: typ}
	if _, ok := any(&zero).(Dropper); ok {
		desc.Drop = func(value any) {
			value.(Dropper).Drop() //nolint:errcheck,forcetypeassert // checked above
		}
	}
	return r.register(desc)
}

// registerValue registers the dynamic type of a component value.
func registerValue(r *typeRegistry, component Component) (TypeID, error) {
	if component == nil {
		return 0, eris.New("component cannot be nil")
	}
	typ := reflect.TypeOf(component)
	if id, ok := r.lookup(typ); ok {
		return id, nil
	}

	desc := Descriptor{Name: component.Name(), Type: typ}
	if reflect.PointerTo(typ).Implements(reflect.TypeFor[Dropper]()) {
		desc.Drop = func(value any) {
			value.(Dropper).Drop() //nolint:errcheck,forcetypeassert // checked above
		}
	}
	return r.register(desc)
}

// hasPointers reports whether values of typ contain anything the garbage collector must trace.
func hasPointers(typ reflect.Type) bool {
	switch typ.Kind() { //nolint:exhaustive // everything else holds pointers
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return typ.Len() > 0 && hasPointers(typ.Elem())
	case reflect.Struct:
		for i := range typ.NumField() {
			if hasPointers(typ.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// -------------------------------------------------------------------------------------------------
// Public registration API
// -------------------------------------------------------------------------------------------------

// Register registers a type from an externally supplied descriptor.
func Register(w *World, desc Descriptor) (TypeID, error) {
	return w.state.types.register(desc)
}

// RegisterComponent registers T as a component or resource type. Types are also registered
// automatically on first use, so calling this is only needed to fix IDs up front.
func RegisterComponent[T Component](w *World) (TypeID, error) {
	return registerType[T](&w.state.types)
}

// TypeOf returns the ID of T if it has been registered.
func TypeOf[T Component](w *World) (TypeID, bool) {
	return w.state.types.lookup(reflect.TypeFor[T]())
}

// TypeInfo returns the metadata of a registered type.
func (w *World) TypeInfo(id TypeID) (TypeInfo, bool) {
	info, ok := w.state.types.info(id)
	if !ok {
		return TypeInfo{}, false
	}
	return info.TypeInfo, true
}

// TypeByName returns the ID of the type registered under name.
func (w *World) TypeByName(name string) (TypeID, bool) {
	return w.state.types.lookupName(name)
}
