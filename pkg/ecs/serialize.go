package ecs

import (
	"iter"

	"github.com/rotisserie/eris"
)

// Encoding tells how the bytes of a TaggedBytes were produced.
type Encoding uint8

const (
	EncodingUndefined Encoding = iota
	// EncodingRaw is a copy of the value's memory. Only used for types that hold no pointers, and
	// only meaningful to a process with the same type layout.
	EncodingRaw
	// EncodingJSON is the value encoded as JSON. Accepted on input; values are never written as JSON.
	EncodingJSON
	// EncodingMsgpack is the value encoded as MessagePack, used for types that hold pointers.
	EncodingMsgpack
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingJSON:
		return "json"
	case EncodingMsgpack:
		return "msgpack"
	case EncodingUndefined:
		return "undefined"
	default:
		return "unknown"
	}
}

// TaggedBytes is the serialized form of one component value, tagged with its type so a reader can
// route it back into storage. Name is the stable tag across processes; Type is only valid within
// the world that produced it.
type TaggedBytes struct {
	Type     TypeID   `json:"-"`
	Name     string   `json:"name"`
	Encoding Encoding `json:"encoding"`
	Data     []byte   `json:"data"`
}

// ComponentBytes returns the serialized form of an entity's component.
func ComponentBytes(w *World, e Entity, id TypeID) (TaggedBytes, error) {
	if !Alive(w, e) {
		return TaggedBytes{}, eris.Wrapf(ErrEntityNotFound, "entity %s", e)
	}
	col, row, ok := w.state.component(e, id)
	if !ok {
		return TaggedBytes{}, eris.Wrapf(ErrComponentNotFound, "entity %s, type %d", e, id)
	}
	return taggedBytes(col, row)
}

// EntityBytes returns the serialized form of every component of an entity, in type ID order.
func EntityBytes(w *World, e Entity) ([]TaggedBytes, error) {
	loc, ok := w.state.entities.locate(e)
	if !ok {
		return nil, eris.Wrapf(ErrEntityNotFound, "entity %s", e)
	}
	arch := w.state.archetypes[loc.arch]
	out := make([]TaggedBytes, 0, len(arch.columns))
	for _, col := range arch.columns {
		tb, err := taggedBytes(col, loc.row)
		if err != nil {
			return nil, err
		}
		out = append(out, tb)
	}
	return out, nil
}

// ColumnBytes returns an iterator over the serialized values of one component type across every
// archetype that stores it. Values that fail to encode are skipped and logged.
func ColumnBytes(w *World, id TypeID) iter.Seq2[Entity, TaggedBytes] {
	return func(yield func(Entity, TaggedBytes) bool) {
		for _, arch := range w.state.archetypes {
			col, ok := arch.column(id)
			if !ok {
				continue
			}
			for row, e := range arch.entities {
				tb, err := taggedBytes(col, row)
				if err != nil {
					w.logger.Error().Err(err).Stringer("entity", e).Msg("failed to serialize component")
					continue
				}
				if !yield(e, tb) {
					return
				}
			}
		}
	}
}

// SetComponentBytes decodes tagged bytes and stores the value on an entity, overwriting or adding
// the component like Insert. The type is resolved by name when one is given, else by ID.
func SetComponentBytes(w *World, e Entity, tb TaggedBytes) error {
	info, err := resolveTagged(w, tb)
	if err != nil {
		return err
	}
	value, err := decodeValue(info, tb.Encoding, tb.Data)
	if err != nil {
		return err
	}
	return w.state.insert(e, []pendingValue{{id: info.ID, value: value}}, w.state.clock.advance())
}

// SpawnBytes creates an entity from serialized components.
func SpawnBytes(w *World, components []TaggedBytes) (Entity, error) {
	values := make([]pendingValue, 0, len(components))
	for _, tb := range components {
		info, err := resolveTagged(w, tb)
		if err != nil {
			return Entity{}, err
		}
		value, err := decodeValue(info, tb.Encoding, tb.Data)
		if err != nil {
			return Entity{}, err
		}
		values = append(values, pendingValue{id: info.ID, value: value})
	}
	values, err := sortPendingValues(values)
	if err != nil {
		return Entity{}, err
	}
	return w.state.spawn(values, w.state.clock.advance())
}

func taggedBytes(col *column, row int) (TaggedBytes, error) {
	encoding, data, err := col.serialize(row)
	if err != nil {
		return TaggedBytes{}, err
	}
	return TaggedBytes{Type: col.typeID(), Name: col.info.Name, Encoding: encoding, Data: data}, nil
}

func resolveTagged(w *World, tb TaggedBytes) (*typeInfo, error) {
	id := tb.Type
	if tb.Name != "" {
		var ok bool
		if id, ok = w.state.types.lookupName(tb.Name); !ok {
			return nil, eris.Wrapf(ErrTypeMismatch, "component %s is not registered", tb.Name)
		}
	}
	info, ok := w.state.types.info(id)
	if !ok {
		return nil, eris.Wrapf(ErrTypeMismatch, "type %d is not registered", id)
	}
	return info, nil
}
