package ecs

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/argus-labs/ecs-core/pkg/assert"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/shamaton/msgpack/v3"
)

// column stores the values of one component type for every row of an archetype, plus the change
// ticks of each value. The values live in a contiguous []T created through reflection, so the
// column itself is untyped: typed access goes through columnData, which checks the stored type ID
// before handing out the slice. The length of the column must match the archetype's entities.
type column struct {
	info    *typeInfo
	values  reflect.Value // Addressable []T
	added   []Tick
	changed []Tick
}

// newColumn creates an empty column for the given type.
func newColumn(info *typeInfo) *column {
	const initialCapacity = 16
	sliceType := reflect.SliceOf(info.Type)
	values := reflect.New(sliceType).Elem()
	values.Set(reflect.MakeSlice(sliceType, 0, initialCapacity))
	return &column{
		info:    info,
		values:  values,
		added:   make([]Tick, 0, initialCapacity),
		changed: make([]Tick, 0, initialCapacity),
	}
}

// len returns the number of rows in the column.
func (c *column) len() int {
	return len(c.changed)
}

// typeID returns the ID of the stored type.
func (c *column) typeID() TypeID {
	return c.info.ID
}

// push appends a new value, stamping it as added and changed at tick.
func (c *column) push(value reflect.Value, tick Tick) {
	assert.That(value.Type() == c.info.Type, "column %s can't hold %s", c.info.Name, value.Type())
	c.values.Set(reflect.Append(c.values, value))
	c.added = append(c.added, tick)
	c.changed = append(c.changed, tick)
}

// pushFrom appends a copy of a row of another column of the same type, keeping its ticks.
func (c *column) pushFrom(src *column, row int) {
	assert.That(src.info == c.info, "copying %s into column %s", src.info.Name, c.info.Name)
	c.values.Set(reflect.Append(c.values, src.values.Index(row)))
	c.added = append(c.added, src.added[row])
	c.changed = append(c.changed, src.changed[row])
}

// setAbstract overwrites the value at row and stamps it as changed.
func (c *column) setAbstract(row int, value reflect.Value, tick Tick) {
	assert.That(row < c.len(), "row %d out of range in column %s", row, c.info.Name)
	c.values.Index(row).Set(value)
	c.changed[row] = tick
}

// getAbstract returns the addressable value at row.
func (c *column) getAbstract(row int) reflect.Value {
	assert.That(row < c.len(), "row %d out of range in column %s", row, c.info.Name)
	return c.values.Index(row)
}

// ticks returns the change ticks of the value at row.
func (c *column) ticks(row int) ComponentTicks {
	return ComponentTicks{Added: c.added[row], Changed: c.changed[row]}
}

// markChanged stamps the value at row as changed.
func (c *column) markChanged(row int, tick Tick) {
	c.changed[row] = tick
}

// drop runs the type's drop routine on the value at row, if it has one.
func (c *column) drop(row int) {
	if c.info.drop != nil {
		c.info.drop(c.values.Index(row).Addr().Interface())
	}
}

// remove removes a row by swapping the last row into it. Expects the caller to make sure the row
// is inside the column. The vacated slot is zeroed so the backing array doesn't keep references
// alive.
func (c *column) remove(row int) {
	assert.That(row < c.len(), "tried to remove row %d from column %s", row, c.info.Name)

	last := c.len() - 1
	if row != last {
		c.values.Index(row).Set(c.values.Index(last))
		c.added[row] = c.added[last]
		c.changed[row] = c.changed[last]
	}
	c.values.Index(last).SetZero()
	c.values.SetLen(last)
	c.added = c.added[:last]
	c.changed = c.changed[:last]
}

// columnData returns the column's values as a typed slice. The cast is checked twice: the column
// must hold the expected type ID, and the backing slice must really be a []T. The slice aliases
// the column until the next structural change.
func columnData[T any](c *column, id TypeID) []T {
	assert.That(c.info.ID == id, "column %s accessed as type %d", c.info.Name, id)
	data, ok := c.values.Addr().Interface().(*[]T)
	assert.That(ok, "column %s doesn't hold %s", c.info.Name, reflect.TypeFor[T]())
	return *data
}

// -------------------------------------------------------------------------------------------------
// Serialization
// -------------------------------------------------------------------------------------------------

// serialize encodes the value at row. Pointer-free types are copied byte for byte, everything else
// is encoded as MessagePack.
func (c *column) serialize(row int) (Encoding, []byte, error) {
	value := c.getAbstract(row)
	if c.info.Raw {
		data := make([]byte, c.info.Size)
		if c.info.Size > 0 {
			copy(data, unsafe.Slice((*byte)(value.Addr().UnsafePointer()), c.info.Size))
		}
		return EncodingRaw, data, nil
	}

	data, err := msgpack.Marshal(value.Interface())
	if err != nil {
		return EncodingUndefined, nil, eris.Wrapf(err, "failed to encode %s", c.info.Name)
	}
	return EncodingMsgpack, data, nil
}

// decodeValue turns serialized bytes back into a value of the column's type.
func decodeValue(info *typeInfo, encoding Encoding, data []byte) (reflect.Value, error) {
	value := reflect.New(info.Type).Elem()

	switch encoding {
	case EncodingRaw:
		if !info.Raw {
			return reflect.Value{}, eris.Wrapf(ErrTypeMismatch, "%s can't be restored from raw bytes", info.Name)
		}
		if uintptr(len(data)) != info.Size {
			return reflect.Value{}, eris.Wrapf(ErrTypeMismatch,
				"%s is %d bytes, got %d", info.Name, info.Size, len(data))
		}
		if info.Size > 0 {
			copy(unsafe.Slice((*byte)(value.Addr().UnsafePointer()), info.Size), data)
		}
	case EncodingJSON:
		if err := json.Unmarshal(data, value.Addr().Interface()); err != nil {
			return reflect.Value{}, eris.Wrapf(err, "failed to decode %s", info.Name)
		}
	case EncodingMsgpack:
		if err := unmarshalMsgpack(data, value.Addr().Interface()); err != nil {
			return reflect.Value{}, eris.Wrapf(err, "failed to decode %s", info.Name)
		}
	case EncodingUndefined:
		fallthrough
	default:
		return reflect.Value{}, eris.Errorf("unknown encoding %d for %s", encoding, info.Name)
	}

	return value, nil
}

// unmarshalMsgpack turns the panics msgpack raises on some malformed inputs into errors.
func unmarshalMsgpack(data []byte, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed msgpack: %v", r)
		}
	}()
	return msgpack.Unmarshal(data, v)
}
