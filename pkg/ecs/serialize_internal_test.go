package ecs

import (
	"testing"

	"github.com/argus-labs/ecs-core/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize_EntityRoundTrip(t *testing.T) {
	t.Parallel()

	src := newTestWorld(t)
	e, err := Spawn(src,
		testutils.Position{X: 1, Y: 2},
		testutils.Inventory{Owner: "alice", Items: []string{"sword", "shield"}},
		testutils.PlayerTag{},
	)
	require.NoError(t, err)

	tagged, err := EntityBytes(src, e)
	require.NoError(t, err)
	require.Len(t, tagged, 3)

	// A second world registers the same types in a different order, so IDs differ and only names
	// can route the bytes.
	dst := newTestWorld(t)
	_, err = RegisterComponent[testutils.PlayerTag](dst)
	require.NoError(t, err)
	_, err = RegisterComponent[testutils.Inventory](dst)
	require.NoError(t, err)
	_, err = RegisterComponent[testutils.Position](dst)
	require.NoError(t, err)

	copied, err := SpawnBytes(dst, tagged)
	require.NoError(t, err)

	p, ok := Get[testutils.Position](dst, copied)
	require.True(t, ok)
	assert.Equal(t, testutils.Position{X: 1, Y: 2}, p)
	inv, ok := Get[testutils.Inventory](dst, copied)
	require.True(t, ok)
	assert.Equal(t, []string{"sword", "shield"}, inv.Items)
	assert.True(t, Has[testutils.PlayerTag](dst, copied))
}

func TestSerialize_ComponentBytesErrors(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	e, err := Spawn(w, testutils.Position{})
	require.NoError(t, err)
	vel, err := RegisterComponent[testutils.Velocity](w)
	require.NoError(t, err)
	pos, _ := TypeOf[testutils.Position](w)

	_, err = ComponentBytes(w, e, vel)
	require.ErrorIs(t, err, ErrComponentNotFound)

	tb, err := ComponentBytes(w, e, pos)
	require.NoError(t, err)
	assert.Equal(t, "position", tb.Name)
	assert.Equal(t, EncodingRaw, tb.Encoding)

	Despawn(w, e)
	_, err = ComponentBytes(w, e, pos)
	require.ErrorIs(t, err, ErrEntityNotFound)
	_, err = EntityBytes(w, e)
	require.ErrorIs(t, err, ErrEntityNotFound)
}

func TestSerialize_SetComponentBytes(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	e, err := Spawn(w, testutils.Health{HP: 1})
	require.NoError(t, err)
	other, err := Spawn(w, testutils.Health{HP: 50}, testutils.Position{X: 3})
	require.NoError(t, err)

	hp, _ := TypeOf[testutils.Health](w)
	pos, _ := TypeOf[testutils.Position](w)
	tbHealth, err := ComponentBytes(w, other, hp)
	require.NoError(t, err)
	tbPos, err := ComponentBytes(w, other, pos)
	require.NoError(t, err)

	// Overwrite in place, then add by migrating.
	require.NoError(t, SetComponentBytes(w, e, tbHealth))
	require.NoError(t, SetComponentBytes(w, e, TaggedBytes{Type: pos, Encoding: tbPos.Encoding, Data: tbPos.Data}))

	h, _ := Get[testutils.Health](w, e)
	assert.Equal(t, 50, h.HP)
	p, _ := Get[testutils.Position](w, e)
	assert.InDelta(t, 3.0, p.X, 0)

	err = SetComponentBytes(w, e, TaggedBytes{Name: "unknown", Encoding: EncodingRaw})
	require.ErrorIs(t, err, ErrTypeMismatch)

	err = SetComponentBytes(w, e, TaggedBytes{Name: "health", Encoding: EncodingRaw, Data: []byte{1}})
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestSerialize_ColumnBytes(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	want := make(map[Entity]int)
	for i := range 10 {
		components := []Component{testutils.Health{HP: i}}
		if i%2 == 0 {
			components = append(components, testutils.Position{})
		}
		e, err := Spawn(w, components...)
		require.NoError(t, err)
		want[e] = i
	}
	hp, _ := TypeOf[testutils.Health](w)

	got := make(map[Entity]int)
	for e, tb := range ColumnBytes(w, hp) {
		value, err := decodeValue(mustInfo(t, w, hp), tb.Encoding, tb.Data)
		require.NoError(t, err)
		got[e] = value.Interface().(testutils.Health).HP //nolint:forcetypeassert // decoded as Health
	}
	assert.Equal(t, want, got)

	// Stopping early is fine.
	n := 0
	for range ColumnBytes(w, hp) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func mustInfo(t *testing.T, w *World, id TypeID) *typeInfo {
	t.Helper()
	info, ok := w.state.types.info(id)
	require.True(t, ok)
	return info
}
