package ecs

import (
	"context"
	"errors"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/argus-labs/ecs-core/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type movementState struct {
	Movers Query[struct {
		Position Write[testutils.Position]
		Velocity Read[testutils.Velocity]
	}]
}

func movementSystem(state *movementState) error {
	for _, m := range state.Movers.Iter() {
		p, v := m.Position.Get(), m.Velocity.Get()
		m.Position.Set(testutils.Position{X: p.X + v.X, Y: p.Y + v.Y})
	}
	return nil
}

type gravityState struct {
	Gravity Res[testutils.Gravity]
	Falling Query[struct{ Velocity Write[testutils.Velocity] }]
}

func gravitySystem(state *gravityState) error {
	g, ok := state.Gravity.Get()
	if !ok {
		return nil
	}
	for _, f := range state.Falling.Iter() {
		f.Velocity.Mut().Y += g.Y
	}
	return nil
}

type scoreState struct {
	Players Query[struct {
		Tag    With[testutils.PlayerTag]
		Health Read[testutils.Health]
	}]
	Score ResMut[testutils.Score]
}

func scoreSystem(state *scoreState) error {
	total := 0
	for _, p := range state.Players.Iter() {
		total += p.Health.Get().HP
	}
	state.Score.Set(testutils.Score{Points: total})
	return nil
}

type emptyState struct{}

func noopSystem(*emptyState) error { return nil }

func runOnce(t *testing.T, s *Schedule) RunReport {
	t.Helper()
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	return report
}

func TestSchedule_MovementRunsTwice(t *testing.T) {
	t.Parallel()

	for _, opts := range []WorldOptions{{Workers: 4}, {SingleThreaded: true}} {
		w := newTestWorld(t, opts)
		e, err := Spawn(w, testutils.Position{}, testutils.Velocity{X: 1})
		require.NoError(t, err)

		s := NewSchedule(w, "test")
		require.NoError(t, AddSystem(s, movementSystem))
		runOnce(t, s)
		runOnce(t, s)

		p, _ := Get[testutils.Position](w, e)
		assert.Equal(t, testutils.Position{X: 2, Y: 0}, p)
		assert.Equal(t, uint64(2), w.Frame())
	}
}

func TestSchedule_SystemNames(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	s := NewSchedule(w, "test")
	require.NoError(t, AddSystem(s, movementSystem))
	require.NoError(t, AddSystem(s, noopSystem, WithName("custom")))
	assert.Equal(t, []string{"ecs.movementSystem", "custom"}, s.Systems())

	err := AddSystem(s, noopSystem, WithName("custom"))
	require.ErrorIs(t, err, ErrDuplicateSystem)

	err = AddSystem[emptyState](s, nil)
	require.Error(t, err)
}

func TestSchedule_BuildErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(s *Schedule) error
		wantErr error
		wantMsg string
	}{
		{
			name: "cycle through options",
			setup: func(s *Schedule) error {
				return errors.Join(
					AddSystem(s, noopSystem, WithName("a"), Before("b")),
					AddSystem(s, noopSystem, WithName("b"), Before("a")),
				)
			},
			wantErr: ErrScheduleCycle,
			wantMsg: "a -> b -> a",
		},
		{
			name: "cycle through order",
			setup: func(s *Schedule) error {
				return errors.Join(
					AddSystem(s, noopSystem, WithName("a")),
					AddSystem(s, noopSystem, WithName("b"), After("a")),
					AddSystem(s, noopSystem, WithName("c"), After("b")),
					s.Order("c", "a"),
				)
			},
			wantErr: ErrScheduleCycle,
			wantMsg: "a -> b -> c -> a",
		},
		{
			name: "unknown system",
			setup: func(s *Schedule) error {
				return AddSystem(s, noopSystem, WithName("a"), After("missing"))
			},
			wantErr: ErrUnknownSystem,
			wantMsg: "missing",
		},
		{
			name: "unknown system in order",
			setup: func(s *Schedule) error {
				return errors.Join(
					AddSystem(s, noopSystem, WithName("a")),
					s.Order("a", "missing"),
				)
			},
			wantErr: ErrUnknownSystem,
			wantMsg: "missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := newTestWorld(t)
			s := NewSchedule(w, "test")
			require.NoError(t, tt.setup(s))

			err := s.Build()
			require.ErrorIs(t, err, tt.wantErr)
			assert.ErrorContains(t, err, tt.wantMsg)
			assert.Equal(t, Unbuilt, s.State())

			// Running reports the same error without running anything.
			_, err = s.Run(context.Background())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, uint64(0), w.Frame())
		})
	}
}

type positionWriterState struct {
	Q Query[struct{ Position Write[testutils.Position] }]
}

type velocityWriterState struct {
	Q Query[struct{ Velocity Write[testutils.Velocity] }]
}

type positionReaderState struct {
	Q Query[struct{ Position Read[testutils.Position] }]
}

func TestSchedule_BuildMinimalGraphs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		add     func(t *testing.T, s *Schedule)
		ordered [][2]string
	}{
		{
			name: "writer then reader of one type",
			add: func(t *testing.T, s *Schedule) {
				require.NoError(t, AddSystem(s, func(*positionWriterState) error { return nil }, WithName("writer")))
				require.NoError(t, AddSystem(s, func(*positionReaderState) error { return nil }, WithName("reader")))
			},
			ordered: [][2]string{{"writer", "reader"}},
		},
		{
			name: "two writers of one resource",
			add: func(t *testing.T, s *Schedule) {
				require.NoError(t, AddSystem(s, scoreSystem, WithName("first")))
				require.NoError(t, AddSystem(s, scoreSystem, WithName("second")))
			},
			ordered: [][2]string{{"first", "second"}},
		},
		{
			name: "after edge into a leaf",
			add: func(t *testing.T, s *Schedule) {
				require.NoError(t, AddSystem(s, noopSystem, WithName("a")))
				require.NoError(t, AddSystem(s, noopSystem, WithName("b"), After("a")))
			},
			ordered: [][2]string{{"a", "b"}},
		},
		{
			name: "before edge against registration order",
			add: func(t *testing.T, s *Schedule) {
				require.NoError(t, AddSystem(s, noopSystem, WithName("a")))
				require.NoError(t, AddSystem(s, noopSystem, WithName("b"), Before("a")))
				require.NoError(t, AddSystem(s, noopSystem, WithName("c"), After("a")))
			},
			ordered: [][2]string{{"b", "a"}, {"a", "c"}, {"b", "c"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewSchedule(newTestWorld(t), "test")
			tt.add(t, s)
			require.NoError(t, s.Build())
			for _, pair := range tt.ordered {
				assert.True(t, s.Ordered(pair[0], pair[1]), "%s must run before %s", pair[0], pair[1])
				assert.False(t, s.Ordered(pair[1], pair[0]))
			}
			runOnce(t, s)
		})
	}
}

func TestSchedule_ImplicitOrdering(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	s := NewSchedule(w, "test")
	require.NoError(t, AddSystem(s, func(*positionWriterState) error { return nil }, WithName("pos")))
	require.NoError(t, AddSystem(s, func(*velocityWriterState) error { return nil }, WithName("vel")))
	require.NoError(t, AddSystem(s, func(*positionReaderState) error { return nil }, WithName("reader")))
	require.NoError(t, AddSystem(s, func(*positionReaderState) error { return nil }, WithName("reader2")))
	require.NoError(t, s.Build())

	// Disjoint writes run in parallel.
	assert.False(t, s.Ordered("pos", "vel"))
	assert.False(t, s.Ordered("vel", "pos"))

	// A reader after a writer of the same type waits, in registration order.
	assert.True(t, s.Ordered("pos", "reader"))
	assert.False(t, s.Ordered("reader", "pos"))

	// Two readers don't.
	assert.False(t, s.Ordered("reader", "reader2"))
	assert.False(t, s.Ordered("reader2", "reader"))
}

func TestSchedule_ExplicitOrderOverridesRegistrationOrder(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	s := NewSchedule(w, "test")
	require.NoError(t, AddSystem(s, func(*positionReaderState) error { return nil }, WithName("reader")))
	require.NoError(t, AddSystem(s, func(*positionWriterState) error { return nil },
		WithName("writer"), Before("reader")))
	require.NoError(t, s.Build())

	assert.True(t, s.Ordered("writer", "reader"))
	assert.False(t, s.Ordered("reader", "writer"))
}

func TestSchedule_StrictConflicts(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t, WorldOptions{StrictConflicts: true})
	s := NewSchedule(w, "test")
	require.NoError(t, AddSystem(s, func(*positionWriterState) error { return nil }, WithName("writer")))
	require.NoError(t, AddSystem(s, func(*positionReaderState) error { return nil }, WithName("reader")))

	err := s.Build()
	require.ErrorIs(t, err, ErrAccessConflict)
	assert.ErrorContains(t, err, "writer")
	assert.ErrorContains(t, err, "reader")

	require.NoError(t, s.Order("writer", "reader"))
	require.NoError(t, s.Build())
	assert.True(t, s.Ordered("writer", "reader"))

	// Exclusive systems are ordered implicitly even in strict mode.
	require.NoError(t, s.AddSyncPoint("sync"))
	require.NoError(t, s.Build())
	assert.True(t, s.Ordered("reader", "sync"))
}

func TestSchedule_IntraSystemAliasing(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	s := NewSchedule(w, "test")

	type aliasing struct {
		A Query[struct{ Position Write[testutils.Position] }]
		B Query[struct{ Position Read[testutils.Position] }]
	}
	err := AddSystem(s, func(*aliasing) error { return nil })
	require.ErrorIs(t, err, ErrAccessConflict)

	type filtered struct {
		A Query[struct {
			Position Write[testutils.Position]
			Player   With[testutils.PlayerTag]
		}]
		B Query[struct {
			Position Read[testutils.Position]
			Player   Without[testutils.PlayerTag]
		}]
	}
	require.NoError(t, AddSystem(s, func(*filtered) error { return nil }))

	type doubleResMut struct {
		A ResMut[testutils.Score]
		B ResMut[testutils.Score]
	}
	err = AddSystem(s, func(*doubleResMut) error { return nil })
	require.ErrorIs(t, err, ErrAccessConflict)

	type twoCommands struct {
		A Commands
		B Commands
	}
	require.Error(t, AddSystem(s, func(*twoCommands) error { return nil }))

	type notAField struct {
		Count int
	}
	require.Error(t, AddSystem(s, func(*notAField) error { return nil }))

	assert.Len(t, s.Systems(), 1)
}

// -------------------------------------------------------------------------------------------------
// Executors
// -------------------------------------------------------------------------------------------------

// populate fills a world with a reproducible mix of entities.
func populate(t *testing.T, w *World, seed uint64) []Entity {
	t.Helper()
	prng := rand.New(rand.NewPCG(seed, seed))

	entities := make([]Entity, 0, 256)
	for range 256 {
		components := []Component{testutils.Position{X: prng.Float64(), Y: prng.Float64()}}
		if prng.IntN(2) == 0 {
			components = append(components, testutils.Velocity{X: prng.Float64()})
		}
		if prng.IntN(3) == 0 {
			components = append(components, testutils.PlayerTag{}, testutils.Health{HP: prng.IntN(100)})
		}
		e, err := Spawn(w, components...)
		require.NoError(t, err)
		entities = append(entities, e)
	}
	require.NoError(t, InsertResource(w, testutils.Gravity{Y: -0.5}))
	return entities
}

func TestSchedule_ExecutorsAgree(t *testing.T) {
	t.Parallel()

	build := func(opts WorldOptions) (*World, []Entity) {
		w := newTestWorld(t, opts)
		entities := populate(t, w, 42)
		s := w.Schedule(Update)
		require.NoError(t, RegisterSystem(w, gravitySystem))
		require.NoError(t, RegisterSystem(w, movementSystem))
		require.NoError(t, RegisterSystem(w, scoreSystem))
		for range 10 {
			_, err := s.Run(context.Background())
			require.NoError(t, err)
		}
		return w, entities
	}

	single, entities := build(WorldOptions{SingleThreaded: true})
	pool, _ := build(WorldOptions{Workers: 8})

	for _, e := range entities {
		ps, _ := Get[testutils.Position](single, e)
		pp, _ := Get[testutils.Position](pool, e)
		assert.Equal(t, ps, pp, "position of %s differs", e)
		vs, _ := Get[testutils.Velocity](single, e)
		vp, _ := Get[testutils.Velocity](pool, e)
		assert.Equal(t, vs, vp, "velocity of %s differs", e)
	}
	ss, _ := GetResource[testutils.Score](single)
	sp, _ := GetResource[testutils.Score](pool)
	assert.Equal(t, ss, sp)
	assert.Positive(t, ss.Points)
}

func TestSchedule_ParallelSystemsOverlap(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t, WorldOptions{Workers: 2})
	s := NewSchedule(w, "test")

	// Two systems without conflicts must be able to run at the same time: each waits for the other
	// to have started.
	var started atomic.Int32
	wait := func(*emptyState) error {
		started.Add(1)
		for started.Load() < 2 {
			runtime.Gosched()
		}
		return nil
	}
	require.NoError(t, AddSystem(s, wait, WithName("a")))
	require.NoError(t, AddSystem(s, wait, WithName("b")))

	report := runOnce(t, s)
	workers := []int{report.Records[0].Worker, report.Records[1].Worker}
	assert.ElementsMatch(t, []int{0, 1}, workers)
}

// -------------------------------------------------------------------------------------------------
// Commands and sync points
// -------------------------------------------------------------------------------------------------

type despawnerState struct {
	Commands Commands
	Q        Query[struct{ Health Read[testutils.Health] }]
}

type inserterState struct {
	Commands Commands
	Q        Query[struct{ Health Read[testutils.Health] }]
}

func TestSchedule_CommandsApplyAfterRun(t *testing.T) {
	t.Parallel()

	type remover struct {
		Commands Commands
		Q        Query[struct{ Velocity Read[testutils.Velocity] }]
	}

	w := newTestWorld(t, WorldOptions{Workers: 4})
	e, err := Spawn(w, testutils.Position{}, testutils.Velocity{X: 1})
	require.NoError(t, err)

	s := NewSchedule(w, "test")
	require.NoError(t, AddSystem(s, func(state *remover) error {
		for mover := range state.Q.Iter() {
			RemoveDeferred[testutils.Velocity](&state.Commands, mover)
		}
		// Nothing is applied while the system runs.
		if !Has[testutils.Velocity](w, e) {
			return errors.New("velocity removed early")
		}
		return nil
	}, WithName("remover")))
	require.NoError(t, AddSystem(s, func(state *healerState) error {
		for target := range state.Q.Iter() {
			state.Commands.Insert(target, testutils.Health{HP: 7})
		}
		return nil
	}, WithName("other")))

	runOnce(t, s)
	assert.False(t, s.Ordered("remover", "other"), "systems must be able to run together")

	// Both buffers were applied: the removal and the unrelated insert on the same entity.
	assert.False(t, Has[testutils.Velocity](w, e))
	assert.True(t, Has[testutils.Position](w, e))
	h, ok := Get[testutils.Health](w, e)
	require.True(t, ok)
	assert.Equal(t, 7, h.HP)
}

type healerState struct {
	Commands Commands
	Q        Query[struct{ Position Write[testutils.Position] }]
}

func TestSchedule_StaleCommandsAreDropped(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t, WorldOptions{Workers: 4})
	e, err := Spawn(w, testutils.Health{HP: 1})
	require.NoError(t, err)

	s := NewSchedule(w, "test")
	require.NoError(t, AddSystem(s, func(state *despawnerState) error {
		for e := range state.Q.Iter() {
			state.Commands.Despawn(e)
		}
		return nil
	}, WithName("despawner")))
	require.NoError(t, AddSystem(s, func(state *inserterState) error {
		for e := range state.Q.Iter() {
			state.Commands.Insert(e, testutils.Position{})
		}
		return nil
	}, WithName("inserter"), After("despawner")))

	runOnce(t, s)
	assert.False(t, Alive(w, e))
	assert.Equal(t, 0, Len(w))
}

type spawnerState struct {
	Commands Commands
}

func TestSchedule_SyncPoint(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t, WorldOptions{Workers: 4})
	s := NewSchedule(w, "test")

	var spawned Entity
	require.NoError(t, AddSystem(s, func(state *spawnerState) error {
		spawned = state.Commands.Spawn(testutils.Position{X: 7})
		return nil
	}, WithName("spawner")))
	require.NoError(t, s.AddSyncPoint("sync"))

	var seen int
	require.NoError(t, AddSystem(s, func(state *positionReaderState) error {
		for _, r := range state.Q.Iter() {
			if r.Position.Get().X == 7 {
				seen++
			}
		}
		return nil
	}, WithName("reader")))
	require.NoError(t, AddSystem(s, noopSystem, WithName("after"), After("sync")))

	require.NoError(t, s.Build())
	assert.True(t, s.Ordered("spawner", "sync"))
	assert.True(t, s.Ordered("sync", "reader"))
	assert.True(t, s.Ordered("spawner", "reader"))

	runOnce(t, s)
	assert.Equal(t, 1, seen, "the reader must see the entity spawned before the sync point")
	assert.True(t, Alive(w, spawned))
}

func TestSchedule_ExclusiveSystemIsABarrier(t *testing.T) {
	t.Parallel()

	type exclusiveState struct {
		World Exclusive
	}

	w := newTestWorld(t, WorldOptions{Workers: 4})
	s := NewSchedule(w, "test")
	require.NoError(t, AddSystem(s, func(*positionWriterState) error { return nil }, WithName("first")))
	require.NoError(t, AddSystem(s, func(state *exclusiveState) error {
		_, err := Spawn(state.World.World(), testutils.Velocity{})
		return err
	}, WithName("exclusive")))
	require.NoError(t, AddSystem(s, func(*velocityWriterState) error { return nil }, WithName("last")))
	require.NoError(t, s.Build())

	assert.True(t, s.Ordered("first", "exclusive"))
	assert.True(t, s.Ordered("exclusive", "last"))

	runOnce(t, s)
	assert.Equal(t, 1, Len(w))
}

func TestSchedule_FailedSystems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		policy    FailedCommandPolicy
		wantAlive bool
	}{
		{name: "apply", policy: ApplyFailedCommands, wantAlive: true},
		{name: "discard", policy: DiscardFailedCommands, wantAlive: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := newTestWorld(t, WorldOptions{Workers: 4, FailedCommands: tt.policy})
			s := NewSchedule(w, "test")

			var spawned Entity
			require.NoError(t, AddSystem(s, func(state *spawnerState) error {
				spawned = state.Commands.Spawn(testutils.Health{HP: 1})
				return errors.New("boom")
			}, WithName("failing")))
			var ran atomic.Bool
			require.NoError(t, AddSystem(s, func(*emptyState) error {
				ran.Store(true)
				return nil
			}, WithName("healthy")))

			report, err := s.Run(context.Background())
			require.Error(t, err)
			assert.ErrorContains(t, err, "system failing failed")
			assert.ErrorContains(t, err, "boom")
			assert.True(t, ran.Load(), "other systems must still run")
			assert.Equal(t, tt.wantAlive, Alive(w, spawned))

			assert.True(t, report.Failed())
			require.Len(t, report.Records, 2)
			assert.Error(t, report.Records[0].Err)
			assert.NoError(t, report.Records[1].Err)
			assert.Equal(t, Completed, s.State())

			// The schedule can run again.
			_, err = s.Run(context.Background())
			require.Error(t, err)
		})
	}
}

// -------------------------------------------------------------------------------------------------
// Change detection across systems
// -------------------------------------------------------------------------------------------------

type healthChangedState struct {
	Q Query[struct{ Health Changed[testutils.Health] }]
}

type healthWriterState struct {
	Q Query[struct{ Health Write[testutils.Health] }]
}

func TestSchedule_ChangeDetection(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t, WorldOptions{SingleThreaded: true})
	_, err := Spawn(w, testutils.Health{HP: 1})
	require.NoError(t, err)

	s := NewSchedule(w, "test")
	writes := true
	require.NoError(t, AddSystem(s, func(state *healthWriterState) error {
		if !writes {
			return nil
		}
		for _, h := range state.Q.Iter() {
			h.Health.Mut().HP++
		}
		return nil
	}, WithName("writer")))

	var seen []int
	require.NoError(t, AddSystem(s, func(state *healthChangedState) error {
		seen = append(seen, state.Q.Count())
		return nil
	}, WithName("observer"), After("writer")))

	runOnce(t, s) // Spawned and written: changed.
	runOnce(t, s) // Written again: changed.
	writes = false
	runOnce(t, s) // Untouched since the observer's last run.
	assert.Equal(t, []int{1, 1, 0}, seen)
}

func TestSchedule_ReportRecords(t *testing.T) {
	t.Parallel()

	var reports []RunReport
	sink := sinkFunc(func(r RunReport) { reports = append(reports, r) })
	w := newTestWorld(t, WorldOptions{Workers: 2, Diagnostics: sink})

	require.NoError(t, RegisterSystem(w, noopSystem, WithName("a")))
	require.NoError(t, RegisterSystem(w, noopSystem, WithName("b"), WithHook(PostUpdate)))
	require.NoError(t, w.Tick(context.Background()))

	// Init, PreUpdate, Update, PostUpdate.
	require.Len(t, reports, 4)
	assert.Equal(t, "init", reports[0].Schedule)
	assert.Equal(t, "update", reports[2].Schedule)
	require.Len(t, reports[2].Records, 1)
	assert.Equal(t, "a", reports[2].Records[0].System)
	assert.Equal(t, "b", reports[3].Records[0].System)
	assert.Equal(t, uint64(2), reports[2].Frame)
	assert.NotEqual(t, reports[2].ID, reports[3].ID)

	// Init only runs on the first tick.
	require.NoError(t, w.Tick(context.Background()))
	assert.Len(t, reports, 7)
}

type sinkFunc func(RunReport)

func (f sinkFunc) Record(r RunReport) { f(r) }
