package ecs

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// System is a function that contains game logic. The state is allocated and initialized once, when
// the system is registered, and passed to every run.
type System[T any] func(state *T) error

// systemMeta is a registered system and everything the scheduler knows about it.
type systemMeta struct {
	world      *World
	name       string
	logger     zerolog.Logger
	fn         func() error
	access     systemAccess
	queries    []queryField
	queryNames []string
	commands   *Commands // The system's buffer, nil if it has no Commands field
	syncPoint  bool      // Applies the buffers of completed systems when it runs
	standalone bool      // Owned by a NewQuery instead of a schedule

	// Ordering constraints by system name.
	before []string
	after  []string

	// Change ticks, only touched by the goroutine running the system.
	lastRun Tick
	thisRun Tick
	frame   uint64
}

// newSystemMeta creates the metadata of a system.
func newSystemMeta(w *World, name string, fn func() error) *systemMeta {
	return &systemMeta{
		world:  w,
		name:   name,
		logger: w.logger.With().Str("system", name).Logger(),
		fn:     fn,
	}
}

// systemConfig holds all configurable options for system registration.
type systemConfig struct {
	name   string     // Overrides the name derived from the function
	hook   SystemHook // The hook that determines when the system should be executed
	before []string
	after  []string
}

// newSystemConfig creates a new system config with default values.
func newSystemConfig() systemConfig {
	return systemConfig{hook: Update}
}

// SystemOption is a function that configures a SystemConfig.
type SystemOption func(*systemConfig)

// SystemHook defines when a system should be executed in the update cycle.
type SystemHook uint8

const (
	// PreUpdate runs before the main update.
	PreUpdate SystemHook = 0
	// Update runs during the main update phase.
	Update SystemHook = 1
	// PostUpdate runs after the main update.
	PostUpdate SystemHook = 2
	// Init runs once during world initialization.
	Init SystemHook = 3
)

// String returns the name of the hook's schedule.
func (h SystemHook) String() string {
	switch h {
	case PreUpdate:
		return "pre-update"
	case Update:
		return "update"
	case PostUpdate:
		return "post-update"
	case Init:
		return "init"
	default:
		return "unknown"
	}
}

// hookCount is the number of system hooks.
const hookCount = 4

// WithHook returns an option to set the system hook. Only used by RegisterSystem.
func WithHook(hook SystemHook) SystemOption {
	return func(cfg *systemConfig) { cfg.hook = hook }
}

// WithName returns an option to set the system's name. By default the name is derived from the
// system function.
func WithName(name string) SystemOption {
	return func(cfg *systemConfig) { cfg.name = name }
}

// Before returns an option to run the system before the named system.
func Before(name string) SystemOption {
	return func(cfg *systemConfig) { cfg.before = append(cfg.before, name) }
}

// After returns an option to run the system after the named system.
func After(name string) SystemOption {
	return func(cfg *systemConfig) { cfg.after = append(cfg.after, name) }
}

// RegisterSystem registers a system and its state with one of the world's hook schedules. By
// default, systems are registered to the Update hook. This can be overridden with the optional
// WithHook option.
//
// Example:
//
//	type RegenSystemState struct {
//	    ecs.BaseSystemState
//	    Players ecs.Query[struct {
//	        Tag    ecs.With[PlayerTag]
//	        Health ecs.Write[Health]
//	    }]
//	}
//
//	err := ecs.RegisterSystem(world, func(state *RegenSystemState) error {
//	    // System logic here
//	    return nil
//	})
func RegisterSystem[T any](w *World, system System[T], opts ...SystemOption) error {
	cfg := newSystemConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.hook >= hookCount {
		return eris.Errorf("invalid system hook %d", cfg.hook)
	}
	return AddSystem(w.schedules[cfg.hook], system, opts...)
}

// AddSystem adds a system to a schedule. The system's state fields are initialized here, so access
// errors inside a single system (aliasing queries, a resource declared mutable twice) are reported
// right away. Adding a system puts the schedule back into the unbuilt state.
func AddSystem[T any](s *Schedule, system System[T], opts ...SystemOption) error {
	if system == nil {
		return eris.New("system cannot be nil")
	}
	cfg := newSystemConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = functionName(system)
	}

	state := new(T)
	meta := newSystemMeta(s.world, cfg.name, func() error { return system(state) })
	meta.before = cfg.before
	meta.after = cfg.after
	if err := initializeSystemState(meta, state); err != nil {
		return eris.Wrapf(err, "failed to register system %s", cfg.name)
	}
	return s.add(meta)
}

// functionName returns the short name of a function, e.g. "game.MovementSystem".
func functionName(fn any) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return reflect.TypeOf(fn).String()
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
