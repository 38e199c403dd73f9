package ecs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// World represents the root ECS state: storage, resources, and the hook schedules.
type World struct {
	state   *worldState
	options WorldOptions
	logger  zerolog.Logger
	tracer  trace.Tracer
	sink    DiagnosticsSink
	frame   atomic.Uint64 // Completed schedule runs

	// Systems.
	initDone  bool                 // Tracks if init systems have been executed
	schedules [hookCount]*Schedule // Hook schedules (PreUpdate, Update, PostUpdate, Init)
}

// NewWorld creates a new World instance. Options are layered: defaults, then the ECS_* environment
// variables, then the non-zero fields of opts.
func NewWorld(opts ...WorldOptions) (*World, error) {
	options := newDefaultWorldOptions()

	cfg, err := loadWorldConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load world config")
	}
	cfg.applyToOptions(&options)
	for _, opt := range opts {
		options.apply(opt)
	}
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid world options")
	}

	world := &World{
		state:   newWorldState(),
		options: options,
		logger:  zerolog.Nop(),
		tracer:  noop.NewTracerProvider().Tracer("ecs"),
		sink:    nopSink{},
	}
	if options.Logger != nil {
		world.logger = options.Logger.With().Str("component", "ecs").Logger()
	}
	if options.Tracer != nil {
		world.tracer = options.Tracer
	}
	if options.Diagnostics != nil {
		world.sink = options.Diagnostics
	}

	for hook := range SystemHook(hookCount) {
		world.schedules[hook] = NewSchedule(world, hook.String())
	}
	return world, nil
}

// Schedule returns the schedule of a hook.
func (w *World) Schedule(hook SystemHook) *Schedule {
	if hook >= hookCount {
		return nil
	}
	return w.schedules[hook]
}

// Options returns the options the world was built with.
func (w *World) Options() WorldOptions {
	return w.options
}

// Frame returns the number of schedule runs the world has completed.
func (w *World) Frame() uint64 {
	return w.frame.Load()
}

// Logger returns the world's logger.
func (w *World) Logger() *zerolog.Logger {
	return &w.logger
}

// Init builds the hook schedules so that conflicts and cycles are reported before the first tick.
func (w *World) Init() error {
	var errs []error
	for _, s := range w.schedules {
		if err := s.Build(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tick runs the Init schedule on the first call, then the PreUpdate, Update and PostUpdate
// schedules. A failing schedule doesn't stop the next ones; all errors are joined.
func (w *World) Tick(ctx context.Context) error {
	var errs []error

	// Run init systems once on first tick.
	if !w.initDone {
		if _, err := w.schedules[Init].Run(ctx); err != nil {
			return eris.Wrap(err, "init failed")
		}
		w.initDone = true
	}

	for _, hook := range []SystemHook{PreUpdate, Update, PostUpdate} {
		if _, err := w.schedules[hook].Run(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// typeName returns the registered name of a type ID.
func (w *World) typeName(id TypeID) string {
	info, ok := w.state.types.info(id)
	if !ok {
		return fmt.Sprintf("#%d", id)
	}
	return info.Name
}

// typeNames returns the registered names of type IDs, comma separated.
func (w *World) typeNames(ids []TypeID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = w.typeName(id)
	}
	return strings.Join(names, ", ")
}

// describeConflict formats an access conflict for error messages.
func (w *World) describeConflict(c *accessConflict) string {
	parts := make([]string, 0, 2)
	if c.components.Count() > 0 {
		parts = append(parts, "components "+w.typeNames(typeIDs(c.components)))
	}
	if c.resources.Count() > 0 {
		parts = append(parts, "resources "+w.typeNames(typeIDs(c.resources)))
	}
	if c.exclusive {
		parts = append(parts, "exclusive access")
	}
	return strings.Join(parts, " and ")
}
