package ecs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// executionPlan is the result of building a schedule. It's immutable except for the in-degree
// counters, which are reset by running.
type executionPlan struct {
	graph  [][]int         // Mapping of systems -> systems that depend on it
	reach  []bitmap.Bitmap // Mapping of systems -> systems that always run after it
	tier0  []int           // Systems without dependencies, the first to run
	order  []int           // Deterministic topological order used by the single-threaded executor
	active uint8           // Determines which indegree is currently active (0 or 1)
	// indegree0 and indegree1 are double-buffered counters tracking remaining dependencies
	// for each system. They alternate between runs to avoid reinitialization.
	indegree0 []atomic.Int32
	indegree1 []atomic.Int32
}

// newExecutionPlan creates the plan of a built graph.
func newExecutionPlan(g *graph, order []int, reach []bitmap.Bitmap) *executionPlan {
	n := len(g.succ)
	p := &executionPlan{
		graph:     g.succ,
		reach:     reach,
		tier0:     make([]int, 0),
		order:     order,
		indegree0: make([]atomic.Int32, n),
		indegree1: make([]atomic.Int32, n),
	}
	for i, d := range g.indeg {
		p.indegree0[i].Store(int32(d)) //nolint:gosec // Won't overflow
		if d == 0 {
			p.tier0 = append(p.tier0, i)
		}
	}
	return p
}

// edgeCount returns the number of edges in the plan.
func (p *executionPlan) edgeCount() int {
	n := 0
	for _, succ := range p.graph {
		n += len(succ)
	}
	return n
}

// indegrees returns the current and next indegrees. It also switches the active indegree buffer
// with the next one.
func (p *executionPlan) indegrees() ([]atomic.Int32, []atomic.Int32) {
	isFirstBuffer := p.active == 0 // Capture current state before toggle
	p.active = 1 - p.active        // Toggle between 0 and 1

	if isFirstBuffer {
		return p.indegree0, p.indegree1
	}
	return p.indegree1, p.indegree0
}

// run holds the state of one schedule run.
type run struct {
	schedule *Schedule
	ctx      context.Context
	frame    uint64
	records  []SystemRecord // Indexed by system, each slot written by one goroutine

	mu        sync.Mutex
	completed []int // Systems in completion order whose buffers haven't been applied yet
	errs      []error
}

// Run executes the schedule once, building it first if needed. Systems run on the world's worker
// pool, or on the calling goroutine in single-threaded mode. A failing system doesn't stop the
// others: every system runs, and all errors are joined and returned after the run, along with the
// run's report.
func (s *Schedule) Run(ctx context.Context) (RunReport, error) {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return RunReport{}, eris.Wrapf(ErrScheduleRunning, "schedule %s", s.name)
	}
	if err := s.build(); err != nil {
		s.mu.Unlock()
		return RunReport{}, err
	}
	s.state = Running
	s.mu.Unlock()

	w := s.world
	ctx, span := w.tracer.Start(ctx, "ecs.schedule.run", trace.WithAttributes(
		attribute.String("schedule", s.name),
		attribute.Int("systems", len(s.systems)),
	))
	defer span.End()

	r := &run{
		schedule:  s,
		ctx:       ctx,
		frame:     w.frame.Load(),
		records:   make([]SystemRecord, len(s.systems)),
		completed: make([]int, 0, len(s.systems)),
	}
	report := RunReport{
		ID:       uuid.New(),
		Schedule: s.name,
		Frame:    r.frame,
		Start:    time.Now(),
	}
	w.state.clock.advance()

	switch {
	case len(s.systems) == 0:
	case w.options.SingleThreaded || w.options.Workers == 1:
		r.runSingleThreaded()
	default:
		r.runPool(min(w.options.Workers, len(s.systems)))
	}

	// Drain whatever the sync points didn't.
	r.applyCompleted()

	report.Duration = time.Since(report.Start)
	report.Records = r.records
	w.frame.Add(1)

	s.mu.Lock()
	s.state = Completed
	s.mu.Unlock()

	err := errors.Join(r.errs...)
	if err != nil {
		err = eris.Wrapf(err, "schedule %s failed", s.name)
		span.RecordError(err)
		span.SetStatus(codes.Error, "schedule failed")
		w.logger.Error().Err(err).Str("schedule", s.name).Uint64("frame", r.frame).Msg("schedule run failed")
	}
	report.Err = err
	w.sink.Record(report)
	return report, err
}

// runSingleThreaded executes the systems on the calling goroutine in the plan's topological order.
func (r *run) runSingleThreaded() {
	for _, id := range r.schedule.plan.order {
		r.runSystem(id, 0)
	}
}

// runPool executes the systems on a fixed pool of workers. Ready systems go into a queue; when a
// system completes, its dependents' counters are decremented and the ones reaching zero are queued.
func (r *run) runPool(workers int) {
	plan := r.schedule.plan
	total := len(r.schedule.systems)

	executionQueue := make(chan int, total)
	var remaining atomic.Int32
	remaining.Store(int32(total)) //nolint:gosec // Won't overflow

	currentIndegree, nextIndegree := plan.indegrees()

	// Schedule all tier 0 systems
	for _, systemID := range plan.tier0 {
		executionQueue <- systemID
	}

	g := new(errgroup.Group)
	for worker := range workers {
		g.Go(func() error {
			for systemID := range executionQueue {
				r.runSystem(systemID, worker)

				// Process all systems that depend on this one.
				for _, dependent := range plan.graph[systemID] {
					remainingDeps := currentIndegree[dependent].Add(-1)
					nextIndegree[dependent].Add(1)

					// If this was the last dependency, schedule it for execution.
					if remainingDeps == 0 {
						executionQueue <- dependent
					}
				}

				// The last system to complete has nothing left to queue.
				if remaining.Add(-1) == 0 {
					close(executionQueue)
				}
			}
			return nil
		})
	}

	// System errors are collected by runSystem so that every system runs; the workers never fail.
	_ = g.Wait()
}

// runSystem executes one system and records how it went.
func (r *run) runSystem(id, worker int) {
	w := r.schedule.world
	meta := r.schedule.systems[id]

	if meta.syncPoint {
		r.applyCompleted()
	}
	for _, q := range meta.queries {
		q.refresh()
	}

	_, span := w.tracer.Start(r.ctx, "ecs.system", trace.WithAttributes(
		attribute.String("system", meta.name),
		attribute.Int("worker", worker),
	))

	meta.frame = r.frame
	meta.thisRun = w.state.clock.advance()
	start := time.Now()
	err := meta.fn()
	duration := time.Since(start)
	meta.lastRun = meta.thisRun

	if err != nil {
		err = eris.Wrapf(err, "system %s failed", meta.name)
		span.RecordError(err)
		span.SetStatus(codes.Error, "system failed")
	}
	span.End()

	r.records[id] = SystemRecord{System: meta.name, Duration: duration, Worker: worker, Err: err}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
	}
	r.completed = append(r.completed, id)
}

// applyCompleted applies the command buffers of the systems completed so far, in completion order.
// Only called when no system is running: from a sync point, which runs alone, or after the run.
func (r *run) applyCompleted() {
	w := r.schedule.world

	r.mu.Lock()
	completed := r.completed
	r.completed = make([]int, 0, cap(completed))
	r.mu.Unlock()

	for _, id := range completed {
		meta := r.schedule.systems[id]
		if meta.commands == nil || meta.commands.Len() == 0 {
			continue
		}
		if r.records[id].Err != nil && w.options.FailedCommands == DiscardFailedCommands {
			w.logger.Debug().Str("system", meta.name).Int("commands", meta.commands.Len()).
				Msg("discarding commands of failed system")
			meta.commands.discard()
			continue
		}
		if err := meta.commands.apply(w.state.clock.advance()); err != nil {
			r.mu.Lock()
			r.errs = append(r.errs, eris.Wrapf(err, "failed to apply commands of system %s", meta.name))
			r.mu.Unlock()
		}
	}
}
