package ecs

import (
	"slices"
	"strings"
	"sync"

	"github.com/argus-labs/ecs-core/pkg/assert"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// ScheduleState is the lifecycle state of a schedule.
type ScheduleState uint8

const (
	// Unbuilt means systems or ordering changed since the last build.
	Unbuilt ScheduleState = iota
	// Analyzing means the schedule is being built.
	Analyzing
	// Runnable means the schedule is built and ready to run.
	Runnable
	// Running means a run is in progress.
	Running
	// Completed means the last run finished. The schedule can run again.
	Completed
)

func (s ScheduleState) String() string {
	switch s {
	case Unbuilt:
		return "unbuilt"
	case Analyzing:
		return "analyzing"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Schedule is a set of systems and ordering constraints that runs as one unit. Building it turns
// the systems' declared accesses and the constraints into a dependency graph, once; every run then
// follows that graph.
type Schedule struct {
	world   *World
	name    string
	mu      sync.Mutex // Guards state transitions
	state   ScheduleState
	systems []*systemMeta
	byName  map[string]int
	edges   [][2]string // Extra (before, after) constraints added with Order
	plan    *executionPlan
}

// NewSchedule creates an empty schedule for the world.
func NewSchedule(w *World, name string) *Schedule {
	return &Schedule{
		world:   w,
		name:    name,
		state:   Unbuilt,
		systems: make([]*systemMeta, 0),
		byName:  make(map[string]int),
	}
}

// Name returns the schedule's name.
func (s *Schedule) Name() string {
	return s.name
}

// State returns the schedule's lifecycle state.
func (s *Schedule) State() ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Systems returns the names of the schedule's systems in registration order.
func (s *Schedule) Systems() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.systems))
	for i, meta := range s.systems {
		names[i] = meta.name
	}
	return names
}

// add appends a system to the schedule.
func (s *Schedule) add(meta *systemMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running {
		return eris.Wrapf(ErrScheduleRunning, "can't add system %s to %s", meta.name, s.name)
	}
	if _, exists := s.byName[meta.name]; exists {
		return eris.Wrapf(ErrDuplicateSystem, "system %s in schedule %s", meta.name, s.name)
	}
	s.byName[meta.name] = len(s.systems)
	s.systems = append(s.systems, meta)
	s.state = Unbuilt
	return nil
}

// AddSyncPoint adds a sync point: a node that waits for every system ordered before it, applies
// the command buffers of all systems completed so far, and holds back every system ordered after
// it. Without explicit ordering, a sync point splits the schedule at its registration position.
func (s *Schedule) AddSyncPoint(name string, opts ...SystemOption) error {
	cfg := newSystemConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	meta := newSystemMeta(s.world, name, func() error { return nil })
	meta.before = cfg.before
	meta.after = cfg.after
	meta.syncPoint = true
	meta.access.exclusive = true
	return s.add(meta)
}

// Order adds the constraint that the system named before runs, and completes, before the system
// named after starts. Names are checked when the schedule is built.
func (s *Schedule) Order(before, after string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running {
		return eris.Wrapf(ErrScheduleRunning, "can't order %s before %s", before, after)
	}
	s.edges = append(s.edges, [2]string{before, after})
	s.state = Unbuilt
	return nil
}

// Ordered reports whether the built schedule always runs a to completion before b starts.
func (s *Schedule) Ordered(a, b string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plan == nil || s.state == Unbuilt {
		return false
	}
	ia, okA := s.byName[a]
	ib, okB := s.byName[b]
	return okA && okB && s.plan.reach[ia].Contains(uint32(ib))
}

// Build analyzes the schedule into an execution plan. Running an unbuilt schedule builds it first,
// so calling Build is only needed to get build errors early.
func (s *Schedule) Build() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.build()
}

// build must be called with mu held.
func (s *Schedule) build() error {
	switch s.state {
	case Running:
		return eris.Wrapf(ErrScheduleRunning, "can't build schedule %s", s.name)
	case Runnable, Completed:
		return nil
	case Unbuilt, Analyzing:
	}

	s.state = Analyzing
	plan, err := s.analyze()
	if err != nil {
		s.state = Unbuilt
		return eris.Wrapf(err, "failed to build schedule %s", s.name)
	}
	s.plan = plan
	s.state = Runnable

	s.world.logger.Debug().Str("schedule", s.name).Int("systems", len(s.systems)).
		Int("edges", plan.edgeCount()).Msg("schedule built")
	return nil
}

// analyze derives the dependency graph. Explicit constraints go in first and must be acyclic. Then
// every pair of systems whose accesses conflict and that isn't already ordered, directly or
// through other systems, gets an edge from the one registered first to the one registered later.
// In strict mode such a pair is an error instead, unless one side is exclusive.
func (s *Schedule) analyze() (*executionPlan, error) {
	n := len(s.systems)
	g := newGraph(n)

	for i, meta := range s.systems {
		for _, name := range meta.before {
			j, ok := s.byName[name]
			if !ok {
				return nil, eris.Wrapf(ErrUnknownSystem, "%s is ordered before %s", meta.name, name)
			}
			g.addEdge(i, j)
		}
		for _, name := range meta.after {
			j, ok := s.byName[name]
			if !ok {
				return nil, eris.Wrapf(ErrUnknownSystem, "%s is ordered after %s", meta.name, name)
			}
			g.addEdge(j, i)
		}
	}
	for _, edge := range s.edges {
		i, ok := s.byName[edge[0]]
		if !ok {
			return nil, eris.Wrapf(ErrUnknownSystem, "%s is ordered before %s", edge[0], edge[1])
		}
		j, ok := s.byName[edge[1]]
		if !ok {
			return nil, eris.Wrapf(ErrUnknownSystem, "%s is ordered after %s", edge[1], edge[0])
		}
		g.addEdge(i, j)
	}

	if cycle := g.findCycle(); cycle != nil {
		names := make([]string, len(cycle))
		for k, id := range cycle {
			names[k] = s.systems[id].name
		}
		return nil, eris.Wrapf(ErrScheduleCycle, "%s", strings.Join(names, " -> "))
	}

	order := g.topologicalOrder()
	reach := g.reachability(order)

	for i := range n {
		for j := i + 1; j < n; j++ {
			if reach[i].Contains(uint32(j)) || reach[j].Contains(uint32(i)) {
				continue
			}
			conflict := s.systems[i].access.conflictsWith(&s.systems[j].access)
			if conflict.empty() {
				continue
			}
			if s.world.options.StrictConflicts && !conflict.exclusive {
				return nil, eris.Wrapf(ErrAccessConflict, "systems %s and %s are unordered and conflict on %s",
					s.systems[i].name, s.systems[j].name, s.world.describeConflict(&conflict))
			}
			g.addEdge(i, j)
			addReach(reach, i, j)
		}
	}

	// An implicit edge is only added between systems that don't reach each other yet, so it can't
	// close a cycle. The order is recomputed to include the new edges.
	order = g.topologicalOrder()
	assert.That(len(order) == n, "schedule graph has a cycle after analysis")
	return newExecutionPlan(g, order, reach), nil
}

// -------------------------------------------------------------------------------------------------
// Dependency graph
// -------------------------------------------------------------------------------------------------

// graph is a directed graph over system indices.
type graph struct {
	succ  [][]int         // System -> systems that depend on it
	edges []bitmap.Bitmap // Same as succ, for duplicate checks
	indeg []int
}

func newGraph(n int) *graph {
	return &graph{
		succ:  make([][]int, n),
		edges: make([]bitmap.Bitmap, n),
		indeg: make([]int, n),
	}
}

// addEdge adds the edge from -> to, ignoring duplicates.
func (g *graph) addEdge(from, to int) {
	if g.edges[from].Contains(uint32(to)) {
		return
	}
	g.edges[from].Set(uint32(to))
	g.succ[from] = append(g.succ[from], to)
	g.indeg[to]++
}

// findCycle returns the nodes of a cycle, starting and ending with the same node, or nil.
func (g *graph) findCycle() []int {
	const (
		white = iota // Not visited
		grey         // On the current path
		black        // Done
	)
	color := make([]int, len(g.succ))
	path := make([]int, 0, len(g.succ))

	var visit func(u int) []int
	visit = func(u int) []int {
		color[u] = grey
		path = append(path, u)
		for _, v := range g.succ[u] {
			switch color[v] {
			case grey:
				start := slices.Index(path, v)
				return append(slices.Clone(path[start:]), v)
			case white:
				if cycle := visit(v); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		color[u] = black
		return nil
	}

	for u := range g.succ {
		if color[u] == white {
			if cycle := visit(u); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topologicalOrder returns the nodes in dependency order, picking the lowest registration index
// among the ready nodes at each step so the order is deterministic. The result is shorter than the
// number of nodes if the graph has a cycle.
func (g *graph) topologicalOrder() []int {
	n := len(g.succ)
	indeg := slices.Clone(g.indeg)
	ready := make([]int, 0, n)
	for i := range n {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, n)
	for len(ready) > 0 {
		k := slices.Index(ready, slices.Min(ready))
		u := ready[k]
		ready = slices.Delete(ready, k, k+1)
		order = append(order, u)
		for _, v := range g.succ[u] {
			indeg[v]--
			if indeg[v] == 0 {
				ready = append(ready, v)
			}
		}
	}
	return order
}

// reachability returns, for every node, the set of nodes reachable from it.
func (g *graph) reachability(order []int) []bitmap.Bitmap {
	reach := make([]bitmap.Bitmap, len(g.succ))
	for k := len(order) - 1; k >= 0; k-- {
		u := order[k]
		for _, v := range g.succ[u] {
			reach[u].Set(uint32(v))
			union(&reach[u], reach[v])
		}
	}
	return reach
}

// addReach updates the reachability sets after adding the edge from -> to.
func addReach(reach []bitmap.Bitmap, from, to int) {
	added := reach[to].Clone(nil)
	added.Set(uint32(to))
	for u := range reach {
		if u == from || reach[u].Contains(uint32(from)) {
			union(&reach[u], added)
		}
	}
}
