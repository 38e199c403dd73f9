// Package diagnostics turns the run reports of a world's schedules into something an operator can
// look at: a bounded history of run timelines with batched streaming to subscribers, and statsd
// metrics.
package diagnostics

import (
	"sync"
	"time"

	"github.com/argus-labs/ecs-core/pkg/ecs"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

const (
	defaultBatchSize      = 1
	defaultHistorySize    = 64
	defaultMaxSpansPerRun = 256
	subscriberChanBuf     = 4
)

// Span represents a single system execution within a run.
type Span struct {
	System   string
	Worker   int
	Duration time.Duration
	Failed   bool
}

// Timeline groups the spans of a single schedule run.
type Timeline struct {
	RunID    uuid.UUID
	Schedule string
	Frame    uint64
	Start    time.Time
	Duration time.Duration
	Failed   bool
	Spans    []Span
}

// Batch is a batch of completed run timelines pushed to subscribers.
type Batch struct {
	Runs           []Timeline
	DroppedSpans   uint64 // Spans dropped during these runs (per-batch delta, reset after flush).
	DroppedBatches uint64 // Failed subscriber sends since the last batch every subscriber received
}

// Options configures a Collector. Zero fields keep their defaults.
type Options struct {
	BatchSize      int // Runs per batch pushed to subscribers
	HistorySize    int // Runs kept for History, rounded up to a power of two
	MaxSpansPerRun int // Spans kept per run, extra ones are counted as dropped
}

// Collector accumulates run timelines and broadcasts them in batches to streaming subscribers. It
// implements ecs.DiagnosticsSink. Schedules call Record from the goroutine that ran them; readers
// may subscribe and read the history concurrently.
type Collector struct {
	mu           sync.Mutex
	pending      []Timeline
	subscribers  []chan Batch
	batchSize    int
	maxSpans     int
	droppedSpans uint64 // guarded by mu
	history      *Ring[Timeline]

	// droppedBatches counts failed sends not yet reported by a delivered batch. Guarded by mu; a
	// batch carries the count and only clears it once every send succeeded.
	droppedBatches uint64
}

var _ ecs.DiagnosticsSink = (*Collector)(nil)

// NewCollector creates a Collector.
func NewCollector(opts Options) (*Collector, error) {
	if opts.BatchSize < 0 || opts.HistorySize < 0 || opts.MaxSpansPerRun < 0 {
		return nil, eris.New("collector options cannot be negative")
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.HistorySize == 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.MaxSpansPerRun == 0 {
		opts.MaxSpansPerRun = defaultMaxSpansPerRun
	}

	history, err := NewRing[Timeline](opts.HistorySize)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create run history")
	}
	return &Collector{
		pending:   make([]Timeline, 0, opts.BatchSize),
		batchSize: opts.BatchSize,
		maxSpans:  opts.MaxSpansPerRun,
		history:   history,
	}, nil
}

// Record converts a run report into a timeline, appends it to the history and the pending batch.
// When the batch reaches the batch size, it is flushed to all subscribers via non-blocking channel
// sends performed outside the lock.
func (c *Collector) Record(report ecs.RunReport) {
	timeline := newTimeline(report, c.maxSpans)
	dropped := uint64(len(report.Records) - len(timeline.Spans)) //nolint:gosec // never negative
	c.history.Advance(timeline)

	c.mu.Lock()
	c.droppedSpans += dropped
	c.pending = append(c.pending, timeline)

	var batch Batch
	var subs []chan Batch

	if len(c.pending) >= c.batchSize {
		batch = Batch{
			Runs:           c.pending,
			DroppedSpans:   c.droppedSpans,
			DroppedBatches: c.droppedBatches,
		}
		c.pending = make([]Timeline, 0, c.batchSize)
		c.droppedSpans = 0

		subs = make([]chan Batch, len(c.subscribers))
		copy(subs, c.subscribers)
	}

	c.mu.Unlock()

	if subs == nil {
		return
	}

	var failed uint64
	for _, sub := range subs {
		select {
		case sub <- batch:
		default:
			failed++
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if failed > 0 {
		c.droppedBatches += failed
		return
	}
	// Another batch may have reported the same drops concurrently.
	c.droppedBatches -= min(batch.DroppedBatches, c.droppedBatches)
}

// newTimeline builds the timeline of a run, keeping at most maxSpans spans.
func newTimeline(report ecs.RunReport, maxSpans int) Timeline {
	n := min(len(report.Records), maxSpans)
	spans := make([]Span, n)
	for i, record := range report.Records[:n] {
		spans[i] = Span{
			System:   record.System,
			Worker:   record.Worker,
			Duration: record.Duration,
			Failed:   record.Err != nil,
		}
	}
	return Timeline{
		RunID:    report.ID,
		Schedule: report.Schedule,
		Frame:    report.Frame,
		Start:    report.Start,
		Duration: report.Duration,
		Failed:   report.Failed(),
		Spans:    spans,
	}
}

// History returns the most recent runs in chronological order.
func (c *Collector) History() []Timeline {
	return c.history.SnapshotInto(nil)
}

// Reset clears all buffered data. Use after a world reset or snapshot restore.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = c.pending[:0]
	c.droppedSpans = 0
	c.droppedBatches = 0
	c.history.Reset()
}

// Subscribe returns a channel that receives Batch values whenever the
// collector flushes. The caller must eventually call Unsubscribe to avoid
// leaking the channel.
func (c *Collector) Subscribe() <-chan Batch {
	ch := make(chan Batch, subscriberChanBuf)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()
	return ch
}

// Unsubscribe removes the given channel from the subscriber list.
// The channel is NOT closed; callers should select on ctx.Done() to detect
// stream termination rather than relying on channel closure.
func (c *Collector) Unsubscribe(ch <-chan Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sub := range c.subscribers {
		if sub == ch {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return
		}
	}
}

// DroppedSpans returns the number of spans dropped since the last flush.
func (c *Collector) DroppedSpans() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedSpans
}
