package diagnostics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/argus-labs/ecs-core/pkg/ecs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReport(frame uint64, systems int) ecs.RunReport {
	records := make([]ecs.SystemRecord, systems)
	for i := range records {
		records[i] = ecs.SystemRecord{System: fmt.Sprintf("system%d", i), Duration: time.Millisecond, Worker: i % 2}
	}
	return ecs.RunReport{
		ID:       uuid.New(),
		Schedule: "update",
		Frame:    frame,
		Start:    time.Now(),
		Duration: time.Duration(systems) * time.Millisecond,
		Records:  records,
	}
}

func TestRing_Wraps(t *testing.T) {
	t.Parallel()

	r, err := NewRing[int](3)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Cap())
	assert.Empty(t, r.SnapshotInto(nil))

	for i := range 6 {
		r.Advance(i)
	}
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, []int{2, 3, 4, 5}, r.SnapshotInto(nil))

	buf := make([]int, 0, 8)
	out := r.SnapshotInto(buf)
	assert.Equal(t, []int{2, 3, 4, 5}, out)

	r.Reset()
	assert.Equal(t, 0, r.Len())

	_, err = NewRing[int](0)
	require.Error(t, err)
}

func TestCollector_BatchesAndHistory(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(Options{BatchSize: 2, HistorySize: 2, MaxSpansPerRun: 3})
	require.NoError(t, err)
	sub := c.Subscribe()

	c.Record(testReport(0, 5))
	select {
	case <-sub:
		t.Fatal("batch flushed early")
	default:
	}
	assert.Equal(t, uint64(2), c.DroppedSpans())

	c.Record(testReport(1, 1))
	batch := <-sub
	require.Len(t, batch.Runs, 2)
	assert.Equal(t, uint64(2), batch.DroppedSpans)
	assert.Len(t, batch.Runs[0].Spans, 3)
	assert.Equal(t, "system0", batch.Runs[0].Spans[0].System)
	assert.Equal(t, uint64(0), c.DroppedSpans())

	c.Record(testReport(2, 1))
	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, uint64(1), history[0].Frame)
	assert.Equal(t, uint64(2), history[1].Frame)

	c.Unsubscribe(sub)
	c.Record(testReport(3, 1))
	select {
	case <-sub:
		t.Fatal("unsubscribed channel received a batch")
	default:
	}

	c.Reset()
	assert.Empty(t, c.History())
}

func TestCollector_SlowSubscriberDropsBatches(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(Options{})
	require.NoError(t, err)
	sub := c.Subscribe()

	for i := range subscriberChanBuf + 2 {
		c.Record(testReport(uint64(i), 1)) //nolint:gosec // small
	}
	for range subscriberChanBuf {
		<-sub
	}

	// The second dropped batch carried the first drop; its own failed send must not lose it.
	c.Record(testReport(100, 1))
	batch := <-sub
	assert.Equal(t, uint64(2), batch.DroppedBatches)

	c.Record(testReport(101, 1))
	batch = <-sub
	assert.Equal(t, uint64(0), batch.DroppedBatches)
}

func TestCollector_DropsReportedUntilEverySubscriberReceives(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(Options{})
	require.NoError(t, err)
	fast := c.Subscribe()
	slow := c.Subscribe()

	for i := range subscriberChanBuf + 1 {
		c.Record(testReport(uint64(i), 1)) //nolint:gosec // small
		<-fast
	}

	// slow is still full, so the count keeps growing while fast keeps receiving it.
	c.Record(testReport(50, 1))
	assert.Equal(t, uint64(1), (<-fast).DroppedBatches)

	for range subscriberChanBuf {
		<-slow
	}
	c.Record(testReport(51, 1))
	assert.Equal(t, uint64(2), (<-fast).DroppedBatches)
	assert.Equal(t, uint64(2), (<-slow).DroppedBatches)

	c.Record(testReport(52, 1))
	assert.Equal(t, uint64(0), (<-fast).DroppedBatches)
	assert.Equal(t, uint64(0), (<-slow).DroppedBatches)
}

func TestCollector_AsWorldSink(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(Options{})
	require.NoError(t, err)
	w, err := ecs.NewWorld(ecs.WorldOptions{Workers: 2, Diagnostics: c})
	require.NoError(t, err)

	type state struct{}
	require.NoError(t, ecs.RegisterSystem(w, func(*state) error { return nil }, ecs.WithName("noop")))
	require.NoError(t, w.Tick(context.Background()))

	history := c.History()
	require.Len(t, history, 4)
	assert.Equal(t, "update", history[2].Schedule)
	require.Len(t, history[2].Spans, 1)
	assert.Equal(t, "noop", history[2].Spans[0].System)
	assert.False(t, history[2].Failed)
}

func TestNewCollector_RejectsNegativeOptions(t *testing.T) {
	t.Parallel()

	_, err := NewCollector(Options{BatchSize: -1})
	require.Error(t, err)
}
