package ecs

import (
	"time"

	"github.com/google/uuid"
)

// RunReport describes one run of a schedule.
type RunReport struct {
	ID       uuid.UUID
	Schedule string
	Frame    uint64 // Number of runs the world had completed when this one started
	Start    time.Time
	Duration time.Duration
	Records  []SystemRecord // One per system, in registration order
	Err      error          // Joined errors of the run, nil if it succeeded
}

// SystemRecord describes one system execution within a run.
type SystemRecord struct {
	System   string
	Duration time.Duration
	Worker   int // Index of the worker that ran the system, 0 in single-threaded mode
	Err      error
}

// Failed reports whether any system of the run failed.
func (r *RunReport) Failed() bool {
	return r.Err != nil
}

// DiagnosticsSink receives a report after every schedule run. Record is called on the goroutine
// that ran the schedule, after the run, so implementations should hand off anything slow.
type DiagnosticsSink interface {
	Record(report RunReport)
}

// MultiSink fans reports out to several sinks in order.
type MultiSink []DiagnosticsSink

// Record implements DiagnosticsSink.
func (m MultiSink) Record(report RunReport) {
	for _, sink := range m {
		sink.Record(report)
	}
}

// nopSink discards reports.
type nopSink struct{}

func (nopSink) Record(RunReport) {}
