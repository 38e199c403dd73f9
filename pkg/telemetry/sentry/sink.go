package sentry

import (
	"github.com/argus-labs/ecs-core/pkg/ecs"
	sentrygo "github.com/getsentry/sentry-go"
)

// Sink reports failed schedule runs to Sentry. It does nothing when the hub has no client, which
// is the case when Sentry wasn't initialized.
type Sink struct {
	hub *sentrygo.Hub
}

var _ ecs.DiagnosticsSink = (*Sink)(nil)

// NewSink creates a sink reporting to hub, or to the current hub if hub is nil.
func NewSink(hub *sentrygo.Hub) *Sink {
	return &Sink{hub: hub}
}

// Record implements ecs.DiagnosticsSink. Each failed system is captured as its own event, tagged
// with the schedule, system, and frame.
func (s *Sink) Record(report ecs.RunReport) {
	hub := s.hub
	if hub == nil {
		hub = sentrygo.CurrentHub()
	}
	if hub.Client() == nil || !report.Failed() {
		return
	}
	for _, record := range report.Records {
		if record.Err == nil {
			continue
		}
		tags := map[string]string{
			"schedule": report.Schedule,
			"system":   record.System,
			"run_id":   report.ID.String(),
		}
		capture(hub, record.Err, tags, map[string]any{"frame": report.Frame, "worker": record.Worker})
	}
}
