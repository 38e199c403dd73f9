package diagnostics

import (
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/argus-labs/ecs-core/pkg/ecs"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// StatsdConfig configures the statsd sink.
type StatsdConfig struct {
	// Address of the statsd agent, e.g. "localhost:8125". Empty disables the sink.
	Address string `env:"STATSD_ADDRESS"`

	// Tags added to every metric.
	Tags []string `env:"STATSD_TAGS" envSeparator:","`

	// Namespace is the prefix of all metrics.
	Namespace string `env:"STATSD_NAMESPACE" envDefault:"ecs"`
}

// LoadStatsdConfig loads the statsd configuration from environment variables.
func LoadStatsdConfig() (StatsdConfig, error) {
	cfg := StatsdConfig{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse statsd config")
	}
	return cfg, nil
}

// StatsdSink emits run and system timings to statsd. It hides the datadog dependency behind
// ecs.DiagnosticsSink.
type StatsdSink struct {
	client ddstatsd.ClientInterface
	logger zerolog.Logger
}

var _ ecs.DiagnosticsSink = (*StatsdSink)(nil)

// NewStatsdSink connects to the statsd agent at cfg.Address.
func NewStatsdSink(cfg StatsdConfig, logger zerolog.Logger) (*StatsdSink, error) {
	if cfg.Address == "" {
		return nil, eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		ddstatsd.WithNamespace(cfg.Namespace),
	}
	if len(cfg.Tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(cfg.Tags))
	}

	client, err := ddstatsd.New(cfg.Address, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create statsd client")
	}
	return NewStatsdSinkWithClient(client, logger), nil
}

// NewStatsdSinkWithClient wraps an existing client.
func NewStatsdSinkWithClient(client ddstatsd.ClientInterface, logger zerolog.Logger) *StatsdSink {
	return &StatsdSink{client: client, logger: logger}
}

// Record implements ecs.DiagnosticsSink.
func (s *StatsdSink) Record(report ecs.RunReport) {
	scheduleTag := "schedule:" + report.Schedule

	s.timing("schedule.run", report.Duration, []string{scheduleTag})
	if report.Failed() {
		s.incr("schedule.failed", []string{scheduleTag})
	}
	for _, record := range report.Records {
		tags := []string{scheduleTag, "system:" + record.System}
		s.timing("system.run", record.Duration, tags)
		if record.Err != nil {
			s.incr("system.failed", tags)
		}
	}
}

func (s *StatsdSink) timing(name string, d time.Duration, tags []string) {
	if err := s.client.Timing(name, d, tags, 1); err != nil {
		s.logger.Warn().Err(err).Str("metric", name).Msg("failed to emit statsd timing")
	}
}

func (s *StatsdSink) incr(name string, tags []string) {
	if err := s.client.Incr(name, tags, 1); err != nil {
		s.logger.Warn().Err(err).Str("metric", name).Msg("failed to emit statsd count")
	}
}

// Close flushes and closes the client.
func (s *StatsdSink) Close() error {
	if err := s.client.Close(); err != nil {
		return eris.Wrap(err, "failed to close statsd client")
	}
	return nil
}
