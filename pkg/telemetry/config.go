package telemetry

import (
	"io"
	"strings"

	"github.com/argus-labs/ecs-core/pkg/telemetry/sentry"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config is the deployment side of telemetry, read from the environment.
type Config struct {
	// TracingEnabled turns on OTLP trace export. Without it the world gets a no-op tracer.
	TracingEnabled bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint       string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4317"`
	SampleRate     float64 `env:"OTEL_TRACE_SAMPLE_RATE" envDefault:"1.0"`

	LogLevel  string `env:"ECS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"ECS_LOG_FORMAT" envDefault:"json"`

	// SentryDSN is empty when error reporting is off.
	SentryDSN string `env:"SENTRY_DSN"`
	SentryEnv string `env:"SENTRY_ENV"`
}

// Options is the program side of telemetry, passed to New.
type Options struct {
	ServiceName    string            // Required
	ServiceVersion string            // "dev" if empty
	LogOutput      io.Writer         // Stdout if nil
	SentryTags     map[string]string // Added to every reported event
}

// settings is what New builds from, after Config and Options have been checked.
type settings struct {
	Options
	Config
	level  zerolog.Level
	format LogFormat
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse telemetry config")
	}
	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate telemetry config")
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if ParseLogFormat(cfg.LogFormat) == LogFormatUndefined {
		return eris.Errorf("invalid log format %q, want json or pretty", cfg.LogFormat)
	}
	if !cfg.TracingEnabled {
		return nil
	}
	if cfg.Endpoint == "" {
		return eris.New("OTLP endpoint is required when tracing is enabled")
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return eris.Errorf("trace sample rate %v is outside [0, 1]", cfg.SampleRate)
	}
	return nil
}

// resolve combines the validated cfg with opts and fills the defaults.
func resolve(cfg Config, opts Options) (settings, error) {
	if opts.ServiceName == "" {
		return settings{}, eris.New("service name cannot be empty")
	}
	if opts.ServiceVersion == "" {
		opts.ServiceVersion = "dev"
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return settings{}, err
	}
	return settings{
		Options: opts,
		Config:  cfg,
		level:   level,
		format:  ParseLogFormat(cfg.LogFormat),
	}, nil
}

func (s settings) sentry() sentry.Options {
	return sentry.Options{
		Dsn:         s.SentryDSN,
		Environment: s.SentryEnv,
		Release:     s.ServiceName + "@" + s.ServiceVersion,
		Tags:        s.SentryTags,
	}
}

func parseLevel(s string) (zerolog.Level, error) {
	switch level, err := zerolog.ParseLevel(strings.ToLower(s)); {
	case err != nil:
		return zerolog.NoLevel, eris.Wrapf(err, "invalid log level %q", s)
	case level == zerolog.NoLevel:
		// ParseLevel accepts the empty string.
		return zerolog.InfoLevel, nil
	default:
		return level, nil
	}
}

// LogFormat selects how log lines are written.
type LogFormat uint8

const (
	LogFormatUndefined LogFormat = iota
	LogFormatJSON
	LogFormatPretty
)

var logFormatNames = map[LogFormat]string{
	LogFormatJSON:   "json",
	LogFormatPretty: "pretty",
}

func (f LogFormat) String() string {
	if name, ok := logFormatNames[f]; ok {
		return name
	}
	return "undefined"
}

// ParseLogFormat matches s against the format names, ignoring case.
func ParseLogFormat(s string) LogFormat {
	for f, name := range logFormatNames {
		if strings.EqualFold(s, name) {
			return f
		}
	}
	return LogFormatUndefined
}
