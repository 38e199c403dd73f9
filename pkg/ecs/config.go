package ecs

import (
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// FailedCommandPolicy decides what happens to the command buffer of a system that returned an
// error.
type FailedCommandPolicy string

const (
	FailedCommandsUndefined FailedCommandPolicy = ""
	// ApplyFailedCommands applies the buffer like any other.
	ApplyFailedCommands FailedCommandPolicy = "apply"
	// DiscardFailedCommands drops the buffer.
	DiscardFailedCommands FailedCommandPolicy = "discard"
)

// worldConfig holds the configuration for a World instance.
// Configuration can be set via environment variables with the specified defaults.
type worldConfig struct {
	// Number of workers running systems. 0 means one per CPU.
	Workers int `env:"ECS_WORKERS" envDefault:"0"`

	// Run every system on the calling goroutine.
	SingleThreaded bool `env:"ECS_SINGLE_THREADED" envDefault:"false"`

	// Fail schedule builds when conflicting systems have no explicit order.
	StrictConflicts bool `env:"ECS_STRICT_CONFLICTS" envDefault:"false"`

	// What to do with the commands of failed systems, "apply" or "discard".
	FailedCommands string `env:"ECS_FAILED_COMMANDS" envDefault:"apply"`
}

// loadWorldConfig loads the world configuration from environment variables.
func loadWorldConfig() (worldConfig, error) {
	cfg := worldConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse world config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

// validate performs validation on the loaded configuration.
func (cfg *worldConfig) validate() error {
	if cfg.Workers < 0 {
		return eris.New("workers cannot be negative")
	}
	switch FailedCommandPolicy(cfg.FailedCommands) {
	case ApplyFailedCommands, DiscardFailedCommands:
	case FailedCommandsUndefined:
		fallthrough
	default:
		return eris.Errorf("invalid failed commands policy %q, must be %q or %q",
			cfg.FailedCommands, ApplyFailedCommands, DiscardFailedCommands)
	}
	return nil
}

// applyToOptions applies the configuration values to the given WorldOptions.
func (cfg *worldConfig) applyToOptions(opt *WorldOptions) {
	if cfg.Workers > 0 {
		opt.Workers = cfg.Workers
	}
	opt.SingleThreaded = cfg.SingleThreaded
	opt.StrictConflicts = cfg.StrictConflicts
	opt.FailedCommands = FailedCommandPolicy(cfg.FailedCommands)
}

// WorldOptions configures a World. Zero fields keep their defaults.
type WorldOptions struct {
	Workers         int                 // Size of the worker pool
	SingleThreaded  bool                // Run systems on the calling goroutine
	StrictConflicts bool                // Unordered conflicting systems fail the build
	FailedCommands  FailedCommandPolicy // Policy for the commands of failed systems
	Logger          *zerolog.Logger     // Defaults to a no-op logger
	Tracer          trace.Tracer        // Defaults to a no-op tracer
	Diagnostics     DiagnosticsSink     // Receives a report after every run
}

// newDefaultWorldOptions creates WorldOptions with default values.
func newDefaultWorldOptions() WorldOptions {
	return WorldOptions{
		Workers:         runtime.NumCPU(),
		SingleThreaded:  false,
		StrictConflicts: false,
		FailedCommands:  ApplyFailedCommands,
		Logger:          nil,
		Tracer:          nil,
		Diagnostics:     nil,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *WorldOptions) apply(newOpt WorldOptions) {
	if newOpt.Workers != 0 {
		opt.Workers = newOpt.Workers
	}
	if newOpt.SingleThreaded {
		opt.SingleThreaded = true
	}
	if newOpt.StrictConflicts {
		opt.StrictConflicts = true
	}
	if newOpt.FailedCommands != FailedCommandsUndefined {
		opt.FailedCommands = newOpt.FailedCommands
	}
	if newOpt.Logger != nil {
		opt.Logger = newOpt.Logger
	}
	if newOpt.Tracer != nil {
		opt.Tracer = newOpt.Tracer
	}
	if newOpt.Diagnostics != nil {
		opt.Diagnostics = newOpt.Diagnostics
	}
}

// validate checks that all required options are set and valid.
func (opt *WorldOptions) validate() error {
	if opt.Workers < 1 {
		return eris.New("workers must be at least 1")
	}
	if opt.FailedCommands != ApplyFailedCommands && opt.FailedCommands != DiscardFailedCommands {
		return eris.Errorf("invalid failed commands policy %q", opt.FailedCommands)
	}
	return nil
}
