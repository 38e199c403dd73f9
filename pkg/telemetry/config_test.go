package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/argus-labs/ecs-core/pkg/ecs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want LogFormat
	}{
		{in: "json", want: LogFormatJSON},
		{in: "PRETTY", want: LogFormatPretty},
		{in: "xml", want: LogFormatUndefined},
		{in: "", want: LogFormatUndefined},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogFormat(tt.in), tt.in)
	}
	assert.Equal(t, "pretty", LogFormatPretty.String())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := Config{TracingEnabled: true, Endpoint: "localhost:4317", SampleRate: 0.5, LogLevel: "debug", LogFormat: "json"}
	require.NoError(t, valid.validate())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "bad level", modify: func(c *Config) { c.LogLevel = "loud" }},
		{name: "bad format", modify: func(c *Config) { c.LogFormat = "xml" }},
		{name: "no endpoint", modify: func(c *Config) { c.Endpoint = "" }},
		{name: "bad sample rate", modify: func(c *Config) { c.SampleRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tt.modify(&cfg)
			require.Error(t, cfg.validate())
		})
	}

	// Without export, the endpoint and rate don't matter.
	disabled := valid
	disabled.TracingEnabled = false
	disabled.Endpoint = ""
	require.NoError(t, disabled.validate())
}

func TestResolve(t *testing.T) {
	t.Parallel()

	cfg := Config{LogLevel: "WARN", LogFormat: "Pretty", SentryDSN: "https://key@example.com/1", SentryEnv: "DEV"}
	require.NoError(t, cfg.validate())

	_, err := resolve(cfg, Options{})
	require.Error(t, err)

	set, err := resolve(cfg, Options{ServiceName: "ecsdemo", SentryTags: map[string]string{"shard": "a"}})
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, set.level)
	assert.Equal(t, LogFormatPretty, set.format)

	opts := set.sentry()
	assert.Equal(t, "ecsdemo@dev", opts.Release)
	assert.Equal(t, "DEV", opts.Environment)
	assert.Equal(t, "a", opts.Tags["shard"])

	set, err = resolve(Config{LogFormat: "json"}, Options{ServiceName: "ecsdemo", ServiceVersion: "v1.2.0"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, set.level, "empty level defaults to info")
	assert.Equal(t, "ecsdemo@v1.2.0", set.sentry().Release)
}

func TestNew_Disabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("ECS_LOG_LEVEL", "warn")

	_, err := New(Options{})
	require.Error(t, err, "service name is required")

	var out bytes.Buffer
	tel, err := New(Options{ServiceName: "ecsdemo", LogOutput: &out})
	require.NoError(t, err)
	assert.NotNil(t, tel.Tracer)
	logger := tel.GetLogger("world")
	assert.Equal(t, "warn", logger.GetLevel().String())

	logger.Warn().Msg("hello")
	assert.Contains(t, out.String(), `"component":"ecsdemo.world"`)

	opts := tel.WorldOptions(ecs.WorldOptions{Workers: 2})
	assert.Equal(t, 2, opts.Workers)
	require.NotNil(t, opts.Logger)
	assert.Equal(t, tel.Tracer, opts.Tracer)
	assert.Nil(t, opts.Diagnostics, "sentry is not configured")

	w, err := ecs.NewWorld(opts)
	require.NoError(t, err)
	require.NoError(t, w.Tick(context.Background()))

	require.NoError(t, tel.Shutdown(context.Background()))
}
