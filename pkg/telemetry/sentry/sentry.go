// Package sentry reports errors and failed systems to Sentry. Every function is a no-op until New
// was called with a DSN.
package sentry

import (
	"context"
	"time"

	sentrygo "github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/trace"
)

const flushTimeout = 2 * time.Second

type Options struct {
	Dsn         string
	Environment string
	Release     string // e.g. "ecsdemo@v1.2.0"
	Tags        map[string]string
}

// New initializes the global Sentry client. An empty DSN leaves Sentry disabled.
func New(opt Options) error {
	if opt.Dsn == "" {
		return nil
	}

	err := sentrygo.Init(sentrygo.ClientOptions{
		Dsn:         opt.Dsn,
		Environment: opt.Environment,
		Release:     opt.Release,
		Tags:        opt.Tags,
	})
	if err != nil {
		return eris.Wrap(err, "failed to initialize sentry")
	}
	return nil
}

// Enabled reports whether New initialized a client.
func Enabled() bool {
	return sentrygo.CurrentHub().Client() != nil
}

// RecoverAndFlush reports a panic, if any, and flushes buffered events. It must be deferred
// directly. With repanic the panic continues after the flush.
func RecoverAndFlush(repanic bool) {
	if !Enabled() {
		return
	}
	if r := recover(); r != nil {
		sentrygo.CurrentHub().Recover(r)
		sentrygo.Flush(flushTimeout)
		if repanic {
			panic(r)
		}
		return
	}
	sentrygo.Flush(flushTimeout)
}

// CaptureException reports err with the trace of ctx, if any, and the given tags.
func CaptureException(ctx context.Context, err error, tags map[string]string) {
	if !Enabled() || err == nil {
		return
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		merged := make(map[string]string, len(tags)+2)
		for k, v := range tags {
			merged[k] = v
		}
		merged["trace_id"] = spanCtx.TraceID().String()
		merged["span_id"] = spanCtx.SpanID().String()
		tags = merged
	}
	capture(sentrygo.CurrentHub(), err, tags, nil)
}

// Shutdown flushes buffered events, waiting no longer than ctx allows.
func Shutdown(ctx context.Context) {
	if !Enabled() {
		return
	}
	timeout := flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = max(until, 100*time.Millisecond)
		}
	}
	sentrygo.Flush(timeout)
}

func capture(hub *sentrygo.Hub, err error, tags map[string]string, extra map[string]any) {
	hub.WithScope(func(scope *sentrygo.Scope) {
		scope.SetTags(tags)
		scope.SetExtras(extra)
		hub.CaptureException(err)
	})
}
