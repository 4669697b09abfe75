// Package service holds the use cases of the deploy control plane. Services
// orchestrate domain values and stores; they never touch SQL or HTTP.
package service

import (
	"context"
	"log/slog"
	"time"

	"deployplane/internal/logger"
	"deployplane/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("deployplane/service")

// Option customises a service.
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Instruments
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithInstruments sets the metric instruments.
func WithInstruments(in *observability.Instruments) Option {
	return func(o *options) { o.metrics = in }
}

func buildOptions(opts []Option) options {
	o := options{
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observability.MustInstruments()
	}
	return o
}

func (o options) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, o.logger)
}

// endSpan records err on span before ending it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
