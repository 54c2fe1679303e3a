// Package telemetry traces sync phases with OpenTelemetry. Finished spans are
// written to the logger, so phase timings show up without an exporter.
package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/amaumene/totalrecall"

// Provider owns the tracer provider of the process
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider installs a tracer provider that logs every finished span
func NewProvider(logger *logrus.Logger) *Provider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(&logProcessor{logger: logger}),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}
}

// Tracer returns a tracer bound to this provider
func (p *Provider) Tracer() trace.Tracer {
	return p.tp.Tracer(instrumentationName)
}

// Shutdown flushes and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// Tracer returns the global tracer. It is a no-op until NewProvider runs.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Fail records err on span and marks it failed
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

type logProcessor struct {
	logger *logrus.Logger
}

func (p *logProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	fields := logrus.Fields{
		"span":     s.Name(),
		"duration": s.EndTime().Sub(s.StartTime()).Round(time.Millisecond).String(),
	}
	for _, kv := range s.Attributes() {
		fields[string(kv.Key)] = kv.Value.Emit()
	}

	entry := p.logger.WithFields(fields)
	if s.Status().Code == codes.Error {
		entry.WithField("error", s.Status().Description).Warn("Phase failed")
		return
	}
	entry.Debug("Phase finished")
}

func (p *logProcessor) Shutdown(context.Context) error   { return nil }
func (p *logProcessor) ForceFlush(context.Context) error { return nil }
