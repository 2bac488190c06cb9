// Package telemetry wraps outbound dispatchers with OpenTelemetry spans and
// metrics.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/glimte/mmate-dispatch/outbound"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/glimte/mmate-dispatch"

// Dispatcher is the outbound surface being instrumented. *outbound.Dispatcher
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *outbound.Event) error
	Send(ctx context.Context, event *outbound.Event) (*outbound.Event, error)
	Endpoint() outbound.Endpoint
}

// InstrumentedDispatcher records a span and metrics around every call of
// the wrapped dispatcher
type InstrumentedDispatcher struct {
	next Dispatcher

	tracer trace.Tracer

	duration metric.Float64Histogram
	count    metric.Int64Counter
	errors   metric.Int64Counter
	timeouts metric.Int64Counter
}

// Instrument wraps next. Tracing and metrics are both enabled by default.
func Instrument(next Dispatcher, opts ...Option) (*InstrumentedDispatcher, error) {
	o := &options{tracingEnabled: true, metricsEnabled: true}
	for _, opt := range opts {
		opt(o)
	}

	d := &InstrumentedDispatcher{next: next}

	if o.tracingEnabled {
		tp := o.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		d.tracer = tp.Tracer(instrumentationName)
	}

	if o.metricsEnabled {
		mp := o.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := d.initMetrics(mp.Meter(instrumentationName)); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func (d *InstrumentedDispatcher) initMetrics(meter metric.Meter) error {
	var err error

	d.duration, err = meter.Float64Histogram(
		"mmate.outbound.duration",
		metric.WithDescription("Duration of outbound operations, including reply waits"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	d.count, err = meter.Int64Counter(
		"mmate.outbound.count",
		metric.WithDescription("Number of outbound operations"),
	)
	if err != nil {
		return err
	}

	d.errors, err = meter.Int64Counter(
		"mmate.outbound.errors",
		metric.WithDescription("Number of failed outbound operations"),
	)
	if err != nil {
		return err
	}

	d.timeouts, err = meter.Int64Counter(
		"mmate.outbound.reply_timeouts",
		metric.WithDescription("Number of sends that got no reply before the timeout"),
	)
	return err
}

// Endpoint returns the wrapped dispatcher's endpoint
func (d *InstrumentedDispatcher) Endpoint() outbound.Endpoint {
	return d.next.Endpoint()
}

// Dispatch publishes through the wrapped dispatcher
func (d *InstrumentedDispatcher) Dispatch(ctx context.Context, event *outbound.Event) error {
	ctx, finish := d.start(ctx, outbound.ActionDispatch, event)
	err := d.next.Dispatch(ctx, event)
	finish(err)
	return err
}

// Send publishes and waits through the wrapped dispatcher
func (d *InstrumentedDispatcher) Send(ctx context.Context, event *outbound.Event) (*outbound.Event, error) {
	ctx, finish := d.start(ctx, outbound.ActionSend, event)
	result, err := d.next.Send(ctx, event)
	if err == nil && result != nil && result.Payload == nil {
		if d.timeouts != nil {
			d.timeouts.Add(ctx, 1, metric.WithAttributes(d.attrs(outbound.ActionSend)...))
		}
		trace.SpanFromContext(ctx).AddEvent("reply timeout")
	}
	finish(err)
	return result, err
}

func (d *InstrumentedDispatcher) start(ctx context.Context, action outbound.OutboundAction, event *outbound.Event) (context.Context, func(error)) {
	start := time.Now()
	attrs := d.attrs(action)

	var span trace.Span
	if d.tracer != nil {
		spanAttrs := attrs
		if event != nil {
			spanAttrs = append(spanAttrs, attribute.String("messaging.message.id", event.ID))
		}
		ctx, span = d.tracer.Start(ctx, "outbound."+action.String(),
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(spanAttrs...))
	}

	return ctx, func(err error) {
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				var dispatchErr *outbound.DispatchError
				if errors.As(err, &dispatchErr) {
					span.SetAttributes(
						attribute.String("messaging.destination.name", dispatchErr.Exchange),
						attribute.String("messaging.rabbitmq.destination.routing_key", dispatchErr.RoutingKey))
				}
			}
			span.End()
		}

		if d.count == nil {
			return
		}
		opt := metric.WithAttributes(attrs...)
		d.duration.Record(ctx, time.Since(start).Seconds(), opt)
		d.count.Add(ctx, 1, opt)
		if err != nil {
			d.errors.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.Bool("retryable", outbound.IsRetryable(err)))...))
		}
	}
}

func (d *InstrumentedDispatcher) attrs(action outbound.OutboundAction) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.operation", action.String()),
		attribute.String("mmate.endpoint", d.next.Endpoint().String()),
	}
}
