package tracer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// Tracer wraps an OpenTelemetry Tracer so that every AddEvent call on a
// span it creates is routed through Hook.Event, giving the Subscriber
// Hook the per-event callback spec.md §4.C needs that SpanProcessor alone
// can't provide — the same "wrap the underlying client" idiom
// DataDog-dd-trace-go/contrib/* packages use to instrument a library's
// calls before delegating to the real implementation.
type Tracer struct {
	inner oteltrace.Tracer
	hook  *Hook
}

// WrapTracer returns a Tracer that behaves exactly like inner except
// that every span it starts reports its events to hook.
func WrapTracer(inner oteltrace.Tracer, hook *Hook) *Tracer {
	return &Tracer{inner: inner, hook: hook}
}

var _ oteltrace.Tracer = (*Tracer)(nil)

func (t *Tracer) Start(ctx context.Context, spanName string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	ctx, span := t.inner.Start(ctx, spanName, opts...)
	wrapped := &Span{Span: span, hook: t.hook, id: spanIDToUint64(span.SpanContext().SpanID())}
	return oteltrace.ContextWithSpan(ctx, wrapped), wrapped
}

// Span wraps an OpenTelemetry Span, intercepting AddEvent so every
// logged event reaches the Subscriber Hook alongside whatever the
// underlying SDK span does with it.
type Span struct {
	oteltrace.Span
	hook *Hook
	id   uint64
}

var _ oteltrace.Span = (*Span)(nil)

// AddEvent records ev on the underlying span as usual, then reports it
// to the Subscriber Hook. A "severity" string attribute, if present,
// selects the event's Severity; otherwise it defaults to Info, mirroring
// how most structured-logging bridges treat an unannotated event.
func (s *Span) AddEvent(name string, opts ...oteltrace.EventOption) {
	s.Span.AddEvent(name, opts...)

	cfg := oteltrace.NewEventConfig(opts...)
	attrs := cfg.Attributes()
	kv := attributesToKeyValues(attrs)
	loc := attributesToLocation(attrs)
	severity := severityFromAttributes(attrs)
	message := name

	s.hook.Event(s.id, true, severity, &message, kv, loc, uint64(cfg.Timestamp().UnixNano()))
}

// severityAttrKey is the attribute instrumented code sets on an event
// (e.g. trace.WithAttributes(attribute.String("severity", "warn"))) to
// pick its Severity; absent or unrecognized values default to Info.
const severityAttrKey = attribute.Key("severity")

func severityFromAttributes(attrs []attribute.KeyValue) wire.Severity {
	for _, a := range attrs {
		if a.Key != severityAttrKey {
			continue
		}
		switch a.Value.AsString() {
		case "trace":
			return wire.SeverityTrace
		case "debug":
			return wire.SeverityDebug
		case "info":
			return wire.SeverityInfo
		case "warn", "warning":
			return wire.SeverityWarn
		case "error":
			return wire.SeverityError
		}
	}
	return wire.SeverityInfo
}

// EmitOrphanEvent is the entry point instrumented code (or a bridging
// log handler) calls when no span is active in ctx — the producer-side
// equivalent of the host framework's `tracing::event!` macro invoked
// outside any span. It's a free function, not a Span method, since by
// definition there's no current span to call it on.
func EmitOrphanEvent(ctx context.Context, hook *Hook, severity wire.Severity, message string, kv wire.KeyValues) {
	sc := oteltrace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		id := spanIDToUint64(sc.SpanID())
		hook.Event(id, true, severity, &message, kv, wire.Location{}, uint64(nowNanos()))
		return
	}
	hook.Event(0, false, severity, &message, kv, wire.Location{}, uint64(nowNanos()))
}
