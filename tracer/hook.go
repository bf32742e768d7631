package tracer

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// Hook is the Subscriber Hook (spec.md §4.C): it translates the host
// structured-logging framework's span-lifecycle callbacks into State and
// Sampler operations. The host framework here is OpenTelemetry's trace
// SDK — Hook implements sdktrace.SpanProcessor for span enter/exit, and
// Event is called by a thin Tracer/Span wrapper (see tracer_wrap.go) for
// every logged event, mirroring the decorator idiom used throughout
// DataDog-dd-trace-go/contrib/* to intercept an underlying client's
// calls before delegating.
//
// Hook never blocks the calling goroutine on I/O: every method here only
// touches State and Sampler, both in-memory and lock-guarded for the
// duration of a single call, never across a suspension point (spec.md
// §5). Exporting happens entirely on a separate task (see export.go).
type Hook struct {
	state   *State
	sampler *Sampler
	logger  logrus.FieldLogger

	mu      sync.Mutex
	scratch map[uint64]spanScratch
}

// spanScratch is the per-span-id side map spec.md §9 describes ("a side
// map keyed by span id works but must be pruned on close") — OpenTelemetry's
// SpanProcessor interface gives us no mutable per-span extension slot, so
// this is the grounded fallback the design notes call for.
type spanScratch struct {
	admitted  bool
	rootId    uint64
	traceName string
}

// NewHook constructs a Subscriber Hook over the given State and Sampler.
func NewHook(state *State, sampler *Sampler, logger logrus.FieldLogger) *Hook {
	return &Hook{
		state:   state,
		sampler: sampler,
		logger:  logger,
		scratch: make(map[uint64]spanScratch),
	}
}

var _ sdktrace.SpanProcessor = (*Hook)(nil)

// OnStart is called by the SDK when a span is entered (spec.md §4.C's
// "first-entry for an id").
func (h *Hook) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	id := spanIDToUint64(s.SpanContext().SpanID())
	parent := s.Parent()

	h.mu.Lock()
	defer h.mu.Unlock()

	if !parent.IsValid() {
		h.onNewRootLocked(id, s)
		return
	}
	h.onNewChildLocked(id, parent, s)
}

func (h *Hook) onNewRootLocked(id uint64, s sdktrace.ReadWriteSpan) {
	name := s.Name()
	if !h.sampler.AllowNewTrace(name) {
		h.scratch[id] = spanScratch{admitted: false, traceName: name}
		return
	}
	root := wire.RootSpan{
		Id:        id,
		Name:      name,
		Timestamp: uint64(s.StartTime().UnixNano()),
		KeyVals:   attributesToKeyValues(s.Attributes()),
		Location:  attributesToLocation(s.Attributes()),
	}
	if err := h.state.InsertRoot(root); err != nil {
		// A correct host framework never reuses an in-flight span id;
		// if it somehow does, treat it like a sampling denial rather
		// than crashing the caller's goroutine.
		h.logger.WithError(err).WithField("trace_id", id).Warn("duplicate trace id from host framework")
		h.scratch[id] = spanScratch{admitted: false, traceName: name}
		return
	}
	h.scratch[id] = spanScratch{admitted: true, rootId: id, traceName: name}
}

func (h *Hook) onNewChildLocked(id uint64, parent oteltrace.SpanContext, s sdktrace.ReadWriteSpan) {
	parentId := spanIDToUint64(parent.SpanID())
	parentScratch, known := h.scratch[parentId]
	if !known || !parentScratch.admitted {
		h.scratch[id] = spanScratch{admitted: false}
		return
	}
	if !h.sampler.AllowNewSpanKV(parentScratch.traceName) {
		h.scratch[id] = spanScratch{admitted: false, rootId: parentScratch.rootId, traceName: parentScratch.traceName}
		return
	}
	span := wire.OpenSpan{
		Id:        id,
		Name:      s.Name(),
		Timestamp: uint64(s.StartTime().UnixNano()),
		ParentId:  parentId,
		KeyVals:   attributesToKeyValues(s.Attributes()),
		Location:  attributesToLocation(s.Attributes()),
	}
	h.state.InsertSpan(parentScratch.rootId, span)
	h.scratch[id] = spanScratch{admitted: true, rootId: parentScratch.rootId, traceName: parentScratch.traceName}
}

// OnEnd is called by the SDK when a span closes (spec.md §4.C's "On
// close"): if the id is admitted and its root is admitted, close-span or
// close-trace with the measured duration.
func (h *Hook) OnEnd(s sdktrace.ReadOnlySpan) {
	id := spanIDToUint64(s.SpanContext().SpanID())

	h.mu.Lock()
	scratch, known := h.scratch[id]
	delete(h.scratch, id) // prune on close, per spec.md §9
	h.mu.Unlock()

	if !known || !scratch.admitted {
		return
	}
	duration := uint64(s.EndTime().Sub(s.StartTime()).Nanoseconds())
	if id == scratch.rootId {
		h.state.CloseTrace(scratch.rootId, duration)
	} else {
		h.state.CloseSpan(scratch.rootId, id, duration)
	}
}

// Event is invoked by the wrapping Tracer/Span (tracer_wrap.go) for
// every AddEvent call, taking the place of the per-event callback the
// host framework's enter/exit/close/event contract assumes but OTel's
// batch-at-end SpanProcessor doesn't provide on its own.
func (h *Hook) Event(spanId uint64, hasSpan bool, severity wire.Severity, message *string, kv wire.KeyValues, loc wire.Location, timestampNanos uint64) {
	if !hasSpan {
		h.orphanEvent(severity, message, kv, loc, timestampNanos)
		return
	}

	h.mu.Lock()
	scratch, known := h.scratch[spanId]
	h.mu.Unlock()

	if !known {
		return
	}
	if !scratch.admitted {
		return
	}
	if !h.sampler.AllowNewEvent(scratch.traceName) {
		h.state.InsertEventDroppedBySampling(scratch.rootId)
		return
	}
	h.state.InsertSpanEvent(scratch.rootId, wire.NewSpanEvent{
		SpanId:    spanId,
		Message:   message,
		Timestamp: timestampNanos,
		Severity:  severity,
		KeyVals:   kv,
		Location:  loc,
	})
}

func (h *Hook) orphanEvent(severity wire.Severity, message *string, kv wire.KeyValues, loc wire.Location, timestampNanos uint64) {
	if !h.sampler.AllowNewOrphanEvent() {
		return
	}
	h.state.InsertOrphanEvent(wire.NewOrphanEvent{
		Timestamp: timestampNanos,
		Severity:  severity,
		Message:   message,
		KeyVals:   kv,
		Location:  loc,
	})
}

// Shutdown and ForceFlush satisfy sdktrace.SpanProcessor. There's no
// downstream to flush to — export.go drains State on its own schedule —
// so both are no-ops.
func (h *Hook) Shutdown(context.Context) error   { return nil }
func (h *Hook) ForceFlush(context.Context) error { return nil }

// timeNowFunc is a seam over time.Now for testability; production code
// never overrides it.
var timeNowFunc = time.Now

func spanIDToUint64(id oteltrace.SpanID) uint64 {
	return binary.BigEndian.Uint64(id[:])
}

// attributeLocationKeys are the span/event attribute keys Span.AddEvent and
// onNewRootLocked/onNewChildLocked look for when deriving a Location —
// by convention code.module.path, code.filepath, code.lineno, following
// OpenTelemetry's semantic conventions for source-code location.
const (
	attrModule   = attribute.Key("code.module.path")
	attrFilename = attribute.Key("code.filepath")
	attrLine     = attribute.Key("code.lineno")
)

func attributesToKeyValues(attrs []attribute.KeyValue) wire.KeyValues {
	kv := make(wire.KeyValues, len(attrs))
	for _, a := range attrs {
		switch a.Key {
		case attrModule, attrFilename, attrLine:
			continue
		default:
			kv[string(a.Key)] = a.Value.Emit()
		}
	}
	return kv.TruncateInPlace()
}

func attributesToLocation(attrs []attribute.KeyValue) wire.Location {
	var loc wire.Location
	for _, a := range attrs {
		switch a.Key {
		case attrModule:
			v := a.Value.AsString()
			loc.Module = &v
		case attrFilename:
			v := a.Value.AsString()
			loc.Filename = &v
		case attrLine:
			v := uint32(a.Value.AsInt64())
			loc.Line = &v
		}
	}
	return loc
}

// nowNanos returns the current wall-clock time as Unix nanoseconds, used
// by call sites that don't already have a timestamp from an OTel event
// config. Centralized here so tests can see where real-time reads live.
func nowNanos() int64 {
	return timeNowFunc().UnixNano()
}
