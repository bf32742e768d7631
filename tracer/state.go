// Package tracer implements the producer side of the system: the
// in-memory trace model (State), the sampling gate (Sampler), the
// OpenTelemetry-based subscriber hook, the export loop and the SSE
// control-channel consumer. See spec.md §4.A-E.
package tracer

import (
	"errors"
	"sync"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// ErrDuplicateTraceId is returned by InsertRoot when the trace id is
// already present. It's the only recoverable error this package's
// contracts define; every other violation is a fatal invariant (a
// correct host instrumentation framework cannot trigger them), matching
// spec.md §4.A and the original's State::insert_new_trace /
// State::close_trace assert!s.
var ErrDuplicateTraceId = errors.New("tracer: trace id already exists")

// State is the producer's exclusively-owned in-memory model of open
// traces. It is grounded on
// tracing-config-helper/src/subscriber/state.rs's State type. One lock
// guards it, held only for the duration of a single operation or a
// drain, never across I/O (spec.md §5).
type State struct {
	mu           sync.Mutex
	traces       map[uint64]*wire.TraceState
	orphanEvents []wire.NewOrphanEvent
}

// NewState constructs an empty tracer state.
func NewState() *State {
	return &State{
		traces: make(map[uint64]*wire.TraceState),
	}
}

// InsertRoot records a new trace rooted at root. Fails with
// ErrDuplicateTraceId if the id is already present.
func (s *State) InsertRoot(root wire.RootSpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.traces[root.Id]; exists {
		return ErrDuplicateTraceId
	}
	s.traces[root.Id] = &wire.TraceState{
		RootSpan:      root,
		OpenSpans:     make(map[uint64]wire.OpenSpan),
		SpansProduced: 1,
	}
	return nil
}

// InsertSpan records a new open span under traceId. Panics if the trace
// doesn't exist, or if span's parent is neither the trace root nor an
// already-open span in the same trace — both are invariant violations a
// correct host framework cannot produce (spec.md §4.A).
func (s *State) InsertSpan(traceId uint64, span wire.OpenSpan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trace := s.mustTrace(traceId, "InsertSpan")
	if span.ParentId != traceId {
		if _, open := trace.OpenSpans[span.ParentId]; !open {
			panic("tracer: InsertSpan: parent is neither the trace root nor an open span in this trace")
		}
	}
	if _, exists := trace.OpenSpans[span.Id]; exists {
		panic("tracer: InsertSpan: span id already open in this trace")
	}
	trace.OpenSpans[span.Id] = span
	trace.SpansProduced++
}

// CloseSpan removes spanId from the open set and appends it to the
// trace's closed-spans sequence with the given duration. Panics if
// spanId isn't open in traceId.
func (s *State) CloseSpan(traceId, spanId uint64, duration uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trace := s.mustTrace(traceId, "CloseSpan")
	span, open := trace.OpenSpans[spanId]
	if !open {
		panic("tracer: CloseSpan: span not open in this trace")
	}
	delete(trace.OpenSpans, spanId)
	trace.ClosedSpans = append(trace.ClosedSpans, wire.ClosedSpan{
		Id:        span.Id,
		Name:      span.Name,
		Timestamp: span.Timestamp,
		Duration:  duration,
		ParentId:  span.ParentId,
		KeyVals:   span.KeyVals,
		Location:  span.Location,
	})
}

// CloseTrace sets the root's duration, closing the whole trace. Per
// Open Question #1 in DESIGN.md, a non-empty open-span set at this point
// is treated as a protocol violation and panics, matching the original's
// "when the trace gets closed, all its children spans should also
// already be" assertion.
func (s *State) CloseTrace(traceId uint64, duration uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trace := s.mustTrace(traceId, "CloseTrace")
	if len(trace.OpenSpans) != 0 {
		panic("tracer: CloseTrace: trace still has open child spans")
	}
	trace.RootSpan.Duration = &duration
}

// InsertSpanEvent appends event to traceId's new-events sequence. event's
// SpanId must be the trace root (== traceId) or an open span in the same
// trace.
func (s *State) InsertSpanEvent(traceId uint64, event wire.NewSpanEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trace := s.mustTrace(traceId, "InsertSpanEvent")
	if event.SpanId != traceId {
		if _, open := trace.OpenSpans[event.SpanId]; !open {
			panic("tracer: InsertSpanEvent: target span is neither the trace root nor open in this trace")
		}
	}
	trace.EventsProduced++
	trace.NewEvents = append(trace.NewEvents, event)
}

// InsertEventDroppedBySampling bumps the dropped-by-sampling and
// events-produced counters for traceId without recording an event body.
func (s *State) InsertEventDroppedBySampling(traceId uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trace := s.mustTrace(traceId, "InsertEventDroppedBySampling")
	trace.EventsProduced++
	trace.EventsDroppedBySampling++
}

// InsertOrphanEvent records a structured log event emitted outside any
// active span.
func (s *State) InsertOrphanEvent(event wire.NewOrphanEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphanEvents = append(s.orphanEvents, event)
}

// DrainExport produces an ExportSnapshot fragment set (traces +
// orphan events) and mutates state so that: closed traces are removed
// entirely; for surviving traces the closed-spans and new-events
// sequences are emptied while open-span set and root metadata remain.
// Counters are never reset. filter is copied into the returned value by
// the caller (export.go), not here — DrainExport only owns the trace
// data.
func (s *State) DrainExport() (traces map[uint64]wire.TraceState, orphanEvents []wire.NewOrphanEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orphanEvents = s.orphanEvents
	s.orphanEvents = nil

	traces = make(map[uint64]wire.TraceState, len(s.traces))
	for id, trace := range s.traces {
		snapshot := *trace
		snapshot.OpenSpans = copyOpenSpans(trace.OpenSpans)
		traces[id] = snapshot

		if trace.Closed() {
			delete(s.traces, id)
			continue
		}
		trace.ClosedSpans = nil
		trace.NewEvents = nil
	}
	return traces, orphanEvents
}

func copyOpenSpans(in map[uint64]wire.OpenSpan) map[uint64]wire.OpenSpan {
	out := make(map[uint64]wire.OpenSpan, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mustTrace looks up traceId, panicking with an operation-labeled message
// if it's missing — every caller above has already established (per
// spec.md §4.A) that the trace must exist.
func (s *State) mustTrace(traceId uint64, op string) *wire.TraceState {
	trace, ok := s.traces[traceId]
	if !ok {
		panic("tracer: " + op + ": trace does not exist")
	}
	return trace
}
