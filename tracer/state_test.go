package tracer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

func TestStateInsertRootDuplicateId(t *testing.T) {
	s := NewState()
	require.NoError(t, s.InsertRoot(wire.RootSpan{Id: 1, Name: "root"}))
	require.ErrorIs(t, s.InsertRoot(wire.RootSpan{Id: 1, Name: "root"}), ErrDuplicateTraceId)
}

func TestStateHappyPathDrainExport(t *testing.T) {
	s := NewState()
	require.NoError(t, s.InsertRoot(wire.RootSpan{Id: 42, Name: "handle_request", Timestamp: 1_000_000_000}))
	s.InsertSpan(42, wire.OpenSpan{Id: 43, Name: "child", Timestamp: 1_100_000_000, ParentId: 42})
	s.InsertSpanEvent(42, wire.NewSpanEvent{SpanId: 43, Timestamp: 1_150_000_000, Severity: wire.SeverityInfo})
	s.CloseSpan(42, 43, 50_000_000)
	s.CloseTrace(42, 300_000_000)

	traces, orphans := s.DrainExport()
	require.Empty(t, orphans)
	require.Len(t, traces, 1)

	trace := traces[42]
	require.True(t, trace.Closed())
	require.Len(t, trace.ClosedSpans, 1)
	require.Equal(t, uint64(43), trace.ClosedSpans[0].Id)
	require.Len(t, trace.NewEvents, 1)
	require.Equal(t, uint32(2), trace.SpansProduced) // root + child

	// The trace closed, so a second drain sees nothing.
	traces, orphans = s.DrainExport()
	require.Empty(t, traces)
	require.Empty(t, orphans)
}

func TestStateDrainExportKeepsOpenTraceButClearsFragments(t *testing.T) {
	s := NewState()
	require.NoError(t, s.InsertRoot(wire.RootSpan{Id: 1, Name: "root"}))
	s.InsertSpan(1, wire.OpenSpan{Id: 2, Name: "child", ParentId: 1})
	s.InsertSpanEvent(1, wire.NewSpanEvent{SpanId: 1, Severity: wire.SeverityInfo})

	traces, _ := s.DrainExport()
	require.Len(t, traces[1].NewEvents, 1)
	require.Len(t, traces[1].OpenSpans, 1)

	// Nothing new happened; a second drain still sees the open span but
	// no events/closed-spans (both were cleared).
	traces, _ = s.DrainExport()
	require.Len(t, traces, 1)
	require.Empty(t, traces[1].NewEvents)
	require.Empty(t, traces[1].ClosedSpans)
	require.Len(t, traces[1].OpenSpans, 1)
}

func TestStateCloseTraceWithOpenChildrenPanics(t *testing.T) {
	s := NewState()
	require.NoError(t, s.InsertRoot(wire.RootSpan{Id: 1, Name: "root"}))
	s.InsertSpan(1, wire.OpenSpan{Id: 2, Name: "child", ParentId: 1})

	require.Panics(t, func() { s.CloseTrace(1, 1) })
}

func TestStateCloseSpanNotOpenPanics(t *testing.T) {
	s := NewState()
	require.NoError(t, s.InsertRoot(wire.RootSpan{Id: 1, Name: "root"}))
	require.Panics(t, func() { s.CloseSpan(1, 999, 1) })
}

func TestStateInsertSpanUnknownParentPanics(t *testing.T) {
	s := NewState()
	require.NoError(t, s.InsertRoot(wire.RootSpan{Id: 1, Name: "root"}))
	require.Panics(t, func() {
		s.InsertSpan(1, wire.OpenSpan{Id: 2, Name: "child", ParentId: 9999})
	})
}

func TestStateCountersMonotonicAcrossDrains(t *testing.T) {
	s := NewState()
	require.NoError(t, s.InsertRoot(wire.RootSpan{Id: 1, Name: "root"}))
	s.InsertEventDroppedBySampling(1)
	traces, _ := s.DrainExport()
	require.Equal(t, uint32(1), traces[1].EventsDroppedBySampling)

	s.InsertEventDroppedBySampling(1)
	traces, _ = s.DrainExport()
	require.Equal(t, uint32(2), traces[1].EventsDroppedBySampling)
}
