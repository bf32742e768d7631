package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiberiusferreira/tracer-sub000/storage"
	"github.com/tiberiusferreira/tracer-sub000/wire"
)

func TestReconcileInsertsRootAndOpenSpan(t *testing.T) {
	store := storage.NewMemory()
	r := NewReconciler(store)
	svc := wire.ServiceId{Name: "svc", Env: "prod"}

	fragment := wire.TraceState{
		RootSpan: wire.RootSpan{Id: 1, Name: "root", Timestamp: 1},
		OpenSpans: map[uint64]wire.OpenSpan{
			2: {Id: 2, Name: "child", Timestamp: 2, ParentId: 1},
		},
	}

	require.NoError(t, r.Reconcile(context.Background(), svc, 1, fragment))

	spans, err := store.LookupSpans(context.Background(), 1, []uint64{2})
	require.NoError(t, err)
	assert.True(t, spans[2].Open)
	assert.Empty(t, store.RelocatedSpanIds(1))
}

func TestReconcileRelocatesClosedSpanWithLostParentToRoot(t *testing.T) {
	store := storage.NewMemory()
	r := NewReconciler(store)
	svc := wire.ServiceId{Name: "svc", Env: "prod"}

	// Span 2's parent (id 99) never arrives in any fragment and isn't in
	// storage: it's lost, so span 2 must be relocated to the trace root.
	fragment := wire.TraceState{
		RootSpan: wire.RootSpan{Id: 1, Name: "root", Timestamp: 1},
		ClosedSpans: []wire.ClosedSpan{
			{Id: 2, Name: "orphaned_child", Timestamp: 2, Duration: 500, ParentId: 99},
		},
	}

	require.NoError(t, r.Reconcile(context.Background(), svc, 1, fragment))

	assert.Equal(t, []uint64{2}, store.RelocatedSpanIds(1))
}

func TestReconcileDoesNotRelocateSpanWithKnownParent(t *testing.T) {
	store := storage.NewMemory()
	r := NewReconciler(store)
	svc := wire.ServiceId{Name: "svc", Env: "prod"}

	// Span 3's parent (span 2) arrives in the same fragment, so it
	// resolves and must not be relocated.
	fragment := wire.TraceState{
		RootSpan: wire.RootSpan{Id: 1, Name: "root", Timestamp: 1},
		OpenSpans: map[uint64]wire.OpenSpan{
			2: {Id: 2, Name: "child", Timestamp: 2, ParentId: 1},
		},
		ClosedSpans: []wire.ClosedSpan{
			{Id: 3, Name: "grandchild", Timestamp: 3, Duration: 10, ParentId: 2},
		},
	}

	require.NoError(t, r.Reconcile(context.Background(), svc, 1, fragment))
	assert.Empty(t, store.RelocatedSpanIds(1))
}

func TestReconcileRelocatesEventWithLostSpanToRoot(t *testing.T) {
	store := storage.NewMemory()
	r := NewReconciler(store)
	svc := wire.ServiceId{Name: "svc", Env: "prod"}

	fragment := wire.TraceState{
		RootSpan: wire.RootSpan{Id: 1, Name: "root", Timestamp: 1},
		NewEvents: []wire.NewSpanEvent{
			{SpanId: 99, Timestamp: 5, Severity: wire.SeverityInfo},
		},
	}

	require.NoError(t, r.Reconcile(context.Background(), svc, 1, fragment))

	chunk, err := store.TraceChunk(context.Background(), 1, 5, 5)
	require.NoError(t, err)
	require.Len(t, chunk.Events, 1)
	assert.Equal(t, uint64(1), chunk.Events[0].SpanId)
}

func TestReconcileDropsFragmentForAlreadyCompletedTrace(t *testing.T) {
	store := storage.NewMemory()
	r := NewReconciler(store)
	svc := wire.ServiceId{Name: "svc", Env: "prod"}

	duration := uint64(100)
	require.NoError(t, r.Reconcile(context.Background(), svc, 1, wire.TraceState{
		RootSpan: wire.RootSpan{Id: 1, Name: "root", Timestamp: 1, Duration: &duration},
	}))

	// A later fragment carrying a late open span must be ignored: the
	// trace is already complete and immutable.
	require.NoError(t, r.Reconcile(context.Background(), svc, 1, wire.TraceState{
		OpenSpans: map[uint64]wire.OpenSpan{5: {Id: 5, Name: "too_late", Timestamp: 2, ParentId: 1}},
	}))

	spans, err := store.LookupSpans(context.Background(), 1, []uint64{5})
	require.NoError(t, err)
	_, exists := spans[5]
	assert.False(t, exists)
}
