package collector

import (
	"context"
	"fmt"

	"github.com/tiberiusferreira/tracer-sub000/storage"
	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// Reconciler is the collector's component G: it merges one producer
// fragment into storage's persisted view of its trace, handling
// out-of-order and lost-parent data by relocating orphaned rows to the
// trace root. Grounded on spec.md §4.G's six-step algorithm and
// original_source/tracer-backend/src/otel_trace_processing/span_processing.rs's
// existing/missing-parent batch-query shape.
type Reconciler struct {
	store storage.Adapter
}

// NewReconciler wraps store for reconciliation use.
func NewReconciler(store storage.Adapter) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile applies fragment (one trace's worth of data from one
// snapshot) to storage, under svc. A fragment whose trace is already
// persisted with a duration is dropped outright — completed traces are
// immutable (step 1).
func (r *Reconciler) Reconcile(ctx context.Context, svc wire.ServiceId, traceId uint64, fragment wire.TraceState) error {
	persisted, err := r.store.LookupTrace(ctx, svc, traceId)
	if err != nil {
		return fmt.Errorf("collector: reconcile: lookup trace: %w", err)
	}
	if persisted.Exists && persisted.Duration != nil {
		return nil
	}

	if !persisted.Exists {
		if err := r.store.InsertRoot(ctx, svc, traceId, fragment.RootSpan); err != nil {
			return fmt.Errorf("collector: reconcile: insert root: %w", err)
		}
	}

	lostParentIds, err := r.findLostParents(ctx, traceId, fragment)
	if err != nil {
		return err
	}

	knownSpanIds, err := r.reconcileOpenSpans(ctx, traceId, fragment, lostParentIds)
	if err != nil {
		return err
	}
	closedIds, err := r.reconcileClosedSpans(ctx, traceId, fragment, lostParentIds)
	if err != nil {
		return err
	}
	for id := range closedIds {
		knownSpanIds[id] = true
	}

	if err := r.reconcileEvents(ctx, traceId, fragment, knownSpanIds); err != nil {
		return err
	}

	return r.store.UpdateTraceCounters(ctx, traceId,
		fragment.SpansProduced, fragment.EventsProduced, fragment.EventsDroppedBySampling, fragment.RootSpan.Duration)
}

// findLostParents determines which parent ids referenced by this
// fragment's open/closed spans cannot be resolved against either the
// fragment itself or storage — the span carrying that id was lost, per
// original_source/tracer-backend/src/api/handlers.rs's
// check_span_ids_exist_in_db_returning_missing. The returned set feeds
// both reconcileOpenSpans and reconcileClosedSpans, mirroring
// relocate_span_references_from_lost_spans_to_root.
func (r *Reconciler) findLostParents(ctx context.Context, traceId uint64, fragment wire.TraceState) (map[uint64]bool, error) {
	declared := make(map[uint64]bool, len(fragment.OpenSpans)+len(fragment.ClosedSpans))
	for id := range fragment.OpenSpans {
		declared[id] = true
	}
	for _, span := range fragment.ClosedSpans {
		declared[span.Id] = true
	}

	referenced := make(map[uint64]bool)
	for _, span := range fragment.OpenSpans {
		if span.ParentId != traceId && !declared[span.ParentId] {
			referenced[span.ParentId] = true
		}
	}
	for _, span := range fragment.ClosedSpans {
		if span.ParentId != traceId && !declared[span.ParentId] {
			referenced[span.ParentId] = true
		}
	}
	if len(referenced) == 0 {
		return nil, nil
	}

	ids := make([]uint64, 0, len(referenced))
	for id := range referenced {
		ids = append(ids, id)
	}
	existing, err := r.store.LookupSpans(ctx, traceId, ids)
	if err != nil {
		return nil, fmt.Errorf("collector: reconcile: lookup referenced parents: %w", err)
	}

	lost := make(map[uint64]bool, len(referenced))
	for id := range referenced {
		if existing[id].Id != id {
			lost[id] = true
		}
	}
	return lost, nil
}

// reconcileOpenSpans handles step 3: batch-query which of the fragment's
// open spans already exist, insert the ones that don't. Existing open
// rows need no write (they carry no duration to upsert); existing closed
// rows are left alone (can't un-close a span). A span whose parent id is
// in lostParentIds is relocated to the trace root before insertion, per
// spec.md §4.G step 5. Returns the set of span ids known to exist in
// storage (pre-existing or freshly inserted) by the end of this step,
// for step 5's event relocation check.
func (r *Reconciler) reconcileOpenSpans(ctx context.Context, traceId uint64, fragment wire.TraceState, lostParentIds map[uint64]bool) (map[uint64]bool, error) {
	ids := make([]uint64, 0, len(fragment.OpenSpans))
	for id := range fragment.OpenSpans {
		ids = append(ids, id)
	}
	existing, err := r.store.LookupSpans(ctx, traceId, ids)
	if err != nil {
		return nil, fmt.Errorf("collector: reconcile: lookup open spans: %w", err)
	}

	known := make(map[uint64]bool, len(ids))
	for id := range existing {
		known[id] = true
	}
	for id, span := range fragment.OpenSpans {
		known[id] = true
		if existing[id].Id == id {
			continue
		}
		relocated := lostParentIds[span.ParentId]
		if relocated {
			span.ParentId = traceId
		}
		if err := r.store.UpsertOpenSpan(ctx, traceId, span, relocated); err != nil {
			return nil, fmt.Errorf("collector: reconcile: upsert open span %d: %w", id, err)
		}
	}
	return known, nil
}

// reconcileClosedSpans handles step 4: every closed span in the fragment
// is inserted (new) or has its duration upserted (already existed as
// open). A span whose parent id is in lostParentIds is relocated to the
// trace root before upsert, per spec.md §4.G step 5.
func (r *Reconciler) reconcileClosedSpans(ctx context.Context, traceId uint64, fragment wire.TraceState, lostParentIds map[uint64]bool) (map[uint64]bool, error) {
	ids := make(map[uint64]bool, len(fragment.ClosedSpans))
	for _, span := range fragment.ClosedSpans {
		relocated := lostParentIds[span.ParentId]
		if relocated {
			span.ParentId = traceId
		}
		if err := r.store.UpsertClosedSpan(ctx, traceId, span, relocated); err != nil {
			return nil, fmt.Errorf("collector: reconcile: upsert closed span %d: %w", span.Id, err)
		}
		ids[span.Id] = true
	}
	return ids, nil
}

// reconcileEvents handles step 5: events whose span id doesn't resolve
// against known (because an earlier fragment carrying that span was
// dropped, lost, or hasn't arrived yet) are rewritten to point at the
// trace root and flagged relocated.
func (r *Reconciler) reconcileEvents(ctx context.Context, traceId uint64, fragment wire.TraceState, known map[uint64]bool) error {
	if len(fragment.NewEvents) == 0 {
		return nil
	}
	events := make([]wire.NewSpanEvent, len(fragment.NewEvents))
	relocated := make([]bool, len(fragment.NewEvents))
	copy(events, fragment.NewEvents)

	for i, ev := range events {
		if ev.SpanId == traceId || known[ev.SpanId] {
			continue
		}
		events[i].SpanId = traceId
		relocated[i] = true
	}
	return r.store.InsertEvents(ctx, traceId, events, relocated)
}
