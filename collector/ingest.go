package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tiberiusferreira/tracer-sub000/storage"
	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// ErrInstanceNotRegistered is returned by Ingest when the snapshot's
// InstanceId isn't in the Live Registry — spec.md §4.F step 1: "SSE
// connection must precede updates."
var ErrInstanceNotRegistered = errors.New("collector: instance not registered")

// Ingest is the collector's component F. Grounded step-for-step on
// original_source/tracer-backend/src/api/handlers/instance/update.rs's
// update_service_and_instance_data.
type Ingest struct {
	registry   *Registry
	budgets    *Budgets
	store      storage.Adapter
	reconciler *Reconciler
	logger     logrus.FieldLogger
	now        func() time.Time
	metrics    *Metrics
}

// NewIngest wires an Ingest endpoint over registry/budgets/store.
func NewIngest(registry *Registry, budgets *Budgets, store storage.Adapter, logger logrus.FieldLogger) *Ingest {
	return &Ingest{
		registry:   registry,
		budgets:    budgets,
		store:      store,
		reconciler: NewReconciler(store),
		logger:     logger,
		now:        time.Now,
	}
}

// WithMetrics attaches m so HandleSnapshot reports accepted/rejected
// counts and byte totals. Optional: a nil m skips instrumentation.
func (i *Ingest) WithMetrics(m *Metrics) *Ingest {
	i.metrics = m
	return i
}

// HandleSnapshot runs the 8-step algorithm of spec.md §4.F and returns
// the freshly computed Sampling directive.
func (i *Ingest) HandleSnapshot(ctx context.Context, snapshot wire.ExportSnapshot) (wire.Sampling, error) {
	entry, ok := i.registry.Lookup(snapshot.InstanceId)
	if !ok {
		if i.metrics != nil {
			i.metrics.ObserveIngestRejected("not_registered")
		}
		return wire.Sampling{}, ErrInstanceNotRegistered
	}

	for id, tr := range snapshot.Traces {
		snapshot.Traces[id] = tr.TruncateInPlace()
	}
	for idx := range snapshot.OrphanEvents {
		ev := &snapshot.OrphanEvents[idx]
		ev.KeyVals = ev.KeyVals.TruncateInPlace()
		if ev.Message != nil && len(*ev.Message) > wire.MaxValueChars {
			truncated := (*ev.Message)[:wire.MaxValueChars]
			ev.Message = &truncated
		}
	}

	point := InstanceDataPoint{Timestamp: i.now()}
	traceBytes := make(map[string]int, len(snapshot.Traces))

	for traceId, fragment := range snapshot.Traces {
		n := fragment.TotalSizeBytes()
		traceBytes[fragment.RootSpan.Name] += n

		header := TraceHeader{
			TraceId:     traceId,
			TraceName:   fragment.RootSpan.Name,
			TraceTs:     fragment.RootSpan.Timestamp,
			NewWarnings: fragment.HasWarnings(),
			NewErrors:   fragment.HasErrors(),
			BytesInFrag: n,
			Duration:    fragment.RootSpan.Duration,
		}
		if fragment.Closed() {
			point.FinishedTrace = append(point.FinishedTrace, header)
		} else {
			point.ActiveTraces = append(point.ActiveTraces, header)
		}

		if err := i.reconciler.Reconcile(ctx, snapshot.InstanceId.ServiceId, traceId, fragment); err != nil {
			i.logger.WithError(err).WithField("trace_id", traceId).Warn("reconciliation failed, skipping fragment")
			continue
		}
	}

	orphanBytes := snapshot.OrphanEventsSizeBytes()
	point.OrphanEvents = snapshot.OrphanEvents

	directive := i.budgets.Record(snapshot.InstanceId, traceBytes, orphanBytes, i.now())
	point.Budget = BudgetUsage{OrphanEventsBytes: orphanBytes, TraceBytes: traceBytes}

	totalBytes := orphanBytes
	for _, n := range traceBytes {
		totalBytes += n
	}
	point.ExportBuffer = ExportBufferStats{UsageBytes: totalBytes, CapacityBytes: ExportBufferCapacityBytes}

	i.registry.Touch(snapshot.InstanceId, snapshot.Filter, snapshot.ProfileData, point)

	if len(snapshot.OrphanEvents) > 0 {
		if err := i.store.InsertOrphanEvents(ctx, snapshot.InstanceId.ServiceId, snapshot.OrphanEvents); err != nil {
			return wire.Sampling{}, fmt.Errorf("collector: insert orphan events: %w", err)
		}
	}

	if i.metrics != nil {
		i.metrics.ObserveIngestAccepted(totalBytes)
	}

	_ = entry // entry already validated presence; Touch reads/writes it by id
	return directive, nil
}
