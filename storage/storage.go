// Package storage implements the Storage Adapter (spec.md §4.H): a
// write-and-lookup sink over the persisted trace/span/event tables, plus
// the service/alert-config and notification-record tables components J
// and K need. It exposes no cursors or streaming reads to the core.
package storage

import (
	"context"
	"time"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// PersistedSpan is a span row as read back from storage, used by
// Reconciliation to decide insert-vs-upsert.
type PersistedSpan struct {
	Id       uint64
	Open     bool
	Duration *uint64
}

// PersistedTrace is a trace row's reconciliation-relevant projection.
type PersistedTrace struct {
	Exists   bool
	Duration *uint64
}

// Channel is a configured notification channel row.
type Channel struct {
	Id                 string
	ServiceName        string
	ServiceEnv         string
	Kind               string
	Target             string
	MinAlertPeriod     time.Duration
	LastAttemptAt      *time.Time
}

// Adapter is the interface Reconciliation, the Ingest Endpoint, the
// Alert Evaluator, the Notification Dispatcher and the Janitor persist
// through. One concrete implementation (Postgres, postgres.go) talks to
// a real database; Memory (memory.go) is an in-process fake used by the
// collector package's own tests.
type Adapter interface {
	// EnsureService returns svc's persisted AlertConfig, creating the row
	// with default thresholds if this is the first time svc is seen
	// (service-config bootstrap, spec.md SUPPLEMENTED FEATURES).
	EnsureService(ctx context.Context, svc wire.ServiceId) (AlertConfig, error)

	// LookupTrace reports whether traceId exists for svc and, if so,
	// whether it already has a duration (spec.md §4.G step 1).
	LookupTrace(ctx context.Context, svc wire.ServiceId, traceId uint64) (PersistedTrace, error)

	// InsertRoot inserts a new trace row from root. If traceId already
	// exists it does nothing and returns nil.
	InsertRoot(ctx context.Context, svc wire.ServiceId, traceId uint64, root wire.RootSpan) error

	// LookupSpans batch-queries which of ids already exist as rows under
	// traceId (spec.md §4.G step 3, "single batch query by id set").
	LookupSpans(ctx context.Context, traceId uint64, ids []uint64) (map[uint64]PersistedSpan, error)

	// UpsertOpenSpan inserts span as a new open row, or does nothing if
	// a row with the same id already exists (open spans carry no
	// duration to upsert). relocated marks that span.ParentId was
	// rewritten to the trace root by Reconciliation step 5 because the
	// original parent span was lost.
	UpsertOpenSpan(ctx context.Context, traceId uint64, span wire.OpenSpan, relocated bool) error

	// UpsertClosedSpan inserts span as a new closed row, or updates the
	// existing row's duration if it was already present (open or
	// closed). relocated marks that span.ParentId was rewritten to the
	// trace root by Reconciliation step 5.
	UpsertClosedSpan(ctx context.Context, traceId uint64, span wire.ClosedSpan, relocated bool) error

	// InsertEvents persists events under traceId. relocated marks which
	// events had their span id rewritten to the trace root by
	// Reconciliation step 5.
	InsertEvents(ctx context.Context, traceId uint64, events []wire.NewSpanEvent, relocated []bool) error

	// UpdateTraceCounters atomically updates traceId's produced/dropped
	// counters and, if non-nil, its duration (spec.md §4.G step 6).
	UpdateTraceCounters(ctx context.Context, traceId uint64, spansProduced, eventsProduced, eventsDropped uint32, duration *uint64) error

	// InsertOrphanEvents persists a batch of orphan events for svc.
	InsertOrphanEvents(ctx context.Context, svc wire.ServiceId, events []wire.NewOrphanEvent) error

	// RecentTraceHeaders reports, for each of traceIds, whether the trace
	// exists and its persisted duration.
	RecentTraceHeaders(ctx context.Context, traceIds []uint64) (map[uint64]PersistedTrace, error)

	// Channels returns the notification channels configured for svc.
	Channels(ctx context.Context, svc wire.ServiceId) ([]Channel, error)

	// RecordNotificationAttempt stores the outcome of an attempted
	// delivery on channel, truncated to 4096 characters by the caller.
	RecordNotificationAttempt(ctx context.Context, channelId string, at time.Time, outcome string) error

	// DeleteOldTraces removes persisted traces (and their spans/events)
	// older than olderThan.
	DeleteOldTraces(ctx context.Context, olderThan time.Time) error

	// DeleteOldOrphanEvents removes persisted orphan events older than
	// olderThan.
	DeleteOldOrphanEvents(ctx context.Context, olderThan time.Time) error

	// DeleteOldNotificationRecords removes notification-attempt rows
	// older than olderThan.
	DeleteOldNotificationRecords(ctx context.Context, olderThan time.Time) error

	// ListTraceGrid returns a page of svc's persisted traces, newest
	// first, for the trace-grid UI endpoint (SPEC_FULL.md Supplemented
	// Features).
	ListTraceGrid(ctx context.Context, svc wire.ServiceId, limit, offset int) ([]TraceGridRow, error)

	// TraceTimestamps returns every span/event timestamp recorded under
	// traceId, ascending, used to compute displayable chunk boundaries.
	TraceTimestamps(ctx context.Context, traceId uint64) ([]uint64, error)

	// TraceChunk returns the spans and events of traceId falling within
	// [start, end].
	TraceChunk(ctx context.Context, traceId uint64, start, end uint64) (TraceChunkData, error)

	// OrphanEventsInRange returns svc's persisted orphan events timestamped
	// within [from, to].
	OrphanEventsInRange(ctx context.Context, svc wire.ServiceId, from, to time.Time) ([]wire.NewOrphanEvent, error)
}

// TraceGridRow is one row of the paginated trace-grid UI listing.
type TraceGridRow struct {
	TraceId   uint64
	TraceName string
	Timestamp uint64
	Duration  *uint64
}

// TraceChunkData is the spans/events falling within one displayable
// chunk of a trace.
type TraceChunkData struct {
	Spans  []wire.ClosedSpan
	Events []wire.NewSpanEvent
}

// AlertConfig holds a service's alerting thresholds, per spec.md §3. It
// lives in this package (rather than collector, which is its only
// consumer) because EnsureService's return type must not import
// collector — collector already imports storage.
type AlertConfig struct {
	MinInstanceCount           int
	MaxActiveTraces            int
	MaxExportBufferUsagePercent float64
	TraceWide                  TraceAlertThresholds
	PerTraceOverrides          map[string]TraceAlertThresholds
}

// TraceAlertThresholds is the per-trace-name (or trace-wide) duration and
// warning-percentage threshold pair.
type TraceAlertThresholds struct {
	MaxDurationMillis uint64
	MaxWarningPercent float64
}

// DefaultAlertConfig is what EnsureService bootstraps a never-seen-before
// service with — generous enough that a freshly onboarded service doesn't
// immediately page anyone.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		MinInstanceCount:            1,
		MaxActiveTraces:             1000,
		MaxExportBufferUsagePercent: 80,
		TraceWide: TraceAlertThresholds{
			MaxDurationMillis: 1000,
			MaxWarningPercent: 10,
		},
		PerTraceOverrides: map[string]TraceAlertThresholds{},
	}
}

// ThresholdsFor returns the per-trace-name override if present, else the
// trace-wide thresholds.
func (c AlertConfig) ThresholdsFor(traceName string) TraceAlertThresholds {
	if t, ok := c.PerTraceOverrides[traceName]; ok {
		return t
	}
	return c.TraceWide
}
