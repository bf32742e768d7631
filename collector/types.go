// Package collector implements the central server side of the system:
// the ingest endpoint, reconciliation against storage, the live registry
// of connected instances, the alert evaluator, the notification
// dispatcher and the janitor. See spec.md §4.F-L.
package collector

import (
	"time"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// BudgetUsage is a byte-budget-usage record, captured once per ingested
// snapshot per spec.md §3's InstanceDataPoint.
type BudgetUsage struct {
	OrphanEventsBytes int
	TraceBytes        map[string]int
}

// TraceHeader summarizes one trace fragment delivered in a snapshot, per
// spec.md §3.
type TraceHeader struct {
	TraceId     uint64
	TraceName   string
	TraceTs     uint64
	NewWarnings bool
	NewErrors   bool
	BytesInFrag int
	Duration    *uint64
}

// ExportBufferCapacityBytes is the assumed per-instance export-buffer
// capacity used for the alert evaluator's usage-percentage check (spec.md
// §4.J). The original implementation reads this from the host process's
// own configured buffer size; since this module's producer buffers
// unboundedly in Tracer State (drained every second rather than
// size-capped), the collector instead tracks usage against this fixed
// assumed ceiling, matching the byte-budget accumulator's own limit.
const ExportBufferCapacityBytes = BudgetLimitBytes

// ExportBufferStats is the "how full is the producer's pending-export
// buffer" sample taken once per ingested snapshot, per
// original_source/tracer-backend/src/api/state.rs's ExportBufferStats.
type ExportBufferStats struct {
	UsageBytes    int
	CapacityBytes int
}

// UsagePercentage0To100 mirrors usage_percentage_0_to_100.
func (e ExportBufferStats) UsagePercentage0To100() float64 {
	if e.CapacityBytes <= 0 {
		return 0
	}
	return float64(e.UsageBytes) / float64(e.CapacityBytes) * 100
}

// InstanceDataPoint is one entry in an instance's bounded ring, per
// spec.md §3.
type InstanceDataPoint struct {
	Timestamp     time.Time
	ActiveTraces  []TraceHeader
	FinishedTrace []TraceHeader
	OrphanEvents  []wire.NewOrphanEvent
	Budget        BudgetUsage
	ExportBuffer  ExportBufferStats
}

// MaxDataPointsPerInstance bounds InstanceRegistryEntry.DataPoints, per
// spec.md §3 and the §8 testable property on ring size.
const MaxDataPointsPerInstance = 500

// ChangeFilterRequest is pushed to a registry entry's cooperative handle
// by UI-facing callers, forwarded down the SSE stream by the connect
// task. Mirrors original_source/tracer-backend/src/api/handlers/instance/connect.rs's
// ChangeFilterInternalRequest.
type ChangeFilterRequest struct {
	Filter string
}
