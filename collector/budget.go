package collector

import (
	"sync"
	"time"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// BudgetWindow and BudgetLimitBytes are the byte-budget accumulator's
// fixed window and per-bucket ceiling, per spec.md §4.F step 6.
const (
	BudgetWindow     = 60 * time.Second
	BudgetLimitBytes = 100_000
)

// bucket tracks bytes delivered within the current window for one
// trace-name (or the dedicated orphan-events bucket).
type bucket struct {
	windowStart time.Time
	bytes       int
}

func (b *bucket) add(now time.Time, n int) {
	if now.Sub(b.windowStart) >= BudgetWindow {
		b.windowStart = now
		b.bytes = 0
	}
	b.bytes += n
}

func (b *bucket) overBudget() bool {
	return b.bytes > BudgetLimitBytes
}

// Budgets is the per-instance byte-budget accumulator (spec.md §4.F step
// 6): a 60s window that restarts once 60s have passed since it opened,
// 100_000-byte limit, tracked independently per
// trace name plus one dedicated orphan-events bucket. Over-budget names
// produce DropNewTracesKeepExistingTraceNewData; under-budget produce
// AllowNewTraces.
type Budgets struct {
	mu           sync.Mutex
	perInstance  map[wire.InstanceId]*instanceBudget
}

type instanceBudget struct {
	traceBuckets map[string]*bucket
	orphanBucket bucket
}

// NewBudgets constructs an empty Budgets tracker.
func NewBudgets() *Budgets {
	return &Budgets{perInstance: make(map[wire.InstanceId]*instanceBudget)}
}

// Record folds traceBytes (per trace name) and orphanBytes into
// instanceId's current window, and returns the resulting Sampling
// directive to hand back to the producer.
func (b *Budgets) Record(instanceId wire.InstanceId, traceBytes map[string]int, orphanBytes int, now time.Time) wire.Sampling {
	b.mu.Lock()
	defer b.mu.Unlock()

	ib, ok := b.perInstance[instanceId]
	if !ok {
		ib = &instanceBudget{traceBuckets: make(map[string]*bucket)}
		b.perInstance[instanceId] = ib
	}

	ib.orphanBucket.add(now, orphanBytes)

	directive := wire.Sampling{
		Traces:               make(map[string]wire.TraceSamplingState, len(traceBytes)),
		AllowNewOrphanEvents: !ib.orphanBucket.overBudget(),
	}
	for name, n := range traceBytes {
		bk, ok := ib.traceBuckets[name]
		if !ok {
			bk = &bucket{windowStart: now}
			ib.traceBuckets[name] = bk
		}
		bk.add(now, n)
	}
	// Every trace name this instance has ever reported gets a verdict,
	// not just the ones touched in this snapshot — a name that went
	// quiet mid-window should keep its sampling state until the window
	// rolls over.
	for name, bk := range ib.traceBuckets {
		bk.add(now, 0)
		if bk.overBudget() {
			directive.Traces[name] = wire.DropNewTracesKeepExistingTraceNewData
		} else {
			directive.Traces[name] = wire.AllowNewTraces
		}
	}
	return directive
}
