package collector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tiberiusferreira/tracer-sub000/storage"
)

// JanitorInterval matches the Alert Evaluator's cadence, per spec.md §4.L
// ("on the same 60s cadence as (J)").
const JanitorInterval = AlertEvaluatorInterval

// RetentionPeriod is how long persisted traces, orphan events and
// notification records are kept before the Janitor deletes them.
const RetentionPeriod = 24 * time.Hour

// Janitor is the collector's component L: periodic storage and registry
// cleanup. Grounded on
// original_source/tracer-backend/src/background_tasks/clean_up/*.
type Janitor struct {
	registry *Registry
	store    storage.Adapter
	logger   logrus.FieldLogger
	now      func() time.Time
	metrics  *Metrics
}

// NewJanitor wires a Janitor over registry/store.
func NewJanitor(registry *Registry, store storage.Adapter, logger logrus.FieldLogger) *Janitor {
	return &Janitor{registry: registry, store: store, logger: logger, now: time.Now}
}

// WithMetrics attaches m so every sweep and deletion kind is counted.
func (j *Janitor) WithMetrics(m *Metrics) *Janitor {
	j.metrics = m
	return j
}

// Run ticks every JanitorInterval until ctx is canceled, calling Sweep
// each time.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep deletes persisted traces, orphan events and notification records
// older than RetentionPeriod, then prunes the Live Registry, per
// spec.md §4.L.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := j.now().Add(-RetentionPeriod)
	if j.metrics != nil {
		j.metrics.ObserveJanitorSweep()
	}

	if err := j.store.DeleteOldTraces(ctx, cutoff); err != nil {
		j.logger.WithError(err).Warn("janitor: failed to delete old traces")
	} else if j.metrics != nil {
		j.metrics.ObserveJanitorDeleted("traces")
	}
	if err := j.store.DeleteOldOrphanEvents(ctx, cutoff); err != nil {
		j.logger.WithError(err).Warn("janitor: failed to delete old orphan events")
	} else if j.metrics != nil {
		j.metrics.ObserveJanitorDeleted("orphan_events")
	}
	if err := j.store.DeleteOldNotificationRecords(ctx, cutoff); err != nil {
		j.logger.WithError(err).Warn("janitor: failed to delete old notification records")
	} else if j.metrics != nil {
		j.metrics.ObserveJanitorDeleted("notification_records")
	}

	j.registry.Prune(j.now())
}
