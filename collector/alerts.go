package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tiberiusferreira/tracer-sub000/storage"
	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// AlertEvaluatorInterval is the Alert Evaluator's fixed cadence, shared
// with the Janitor, per spec.md §4.J/§4.L.
const AlertEvaluatorInterval = 60 * time.Second

// maxAlertsPerCategory caps how many alert lines a single category
// contributes per service, per spec.md §4.J.
const maxAlertsPerCategory = 5

// maxNotificationChars truncates each service's notification payload,
// per spec.md §4.J.
const maxNotificationChars = 2048

// orphanMessagePreviewChars mirrors create_orphan_error_message's 20-rune
// preview window.
const orphanMessagePreviewChars = 20

// AlertEvaluator is the collector's component J. Grounded on
// original_source/tracer-backend/src/background_tasks/alerts/checker/checks.rs's
// five independent checks, each scanning data points newer than the
// service's previous last-checked timestamp.
type AlertEvaluator struct {
	registry *Registry
	store    storage.Adapter
	logger   logrus.FieldLogger
	now      func() time.Time
	metrics  *Metrics
}

// NewAlertEvaluator wires an AlertEvaluator over registry/store.
func NewAlertEvaluator(registry *Registry, store storage.Adapter, logger logrus.FieldLogger) *AlertEvaluator {
	return &AlertEvaluator{registry: registry, store: store, logger: logger, now: time.Now}
}

// WithMetrics attaches m so every Evaluate pass is counted.
func (a *AlertEvaluator) WithMetrics(m *Metrics) *AlertEvaluator {
	a.metrics = m
	return a
}

// Run ticks every AlertEvaluatorInterval until ctx is canceled, calling
// Evaluate and handing each service's payload to publish so it reaches
// only that service's own notification channels (spec.md §4.K dispatches
// per-channel, and storage.Channel scopes every channel to one service;
// see DESIGN.md for why this replaced an earlier single-global-broadcast
// draft).
func (a *AlertEvaluator) Run(ctx context.Context, publish func(wire.ServiceId, string)) {
	ticker := time.NewTicker(AlertEvaluatorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for svc, payload := range a.Evaluate(ctx) {
				publish(svc, payload)
			}
		}
	}
}

// Evaluate snapshots the registry, stamps every known service's
// last-checked time to now, and returns one 2048-char-truncated
// notification payload per service that fired an alert (services with
// nothing to report are absent from the result).
func (a *AlertEvaluator) Evaluate(ctx context.Context) map[wire.ServiceId]string {
	if a.metrics != nil {
		a.metrics.ObserveAlertsEvaluated()
	}
	now := a.now()
	result := make(map[wire.ServiceId]string)
	for _, svc := range a.registry.Services() {
		since, existed := a.registry.LastCheckedAlertsAndAdvance(svc, now)
		if !existed {
			continue
		}
		alert := a.evaluateService(ctx, svc, since, now)
		if alert == "" {
			continue
		}
		if len(alert) > maxNotificationChars {
			alert = alert[:maxNotificationChars]
		}
		result[svc] = alert
	}
	return result
}

func (a *AlertEvaluator) evaluateService(ctx context.Context, svc wire.ServiceId, since, now time.Time) string {
	cfg, err := a.store.EnsureService(ctx, svc)
	if err != nil {
		a.logger.WithError(err).WithField("service", svc).Warn("alert evaluator: failed to load config, skipping")
		return ""
	}
	points := a.registry.DataPointsSince(svc, since)

	var alerts []string
	if msg := instanceCountAlert(cfg, a.registry.InstanceCount(svc)); msg != "" {
		alerts = append(alerts, msg)
	}
	if msg := maxActiveTracesAlert(cfg, points, now); msg != "" {
		alerts = append(alerts, msg)
	}
	if msg := exportBufferUsageAlert(cfg, points, now); msg != "" {
		alerts = append(alerts, msg)
	}
	alerts = append(alerts, traceAlerts(cfg, points, now)...)
	alerts = append(alerts, orphanEventAlerts(points, now)...)

	if len(alerts) == 0 {
		return ""
	}
	return fmt.Sprintf("%s:\n%s", svc, strings.Join(alerts, "\n"))
}

func instanceCountAlert(cfg storage.AlertConfig, current int) string {
	if current < cfg.MinInstanceCount {
		return fmt.Sprintf("Hit instance count of %d, below minimum of %d", current, cfg.MinInstanceCount)
	}
	return ""
}

func maxActiveTracesAlert(cfg storage.AlertConfig, points []InstanceDataPoint, now time.Time) string {
	for i := len(points) - 1; i >= 0; i-- {
		p := points[i]
		count := len(p.ActiveTraces)
		if count > cfg.MaxActiveTraces {
			secondsAgo := secondsAgoFromNanos(p.Timestamp, now)
			return fmt.Sprintf("Too many active traces (%d), above maximum of %d, %d seconds ago", count, cfg.MaxActiveTraces, secondsAgo)
		}
	}
	return ""
}

func exportBufferUsageAlert(cfg storage.AlertConfig, points []InstanceDataPoint, now time.Time) string {
	for i := len(points) - 1; i >= 0; i-- {
		p := points[i]
		usage := p.ExportBuffer.UsagePercentage0To100()
		if usage > cfg.MaxExportBufferUsagePercent {
			secondsAgo := secondsAgoFromNanos(p.Timestamp, now)
			return fmt.Sprintf("Export buffer usage hit %.0f%% (%d/%d), above maximum of %.0f%%, %d seconds ago",
				usage, p.ExportBuffer.UsageBytes, p.ExportBuffer.CapacityBytes, cfg.MaxExportBufferUsagePercent, secondsAgo)
		}
	}
	return ""
}

// traceAlerts flags, for every active-or-finished trace header across
// points, duration over its per-trace (or trace-wide) max and any
// newly-seen error. Caps at maxAlertsPerCategory total, matching the
// original's shared counter across both sub-checks within the category.
func traceAlerts(cfg storage.AlertConfig, points []InstanceDataPoint, now time.Time) []string {
	var alerts []string
	for i := len(points) - 1; i >= 0 && len(alerts) < maxAlertsPerCategory; i-- {
		p := points[i]
		for _, tr := range append(append([]TraceHeader{}, p.ActiveTraces...), p.FinishedTrace...) {
			if len(alerts) >= maxAlertsPerCategory {
				break
			}
			thresholds := cfg.ThresholdsFor(tr.TraceName)
			if tr.Duration != nil {
				durationMs := *tr.Duration / 1_000_000
				if durationMs > thresholds.MaxDurationMillis {
					alerts = append(alerts, durationAlertMessage(tr, durationMs, thresholds.MaxDurationMillis, now))
				}
			}
			if tr.NewErrors && len(alerts) < maxAlertsPerCategory {
				alerts = append(alerts, errorAlertMessage(tr, now))
			}
		}
	}
	return alerts
}

func durationAlertMessage(tr TraceHeader, durationMs, maxDurationMs uint64, now time.Time) string {
	secondsAgo := secondsAgoFromNanos(traceTimeFromNanos(tr.TraceTs), now)
	return fmt.Sprintf("Trace %s (id=%d) hit duration of %dms, over maximum of %dms %d seconds ago",
		tr.TraceName, tr.TraceId, durationMs, maxDurationMs, secondsAgo)
}

func errorAlertMessage(tr TraceHeader, now time.Time) string {
	secondsAgo := secondsAgoFromNanos(traceTimeFromNanos(tr.TraceTs), now)
	return fmt.Sprintf("Trace %s (id=%d) had errors %d seconds ago", tr.TraceName, tr.TraceId, secondsAgo)
}

// orphanEventAlerts flags Error-severity orphan events with a truncated
// message preview.
func orphanEventAlerts(points []InstanceDataPoint, now time.Time) []string {
	var alerts []string
	for i := len(points) - 1; i >= 0 && len(alerts) < maxAlertsPerCategory; i-- {
		p := points[i]
		for _, ev := range p.OrphanEvents {
			if len(alerts) >= maxAlertsPerCategory {
				break
			}
			if ev.Severity != wire.SeverityError {
				continue
			}
			message := ""
			if ev.Message != nil {
				message = *ev.Message
			}
			if len(message) > orphanMessagePreviewChars {
				message = message[:orphanMessagePreviewChars] + "..."
			}
			secondsAgo := secondsAgoFromNanos(traceTimeFromNanos(ev.Timestamp), now)
			alerts = append(alerts, fmt.Sprintf("Had Error Orphan Event %s %d seconds ago", message, secondsAgo))
		}
	}
	return alerts
}

func traceTimeFromNanos(nanos uint64) time.Time {
	return time.Unix(0, int64(nanos)).UTC()
}

func secondsAgoFromNanos(eventTime, now time.Time) int64 {
	return int64(now.Sub(eventTime).Seconds())
}
