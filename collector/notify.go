package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tiberiusferreira/tracer-sub000/storage"
	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// maxAttemptOutcomeChars is the per-attempt outcome-string truncation
// limit, per spec.md §4.K.
const maxAttemptOutcomeChars = 4096

// Sender delivers a notification payload to one channel kind. webhook and
// log are the two concrete implementations; additional transports (Slack,
// PagerDuty, ...) plug in the same way without Dispatcher change.
type Sender interface {
	Send(ctx context.Context, channel storage.Channel, payload string) error
}

// Dispatcher is the collector's component K: per-channel min-alert-period
// gating plus best-effort delivery, grounded on
// `cloudapi/client.go`'s request idiom for the webhook sender and
// spec.md §4.K for the gating/recording rules.
type Dispatcher struct {
	store   storage.Adapter
	senders map[string]Sender
	logger  logrus.FieldLogger
	now     func() time.Time
	metrics *Metrics
}

// WithMetrics attaches m so every delivery attempt is counted and timed.
func (d *Dispatcher) WithMetrics(m *Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// NewDispatcher wires a Dispatcher with a default sender set (webhook,
// log). Callers may register additional Sender kinds via RegisterSender.
func NewDispatcher(store storage.Adapter, logger logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		store: store,
		senders: map[string]Sender{
			"webhook": NewWebhookSender(logger),
			"log":     NewLogSender(logger),
		},
		logger: logger,
		now:    time.Now,
	}
}

// RegisterSender adds or replaces the Sender used for channels of kind.
func (d *Dispatcher) RegisterSender(kind string, sender Sender) {
	d.senders[kind] = sender
}

// Dispatch delivers payload to every channel configured for svc whose
// min-alert-period has elapsed since its last attempt, recording the
// outcome of each attempt regardless of success. Delivery failure is
// non-fatal: one channel's failure never prevents others from being
// tried, per spec.md §4.K.
func (d *Dispatcher) Dispatch(ctx context.Context, svc wire.ServiceId, payload string) {
	channels, err := d.store.Channels(ctx, svc)
	if err != nil {
		d.logger.WithError(err).WithField("service", svc).Warn("dispatcher: failed to load channels")
		return
	}

	now := d.now()
	for _, ch := range channels {
		if ch.LastAttemptAt != nil && now.Sub(*ch.LastAttemptAt) < ch.MinAlertPeriod {
			continue
		}
		d.attempt(ctx, ch, payload, now)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, ch storage.Channel, payload string, at time.Time) {
	sender, ok := d.senders[ch.Kind]
	if !ok {
		d.recordAttempt(ctx, ch, at, fmt.Sprintf("no sender registered for channel kind %q", ch.Kind))
		return
	}

	start := d.now()
	outcome := "delivered"
	metricOutcome := "delivered"
	if err := sender.Send(ctx, ch, payload); err != nil {
		outcome = fmt.Sprintf("failed: %v", err)
		metricOutcome = "failed"
		d.logger.WithError(err).WithField("channel", ch.Id).Warn("dispatcher: delivery failed")
	}
	if d.metrics != nil {
		d.metrics.ObserveNotification(ch.Kind, metricOutcome, d.now().Sub(start).Seconds())
	}
	d.recordAttempt(ctx, ch, at, outcome)
}

func (d *Dispatcher) recordAttempt(ctx context.Context, ch storage.Channel, at time.Time, outcome string) {
	if len(outcome) > maxAttemptOutcomeChars {
		outcome = outcome[:maxAttemptOutcomeChars]
	}
	if err := d.store.RecordNotificationAttempt(ctx, ch.Id, at, outcome); err != nil {
		d.logger.WithError(err).WithField("channel", ch.Id).Warn("dispatcher: failed to record attempt")
	}
}

// WebhookSender POSTs the payload as a JSON body to ch.Target. Grounded on
// `cloudapi/client.go`'s NewRequest/Do request idiom.
type WebhookSender struct {
	http   *http.Client
	logger logrus.FieldLogger
}

// NewWebhookSender constructs a WebhookSender with a bounded-timeout client.
func NewWebhookSender(logger logrus.FieldLogger) *WebhookSender {
	return &WebhookSender{http: &http.Client{Timeout: 10 * time.Second}, logger: logger}
}

type webhookBody struct {
	Text string `json:"text"`
}

// Send implements Sender.
func (w *WebhookSender) Send(ctx context.Context, channel storage.Channel, payload string) error {
	body, err := json.Marshal(webhookBody{Text: payload})
	if err != nil {
		return fmt.Errorf("collector: webhook: marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel.Target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("collector: webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("collector: webhook: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector: webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// LogSender just logs the payload, for local/dev channels with no real
// transport configured.
type LogSender struct {
	logger logrus.FieldLogger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger logrus.FieldLogger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (l *LogSender) Send(_ context.Context, channel storage.Channel, payload string) error {
	l.logger.WithField("channel", channel.Id).Info(payload)
	return nil
}
