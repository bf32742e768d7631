package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// Postgres is the production Adapter. InsertEvents and InsertOrphanEvents
// each write their batch inside one transaction; every other call runs its
// statements directly on the pool, so the writes for one fragment are not
// grouped into a single transaction. No ORM: every query is hand-written SQL against pgx, the way
// the rest of this codebase prefers explicit wire-format-shaped structs
// over reflection-heavy abstractions.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to connString (a standard libpq/pgx connection
// string) and returns a ready Adapter. Callers run Migrate against the
// same pool before first use (see migrations.go, driven by
// `collector migrate`).
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Pool exposes the underlying connection pool for Migrate.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

var _ Adapter = (*Postgres)(nil)

func (p *Postgres) EnsureService(ctx context.Context, svc wire.ServiceId) (AlertConfig, error) {
	var cfg AlertConfig
	row := p.pool.QueryRow(ctx, `
		select min_instance_count, max_active_traces, max_export_buffer_usage_percent, max_duration_millis, max_warning_percent
		from service where name = $1 and env = $2`, svc.Name, svc.Env)
	err := row.Scan(&cfg.MinInstanceCount, &cfg.MaxActiveTraces, &cfg.MaxExportBufferUsagePercent, &cfg.TraceWide.MaxDurationMillis, &cfg.TraceWide.MaxWarningPercent)
	switch {
	case err == nil:
		cfg.PerTraceOverrides, err = p.loadTraceOverrides(ctx, svc)
		return cfg, err
	case errors.Is(err, pgx.ErrNoRows):
		cfg = DefaultAlertConfig()
		_, err = p.pool.Exec(ctx, `
			insert into service (name, env, min_instance_count, max_active_traces, max_export_buffer_usage_percent, max_duration_millis, max_warning_percent)
			values ($1, $2, $3, $4, $5, $6, $7)
			on conflict (name, env) do nothing`,
			svc.Name, svc.Env, cfg.MinInstanceCount, cfg.MaxActiveTraces, cfg.MaxExportBufferUsagePercent, cfg.TraceWide.MaxDurationMillis, cfg.TraceWide.MaxWarningPercent)
		return cfg, err
	default:
		return AlertConfig{}, fmt.Errorf("storage: ensure service: %w", err)
	}
}

func (p *Postgres) loadTraceOverrides(ctx context.Context, svc wire.ServiceId) (map[string]TraceAlertThresholds, error) {
	rows, err := p.pool.Query(ctx, `
		select trace_name, max_duration_millis, max_warning_percent
		from service_trace_override where service_name = $1 and service_env = $2`, svc.Name, svc.Env)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := make(map[string]TraceAlertThresholds)
	for rows.Next() {
		var name string
		var t TraceAlertThresholds
		if err := rows.Scan(&name, &t.MaxDurationMillis, &t.MaxWarningPercent); err != nil {
			return nil, err
		}
		overrides[name] = t
	}
	return overrides, rows.Err()
}

func (p *Postgres) LookupTrace(ctx context.Context, svc wire.ServiceId, traceId uint64) (PersistedTrace, error) {
	var duration *uint64
	err := p.pool.QueryRow(ctx, `
		select duration_nanos from trace
		where id = $1 and service_name = $2 and service_env = $3`, traceId, svc.Name, svc.Env).Scan(&duration)
	switch {
	case err == nil:
		return PersistedTrace{Exists: true, Duration: duration}, nil
	case errors.Is(err, pgx.ErrNoRows):
		return PersistedTrace{}, nil
	default:
		return PersistedTrace{}, fmt.Errorf("storage: lookup trace: %w", err)
	}
}

func (p *Postgres) InsertRoot(ctx context.Context, svc wire.ServiceId, traceId uint64, root wire.RootSpan) error {
	_, err := p.pool.Exec(ctx, `
		insert into trace (id, service_name, service_env, name, start_timestamp_nanos, duration_nanos)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (id) do nothing`,
		traceId, svc.Name, svc.Env, root.Name, root.Timestamp, root.Duration)
	if err != nil {
		return fmt.Errorf("storage: insert root: %w", err)
	}
	return p.insertSpanKeyValues(ctx, traceId, traceId, root.KeyVals)
}

func (p *Postgres) LookupSpans(ctx context.Context, traceId uint64, ids []uint64) (map[uint64]PersistedSpan, error) {
	rows, err := p.pool.Query(ctx, `
		select id, duration_nanos from span where trace_id = $1 and id = any($2)`, traceId, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: lookup spans: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]PersistedSpan, len(ids))
	for rows.Next() {
		var s PersistedSpan
		if err := rows.Scan(&s.Id, &s.Duration); err != nil {
			return nil, err
		}
		s.Open = s.Duration == nil
		out[s.Id] = s
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertOpenSpan(ctx context.Context, traceId uint64, span wire.OpenSpan, relocated bool) error {
	_, err := p.pool.Exec(ctx, `
		insert into span (id, trace_id, name, start_timestamp_nanos, parent_id, duration_nanos, relocated)
		values ($1, $2, $3, $4, $5, null, $6)
		on conflict (trace_id, id) do nothing`,
		span.Id, traceId, span.Name, span.Timestamp, span.ParentId, relocated)
	if err != nil {
		return fmt.Errorf("storage: upsert open span: %w", err)
	}
	return p.insertSpanKeyValues(ctx, traceId, span.Id, span.KeyVals)
}

func (p *Postgres) UpsertClosedSpan(ctx context.Context, traceId uint64, span wire.ClosedSpan, relocated bool) error {
	_, err := p.pool.Exec(ctx, `
		insert into span (id, trace_id, name, start_timestamp_nanos, parent_id, duration_nanos, relocated)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (trace_id, id) do update set duration_nanos = excluded.duration_nanos`,
		span.Id, traceId, span.Name, span.Timestamp, span.ParentId, span.Duration, relocated)
	if err != nil {
		return fmt.Errorf("storage: upsert closed span: %w", err)
	}
	return p.insertSpanKeyValues(ctx, traceId, span.Id, span.KeyVals)
}

func (p *Postgres) insertSpanKeyValues(ctx context.Context, traceId, spanId uint64, kv wire.KeyValues) error {
	if len(kv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kv))
	values := make([]string, 0, len(kv))
	for k, v := range kv {
		keys = append(keys, k)
		values = append(values, v)
	}
	_, err := p.pool.Exec(ctx, `
		insert into span_key_value (trace_id, span_id, key, value)
		select $1, $2, unnest($3::text[]), unnest($4::text[])
		on conflict (trace_id, span_id, key) do update set value = excluded.value`,
		traceId, spanId, keys, values)
	if err != nil {
		return fmt.Errorf("storage: insert span key-values: %w", err)
	}
	return nil
}

func (p *Postgres) InsertEvents(ctx context.Context, traceId uint64, events []wire.NewSpanEvent, relocated []bool) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: insert events: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, ev := range events {
		var eventId uint64
		err := tx.QueryRow(ctx, `
			insert into event (trace_id, span_id, message, timestamp_nanos, severity, relocated)
			values ($1, $2, $3, $4, $5, $6) returning id`,
			traceId, ev.SpanId, ev.Message, ev.Timestamp, ev.Severity.String(), relocated[i]).Scan(&eventId)
		if err != nil {
			return fmt.Errorf("storage: insert event: %w", err)
		}
		for k, v := range ev.KeyVals {
			if _, err := tx.Exec(ctx, `
				insert into event_key_value (event_id, key, value) values ($1, $2, $3)`,
				eventId, k, v); err != nil {
				return fmt.Errorf("storage: insert event key-value: %w", err)
			}
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) UpdateTraceCounters(ctx context.Context, traceId uint64, spansProduced, eventsProduced, eventsDropped uint32, duration *uint64) error {
	_, err := p.pool.Exec(ctx, `
		update trace set
			spans_produced = $2,
			events_produced = $3,
			events_dropped_by_sampling = $4,
			duration_nanos = coalesce($5, duration_nanos)
		where id = $1`,
		traceId, spansProduced, eventsProduced, eventsDropped, duration)
	if err != nil {
		return fmt.Errorf("storage: update trace counters: %w", err)
	}
	return nil
}

func (p *Postgres) InsertOrphanEvents(ctx context.Context, svc wire.ServiceId, events []wire.NewOrphanEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: insert orphan events: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, ev := range events {
		var id uint64
		err := tx.QueryRow(ctx, `
			insert into orphan_event (service_name, service_env, message, timestamp_nanos, severity)
			values ($1, $2, $3, $4, $5) returning id`,
			svc.Name, svc.Env, ev.Message, ev.Timestamp, ev.Severity.String()).Scan(&id)
		if err != nil {
			return fmt.Errorf("storage: insert orphan event: %w", err)
		}
		for k, v := range ev.KeyVals {
			if _, err := tx.Exec(ctx, `
				insert into orphan_event_key_value (orphan_event_id, key, value) values ($1, $2, $3)`,
				id, k, v); err != nil {
				return fmt.Errorf("storage: insert orphan event key-value: %w", err)
			}
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) RecentTraceHeaders(ctx context.Context, traceIds []uint64) (map[uint64]PersistedTrace, error) {
	rows, err := p.pool.Query(ctx, `select id, duration_nanos from trace where id = any($1)`, traceIds)
	if err != nil {
		return nil, fmt.Errorf("storage: recent trace headers: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]PersistedTrace, len(traceIds))
	for rows.Next() {
		var id uint64
		var duration *uint64
		if err := rows.Scan(&id, &duration); err != nil {
			return nil, err
		}
		out[id] = PersistedTrace{Exists: true, Duration: duration}
	}
	return out, rows.Err()
}

func (p *Postgres) Channels(ctx context.Context, svc wire.ServiceId) ([]Channel, error) {
	rows, err := p.pool.Query(ctx, `
		select id, service_name, service_env, kind, target, min_alert_period_seconds, last_attempt_at
		from notification_channel where service_name = $1 and service_env = $2`, svc.Name, svc.Env)
	if err != nil {
		return nil, fmt.Errorf("storage: channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var ch Channel
		var minPeriodSeconds int64
		if err := rows.Scan(&ch.Id, &ch.ServiceName, &ch.ServiceEnv, &ch.Kind, &ch.Target, &minPeriodSeconds, &ch.LastAttemptAt); err != nil {
			return nil, err
		}
		ch.MinAlertPeriod = time.Duration(minPeriodSeconds) * time.Second
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (p *Postgres) RecordNotificationAttempt(ctx context.Context, channelId string, at time.Time, outcome string) error {
	_, err := p.pool.Exec(ctx, `
		insert into notification_record (channel_id, attempted_at, outcome) values ($1, $2, $3)`,
		channelId, at, outcome)
	if err != nil {
		return fmt.Errorf("storage: record notification attempt: %w", err)
	}
	_, err = p.pool.Exec(ctx, `update notification_channel set last_attempt_at = $2 where id = $1`, channelId, at)
	if err != nil {
		return fmt.Errorf("storage: update channel last-attempt: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteOldTraces(ctx context.Context, olderThan time.Time) error {
	_, err := p.pool.Exec(ctx, `delete from trace where start_timestamp_nanos < $1`, olderThan.UnixNano())
	if err != nil {
		return fmt.Errorf("storage: delete old traces: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteOldOrphanEvents(ctx context.Context, olderThan time.Time) error {
	_, err := p.pool.Exec(ctx, `delete from orphan_event where timestamp_nanos < $1`, olderThan.UnixNano())
	if err != nil {
		return fmt.Errorf("storage: delete old orphan events: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteOldNotificationRecords(ctx context.Context, olderThan time.Time) error {
	_, err := p.pool.Exec(ctx, `delete from notification_record where attempted_at < $1`, olderThan)
	if err != nil {
		return fmt.Errorf("storage: delete old notification records: %w", err)
	}
	return nil
}

func (p *Postgres) ListTraceGrid(ctx context.Context, svc wire.ServiceId, limit, offset int) ([]TraceGridRow, error) {
	rows, err := p.pool.Query(ctx, `
		select id, name, start_timestamp_nanos, duration_nanos from trace
		where service_name = $1 and service_env = $2
		order by start_timestamp_nanos desc
		limit $3 offset $4`, svc.Name, svc.Env, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list trace grid: %w", err)
	}
	defer rows.Close()

	var out []TraceGridRow
	for rows.Next() {
		var row TraceGridRow
		if err := rows.Scan(&row.TraceId, &row.TraceName, &row.Timestamp, &row.Duration); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (p *Postgres) TraceTimestamps(ctx context.Context, traceId uint64) ([]uint64, error) {
	rows, err := p.pool.Query(ctx, `
		select start_timestamp_nanos from trace where id = $1
		union all
		select start_timestamp_nanos from span where trace_id = $1
		union all
		select timestamp_nanos from event where trace_id = $1
		order by 1 asc`, traceId)
	if err != nil {
		return nil, fmt.Errorf("storage: trace timestamps: %w", err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var ts uint64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (p *Postgres) TraceChunk(ctx context.Context, traceId uint64, start, end uint64) (TraceChunkData, error) {
	var chunk TraceChunkData

	spanRows, err := p.pool.Query(ctx, `
		select id, name, start_timestamp_nanos, duration_nanos, parent_id from span
		where trace_id = $1 and duration_nanos is not null
			and start_timestamp_nanos between $2 and $3`, traceId, start, end)
	if err != nil {
		return chunk, fmt.Errorf("storage: trace chunk: spans: %w", err)
	}
	for spanRows.Next() {
		var s wire.ClosedSpan
		if err := spanRows.Scan(&s.Id, &s.Name, &s.Timestamp, &s.Duration, &s.ParentId); err != nil {
			spanRows.Close()
			return chunk, err
		}
		chunk.Spans = append(chunk.Spans, s)
	}
	spanRows.Close()
	if err := spanRows.Err(); err != nil {
		return chunk, err
	}

	eventRows, err := p.pool.Query(ctx, `
		select span_id, message, timestamp_nanos, severity from event
		where trace_id = $1 and timestamp_nanos between $2 and $3`, traceId, start, end)
	if err != nil {
		return chunk, fmt.Errorf("storage: trace chunk: events: %w", err)
	}
	defer eventRows.Close()
	for eventRows.Next() {
		var e wire.NewSpanEvent
		var severity string
		if err := eventRows.Scan(&e.SpanId, &e.Message, &e.Timestamp, &severity); err != nil {
			return chunk, err
		}
		parsed, err := wire.ParseSeverity(severity)
		if err != nil {
			return chunk, err
		}
		e.Severity = parsed
		chunk.Events = append(chunk.Events, e)
	}
	return chunk, eventRows.Err()
}

func (p *Postgres) OrphanEventsInRange(ctx context.Context, svc wire.ServiceId, from, to time.Time) ([]wire.NewOrphanEvent, error) {
	rows, err := p.pool.Query(ctx, `
		select message, timestamp_nanos, severity from orphan_event
		where service_name = $1 and service_env = $2
			and timestamp_nanos between $3 and $4`, svc.Name, svc.Env, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("storage: orphan events in range: %w", err)
	}
	defer rows.Close()

	var out []wire.NewOrphanEvent
	for rows.Next() {
		var e wire.NewOrphanEvent
		var severity string
		if err := rows.Scan(&e.Message, &e.Timestamp, &severity); err != nil {
			return nil, err
		}
		parsed, err := wire.ParseSeverity(severity)
		if err != nil {
			return nil, err
		}
		e.Severity = parsed
		out = append(out, e)
	}
	return out, rows.Err()
}
