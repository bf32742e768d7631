package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the collector's full table set, written by hand against the
// exact columns every query in postgres.go reads and writes — no ORM, no
// migration framework, just the `create table if not exists` statements
// `cmd collector migrate` runs once against a fresh database.
const schema = `
create table if not exists service (
	name text not null,
	env text not null,
	min_instance_count integer not null,
	max_active_traces integer not null,
	max_export_buffer_usage_percent double precision not null,
	max_duration_millis bigint not null,
	max_warning_percent double precision not null,
	primary key (name, env)
);

create table if not exists service_trace_override (
	service_name text not null,
	service_env text not null,
	trace_name text not null,
	max_duration_millis bigint not null,
	max_warning_percent double precision not null,
	primary key (service_name, service_env, trace_name)
);

create table if not exists trace (
	id bigint primary key,
	service_name text not null,
	service_env text not null,
	name text not null,
	start_timestamp_nanos bigint not null,
	duration_nanos bigint,
	spans_produced integer not null default 0,
	events_produced integer not null default 0,
	events_dropped_by_sampling integer not null default 0
);
create index if not exists trace_service_idx on trace (service_name, service_env, start_timestamp_nanos desc);
create index if not exists trace_start_idx on trace (start_timestamp_nanos);

create table if not exists span (
	trace_id bigint not null references trace (id) on delete cascade,
	id bigint not null,
	name text not null,
	start_timestamp_nanos bigint not null,
	parent_id bigint,
	duration_nanos bigint,
	relocated boolean not null default false,
	primary key (trace_id, id)
);

create table if not exists span_key_value (
	trace_id bigint not null,
	span_id bigint not null,
	key text not null,
	value text not null,
	primary key (trace_id, span_id, key)
);

create table if not exists event (
	id bigserial primary key,
	trace_id bigint not null references trace (id) on delete cascade,
	span_id bigint not null,
	message text,
	timestamp_nanos bigint not null,
	severity text not null,
	relocated boolean not null default false
);
create index if not exists event_trace_idx on event (trace_id);

create table if not exists event_key_value (
	event_id bigint not null references event (id) on delete cascade,
	key text not null,
	value text not null,
	primary key (event_id, key)
);

create table if not exists orphan_event (
	id bigserial primary key,
	service_name text not null,
	service_env text not null,
	message text,
	timestamp_nanos bigint not null,
	severity text not null
);
create index if not exists orphan_event_service_idx on orphan_event (service_name, service_env, timestamp_nanos);

create table if not exists orphan_event_key_value (
	orphan_event_id bigint not null references orphan_event (id) on delete cascade,
	key text not null,
	value text not null,
	primary key (orphan_event_id, key)
);

create table if not exists notification_channel (
	id text primary key,
	service_name text not null,
	service_env text not null,
	kind text not null,
	target text not null,
	min_alert_period_seconds bigint not null,
	last_attempt_at timestamptz
);
create index if not exists notification_channel_service_idx on notification_channel (service_name, service_env);

create table if not exists notification_record (
	id bigserial primary key,
	channel_id text not null references notification_channel (id) on delete cascade,
	attempted_at timestamptz not null,
	outcome text not null
);
create index if not exists notification_record_attempted_idx on notification_record (attempted_at);
`

// Migrate applies schema against pool. It is idempotent: every statement
// is `if not exists`, so running it against an already-migrated database
// is a no-op.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}
