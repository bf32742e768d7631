package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// Memory is an in-process Adapter backed by plain Go maps, used by the
// collector package's own tests in place of a real Postgres instance —
// the teacher's own test style favors fakes over mocks for anything
// stateful (see cmd/state.NewGlobalTestState's in-memory fsext.Fs).
type Memory struct {
	mu sync.Mutex

	services map[wire.ServiceId]AlertConfig

	traces       map[uint64]*memTrace
	channels     map[wire.ServiceId][]Channel
	attempts     map[string][]memAttempt
	orphanEvents map[wire.ServiceId][]wire.NewOrphanEvent
}

type memTrace struct {
	svc         wire.ServiceId
	name        string
	timestamp   uint64
	duration    *uint64
	spans            map[uint64]PersistedSpan
	closedSpans      []wire.ClosedSpan
	events           []wire.NewSpanEvent
	relocatedSpanIds []uint64
	insertedAt       time.Time
}

type memAttempt struct {
	at      time.Time
	outcome string
}

// NewMemory constructs an empty Memory adapter.
func NewMemory() *Memory {
	return &Memory{
		services:     make(map[wire.ServiceId]AlertConfig),
		traces:       make(map[uint64]*memTrace),
		channels:     make(map[wire.ServiceId][]Channel),
		attempts:     make(map[string][]memAttempt),
		orphanEvents: make(map[wire.ServiceId][]wire.NewOrphanEvent),
	}
}

var _ Adapter = (*Memory)(nil)

func (m *Memory) EnsureService(_ context.Context, svc wire.ServiceId) (AlertConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.services[svc]
	if !ok {
		cfg = DefaultAlertConfig()
		m.services[svc] = cfg
	}
	return cfg, nil
}

func (m *Memory) LookupTrace(_ context.Context, _ wire.ServiceId, traceId uint64) (PersistedTrace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traces[traceId]
	if !ok {
		return PersistedTrace{}, nil
	}
	return PersistedTrace{Exists: true, Duration: t.duration}, nil
}

func (m *Memory) InsertRoot(_ context.Context, svc wire.ServiceId, traceId uint64, root wire.RootSpan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.traces[traceId]; exists {
		return nil
	}
	m.traces[traceId] = &memTrace{
		svc:        svc,
		name:       root.Name,
		timestamp:  root.Timestamp,
		duration:   root.Duration,
		spans:      make(map[uint64]PersistedSpan),
		insertedAt: time.Now(),
	}
	return nil
}

func (m *Memory) LookupSpans(_ context.Context, traceId uint64, ids []uint64) (map[uint64]PersistedSpan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint64]PersistedSpan)
	t, ok := m.traces[traceId]
	if !ok {
		return out, nil
	}
	for _, id := range ids {
		if s, ok := t.spans[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (m *Memory) UpsertOpenSpan(_ context.Context, traceId uint64, span wire.OpenSpan, relocated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.mustTrace(traceId)
	if _, exists := t.spans[span.Id]; exists {
		return nil
	}
	t.spans[span.Id] = PersistedSpan{Id: span.Id, Open: true}
	if relocated {
		t.relocatedSpanIds = append(t.relocatedSpanIds, span.Id)
	}
	return nil
}

func (m *Memory) UpsertClosedSpan(_ context.Context, traceId uint64, span wire.ClosedSpan, relocated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.mustTrace(traceId)
	d := span.Duration
	t.spans[span.Id] = PersistedSpan{Id: span.Id, Open: false, Duration: &d}
	t.closedSpans = append(t.closedSpans, span)
	if relocated {
		t.relocatedSpanIds = append(t.relocatedSpanIds, span.Id)
	}
	return nil
}

func (m *Memory) InsertEvents(_ context.Context, traceId uint64, events []wire.NewSpanEvent, _ []bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.mustTrace(traceId)
	t.events = append(t.events, events...)
	return nil
}

func (m *Memory) UpdateTraceCounters(_ context.Context, traceId uint64, _, _, _ uint32, duration *uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.mustTrace(traceId)
	if duration != nil {
		t.duration = duration
	}
	return nil
}

func (m *Memory) InsertOrphanEvents(_ context.Context, svc wire.ServiceId, events []wire.NewOrphanEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphanEvents[svc] = append(m.orphanEvents[svc], events...)
	return nil
}

func (m *Memory) RecentTraceHeaders(_ context.Context, traceIds []uint64) (map[uint64]PersistedTrace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint64]PersistedTrace, len(traceIds))
	for _, id := range traceIds {
		if t, ok := m.traces[id]; ok {
			out[id] = PersistedTrace{Exists: true, Duration: t.duration}
		}
	}
	return out, nil
}

func (m *Memory) Channels(_ context.Context, svc wire.ServiceId) ([]Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Channel(nil), m.channels[svc]...), nil
}

// AddChannel is a test helper registering a channel for svc (Memory has
// no administrative API of its own, unlike the Postgres adapter).
func (m *Memory) AddChannel(svc wire.ServiceId, ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[svc] = append(m.channels[svc], ch)
}

// SetAlertConfig is a test helper overriding svc's alert config in place
// of the one EnsureService would otherwise bootstrap.
func (m *Memory) SetAlertConfig(svc wire.ServiceId, cfg AlertConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[svc] = cfg
}

func (m *Memory) RecordNotificationAttempt(_ context.Context, channelId string, at time.Time, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[channelId] = append(m.attempts[channelId], memAttempt{at: at, outcome: outcome})
	for i, chs := range m.channels {
		for j, ch := range chs {
			if ch.Id == channelId {
				t := at
				m.channels[i][j].LastAttemptAt = &t
			}
		}
	}
	return nil
}

func (m *Memory) DeleteOldTraces(_ context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.traces {
		if t.insertedAt.Before(olderThan) {
			delete(m.traces, id)
		}
	}
	return nil
}

func (m *Memory) DeleteOldOrphanEvents(_ context.Context, _ time.Time) error {
	return nil
}

func (m *Memory) DeleteOldNotificationRecords(_ context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, atts := range m.attempts {
		kept := atts[:0]
		for _, a := range atts {
			if !a.at.Before(olderThan) {
				kept = append(kept, a)
			}
		}
		m.attempts[id] = kept
	}
	return nil
}

func (m *Memory) mustTrace(traceId uint64) *memTrace {
	t, ok := m.traces[traceId]
	if !ok {
		panic("storage: memory: trace does not exist")
	}
	return t
}

// RelocatedSpanIds returns the ids of spans under traceId whose parent was
// rewritten to the trace root because the original parent span was lost,
// for test assertions.
func (m *Memory) RelocatedSpanIds(traceId uint64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traces[traceId]
	if !ok {
		return nil
	}
	out := make([]uint64, len(t.relocatedSpanIds))
	copy(out, t.relocatedSpanIds)
	return out
}

func (m *Memory) ListTraceGrid(_ context.Context, svc wire.ServiceId, limit, offset int) ([]TraceGridRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []TraceGridRow
	for id, t := range m.traces {
		if t.svc != svc {
			continue
		}
		rows = append(rows, TraceGridRow{TraceId: id, TraceName: t.name, Timestamp: t.timestamp, Duration: t.duration})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp > rows[j].Timestamp })

	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], nil
}

func (m *Memory) TraceTimestamps(_ context.Context, traceId uint64) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traces[traceId]
	if !ok {
		return nil, nil
	}
	timestamps := []uint64{t.timestamp}
	for _, s := range t.closedSpans {
		timestamps = append(timestamps, s.Timestamp)
	}
	for _, e := range t.events {
		timestamps = append(timestamps, e.Timestamp)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps, nil
}

func (m *Memory) TraceChunk(_ context.Context, traceId uint64, start, end uint64) (TraceChunkData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traces[traceId]
	if !ok {
		return TraceChunkData{}, nil
	}
	var chunk TraceChunkData
	for _, s := range t.closedSpans {
		if s.Timestamp >= start && s.Timestamp <= end {
			chunk.Spans = append(chunk.Spans, s)
		}
	}
	for _, e := range t.events {
		if e.Timestamp >= start && e.Timestamp <= end {
			chunk.Events = append(chunk.Events, e)
		}
	}
	return chunk, nil
}

func (m *Memory) OrphanEventsInRange(_ context.Context, svc wire.ServiceId, from, to time.Time) ([]wire.NewOrphanEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fromNanos := uint64(from.UnixNano())
	toNanos := uint64(to.UnixNano())
	var out []wire.NewOrphanEvent
	for _, e := range m.orphanEvents[svc] {
		if e.Timestamp >= fromNanos && e.Timestamp <= toNanos {
			out = append(out, e)
		}
	}
	return out, nil
}
