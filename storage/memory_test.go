package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

func TestEnsureServiceBootstrapsDefaultConfigOnce(t *testing.T) {
	m := NewMemory()
	svc := wire.ServiceId{Name: "svc", Env: "prod"}

	cfg, err := m.EnsureService(context.Background(), svc)
	require.NoError(t, err)
	assert.Equal(t, DefaultAlertConfig(), cfg)

	m.SetAlertConfig(svc, AlertConfig{MinInstanceCount: 5})
	cfg, err = m.EnsureService(context.Background(), svc)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MinInstanceCount)
}

func TestInsertRootThenLookupTraceReportsExists(t *testing.T) {
	m := NewMemory()
	svc := wire.ServiceId{Name: "svc", Env: "prod"}

	require.NoError(t, m.InsertRoot(context.Background(), svc, 1, wire.RootSpan{Id: 1, Name: "root", Timestamp: 1}))

	trace, err := m.LookupTrace(context.Background(), svc, 1)
	require.NoError(t, err)
	assert.True(t, trace.Exists)
	assert.Nil(t, trace.Duration)
}

func TestUpsertClosedSpanMarksRelocatedSpanId(t *testing.T) {
	m := NewMemory()
	svc := wire.ServiceId{Name: "svc", Env: "prod"}
	require.NoError(t, m.InsertRoot(context.Background(), svc, 1, wire.RootSpan{Id: 1, Name: "root", Timestamp: 1}))

	require.NoError(t, m.UpsertClosedSpan(context.Background(), 1, wire.ClosedSpan{Id: 2, Name: "child", Timestamp: 2, Duration: 10, ParentId: 1}, true))

	assert.Equal(t, []uint64{2}, m.RelocatedSpanIds(1))
}

func TestDeleteOldTracesRemovesOnlyTracesOlderThanCutoff(t *testing.T) {
	m := NewMemory()
	svc := wire.ServiceId{Name: "svc", Env: "prod"}
	require.NoError(t, m.InsertRoot(context.Background(), svc, 1, wire.RootSpan{Id: 1, Name: "root", Timestamp: 1}))

	require.NoError(t, m.DeleteOldTraces(context.Background(), time.Now().Add(-time.Hour)))
	kept, keptErr := m.LookupTrace(context.Background(), svc, 1)
	require.NoError(t, keptErr)
	assert.True(t, kept.Exists)

	require.NoError(t, m.DeleteOldTraces(context.Background(), time.Now().Add(time.Hour)))

	_, err := m.LookupSpans(context.Background(), 1, []uint64{1})
	require.NoError(t, err)
	trace, err := m.LookupTrace(context.Background(), svc, 1)
	require.NoError(t, err)
	assert.False(t, trace.Exists)
}

func TestRecordNotificationAttemptIsReadableViaChannels(t *testing.T) {
	m := NewMemory()
	svc := wire.ServiceId{Name: "svc", Env: "prod"}
	m.AddChannel(svc, Channel{Id: "c1", ServiceName: svc.Name, ServiceEnv: svc.Env, Kind: "log", MinAlertPeriod: time.Minute})

	require.NoError(t, m.RecordNotificationAttempt(context.Background(), "c1", time.Now(), "delivered"))

	channels, err := m.Channels(context.Background(), svc)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.NotNil(t, channels[0].LastAttemptAt)
}
