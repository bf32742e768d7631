package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiberiusferreira/tracer-sub000/storage"
	"github.com/tiberiusferreira/tracer-sub000/wire"
)

func TestHandleSnapshotRejectsUnregisteredInstance(t *testing.T) {
	registry := NewRegistry()
	budgets := NewBudgets()
	store := storage.NewMemory()
	ingest := NewIngest(registry, budgets, store, testLogger())

	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}
	_, err := ingest.HandleSnapshot(context.Background(), wire.ExportSnapshot{InstanceId: instanceId})

	assert.ErrorIs(t, err, ErrInstanceNotRegistered)
}

func TestHandleSnapshotPersistsTraceAndReturnsDirective(t *testing.T) {
	registry := NewRegistry()
	budgets := NewBudgets()
	store := storage.NewMemory()
	ingest := NewIngest(registry, budgets, store, testLogger())

	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}
	registry.Connect(instanceId)

	snapshot := wire.ExportSnapshot{
		InstanceId: instanceId,
		Filter:     "info",
		Traces: map[uint64]wire.TraceState{
			1: {RootSpan: wire.RootSpan{Id: 1, Name: "root", Timestamp: 1}},
		},
	}

	directive, err := ingest.HandleSnapshot(context.Background(), snapshot)
	require.NoError(t, err)
	assert.NotNil(t, directive.Traces)

	persisted, err := store.LookupTrace(context.Background(), instanceId.ServiceId, 1)
	require.NoError(t, err)
	assert.True(t, persisted.Exists)

	entry, ok := registry.Lookup(instanceId)
	require.True(t, ok)
	assert.Equal(t, "info", entry.Filter)
}

func TestHandleSnapshotRecordsOrphanEvents(t *testing.T) {
	registry := NewRegistry()
	budgets := NewBudgets()
	store := storage.NewMemory()
	ingest := NewIngest(registry, budgets, store, testLogger())

	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}
	registry.Connect(instanceId)

	snapshot := wire.ExportSnapshot{
		InstanceId:   instanceId,
		OrphanEvents: []wire.NewOrphanEvent{{Timestamp: 1, Severity: wire.SeverityError}},
	}

	_, err := ingest.HandleSnapshot(context.Background(), snapshot)
	require.NoError(t, err)

	orphans, err := store.OrphanEventsInRange(context.Background(), instanceId.ServiceId, time.Unix(0, 0), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, orphans, 1)
}
