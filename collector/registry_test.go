package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

func TestRegistryConnectAndLookup(t *testing.T) {
	r := NewRegistry()
	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}

	_, created := r.Connect(instanceId)
	assert.True(t, created)

	entry, ok := r.Lookup(instanceId)
	require.True(t, ok)
	assert.Equal(t, instanceId, entry.Id)
	assert.Equal(t, 1, r.InstanceCount(instanceId.ServiceId))
}

func TestRegistryTouchCapsDataPointsAtMax(t *testing.T) {
	r := NewRegistry()
	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}
	r.Connect(instanceId)

	for i := 0; i < MaxDataPointsPerInstance+10; i++ {
		r.Touch(instanceId, "info", nil, InstanceDataPoint{Timestamp: time.Now()})
	}

	entry, ok := r.Lookup(instanceId)
	require.True(t, ok)
	assert.Len(t, entry.DataPoints, MaxDataPointsPerInstance)
}

func TestRegistryPushFilterFailsAfterDisconnect(t *testing.T) {
	r := NewRegistry()
	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}
	r.Connect(instanceId)
	r.Disconnect(instanceId)

	err := r.PushFilter(instanceId, ChangeFilterRequest{Filter: "debug"})
	assert.ErrorIs(t, err, ErrNoLongerConnected)
}

func TestRegistryPruneRemovesLongDeadInstances(t *testing.T) {
	r := NewRegistry()
	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}
	r.Connect(instanceId)

	r.Prune(time.Now().Add(DeadEntryRetention + time.Hour))

	_, ok := r.Lookup(instanceId)
	assert.False(t, ok)
}
