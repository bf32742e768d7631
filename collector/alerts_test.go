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

func strPtr(s string) *string { return &s }
func u64Ptr(n uint64) *uint64 { return &n }

func TestAlertEvaluatorFlagsInstanceCountBelowMinimum(t *testing.T) {
	registry := NewRegistry()
	store := storage.NewMemory()
	svc := wire.ServiceId{Name: "svc", Env: "prod"}
	cfg := storage.DefaultAlertConfig()
	cfg.MinInstanceCount = 3
	store.SetAlertConfig(svc, cfg)
	registry.Connect(wire.InstanceId{ServiceId: svc, InstanceId: 1})

	eval := NewAlertEvaluator(registry, store, testLogger())
	payloads := eval.Evaluate(context.Background())

	assert.Contains(t, payloads[svc], "below minimum of 3")
}

func TestAlertEvaluatorFlagsTraceOverDuration(t *testing.T) {
	registry := NewRegistry()
	store := storage.NewMemory()
	svc := wire.ServiceId{Name: "svc", Env: "prod"}
	_, _ = store.EnsureService(context.Background(), svc)
	registry.Connect(wire.InstanceId{ServiceId: svc, InstanceId: 1})
	registry.Connect(wire.InstanceId{ServiceId: svc, InstanceId: 2})

	eval := NewAlertEvaluator(registry, store, testLogger())
	// Prime last-checked so the next Evaluate only sees points after this baseline.
	baseline := eval.Evaluate(context.Background())
	assert.Empty(t, baseline)

	instanceId := wire.InstanceId{ServiceId: svc, InstanceId: 1}
	registry.Touch(instanceId, "true", nil, InstanceDataPoint{
		Timestamp: time.Now(),
		FinishedTrace: []TraceHeader{
			{TraceId: 42, TraceName: "slow_job", TraceTs: uint64(time.Now().UnixNano()), Duration: u64Ptr(2_500_000_000)},
		},
	})

	payloads := eval.Evaluate(context.Background())
	require.NotEmpty(t, payloads)
	assert.Contains(t, payloads[svc], "Trace slow_job (id=42) hit duration of 2500ms, over maximum of 1000ms")
}

func TestAlertEvaluatorFlagsOrphanErrorEvent(t *testing.T) {
	registry := NewRegistry()
	store := storage.NewMemory()
	svc := wire.ServiceId{Name: "svc", Env: "prod"}
	_, _ = store.EnsureService(context.Background(), svc)
	registry.Connect(wire.InstanceId{ServiceId: svc, InstanceId: 1})
	registry.Connect(wire.InstanceId{ServiceId: svc, InstanceId: 2})

	eval := NewAlertEvaluator(registry, store, testLogger())
	_ = eval.Evaluate(context.Background())

	instanceId := wire.InstanceId{ServiceId: svc, InstanceId: 1}
	registry.Touch(instanceId, "true", nil, InstanceDataPoint{
		Timestamp: time.Now(),
		OrphanEvents: []wire.NewOrphanEvent{
			{Timestamp: uint64(time.Now().UnixNano()), Severity: wire.SeverityError, Message: strPtr("disk is completely full right now")},
		},
	})

	payloads := eval.Evaluate(context.Background())
	require.NotEmpty(t, payloads)
	assert.Contains(t, payloads[svc], "Had Error Orphan Event disk is completely f...")
}

func TestAlertEvaluatorReturnsEmptyWhenNoServices(t *testing.T) {
	registry := NewRegistry()
	store := storage.NewMemory()
	eval := NewAlertEvaluator(registry, store, testLogger())
	assert.Empty(t, eval.Evaluate(context.Background()))
}
