package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

func TestBudgetsAllowsUnderBudgetTraceName(t *testing.T) {
	b := NewBudgets()
	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}

	directive := b.Record(instanceId, map[string]int{"job": 10}, 0, time.Now())

	assert.Equal(t, wire.AllowNewTraces, directive.Traces["job"])
	assert.True(t, directive.AllowNewOrphanEvents)
}

func TestBudgetsDropsNewTracesOverBudgetWithinWindow(t *testing.T) {
	b := NewBudgets()
	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}
	now := time.Now()

	b.Record(instanceId, map[string]int{"job": BudgetLimitBytes + 1}, 0, now)
	directive := b.Record(instanceId, map[string]int{"job": 1}, 0, now.Add(time.Second))

	assert.Equal(t, wire.DropNewTracesKeepExistingTraceNewData, directive.Traces["job"])
}

func TestBudgetsResetsAfterWindowRolls(t *testing.T) {
	b := NewBudgets()
	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}
	now := time.Now()

	b.Record(instanceId, map[string]int{"job": BudgetLimitBytes + 1}, 0, now)
	directive := b.Record(instanceId, map[string]int{"job": 1}, 0, now.Add(BudgetWindow+time.Second))

	assert.Equal(t, wire.AllowNewTraces, directive.Traces["job"])
}

func TestBudgetsDisallowsNewOrphanEventsOverBudget(t *testing.T) {
	b := NewBudgets()
	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}

	directive := b.Record(instanceId, nil, BudgetLimitBytes+1, time.Now())

	assert.False(t, directive.AllowNewOrphanEvents)
}
