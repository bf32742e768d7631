package tracer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

func TestSamplerDefaultsToAllowEverything(t *testing.T) {
	s := NewSampler()
	require.True(t, s.AllowNewTrace("anything"))
	require.True(t, s.AllowNewEvent("anything"))
	require.True(t, s.AllowNewSpanKV("anything"))
	require.True(t, s.AllowNewOrphanEvent())
}

func TestSamplerAbsentEntryMeansAllowEverything(t *testing.T) {
	s := NewSampler()
	s.UpdateDirective(wire.Sampling{
		Traces:               map[string]wire.TraceSamplingState{"known": wire.DropNewTracesAndNewExistingTracesData},
		AllowNewOrphanEvents: true,
	})
	require.True(t, s.AllowNewTrace("unknown"))
	require.True(t, s.AllowNewEvent("unknown"))
}

func TestSamplerDropNewTracesKeepExisting(t *testing.T) {
	s := NewSampler()
	s.UpdateDirective(wire.Sampling{
		Traces: map[string]wire.TraceSamplingState{
			"svc": wire.DropNewTracesKeepExistingTraceNewData,
		},
	})
	require.False(t, s.AllowNewTrace("svc"))
	require.True(t, s.AllowNewEvent("svc"))
	require.True(t, s.AllowNewSpanKV("svc"))
}

func TestSamplerDropAll(t *testing.T) {
	s := NewSampler()
	s.UpdateDirective(wire.Sampling{
		Traces: map[string]wire.TraceSamplingState{
			"svc": wire.DropNewTracesAndNewExistingTracesData,
		},
	})
	require.False(t, s.AllowNewTrace("svc"))
	require.False(t, s.AllowNewEvent("svc"))
	require.False(t, s.AllowNewSpanKV("svc"))
}

func TestSamplerOrphanEventGate(t *testing.T) {
	s := NewSampler()
	s.UpdateDirective(wire.Sampling{AllowNewOrphanEvents: false})
	require.False(t, s.AllowNewOrphanEvent())
}
