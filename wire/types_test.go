package wire

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyValuesTruncateInPlace(t *testing.T) {
	longKey := strings.Repeat("k", MaxKeyChars+10)
	longVal := strings.Repeat("v", MaxValueChars+10)
	kv := KeyValues{longKey: longVal, "short": "short"}

	out := kv.TruncateInPlace()

	require.Len(t, out, 2)
	for k, v := range out {
		require.LessOrEqual(t, len(k), MaxKeyChars)
		require.LessOrEqual(t, len(v), MaxValueChars)
	}
}

func TestKeyValuesSizeBytes(t *testing.T) {
	kv := KeyValues{"a": "bb", "ccc": "d"}
	require.Equal(t, 1+2+3+1, kv.SizeBytes())
}

func TestSeverityJSONRoundTrip(t *testing.T) {
	for _, s := range []Severity{SeverityTrace, SeverityDebug, SeverityInfo, SeverityWarn, SeverityError} {
		data, err := json.Marshal(s)
		require.NoError(t, err)
		var decoded Severity
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.Equal(t, s, decoded)
	}
}

func TestTraceStateHasWarningsAndErrors(t *testing.T) {
	ts := TraceState{
		NewEvents: []NewSpanEvent{
			{Severity: SeverityInfo},
			{Severity: SeverityWarn},
		},
	}
	require.True(t, ts.HasWarnings())
	require.False(t, ts.HasErrors())

	ts.NewEvents = append(ts.NewEvents, NewSpanEvent{Severity: SeverityError})
	require.True(t, ts.HasErrors())
}

func TestTraceStateClosed(t *testing.T) {
	ts := TraceState{RootSpan: RootSpan{Id: 1}}
	require.False(t, ts.Closed())

	dur := uint64(100)
	ts.RootSpan.Duration = &dur
	require.True(t, ts.Closed())
}

func TestExportSnapshotJSONRoundTrip(t *testing.T) {
	msg := "ok"
	snap := ExportSnapshot{
		InstanceId: InstanceId{ServiceId: ServiceId{Name: "svc", Env: "Local"}, InstanceId: 100},
		OrphanEvents: []NewOrphanEvent{
			{Timestamp: 1, Severity: SeverityError, Message: &msg, KeyVals: KeyValues{"k": "v"}},
		},
		Traces: map[uint64]TraceState{
			42: {
				RootSpan: RootSpan{Id: 42, Name: "handle_request", Timestamp: 1_000_000_000, KeyVals: KeyValues{}},
				OpenSpans: map[uint64]OpenSpan{
					43: {Id: 43, Name: "child", Timestamp: 1_100_000_000, ParentId: 42, KeyVals: KeyValues{}},
				},
				SpansProduced: 2,
			},
		},
		Filter: "info",
	}

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded ExportSnapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, snap, decoded)
}

func TestSamplingJSONRoundTrip(t *testing.T) {
	s := Sampling{
		Traces: map[string]TraceSamplingState{
			"svc_a": AllowNewTraces,
			"svc_b": DropNewTracesKeepExistingTraceNewData,
			"svc_c": DropNewTracesAndNewExistingTracesData,
		},
		AllowNewOrphanEvents: true,
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Sampling
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, s, decoded)
}

func TestTraceSamplingStateGates(t *testing.T) {
	require.True(t, AllowNewTraces.AllowNewTrace())
	require.True(t, AllowNewTraces.AllowExistingTraceNewData())

	require.False(t, DropNewTracesKeepExistingTraceNewData.AllowNewTrace())
	require.True(t, DropNewTracesKeepExistingTraceNewData.AllowExistingTraceNewData())

	require.False(t, DropNewTracesAndNewExistingTracesData.AllowNewTrace())
	require.False(t, DropNewTracesAndNewExistingTracesData.AllowExistingTraceNewData())
}
