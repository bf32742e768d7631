package tracer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

func TestExportLoopTickAppliesNewDirective(t *testing.T) {
	var received wire.ExportSnapshot
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Content-Encoding") == "br" {
			body, _ = wire.Decompress(body)
		}
		_ = json.Unmarshal(body, &received)
		directive := wire.Sampling{
			Traces: map[string]wire.TraceSamplingState{"svc": wire.DropNewTracesAndNewExistingTracesData},
		}
		_ = json.NewEncoder(w).Encode(directive)
	}))
	defer srv.Close()

	state := NewState()
	require.NoError(t, state.InsertRoot(wire.RootSpan{Id: 1, Name: "svc"}))
	duration := uint64(1)
	state.CloseTrace(1, duration)

	sampler := NewSampler()
	client := NewClient(logrus.StandardLogger(), srv.URL, "", time.Second)
	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1}
	loop := NewExportLoop(state, sampler, client, instanceId, func() string { return "info" }, logrus.StandardLogger())

	loop.tick(context.Background())

	require.Equal(t, "info", received.Filter)
	require.False(t, sampler.AllowNewTrace("svc"))
}

func TestExportLoopTickSurvivesFailedExport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	state := NewState()
	sampler := NewSampler()
	client := NewClient(logrus.StandardLogger(), srv.URL, "", time.Second)
	client.retryInterval = time.Millisecond
	loop := NewExportLoop(state, sampler, client, wire.InstanceId{}, func() string { return "" }, logrus.StandardLogger())

	require.NotPanics(t, func() { loop.tick(context.Background()) })
	require.True(t, sampler.AllowNewTrace("anything"))
}
