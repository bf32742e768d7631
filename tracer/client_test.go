package tracer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

func TestClientPushSnapshotDecodesDirective(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/instance/update", r.URL.Path)
		directive := wire.Sampling{
			Traces: map[string]wire.TraceSamplingState{"svc": wire.DropNewTracesAndNewExistingTracesData},
		}
		_ = json.NewEncoder(w).Encode(directive)
	}))
	defer srv.Close()

	client := NewClient(logrus.StandardLogger(), srv.URL, "", time.Second)
	directive, err := client.PushSnapshot(context.Background(), wire.ExportSnapshot{
		InstanceId: wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 1},
	})
	require.NoError(t, err)
	require.False(t, directive.Traces["svc"].AllowNewTrace())
}

func TestClientPushSnapshotRetriesOn5xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(wire.NewAllowEverything())
	}))
	defer srv.Close()

	client := NewClient(logrus.StandardLogger(), srv.URL, "", time.Second)
	client.retryInterval = time.Millisecond
	_, err := client.PushSnapshot(context.Background(), wire.ExportSnapshot{})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestClientPushSnapshotSurfacesPersistentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(logrus.StandardLogger(), srv.URL, "", time.Second)
	client.retryInterval = time.Millisecond
	_, err := client.PushSnapshot(context.Background(), wire.ExportSnapshot{})
	require.Error(t, err)
}
