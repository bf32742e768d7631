package collector

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiberiusferreira/tracer-sub000/storage"
	"github.com/tiberiusferreira/tracer-sub000/wire"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

func TestConnectHandlerRegistersInstanceAndEnsuresService(t *testing.T) {
	registry := NewRegistry()
	store := storage.NewMemory()
	handler := NewConnectHandler(registry, store, testLogger())
	srv := httptest.NewServer(handler)
	defer srv.Close()

	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 7}

	client := sse.NewClient(srv.URL + "/?name=svc&env=prod&instance_id=7")
	client.ReconnectStrategy = nil
	events := make(chan *sse.Event)
	go func() {
		_ = client.SubscribeChan("", events)
	}()

	require.Eventually(t, func() bool {
		_, ok := registry.Lookup(instanceId)
		return ok
	}, time.Second, 10*time.Millisecond)

	_, err := store.EnsureService(context.Background(), instanceId.ServiceId)
	assert.NoError(t, err)
}

func TestConnectHandlerRejectsMissingQueryParams(t *testing.T) {
	registry := NewRegistry()
	store := storage.NewMemory()
	handler := NewConnectHandler(registry, store, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/?name=svc&env=prod", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFilterPusherForwardsNewFilterEvent(t *testing.T) {
	registry := NewRegistry()
	store := storage.NewMemory()
	handler := NewConnectHandler(registry, store, testLogger())
	srv := httptest.NewServer(handler)
	defer srv.Close()

	instanceId := wire.InstanceId{ServiceId: wire.ServiceId{Name: "svc", Env: "prod"}, InstanceId: 9}

	client := sse.NewClient(srv.URL + "/?name=svc&env=prod&instance_id=9")
	client.ReconnectStrategy = nil
	events := make(chan *sse.Event)
	go func() {
		_ = client.SubscribeChan("", events)
	}()

	require.Eventually(t, func() bool {
		_, ok := registry.Lookup(instanceId)
		return ok
	}, time.Second, 10*time.Millisecond)

	pusher := NewFilterPusher(registry)
	require.NoError(t, pusher.Push(instanceId, "trace_name = \"slow_job\""))

	select {
	case ev := <-events:
		assert.JSONEq(t, `{"NewFilter":{"filter":"trace_name = \"slow_job\""}}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for NewFilter event")
	}
}

func TestFilterPusherErrorsWhenInstanceNotConnected(t *testing.T) {
	registry := NewRegistry()
	pusher := NewFilterPusher(registry)

	err := pusher.Push(wire.InstanceId{ServiceId: wire.ServiceId{Name: "ghost", Env: "prod"}, InstanceId: 1}, "true")
	assert.ErrorIs(t, err, ErrNoLongerConnected)
}
