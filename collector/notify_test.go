package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiberiusferreira/tracer-sub000/storage"
	"github.com/tiberiusferreira/tracer-sub000/wire"
)

type fakeSender struct {
	calls []string
	err   error
}

func (f *fakeSender) Send(_ context.Context, channel storage.Channel, payload string) error {
	f.calls = append(f.calls, payload)
	return f.err
}

func TestDispatcherSkipsChannelWithinMinAlertPeriod(t *testing.T) {
	store := storage.NewMemory()
	svc := wire.ServiceId{Name: "svc", Env: "prod"}
	recent := time.Now()
	store.AddChannel(svc, storage.Channel{Id: "c1", Kind: "fake", Target: "x", MinAlertPeriod: time.Hour, LastAttemptAt: &recent})

	d := NewDispatcher(store, testLogger())
	sender := &fakeSender{}
	d.RegisterSender("fake", sender)

	d.Dispatch(context.Background(), svc, "alert payload")

	assert.Empty(t, sender.calls)
}

func TestDispatcherDeliversWhenPeriodElapsed(t *testing.T) {
	store := storage.NewMemory()
	svc := wire.ServiceId{Name: "svc", Env: "prod"}
	old := time.Now().Add(-2 * time.Hour)
	store.AddChannel(svc, storage.Channel{Id: "c1", Kind: "fake", Target: "x", MinAlertPeriod: time.Hour, LastAttemptAt: &old})

	d := NewDispatcher(store, testLogger())
	sender := &fakeSender{}
	d.RegisterSender("fake", sender)

	d.Dispatch(context.Background(), svc, "alert payload")

	require.Len(t, sender.calls, 1)
	assert.Equal(t, "alert payload", sender.calls[0])
}

func TestDispatcherContinuesAfterOneChannelFails(t *testing.T) {
	store := storage.NewMemory()
	svc := wire.ServiceId{Name: "svc", Env: "prod"}
	store.AddChannel(svc, storage.Channel{Id: "fails", Kind: "failing", Target: "x"})
	store.AddChannel(svc, storage.Channel{Id: "succeeds", Kind: "fake", Target: "y"})

	d := NewDispatcher(store, testLogger())
	failing := &fakeSender{err: assert.AnError}
	succeeding := &fakeSender{}
	d.RegisterSender("failing", failing)
	d.RegisterSender("fake", succeeding)

	d.Dispatch(context.Background(), svc, "payload")

	assert.Len(t, failing.calls, 1)
	assert.Len(t, succeeding.calls, 1)
}

func TestWebhookSenderPostsPayloadAsJSON(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		received = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(testLogger())
	err := sender.Send(context.Background(), storage.Channel{Id: "c1", Target: srv.URL}, "hello")

	require.NoError(t, err)
	assert.Contains(t, received, "hello")
}

func TestWebhookSenderSurfacesNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := NewWebhookSender(testLogger())
	err := sender.Send(context.Background(), storage.Channel{Id: "c1", Target: srv.URL}, "hello")

	assert.Error(t, err)
}
