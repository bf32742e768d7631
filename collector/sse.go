package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/r3labs/sse/v2"
	"github.com/sirupsen/logrus"

	"github.com/tiberiusferreira/tracer-sub000/storage"
	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// sseEvent mirrors api_structs::instance::connect::SseRequest, encoded as
// an externally-tagged JSON variant (`{"NewFilter":{"filter":"..."}}`),
// the same shape tracer/controlchannel.go's controlMessage decodes on the
// producer side, per spec.md §6.
type sseEvent struct {
	NewFilter *newFilterPayload `json:"NewFilter"`
}

type newFilterPayload struct {
	Filter string `json:"filter"`
}

// ConnectHandler serves GET /api/instance/connect: registers the
// instance in the Live Registry (creating its service's storage row on
// first sight) and streams ChangeFilter pushes down an SSE connection
// until the client disconnects. Grounded closely on
// original_source/tracer-backend/src/api/handlers/instance/connect.rs.
type ConnectHandler struct {
	registry *Registry
	store    storage.Adapter
	sse      *sse.Server
	logger   logrus.FieldLogger
}

// NewConnectHandler wires a ConnectHandler over registry/store, using its
// own r3labs/sse/v2 Server for the actual stream framing.
func NewConnectHandler(registry *Registry, store storage.Adapter, logger logrus.FieldLogger) *ConnectHandler {
	srv := sse.New()
	srv.AutoReplay = false
	return &ConnectHandler{registry: registry, store: store, sse: srv, logger: logger}
}

// ServeHTTP implements the connect endpoint.
func (h *ConnectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	instanceId, err := parseInstanceIdQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := h.store.EnsureService(ctx, instanceId.ServiceId); err != nil {
		h.logger.WithError(err).Warn("connect: ensure service failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	entry, _ := h.registry.Connect(instanceId)
	streamId := streamIdFor(instanceId)
	h.sse.CreateStream(streamId)
	defer h.sse.RemoveStream(streamId)
	defer h.registry.Disconnect(instanceId)

	changeFilterChan, _ := h.registry.ChangeFilterChan(instanceId)
	go h.forwardFilterChanges(ctx, streamId, changeFilterChan)

	_ = entry
	q := r.URL.Query()
	q.Set("stream", streamId)
	r.URL.RawQuery = q.Encode()
	h.sse.ServeHTTP(w, r)
}

func (h *ConnectHandler) forwardFilterChanges(ctx context.Context, streamId string, changeFilterChan <-chan ChangeFilterRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-changeFilterChan:
			if !ok {
				return
			}
			data, err := json.Marshal(sseEvent{NewFilter: &newFilterPayload{Filter: req.Filter}})
			if err != nil {
				h.logger.WithError(err).Warn("connect: failed to marshal NewFilter event")
				continue
			}
			h.sse.Publish(streamId, &sse.Event{Data: data})
		}
	}
}

func streamIdFor(instanceId wire.InstanceId) string {
	return instanceId.ServiceId.Name + "/" + instanceId.ServiceId.Env + "/" + strconv.FormatInt(instanceId.InstanceId, 10)
}

func parseInstanceIdQuery(r *http.Request) (wire.InstanceId, error) {
	q := r.URL.Query()
	name := q.Get("name")
	env := q.Get("env")
	rawId := q.Get("instance_id")
	if name == "" || env == "" || rawId == "" {
		return wire.InstanceId{}, errors.New("collector: connect: missing name/env/instance_id query parameter")
	}
	id, err := strconv.ParseInt(rawId, 10, 64)
	if err != nil {
		return wire.InstanceId{}, fmt.Errorf("collector: connect: invalid instance_id: %w", err)
	}
	return wire.InstanceId{ServiceId: wire.ServiceId{Name: name, Env: env}, InstanceId: id}, nil
}

// FilterPusher is the collector-local entry point UI-facing callers
// (collector/ui.go's filter-change handler) use to push a ChangeFilter
// into a connected instance's SSE stream.
type FilterPusher struct {
	registry *Registry
}

// NewFilterPusher wraps registry for pushing filter changes.
func NewFilterPusher(registry *Registry) *FilterPusher {
	return &FilterPusher{registry: registry}
}

// Push pushes filter to instanceId's stream, returning ErrNoLongerConnected
// if the instance has disconnected.
func (p *FilterPusher) Push(instanceId wire.InstanceId, filter string) error {
	return p.registry.PushFilter(instanceId, ChangeFilterRequest{Filter: filter})
}
