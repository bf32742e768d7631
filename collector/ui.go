package collector

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tiberiusferreira/tracer-sub000/storage"
	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// maxChunkTimestamps is the chunk-listing cap from spec.md §6
// ("≤ 300 elements per chunk").
const maxChunkTimestamps = 300

// UI implements the read-only UI-facing endpoints spec.md §6 lists as
// contract-only, plus the filter-push endpoint, per SPEC_FULL.md's
// Supplemented Features.
type UI struct {
	registry *Registry
	store    storage.Adapter
	pusher   *FilterPusher
	logger   logrus.FieldLogger
}

// NewUI wires a UI handler set over registry/store.
func NewUI(registry *Registry, store storage.Adapter, logger logrus.FieldLogger) *UI {
	return &UI{registry: registry, store: store, pusher: NewFilterPusher(registry), logger: logger}
}

// Register mounts every UI endpoint on mux.
func (u *UI) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/ui/service/list", u.handleServiceList)
	mux.HandleFunc("/api/ui/service/overview", u.handleServiceOverview)
	mux.HandleFunc("/api/ui/service/filter", u.handleServiceFilter)
	mux.HandleFunc("/api/ui/trace/grid", u.handleTraceGrid)
	mux.HandleFunc("/api/ui/trace/chunk/list", u.handleTraceChunkList)
	mux.HandleFunc("/api/ui/trace/chunk", u.handleTraceChunk)
	mux.HandleFunc("/api/ui/orphan_events", u.handleOrphanEvents)
}

func (u *UI) handleServiceList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, u.registry.Services())
}

type serviceOverview struct {
	Config    storage.AlertConfig `json:"config"`
	Instances []instanceOverview  `json:"instances"`
}

type instanceOverview struct {
	InstanceId int64               `json:"instance_id"`
	LastSeen   time.Time           `json:"last_seen"`
	Filter     string              `json:"filter"`
	DataPoints []InstanceDataPoint `json:"data_points"`
}

func (u *UI) handleServiceOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	svc := wire.ServiceId{Name: r.URL.Query().Get("name"), Env: r.URL.Query().Get("env")}
	cfg, err := u.store.EnsureService(r.Context(), svc)
	if err != nil {
		http.Error(w, "failed to load service config", http.StatusInternalServerError)
		return
	}

	overview := serviceOverview{Config: cfg}
	for _, entry := range u.registry.Instances(svc) {
		overview.Instances = append(overview.Instances, instanceOverview{
			InstanceId: entry.Id.InstanceId,
			LastSeen:   entry.LastSeen,
			Filter:     entry.Filter,
			DataPoints: entry.DataPoints,
		})
	}
	writeJSON(w, overview)
}

type serviceFilterRequest struct {
	ServiceId  wire.ServiceId `json:"service_id"`
	InstanceId int64          `json:"instance_id"`
	Filters    string         `json:"filters"`
}

func (u *UI) handleServiceFilter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req serviceFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	instanceId := wire.InstanceId{ServiceId: req.ServiceId, InstanceId: req.InstanceId}
	if err := u.pusher.Push(instanceId, req.Filters); err != nil {
		http.Error(w, err.Error(), http.StatusGone)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (u *UI) handleTraceGrid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	svc := wire.ServiceId{Name: q.Get("name"), Env: q.Get("env")}
	limit := parseIntOrDefault(q.Get("limit"), 50)
	offset := parseIntOrDefault(q.Get("offset"), 0)

	rows, err := u.store.ListTraceGrid(r.Context(), svc, limit, offset)
	if err != nil {
		http.Error(w, "failed to list traces", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func (u *UI) handleTraceChunkList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	traceId, err := strconv.ParseUint(r.URL.Query().Get("trace_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid trace_id", http.StatusBadRequest)
		return
	}
	timestamps, err := u.store.TraceTimestamps(r.Context(), traceId)
	if err != nil {
		http.Error(w, "failed to list chunk boundaries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, chunkBoundaries(timestamps, maxChunkTimestamps))
}

// chunkBoundaries downsamples timestamps to at most maxElements entries,
// evenly spaced, always keeping the first and last — the "divide a trace
// into displayable chunks" rule of spec.md §6.
func chunkBoundaries(timestamps []uint64, maxElements int) []uint64 {
	if len(timestamps) <= maxElements {
		return timestamps
	}
	step := float64(len(timestamps)-1) / float64(maxElements-1)
	out := make([]uint64, 0, maxElements)
	for i := 0; i < maxElements; i++ {
		idx := int(float64(i) * step)
		if idx >= len(timestamps) {
			idx = len(timestamps) - 1
		}
		out = append(out, timestamps[idx])
	}
	return out
}

func (u *UI) handleTraceChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	traceId, err := strconv.ParseUint(q.Get("trace_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid trace_id", http.StatusBadRequest)
		return
	}
	start, err := strconv.ParseUint(q.Get("start_timestamp"), 10, 64)
	if err != nil {
		http.Error(w, "invalid start_timestamp", http.StatusBadRequest)
		return
	}
	end, err := strconv.ParseUint(q.Get("end_timestamp"), 10, 64)
	if err != nil {
		http.Error(w, "invalid end_timestamp", http.StatusBadRequest)
		return
	}

	chunk, err := u.store.TraceChunk(r.Context(), traceId, start, end)
	if err != nil {
		http.Error(w, "failed to load chunk", http.StatusInternalServerError)
		return
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if compressed, cerr := wire.Compress(data); cerr == nil {
		w.Header().Set(headerContentEncoding, brotliEncoding)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(compressed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (u *UI) handleOrphanEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	svc := wire.ServiceId{Name: q.Get("service_name"), Env: q.Get("env")}
	from, err := parseUnixSeconds(q.Get("from_date_unix"))
	if err != nil {
		http.Error(w, "invalid from_date_unix", http.StatusBadRequest)
		return
	}
	to, err := parseUnixSeconds(q.Get("to_date_unix"))
	if err != nil {
		http.Error(w, "invalid to_date_unix", http.StatusBadRequest)
		return
	}

	events, err := u.store.OrphanEventsInRange(r.Context(), svc, from, to)
	if err != nil {
		http.Error(w, "failed to load orphan events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func parseUnixSeconds(raw string) (time.Time, error) {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(seconds, 0).UTC(), nil
}

func parseIntOrDefault(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
