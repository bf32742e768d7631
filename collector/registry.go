package collector

import (
	"errors"
	"sync"
	"time"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// DeadAfterSilence is how long without a new data point (an instance with
// data points) marks an entry dead; also the with-no-data-points age
// threshold, per spec.md §4.I.
const DeadAfterSilence = 60 * time.Second

// DeadEntryRetention is how long a dead entry's data points are kept
// (capped at DeadEntryMaxDataPoints) before the entry is removed
// entirely, per spec.md §4.I.
const DeadEntryRetention = 12 * time.Hour

// DeadEntryMaxDataPoints is the cap applied to a dead entry's data point
// ring while it's still within DeadEntryRetention.
const DeadEntryMaxDataPoints = 50

// ErrNoLongerConnected is returned by PushFilter when the entry's SSE
// handle has already been closed, per spec.md §4.I's "send failure
// (handle closed) reports 'no longer connected'".
var ErrNoLongerConnected = errors.New("collector: instance no longer connected")

// InstanceEntry is an InstanceRegistryEntry (spec.md §3): everything the
// registry holds about one connected (or recently connected) instance.
type InstanceEntry struct {
	Id          wire.InstanceId
	CreatedAt   time.Time
	LastSeen    time.Time
	Filter      string
	ProfileData []byte
	DataPoints  []InstanceDataPoint

	sseHandle chan ChangeFilterRequest
	closed    bool
}

// serviceEntry groups a service's alert config with its connected
// instances, mirroring original_source/tracer-backend/src/api/state.rs's
// ServiceRuntimeData.
type serviceEntry struct {
	lastCheckedAlerts time.Time
	instances         map[int64]*InstanceEntry
}

// Registry is the process-wide Live Registry (component I). One mutex
// guards it; every method is a short, lock-held critical section, never
// spanning I/O, per spec.md §5.
type Registry struct {
	mu       sync.Mutex
	services map[wire.ServiceId]*serviceEntry
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[wire.ServiceId]*serviceEntry)}
}

// Connect registers instanceId, creating its service entry if this is
// the first instance seen for that ServiceId. Returns the entry and
// whether the service was newly created (the ingest/connect path uses
// this to decide whether to call storage.EnsureService).
func (r *Registry) Connect(instanceId wire.InstanceId) (*InstanceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, isNewService := r.services[instanceId.ServiceId]
	if !isNewService {
		svc = &serviceEntry{instances: make(map[int64]*InstanceEntry)}
		r.services[instanceId.ServiceId] = svc
	}

	entry := &InstanceEntry{
		Id:        instanceId,
		CreatedAt: time.Now(),
		LastSeen:  time.Now(),
		Filter:    "unknown",
		sseHandle: make(chan ChangeFilterRequest, 1),
	}
	svc.instances[instanceId.InstanceId] = entry
	return entry, !isNewService
}

// Lookup returns the entry for instanceId, if any.
func (r *Registry) Lookup(instanceId wire.InstanceId) (*InstanceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[instanceId.ServiceId]
	if !ok {
		return nil, false
	}
	entry, ok := svc.instances[instanceId.InstanceId]
	return entry, ok
}

// Touch updates entry's last-seen, filter and profile data, and appends a
// data point, trimming to MaxDataPointsPerInstance (drop-oldest), per
// spec.md §4.F step 2/5 and the §8 ring-size property.
func (r *Registry) Touch(instanceId wire.InstanceId, filter string, profileData []byte, point InstanceDataPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[instanceId.ServiceId]
	if !ok {
		return
	}
	entry, ok := svc.instances[instanceId.InstanceId]
	if !ok {
		return
	}
	entry.LastSeen = time.Now()
	entry.Filter = filter
	if profileData != nil {
		entry.ProfileData = profileData
	}
	entry.DataPoints = append(entry.DataPoints, point)
	if len(entry.DataPoints) > MaxDataPointsPerInstance {
		entry.DataPoints = entry.DataPoints[len(entry.DataPoints)-MaxDataPointsPerInstance:]
	}
}

// PushFilter sends a ChangeFilterRequest down instanceId's cooperative
// handle, for the SSE connect task to forward. Returns
// ErrNoLongerConnected if the handle was already closed.
func (r *Registry) PushFilter(instanceId wire.InstanceId, req ChangeFilterRequest) error {
	r.mu.Lock()
	entry, ok := r.lookupLocked(instanceId)
	r.mu.Unlock()
	if !ok || entry.closed {
		return ErrNoLongerConnected
	}
	select {
	case entry.sseHandle <- req:
		return nil
	default:
		return ErrNoLongerConnected
	}
}

// Disconnect marks instanceId's SSE handle closed; PushFilter calls after
// this report ErrNoLongerConnected. The entry itself is left in the
// registry — Janitor decides when it's actually removed.
func (r *Registry) Disconnect(instanceId wire.InstanceId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.lookupLocked(instanceId); ok {
		entry.closed = true
	}
}

func (r *Registry) lookupLocked(instanceId wire.InstanceId) (*InstanceEntry, bool) {
	svc, ok := r.services[instanceId.ServiceId]
	if !ok {
		return nil, false
	}
	entry, ok := svc.instances[instanceId.InstanceId]
	return entry, ok
}

// ChangeFilterChan returns instanceId's cooperative handle for the SSE
// connect task to read from.
func (r *Registry) ChangeFilterChan(instanceId wire.InstanceId) (chan ChangeFilterRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.lookupLocked(instanceId)
	if !ok {
		return nil, false
	}
	return entry.sseHandle, true
}

// Prune implements the Janitor's registry-side pass (spec.md §4.I,
// §4.L): an entry with no data points whose age exceeds DeadAfterSilence
// is dead; an entry with data points whose last-seen exceeds
// DeadAfterSilence is dead. Dead entries within DeadEntryRetention are
// kept with at most DeadEntryMaxDataPoints data points; beyond retention
// they're removed. Services left with no instances are removed.
func (r *Registry) Prune(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for svcId, svc := range r.services {
		for instId, entry := range svc.instances {
			if !isDead(entry, now) {
				continue
			}
			if now.Sub(entry.LastSeen) > DeadEntryRetention {
				delete(svc.instances, instId)
				continue
			}
			if len(entry.DataPoints) > DeadEntryMaxDataPoints {
				entry.DataPoints = entry.DataPoints[len(entry.DataPoints)-DeadEntryMaxDataPoints:]
			}
		}
		if len(svc.instances) == 0 {
			delete(r.services, svcId)
		}
	}
}

func isDead(entry *InstanceEntry, now time.Time) bool {
	if len(entry.DataPoints) == 0 {
		return now.Sub(entry.CreatedAt) > DeadAfterSilence
	}
	return now.Sub(entry.LastSeen) > DeadAfterSilence
}

// Services returns a snapshot of the ServiceIds currently registered,
// used by the Alert Evaluator's per-evaluation pass and the UI's
// service-list endpoint.
func (r *Registry) Services() []wire.ServiceId {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.ServiceId, 0, len(r.services))
	for id := range r.services {
		out = append(out, id)
	}
	return out
}

// LastCheckedAlertsAndAdvance returns svc's previous last-checked-for-alerts
// time (zero if never checked) and atomically stamps it to now, per
// spec.md §4.J ("stamp each service's last-checked time to now").
// Returns false if svc isn't registered.
func (r *Registry) LastCheckedAlertsAndAdvance(svc wire.ServiceId, now time.Time) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[svc]
	if !ok {
		return time.Time{}, false
	}
	prev := s.lastCheckedAlerts
	s.lastCheckedAlerts = now
	return prev, true
}

// Instances returns a snapshot of svc's instance entries.
func (r *Registry) Instances(svc wire.ServiceId) []*InstanceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[svc]
	if !ok {
		return nil
	}
	out := make([]*InstanceEntry, 0, len(s.instances))
	for _, e := range s.instances {
		out = append(out, e)
	}
	return out
}

// DataPointsSince copies out, under the registry lock, every data point
// timestamped strictly after since across all of svc's instances — the
// Alert Evaluator's "examine only data points since the previous
// last-checked time" scan (spec.md §4.J), with the copy-then-process-
// without-the-lock discipline spec.md §5 requires of registry readers.
func (r *Registry) DataPointsSince(svc wire.ServiceId, since time.Time) []InstanceDataPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[svc]
	if !ok {
		return nil
	}
	var out []InstanceDataPoint
	for _, entry := range s.instances {
		for _, p := range entry.DataPoints {
			if p.Timestamp.After(since) {
				out = append(out, p)
			}
		}
	}
	return out
}

// InstanceCount returns the number of instances currently registered for
// svc, used by the instance-count-below-minimum alert check.
func (r *Registry) InstanceCount(svc wire.ServiceId) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[svc]
	if !ok {
		return 0
	}
	return len(s.instances)
}
