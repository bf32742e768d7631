package tracer

import (
	"sync"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// Sampler holds the current sampling directive and answers the four gate
// questions the Subscriber Hook consults before mutating State. Grounded
// on tracing-config-helper/src/subscriber/sampler.rs's TracerSampler.
//
// Policy, per spec.md §4.B: the absence of a per-trace-name entry means
// "allow everything". Orphan events are gated by a single boolean,
// independent of trace name.
type Sampler struct {
	mu        sync.Mutex
	directive wire.Sampling
}

// NewSampler starts a producer out allowing everything, since it hasn't
// heard back from the collector yet.
func NewSampler() *Sampler {
	return &Sampler{directive: wire.NewAllowEverything()}
}

// AllowNewTrace reports whether a new root span may be created for this
// trace name.
func (s *Sampler) AllowNewTrace(traceName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.directive.Traces[traceName]
	if !ok {
		return true
	}
	return state.AllowNewTrace()
}

// AllowNewEvent reports whether a new event may be attached to an
// already-open trace of this name.
func (s *Sampler) AllowNewEvent(traceName string) bool {
	return s.allowExistingTraceNewData(traceName)
}

// AllowNewSpanKV reports whether a new child span may be added to an
// already-open trace of this name. Same gate as AllowNewEvent per
// spec.md §4.B.
func (s *Sampler) AllowNewSpanKV(traceName string) bool {
	return s.allowExistingTraceNewData(traceName)
}

func (s *Sampler) allowExistingTraceNewData(traceName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.directive.Traces[traceName]
	if !ok {
		return true
	}
	return state.AllowExistingTraceNewData()
}

// AllowNewOrphanEvent reports whether a new orphan event may be recorded.
func (s *Sampler) AllowNewOrphanEvent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directive.AllowNewOrphanEvents
}

// UpdateDirective replaces the current directive, applied by the Export
// Loop whenever a new one is returned by the collector.
func (s *Sampler) UpdateDirective(directive wire.Sampling) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directive = directive
}

// CurrentDirective returns a copy of the directive currently in effect,
// used by tests and diagnostics.
func (s *Sampler) CurrentDirective() wire.Sampling {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directive
}
