// Package wire defines the data model exchanged between producer and
// collector: export snapshots, sampling directives and the shared value
// types that make them up. It mirrors api-structs/src/instance/update.rs
// and api-structs/src/lib.rs from the Rust original, translated to plain
// Go structs with JSON tags.
package wire

import "fmt"

// Severity is an ordered enumeration, matching the enum in spec.md's data
// model. Nothing in this system compares severities with < or > today
// (see Open Question #3 in DESIGN.md); the ordering is kept because it's
// the natural representation and costs nothing.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "trace"
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the severity as its lowercase name rather than the
// underlying int, so the wire format is stable across reorderings.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// UnmarshalJSON accepts the lowercase name produced by MarshalJSON.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := unmarshalJSONString(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity is the non-JSON counterpart of UnmarshalJSON, used by the
// Postgres adapter to decode the plain-text severity column it writes via
// String().
func ParseSeverity(name string) (Severity, error) {
	switch name {
	case "trace":
		return SeverityTrace, nil
	case "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "warn":
		return SeverityWarn, nil
	case "error":
		return SeverityError, nil
	default:
		return 0, fmt.Errorf("wire: unknown severity %q", name)
	}
}

const (
	// MaxKeyChars is the per-key truncation limit applied at ingestion.
	MaxKeyChars = 256
	// MaxValueChars is the per-value truncation limit applied at ingestion.
	MaxValueChars = 1_500_000
)

// KeyValues is an unordered string-to-string map. Keys are unique by
// construction (it's a Go map); TruncateInPlace enforces the ingestion
// limits from spec.md §3.
type KeyValues map[string]string

// TruncateInPlace truncates every key to MaxKeyChars and every value to
// MaxValueChars, rewriting the map if any key itself needed truncation
// (since two distinct long keys could collide once shortened, the later
// one wins, matching normal Go map-insertion semantics).
func (kv KeyValues) TruncateInPlace() KeyValues {
	if kv == nil {
		return nil
	}
	needsKeyTruncation := false
	for k := range kv {
		if len(k) > MaxKeyChars {
			needsKeyTruncation = true
			break
		}
	}
	if !needsKeyTruncation {
		for k, v := range kv {
			if len(v) > MaxValueChars {
				kv[k] = v[:MaxValueChars]
			}
		}
		return kv
	}
	out := make(KeyValues, len(kv))
	for k, v := range kv {
		if len(k) > MaxKeyChars {
			k = k[:MaxKeyChars]
		}
		if len(v) > MaxValueChars {
			v = v[:MaxValueChars]
		}
		out[k] = v
	}
	return out
}

// SizeBytes is the accounting unit used for the byte-budget computation:
// sum of key and value lengths, used the same way key_val_size is used in
// api-structs/src/instance/update.rs.
func (kv KeyValues) SizeBytes() int {
	total := 0
	for k, v := range kv {
		total += len(k) + len(v)
	}
	return total
}

// ServiceId uniquely identifies a logical service deployed in an
// environment. Immutable once constructed.
type ServiceId struct {
	Name string `json:"name"`
	Env  string `json:"env"`
}

func (s ServiceId) String() string {
	return fmt.Sprintf("%s/%s", s.Name, s.Env)
}

// InstanceId identifies one running process of a ServiceId.
type InstanceId struct {
	ServiceId  ServiceId `json:"service_id"`
	InstanceId int64     `json:"instance_id"`
}

func (i InstanceId) String() string {
	return fmt.Sprintf("%s#%d", i.ServiceId, i.InstanceId)
}

// Location identifies a source-code site. All fields are optional.
type Location struct {
	Module   *string `json:"module,omitempty"`
	Filename *string `json:"filename,omitempty"`
	Line     *uint32 `json:"line,omitempty"`
}

// SizeBytes matches Location::size_bytes in the Rust original: only
// module and filename count towards the byte budget, the line number
// doesn't.
func (l Location) SizeBytes() int {
	total := 0
	if l.Module != nil {
		total += len(*l.Module)
	}
	if l.Filename != nil {
		total += len(*l.Filename)
	}
	return total
}

// RootSpan is the parentless span of a trace; its Id is the trace id.
type RootSpan struct {
	Id        uint64    `json:"id"`
	Name      string    `json:"name"`
	Timestamp uint64    `json:"timestamp"`
	Duration  *uint64   `json:"duration,omitempty"`
	KeyVals   KeyValues `json:"key_vals"`
	Location  Location  `json:"location"`
}

// Closed reports whether the trace this root belongs to has finished.
func (r RootSpan) Closed() bool { return r.Duration != nil }

// OpenSpan is an entered span without a recorded duration.
type OpenSpan struct {
	Id        uint64    `json:"id"`
	Name      string    `json:"name"`
	Timestamp uint64    `json:"timestamp"`
	ParentId  uint64    `json:"parent_id"`
	KeyVals   KeyValues `json:"key_vals"`
	Location  Location  `json:"location"`
}

// ClosedSpan is an OpenSpan plus a duration. Terminal: never mutated
// after construction.
type ClosedSpan struct {
	Id        uint64    `json:"id"`
	Name      string    `json:"name"`
	Timestamp uint64    `json:"timestamp"`
	Duration  uint64    `json:"duration"`
	ParentId  uint64    `json:"parent_id"`
	KeyVals   KeyValues `json:"key_vals"`
	Location  Location  `json:"location"`
}

// NewSpanEvent is a structured log event attached to a span.
type NewSpanEvent struct {
	SpanId    uint64    `json:"span_id"`
	Message   *string   `json:"message,omitempty"`
	Timestamp uint64    `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	KeyVals   KeyValues `json:"key_vals"`
	Location  Location  `json:"location"`
}

// SizeBytes accounts message + key-values + location towards the byte
// budget, matching TraceState::total_size's handling of new_events.
func (e NewSpanEvent) SizeBytes() int {
	total := e.KeyVals.SizeBytes() + e.Location.SizeBytes()
	if e.Message != nil {
		total += len(*e.Message)
	}
	return total
}

// NewOrphanEvent is a NewSpanEvent with no parent span.
type NewOrphanEvent struct {
	Timestamp uint64    `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   *string   `json:"message,omitempty"`
	KeyVals   KeyValues `json:"key_vals"`
	Location  Location  `json:"location"`
}

// SizeBytes mirrors ExportedServiceTraceData::orphan_events_size's
// per-event accounting.
func (e NewOrphanEvent) SizeBytes() int {
	total := e.KeyVals.SizeBytes() + e.Location.SizeBytes()
	if e.Message != nil {
		total += len(*e.Message)
	}
	return total
}

// TraceState is the producer-side per-trace accumulator drained into an
// ExportSnapshot fragment on every export. See tracer/state.go for the
// mutation contract (spec.md §4.A); this is its wire representation.
type TraceState struct {
	RootSpan                RootSpan                `json:"root_span"`
	OpenSpans               map[uint64]OpenSpan     `json:"open_spans"`
	SpansProduced           uint32                  `json:"spans_produced"`
	EventsProduced          uint32                  `json:"events_produced"`
	EventsDroppedBySampling uint32                  `json:"events_dropped_by_sampling"`
	ClosedSpans             []ClosedSpan            `json:"closed_spans"`
	NewEvents               []NewSpanEvent          `json:"new_events"`
}

// Closed reports whether the trace has been closed (root has a duration).
func (t TraceState) Closed() bool { return t.RootSpan.Closed() }

// HasWarnings reports whether any event drained in this fragment is a
// warning, matching TraceState::has_warnings.
func (t TraceState) HasWarnings() bool {
	for _, e := range t.NewEvents {
		if e.Severity == SeverityWarn {
			return true
		}
	}
	return false
}

// HasErrors reports whether any event drained in this fragment is an
// error, matching TraceState::has_errors.
func (t TraceState) HasErrors() bool {
	for _, e := range t.NewEvents {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// TotalSizeBytes is the byte-budget accounting for one fragment, matching
// TraceState::total_size in the Rust original: root span name/location/
// key-values, plus the same for every open span, closed span and new
// event carried in this fragment.
func (t TraceState) TotalSizeBytes() int {
	total := len(t.RootSpan.Name) + t.RootSpan.Location.SizeBytes() + t.RootSpan.KeyVals.SizeBytes()
	for _, s := range t.OpenSpans {
		total += len(s.Name) + s.Location.SizeBytes() + s.KeyVals.SizeBytes()
	}
	for _, s := range t.ClosedSpans {
		total += len(s.Name) + s.Location.SizeBytes() + s.KeyVals.SizeBytes()
	}
	for _, e := range t.NewEvents {
		total += e.SizeBytes()
	}
	return total
}

// TruncateInPlace applies KeyValues.TruncateInPlace to every span and
// event carried in this fragment, and truncates event messages to
// MaxValueChars — the ingestion-time limit enforcement spec.md §4.F
// step 3 requires of the collector before reconciliation runs.
func (t TraceState) TruncateInPlace() TraceState {
	t.RootSpan.KeyVals = t.RootSpan.KeyVals.TruncateInPlace()
	for id, s := range t.OpenSpans {
		s.KeyVals = s.KeyVals.TruncateInPlace()
		t.OpenSpans[id] = s
	}
	for i, s := range t.ClosedSpans {
		t.ClosedSpans[i].KeyVals = s.KeyVals.TruncateInPlace()
	}
	for i, e := range t.NewEvents {
		t.NewEvents[i].KeyVals = e.KeyVals.TruncateInPlace()
		if e.Message != nil && len(*e.Message) > MaxValueChars {
			truncated := (*e.Message)[:MaxValueChars]
			t.NewEvents[i].Message = &truncated
		}
	}
	return t
}

// ExportSnapshot is the wire payload posted from producer to collector on
// every export iteration.
type ExportSnapshot struct {
	InstanceId   InstanceId            `json:"instance_id"`
	OrphanEvents []NewOrphanEvent      `json:"orphan_events"`
	Traces       map[uint64]TraceState `json:"traces"`
	Filter       string                `json:"filter"`
	ProfileData  []byte                `json:"profile_data,omitempty"`
}

// OrphanEventsSizeBytes sums SizeBytes across all orphan events in this
// snapshot, matching ExportedServiceTraceData::orphan_events_size.
func (s ExportSnapshot) OrphanEventsSizeBytes() int {
	total := 0
	for _, e := range s.OrphanEvents {
		total += e.SizeBytes()
	}
	return total
}

// TraceSamplingState is the per-trace-name sampling decision communicated
// back to the producer.
type TraceSamplingState int

const (
	// AllowNewTraces lets any producer operation for this trace name
	// through.
	AllowNewTraces TraceSamplingState = iota
	// DropNewTracesKeepExistingTraceNewData permits spans/events on
	// already-open traces but denies new roots.
	DropNewTracesKeepExistingTraceNewData
	// DropNewTracesAndNewExistingTracesData denies all producer
	// activity for this trace name.
	DropNewTracesAndNewExistingTracesData
)

// AllowNewTrace reports whether a new root may be created under this
// state.
func (s TraceSamplingState) AllowNewTrace() bool {
	return s == AllowNewTraces
}

// AllowExistingTraceNewData reports whether spans/events may be added to
// a trace that's already open under this state.
func (s TraceSamplingState) AllowExistingTraceNewData() bool {
	return s == AllowNewTraces || s == DropNewTracesKeepExistingTraceNewData
}

func (s TraceSamplingState) String() string {
	switch s {
	case AllowNewTraces:
		return "allow_new_traces"
	case DropNewTracesKeepExistingTraceNewData:
		return "drop_new_traces_keep_existing_trace_new_data"
	case DropNewTracesAndNewExistingTracesData:
		return "drop_new_traces_and_new_existing_traces_data"
	default:
		return "unknown"
	}
}

func (s TraceSamplingState) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

func (s *TraceSamplingState) UnmarshalJSON(data []byte) error {
	var name string
	if err := unmarshalJSONString(data, &name); err != nil {
		return err
	}
	switch name {
	case "allow_new_traces":
		*s = AllowNewTraces
	case "drop_new_traces_keep_existing_trace_new_data":
		*s = DropNewTracesKeepExistingTraceNewData
	case "drop_new_traces_and_new_existing_traces_data":
		*s = DropNewTracesAndNewExistingTracesData
	default:
		return fmt.Errorf("wire: unknown trace sampling state %q", name)
	}
	return nil
}

// Sampling is the collector's directive to the producer, returned from
// every POST /api/instance/update.
type Sampling struct {
	Traces                map[string]TraceSamplingState `json:"traces"`
	AllowNewOrphanEvents  bool                           `json:"allow_new_orphan_events"`
}

// NewAllowEverything is the directive handed to a producer that hasn't
// yet received one from the collector: sample nothing away.
func NewAllowEverything() Sampling {
	return Sampling{
		Traces:               map[string]TraceSamplingState{},
		AllowNewOrphanEvents: true,
	}
}
