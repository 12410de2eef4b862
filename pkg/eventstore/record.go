// Package eventstore records lifecycle events for units of work produced
// by an external orchestrator and makes them queryable as a flattened table.
//
// Events are grouped by a caller-supplied correlation key and keyed by a
// unique task ID. Two backends implement the same contract: an in-memory
// backend for ephemeral runs and tests, and a durable SQLite-backed store
// with a single serialized writer behind an unbounded event queue.
package eventstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TraceSchemaVersion identifies the known trace field list. Bump when
// fields are added so downstream consumers can detect the column set.
const TraceSchemaVersion = 1

// TaskDescriptor identifies one task attempt across its state lifecycle.
type TaskDescriptor struct {
	// ID is the caller-assigned unique key for the task attempt.
	ID string

	// Process is the logical name of the producing step.
	Process string
}

// TraceSnapshot is a point-in-time view of a task's trace fields.
//
// Fields are pointers so absence is representable: a nil field is simply
// omitted from the stored metadata payload rather than written as a zero.
type TraceSnapshot struct {
	// Status is the current lifecycle state. The vocabulary is
	// caller-defined; the store treats it as an opaque string.
	Status string

	Submit   *time.Time
	Start    *time.Time
	Complete *time.Time

	// Realtime is wall-clock execution time.
	Realtime *time.Duration

	Attempt  *int
	ExitCode *int

	CPUs       *int
	PercentCPU *float64

	MemoryBytes *int64
	PeakRSS     *int64
	ReadBytes   *int64
	WriteBytes  *int64

	Queue     *string
	Container *string
	Hostname  *string
	WorkDir   *string
}

// traceField binds a metadata column name to a typed accessor.
//
// The list replaces reflection-style field discovery: the set of known
// fields is explicit and versioned, and each accessor reports presence.
type traceField struct {
	name  string
	value func(t TraceSnapshot) (any, bool)
}

var traceFields = []traceField{
	{"submit", func(t TraceSnapshot) (any, bool) { return timeValue(t.Submit) }},
	{"start", func(t TraceSnapshot) (any, bool) { return timeValue(t.Start) }},
	{"complete", func(t TraceSnapshot) (any, bool) { return timeValue(t.Complete) }},
	{"realtime_ms", func(t TraceSnapshot) (any, bool) { return durationValue(t.Realtime) }},
	{"attempt", func(t TraceSnapshot) (any, bool) { return intValue(t.Attempt) }},
	{"exit_code", func(t TraceSnapshot) (any, bool) { return intValue(t.ExitCode) }},
	{"cpus", func(t TraceSnapshot) (any, bool) { return intValue(t.CPUs) }},
	{"percent_cpu", func(t TraceSnapshot) (any, bool) { return float64Value(t.PercentCPU) }},
	{"memory_bytes", func(t TraceSnapshot) (any, bool) { return int64Value(t.MemoryBytes) }},
	{"peak_rss", func(t TraceSnapshot) (any, bool) { return int64Value(t.PeakRSS) }},
	{"read_bytes", func(t TraceSnapshot) (any, bool) { return int64Value(t.ReadBytes) }},
	{"write_bytes", func(t TraceSnapshot) (any, bool) { return int64Value(t.WriteBytes) }},
	{"queue", func(t TraceSnapshot) (any, bool) { return stringValue(t.Queue) }},
	{"container", func(t TraceSnapshot) (any, bool) { return stringValue(t.Container) }},
	{"hostname", func(t TraceSnapshot) (any, bool) { return stringValue(t.Hostname) }},
	{"workdir", func(t TraceSnapshot) (any, bool) { return stringValue(t.WorkDir) }},
}

// TraceFieldNames returns the known metadata field names in schema order.
func TraceFieldNames() []string {
	names := make([]string, 0, len(traceFields))
	for _, f := range traceFields {
		names = append(names, f.name)
	}
	return names
}

// Metadata builds the ordered metadata mapping for the snapshot,
// containing only the fields that are present.
func (t TraceSnapshot) Metadata() Metadata {
	var m Metadata
	for _, f := range traceFields {
		if v, ok := f.value(t); ok {
			m.Set(f.name, v)
		}
	}
	return m
}

func timeValue(t *time.Time) (any, bool) {
	if t == nil {
		return nil, false
	}
	return t.UTC().Format(time.RFC3339Nano), true
}

func durationValue(d *time.Duration) (any, bool) {
	if d == nil {
		return nil, false
	}
	return d.Milliseconds(), true
}

func intValue(v *int) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func int64Value(v *int64) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func float64Value(v *float64) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func stringValue(v *string) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

// Event is one immutable task-state observation as accepted by the store.
type Event struct {
	RunID       string
	GroupID     string
	TaskID      string
	ProcessName string
	Status      string

	// IngestedAt is assigned by the store at write time, never by the caller.
	IngestedAt time.Time

	Metadata Metadata
}

// newEvent snapshots the caller-supplied identity and trace fields.
func newEvent(runID, groupID string, task TaskDescriptor, trace TraceSnapshot, now time.Time) Event {
	return Event{
		RunID:       runID,
		GroupID:     groupID,
		TaskID:      task.ID,
		ProcessName: task.Process,
		Status:      trace.Status,
		IngestedAt:  now.UTC(),
		Metadata:    trace.Metadata(),
	}
}

// Metadata is an open, insertion-ordered mapping of string keys to scalar
// values. The store carries it opaquely and does not validate or
// type-check its contents.
//
// The zero value is an empty mapping ready for use.
type Metadata struct {
	keys   []string
	values map[string]any
}

// Set stores a value under key, preserving first-insertion order.
func (m *Metadata) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it is present.
func (m Metadata) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of keys.
func (m Metadata) Len() int {
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m Metadata) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// MarshalJSON encodes the mapping as a JSON object preserving key order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata key: %w", err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, fmt.Errorf("marshal metadata value %q: %w", key, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving document key order.
// A JSON null decodes to an empty mapping.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if tok == nil {
		*m = Metadata{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode metadata: expected object, got %v", tok)
	}

	var out Metadata
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode metadata key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode metadata key: unexpected token %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode metadata value %q: %w", key, err)
		}
		out.Set(key, value)
	}

	*m = out
	return nil
}
