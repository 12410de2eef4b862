package eventstore

import "sort"

// Base column names shared by both backends and the persisted schema.
const (
	ColRunID       = "run_id"
	ColGroupID     = "group_id"
	ColIngestedAt  = "ingested_at"
	ColProcessName = "process_name"
	ColTaskID      = "task_id"
	ColStatus      = "status"
)

// baseColumns is the fixed leading column order for exported rows.
var baseColumns = []string{
	ColRunID,
	ColGroupID,
	ColIngestedAt,
	ColProcessName,
	ColTaskID,
	ColStatus,
}

// FlatRow maps a column name to its value. Known trace fields that are
// absent from a record's metadata are present with a nil value so every
// row exposes the same column set.
type FlatRow map[string]any

// flatten turns an event into the uniform column-per-field shape.
// Every known trace field appears; missing fields map to nil. Metadata
// keys outside the known field list are carried through as-is.
func flatten(ev Event) FlatRow {
	row := FlatRow{
		ColRunID:       ev.RunID,
		ColGroupID:     ev.GroupID,
		ColIngestedAt:  ev.IngestedAt,
		ColProcessName: ev.ProcessName,
		ColTaskID:      ev.TaskID,
		ColStatus:      ev.Status,
	}
	for _, f := range traceFields {
		if v, ok := ev.Metadata.Get(f.name); ok {
			row[f.name] = v
		} else {
			row[f.name] = nil
		}
	}
	for _, key := range ev.Metadata.Keys() {
		if _, known := row[key]; !known {
			row[key] = ev.Metadata.values[key]
		}
	}
	return row
}

// Columns returns the stable column order for a set of flattened rows:
// base columns first, then known trace fields in schema order, then any
// extra metadata keys sorted lexically.
func Columns(rows []FlatRow) []string {
	cols := make([]string, 0, len(baseColumns)+len(traceFields))
	known := make(map[string]bool, len(baseColumns)+len(traceFields))
	cols = append(cols, baseColumns...)
	for _, c := range baseColumns {
		known[c] = true
	}
	for _, f := range traceFields {
		cols = append(cols, f.name)
		known[f.name] = true
	}

	var extras []string
	seen := make(map[string]bool)
	for _, row := range rows {
		for key := range row {
			if !known[key] && !seen[key] {
				seen[key] = true
				extras = append(extras, key)
			}
		}
	}
	sort.Strings(extras)

	return append(cols, extras...)
}
