// Package record defines the opaque field mapping returned by the identity APIs
// and read back from CSV exports.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Record maps a field name to its value. Values decoded from JSON keep their
// JSON types (string, float64, bool, nil, []any, map[string]any); values read
// from CSV are strings.
type Record map[string]any

// ID returns the string form of the record's "id" field.
func (r Record) ID() string {
	return r.String("id")
}

// Has reports whether field is present and non-blank.
func (r Record) Has(field string) bool {
	return r.String(field) != ""
}

// String renders a field the way it is written to a CSV cell. Missing and nil
// fields render as the empty string.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// FormatValue renders a single value as CSV cell text.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "True"
		}
		return "False"
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case []any, map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

// Project returns a copy restricted to fields, in which missing fields are
// blank. Fields outside the list are dropped.
func (r Record) Project(fields []string) Record {
	out := make(Record, len(fields))
	for _, f := range fields {
		if v, ok := r[f]; ok && v != nil {
			out[f] = v
		} else {
			out[f] = ""
		}
	}
	return out
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a new record holding base overlaid with top.
func Merge(base, top Record) Record {
	out := make(Record, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}

// Row renders the record as CSV cells in field order.
func (r Record) Row(fields []string) []string {
	row := make([]string, len(fields))
	for i, f := range fields {
		row[i] = r.String(f)
	}
	return row
}

// FromRow builds a record from a CSV header and row.
func FromRow(header, row []string) Record {
	r := make(Record, len(header))
	for i, f := range header {
		if i < len(row) {
			r[f] = row[i]
		} else {
			r[f] = ""
		}
	}
	return r
}
