package reconcile

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/Sternrassler/cardclient/pkg/record"
)

// Field names every snapshot row must carry.
const (
	IDField        = "id"
	UpdatedAtField = "updatedAt"
)

// Snapshot is a previously exported record set.
type Snapshot struct {
	// FieldNames is the column order of the export.
	FieldNames []string

	// Rows in export order. Ids are unique by contract.
	Rows []record.Record
}

// DeltaFunc returns the records changed at or after since.
type DeltaFunc func(ctx context.Context, since time.Time) iter.Seq2[record.Record, error]

// Options controls how delta records are classified and rendered.
type Options struct {
	// FieldNames overrides Snapshot.FieldNames as the output field set.
	FieldNames []string

	// IsRemoved reports whether a delta record must be dropped from the
	// output. A nil predicate removes nothing.
	IsRemoved func(record.Record) bool

	// Normalize is applied to changed and added records before projection.
	Normalize func(record.Record) record.Record
}

// Counts summarizes a reconciliation run.
type Counts struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// Result is the merged output of a reconciliation run.
type Result struct {
	// FieldNames is the field set Rows are projected onto.
	FieldNames []string

	Rows          []record.Record
	Counts        Counts
	HighWaterMark time.Time
}

// ReconciliationError reports a snapshot that cannot be reconciled safely.
type ReconciliationError struct {
	Row     int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ReconciliationError) Error() string {
	msg := "reconciliation failed: " + e.Message
	if e.Row > 0 {
		msg = fmt.Sprintf("reconciliation failed at row %d: %s", e.Row, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
