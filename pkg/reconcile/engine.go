package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var rowsReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cardclient_reconciled_rows_total",
	Help: "Total rows produced by reconciliation runs by outcome",
}, []string{"outcome"})

// Accepted updatedAt layouts; a missing zone is read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an updatedAt value.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// HighWaterMark returns the maximum updatedAt across the snapshot. Every row
// must carry an id and a parsable updatedAt.
func HighWaterMark(snapshot Snapshot) (time.Time, error) {
	if len(snapshot.Rows) == 0 {
		return time.Time{}, &ReconciliationError{Message: "Unable to determine last update point from export"}
	}

	var hwm time.Time
	for i, row := range snapshot.Rows {
		if !row.Has(IDField) || !row.Has(UpdatedAtField) {
			return time.Time{}, &ReconciliationError{
				Row:     i + 1,
				Message: "Unable to update export file without updatedAt and id fields",
			}
		}
		ts, err := ParseTimestamp(row.String(UpdatedAtField))
		if err != nil {
			return time.Time{}, &ReconciliationError{Row: i + 1, Message: "invalid updatedAt", Err: err}
		}
		if ts.After(hwm) {
			hwm = ts
		}
	}
	return hwm, nil
}

// Reconcile merges snapshot with the delta produced by fetch. fetch is not
// called when the snapshot has no usable high-water mark.
func Reconcile(ctx context.Context, snapshot Snapshot, fetch DeltaFunc, opts Options) (*Result, error) {
	hwm, err := HighWaterMark(snapshot)
	if err != nil {
		return nil, err
	}

	fields := opts.FieldNames
	if len(fields) == 0 {
		fields = snapshot.FieldNames
	}

	logger := log.With().Str("component", "reconcile").Logger()
	logger.Info().
		Time("high_water_mark", hwm).
		Int("snapshot_rows", len(snapshot.Rows)).
		Msg("Fetching changes since high-water mark")

	// Delta partition, keyed by id. order keeps first-arrival order for ids
	// that end up as additions.
	removed := make(map[string]struct{})
	changed := make(map[string]record.Record)
	var order []string

	for r, err := range fetch(ctx, hwm) {
		if err != nil {
			return nil, fmt.Errorf("fetch changes since %s: %w", hwm.Format(time.RFC3339), err)
		}
		id := r.ID()
		if id == "" {
			logger.Warn().Msg("Skipping changed record without id")
			continue
		}

		if opts.IsRemoved != nil && opts.IsRemoved(r) {
			removed[id] = struct{}{}
			delete(changed, id)
			continue
		}

		delete(removed, id)
		if _, seen := changed[id]; !seen {
			order = append(order, id)
		}
		changed[id] = r
	}

	render := func(r record.Record) record.Record {
		if opts.Normalize != nil {
			r = opts.Normalize(r)
		}
		return r.Project(fields)
	}

	result := &Result{
		FieldNames:    fields,
		Rows:          make([]record.Record, 0, len(snapshot.Rows)+len(changed)),
		HighWaterMark: hwm,
	}

	for _, row := range snapshot.Rows {
		id := row.ID()
		if _, ok := removed[id]; ok {
			result.Counts.Removed++
			continue
		}
		if r, ok := changed[id]; ok {
			result.Rows = append(result.Rows, render(r))
			delete(changed, id)
			result.Counts.Updated++
			continue
		}
		result.Rows = append(result.Rows, row.Clone())
		result.Counts.Unchanged++
	}

	for _, id := range order {
		r, ok := changed[id]
		if !ok {
			continue
		}
		result.Rows = append(result.Rows, render(r))
		delete(changed, id)
		result.Counts.Added++
	}

	rowsReconciledTotal.WithLabelValues("added").Add(float64(result.Counts.Added))
	rowsReconciledTotal.WithLabelValues("updated").Add(float64(result.Counts.Updated))
	rowsReconciledTotal.WithLabelValues("removed").Add(float64(result.Counts.Removed))
	rowsReconciledTotal.WithLabelValues("unchanged").Add(float64(result.Counts.Unchanged))

	logger.Info().
		Int("added", result.Counts.Added).
		Int("updated", result.Counts.Updated).
		Int("removed", result.Counts.Removed).
		Int("unchanged", result.Counts.Unchanged).
		Msg("Reconciliation complete")

	return result, nil
}
