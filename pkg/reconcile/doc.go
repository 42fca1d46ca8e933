// Package reconcile merges a previously exported snapshot with the records
// that changed since the snapshot was written.
//
// # Algorithm
//
// A run is a linear pipeline:
//
// 1. High-water mark: the maximum updatedAt across the snapshot. It is always
// recomputed from the data, so a run restarted after a crash fetches the same
// delta.
//
// 2. Delta: the caller's DeltaFunc is invoked once with the high-water mark.
// Records matching Options.IsRemoved are scheduled for removal, all others
// are treated as changed. Both sets are keyed by id.
//
// 3. Merge: snapshot rows are visited in order. Removed rows are dropped,
// changed rows are replaced in place, the rest are kept as they are.
//
// 4. Append: changed records that were not in the snapshot are appended in
// the order the delta produced them.
//
// Changed and added rows are normalized and projected onto the output field
// set; the engine never adds columns the snapshot did not have.
//
// # Usage Example
//
//	result, err := reconcile.Reconcile(ctx, snapshot, func(ctx context.Context, since time.Time) iter.Seq2[record.Record, error] {
//	    return cards.AllCards(ctx, cardapi.UpdatedSince(since))
//	}, reconcile.Options{IsRemoved: func(r record.Record) bool { return r.String("status") != "ISSUED" }})
//
// The input snapshot is never modified; callers persist Result.Rows only
// after Reconcile returns without error.
package reconcile
