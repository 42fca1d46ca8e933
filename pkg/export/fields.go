// Package export writes card exports as CSV and keeps issued-card exports up
// to date incrementally.
package export

import (
	"slices"
	"sort"

	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var exportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cardclient_export_rows_total",
	Help: "Total rows written to exports by export kind",
}, []string{"export"})

// DefaultFields are the export columns used when none are configured.
var DefaultFields = []string{
	"id",
	"crsid",
	"visible_name",
	"forenames",
	"surname",
	"affiliation_status",
	"usn",
	"staff_number",
	"bgs_id",
	"legacy_card_holder_id",
	"mifare_id",
	"mifare_id_hex",
	"mifare_number",
	"legacy_card_id",
	"photo_id",
	"barcode",
	"cardType",
	"status",
	"issueNumber",
	"issuedAt",
	"expiresAt",
	"revokedAt",
	"returnedAt",
	"updatedAt",
}

// ExtendedFields are filled from the card's most recent note. Card detail is
// only fetched when one of them is configured.
var ExtendedFields = []string{"lastnote", "lastnoteAt"}

// requiredFields make an issued-card export updatable in place.
var requiredFields = []string{"id", "updatedAt"}

// FieldNames returns the columns of an issued-card export. Configured fields
// keep their order; otherwise DefaultFields are followed by the sample's
// remaining keys in sorted order. id and updatedAt are always present.
func FieldNames(configured []string, sample record.Record) []string {
	var fields []string
	if len(configured) > 0 {
		fields = slices.Clone(configured)
	} else {
		fields = withSortedExtras(DefaultFields, sample)
	}

	for _, f := range requiredFields {
		if !slices.Contains(fields, f) {
			fields = append(fields, f)
		}
	}
	return fields
}

// cardFieldNames returns the columns of a query export with no configured
// fields: DefaultFields, ExtendedFields, then the row's remaining keys sorted.
func cardFieldNames(sample record.Record) []string {
	return withSortedExtras(append(slices.Clone(DefaultFields), ExtendedFields...), sample)
}

func withSortedExtras(base []string, sample record.Record) []string {
	fields := slices.Clone(base)
	extras := make([]string, 0, len(sample))
	for k := range sample {
		if !slices.Contains(fields, k) {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	return append(fields, extras...)
}

func wantsExtended(fields []string) bool {
	return slices.ContainsFunc(fields, func(f string) bool { return slices.Contains(ExtendedFields, f) })
}
