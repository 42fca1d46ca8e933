// Package identifiers names the identifier schemes used across the identity
// APIs and renders identifiers in their canonical string form.
package identifiers

import (
	"sort"
	"strings"

	"github.com/Sternrassler/cardclient/pkg/record"
)

// Person and card identifier schemes.
const (
	CRSID            = "v1.person.identifiers.cam.ac.uk"
	USN              = "person.v1.student-records.university.identifiers.cam.ac.uk"
	StaffNumber      = "person.v1.human-resources.university.identifiers.cam.ac.uk"
	BGS              = "person.v1.board-of-graduate-studies.university.identifiers.cam.ac.uk"
	LegacyCardholder = "person.v1.legacy-card.university.identifiers.cam.ac.uk"
	MifareID         = "mifare-identifier.v1.card.university.identifiers.cam.ac.uk"
	MifareNumber     = "mifare-number.v1.card.university.identifiers.cam.ac.uk"
	LegacyCard       = "card.v1.legacy-card.university.identifiers.cam.ac.uk"
	Photo            = "photo.v1.photo.university.identifiers.cam.ac.uk"
	Barcode          = "barcode.v1.card.university.identifiers.cam.ac.uk"
)

// Affiliation schemes used to filter people sources.
const (
	StudentInstitution  = "institution.v1.student.university.identifiers.cam.ac.uk"
	StudentAcademicPlan = "academic-plan.v1.student.university.identifiers.cam.ac.uk"
	HRInstitution       = "institution.v1.human-resources.university.identifiers.cam.ac.uk"
	LookupInstitution   = "insts.lookup.cam.ac.uk"
)

// schemeNames maps each person or card scheme to its export column name.
var schemeNames = map[string]string{
	CRSID:            "crsid",
	USN:              "usn",
	StaffNumber:      "staff_number",
	BGS:              "bgs_id",
	LegacyCardholder: "legacy_card_holder_id",
	MifareID:         "mifare_id",
	MifareNumber:     "mifare_number",
	LegacyCard:       "legacy_card_id",
	Photo:            "photo_id",
	Barcode:          "barcode",
}

var nameSchemes = func() map[string]string {
	out := make(map[string]string, len(schemeNames))
	for scheme, name := range schemeNames {
		out[name] = scheme
	}
	return out
}()

// NameForScheme returns the column name of scheme.
func NameForScheme(scheme string) (string, bool) {
	name, ok := schemeNames[scheme]
	return name, ok
}

// SchemeForName returns the scheme behind a column name such as "crsid".
func SchemeForName(name string) (string, bool) {
	scheme, ok := nameSchemes[name]
	return scheme, ok
}

// Schemes returns every named scheme, sorted by name.
func Schemes() []string {
	names := Names()
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = nameSchemes[name]
	}
	return out
}

// Names returns every scheme name, sorted.
func Names() []string {
	out := make([]string, 0, len(nameSchemes))
	for name := range nameSchemes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ToString renders value@scheme in lower case. Identifiers are compared in
// this form so mixed-case input never produces duplicate keys.
func ToString(value, scheme string) string {
	return strings.ToLower(value + "@" + scheme)
}

// Identifier is a value qualified by its scheme.
type Identifier struct {
	Value  string `json:"value"`
	Scheme string `json:"scheme"`
}

// String renders the identifier as value@scheme, preserving case.
func (i Identifier) String() string {
	return i.Value + "@" + i.Scheme
}

// Key returns the canonical lower-cased form.
func (i Identifier) Key() string {
	return ToString(i.Value, i.Scheme)
}

// Find returns the value of the first identifier in ids with scheme.
func Find(ids []Identifier, scheme string) (string, bool) {
	for _, id := range ids {
		if id.Scheme == scheme {
			return id.Value, true
		}
	}
	return "", false
}

// Parse reads a decoded JSON identifier list of {value, scheme} objects.
// Malformed entries are skipped.
func Parse(v any) []Identifier {
	raw, _ := v.([]any)
	out := make([]Identifier, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Identifier{
			Value:  record.FormatValue(m["value"]),
			Scheme: record.FormatValue(m["scheme"]),
		})
	}
	return out
}
