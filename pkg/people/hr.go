// Package people resolves export queries into the people whose cards are
// exported, using the HR, Student, Legacy Cardholder and Lookup directories.
package people

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/cardclient/pkg/client"
	"github.com/Sternrassler/cardclient/pkg/identifiers"
	"github.com/Sternrassler/cardclient/pkg/identityapi"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/rs/zerolog/log"
)

// HRAPI locates the University Human Resources API.
var HRAPI = identityapi.API{
	Name:           "university-human-resources",
	DefaultBaseURL: "https://api.apps.cam.ac.uk/university-human-resources",
	DefaultVersion: "v1alpha2",
}

// memberStatus marks plain institution members, who are left out of staff
// exports.
const memberStatus = "Member"

// StaffMember is a staff member of an institution.
type StaffMember struct {
	StaffNumber string
	VisibleName string
	Forenames   string
	Surname     string
}

// HRClient queries the University Human Resources API.
type HRClient struct {
	session *identityapi.Session
}

// NewHRClient creates a client on session.
func NewHRClient(session *identityapi.Session) *HRClient {
	return &HRClient{session: session}
}

// StaffByInstitution returns the staff affiliated with instID. Members whose
// only status for the institution is "Member" are skipped.
func (c *HRClient) StaffByInstitution(ctx context.Context, instID string) ([]StaffMember, error) {
	affiliation := identifiers.Identifier{Value: instID, Scheme: identifiers.HRInstitution}

	var out []StaffMember
	for r, err := range c.session.Walk(ctx, client.RequestSpec{
		Method: http.MethodGet,
		URL:    c.session.URL("/staff"),
		Query: url.Values{
			"affiliation": {affiliation.String()},
			"page_size":   {strconv.Itoa(c.session.PageSize())},
		},
	}) {
		if err != nil {
			return nil, fmt.Errorf("staff of institution %s: %w", instID, err)
		}

		staffNumber, ok := identifiers.Find(identifiers.Parse(r["identifiers"]), identifiers.StaffNumber)
		if !ok {
			log.Warn().Str("institution", instID).Msg("Skipping staff member without staff number")
			continue
		}

		status := ""
		for _, a := range affiliationsOf(r) {
			if a.Value == instID && a.Scheme == identifiers.HRInstitution && a.Status != memberStatus {
				status = a.Status
				break
			}
		}
		if status == "" {
			continue
		}

		out = append(out, StaffMember{
			StaffNumber: staffNumber,
			VisibleName: visibleName(r),
			Forenames:   r.String("forenames"),
			Surname:     r.String("surname"),
		})
	}
	return out, nil
}

type affiliation struct {
	Value  string
	Scheme string
	Status string
}

func affiliationsOf(r record.Record) []affiliation {
	raw, _ := r["affiliations"].([]any)
	out := make([]affiliation, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, affiliation{
			Value:  record.FormatValue(m["value"]),
			Scheme: record.FormatValue(m["scheme"]),
			Status: record.FormatValue(m["status"]),
		})
	}
	return out
}

// visibleName joins name prefixes, forenames and surname, skipping blanks.
func visibleName(r record.Record) string {
	parts := make([]string, 0, 3)
	for _, f := range []string{"namePrefixes", "forenames", "surname"} {
		if v := strings.TrimSpace(r.String(f)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}
