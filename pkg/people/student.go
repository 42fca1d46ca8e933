package people

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Sternrassler/cardclient/pkg/client"
	"github.com/Sternrassler/cardclient/pkg/identifiers"
	"github.com/Sternrassler/cardclient/pkg/identityapi"
	"github.com/rs/zerolog/log"
)

// StudentAPI locates the University Student API.
var StudentAPI = identityapi.API{
	Name:           "university-student",
	DefaultBaseURL: "https://api.apps.cam.ac.uk/university-student",
	DefaultVersion: "v1alpha2",
}

// StudentType selects current students or recent graduates.
type StudentType string

const (
	Students        StudentType = "students"
	RecentGraduates StudentType = "recent-graduates"
)

// Student is a student or recent graduate with the status of the affiliation
// they were found by.
type Student struct {
	USN               string
	AffiliationStatus string
	VisibleName       string
	Forenames         string
	Surname           string
}

// StudentClient queries the University Student API.
type StudentClient struct {
	session *identityapi.Session
}

// NewStudentClient creates a client on session.
func NewStudentClient(session *identityapi.Session) *StudentClient {
	return &StudentClient{session: session}
}

// StudentsByAffiliation returns the students of kind affiliated with id.
func (c *StudentClient) StudentsByAffiliation(ctx context.Context, id identifiers.Identifier, kind StudentType) ([]Student, error) {
	var out []Student
	for r, err := range c.session.Walk(ctx, client.RequestSpec{
		Method: http.MethodGet,
		URL:    c.session.URL("/" + string(kind)),
		Query:  url.Values{"affiliation": {id.String()}},
	}) {
		if err != nil {
			return nil, fmt.Errorf("%s affiliated with %s: %w", kind, id, err)
		}

		usn, ok := identifiers.Find(identifiers.Parse(r["identifiers"]), identifiers.USN)
		if !ok {
			log.Warn().Str("affiliation", id.String()).Msg("Skipping student without USN")
			continue
		}

		status, found := "", false
		for _, a := range affiliationsOf(r) {
			if a.Value == id.Value && a.Scheme == id.Scheme {
				status, found = a.Status, true
				break
			}
		}
		if !found {
			log.Warn().Str("affiliation", id.String()).Msg("Skipping student without matching affiliation")
			continue
		}

		out = append(out, Student{
			USN:               usn,
			AffiliationStatus: status,
			VisibleName:       visibleName(r),
			Forenames:         r.String("forenames"),
			Surname:           r.String("surname"),
		})
	}
	return out, nil
}
