package people

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/cardclient/pkg/cardapi"
	"github.com/Sternrassler/cardclient/pkg/identifiers"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/rs/zerolog"
)

// ErrSourceNotConfigured is returned when a query needs a directory the
// Resolver was built without.
var ErrSourceNotConfigured = errors.New("people source not configured")

// People maps canonical value@scheme identifiers to the fields joined onto
// their cards.
type People map[string]record.Record

// Resolver runs queries against the configured directories. Nil sources
// are only an error for queries that need them.
type Resolver struct {
	Lookup   *LookupClient
	Legacy   *cardapi.LegacyCardholderClient
	Students *StudentClient
	HR       *HRClient
	Logger   zerolog.Logger
}

// Resolve returns the people selected by q and the identifier scheme they
// are keyed by.
func (r *Resolver) Resolve(ctx context.Context, q Query) (People, string, error) {
	switch q := q.(type) {
	case ByIdentifierScheme:
		r.Logger.Info().Int("ids", len(q.IDs)).Str("scheme", q.Scheme).Msg("Returning people for identifiers")
		out := make(People, len(q.IDs))
		for _, id := range q.IDs {
			out[identifiers.ToString(id, q.Scheme)] = q.Extra.Clone()
		}
		return out, q.Scheme, nil

	case ByLookupGroup:
		if r.Lookup == nil {
			return nil, "", fmt.Errorf("%w: lookup", ErrSourceNotConfigured)
		}
		out := People{}
		if q.Source == LookupCRSIDs {
			r.Logger.Info().Int("crsids", len(q.IDs)).Msg("Fetching members by crsid")
			members, err := r.Lookup.ListPeople(ctx, q.IDs)
			if err != nil {
				return nil, "", err
			}
			addLookupPeople(out, members, q.Extra)
			return out, identifiers.CRSID, nil
		}
		for _, id := range q.IDs {
			r.Logger.Info().Str("id", id).Msg("Fetching Lookup members")
			var members []LookupPerson
			var err error
			if q.Source == LookupInstitution {
				members, err = r.Lookup.InstitutionMembers(ctx, id)
			} else {
				members, err = r.Lookup.GroupMembers(ctx, id)
			}
			if err != nil {
				return nil, "", err
			}
			addLookupPeople(out, members, q.Extra)
		}
		return out, identifiers.CRSID, nil

	case ByLQL:
		if r.Lookup == nil {
			return nil, "", fmt.Errorf("%w: lookup", ErrSourceNotConfigured)
		}
		lql := q.Query
		if !strings.HasPrefix(lql, "person:") {
			lql = "person:" + lql
		}
		r.Logger.Info().Str("query", lql).Msg("Fetching people using LQL")
		members, err := r.Lookup.Search(ctx, lql)
		if err != nil {
			return nil, "", err
		}
		out := People{}
		addLookupPeople(out, members, q.Extra)
		return out, identifiers.CRSID, nil

	case ByOrgID:
		if r.Legacy == nil {
			return nil, "", fmt.Errorf("%w: legacy cardholder", ErrSourceNotConfigured)
		}
		holders, err := r.Legacy.PeopleByLegacyOrgID(ctx, q.IDs)
		if err != nil {
			return nil, "", err
		}
		out := make(People, len(holders))
		for _, h := range holders {
			out[identifiers.ToString(h.CamUID, identifiers.LegacyCardholder)] = record.Merge(
				record.Record{"visible_name": h.DisplayName}, q.Extra)
		}
		return out, identifiers.LegacyCardholder, nil

	case ByAffiliation:
		if r.Students == nil {
			return nil, "", fmt.Errorf("%w: university student", ErrSourceNotConfigured)
		}
		out := People{}
		for _, id := range q.IDs {
			r.Logger.Info().Str("affiliation", id).Str("type", string(q.Type)).Msg("Fetching students by affiliation")
			students, err := r.Students.StudentsByAffiliation(ctx, identifiers.Identifier{Value: id, Scheme: q.Scheme}, q.Type)
			if err != nil {
				return nil, "", err
			}
			for _, s := range students {
				if q.Status != "" && s.AffiliationStatus != q.Status {
					continue
				}
				out[identifiers.ToString(s.USN, identifiers.USN)] = record.Merge(record.Record{
					"visible_name":       s.VisibleName,
					"forenames":          s.Forenames,
					"surname":            s.Surname,
					"affiliation_status": s.AffiliationStatus,
				}, q.Extra)
			}
		}
		return out, identifiers.USN, nil

	case ByHRInstitution:
		if r.HR == nil {
			return nil, "", fmt.Errorf("%w: university human resources", ErrSourceNotConfigured)
		}
		out := People{}
		for _, id := range q.IDs {
			r.Logger.Info().Str("institution", id).Msg("Fetching staff by institution")
			staff, err := r.HR.StaffByInstitution(ctx, id)
			if err != nil {
				return nil, "", err
			}
			for _, s := range staff {
				out[identifiers.ToString(s.StaffNumber, identifiers.StaffNumber)] = record.Merge(record.Record{
					"visible_name": s.VisibleName,
					"forenames":    s.Forenames,
					"surname":      s.Surname,
				}, q.Extra)
			}
		}
		return out, identifiers.StaffNumber, nil

	default:
		return nil, "", fmt.Errorf("%w: unsupported query type %T", ErrInvalidQuery, q)
	}
}

// addLookupPeople keys members by crsid. Members without one are dropped.
func addLookupPeople(out People, members []LookupPerson, extra record.Record) {
	for _, m := range members {
		crsid, ok := m.CRSID()
		if !ok {
			continue
		}
		out[identifiers.ToString(crsid, identifiers.CRSID)] = record.Merge(record.Record{
			"visible_name": m.VisibleName,
			"surname":      m.Surname,
			"forenames":    m.FirstName(),
		}, extra)
	}
}
