package people

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/cardclient/pkg/identifiers"
	"github.com/Sternrassler/cardclient/pkg/record"
)

// ErrInvalidQuery is returned for export queries that cannot be run.
var ErrInvalidQuery = errors.New("invalid query")

// QueryConfig is an export query as written in the configuration file.
type QueryConfig struct {
	By                    string         `mapstructure:"by" yaml:"by"`
	IDs                   []string       `mapstructure:"ids" yaml:"ids"`
	ID                    string         `mapstructure:"id" yaml:"id"`
	LQLQuery              string         `mapstructure:"lql_query" yaml:"lql_query"`
	ExtraFieldsForResults map[string]any `mapstructure:"extra_fields_for_results" yaml:"extra_fields_for_results"`
	AffiliationStatus     string         `mapstructure:"affiliation_status" yaml:"affiliation_status"`
}

// Query is one of the query variants below.
type Query interface {
	isQuery()
}

// ByIdentifierScheme selects people by identifiers no directory is asked
// about; each identifier maps to the extra fields only.
type ByIdentifierScheme struct {
	Scheme string
	IDs    []string
	Extra  record.Record
}

// LookupSource selects which Lookup listing a ByLookupGroup query reads.
type LookupSource int

const (
	LookupInstitution LookupSource = iota
	LookupGroup
	LookupCRSIDs
)

// ByLookupGroup selects the members of Lookup institutions or groups, or the
// people behind a list of crsids.
type ByLookupGroup struct {
	Source LookupSource
	IDs    []string
	Extra  record.Record
}

// ByLQL selects the people matching a Lookup query.
type ByLQL struct {
	Query string
	Extra record.Record
}

// ByOrgID selects legacy cardholders by legacy card database organisation.
type ByOrgID struct {
	IDs   []string
	Extra record.Record
}

// ByAffiliation selects students or recent graduates by institution or
// academic plan, optionally restricted to one affiliation status.
type ByAffiliation struct {
	Type   StudentType
	Scheme string
	IDs    []string
	Status string
	Extra  record.Record
}

// ByHRInstitution selects staff by HR institution.
type ByHRInstitution struct {
	IDs   []string
	Extra record.Record
}

func (ByIdentifierScheme) isQuery() {}
func (ByLookupGroup) isQuery()      {}
func (ByLQL) isQuery()              {}
func (ByOrgID) isQuery()            {}
func (ByAffiliation) isQuery()      {}
func (ByHRInstitution) isQuery()    {}

var affiliationQueries = map[string]struct {
	kind   StudentType
	scheme string
}{
	"student_institution":           {Students, identifiers.StudentInstitution},
	"student_academic_plan":         {Students, identifiers.StudentAcademicPlan},
	"recent_graduate_institution":   {RecentGraduates, identifiers.StudentInstitution},
	"recent_graduate_academic_plan": {RecentGraduates, identifiers.StudentAcademicPlan},
}

var lookupQueries = map[string]LookupSource{
	"lookup_institution": LookupInstitution,
	"lookup_group":       LookupGroup,
	"crsid":              LookupCRSIDs,
}

// QueryNames returns every accepted value of "by".
func QueryNames() []string {
	names := []string{"lookup_institution", "lookup_group", "lql", "legacy_carddb_organisation_id",
		"student_institution", "student_academic_plan", "recent_graduate_institution",
		"recent_graduate_academic_plan", "university_hr_institution"}
	return append(names, identifiers.Names()...)
}

// ParseQuery validates qc and turns it into a Query.
func ParseQuery(qc QueryConfig) (Query, error) {
	extra := record.Record(qc.ExtraFieldsForResults)
	if extra == nil {
		extra = record.Record{}
	}

	if qc.By == "lql" {
		if strings.TrimSpace(qc.LQLQuery) == "" {
			return nil, fmt.Errorf("%w: query by lql must contain a string lql_query attribute", ErrInvalidQuery)
		}
		return ByLQL{Query: qc.LQLQuery, Extra: extra}, nil
	}

	ids := qc.IDs
	if len(ids) == 0 && qc.ID != "" {
		ids = []string{qc.ID}
	}

	var q Query
	if source, ok := lookupQueries[qc.By]; ok {
		q = ByLookupGroup{Source: source, IDs: ids, Extra: extra}
	} else if a, ok := affiliationQueries[qc.By]; ok {
		q = ByAffiliation{Type: a.kind, Scheme: a.scheme, IDs: ids, Status: qc.AffiliationStatus, Extra: extra}
	} else if scheme, ok := identifiers.SchemeForName(qc.By); ok {
		q = ByIdentifierScheme{Scheme: scheme, IDs: ids, Extra: extra}
	} else {
		switch qc.By {
		case "legacy_carddb_organisation_id":
			q = ByOrgID{IDs: ids, Extra: extra}
		case "university_hr_institution":
			q = ByHRInstitution{IDs: ids, Extra: extra}
		default:
			return nil, fmt.Errorf("%w: unknown by %q, available options are %s",
				ErrInvalidQuery, qc.By, strings.Join(QueryNames(), ", "))
		}
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: query by %s does not contain an id or list of ids", ErrInvalidQuery, qc.By)
	}
	return q, nil
}
