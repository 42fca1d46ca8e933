package people

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/Sternrassler/cardclient/internal/testutil"
	"github.com/Sternrassler/cardclient/pkg/cardapi"
	"github.com/Sternrassler/cardclient/pkg/identifiers"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	extra := map[string]any{"group": "x"}

	tests := []struct {
		name string
		in   QueryConfig
		want Query
	}{
		{
			name: "identifier scheme",
			in:   QueryConfig{By: "usn", IDs: []string{"1", "2"}},
			want: ByIdentifierScheme{Scheme: identifiers.USN, IDs: []string{"1", "2"}, Extra: record.Record{}},
		},
		{
			name: "single id",
			in:   QueryConfig{By: "lookup_institution", ID: "UIS", ExtraFieldsForResults: extra},
			want: ByLookupGroup{Source: LookupInstitution, IDs: []string{"UIS"}, Extra: record.Record(extra)},
		},
		{
			name: "crsid lists lookup people",
			in:   QueryConfig{By: "crsid", IDs: []string{"ab1"}},
			want: ByLookupGroup{Source: LookupCRSIDs, IDs: []string{"ab1"}, Extra: record.Record{}},
		},
		{
			name: "lql",
			in:   QueryConfig{By: "lql", LQLQuery: "surname=smith"},
			want: ByLQL{Query: "surname=smith", Extra: record.Record{}},
		},
		{
			name: "recent graduates by plan",
			in:   QueryConfig{By: "recent_graduate_academic_plan", IDs: []string{"P1"}, AffiliationStatus: "graduated"},
			want: ByAffiliation{Type: RecentGraduates, Scheme: identifiers.StudentAcademicPlan, IDs: []string{"P1"}, Status: "graduated", Extra: record.Record{}},
		},
		{
			name: "org id",
			in:   QueryConfig{By: "legacy_carddb_organisation_id", IDs: []string{"7"}},
			want: ByOrgID{IDs: []string{"7"}, Extra: record.Record{}},
		},
		{
			name: "hr institution",
			in:   QueryConfig{By: "university_hr_institution", IDs: []string{"UAS1"}},
			want: ByHRInstitution{IDs: []string{"UAS1"}, Extra: record.Record{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQuery(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQuery_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   QueryConfig
	}{
		{"unknown by", QueryConfig{By: "nope", IDs: []string{"1"}}},
		{"missing by", QueryConfig{IDs: []string{"1"}}},
		{"no ids", QueryConfig{By: "crsid"}},
		{"lql without query", QueryConfig{By: "lql", IDs: []string{"1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuery(tt.in)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestResolve_IdentifierScheme(t *testing.T) {
	r := &Resolver{}
	people, scheme, err := r.Resolve(context.Background(), ByIdentifierScheme{
		Scheme: identifiers.MifareID,
		IDs:    []string{"ABC", "def"},
		Extra:  record.Record{"team": "blue"},
	})
	require.NoError(t, err)

	assert.Equal(t, identifiers.MifareID, scheme)
	assert.Equal(t, People{
		"abc@" + identifiers.MifareID: {"team": "blue"},
		"def@" + identifiers.MifareID: {"team": "blue"},
	}, people)
}

func TestResolve_LookupSources(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetJSON("/lookup/v1/inst/UIS/members", http.StatusOK, lookupPeople("AB1"))
	mock.SetJSON("/lookup/v1/person/search", http.StatusOK, lookupPeople("cd2"))
	mock.SetJSON("/lookup/v1/person/list", http.StatusOK, lookupPeople("ef3"))

	r := &Resolver{Lookup: NewLookupClient(newTestSession(t, mock, LookupAPI, "/lookup"))}
	ctx := context.Background()

	people, scheme, err := r.Resolve(ctx, ByLookupGroup{Source: LookupInstitution, IDs: []string{"UIS"}, Extra: record.Record{"forenames": "override"}})
	require.NoError(t, err)
	assert.Equal(t, identifiers.CRSID, scheme)
	assert.Equal(t, People{
		"ab1@" + identifiers.CRSID: {"visible_name": "Person AB1", "surname": "SAB1", "forenames": "override"},
	}, people)

	people, _, err = r.Resolve(ctx, ByLQL{Query: "surname=x", Extra: record.Record{}})
	require.NoError(t, err)
	assert.Contains(t, people, "cd2@"+identifiers.CRSID)
	q, _ := url.ParseQuery(mock.RequestsFor("/lookup/v1/person/search")[0].RawQuery)
	assert.Equal(t, "person:surname=x", q.Get("query"))

	people, _, err = r.Resolve(ctx, ByLookupGroup{Source: LookupCRSIDs, IDs: []string{"ef3"}, Extra: record.Record{}})
	require.NoError(t, err)
	assert.Contains(t, people, "ef3@"+identifiers.CRSID)
}

func TestResolve_OrgID(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetJSON("/legacy", http.StatusOK, map[string]any{
		"records": []any{map[string]any{"cam_uid": "X100", "display_name": "Ann", "org_id": []any{"5"}}},
	})

	r := &Resolver{Legacy: cardapi.NewLegacyCardholderClient(newTestSession(t, mock, cardapi.LegacyCardholderAPI, "/legacy"))}
	people, scheme, err := r.Resolve(context.Background(), ByOrgID{IDs: []string{"5"}, Extra: record.Record{"org": "five"}})
	require.NoError(t, err)

	assert.Equal(t, identifiers.LegacyCardholder, scheme)
	assert.Equal(t, People{"x100@" + identifiers.LegacyCardholder: {"visible_name": "Ann", "org": "five"}}, people)
}

func TestResolve_AffiliationStatusFilter(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPages("/student/v1alpha2/students", []map[string]any{
		student("1", identifiers.StudentInstitution, "CHM", "current"),
		student("2", identifiers.StudentInstitution, "CHM", "suspended"),
	})

	r := &Resolver{Students: NewStudentClient(newTestSession(t, mock, StudentAPI, "/student"))}
	people, scheme, err := r.Resolve(context.Background(), ByAffiliation{
		Type: Students, Scheme: identifiers.StudentInstitution, IDs: []string{"CHM"}, Status: "current", Extra: record.Record{},
	})
	require.NoError(t, err)

	assert.Equal(t, identifiers.USN, scheme)
	require.Len(t, people, 1)
	assert.Equal(t, "current", people["1@"+identifiers.USN].String("affiliation_status"))
}

func TestResolve_HRInstitution(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPages("/hr/v1alpha2/staff", []map[string]any{staffMember("9", "UAS1", "Staff")})

	r := &Resolver{HR: NewHRClient(newTestSession(t, mock, HRAPI, "/hr"))}
	people, scheme, err := r.Resolve(context.Background(), ByHRInstitution{IDs: []string{"UAS1"}, Extra: record.Record{}})
	require.NoError(t, err)

	assert.Equal(t, identifiers.StaffNumber, scheme)
	assert.Equal(t, People{"9@" + identifiers.StaffNumber: {"visible_name": "Dr Ann Smith9", "forenames": "Ann", "surname": "Smith9"}}, people)
}

func TestResolve_MissingSource(t *testing.T) {
	r := &Resolver{}
	queries := []Query{
		ByLookupGroup{IDs: []string{"x"}},
		ByLQL{Query: "x"},
		ByOrgID{IDs: []string{"1"}},
		ByAffiliation{IDs: []string{"1"}},
		ByHRInstitution{IDs: []string{"1"}},
	}
	for _, q := range queries {
		_, _, err := r.Resolve(context.Background(), q)
		assert.ErrorIs(t, err, ErrSourceNotConfigured, "%T", q)
	}
}
