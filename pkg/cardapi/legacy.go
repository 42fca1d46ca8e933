package cardapi

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/Sternrassler/cardclient/pkg/client"
	"github.com/Sternrassler/cardclient/pkg/identityapi"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/rs/zerolog/log"
)

// LegacyCardholderAPI locates the unversioned Legacy Cardholder API.
var LegacyCardholderAPI = identityapi.API{
	Name:           "legacy-cardholder",
	DefaultBaseURL: "https://api.apps.cam.ac.uk/legacycardholders",
}

// LegacyCardholder is a cardholder of the legacy card database.
type LegacyCardholder struct {
	CamUID      string
	DisplayName string
}

// LegacyCardholderClient queries the Legacy Cardholder API.
type LegacyCardholderClient struct {
	session *identityapi.Session
}

// NewLegacyCardholderClient creates a client on session.
func NewLegacyCardholderClient(session *identityapi.Session) *LegacyCardholderClient {
	return &LegacyCardholderClient{session: session}
}

// PeopleByLegacyOrgID returns the cardholders belonging to any of the legacy
// card database organisations in orgIDs. The API has no server-side filter,
// so the full list is fetched once and filtered here.
func (c *LegacyCardholderClient) PeopleByLegacyOrgID(ctx context.Context, orgIDs []string) ([]LegacyCardholder, error) {
	log.Info().Strs("org_ids", orgIDs).Msg("Fetching legacy cardholders by organisation")

	resp, err := c.session.Send(ctx, client.RequestSpec{Method: http.MethodGet, URL: c.session.BaseURL()})
	if err != nil {
		return nil, fmt.Errorf("fetch legacy cardholders: %w", err)
	}

	var body struct {
		Records []record.Record `json:"records"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("legacy cardholders: %w", err)
	}

	var out []LegacyCardholder
	for _, r := range body.Records {
		if !slices.ContainsFunc(orgIDsOf(r), func(id string) bool { return slices.Contains(orgIDs, id) }) {
			continue
		}
		out = append(out, LegacyCardholder{
			CamUID:      r.String("cam_uid"),
			DisplayName: r.String("display_name"),
		})
	}
	return out, nil
}

// orgIDsOf reads org_id, which is either a list or a single value.
func orgIDsOf(r record.Record) []string {
	switch v := r["org_id"].(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = record.FormatValue(item)
		}
		return out
	default:
		return []string{record.FormatValue(v)}
	}
}
