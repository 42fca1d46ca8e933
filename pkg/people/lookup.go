package people

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/cardclient/pkg/client"
	"github.com/Sternrassler/cardclient/pkg/identityapi"
	"github.com/Sternrassler/cardclient/pkg/pagination"
	"github.com/rs/zerolog/log"
)

// LookupAPI locates the Lookup directory web service.
var LookupAPI = identityapi.API{
	Name:           "lookup",
	DefaultBaseURL: "https://www.lookup.cam.ac.uk/api",
	DefaultVersion: "v1",
}

// Lookup request tuning.
const (
	// LQLPageSize is the limit requested per LQL search page.
	LQLPageSize = 500

	// CRSIDChunkSize bounds the crsids listed in one request.
	CRSIDChunkSize = 100

	lookupFetch = "visibleName,surname,firstName,all_identifiers"
)

// LookupPerson is a person as returned by Lookup.
type LookupPerson struct {
	VisibleName string        `json:"visibleName"`
	Surname     string        `json:"surname"`
	Attributes  []lookupValue `json:"attributes"`
	Identifiers []lookupValue `json:"identifiers"`
}

type lookupValue struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

// CRSID returns the person's crsid, if Lookup returned one.
func (p LookupPerson) CRSID() (string, bool) {
	for _, id := range p.Identifiers {
		if id.Scheme == "crsid" && id.Value != "" {
			return id.Value, true
		}
	}
	return "", false
}

// FirstName returns the firstName attribute, or "".
func (p LookupPerson) FirstName() string {
	for _, attr := range p.Attributes {
		if attr.Scheme == "firstName" {
			return attr.Value
		}
	}
	return ""
}

type lookupResponse struct {
	Result struct {
		People []LookupPerson `json:"people"`
	} `json:"result"`
}

// LookupClient queries the Lookup web service.
type LookupClient struct {
	session *identityapi.Session
}

// NewLookupClient creates a client on session.
func NewLookupClient(session *identityapi.Session) *LookupClient {
	return &LookupClient{session: session}
}

// InstitutionMembers returns the members of a Lookup institution.
func (c *LookupClient) InstitutionMembers(ctx context.Context, instID string) ([]LookupPerson, error) {
	return c.people(ctx, "/inst/"+url.PathEscape(instID)+"/members", url.Values{"fetch": {lookupFetch}})
}

// GroupMembers returns the members of a Lookup group.
func (c *LookupClient) GroupMembers(ctx context.Context, groupID string) ([]LookupPerson, error) {
	return c.people(ctx, "/group/"+url.PathEscape(groupID)+"/members", url.Values{"fetch": {lookupFetch}})
}

// Search returns every person matching an LQL query. Pages are requested
// by offset until a page shorter than LQLPageSize arrives.
func (c *LookupClient) Search(ctx context.Context, lql string) ([]LookupPerson, error) {
	var out []LookupPerson
	for offset := 0; ; {
		log.Debug().Str("query", lql).Int("offset", offset).Msg("Searching Lookup")

		page, err := c.people(ctx, "/person/search", url.Values{
			"query":  {lql},
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(LQLPageSize)},
			"fetch":  {lookupFetch},
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < LQLPageSize {
			return out, nil
		}
		offset += len(page)
	}
}

// ListPeople returns the people with the given crsids, CRSIDChunkSize at a time.
func (c *LookupClient) ListPeople(ctx context.Context, crsids []string) ([]LookupPerson, error) {
	chunks, err := pagination.Chunks(crsids, CRSIDChunkSize)
	if err != nil {
		return nil, err
	}

	var out []LookupPerson
	for i, chunk := range chunks {
		log.Debug().Int("chunk", i+1).Int("chunks", len(chunks)).Msg("Listing Lookup people")

		page, err := c.people(ctx, "/person/list", url.Values{
			"crsids": {strings.Join(chunk, ",")},
			"fetch":  {lookupFetch},
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}

func (c *LookupClient) people(ctx context.Context, path string, query url.Values) ([]LookupPerson, error) {
	resp, err := c.session.Send(ctx, client.RequestSpec{
		Method: http.MethodGet,
		URL:    c.session.URL(path),
		Query:  query,
	})
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", path, err)
	}

	var body lookupResponse
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", path, err)
	}
	return body.Result.People, nil
}
