// Package cardapi queries the Card API and the Legacy Cardholder API and
// flattens card documents into export rows.
package cardapi

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/cardclient/pkg/cache"
	"github.com/Sternrassler/cardclient/pkg/client"
	"github.com/Sternrassler/cardclient/pkg/identityapi"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TimestampFormat renders high-water marks in updated_at__gte queries.
const TimestampFormat = "2006-01-02T15:04:05.999999"

// DefaultChunkSize bounds the identifiers sent in one filter request.
const DefaultChunkSize = 50

// API locates the Card API.
var API = identityapi.API{
	Name:           "card",
	DefaultBaseURL: "https://api.apps.cam.ac.uk/card",
	DefaultVersion: "v1beta1",
}

// ErrInvalidCardID is returned for card ids that are not UUIDs.
var ErrInvalidCardID = errors.New("invalid card id")

// Client queries the Card API.
type Client struct {
	session  *identityapi.Session
	cache    *cache.Manager
	cacheTTL time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithDetailCache caches card detail responses in Redis for ttl.
func WithDetailCache(m *cache.Manager, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = m
		c.cacheTTL = ttl
	}
}

// New creates a Card API client on session.
func New(session *identityapi.Session, opts ...Option) *Client {
	c := &Client{session: session}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the underlying session.
func (c *Client) Session() *identityapi.Session {
	return c.session
}

func (c *Client) listQuery(params url.Values) url.Values {
	q := url.Values{"page_size": {strconv.Itoa(c.session.PageSize())}}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	return q
}

// AllCards iterates every card matching params.
func (c *Client) AllCards(ctx context.Context, params url.Values) iter.Seq2[record.Record, error] {
	return c.session.Walk(ctx, client.RequestSpec{
		Method: http.MethodGet,
		URL:    c.session.URL("/cards/"),
		Query:  c.listQuery(params),
	})
}

// CardsForIdentifiers iterates the cards of the given value@scheme
// identifiers, querying chunkSize identifiers at a time. A zero chunkSize
// uses DefaultChunkSize.
func (c *Client) CardsForIdentifiers(ctx context.Context, ids []string, chunkSize int, params url.Values) (iter.Seq2[record.Record, error], error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	query := c.listQuery(params)
	return c.session.WalkChunks(ctx, ids, chunkSize, func(chunk []string) client.RequestSpec {
		return client.RequestSpec{
			Method: http.MethodPost,
			URL:    c.session.URL("/cards/filter/"),
			Query:  query,
			Body:   map[string]any{"identifiers": chunk},
		}
	})
}

// CardDetail fetches the full document of one card, notes included.
func (c *Client) CardDetail(ctx context.Context, cardID string) (record.Record, error) {
	id, err := uuid.Parse(cardID)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidCardID, cardID, err)
	}
	path := "/cards/" + id.String() + "/"

	fetch := func(ctx context.Context) (*cache.CacheEntry, error) {
		resp, err := c.session.Send(ctx, client.RequestSpec{Method: http.MethodGet, URL: c.session.URL(path)})
		if err != nil {
			return nil, fmt.Errorf("fetch card %s: %w", id, err)
		}
		return cache.EntryFromResponse(resp, c.cacheTTL), nil
	}

	var body []byte
	if c.cache != nil {
		body, err = c.cache.GetOrFetch(ctx, cache.CacheKey{
			Namespace: c.session.Name(),
			Endpoint:  c.session.URL(path),
			Principal: c.session.Principal(),
		}, fetch)
	} else {
		var entry *cache.CacheEntry
		if entry, err = fetch(ctx); err == nil {
			body = entry.Data
		}
	}
	if err != nil {
		return nil, err
	}

	resp := client.Response{Body: body}
	var card record.Record
	if err := resp.Decode(&card); err != nil {
		return nil, fmt.Errorf("card %s: %w", id, err)
	}

	log.Debug().Str("card", id.String()).Msg("Fetched card detail")
	return card, nil
}
