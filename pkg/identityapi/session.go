package identityapi

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"iter"
	"net/http"

	"github.com/Sternrassler/cardclient/pkg/auth"
	"github.com/Sternrassler/cardclient/pkg/client"
	"github.com/Sternrassler/cardclient/pkg/pagination"
	"github.com/Sternrassler/cardclient/pkg/ratelimit"
	"github.com/Sternrassler/cardclient/pkg/record"
	"github.com/rs/zerolog"
)

// UserAgent is sent with every identity API request.
const UserAgent = "cardclient/1.0"

// Options carries the process-wide collaborators shared by all sessions.
type Options struct {
	// Tokens memoizes client-credential exchanges. Required when a client
	// key and secret are configured.
	Tokens *auth.TokenCache

	RateLimiter *ratelimit.Tracker
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// Session is an authorised requester bound to one identity API.
type Session struct {
	api       API
	client    *client.Client
	baseURL   string
	pageSize  int
	principal string
}

// NewSession resolves cfg for api and authorises the session. Basic auth
// credentials win, then client credentials, then a bearer token; with none
// the session is anonymous and a warning is logged.
func NewSession(ctx context.Context, cfg Config, api API, opts Options) (*Session, error) {
	logger := opts.Logger.With().Str("component", "identity-api").Str("api", api.Name).Logger()
	policy := cfg.RetryPolicy()
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	var authorization, principal string
	switch {
	case cfg.Username != "" && cfg.Password != "":
		authorization = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.Password))
		principal = cfg.Username

	case cfg.ClientKey != "" && cfg.ClientSecret != "":
		if opts.Tokens == nil {
			return nil, client.NewConfigurationError("client_key", "a token cache is required for client credentials")
		}
		endpoint := cfg.TokenEndpoint
		if endpoint == "" {
			base := cfg.BaseURL
			if base == "" {
				base = api.DefaultBaseURL
			}
			var err error
			if endpoint, err = auth.DefaultTokenEndpoint(base); err != nil {
				return nil, err
			}
		}
		token, err := opts.Tokens.Token(ctx, auth.Credentials{
			ClientID:      cfg.ClientKey,
			ClientSecret:  cfg.ClientSecret,
			TokenEndpoint: endpoint,
		}, policy)
		if err != nil {
			return nil, err
		}
		authorization = "Bearer " + token
		principal = cfg.ClientKey

	case cfg.BearerToken != "":
		authorization = "Bearer " + cfg.BearerToken
		sum := sha256.Sum256([]byte(cfg.BearerToken))
		principal = "bearer-" + hex.EncodeToString(sum[:4])

	default:
		logger.Warn().Msg("No authentication details provided")
		principal = "anonymous"
	}

	c, err := client.New(client.Config{
		HTTPClient:    opts.HTTPClient,
		Authorization: authorization,
		UserAgent:     UserAgent,
		Retry:         policy,
		RateLimiter:   opts.RateLimiter,
		Logger:        &logger,
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		api:       api,
		client:    c,
		baseURL:   cfg.ResolveBaseURL(api),
		pageSize:  cfg.EffectivePageSize(),
		principal: principal,
	}, nil
}

// Name returns the API name the session was built for.
func (s *Session) Name() string { return s.api.Name }

// BaseURL returns the versioned base URL without a trailing slash.
func (s *Session) BaseURL() string { return s.baseURL }

// PageSize returns the page size requested from list endpoints.
func (s *Session) PageSize() int { return s.pageSize }

// Principal identifies the credentials in use without revealing them.
func (s *Session) Principal() string { return s.principal }

// Policy returns the session's retry policy.
func (s *Session) Policy() client.RetryPolicy { return s.client.Policy() }

// URL joins path onto the base URL.
func (s *Session) URL(path string) string { return s.baseURL + path }

// Send performs a single logical request.
func (s *Session) Send(ctx context.Context, spec client.RequestSpec) (*client.Response, error) {
	return s.client.Send(ctx, spec)
}

// Walk iterates every record of a paged list endpoint.
func (s *Session) Walk(ctx context.Context, spec client.RequestSpec) iter.Seq2[record.Record, error] {
	return pagination.Walk(ctx, s.client, spec)
}

// WalkChunks walks one paged request per chunk of keys.
func (s *Session) WalkChunks(ctx context.Context, keys []string, size int, build func(chunk []string) client.RequestSpec) (iter.Seq2[record.Record, error], error) {
	return pagination.WalkChunks(ctx, s.client, keys, size, build)
}
