// Package auth obtains OAuth2 client-credentials access tokens for the
// identity APIs and memoizes them for the lifetime of a TokenCache.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/cardclient/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	tokenExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardclient_token_exchanges_total",
		Help: "Total token exchanges by result",
	}, []string{"result"})

	tokenCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardclient_token_cache_hits_total",
		Help: "Total token lookups served from the cache",
	})
)

// Credentials identify an API client at a token endpoint.
type Credentials struct {
	ClientID      string
	ClientSecret  string
	TokenEndpoint string
}

// AuthenticationError is returned when no token could be obtained.
type AuthenticationError struct {
	TokenEndpoint string
	StatusCode    int
	Message       string
	Err           error
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	msg := fmt.Sprintf("authentication against %s failed", e.TokenEndpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// DefaultTokenEndpoint derives the token endpoint served next to an API base URL.
func DefaultTokenEndpoint(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", client.NewConfigurationError("base_url", "%q is not an absolute URL", baseURL)
	}
	return u.Scheme + "://" + u.Host + "/oauth2/v1/token", nil
}

// TokenCache exchanges client credentials for access tokens. Tokens are
// cached per (credentials, retry policy) and never refreshed. Failed
// exchanges are not cached.
type TokenCache struct {
	httpClient *http.Client
	logger     zerolog.Logger

	mu     sync.Mutex
	tokens map[string]string
	group  singleflight.Group
}

// NewTokenCache creates an empty cache. A nil httpClient uses http.DefaultClient.
func NewTokenCache(httpClient *http.Client, logger zerolog.Logger) *TokenCache {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenCache{
		httpClient: httpClient,
		logger:     logger.With().Str("component", "token-cache").Logger(),
		tokens:     make(map[string]string),
	}
}

// Token returns an access token for creds, exchanging credentials on the
// first call. Concurrent callers with the same arguments share one exchange.
func (c *TokenCache) Token(ctx context.Context, creds Credentials, policy client.RetryPolicy) (string, error) {
	key := cacheKey(creds, policy)

	c.mu.Lock()
	token, ok := c.tokens[key]
	c.mu.Unlock()
	if ok {
		tokenCacheHitsTotal.Inc()
		return token, nil
	}

	// The shared exchange is detached from the first caller's cancellation;
	// each caller stops waiting when its own context ends.
	exchangeCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		token, ok := c.tokens[key]
		c.mu.Unlock()
		if ok {
			return token, nil
		}

		token, err := c.exchange(exchangeCtx, creds, policy)
		if err != nil {
			tokenExchangesTotal.WithLabelValues("failure").Inc()
			return "", err
		}
		tokenExchangesTotal.WithLabelValues("success").Inc()

		c.mu.Lock()
		c.tokens[key] = token
		c.mu.Unlock()
		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", &AuthenticationError{TokenEndpoint: creds.TokenEndpoint, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Error       *struct {
		Description string `json:"description"`
	} `json:"error"`
}

func (c *TokenCache) exchange(ctx context.Context, creds Credentials, policy client.RetryPolicy) (string, error) {
	var token string
	err := client.Retry(ctx, policy, func(attempt int) error {
		t, err := c.exchangeOnce(ctx, creds, policy.Timeout, attempt)
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		if authErr, ok := err.(*AuthenticationError); ok {
			return "", authErr
		}
		return "", &AuthenticationError{TokenEndpoint: creds.TokenEndpoint, Err: err}
	}
	return token, nil
}

func (c *TokenCache) exchangeOnce(ctx context.Context, creds Credentials, timeout time.Duration, attempt int) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", client.Permanent(&AuthenticationError{TokenEndpoint: creds.TokenEndpoint, Err: err})
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)

	c.logger.Debug().
		Str("endpoint", creds.TokenEndpoint).
		Int("attempt", attempt).
		Msg("Requesting access token")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Token request failed")
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}

	var body tokenResponse
	// A non-JSON body is treated like a response without a token.
	_ = json.Unmarshal(data, &body)
	if body.AccessToken != "" {
		return body.AccessToken, nil
	}

	authErr := &AuthenticationError{
		TokenEndpoint: creds.TokenEndpoint,
		StatusCode:    resp.StatusCode,
		Message:       "no access token in response",
	}
	if body.Error != nil && body.Error.Description != "" {
		authErr.Message = body.Error.Description
	}

	c.logger.Warn().
		Int("status", resp.StatusCode).
		Int("attempt", attempt).
		Str("description", authErr.Message).
		Msg("Token endpoint returned no access token")

	if resp.StatusCode < http.StatusInternalServerError {
		return "", client.Permanent(authErr)
	}
	return "", authErr
}

// cacheKey hashes the full argument tuple so secrets are not kept as map keys.
func cacheKey(creds Credentials, policy client.RetryPolicy) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		creds.ClientID,
		creds.ClientSecret,
		creds.TokenEndpoint,
		policy.Key(),
	}, "\x00")))
	return hex.EncodeToString(sum[:])
}
