// Package identityapi builds authorised sessions against the identity APIs.
// Every API shares one set of settings that per-API sections override field
// by field.
package identityapi

import (
	"strings"
	"time"

	"github.com/Sternrassler/cardclient/pkg/client"
)

// Defaults applied when neither the shared nor the per-API settings say otherwise.
const (
	DefaultPageSize      = 500
	DefaultRetryAttempts = 10
	DefaultTimeout       = 10 * time.Second
	DefaultRetryWaitMin  = 1 * time.Second
	DefaultRetryWaitMax  = 3 * time.Second
)

// Config holds the settings of one identity API. Unset fields are nil or
// empty so that Merge can tell them apart from explicit zero values.
type Config struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	APIVersion string `mapstructure:"api_version" yaml:"api_version"`
	PageSize   int    `mapstructure:"page_size" yaml:"page_size"`

	RetryAttempts *int     `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	Timeout       *float64 `mapstructure:"timeout" yaml:"timeout"`
	RetryWaitMin  *float64 `mapstructure:"retry_wait_min" yaml:"retry_wait_min"`
	RetryWaitMax  *float64 `mapstructure:"retry_wait_max" yaml:"retry_wait_max"`

	ClientKey     string `mapstructure:"client_key" yaml:"client_key"`
	ClientSecret  string `mapstructure:"client_secret" yaml:"client_secret"`
	TokenEndpoint string `mapstructure:"token_endpoint" yaml:"token_endpoint"`
	BearerToken   string `mapstructure:"bearer_token" yaml:"bearer_token"`

	// Username and Password select HTTP basic auth, used by Lookup.
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// Merge returns shared overlaid with every field set in override.
func Merge(shared, override Config) Config {
	out := shared
	if override.BaseURL != "" {
		out.BaseURL = override.BaseURL
	}
	if override.APIVersion != "" {
		out.APIVersion = override.APIVersion
	}
	if override.PageSize != 0 {
		out.PageSize = override.PageSize
	}
	if override.RetryAttempts != nil {
		out.RetryAttempts = override.RetryAttempts
	}
	if override.Timeout != nil {
		out.Timeout = override.Timeout
	}
	if override.RetryWaitMin != nil {
		out.RetryWaitMin = override.RetryWaitMin
	}
	if override.RetryWaitMax != nil {
		out.RetryWaitMax = override.RetryWaitMax
	}
	if override.ClientKey != "" {
		out.ClientKey = override.ClientKey
	}
	if override.ClientSecret != "" {
		out.ClientSecret = override.ClientSecret
	}
	if override.TokenEndpoint != "" {
		out.TokenEndpoint = override.TokenEndpoint
	}
	if override.BearerToken != "" {
		out.BearerToken = override.BearerToken
	}
	if override.Username != "" {
		out.Username = override.Username
	}
	if override.Password != "" {
		out.Password = override.Password
	}
	return out
}

// RetryPolicy converts the retry settings, falling back to the defaults.
func (c Config) RetryPolicy() client.RetryPolicy {
	policy := client.RetryPolicy{
		MaxAttempts: DefaultRetryAttempts,
		WaitMin:     DefaultRetryWaitMin,
		WaitMax:     DefaultRetryWaitMax,
		Timeout:     DefaultTimeout,
	}
	if c.RetryAttempts != nil {
		policy.MaxAttempts = *c.RetryAttempts
	}
	if c.Timeout != nil {
		policy.Timeout = seconds(*c.Timeout)
	}
	if c.RetryWaitMin != nil {
		policy.WaitMin = seconds(*c.RetryWaitMin)
	}
	if c.RetryWaitMax != nil {
		policy.WaitMax = seconds(*c.RetryWaitMax)
	}
	return policy
}

// EffectivePageSize returns the configured page size or DefaultPageSize.
func (c Config) EffectivePageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return DefaultPageSize
}

// API describes where an identity API lives by default.
type API struct {
	// Name labels logs and cache keys (e.g. "card").
	Name string

	DefaultBaseURL string

	// DefaultVersion is appended to the base URL. An empty value marks an
	// unversioned API, which ignores api_version entirely.
	DefaultVersion string
}

// ResolveBaseURL returns the versioned base URL for api under c, without a
// trailing slash.
func (c Config) ResolveBaseURL(api API) string {
	base := c.BaseURL
	if base == "" {
		base = api.DefaultBaseURL
	}
	base = strings.TrimRight(base, "/")

	if api.DefaultVersion == "" {
		return base
	}
	version := c.APIVersion
	if version == "" {
		version = api.DefaultVersion
	}
	return base + "/" + version
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Int returns a pointer to v, for building configs in code.
func Int(v int) *int { return &v }

// Seconds returns a pointer to v, for building configs in code.
func Seconds(v float64) *float64 { return &v }
