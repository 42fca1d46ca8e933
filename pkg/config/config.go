// Package config loads the card client configuration from YAML files, an
// optional .env file and CARDCLIENT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/Sternrassler/cardclient/pkg/export"
	"github.com/Sternrassler/cardclient/pkg/identityapi"
	"github.com/Sternrassler/cardclient/pkg/people"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CARDCLIENT_REDIS_ADDR.
const EnvPrefix = "CARDCLIENT"

// DefaultPath is read when no configuration file is given.
const DefaultPath = "config.yml"

// Config holds all configuration for the card client.
type Config struct {
	// Environment holds the identity API settings.
	Environment Environment `mapstructure:"environment"`

	// LookupCredentials authenticate against the Lookup directory.
	LookupCredentials LookupCredentials `mapstructure:"lookup_credentials"`

	// Queries select the people whose cards are exported.
	Queries []people.QueryConfig `mapstructure:"queries"`

	// Filter restricts exported cards by field value. Params is an older
	// name for the same section.
	Filter map[string]any `mapstructure:"filter"`
	Params map[string]any `mapstructure:"params"`

	Output  Output               `mapstructure:"output"`
	Redis   Redis                `mapstructure:"redis"`
	Storage export.StorageConfig `mapstructure:"storage"`
	Metrics Metrics              `mapstructure:"metrics"`
}

// Environment holds settings shared by every identity API and per-API
// sections that override them field by field.
type Environment struct {
	identityapi.Config `mapstructure:",squash"`

	CardAPI             identityapi.Config `mapstructure:"card_api"`
	LegacyCardholderAPI identityapi.Config `mapstructure:"legacy_cardholder_api"`
	HRAPI               identityapi.Config `mapstructure:"university_human_resources_api"`
	StudentAPI          identityapi.Config `mapstructure:"university_student_api"`
	LookupAPI           identityapi.Config `mapstructure:"lookup_api"`
}

// LookupCredentials are the basic auth credentials of the Lookup directory.
type LookupCredentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Output configures where exports are written and which columns they carry.
type Output struct {
	File        string   `mapstructure:"file" default:"export.csv"`
	Fields      []string `mapstructure:"fields"`
	Deduplicate bool     `mapstructure:"deduplicate"`
}

// Redis configures the shared rate-limit state and the card detail cache.
// An empty Addr disables both.
type Redis struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db" default:"0"`
	CardDetailTTL time.Duration `mapstructure:"card_detail_ttl" default:"1h"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// Load reads paths in order, later files overriding earlier ones, then
// applies a .env file from the working directory and the environment.
func Load(paths ...string) (*Config, error) {
	// Ignore error if file doesn't exist (e.g. production)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	bindValues(v, reflect.TypeOf(Config{}), "")

	// Map environment variables to nested keys (e.g. CARDCLIENT_REDIS_ADDR -> redis.addr)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, path := range paths {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// bindValues walks the struct type and registers every scalar field with
// Viper so that AutomaticEnv can override it. Fields with a default tag get
// that default.
func bindValues(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")

		if opts == "squash" {
			bindValues(v, field.Type, prefix)
			continue
		}
		if name == "" {
			continue
		}

		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := field.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		switch {
		case ft.Kind() == reflect.Struct:
			bindValues(v, ft, key)
			continue
		case ft.Kind() == reflect.Map:
			continue
		case ft.Kind() == reflect.Slice && ft.Elem().Kind() != reflect.String:
			continue
		}

		_ = v.BindEnv(key)
		if def, ok := field.Tag.Lookup("default"); ok {
			v.SetDefault(key, def)
		}
	}
}

// API returns the settings of the named identity API: the shared settings
// overlaid with the API's own section. Lookup only uses its own section and
// the Lookup credentials, since it does not accept the API gateway tokens.
func (e Environment) API(name string) identityapi.Config {
	switch name {
	case "card":
		return identityapi.Merge(e.Config, e.CardAPI)
	case "legacy-cardholder":
		return identityapi.Merge(e.Config, e.LegacyCardholderAPI)
	case "university-human-resources":
		return identityapi.Merge(e.Config, e.HRAPI)
	case "university-student":
		return identityapi.Merge(e.Config, e.StudentAPI)
	case "lookup":
		return e.LookupAPI
	}
	return e.Config
}

// LookupAPI returns the Lookup settings with the configured credentials.
func (c *Config) LookupAPI() identityapi.Config {
	cfg := c.Environment.API("lookup")
	if c.LookupCredentials.Username != "" {
		cfg.Username = c.LookupCredentials.Username
		cfg.Password = c.LookupCredentials.Password
	}
	return cfg
}

// CardFilter returns the card filter, falling back to params.
func (c *Config) CardFilter() map[string]any {
	if len(c.Filter) > 0 {
		return c.Filter
	}
	return c.Params
}

// ParseQueries turns the configured queries into people queries.
func (c *Config) ParseQueries() ([]people.Query, error) {
	queries := make([]people.Query, 0, len(c.Queries))
	var errs []error
	for i, qc := range c.Queries {
		q, err := people.ParseQuery(qc)
		if err != nil {
			errs = append(errs, fmt.Errorf("queries[%d]: %w", i, err))
			continue
		}
		queries = append(queries, q)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return queries, nil
}

// Logged returns the configuration with secrets masked, for debug logging.
func (c *Config) Logged() Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = "****"
		}
	}
	for _, api := range []*identityapi.Config{
		&out.Environment.Config, &out.Environment.CardAPI, &out.Environment.LegacyCardholderAPI,
		&out.Environment.HRAPI, &out.Environment.StudentAPI, &out.Environment.LookupAPI,
	} {
		mask(&api.ClientSecret)
		mask(&api.BearerToken)
		mask(&api.Password)
	}
	mask(&out.LookupCredentials.Password)
	mask(&out.Redis.Password)
	mask(&out.Storage.SecretKey)
	return out
}
