package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/cardclient/pkg/auth"
	"github.com/Sternrassler/cardclient/pkg/cache"
	"github.com/Sternrassler/cardclient/pkg/cardapi"
	"github.com/Sternrassler/cardclient/pkg/config"
	"github.com/Sternrassler/cardclient/pkg/export"
	"github.com/Sternrassler/cardclient/pkg/identityapi"
	"github.com/Sternrassler/cardclient/pkg/logging"
	"github.com/Sternrassler/cardclient/pkg/metrics"
	"github.com/Sternrassler/cardclient/pkg/people"
	"github.com/Sternrassler/cardclient/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds what the commands share: configuration, logging and the
// clients built from them.
type app struct {
	cfg    *config.Config
	quiet  bool
	logger zerolog.Logger

	redis   *redis.Client
	tokens  *auth.TokenCache
	limiter *ratelimit.Tracker
	store   export.Store
	metrics *http.Server
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{
		cfg:    cfg,
		quiet:  opts.quiet,
		logger: logging.NewLogger("cli"),
	}
	a.logger.Debug().Interface("config", cfg.Logged()).Msg("Loaded configuration")

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	a.tokens = auth.NewTokenCache(nil, logging.NewLogger("auth"))
	a.limiter = ratelimit.NewTracker(a.redis, logging.NewLogger("ratelimit"))

	a.store = export.FileStore{}
	if cfg.Storage.Enabled() {
		client, err := export.NewObjectClient(cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = export.NewObjectStore(client, cfg.Storage.Bucket)
		a.logger.Info().Str("bucket", cfg.Storage.Bucket).Msg("Writing exports to object storage")
	}

	if cfg.Metrics.Addr != "" {
		a.metrics = serveMetrics(cfg.Metrics.Addr, a.logger)
	}
	return a, nil
}

// Close releases the Redis connection and stops the metrics server.
func (a *app) Close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.metrics.Shutdown(ctx)
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func (a *app) exportOptions() export.Options {
	return export.Options{
		Location: a.cfg.Output.File,
		Fields:   a.cfg.Output.Fields,
		Silent:   a.quiet,
		Logger:   logging.NewLogger("export"),
	}
}

func (a *app) session(ctx context.Context, cfg identityapi.Config, api identityapi.API) (*identityapi.Session, error) {
	s, err := identityapi.NewSession(ctx, cfg, api, identityapi.Options{
		Tokens:      a.tokens,
		RateLimiter: a.limiter,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s session: %w", api.Name, err)
	}
	return s, nil
}

func (a *app) cardClient(ctx context.Context) (*cardapi.Client, error) {
	s, err := a.session(ctx, a.cfg.Environment.API(cardapi.API.Name), cardapi.API)
	if err != nil {
		return nil, err
	}

	var opts []cardapi.Option
	if a.redis != nil {
		opts = append(opts, cardapi.WithDetailCache(cache.NewManager(a.redis), a.cfg.Redis.CardDetailTTL))
	}
	return cardapi.New(s, opts...), nil
}

// resolver builds a resolver with sessions for the people sources that
// queries use.
func (a *app) resolver(ctx context.Context, queries []people.Query) (*people.Resolver, error) {
	r := &people.Resolver{Logger: logging.NewLogger("people")}

	for _, q := range queries {
		var err error
		switch q.(type) {
		case people.ByLookupGroup, people.ByLQL:
			if r.Lookup == nil {
				var s *identityapi.Session
				if s, err = a.session(ctx, a.cfg.LookupAPI(), people.LookupAPI); err == nil {
					r.Lookup = people.NewLookupClient(s)
				}
			}
		case people.ByOrgID:
			if r.Legacy == nil {
				var s *identityapi.Session
				if s, err = a.session(ctx, a.cfg.Environment.API(cardapi.LegacyCardholderAPI.Name), cardapi.LegacyCardholderAPI); err == nil {
					r.Legacy = cardapi.NewLegacyCardholderClient(s)
				}
			}
		case people.ByAffiliation:
			if r.Students == nil {
				var s *identityapi.Session
				if s, err = a.session(ctx, a.cfg.Environment.API(people.StudentAPI.Name), people.StudentAPI); err == nil {
					r.Students = people.NewStudentClient(s)
				}
			}
		case people.ByHRInstitution:
			if r.HR == nil {
				var s *identityapi.Session
				if s, err = a.session(ctx, a.cfg.Environment.API(people.HRAPI.Name), people.HRAPI); err == nil {
					r.HR = people.NewHRClient(s)
				}
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// serveMetrics exposes Prometheus metrics and a health check on addr until
// the server is shut down.
func serveMetrics(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}
