package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/catermatch-backend/api/routes"
	"github.com/angelmondragon/catermatch-backend/internal/caterers"
	"github.com/angelmondragon/catermatch-backend/internal/evals"
	"github.com/angelmondragon/catermatch-backend/internal/eventrequests"
	"github.com/angelmondragon/catermatch-backend/internal/leads"
	"github.com/angelmondragon/catermatch-backend/internal/locations"
	"github.com/angelmondragon/catermatch-backend/internal/matches"
	"github.com/angelmondragon/catermatch-backend/internal/matching"
	"github.com/angelmondragon/catermatch-backend/internal/ranking"
	"github.com/angelmondragon/catermatch-backend/internal/roundrobin"
	"github.com/angelmondragon/catermatch-backend/internal/scoring"
	bq "github.com/angelmondragon/catermatch-backend/pkg/bigquery"
	"github.com/angelmondragon/catermatch-backend/pkg/config"
	"github.com/angelmondragon/catermatch-backend/pkg/db"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/maps"
	"github.com/angelmondragon/catermatch-backend/pkg/metrics"
	"github.com/angelmondragon/catermatch-backend/pkg/policy"
	"github.com/angelmondragon/catermatch-backend/pkg/pubsub"
	"github.com/angelmondragon/catermatch-backend/pkg/redis"
)

const (
	rankingAttempts  = 2
	evalWriteTimeout = 5 * time.Second
)

type application struct {
	services routes.Services
	probes   routes.Probes
	aiRerank bool
	closers  map[string]func() error
}

func (a *application) close(logg *logger.Logger) {
	for name, fn := range a.closers {
		closeLogged(logg, name, fn)
	}
}

func buildServices(
	ctx context.Context,
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	reg prometheus.Registerer,
) (*application, error) {
	app := &application{
		probes:  routes.Probes{"db": dbClient, "redis": redisClient},
		closers: map[string]func() error{},
	}

	pol, err := policy.Load(cfg.Policy.Path)
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}
	logg.Info(logg.WithField(ctx, "policy_version", pol.Version), "policy loaded")

	conn := dbClient.DB()
	requestRepo := eventrequests.NewRepository(conn)
	catererRepo := caterers.NewRepository(conn)
	matchRepo := matches.NewRepository(conn)
	rotationRepo := roundrobin.NewRepository(conn)
	locationRepo := locations.NewRepository(conn)
	evalRepo := evals.NewRepository(conn)

	matchingMetrics := metrics.NewMatchingMetrics(reg)

	var recorder evals.Recorder = evals.NewDBRecorder(evalRepo)
	if cfg.FeatureFlags.EvalsBigQuery {
		bqClient, err := bq.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrapping bigquery: %w", err)
		}
		app.closers["bigquery"] = bqClient.Close
		app.probes["bigquery"] = bqClient
		warehouse, err := evals.NewBigQueryRecorder(bqClient)
		if err != nil {
			return nil, err
		}
		recorder = evals.Fanout{recorder, warehouse}
	}
	evalSink := evals.NewBestEffort(recorder, logg, evalWriteTimeout)

	var publisher leads.Publisher = leads.NoopPublisher{}
	if cfg.FeatureFlags.LeadEvents {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrapping pubsub: %w", err)
		}
		app.closers["pubsub"] = psClient.Close
		app.probes["pubsub"] = psClient
		publisher, err = leads.NewPubSubPublisher(psClient.LeadsPublisher())
		if err != nil {
			return nil, err
		}
	}

	var generator ranking.Generator = ranking.DisabledGenerator{}
	if cfg.FeatureFlags.AIRerank && cfg.Gemini.APIKey != "" {
		gemini, err := ranking.NewGeminiGenerator(ctx, cfg.Gemini)
		if err != nil {
			return nil, fmt.Errorf("bootstrapping gemini: %w", err)
		}
		generator = gemini
		app.aiRerank = true
	} else if cfg.FeatureFlags.AIRerank {
		logg.Warn(ctx, "ai rerank enabled without a gemini api key; persisting base scores")
	}

	ranker, err := ranking.NewService(ranking.ServiceParams{
		Generator:         generator,
		Persister:         matchRepo,
		Logger:            logg,
		Timeout:           cfg.Gemini.Timeout,
		MaxAttempts:       rankingAttempts,
		LowMatchThreshold: pol.LowMatchThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ranking service: %w", err)
	}

	rotation, err := roundrobin.NewService(roundrobin.ServiceParams{
		Repo:     rotationRepo,
		Policy:   pol,
		Observer: matchingMetrics,
		Logger:   logg,
		MaxLimit: cfg.RoundRobin.MaxLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("creating round robin service: %w", err)
	}

	evalService, err := evals.NewService(evals.ServiceParams{Repo: evalRepo, Logger: logg})
	if err != nil {
		return nil, fmt.Errorf("creating eval service: %w", err)
	}

	matchService, err := matches.NewService(matches.ServiceParams{
		Repo:     matchRepo,
		Outcomes: evalService,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating match service: %w", err)
	}

	matcher, err := matching.NewService(matching.ServiceParams{
		Requests:          requestRepo,
		Caterers:          catererRepo,
		Matches:           matchRepo,
		Ranker:            ranker,
		Distributor:       rotation,
		Scorer:            scoring.NewScorer(pol.Scoring),
		Evals:             evalSink,
		Leads:             publisher,
		Observer:          matchingMetrics,
		Logger:            logg,
		AIRerank:          app.aiRerank,
		ShortlistSize:     cfg.Matching.ShortlistSize,
		CandidateLimit:    cfg.Matching.CandidateLimit,
		DefaultLimit:      cfg.RoundRobin.DefaultLimit,
		LowMatchThreshold: pol.LowMatchThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("creating matching service: %w", err)
	}

	locationCache, err := locations.NewRedisCache(redisClient, cfg.Locations.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("creating location cache: %w", err)
	}
	var geocoder locations.Geocoder
	if cfg.FeatureFlags.GeocodeLookups && cfg.GoogleMaps.APIKey != "" {
		mapsClient, err := maps.NewClient(cfg.GoogleMaps.APIKey)
		if err != nil {
			return nil, fmt.Errorf("creating maps client: %w", err)
		}
		geocoder = mapsClient
	}
	locationService, err := locations.NewService(locations.ServiceParams{
		Repo:         locationRepo,
		Cache:        locationCache,
		Geocoder:     geocoder,
		Limiter:      redisClient,
		LookupLimit:  cfg.Locations.PlacesPerMinute,
		LookupWindow: time.Minute,
		RegionCode:   cfg.Locations.RegionCode,
		Evals:        evalSink,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating location service: %w", err)
	}

	app.services = routes.Services{
		Matching:   matcher,
		Matches:    matchService,
		RoundRobin: rotation,
		Locations:  locationService,
		Evals:      evalService,
	}
	return app, nil
}
