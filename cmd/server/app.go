package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	badgercache "kybmon/internal/adapters/badger"
	"kybmon/internal/adapters/memory"
	pg "kybmon/internal/adapters/postgres"
	redisstore "kybmon/internal/adapters/redis"
	"kybmon/internal/config"
	"kybmon/internal/connectors"
	"kybmon/internal/connectors/gateway"
	"kybmon/internal/connectors/validate"
	"kybmon/internal/domain"
	"kybmon/internal/observability"
	"kybmon/internal/ports"
	"kybmon/internal/services/alerts"
	"kybmon/internal/services/retention"
	"kybmon/internal/workers/cycle"
)

// app holds the wired process.
type app struct {
	cfg       config.Config
	log       *logrus.Logger
	registry  *prometheus.Registry
	db        *pg.DB
	kv        *kvStores
	adapters  map[domain.CheckType]*connectors.Adapter
	runner    *cycle.Runner
	alerts    *alerts.Service
	retention *retention.Service
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := cfg.NewLogger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db, err := connectDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	kv, err := openKV(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	adapters, err := buildAdapters(cfg, kv, metrics, log)
	if err != nil {
		kv.Close()
		db.Close()
		return nil, err
	}
	sources := make(map[domain.CheckType]cycle.SourceAdapter, len(adapters))
	for ct, ad := range adapters {
		sources[ct] = ad
	}

	return &app{
		cfg:       cfg,
		log:       log,
		registry:  registry,
		db:        db,
		kv:        kv,
		adapters:  adapters,
		runner:    cycle.NewRunner(db, sources, cycle.WithMetrics(metrics), cycle.WithLogger(log)),
		alerts:    alerts.New(db, metrics, log),
		retention: retention.New(db, log),
	}, nil
}

func (a *app) Close() {
	a.kv.Close()
	a.db.Close()
}

func (a *app) retryPolicy() cycle.RetryPolicy {
	return cycle.RetryPolicy{
		MaxAttempts: a.cfg.Workers.MaxAttempts,
		Base:        a.cfg.Workers.RetryBase,
		MaxDelay:    a.cfg.Workers.RetryMaxDelay,
	}
}

func connectDB(ctx context.Context, cfg config.Config) (*pg.DB, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url (KYBMON_DATABASE_URL) is required")
	}
	db, err := pg.Connect(ctx, pg.Config{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns, JobLease: cfg.Database.JobLease})
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	return db, nil
}

// kvStores are the rate-limit counter and response cache backends.
type kvStores struct {
	counters ports.CounterStore
	cache    ports.CacheStore
	closers  []func() error
}

func (k *kvStores) Close() {
	for _, c := range k.closers {
		_ = c()
	}
}

func openKV(cfg config.Config) (*kvStores, error) {
	k := &kvStores{}
	var rdb *redisstore.Store
	if cfg.Redis.Addr != "" {
		rdb = redisstore.New(redisstore.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(context.Background()); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		k.counters = rdb
		k.closers = append(k.closers, rdb.Close)
	} else {
		k.counters = memory.NewCounter()
	}

	switch cfg.Cache.Backend {
	case "redis":
		if rdb == nil {
			k.Close()
			return nil, errors.New("cache.backend redis requires redis.addr")
		}
		k.cache = rdb
	case "badger":
		bc, err := badgercache.Open(badgercache.Config{Path: cfg.Cache.BadgerPath, GCInterval: cfg.Cache.GCInterval})
		if err != nil {
			k.Close()
			return nil, fmt.Errorf("open badger cache: %w", err)
		}
		k.cache = bc
		k.closers = append(k.closers, bc.Close)
	default:
		k.cache = memory.NewCache()
	}
	return k, nil
}

var checkTypes = []domain.CheckType{
	domain.CheckVAT,
	domain.CheckLEI,
	domain.CheckSanctionsEU,
	domain.CheckSanctionsOFAC,
	domain.CheckSanctionsUK,
	domain.CheckInsolvencyDE,
}

// buildAdapters wraps one gateway connector per check type in the resilient
// adapter. All adapters share the limiter and cache backends.
func buildAdapters(cfg config.Config, kv *kvStores, metrics *observability.Metrics, log logrus.FieldLogger) (map[domain.CheckType]*connectors.Adapter, error) {
	client := &http.Client{Timeout: cfg.Gateway.Timeout}
	limiter := connectors.NewRateLimiter(kv.counters)
	out := make(map[domain.CheckType]*connectors.Adapter, len(checkTypes))
	for _, ct := range checkTypes {
		source := ct.Source()
		opts := []gateway.Option{gateway.WithHTTPClient(client)}
		switch {
		case ct == domain.CheckVAT:
			opts = append(opts, gateway.WithValidator(validate.VATNumber))
		case ct == domain.CheckLEI:
			opts = append(opts, gateway.WithValidator(validate.LEI))
		case ct.IsSanctions():
			opts = append(opts, gateway.WithMatchScorer(gateway.TokenScorer{}, cfg.Sanctions.MinMatchScore))
		}
		conn, err := gateway.New(source, cfg.SourceURL(source), opts...)
		if err != nil {
			return nil, err
		}
		ad, err := connectors.NewAdapter(conn, cfg.SourcePolicy(source),
			connectors.WithCache(kv.cache),
			connectors.WithLimiter(limiter),
			connectors.WithMetrics(metrics),
			connectors.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		out[ct] = ad
	}
	return out, nil
}
