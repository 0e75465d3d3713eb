package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"peerreads/pkg/apiclient"
	"peerreads/pkg/config"
	"peerreads/pkg/database"
	"peerreads/pkg/lending"
	"peerreads/pkg/lifecycle"
	"peerreads/pkg/logger"
	"peerreads/pkg/session"
)

// app holds everything a command needs. It is built once per invocation
// after flags are parsed.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	client   *apiclient.Client
	svc      *lending.Service
	closers  []func() error
}

type globalFlags struct {
	apiURL        string
	sessionDriver string
	sessionPath   string
	logLevel      string
}

func (f globalFlags) apply(cfg *config.Config) {
	if f.apiURL != "" {
		cfg.APIURL = f.apiURL
	}
	if f.sessionDriver != "" {
		cfg.Session.Driver = f.sessionDriver
	}
	if f.sessionPath != "" {
		cfg.Session.Path = f.sessionPath
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		log:      logger.Setup(cfg.Log.Level, cfg.Log.Format, logOut),
		registry: prometheus.NewRegistry(),
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.client = apiclient.New(cfg.APIURL, cfg.HTTPTimeout,
		apiclient.WithTokenSource(lending.TokenSource(store)),
		apiclient.WithBreaker(apiclient.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, cfg.Breaker.Window)),
		apiclient.WithMetrics(apiclient.NewMetrics(a.registry)),
		apiclient.WithLogger(a.log),
	)
	a.svc = lending.NewService(a.client, store, lifecycle.NewEngine(), a.log)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (session.Store, error) {
	var kv session.KV
	switch a.cfg.Session.Driver {
	case config.SessionDriverMemory:
		kv = session.NewMemoryKV()
	case config.SessionDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		redisKV := session.NewRedisKV(client)
		if err := redisKV.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", a.cfg.Redis.Addr, err)
		}
		kv = redisKV
	default:
		db, err := database.Open(a.cfg.Database(), &session.Entry{})
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}
		a.closers = append(a.closers, func() error { return database.Close(db) })
		kv = session.NewGormKV(db)
	}
	a.log.Debug().Str("driver", a.cfg.Session.Driver).Msg("session store ready")
	return session.NewStore(kv, a.log), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

type appKey struct{}

func appFrom(cmd *cobra.Command) *app {
	return cmd.Context().Value(appKey{}).(*app)
}
