// Package common builds the shared dependencies every command needs.
package common

import (
	"fmt"

	"github.com/buremba/owletto-crawlers/internal/cache"
	"github.com/buremba/owletto-crawlers/internal/collector"
	"github.com/buremba/owletto-crawlers/internal/config"
	"github.com/buremba/owletto-crawlers/internal/database"
	"github.com/buremba/owletto-crawlers/internal/logger"
	"github.com/buremba/owletto-crawlers/internal/metrics"
	"github.com/buremba/owletto-crawlers/internal/storage"
)

// Deps carries the dependencies shared by all commands.
type Deps struct {
	Config  *config.Config
	Logger  logger.Interface
	Metrics *metrics.RunMetrics
}

// NewDeps loads configuration and builds the logger.
func NewDeps(cfgFile string, debug bool) (*Deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logCfg := &logger.Config{
		Level:       logger.Level(cfg.Log.Level),
		Development: cfg.Log.Development,
		Encoding:    cfg.Log.Encoding,
	}
	if debug {
		logCfg.Level = "debug"
		logCfg.Development = true
	}

	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return &Deps{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.NewRunMetrics(),
	}, nil
}

// Runtime holds the storage-backed pieces a collecting command wires up.
type Runtime struct {
	Runner   *collector.Runner
	Registry *collector.Registry
	Close    func()
}

// NewRuntime connects PostgreSQL (required), Redis and Elasticsearch (both
// optional) and builds the run executor plus the source registry.
func (d *Deps) NewRuntime() (*Runtime, error) {
	db, err := database.NewPostgresConnection(database.Config{
		Host:     d.Config.Database.Host,
		Port:     d.Config.Database.Port,
		User:     d.Config.Database.User,
		Password: d.Config.Database.Password,
		DBName:   d.Config.Database.DBName,
		SSLMode:  d.Config.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	closers := []func(){func() { _ = db.Close() }}

	checkpoints := database.NewCheckpointRepository(db)
	contents := database.NewContentRepository(db)

	sinks := collector.MultiSink{contents}
	if d.Config.Elasticsearch.Enabled {
		esClient, esErr := storage.NewClient(storage.Config{
			Addresses: d.Config.Elasticsearch.Addresses,
			Username:  d.Config.Elasticsearch.Username,
			Password:  d.Config.Elasticsearch.Password,
		}, d.Logger)
		if esErr != nil {
			closeAll(closers)
			return nil, fmt.Errorf("connect elasticsearch: %w", esErr)
		}
		sinks = append(sinks, storage.NewContentSink(
			esClient, d.Config.Elasticsearch.IndexPrefix, d.Logger,
		))
	}

	var advisor collector.IntervalAdvisor
	if d.Config.Redis.Enabled {
		redisClient, redisErr := cache.NewRedisClient(cache.RedisConfig{
			Addr:     d.Config.Redis.Addr,
			Password: d.Config.Redis.Password,
			DB:       d.Config.Redis.DB,
		})
		if redisErr != nil {
			closeAll(closers)
			return nil, fmt.Errorf("connect redis: %w", redisErr)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		advisor = cache.NewPacer(redisClient, d.Logger)
	}

	registry := collector.NewRegistry()
	sources, err := d.Config.BuildSources()
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("build sources: %w", err)
	}
	for _, src := range sources {
		if addErr := registry.Add(src); addErr != nil {
			closeAll(closers)
			return nil, fmt.Errorf("register source: %w", addErr)
		}
	}

	runner := collector.NewRunner(
		checkpoints, sinks, advisor, d.Config.SecretBag(), d.Metrics, d.Logger,
	)

	return &Runtime{
		Runner:   runner,
		Registry: registry,
		Close:    func() { closeAll(closers) },
	}, nil
}

func closeAll(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
