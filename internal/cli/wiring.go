package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/cervicel-cytology-server/internal/api"
	"github.com/cervicel-cytology-server/internal/archive"
	"github.com/cervicel-cytology-server/internal/cache"
	"github.com/cervicel-cytology-server/internal/database"
	"github.com/cervicel-cytology-server/internal/domain"
	"github.com/cervicel-cytology-server/internal/repository"
	"github.com/cervicel-cytology-server/internal/service"
	"github.com/cervicel-cytology-server/pkg/inference"
)

// components holds everything built from configuration and how to release it.
type components struct {
	store   domain.ReportStore
	reports *service.ReportService
	checks  []api.ServerOption
	closers []func() error
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// openStore opens the configured report store: a local SQLite archive or PostgreSQL.
func (a *app) openStore(ctx context.Context, c *components) error {
	dbConfig := a.config.Database

	switch dbConfig.Driver {
	case "postgres":
		pgConfig := database.ConfigFromDomain(dbConfig)
		if err := database.Migrate(pgConfig.URL(), dbConfig.MigrationsPath, a.logger); err != nil {
			return fmt.Errorf("migrating report schema: %w", err)
		}
		db, err := database.NewConnection(ctx, pgConfig, a.logger)
		if err != nil {
			return err
		}
		c.store = repository.NewReportRepository(db.Pool, a.logger)
		c.closers = append(c.closers, func() error { db.Close(); return nil })
		c.checks = append(c.checks, api.WithHealthCheck("database", db.Health))
	default:
		store, err := archive.NewSQLiteStore(dbConfig.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening report archive: %w", err)
		}
		c.store = store
		c.closers = append(c.closers, store.Close)
		c.checks = append(c.checks, api.WithHealthCheck("database", func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		}))
	}
	return nil
}

// buildClassifier creates the inference client behind the classification cache.
func (a *app) buildClassifier(ctx context.Context, c *components) (domain.CellClassifier, error) {
	client := inference.NewClient(inference.ConfigFromDomain(a.config.Classifier), a.logger)
	c.checks = append(c.checks, api.WithHealthCheck("classifier", func(context.Context) error {
		if client.State() == gobreaker.StateOpen {
			return inference.ErrServiceUnavailable
		}
		return nil
	}))

	var redisStore *cache.RedisStore
	if a.config.Cache.RedisURL != "" {
		store, err := cache.NewRedisStore(ctx, a.config.Cache)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis cache: %w", err)
		}
		redisStore = store
		c.closers = append(c.closers, store.Close)
	}

	return cache.NewCachedClassifier(client, a.config.Cache, redisStore, a.logger), nil
}

// build assembles the report service. withClassifier is false for commands that
// only interpret counts or read the archive.
func (a *app) build(ctx context.Context, withStore, withClassifier bool) (*components, error) {
	c := &components{}

	if withStore {
		if err := a.openStore(ctx, c); err != nil {
			return nil, err
		}
	}

	var aggregator *service.CountAggregator
	if withClassifier {
		classifier, err := a.buildClassifier(ctx, c)
		if err != nil {
			c.Close()
			return nil, err
		}
		aggregator = service.NewCountAggregator(classifier, a.logger, a.config.Classifier.MaxConcurrency)
	}

	engine := service.NewCytologyRuleEngine(a.logger)
	c.reports = service.NewReportService(engine, aggregator, c.store, a.logger, service.ReportServiceConfig{
		MaxImages:           a.config.API.MaxImages,
		AllowPartialResults: a.config.API.AllowPartialResults,
	})
	return c, nil
}
