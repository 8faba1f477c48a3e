package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mapi-bridge/internal/config"
	"github.com/brandon/mapi-bridge/internal/email"
	"github.com/brandon/mapi-bridge/internal/entity"
	"github.com/brandon/mapi-bridge/internal/metrics"
	"github.com/brandon/mapi-bridge/internal/sqlstore"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	db       *sqlstore.DB
	importer *email.Manager
}

func newApp() (*app, error) {
	// Logs go to stderr; stdout carries the stdio transport.
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	db, err := sqlstore.Open(cfg.StorePath, sqlstore.Options{
		MaxInlineSize: cfg.MaxInlineValueSize,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open property store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  m,
		db:       db,
	}
	if len(cfg.Accounts) > 0 {
		a.importer = email.NewManager(cfg, db, m, logger)
	}
	return a, nil
}

func (a *app) query() *entity.Query {
	return entity.NewQuery(a.db.Session(), entity.Options{Logger: a.logger, Metrics: a.metrics})
}

// serveMetrics exposes /metrics until ctx is done when an address is configured.
func (a *app) serveMetrics(ctx context.Context) error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	return metrics.Serve(ctx, a.cfg.MetricsAddr, a.registry, a.logger)
}

// Close releases the importer and the database
func (a *app) Close() error {
	if a.importer != nil {
		if err := a.importer.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close IMAP connections")
		}
	}
	return a.db.Close()
}
