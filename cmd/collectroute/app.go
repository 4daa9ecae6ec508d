package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"collectroute/internal/config"
	"collectroute/internal/feed"
	"collectroute/internal/store"
)

// openStore connects the configured backend and applies migrations for SQL stores.
func openStore(ctx context.Context, c config.Config) (store.Store, error) {
	var (
		s   *store.SQL
		err error
	)
	switch c.DB.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "postgres":
		s, err = store.NewPostgres(c.DB.URL)
	case "sqlite":
		s, err = store.NewSQLite(c.DB.URL)
	default:
		return nil, fmt.Errorf("unknown db driver %q", c.DB.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.DB.Driver, err)
	}
	if c.DB.Migrate {
		v, err := s.Migrate(ctx)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logrus.WithFields(logrus.Fields{"driver": c.DB.Driver, "schema_version": v}).Info("schema ready")
	}
	return s, nil
}

// openFeed returns the Redis broker when configured, else the in-process one. The
// returned close func is never nil.
func openFeed(c config.Config) (feed.Broker, func() error) {
	if c.Redis.URL == "" {
		return feed.NewMemory(), func() error { return nil }
	}
	rb, err := feed.NewRedis(c.Redis.URL)
	if err != nil {
		logrus.WithError(err).Warn("redis unavailable, using in-process change feed")
		return feed.NewMemory(), func() error { return nil }
	}
	return rb, rb.Close
}
