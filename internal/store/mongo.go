// Package store provides the MongoDB-backed entitlement record store. The
// lifecycle engine treats the document store as the single source of truth;
// no in-process caching is layered on top, since staleness would directly
// cause double- or missed-application bugs in the sweep.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"learnloop/internal/config"
)

// connectRetries is how many times Connect is attempted before giving up.
// Transient DNS or replica-set election failures at startup resolve within
// a few seconds.
const connectRetries = 3

// connectRetryInterval is the wait between connection attempts.
const connectRetryInterval = 5 * time.Second

// Connect creates a Mongo client from the given configuration and verifies
// connectivity with a ping. It retries a few times before failing so the
// service survives a store that is still electing a primary at boot.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(cfg.URL.Unmask()).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime).
		SetRetryWrites(cfg.RetryWrites)

	var lastErr error
	for attempt := 0; attempt < connectRetries; attempt++ {
		client, err := mongo.Connect(opts)
		if err == nil {
			if err = client.Ping(ctx, readpref.Primary()); err == nil {
				return client.Database(cfg.Database), nil
			}
			_ = client.Disconnect(ctx)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryInterval):
		}
	}

	return nil, fmt.Errorf("connecting to document store after %d attempts: %w", connectRetries, lastErr)
}

// Ping verifies store connectivity, used by the health endpoint.
func Ping(ctx context.Context, db *mongo.Database) error {
	if err := db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("document store ping: %w", err)
	}
	return nil
}

// PingProbe adapts Ping to the health endpoint's probe interface.
type PingProbe struct {
	DB *mongo.Database
}

func (p PingProbe) Name() string { return "mongodb" }

func (p PingProbe) Check(ctx context.Context) error {
	return Ping(ctx, p.DB)
}
