package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"telemetry-ingest/internal/database"
	"telemetry-ingest/internal/models"
)

// DefaultChannel carries one message per batch
const DefaultChannel = "telemetry:points"

// Config holds the Redis connection
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Feed publishes every point batch to a Redis channel for dashboards
type Feed struct {
	client  publisher
	channel string
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, config Config) (*Feed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return newFeed(client, config.Channel), nil
}

func newFeed(client publisher, channel string) *Feed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Feed{client: client, channel: channel}
}

// Name implements database.Writer
func (f *Feed) Name() string { return "redis" }

// Write implements database.Writer. Subscribers that are not connected miss
// the batch; the accepted count is the batch size either way.
func (f *Feed) Write(ctx context.Context, b models.Batch[models.Point]) (database.Ack, error) {
	if b.Len() == 0 {
		return database.Ack{}, nil
	}

	msg, err := json.Marshal(models.PointBatch{BatchID: b.ID, Points: b.Items})
	if err != nil {
		return database.Ack{}, fmt.Errorf("failed to marshal batch: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, msg).Err(); err != nil {
		return database.Ack{}, fmt.Errorf("failed to publish to %s: %w", f.channel, err)
	}
	return database.Ack{Accepted: b.Len()}, nil
}

// Ping checks the connection
func (f *Feed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (f *Feed) Close() error {
	return f.client.Close()
}
