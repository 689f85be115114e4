package live

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"telemetry-ingest/internal/models"
)

type fakePublisher struct {
	channel string
	message []byte
	err     error
	closed  bool
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	p.channel = channel
	p.message, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func (p *fakePublisher) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetErr(p.err)
	return cmd
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestFeedPublishesBatch(t *testing.T) {
	pub := &fakePublisher{}
	feed := newFeed(pub, "")

	b := models.Batch[models.Point]{
		ID:    "b-1",
		Items: []models.Point{{Name: "Latitudes", Class: "Latitudes", Source: "GPS", Value: 48.1173}},
	}
	ack, err := feed.Write(context.Background(), b)
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if ack.Accepted != 1 {
		t.Fatalf("Accepted = %d, want 1", ack.Accepted)
	}
	if pub.channel != DefaultChannel {
		t.Fatalf("channel = %q, want %q", pub.channel, DefaultChannel)
	}

	var got models.PointBatch
	if err := json.Unmarshal(pub.message, &got); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if got.BatchID != "b-1" || len(got.Points) != 1 || got.Points[0].Source != "GPS" {
		t.Fatalf("unexpected message: %+v", got)
	}

	if err := feed.Close(); err != nil || !pub.closed {
		t.Fatalf("Close() = %v, closed = %v", err, pub.closed)
	}
}

func TestFeedPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	feed := newFeed(pub, "custom")

	_, err := feed.Write(context.Background(), models.Batch[models.Point]{ID: "b", Items: []models.Point{{Name: "x"}}})
	if err == nil {
		t.Fatal("expected publish error")
	}
	if pub.channel != "custom" {
		t.Fatalf("channel = %q, want custom", pub.channel)
	}
	if err := feed.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}
