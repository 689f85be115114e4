package influxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"telemetry-ingest/internal/database"
	"telemetry-ingest/internal/models"
)

// Writer writes measurement points to InfluxDB
type Writer struct {
	client   *influxdb3.Client
	database string
	useNow   bool
	now      func() time.Time
}

// New creates a new InfluxDB writer
func New(config Config) (*Writer, error) {
	if config.URL == "" || config.Database == "" {
		return nil, fmt.Errorf("influxdb url and database are required")
	}

	// Create InfluxDB v3 client
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     config.URL,
		Token:    config.Token,
		Database: config.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	return &Writer{
		client:   client,
		database: config.Database,
		useNow:   config.UseNowTime,
		now:      time.Now,
	}, nil
}

// Name implements database.Writer
func (w *Writer) Name() string { return "influxdb" }

// record is the line-protocol shape of one point
type record struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// toRecord maps a point to measurement=source, tag class, field name=value
func toRecord(p models.Point, useNow bool, now time.Time) record {
	return record{
		Measurement: p.Source,
		Tags:        map[string]string{"class": p.Class},
		Fields: map[string]any{
			p.Name:          p.Value,
			"can_timestamp": p.Timestamp,
		},
		Time: database.PointTime(p, useNow, now),
	}
}

// Write implements database.Writer
func (w *Writer) Write(ctx context.Context, b models.Batch[models.Point]) (database.Ack, error) {
	if b.Len() == 0 {
		return database.Ack{}, nil
	}

	// Build points for batch writing
	now := w.now()
	points := make([]*influxdb3.Point, 0, b.Len())
	for _, p := range b.Items {
		r := toRecord(p, w.useNow, now)
		points = append(points, influxdb3.NewPoint(r.Measurement, r.Tags, r.Fields, r.Time))
	}

	if err := w.client.WritePoints(ctx, points); err != nil {
		return database.Ack{}, fmt.Errorf("failed to write points: %w", err)
	}
	return database.Ack{Accepted: b.Len()}, nil
}

// Close closes the InfluxDB connection
func (w *Writer) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}
