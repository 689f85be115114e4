package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"telemetry-ingest/internal/api"
	"telemetry-ingest/internal/batch"
	"telemetry-ingest/internal/config"
	"telemetry-ingest/internal/database"
	"telemetry-ingest/internal/database/clickhouse"
	"telemetry-ingest/internal/database/httpsink"
	"telemetry-ingest/internal/database/influxdb"
	cangrpc "telemetry-ingest/internal/grpc"
	"telemetry-ingest/internal/live"
	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
)

// Storage owns the point runners, the optional raw frame archive and the
// connections they share
type Storage struct {
	Points batch.Group[models.Point]
	// Frames archives raw CAN frames; nil unless ARCHIVE_FRAMES is set
	Frames *batch.Runner[models.CANMessage]
	Checks map[string]api.HealthCheck

	chConn driver.Conn
}

// OpenStorage connects every point sink selected in SINKS. The grpc sink
// carries frames, not points, and is opened by OpenUploader.
func OpenStorage(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Storage, error) {
	s := &Storage{Checks: map[string]api.HealthCheck{}}
	policy := cfg.RetryPolicy()

	addPoints := func(w database.Writer[models.Point]) {
		r := batch.NewRunner(database.WithRetry(w, policy, m), cfg.StorageBatch(), m)
		s.Points = append(s.Points, r)
		log.Printf("Storage sink enabled: %s", w.Name())
	}

	if cfg.HasSink(config.SinkClickHouse) || cfg.ArchiveFrames {
		conn, err := clickhouse.Open(s.clickhouseConfig(cfg))
		if err != nil {
			return nil, err
		}
		s.chConn = conn
		s.Checks["clickhouse"] = func(ctx context.Context) error { return conn.Ping(ctx) }
	}

	for _, sink := range cfg.Sinks {
		switch sink {
		case config.SinkInflux:
			w, err := influxdb.New(influxdb.Config{
				URL:        cfg.InfluxDBURL,
				Token:      cfg.InfluxDBToken,
				Database:   cfg.InfluxDBDatabase,
				UseNowTime: cfg.UseNowTime,
			})
			if err != nil {
				s.abort()
				return nil, fmt.Errorf("failed to create InfluxDB writer: %w", err)
			}
			addPoints(w)

		case config.SinkClickHouse:
			w, err := clickhouse.NewPointWriter(s.chConn, s.clickhouseConfig(cfg))
			if err != nil {
				s.abort()
				return nil, fmt.Errorf("failed to create ClickHouse writer: %w", err)
			}
			addPoints(w)

		case config.SinkHTTP:
			w, err := httpsink.New(httpsink.Config{
				URL:     cfg.HTTPSinkURL,
				Token:   cfg.HTTPSinkToken,
				Timeout: cfg.WriteTimeout,
			})
			if err != nil {
				s.abort()
				return nil, fmt.Errorf("failed to create HTTP sink: %w", err)
			}
			addPoints(w)

		case config.SinkRedis:
			feed, err := live.New(ctx, live.Config{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
				Channel:  cfg.RedisChannel,
			})
			if err != nil {
				s.abort()
				return nil, fmt.Errorf("failed to create live feed: %w", err)
			}
			s.Checks["redis"] = feed.Ping
			addPoints(feed)
		}
	}

	if cfg.ArchiveFrames {
		w, err := clickhouse.NewFrameWriter(s.chConn, s.clickhouseConfig(cfg))
		if err != nil {
			s.abort()
			return nil, fmt.Errorf("failed to create frame archive: %w", err)
		}
		s.Frames = batch.NewRunner[models.CANMessage](database.WithRetry[models.CANMessage](w, policy, m), cfg.StorageBatch(), m)
		log.Printf("Frame archive enabled: %s.%s", cfg.ClickHouseDatabase, cfg.ClickHouseFrameTable)
	}

	return s, nil
}

func (s *Storage) clickhouseConfig(cfg *config.Config) clickhouse.Config {
	return clickhouse.Config{
		Host:       cfg.ClickHouseHost,
		Port:       cfg.ClickHousePort,
		Database:   cfg.ClickHouseDatabase,
		Username:   cfg.ClickHouseUsername,
		Password:   cfg.ClickHousePassword,
		PointTable: cfg.ClickHouseTable,
		FrameTable: cfg.ClickHouseFrameTable,
		UseNowTime: cfg.UseNowTime,
	}
}

// Start starts every runner
func (s *Storage) Start() {
	s.Points.Start()
	if s.Frames != nil {
		s.Frames.Start()
	}
}

// FrameSink returns the archive as a submitter, or nil when disabled
func (s *Storage) FrameSink() batch.Submitter[models.CANMessage] {
	if s.Frames == nil {
		return nil
	}
	return s.Frames
}

// Close flushes every runner, then releases the shared connection
func (s *Storage) Close() error {
	var errs []error
	if s.Frames != nil {
		errs = append(errs, s.Frames.Close())
	}
	errs = append(errs, s.Points.Close())
	if s.chConn != nil {
		errs = append(errs, s.chConn.Close())
	}
	return errors.Join(errs...)
}

// abort releases what was opened before a setup failure; no runner has started
func (s *Storage) abort() {
	for _, r := range s.Points {
		r.Close()
	}
	if s.chConn != nil {
		s.chConn.Close()
	}
}

// OpenUploader returns the gRPC frame upload runner, or nil when the grpc
// sink is not selected
func OpenUploader(cfg *config.Config, m *metrics.Metrics) (*batch.Runner[*models.CanFrame], error) {
	if !cfg.HasSink(config.SinkGRPC) {
		return nil, nil
	}
	w, err := cangrpc.Dial(cangrpc.StreamConfig{
		Target:      cfg.IngestServer,
		Compression: cfg.GRPCCompression,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Frame upload enabled: %s (compression=%q)", cfg.IngestServer, cfg.GRPCCompression)
	return batch.NewRunner(database.WithRetry(database.Writer[*models.CanFrame](w), cfg.RetryPolicy(), m), cfg.LinkBatch(), m), nil
}
