package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"telemetry-ingest/internal/database"
	"telemetry-ingest/internal/models"
)

// Open connects to ClickHouse and verifies the connection
func Open(config Config) (driver.Conn, error) {
	dialTimeout := time.Duration(config.DialTimeout) * time.Second
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", config.Host, config.Port)},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: dialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return conn, nil
}

// PointWriter writes measurements, one row per point
type PointWriter struct {
	conn   driver.Conn
	table  string
	useNow bool
	now    func() time.Time
}

// NewPointWriter creates the measurement table if needed
func NewPointWriter(conn driver.Conn, config Config) (*PointWriter, error) {
	if err := conn.Exec(context.Background(), pointTableDDL(config.PointTable)); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", config.PointTable, err)
	}
	return &PointWriter{conn: conn, table: config.PointTable, useNow: config.UseNowTime, now: time.Now}, nil
}

func pointTableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			source LowCardinality(String),
			class LowCardinality(String),
			name LowCardinality(String),
			value Float64,
			frame_timestamp Float64,
			batch_id String
		) ENGINE = MergeTree()
		ORDER BY (source, class, name, timestamp)
		PARTITION BY toYYYYMMDD(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
		SETTINGS index_granularity = 8192
	`, table)
}

// Name implements database.Writer
func (w *PointWriter) Name() string { return "clickhouse" }

// Write implements database.Writer
func (w *PointWriter) Write(ctx context.Context, b models.Batch[models.Point]) (database.Ack, error) {
	if b.Len() == 0 {
		return database.Ack{}, nil
	}

	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.table))
	if err != nil {
		return database.Ack{}, fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Abort()

	now := w.now()
	for _, p := range b.Items {
		err = batch.Append(
			database.PointTime(p, w.useNow, now),
			p.Source,
			p.Class,
			p.Name,
			p.Value,
			p.Timestamp,
			b.ID,
		)
		if err != nil {
			return database.Ack{}, fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return database.Ack{}, fmt.Errorf("failed to send batch: %w", err)
	}
	return database.Ack{Accepted: b.Len()}, nil
}

// Ping checks the connection
func (w *PointWriter) Ping(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

// Close is a no-op; the connection is shared and closed by its opener
func (w *PointWriter) Close() error {
	return nil
}

// FrameWriter archives raw CAN frames
type FrameWriter struct {
	conn  driver.Conn
	table string
}

// NewFrameWriter creates the frame table if needed
func NewFrameWriter(conn driver.Conn, config Config) (*FrameWriter, error) {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			interface String,
			can_id UInt32,
			is_extended UInt8,
			dlc UInt8,
			data Array(UInt8)
		) ENGINE = MergeTree()
		ORDER BY (timestamp, can_id)
		PARTITION BY toYYYYMMDD(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
		SETTINGS index_granularity = 8192
	`, config.FrameTable)

	if err := conn.Exec(context.Background(), query); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", config.FrameTable, err)
	}
	return &FrameWriter{conn: conn, table: config.FrameTable}, nil
}

// Name implements database.Writer
func (w *FrameWriter) Name() string { return "clickhouse-frames" }

// Write implements database.Writer
func (w *FrameWriter) Write(ctx context.Context, b models.Batch[models.CANMessage]) (database.Ack, error) {
	if b.Len() == 0 {
		return database.Ack{}, nil
	}

	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.table))
	if err != nil {
		return database.Ack{}, fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Abort()

	for _, msg := range b.Items {
		ext := uint8(0)
		if msg.Frame.Extended {
			ext = 1
		}
		err = batch.Append(
			msg.Timestamp,
			msg.Interface,
			msg.Frame.ID,
			ext,
			msg.Frame.DLC,
			msg.Frame.Data[:msg.Frame.DLC],
		)
		if err != nil {
			return database.Ack{}, fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return database.Ack{}, fmt.Errorf("failed to send batch: %w", err)
	}
	return database.Ack{Accepted: b.Len()}, nil
}

// Close is a no-op; the connection is shared and closed by its opener
func (w *FrameWriter) Close() error {
	return nil
}
