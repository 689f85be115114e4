package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"telemetry-ingest/internal/batch"
	"telemetry-ingest/internal/database"
	"telemetry-ingest/internal/decoder"
	"telemetry-ingest/internal/framing"
)

// Sink names accepted in SINKS
const (
	SinkInflux     = "influx"
	SinkClickHouse = "clickhouse"
	SinkGRPC       = "grpc"
	SinkHTTP       = "http"
	SinkRedis      = "redis"
)

// Source names accepted in SOURCE
const (
	SourceSerial    = "serial"
	SourceSocketCAN = "socketcan"
)

// Config holds all application configuration
type Config struct {
	// Byte source
	Source       string
	SerialPort   string
	SerialBaud   int
	CANInterface string
	CANFilters   []uint32

	// Decoding
	FrameFormat string
	Classify    string
	CANLayout   string
	// ReverseID overrides the bit reversal of CAN identifiers; nil reverses
	// only on the uart24 layout
	ReverseID   *bool
	GPSTimeMode string
	DBCFile     string

	// Batching
	LinkBatchSize    int
	LinkBatchMaxAge  time.Duration
	PointBatchSize   int
	PointBatchMaxAge time.Duration
	QueueSize        int
	ShutdownGrace    time.Duration

	// Sinks
	Sinks      []string
	UseNowTime bool

	// InfluxDB
	InfluxDBURL      string
	InfluxDBToken    string
	InfluxDBDatabase string

	// ClickHouse
	ClickHouseHost       string
	ClickHousePort       int
	ClickHouseDatabase   string
	ClickHouseUsername   string
	ClickHousePassword   string
	ClickHouseTable      string
	ClickHouseFrameTable string
	ArchiveFrames        bool

	// gRPC upload
	IngestServer    string
	GRPCCompression string

	// HTTP collector
	HTTPSinkURL   string
	HTTPSinkToken string

	// Redis live feed
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// Retry
	RetryMax      int
	RetryBase     time.Duration
	RetryFactor   float64
	RetryMaxDelay time.Duration
	WriteTimeout  time.Duration

	// Observability
	StatsInterval time.Duration
	FailLogPath   string
	LogFile       string
	LogMaxSizeMB  int
	MetricsAddr   string

	// Ingest server
	APIPort  int
	GRPCPort int
	APIToken string
}

// Default returns the configuration used when no .env file is present
func Default() *Config {
	return &Config{
		Source:       SourceSerial,
		SerialPort:   "/dev/ttyUSB0",
		SerialBaud:   230400,
		CANInterface: "vcan0",

		FrameFormat: string(framing.FormatUART24),
		GPSTimeMode: "auto",

		LinkBatchSize:    batch.LinkMaxSize,
		LinkBatchMaxAge:  batch.LinkMaxAge,
		PointBatchSize:   batch.StorageMaxSize,
		PointBatchMaxAge: batch.StorageMaxAge,
		ShutdownGrace:    5 * time.Second,

		Sinks: []string{SinkInflux},

		InfluxDBURL:      "http://localhost:8086",
		InfluxDBDatabase: "telemetry",

		ClickHouseHost:       "localhost",
		ClickHousePort:       9000,
		ClickHouseDatabase:   "default",
		ClickHouseUsername:   "default",
		ClickHouseTable:      "measurements",
		ClickHouseFrameTable: "can_frames",

		IngestServer:    "localhost:50051",
		GRPCCompression: "zstd",

		RedisAddr:    "localhost:6379",
		RedisChannel: "telemetry:points",

		RetryMax:      5,
		RetryBase:     5 * time.Second,
		RetryFactor:   2,
		RetryMaxDelay: 30 * time.Second,
		WriteTimeout:  30 * time.Second,

		StatsInterval: 5 * time.Second,
		LogMaxSizeMB:  100,

		APIPort:  8080,
		GRPCPort: 50051,
	}
}

// LoadConfig loads configuration from a .env file, then applies process
// environment overrides. A missing file is not an error.
func LoadConfig(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}

	values, err := godotenv.Read(envFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading .env file: %w", err)
		}
		log.Printf("No .env file found at %s, using default configuration", envFile)
		values = map[string]string{}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}

	config := Default()
	if err := config.apply(lookup); err != nil {
		return nil, err
	}
	return config, nil
}

// apply sets every key lookup knows about
func (c *Config) apply(lookup func(string) (string, bool)) error {
	p := parser{lookup: lookup}

	p.str("SOURCE", &c.Source)
	p.str("SERIAL_PORT", &c.SerialPort)
	p.integer("SERIAL_BAUD", &c.SerialBaud)
	p.str("CAN_INTERFACE", &c.CANInterface)
	if v, ok := lookup("CAN_FILTERS"); ok {
		filters, err := parseFilters(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("CAN_FILTERS: %w", err))
		}
		c.CANFilters = filters
	}

	p.str("FRAME_FORMAT", &c.FrameFormat)
	p.str("CLASSIFY", &c.Classify)
	p.str("CAN_LAYOUT", &c.CANLayout)
	if _, ok := lookup("BIT_REVERSE_ID"); ok {
		var reverse bool
		p.boolean("BIT_REVERSE_ID", &reverse)
		c.ReverseID = &reverse
	}
	p.str("GPS_TIME_MODE", &c.GPSTimeMode)
	p.str("DBC_FILE", &c.DBCFile)

	p.integer("LINK_BATCH_SIZE", &c.LinkBatchSize)
	p.millis("LINK_BATCH_MAX_MS", &c.LinkBatchMaxAge)
	p.integer("POINT_BATCH_SIZE", &c.PointBatchSize)
	p.millis("FLUSH_INTERVAL_MS", &c.PointBatchMaxAge)
	p.integer("QUEUE_SIZE", &c.QueueSize)
	p.millis("SHUTDOWN_GRACE_MS", &c.ShutdownGrace)

	if v, ok := lookup("SINKS"); ok {
		c.Sinks = splitList(v)
	}
	p.boolean("USE_NOW_TIME", &c.UseNowTime)

	p.str("INFLUX_URL", &c.InfluxDBURL)
	p.str("INFLUX_TOKEN", &c.InfluxDBToken)
	p.str("INFLUX_BUCKET", &c.InfluxDBDatabase)
	p.str("INFLUX_DATABASE", &c.InfluxDBDatabase)

	p.str("CLICKHOUSE_HOST", &c.ClickHouseHost)
	p.integer("CLICKHOUSE_PORT", &c.ClickHousePort)
	p.str("CLICKHOUSE_DATABASE", &c.ClickHouseDatabase)
	p.str("CLICKHOUSE_USERNAME", &c.ClickHouseUsername)
	p.str("CLICKHOUSE_PASSWORD", &c.ClickHousePassword)
	p.str("CLICKHOUSE_TABLE", &c.ClickHouseTable)
	p.str("CLICKHOUSE_FRAME_TABLE", &c.ClickHouseFrameTable)
	p.boolean("ARCHIVE_FRAMES", &c.ArchiveFrames)

	p.str("INGEST_SERVER", &c.IngestServer)
	p.str("GRPC_COMPRESSION", &c.GRPCCompression)

	p.str("HTTP_SINK_URL", &c.HTTPSinkURL)
	p.str("HTTP_SINK_TOKEN", &c.HTTPSinkToken)

	p.str("REDIS_ADDR", &c.RedisAddr)
	p.str("REDIS_PASSWORD", &c.RedisPassword)
	p.integer("REDIS_DB", &c.RedisDB)
	p.str("REDIS_CHANNEL", &c.RedisChannel)

	p.integer("RETRY_MAX", &c.RetryMax)
	p.millis("RETRY_BASE_MS", &c.RetryBase)
	p.float("RETRY_FACTOR", &c.RetryFactor)
	p.millis("RETRY_MAX_DELAY_MS", &c.RetryMaxDelay)
	p.millis("WRITE_TIMEOUT_MS", &c.WriteTimeout)

	p.seconds("STATS_INTERVAL", &c.StatsInterval)
	p.str("FAIL_LOG_PATH", &c.FailLogPath)
	p.str("LOG_FILE", &c.LogFile)
	p.integer("LOG_MAX_SIZE_MB", &c.LogMaxSizeMB)
	p.str("METRICS_ADDR", &c.MetricsAddr)

	p.integer("API_PORT", &c.APIPort)
	p.integer("GRPC_PORT", &c.GRPCPort)
	p.str("API_TOKEN", &c.APIToken)

	return errors.Join(p.errs...)
}

// Validate checks that the configuration can start a pipeline
func (c *Config) Validate() error {
	var errs []error

	switch c.Source {
	case SourceSerial:
		if c.SerialPort == "" {
			errs = append(errs, fmt.Errorf("SERIAL_PORT is required for the serial source"))
		}
		if c.SerialBaud <= 0 {
			errs = append(errs, fmt.Errorf("SERIAL_BAUD must be positive"))
		}
	case SourceSocketCAN:
		if c.CANInterface == "" {
			errs = append(errs, fmt.Errorf("CAN_INTERFACE is required for the socketcan source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SOURCE %q", c.Source))
	}

	if _, err := c.Format(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DecoderConfig(); err != nil {
		errs = append(errs, err)
	}

	if c.LinkBatchSize <= 0 || c.PointBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch sizes must be positive"))
	}
	if c.LinkBatchMaxAge <= 0 || c.PointBatchMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("batch ages must be positive"))
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}

	for _, sink := range c.Sinks {
		switch sink {
		case SinkInflux:
			if c.InfluxDBURL == "" || c.InfluxDBDatabase == "" {
				errs = append(errs, fmt.Errorf("INFLUX_URL and INFLUX_DATABASE are required for the influx sink"))
			}
		case SinkClickHouse:
			if c.ClickHouseHost == "" || c.ClickHouseTable == "" {
				errs = append(errs, fmt.Errorf("CLICKHOUSE_HOST and CLICKHOUSE_TABLE are required for the clickhouse sink"))
			}
		case SinkGRPC:
			if c.IngestServer == "" {
				errs = append(errs, fmt.Errorf("INGEST_SERVER is required for the grpc sink"))
			}
			switch c.GRPCCompression {
			case "", "none", "gzip", "zstd", "lz4":
			default:
				errs = append(errs, fmt.Errorf("unknown GRPC_COMPRESSION %q", c.GRPCCompression))
			}
		case SinkHTTP:
			if c.HTTPSinkURL == "" {
				errs = append(errs, fmt.Errorf("HTTP_SINK_URL is required for the http sink"))
			}
		case SinkRedis:
			if c.RedisAddr == "" {
				errs = append(errs, fmt.Errorf("REDIS_ADDR is required for the redis sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown sink %q", sink))
		}
	}

	return errors.Join(errs...)
}

// HasSink reports whether name is selected in SINKS
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// Format returns the parsed frame format
func (c *Config) Format() (framing.Format, error) {
	return framing.ParseFormat(c.FrameFormat)
}

// DecoderConfig derives the decoding policy; CLASSIFY and CAN_LAYOUT default
// to what FRAME_FORMAT implies
func (c *Config) DecoderConfig() (decoder.Config, error) {
	format, err := c.Format()
	if err != nil {
		return decoder.Config{}, err
	}

	classify, layout := "fixed", string(format)
	switch format {
	case framing.FormatTagged:
		classify, layout = "tag", "filler21"
	case framing.FormatFiller21, framing.FormatNoFiller21:
		classify = "length"
	}
	if c.Classify != "" {
		classify = c.Classify
	}
	if c.CANLayout != "" {
		layout = c.CANLayout
	}

	var cfg decoder.Config
	if cfg.Classify, err = decoder.ParseClassifyMode(classify); err != nil {
		return decoder.Config{}, err
	}
	if cfg.CANLayout, err = decoder.ParseCANLayout(layout); err != nil {
		return decoder.Config{}, err
	}
	cfg.ReverseID = cfg.CANLayout == decoder.LayoutUART24
	if c.ReverseID != nil {
		cfg.ReverseID = *c.ReverseID
	}
	if cfg.GPSTime, err = decoder.ParseGPSTimeMode(c.GPSTimeMode); err != nil {
		return decoder.Config{}, err
	}
	return cfg, nil
}

// RetryPolicy returns the sink retry policy
func (c *Config) RetryPolicy() database.RetryPolicy {
	return database.RetryPolicy{
		MaxRetries:     c.RetryMax,
		BaseDelay:      c.RetryBase,
		Factor:         c.RetryFactor,
		MaxDelay:       c.RetryMaxDelay,
		AttemptTimeout: c.WriteTimeout,
	}
}

// LinkBatch sizes the frame upload runner
func (c *Config) LinkBatch() batch.Config {
	return batch.Config{
		MaxSize:   c.LinkBatchSize,
		MaxAge:    c.LinkBatchMaxAge,
		QueueSize: c.QueueSize,
		Grace:     c.ShutdownGrace,
	}
}

// StorageBatch sizes the point runners
func (c *Config) StorageBatch() batch.Config {
	return batch.Config{
		MaxSize:   c.PointBatchSize,
		MaxAge:    c.PointBatchMaxAge,
		QueueSize: c.QueueSize,
		Grace:     c.ShutdownGrace,
	}
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (p *parser) integer(key string, dst *int) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %w", key, err))
		return
	}
	*dst = n
}

func (p *parser) float(key string, dst *float64) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %w", key, err))
		return
	}
	*dst = f
}

func (p *parser) boolean(key string, dst *bool) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %w", key, err))
		return
	}
	*dst = b
}

func (p *parser) millis(key string, dst *time.Duration) {
	n := -1
	p.integer(key, &n)
	if n >= 0 {
		*dst = time.Duration(n) * time.Millisecond
	}
}

func (p *parser) seconds(key string, dst *time.Duration) {
	n := -1
	p.integer(key, &n)
	if n >= 0 {
		*dst = time.Duration(n) * time.Second
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseFilters parses comma-separated hex CAN IDs
func parseFilters(filterStr string) ([]uint32, error) {
	if filterStr == "" {
		return nil, nil
	}

	parts := strings.Split(filterStr, ",")
	filters := make([]uint32, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimPrefix(strings.TrimSpace(part), "0x")
		if part == "" {
			continue
		}

		id, err := strconv.ParseUint(part, 16, 32)
		if err != nil {
			return filters, fmt.Errorf("invalid CAN id %q: %w", part, err)
		}
		filters = append(filters, uint32(id))
	}

	return filters, nil
}
