package config

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.einride.tech/can/pkg/descriptor"

	"telemetry-ingest/internal/codec"
	"telemetry-ingest/internal/decoder"
	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
	"telemetry-ingest/internal/signaltable"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if config.SerialBaud != 230400 || config.FrameFormat != "uart24" || config.ReverseID != nil {
		t.Fatalf("unexpected defaults: %+v", config)
	}
	dc, err := config.DecoderConfig()
	if err != nil {
		t.Fatalf("DecoderConfig() error: %v", err)
	}
	if !dc.ReverseID || dc.GPSTime != decoder.GPSTimeAuto {
		t.Fatalf("unexpected default decoder config: %+v", dc)
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	policy := config.RetryPolicy()
	if policy.MaxRetries != 5 || policy.BaseDelay != 5*time.Second || policy.Factor != 2 || policy.MaxDelay != 30*time.Second {
		t.Fatalf("unexpected retry policy: %+v", policy)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeEnv(t, `
# link
SERIAL_PORT=/dev/ttyAMA0
SERIAL_BAUD=115200
FRAME_FORMAT=filler21
GPS_TIME_MODE=epoch
CAN_FILTERS=0x100, 18FF50E5
SINKS=influx, ClickHouse,redis
LINK_BATCH_MAX_MS=25
STATS_INTERVAL=10
INFLUX_BUCKET="CAN_test"
USE_NOW_TIME=true
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if config.SerialPort != "/dev/ttyAMA0" || config.SerialBaud != 115200 {
		t.Fatalf("serial = %s@%d", config.SerialPort, config.SerialBaud)
	}
	if len(config.CANFilters) != 2 || config.CANFilters[0] != 0x100 || config.CANFilters[1] != 0x18FF50E5 {
		t.Fatalf("CANFilters = %#v", config.CANFilters)
	}
	if strings.Join(config.Sinks, ",") != "influx,clickhouse,redis" {
		t.Fatalf("Sinks = %v", config.Sinks)
	}
	if !config.HasSink(SinkRedis) || config.HasSink(SinkGRPC) {
		t.Fatalf("HasSink mismatch for %v", config.Sinks)
	}
	if config.LinkBatchMaxAge != 25*time.Millisecond || config.StatsInterval != 10*time.Second {
		t.Fatalf("durations = %v, %v", config.LinkBatchMaxAge, config.StatsInterval)
	}
	if config.InfluxDBDatabase != "CAN_test" || !config.UseNowTime {
		t.Fatalf("influx = %q, use now = %v", config.InfluxDBDatabase, config.UseNowTime)
	}

	dc, err := config.DecoderConfig()
	if err != nil {
		t.Fatalf("DecoderConfig() error: %v", err)
	}
	if dc.Classify != decoder.ClassifyLength || dc.CANLayout != decoder.LayoutFiller21 || dc.GPSTime != decoder.GPSTimeEpoch {
		t.Fatalf("unexpected decoder config: %+v", dc)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeEnv(t, "SERIAL_BAUD=115200\nFRAME_FORMAT=uart24\n")
	t.Setenv("SERIAL_BAUD", "921600")
	t.Setenv("CAN_LAYOUT", "nofiller21")
	t.Setenv("FRAME_FORMAT", "nofiller21")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if config.SerialBaud != 921600 {
		t.Fatalf("SerialBaud = %d, want 921600", config.SerialBaud)
	}
	dc, err := config.DecoderConfig()
	if err != nil {
		t.Fatalf("DecoderConfig() error: %v", err)
	}
	if dc.CANLayout != decoder.LayoutNoFiller21 {
		t.Fatalf("CANLayout = %v, want nofiller21", dc.CANLayout)
	}
}

func TestDecoderConfigPerFormat(t *testing.T) {
	tests := []struct {
		format   string
		classify decoder.ClassifyMode
		layout   decoder.CANLayout
		reverse  bool
	}{
		{"uart24", decoder.ClassifyFixed, decoder.LayoutUART24, true},
		{"hex30", decoder.ClassifyFixed, decoder.LayoutHex30, false},
		{"tagged", decoder.ClassifyTag, decoder.LayoutFiller21, false},
		{"filler21", decoder.ClassifyLength, decoder.LayoutFiller21, false},
		{"nofiller21", decoder.ClassifyLength, decoder.LayoutNoFiller21, false},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			config := Default()
			config.FrameFormat = tt.format
			dc, err := config.DecoderConfig()
			if err != nil {
				t.Fatalf("DecoderConfig() error: %v", err)
			}
			if dc.Classify != tt.classify || dc.CANLayout != tt.layout || dc.ReverseID != tt.reverse {
				t.Fatalf("got %+v, want classify=%v layout=%v reverse=%v", dc, tt.classify, tt.layout, tt.reverse)
			}
		})
	}
}

func TestDefaultConfigDecodesFiller21(t *testing.T) {
	config := Default()
	config.FrameFormat = "filler21"
	dc, err := config.DecoderConfig()
	if err != nil {
		t.Fatalf("DecoderConfig() error: %v", err)
	}

	table := signaltable.NewStatic(&signaltable.Message{
		MessageName: "BatteryStatus",
		ID:          0x100,
		Size:        8,
		Transmitter: []string{"BMS"},
		Signals:     []*descriptor.Signal{{Name: "Byte0", Start: 0, Length: 8, Scale: 1}},
	})
	dec := decoder.New(dc, table, metrics.New(), nil)

	rec := make([]byte, 21)
	codec.PutFloat64BE(rec[0:8], 1700000000)
	binary.BigEndian.PutUint32(rec[9:13], 0x100)
	rec[13] = 42

	res := dec.Decode(models.RawRecord{Bytes: rec})
	if res.Outcome != decoder.OutcomeDecoded {
		t.Fatalf("outcome %v: %v", res.Outcome, res.Err)
	}
	if len(res.Measurements) != 1 || res.Measurements[0].Value != int64(42) {
		t.Fatalf("unexpected measurements %+v", res.Measurements)
	}
}

func TestBitReverseOverride(t *testing.T) {
	tests := []struct {
		env    string
		format string
		want   bool
	}{
		{"BIT_REVERSE_ID=false\nFRAME_FORMAT=uart24\n", "uart24", false},
		{"BIT_REVERSE_ID=true\nFRAME_FORMAT=filler21\n", "filler21", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			config, err := LoadConfig(writeEnv(t, tt.env))
			if err != nil {
				t.Fatalf("LoadConfig() error: %v", err)
			}
			dc, err := config.DecoderConfig()
			if err != nil {
				t.Fatalf("DecoderConfig() error: %v", err)
			}
			if dc.ReverseID != tt.want {
				t.Fatalf("ReverseID = %v, want %v", dc.ReverseID, tt.want)
			}
		})
	}
}

func TestLoadConfigRejectsBadNumbers(t *testing.T) {
	path := writeEnv(t, "SERIAL_BAUD=fast\nRETRY_FACTOR=x\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid numbers")
	}
	if !strings.Contains(err.Error(), "SERIAL_BAUD") || !strings.Contains(err.Error(), "RETRY_FACTOR") {
		t.Fatalf("error should name both keys: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"unknown source", func(c *Config) { c.Source = "usb" }, "unknown SOURCE"},
		{"unknown format", func(c *Config) { c.FrameFormat = "csv" }, "unknown frame format"},
		{"unknown sink", func(c *Config) { c.Sinks = []string{"kafka"} }, "unknown sink"},
		{"http without url", func(c *Config) { c.Sinks = []string{SinkHTTP} }, "HTTP_SINK_URL"},
		{"bad compression", func(c *Config) {
			c.Sinks = []string{SinkGRPC}
			c.GRPCCompression = "brotli"
		}, "GRPC_COMPRESSION"},
		{"zero batch", func(c *Config) { c.PointBatchSize = 0 }, "batch sizes"},
		{"bad retry", func(c *Config) { c.RetryFactor = 0.5 }, "backoff factor"},
		{"bad gps mode", func(c *Config) { c.GPSTimeMode = "gps" }, "GPS time mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)
			err := config.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}
