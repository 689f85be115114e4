package influxdb

// Config holds InfluxDB connection configuration
type Config struct {
	URL        string
	Token      string
	Database   string
	UseNowTime bool
}
