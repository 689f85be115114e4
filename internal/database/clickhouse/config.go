package clickhouse

// Config holds ClickHouse connection configuration
type Config struct {
	Host        string
	Port        int
	Database    string
	Username    string
	Password    string
	PointTable  string
	FrameTable  string
	UseNowTime  bool
	DialTimeout int
}
