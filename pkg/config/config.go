package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Server      ServerConfig     `yaml:"server"`
	Log         LogConfig        `yaml:"log"`
	Detector    DetectorConfig   `yaml:"detector"`
	Stream      StreamConfig     `yaml:"stream"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Realtime    RealtimeConfig   `yaml:"realtime"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Sink        SinkConfig       `yaml:"sink"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Chat        ChatConfig       `yaml:"chat"`
	Data        DataConfig       `yaml:"data"`
	Metrics     MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8000"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
	BodyLimit       string        `yaml:"body_limit" default:"2M"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json"`
	Output string `yaml:"output" default:"stdout"`
}

type DetectorConfig struct {
	WindowSize     int           `yaml:"window_size" default:"1000"`
	SnapshotSize   int           `yaml:"snapshot_size" default:"100"`
	SnapshotKey    string        `yaml:"snapshot_key" default:"fraud_detector:history"`
	MinHistory     int           `yaml:"min_history" default:"10"`
	PersistTimeout time.Duration `yaml:"persist_timeout" default:"500ms"`
	RecentResults  int           `yaml:"recent_results" default:"50"`
}

type StreamConfig struct {
	// Source is one of ws, csv, kafka or none.
	Source         string        `yaml:"source" default:"csv"`
	WSURL          string        `yaml:"ws_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	CSVPath        string        `yaml:"csv_path" default:"data/raw/creditcard.csv"`
	ReplayInterval time.Duration `yaml:"replay_interval" default:"100ms"`
}

type PipelineConfig struct {
	MaxRPS int `yaml:"max_rps"`
}

type RealtimeConfig struct {
	BatchSize     int `yaml:"batch_size" default:"100"`
	WindowMinutes int `yaml:"window_minutes" default:"60"`
	TopAlerts     int `yaml:"top_alerts" default:"10"`
	MaxClients    int `yaml:"max_clients" default:"1000"`
}

type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Host        string        `yaml:"host" default:"localhost"`
	Port        int           `yaml:"port" default:"6379"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size" default:"10"`
	DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
	Prefix      string        `yaml:"prefix"`
	MemoryMax   int           `yaml:"memory_max_entries" default:"10000"`
}

type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	TransactionsTopic string        `yaml:"transactions_topic" default:"transactions"`
	AnalysisTopic     string        `yaml:"analysis_topic"`
	RequiredAcks      int           `yaml:"required_acks" default:"-1"`
	Compression       string        `yaml:"compression" default:"snappy"`
	Producer          KafkaProducer `yaml:"producer"`
	Consumer          KafkaConsumer `yaml:"consumer"`
}

type KafkaProducer struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"5"`
	Linger       time.Duration `yaml:"linger" default:"50ms"`
	BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
	BatchSize    int           `yaml:"batch_size" default:"500"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	Async        bool          `yaml:"async"`
}

type KafkaConsumer struct {
	GroupID    string        `yaml:"group_id" default:"heimdall"`
	Workers    int           `yaml:"workers" default:"1"`
	BufferSize int           `yaml:"buffer_size" default:"256"`
	RetryMax   int           `yaml:"retry_max" default:"3"`
	BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
	BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
	DLQTopic   string        `yaml:"dlq_topic"`
	MinBytes   int           `yaml:"min_bytes" default:"1"`
	MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
}

type SinkConfig struct {
	BatchSize    int           `yaml:"batch_size" default:"200"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
	QueueSize    int           `yaml:"queue_size" default:"5000"`
}

type ClickHouseConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host" default:"localhost"`
	Port           int           `yaml:"port" default:"9000"`
	Database       string        `yaml:"database" default:"heimdall"`
	Table          string        `yaml:"table" default:"fraud_analysis"`
	User           string        `yaml:"user" default:"default"`
	Password       string        `yaml:"password"`
	UseHTTP        bool          `yaml:"use_http"`
	AsyncInsert    bool          `yaml:"async_insert"`
	MaxConnections int           `yaml:"max_connections" default:"10"`
	DialTimeout    time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout    time.Duration `yaml:"read_timeout" default:"30s"`
	InitSchema     bool          `yaml:"init_schema" default:"true"`
}

type ChatConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout" default:"15s"`
	Attempts  int           `yaml:"attempts" default:"2"`
	Burst     float64       `yaml:"rate_burst" default:"5"`
	PerSecond float64       `yaml:"rate_per_second" default:"0.5"`
}

type DataConfig struct {
	Root     string        `yaml:"root" default:"data"`
	MaxRows  int           `yaml:"max_rows" default:"5000"`
	CacheTTL time.Duration `yaml:"cache_ttl" default:"30s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads the file then applies environment overrides.
// A .env file in the working directory, if present, seeds the environment.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str("HEIMDALL_ENV", &c.Environment)
	num("HTTP_PORT", &c.Server.Port)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("STREAM_SOURCE", &c.Stream.Source)
	str("STREAM_WS_URL", &c.Stream.WSURL)
	str("CSV_PATH", &c.Stream.CSVPath)
	num("PIPELINE_MAX_RPS", &c.Pipeline.MaxRPS)
	flag("REDIS_ENABLED", &c.Redis.Enabled)
	str("REDIS_HOST", &c.Redis.Host)
	num("REDIS_PORT", &c.Redis.Port)
	str("REDIS_PASSWORD", &c.Redis.Password)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TRANSACTIONS_TOPIC", &c.Kafka.TransactionsTopic)
	str("KAFKA_ANALYSIS_TOPIC", &c.Kafka.AnalysisTopic)
	flag("CLICKHOUSE_ENABLED", &c.ClickHouse.Enabled)
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("CLICKHOUSE_USER", &c.ClickHouse.User)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("CHAT_ENDPOINT", &c.Chat.Endpoint)
	str("DATA_ROOT", &c.Data.Root)

	if len(errs) > 0 {
		return fmt.Errorf("env overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks required fields and enums.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if !oneOf(c.Log.Format, "json", "console") {
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Detector.WindowSize <= 0 {
		return fmt.Errorf("detector.window_size must be positive")
	}
	if c.Detector.SnapshotSize <= 0 || c.Detector.SnapshotSize > c.Detector.WindowSize {
		return fmt.Errorf("detector.snapshot_size must be in 1..window_size")
	}
	if c.Detector.MinHistory < 0 {
		return fmt.Errorf("detector.min_history cannot be negative")
	}
	switch c.Stream.Source {
	case "ws":
		if c.Stream.WSURL == "" {
			return fmt.Errorf("stream.ws_url is required for the ws source")
		}
	case "csv":
		if c.Stream.CSVPath == "" {
			return fmt.Errorf("stream.csv_path is required for the csv source")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.TransactionsTopic == "" {
			return fmt.Errorf("kafka.brokers and kafka.transactions_topic are required for the kafka source")
		}
	case "none":
	default:
		return fmt.Errorf("stream.source must be ws, csv, kafka or none, got %q", c.Stream.Source)
	}
	if c.Kafka.AnalysisTopic != "" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required to publish analysis results")
	}
	if c.Pipeline.MaxRPS < 0 {
		return fmt.Errorf("pipeline.max_rps cannot be negative")
	}
	if c.Data.MaxRows < 1 || c.Data.MaxRows > 5000 {
		return fmt.Errorf("data.max_rows must be in 1..5000")
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
