package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/canvasflow/engine/pkg/logger"
)

// Config is the full engine configuration, loaded from file and
// environment. Environment variables use the CANVASFLOW prefix, e.g.
// CANVASFLOW_DATABASE_HOST overrides database.host.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logger    logger.Config   `mapstructure:"logger"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
	Enabled bool     `mapstructure:"enabled"`
}

type QueueConfig struct {
	Workers        int           `mapstructure:"workers"`
	Capacity       int           `mapstructure:"capacity"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	BackoffKind    string        `mapstructure:"backoff_kind"`
	SnapshotPeriod time.Duration `mapstructure:"snapshot_period"`
}

type EngineConfig struct {
	NodeTimeout       time.Duration `mapstructure:"node_timeout"`
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs"`
	StrictJoins       bool          `mapstructure:"strict_joins"`
	RetentionPeriod   time.Duration `mapstructure:"retention_period"`
	RemoteBackendURL  string        `mapstructure:"remote_backend_url"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/canvasflow")
	}

	v.SetEnvPrefix("CANVASFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive, got %d", c.Queue.MaxAttempts)
	}
	switch c.Queue.BackoffKind {
	case "exponential", "linear", "fixed":
	default:
		return fmt.Errorf("queue.backoff_kind must be exponential, linear or fixed, got %q", c.Queue.BackoffKind)
	}
	if c.Engine.NodeTimeout <= 0 {
		return fmt.Errorf("engine.node_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "canvasflow")
	v.SetDefault("database.password", "canvasflow")
	v.SetDefault("database.name", "canvasflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "canvasflow.events")
	v.SetDefault("kafka.group_id", "canvasflow-engine")
	v.SetDefault("kafka.enabled", false)

	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.job_timeout", "5m")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base", "500ms")
	v.SetDefault("queue.backoff_max", "30s")
	v.SetDefault("queue.backoff_kind", "exponential")
	v.SetDefault("queue.snapshot_period", "10s")

	v.SetDefault("engine.node_timeout", "2m")
	v.SetDefault("engine.max_concurrent_runs", 32)
	v.SetDefault("engine.strict_joins", false)
	v.SetDefault("engine.retention_period", "24h")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.poll_interval", "30s")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.add_caller", true)
}
