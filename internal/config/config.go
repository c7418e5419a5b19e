package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Admin    ServerConfig   `mapstructure:"admin"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Leader   LeaderConfig   `mapstructure:"leader"`
	Instance InstanceConfig `mapstructure:"instance"`
	Log      LogConfig      `mapstructure:"log"`
	Auction  AuctionConfig  `mapstructure:"auction"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InitSchema      bool          `mapstructure:"init_schema"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type LeaderConfig struct {
	Key string        `mapstructure:"key"`
	TTL time.Duration `mapstructure:"ttl"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type AuctionConfig struct {
	Deadline  DeadlineConfig  `mapstructure:"deadline"`
	Finalize  FinalizeConfig  `mapstructure:"finalize"`
	Bid       BidConfig       `mapstructure:"bid"`
	SSE       SSEConfig       `mapstructure:"sse"`
	Extension ExtensionConfig `mapstructure:"extension"`
	Consumer  ConsumerConfig  `mapstructure:"consumer"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
}

type DeadlineConfig struct {
	HorizonDays        int    `mapstructure:"horizon_days"`
	BootstrapEnabled   bool   `mapstructure:"bootstrap_enabled"`
	ReconcileCron      string `mapstructure:"reconcile_cron"`
	PruneBeyondHorizon bool   `mapstructure:"prune_beyond_horizon"`
}

type FinalizeConfig struct {
	Tick        time.Duration `mapstructure:"tick"`
	BatchSize   int           `mapstructure:"batch_size"`
	TimeBudget  time.Duration `mapstructure:"time_budget"`
	Parallelism int           `mapstructure:"parallelism"`
	MaxDefer    time.Duration `mapstructure:"max_defer"`
}

type BidConfig struct {
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type SSEConfig struct {
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Buffer    int           `mapstructure:"buffer"`
}

type ExtensionConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold time.Duration `mapstructure:"threshold"`
	ExtendBy  time.Duration `mapstructure:"extend_by"`
}

type ConsumerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RetryBatch   int           `mapstructure:"retry_batch"`
	ScanCount    int64         `mapstructure:"scan_count"`
}

type CacheConfig struct {
	EndedTTL time.Duration `mapstructure:"ended_ttl"`
}

type OutboxConfig struct {
	Cron      string `mapstructure:"cron"`
	BatchSize int    `mapstructure:"batch_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("admin.port", 8081)
	v.SetDefault("admin.host", "0.0.0.0")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("mysql.init_schema", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "AUCTION_EVENTS")
	v.SetDefault("nats.subject_prefix", "auction.events")
	v.SetDefault("leader.key", "auction:leader")
	v.SetDefault("leader.ttl", 30*time.Second)
	v.SetDefault("instance.id", "auction-engine-1")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("auction.deadline.horizon_days", 14)
	v.SetDefault("auction.deadline.bootstrap_enabled", true)
	v.SetDefault("auction.deadline.reconcile_cron", "0 */5 * * * *")
	v.SetDefault("auction.deadline.prune_beyond_horizon", true)
	v.SetDefault("auction.finalize.tick", time.Second)
	v.SetDefault("auction.finalize.batch_size", 100)
	v.SetDefault("auction.finalize.time_budget", 3*time.Second)
	v.SetDefault("auction.finalize.parallelism", 1)
	v.SetDefault("auction.finalize.max_defer", 30*time.Second)
	v.SetDefault("auction.bid.idempotency_ttl", 1800*time.Second)
	v.SetDefault("auction.sse.heartbeat", 15*time.Second)
	v.SetDefault("auction.sse.timeout", 30*time.Minute)
	v.SetDefault("auction.sse.buffer", 64)
	v.SetDefault("auction.extension.enabled", true)
	v.SetDefault("auction.extension.threshold", 60*time.Second)
	v.SetDefault("auction.extension.extend_by", 60*time.Second)
	v.SetDefault("auction.consumer.poll_interval", 200*time.Millisecond)
	v.SetDefault("auction.consumer.retry_batch", 50)
	v.SetDefault("auction.consumer.scan_count", 100)
	v.SetDefault("auction.cache.ended_ttl", 10*time.Minute)
	v.SetDefault("auction.outbox.cron", "*/5 * * * * *")
	v.SetDefault("auction.outbox.batch_size", 100)
}

var envBindings = map[string]string{
	"server.port":                         "SERVER_PORT",
	"server.host":                         "SERVER_HOST",
	"admin.port":                          "ADMIN_PORT",
	"redis.address":                       "REDIS_ADDRESS",
	"redis.password":                      "REDIS_PASSWORD",
	"redis.db":                            "REDIS_DB",
	"mysql.dsn":                           "MYSQL_DSN",
	"mysql.max_open_conns":                "MYSQL_MAX_OPEN_CONNS",
	"mysql.max_idle_conns":                "MYSQL_MAX_IDLE_CONNS",
	"mysql.conn_max_lifetime":             "MYSQL_CONN_MAX_LIFETIME",
	"mysql.init_schema":                   "MYSQL_INIT_SCHEMA",
	"nats.url":                            "NATS_URL",
	"leader.ttl":                          "LEADER_TTL",
	"instance.id":                         "INSTANCE_ID",
	"log.level":                           "LOG_LEVEL",
	"log.file":                            "LOG_FILE",
	"auction.deadline.horizon_days":       "AUCTION_DEADLINE_HORIZON_DAYS",
	"auction.deadline.bootstrap_enabled":  "AUCTION_DEADLINE_BOOTSTRAP_ENABLED",
	"auction.deadline.reconcile_cron":     "AUCTION_DEADLINE_RECONCILE_CRON",
	"auction.finalize.tick":               "AUCTION_FINALIZE_TICK",
	"auction.finalize.batch_size":         "AUCTION_FINALIZE_BATCH_SIZE",
	"auction.finalize.time_budget":        "AUCTION_FINALIZE_TIME_BUDGET",
	"auction.finalize.parallelism":        "AUCTION_FINALIZE_PARALLELISM",
	"auction.finalize.max_defer":          "AUCTION_FINALIZE_MAX_DEFER",
	"auction.bid.idempotency_ttl":         "AUCTION_BID_IDEMPOTENCY_TTL",
	"auction.sse.heartbeat":               "AUCTION_SSE_HEARTBEAT",
	"auction.sse.timeout":                 "AUCTION_SSE_TIMEOUT",
	"auction.extension.enabled":           "AUCTION_EXTENSION_ENABLED",
	"auction.extension.threshold":         "AUCTION_EXTENSION_THRESHOLD",
	"auction.extension.extend_by":         "AUCTION_EXTENSION_EXTEND_BY",
	"auction.consumer.poll_interval":      "AUCTION_CONSUMER_POLL_INTERVAL",
	"auction.cache.ended_ttl":             "AUCTION_CACHE_ENDED_TTL",
	"auction.outbox.cron":                 "AUCTION_OUTBOX_CRON",
}

func Load() (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/auction-engine/")

	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path on top of the defaults.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	d := c.Auction
	switch {
	case d.Deadline.HorizonDays <= 0:
		return fmt.Errorf("auction.deadline.horizon_days must be positive, got %d", d.Deadline.HorizonDays)
	case d.Finalize.BatchSize <= 0:
		return fmt.Errorf("auction.finalize.batch_size must be positive, got %d", d.Finalize.BatchSize)
	case d.Finalize.TimeBudget <= 0:
		return fmt.Errorf("auction.finalize.time_budget must be positive, got %s", d.Finalize.TimeBudget)
	case d.Finalize.Parallelism <= 0:
		return fmt.Errorf("auction.finalize.parallelism must be positive, got %d", d.Finalize.Parallelism)
	case d.Finalize.Tick <= 0:
		return fmt.Errorf("auction.finalize.tick must be positive, got %s", d.Finalize.Tick)
	case d.Finalize.MaxDefer < 0:
		return fmt.Errorf("auction.finalize.max_defer must not be negative, got %s", d.Finalize.MaxDefer)
	case d.Bid.IdempotencyTTL < time.Second:
		return fmt.Errorf("auction.bid.idempotency_ttl must be at least 1s, got %s", d.Bid.IdempotencyTTL)
	}
	return nil
}

// Horizon is the look-ahead window for the deadline index.
func (d DeadlineConfig) Horizon() time.Duration {
	return time.Duration(d.HorizonDays) * 24 * time.Hour
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Redis: %s, NATS: %s, Instance: %s",
		c.Server.Host,
		c.Server.Port,
		c.Redis.Address,
		c.NATS.URL,
		c.Instance.ID,
	)
}
