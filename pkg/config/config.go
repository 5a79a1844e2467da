package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Tick backends.
const (
	BackendMemory     = "memory"
	BackendClickHouse = "clickhouse"
	BackendKafka      = "kafka"
	BackendPostgres   = "postgres"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`

	Log struct {
		Level       string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error fatal panic"`
		Format      string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output      string `yaml:"output" default:"stdout"`
		CollectWarn bool   `yaml:"collect_warn"`
		Collector   struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
			Topic     string        `yaml:"topic" default:"error_logs"`
		} `yaml:"collector"`
	} `yaml:"log"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Engine     Engine     `yaml:"engine"`
	Binance    Binance    `yaml:"binance"`
	Pipeline   Pipeline   `yaml:"pipeline"`
	Indicators Indicators `yaml:"indicators"`
	Strategy   Strategy   `yaml:"strategy"`
	Selector   Selector   `yaml:"selector"`
	Aggregator Aggregator `yaml:"aggregator"`

	Storage struct {
		// TickBackend receives persisted ticks: memory, clickhouse, or kafka
		// (published, then written to ClickHouse by the consumer).
		TickBackend string `yaml:"tick_backend" default:"memory" validate:"oneof=memory clickhouse kafka"`
		// StateBackend holds simulations, trades and performance records.
		StateBackend string        `yaml:"state_backend" default:"memory" validate:"oneof=memory postgres"`
		BatchSize    int           `yaml:"batch_size" default:"500" validate:"gt=0"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"2s"`
	} `yaml:"storage"`

	Kafka struct {
		Enabled        bool     `yaml:"enabled"`
		Brokers        []string `yaml:"brokers"`
		TicksTopic     string   `yaml:"ticks_topic" default:"signaldesk.ticks"`
		DecisionsTopic string   `yaml:"decisions_topic" default:"signaldesk.decisions"`
		TradesTopic    string   `yaml:"trades_topic" default:"signaldesk.trades"`
		RequiredAcks   int      `yaml:"required_acks" default:"-1"`
		Compression    string   `yaml:"compression" default:"snappy"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"signaldesk-ticks"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"1000"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"signaldesk.ticks.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"signaldesk"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`

	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
		AutoMigrate     bool          `yaml:"auto_migrate" default:"true"`
	} `yaml:"postgres"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"20"`
		Prefix   string `yaml:"prefix" default:"signaldesk"`
	} `yaml:"redis"`

	Cache struct {
		// Backend is memory, redis, or layered (memory in front of redis).
		Backend       string `yaml:"backend" default:"memory" validate:"oneof=memory redis layered"`
		MemoryMaxSize int    `yaml:"memory_max_size" default:"10000"`
	} `yaml:"cache"`

	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers" default:"2"`
		RetryLimit int           `yaml:"retry_limit" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
	} `yaml:"queue"`
}

type Engine struct {
	Symbols         []string      `yaml:"symbols" default:"[\"BTCUSDT\",\"ETHUSDT\"]"`
	AutoStart       bool          `yaml:"auto_start" default:"true"`
	MaxHistorySize  int           `yaml:"max_history_size" default:"500" validate:"gte=50"`
	UpdateInterval  time.Duration `yaml:"update_interval" default:"10s"`
	PersistInterval time.Duration `yaml:"persist_interval" default:"60s"`
	CacheTTL        time.Duration `yaml:"cache_ttl" default:"30s"`
	DecisionTTL     time.Duration `yaml:"decision_ttl" default:"60s"`
	Backfill        struct {
		Enabled  bool   `yaml:"enabled" default:"true"`
		Limit    int    `yaml:"limit" default:"100" validate:"gte=0,lte=1000"`
		Interval string `yaml:"interval" default:"1m"`
	} `yaml:"backfill"`
}

type Binance struct {
	RESTURL        string        `yaml:"rest_url" default:"https://api.binance.com" validate:"url"`
	StreamURL      string        `yaml:"stream_url" default:"wss://stream.binance.com:9443" validate:"url"`
	StreamLimit    int           `yaml:"stream_limit" default:"200" validate:"gt=0,lte=1024"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
	RateLimit      struct {
		Capacity     int     `yaml:"capacity" default:"20"`
		RefillPerSec float64 `yaml:"refill_per_sec" default:"10"`
	} `yaml:"rate_limit"`
}

type Pipeline struct {
	MaxRPS     int `yaml:"max_rps" default:"20"` // per symbol
	BufferSize int `yaml:"buffer_size" default:"1000"`
}

type Indicators struct {
	VolatileThreshold float64 `yaml:"volatile_threshold" default:"3"`
	TrendThreshold    float64 `yaml:"trend_threshold" default:"1"`
}

type Strategy struct {
	KellyMin float64 `yaml:"kelly_min" default:"0.01" validate:"gte=0,lte=1"`
	KellyMax float64 `yaml:"kelly_max" default:"0.25" validate:"gte=0,lte=1"`
}

type Selector struct {
	ProfitMaxMultiplier float64 `yaml:"profit_max_multiplier" default:"1.2"`
	RiskRewardHigh      float64 `yaml:"risk_reward_high" default:"3"`
	RiskRewardHighBonus float64 `yaml:"risk_reward_high_bonus" default:"1.15"`
	RiskRewardLow       float64 `yaml:"risk_reward_low" default:"2"`
	RiskRewardLowBonus  float64 `yaml:"risk_reward_low_bonus" default:"1.05"`
	AgreementBonus      float64 `yaml:"agreement_bonus" default:"5"`
	MaxConfidence       float64 `yaml:"max_confidence" default:"95" validate:"gt=0,lte=100"`
}

type Aggregator struct {
	Enabled  bool          `yaml:"enabled" default:"true"`
	Interval time.Duration `yaml:"interval" default:"5m"`
	// UseQueue dispatches units through the Redis queue instead of running them inline.
	UseQueue bool `yaml:"use_queue"`
}

// Default returns a configuration populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads .env (if present), the YAML file, then applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Engine.Symbols = splitList(v)
	}
	if v := os.Getenv("TICK_BACKEND"); v != "" {
		c.Storage.TickBackend = v
	}
	if v := os.Getenv("STATE_BACKEND"); v != "" {
		c.Storage.StateBackend = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = validator.New()

// Validate checks struct tags and the rules that span several sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Strategy.KellyMin > c.Strategy.KellyMax {
		return fmt.Errorf("strategy.kelly_min (%v) exceeds kelly_max (%v)", c.Strategy.KellyMin, c.Strategy.KellyMax)
	}
	if c.Engine.UpdateInterval <= 0 || c.Engine.PersistInterval < 0 {
		return fmt.Errorf("engine intervals must be positive")
	}
	if c.Binance.ReconnectDelay <= 0 {
		return fmt.Errorf("binance.reconnect_delay must be positive")
	}
	needsKafka := c.Storage.TickBackend == BackendKafka || c.Kafka.Enabled
	if needsKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is used")
	}
	if c.Storage.StateBackend == BackendPostgres && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required for state_backend=postgres")
	}
	needsRedis := c.Cache.Backend != "memory" || c.Queue.Enabled || c.Aggregator.UseQueue || c.Log.Collector.Enabled
	if needsRedis && !c.Redis.Enabled {
		return fmt.Errorf("redis must be enabled for cache.backend=%s, queue or log collector", c.Cache.Backend)
	}
	if c.Aggregator.UseQueue && !c.Queue.Enabled {
		return fmt.Errorf("aggregator.use_queue requires queue.enabled")
	}
	return nil
}

// RedisAddr joins host and port.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
