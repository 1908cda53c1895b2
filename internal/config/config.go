// Package config loads service configuration from an optional file and
// KYBMON_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"kybmon/internal/connectors"
)

type Config struct {
	Env       string                  `mapstructure:"env"`
	Server    ServerConfig            `mapstructure:"server"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Redis     RedisConfig             `mapstructure:"redis"`
	Cache     CacheConfig             `mapstructure:"cache"`
	Workers   WorkersConfig           `mapstructure:"workers"`
	Log       LogConfig               `mapstructure:"log"`
	Gateway   GatewayConfig           `mapstructure:"gateway"`
	Sanctions SanctionsConfig         `mapstructure:"sanctions"`
	Sources   map[string]SourceConfig `mapstructure:"sources" validate:"dive"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	// WaitTimeout bounds synchronous cycle requests.
	WaitTimeout time.Duration `mapstructure:"waitTimeout"`
}

type DatabaseConfig struct {
	URL      string        `mapstructure:"url"`
	MaxConns int32         `mapstructure:"maxConns" validate:"gte=0"`
	JobLease time.Duration `mapstructure:"jobLease"`
}

// RedisConfig backs rate-limit counters and optionally the cache. An empty
// Addr keeps counters in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Backend    string        `mapstructure:"backend" validate:"oneof=memory redis badger"`
	BadgerPath string        `mapstructure:"badgerPath" validate:"required_if=Backend badger"`
	GCInterval time.Duration `mapstructure:"gcInterval"`
}

type WorkersConfig struct {
	Concurrency     int           `mapstructure:"concurrency" validate:"gte=0"`
	PollInterval    time.Duration `mapstructure:"pollInterval" validate:"gt=0"`
	TaskTimeout     time.Duration `mapstructure:"taskTimeout"`
	MaxAttempts     int           `mapstructure:"maxAttempts" validate:"gte=1"`
	RetryBase       time.Duration `mapstructure:"retryBase"`
	RetryMaxDelay   time.Duration `mapstructure:"retryMaxDelay"`
	EnqueueInterval time.Duration `mapstructure:"enqueueInterval"`
	EnqueueBatch    int           `mapstructure:"enqueueBatch" validate:"gte=0"`
	RetentionEvery  time.Duration `mapstructure:"retentionEvery"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// GatewayConfig locates the source gateway. A source's endpoint is
// BaseURL/<source> unless overridden under sources.
type GatewayConfig struct {
	BaseURL string        `mapstructure:"baseURL"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SanctionsConfig struct {
	MinMatchScore float64 `mapstructure:"minMatchScore" validate:"gte=0,lte=1"`
}

// SourceConfig overrides the built-in policy of one source. Zero fields keep
// the default.
type SourceConfig struct {
	URL          string        `mapstructure:"url" validate:"omitempty,url"`
	RateBudget   int           `mapstructure:"rateBudget" validate:"gte=0"`
	RateWindow   time.Duration `mapstructure:"rateWindow"`
	CacheTTL     time.Duration `mapstructure:"cacheTTL"`
	StaleTTL     time.Duration `mapstructure:"staleTTL"`
	MaxRetries   int           `mapstructure:"maxRetries" validate:"gte=0"`
	Timeout      time.Duration `mapstructure:"timeout"`
	BatchWorkers int           `mapstructure:"batchWorkers" validate:"gte=0"`
}

var validate = validator.New()

// Load reads configPath when given, then applies environment overrides such
// as KYBMON_DATABASE_URL or KYBMON_WORKERS_CONCURRENCY.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KYBMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.waitTimeout", 2*time.Minute)
	v.SetDefault("database.url", "")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.jobLease", 30*time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.badgerPath", "")
	v.SetDefault("cache.gcInterval", 10*time.Minute)
	v.SetDefault("workers.concurrency", 4)
	v.SetDefault("workers.pollInterval", 500*time.Millisecond)
	v.SetDefault("workers.taskTimeout", 15*time.Minute)
	v.SetDefault("workers.maxAttempts", 3)
	v.SetDefault("workers.retryBase", 30*time.Second)
	v.SetDefault("workers.retryMaxDelay", 10*time.Minute)
	v.SetDefault("workers.enqueueInterval", time.Minute)
	v.SetDefault("workers.enqueueBatch", 500)
	v.SetDefault("workers.retentionEvery", 24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("gateway.baseURL", "http://localhost:9090")
	v.SetDefault("gateway.timeout", time.Minute)
	v.SetDefault("sanctions.minMatchScore", 0.5)
}

// SourcePolicy returns the built-in policy for source with configured
// overrides applied.
func (c Config) SourcePolicy(source string) connectors.SourcePolicy {
	p := connectors.DefaultPolicy(source)
	o, ok := c.Sources[source]
	if !ok {
		return p
	}
	if o.RateBudget > 0 {
		p.RateBudget = o.RateBudget
	}
	if o.RateWindow > 0 {
		p.RateWindow = o.RateWindow
	}
	if o.CacheTTL > 0 {
		p.CacheTTL = o.CacheTTL
	}
	if o.StaleTTL > 0 {
		p.StaleTTL = o.StaleTTL
	}
	if o.MaxRetries > 0 {
		p.MaxRetries = o.MaxRetries
	}
	if o.Timeout > 0 {
		p.Timeout = o.Timeout
	}
	if o.BatchWorkers > 0 {
		p.BatchWorkers = o.BatchWorkers
	}
	return p
}

func (c Config) SourceURL(source string) string {
	if o, ok := c.Sources[source]; ok && o.URL != "" {
		return o.URL
	}
	return strings.TrimRight(c.Gateway.BaseURL, "/") + "/" + source
}

// NewLogger builds the process logger from the log section.
func (c Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		log.WithField("level", c.Log.Level).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
