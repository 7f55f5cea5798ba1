package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the usage service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Reports       ReportsConfig       `mapstructure:"reports"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
	TrustedProxies        []string      `mapstructure:"trusted_proxies"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"` // empty uses the embedded set
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MinConns        int32         `mapstructure:"min_conns"`
}

type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// OpTimeout bounds every limiter round trip so a slow cache degrades to the fallback.
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// TierConfig is the request quota attached to a named route tier.
type TierConfig struct {
	Limit      int           `mapstructure:"limit"`
	Window     time.Duration `mapstructure:"window"`
	FailClosed bool          `mapstructure:"fail_closed"`
}

type RateLimitConfig struct {
	Enabled  bool                  `mapstructure:"enabled"`
	Tiers    map[string]TierConfig `mapstructure:"tiers"`
	Fallback FallbackConfig        `mapstructure:"fallback"`
}

// FallbackConfig bounds the in-process limiter used while Redis is unreachable.
type FallbackConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
	AdminRole string `mapstructure:"admin_role"`
}

type ReportsConfig struct {
	Storage string             `mapstructure:"storage"`
	Prefix  string             `mapstructure:"prefix"`
	Local   ReportsLocalConfig `mapstructure:"local"`
	S3      ReportsS3Config    `mapstructure:"s3"`
}

type ReportsLocalConfig struct {
	Directory string `mapstructure:"directory"`
}

type ReportsS3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type CacheConfig struct {
	ResponseTTL        time.Duration `mapstructure:"response_ttl"`
	GenerationTTL      time.Duration `mapstructure:"generation_ttl"`
	GenerationCapacity int           `mapstructure:"generation_capacity"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("USAGE_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("usaged")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("USAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.URL == "" {
		missing = append(missing, "USAGE_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "USAGE_REDIS_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "USAGE_AUTH_JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if c.Redis.OpTimeout <= 0 {
		c.Redis.OpTimeout = 150 * time.Millisecond
	}
	if c.Redis.DialTimeout <= 0 {
		c.Redis.DialTimeout = time.Second
	}

	if err := c.RateLimits.validate(); err != nil {
		return err
	}
	if err := c.Reports.validate(); err != nil {
		return err
	}
	c.Cache.validate()

	if strings.TrimSpace(c.Auth.AdminRole) == "" {
		c.Auth.AdminRole = "admin"
	}
	return nil
}

func (r *RateLimitConfig) validate() error {
	if r.Fallback.MaxEntries <= 0 {
		r.Fallback.MaxEntries = 10_000
	}
	if r.Fallback.TTL <= 0 {
		r.Fallback.TTL = 10 * time.Minute
	}
	if !r.Enabled {
		return nil
	}
	if len(r.Tiers) == 0 {
		return fmt.Errorf("rate_limits.tiers must define at least one tier when rate limiting is enabled")
	}
	for _, name := range r.TierNames() {
		tier := r.Tiers[name]
		if tier.Limit <= 0 {
			return fmt.Errorf("rate_limits.tiers.%s.limit must be > 0", name)
		}
		if tier.Window <= 0 {
			return fmt.Errorf("rate_limits.tiers.%s.window must be > 0", name)
		}
	}
	return nil
}

// TierNames returns the configured tier names in a stable order.
func (r RateLimitConfig) TierNames() []string {
	names := make([]string, 0, len(r.Tiers))
	for name := range r.Tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ReportsConfig) validate() error {
	r.Storage = strings.ToLower(strings.TrimSpace(r.Storage))
	if r.Storage == "" {
		r.Storage = "local"
	}
	switch r.Storage {
	case "local":
		if strings.TrimSpace(r.Local.Directory) == "" {
			r.Local.Directory = "./data/reports"
		}
	case "s3":
		if strings.TrimSpace(r.S3.Bucket) == "" {
			return fmt.Errorf("reports.s3.bucket must be provided for s3 storage")
		}
	default:
		return fmt.Errorf("reports.storage must be local or s3")
	}
	r.Prefix = strings.Trim(r.Prefix, "/")
	return nil
}

func (c *CacheConfig) validate() {
	if c.ResponseTTL < 0 {
		c.ResponseTTL = 0
	}
	if c.GenerationTTL <= 0 {
		c.GenerationTTL = 24 * time.Hour
	}
	if c.GenerationCapacity <= 0 {
		c.GenerationCapacity = 30
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 4)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "1s")
	v.SetDefault("redis.op_timeout", "150ms")

	v.SetDefault("rate_limits.enabled", true)
	v.SetDefault("rate_limits.tiers", map[string]any{
		"tier_b": map[string]any{"limit": 10, "window": "1m", "fail_closed": false},
		"tier_c": map[string]any{"limit": 120, "window": "1m", "fail_closed": false},
	})
	v.SetDefault("rate_limits.fallback.max_entries", 10_000)
	v.SetDefault("rate_limits.fallback.ttl", "10m")

	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.admin_role", "admin")

	v.SetDefault("reports.storage", "local")
	v.SetDefault("reports.prefix", "usage-reports")
	v.SetDefault("reports.local.directory", "./data/reports")

	v.SetDefault("cache.response_ttl", "60s")
	v.SetDefault("cache.generation_ttl", "24h")
	v.SetDefault("cache.generation_capacity", 30)

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.compress", true)
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
