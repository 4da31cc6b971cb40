package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Cache    CacheConfig    `mapstructure:"cache"`

	Instrumentation InstrumentationConfig `mapstructure:"instrumentation"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	AdminEmail      string        `mapstructure:"admin_email"`
	AdminPassword   string        `mapstructure:"admin_password"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"` // "dev" or "prod"
}

type InstrumentationConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	SamplingRate    float64 `mapstructure:"sampling_rate"`
	BufferSize      int     `mapstructure:"buffer_size"`
	FlushIntervalMs int     `mapstructure:"flush_interval_ms"`
}

// CacheConfig sizes the compiled expression cache.
type CacheConfig struct {
	ExpressionCounters int64 `mapstructure:"expression_counters"`
	ExpressionMaxCost  int64 `mapstructure:"expression_max_cost"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.IsSQLite() {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

// Load reads app.yaml from the given directories (current directory when none
// are given), then applies OPTCOND_* environment overrides. A .env file in the
// working directory is loaded into the environment first if present.
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "../.."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.SetEnvPrefix("OPTCOND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "optcond")
	v.SetDefault("database.password", "optcond")
	v.SetDefault("database.name", "optcond")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("auth.jwt_secret", "changeme-secret")
	v.SetDefault("auth.issuer", "optcond")
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.admin_email", "admin@localhost")
	v.SetDefault("auth.admin_password", "changeme")
	v.SetDefault("log.mode", "dev")
	v.SetDefault("cache.expression_counters", 10000)
	v.SetDefault("cache.expression_max_cost", 1000)
	v.SetDefault("instrumentation.enabled", true)
	v.SetDefault("instrumentation.sampling_rate", 1.0)
	v.SetDefault("instrumentation.buffer_size", 500)
	v.SetDefault("instrumentation.flush_interval_ms", 1000)
}
