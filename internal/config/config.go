package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

const DefaultConfigFile = "/etc/pmacctstats.conf"

const (
	FailurePolicyAbort    = "abort"
	FailurePolicyContinue = "continue"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration. It is built once per process and
// never mutated afterwards.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ConfigFile  string

	Networks    []netip.Prefix
	Source      StoreConfig
	Destination StoreConfig

	Location      *time.Location
	FailurePolicy string
	DayTimeout    time.Duration
	RunInterval   time.Duration

	Pool    PoolConfig
	Connect ConnectConfig
	Lock    LockConfig
	Metrics MetricsConfig
	Log     LogConfig
	Otel    OtelConfig

	HTTPAddr string
}

type PoolConfig struct {
	MaxOpenConn     int
	MaxIdleConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ConnectConfig bounds the retry loop used when opening a store.
type ConnectConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

type LockConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Key           string
	TTL           time.Duration
}

func (c LockConfig) Enabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

type MetricsConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
}

type LogConfig struct {
	Level     string
	Format    string
	SlowQuery time.Duration
	SQL       bool
}

type OtelConfig struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	SamplingRatio    float64
}

// Load reads runtime settings from the environment (and an optional .env
// file), then the INI file they point at. Any failure is returned as *Error.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadFrom(newEnv())
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PMACCTSTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.name", "pmacctstats")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("environment", "development")
	v.SetDefault("config.file", DefaultConfigFile)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("failure.policy", FailurePolicyAbort)
	v.SetDefault("day.timeout", "30m")
	v.SetDefault("run.interval", "1h")

	v.SetDefault("db.max.open.conns", 4)
	v.SetDefault("db.max.idle.conns", 2)
	v.SetDefault("db.conn.max.lifetime", "30m")
	v.SetDefault("db.conn.max.idle.time", "5m")

	v.SetDefault("connect.max.retries", 5)
	v.SetDefault("connect.initial.interval", "500ms")
	v.SetDefault("connect.max.interval", "10s")
	v.SetDefault("connect.max.elapsed", "1m")

	v.SetDefault("lock.redis.addr", "")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("lock.key", "pmacctstats:import")
	v.SetDefault("lock.ttl", "5m")

	v.SetDefault("metrics.exporter", "")
	v.SetDefault("metrics.endpoint", "")
	v.SetDefault("metrics.auth.token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.slow.query", "2s")
	v.SetDefault("log.sql", false)

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.exporter.endpoint", "localhost:4317")
	v.SetDefault("otel.exporter.protocol", "grpc")
	v.SetDefault("otel.sampling.ratio", 0.1)

	v.SetDefault("http.addr", ":9464")
	return v
}

func loadFrom(v *viper.Viper) (Config, error) {
	path := strings.TrimSpace(v.GetString("config.file"))
	if path == "" {
		path = DefaultConfigFile
	}
	file, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}

	tz := strings.TrimSpace(v.GetString("timezone"))
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, &Error{Kind: ErrConfigInvalid, Fields: []string{"timezone"}, Err: err}
	}

	policy := strings.ToLower(strings.TrimSpace(v.GetString("failure.policy")))
	switch policy {
	case FailurePolicyAbort, FailurePolicyContinue:
	default:
		return Config{}, &Error{Kind: ErrConfigInvalid, Fields: []string{"failure_policy"},
			Err: fmt.Errorf("unknown failure policy %q", policy)}
	}

	cfg := Config{
		AppName:     strings.TrimSpace(v.GetString("app.name")),
		AppVersion:  strings.TrimSpace(v.GetString("app.version")),
		Environment: strings.TrimSpace(v.GetString("environment")),
		ConfigFile:  path,

		Networks:    file.Networks,
		Source:      file.Source,
		Destination: file.Destination,

		Location:      loc,
		FailurePolicy: policy,
		DayTimeout:    v.GetDuration("day.timeout"),
		RunInterval:   v.GetDuration("run.interval"),

		Pool: PoolConfig{
			MaxOpenConn:     v.GetInt("db.max.open.conns"),
			MaxIdleConn:     v.GetInt("db.max.idle.conns"),
			ConnMaxLifetime: v.GetDuration("db.conn.max.lifetime"),
			ConnMaxIdleTime: v.GetDuration("db.conn.max.idle.time"),
		},
		Connect: ConnectConfig{
			MaxRetries:      v.GetUint64("connect.max.retries"),
			InitialInterval: v.GetDuration("connect.initial.interval"),
			MaxInterval:     v.GetDuration("connect.max.interval"),
			MaxElapsed:      v.GetDuration("connect.max.elapsed"),
		},
		Lock: LockConfig{
			RedisAddr:     strings.TrimSpace(v.GetString("lock.redis.addr")),
			RedisPassword: v.GetString("lock.redis.password"),
			RedisDB:       v.GetInt("lock.redis.db"),
			Key:           strings.TrimSpace(v.GetString("lock.key")),
			TTL:           v.GetDuration("lock.ttl"),
		},
		Metrics: MetricsConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(v.GetString("metrics.exporter"))),
			Endpoint:  strings.TrimSpace(v.GetString("metrics.endpoint")),
			AuthToken: strings.TrimSpace(v.GetString("metrics.auth.token")),
		},
		Log: LogConfig{
			Level:     strings.ToLower(strings.TrimSpace(v.GetString("log.level"))),
			Format:    strings.ToLower(strings.TrimSpace(v.GetString("log.format"))),
			SlowQuery: v.GetDuration("log.slow.query"),
			SQL:       v.GetBool("log.sql"),
		},
		Otel: OtelConfig{
			Enabled:          v.GetBool("otel.enabled"),
			ExporterEndpoint: strings.TrimSpace(v.GetString("otel.exporter.endpoint")),
			ExporterProtocol: strings.ToLower(strings.TrimSpace(v.GetString("otel.exporter.protocol"))),
			SamplingRatio:    v.GetFloat64("otel.sampling.ratio"),
		},
		HTTPAddr: strings.TrimSpace(v.GetString("http.addr")),
	}
	if cfg.DayTimeout <= 0 {
		return Config{}, &Error{Kind: ErrConfigInvalid, Fields: []string{"day_timeout"}, Err: errors.New("must be positive")}
	}
	return cfg, nil
}

// IsDev reports whether the process runs in a developer environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
