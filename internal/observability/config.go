package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/pmacctstats/internal/config"
)

// Config holds observability settings derived from the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Development bool

	LogLevel  string
	LogFormat string
	SlowQuery time.Duration
	LogSQL    bool

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "pmacctstats"
	}
	logLevel := cfg.Log.Level
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := cfg.Log.Format
	if logFormat == "" {
		logFormat = "json"
	}
	protocol := cfg.Otel.ExporterProtocol
	if protocol == "" {
		protocol = "grpc"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		Development:          cfg.IsDev(),
		LogLevel:             logLevel,
		LogFormat:            logFormat,
		SlowQuery:            cfg.Log.SlowQuery,
		LogSQL:               cfg.Log.SQL,
		OtelEnabled:          cfg.Otel.Enabled,
		OtelExporterEndpoint: cfg.Otel.ExporterEndpoint,
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    cfg.Otel.SamplingRatio,
	}
}

// Debug enables stack traces on errors.
func (c Config) Debug() bool {
	return c.Development || strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug")
}
