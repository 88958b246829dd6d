package db

import (
	"strings"
	"time"

	"github.com/smallbiznis/pmacctstats/internal/config"
)

type Config struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// FromStore merges one store section of the configuration file with the
// shared pool settings.
func FromStore(store config.StoreConfig, pool config.PoolConfig) Config {
	cfg := Config{
		Type:            strings.ToLower(strings.TrimSpace(store.Adapter)),
		Host:            store.Host,
		Port:            store.Port,
		Name:            store.Database,
		User:            store.Username,
		Password:        store.Password,
		SSLMode:         "disable",
		MaxIdleConn:     pool.MaxIdleConn,
		MaxOpenConn:     pool.MaxOpenConn,
		ConnMaxLifetime: pool.ConnMaxLifetime,
		ConnMaxIdleTime: pool.ConnMaxIdleTime,
	}
	if cfg.Type == "" {
		cfg.Type = "mysql"
	}
	if cfg.Port == "" {
		switch cfg.Type {
		case "mysql":
			cfg.Port = "3306"
		case "postgres":
			cfg.Port = "5432"
		}
	}
	return cfg
}
