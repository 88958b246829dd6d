package scheduler

import (
	"time"

	"github.com/smallbiznis/pmacctstats/internal/config"
)

// Config controls the run loop, per-day limits and failure handling.
type Config struct {
	RunInterval   time.Duration
	DayTimeout    time.Duration
	FailurePolicy string
	Location      *time.Location
	LockKey       string
	LockTTL       time.Duration
	PushTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:   time.Hour,
		DayTimeout:    30 * time.Minute,
		FailurePolicy: config.FailurePolicyAbort,
		Location:      time.UTC,
		LockKey:       "pmacctstats:import",
		LockTTL:       5 * time.Minute,
		PushTimeout:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.DayTimeout <= 0 {
		c.DayTimeout = defaults.DayTimeout
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = defaults.FailurePolicy
	}
	if c.Location == nil {
		c.Location = defaults.Location
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = defaults.PushTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:   cfg.RunInterval,
		DayTimeout:    cfg.DayTimeout,
		FailurePolicy: cfg.FailurePolicy,
		Location:      cfg.Location,
		LockKey:       cfg.Lock.Key,
		LockTTL:       cfg.Lock.TTL,
	}
}
