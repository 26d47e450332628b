package scheduler

import (
	"time"
)

// Config controls sweep cadence and retention windows.
type Config struct {
	RunInterval     time.Duration
	EventRetention  time.Duration
	DeleteBatchSize int
	LockTTL         time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     time.Hour,
		EventRetention:  90 * 24 * time.Hour,
		DeleteBatchSize: 500,
		LockTTL:         5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.EventRetention <= 0 {
		c.EventRetention = defaults.EventRetention
	}
	if c.DeleteBatchSize <= 0 {
		c.DeleteBatchSize = defaults.DeleteBatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
