package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/screa/zerobits-miner/internal/digest"
	"github.com/screa/zerobits-miner/internal/logger"
	"github.com/screa/zerobits-miner/pkg/types"
)

// defaults
const (
	DefaultMaxHashRate = 100000
	DefaultModule      = digest.SHA256
	DefaultLogInterval = 5 // seconds

	defaultLogFile  = "zerobits-miner.log"
	defaultLogCount = 10          // number of log files retained
	defaultLogSize  = 1024 * 1024 // rotate when the log file exceeds this size
)

// Errors
var (
	ErrInvalidDuration    = types.ConfigError("duration must not be negative")
	ErrInvalidLogInterval = types.ConfigError("log interval must be positive")
)

// Config holds the application configuration
type Config struct {
	Workers     int                  `gluamapper:"workers"`
	MaxHashRate int                  `gluamapper:"max_hash_rate"` // per unit, hashes/sec
	Module      string               `gluamapper:"module"`
	Duration    int                  `gluamapper:"duration"`     // seconds, 0 runs until interrupted
	LogInterval int                  `gluamapper:"log_interval"` // seconds
	Verbose     bool                 `gluamapper:"verbose"`
	Logging     logger.Configuration `gluamapper:"logging"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Workers:     runtime.NumCPU(),
		MaxHashRate: DefaultMaxHashRate,
		Module:      DefaultModule,
		LogInterval: DefaultLogInterval,
		Logging: logger.Configuration{
			Directory: os.TempDir(),
			File:      defaultLogFile,
			Size:      defaultLogSize,
			Count:     defaultLogCount,
			Levels: map[string]string{
				logger.DefaultTag: "info",
			},
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return types.ErrInvalidUnitCount
	}
	if c.MaxHashRate <= 0 {
		return types.ErrInvalidHashRate
	}
	if strings.TrimSpace(c.Module) == "" {
		return types.ErrNoModule
	}
	if c.Duration < 0 {
		return ErrInvalidDuration
	}
	if c.LogInterval <= 0 {
		return ErrInvalidLogInterval
	}
	return nil
}

// RunDuration returns how long to run, zero meaning until interrupted
func (c *Config) RunDuration() time.Duration {
	return time.Duration(c.Duration) * time.Second
}

// ProgressInterval returns the progress logging interval
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.LogInterval) * time.Second
}

// Description returns a human-readable summary of the run
func (c *Config) Description() string {
	d := fmt.Sprintf("%d units, module %s, max %d H/s per unit", c.Workers, c.Module, c.MaxHashRate)
	if c.Duration > 0 {
		d += fmt.Sprintf(", for %v", c.RunDuration())
	}
	return d
}
