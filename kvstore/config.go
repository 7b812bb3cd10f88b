package kvstore

import (
	"github.com/pbnjay/memory"
	"go.uber.org/zap"
	"time"
)

const defaultAutoVacuumMinSize uint64 = 1000
const defaultCacheShards = 16
const fallbackCacheSize uint64 = 64 << 20

var defaultAutovacuumIntervals = 10 * time.Minute
var defaultPersistenceIntervals = 1 * time.Second

type Config struct {
	PersistenceStrategy       PersistenceStrategy
	ValueLoadStrategy         ValueLoadStrategy
	TruncateFileWhenOpen      bool
	AsyncPersistenceIntervals time.Duration
	DisableAutoVacuum         bool
	AutoVacuumOnlyOnClose     bool
	AutoVacuumMinSize         uint64
	AutoVacuumIntervals       time.Duration
	// MaxCacheSize bounds the lazy load value cache in bytes,
	// one percent of the host memory by default
	MaxCacheSize uint64
	CacheShards  int
	Logger       *zap.Logger
}

// withDefaults returns a copy of cfg with every zero value defaulted
func (cfg *Config) withDefaults() *Config {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}

	if c.PersistenceStrategy == "" {
		c.PersistenceStrategy = Sync
	}

	if c.PersistenceStrategy == Async && c.AsyncPersistenceIntervals == 0 {
		c.AsyncPersistenceIntervals = defaultPersistenceIntervals
	}

	if c.ValueLoadStrategy == "" {
		c.ValueLoadStrategy = EagerLoad
	}

	if c.AutoVacuumIntervals == 0 {
		c.AutoVacuumIntervals = defaultAutovacuumIntervals
	}

	if c.AutoVacuumMinSize == 0 {
		c.AutoVacuumMinSize = defaultAutoVacuumMinSize
	}

	if c.CacheShards == 0 {
		c.CacheShards = defaultCacheShards
	}

	if c.MaxCacheSize == 0 {
		c.MaxCacheSize = memory.TotalMemory() / 100
		if c.MaxCacheSize == 0 {
			c.MaxCacheSize = fallbackCacheSize
		}
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &c
}
