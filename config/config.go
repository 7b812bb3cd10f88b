package config

import (
	"os"
	"strings"
	"time"

	"github.com/denismitr/voltha/kvstore"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	envComponentName = "COMPONENT_NAME"
	envLogLevel      = "VOLTHA_LOG_LEVEL"
	envInstanceID    = "VOLTHA_INSTANCE_ID"
	envKVPath        = "VOLTHA_KV_PATH"
)

type Config struct {
	InstanceID string          `yaml:"instance_id"`
	Component  string          `yaml:"component"`
	LogLevel   string          `yaml:"log_level"`
	KV         KVConfig        `yaml:"kv"`
	Messaging  MessagingConfig `yaml:"messaging"`
	Omci       OmciConfig      `yaml:"omci"`
	Pm         PmConfig        `yaml:"pm"`
}

type KVConfig struct {
	Path              string        `yaml:"path"`
	Persistence       string        `yaml:"persistence"`
	LazyLoad          bool          `yaml:"lazy_load"`
	DisableAutoVacuum bool          `yaml:"disable_auto_vacuum"`
	VacuumInterval    time.Duration `yaml:"vacuum_interval"`
	VacuumMinDeletes  uint64        `yaml:"vacuum_min_deletes"`
}

type MessagingConfig struct {
	CoreTopic      string `yaml:"core_topic"`
	EventTopic     string `yaml:"event_topic"`
	AdapterTopic   string `yaml:"adapter_topic"`
	CurrentReplica int    `yaml:"current_replica"`
	TotalReplicas  int    `yaml:"total_replicas"`
}

type OmciConfig struct {
	// AlarmAuditDelay of 0 disables periodic alarm audits
	AlarmAuditDelay time.Duration `yaml:"alarm_audit_delay"`
	TimeoutDelay    time.Duration `yaml:"timeout_delay"`
	TestFrequency   time.Duration `yaml:"test_frequency"`
}

type PmConfig struct {
	DefaultFrequency time.Duration `yaml:"default_frequency"`
	MetricsAddr      string        `yaml:"metrics_addr"`
}

func Default() *Config {
	return &Config{
		InstanceID: "voltha-adapter-1",
		Component:  "adapter-open-onu",
		LogLevel:   "WARN",
		KV: KVConfig{
			Path:             "voltha.vdb",
			Persistence:      string(kvstore.Sync),
			VacuumInterval:   10 * time.Minute,
			VacuumMinDeletes: 1000,
		},
		Messaging: MessagingConfig{
			CoreTopic:      "rwcore",
			EventTopic:     "voltha.events",
			AdapterTopic:   "openonu",
			CurrentReplica: 1,
			TotalReplicas:  1,
		},
		Omci: OmciConfig{
			AlarmAuditDelay: 180 * time.Second,
			TimeoutDelay:    15 * time.Second,
			TestFrequency:   600 * time.Second,
		},
		Pm: PmConfig{
			DefaultFrequency: 900 * time.Second,
			MetricsAddr:      ":9102",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path yields the defaults with overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read config %s", path)
		}

		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "could not parse %s: %v", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envComponentName); v != "" {
		c.Component = v
	}

	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = strings.ToUpper(v)
	}

	if v := os.Getenv(envInstanceID); v != "" {
		c.InstanceID = v
	}

	if v := os.Getenv(envKVPath); v != "" {
		c.KV.Path = v
	}
}

func (c *Config) Validate() error {
	if c.Component == "" {
		return errors.Wrap(ErrInvalidConfig, "component can't be empty")
	}

	if c.Messaging.CurrentReplica > c.Messaging.TotalReplicas {
		return errors.Wrapf(
			ErrInvalidConfig,
			"current_replica (%d) can't be greater than total_replicas (%d)",
			c.Messaging.CurrentReplica, c.Messaging.TotalReplicas,
		)
	}

	if c.Omci.AlarmAuditDelay < 0 {
		return errors.Wrapf(ErrInvalidConfig, "alarm_audit_delay %s must be positive or 0", c.Omci.AlarmAuditDelay)
	}

	switch kvstore.PersistenceStrategy(c.KV.Persistence) {
	case kvstore.Sync, kvstore.Async, "":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown kv persistence %q", c.KV.Persistence)
	}

	return nil
}

// StoreConfig translates the kv section into the engine config
func (c *Config) StoreConfig(lg *zap.Logger) *kvstore.Config {
	cfg := &kvstore.Config{
		PersistenceStrategy: kvstore.PersistenceStrategy(c.KV.Persistence),
		DisableAutoVacuum:   c.KV.DisableAutoVacuum,
		AutoVacuumIntervals: c.KV.VacuumInterval,
		AutoVacuumMinSize:   c.KV.VacuumMinDeletes,
		Logger:              lg,
	}

	if c.KV.LazyLoad {
		cfg.ValueLoadStrategy = kvstore.LazyLoad
	}

	return cfg
}
