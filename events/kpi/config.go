package kpi

import (
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
)

var ErrNonGroupedConfig = errors.New("only grouped pm configs are supported")

type MetricType int32

const (
	Counter MetricType = iota
	Gauge
	State
	Context
)

func (t MetricType) String() string {
	switch t {
	case Counter:
		return "COUNTER"
	case Gauge:
		return "GAUGE"
	case State:
		return "STATE"
	case Context:
		return "CONTEXT"
	}
	return "UNKNOWN"
}

// PmConfig configures a single metric, SampleFreq is in seconds
type PmConfig struct {
	Name       string     `json:"name"`
	Type       MetricType `json:"type"`
	Enabled    bool       `json:"enabled"`
	SampleFreq uint32     `json:"sample_freq,omitempty"`
}

type PmGroupConfig struct {
	GroupName string      `json:"group_name"`
	GroupFreq uint32      `json:"group_freq"`
	Enabled   bool        `json:"enabled"`
	Metrics   []*PmConfig `json:"metrics"`
}

// PmConfigs is the whole PM configuration of a device, frequencies in seconds
type PmConfigs struct {
	ID           string           `json:"id"`
	DefaultFreq  uint32           `json:"default_freq"`
	Grouped      bool             `json:"grouped"`
	FreqOverride bool             `json:"freq_override"`
	Groups       []*PmGroupConfig `json:"groups"`
	Metrics      []*PmConfig      `json:"metrics"`
}

// Group finds a group config by name
func (c *PmConfigs) Group(name string) *PmGroupConfig {
	for _, g := range c.Groups {
		if g.GroupName == name {
			return g
		}
	}
	return nil
}

// Clone returns a deep copy of the configs
func (c *PmConfigs) Clone() (*PmConfigs, error) {
	out := &PmConfigs{}
	if err := copier.CopyWithOption(out, c, copier.Option{DeepCopy: true}); err != nil {
		return nil, errors.Wrap(err, "could not copy pm configs")
	}
	return out, nil
}

func cloneGroup(g *PmGroupConfig) *PmGroupConfig {
	out := &PmGroupConfig{}
	if err := copier.CopyWithOption(out, g, copier.Option{DeepCopy: true}); err != nil {
		return &PmGroupConfig{GroupName: g.GroupName, GroupFreq: g.GroupFreq, Enabled: g.Enabled}
	}
	return out
}
