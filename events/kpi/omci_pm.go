package kpi

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/denismitr/voltha/events"
	"github.com/denismitr/voltha/omci"
	"github.com/denismitr/voltha/omci/database"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Group defaults, frequencies are in seconds
const (
	OmciCCGroupName        = "OMCI_CC"
	DefaultOmciCCEnabled   = false
	DefaultOmciCCFrequency = 2 * 60

	OpticalGroupName        = "PON_Optical"
	DefaultOpticalEnabled   = true
	DefaultOpticalFrequency = 15 * 60

	UniStatusGroupName        = "UNI_Status"
	DefaultUniStatusEnabled   = true
	DefaultUniStatusFrequency = 15 * 60

	DefaultFrequency = 10 * 60
)

type metricDef struct {
	name string
	typ  MetricType
}

var omciCCMetrics = []metricDef{
	{"consecutive_errors", Counter},
	{"hp_tx_queue_len", Gauge},
	{"lp_tx_queue_len", Gauge},
	{"max_hp_tx_queue", Gauge},
	{"max_lp_tx_queue", Gauge},
	{"reply_average", Gauge},
	{"reply_max", Gauge},
	{"reply_min", Gauge},
	{"rx_frames", Counter},
	{"rx_late", Counter},
	{"rx_onu_frames", Counter},
	{"rx_timeouts", Counter},
	{"rx_unknown_me", Counter},
	{"rx_unknown_tid", Counter},
	{"tx_errors", Counter},
	{"tx_frames", Counter},
}

var opticalMetrics = []metricDef{
	{"intf_id", Context},
	{"receive_power", Gauge},
	{"transmit_power", Gauge},
}

var uniStatusMetrics = []metricDef{
	{"ethernet_type", Gauge},
	{"intf_id", Context},
	{"oper_status", Gauge},
	{"pptp_admin_state", Gauge},
	{"uni_admin_state", Gauge},
}

// MibReader is the part of the MIB database the collector reads from
type MibReader interface {
	QueryClass(ctx context.Context, deviceID string, classID omci.ClassID) (*database.Class, error)
	QueryAttributes(ctx context.Context, deviceID string, classID omci.ClassID, entityID int, names ...string) (omci.Attributes, error)
}

type Options struct {
	DeviceID        string
	LogicalDeviceID string
	SerialNumber    string
	Grouped         bool
	FreqOverride    bool
	// DefaultFreq is the collection period in seconds
	DefaultFreq uint32

	// Channel is the OMCI channel of the ONU, nothing is collected without it
	Channel  omci.Channel
	Mib      MibReader
	Events   *events.AdapterEvents
	Exporter *PrometheusExporter
	Logger   *zap.Logger
}

// OnuOmciPmMetrics collects the OMCI channel, optical and UNI status metrics
// of an ONU
type OnuOmciPmMetrics struct {
	opts Options
	lg   *zap.Logger

	// unit of all configured frequencies
	unit time.Duration
	now  func() time.Time

	mu          sync.Mutex
	defaultFreq uint32
	groups      map[string]*PmGroupConfig
	lastOptical time.Time

	collectorMu sync.Mutex
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func NewOnuOmciPmMetrics(opts Options) *OnuOmciPmMetrics {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if opts.DefaultFreq == 0 {
		opts.DefaultFreq = DefaultFrequency
	}

	return &OnuOmciPmMetrics{
		opts:        opts,
		lg:          opts.Logger.With(zap.String("device_id", opts.DeviceID), zap.String("component", "omci-pm")),
		unit:        time.Second,
		now:         time.Now,
		defaultFreq: opts.DefaultFreq,
		groups: map[string]*PmGroupConfig{
			OmciCCGroupName:    newGroup(OmciCCGroupName, DefaultOmciCCFrequency, DefaultOmciCCEnabled, omciCCMetrics),
			OpticalGroupName:   newGroup(OpticalGroupName, DefaultOpticalFrequency, DefaultOpticalEnabled, opticalMetrics),
			UniStatusGroupName: newGroup(UniStatusGroupName, DefaultUniStatusFrequency, DefaultUniStatusEnabled, uniStatusMetrics),
		},
	}
}

func newGroup(name string, freq uint32, enabled bool, defs []metricDef) *PmGroupConfig {
	g := &PmGroupConfig{GroupName: name, GroupFreq: freq, Enabled: enabled}
	for _, d := range defs {
		g.Metrics = append(g.Metrics, &PmConfig{Name: d.name, Type: d.typ, Enabled: true})
	}
	return g
}

var groupOrder = []string{OmciCCGroupName, OpticalGroupName, UniStatusGroupName}

func (m *OnuOmciPmMetrics) DefaultFreq() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultFreq
}

// GroupEnabled reports whether the named group is collected
func (m *OnuOmciPmMetrics) GroupEnabled(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[name]
	return ok && g.Enabled
}

// MakeProto appends the group configs to cfg. Nothing is added when the
// metrics are not grouped or there is no OMCI channel.
func (m *OnuOmciPmMetrics) MakeProto(cfg *PmConfigs) *PmConfigs {
	if m.opts.Channel == nil || !m.opts.Grouped {
		return cfg
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range groupOrder {
		cfg.Groups = append(cfg.Groups, cloneGroup(m.groups[name]))
	}

	return cfg
}

// Update applies a new PM configuration. A changed default frequency
// restarts a running collector.
func (m *OnuOmciPmMetrics) Update(cfg *PmConfigs) error {
	if !cfg.Grouped {
		return ErrNonGroupedConfig
	}

	m.mu.Lock()
	freqChanged := cfg.DefaultFreq != 0 && cfg.DefaultFreq != m.defaultFreq
	if freqChanged {
		m.defaultFreq = cfg.DefaultFreq
	}

	for _, g := range cfg.Groups {
		if own, ok := m.groups[g.GroupName]; ok {
			own.Enabled = g.Enabled
			if m.opts.FreqOverride && g.GroupFreq != 0 {
				own.GroupFreq = g.GroupFreq
			}
		}
	}
	m.mu.Unlock()

	if freqChanged {
		m.collectorMu.Lock()
		defer m.collectorMu.Unlock()

		if m.stopCh != nil {
			m.lg.Debug("restarting collector", zap.Uint32("default_freq", cfg.DefaultFreq))
			m.stopLocked()
			m.startLocked()
		}
	}

	return nil
}

// CollectGroupMetrics gathers the enabled groups in OMCI_CC, PON_Optical,
// UNI_Status order
func (m *OnuOmciPmMetrics) CollectGroupMetrics(ctx context.Context) ([]*events.MetricInformation, error) {
	if m.opts.Channel == nil {
		return nil, nil
	}

	now := m.now()
	var results [3][]*events.MetricInformation

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results[0] = m.collectOmciCC(now)
		return nil
	})
	g.Go(func() error {
		var err error
		results[1], err = m.collectOptical(gctx, now)
		return err
	})
	g.Go(func() error {
		var err error
		results[2], err = m.collectUniStatus(gctx, now)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*events.MetricInformation
	for _, r := range results {
		out = append(out, r...)
	}

	return out, nil
}

func (m *OnuOmciPmMetrics) metadata(group string, now time.Time, ctx map[string]string) events.MetricMetaData {
	return events.MetricMetaData{
		Title:           group,
		Ts:              timestamppb.New(now),
		LogicalDeviceID: m.opts.LogicalDeviceID,
		SerialNo:        m.opts.SerialNumber,
		DeviceID:        m.opts.DeviceID,
		Context:         ctx,
	}
}

func millis(d time.Duration) float32 {
	return float32(d) / float32(time.Millisecond)
}

func (m *OnuOmciPmMetrics) collectOmciCC(now time.Time) []*events.MetricInformation {
	if !m.GroupEnabled(OmciCCGroupName) {
		return nil
	}

	s := m.opts.Channel.Stats()
	return []*events.MetricInformation{{
		Metadata: m.metadata(OmciCCGroupName, now, nil),
		Metrics: map[string]float32{
			"tx_frames":          float32(s.TxFrames),
			"tx_errors":          float32(s.TxErrors),
			"rx_frames":          float32(s.RxFrames),
			"rx_unknown_tid":     float32(s.RxUnknownTid),
			"rx_onu_frames":      float32(s.RxOnuFrames),
			"rx_unknown_me":      float32(s.RxUnknownMe),
			"rx_timeouts":        float32(s.RxTimeouts),
			"rx_late":            float32(s.RxLate),
			"consecutive_errors": float32(s.ConsecutiveErrors),
			"reply_min":          millis(s.ReplyMin),
			"reply_max":          millis(s.ReplyMax),
			"reply_average":      millis(s.ReplyAverage),
			"hp_tx_queue_len":    float32(s.HpTxQueueLen),
			"lp_tx_queue_len":    float32(s.LpTxQueueLen),
			"max_hp_tx_queue":    float32(s.MaxHpTxQueue),
			"max_lp_tx_queue":    float32(s.MaxLpTxQueue),
		},
	}}
}

func (m *OnuOmciPmMetrics) collectOptical(ctx context.Context, now time.Time) ([]*events.MetricInformation, error) {
	m.mu.Lock()
	group := m.groups[OpticalGroupName]
	enabled, freq, last := group.Enabled, group.GroupFreq, m.lastOptical
	m.mu.Unlock()

	if !enabled || m.opts.Mib == nil {
		return nil, nil
	}

	if !last.IsZero() {
		if elapsed := now.Sub(last); elapsed < time.Duration(freq)*m.unit {
			m.lg.Info("optical metrics not due yet", zap.Duration("elapsed", elapsed))
			return nil, nil
		}
	}

	ids, err := m.entityIDs(ctx, omci.AniGClassID)
	if err != nil {
		return nil, err
	}

	var out []*events.MetricInformation
	for _, id := range ids {
		data, err := m.opts.Mib.QueryAttributes(ctx, m.opts.DeviceID, omci.AniGClassID, id, "optical_signal_level", "transmit_optical_level")
		if err != nil {
			return nil, err
		}

		metrics := make(map[string]float32)
		setMetric(metrics, "receive_power", data, "optical_signal_level")
		setMetric(metrics, "transmit_power", data, "transmit_optical_level")

		if len(metrics) > 0 {
			out = append(out, &events.MetricInformation{
				Metadata: m.metadata(OpticalGroupName, now, map[string]string{"intf_id": strconv.Itoa(id)}),
				Metrics:  metrics,
			})
		}
	}

	m.mu.Lock()
	m.lastOptical = now
	m.mu.Unlock()

	return out, nil
}

func (m *OnuOmciPmMetrics) collectUniStatus(ctx context.Context, now time.Time) ([]*events.MetricInformation, error) {
	if !m.GroupEnabled(UniStatusGroupName) || m.opts.Mib == nil {
		return nil, nil
	}

	uniG, err := m.entityIDs(ctx, omci.UniGClassID)
	if err != nil {
		return nil, err
	}

	pptp, err := m.entityIDs(ctx, omci.PptpEthernetUniClassID)
	if err != nil {
		return nil, err
	}

	if len(uniG) == 0 || len(pptp) == 0 || len(uniG) > len(pptp) {
		return nil, nil
	}

	var out []*events.MetricInformation
	for _, id := range pptp {
		metrics := make(map[string]float32)

		data, err := m.opts.Mib.QueryAttributes(ctx, m.opts.DeviceID, omci.UniGClassID, id, "administrative_state")
		if err != nil {
			return nil, err
		}
		setMetric(metrics, "uni_admin_state", data, "administrative_state")

		data, err = m.opts.Mib.QueryAttributes(ctx, m.opts.DeviceID, omci.PptpEthernetUniClassID, id,
			"administrative_state", "operational_state", "sensed_type")
		if err != nil {
			return nil, err
		}
		setMetric(metrics, "pptp_admin_state", data, "administrative_state")
		setMetric(metrics, "oper_status", data, "operational_state")
		setMetric(metrics, "ethernet_type", data, "sensed_type")

		if len(metrics) > 0 {
			out = append(out, &events.MetricInformation{
				Metadata: m.metadata(UniStatusGroupName, now, map[string]string{"intf_id": strconv.Itoa(id & 0xFF)}),
				Metrics:  metrics,
			})
		}
	}

	return out, nil
}

func (m *OnuOmciPmMetrics) entityIDs(ctx context.Context, classID omci.ClassID) ([]int, error) {
	cls, err := m.opts.Mib.QueryClass(ctx, m.opts.DeviceID, classID)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(cls.Instances))
	for id := range cls.Instances {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return ids, nil
}

func setMetric(metrics map[string]float32, name string, data omci.Attributes, attr string) {
	v, ok := data[attr]
	if !ok {
		return
	}

	switch tv := v.(type) {
	case float32:
		metrics[name] = tv
	case float64:
		metrics[name] = float32(tv)
	case int:
		metrics[name] = float32(tv)
	case int64:
		metrics[name] = float32(tv)
	case uint8:
		metrics[name] = float32(tv)
	case uint16:
		metrics[name] = float32(tv)
	case bool:
		if tv {
			metrics[name] = 1
		} else {
			metrics[name] = 0
		}
	}
}

// Publish sends collected metrics as a single KPI_EVENT2 and updates the
// exporter
func (m *OnuOmciPmMetrics) Publish(ctx context.Context, metrics []*events.MetricInformation) error {
	if len(metrics) == 0 {
		return nil
	}

	if m.opts.Exporter != nil {
		m.opts.Exporter.Observe(metrics)
	}

	if m.opts.Events == nil {
		return nil
	}

	now := m.now()
	header := m.opts.Events.Header(events.KpiEvent2Type, events.CategoryEquipment, events.SubCategoryOnu, "KPI_EVENT", now.Unix())
	return m.opts.Events.Send(ctx, header, &events.KpiEvent2{
		Type:      events.KpiSliceType,
		Ts:        timestamppb.New(now),
		SliceData: metrics,
	})
}

// Start runs collection every default frequency period until Stop
func (m *OnuOmciPmMetrics) Start() {
	m.collectorMu.Lock()
	defer m.collectorMu.Unlock()

	if m.stopCh != nil {
		return
	}

	m.startLocked()
}

func (m *OnuOmciPmMetrics) Stop() {
	m.collectorMu.Lock()
	defer m.collectorMu.Unlock()

	if m.stopCh == nil {
		return
	}

	m.stopLocked()
}

func (m *OnuOmciPmMetrics) Running() bool {
	m.collectorMu.Lock()
	defer m.collectorMu.Unlock()
	return m.stopCh != nil
}

func (m *OnuOmciPmMetrics) startLocked() {
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	period := time.Duration(m.DefaultFreq()) * m.unit
	m.lg.Info("starting pm collection", zap.Duration("period", period))

	go m.run(period, m.stopCh, m.doneCh)
}

func (m *OnuOmciPmMetrics) stopLocked() {
	close(m.stopCh)
	<-m.doneCh
	m.stopCh, m.doneCh = nil, nil
}

func (m *OnuOmciPmMetrics) run(period time.Duration, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			metrics, err := m.CollectGroupMetrics(ctx)
			if err != nil {
				m.lg.Error("pm collection failed", zap.Error(err))
				continue
			}

			if err := m.Publish(ctx, metrics); err != nil {
				m.lg.Error("could not publish pm metrics", zap.Error(err))
			}
		}
	}
}
