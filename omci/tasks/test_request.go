package tasks

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/denismitr/voltha/eventbus"
	"github.com/denismitr/voltha/events"
	"github.com/denismitr/voltha/omci"
	"github.com/denismitr/voltha/omci/database"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	OmciTestPriority     = 128
	DefaultTestFrequency = 600 * time.Second
	OpticalGroupName     = "PON_Optical"
)

// MibReader is the part of the MIB database the test request needs
type MibReader interface {
	QueryClass(ctx context.Context, deviceID string, classID omci.ClassID) (*database.Class, error)
}

type TestRequestConfig struct {
	DeviceID        string
	LogicalDeviceID string
	SerialNumber    string
	// UUID identifies the test request in published results, generated when empty
	UUID string
	// Frequency of the collector, zero selects DefaultTestFrequency
	Frequency time.Duration
}

// OmciTestRequest runs the ONU self test on the first ANI-G and publishes the
// optical values of the Test Result as a KPI event
type OmciTestRequest struct {
	cfg     TestRequestConfig
	channel omci.Channel
	mib     MibReader
	bus     *eventbus.Bus
	mgr     *events.AdapterEvents
	lg      *zap.Logger
	sub     *eventbus.Subscription

	mu       sync.Mutex
	cancel   context.CancelFunc
	entityID int

	collectorMu sync.Mutex
	stopCh      chan struct{}
	doneCh      chan struct{}
}

var _ Task = (*OmciTestRequest)(nil)

func NewOmciTestRequest(
	cfg TestRequestConfig,
	channel omci.Channel,
	mib MibReader,
	bus *eventbus.Bus,
	mgr *events.AdapterEvents,
	lg *zap.Logger,
) *OmciTestRequest {
	if lg == nil {
		lg = zap.NewNop()
	}

	if cfg.UUID == "" {
		cfg.UUID = uuid.NewString()
	}

	if cfg.Frequency <= 0 {
		cfg.Frequency = DefaultTestFrequency
	}

	t := &OmciTestRequest{
		cfg:      cfg,
		channel:  channel,
		mib:      mib,
		bus:      bus,
		mgr:      mgr,
		lg:       lg.With(zap.String("device_id", cfg.DeviceID), zap.String("task", "omci-test")),
		entityID: -1,
	}

	if bus != nil {
		t.sub = bus.Subscribe(eventbus.RxTopic(cfg.DeviceID, omci.TestResult.String()), t.onTestResult)
	}

	return t
}

func (t *OmciTestRequest) Name() string  { return "ONU OMCI Test Task" }
func (t *OmciTestRequest) Priority() int { return OmciTestPriority }
func (t *OmciTestRequest) UUID() string  { return t.cfg.UUID }

// EntityID is the ANI-G tested last, -1 before the first test
func (t *OmciTestRequest) EntityID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entityID
}

func (t *OmciTestRequest) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
}

// Close stops the collector and the Test Result subscription
func (t *OmciTestRequest) Close() {
	t.StopCollector()
	t.Stop()

	if t.bus != nil && t.sub != nil {
		t.bus.Unsubscribe(t.sub)
	}
}

// Start submits the test request, the outcome arrives later as a Test Result
func (t *OmciTestRequest) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	class, err := t.mib.QueryClass(ctx, t.cfg.DeviceID, omci.AniGClassID)
	if err != nil {
		return errors.Wrap(err, "could not read ani-g entities")
	}

	if class == nil || len(class.Instances) == 0 {
		return errors.Wrap(ErrTaskFailure, "no ani-g entity to test")
	}

	ids := make([]int, 0, len(class.Instances))
	for id := range class.Instances {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	entityID := ids[0]

	t.mu.Lock()
	t.entityID = entityID
	t.mu.Unlock()

	t.lg.Info("perform test", zap.Int("class_id", int(omci.AniGClassID)), zap.Int("entity_id", entityID))

	frame, err := omci.NewFrame(omci.AniGClassID, entityID)
	if err != nil {
		return err
	}

	resp, err := t.channel.Send(ctx, frame.Test())
	if err != nil {
		return errors.Wrap(err, "test request")
	}

	if resp.Success != omci.Success {
		return errors.Wrapf(ErrTestFailure, "status code: %s", resp.Success)
	}

	t.lg.Info("self test submitted successfully")
	return nil
}

// StartCollector runs the test right away and then at the configured frequency
func (t *OmciTestRequest) StartCollector() {
	t.collectorMu.Lock()
	defer t.collectorMu.Unlock()

	if t.stopCh != nil {
		return
	}

	t.lg.Info("starting test collection", zap.Duration("frequency", t.cfg.Frequency))

	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	go t.collect(t.stopCh, t.doneCh)
}

func (t *OmciTestRequest) StopCollector() {
	t.collectorMu.Lock()
	defer t.collectorMu.Unlock()

	if t.stopCh == nil {
		return
	}

	close(t.stopCh)
	t.Stop()
	<-t.doneCh
	t.stopCh, t.doneCh = nil, nil
}

func (t *OmciTestRequest) collect(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(t.cfg.Frequency)
	defer ticker.Stop()

	for {
		if err := t.Start(context.Background()); err != nil {
			t.lg.Error("test request failed", zap.Error(err))
		}

		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (t *OmciTestRequest) onTestResult(topic string, msg interface{}) {
	resp, ok := msg.(*omci.Response)
	if !ok {
		return
	}

	parts := strings.Split(topic, ":")
	eventName := parts[len(parts)-1]
	onuDeviceID := t.cfg.DeviceID
	if len(parts) >= 3 {
		onuDeviceID = parts[len(parts)-2]
	}

	data := make(map[string]float32, len(resp.Attributes))
	for k, v := range resp.Attributes {
		if f, ok := attrFloat(v); ok {
			data[k] = f
		}
	}

	if err := t.publish(context.Background(), data, eventName, onuDeviceID, resp.EntityID); err != nil {
		t.lg.Error("could not publish test result", zap.Error(err))
	}
}

func (t *OmciTestRequest) publish(ctx context.Context, data map[string]float32, eventName, onuDeviceID string, entityID int) error {
	if t.mgr == nil {
		return nil
	}

	now := time.Now()
	metric := &events.MetricInformation{
		Metadata: events.MetricMetaData{
			Title:           OpticalGroupName,
			Ts:              timestamppb.New(now),
			LogicalDeviceID: t.cfg.LogicalDeviceID,
			SerialNo:        t.cfg.SerialNumber,
			DeviceID:        onuDeviceID,
			UUID:            t.cfg.UUID,
			Context: map[string]string{
				"events":  eventName,
				"intf_id": strconv.Itoa(entityID & 0xFF),
				"uuid":    t.cfg.UUID,
			},
		},
		Metrics: data,
	}

	t.lg.Info("publish test result", zap.Int("metrics", len(data)))

	header := t.mgr.Header(events.KpiEvent2Type, events.CategoryEquipment, events.SubCategoryOnu, "KPI_EVENT", now.Unix())
	return t.mgr.Send(ctx, header, &events.KpiEvent2{
		Type:      events.KpiSliceType,
		Ts:        timestamppb.New(now),
		SliceData: []*events.MetricInformation{metric},
	})
}
