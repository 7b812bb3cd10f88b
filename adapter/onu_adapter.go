package adapter

import (
	"context"
	"sort"
	"sync"

	"github.com/denismitr/voltha/events"
	"github.com/denismitr/voltha/events/kpi"
	"github.com/denismitr/voltha/omci"
	"github.com/denismitr/voltha/omci/agent"
	"github.com/denismitr/voltha/omci/tasks"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ChannelFactory opens the OMCI channel of an adopted ONU
type ChannelFactory func(ctx context.Context, device *Device) (omci.Channel, error)

type OnuAdapterOptions struct {
	Name     string
	Agent    *agent.Agent
	Core     *CoreProxy
	Channels ChannelFactory
	// Exporter receives the collected PM metrics, optional
	Exporter *kpi.PrometheusExporter
	Logger   *zap.Logger
}

type onuHandler struct {
	device *Device
	onu    *agent.OnuDevice
	events *events.AdapterEvents
	pm     *kpi.OnuOmciPmMetrics
}

// OnuAdapter serves OpenOMCI ONUs: every adopted device gets an agent
// device, an event manager and a PM collector
type OnuAdapter struct {
	opts OnuAdapterOptions
	lg   *zap.Logger

	mu       sync.RWMutex
	handlers map[string]*onuHandler
	filters  map[string]EventFilter
}

var _ Adapter = (*OnuAdapter)(nil)

func NewOnuAdapter(opts OnuAdapterOptions) (*OnuAdapter, error) {
	if opts.Agent == nil || opts.Core == nil || opts.Channels == nil {
		return nil, invalid("agent, core proxy and channel factory are required")
	}

	if opts.Name == "" {
		opts.Name = "openomci_onu"
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &OnuAdapter{
		opts:     opts,
		lg:       opts.Logger.With(zap.String("adapter", opts.Name)),
		handlers: make(map[string]*onuHandler),
		filters:  make(map[string]EventFilter),
	}, nil
}

func (a *OnuAdapter) handler(deviceID string) (*onuHandler, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	h, ok := a.handlers[deviceID]
	if !ok {
		return nil, errors.Wrapf(agent.ErrUnknownDevice, "%s", deviceID)
	}
	return h, nil
}

// Close stops the PM collectors of every adopted device
func (a *OnuAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, h := range a.handlers {
		h.pm.Stop()
	}
}

func (a *OnuAdapter) AdoptDevice(ctx context.Context, device *Device) error {
	if _, err := a.handler(device.ID); err == nil {
		return nil
	}

	channel, err := a.opts.Channels(ctx, device)
	if err != nil {
		return errors.Wrapf(err, "could not open omci channel of %s", device.ID)
	}

	onu, err := a.opts.Agent.AddDevice(ctx, device.ID, channel)
	if err != nil {
		return err
	}

	mgr := events.New(a.opts.Core, device.ID, device.ParentID, device.SerialNumber, a.opts.Name, a.lg)
	pm := kpi.NewOnuOmciPmMetrics(kpi.Options{
		DeviceID:        device.ID,
		LogicalDeviceID: device.ParentID,
		SerialNumber:    device.SerialNumber,
		Grouped:         true,
		Channel:         channel,
		Mib:             a.opts.Agent.MibDb(),
		Events:          mgr,
		Exporter:        a.opts.Exporter,
		Logger:          a.lg,
	})

	h := &onuHandler{device: device, onu: onu, events: mgr, pm: pm}

	a.mu.Lock()
	a.handlers[device.ID] = h
	a.mu.Unlock()

	configs := pm.MakeProto(&kpi.PmConfigs{ID: device.ID, DefaultFreq: pm.DefaultFreq(), Grouped: true})
	if err := a.opts.Core.DevicePMConfigUpdate(ctx, device.ID, configs, true); err != nil {
		return err
	}

	pm.Start()

	oper := OperActivating
	if onu.Active() {
		oper = OperActive
	}

	a.lg.Info("adopted", zap.String("device_id", device.ID), zap.Bool("active", onu.Active()))
	return a.opts.Core.DeviceStateUpdate(ctx, device.ID, Oper(oper), Connect(ConnectReachable))
}

func (a *OnuAdapter) ReconcileDevice(ctx context.Context, device *Device) error {
	return a.AdoptDevice(ctx, device)
}

func (a *OnuAdapter) AbandonDevice(ctx context.Context, device *Device) error {
	return errors.Wrap(ErrUnsupported, "abandon device")
}

func (a *OnuAdapter) DisableDevice(ctx context.Context, device *Device) error {
	h, err := a.handler(device.ID)
	if err != nil {
		return err
	}

	h.pm.Stop()
	return a.opts.Core.DeviceStateUpdate(ctx, device.ID, Oper(OperUnknown), Connect(ConnectUnreachable))
}

func (a *OnuAdapter) ReenableDevice(ctx context.Context, device *Device) error {
	h, err := a.handler(device.ID)
	if err != nil {
		return err
	}

	h.pm.Start()
	return a.opts.Core.DeviceStateUpdate(ctx, device.ID, Oper(OperActive), Connect(ConnectReachable))
}

func (a *OnuAdapter) RebootDevice(ctx context.Context, device *Device) error {
	return errors.Wrap(ErrUnsupported, "reboot device")
}

func (a *OnuAdapter) SelfTestDevice(ctx context.Context, device *Device) error {
	return errors.Wrap(ErrUnsupported, "self test device")
}

func (a *OnuAdapter) DeleteDevice(ctx context.Context, device *Device) error {
	a.mu.Lock()
	h, ok := a.handlers[device.ID]
	delete(a.handlers, device.ID)
	a.mu.Unlock()

	if ok {
		h.pm.Stop()
	}

	return a.opts.Agent.RemoveDevice(ctx, device.ID, true)
}

func (a *OnuAdapter) GetOfpDeviceInfo(ctx context.Context, device *Device) (*SwitchCapability, error) {
	if _, err := a.handler(device.ID); err != nil {
		return nil, err
	}

	unis, err := a.opts.Agent.MibDb().QueryClass(ctx, device.ID, omci.PptpEthernetUniClassID)
	if err != nil {
		return nil, err
	}

	return &SwitchCapability{
		Manufacturer: device.Vendor,
		Hardware:     device.Model,
		Software:     a.opts.Name,
		SerialNumber: device.SerialNumber,
		PortCount:    uint32(len(unis.Instances)),
	}, nil
}

func (a *OnuAdapter) UpdateFlowsBulk(ctx context.Context, device *Device, flows Flows, groups FlowGroups) error {
	return errors.Wrap(ErrUnsupported, "bulk flow update")
}

func (a *OnuAdapter) UpdateFlowsIncrementally(ctx context.Context, device *Device, flows FlowChanges, groups FlowGroupChanges) error {
	return errors.Wrap(ErrUnsupported, "incremental flow update")
}

func (a *OnuAdapter) UpdatePmConfig(ctx context.Context, device *Device, configs *kpi.PmConfigs) error {
	h, err := a.handler(device.ID)
	if err != nil {
		return err
	}
	return h.pm.Update(configs)
}

func (a *OnuAdapter) DownloadImage(ctx context.Context, device *Device, img *ImageDownload) (*ImageDownload, error) {
	return nil, errors.Wrap(ErrUnsupported, "image download")
}

func (a *OnuAdapter) GetImageDownloadStatus(ctx context.Context, device *Device, img *ImageDownload) (*ImageDownload, error) {
	return nil, errors.Wrap(ErrUnsupported, "image download status")
}

func (a *OnuAdapter) CancelImageDownload(ctx context.Context, device *Device, img *ImageDownload) (*ImageDownload, error) {
	return nil, errors.Wrap(ErrUnsupported, "cancel image download")
}

func (a *OnuAdapter) ActivateImageUpdate(ctx context.Context, device *Device, img *ImageDownload) (*ImageDownload, error) {
	return nil, errors.Wrap(ErrUnsupported, "activate image")
}

func (a *OnuAdapter) RevertImageUpdate(ctx context.Context, device *Device, img *ImageDownload) (*ImageDownload, error) {
	return nil, errors.Wrap(ErrUnsupported, "revert image")
}

func (a *OnuAdapter) EnablePort(ctx context.Context, deviceID string, port *Port) error {
	if _, err := a.handler(deviceID); err != nil {
		return err
	}
	return a.opts.Core.PortStateUpdate(ctx, deviceID, port.Type, port.PortNo, OperActive)
}

func (a *OnuAdapter) DisablePort(ctx context.Context, deviceID string, port *Port) error {
	if _, err := a.handler(deviceID); err != nil {
		return err
	}
	return a.opts.Core.PortStateUpdate(ctx, deviceID, port.Type, port.PortNo, OperUnknown)
}

func (a *OnuAdapter) ChildDeviceLost(ctx context.Context, parentID string, parentPortNo, onuID uint32) error {
	return errors.Wrap(ErrUnsupported, "onus have no child devices")
}

// ProcessInterAdapterMessage accepts messages for adopted devices only, the
// OMCI payload itself is exchanged through the device channel
func (a *OnuAdapter) ProcessInterAdapterMessage(ctx context.Context, msg *InterAdapterMessage) error {
	h, err := a.handler(msg.Header.ToDeviceID)
	if err != nil {
		return err
	}

	a.lg.Debug("inter-adapter message",
		zap.String("device_id", h.device.ID),
		zap.Int32("type", int32(msg.Header.Type)))

	if msg.Header.Type == OnuIndRequest {
		return a.opts.Core.DeviceStateUpdate(ctx, h.device.ID, Oper(OperActive), Connect(ConnectReachable))
	}

	return nil
}

func (a *OnuAdapter) ReceivePacketOut(ctx context.Context, deviceID string, outPort uint32, packet PacketOut) error {
	return errors.Wrap(ErrUnsupported, "packet out")
}

func (a *OnuAdapter) applyFilters() {
	filters := make([]EventFilter, 0, len(a.filters))
	for _, f := range a.filters {
		filters = append(filters, f)
	}
	sort.Slice(filters, func(i, j int) bool { return filters[i].ID < filters[j].ID })

	a.opts.Core.SetEventFilters(filters)
}

func (a *OnuAdapter) SuppressEvent(ctx context.Context, filter *EventFilter) error {
	if filter.ID == "" {
		return invalid("filter-invalid")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.filters[filter.ID] = *filter
	a.applyFilters()
	return nil
}

func (a *OnuAdapter) UnsuppressEvent(ctx context.Context, filter *EventFilter) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.filters, filter.ID)
	a.applyFilters()
	return nil
}

func (a *OnuAdapter) StartOmciTest(ctx context.Context, device *Device, uuid string) (*TestResponse, error) {
	h, err := a.handler(device.ID)
	if err != nil {
		return nil, err
	}

	_, err = h.onu.StartOmciTest(ctx, h.events, tasks.TestRequestConfig{
		LogicalDeviceID: h.device.ParentID,
		SerialNumber:    h.device.SerialNumber,
		UUID:            uuid,
	})

	switch {
	case errors.Is(err, tasks.ErrTestFailure):
		return &TestResponse{Result: TestFailure}, nil
	case err != nil:
		return nil, err
	}

	return &TestResponse{Result: TestSuccess}, nil
}

func (a *OnuAdapter) SimulateAlarm(ctx context.Context, device *Device, req events.SimulateEventRequest) error {
	h, err := a.handler(device.ID)
	if err != nil {
		return err
	}
	return events.NewSimulator(h.events).SimulateDeviceEvent(ctx, req)
}

func (a *OnuAdapter) GetExtValue(ctx context.Context, parentID string, device *Device, valueType ValueType) (*ReturnValues, error) {
	return nil, errors.Wrap(ErrUnsupported, "ext value")
}

func (a *OnuAdapter) SingleGetValueRequest(ctx context.Context, req *SingleGetValueRequest) (*SingleGetValueResponse, error) {
	return nil, errors.Wrap(ErrUnsupported, "single get value")
}
