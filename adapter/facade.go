package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/denismitr/voltha/events"
	"github.com/denismitr/voltha/events/kpi"
	"github.com/denismitr/voltha/messaging"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	ArgFromTopic = "fromTopic"

	defaultMaxRetries = 10
	defaultRetryDelay = 100 * time.Millisecond

	// ONU indications may overtake the adoption of the device they refer to
	retriedMessageType = OnuIndRequest
)

var ErrInvalidParameters = errors.New("invalid parameters")

// ParamError names the argument a request was rejected for
type ParamError struct {
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidParameters, e.Reason)
}

func (e *ParamError) Is(target error) bool { return target == ErrInvalidParameters }

func invalid(reason string) error { return &ParamError{Reason: reason} }

// toErrorResponse maps a failed request onto the error result sent to the core
func toErrorResponse(err error) ErrorResponse {
	var pe *ParamError
	switch {
	case errors.As(err, &pe):
		return ErrorResponse{Code: ErrorCodeInvalidParameters, Reason: pe.Reason}
	case errors.Is(err, ErrUnsupported):
		return ErrorResponse{Code: ErrorCodeUnsupported, Reason: err.Error()}
	default:
		return ErrorResponse{Code: ErrorCodeInternal, Reason: err.Error()}
	}
}

type args map[string]messaging.Arg

// require decodes key into v, a missing or empty argument fails with reason
func (a args) require(key, reason string, v interface{}) error {
	arg, ok := a[key]
	if !ok || arg.IsEmpty() {
		return invalid(reason)
	}

	if err := arg.Decode(v); err != nil {
		return invalid(reason)
	}

	return nil
}

// optional decodes key into v when present
func (a args) optional(key string, v interface{}) error {
	arg, ok := a[key]
	if !ok || arg.IsEmpty() {
		return nil
	}
	return arg.Decode(v)
}

func (a args) device() (*Device, error) {
	var d Device
	if err := a.require("device", "device-invalid", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

type rpcHandler func(ctx context.Context, a args) (interface{}, error)

type FacadeOption func(f *RequestFacade)

// WithRetryDelay sets the pause between inter-adapter message attempts
func WithRetryDelay(d time.Duration) FacadeOption {
	return func(f *RequestFacade) {
		f.retryDelay = d
	}
}

func WithMaxRetries(n int) FacadeOption {
	return func(f *RequestFacade) {
		f.maxRetries = n
	}
}

// RequestFacade receives the core requests on the listening topic and
// dispatches them to the Adapter
type RequestFacade struct {
	adapter    Adapter
	core       *CoreProxy
	proxy      messaging.Proxy
	lg         *zap.Logger
	retryDelay time.Duration
	maxRetries int
	handlers   map[string]rpcHandler

	mu           sync.Mutex
	unsubscribe  func()
	deviceTopics map[string]func()
}

func NewRequestFacade(adapter Adapter, core *CoreProxy, proxy messaging.Proxy, lg *zap.Logger, opts ...FacadeOption) *RequestFacade {
	if lg == nil {
		lg = zap.NewNop()
	}

	f := &RequestFacade{
		adapter:      adapter,
		core:         core,
		proxy:        proxy,
		lg:           lg.With(zap.String("component", "request-facade")),
		retryDelay:   defaultRetryDelay,
		maxRetries:   defaultMaxRetries,
		deviceTopics: make(map[string]func()),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.handlers = map[string]rpcHandler{
		"Ping":                       f.ping,
		"AdoptDevice":                f.adoptDevice,
		"GetOfpDeviceInfo":           f.getOfpDeviceInfo,
		"ReconcileDevice":            f.withDevice(adapter.ReconcileDevice),
		"AbandonDevice":              f.withDevice(adapter.AbandonDevice),
		"DisableDevice":              f.withDevice(adapter.DisableDevice),
		"ReenableDevice":             f.withDevice(adapter.ReenableDevice),
		"RebootDevice":               f.withDevice(adapter.RebootDevice),
		"SelfTestDevice":             f.withDevice(adapter.SelfTestDevice),
		"DeleteDevice":               f.deleteDevice,
		"UpdateFlowsBulk":            f.updateFlowsBulk,
		"UpdateFlowsIncrementally":   f.updateFlowsIncrementally,
		"UpdatePmConfig":             f.updatePmConfig,
		"DownloadImage":              f.withImage(adapter.DownloadImage),
		"GetImageDownloadStatus":     f.withImage(adapter.GetImageDownloadStatus),
		"CancelImageDownload":        f.withImage(adapter.CancelImageDownload),
		"ActivateImageUpdate":        f.withImage(adapter.ActivateImageUpdate),
		"RevertImageUpdate":          f.withImage(adapter.RevertImageUpdate),
		"EnablePort":                 f.withPort(adapter.EnablePort),
		"DisablePort":                f.withPort(adapter.DisablePort),
		"ChildDeviceLost":            f.childDeviceLost,
		"ProcessInterAdapterMessage": f.processInterAdapterMessage,
		"ReceivePacketOut":           f.receivePacketOut,
		"SuppressEvent":              f.withFilter(adapter.SuppressEvent),
		"UnsuppressEvent":            f.withFilter(adapter.UnsuppressEvent),
		"StartOmciTest":              f.startOmciTest,
		"SimulateAlarm":              f.simulateAlarm,
		"GetExtValue":                f.getExtValue,
		"SingleGetValueRequest":      f.singleGetValueRequest,
	}

	return f
}

// Start subscribes the facade to the adapter listening topic
func (f *RequestFacade) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unsubscribe != nil {
		return nil
	}

	unsubscribe, err := f.proxy.Subscribe(f.core.ListeningTopic(), f.handle)
	if err != nil {
		return errors.Wrapf(err, "could not subscribe to %s", f.core.ListeningTopic())
	}

	f.unsubscribe = unsubscribe
	f.lg.Info("started", zap.String("topic", f.core.ListeningTopic()))
	return nil
}

func (f *RequestFacade) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unsubscribe != nil {
		f.unsubscribe()
		f.unsubscribe = nil
	}

	for id, unsubscribe := range f.deviceTopics {
		unsubscribe()
		delete(f.deviceTopics, id)
	}

	f.lg.Info("stopped")
}

// DeviceTopic is the topic dedicated to the requests about one device
func (f *RequestFacade) DeviceTopic(deviceID string) string {
	return f.core.ListeningTopic() + "/" + deviceID
}

func (f *RequestFacade) subscribeDevice(deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.deviceTopics[deviceID]; ok {
		return nil
	}

	unsubscribe, err := f.proxy.Subscribe(f.DeviceTopic(deviceID), f.handle)
	if err != nil {
		return err
	}

	f.deviceTopics[deviceID] = unsubscribe
	return nil
}

func (f *RequestFacade) unsubscribeDevice(deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if unsubscribe, ok := f.deviceTopics[deviceID]; ok {
		unsubscribe()
		delete(f.deviceTopics, deviceID)
	}
}

func (f *RequestFacade) handle(ctx context.Context, msg *messaging.Message) {
	req, err := msg.DecodeRequest()
	if err != nil {
		f.lg.Debug("ignored message", zap.String("type", string(msg.Header.Type)), zap.Error(err))
		return
	}

	result, err := f.Dispatch(ctx, req.Rpc, req.ArgMap())
	success := err == nil
	if err != nil {
		f.lg.Warn("request failed", zap.String("rpc", req.Rpc), zap.Error(err))
		result = toErrorResponse(err)
	}

	if !req.ResponseRequired {
		return
	}

	resp, err := messaging.NewResponse(msg, success, result)
	if err != nil {
		f.lg.Error("could not build response", zap.String("rpc", req.Rpc), zap.Error(err))
		return
	}

	if err := f.proxy.Send(ctx, resp.Header.ToTopic, resp); err != nil {
		f.lg.Error("could not send response", zap.String("rpc", req.Rpc), zap.Error(err))
	}
}

// Dispatch runs the handler of rpc
func (f *RequestFacade) Dispatch(ctx context.Context, rpc string, a map[string]messaging.Arg) (interface{}, error) {
	h, ok := f.handlers[rpc]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "rpc %s", rpc)
	}

	f.lg.Debug("dispatch", zap.String("rpc", rpc))
	return h(ctx, a)
}

func (f *RequestFacade) ping(ctx context.Context, a args) (interface{}, error) {
	return nil, nil
}

func (f *RequestFacade) adoptDevice(ctx context.Context, a args) (interface{}, error) {
	d, err := a.device()
	if err != nil {
		return nil, err
	}

	var fromTopic string
	if err := a.optional(ArgFromTopic, &fromTopic); err != nil {
		return nil, invalid("from-topic-invalid")
	}

	if fromTopic != "" {
		f.core.UpdateCoreReference(d.ID, fromTopic)
	}

	if err := f.adapter.AdoptDevice(ctx, d); err != nil {
		return nil, err
	}

	return nil, f.subscribeDevice(d.ID)
}

func (f *RequestFacade) getOfpDeviceInfo(ctx context.Context, a args) (interface{}, error) {
	d, err := a.device()
	if err != nil {
		return nil, err
	}
	return f.adapter.GetOfpDeviceInfo(ctx, d)
}

func (f *RequestFacade) withDevice(fn func(context.Context, *Device) error) rpcHandler {
	return func(ctx context.Context, a args) (interface{}, error) {
		d, err := a.device()
		if err != nil {
			return nil, err
		}
		return nil, fn(ctx, d)
	}
}

func (f *RequestFacade) deleteDevice(ctx context.Context, a args) (interface{}, error) {
	d, err := a.device()
	if err != nil {
		return nil, err
	}

	err = f.adapter.DeleteDevice(ctx, d)
	f.unsubscribeDevice(d.ID)
	f.core.DeleteCoreReference(d.ID)
	return nil, err
}

func (f *RequestFacade) updateFlowsBulk(ctx context.Context, a args) (interface{}, error) {
	d, err := a.device()
	if err != nil {
		return nil, err
	}

	var flows Flows
	var groups FlowGroups
	if err := a.optional("flows", &flows); err != nil {
		return nil, invalid("flows-invalid")
	}
	if err := a.optional("groups", &groups); err != nil {
		return nil, invalid("groups-invalid")
	}

	return nil, f.adapter.UpdateFlowsBulk(ctx, d, flows, groups)
}

func (f *RequestFacade) updateFlowsIncrementally(ctx context.Context, a args) (interface{}, error) {
	d, err := a.device()
	if err != nil {
		return nil, err
	}

	var flows FlowChanges
	var groups FlowGroupChanges
	if err := a.optional("flow_changes", &flows); err != nil {
		return nil, invalid("flows-invalid")
	}
	if err := a.optional("group_changes", &groups); err != nil {
		return nil, invalid("groups-invalid")
	}

	return nil, f.adapter.UpdateFlowsIncrementally(ctx, d, flows, groups)
}

func (f *RequestFacade) updatePmConfig(ctx context.Context, a args) (interface{}, error) {
	d, err := a.device()
	if err != nil {
		return nil, err
	}

	var configs kpi.PmConfigs
	if err := a.require("pm_configs", "pm-configs-invalid", &configs); err != nil {
		return nil, err
	}

	return nil, f.adapter.UpdatePmConfig(ctx, d, &configs)
}

func (f *RequestFacade) withImage(fn func(context.Context, *Device, *ImageDownload) (*ImageDownload, error)) rpcHandler {
	return func(ctx context.Context, a args) (interface{}, error) {
		d, err := a.device()
		if err != nil {
			return nil, err
		}

		var img ImageDownload
		if err := a.require("request", "request-invalid", &img); err != nil {
			return nil, err
		}

		return fn(ctx, d, &img)
	}
}

func (f *RequestFacade) withPort(fn func(context.Context, string, *Port) error) rpcHandler {
	return func(ctx context.Context, a args) (interface{}, error) {
		var deviceID string
		if err := a.require("device_id", "deviceid-invalid", &deviceID); err != nil {
			return nil, err
		}

		var port Port
		if err := a.require("port", "port-invalid", &port); err != nil {
			return nil, err
		}

		return nil, fn(ctx, deviceID, &port)
	}
}

func (f *RequestFacade) childDeviceLost(ctx context.Context, a args) (interface{}, error) {
	var parentID string
	if err := a.require("pDeviceId", "deviceid-invalid", &parentID); err != nil {
		return nil, err
	}

	var portNo, onuID uint32
	if err := a.require("pPortNo", "port-no-invalid", &portNo); err != nil {
		return nil, err
	}
	if err := a.optional("onuID", &onuID); err != nil {
		return nil, invalid("onu-id-invalid")
	}

	return nil, f.adapter.ChildDeviceLost(ctx, parentID, portNo, onuID)
}

func (f *RequestFacade) processInterAdapterMessage(ctx context.Context, a args) (interface{}, error) {
	var msg InterAdapterMessage
	if err := a.require("msg", "msg-invalid", &msg); err != nil {
		return nil, err
	}

	maxRetries := 0
	if gjson.GetBytes(a["msg"].Value, "header.type").Int() == int64(retriedMessageType) {
		maxRetries = f.maxRetries
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = f.adapter.ProcessInterAdapterMessage(ctx, &msg); err == nil || attempt >= maxRetries {
			break
		}

		f.lg.Debug("retrying inter-adapter message",
			zap.String("id", msg.Header.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(err, ctx.Err().Error())
		case <-time.After(f.retryDelay):
		}
	}

	return nil, err
}

func (f *RequestFacade) receivePacketOut(ctx context.Context, a args) (interface{}, error) {
	var deviceID string
	if err := a.require("deviceId", "deviceid-invalid", &deviceID); err != nil {
		return nil, err
	}

	var outPort uint32
	if err := a.require("outPort", "outport-invalid", &outPort); err != nil {
		return nil, err
	}

	var packet PacketOut
	if err := a.require("packet", "packet-invalid", &packet); err != nil {
		return nil, err
	}

	return nil, f.adapter.ReceivePacketOut(ctx, deviceID, outPort, packet)
}

func (f *RequestFacade) withFilter(fn func(context.Context, *EventFilter) error) rpcHandler {
	return func(ctx context.Context, a args) (interface{}, error) {
		var filter EventFilter
		if err := a.require("filter", "filter-invalid", &filter); err != nil {
			return nil, err
		}
		return nil, fn(ctx, &filter)
	}
}

func (f *RequestFacade) startOmciTest(ctx context.Context, a args) (interface{}, error) {
	d, err := a.device()
	if err != nil {
		return nil, err
	}

	var req OmciTestRequest
	if err := a.require("omcitestrequest", "omcitestrequest-invalid", &req); err != nil {
		return nil, err
	}

	return f.adapter.StartOmciTest(ctx, d, req.UUID)
}

func (f *RequestFacade) simulateAlarm(ctx context.Context, a args) (interface{}, error) {
	d, err := a.device()
	if err != nil {
		return nil, err
	}

	var req events.SimulateEventRequest
	if err := a.require("request", "simulate-alarm-request-invalid", &req); err != nil {
		return nil, err
	}

	return nil, f.adapter.SimulateAlarm(ctx, d, req)
}

func (f *RequestFacade) getExtValue(ctx context.Context, a args) (interface{}, error) {
	var parentID string
	if err := a.require("pDeviceId", "deviceid-invalid", &parentID); err != nil {
		return nil, err
	}

	d, err := a.device()
	if err != nil {
		return nil, err
	}

	var valueType ValueType
	if err := a.require("valuetype", "valuetype-invalid", &valueType); err != nil {
		return nil, err
	}

	return f.adapter.GetExtValue(ctx, parentID, d, valueType)
}

func (f *RequestFacade) singleGetValueRequest(ctx context.Context, a args) (interface{}, error) {
	var req SingleGetValueRequest
	if err := a.require("request", "request-invalid", &req); err != nil {
		return nil, err
	}

	return f.adapter.SingleGetValueRequest(ctx, &req)
}
