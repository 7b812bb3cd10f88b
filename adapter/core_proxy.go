package adapter

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/denismitr/voltha/events"
	"github.com/denismitr/voltha/messaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrInvalidReplicaConfig = errors.New("invalid replica configuration")
	ErrCoreRequestFailed    = errors.New("core request failed")
)

// EventMessageType marks events submitted to the event topic
const EventMessageType messaging.MessageType = "EVENT"

// CoreProxy is the adapter side of the adapter/core conversation
type CoreProxy struct {
	proxy             messaging.Proxy
	defaultCoreTopic  string
	defaultEventTopic string
	listeningTopic    string
	lg                *zap.Logger

	mu         sync.RWMutex
	coreTopics map[string]string
	filters    []EventFilter
}

var _ events.EventSubmitter = (*CoreProxy)(nil)

func NewCoreProxy(proxy messaging.Proxy, defaultCoreTopic, defaultEventTopic, listeningTopic string, lg *zap.Logger) *CoreProxy {
	if lg == nil {
		lg = zap.NewNop()
	}

	return &CoreProxy{
		proxy:             proxy,
		defaultCoreTopic:  defaultCoreTopic,
		defaultEventTopic: defaultEventTopic,
		listeningTopic:    listeningTopic,
		lg:                lg.With(zap.String("component", "core-proxy")),
		coreTopics:        make(map[string]string),
	}
}

func (cp *CoreProxy) ListeningTopic() string { return cp.listeningTopic }

// UpdateCoreReference routes all requests about deviceID to coreTopic
func (cp *CoreProxy) UpdateCoreReference(deviceID, coreTopic string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.lg.Debug("update core reference", zap.String("device_id", deviceID), zap.String("topic", coreTopic))
	cp.coreTopics[deviceID] = coreTopic
}

func (cp *CoreProxy) DeleteCoreReference(deviceID string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	delete(cp.coreTopics, deviceID)
}

// CoreTopic is the topic of the core instance owning deviceID
func (cp *CoreProxy) CoreTopic(deviceID string) string {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	if t, ok := cp.coreTopics[deviceID]; ok {
		return t
	}
	return cp.defaultCoreTopic
}

func (cp *CoreProxy) invoke(ctx context.Context, toTopic, rpc string, result interface{}, kv ...interface{}) error {
	args := make([]messaging.Arg, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		arg, err := messaging.NewArg(key, kv[i+1])
		if err != nil {
			return err
		}
		args = append(args, arg)
	}

	resp, err := cp.proxy.Request(ctx, toTopic, rpc, args...)
	if err != nil {
		return errors.Wrapf(err, "%s failed", rpc)
	}

	if !resp.Success {
		var failure ErrorResponse
		_ = resp.Decode(&failure)
		return errors.Wrapf(ErrCoreRequestFailed, "%s: %s %s", rpc, failure.Code, failure.Reason)
	}

	if result != nil {
		return resp.Decode(result)
	}

	return nil
}

func kwargs(base []interface{}, extra map[string]interface{}) []interface{} {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		base = append(base, k, extra[k])
	}
	return base
}

// Register announces the adapter to the core. Replica numbers start from 1,
// leaving both unset means a single instance.
func (cp *CoreProxy) Register(
	ctx context.Context,
	adapter AdapterInfo,
	deviceTypes []DeviceType,
	currentReplica, totalReplicas int32,
) (*CoreInstance, error) {
	switch {
	case totalReplicas == 0 && currentReplica != 0:
		return nil, errors.Wrap(ErrInvalidReplicaConfig, "totalReplicas can't be 0, since you're here you have at least one")
	case currentReplica == 0 && totalReplicas != 0:
		return nil, errors.Wrap(ErrInvalidReplicaConfig, "currentReplica can't be 0, it has to start from 1")
	case currentReplica == 0 && totalReplicas == 0:
		currentReplica, totalReplicas = 1, 1
	}

	if currentReplica > totalReplicas {
		return nil, errors.Wrapf(ErrInvalidReplicaConfig, "currentReplica (%d) can't be greater than totalReplicas (%d)",
			currentReplica, totalReplicas)
	}

	adapter.CurrentReplica, adapter.TotalReplicas = currentReplica, totalReplicas

	var instance CoreInstance
	err := cp.invoke(ctx, cp.defaultCoreTopic, "Register", &instance,
		"adapter", adapter,
		"deviceTypes", deviceTypes)
	if err != nil {
		cp.lg.Error("registration failed", zap.Error(err))
		return nil, err
	}

	cp.lg.Info("registered", zap.String("adapter", adapter.ID), zap.Int32("replica", currentReplica))
	return &instance, nil
}

func (cp *CoreProxy) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	if err := cp.invoke(ctx, cp.CoreTopic(deviceID), "GetDevice", &d, "device_id", deviceID); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetChildDevice looks a child up by any of serial_number, onu_id or
// parent_port_no
func (cp *CoreProxy) GetChildDevice(ctx context.Context, parentID string, filter map[string]interface{}) (*Device, error) {
	var d Device
	args := kwargs([]interface{}{"device_id", parentID}, filter)
	if err := cp.invoke(ctx, cp.CoreTopic(parentID), "GetChildDevice", &d, args...); err != nil {
		return nil, err
	}
	return &d, nil
}

func (cp *CoreProxy) GetPorts(ctx context.Context, deviceID string, portType PortType) (*Ports, error) {
	var ports Ports
	if err := cp.invoke(ctx, cp.CoreTopic(deviceID), "GetPorts", &ports, "device_id", deviceID, "port_type", portType); err != nil {
		return nil, err
	}
	return &ports, nil
}

func (cp *CoreProxy) GetChildDevices(ctx context.Context, parentID string) (*Devices, error) {
	var devices Devices
	if err := cp.invoke(ctx, cp.CoreTopic(parentID), "GetChildDevices", &devices, "device_id", parentID); err != nil {
		return nil, err
	}
	return &devices, nil
}

func (cp *CoreProxy) GetChildDeviceWithProxyAddress(ctx context.Context, addr ProxyAddress) (*Device, error) {
	var d Device
	if err := cp.invoke(ctx, cp.CoreTopic(addr.DeviceID), "GetChildDeviceWithProxyAddress", &d, "proxy_address", addr); err != nil {
		return nil, err
	}
	return &d, nil
}

func (cp *CoreProxy) ChildDeviceDetected(
	ctx context.Context,
	parentID string,
	parentPortNo int,
	childDeviceType string,
	channelID int,
	extra map[string]interface{},
) (*Device, error) {
	var d Device
	args := kwargs([]interface{}{
		"parent_device_id", parentID,
		"parent_port_no", parentPortNo,
		"child_device_type", childDeviceType,
		"channel_id", channelID,
	}, extra)

	if err := cp.invoke(ctx, cp.CoreTopic(parentID), "ChildDeviceDetected", &d, args...); err != nil {
		return nil, err
	}
	return &d, nil
}

func (cp *CoreProxy) DeviceUpdate(ctx context.Context, device *Device) error {
	return cp.invoke(ctx, cp.CoreTopic(device.ID), "DeviceUpdate", nil, "device", device)
}

// Oper and Connect build the optional statuses of the state updates
func Oper(s OperStatus) *OperStatus          { return &s }
func Connect(s ConnectStatus) *ConnectStatus { return &s }

func statusArgs(oper *OperStatus, connect *ConnectStatus) (int32, int32) {
	o, c := int32(-1), int32(-1)
	if oper != nil {
		o = int32(*oper)
	}
	if connect != nil {
		c = int32(*connect)
	}
	return o, c
}

// DeviceStateUpdate sends -1 for a status left nil
func (cp *CoreProxy) DeviceStateUpdate(ctx context.Context, deviceID string, oper *OperStatus, connect *ConnectStatus) error {
	o, c := statusArgs(oper, connect)
	return cp.invoke(ctx, cp.CoreTopic(deviceID), "DeviceStateUpdate", nil,
		"device_id", deviceID, "oper_status", o, "connect_status", c)
}

func (cp *CoreProxy) ChildrenStateUpdate(ctx context.Context, deviceID string, oper *OperStatus, connect *ConnectStatus) error {
	o, c := statusArgs(oper, connect)
	return cp.invoke(ctx, cp.CoreTopic(deviceID), "ChildrenStateUpdate", nil,
		"device_id", deviceID, "oper_status", o, "connect_status", c)
}

func (cp *CoreProxy) PortStateUpdate(ctx context.Context, deviceID string, portType PortType, portNo uint32, oper OperStatus) error {
	return cp.invoke(ctx, cp.CoreTopic(deviceID), "PortStateUpdate", nil,
		"device_id", deviceID, "port_type", portType, "port_no", portNo, "oper_status", oper)
}

// PortsStateUpdate sends -1 for an unset oper status
func (cp *CoreProxy) PortsStateUpdate(ctx context.Context, deviceID string, portTypeFilter uint32, oper *OperStatus) error {
	o, _ := statusArgs(oper, nil)
	return cp.invoke(ctx, cp.CoreTopic(deviceID), "PortsStateUpdate", nil,
		"device_id", deviceID, "port_type_filter", portTypeFilter, "oper_status", o)
}

func (cp *CoreProxy) ChildDevicesLost(ctx context.Context, parentID string) error {
	return cp.invoke(ctx, cp.CoreTopic(parentID), "ChildDevicesLost", nil, "parent_device_id", parentID)
}

func (cp *CoreProxy) ChildDevicesDetected(ctx context.Context, parentID string) error {
	return cp.invoke(ctx, cp.CoreTopic(parentID), "ChildDevicesDetected", nil, "parent_device_id", parentID)
}

func (cp *CoreProxy) DevicePMConfigUpdate(ctx context.Context, deviceID string, configs interface{}, init bool) error {
	return cp.invoke(ctx, cp.CoreTopic(deviceID), "DevicePMConfigUpdate", nil,
		"device_pm_config", configs, "init", init)
}

func (cp *CoreProxy) PortCreated(ctx context.Context, deviceID string, port *Port) error {
	return cp.invoke(ctx, cp.CoreTopic(deviceID), "PortCreated", nil, "device_id", deviceID, "port", port)
}

func (cp *CoreProxy) DeviceReasonUpdate(ctx context.Context, deviceID, reason string) error {
	return cp.invoke(ctx, cp.CoreTopic(deviceID), "DeviceReasonUpdate", nil, "device_id", deviceID, "device_reason", reason)
}

func (cp *CoreProxy) SendPacketIn(ctx context.Context, deviceID string, port uint32, packet []byte) error {
	return cp.invoke(ctx, cp.CoreTopic(deviceID), "PacketIn", nil, "device_id", deviceID, "port", port, "packet", packet)
}

func (cp *CoreProxy) DeleteAllPorts(ctx context.Context, deviceID string) error {
	return cp.invoke(ctx, cp.CoreTopic(deviceID), "DeleteAllPorts", nil, "device_id", deviceID)
}

// DeviceInfo asks the core for the details of a device it owns
func (cp *CoreProxy) DeviceInfo(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	if err := cp.invoke(ctx, cp.CoreTopic(deviceID), "GetDeviceInfo", &d, "device_id", deviceID); err != nil {
		return nil, err
	}
	return &d, nil
}

// SetEventFilters replaces the filters applied by FilterAlarm
func (cp *CoreProxy) SetEventFilters(filters []EventFilter) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.filters = append([]EventFilter(nil), filters...)
}

func ruleValues(deviceID string, ev *events.Event) map[EventFilterRuleKey]string {
	values := map[EventFilterRuleKey]string{RuleDeviceID: deviceID}
	if ev.Header != nil {
		values[RuleID] = ev.Header.ID
		values[RuleType] = ev.Header.Type.String()
		values[RuleCategory] = ev.Header.Category.String()
		values[RuleSubCategory] = ev.Header.SubCategory.String()
	}

	if ev.DeviceEvent != nil {
		values[RuleResourceID] = ev.DeviceEvent.ResourceID
		values[RuleDeviceEvent] = ev.DeviceEvent.DeviceEventName
	}

	return values
}

// FilterAlarm reports whether a filter matches the event. A filter matches
// when every one of its rules does, ignoring case.
func (cp *CoreProxy) FilterAlarm(deviceID string, ev *events.Event) bool {
	cp.mu.RLock()
	filters := cp.filters
	cp.mu.RUnlock()

	values := ruleValues(deviceID, ev)
	for _, f := range filters {
		if !f.Enable || len(f.Rules) == 0 {
			continue
		}

		if f.DeviceID != "" && !strings.EqualFold(f.DeviceID, deviceID) {
			continue
		}

		matched := true
		for _, rule := range f.Rules {
			if !strings.EqualFold(values[rule.Key], rule.Value) {
				matched = false
				break
			}
		}

		if matched {
			cp.lg.Info("filtered event", zap.String("filter", f.ID), zap.String("device_id", deviceID))
			return true
		}
	}

	return false
}

// eventDeviceID is the device a device event is raised on, or the one a
// KPI slice was collected from
func eventDeviceID(ev *events.Event) string {
	switch {
	case ev.DeviceEvent != nil:
		return ev.DeviceEvent.ResourceID
	case ev.KpiEvent2 != nil && len(ev.KpiEvent2.SliceData) > 0:
		return ev.KpiEvent2.SliceData[0].Metadata.DeviceID
	}
	return ""
}

// SubmitEvent sends ev to the event topic unless a filter suppresses it
func (cp *CoreProxy) SubmitEvent(ctx context.Context, ev *events.Event) error {
	if cp.FilterAlarm(eventDeviceID(ev), ev) {
		return nil
	}

	msg, err := messaging.NewEvent(EventMessageType, cp.listeningTopic, cp.defaultEventTopic, ev)
	if err != nil {
		return err
	}

	if err := cp.proxy.Send(ctx, cp.defaultEventTopic, msg); err != nil {
		cp.lg.Error("failed event submission", zap.Error(err))
		return errors.Wrap(err, "could not submit event")
	}

	return nil
}
