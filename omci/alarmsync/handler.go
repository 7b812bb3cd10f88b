package alarmsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/denismitr/voltha/events"
	"github.com/denismitr/voltha/omci"
	"go.uber.org/zap"
)

// lowest alarm number reserved for vendor specific use
const firstVendorAlarm = 208

// Handler is told about every alarm that changes state on an ONU entity
type Handler interface {
	RaiseAlarm(ctx context.Context, classID omci.ClassID, entityID, alarm int) error
	ClearAlarm(ctx context.Context, classID omci.ClassID, entityID, alarm int) error
}

// Port ties a physical port number to the ME instance representing it
type Port struct {
	PortNumber int
	EntityID   int
}

type onuEvent func(mgr *events.AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *events.DeviceEventBase

type alarmKey struct {
	classID omci.ClassID
	alarm   int
}

var onuEvents = map[alarmKey]onuEvent{
	{omci.CircuitPackClassID, 0}: events.NewOnuEquipmentEvent,
	{omci.CircuitPackClassID, 2}: events.NewOnuSelfTestFailureEvent,
	{omci.CircuitPackClassID, 3}: events.NewOnuLaserEolEvent,
	{omci.CircuitPackClassID, 4}: events.NewOnuTempYellowEvent,
	{omci.CircuitPackClassID, 5}: events.NewOnuTempRedEvent,

	{omci.PptpEthernetUniClassID, 0}: events.NewOnuEthernetUniEvent,

	{omci.OntGClassID, 0}:  events.NewOnuEquipmentEvent,
	{omci.OntGClassID, 6}:  events.NewOnuSelfTestFailureEvent,
	{omci.OntGClassID, 7}:  events.NewOnuDyingGaspEvent,
	{omci.OntGClassID, 8}:  events.NewOnuTempYellowEvent,
	{omci.OntGClassID, 9}:  events.NewOnuTempRedEvent,
	{omci.OntGClassID, 10}: events.NewOnuVoltageYellowEvent,
	{omci.OntGClassID, 11}: events.NewOnuVoltageRedEvent,

	{omci.AniGClassID, 0}: events.NewOnuLowRxOpticalEvent,
	{omci.AniGClassID, 1}: events.NewOnuHighRxOpticalEvent,
	{omci.AniGClassID, 4}: events.NewOnuLowTxOpticalEvent,
	{omci.AniGClassID, 5}: events.NewOnuHighTxOpticalEvent,
	{omci.AniGClassID, 6}: events.NewOnuLaserBiasEvent,
}

// Description returns the printable description of an alarm and its
// CamelCase name
func Description(classID omci.ClassID, alarm int) (string, string) {
	var description string
	if ec, ok := omci.Lookup(classID); ok {
		description, _ = ec.AlarmName(alarm)
	}

	if description == "" {
		if alarm < firstVendorAlarm {
			description = fmt.Sprintf("Reserved alarm %d", alarm)
		} else {
			description = fmt.Sprintf("Vendor specific alarm %d", alarm)
		}
	}

	return description, camelCase(description)
}

func camelCase(s string) string {
	var sb strings.Builder
	for _, w := range strings.Fields(strings.ReplaceAll(s, "-", " ")) {
		sb.WriteString(strings.ToUpper(w[:1]))
		sb.WriteString(strings.ToLower(w[1:]))
	}
	return sb.String()
}

// AlarmHandler turns ONU alarms into device events
type AlarmHandler struct {
	mgr      *events.AdapterEvents
	onuID    int
	uniPorts []Port
	aniPorts []Port
	lg       *zap.Logger
	now      func() time.Time
}

var _ Handler = (*AlarmHandler)(nil)

func NewAlarmHandler(mgr *events.AdapterEvents, onuID int, uniPorts, aniPorts []Port, lg *zap.Logger) *AlarmHandler {
	if lg == nil {
		lg = zap.NewNop()
	}

	return &AlarmHandler{
		mgr:      mgr,
		onuID:    onuID,
		uniPorts: uniPorts,
		aniPorts: aniPorts,
		lg:       lg.With(zap.String("device_id", mgr.DeviceID())),
		now:      time.Now,
	}
}

func (h *AlarmHandler) RaiseAlarm(ctx context.Context, classID omci.ClassID, entityID, alarm int) error {
	description, name := Description(classID, alarm)
	h.lg.Warn("alarm set",
		zap.Int("class_id", int(classID)),
		zap.Int("entity_id", entityID),
		zap.Int("alarm_number", alarm),
		zap.String("name", name),
		zap.String("description", description))

	return h.send(ctx, classID, entityID, alarm, true)
}

func (h *AlarmHandler) ClearAlarm(ctx context.Context, classID omci.ClassID, entityID, alarm int) error {
	description, name := Description(classID, alarm)
	h.lg.Info("alarm cleared",
		zap.Int("class_id", int(classID)),
		zap.Int("entity_id", entityID),
		zap.Int("alarm_number", alarm),
		zap.String("name", name),
		zap.String("description", description))

	return h.send(ctx, classID, entityID, alarm, false)
}

func (h *AlarmHandler) send(ctx context.Context, classID omci.ClassID, entityID, alarm int, raised bool) error {
	ev := h.Event(classID, entityID, alarm)
	if ev == nil {
		return nil
	}

	return ev.Send(ctx, raised)
}

// Event maps an ONU alarm to its device event, nil when the alarm has no
// event or the port it belongs to is unknown
func (h *AlarmHandler) Event(classID omci.ClassID, entityID, alarm int) *events.DeviceEventBase {
	fn, ok := onuEvents[alarmKey{classID, alarm}]
	if !ok {
		return nil
	}

	var port int
	switch classID {
	case omci.CircuitPackClassID, omci.PptpEthernetUniClassID:
		port, ok = h.uniPort(entityID)
	default:
		port, ok = h.aniPort()
	}

	if !ok {
		h.lg.Debug("no port for alarm", zap.Int("class_id", int(classID)), zap.Int("entity_id", entityID))
		return nil
	}

	return fn(h.mgr, h.onuID, port, h.mgr.SerialNumber(), h.now().UTC().Unix())
}

func (h *AlarmHandler) uniPort(entityID int) (int, bool) {
	for _, p := range h.uniPorts {
		if p.EntityID == entityID {
			return p.PortNumber, true
		}
	}
	return 0, false
}

// a single PON port is assumed
func (h *AlarmHandler) aniPort() (int, bool) {
	if len(h.aniPorts) == 0 {
		return 0, false
	}
	return h.aniPorts[0].PortNumber, true
}
