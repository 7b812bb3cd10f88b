package events

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
)

var ErrUnknownIndicator = errors.New("unknown event indicator")
var ErrUnknownOperation = errors.New("unknown event operation")

type SimulateOperation string

const (
	RaiseOperation SimulateOperation = "RAISE"
	ClearOperation SimulateOperation = "CLEAR"
)

type SimulateEventRequest struct {
	Indicator           string            `json:"indicator"`
	Operation           SimulateOperation `json:"operation"`
	IntfID              int               `json:"intf_id"`
	OnuDeviceID         int               `json:"onu_device_id"`
	PortTypeName        string            `json:"port_type_name"`
	OnuSerialNumber     string            `json:"onu_serial_number"`
	InverseBitErrorRate int               `json:"inverse_bit_error_rate"`
	Drift               int               `json:"drift"`
	NewEqd              int               `json:"new_eqd"`
}

type eventFactory func(mgr *AdapterEvents, req SimulateEventRequest, raisedTs int64) *DeviceEventBase

func onuFactory(fn func(*AdapterEvents, int, int, string, int64) *DeviceEventBase) eventFactory {
	return func(mgr *AdapterEvents, req SimulateEventRequest, raisedTs int64) *DeviceEventBase {
		return fn(mgr, req.OnuDeviceID, req.IntfID, req.OnuSerialNumber, raisedTs)
	}
}

var simulatedEvents = map[string]eventFactory{
	"los": func(mgr *AdapterEvents, req SimulateEventRequest, raisedTs int64) *DeviceEventBase {
		return NewOltLosEvent(mgr, req.IntfID, req.PortTypeName, raisedTs)
	},
	"dying_gasp":    onuFactory(NewOnuDyingGaspEvent),
	"onu_los":       onuFactory(NewOnuLosEvent),
	"onu_lopc_miss": onuFactory(NewOnuLopcMissEvent),
	"onu_lopc_mic":  onuFactory(NewOnuLopcMicErrorEvent),
	"onu_lob":       onuFactory(NewOnuLobEvent),
	"onu_startup":   onuFactory(NewOnuStartupEvent),
	"onu_signal_degrade": func(mgr *AdapterEvents, req SimulateEventRequest, raisedTs int64) *DeviceEventBase {
		return NewOnuSignalDegradeEvent(mgr, req.OnuDeviceID, req.IntfID, req.InverseBitErrorRate, req.OnuSerialNumber, raisedTs)
	},
	"onu_drift_of_window": func(mgr *AdapterEvents, req SimulateEventRequest, raisedTs int64) *DeviceEventBase {
		return NewOnuWindowDriftEvent(mgr, req.OnuDeviceID, req.IntfID, req.Drift, req.NewEqd, req.OnuSerialNumber, raisedTs)
	},
	"onu_signal_fail": func(mgr *AdapterEvents, req SimulateEventRequest, raisedTs int64) *DeviceEventBase {
		return NewOnuSignalFailEvent(mgr, req.OnuDeviceID, req.IntfID, req.InverseBitErrorRate, req.OnuSerialNumber, raisedTs)
	},
	"onu_activation": onuFactory(NewOnuActivationFailEvent),
	"onu_discovery": func(mgr *AdapterEvents, req SimulateEventRequest, raisedTs int64) *DeviceEventBase {
		return NewOnuDiscoveryEvent(mgr, req.IntfID, req.OnuSerialNumber, raisedTs)
	},
}

// Simulator raises and clears device events on request, for testing northbound consumers
type Simulator struct {
	mgr *AdapterEvents
	now func() time.Time
}

func NewSimulator(mgr *AdapterEvents) *Simulator {
	return &Simulator{mgr: mgr, now: time.Now}
}

func (s *Simulator) SimulateDeviceEvent(ctx context.Context, req SimulateEventRequest) error {
	factory, ok := simulatedEvents[req.Indicator]
	if !ok {
		return errors.Wrapf(ErrUnknownIndicator, "%q", req.Indicator)
	}

	ev := factory(s.mgr, req, s.now().UTC().Unix())

	switch req.Operation {
	case RaiseOperation:
		return ev.Send(ctx, true)
	case ClearOperation:
		return ev.Send(ctx, false)
	default:
		return errors.Wrapf(ErrUnknownOperation, "%q", req.Operation)
	}
}

// Indicators lists the indicators the simulator understands
func Indicators() []string {
	out := make([]string, 0, len(simulatedEvents))
	for k := range simulatedEvents {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
