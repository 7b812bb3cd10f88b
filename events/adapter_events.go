package events

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const typeVersion = "0.1"

var ErrBodyMismatch = errors.New("event body does not match the header type")

// EventSubmitter delivers a finished event to the event topic
type EventSubmitter interface {
	SubmitEvent(ctx context.Context, ev *Event) error
}

// AdapterEvents manages the events of a single device handler
type AdapterEvents struct {
	submitter       EventSubmitter
	deviceID        string
	logicalDeviceID string
	serialNumber    string
	adapterName     string
	lg              *zap.Logger
	now             func() time.Time
}

func New(
	submitter EventSubmitter,
	deviceID, logicalDeviceID, serialNumber, adapterName string,
	lg *zap.Logger,
) *AdapterEvents {
	if lg == nil {
		lg = zap.NewNop()
	}

	return &AdapterEvents{
		submitter:       submitter,
		deviceID:        deviceID,
		logicalDeviceID: logicalDeviceID,
		serialNumber:    serialNumber,
		adapterName:     adapterName,
		lg:              lg.With(zap.String("device_id", deviceID)),
		now:             time.Now,
	}
}

func (ae *AdapterEvents) DeviceID() string        { return ae.deviceID }
func (ae *AdapterEvents) LogicalDeviceID() string { return ae.logicalDeviceID }
func (ae *AdapterEvents) SerialNumber() string    { return ae.serialNumber }
func (ae *AdapterEvents) AdapterName() string     { return ae.adapterName }

// FormatID builds the unique id of an event such as ONU_LOSS_OF_SIGNAL
func (ae *AdapterEvents) FormatID(event string) string {
	return fmt.Sprintf("voltha.%s.%s.%s", ae.adapterName, ae.deviceID, event)
}

func (ae *AdapterEvents) Header(
	typ EventType,
	category EventCategory,
	subCategory EventSubCategory,
	event string,
	raisedTs int64,
) *EventHeader {
	return &EventHeader{
		ID:          ae.FormatID(event),
		Category:    category,
		SubCategory: subCategory,
		Type:        typ,
		TypeVersion: typeVersion,
		RaisedTs:    &timestamppb.Timestamp{Seconds: raisedTs},
		ReportedTs:  timestamppb.New(ae.now()),
	}
}

// Send wraps body into an event according to the header type and submits it
func (ae *AdapterEvents) Send(ctx context.Context, header *EventHeader, body interface{}) error {
	ev := &Event{Header: header}

	var ok bool
	switch header.Type {
	case DeviceEventType:
		ev.DeviceEvent, ok = body.(*DeviceEvent)
	case KpiEvent2Type:
		ev.KpiEvent2, ok = body.(*KpiEvent2)
	case ConfigEventType:
		ev.ConfigEvent, ok = body.(*ConfigEvent)
	default:
		ae.lg.Debug("dropping event of unsupported type", zap.Stringer("type", header.Type))
		return nil
	}

	if !ok {
		return errors.Wrapf(ErrBodyMismatch, "%s with %T", header.Type, body)
	}

	if err := ae.submitter.SubmitEvent(ctx, ev); err != nil {
		ae.lg.Error("failed to send event", zap.String("id", header.ID), zap.Error(err))
		return errors.Wrapf(err, "could not submit %s", header.ID)
	}

	ae.lg.Debug("event sent", zap.Stringer("type", header.Type), zap.String("id", header.ID))
	return nil
}
