package adapter

import (
	"context"

	"github.com/denismitr/voltha/events"
	"github.com/denismitr/voltha/events/kpi"
	"github.com/pkg/errors"
)

var ErrUnsupported = errors.New("operation not supported by the adapter")

// Adapter is what a device adapter implements to serve the core requests
// delivered by RequestFacade
type Adapter interface {
	AdoptDevice(ctx context.Context, device *Device) error
	ReconcileDevice(ctx context.Context, device *Device) error
	AbandonDevice(ctx context.Context, device *Device) error
	DisableDevice(ctx context.Context, device *Device) error
	ReenableDevice(ctx context.Context, device *Device) error
	RebootDevice(ctx context.Context, device *Device) error
	SelfTestDevice(ctx context.Context, device *Device) error
	DeleteDevice(ctx context.Context, device *Device) error
	GetOfpDeviceInfo(ctx context.Context, device *Device) (*SwitchCapability, error)

	UpdateFlowsBulk(ctx context.Context, device *Device, flows Flows, groups FlowGroups) error
	UpdateFlowsIncrementally(ctx context.Context, device *Device, flows FlowChanges, groups FlowGroupChanges) error
	UpdatePmConfig(ctx context.Context, device *Device, configs *kpi.PmConfigs) error

	DownloadImage(ctx context.Context, device *Device, img *ImageDownload) (*ImageDownload, error)
	GetImageDownloadStatus(ctx context.Context, device *Device, img *ImageDownload) (*ImageDownload, error)
	CancelImageDownload(ctx context.Context, device *Device, img *ImageDownload) (*ImageDownload, error)
	ActivateImageUpdate(ctx context.Context, device *Device, img *ImageDownload) (*ImageDownload, error)
	RevertImageUpdate(ctx context.Context, device *Device, img *ImageDownload) (*ImageDownload, error)

	EnablePort(ctx context.Context, deviceID string, port *Port) error
	DisablePort(ctx context.Context, deviceID string, port *Port) error
	ChildDeviceLost(ctx context.Context, parentID string, parentPortNo, onuID uint32) error

	ProcessInterAdapterMessage(ctx context.Context, msg *InterAdapterMessage) error
	ReceivePacketOut(ctx context.Context, deviceID string, outPort uint32, packet PacketOut) error

	SuppressEvent(ctx context.Context, filter *EventFilter) error
	UnsuppressEvent(ctx context.Context, filter *EventFilter) error

	StartOmciTest(ctx context.Context, device *Device, uuid string) (*TestResponse, error)
	SimulateAlarm(ctx context.Context, device *Device, req events.SimulateEventRequest) error
	GetExtValue(ctx context.Context, parentID string, device *Device, valueType ValueType) (*ReturnValues, error)
	SingleGetValueRequest(ctx context.Context, req *SingleGetValueRequest) (*SingleGetValueResponse, error)
}
