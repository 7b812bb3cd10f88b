package events

import (
	"context"
	"fmt"
	"strings"
)

// ContextFunc returns the event specific context data
type ContextFunc func() map[string]interface{}

// DeviceEventBase is a device event raised or cleared through its manager
type DeviceEventBase struct {
	mgr         *AdapterEvents
	raisedTs    int64
	objectType  string
	event       string
	resourceID  string
	category    EventCategory
	subCategory EventSubCategory
	contextData ContextFunc
}

type EventOption func(b *DeviceEventBase)

func WithResourceID(id string) EventOption {
	return func(b *DeviceEventBase) {
		b.resourceID = id
	}
}

func WithCategory(category EventCategory, subCategory EventSubCategory) EventOption {
	return func(b *DeviceEventBase) {
		b.category = category
		b.subCategory = subCategory
	}
}

func WithContext(fn ContextFunc) EventOption {
	return func(b *DeviceEventBase) {
		b.contextData = fn
	}
}

func NewDeviceEventBase(
	mgr *AdapterEvents,
	raisedTs int64,
	objectType, event string,
	opts ...EventOption,
) *DeviceEventBase {
	b := &DeviceEventBase{
		mgr:         mgr,
		raisedTs:    raisedTs,
		objectType:  objectType,
		event:       event,
		category:    CategoryEquipment,
		subCategory: SubCategoryPon,
		contextData: func() map[string]interface{} { return nil },
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *DeviceEventBase) Name() string                  { return b.event }
func (b *DeviceEventBase) ObjectType() string            { return b.objectType }
func (b *DeviceEventBase) ResourceID() string            { return b.resourceID }
func (b *DeviceEventBase) Category() EventCategory       { return b.category }
func (b *DeviceEventBase) SubCategory() EventSubCategory { return b.subCategory }

func (b *DeviceEventBase) Description(status bool) string {
	state := "Cleared"
	if status {
		state = "Raised"
	}

	return fmt.Sprintf("%s Event - %s - %s", strings.ToUpper(b.objectType), strings.ToUpper(b.event), state)
}

// ContextData is the event context with every value rendered as a string
func (b *DeviceEventBase) ContextData() map[string]string {
	raw := b.contextData()
	ctx := make(map[string]string, len(raw)+1)
	for k, v := range raw {
		ctx[k] = fmt.Sprint(v)
	}

	ctx["serial-number"] = b.mgr.SerialNumber()
	return ctx
}

func (b *DeviceEventBase) DeviceEventData(status bool) *DeviceEvent {
	return &DeviceEvent{
		ResourceID:      b.mgr.DeviceID(),
		DeviceEventName: b.event + "_RAISE_EVENT",
		Description:     b.Description(status),
		Context:         b.ContextData(),
	}
}

// Send raises the event when status is true and clears it otherwise
func (b *DeviceEventBase) Send(ctx context.Context, status bool) error {
	header := b.mgr.Header(DeviceEventType, b.category, b.subCategory, b.event, b.raisedTs)
	return b.mgr.Send(ctx, header, b.DeviceEventData(status))
}
