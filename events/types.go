package events

import (
	"google.golang.org/protobuf/types/known/timestamppb"
)

type EventType int32

const (
	ConfigEventType EventType = iota
	KpiEventType
	KpiEvent2Type
	DeviceEventType
)

var eventTypeNames = map[EventType]string{
	ConfigEventType: "CONFIG_EVENT",
	KpiEventType:    "KPI_EVENT",
	KpiEvent2Type:   "KPI_EVENT2",
	DeviceEventType: "DEVICE_EVENT",
}

func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

type EventCategory int32

const (
	CategoryCommunication EventCategory = iota
	CategoryEnvironment
	CategoryEquipment
	CategoryService
	CategoryProcessing
	CategorySecurity
)

var categoryNames = map[EventCategory]string{
	CategoryCommunication: "COMMUNICATION",
	CategoryEnvironment:   "ENVIRONMENT",
	CategoryEquipment:     "EQUIPMENT",
	CategoryService:       "SERVICE",
	CategoryProcessing:    "PROCESSING",
	CategorySecurity:      "SECURITY",
}

func (c EventCategory) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

type EventSubCategory int32

const (
	SubCategoryPon EventSubCategory = iota
	SubCategoryOlt
	SubCategoryOnt
	SubCategoryOnu
	SubCategoryNni
)

var subCategoryNames = map[EventSubCategory]string{
	SubCategoryPon: "PON",
	SubCategoryOlt: "OLT",
	SubCategoryOnt: "ONT",
	SubCategoryOnu: "ONU",
	SubCategoryNni: "NNI",
}

func (s EventSubCategory) String() string {
	if name, ok := subCategoryNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

type EventHeader struct {
	ID          string                 `json:"id"`
	Category    EventCategory          `json:"category"`
	SubCategory EventSubCategory       `json:"sub_category"`
	Type        EventType              `json:"type"`
	TypeVersion string                 `json:"type_version"`
	RaisedTs    *timestamppb.Timestamp `json:"raised_ts"`
	ReportedTs  *timestamppb.Timestamp `json:"reported_ts"`
}

type DeviceEvent struct {
	ResourceID      string            `json:"resource_id"`
	DeviceEventName string            `json:"device_event_name"`
	Description     string            `json:"description"`
	Context         map[string]string `json:"context"`
}

type ConfigEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Data string `json:"data"`
}

type MetricMetaData struct {
	Title           string                 `json:"title"`
	Ts              *timestamppb.Timestamp `json:"ts"`
	LogicalDeviceID string                 `json:"logical_device_id"`
	SerialNo        string                 `json:"serial_no"`
	DeviceID        string                 `json:"device_id"`
	UUID            string                 `json:"uuid,omitempty"`
	Context         map[string]string      `json:"context,omitempty"`
}

type MetricInformation struct {
	Metadata MetricMetaData     `json:"metadata"`
	Metrics  map[string]float32 `json:"metrics"`
}

const KpiSliceType = "slice"

type KpiEvent2 struct {
	Type      string                `json:"type"`
	Ts        *timestamppb.Timestamp `json:"ts"`
	SliceData []*MetricInformation  `json:"slice_data"`
}

// Event carries exactly one body matching Header.Type
type Event struct {
	Header      *EventHeader `json:"header"`
	DeviceEvent *DeviceEvent `json:"device_event,omitempty"`
	KpiEvent2   *KpiEvent2   `json:"kpi_event2,omitempty"`
	ConfigEvent *ConfigEvent `json:"config_event,omitempty"`
}
