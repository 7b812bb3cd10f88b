package adapter

import "encoding/json"

type OperStatus int32

const (
	OperUnknown OperStatus = iota
	OperDiscovered
	OperActivating
	OperTesting
	OperActive
	OperFailed
	OperReconciling
)

type ConnectStatus int32

const (
	ConnectUnknown ConnectStatus = iota
	ConnectUnreachable
	ConnectReachable
)

type AdminState int32

const (
	AdminUnknown AdminState = iota
	AdminPreprovisioned
	AdminEnabled
	AdminDisabled
	AdminDownloadingImage
	AdminDeleted
)

type PortType int32

const (
	PortUnknown PortType = iota
	PortEthernetNni
	PortEthernetUni
	PortPonOlt
	PortPonOnu
	PortVenetOlt
	PortVenetOnu
)

type ProxyAddress struct {
	DeviceID     string `json:"device_id"`
	DeviceType   string `json:"device_type"`
	ChannelID    uint32 `json:"channel_id"`
	OnuID        uint32 `json:"onu_id"`
	OnuSessionID uint32 `json:"onu_session_id"`
}

type Device struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	Root          bool          `json:"root"`
	ParentID      string        `json:"parent_id"`
	ParentPortNo  uint32        `json:"parent_port_no"`
	Vendor        string        `json:"vendor"`
	Model         string        `json:"model"`
	SerialNumber  string        `json:"serial_number"`
	MacAddress    string        `json:"mac_address,omitempty"`
	AdminState    AdminState    `json:"admin_state"`
	OperStatus    OperStatus    `json:"oper_status"`
	ConnectStatus ConnectStatus `json:"connect_status"`
	Reason        string        `json:"reason,omitempty"`
	ProxyAddress  *ProxyAddress `json:"proxy_address,omitempty"`
}

type Devices struct {
	Items []*Device `json:"items"`
}

type Port struct {
	PortNo     uint32     `json:"port_no"`
	Label      string     `json:"label"`
	Type       PortType   `json:"type"`
	AdminState AdminState `json:"admin_state"`
	OperStatus OperStatus `json:"oper_status"`
	DeviceID   string     `json:"device_id"`
}

type Ports struct {
	Items []*Port `json:"items"`
}

type AdapterInfo struct {
	ID             string `json:"id"`
	Vendor         string `json:"vendor"`
	Version        string `json:"version"`
	Type           string `json:"type"`
	Endpoint       string `json:"endpoint"`
	CurrentReplica int32  `json:"current_replica"`
	TotalReplicas  int32  `json:"total_replicas"`
}

type DeviceType struct {
	ID                          string   `json:"id"`
	VendorIDs                   []string `json:"vendor_ids,omitempty"`
	Adapter                     string   `json:"adapter"`
	AcceptsBulkFlowUpdate       bool     `json:"accepts_bulk_flow_update"`
	AcceptsAddRemoveFlowUpdates bool     `json:"accepts_add_remove_flow_updates"`
}

type CoreInstance struct {
	InstanceID string `json:"instance_id"`
	Health     string `json:"health"`
}

type SwitchCapability struct {
	Manufacturer string `json:"manufacturer"`
	Hardware     string `json:"hardware"`
	Software     string `json:"software"`
	SerialNumber string `json:"serial_number"`
	PortCount    uint32 `json:"port_count"`
}

type ImageDownload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	Crc           uint32 `json:"crc"`
	DownloadState string `json:"download_state,omitempty"`
	ImageState    string `json:"image_state,omitempty"`
}

// InterAdapterHeaderType values carried in InterAdapterHeader.Type
type InterAdapterHeaderType int32

const (
	FlowRequest InterAdapterHeaderType = iota
	FlowResponse
	OmciRequest
	OmciResponse
	MetricsRequest
	MetricsResponse
	OnuIndRequest
	OnuIndResponse
)

type InterAdapterHeader struct {
	ID            string                 `json:"id"`
	Type          InterAdapterHeaderType `json:"type"`
	FromTopic     string                 `json:"from_topic"`
	ToTopic       string                 `json:"to_topic"`
	ToDeviceID    string                 `json:"to_device_id"`
	ProxyDeviceID string                 `json:"proxy_device_id"`
}

type InterAdapterMessage struct {
	Header InterAdapterHeader `json:"header"`
	Body   json.RawMessage    `json:"body,omitempty"`
}

type OmciTestRequest struct {
	ID   string `json:"id"`
	UUID string `json:"uuid"`
}

type TestResult string

const (
	TestSuccess TestResult = "SUCCESS"
	TestFailure TestResult = "FAILURE"
)

type TestResponse struct {
	Result TestResult `json:"result"`
}

type ValueType string

type ReturnValues struct {
	Set         []string          `json:"set,omitempty"`
	Unsupported []string          `json:"unsupported,omitempty"`
	Error       []string          `json:"error,omitempty"`
	Values      map[string]string `json:"values,omitempty"`
}

type SingleGetValueRequest struct {
	TargetID string          `json:"target_id"`
	Request  json.RawMessage `json:"request"`
}

type SingleGetValueResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Flow changes are passed to the adapter untouched
type (
	Flows            = json.RawMessage
	FlowGroups       = json.RawMessage
	FlowChanges      = json.RawMessage
	FlowGroupChanges = json.RawMessage
	PacketOut        = json.RawMessage
)

type EventFilterRuleKey string

const (
	RuleCategory    EventFilterRuleKey = "category"
	RuleSubCategory EventFilterRuleKey = "sub_category"
	RuleKpiEvent    EventFilterRuleKey = "kpi_event_type"
	RuleConfigEvent EventFilterRuleKey = "config_event_type"
	RuleDeviceEvent EventFilterRuleKey = "device_event_type"
	RuleType        EventFilterRuleKey = "type"
	RuleID          EventFilterRuleKey = "id"
	RuleResourceID  EventFilterRuleKey = "resource_id"
	RuleDeviceID    EventFilterRuleKey = "device_id"
)

type EventFilterRule struct {
	Key   EventFilterRuleKey `json:"key"`
	Value string             `json:"value"`
}

type EventFilter struct {
	ID       string            `json:"id"`
	Enable   bool              `json:"enable"`
	DeviceID string            `json:"device_id"`
	Rules    []EventFilterRule `json:"rules"`
}

type ErrorCode string

const (
	ErrorCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrorCodeUnsupported       ErrorCode = "UNSUPPORTED_REQUEST"
	ErrorCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

type ErrorResponse struct {
	Code   ErrorCode `json:"code"`
	Reason string    `json:"reason"`
}
