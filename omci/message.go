package omci

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

type MessageType int

const (
	Create            MessageType = 4
	Delete            MessageType = 6
	Set               MessageType = 8
	Get               MessageType = 9
	GetAllAlarms      MessageType = 11
	GetAllAlarmsNext  MessageType = 12
	MibUpload         MessageType = 13
	MibUploadNext     MessageType = 14
	MibReset          MessageType = 15
	AlarmNotification MessageType = 16
	AttributeValueChg MessageType = 17
	Test              MessageType = 18
	Reboot            MessageType = 25
	GetNext           MessageType = 26
	TestResult        MessageType = 27
)

var messageTypeNames = map[MessageType]string{
	Create:            "Create",
	Delete:            "Delete",
	Set:               "Set",
	Get:               "Get",
	GetAllAlarms:      "GetAllAlarms",
	GetAllAlarmsNext:  "GetAllAlarmsNext",
	MibUpload:         "MibUpload",
	MibUploadNext:     "MibUploadNext",
	MibReset:          "MibReset",
	AlarmNotification: "AlarmNotification",
	AttributeValueChg: "AttributeValueChange",
	Test:              "Test",
	Reboot:            "Reboot",
	GetNext:           "GetNext",
	TestResult:        "Test_Result",
}

func (m MessageType) String() string {
	if n, ok := messageTypeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("MessageType(%d)", int(m))
}

// MessageTypes lists every message type the library knows of
func MessageTypes() []MessageType {
	return []MessageType{
		Create, Delete, Set, Get, GetAllAlarms, GetAllAlarmsNext, MibUpload, MibUploadNext,
		MibReset, AlarmNotification, AttributeValueChg, Test, Reboot, GetNext, TestResult,
	}
}

type ResultCode int

const (
	Success          ResultCode = 0
	ProcessingError  ResultCode = 1
	NotSupported     ResultCode = 2
	ParameterError   ResultCode = 3
	UnknownEntity    ResultCode = 4
	UnknownInstance  ResultCode = 5
	DeviceBusy       ResultCode = 6
	InstanceExists   ResultCode = 7
	AttributeFailure ResultCode = 9
)

func (rc ResultCode) String() string {
	switch rc {
	case Success:
		return "Success"
	case ProcessingError:
		return "ProcessingError"
	case NotSupported:
		return "NotSupported"
	case ParameterError:
		return "ParameterError"
	case UnknownEntity:
		return "UnknownEntity"
	case UnknownInstance:
		return "UnknownInstance"
	case DeviceBusy:
		return "DeviceBusy"
	case InstanceExists:
		return "InstanceExists"
	case AttributeFailure:
		return "AttributeFailure"
	default:
		return fmt.Sprintf("ResultCode(%d)", int(rc))
	}
}

// Attributes are decoded attribute values keyed by attribute name
type Attributes map[string]interface{}

type Request struct {
	MessageType   MessageType
	ClassID       ClassID
	EntityID      int
	Attributes    Attributes
	AttributeMask uint16
	Data          []byte
}

type Response struct {
	MessageType MessageType
	ClassID     ClassID
	EntityID    int
	Success     ResultCode
	Attributes  Attributes

	// Commands is the number of follow up *Next requests announced by
	// GetAllAlarms and MibUpload responses
	Commands int

	// set on GetAllAlarmsNext responses, the entity being reported
	AlarmClassID  ClassID
	AlarmEntityID int
	AlarmBitmap   AlarmBitmap

	AlarmSequence int
}

type Notification struct {
	ClassID     ClassID
	EntityID    int
	AlarmBitmap AlarmBitmap
	Sequence    int
}

const AlarmBitmapBits = 224

// AlarmBitmap holds the 224 alarm bits of an entity, alarm n is bit 223-n
// of the big endian number
type AlarmBitmap [AlarmBitmapBits / 8]byte

var ErrInvalidAlarmBitmap = errors.New("invalid alarm bitmap")

func NewAlarmBitmap(alarms ...int) AlarmBitmap {
	var b AlarmBitmap
	for _, n := range alarms {
		b.Set(n)
	}
	return b
}

func (b *AlarmBitmap) Set(n int) {
	if n < 0 || n >= AlarmBitmapBits {
		return
	}
	b[n/8] |= 0x80 >> uint(n%8)
}

func (b AlarmBitmap) IsSet(n int) bool {
	if n < 0 || n >= AlarmBitmapBits {
		return false
	}
	return b[n/8]&(0x80>>uint(n%8)) != 0
}

// Alarms returns the raised alarm numbers in ascending order
func (b AlarmBitmap) Alarms() []int {
	var out []int
	for n := 0; n < AlarmBitmapBits; n++ {
		if b.IsSet(n) {
			out = append(out, n)
		}
	}
	return out
}

func (b AlarmBitmap) IsZero() bool {
	return b == AlarmBitmap{}
}

func (b AlarmBitmap) Int() *big.Int {
	return new(big.Int).SetBytes(b[:])
}

// String renders the bitmap as the decimal integer it is stored as
func (b AlarmBitmap) String() string {
	return b.Int().Text(10)
}

func ParseAlarmBitmap(s string) (AlarmBitmap, error) {
	var b AlarmBitmap
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > AlarmBitmapBits {
		return b, errors.Wrapf(ErrInvalidAlarmBitmap, "%q", s)
	}
	n.FillBytes(b[:])
	return b, nil
}
