package omci

import (
	"github.com/pkg/errors"
)

var ErrInvalidEntityID = errors.New("entity id must be 0..0xFFFF")

// Frame builds requests against a single managed entity instance
type Frame struct {
	class    *EntityClass
	entityID int
}

func NewFrame(classID ClassID, entityID int) (*Frame, error) {
	ec, ok := Lookup(classID)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownClass, "%d", int(classID))
	}

	if entityID < 0 || entityID > 0xFFFF {
		return nil, errors.Wrapf(ErrInvalidEntityID, "got %d", entityID)
	}

	return &Frame{class: ec, entityID: entityID}, nil
}

func (f *Frame) ClassID() ClassID { return f.class.ClassID }
func (f *Frame) EntityID() int    { return f.entityID }

func (f *Frame) request(mt MessageType) Request {
	return Request{MessageType: mt, ClassID: f.class.ClassID, EntityID: f.entityID}
}

func (f *Frame) Get(attributes ...string) (Request, error) {
	mask, err := f.class.Mask(attributes...)
	if err != nil {
		return Request{}, err
	}

	req := f.request(Get)
	req.AttributeMask = mask
	req.Attributes = make(Attributes, len(attributes))
	for _, a := range attributes {
		req.Attributes[a] = nil
	}

	return req, nil
}

func (f *Frame) Set(attributes Attributes) (Request, error) {
	return f.withValues(Set, attributes)
}

func (f *Frame) Create(attributes Attributes) (Request, error) {
	return f.withValues(Create, attributes)
}

func (f *Frame) withValues(mt MessageType, attributes Attributes) (Request, error) {
	names := make([]string, 0, len(attributes))
	for n := range attributes {
		names = append(names, n)
	}

	mask, err := f.class.Mask(names...)
	if err != nil {
		return Request{}, err
	}

	req := f.request(mt)
	req.AttributeMask = mask
	req.Attributes = attributes
	return req, nil
}

func (f *Frame) Delete() Request { return f.request(Delete) }
func (f *Frame) Test() Request   { return f.request(Test) }

func MibResetRequest() Request {
	return Request{MessageType: MibReset, ClassID: OntDataClassID}
}

func GetAllAlarmsRequest() Request {
	return Request{MessageType: GetAllAlarms, ClassID: OntDataClassID}
}

// GetAllAlarmsNextRequest asks for the command-th alarm report of a get all alarms sequence
func GetAllAlarmsNextRequest(command int) Request {
	return Request{
		MessageType: GetAllAlarmsNext,
		ClassID:     OntDataClassID,
		Data:        []byte{byte(command >> 8), byte(command)},
	}
}
