package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrClosed        = errors.New("messaging bus is closed")
	ErrTimeout       = errors.New("request timed out")
	ErrMissingArg    = errors.New("missing argument")
	ErrInvalidHeader = errors.New("invalid message header")
)

type MessageType string

const (
	RequestType          MessageType = "REQUEST"
	ResponseType         MessageType = "RESPONSE"
	DeviceDiscoveredType MessageType = "DEVICE_DISCOVERED"
	HeartbeatType        MessageType = "HEARTBEAT"
)

type Header struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	FromTopic string      `json:"from_topic"`
	ToTopic   string      `json:"to_topic"`
	KeyTopic  string      `json:"key_topic,omitempty"`
	// Timestamp is in unix milliseconds
	Timestamp int64 `json:"timestamp"`
}

type Message struct {
	Header Header          `json:"header"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Arg is a named RPC argument, its value is JSON encoded
type Arg struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// NewArg encodes v as the value of the argument key
func NewArg(key string, v interface{}) (Arg, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Arg{}, errors.Wrapf(err, "could not encode argument %s", key)
	}
	return Arg{Key: key, Value: b}, nil
}

func (a Arg) Decode(v interface{}) error {
	if len(a.Value) == 0 {
		return errors.Wrapf(ErrMissingArg, "%s", a.Key)
	}
	return errors.Wrapf(json.Unmarshal(a.Value, v), "could not decode argument %s", a.Key)
}

// IsEmpty reports an absent or null argument
func (a Arg) IsEmpty() bool {
	v := string(a.Value)
	return v == "" || v == "null" || v == `""` || v == "{}"
}

type RequestBody struct {
	Rpc              string `json:"rpc"`
	ReplyToTopic     string `json:"reply_to_topic"`
	ResponseRequired bool   `json:"response_required"`
	Args             []Arg  `json:"args"`
}

// ArgMap indexes the arguments by key
func (r *RequestBody) ArgMap() map[string]Arg {
	out := make(map[string]Arg, len(r.Args))
	for _, a := range r.Args {
		out[a.Key] = a
	}
	return out
}

type Response struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func (r *Response) Decode(v interface{}) error {
	if len(r.Result) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(r.Result, v), "could not decode response result")
}

func newHeader(typ MessageType, fromTopic, toTopic string) Header {
	return Header{
		ID:        uuid.NewString(),
		Type:      typ,
		FromTopic: fromTopic,
		ToTopic:   toTopic,
		Timestamp: time.Now().UnixMilli(),
	}
}

func NewRequest(fromTopic, toTopic, rpc string, args ...Arg) (*Message, error) {
	body, err := json.Marshal(RequestBody{
		Rpc:              rpc,
		ReplyToTopic:     fromTopic,
		ResponseRequired: true,
		Args:             args,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not encode %s request", rpc)
	}

	return &Message{Header: newHeader(RequestType, fromTopic, toTopic), Body: body}, nil
}

// NewResponse answers req, the response keeps the request id
func NewResponse(req *Message, success bool, result interface{}) (*Message, error) {
	resp := Response{Success: success}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, errors.Wrap(err, "could not encode response result")
		}
		resp.Result = b
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}

	replyTo := req.Header.FromTopic
	var rb RequestBody
	if json.Unmarshal(req.Body, &rb) == nil && rb.ReplyToTopic != "" {
		replyTo = rb.ReplyToTopic
	}

	h := newHeader(ResponseType, req.Header.ToTopic, replyTo)
	h.ID = req.Header.ID
	return &Message{Header: h, Body: body}, nil
}

// NewEvent wraps an arbitrary payload, such as a device event, into a message
func NewEvent(typ MessageType, fromTopic, toTopic string, payload interface{}) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode event payload")
	}
	return &Message{Header: newHeader(typ, fromTopic, toTopic), Body: body}, nil
}

func (m *Message) DecodeRequest() (*RequestBody, error) {
	if m.Header.Type != RequestType {
		return nil, errors.Wrapf(ErrInvalidHeader, "expected %s, got %s", RequestType, m.Header.Type)
	}

	var rb RequestBody
	if err := json.Unmarshal(m.Body, &rb); err != nil {
		return nil, errors.Wrap(err, "could not decode request body")
	}
	return &rb, nil
}
