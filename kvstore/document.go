package kvstore

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var ErrJsonCouldNotBeUnmarshalled = errors.New("json contents could not be unmarshalled, probably is invalid")
var ErrJsonPathInvalid = errors.New("json path is invalid")

// Document is a copy of a stored value under its full key
type Document struct {
	key   string
	value []byte
}

func newDocument(key string, value []byte) *Document {
	return &Document{key: key, value: value}
}

func (d *Document) Key() string   { return d.key }
func (d *Document) Value() []byte { return d.value }

func (d *Document) RawString() string {
	return string(d.value)
}

func (d *Document) Json() *JsonValue {
	return NewJsonValue(d.value)
}

// JsonValue reads fields of a stored json blob by gjson path, the way
// MIB and alarm records are inspected without decoding them whole
type JsonValue struct {
	b []byte
}

func NewJsonValue(b []byte) *JsonValue {
	return &JsonValue{b: b}
}

func (js *JsonValue) Unmarshal(dest interface{}) error {
	if err := json.Unmarshal(js.b, dest); err != nil {
		return errors.Wrap(ErrJsonCouldNotBeUnmarshalled, err.Error())
	}
	return nil
}

func (js *JsonValue) Exists(path string) bool {
	return gjson.GetBytes(js.b, path).Exists()
}

func (js *JsonValue) Raw(path string) ([]byte, error) {
	return lookup(js.b, path, func(r gjson.Result) []byte { return []byte(r.Raw) })
}

func (js *JsonValue) String(path string) (string, error) {
	return lookup(js.b, path, gjson.Result.String)
}

func (js *JsonValue) Float(path string) (float64, error) {
	return lookup(js.b, path, gjson.Result.Float)
}

func (js *JsonValue) Int(path string) (int, error) {
	return lookup(js.b, path, func(r gjson.Result) int { return int(r.Int()) })
}

func (js *JsonValue) Bool(path string) (bool, error) {
	return lookup(js.b, path, gjson.Result.Bool)
}

func (js *JsonValue) StringOrDefault(path, def string) string {
	if v, err := js.String(path); err == nil {
		return v
	}
	return def
}

func (js *JsonValue) FloatOrDefault(path string, def float64) float64 {
	if v, err := js.Float(path); err == nil {
		return v
	}
	return def
}

func (js *JsonValue) IntOrDefault(path string, def int) int {
	if v, err := js.Int(path); err == nil {
		return v
	}
	return def
}

func (js *JsonValue) BoolOrDefault(path string, def bool) bool {
	if v, err := js.Bool(path); err == nil {
		return v
	}
	return def
}

func lookup[T any](b []byte, path string, conv func(gjson.Result) T) (T, error) {
	res := gjson.GetBytes(b, path)
	if !res.Exists() {
		var zero T
		return zero, errors.Wrapf(ErrJsonPathInvalid, "%s", path)
	}
	return conv(res), nil
}
