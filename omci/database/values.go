package database

import (
	"encoding/json"
	"math"

	"github.com/denismitr/voltha/omci"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Attribute values are kept as JSON values. Integral numbers decode to int,
// other numbers to float64, objects to map[string]interface{}.

func encodeValue(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "attribute value %T: %v", v, err)
	}
	return b, nil
}

func decodeValue(raw []byte) interface{} {
	return fromResult(gjson.ParseBytes(raw))
}

func fromResult(r gjson.Result) interface{} {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.String:
		return r.Str
	case gjson.Number:
		if r.Num == math.Trunc(r.Num) && math.Abs(r.Num) < 1<<53 {
			return int(r.Int())
		}
		return r.Num
	}

	if r.IsArray() {
		arr := r.Array()
		out := make([]interface{}, 0, len(arr))
		for _, item := range arr {
			out = append(out, fromResult(item))
		}
		return out
	}

	out := make(map[string]interface{})
	r.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = fromResult(value)
		return true
	})
	return out
}

func normalize(v interface{}) (interface{}, error) {
	raw, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	return decodeValue(raw), nil
}

func normalizeAttributes(attrs omci.Attributes) (omci.Attributes, error) {
	out := make(omci.Attributes, len(attrs))
	for k, v := range attrs {
		nv, err := normalize(v)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %s", k)
		}
		out[k] = nv
	}
	return out, nil
}

func encodeAttributes(attrs omci.Attributes) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(attrs))
	for k, v := range attrs {
		raw, err := encodeValue(v)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %s", k)
		}
		out[k] = raw
	}
	return out, nil
}

func decodeAttributes(raw map[string]json.RawMessage) omci.Attributes {
	out := make(omci.Attributes, len(raw))
	for k, v := range raw {
		out[k] = decodeValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i := range tv {
			out[i] = cloneValue(tv[i])
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(tv))
		for k, item := range tv {
			out[k] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// mergeAttributes applies update onto current and reports whether any value changed.
// Both sides must be normalized.
func mergeAttributes(current, update omci.Attributes) bool {
	modified := false
	for k, v := range update {
		old, ok := current[k]
		if ok && sameValue(old, v) {
			continue
		}
		current[k] = cloneValue(v)
		modified = true
	}
	return modified
}

func sameValue(a, b interface{}) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}
