package kvstore

import (
	"encoding/json"
	"github.com/pkg/errors"
	"strconv"
)

// position of a value blob inside the append only file
type position struct {
	offset uint64
	size   uint64
}

type entry struct {
	Key   Key
	Value []byte
	Pos   position
	// Lazy entries keep only the file position, the value is read on demand
	Lazy bool
}

func newEntry(key string, value []byte) *entry {
	return &entry{Key: newKey(key), Value: value}
}

func serializeToValue(d interface{}) ([]byte, error) {
	switch typedValue := d.(type) {
	case []byte:
		return append([]byte(nil), typedValue...), nil
	case string:
		return []byte(typedValue), nil
	case int:
		return []byte(strconv.Itoa(typedValue)), nil
	case json.RawMessage:
		return append([]byte(nil), typedValue...), nil
	}

	b, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrapf(err, "could not marshal data %+v value", d)
	}

	return b, nil
}
