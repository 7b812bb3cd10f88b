package kvstore

import (
	"strconv"
	"strings"
)

const keySeparator = "/"

// numericSlot is where numeric segments sit among string segments, right
// after "9..." in byte order
const numericSlot = ":"

// Key is a slash separated path such as service/voltha/omci_mibs/onu-1
type Key struct {
	key      string
	segments []string
}

func newKey(k string) Key {
	return Key{
		key:      k,
		segments: strings.Split(k, keySeparator),
	}
}

// JoinKey glues path segments with the key separator, skipping empty ones
func JoinKey(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, keySeparator)
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, keySeparator)
}

func (k Key) String() string {
	return k.key
}

func (k Key) Bytes() []byte {
	return []byte(k.key)
}

func (k Key) Equal(other Key) bool {
	return k.key == other.key
}

// HasPrefix reports whether every segment of prefix matches the leading
// segments of k. An empty prefix matches everything.
func (k Key) HasPrefix(prefix Key) bool {
	if prefix.key == "" {
		return true
	}

	if len(prefix.segments) > len(k.segments) {
		return false
	}

	for i := range prefix.segments {
		if prefix.segments[i] != k.segments[i] {
			return false
		}
	}

	return true
}

// Less orders keys segment by segment. Two numeric segments compare as
// numbers so entity ids come out in order and two other segments compare as
// strings. A numeric segment sorts after every other segment below ":" and
// before the rest, which keeps the order transitive.
func (k Key) Less(other Key) bool {
	l := smallestSegmentLen(k.segments, other.segments)

	for i := 0; i < l; i++ {
		a, b := k.segments[i], other.segments[i]
		if a == b {
			continue
		}

		an, aIsNum := segmentToInt(a)
		bn, bIsNum := segmentToInt(b)

		switch {
		case aIsNum && bIsNum:
			return an < bn
		case aIsNum:
			return b >= numericSlot
		case bIsNum:
			return a < numericSlot
		default:
			return a < b
		}
	}

	return len(k.segments) < len(other.segments)
}

func byKeys(a, b interface{}) bool {
	i1, i2 := a.(*entry), b.(*entry)
	return i1.Key.Less(i2.Key)
}

func smallestSegmentLen(a, b []string) int {
	if len(a) > len(b) {
		return len(b)
	}

	return len(a)
}

// segmentToInt treats only positive decimal numbers without a leading zero
// as numeric, "0" and "007" stay strings
func segmentToInt(s string) (uint64, bool) {
	if s == "" || s[0] == '0' {
		return 0, false
	}

	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}
