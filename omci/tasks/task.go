package tasks

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

const (
	MinPriority     = 0
	DefaultPriority = 128
	MaxPriority     = 255
)

var (
	ErrTaskFailure     = errors.New("task failure")
	ErrTestFailure     = errors.New("omci test failure")
	ErrMibResetFailure = errors.New("mib reset failure")
	ErrRunnerStopped   = errors.New("task runner stopped")
)

// Task is a unit of OMCI work run by a device's TaskRunner.
// Start blocks until the task has finished, Stop may be called from another
// goroutine to abort it.
type Task interface {
	Name() string
	Priority() int
	Start(ctx context.Context) error
	Stop()
}

func clampPriority(p int) int {
	switch {
	case p < MinPriority:
		return MinPriority
	case p > MaxPriority:
		return MaxPriority
	default:
		return p
	}
}

// attrString reads a string attribute as sent by the ONU, NUL padded
func attrString(v interface{}) string {
	var s string
	switch tv := v.(type) {
	case string:
		s = tv
	case []byte:
		s = string(tv)
	default:
		return ""
	}
	return strings.TrimRight(s, "\x00")
}

func attrInt(v interface{}) (int, bool) {
	switch tv := v.(type) {
	case int:
		return tv, true
	case int64:
		return int(tv), true
	case uint8:
		return int(tv), true
	case uint16:
		return int(tv), true
	case float64:
		return int(tv), true
	case bool:
		if tv {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func attrFloat(v interface{}) (float32, bool) {
	switch tv := v.(type) {
	case float32:
		return tv, true
	case float64:
		return float32(tv), true
	}

	n, ok := attrInt(v)
	return float32(n), ok
}
