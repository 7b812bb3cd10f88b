package database

import (
	"context"
	"time"

	"github.com/denismitr/voltha/omci"
	"github.com/pkg/errors"
)

var (
	ErrDatabaseNotStarted = errors.New("database is not started")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrDeviceExists       = errors.New("device already exists")
)

const (
	MibPath      = "service/voltha/omci_mibs"
	AlarmPath    = "service/voltha/omci_alarms"
	TemplatePath = MibPath + "/templates"

	CurrentVersion = 1

	// TimeLayout is the layout timestamps are persisted with
	TimeLayout = "20060102-150405.000000"
)

// ManagedEntity is a class the ONU reported as supported
type ManagedEntity struct {
	ClassID omci.ClassID `json:"class_id"`
	Name    string       `json:"name"`
}

type Instance struct {
	InstanceID int
	Created    time.Time
	Modified   time.Time
	Attributes omci.Attributes
}

type Class struct {
	ClassID   omci.ClassID
	Instances map[int]*Instance
}

// Classes maps class ids to their instances, the shape of a MIB template
type Classes map[omci.ClassID]*Class

type Device struct {
	DeviceID        string
	Created         time.Time
	LastSyncTime    time.Time
	MibDataSync     int
	Version         int
	ManagedEntities []ManagedEntity
	MessageTypes    []omci.MessageType
	Classes         Classes
}

// MibDb is the storage of the MIB of every ONU handled by the agent
type MibDb interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Active() bool

	Add(ctx context.Context, deviceID string, overwrite bool) error
	Remove(ctx context.Context, deviceID string) error
	DeviceIDs(ctx context.Context) ([]string, error)

	// Set creates or updates an instance and reports whether anything changed
	Set(ctx context.Context, deviceID string, classID omci.ClassID, entityID int, attrs omci.Attributes) (bool, error)
	// Delete reports whether the instance existed
	Delete(ctx context.Context, deviceID string, classID omci.ClassID, entityID int) (bool, error)

	Query(ctx context.Context, deviceID string) (*Device, error)
	QueryClass(ctx context.Context, deviceID string, classID omci.ClassID) (*Class, error)
	QueryInstance(ctx context.Context, deviceID string, classID omci.ClassID, entityID int) (*Instance, error)
	QueryAttributes(ctx context.Context, deviceID string, classID omci.ClassID, entityID int, names ...string) (omci.Attributes, error)

	OnMibReset(ctx context.Context, deviceID string) error
	SaveMibDataSync(ctx context.Context, deviceID string, value int) error
	GetMibDataSync(ctx context.Context, deviceID string) (int, error)
	SaveLastSyncTime(ctx context.Context, deviceID string, t time.Time) error
	GetLastSyncTime(ctx context.Context, deviceID string) (time.Time, error)
	UpdateSupportedManagedEntities(ctx context.Context, deviceID string, classIDs []omci.ClassID) error
	UpdateSupportedMessageTypes(ctx context.Context, deviceID string, msgTypes []omci.MessageType) error

	LoadFromTemplate(ctx context.Context, deviceID string, classes Classes) error
	DumpToJSON(ctx context.Context, deviceID string) ([]byte, error)

	Statistics() []MibDbStatistic
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func stringToTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidArgument, "bad timestamp %q", s)
	}

	return t, nil
}

func validateDeviceID(deviceID string) error {
	if deviceID == "" {
		return errors.Wrap(ErrInvalidArgument, "device id must be a non empty string")
	}
	return nil
}

func validateIDs(deviceID string, classID omci.ClassID, entityID int) error {
	if err := validateDeviceID(deviceID); err != nil {
		return err
	}

	if !classID.Valid() {
		return errors.Wrapf(ErrInvalidArgument, "invalid class id %d, should be 0..65535", int(classID))
	}

	if entityID < 0 || entityID > 0xFFFF {
		return errors.Wrapf(ErrInvalidArgument, "invalid entity id %d, should be 0..65535", entityID)
	}

	return nil
}

func validateMibDataSync(value int) error {
	if value < 0 || value > 255 {
		return errors.Wrapf(ErrInvalidArgument, "invalid mib data sync value %d, must be 0..255", value)
	}
	return nil
}

func managedEntities(classIDs []omci.ClassID) []ManagedEntity {
	out := make([]ManagedEntity, 0, len(classIDs))
	for _, c := range classIDs {
		out = append(out, ManagedEntity{ClassID: c, Name: c.String()})
	}
	return out
}

// pick returns the subset of attrs named by names, all of them when names is empty
func pick(attrs omci.Attributes, names []string) omci.Attributes {
	out := make(omci.Attributes)
	if len(names) == 0 {
		for k, v := range attrs {
			out[k] = cloneValue(v)
		}
		return out
	}

	for _, n := range names {
		if v, ok := attrs[n]; ok {
			out[n] = cloneValue(v)
		}
	}
	return out
}
