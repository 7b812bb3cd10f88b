package database

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/denismitr/voltha/kvstore"
	"github.com/denismitr/voltha/omci"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// AlarmBitmapKey is the attribute holding the alarm bitmap of an instance
const AlarmBitmapKey = "alarm_bit_map"

type AlarmDevice struct {
	DeviceID          string
	Created           time.Time
	LastSyncTime      time.Time
	LastAlarmSequence int
	Version           int
	Classes           Classes
}

type alarmDeviceRecord struct {
	DeviceID          string `json:"device_id"`
	Created           string `json:"created"`
	LastSyncTime      string `json:"last_sync_time"`
	LastAlarmSequence int    `json:"last_alarm_sequence"`
	Version           int    `json:"version"`
}

type alarmClassRecord struct {
	ClassID omci.ClassID `json:"class_id"`
}

type alarmInstanceRecord struct {
	InstanceID int               `json:"instance_id"`
	Created    string            `json:"created"`
	Modified   string            `json:"modified"`
	Attributes map[string]string `json:"attributes"`
}

// AlarmDbExternal keeps the last known alarm state of every ONU entity in a
// key/value store. Attribute values are integers, the alarm bitmap being
// returned as an omci.AlarmBitmap. kv is expected to be scoped at AlarmPath.
type AlarmDbExternal struct {
	kv    kvstore.Client
	lg    *zap.Logger
	stats *statistics

	mu      sync.Mutex
	started bool
}

func NewAlarmDbExternal(kv kvstore.Client, lg *zap.Logger) *AlarmDbExternal {
	if lg == nil {
		lg = zap.NewNop()
	}

	return &AlarmDbExternal{
		kv:    kv,
		lg:    lg.With(zap.String("db", "alarm-external")),
		stats: newStatistics(),
	}
}

func alarmClassKey(deviceID string, classID omci.ClassID) string {
	return fmt.Sprintf("%s/classes/%d", deviceID, int(classID))
}

func alarmInstanceKey(deviceID string, classID omci.ClassID, entityID int) string {
	return fmt.Sprintf("%s/classes/%d/instances/%d", deviceID, int(classID), entityID)
}

func (db *AlarmDbExternal) Start(ctx context.Context) error {
	db.mu.Lock()
	db.started = true
	db.mu.Unlock()
	return nil
}

func (db *AlarmDbExternal) Stop(ctx context.Context) error {
	db.mu.Lock()
	db.started = false
	db.mu.Unlock()
	return nil
}

func (db *AlarmDbExternal) Active() bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.started
}

func (db *AlarmDbExternal) Statistics() []MibDbStatistic {
	return db.stats.snapshot()
}

func (db *AlarmDbExternal) ensureStarted() error {
	if !db.started {
		return ErrDatabaseNotStarted
	}
	return nil
}

func (db *AlarmDbExternal) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	raw, err := db.kv.Get(ctx, key)
	if err != nil {
		if kvstore.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return false, errors.Wrapf(err, "corrupt alarm record %s", key)
	}

	return true, nil
}

func (db *AlarmDbExternal) setJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "could not encode alarm record %s", key)
	}
	return db.kv.Set(ctx, key, raw)
}

func (db *AlarmDbExternal) loadDevice(ctx context.Context, deviceID string) (*alarmDeviceRecord, error) {
	var rec alarmDeviceRecord
	found, err := db.getJSON(ctx, deviceKey(deviceID), &rec)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, errors.Wrapf(ErrDeviceNotFound, "%s", deviceID)
	}

	return &rec, nil
}

func (db *AlarmDbExternal) Add(ctx context.Context, deviceID string, overwrite bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return err
	}

	if err := validateDeviceID(deviceID); err != nil {
		return err
	}

	if _, err := db.loadDevice(ctx, deviceID); err == nil && !overwrite {
		return errors.Wrapf(ErrDeviceExists, "%s", deviceID)
	} else if err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return err
	}

	return db.setJSON(ctx, deviceKey(deviceID), &alarmDeviceRecord{
		DeviceID: deviceID,
		Created:  timeToString(now()),
		Version:  CurrentVersion,
	})
}

func (db *AlarmDbExternal) Remove(ctx context.Context, deviceID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return err
	}

	if err := validateDeviceID(deviceID); err != nil {
		return err
	}

	children, err := db.kv.List(ctx, deviceID+"/classes")
	if err != nil {
		return err
	}

	for key := range children {
		if err := db.kv.Delete(ctx, key); err != nil {
			return err
		}
	}

	return db.kv.Delete(ctx, deviceKey(deviceID))
}

func attributeToString(name string, v interface{}) (string, error) {
	switch tv := v.(type) {
	case omci.AlarmBitmap:
		return tv.String(), nil
	case *big.Int:
		return tv.Text(10), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(tv), nil
	case string:
		if _, ok := new(big.Int).SetString(tv, 10); ok {
			return tv, nil
		}
	}

	return "", errors.Wrapf(ErrInvalidArgument, "alarm attribute %s must be an integer, got %T", name, v)
}

func stringToAttribute(name, s string) (interface{}, error) {
	if name == AlarmBitmapKey {
		if s == "" {
			return omci.AlarmBitmap{}, nil
		}
		return omci.ParseAlarmBitmap(s)
	}

	if s == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "alarm attribute %s=%q is not an integer", name, s)
	}

	return n, nil
}

func (db *AlarmDbExternal) Set(
	ctx context.Context,
	deviceID string,
	classID omci.ClassID,
	entityID int,
	attrs omci.Attributes,
) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := validateIDs(deviceID, classID, entityID); err != nil {
		return false, err
	}

	if err := db.ensureStarted(); err != nil {
		return false, err
	}

	values := make(map[string]string, len(attrs))
	for k, v := range attrs {
		s, err := attributeToString(k, v)
		if err != nil {
			return false, err
		}
		values[k] = s
	}

	if _, err := db.loadDevice(ctx, deviceID); err != nil {
		return false, err
	}

	var cls alarmClassRecord
	classFound, err := db.getJSON(ctx, alarmClassKey(deviceID, classID), &cls)
	if err != nil {
		return false, err
	}

	if !classFound {
		if err := db.setJSON(ctx, alarmClassKey(deviceID, classID), &alarmClassRecord{ClassID: classID}); err != nil {
			return false, err
		}
	}

	key := alarmInstanceKey(deviceID, classID, entityID)

	var inst alarmInstanceRecord
	found, err := db.getJSON(ctx, key, &inst)
	if err != nil {
		return false, err
	}

	if !found {
		start := time.Now()
		defer db.stats.record(statCreate, start)

		ts := timeToString(now())
		return true, db.setJSON(ctx, key, &alarmInstanceRecord{
			InstanceID: entityID,
			Created:    ts,
			Modified:   ts,
			Attributes: values,
		})
	}

	start := time.Now()
	defer db.stats.record(statSet, start)

	if inst.Attributes == nil {
		inst.Attributes = make(map[string]string)
	}

	modified := false
	for k, v := range values {
		if old, ok := inst.Attributes[k]; ok && old == v {
			continue
		}
		inst.Attributes[k] = v
		modified = true
	}

	if !modified {
		return false, nil
	}

	inst.Modified = timeToString(now())
	return true, db.setJSON(ctx, key, &inst)
}

func (db *AlarmDbExternal) Delete(ctx context.Context, deviceID string, classID omci.ClassID, entityID int) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return false, err
	}

	if err := validateIDs(deviceID, classID, entityID); err != nil {
		return false, err
	}

	start := time.Now()
	defer db.stats.record(statDelete, start)

	key := alarmInstanceKey(deviceID, classID, entityID)
	if _, err := db.kv.Get(ctx, key); err != nil {
		if kvstore.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if err := db.kv.Delete(ctx, key); err != nil {
		return false, err
	}

	left, err := db.kv.List(ctx, alarmClassKey(deviceID, classID)+"/instances")
	if err != nil {
		return false, err
	}

	if len(left) == 0 {
		if err := db.kv.Delete(ctx, alarmClassKey(deviceID, classID)); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (db *AlarmDbExternal) Query(ctx context.Context, deviceID string) (*AlarmDevice, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer db.stats.record(statGet, start)

	rec, err := db.loadDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	dev := &AlarmDevice{
		DeviceID:          rec.DeviceID,
		LastAlarmSequence: rec.LastAlarmSequence,
		Version:           rec.Version,
		Classes:           make(Classes),
	}

	if dev.Created, err = stringToTime(rec.Created); err != nil {
		return nil, err
	}
	if dev.LastSyncTime, err = stringToTime(rec.LastSyncTime); err != nil {
		return nil, err
	}

	children, err := db.kv.List(ctx, deviceID+"/classes")
	if err != nil {
		return nil, err
	}

	for key, raw := range children {
		classID, entityID, ok := parseAlarmKey(deviceID, key)
		if !ok || entityID < 0 {
			continue
		}

		var ir alarmInstanceRecord
		if err := json.Unmarshal(raw, &ir); err != nil {
			return nil, errors.Wrapf(err, "corrupt alarm record %s", key)
		}

		inst, err := ir.toInstance()
		if err != nil {
			return nil, err
		}

		cls, ok := dev.Classes[classID]
		if !ok {
			cls = &Class{ClassID: classID, Instances: make(map[int]*Instance)}
			dev.Classes[classID] = cls
		}
		cls.Instances[entityID] = inst
	}

	return dev, nil
}

// parseAlarmKey splits <device>/classes/<class>[/instances/<entity>], entity being -1 for class keys
func parseAlarmKey(deviceID, key string) (omci.ClassID, int, bool) {
	rest := strings.TrimPrefix(key, deviceID+"/classes/")
	if rest == key {
		return 0, 0, false
	}

	parts := strings.Split(rest, "/")
	classID, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}

	switch {
	case len(parts) == 1:
		return omci.ClassID(classID), -1, true
	case len(parts) == 3 && parts[1] == "instances":
		entityID, err := strconv.Atoi(parts[2])
		if err != nil {
			return 0, 0, false
		}
		return omci.ClassID(classID), entityID, true
	default:
		return 0, 0, false
	}
}

func (ir *alarmInstanceRecord) toInstance() (*Instance, error) {
	inst := &Instance{InstanceID: ir.InstanceID, Attributes: make(omci.Attributes, len(ir.Attributes))}

	var err error
	if inst.Created, err = stringToTime(ir.Created); err != nil {
		return nil, err
	}
	if inst.Modified, err = stringToTime(ir.Modified); err != nil {
		return nil, err
	}

	for k, v := range ir.Attributes {
		if inst.Attributes[k], err = stringToAttribute(k, v); err != nil {
			return nil, err
		}
	}

	return inst, nil
}

func (db *AlarmDbExternal) QueryClass(ctx context.Context, deviceID string, classID omci.ClassID) (*Class, error) {
	if err := validateIDs(deviceID, classID, 0); err != nil {
		return nil, err
	}

	dev, err := db.Query(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if cls, ok := dev.Classes[classID]; ok {
		return cls, nil
	}

	return &Class{ClassID: classID, Instances: map[int]*Instance{}}, nil
}

// QueryInstance returns nil for a missing instance
func (db *AlarmDbExternal) QueryInstance(ctx context.Context, deviceID string, classID omci.ClassID, entityID int) (*Instance, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return nil, err
	}

	if err := validateIDs(deviceID, classID, entityID); err != nil {
		return nil, err
	}

	start := time.Now()
	defer db.stats.record(statGet, start)

	if _, err := db.loadDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	var ir alarmInstanceRecord
	found, err := db.getJSON(ctx, alarmInstanceKey(deviceID, classID, entityID), &ir)
	if err != nil || !found {
		return nil, err
	}

	return ir.toInstance()
}

func (db *AlarmDbExternal) QueryAttributes(
	ctx context.Context,
	deviceID string,
	classID omci.ClassID,
	entityID int,
	names ...string,
) (omci.Attributes, error) {
	inst, err := db.QueryInstance(ctx, deviceID, classID, entityID)
	if err != nil {
		return nil, err
	}

	if inst == nil {
		return omci.Attributes{}, nil
	}

	return pick(inst.Attributes, names), nil
}

func (db *AlarmDbExternal) updateDevice(ctx context.Context, deviceID string, fn func(rec *alarmDeviceRecord)) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return err
	}

	rec, err := db.loadDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	fn(rec)
	return db.setJSON(ctx, deviceKey(deviceID), rec)
}

func (db *AlarmDbExternal) SaveLastSyncTime(ctx context.Context, deviceID string, t time.Time) error {
	return db.updateDevice(ctx, deviceID, func(rec *alarmDeviceRecord) {
		rec.LastSyncTime = timeToString(t)
	})
}

func (db *AlarmDbExternal) GetLastSyncTime(ctx context.Context, deviceID string) (time.Time, error) {
	dev, err := db.deviceRecord(ctx, deviceID)
	if err != nil {
		return time.Time{}, err
	}
	return stringToTime(dev.LastSyncTime)
}

// SaveAlarmLastSync stores the last alarm sequence number received, 0..255
func (db *AlarmDbExternal) SaveAlarmLastSync(ctx context.Context, deviceID string, seq int) error {
	if seq < 0 || seq > 255 {
		return errors.Wrapf(ErrInvalidArgument, "invalid alarm sequence %d, must be 0..255", seq)
	}

	return db.updateDevice(ctx, deviceID, func(rec *alarmDeviceRecord) {
		rec.LastAlarmSequence = seq
	})
}

func (db *AlarmDbExternal) GetAlarmLastSync(ctx context.Context, deviceID string) (int, error) {
	dev, err := db.deviceRecord(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	return dev.LastAlarmSequence, nil
}

func (db *AlarmDbExternal) deviceRecord(ctx context.Context, deviceID string) (*alarmDeviceRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return nil, err
	}

	return db.loadDevice(ctx, deviceID)
}
