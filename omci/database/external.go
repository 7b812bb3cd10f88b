package database

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/denismitr/voltha/kvstore"
	"github.com/denismitr/voltha/omci"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type deviceRecord struct {
	DeviceID        string             `json:"device_id"`
	Created         string             `json:"created"`
	LastSyncTime    string             `json:"last_sync_time"`
	MibDataSync     int                `json:"mib_data_sync"`
	Version         int                `json:"version"`
	ManagedEntities []ManagedEntity    `json:"managed_entities,omitempty"`
	MessageTypes    []omci.MessageType `json:"message_types,omitempty"`
	Classes         []omci.ClassID     `json:"classes,omitempty"`
}

type instanceRecord struct {
	InstanceID int                        `json:"instance_id"`
	Created    string                     `json:"created"`
	Modified   string                     `json:"modified"`
	Attributes map[string]json.RawMessage `json:"attributes"`
}

type classRecord struct {
	ClassID   omci.ClassID            `json:"class_id"`
	Instances map[int]*instanceRecord `json:"instances"`
}

// MibDbExternal keeps the MIB in a key/value store, one record per device
// and one per class. kv is expected to be scoped at MibPath.
type MibDbExternal struct {
	kv    kvstore.Client
	lg    *zap.Logger
	stats *statistics

	mu      sync.Mutex
	started bool
}

var _ MibDb = (*MibDbExternal)(nil)

func NewMibDbExternal(kv kvstore.Client, lg *zap.Logger) *MibDbExternal {
	if lg == nil {
		lg = zap.NewNop()
	}

	return &MibDbExternal{
		kv:    kv,
		lg:    lg.With(zap.String("db", "mib-external")),
		stats: newStatistics(),
	}
}

func deviceKey(deviceID string) string {
	return deviceID
}

func classKey(deviceID string, classID omci.ClassID) string {
	return deviceID + "/classes/" + strconv.Itoa(int(classID))
}

func (db *MibDbExternal) Start(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.started {
		db.started = true
		db.lg.Debug("started")
	}
	return nil
}

func (db *MibDbExternal) Stop(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.started {
		db.started = false
		db.lg.Debug("stopped")
	}
	return nil
}

func (db *MibDbExternal) Active() bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.started
}

func (db *MibDbExternal) Statistics() []MibDbStatistic {
	return db.stats.snapshot()
}

func (db *MibDbExternal) ensureStarted() error {
	if !db.started {
		return ErrDatabaseNotStarted
	}
	return nil
}

func (db *MibDbExternal) loadDevice(ctx context.Context, deviceID string) (*deviceRecord, error) {
	raw, err := db.kv.Get(ctx, deviceKey(deviceID))
	if err != nil {
		if kvstore.IsNotFound(err) {
			return nil, errors.Wrapf(ErrDeviceNotFound, "%s", deviceID)
		}
		return nil, err
	}

	var rec deviceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrapf(err, "corrupt device record %s", deviceID)
	}

	return &rec, nil
}

func (db *MibDbExternal) storeDevice(ctx context.Context, rec *deviceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "could not encode device record %s", rec.DeviceID)
	}
	return db.kv.Set(ctx, deviceKey(rec.DeviceID), raw)
}

// loadClass returns nil without an error for a missing class
func (db *MibDbExternal) loadClass(ctx context.Context, deviceID string, classID omci.ClassID) (*classRecord, error) {
	raw, err := db.kv.Get(ctx, classKey(deviceID, classID))
	if err != nil {
		if kvstore.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var rec classRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrapf(err, "corrupt class record %s/%d", deviceID, int(classID))
	}

	if rec.Instances == nil {
		rec.Instances = make(map[int]*instanceRecord)
	}

	return &rec, nil
}

func (db *MibDbExternal) storeClass(ctx context.Context, deviceID string, rec *classRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "could not encode class record %s/%d", deviceID, int(rec.ClassID))
	}
	return db.kv.Set(ctx, classKey(deviceID, rec.ClassID), raw)
}

func newDeviceRecord(deviceID string) *deviceRecord {
	return &deviceRecord{
		DeviceID: deviceID,
		Created:  timeToString(now()),
		Version:  CurrentVersion,
	}
}

func (db *MibDbExternal) Add(ctx context.Context, deviceID string, overwrite bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return err
	}

	if err := validateDeviceID(deviceID); err != nil {
		return err
	}

	_, err := db.loadDevice(ctx, deviceID)
	switch {
	case err == nil && !overwrite:
		return errors.Wrapf(ErrDeviceExists, "%s", deviceID)
	case err == nil:
		if err := db.removeUnderLock(ctx, deviceID); err != nil {
			return err
		}
	case !errors.Is(err, ErrDeviceNotFound):
		return err
	}

	if err := db.storeDevice(ctx, newDeviceRecord(deviceID)); err != nil {
		return errors.Wrapf(err, "could not add device %s", deviceID)
	}

	db.lg.Debug("device added", zap.String("device_id", deviceID))
	return nil
}

// Remove deletes the device and all of its classes, a missing device is not an error
func (db *MibDbExternal) Remove(ctx context.Context, deviceID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return err
	}

	if err := validateDeviceID(deviceID); err != nil {
		return err
	}

	return db.removeUnderLock(ctx, deviceID)
}

func (db *MibDbExternal) removeUnderLock(ctx context.Context, deviceID string) error {
	classes, err := db.kv.List(ctx, deviceID+"/classes")
	if err != nil {
		return err
	}

	for key := range classes {
		if err := db.kv.Delete(ctx, key); err != nil {
			return errors.Wrapf(err, "could not remove device %s", deviceID)
		}
	}

	if err := db.kv.Delete(ctx, deviceKey(deviceID)); err != nil {
		return errors.Wrapf(err, "could not remove device %s", deviceID)
	}

	return nil
}

func (db *MibDbExternal) DeviceIDs(ctx context.Context) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return nil, err
	}

	all, err := db.kv.List(ctx, "")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	for key := range all {
		if key != "" && !strings.Contains(key, "/") {
			ids = append(ids, key)
		}
	}

	sort.Strings(ids)
	return ids, nil
}

func (db *MibDbExternal) Set(
	ctx context.Context,
	deviceID string,
	classID omci.ClassID,
	entityID int,
	attrs omci.Attributes,
) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return false, err
	}

	if err := validateIDs(deviceID, classID, entityID); err != nil {
		return false, err
	}

	encoded, err := encodeAttributes(attrs)
	if err != nil {
		return false, err
	}

	dev, err := db.loadDevice(ctx, deviceID)
	if err != nil {
		return false, err
	}

	cls, err := db.loadClass(ctx, deviceID, classID)
	if err != nil {
		return false, err
	}

	if cls == nil {
		start := time.Now()
		defer db.stats.record(statCreate, start)

		cls = &classRecord{ClassID: classID, Instances: make(map[int]*instanceRecord)}
		cls.Instances[entityID] = newInstanceRecord(entityID, encoded)
		if err := db.storeClass(ctx, deviceID, cls); err != nil {
			return false, err
		}

		dev.Classes = append(dev.Classes, classID)
		if err := db.storeDevice(ctx, dev); err != nil {
			return false, err
		}

		return true, nil
	}

	inst, ok := cls.Instances[entityID]
	if !ok {
		start := time.Now()
		defer db.stats.record(statCreate, start)

		cls.Instances[entityID] = newInstanceRecord(entityID, encoded)
		return true, db.storeClass(ctx, deviceID, cls)
	}

	start := time.Now()
	defer db.stats.record(statSet, start)

	modified := false
	if inst.Attributes == nil {
		inst.Attributes = make(map[string]json.RawMessage)
	}
	for name, raw := range encoded {
		if old, ok := inst.Attributes[name]; ok && string(old) == string(raw) {
			continue
		}
		inst.Attributes[name] = raw
		modified = true
	}

	if !modified {
		return false, nil
	}

	inst.Modified = timeToString(now())
	return true, db.storeClass(ctx, deviceID, cls)
}

func newInstanceRecord(entityID int, attrs map[string]json.RawMessage) *instanceRecord {
	ts := timeToString(now())
	return &instanceRecord{
		InstanceID: entityID,
		Created:    ts,
		Modified:   ts,
		Attributes: attrs,
	}
}

func (db *MibDbExternal) Delete(ctx context.Context, deviceID string, classID omci.ClassID, entityID int) (bool, error) {
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

	cls, err := db.loadClass(ctx, deviceID, classID)
	if err != nil {
		return false, err
	}

	if cls == nil {
		db.lg.Warn("delete key not found",
			zap.String("device_id", deviceID), zap.Int("class_id", int(classID)), zap.Int("entity_id", entityID))
		return false, nil
	}

	if _, ok := cls.Instances[entityID]; !ok {
		return false, nil
	}

	delete(cls.Instances, entityID)
	if len(cls.Instances) > 0 {
		return true, db.storeClass(ctx, deviceID, cls)
	}

	if err := db.kv.Delete(ctx, classKey(deviceID, classID)); err != nil {
		return false, err
	}

	dev, err := db.loadDevice(ctx, deviceID)
	if err != nil {
		return false, err
	}

	for i := range dev.Classes {
		if dev.Classes[i] == classID {
			dev.Classes = append(dev.Classes[:i], dev.Classes[i+1:]...)
			break
		}
	}

	return true, db.storeDevice(ctx, dev)
}

func (db *MibDbExternal) Query(ctx context.Context, deviceID string) (*Device, error) {
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

	dev, err := rec.toDevice()
	if err != nil {
		return nil, err
	}

	for _, classID := range rec.Classes {
		cls, err := db.loadClass(ctx, deviceID, classID)
		if err != nil {
			return nil, err
		}
		if cls == nil {
			continue
		}

		c, err := cls.toClass()
		if err != nil {
			return nil, err
		}
		dev.Classes[classID] = c
	}

	return dev, nil
}

func (db *MibDbExternal) QueryClass(ctx context.Context, deviceID string, classID omci.ClassID) (*Class, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cls, err := db.queryClassUnderLock(ctx, deviceID, classID)
	if err != nil {
		return nil, err
	}

	if cls == nil {
		return &Class{ClassID: classID, Instances: map[int]*Instance{}}, nil
	}

	return cls.toClass()
}

func (db *MibDbExternal) queryClassUnderLock(ctx context.Context, deviceID string, classID omci.ClassID) (*classRecord, error) {
	if err := db.ensureStarted(); err != nil {
		return nil, err
	}

	if err := validateIDs(deviceID, classID, 0); err != nil {
		return nil, err
	}

	start := time.Now()
	defer db.stats.record(statGet, start)

	if _, err := db.loadDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	return db.loadClass(ctx, deviceID, classID)
}

// QueryInstance returns nil for a missing instance
func (db *MibDbExternal) QueryInstance(ctx context.Context, deviceID string, classID omci.ClassID, entityID int) (*Instance, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := validateIDs(deviceID, classID, entityID); err != nil {
		return nil, err
	}

	cls, err := db.queryClassUnderLock(ctx, deviceID, classID)
	if err != nil || cls == nil {
		return nil, err
	}

	rec, ok := cls.Instances[entityID]
	if !ok {
		return nil, nil
	}

	return rec.toInstance()
}

func (db *MibDbExternal) QueryAttributes(
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

func (db *MibDbExternal) OnMibReset(ctx context.Context, deviceID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return err
	}

	rec, err := db.loadDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	for _, classID := range rec.Classes {
		if err := db.kv.Delete(ctx, classKey(deviceID, classID)); err != nil {
			return errors.Wrapf(err, "mib reset of %s", deviceID)
		}
	}

	reset := &deviceRecord{
		DeviceID:     deviceID,
		Created:      rec.Created,
		LastSyncTime: rec.LastSyncTime,
		Version:      CurrentVersion,
	}

	if err := db.storeDevice(ctx, reset); err != nil {
		return err
	}

	db.lg.Debug("mib reset complete", zap.String("device_id", deviceID))
	return nil
}

func (db *MibDbExternal) updateDevice(ctx context.Context, deviceID string, fn func(rec *deviceRecord)) error {
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
	return db.storeDevice(ctx, rec)
}

func (db *MibDbExternal) SaveMibDataSync(ctx context.Context, deviceID string, value int) error {
	if err := validateMibDataSync(value); err != nil {
		return err
	}

	return db.updateDevice(ctx, deviceID, func(rec *deviceRecord) {
		rec.MibDataSync = value
	})
}

func (db *MibDbExternal) GetMibDataSync(ctx context.Context, deviceID string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return 0, err
	}

	rec, err := db.loadDevice(ctx, deviceID)
	if err != nil {
		return 0, err
	}

	return rec.MibDataSync, nil
}

func (db *MibDbExternal) SaveLastSyncTime(ctx context.Context, deviceID string, t time.Time) error {
	return db.updateDevice(ctx, deviceID, func(rec *deviceRecord) {
		rec.LastSyncTime = timeToString(t)
	})
}

// GetLastSyncTime returns the zero time when the device never synchronized
func (db *MibDbExternal) GetLastSyncTime(ctx context.Context, deviceID string) (time.Time, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return time.Time{}, err
	}

	rec, err := db.loadDevice(ctx, deviceID)
	if err != nil {
		return time.Time{}, err
	}

	return stringToTime(rec.LastSyncTime)
}

func (db *MibDbExternal) UpdateSupportedManagedEntities(ctx context.Context, deviceID string, classIDs []omci.ClassID) error {
	return db.updateDevice(ctx, deviceID, func(rec *deviceRecord) {
		rec.ManagedEntities = append(rec.ManagedEntities, managedEntities(classIDs)...)
	})
}

func (db *MibDbExternal) UpdateSupportedMessageTypes(ctx context.Context, deviceID string, msgTypes []omci.MessageType) error {
	return db.updateDevice(ctx, deviceID, func(rec *deviceRecord) {
		rec.MessageTypes = append(rec.MessageTypes, msgTypes...)
	})
}

// LoadFromTemplate replaces the MIB of a device with the template classes
func (db *MibDbExternal) LoadFromTemplate(ctx context.Context, deviceID string, classes Classes) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureStarted(); err != nil {
		return err
	}

	rec, err := db.loadDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	for _, classID := range rec.Classes {
		if err := db.kv.Delete(ctx, classKey(deviceID, classID)); err != nil {
			return err
		}
	}

	rec.Classes = rec.Classes[:0]
	for classID, cls := range classes {
		cr := &classRecord{ClassID: classID, Instances: make(map[int]*instanceRecord, len(cls.Instances))}
		for entityID, inst := range cls.Instances {
			encoded, err := encodeAttributes(inst.Attributes)
			if err != nil {
				return err
			}

			cr.Instances[entityID] = &instanceRecord{
				InstanceID: entityID,
				Created:    timeToString(inst.Created),
				Modified:   timeToString(inst.Modified),
				Attributes: encoded,
			}
		}

		if err := db.storeClass(ctx, deviceID, cr); err != nil {
			return err
		}
		rec.Classes = append(rec.Classes, classID)
	}

	sort.Slice(rec.Classes, func(i, j int) bool { return rec.Classes[i] < rec.Classes[j] })
	return db.storeDevice(ctx, rec)
}

func (db *MibDbExternal) DumpToJSON(ctx context.Context, deviceID string) ([]byte, error) {
	dev, err := db.Query(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return encodeDump(dev)
}

func (rec *deviceRecord) toDevice() (*Device, error) {
	created, err := stringToTime(rec.Created)
	if err != nil {
		return nil, err
	}

	lastSync, err := stringToTime(rec.LastSyncTime)
	if err != nil {
		return nil, err
	}

	return &Device{
		DeviceID:        rec.DeviceID,
		Created:         created,
		LastSyncTime:    lastSync,
		MibDataSync:     rec.MibDataSync,
		Version:         rec.Version,
		ManagedEntities: append([]ManagedEntity(nil), rec.ManagedEntities...),
		MessageTypes:    append([]omci.MessageType(nil), rec.MessageTypes...),
		Classes:         make(Classes, len(rec.Classes)),
	}, nil
}

func (rec *classRecord) toClass() (*Class, error) {
	cls := &Class{ClassID: rec.ClassID, Instances: make(map[int]*Instance, len(rec.Instances))}
	for id, ir := range rec.Instances {
		inst, err := ir.toInstance()
		if err != nil {
			return nil, err
		}
		cls.Instances[id] = inst
	}
	return cls, nil
}

func (rec *instanceRecord) toInstance() (*Instance, error) {
	created, err := stringToTime(rec.Created)
	if err != nil {
		return nil, err
	}

	modified, err := stringToTime(rec.Modified)
	if err != nil {
		return nil, err
	}

	return &Instance{
		InstanceID: rec.InstanceID,
		Created:    created,
		Modified:   modified,
		Attributes: decodeAttributes(rec.Attributes),
	}, nil
}
