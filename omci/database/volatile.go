package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/denismitr/voltha/omci"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MibDbVolatile keeps the MIB in memory only
type MibDbVolatile struct {
	lg    *zap.Logger
	stats *statistics

	mu      sync.RWMutex
	started bool
	devices map[string]*Device
}

var _ MibDb = (*MibDbVolatile)(nil)

func NewMibDbVolatile(lg *zap.Logger) *MibDbVolatile {
	if lg == nil {
		lg = zap.NewNop()
	}

	return &MibDbVolatile{
		lg:      lg.With(zap.String("db", "mib-volatile")),
		stats:   newStatistics(),
		devices: make(map[string]*Device),
	}
}

func (db *MibDbVolatile) Start(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.started = true
	return nil
}

// Stop keeps the data, a restarted database still has it
func (db *MibDbVolatile) Stop(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.started = false
	return nil
}

func (db *MibDbVolatile) Active() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.started
}

func (db *MibDbVolatile) Statistics() []MibDbStatistic {
	return db.stats.snapshot()
}

func (db *MibDbVolatile) device(deviceID string) (*Device, error) {
	if !db.started {
		return nil, ErrDatabaseNotStarted
	}

	dev, ok := db.devices[deviceID]
	if !ok {
		return nil, errors.Wrapf(ErrDeviceNotFound, "%s", deviceID)
	}

	return dev, nil
}

func (db *MibDbVolatile) Add(ctx context.Context, deviceID string, overwrite bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.started {
		return ErrDatabaseNotStarted
	}

	if err := validateDeviceID(deviceID); err != nil {
		return err
	}

	if _, ok := db.devices[deviceID]; ok && !overwrite {
		return errors.Wrapf(ErrDeviceExists, "%s", deviceID)
	}

	db.devices[deviceID] = newDevice(deviceID)
	return nil
}

func newDevice(deviceID string) *Device {
	return &Device{
		DeviceID: deviceID,
		Created:  now(),
		Version:  CurrentVersion,
		Classes:  make(Classes),
	}
}

func (db *MibDbVolatile) Remove(ctx context.Context, deviceID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.started {
		return ErrDatabaseNotStarted
	}

	if err := validateDeviceID(deviceID); err != nil {
		return err
	}

	delete(db.devices, deviceID)
	return nil
}

func (db *MibDbVolatile) DeviceIDs(ctx context.Context) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if !db.started {
		return nil, ErrDatabaseNotStarted
	}

	ids := make([]string, 0, len(db.devices))
	for id := range db.devices {
		ids = append(ids, id)
	}

	sort.Strings(ids)
	return ids, nil
}

func (db *MibDbVolatile) Set(
	ctx context.Context,
	deviceID string,
	classID omci.ClassID,
	entityID int,
	attrs omci.Attributes,
) (bool, error) {
	if err := validateIDs(deviceID, classID, entityID); err != nil {
		return false, err
	}

	normalized, err := normalizeAttributes(attrs)
	if err != nil {
		return false, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	dev, err := db.device(deviceID)
	if err != nil {
		return false, err
	}

	cls, ok := dev.Classes[classID]
	if !ok {
		cls = &Class{ClassID: classID, Instances: make(map[int]*Instance)}
		dev.Classes[classID] = cls
	}

	inst, ok := cls.Instances[entityID]
	if !ok {
		start := time.Now()
		defer db.stats.record(statCreate, start)

		ts := now()
		cls.Instances[entityID] = &Instance{
			InstanceID: entityID,
			Created:    ts,
			Modified:   ts,
			Attributes: normalized,
		}
		return true, nil
	}

	start := time.Now()
	defer db.stats.record(statSet, start)

	if !mergeAttributes(inst.Attributes, normalized) {
		return false, nil
	}

	inst.Modified = now()
	return true, nil
}

func (db *MibDbVolatile) Delete(ctx context.Context, deviceID string, classID omci.ClassID, entityID int) (bool, error) {
	if err := validateIDs(deviceID, classID, entityID); err != nil {
		return false, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	start := time.Now()
	defer db.stats.record(statDelete, start)

	dev, err := db.device(deviceID)
	if err != nil {
		return false, err
	}

	cls, ok := dev.Classes[classID]
	if !ok {
		return false, nil
	}

	if _, ok := cls.Instances[entityID]; !ok {
		return false, nil
	}

	delete(cls.Instances, entityID)
	if len(cls.Instances) == 0 {
		delete(dev.Classes, classID)
	}

	return true, nil
}

func (db *MibDbVolatile) Query(ctx context.Context, deviceID string) (*Device, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	start := time.Now()
	defer db.stats.record(statGet, start)

	dev, err := db.device(deviceID)
	if err != nil {
		return nil, err
	}

	return dev.clone(), nil
}

func (db *MibDbVolatile) QueryClass(ctx context.Context, deviceID string, classID omci.ClassID) (*Class, error) {
	if err := validateIDs(deviceID, classID, 0); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	start := time.Now()
	defer db.stats.record(statGet, start)

	dev, err := db.device(deviceID)
	if err != nil {
		return nil, err
	}

	cls, ok := dev.Classes[classID]
	if !ok {
		return &Class{ClassID: classID, Instances: map[int]*Instance{}}, nil
	}

	return cls.clone(), nil
}

func (db *MibDbVolatile) QueryInstance(ctx context.Context, deviceID string, classID omci.ClassID, entityID int) (*Instance, error) {
	cls, err := db.QueryClass(ctx, deviceID, classID)
	if err != nil {
		return nil, err
	}

	if err := validateIDs(deviceID, classID, entityID); err != nil {
		return nil, err
	}

	return cls.Instances[entityID], nil
}

func (db *MibDbVolatile) QueryAttributes(
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

func (db *MibDbVolatile) update(deviceID string, fn func(dev *Device)) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	dev, err := db.device(deviceID)
	if err != nil {
		return err
	}

	fn(dev)
	return nil
}

func (db *MibDbVolatile) OnMibReset(ctx context.Context, deviceID string) error {
	return db.update(deviceID, func(dev *Device) {
		dev.Classes = make(Classes)
		dev.MibDataSync = 0
		dev.Version = CurrentVersion
		dev.ManagedEntities = nil
		dev.MessageTypes = nil
	})
}

func (db *MibDbVolatile) SaveMibDataSync(ctx context.Context, deviceID string, value int) error {
	if err := validateMibDataSync(value); err != nil {
		return err
	}

	return db.update(deviceID, func(dev *Device) {
		dev.MibDataSync = value
	})
}

func (db *MibDbVolatile) GetMibDataSync(ctx context.Context, deviceID string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	dev, err := db.device(deviceID)
	if err != nil {
		return 0, err
	}

	return dev.MibDataSync, nil
}

func (db *MibDbVolatile) SaveLastSyncTime(ctx context.Context, deviceID string, t time.Time) error {
	return db.update(deviceID, func(dev *Device) {
		dev.LastSyncTime = t.UTC().Truncate(time.Microsecond)
	})
}

func (db *MibDbVolatile) GetLastSyncTime(ctx context.Context, deviceID string) (time.Time, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	dev, err := db.device(deviceID)
	if err != nil {
		return time.Time{}, err
	}

	return dev.LastSyncTime, nil
}

func (db *MibDbVolatile) UpdateSupportedManagedEntities(ctx context.Context, deviceID string, classIDs []omci.ClassID) error {
	return db.update(deviceID, func(dev *Device) {
		dev.ManagedEntities = append(dev.ManagedEntities, managedEntities(classIDs)...)
	})
}

func (db *MibDbVolatile) UpdateSupportedMessageTypes(ctx context.Context, deviceID string, msgTypes []omci.MessageType) error {
	return db.update(deviceID, func(dev *Device) {
		dev.MessageTypes = append(dev.MessageTypes, msgTypes...)
	})
}

func (db *MibDbVolatile) LoadFromTemplate(ctx context.Context, deviceID string, classes Classes) error {
	installed := classes.clone()
	for _, cls := range installed {
		for _, inst := range cls.Instances {
			attrs, err := normalizeAttributes(inst.Attributes)
			if err != nil {
				return err
			}
			inst.Attributes = attrs
		}
	}

	return db.update(deviceID, func(dev *Device) {
		dev.Classes = installed
	})
}

func (db *MibDbVolatile) DumpToJSON(ctx context.Context, deviceID string) ([]byte, error) {
	dev, err := db.Query(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return encodeDump(dev)
}

// restore installs a previously dumped device
func (db *MibDbVolatile) restore(dev *Device) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.started {
		return ErrDatabaseNotStarted
	}

	if dev.Classes == nil {
		dev.Classes = make(Classes)
	}

	db.devices[dev.DeviceID] = dev
	return nil
}

func (d *Device) clone() *Device {
	out := *d
	out.ManagedEntities = append([]ManagedEntity(nil), d.ManagedEntities...)
	out.MessageTypes = append([]omci.MessageType(nil), d.MessageTypes...)
	out.Classes = d.Classes.clone()
	return &out
}

func (c Classes) clone() Classes {
	out := make(Classes, len(c))
	for id, cls := range c {
		out[id] = cls.clone()
	}
	return out
}

func (c *Class) clone() *Class {
	out := &Class{ClassID: c.ClassID, Instances: make(map[int]*Instance, len(c.Instances))}
	for id, inst := range c.Instances {
		out.Instances[id] = inst.clone()
	}
	return out
}

func (i *Instance) clone() *Instance {
	out := *i
	out.Attributes = pick(i.Attributes, nil)
	return &out
}
