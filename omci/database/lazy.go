package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/denismitr/voltha/kvstore"
	"github.com/denismitr/voltha/omci"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultCheckInterval = 60 * time.Second

type lazyMeta struct {
	lastLazyWrite time.Time
	dirty         bool
	pendingDelete bool
}

// MibDbLazyWrite serves every read from memory and writes the JSON dump
// of changed devices to the key/value store on a fixed interval.
// kv is expected to be scoped at MibPath.
type MibDbLazyWrite struct {
	*MibDbVolatile

	kv            kvstore.Client
	lg            *zap.Logger
	checkInterval time.Duration

	metaMu sync.Mutex
	meta   map[string]*lazyMeta

	runMu  sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

var _ MibDb = (*MibDbLazyWrite)(nil)

func NewMibDbLazyWrite(kv kvstore.Client, checkInterval time.Duration, lg *zap.Logger) *MibDbLazyWrite {
	if lg == nil {
		lg = zap.NewNop()
	}

	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}

	return &MibDbLazyWrite{
		MibDbVolatile: NewMibDbVolatile(lg),
		kv:            kv,
		lg:            lg.With(zap.String("db", "mib-lazy")),
		checkInterval: checkInterval,
		meta:          make(map[string]*lazyMeta),
	}
}

func (db *MibDbLazyWrite) Start(ctx context.Context) error {
	db.runMu.Lock()
	defer db.runMu.Unlock()

	if err := db.MibDbVolatile.Start(ctx); err != nil {
		return err
	}

	if db.stopCh != nil {
		return nil
	}

	db.stopCh = make(chan struct{})
	db.doneCh = make(chan struct{})
	go db.run(db.stopCh, db.doneCh)

	return nil
}

func (db *MibDbLazyWrite) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(db.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := db.Sync(context.Background()); err != nil {
				db.lg.Error("lazy sync failed", zap.Error(err))
			}
		}
	}
}

// Stop halts the background writer and flushes every pending change
func (db *MibDbLazyWrite) Stop(ctx context.Context) error {
	db.runMu.Lock()
	defer db.runMu.Unlock()

	if db.stopCh != nil {
		close(db.stopCh)
		<-db.doneCh
		db.stopCh, db.doneCh = nil, nil
	}

	err := db.Sync(ctx)
	if stopErr := db.MibDbVolatile.Stop(ctx); stopErr != nil && err == nil {
		err = stopErr
	}

	return err
}

func (db *MibDbLazyWrite) Add(ctx context.Context, deviceID string, overwrite bool) error {
	if err := validateDeviceID(deviceID); err != nil {
		return err
	}

	raw, err := db.kv.Get(ctx, deviceKey(deviceID))
	if err != nil && !kvstore.IsNotFound(err) {
		return err
	}

	if err == nil {
		dev, err := decodeDump(raw)
		if err != nil {
			return errors.Wrapf(err, "could not recover %s", deviceID)
		}

		dev.DeviceID = deviceID
		if err := db.restore(dev); err != nil {
			return err
		}

		db.setMeta(deviceID, &lazyMeta{lastLazyWrite: time.Now()})
		db.lg.Debug("recovered device from storage", zap.String("device_id", deviceID))
		return nil
	}

	if err := db.MibDbVolatile.Add(ctx, deviceID, overwrite); err != nil {
		return err
	}

	db.setMeta(deviceID, &lazyMeta{dirty: true})
	db.lg.Debug("added device for lazy sync", zap.String("device_id", deviceID))
	return nil
}

func (db *MibDbLazyWrite) Remove(ctx context.Context, deviceID string) error {
	if err := db.MibDbVolatile.Remove(ctx, deviceID); err != nil {
		return err
	}

	db.metaMu.Lock()
	defer db.metaMu.Unlock()

	m, ok := db.meta[deviceID]
	if !ok {
		m = &lazyMeta{}
		db.meta[deviceID] = m
	}
	m.dirty = true
	m.pendingDelete = true

	return nil
}

func (db *MibDbLazyWrite) setMeta(deviceID string, m *lazyMeta) {
	db.metaMu.Lock()
	db.meta[deviceID] = m
	db.metaMu.Unlock()
}

func (db *MibDbLazyWrite) markDirty(deviceID string) {
	db.metaMu.Lock()
	defer db.metaMu.Unlock()

	if m, ok := db.meta[deviceID]; ok {
		m.dirty = true
	}
}

func (db *MibDbLazyWrite) Set(
	ctx context.Context,
	deviceID string,
	classID omci.ClassID,
	entityID int,
	attrs omci.Attributes,
) (bool, error) {
	changed, err := db.MibDbVolatile.Set(ctx, deviceID, classID, entityID, attrs)
	if changed {
		db.markDirty(deviceID)
	}
	return changed, err
}

func (db *MibDbLazyWrite) Delete(ctx context.Context, deviceID string, classID omci.ClassID, entityID int) (bool, error) {
	changed, err := db.MibDbVolatile.Delete(ctx, deviceID, classID, entityID)
	if changed {
		db.markDirty(deviceID)
	}
	return changed, err
}

func (db *MibDbLazyWrite) dirtyAfter(deviceID string, err error) error {
	if err == nil {
		db.markDirty(deviceID)
	}
	return err
}

func (db *MibDbLazyWrite) OnMibReset(ctx context.Context, deviceID string) error {
	return db.dirtyAfter(deviceID, db.MibDbVolatile.OnMibReset(ctx, deviceID))
}

func (db *MibDbLazyWrite) SaveMibDataSync(ctx context.Context, deviceID string, value int) error {
	return db.dirtyAfter(deviceID, db.MibDbVolatile.SaveMibDataSync(ctx, deviceID, value))
}

func (db *MibDbLazyWrite) SaveLastSyncTime(ctx context.Context, deviceID string, t time.Time) error {
	return db.dirtyAfter(deviceID, db.MibDbVolatile.SaveLastSyncTime(ctx, deviceID, t))
}

func (db *MibDbLazyWrite) UpdateSupportedManagedEntities(ctx context.Context, deviceID string, classIDs []omci.ClassID) error {
	return db.dirtyAfter(deviceID, db.MibDbVolatile.UpdateSupportedManagedEntities(ctx, deviceID, classIDs))
}

func (db *MibDbLazyWrite) UpdateSupportedMessageTypes(ctx context.Context, deviceID string, msgTypes []omci.MessageType) error {
	return db.dirtyAfter(deviceID, db.MibDbVolatile.UpdateSupportedMessageTypes(ctx, deviceID, msgTypes))
}

func (db *MibDbLazyWrite) LoadFromTemplate(ctx context.Context, deviceID string, classes Classes) error {
	return db.dirtyAfter(deviceID, db.MibDbVolatile.LoadFromTemplate(ctx, deviceID, classes))
}

// Sync writes every dirty device and removes the pending deletes
func (db *MibDbLazyWrite) Sync(ctx context.Context) error {
	db.metaMu.Lock()
	ids := make([]string, 0, len(db.meta))
	for id, m := range db.meta {
		if m.dirty {
			ids = append(ids, id)
		}
	}
	db.metaMu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := db.syncDevice(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

func (db *MibDbLazyWrite) syncDevice(ctx context.Context, deviceID string) error {
	db.metaMu.Lock()
	m, ok := db.meta[deviceID]
	pendingDelete := ok && m.pendingDelete
	db.metaMu.Unlock()

	if !ok {
		return nil
	}

	if pendingDelete {
		if err := db.kv.Delete(ctx, deviceKey(deviceID)); err != nil {
			return errors.Wrapf(err, "could not remove synced data of %s", deviceID)
		}

		db.metaMu.Lock()
		delete(db.meta, deviceID)
		db.metaMu.Unlock()

		db.lg.Debug("removed synced data", zap.String("device_id", deviceID))
		return nil
	}

	dump, err := db.MibDbVolatile.DumpToJSON(ctx, deviceID)
	if err != nil {
		return err
	}

	if err := db.kv.Set(ctx, deviceKey(deviceID), dump); err != nil {
		return errors.Wrapf(err, "could not sync %s", deviceID)
	}

	db.metaMu.Lock()
	m.dirty = false
	m.lastLazyWrite = time.Now()
	db.metaMu.Unlock()

	db.lg.Debug("synced data", zap.String("device_id", deviceID))
	return nil
}

// Dirty reports whether the device has changes not written yet
func (db *MibDbLazyWrite) Dirty(deviceID string) bool {
	db.metaMu.Lock()
	defer db.metaMu.Unlock()

	m, ok := db.meta[deviceID]
	return ok && m.dirty
}
