package kvstore

import (
	"context"
	"github.com/denismitr/voltha/kvstore/internal/lru"
	"github.com/pkg/errors"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
	"sync"
	"time"
)

var ErrKeyAlreadyExists = errors.New("key already exists")
var ErrDatabaseAlreadyClosed = errors.New("database already closed")

const castPanic = "how could primary keys item not be of type *entry"

const inMemory = ":memory:"

type entryIterator func(ent *entry) bool

type engine struct {
	dbFile       string
	cfg          *Config
	lg           *zap.Logger
	persistence  *persistence
	pks          *btree.BTree
	cache        lru.Cache
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.RWMutex
	totalDeletes uint64
	closed       bool
}

func newEngine(dbFile string, cfg *Config) (*engine, error) {
	cfg = cfg.withDefaults()
	if dbFile == inMemory {
		// nothing to load lazily from
		cfg.ValueLoadStrategy = EagerLoad
	}

	e := &engine{
		dbFile: dbFile,
		cfg:    cfg,
		lg:     cfg.Logger.With(zap.String("db", dbFile)),
		pks:    btree.NewNonConcurrent(byKeys),
		cache:  lru.NullCache{},
		stopCh: make(chan struct{}),
	}

	if cfg.ValueLoadStrategy == LazyLoad {
		c, err := lru.NewShardedCache(cfg.CacheShards, cfg.MaxCacheSize, nil)
		if err != nil {
			return nil, errors.Wrap(err, "could not create value cache")
		}
		e.cache = c
	}

	return e, nil
}

func (e *engine) init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dbFile == inMemory {
		return nil
	}

	p, err := newPersistence(e.dbFile, e.cfg.PersistenceStrategy, e.cfg.TruncateFileWhenOpen)
	if err != nil {
		return err
	}
	e.persistence = p

	if err := e.persistence.load(func(d deserializer) error {
		return d.deserialize(e)
	}); err != nil {
		_ = e.persistence.close()
		return errors.Wrapf(err, "could not load %s", e.dbFile)
	}

	e.lg.Debug("database loaded", zap.Int("keys", e.pks.Len()))

	if e.cfg.PersistenceStrategy == Async {
		e.wg.Add(1)
		go e.asyncFlush(e.cfg.AsyncPersistenceIntervals)
	}

	if !e.cfg.DisableAutoVacuum && !e.cfg.AutoVacuumOnlyOnClose {
		e.wg.Add(1)
		go e.scheduleVacuum(e.cfg.AutoVacuumIntervals)
	}

	return nil
}

func (e *engine) asyncFlush(d time.Duration) {
	defer e.wg.Done()
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-t.C:
			if err := e.persistence.sync(); err != nil {
				e.lg.Error("async flush failed", zap.Error(err))
			}
		}
	}
}

func (e *engine) scheduleVacuum(d time.Duration) {
	defer e.wg.Done()
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-t.C:
			e.mu.Lock()
			if e.closed || e.totalDeletes < e.cfg.AutoVacuumMinSize {
				e.mu.Unlock()
				continue
			}

			if err := e.runVacuumUnderLock(); err != nil {
				e.lg.Error("auto vacuum failed", zap.Error(err))
			}
			e.mu.Unlock()
		}
	}
}

// runVacuumUnderLock rewrites the log with only live entries
func (e *engine) runVacuumUnderLock() error {
	if e.persistence == nil {
		return nil
	}

	rs := &respSerializer{}
	type placed struct {
		ent *entry
		pos position
	}
	var positions []placed

	var loadErr error
	e.pks.Ascend(nil, func(i interface{}) bool {
		ent := i.(*entry)
		v, err := e.valueOfUnderLock(ent)
		if err != nil {
			loadErr = err
			return false
		}

		positions = append(positions, placed{ent: ent, pos: rs.serializeSetCommand(ent.Key, v)})
		return true
	})

	if loadErr != nil {
		return errors.Wrap(loadErr, "vacuum could not load a value")
	}

	if err := e.persistence.writeAndSwap(rs); err != nil {
		return err
	}

	for _, p := range positions {
		p.ent.Pos = p.pos
	}

	e.lg.Debug("vacuum done", zap.Uint64("deletes", e.totalDeletes), zap.Int("keys", len(positions)))
	e.totalDeletes = 0
	return nil
}

func (e *engine) close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrDatabaseAlreadyClosed
	}

	var vacuumErr error
	if !e.cfg.DisableAutoVacuum {
		vacuumErr = e.runVacuumUnderLock()
	}

	e.closed = true
	close(e.stopCh)
	e.mu.Unlock()

	// background loops take the lock, so wait outside of it
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	var closeErr error
	if e.persistence != nil {
		closeErr = e.persistence.close()
	}

	e.pks = btree.NewNonConcurrent(byKeys)
	e.cache.Purge()
	e.persistence = nil

	if vacuumErr != nil {
		return errors.Wrap(vacuumErr, "vacuum on close failed")
	}

	return closeErr
}

func (e *engine) findByKeyUnderLock(key string) (*entry, error) {
	found := e.pks.Get(&entry{Key: newKey(key)})
	if found == nil {
		return nil, errors.Wrapf(ErrKeyDoesNotExist, "key %s does not exist in database", key)
	}

	ent, ok := found.(*entry)
	if !ok {
		panic(castPanic)
	}

	return ent, nil
}

// valueOfUnderLock returns the value of ent, reading it from the file
// for lazily loaded entries
func (e *engine) valueOfUnderLock(ent *entry) ([]byte, error) {
	if !ent.Lazy {
		return ent.Value, nil
	}

	if v, ok := e.cache.Get(ent.Key.String()); ok {
		return v, nil
	}

	v, err := e.persistence.readValue(ent.Pos)
	if err != nil {
		return nil, err
	}

	e.cache.Add(ent.Key.String(), v)
	return v, nil
}

// put returns the replaced entry if any
func (e *engine) put(ent *entry, replace bool) (*entry, error) {
	existing := e.pks.Set(ent)
	if existing == nil {
		return nil, nil
	}

	existingEnt, ok := existing.(*entry)
	if !ok {
		panic(castPanic)
	}

	if !replace {
		e.pks.Set(existingEnt)
		return nil, errors.Wrapf(ErrKeyAlreadyExists, "key %s", ent.Key.String())
	}

	return existingEnt, nil
}

func (e *engine) remove(key Key) (*entry, error) {
	removed := e.pks.Delete(&entry{Key: key})
	if removed == nil {
		return nil, errors.Wrapf(ErrKeyDoesNotExist, "key %s does not exist in DB", key.String())
	}

	ent, ok := removed.(*entry)
	if !ok {
		panic(castPanic)
	}

	return ent, nil
}

func (e *engine) restore(ent *entry) {
	e.pks.Set(ent)
}

func (e *engine) replaySetUnderLock(ent *entry, pos position) {
	ent.Pos = pos
	if e.cfg.ValueLoadStrategy == LazyLoad {
		ent.Value = nil
		ent.Lazy = true
	}

	e.cache.Remove(ent.Key.String())
	e.pks.Set(ent)
}

func (e *engine) flushAllUnderLock() *btree.BTree {
	old := e.pks
	e.pks = btree.NewNonConcurrent(byKeys)
	e.cache.Purge()
	return old
}

func (e *engine) count() int {
	return e.pks.Len()
}

// committed is called once the log has accepted the writes of a transaction
func (e *engine) committed(sets []*setCmd, deletes []*deleteCmd) {
	e.totalDeletes += uint64(len(deletes))
	for _, cmd := range deletes {
		e.cache.Remove(cmd.key.String())
	}

	for _, cmd := range sets {
		cmd.ent.Pos = cmd.pos
		if e.cfg.ValueLoadStrategy != LazyLoad {
			continue
		}

		e.cache.Add(cmd.ent.Key.String(), cmd.ent.Value)
		cmd.ent.Value = nil
		cmd.ent.Lazy = true
	}
}

func (e *engine) scanAscend(ctx context.Context, ir entryIterator) {
	e.pks.Ascend(nil, cancellableIterator(ctx, ir))
}

func (e *engine) scanDescend(ctx context.Context, ir entryIterator) {
	e.pks.Descend(nil, cancellableIterator(ctx, ir))
}

// scanBetweenAscend visits keys in [lower, upper]
func (e *engine) scanBetweenAscend(ctx context.Context, lower, upper string, ir entryIterator) {
	upperKey := newKey(upper)
	e.pks.Ascend(&entry{Key: newKey(lower)}, cancellableIterator(ctx, func(ent *entry) bool {
		if upperKey.Less(ent.Key) {
			return false
		}
		return ir(ent)
	}))
}

func (e *engine) scanBetweenDescend(ctx context.Context, lower, upper string, ir entryIterator) {
	lowerKey := newKey(lower)
	e.pks.Descend(&entry{Key: newKey(upper)}, cancellableIterator(ctx, func(ent *entry) bool {
		if ent.Key.Less(lowerKey) {
			return false
		}
		return ir(ent)
	}))
}

// scanPrefixAscend relies on keys sharing a prefix being contiguous in the tree
func (e *engine) scanPrefixAscend(ctx context.Context, prefix string, ir entryIterator) {
	prefixKey := newKey(prefix)
	e.pks.Ascend(&entry{Key: prefixKey}, cancellableIterator(ctx, func(ent *entry) bool {
		if !ent.Key.HasPrefix(prefixKey) {
			return false
		}
		return ir(ent)
	}))
}

func (e *engine) scanPrefixDescend(ctx context.Context, prefix string, ir entryIterator) {
	var matched []*entry
	e.scanPrefixAscend(ctx, prefix, func(ent *entry) bool {
		matched = append(matched, ent)
		return true
	})

	for i := len(matched) - 1; i >= 0; i-- {
		if ctx.Err() != nil || !ir(matched[i]) {
			return
		}
	}
}

func cancellableIterator(ctx context.Context, ir entryIterator) func(item interface{}) bool {
	return func(item interface{}) bool {
		if ctx.Err() != nil {
			return false
		}

		ent, ok := item.(*entry)
		if !ok {
			panic(castPanic)
		}

		return ir(ent)
	}
}
