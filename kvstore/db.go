package kvstore

import (
	"context"
	"github.com/pkg/errors"
)

type DB struct {
	e       *engine
	watches *watchHub
}

type UserCallback func(tx *Tx) error

type Closer func() error

func NullCloser() error { return nil }

// Open loads the database from path, use ":memory:" for a volatile one
func Open(path string, cfg *Config) (*DB, Closer, error) {
	e, err := newEngine(path, cfg)
	if err != nil {
		return nil, NullCloser, err
	}

	if err := e.init(); err != nil {
		return nil, NullCloser, err
	}

	db := DB{e: e, watches: newWatchHub()}

	return &db, db.close, nil
}

func (db *DB) close() error {
	db.watches.clear()
	return db.e.close()
}

func (db *DB) Count() int {
	db.e.mu.RLock()
	defer db.e.mu.RUnlock()

	return db.e.count()
}

// Vacuum compacts the log right away
func (db *DB) Vacuum() error {
	db.e.mu.Lock()
	defer db.e.mu.Unlock()

	if db.e.closed {
		return ErrDatabaseAlreadyClosed
	}

	return db.e.runVacuumUnderLock()
}

func (db *DB) View(ctx context.Context, cb UserCallback) error {
	db.e.mu.RLock()
	defer db.e.mu.RUnlock()

	if db.e.closed {
		return ErrDatabaseAlreadyClosed
	}

	tx := newTx(ctx, db.e, true)

	if err := cb(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrap(err, rbErr.Error())
		}

		return errors.Wrap(err, "db read failed. rolled back")
	}

	return tx.Commit()
}

func (db *DB) Update(ctx context.Context, cb UserCallback) error {
	if err := db.update(ctx, cb); err != nil {
		return err
	}

	// watchers may call back into the database
	db.watches.drain()
	return nil
}

func (db *DB) update(ctx context.Context, cb UserCallback) error {
	db.e.mu.Lock()
	defer db.e.mu.Unlock()

	if db.e.closed {
		return ErrDatabaseAlreadyClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newTx(ctx, db.e, false)

	if err := cb(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrap(err, rbErr.Error())
		}

		return errors.Wrap(err, "db write failed. rolled back")
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	db.watches.enqueue(tx.changes)
	return nil
}

// Watch calls fn for every committed change of a key under prefix
// and returns a function that cancels the watch
func (db *DB) Watch(prefix string, fn WatchFunc) func() {
	return db.watches.add(prefix, fn)
}
