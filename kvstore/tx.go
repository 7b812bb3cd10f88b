package kvstore

import (
	"context"
	"github.com/pkg/errors"
)

var ErrKeyDoesNotExist = errors.New("key does not exist in DB")
var ErrTxIsReadOnly = errors.New("transaction is read only")
var ErrTxAlreadyFinished = errors.New("transaction already finished")

type Tx struct {
	e         *engine
	ctx       context.Context
	readOnly  bool
	finished  bool
	commands  []serializer
	sets      []*setCmd
	deletes   []*deleteCmd
	rollbacks []func()
	changes   []WatchEvent
}

func newTx(ctx context.Context, e *engine, readOnly bool) *Tx {
	return &Tx{e: e, ctx: ctx, readOnly: readOnly}
}

func (x *Tx) Get(key string) (*Document, error) {
	ent, err := x.e.findByKeyUnderLock(key)
	if err != nil {
		return nil, err
	}

	return x.document(ent)
}

func (x *Tx) Has(key string) bool {
	_, err := x.e.findByKeyUnderLock(key)
	return err == nil
}

func (x *Tx) Insert(key string, data interface{}) error {
	return x.set(key, data, false)
}

func (x *Tx) InsertOrReplace(key string, data interface{}) error {
	return x.set(key, data, true)
}

func (x *Tx) set(key string, data interface{}, replace bool) error {
	if x.readOnly {
		return ErrTxIsReadOnly
	}

	v, err := serializeToValue(data)
	if err != nil {
		return err
	}

	ent := newEntry(key, v)
	prev, err := x.e.put(ent, replace)
	if err != nil {
		return err
	}

	x.rollbacks = append(x.rollbacks, func() {
		if prev != nil {
			x.e.restore(prev)
		} else {
			_, _ = x.e.remove(ent.Key)
		}
	})

	cmd := &setCmd{ent: ent}
	x.commands = append(x.commands, cmd)
	x.sets = append(x.sets, cmd)
	x.changes = append(x.changes, WatchEvent{Type: PutEvent, Key: key, Value: v})

	return nil
}

// Remove deletes every key or fails on the first missing one
func (x *Tx) Remove(keys ...string) error {
	if x.readOnly {
		return ErrTxIsReadOnly
	}

	for _, k := range keys {
		removed, err := x.e.remove(newKey(k))
		if err != nil {
			return err
		}

		x.rollbacks = append(x.rollbacks, func() {
			x.e.restore(removed)
		})

		cmd := &deleteCmd{key: removed.Key}
		x.commands = append(x.commands, cmd)
		x.deletes = append(x.deletes, cmd)
		x.changes = append(x.changes, WatchEvent{Type: DeleteEvent, Key: k})
	}

	return nil
}

func (x *Tx) FlushAll() error {
	if x.readOnly {
		return ErrTxIsReadOnly
	}

	old := x.e.flushAllUnderLock()
	x.rollbacks = append(x.rollbacks, func() {
		x.e.pks = old
	})

	x.commands = append(x.commands, flushAllCmd{})
	old.Ascend(nil, func(i interface{}) bool {
		x.changes = append(x.changes, WatchEvent{Type: DeleteEvent, Key: i.(*entry).Key.String()})
		return true
	})

	return nil
}

func (x *Tx) Find(ctx context.Context, opts *ScanOptions, dest *[]Document) error {
	if opts == nil {
		opts = Scan()
	}

	var iterErr error
	collect := func(ent *entry) bool {
		doc, err := x.document(ent)
		if err != nil {
			iterErr = err
			return false
		}

		*dest = append(*dest, *doc)
		return !opts.full(len(*dest))
	}

	desc := opts.order == Descending
	switch {
	case opts.ranged && desc:
		x.e.scanBetweenDescend(ctx, opts.lower, opts.upper, collect)
	case opts.ranged:
		x.e.scanBetweenAscend(ctx, opts.lower, opts.upper, collect)
	case opts.prefix != "" && desc:
		x.e.scanPrefixDescend(ctx, opts.prefix, collect)
	case opts.prefix != "":
		x.e.scanPrefixAscend(ctx, opts.prefix, collect)
	case desc:
		x.e.scanDescend(ctx, collect)
	default:
		x.e.scanAscend(ctx, collect)
	}

	if iterErr != nil {
		return iterErr
	}

	return ctx.Err()
}

func (x *Tx) Count() int {
	return x.e.count()
}

func (x *Tx) document(ent *entry) (*Document, error) {
	v, err := x.e.valueOfUnderLock(ent)
	if err != nil {
		return nil, err
	}

	return newDocument(ent.Key.String(), append([]byte(nil), v...)), nil
}

// Commit writes the pending commands to the log
func (x *Tx) Commit() error {
	if x.finished {
		return ErrTxAlreadyFinished
	}
	x.finished = true

	if x.readOnly || len(x.commands) == 0 {
		return nil
	}

	if x.e.persistence != nil {
		rs := x.e.persistence.newSerializer()
		for _, cmd := range x.commands {
			cmd.serialize(rs)
		}

		if err := x.e.persistence.write(rs); err != nil {
			x.undo()
			return errors.Wrap(err, "commit failed. rolled back")
		}
	}

	x.e.committed(x.sets, x.deletes)
	return nil
}

// Rollback reverts every in-memory change made by the transaction
func (x *Tx) Rollback() error {
	if x.finished {
		return ErrTxAlreadyFinished
	}
	x.finished = true

	if x.readOnly {
		return nil
	}

	x.undo()
	return nil
}

func (x *Tx) undo() {
	for i := len(x.rollbacks) - 1; i >= 0; i-- {
		x.rollbacks[i]()
	}

	x.rollbacks = nil
	x.changes = nil
}
