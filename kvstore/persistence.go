package kvstore

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

var ErrDbFileWriteFailed = errors.New("database write failed")
var ErrSourceFileReadFailed = errors.New("source file read failed")
var ErrCommandInvalid = errors.New("command invalid")
var ErrStorageFailed = errors.New("storage error")

type ValueLoadStrategy string
type PersistenceStrategy string

const (
	Async PersistenceStrategy = "async"
	Sync  PersistenceStrategy = "sync"
)

const (
	LazyLoad  ValueLoadStrategy = "lazy"
	EagerLoad ValueLoadStrategy = "eager"
)

const logFileMode = 0o666

// persistence owns the append-only command log of a DB file. cursor is
// always the offset right after the last complete command.
type persistence struct {
	mu       sync.RWMutex
	strategy PersistenceStrategy
	f        *os.File
	cursor   int
}

func newPersistence(path string, strategy PersistenceStrategy, truncate bool) (*persistence, error) {
	flags := os.O_CREATE | os.O_RDWR
	if truncate {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, logFileMode)
	if err != nil {
		return nil, errors.Wrapf(ErrStorageFailed, "could not open %s: %s", path, err)
	}

	return &persistence{f: f, strategy: strategy}, nil
}

func (p *persistence) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	syncErr := p.f.Sync()
	if err := p.f.Close(); err != nil {
		return errors.Wrap(err, "could not close file")
	}
	return errors.Wrap(syncErr, "could not sync file before close")
}

// load replays every complete command of the log through cb and drops a
// torn tail left by an interrupted write
func (p *persistence) load(cb func(d deserializer) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrapf(ErrStorageFailed, "could not rewind %s: %s", p.f.Name(), err)
	}

	n, err := (&respParser{}).parse(bufio.NewReader(p.f), cb)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		if err := p.f.Truncate(int64(n)); err != nil {
			return errors.Wrap(err, "could not truncate torn tail")
		}
	case err != nil:
		return err
	}

	return p.seekUnderLock(n)
}

func (p *persistence) newSerializer() *respSerializer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &respSerializer{pos: p.cursor}
}

// write appends the serialized commands, a partial append is cut off again
// so the log never ends in half a command
func (p *persistence) write(rs *respSerializer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.f.Write(rs.buf.Bytes())
	if err != nil {
		if n > 0 {
			if rbErr := p.f.Truncate(int64(p.cursor)); rbErr != nil {
				return errors.Wrapf(ErrStorageFailed, "could not roll back %s: %s", p.f.Name(), rbErr)
			}
			if rbErr := p.seekUnderLock(p.cursor); rbErr != nil {
				return rbErr
			}
		}
		return errors.Wrap(ErrDbFileWriteFailed, err.Error())
	}

	if p.strategy == Sync {
		if err := p.f.Sync(); err != nil {
			return errors.Wrap(ErrDbFileWriteFailed, err.Error())
		}
	}

	p.cursor += n
	return nil
}

func (p *persistence) sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return errors.Wrapf(p.f.Sync(), "cannot sync file %s", p.f.Name())
}

// writeAndSwap replaces the log with the compacted contents of rs. When the
// swap fails the old log stays open at its old cursor.
func (p *persistence) writeAndSwap(rs *respSerializer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := p.f.Name()
	tmpName := name + ".tmp"
	if err := writeFileSynced(tmpName, rs.buf.Bytes()); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := p.f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "compaction could not close %s", name)
	}

	cursor := rs.buf.Len()
	swapErr := os.Rename(tmpName, name)
	if swapErr != nil {
		_ = os.Remove(tmpName)
		cursor = p.cursor
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, logFileMode)
	if err != nil {
		return errors.Wrapf(ErrStorageFailed, "could not reopen %s: %s", name, err)
	}
	p.f = f

	if err := p.seekUnderLock(cursor); err != nil {
		return err
	}

	return errors.Wrapf(swapErr, "compaction could not swap %s", name)
}

// readValue loads a blob by its position, safe for concurrent readers
func (p *persistence) readValue(pos position) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	blob := make([]byte, pos.size)
	if _, err := p.f.ReadAt(blob, int64(pos.offset)); err != nil {
		return nil, errors.Wrapf(ErrStorageFailed, "could not read blob at %d in %s: %s", pos.offset, p.f.Name(), err)
	}

	return blob, nil
}

func (p *persistence) seekUnderLock(offset int) error {
	pos, err := p.f.Seek(int64(offset), io.SeekStart)
	if err != nil {
		return errors.Wrapf(ErrStorageFailed, "could not move the cursor in %s: %s", p.f.Name(), err)
	}
	p.cursor = int(pos)
	return nil
}

func writeFileSynced(name string, b []byte) error {
	f, err := os.Create(name)
	if err != nil {
		return errors.Wrapf(err, "could not create %s", name)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		return errors.Wrapf(ErrDbFileWriteFailed, "could not write %s: %s", name, err)
	}
	return errors.Wrapf(f.Sync(), "could not sync %s", name)
}
