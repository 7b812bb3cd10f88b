package kvstore

import (
	"context"
	"github.com/pkg/errors"
	"strings"
)

// Client is the path oriented key/value access the rest of the library relies on
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, keyPrefix string) (map[string][]byte, error)
	Watch(key string, fn func(key string, value []byte, deleted bool)) (cancel func())
}

// Store scopes every key under a path prefix
type Store struct {
	db     *DB
	prefix string
}

var _ Client = (*Store)(nil)

func NewStore(db *DB, prefix string) *Store {
	return &Store{db: db, prefix: JoinKey(prefix)}
}

func (s *Store) Prefix() string {
	return s.prefix
}

func (s *Store) path(key string) string {
	return JoinKey(s.prefix, key)
}

func (s *Store) relative(path string) string {
	if s.prefix == "" {
		return path
	}
	return strings.TrimPrefix(strings.TrimPrefix(path, s.prefix), keySeparator)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(ctx, func(tx *Tx) error {
		doc, err := tx.Get(s.path(key))
		if err != nil {
			return err
		}

		value = doc.Value()
		return nil
	})

	if err != nil {
		return nil, errors.Wrapf(err, "could not get %s", key)
	}

	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.db.Update(ctx, func(tx *Tx) error {
		return tx.InsertOrReplace(s.path(key), value)
	}); err != nil {
		return errors.Wrapf(err, "could not set %s", key)
	}

	return nil
}

// Delete removes key, a missing key is not an error
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.Update(ctx, func(tx *Tx) error {
		path := s.path(key)
		if !tx.Has(path) {
			return nil
		}
		return tx.Remove(path)
	}); err != nil {
		return errors.Wrapf(err, "could not delete %s", key)
	}

	return nil
}

// List returns key and everything below it, keyed relative to the store prefix
func (s *Store) List(ctx context.Context, keyPrefix string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.db.View(ctx, func(tx *Tx) error {
		var docs []Document
		if err := tx.Find(ctx, Scan().Under(s.path(keyPrefix)), &docs); err != nil {
			return err
		}

		for i := range docs {
			result[s.relative(docs[i].Key())] = docs[i].Value()
		}

		return nil
	})

	if err != nil {
		return nil, errors.Wrapf(err, "could not list %s", keyPrefix)
	}

	return result, nil
}

// Watch reports changes of key and of every key below it
func (s *Store) Watch(key string, fn func(key string, value []byte, deleted bool)) func() {
	return s.db.Watch(s.path(key), func(ev WatchEvent) {
		fn(s.relative(ev.Key), ev.Value, ev.Type == DeleteEvent)
	})
}

// IsNotFound reports whether err means a missing key
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyDoesNotExist)
}
