package kvstore_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/denismitr/voltha/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type onu struct {
	SerialNumber string `json:"serial_number"`
	PonID        int    `json:"pon_id"`
	Active       bool   `json:"active"`
}

func openFileDB(t *testing.T, path string, cfg *kvstore.Config) (*kvstore.DB, kvstore.Closer) {
	t.Helper()
	db, closer, err := kvstore.Open(path, cfg)
	require.NoError(t, err)
	return db, closer
}

func seedOnus(t *testing.T, db *kvstore.DB, n int) {
	t.Helper()
	err := db.Update(context.Background(), func(tx *kvstore.Tx) error {
		for i := 1; i <= n; i++ {
			if err := tx.Insert("onus/"+strconv.Itoa(i), onu{
				SerialNumber: "ABCD0000000" + strconv.Itoa(i),
				PonID:        i % 4,
				Active:       i%2 == 0,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestDB_InMemory(t *testing.T) {
	db, closer, err := kvstore.Open(":memory:", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, closer()) }()

	seedOnus(t, db, 12)
	require.NoError(t, db.Update(context.Background(), func(tx *kvstore.Tx) error {
		return tx.Insert("pons/1", `{"admin":"enabled"}`)
	}))

	t.Run("it gets a document by key", func(t *testing.T) {
		err := db.View(context.Background(), func(tx *kvstore.Tx) error {
			doc, err := tx.Get("onus/3")
			require.NoError(t, err)
			assert.Equal(t, "onus/3", doc.Key())
			assert.Equal(t, "ABCD00000003", doc.Json().StringOrDefault("serial_number", ""))
			assert.Equal(t, 3, doc.Json().IntOrDefault("pon_id", -1))

			var dest onu
			require.NoError(t, doc.Json().Unmarshal(&dest))
			assert.Equal(t, onu{SerialNumber: "ABCD00000003", PonID: 3}, dest)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("it reports a missing key", func(t *testing.T) {
		err := db.View(context.Background(), func(tx *kvstore.Tx) error {
			doc, err := tx.Get("onus/99")
			assert.Nil(t, doc)
			assert.ErrorIs(t, err, kvstore.ErrKeyDoesNotExist)
			assert.False(t, tx.Has("onus/99"))
			assert.True(t, tx.Has("onus/12"))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("it refuses to insert an existing key", func(t *testing.T) {
		err := db.Update(context.Background(), func(tx *kvstore.Tx) error {
			return tx.Insert("onus/1", onu{})
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, kvstore.ErrKeyAlreadyExists)
	})

	t.Run("it refuses writes in a read only transaction", func(t *testing.T) {
		err := db.View(context.Background(), func(tx *kvstore.Tx) error {
			return tx.Insert("onus/100", onu{})
		})
		assert.ErrorIs(t, err, kvstore.ErrTxIsReadOnly)
	})

	t.Run("it scans numeric segments in numeric order", func(t *testing.T) {
		var docs []kvstore.Document
		err := db.View(context.Background(), func(tx *kvstore.Tx) error {
			return tx.Find(context.Background(), kvstore.Scan().Under("onus"), &docs)
		})
		require.NoError(t, err)
		require.Len(t, docs, 12)
		for i := range docs {
			assert.Equal(t, "onus/"+strconv.Itoa(i+1), docs[i].Key())
		}
	})

	t.Run("it scans a prefix in descending order with a limit", func(t *testing.T) {
		var docs []kvstore.Document
		err := db.View(context.Background(), func(tx *kvstore.Tx) error {
			return tx.Find(context.Background(), kvstore.Scan().Under("onus").Descending().Limit(3), &docs)
		})
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, "onus/12", docs[0].Key())
		assert.Equal(t, "onus/11", docs[1].Key())
		assert.Equal(t, "onus/10", docs[2].Key())
	})

	t.Run("it scans a key range both ways", func(t *testing.T) {
		var asc, desc []kvstore.Document
		err := db.View(context.Background(), func(tx *kvstore.Tx) error {
			if err := tx.Find(context.Background(), kvstore.Scan().Between("onus/4", "onus/9"), &asc); err != nil {
				return err
			}
			return tx.Find(context.Background(), kvstore.Scan().Between("onus/4", "onus/9").Descending(), &desc)
		})
		require.NoError(t, err)
		require.Len(t, asc, 6)
		require.Len(t, desc, 6)
		assert.Equal(t, "onus/4", asc[0].Key())
		assert.Equal(t, "onus/9", asc[5].Key())
		assert.Equal(t, "onus/9", desc[0].Key())
		assert.Equal(t, "onus/4", desc[5].Key())
	})

	t.Run("it scans everything", func(t *testing.T) {
		var docs []kvstore.Document
		err := db.View(context.Background(), func(tx *kvstore.Tx) error {
			return tx.Find(context.Background(), nil, &docs)
		})
		require.NoError(t, err)
		require.Len(t, docs, 13)
		assert.Equal(t, "pons/1", docs[12].Key())
		assert.Equal(t, 13, db.Count())
	})

	t.Run("it removes keys and fails on a missing one", func(t *testing.T) {
		err := db.Update(context.Background(), func(tx *kvstore.Tx) error {
			return tx.Remove("onus/12", "onus/404")
		})
		require.ErrorIs(t, err, kvstore.ErrKeyDoesNotExist)
		assert.Equal(t, 13, db.Count(), "the first removal must be rolled back")

		require.NoError(t, db.Update(context.Background(), func(tx *kvstore.Tx) error {
			return tx.Remove("onus/12")
		}))
		assert.Equal(t, 12, db.Count())
	})
}

func TestDB_Persistence(t *testing.T) {
	t.Run("it reloads committed data after reopening", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reload.vdb")
		db, closer := openFileDB(t, path, &kvstore.Config{DisableAutoVacuum: true})
		seedOnus(t, db, 5)
		require.NoError(t, db.Update(context.Background(), func(tx *kvstore.Tx) error {
			if err := tx.InsertOrReplace("onus/2", onu{SerialNumber: "REPLACED"}); err != nil {
				return err
			}
			return tx.Remove("onus/5")
		}))
		require.NoError(t, closer())

		db, closer = openFileDB(t, path, &kvstore.Config{DisableAutoVacuum: true})
		defer func() { require.NoError(t, closer()) }()

		assert.Equal(t, 4, db.Count())
		require.NoError(t, db.View(context.Background(), func(tx *kvstore.Tx) error {
			doc, err := tx.Get("onus/2")
			require.NoError(t, err)
			assert.Equal(t, "REPLACED", doc.Json().StringOrDefault("serial_number", ""))
			assert.False(t, tx.Has("onus/5"))
			return nil
		}))
	})

	t.Run("it truncates a torn record at the end of the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "torn.vdb")
		db, closer := openFileDB(t, path, &kvstore.Config{DisableAutoVacuum: true})
		seedOnus(t, db, 3)
		require.NoError(t, closer())

		info, err := os.Stat(path)
		require.NoError(t, err)
		goodSize := info.Size()

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0666)
		require.NoError(t, err)
		_, err = f.WriteString("*3\r\n+set\r\n$6\r\nonus/4\r\n$40\r\n{\"serial")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		db, closer = openFileDB(t, path, &kvstore.Config{DisableAutoVacuum: true})
		assert.Equal(t, 3, db.Count())

		info, err = os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, goodSize, info.Size())

		// the file must stay appendable after truncation
		require.NoError(t, db.Update(context.Background(), func(tx *kvstore.Tx) error {
			return tx.Insert("onus/4", onu{SerialNumber: "AFTER"})
		}))
		require.NoError(t, closer())

		db, closer = openFileDB(t, path, &kvstore.Config{DisableAutoVacuum: true})
		defer func() { require.NoError(t, closer()) }()
		assert.Equal(t, 4, db.Count())
	})

	t.Run("it compacts the log on vacuum", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vacuum.vdb")
		db, closer := openFileDB(t, path, &kvstore.Config{DisableAutoVacuum: true})
		seedOnus(t, db, 10)
		require.NoError(t, db.Update(context.Background(), func(tx *kvstore.Tx) error {
			return tx.Remove("onus/1", "onus/2", "onus/3", "onus/4", "onus/5")
		}))

		before, err := os.Stat(path)
		require.NoError(t, err)
		require.NoError(t, db.Vacuum())
		after, err := os.Stat(path)
		require.NoError(t, err)
		assert.Less(t, after.Size(), before.Size())
		require.NoError(t, closer())

		db, closer = openFileDB(t, path, &kvstore.Config{DisableAutoVacuum: true})
		defer func() { require.NoError(t, closer()) }()
		assert.Equal(t, 5, db.Count())
	})

	t.Run("it persists flush all", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "flush.vdb")
		db, closer := openFileDB(t, path, &kvstore.Config{DisableAutoVacuum: true})
		seedOnus(t, db, 4)
		require.NoError(t, db.Update(context.Background(), func(tx *kvstore.Tx) error {
			if err := tx.FlushAll(); err != nil {
				return err
			}
			return tx.Insert("pons/1", "up")
		}))
		require.NoError(t, closer())

		db, closer = openFileDB(t, path, &kvstore.Config{DisableAutoVacuum: true})
		defer func() { require.NoError(t, closer()) }()
		assert.Equal(t, 1, db.Count())
	})

	t.Run("it rejects use after close", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "closed.vdb")
		db, closer := openFileDB(t, path, nil)
		require.NoError(t, closer())

		err := db.View(context.Background(), func(tx *kvstore.Tx) error { return nil })
		assert.ErrorIs(t, err, kvstore.ErrDatabaseAlreadyClosed)
		assert.ErrorIs(t, closer(), kvstore.ErrDatabaseAlreadyClosed)
	})
}

func TestDB_LazyLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lazy.vdb")
	cfg := &kvstore.Config{
		DisableAutoVacuum: true,
		ValueLoadStrategy: kvstore.LazyLoad,
		MaxCacheSize:      64,
		CacheShards:       2,
	}

	db, closer := openFileDB(t, path, cfg)
	seedOnus(t, db, 20)
	require.NoError(t, closer())

	db, closer = openFileDB(t, path, cfg)
	defer func() { require.NoError(t, closer()) }()

	readAll := func() {
		require.NoError(t, db.View(context.Background(), func(tx *kvstore.Tx) error {
			for i := 1; i <= 20; i++ {
				doc, err := tx.Get("onus/" + strconv.Itoa(i))
				require.NoError(t, err)
				assert.Equal(t, i%4, doc.Json().IntOrDefault("pon_id", -1))
			}
			return nil
		}))
	}

	t.Run("it reads values from the file by position", func(t *testing.T) {
		readAll()
	})

	t.Run("it keeps positions valid after vacuum", func(t *testing.T) {
		require.NoError(t, db.Update(context.Background(), func(tx *kvstore.Tx) error {
			return tx.InsertOrReplace("onus/7", onu{SerialNumber: "NEW", PonID: 3})
		}))
		require.NoError(t, db.Vacuum())
		readAll()
	})
}

func TestDB_Watch(t *testing.T) {
	db, closer, err := kvstore.Open(":memory:", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, closer()) }()

	var seen []kvstore.WatchEvent
	cancel := db.Watch("onus", func(ev kvstore.WatchEvent) {
		seen = append(seen, ev)
	})

	t.Run("it notifies puts and deletes under the prefix in commit order", func(t *testing.T) {
		require.NoError(t, db.Update(context.Background(), func(tx *kvstore.Tx) error {
			if err := tx.Insert("onus/1", "a"); err != nil {
				return err
			}
			if err := tx.Insert("pons/1", "ignored"); err != nil {
				return err
			}
			return tx.Remove("onus/1")
		}))

		require.Len(t, seen, 2)
		assert.Equal(t, kvstore.PutEvent, seen[0].Type)
		assert.Equal(t, "onus/1", seen[0].Key)
		assert.Equal(t, []byte("a"), seen[0].Value)
		assert.Equal(t, kvstore.DeleteEvent, seen[1].Type)
	})

	t.Run("it does not notify rolled back changes", func(t *testing.T) {
		seen = nil
		err := db.Update(context.Background(), func(tx *kvstore.Tx) error {
			_ = tx.Insert("onus/2", "b")
			return assert.AnError
		})
		require.Error(t, err)
		assert.Empty(t, seen)
	})

	t.Run("it lets a watcher read the database", func(t *testing.T) {
		var read string
		stop := db.Watch("pons", func(ev kvstore.WatchEvent) {
			_ = db.View(context.Background(), func(tx *kvstore.Tx) error {
				doc, err := tx.Get(ev.Key)
				if err == nil {
					read = doc.RawString()
				}
				return nil
			})
		})
		defer stop()

		require.NoError(t, db.Update(context.Background(), func(tx *kvstore.Tx) error {
			return tx.InsertOrReplace("pons/2", "down")
		}))
		assert.Equal(t, "down", read)
	})

	t.Run("it stops after cancel", func(t *testing.T) {
		seen = nil
		cancel()
		require.NoError(t, db.Update(context.Background(), func(tx *kvstore.Tx) error {
			return tx.Insert("onus/3", "c")
		}))
		assert.Empty(t, seen)
	})
}

func TestDB_WatchCommitOrder(t *testing.T) {
	db, closer, err := kvstore.Open(":memory:", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, closer()) }()

	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once
	stopSlow := db.Watch("k", func(ev kvstore.WatchEvent) {
		if ev.Key == "k/a" {
			once.Do(func() { close(entered) })
			<-release
		}
	})
	defer stopSlow()

	var mu sync.Mutex
	var keys []string
	stopRecording := db.Watch("k", func(ev kvstore.WatchEvent) {
		mu.Lock()
		keys = append(keys, ev.Key)
		mu.Unlock()
	})
	defer stopRecording()

	put := func(key string) error {
		return db.Update(ctx, func(tx *kvstore.Tx) error {
			return tx.Insert(key, "v")
		})
	}

	t.Run("it delivers a later commit after a blocked earlier one", func(t *testing.T) {
		firstDone := make(chan error, 1)
		go func() { firstDone <- put("k/a") }()

		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			close(release)
			t.Fatal("first commit was never delivered")
		}

		require.NoError(t, put("k/b"))
		close(release)
		require.NoError(t, <-firstDone)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"k/a", "k/b"}, keys)
	})
}
