package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/denismitr/voltha/kvstore"
	"github.com/denismitr/voltha/omci"
	"github.com/denismitr/voltha/omci/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
)

func TestMibDbLazyWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("it writes dirty devices on sync and recovers them", func(t *testing.T) {
		store := kvstore.NewStore(openDB(t), database.MibPath)

		db := database.NewMibDbLazyWrite(store, time.Hour, zaptest.NewLogger(t))
		require.NoError(t, db.Start(ctx))
		require.NoError(t, db.Add(ctx, "onu-1", false))
		assert.True(t, db.Dirty("onu-1"))

		_, err := db.Set(ctx, "onu-1", omci.AniGClassID, 257, omci.Attributes{"optical_signal_level": -21})
		require.NoError(t, err)
		require.NoError(t, db.SaveMibDataSync(ctx, "onu-1", 7))

		_, err = store.Get(ctx, "onu-1")
		assert.True(t, kvstore.IsNotFound(err))

		require.NoError(t, db.Sync(ctx))
		assert.False(t, db.Dirty("onu-1"))

		raw, err := store.Get(ctx, "onu-1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), gjson.GetBytes(raw, "mib_data_sync").Int())
		require.NoError(t, db.Stop(ctx))

		recovered := database.NewMibDbLazyWrite(store, time.Hour, zaptest.NewLogger(t))
		require.NoError(t, recovered.Start(ctx))
		defer func() { require.NoError(t, recovered.Stop(ctx)) }()

		require.NoError(t, recovered.Add(ctx, "onu-1", false))
		assert.False(t, recovered.Dirty("onu-1"))

		attrs, err := recovered.QueryAttributes(ctx, "onu-1", omci.AniGClassID, 257)
		require.NoError(t, err)
		assert.Equal(t, omci.Attributes{"optical_signal_level": -21}, attrs)

		mds, err := recovered.GetMibDataSync(ctx, "onu-1")
		require.NoError(t, err)
		assert.Equal(t, 7, mds)
	})

	t.Run("it does not dirty a device on a no-op set", func(t *testing.T) {
		db := database.NewMibDbLazyWrite(kvstore.NewStore(openDB(t), database.MibPath), time.Hour, nil)
		require.NoError(t, db.Start(ctx))
		defer func() { require.NoError(t, db.Stop(ctx)) }()

		require.NoError(t, db.Add(ctx, "onu-1", false))
		_, err := db.Set(ctx, "onu-1", omci.AniGClassID, 1, omci.Attributes{"arc": 1})
		require.NoError(t, err)
		require.NoError(t, db.Sync(ctx))

		changed, err := db.Set(ctx, "onu-1", omci.AniGClassID, 1, omci.Attributes{"arc": 1})
		require.NoError(t, err)
		assert.False(t, changed)
		assert.False(t, db.Dirty("onu-1"))
	})

	t.Run("it deletes removed devices from storage", func(t *testing.T) {
		store := kvstore.NewStore(openDB(t), database.MibPath)
		db := database.NewMibDbLazyWrite(store, time.Hour, nil)
		require.NoError(t, db.Start(ctx))
		defer func() { require.NoError(t, db.Stop(ctx)) }()

		require.NoError(t, db.Add(ctx, "onu-1", false))
		require.NoError(t, db.Sync(ctx))

		require.NoError(t, db.Remove(ctx, "onu-1"))
		assert.True(t, db.Dirty("onu-1"))

		require.NoError(t, db.Sync(ctx))
		_, err := store.Get(ctx, "onu-1")
		assert.True(t, kvstore.IsNotFound(err))
		assert.False(t, db.Dirty("onu-1"))
	})

	t.Run("it flushes on stop", func(t *testing.T) {
		store := kvstore.NewStore(openDB(t), database.MibPath)
		db := database.NewMibDbLazyWrite(store, time.Hour, nil)
		require.NoError(t, db.Start(ctx))
		require.NoError(t, db.Add(ctx, "onu-1", false))
		require.NoError(t, db.Stop(ctx))

		_, err := store.Get(ctx, "onu-1")
		require.NoError(t, err)
	})

	t.Run("it syncs in the background", func(t *testing.T) {
		store := kvstore.NewStore(openDB(t), database.MibPath)
		db := database.NewMibDbLazyWrite(store, 10*time.Millisecond, nil)
		require.NoError(t, db.Start(ctx))
		defer func() { require.NoError(t, db.Stop(ctx)) }()

		require.NoError(t, db.Add(ctx, "onu-1", false))

		assert.Eventually(t, func() bool {
			return !db.Dirty("onu-1")
		}, time.Second, 10*time.Millisecond)
	})
}
