package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/denismitr/voltha/kvstore"
	"github.com/denismitr/voltha/omci"
	"github.com/denismitr/voltha/omci/database"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openDB(t *testing.T) *kvstore.DB {
	t.Helper()

	db, closer, err := kvstore.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer() })

	return db
}

type mibDbFactory func(t *testing.T) database.MibDb

func mibDbs() map[string]mibDbFactory {
	return map[string]mibDbFactory{
		"external": func(t *testing.T) database.MibDb {
			return database.NewMibDbExternal(kvstore.NewStore(openDB(t), database.MibPath), zaptest.NewLogger(t))
		},
		"volatile": func(t *testing.T) database.MibDb {
			return database.NewMibDbVolatile(zaptest.NewLogger(t))
		},
		"lazy": func(t *testing.T) database.MibDb {
			db := database.NewMibDbLazyWrite(kvstore.NewStore(openDB(t), database.MibPath), time.Hour, zaptest.NewLogger(t))
			t.Cleanup(func() { _ = db.Stop(context.Background()) })
			return db
		},
	}
}

func startedWithDevice(t *testing.T, newDb mibDbFactory, deviceID string) database.MibDb {
	t.Helper()

	db := newDb(t)
	require.NoError(t, db.Start(context.Background()))
	require.NoError(t, db.Add(context.Background(), deviceID, false))
	return db
}

func TestMibDb(t *testing.T) {
	ctx := context.Background()

	for name, newDb := range mibDbs() {
		newDb := newDb

		t.Run(name, func(t *testing.T) {
			t.Run("it refuses to work before start", func(t *testing.T) {
				db := newDb(t)
				assert.False(t, db.Active())

				err := db.Add(ctx, "onu-1", false)
				assert.True(t, errors.Is(err, database.ErrDatabaseNotStarted))
			})

			t.Run("it adds devices once unless overwriting", func(t *testing.T) {
				db := startedWithDevice(t, newDb, "onu-1")

				err := db.Add(ctx, "onu-1", false)
				assert.True(t, errors.Is(err, database.ErrDeviceExists))

				_, err = db.Set(ctx, "onu-1", omci.AniGClassID, 257, omci.Attributes{"sd_threshold": 5})
				require.NoError(t, err)

				require.NoError(t, db.Add(ctx, "onu-1", true))
				dev, err := db.Query(ctx, "onu-1")
				require.NoError(t, err)
				assert.Empty(t, dev.Classes)

				require.NoError(t, db.Add(ctx, "onu-0", false))
				ids, err := db.DeviceIDs(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"onu-0", "onu-1"}, ids)
			})

			t.Run("it creates and updates instances reporting changes", func(t *testing.T) {
				db := startedWithDevice(t, newDb, "onu-1")

				changed, err := db.Set(ctx, "onu-1", omci.AniGClassID, 257, omci.Attributes{
					"optical_signal_level": 12,
					"sd_threshold":         5,
				})
				require.NoError(t, err)
				assert.True(t, changed)

				first, err := db.QueryInstance(ctx, "onu-1", omci.AniGClassID, 257)
				require.NoError(t, err)
				require.NotNil(t, first)

				changed, err = db.Set(ctx, "onu-1", omci.AniGClassID, 257, omci.Attributes{"sd_threshold": 5})
				require.NoError(t, err)
				assert.False(t, changed)

				unchanged, err := db.QueryInstance(ctx, "onu-1", omci.AniGClassID, 257)
				require.NoError(t, err)
				assert.Equal(t, first.Modified, unchanged.Modified)

				changed, err = db.Set(ctx, "onu-1", omci.AniGClassID, 257, omci.Attributes{"sd_threshold": 6, "arc": "on"})
				require.NoError(t, err)
				assert.True(t, changed)

				updated, err := db.QueryInstance(ctx, "onu-1", omci.AniGClassID, 257)
				require.NoError(t, err)
				assert.Equal(t, first.Created, updated.Created)
				assert.False(t, updated.Modified.Before(first.Modified))

				want := omci.Attributes{"optical_signal_level": 12, "sd_threshold": 6, "arc": "on"}
				if diff := cmp.Diff(want, updated.Attributes); diff != "" {
					t.Errorf("attributes mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("it validates arguments", func(t *testing.T) {
				db := startedWithDevice(t, newDb, "onu-1")

				_, err := db.Set(ctx, "", omci.AniGClassID, 1, nil)
				assert.True(t, errors.Is(err, database.ErrInvalidArgument))

				_, err = db.Set(ctx, "onu-1", omci.ClassID(0x10000), 1, nil)
				assert.True(t, errors.Is(err, database.ErrInvalidArgument))

				_, err = db.Set(ctx, "onu-1", omci.AniGClassID, -1, nil)
				assert.True(t, errors.Is(err, database.ErrInvalidArgument))

				_, err = db.Set(ctx, "onu-9", omci.AniGClassID, 1, omci.Attributes{"arc": 1})
				assert.True(t, errors.Is(err, database.ErrDeviceNotFound))

				err = db.SaveMibDataSync(ctx, "onu-1", 256)
				assert.True(t, errors.Is(err, database.ErrInvalidArgument))
			})

			t.Run("it answers queries at every level", func(t *testing.T) {
				db := startedWithDevice(t, newDb, "onu-1")

				_, err := db.Set(ctx, "onu-1", omci.UniGClassID, 257, omci.Attributes{"administrative_state": 0, "oper_state": 1})
				require.NoError(t, err)
				_, err = db.Set(ctx, "onu-1", omci.UniGClassID, 258, omci.Attributes{"administrative_state": 1})
				require.NoError(t, err)
				_, err = db.Set(ctx, "onu-1", omci.OntGClassID, 0, omci.Attributes{"vendor_id": "ABCD"})
				require.NoError(t, err)

				dev, err := db.Query(ctx, "onu-1")
				require.NoError(t, err)
				assert.Equal(t, "onu-1", dev.DeviceID)
				assert.Equal(t, database.CurrentVersion, dev.Version)
				assert.Len(t, dev.Classes, 2)
				assert.Len(t, dev.Classes[omci.UniGClassID].Instances, 2)

				cls, err := db.QueryClass(ctx, "onu-1", omci.AniGClassID)
				require.NoError(t, err)
				assert.Empty(t, cls.Instances)

				inst, err := db.QueryInstance(ctx, "onu-1", omci.UniGClassID, 300)
				require.NoError(t, err)
				assert.Nil(t, inst)

				attrs, err := db.QueryAttributes(ctx, "onu-1", omci.UniGClassID, 257, "oper_state", "missing")
				require.NoError(t, err)
				assert.Equal(t, omci.Attributes{"oper_state": 1}, attrs)

				attrs, err = db.QueryAttributes(ctx, "onu-1", omci.UniGClassID, 999)
				require.NoError(t, err)
				assert.Empty(t, attrs)

				_, err = db.Query(ctx, "onu-9")
				assert.True(t, errors.Is(err, database.ErrDeviceNotFound))

				_, err = db.QueryClass(ctx, "onu-9", omci.UniGClassID)
				assert.True(t, errors.Is(err, database.ErrDeviceNotFound))
			})

			t.Run("it hands out copies", func(t *testing.T) {
				db := startedWithDevice(t, newDb, "onu-1")

				_, err := db.Set(ctx, "onu-1", omci.AniGClassID, 1, omci.Attributes{"arc": 1})
				require.NoError(t, err)

				inst, err := db.QueryInstance(ctx, "onu-1", omci.AniGClassID, 1)
				require.NoError(t, err)
				inst.Attributes["arc"] = 99

				attrs, err := db.QueryAttributes(ctx, "onu-1", omci.AniGClassID, 1, "arc")
				require.NoError(t, err)
				assert.Equal(t, 1, attrs["arc"])
			})

			t.Run("it deletes instances and empty classes", func(t *testing.T) {
				db := startedWithDevice(t, newDb, "onu-1")

				_, err := db.Set(ctx, "onu-1", omci.TcontClassID, 0x8001, omci.Attributes{"alloc_id": 1024})
				require.NoError(t, err)
				_, err = db.Set(ctx, "onu-1", omci.TcontClassID, 0x8002, omci.Attributes{"alloc_id": 1025})
				require.NoError(t, err)

				deleted, err := db.Delete(ctx, "onu-1", omci.TcontClassID, 0x8001)
				require.NoError(t, err)
				assert.True(t, deleted)

				deleted, err = db.Delete(ctx, "onu-1", omci.TcontClassID, 0x8001)
				require.NoError(t, err)
				assert.False(t, deleted)

				dev, err := db.Query(ctx, "onu-1")
				require.NoError(t, err)
				assert.Contains(t, dev.Classes, omci.TcontClassID)

				deleted, err = db.Delete(ctx, "onu-1", omci.TcontClassID, 0x8002)
				require.NoError(t, err)
				assert.True(t, deleted)

				dev, err = db.Query(ctx, "onu-1")
				require.NoError(t, err)
				assert.NotContains(t, dev.Classes, omci.TcontClassID)
			})

			t.Run("it keeps sync values and resets the mib", func(t *testing.T) {
				db := startedWithDevice(t, newDb, "onu-1")

				require.NoError(t, db.SaveMibDataSync(ctx, "onu-1", 42))
				mds, err := db.GetMibDataSync(ctx, "onu-1")
				require.NoError(t, err)
				assert.Equal(t, 42, mds)

				synced := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.UTC)
				require.NoError(t, db.SaveLastSyncTime(ctx, "onu-1", synced))
				last, err := db.GetLastSyncTime(ctx, "onu-1")
				require.NoError(t, err)
				assert.True(t, synced.Truncate(time.Microsecond).Equal(last))

				_, err = db.Set(ctx, "onu-1", omci.AniGClassID, 1, omci.Attributes{"arc": 1})
				require.NoError(t, err)

				require.NoError(t, db.OnMibReset(ctx, "onu-1"))

				dev, err := db.Query(ctx, "onu-1")
				require.NoError(t, err)
				assert.Empty(t, dev.Classes)
				assert.Equal(t, 0, dev.MibDataSync)
				assert.True(t, synced.Truncate(time.Microsecond).Equal(dev.LastSyncTime))

				_, err = db.GetMibDataSync(ctx, "onu-9")
				assert.True(t, errors.Is(err, database.ErrDeviceNotFound))
			})

			t.Run("it records supported entities and message types", func(t *testing.T) {
				db := startedWithDevice(t, newDb, "onu-1")

				require.NoError(t, db.UpdateSupportedManagedEntities(ctx, "onu-1", []omci.ClassID{omci.OntGClassID, omci.AniGClassID}))
				require.NoError(t, db.UpdateSupportedMessageTypes(ctx, "onu-1", []omci.MessageType{omci.Get, omci.Set}))

				dev, err := db.Query(ctx, "onu-1")
				require.NoError(t, err)

				wantMes := []database.ManagedEntity{{ClassID: omci.OntGClassID, Name: "OntG"}, {ClassID: omci.AniGClassID, Name: "AniG"}}
				if diff := cmp.Diff(wantMes, dev.ManagedEntities); diff != "" {
					t.Errorf("managed entities mismatch (-want +got):\n%s", diff)
				}
				assert.Equal(t, []omci.MessageType{omci.Get, omci.Set}, dev.MessageTypes)
			})

			t.Run("it loads templates and dumps json", func(t *testing.T) {
				db := startedWithDevice(t, newDb, "onu-1")

				stamp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
				tmpl := database.Classes{
					omci.AniGClassID: {
						ClassID: omci.AniGClassID,
						Instances: map[int]*database.Instance{
							257: {InstanceID: 257, Created: stamp, Modified: stamp, Attributes: omci.Attributes{"optical_signal_level": 7}},
						},
					},
				}

				require.NoError(t, db.LoadFromTemplate(ctx, "onu-1", tmpl))

				attrs, err := db.QueryAttributes(ctx, "onu-1", omci.AniGClassID, 257)
				require.NoError(t, err)
				assert.Equal(t, omci.Attributes{"optical_signal_level": 7}, attrs)

				dump, err := db.DumpToJSON(ctx, "onu-1")
				require.NoError(t, err)
				assert.Equal(t, "onu-1", gjson.GetBytes(dump, "device_id").String())
				assert.Equal(t, int64(7), gjson.GetBytes(dump, "263.257.attributes.optical_signal_level").Int())
				assert.Equal(t, "20260101-000000.000000", gjson.GetBytes(dump, "263.257.created").String())
			})

			t.Run("it gathers statistics", func(t *testing.T) {
				db := startedWithDevice(t, newDb, "onu-1")

				_, err := db.Set(ctx, "onu-1", omci.AniGClassID, 1, omci.Attributes{"arc": 1})
				require.NoError(t, err)
				_, err = db.Set(ctx, "onu-1", omci.AniGClassID, 1, omci.Attributes{"arc": 2})
				require.NoError(t, err)
				_, err = db.Query(ctx, "onu-1")
				require.NoError(t, err)

				counts := map[string]int{}
				for _, s := range db.Statistics() {
					counts[s.Name] = s.Count
					assert.True(t, s.Min <= s.Max)
				}

				assert.Equal(t, 1, counts["create"])
				assert.Equal(t, 1, counts["set"])
				assert.Equal(t, 1, counts["get"])
			})

			t.Run("it removes devices", func(t *testing.T) {
				db := startedWithDevice(t, newDb, "onu-1")

				_, err := db.Set(ctx, "onu-1", omci.AniGClassID, 1, omci.Attributes{"arc": 1})
				require.NoError(t, err)
				require.NoError(t, db.Remove(ctx, "onu-1"))

				_, err = db.Query(ctx, "onu-1")
				assert.True(t, errors.Is(err, database.ErrDeviceNotFound))

				require.NoError(t, db.Add(ctx, "onu-1", false))
				dev, err := db.Query(ctx, "onu-1")
				require.NoError(t, err)
				assert.Empty(t, dev.Classes)
			})
		})
	}
}

func TestMibDbStatistic(t *testing.T) {
	s := database.MibDbStatistic{Name: "get"}
	assert.Equal(t, time.Duration(0), s.Average())

	s = database.MibDbStatistic{Name: "get", Count: 4, Total: 8 * time.Millisecond}
	assert.Equal(t, 2*time.Millisecond, s.Average())
}
