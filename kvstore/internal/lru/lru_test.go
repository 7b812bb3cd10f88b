package lru

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func Test_lru(t *testing.T) {
	t.Run("it evicts only when bytes limit is reached and new key is added", func(t *testing.T) {
		var evictedKeys []string
		var evictedValues [][]byte

		onEvict := func(k string, v []byte) {
			evictedKeys = append(evictedKeys, k)
			evictedValues = append(evictedValues, v)
		}

		vA := []byte(`a1234567890abcdefgh`)
		vB := []byte(`b1234567890abcdefgh`)
		vC := []byte(`c1234567890abcdefgh`)
		vD := []byte(`d1234567890abcdefgh`)

		lru := newLruShard(20*4, onEvict)
		assert.False(t, lru.add("omci_mibs/onu-1", vA))
		assert.False(t, lru.add("omci_mibs/onu-2", vB))
		assert.False(t, lru.add("omci_mibs/onu-3", vC))
		assert.False(t, lru.add("omci_mibs/onu-4", vD))
		assert.Len(t, evictedKeys, 0)

		// touch everything except onu-3 so it becomes the eviction candidate
		for _, k := range []string{"omci_mibs/onu-1", "omci_mibs/onu-2", "omci_mibs/onu-4"} {
			v, ok := lru.get(k)
			require.True(t, ok)
			require.NotNil(t, v)
		}

		assert.True(t, lru.add("omci_mibs/onu-5", []byte(`e1234567890abcdefgh`)))
		require.Len(t, evictedKeys, 1)
		assert.Equal(t, "omci_mibs/onu-3", evictedKeys[0])
		assert.Exactly(t, vC, evictedValues[0])

		v, ok := lru.get("omci_mibs/onu-3")
		require.False(t, ok)
		require.Nil(t, v)
		assert.Equal(t, 4, lru.len())
	})

	t.Run("it replaces the value of an existing key and recounts bytes", func(t *testing.T) {
		lru := newLruShard(100, nil)
		lru.add("a", []byte("1234567890"))
		lru.add("a", []byte("12345"))

		v, ok := lru.get("a")
		require.True(t, ok)
		assert.Equal(t, []byte("12345"), v)
		assert.Equal(t, uint64(5), lru.bytes())
		assert.Equal(t, 1, lru.len())
	})

	t.Run("it refuses values larger than the shard", func(t *testing.T) {
		lru := newLruShard(4, nil)
		assert.False(t, lru.add("a", []byte("1234567890")))
		_, ok := lru.get("a")
		assert.False(t, ok)
		assert.Equal(t, uint64(0), lru.bytes())
	})

	t.Run("it removes and purges", func(t *testing.T) {
		lru := newLruShard(100, nil)
		lru.add("a", []byte("1"))
		lru.add("b", []byte("2"))

		v, ok := lru.remove("a")
		require.True(t, ok)
		assert.Equal(t, []byte("1"), v)

		_, ok = lru.remove("a")
		assert.False(t, ok)

		lru.purge()
		assert.Equal(t, 0, lru.len())
		assert.Equal(t, uint64(0), lru.bytes())
		assert.Empty(t, lru.keys())
	})
}
