package lru

import (
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"sync"
)

var ErrIllegalCapacity = errors.New("illegal lru cache capacity")
var ErrInvalidSharding = errors.New("invalid sharding")

type OnEvict func(key string, value []byte)

// Cache is what the store needs from a value cache
type Cache interface {
	Add(key string, value []byte) bool
	Get(key string) ([]byte, bool)
	Remove(key string)
	Purge()
	Len() int
}

type ShardedCache struct {
	maxBytes uint64
	shards   []*lruShard
}

var _ Cache = (*ShardedCache)(nil)

func NewShardedCache(shards int, maxTotalBytes uint64, onEvict OnEvict) (*ShardedCache, error) {
	if shards < 1 {
		return nil, ErrInvalidSharding
	}

	if maxTotalBytes < uint64(shards) {
		return nil, errors.Wrapf(ErrIllegalCapacity, "%d bytes for %d shards", maxTotalBytes, shards)
	}

	c := ShardedCache{
		maxBytes: maxTotalBytes,
		shards:   make([]*lruShard, shards),
	}

	shardMaxBytes := maxTotalBytes / uint64(shards)
	for i := range c.shards {
		c.shards[i] = newLruShard(shardMaxBytes, onEvict)
	}

	return &c, nil
}

// Add value to cache under key and returns true if eviction happened
func (c *ShardedCache) Add(key string, value []byte) bool {
	return c.getShard(key).add(key, value)
}

func (c *ShardedCache) Get(key string) ([]byte, bool) {
	return c.getShard(key).get(key)
}

func (c *ShardedCache) Remove(key string) {
	c.getShard(key).remove(key)
}

func (c *ShardedCache) Purge() {
	var wg sync.WaitGroup

	wg.Add(len(c.shards))
	for i := range c.shards {
		go func(i int) {
			defer wg.Done()
			c.shards[i].purge()
		}(i)
	}

	wg.Wait()
}

func (c *ShardedCache) Len() int {
	var n int
	for i := range c.shards {
		n += c.shards[i].len()
	}
	return n
}

func (c *ShardedCache) Bytes() uint64 {
	var n uint64
	for i := range c.shards {
		n += c.shards[i].bytes()
	}
	return n
}

func (c *ShardedCache) Keys() []string {
	var keys []string
	for i := range c.shards {
		keys = append(keys, c.shards[i].keys()...)
	}
	return keys
}

func (c *ShardedCache) getShard(key string) *lruShard {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}
