package lru

// NullCache is used when values live in memory anyway
type NullCache struct{}

var _ Cache = NullCache{}

func (NullCache) Add(string, []byte) bool { return false }

func (NullCache) Get(string) ([]byte, bool) { return nil, false }

func (NullCache) Remove(string) {}

func (NullCache) Purge() {}

func (NullCache) Len() int { return 0 }
