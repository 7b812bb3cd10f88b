package kvstore

import (
	"sort"
	"sync"
)

type WatchEventType int

const (
	PutEvent WatchEventType = iota
	DeleteEvent
)

func (t WatchEventType) String() string {
	if t == DeleteEvent {
		return "delete"
	}
	return "put"
}

type WatchEvent struct {
	Type  WatchEventType
	Key   string
	Value []byte
}

type WatchFunc func(ev WatchEvent)

type watcher struct {
	id     uint64
	prefix Key
	fn     WatchFunc
}

// watchHub delivers committed changes outside the engine lock. Batches are
// queued under the engine lock and drained by one goroutine at a time, so
// watchers see them in commit order even when a callback blocks.
type watchHub struct {
	mu       sync.RWMutex
	next     uint64
	watchers map[uint64]*watcher

	qmu      sync.Mutex
	queue    [][]WatchEvent
	draining bool
}

func newWatchHub() *watchHub {
	return &watchHub{watchers: make(map[uint64]*watcher)}
}

func (h *watchHub) add(prefix string, fn WatchFunc) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	id := h.next
	h.watchers[id] = &watcher{id: id, prefix: newKey(prefix), fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.watchers, id)
			h.mu.Unlock()
		})
	}
}

func (h *watchHub) clear() {
	h.mu.Lock()
	h.watchers = make(map[uint64]*watcher)
	h.mu.Unlock()
}

// snapshot returns the watchers in registration order
func (h *watchHub) snapshot() []*watcher {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ws := make([]*watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		ws = append(ws, w)
	}

	sort.Slice(ws, func(i, j int) bool { return ws[i].id < ws[j].id })
	return ws
}

// enqueue must be called while the engine write lock is held
func (h *watchHub) enqueue(changes []WatchEvent) {
	if len(changes) == 0 {
		return
	}

	h.qmu.Lock()
	h.queue = append(h.queue, changes)
	h.qmu.Unlock()
}

// drain delivers queued batches unless another caller already does. A write
// made from inside a callback is delivered after the current batch.
func (h *watchHub) drain() {
	h.qmu.Lock()
	if h.draining {
		h.qmu.Unlock()
		return
	}
	h.draining = true

	for len(h.queue) > 0 {
		batch := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		h.qmu.Unlock()

		h.notify(batch)

		h.qmu.Lock()
	}

	h.draining = false
	h.qmu.Unlock()
}

func (h *watchHub) notify(changes []WatchEvent) {
	if len(changes) == 0 {
		return
	}

	ws := h.snapshot()
	for _, ev := range changes {
		k := newKey(ev.Key)
		for _, w := range ws {
			if k.HasPrefix(w.prefix) {
				w.fn(ev)
			}
		}
	}
}
