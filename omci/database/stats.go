package database

import (
	"sort"
	"sync"
	"time"

	"github.com/jinzhu/copier"
)

const (
	statGet    = "get"
	statSet    = "set"
	statCreate = "create"
	statDelete = "delete"
)

// MibDbStatistic accumulates the timing of one kind of database operation
type MibDbStatistic struct {
	Name  string
	Count int
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (s MibDbStatistic) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

func (s *MibDbStatistic) increment(d time.Duration) {
	if s.Count == 0 || d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
	s.Count++
	s.Total += d
}

type statistics struct {
	mu    sync.Mutex
	stats map[string]*MibDbStatistic
}

func newStatistics() *statistics {
	st := &statistics{stats: make(map[string]*MibDbStatistic)}
	for _, name := range []string{statGet, statSet, statCreate, statDelete} {
		st.stats[name] = &MibDbStatistic{Name: name}
	}
	return st
}

func (st *statistics) record(name string, started time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.stats[name].increment(time.Since(started))
}

func (st *statistics) snapshot() []MibDbStatistic {
	st.mu.Lock()
	defer st.mu.Unlock()

	live := make([]*MibDbStatistic, 0, len(st.stats))
	for _, s := range st.stats {
		live = append(live, s)
	}

	var out []MibDbStatistic
	if err := copier.Copy(&out, &live); err != nil {
		out = out[:0]
		for _, s := range live {
			out = append(out, *s)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
