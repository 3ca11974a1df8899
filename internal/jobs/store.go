package jobs

import (
	"cmp"
	"slices"
	"sync"
)

// store is the in-memory job registry. It only guards the map, records
// guard themselves.
type store struct {
	mx      sync.RWMutex
	seq     uint64
	records map[string]*record
}

func newStore() *store {
	return &store{
		records: make(map[string]*record),
	}
}

func (s *store) add(r *record) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.seq++
	r.seq = s.seq
	s.records[r.id] = r
}

func (s *store) get(id string) (*record, bool) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// all returns the records ordered by creation time and submission order.
func (s *store) all() []*record {
	s.mx.RLock()
	ret := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		ret = append(ret, r)
	}
	s.mx.RUnlock()

	slices.SortFunc(ret, func(a, b *record) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return ret
}

func (s *store) remove(ids ...string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
}

func (s *store) len() int {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return len(s.records)
}
