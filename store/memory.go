package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/dnstrail/dnstrail/record"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records []record.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) Find(_ context.Context, q Query) ([]record.Record, error) {
	var addressRe *regexp.Regexp
	if q.AddressPattern != "" {
		var err error
		addressRe, err = regexp.Compile(q.AddressPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid address pattern: %w", err)
		}
	}

	s.mu.RLock()
	var res []record.Record
	for _, rec := range s.records {
		if q.matches(rec, addressRe) {
			res = append(res, rec)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Timestamp.Before(res[j].Timestamp)
	})
	return res, nil
}

func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}

// Records returns every inserted record in insertion order.
func (s *MemoryStore) Records() []record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]record.Record(nil), s.records...)
}
