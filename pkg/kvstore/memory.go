package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used for tests and single-node
// deployments without external infrastructure.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]memoryValue
	sets map[string]map[string]float64
}

type memoryValue struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]memoryValue),
		sets: make(map[string]map[string]float64),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !v.expiresAt.IsZero() && time.Now().After(v.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	out := make([]byte, len(v.value))
	copy(out, v.value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttlSeconds int) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt time.Time
	if ttlSeconds > 0 {
		expiresAt = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	s.mu.Lock()
	s.data[key] = memoryValue{value: stored, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if _, ok := s.data[key]; ok {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	keys := make([]string, 0, len(s.data))
	for k, v := range s.data {
		if !v.expiresAt.IsZero() && now.After(v.expiresAt) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) ZAdd(_ context.Context, set, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.sets[set]
	if !ok {
		members = make(map[string]float64)
		s.sets[set] = members
	}
	members[member] = score
	return nil
}

func (s *MemoryStore) ZRem(_ context.Context, set string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sets[set]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(existing, m)
	}
	return nil
}

func (s *MemoryStore) ZRangeByScore(_ context.Context, set string, min, max float64, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := s.sortedMembers(set)
	out := make([]string, 0, len(scored))
	for _, sm := range scored {
		if sm.Score < min || sm.Score > max {
			continue
		}
		out = append(out, sm.Member)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ZRangeWithScores(_ context.Context, set string) ([]ScoredMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedMembers(set), nil
}

// sortedMembers returns the set in ascending score order, ties broken by
// member for determinism. Caller must hold at least a read lock.
func (s *MemoryStore) sortedMembers(set string) []ScoredMember {
	members := s.sets[set]
	scored := make([]ScoredMember, 0, len(members))
	for m, score := range members {
		scored = append(scored, ScoredMember{Member: m, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score < scored[j].Score
		}
		return scored[i].Member < scored[j].Member
	})
	return scored
}

func (s *MemoryStore) ZScore(_ context.Context, set, member string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.sets[set]
	if !ok {
		return 0, false, nil
	}
	score, ok := members[member]
	return score, ok, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.data = make(map[string]memoryValue)
	s.sets = make(map[string]map[string]float64)
	s.mu.Unlock()
	return nil
}
