// Package session holds per-sender onboarding profiles. Three backends
// implement domain.SessionStore: an in-process sharded map, the shared
// SQLite database, and a Badger key-value store.
package session

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"aina/internal/domain"
)

const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	profiles map[string]domain.SenderProfile
}

// MemoryStore keeps profiles in memory. Senders hash onto independently
// locked shards so unrelated senders never contend on one lock.
type MemoryStore struct {
	shards [shardCount]*shard
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{profiles: make(map[string]domain.SenderProfile)}
	}
	return s
}

func (s *MemoryStore) shardFor(senderID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(senderID))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) GetProfile(_ context.Context, senderID string) (*domain.SenderProfile, error) {
	sh := s.shardFor(senderID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	p, ok := sh.profiles[senderID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, senderID, name, specialty, orientation string) (*domain.SenderProfile, error) {
	if err := validateUpsert(senderID, name, specialty, orientation); err != nil {
		return nil, err
	}
	sh := s.shardFor(senderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, ok := sh.profiles[senderID]
	var prev *domain.SenderProfile
	if ok {
		prev = &existing
	}
	p := applyUpsert(prev, senderID, name, specialty, orientation, s.now())
	sh.profiles[senderID] = p
	return &p, nil
}

func (s *MemoryStore) HasContacted(_ context.Context, senderID string) (bool, error) {
	sh := s.shardFor(senderID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.profiles[senderID]
	return ok, nil
}

func (s *MemoryStore) Touch(_ context.Context, senderID string) error {
	if senderID == "" {
		return errEmptySender
	}
	sh := s.shardFor(senderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.profiles[senderID]; ok {
		return nil
	}
	sh.profiles[senderID] = newContact(senderID, s.now())
	return nil
}

// ListProfiles returns up to limit profiles, most recently updated first.
func (s *MemoryStore) ListProfiles(_ context.Context, limit int) ([]domain.SenderProfile, error) {
	var all []domain.SenderProfile
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, p := range sh.profiles {
			all = append(all, p)
		}
		sh.mu.RUnlock()
	}
	sortProfiles(all)
	return clip(all, limit), nil
}

func (s *MemoryStore) Close() error { return nil }

func sortProfiles(ps []domain.SenderProfile) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].UpdatedAt.Equal(ps[j].UpdatedAt) {
			return ps[i].UpdatedAt.After(ps[j].UpdatedAt)
		}
		return ps[i].SenderID < ps[j].SenderID
	})
}

func clip(ps []domain.SenderProfile, limit int) []domain.SenderProfile {
	if limit > 0 && len(ps) > limit {
		return ps[:limit]
	}
	return ps
}
