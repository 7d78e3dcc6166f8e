package statestore

import (
	"context"
	"sort"
	"sync"
)

// Serialized form of the full state, as held in memory and written out by FileStore.
type snapshot struct {
	Bans   map[string]BanRecord      `json:"bans"`
	Counts map[string]map[string]int `json:"counts"`
	Former map[string]string         `json:"former_members"`
	Mutes  map[string]MuteRecord     `json:"mutes"`
}

func newSnapshot() snapshot {
	return snapshot{
		Bans:   make(map[string]BanRecord),
		Counts: make(map[string]map[string]int),
		Former: make(map[string]string),
		Mutes:  make(map[string]MuteRecord),
	}
}

// fills in any maps missing from a decoded snapshot
func (s *snapshot) init() {
	if s.Bans == nil {
		s.Bans = make(map[string]BanRecord)
	}
	if s.Counts == nil {
		s.Counts = make(map[string]map[string]int)
	}
	if s.Former == nil {
		s.Former = make(map[string]string)
	}
	if s.Mutes == nil {
		s.Mutes = make(map[string]MuteRecord)
	}
}

// In-memory Store. Safe for concurrent use.
type MemStore struct {
	mu    sync.Mutex
	state snapshot
	// called with the lock held after every mutation
	persist func(*snapshot) error
}

func NewMemStore() *MemStore {
	return &MemStore{
		state: newSnapshot(),
	}
}

func (s *MemStore) mutate(fn func(st *snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	if s.persist != nil {
		return s.persist(&s.state)
	}
	return nil
}

func (s *MemStore) GetBan(ctx context.Context, userID string) (*BanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.Bans[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemStore) PutBan(ctx context.Context, rec BanRecord) error {
	return s.mutate(func(st *snapshot) {
		st.Bans[rec.UserID] = rec
	})
}

func (s *MemStore) DeleteBan(ctx context.Context, userID string) error {
	return s.mutate(func(st *snapshot) {
		delete(st.Bans, userID)
	})
}

func (s *MemStore) ListBans(ctx context.Context) ([]BanRecord, error) {
	s.mu.Lock()
	out := make([]BanRecord, 0, len(s.state.Bans))
	for _, rec := range s.state.Bans {
		out = append(out, rec)
	}
	s.mu.Unlock()
	sortBans(out)
	return out, nil
}

func (s *MemStore) GetCount(ctx context.Context, name, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Counts[name][userID], nil
}

func (s *MemStore) IncrementCount(ctx context.Context, name, userID string) (int, error) {
	var v int
	err := s.mutate(func(st *snapshot) {
		m, ok := st.Counts[name]
		if !ok {
			m = make(map[string]int)
			st.Counts[name] = m
		}
		v = m[userID] + 1
		m[userID] = v
	})
	return v, err
}

func (s *MemStore) ResetCount(ctx context.Context, name, userID string) error {
	return s.mutate(func(st *snapshot) {
		delete(st.Counts[name], userID)
	})
}

func (s *MemStore) PutFormerMember(ctx context.Context, key, nickname string) error {
	return s.mutate(func(st *snapshot) {
		st.Former[key] = nickname
	})
}

func (s *MemStore) DeleteFormerMember(ctx context.Context, key string) error {
	return s.mutate(func(st *snapshot) {
		delete(st.Former, key)
	})
}

func (s *MemStore) ListFormerMembers(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.state.Former))
	for k, v := range s.state.Former {
		out[k] = v
	}
	return out, nil
}

func (s *MemStore) PutMute(ctx context.Context, rec MuteRecord) error {
	return s.mutate(func(st *snapshot) {
		st.Mutes[rec.UserID] = rec
	})
}

func (s *MemStore) DeleteMute(ctx context.Context, userID string) error {
	return s.mutate(func(st *snapshot) {
		delete(st.Mutes, userID)
	})
}

func (s *MemStore) ListMutes(ctx context.Context) ([]MuteRecord, error) {
	s.mu.Lock()
	out := make([]MuteRecord, 0, len(s.state.Mutes))
	for _, rec := range s.state.Mutes {
		out = append(out, rec)
	}
	s.mu.Unlock()
	sortMutes(out)
	return out, nil
}

func sortBans(bans []BanRecord) {
	sort.Slice(bans, func(i, j int) bool {
		if !bans[i].CreatedAt.Equal(bans[j].CreatedAt) {
			return bans[i].CreatedAt.Before(bans[j].CreatedAt)
		}
		return bans[i].UserID < bans[j].UserID
	})
}

func sortMutes(mutes []MuteRecord) {
	sort.Slice(mutes, func(i, j int) bool {
		return mutes[i].UserID < mutes[j].UserID
	})
}
