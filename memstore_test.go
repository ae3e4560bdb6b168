package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory matchStore so the engine tests run without
// Postgres. Semantics mirror pgStore: incomplete profiles are invisible,
// match ids are assigned in insertion order, duplicate inserts fail.
type memStore struct {
	mu          sync.Mutex
	profiles    map[int]Profile
	instruments map[int][]UserInstrument
	matches     map[edgeKey]*Match
	nextMatchID int
}

func newMemStore() *memStore {
	return &memStore{
		profiles:    make(map[int]Profile),
		instruments: make(map[int][]UserInstrument),
		matches:     make(map[edgeKey]*Match),
		nextMatchID: 1,
	}
}

func (s *memStore) setProfile(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

func (s *memStore) removeProfile(userID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
}

func (s *memStore) setInstruments(userID int, prefs ...UserInstrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[userID] = prefs
}

func (s *memStore) GetProfile(ctx context.Context, userID int) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok || p.MaxDistance <= 0 {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) GetInstruments(ctx context.Context, userID int) ([]UserInstrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]UserInstrument(nil), s.instruments[userID]...), nil
}

func (s *memStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Profile
	for _, p := range s.profiles {
		if p.MaxDistance > 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memStore) matchesIf(keep func(Match) bool) []Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Match
	for _, m := range s.matches {
		if keep(*m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) MatchesByRequester(ctx context.Context, userID int) ([]Match, error) {
	return s.matchesIf(func(m Match) bool { return m.RequestingUser == userID }), nil
}

func (s *memStore) MatchesByFound(ctx context.Context, userID int) ([]Match, error) {
	return s.matchesIf(func(m Match) bool { return m.FoundUser == userID }), nil
}

func (s *memStore) OutgoingMatches(ctx context.Context, userID int) ([]Match, error) {
	return s.MatchesByRequester(ctx, userID)
}

func (s *memStore) InsertMatch(ctx context.Context, key edgeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.matches[key]; exists {
		return fmt.Errorf("duplicate match %+v", key)
	}
	s.matches[key] = &Match{
		ID:                   s.nextMatchID,
		RequestingUser:       key.requestingUser,
		RequestingInstrument: key.requestingInstrument,
		FoundUser:            key.foundUser,
		FoundInstrument:      key.foundInstrument,
		Known:                false,
		MarkNew:              true,
		CreatedAt:            time.Now(),
	}
	s.nextMatchID++
	return nil
}

func (s *memStore) DeleteMatch(ctx context.Context, key edgeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.matches, key)
	return nil
}

func (s *memStore) AdvanceNotification(ctx context.Context, matchID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.ID != matchID {
			continue
		}
		switch {
		case !m.Known:
			m.Known = true
		case m.MarkNew:
			m.MarkNew = false
		}
		return nil
	}
	return nil
}

func (s *memStore) get(key edgeKey) (Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[key]
	if !ok {
		return Match{}, false
	}
	return *m, true
}

func (s *memStore) allMatches() []Match {
	return s.matchesIf(func(Match) bool { return true })
}

// countingStore wraps a matchStore and counts edge writes and pass-B reads,
// for idempotence and pass-skipping assertions.
type countingStore struct {
	matchStore
	inserts    int
	deletes    int
	foundReads int
}

func (c *countingStore) InsertMatch(ctx context.Context, key edgeKey) error {
	c.inserts++
	return c.matchStore.InsertMatch(ctx, key)
}

func (c *countingStore) DeleteMatch(ctx context.Context, key edgeKey) error {
	c.deletes++
	return c.matchStore.DeleteMatch(ctx, key)
}

func (c *countingStore) MatchesByFound(ctx context.Context, userID int) ([]Match, error) {
	c.foundReads++
	return c.matchStore.MatchesByFound(ctx, userID)
}

func (c *countingStore) reset() {
	c.inserts, c.deletes, c.foundReads = 0, 0, 0
}
