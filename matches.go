package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// matchStore is what the match engine needs from persistence: the profile
// and instrument data it reads, and the match rows it owns. The Postgres
// implementation lives in store.go.
type matchStore interface {
	// GetProfile returns nil (and no error) when the user has no completed
	// profile. An incomplete profile is a valid state, not an error.
	GetProfile(ctx context.Context, userID int) (*Profile, error)
	GetInstruments(ctx context.Context, userID int) ([]UserInstrument, error)
	// ListProfiles returns every completed profile, including the caller's.
	ListProfiles(ctx context.Context) ([]Profile, error)

	MatchesByRequester(ctx context.Context, userID int) ([]Match, error)
	MatchesByFound(ctx context.Context, userID int) ([]Match, error)
	InsertMatch(ctx context.Context, key edgeKey) error
	DeleteMatch(ctx context.Context, key edgeKey) error

	// OutgoingMatches returns matches requested by userID in creation order.
	OutgoingMatches(ctx context.Context, userID int) ([]Match, error)
	// AdvanceNotification applies at most one notification transition to the
	// match, atomically: unseen -> known, then known+new -> settled.
	AdvanceNotification(ctx context.Context, matchID int) error
}

// changeFlags says which parts of a user's profile just changed. At least
// one flag should be set for a reconcile to do anything useful, but a
// no-flag call is simply a no-op.
type changeFlags struct {
	location    bool
	radius      bool
	instruments bool
}

func (c changeFlags) any() bool { return c.location || c.radius || c.instruments }

// matchEngine recomputes the directed match edges affected by one user's
// profile change and keeps the stored set in sync. All writes for a given
// user go through that user's lock: pass A only touches rows with
// requesting_user = U and pass B only rows with found_user = U, so edges
// written during a reconcile of U are never written by a concurrent
// reconcile of another user.
type matchEngine struct {
	store matchStore

	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func newMatchEngine(store matchStore) *matchEngine {
	return &matchEngine{
		store: store,
		locks: make(map[int]*sync.Mutex),
	}
}

func (e *matchEngine) userLock(userID int) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// Reconcile recomputes the match edges that user U's profile change could
// have affected, in two independent passes:
//
//   - Pass A (U as requester) runs on any change, because location, radius
//     and instruments all feed into who U would match with.
//   - Pass B (U as found party) runs only on location or instrument changes.
//     Other users search under their own radii, so U changing their radius
//     cannot change how anyone else sees U.
//
// Both passes diff a freshly computed desired edge set against the stored
// rows keyed by U, creating what is missing and deleting what is stale.
// Edges present in both keep their row untouched, preserving notification
// state. Running Reconcile twice with no data change in between is a no-op
// the second time.
func (e *matchEngine) Reconcile(ctx context.Context, userID int, change changeFlags) error {
	if !change.any() {
		return nil
	}

	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	// Pass A: U as requester.
	desired, err := e.desiredOutgoing(ctx, userID)
	if err != nil {
		return fmt.Errorf("outgoing matches for user %d: %w", userID, err)
	}
	stored, err := e.store.MatchesByRequester(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.applyDiff(ctx, desired, stored); err != nil {
		return err
	}

	// Pass B: U as found party, skipped on a radius-only change.
	if change.location || change.instruments {
		desired, err = e.desiredIncoming(ctx, userID)
		if err != nil {
			return fmt.Errorf("incoming matches for user %d: %w", userID, err)
		}
		stored, err = e.store.MatchesByFound(ctx, userID)
		if err != nil {
			return err
		}
		if err := e.applyDiff(ctx, desired, stored); err != nil {
			return err
		}
	}
	return nil
}

// compatible reports whether the owner of p would take the owner of q as a
// partner: q's instrument must be one p is looking for, and q's standard one
// p accepts. Deliberately one-directional; the reverse edge is judged with
// the arguments swapped.
func compatible(p, q UserInstrument) bool {
	return containsID(p.Desired, q.Instrument) && containsID(p.Accepted, q.Standard)
}

func containsID(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// desiredOutgoing computes every edge user U should currently be requesting:
// candidates inside U's own radius, one edge per compatible instrument pair.
func (e *matchEngine) desiredOutgoing(ctx context.Context, userID int) (map[edgeKey]struct{}, error) {
	desired := make(map[edgeKey]struct{})

	prof, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if prof == nil {
		// No completed profile: U requests nothing; the diff will clear any
		// leftover outgoing edges.
		return desired, nil
	}
	prefs, err := e.store.GetInstruments(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(prefs) == 0 {
		return desired, nil
	}

	others, err := e.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, cand := range others {
		if cand.UserID == userID {
			continue
		}
		if haversineMiles(prof.Lat, prof.Lon, cand.Lat, cand.Lon) > float64(prof.MaxDistance) {
			continue
		}
		candPrefs, err := e.store.GetInstruments(ctx, cand.UserID)
		if err != nil {
			return nil, err
		}
		for _, p := range prefs {
			for _, q := range candPrefs {
				if compatible(p, q) {
					desired[edgeKey{userID, p.ID, cand.UserID, q.ID}] = struct{}{}
				}
			}
		}
	}
	return desired, nil
}

// desiredIncoming computes every edge in which U should currently be the
// found party. Each searcher applies their own radius to U's location; U's
// own radius plays no part here.
func (e *matchEngine) desiredIncoming(ctx context.Context, userID int) (map[edgeKey]struct{}, error) {
	desired := make(map[edgeKey]struct{})

	prof, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if prof == nil {
		return desired, nil
	}
	prefs, err := e.store.GetInstruments(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(prefs) == 0 {
		return desired, nil
	}

	searchers, err := e.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, searcher := range searchers {
		if searcher.UserID == userID {
			continue
		}
		if haversineMiles(searcher.Lat, searcher.Lon, prof.Lat, prof.Lon) > float64(searcher.MaxDistance) {
			continue
		}
		searcherPrefs, err := e.store.GetInstruments(ctx, searcher.UserID)
		if err != nil {
			return nil, err
		}
		for _, q := range searcherPrefs {
			for _, p := range prefs {
				if compatible(q, p) {
					desired[edgeKey{searcher.UserID, q.ID, userID, p.ID}] = struct{}{}
				}
			}
		}
	}
	return desired, nil
}

// applyDiff brings the stored rows in line with the desired set. The diff
// runs over full four-tuple identities rather than re-checking stored rows
// one by one, so an edge whose underlying preference was deleted outright
// still falls out of the desired set and gets removed.
func (e *matchEngine) applyDiff(ctx context.Context, desired map[edgeKey]struct{}, stored []Match) error {
	have := make(map[edgeKey]struct{}, len(stored))
	for _, m := range stored {
		k := m.key()
		if _, ok := desired[k]; !ok {
			if err := e.store.DeleteMatch(ctx, k); err != nil {
				return err
			}
			continue
		}
		have[k] = struct{}{}
	}

	missing := make([]edgeKey, 0, len(desired))
	for k := range desired {
		if _, ok := have[k]; !ok {
			missing = append(missing, k)
		}
	}
	// Deterministic creation order keeps repeated runs and the id-based tie
	// break in listings reproducible.
	sort.Slice(missing, func(i, j int) bool {
		a, b := missing[i], missing[j]
		if a.foundUser != b.foundUser {
			return a.foundUser < b.foundUser
		}
		if a.requestingInstrument != b.requestingInstrument {
			return a.requestingInstrument < b.requestingInstrument
		}
		return a.foundInstrument < b.foundInstrument
	})
	for _, k := range missing {
		if err := e.store.InsertMatch(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// MatchView is one row of a user's match list: the stored edge plus the
// current distance to the found user. Distance is negative when the found
// user's profile has gone incomplete since the edge was created; such rows
// sort last.
type MatchView struct {
	Match
	Distance float64
}

// ListOutgoing returns the user's matches sorted by distance ascending,
// ties broken by creation order.
func (e *matchEngine) ListOutgoing(ctx context.Context, userID int) ([]MatchView, error) {
	prof, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	matches, err := e.store.OutgoingMatches(ctx, userID)
	if err != nil {
		return nil, err
	}
	profiles, err := e.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	byUser := make(map[int]Profile, len(profiles))
	for _, p := range profiles {
		byUser[p.UserID] = p
	}

	views := make([]MatchView, 0, len(matches))
	for _, m := range matches {
		v := MatchView{Match: m, Distance: -1}
		if found, ok := byUser[m.FoundUser]; ok && prof != nil {
			v.Distance = haversineMiles(prof.Lat, prof.Lon, found.Lat, found.Lon)
		}
		views = append(views, v)
	}
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if (a.Distance < 0) != (b.Distance < 0) {
			return b.Distance < 0
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.ID < b.ID
	})
	return views, nil
}

// ViewMatches returns the same list as ListOutgoing and, as a side effect,
// advances the notification state of every returned edge by one step. The
// returned rows reflect the state after the transition.
func (e *matchEngine) ViewMatches(ctx context.Context, userID int) ([]MatchView, error) {
	views, err := e.ListOutgoing(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range views {
		if err := e.store.AdvanceNotification(ctx, views[i].ID); err != nil {
			return nil, err
		}
		switch {
		case !views[i].Known:
			views[i].Known = true
		case views[i].MarkNew:
			views[i].MarkNew = false
		}
	}
	return views, nil
}

// NewMatchCount is the "you have new matches" badge: the number of outgoing
// edges the user has not been shown yet.
func (e *matchEngine) NewMatchCount(ctx context.Context, userID int) (int, error) {
	matches, err := e.store.OutgoingMatches(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range matches {
		if !m.Known {
			n++
		}
	}
	return n, nil
}
