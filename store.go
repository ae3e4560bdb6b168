package main

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// pgStore is the Postgres-backed matchStore. All SQL touching profiles,
// user_instruments and matches for the engine goes through here.
type pgStore struct {
	db *sql.DB
}

func newPgStore(db *sql.DB) *pgStore {
	return &pgStore{db: db}
}

func (s *pgStore) GetProfile(ctx context.Context, userID int) (*Profile, error) {
	var p Profile
	var lat, lon sql.NullFloat64
	var maxDist sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, COALESCE(description, ''), location_lat, location_lon, max_distance
		FROM profiles
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.Description, &lat, &lon, &maxDist)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	// A profile without coordinates or a positive radius is incomplete and
	// invisible to matching.
	if !lat.Valid || !lon.Valid || !maxDist.Valid || maxDist.Int64 <= 0 {
		return nil, nil
	}
	p.Lat = lat.Float64
	p.Lon = lon.Float64
	p.MaxDistance = int(maxDist.Int64)
	return &p, nil
}

func (s *pgStore) GetInstruments(ctx context.Context, userID int) ([]UserInstrument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ui.id, ui.user_id, ui.instrument_id, ui.standard_id,
		       COALESCE(array_agg(DISTINCT d.instrument_id) FILTER (WHERE d.instrument_id IS NOT NULL), '{}'),
		       COALESCE(array_agg(DISTINCT a.standard_id)   FILTER (WHERE a.standard_id   IS NOT NULL), '{}')
		FROM user_instruments ui
		LEFT JOIN user_instrument_desired d  ON d.user_instrument_id = ui.id
		LEFT JOIN user_instrument_accepted a ON a.user_instrument_id = ui.id
		WHERE ui.user_id = $1
		GROUP BY ui.id
		ORDER BY ui.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []UserInstrument
	for rows.Next() {
		var ui UserInstrument
		var desired, accepted []int64
		if err := rows.Scan(&ui.ID, &ui.UserID, &ui.Instrument, &ui.Standard,
			pq.Array(&desired), pq.Array(&accepted)); err != nil {
			return nil, err
		}
		ui.Desired = toIntSlice(desired)
		ui.Accepted = toIntSlice(accepted)
		prefs = append(prefs, ui)
	}
	return prefs, rows.Err()
}

func toIntSlice(in []int64) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

func (s *pgStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, COALESCE(description, ''), location_lat, location_lon, max_distance
		FROM profiles
		WHERE location_lat IS NOT NULL AND location_lon IS NOT NULL AND max_distance > 0
		ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.UserID, &p.Description, &p.Lat, &p.Lon, &p.MaxDistance); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *pgStore) matchesWhere(ctx context.Context, column string, userID int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requesting_user, requesting_instrument, found_user, found_instrument,
		       known, mark_new, created_at
		FROM matches
		WHERE `+column+` = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.RequestingUser, &m.RequestingInstrument,
			&m.FoundUser, &m.FoundInstrument, &m.Known, &m.MarkNew, &m.CreatedAt); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *pgStore) MatchesByRequester(ctx context.Context, userID int) ([]Match, error) {
	return s.matchesWhere(ctx, "requesting_user", userID)
}

func (s *pgStore) MatchesByFound(ctx context.Context, userID int) ([]Match, error) {
	return s.matchesWhere(ctx, "found_user", userID)
}

func (s *pgStore) OutgoingMatches(ctx context.Context, userID int) ([]Match, error) {
	return s.matchesWhere(ctx, "requesting_user", userID)
}

// InsertMatch creates a fresh, unseen match. The table's UNIQUE constraint
// backs up the reconciler's diff: a duplicate insert means an engine bug and
// surfaces as a hard error rather than a silent second row.
func (s *pgStore) InsertMatch(ctx context.Context, key edgeKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (requesting_user, requesting_instrument, found_user, found_instrument)
		VALUES ($1, $2, $3, $4)
	`, key.requestingUser, key.requestingInstrument, key.foundUser, key.foundInstrument)
	return err
}

func (s *pgStore) DeleteMatch(ctx context.Context, key edgeKey) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM matches
		WHERE requesting_user = $1 AND requesting_instrument = $2
		  AND found_user = $3 AND found_instrument = $4
	`, key.requestingUser, key.requestingInstrument, key.foundUser, key.foundInstrument)
	return err
}

// AdvanceNotification moves the match one step through
// unseen -> known -> settled in a single statement, so concurrent views of
// the same list cannot skip a state. Both CASE arms read the row's old
// values, which is exactly the one-step-per-view rule.
func (s *pgStore) AdvanceNotification(ctx context.Context, matchID int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE matches
		SET known    = CASE WHEN NOT known THEN TRUE ELSE known END,
		    mark_new = CASE WHEN known AND mark_new THEN FALSE ELSE mark_new END
		WHERE id = $1
	`, matchID)
	return err
}
