package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
)

// GET /me/profile and PUT /me/profile.
// A successful PUT works out which change flags apply by comparing the old
// row, then hands the user to the match engine for reconciliation.
func meProfileHandler(db *sql.DB, engine *matchEngine) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		switch r.Method {
		case http.MethodGet:
			var description string
			var lat, lon sql.NullFloat64
			var maxDist sql.NullInt64
			err := db.QueryRow(`
				SELECT COALESCE(description, ''), location_lat, location_lon, max_distance
				FROM profiles WHERE user_id = $1
			`, userID).Scan(&description, &lat, &lon, &maxDist)
			if err == sql.ErrNoRows {
				writeError(w, http.StatusNotFound, "profile_not_found")
				return
			} else if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			resp := map[string]interface{}{
				"id":          userID,
				"description": description,
			}
			if lat.Valid {
				resp["location_lat"] = lat.Float64
			}
			if lon.Valid {
				resp["location_lon"] = lon.Float64
			}
			if maxDist.Valid && maxDist.Int64 > 0 {
				resp["max_distance"] = maxDist.Int64
			}
			resp["is_complete"] = lat.Valid && lon.Valid && maxDist.Valid && maxDist.Int64 > 0
			writeJSON(w, http.StatusOK, resp)

		case http.MethodPut:
			type ProfileRequest struct {
				Description string  `json:"description"`
				LocationLat float64 `json:"location_lat"`
				LocationLon float64 `json:"location_lon"`
				MaxDistance int     `json:"max_distance"`
			}
			var req ProfileRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_json")
				return
			}
			if req.MaxDistance <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_max_distance")
				return
			}
			if req.LocationLat < -90 || req.LocationLat > 90 || req.LocationLon < -180 || req.LocationLon > 180 {
				writeError(w, http.StatusBadRequest, "invalid_coordinates")
				return
			}

			// Read the old row first so we only reconcile what changed.
			var oldLat, oldLon sql.NullFloat64
			var oldDist sql.NullInt64
			err := db.QueryRow(`
				SELECT location_lat, location_lon, max_distance FROM profiles WHERE user_id = $1
			`, userID).Scan(&oldLat, &oldLon, &oldDist)
			hadRow := err == nil
			if err != nil && err != sql.ErrNoRows {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}

			_, err = db.Exec(`
				INSERT INTO profiles (user_id, description, location_lat, location_lon, max_distance, updated_at)
				VALUES ($1, $2, $3, $4, $5, NOW())
				ON CONFLICT (user_id) DO UPDATE SET
					description  = EXCLUDED.description,
					location_lat = EXCLUDED.location_lat,
					location_lon = EXCLUDED.location_lon,
					max_distance = EXCLUDED.max_distance,
					updated_at   = NOW()
			`, userID, req.Description, req.LocationLat, req.LocationLon, req.MaxDistance)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "profile_save_error")
				log.Println("Error saving profile:", err)
				return
			}

			change := changeFlags{
				location: !hadRow || !oldLat.Valid || !oldLon.Valid ||
					oldLat.Float64 != req.LocationLat || oldLon.Float64 != req.LocationLon,
				radius: !hadRow || !oldDist.Valid || int(oldDist.Int64) != req.MaxDistance,
			}
			if change.any() {
				if err := engine.Reconcile(r.Context(), userID, change); err != nil {
					// The profile is saved; matches catch up on the next edit.
					log.Println("Error reconciling matches after profile save:", err)
				}
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}

// GET /me/instruments and PUT /me/instruments.
// PUT replaces the user's whole instrument list, each entry with its desired
// and accepted sets, then reconciles with instruments_changed.
func meInstrumentsHandler(db *sql.DB, engine *matchEngine) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		switch r.Method {
		case http.MethodGet:
			prefs, err := newPgStore(db).GetInstruments(r.Context(), userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			out := make([]map[string]interface{}, 0, len(prefs))
			for _, p := range prefs {
				out = append(out, map[string]interface{}{
					"id":                  p.ID,
					"instrument_id":       p.Instrument,
					"standard_id":         p.Standard,
					"desired_instruments": p.Desired,
					"accepted_standards":  p.Accepted,
				})
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"instruments": out})

		case http.MethodPut:
			type InstrumentEntry struct {
				InstrumentID int   `json:"instrument_id"`
				StandardID   int   `json:"standard_id"`
				Desired      []int `json:"desired_instruments"`
				Accepted     []int `json:"accepted_standards"`
			}
			var req struct {
				Instruments []InstrumentEntry `json:"instruments"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_json")
				return
			}

			err := withTx(r.Context(), db, func(tx *sql.Tx) error {
				// Whole-unit replacement: drop the old entries (cascades take
				// the desired/accepted rows and any matches referencing them)
				// and insert the new list.
				if _, err := tx.Exec(`DELETE FROM user_instruments WHERE user_id = $1`, userID); err != nil {
					return err
				}
				for _, entry := range req.Instruments {
					var uiID int
					err := tx.QueryRow(`
						INSERT INTO user_instruments (user_id, instrument_id, standard_id)
						VALUES ($1, $2, $3) RETURNING id
					`, userID, entry.InstrumentID, entry.StandardID).Scan(&uiID)
					if err != nil {
						return err
					}
					for _, instID := range entry.Desired {
						if _, err := tx.Exec(`
							INSERT INTO user_instrument_desired (user_instrument_id, instrument_id)
							VALUES ($1, $2) ON CONFLICT DO NOTHING
						`, uiID, instID); err != nil {
							return err
						}
					}
					for _, stdID := range entry.Accepted {
						if _, err := tx.Exec(`
							INSERT INTO user_instrument_accepted (user_instrument_id, standard_id)
							VALUES ($1, $2) ON CONFLICT DO NOTHING
						`, uiID, stdID); err != nil {
							return err
						}
					}
				}
				return nil
			})
			if err != nil {
				writeError(w, http.StatusBadRequest, "instruments_save_error")
				log.Println("Error saving instruments:", err)
				return
			}

			if err := engine.Reconcile(r.Context(), userID, changeFlags{instruments: true}); err != nil {
				log.Println("Error reconciling matches after instrument save:", err)
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}

// GET /instruments - lookup list for the profile form
func instrumentsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		rows, err := db.Query(`SELECT id, name FROM instruments ORDER BY name`)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()
		var list []Instrument
		for rows.Next() {
			var inst Instrument
			if rows.Scan(&inst.ID, &inst.Name) == nil {
				list = append(list, inst)
			}
		}
		writeJSON(w, http.StatusOK, map[string][]Instrument{"instruments": list})
	})
}

// GET /standards - lookup list, ordered beginner first
func standardsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		rows, err := db.Query(`SELECT id, name, rank FROM standards ORDER BY rank`)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()
		var list []Standard
		for rows.Next() {
			var std Standard
			if rows.Scan(&std.ID, &std.Name, &std.Rank) == nil {
				list = append(list, std)
			}
		}
		writeJSON(w, http.StatusOK, map[string][]Standard{"standards": list})
	})
}

// GET /users/{id} - minimal public summary, enough for the match list UI
func userHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 || parts[0] != "users" {
			http.NotFound(w, r)
			return
		}
		targetID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		username, description, err := fetchBasicUserInfo(db, targetID)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":          targetID,
			"username":    username,
			"description": description,
		})
	})
}
