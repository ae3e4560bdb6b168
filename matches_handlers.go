package main

import (
	"log"
	"net/http"
)

type matchResponse struct {
	ID                   int     `json:"id"`
	FoundUser            int     `json:"found_user"`
	FoundInstrument      int     `json:"found_instrument"`
	RequestingInstrument int     `json:"requesting_instrument"`
	Distance             float64 `json:"distance_miles"`
	MarkNew              bool    `json:"mark_new"`
}

// GET /matches - the user's match list, nearest first. Viewing the list is
// what drives the notification lifecycle: every returned match is advanced
// one step, so a match is highlighted as new for exactly one visit after the
// one that revealed it.
func matchesHandler(engine *matchEngine) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		views, err := engine.ViewMatches(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "match_error")
			log.Println("Error listing matches:", err)
			return
		}

		out := make([]matchResponse, 0, len(views))
		for _, v := range views {
			out = append(out, matchResponse{
				ID:                   v.ID,
				FoundUser:            v.FoundUser,
				FoundInstrument:      v.FoundInstrument,
				RequestingInstrument: v.RequestingInstrument,
				Distance:             v.Distance,
				MarkNew:              v.MarkNew,
			})
		}
		writeJSON(w, http.StatusOK, map[string][]matchResponse{"matches": out})
	})
}

// GET /matches/new - count of matches the user has not seen yet, for the
// navbar badge. Reading the count does not advance any notification state.
func newMatchCountHandler(engine *matchEngine) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		count, err := engine.NewMatchCount(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "match_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"new_matches": count})
	})
}
