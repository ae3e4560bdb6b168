package main

import (
	"log"
	"net/http"
	"os"
)

// JWT secret from environment variable or fallback
func getJWTSecret() []byte {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return []byte(secret)
	}
	return []byte("your_secret_key_please_change_in_production")
}

var jwtSecret = getJWTSecret()

func main() {
	initDB()

	engine := newMatchEngine(newPgStore(db))

	mux := http.NewServeMux()

	// Core auth endpoints
	mux.Handle("/register", registerHandler(db))
	mux.Handle("/login", loginHandler(db))

	// Profile & instrument preferences; saving either reconciles matches
	mux.Handle("/me/profile", meProfileHandler(db, engine))
	mux.Handle("/me/instruments", meInstrumentsHandler(db, engine))

	// Lookup lists for the profile form
	mux.Handle("/instruments", instrumentsHandler(db))
	mux.Handle("/standards", standardsHandler(db))

	// Matches: viewing the list advances the new-match notification state
	mux.Handle("/matches", matchesHandler(engine))
	mux.Handle("/matches/new", newMatchCountHandler(engine))

	// Minimal public user summaries for the match list
	mux.Handle("/users/", userHandler(db))

	// Direct messaging between matched users
	mux.Handle("/ws/messages", wsMessagesHandler(db))
	mux.Handle("/messages/summary", messagesSummaryHandler(db))
	mux.Handle("/messages/", messageHistoryHandler(db))

	// Health check endpoint for Docker
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Default().Println("Starting Chamber Mates backend on port " + port + "...")
	http.ListenAndServe(":"+port, withCORS(mux))
}
