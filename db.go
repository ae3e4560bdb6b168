package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // PostgreSQL driver
)

var db *sql.DB

func initDB() {
	// A local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		connStr = "user=admin password=password dbname=chambermates sslmode=disable"
		log.Default().Println("Warning: DATABASE_URL not set, using default connection string")
	}

	var err error
	db, err = sql.Open("postgres", connStr)
	if err != nil {
		log.Fatal("Error connecting to the database:", err)
	}
	err = db.Ping()
	if err != nil {
		log.Fatal("Cannot reach the database:", err)
	}
	log.Default().Println("Database connection established successfully")

	if err := ensureSchema(db); err != nil {
		log.Fatal("Error initializing database schema:", err)
	}
}

// ensureSchema creates the tables and seeds the lookup data on first run, so
// a fresh database needs no manual setup before the server starts.
func ensureSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            SERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS profiles (
	user_id      INT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	description  TEXT,
	location_lat DOUBLE PRECISION,
	location_lon DOUBLE PRECISION,
	max_distance INT NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS instruments (
	id   SERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS standards (
	id   SERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	rank INT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_instruments (
	id            SERIAL PRIMARY KEY,
	user_id       INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	instrument_id INT NOT NULL REFERENCES instruments(id),
	standard_id   INT NOT NULL REFERENCES standards(id)
);

CREATE TABLE IF NOT EXISTS user_instrument_desired (
	user_instrument_id INT NOT NULL REFERENCES user_instruments(id) ON DELETE CASCADE,
	instrument_id      INT NOT NULL REFERENCES instruments(id),
	PRIMARY KEY (user_instrument_id, instrument_id)
);

CREATE TABLE IF NOT EXISTS user_instrument_accepted (
	user_instrument_id INT NOT NULL REFERENCES user_instruments(id) ON DELETE CASCADE,
	standard_id        INT NOT NULL REFERENCES standards(id),
	PRIMARY KEY (user_instrument_id, standard_id)
);

CREATE TABLE IF NOT EXISTS matches (
	id                    SERIAL PRIMARY KEY,
	requesting_user       INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	requesting_instrument INT NOT NULL REFERENCES user_instruments(id) ON DELETE CASCADE,
	found_user            INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	found_instrument      INT NOT NULL REFERENCES user_instruments(id) ON DELETE CASCADE,
	known                 BOOLEAN NOT NULL DEFAULT FALSE,
	mark_new              BOOLEAN NOT NULL DEFAULT TRUE,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (requesting_user, requesting_instrument, found_user, found_instrument)
);

CREATE INDEX IF NOT EXISTS matches_by_requester ON matches (requesting_user);
CREATE INDEX IF NOT EXISTS matches_by_found     ON matches (found_user);

CREATE TABLE IF NOT EXISTS messages (
	id           SERIAL PRIMARY KEY,
	sender_id    INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	recipient_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	content      TEXT NOT NULL,
	is_read      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS messages_by_pair ON messages (sender_id, recipient_id, created_at);
`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	// Lookup values users pick from when filling in their profile. Kept in
	// the database (not code) so admins can extend the lists later.
	for _, name := range []string{"violin", "viola", "cello", "double bass", "piano", "flute", "clarinet", "oboe", "bassoon", "horn", "guitar", "voice"} {
		if _, err := db.Exec(`INSERT INTO instruments (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
			return err
		}
	}
	seedStandards := []struct {
		name string
		rank int
	}{
		{"beginner", 1},
		{"intermediate", 2},
		{"good", 3},
		{"advanced", 4},
		{"professional", 5},
	}
	for _, s := range seedStandards {
		if _, err := db.Exec(`INSERT INTO standards (name, rank) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`, s.name, s.rank); err != nil {
			return err
		}
	}
	return nil
}
