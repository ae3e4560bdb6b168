package main

import "time"

// Profile holds the matching-relevant part of a user's profile: where they
// are and how far they are willing to travel (miles). A profile missing
// either coordinate or a positive max distance is incomplete and takes no
// part in matching.
type Profile struct {
	UserID      int
	Description string
	Lat         float64
	Lon         float64
	MaxDistance int
}

// UserInstrument is one instrument a user plays, together with what they
// want from a partner on that instrument. Desired and Accepted are replaced
// as a whole unit whenever the user edits the entry.
type UserInstrument struct {
	ID         int
	UserID     int
	Instrument int
	Standard   int
	Desired    []int // instrument ids the owner wants a partner to play
	Accepted   []int // standard ids the owner will accept
}

// Match is a directed compatibility fact: FoundUser (on FoundInstrument)
// satisfies RequestingUser's criteria for RequestingInstrument. The reverse
// direction is a separate row, judged under the other user's radius and
// acceptance sets.
//
// Known and MarkNew drive the notification lifecycle: a fresh match is
// (false, true), the first viewing makes it (true, true) so it is still
// highlighted once, the second settles it at (true, false).
type Match struct {
	ID                   int
	RequestingUser       int
	RequestingInstrument int
	FoundUser            int
	FoundInstrument      int
	Known                bool
	MarkNew              bool
	CreatedAt            time.Time
}

// edgeKey is the composite identity of a match row. No two stored matches
// may share all four components.
type edgeKey struct {
	requestingUser       int
	requestingInstrument int
	foundUser            int
	foundInstrument      int
}

func (m Match) key() edgeKey {
	return edgeKey{
		requestingUser:       m.RequestingUser,
		requestingInstrument: m.RequestingInstrument,
		foundUser:            m.FoundUser,
		foundInstrument:      m.FoundInstrument,
	}
}

// Instrument and Standard are the admin-seeded lookup tables users pick
// from. Standards carry a rank so the UI can list them from beginner up.
type Instrument struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Standard struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}
