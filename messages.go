package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DirectMessage is one message between two users who have matched.
type DirectMessage struct {
	ID     int64     `json:"id"`
	Type   string    `json:"type"` // "message"
	From   int       `json:"from"`
	To     int       `json:"to,omitempty"`
	Body   string    `json:"body,omitempty"`
	Ts     time.Time `json:"ts"`
	IsRead bool      `json:"is_read"`
}

// ServerEvent represents a server-sent event
type ServerEvent struct {
	Type string `json:"type"` // "message" | "info" | "error"
	From int    `json:"from,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	userID int
	conn   *websocket.Conn
	send   chan ServerEvent
	db     *sql.DB
}

// Hub manages WebSocket client connections
type Hub struct {
	clientsByUser map[int]map[*Client]bool
	mu            sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clientsByUser: make(map[int]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.clientsByUser[c.userID]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.clientsByUser, c.userID)
		}
	}
}

func (h *Hub) sendToUser(userID int, evt ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if peers, ok := h.clientsByUser[userID]; ok {
		for c := range peers {
			select {
			case c.send <- evt:
			default:
				// Drop message if user's buffer is full
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// For development: allow the Vite dev origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// global hub
var messageHub = newHub()

// WS /ws/messages - live delivery of direct messages between matched users.
func wsMessagesHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromRequest(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WS upgrade error for user %d: %v", userID, err)
			return
		}

		client := &Client{
			userID: userID,
			conn:   conn,
			send:   make(chan ServerEvent, 16),
			db:     db,
		}
		messageHub.register(client)

		// Announce connection to this client
		client.send <- ServerEvent{Type: "info", Data: "connected"}

		// Start writer
		go clientWriter(client)
		// Start reader (blocks)
		clientReader(client)
	}
}

func clientReader(c *Client) {
	defer func() {
		messageHub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg DirectMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.send <- ServerEvent{Type: "error", Data: "invalid message format"}
			continue
		}
		if msg.Type != "message" {
			c.send <- ServerEvent{Type: "error", Data: "unknown message type"}
			continue
		}

		saved, err := saveDirectMessage(c.db, c.userID, msg.To, msg.Body)
		if err != nil {
			c.send <- ServerEvent{Type: "error", Data: "cannot send message"}
			continue
		}

		out := ServerEvent{Type: "message", From: c.userID, Data: saved}
		messageHub.sendToUser(msg.To, out)
		messageHub.sendToUser(c.userID, out) // echo (so sender UI updates instantly)
	}
}

func clientWriter(c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			// ping to keep the connection alive
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// areMatched reports whether a match exists between the two users in either
// direction. Messaging is only open between matched users.
func areMatched(db *sql.DB, a, b int) (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM matches
			WHERE (requesting_user = $1 AND found_user = $2)
			   OR (requesting_user = $2 AND found_user = $1)
		)
	`, a, b).Scan(&exists)
	return exists, err
}

func saveDirectMessage(db *sql.DB, fromUserID, toUserID int, content string) (*DirectMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty message")
	}
	matched, err := areMatched(db, fromUserID, toUserID)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, fmt.Errorf("users are not matched")
	}

	msg := &DirectMessage{Type: "message", From: fromUserID, To: toUserID, Body: content}
	err = db.QueryRow(`
		INSERT INTO messages (sender_id, recipient_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, fromUserID, toUserID, content).Scan(&msg.ID, &msg.Ts)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GET /messages/{peerId}?limit=50&before=2025-09-16T08:00:00Z
// Conversation history with one peer, newest first. Fetching the history
// marks the peer's messages to us as read.
func messageHistoryHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 || parts[0] != "messages" {
			http.NotFound(w, r)
			return
		}
		peerID, err := strconv.Atoi(parts[1])
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_user_id")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		var beforePtr *time.Time
		if s := r.URL.Query().Get("before"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				beforePtr = &t
			}
		}

		msgs, err := getMessages(db, userID, peerID, limit, beforePtr)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "message_fetch_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]DirectMessage{"messages": msgs})
	})
}

func getMessages(db *sql.DB, userID, peerID, limit int, before *time.Time) ([]DirectMessage, error) {
	q := `
		SELECT id, sender_id, recipient_id, content, created_at, is_read
		FROM messages
		WHERE ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
			AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC
		LIMIT $4`

	var rows *sql.Rows
	var err error
	if before != nil {
		rows, err = db.Query(q, userID, peerID, *before, limit)
	} else {
		rows, err = db.Query(q, userID, peerID, nil, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]DirectMessage, 0, limit)
	for rows.Next() {
		var m DirectMessage
		m.Type = "message"
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Body, &m.Ts, &m.IsRead); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		// Don't mark as read if the query failed
		return nil, err
	}

	_, _ = db.Exec(`
		UPDATE messages
		SET is_read = TRUE
		WHERE sender_id = $1 AND recipient_id = $2 AND is_read IS FALSE
	`, peerID, userID)

	return msgs, nil
}

// GET /messages/summary - one row per peer: latest message and whether any
// message from that peer is still unread. Drives the inbox sidebar.
func messagesSummaryHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		rows, err := db.Query(`
			SELECT peer_id,
			       MAX(created_at) AS last_message_at,
			       BOOL_OR(unread)  AS has_unread
			FROM (
				SELECT CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS peer_id,
				       created_at,
				       (recipient_id = $1 AND NOT is_read) AS unread
				FROM messages
				WHERE sender_id = $1 OR recipient_id = $1
			) conv
			GROUP BY peer_id
			ORDER BY last_message_at DESC
		`, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		type summaryRow struct {
			PeerID        int       `json:"peer_id"`
			LastMessageAt time.Time `json:"last_message_at"`
			HasUnread     bool      `json:"has_unread"`
		}
		var summaries []summaryRow
		for rows.Next() {
			var s summaryRow
			if rows.Scan(&s.PeerID, &s.LastMessageAt, &s.HasUnread) == nil {
				summaries = append(summaries, s)
			}
		}
		writeJSON(w, http.StatusOK, map[string][]summaryRow{"conversations": summaries})
	})
}
