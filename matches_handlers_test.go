package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getMatches(t *testing.T, engine *matchEngine, token string) (int, []matchResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/matches", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	matchesHandler(engine).ServeHTTP(w, req)

	var resp struct {
		Matches []matchResponse `json:"matches"`
	}
	_ = json.NewDecoder(w.Body).Decode(&resp)
	return w.Code, resp.Matches
}

func TestMatchesEndpoint(t *testing.T) {
	_, engine := aliceAndBob(t, 20)
	aliceToken, err := issueToken(1)
	require.NoError(t, err)

	t.Run("unauthorized without token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/matches", nil)
		w := httptest.NewRecorder()
		matchesHandler(engine).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("first view lists the match still marked new", func(t *testing.T) {
		code, matches := getMatches(t, engine, aliceToken)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, matches, 1)
		assert.Equal(t, 2, matches[0].FoundUser)
		assert.True(t, matches[0].MarkNew)
		assert.InDelta(t, 20.0, matches[0].Distance, 0.01)
	})

	t.Run("second view settles the highlight", func(t *testing.T) {
		code, matches := getMatches(t, engine, aliceToken)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, matches, 1)
		assert.False(t, matches[0].MarkNew)
	})

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/matches", nil)
		req.Header.Set("Authorization", "Bearer "+aliceToken)
		w := httptest.NewRecorder()
		matchesHandler(engine).ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestNewMatchBadgeEndpoint(t *testing.T) {
	_, engine := aliceAndBob(t, 20)
	bobToken, err := issueToken(2)
	require.NoError(t, err)

	badge := func() int {
		req := httptest.NewRequest(http.MethodGet, "/matches/new", nil)
		req.Header.Set("Authorization", "Bearer "+bobToken)
		w := httptest.NewRecorder()
		newMatchCountHandler(engine).ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]int
		_ = json.NewDecoder(w.Body).Decode(&resp)
		return resp["new_matches"]
	}

	// Checking the badge repeatedly does not consume the notification;
	// opening the match list does.
	assert.Equal(t, 1, badge())
	assert.Equal(t, 1, badge())

	_, _ = getMatches(t, engine, bobToken)
	assert.Equal(t, 0, badge())
}
