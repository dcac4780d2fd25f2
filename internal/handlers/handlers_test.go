package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KyleGowen/excelsior-sub010/internal/authz"
	"github.com/KyleGowen/excelsior-sub010/internal/catalog"
	"github.com/KyleGowen/excelsior-sub010/internal/config"
	"github.com/KyleGowen/excelsior-sub010/internal/database"
	"github.com/KyleGowen/excelsior-sub010/internal/decks"
	"github.com/KyleGowen/excelsior-sub010/internal/models"
	"github.com/KyleGowen/excelsior-sub010/internal/store"
	"github.com/KyleGowen/excelsior-sub010/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Error    string          `json:"error"`
	Warnings []string        `json:"warnings"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sqlDB, err := sql.Open(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	db := &database.DB{DB: sqlDB, Driver: database.DriverSQLite}
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Environment:      "development",
		SessionDuration:  time.Hour,
		DisableRateLimit: true,
	}

	cat := catalog.New(
		models.CardAttributes{CardID: "c1", CardType: "character", Name: "Leonidas", Combat: 8},
		models.CardAttributes{CardID: "p1", CardType: "power", Name: "5 - Combat", PowerType: "Combat", Value: 5},
	)
	validator := validation.New(cat, validation.Rules{RosterSize: 1})
	st := store.New(database.NewDeckRepository(db), decks.StoreOptions(validator)...)
	svc := decks.NewService(st, authz.New(nil), validator)

	r, err := NewEngine(cfg)
	require.NoError(t, err)
	SetupRoutes(r, db, cfg, svc)
	return &testServer{t: t, router: r}
}

func (s *testServer) do(method, path, token string, body interface{}, headers ...string) (int, apiResponse) {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func (s *testServer) register(username string) string {
	s.t.Helper()

	code, resp := s.do(http.MethodPost, "/api/auth/register", "", gin.H{"username": username, "password": "password123"})
	require.Equal(s.t, http.StatusCreated, code, resp.Error)

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.Unmarshal(resp.Data, &data))
	return data.Token
}

type deckResponse struct {
	models.Deck
	Metadata struct {
		IsOwner  bool `json:"isOwner"`
		ReadOnly bool `json:"readOnly"`
	} `json:"metadata"`
}

func decodeDeck(t *testing.T, resp apiResponse) deckResponse {
	t.Helper()
	var d deckResponse
	require.NoError(t, json.Unmarshal(resp.Data, &d))
	return d
}

func TestDeckLifecycle(t *testing.T) {
	s := setupTestServer(t)
	alice := s.register("alice")
	bob := s.register("bob")

	code, resp := s.do(http.MethodPost, "/api/decks", alice, gin.H{"name": "Test Deck"})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	id := decodeDeck(t, resp).ID
	require.NotEmpty(t, id)

	code, _ = s.do(http.MethodPost, "/api/decks/"+id+"/cards", alice, gin.H{"cardType": "power", "cardId": "p1", "quantity": 3})
	require.Equal(t, http.StatusOK, code)
	code, resp = s.do(http.MethodPost, "/api/decks/"+id+"/cards", alice, gin.H{"cardType": "power", "cardId": "p1", "quantity": 2})
	require.Equal(t, http.StatusOK, code)

	deck := decodeDeck(t, resp)
	require.Len(t, deck.Cards, 1)
	assert.Equal(t, 5, deck.Cards[0].Quantity)
	assert.Equal(t, 5, deck.CardCount)
	assert.True(t, deck.Metadata.IsOwner)

	code, resp = s.do(http.MethodPut, "/api/decks/"+id, bob, gin.H{"name": "Stolen"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "access denied: you do not own this deck", resp.Error)

	code, resp = s.do(http.MethodPut, "/api/decks/"+id+"?readonly=true", alice, gin.H{"name": "Renamed"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "operation not allowed in read-only mode", resp.Error)

	code, resp = s.do(http.MethodPost, "/api/decks/"+id+"/cards", alice, gin.H{"cardType": "power", "cardId": "p1"}, "X-Read-Only", "true")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "operation not allowed in read-only mode", resp.Error)

	code, resp = s.do(http.MethodGet, "/api/decks/"+id+"/readonly", bob, nil)
	require.Equal(t, http.StatusOK, code)
	shared := decodeDeck(t, resp)
	assert.False(t, shared.Metadata.IsOwner)
	assert.True(t, shared.Metadata.ReadOnly)
	assert.Equal(t, "Test Deck", shared.Name)

	code, resp = s.do(http.MethodDelete, "/api/decks/"+id+"/cards", alice, gin.H{"cardType": "power", "cardId": "p1", "quantity": 10})
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decodeDeck(t, resp).Cards)

	code, _ = s.do(http.MethodDelete, "/api/decks/"+id, alice, nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp = s.do(http.MethodGet, "/api/decks/"+id, alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "deck not found", resp.Error)
}

func TestReplaceCardsAndReserve(t *testing.T) {
	s := setupTestServer(t)
	alice := s.register("alice")

	code, resp := s.do(http.MethodPost, "/api/decks", alice, gin.H{"name": "d", "characters": []string{"c1"}})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	id := decodeDeck(t, resp).ID

	code, resp = s.do(http.MethodPut, "/api/decks/"+id+"/reserve", alice, gin.H{"reserve_character": "c1"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	deck := decodeDeck(t, resp)
	assert.Equal(t, "c1", deck.ReserveCharacterID)
	assert.True(t, deck.IsValid)

	code, resp = s.do(http.MethodPut, "/api/decks/"+id+"/reserve", alice, gin.H{"reserve_character": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "reserve character must be one of the deck's characters", resp.Error)

	code, resp = s.do(http.MethodPut, "/api/decks/"+id+"/cards", alice, gin.H{"cards": []gin.H{
		{"type": "power", "cardId": "p1", "quantity": 2},
	}})
	require.Equal(t, http.StatusOK, code, resp.Error)
	deck = decodeDeck(t, resp)
	assert.Empty(t, deck.ReserveCharacterID)
	assert.Equal(t, 2, deck.CardCount)
	assert.Len(t, resp.Warnings, 1)

	code, resp = s.do(http.MethodPut, "/api/decks/"+id+"/cards", alice, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "cards is required", resp.Error)
}

func TestUIPreferencesEndpoint(t *testing.T) {
	s := setupTestServer(t)
	alice := s.register("alice")

	_, resp := s.do(http.MethodPost, "/api/decks", alice, gin.H{"name": "d"})
	id := decodeDeck(t, resp).ID

	code, resp := s.do(http.MethodPut, "/api/decks/"+id+"/ui-preferences", alice, gin.H{"viewMode": "tile"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.JSONEq(t, `{"viewMode":"tile"}`, string(resp.Data))

	code, resp = s.do(http.MethodPut, "/api/decks/"+id+"/ui-preferences", alice, gin.H{"viewMode": "grid"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "viewMode must be one of: tile, list", resp.Error)
}

func TestGuestAccess(t *testing.T) {
	s := setupTestServer(t)
	alice := s.register("alice")

	_, resp := s.do(http.MethodPost, "/api/decks", alice, gin.H{"name": "shared"})
	id := decodeDeck(t, resp).ID

	code, resp := s.do(http.MethodPost, "/api/auth/guest", "", nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	var data struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, models.RoleGuest, data.User.Role)

	code, resp = s.do(http.MethodPost, "/api/decks", data.Token, gin.H{"name": "mine"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "guests may not create decks", resp.Error)

	code, _ = s.do(http.MethodGet, "/api/decks/"+id, data.Token, nil)
	assert.Equal(t, http.StatusOK, code, "guests can view shared decks")
}

func TestDeckStats(t *testing.T) {
	s := setupTestServer(t)

	code, resp := s.do(http.MethodGet, "/api/deck-stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)

	alice := s.register("alice")
	code, resp = s.do(http.MethodGet, "/api/deck-stats", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"totalDecks":0,"totalCards":0,"averageCardsPerDeck":0,"largestDeckSize":0}`, string(resp.Data))

	s.do(http.MethodPost, "/api/decks", alice, gin.H{"name": "a", "characters": []string{"c1"}, "cards": []gin.H{{"type": "power", "cardId": "p1", "quantity": 4}}})
	code, resp = s.do(http.MethodGet, "/api/deck-stats", alice, nil)
	require.Equal(t, http.StatusOK, code)

	var stats models.DeckStats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, models.DeckStats{TotalDecks: 1, TotalCards: 5, AverageCardsPerDeck: 5, LargestDeckSize: 5}, stats)

	code, resp = s.do(http.MethodGet, "/api/decks", alice, nil)
	require.Equal(t, http.StatusOK, code)
	var summaries []models.DeckSummary
	require.NoError(t, json.Unmarshal(resp.Data, &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, 4, summaries[0].CardCount)
}

func TestValidateEndpoint(t *testing.T) {
	s := setupTestServer(t)
	alice := s.register("alice")

	code, resp := s.do(http.MethodPost, "/api/decks/validate", alice, gin.H{"cards": []gin.H{
		{"type": "character", "cardId": "c1", "quantity": 1},
		{"type": "power", "cardId": "p1", "quantity": 3},
	}})
	require.Equal(t, http.StatusOK, code, resp.Error)

	var result struct {
		IsValid bool     `json:"isValid"`
		Errors  []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
}

func TestAuthFlow(t *testing.T) {
	s := setupTestServer(t)
	s.register("alice")

	code, resp := s.do(http.MethodPost, "/api/auth/register", "", gin.H{"username": "alice", "password": "password123"})
	assert.Equal(t, http.StatusConflict, code)

	code, resp = s.do(http.MethodPost, "/api/auth/register", "", gin.H{"username": "al", "password": "password123"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "alice", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid username or password", resp.Error)

	code, resp = s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "alice", "password": "password123"})
	require.Equal(t, http.StatusOK, code)
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))

	code, resp = s.do(http.MethodGet, "/api/auth/me", data.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var me models.User
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.Equal(t, "alice", me.Username)

	code, _ = s.do(http.MethodPost, "/api/auth/logout", data.Token, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(http.MethodGet, "/api/auth/me", data.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAdminRoutes(t *testing.T) {
	s := setupTestServer(t)
	admin := s.register("admin")
	alice := s.register("alice")

	code, resp := s.do(http.MethodPost, "/api/admin/decks/recalculate", alice, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "admin access required", resp.Error)

	code, resp = s.do(http.MethodPost, "/api/admin/decks/recalculate", admin, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)

	code, resp = s.do(http.MethodGet, "/api/admin/users", admin, nil)
	require.Equal(t, http.StatusOK, code)
	var users []models.User
	require.NoError(t, json.Unmarshal(resp.Data, &users))
	require.Len(t, users, 2)

	var aliceID string
	for _, u := range users {
		if u.Username == "alice" {
			aliceID = u.ID
		}
	}
	require.NotEmpty(t, aliceID)

	code, _ = s.do(http.MethodPut, "/api/admin/users/"+aliceID+"/role", admin, gin.H{"role": "GUEST"})
	require.Equal(t, http.StatusOK, code)

	code, resp = s.do(http.MethodPost, "/api/decks", alice, gin.H{"name": "demoted"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "guests may not create decks", resp.Error)

	code, _ = s.do(http.MethodPut, "/api/admin/users/missing/role", admin, gin.H{"role": "USER"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPut, "/api/admin/users/"+aliceID+"/role", admin, gin.H{"role": "OWNER"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidateRequiresCards(t *testing.T) {
	s := setupTestServer(t)
	alice := s.register("alice")

	code, resp := s.do(http.MethodPost, "/api/decks/validate", alice, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "cards array is required", resp.Error)

	code, resp = s.do(http.MethodPost, "/api/decks/validate", alice, gin.H{"cards": []gin.H{}})
	require.Equal(t, http.StatusOK, code, resp.Error)

	var result struct {
		IsValid bool     `json:"isValid"`
		Errors  []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "Deck must have exactly 1 characters (found 0)")
}

func TestReadUIPreferences(t *testing.T) {
	s := setupTestServer(t)
	alice := s.register("alice")
	bob := s.register("bob")

	_, resp := s.do(http.MethodPost, "/api/decks", alice, gin.H{"name": "d"})
	id := decodeDeck(t, resp).ID

	code, resp := s.do(http.MethodGet, "/api/decks/"+id+"/ui-preferences", alice, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.JSONEq(t, `{}`, string(resp.Data))

	s.do(http.MethodPut, "/api/decks/"+id+"/ui-preferences", alice, gin.H{"viewMode": "list"})
	code, resp = s.do(http.MethodGet, "/api/decks/"+id+"/ui-preferences", alice, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.JSONEq(t, `{"viewMode":"list"}`, string(resp.Data))

	code, resp = s.do(http.MethodGet, "/api/decks/"+id+"/ui-preferences", bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "access denied: you do not own this deck", resp.Error)

	code, resp = s.do(http.MethodGet, "/api/decks/missing/ui-preferences", alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "deck not found", resp.Error)
}

func TestReadOnlyPathRejectsMutations(t *testing.T) {
	s := setupTestServer(t)
	alice := s.register("alice")

	_, resp := s.do(http.MethodPost, "/api/decks", alice, gin.H{"name": "d"})
	id := decodeDeck(t, resp).ID

	code, resp := s.do(http.MethodPut, "/api/decks/"+id+"/readonly", alice, gin.H{"name": "Renamed"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "operation not allowed in read-only mode", resp.Error)

	code, resp = s.do(http.MethodDelete, "/api/decks/"+id+"/readonly", alice, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "operation not allowed in read-only mode", resp.Error)

	code, resp = s.do(http.MethodGet, "/api/decks/"+id, alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "d", decodeDeck(t, resp).Name)

	code, resp = s.do(http.MethodPost, "/api/decks/"+id+"/readonly", alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "not found", resp.Error)
}

func TestClientIPIgnoresForwardedForByDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)

	clientIPs := func(cfg *config.Config) []string {
		r, err := NewEngine(cfg)
		require.NoError(t, err)
		r.GET("/ip", func(c *gin.Context) { c.String(http.StatusOK, c.ClientIP()) })

		var seen []string
		for _, forwarded := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
			req := httptest.NewRequest(http.MethodGet, "/ip", nil)
			req.RemoteAddr = "9.9.9.9:4321"
			req.Header.Set("X-Forwarded-For", forwarded)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			seen = append(seen, w.Body.String())
		}
		return seen
	}

	assert.Equal(t, []string{"9.9.9.9", "9.9.9.9", "9.9.9.9"}, clientIPs(&config.Config{}))
	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}, clientIPs(&config.Config{TrustedProxies: []string{"9.9.9.9"}}))

	_, err := NewEngine(&config.Config{TrustedProxies: []string{"not-an-ip"}})
	assert.Error(t, err)
}
