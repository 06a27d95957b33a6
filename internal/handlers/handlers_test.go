package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/middleware"
	"github.com/tradeya/backend/internal/models"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/internal/services"
	"github.com/tradeya/backend/internal/testutil"
	"github.com/tradeya/backend/internal/utils"
	"github.com/tradeya/backend/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiEnv struct {
	router *gin.Engine
	outbox *services.OutboxService
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	db := testutil.NewDB(t)
	raw := docstore.NewGormStore(db)
	store := rules.NewGuard(raw, rules.Default())
	outbox := services.NewOutboxService(store, &cfg.Outbox)

	for _, uid := range []string{"alice", "bob", "carol", "mallory"} {
		require.NoError(t, db.Create(&models.User{ID: uid, Username: uid, Email: uid + "@example.com", Role: models.RoleUser}).Error)
	}
	users := services.NewAuthService(db, &cfg.JWT)

	trades := NewTradeHandler(services.NewTradeService(store, outbox, &cfg.Trades))
	conns := NewConnectionHandler(services.NewRelationshipService(store, outbox, &cfg.Relationships), users)
	challenges := NewChallengeHandler(services.NewChallengeService(store, outbox))

	r := gin.New()
	api := r.Group("/api", middleware.AuthRequired())
	api.GET("/connections", conns.List)
	api.POST("/connections", conns.Create)
	api.PUT("/connections/:userId", conns.Update)
	api.POST("/trades", trades.Create)
	api.GET("/trades/:id", trades.Get)
	api.POST("/trades/:id/proposals", trades.SubmitProposal)
	api.POST("/trades/:id/proposals/:proposalId/accept", trades.AcceptProposal)
	api.POST("/trades/:id/start", trades.Start)
	api.POST("/trades/:id/submit", trades.SubmitCompletion)
	api.POST("/trades/:id/request-changes", trades.RequestChanges)
	api.POST("/trades/:id/confirm", trades.Confirm)
	api.POST("/challenges", challenges.Create)
	api.POST("/challenges/:id/join", challenges.Join)

	return &apiEnv{router: r, outbox: outbox}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *apiEnv) do(t *testing.T, uid, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		token, err := utils.GenerateToken(uid, uid, "user", 1)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func dataField(t *testing.T, env envelope, field string) interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &m))
	return m[field]
}

func TestAPI_RequiresToken(t *testing.T) {
	e := newAPIEnv(t)
	code, _ := e.do(t, "", http.MethodGet, "/api/connections", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAPI_Connections(t *testing.T) {
	e := newAPIEnv(t)

	code, env := e.do(t, "alice", http.MethodPost, "/api/connections", gin.H{"counterpartUserId": "bob", "message": "hi"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.Equal(t, "alice_bob", dataField(t, env, "id"))

	code, _ = e.do(t, "bob", http.MethodPost, "/api/connections", gin.H{"counterpartUserId": "alice"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = e.do(t, "alice", http.MethodPost, "/api/connections", gin.H{"counterpartUserId": "alice"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = e.do(t, "alice", http.MethodPost, "/api/connections", gin.H{"counterpartUserId": "bobb"})
	assert.Equal(t, http.StatusNotFound, code, "unknown counterpart")
	code, env = e.do(t, "alice", http.MethodGet, "/api/connections", nil)
	require.Equal(t, http.StatusOK, code)
	var listed []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	assert.Len(t, listed, 1, "no half may be written for an unknown counterpart")

	code, _ = e.do(t, "alice", http.MethodPut, "/api/connections/bob", gin.H{"status": "accepted"})
	assert.Equal(t, http.StatusUnprocessableEntity, code, "the initiator cannot accept")

	code, _ = e.do(t, "bob", http.MethodPut, "/api/connections/alice", gin.H{"status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = e.do(t, "bob", http.MethodPut, "/api/connections/alice", gin.H{"status": "accepted"})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.EqualValues(t, 1, dataField(t, env, "mirrorsUpdated"))
}

func TestAPI_TradeLifecycle(t *testing.T) {
	e := newAPIEnv(t)

	code, env := e.do(t, "alice", http.MethodPost, "/api/trades", gin.H{"title": "Logo for lessons", "skillsOffered": []string{"design"}})
	require.Equal(t, http.StatusCreated, code, env.Message)
	tradeID := dataField(t, env, "id").(string)
	base := "/api/trades/" + tradeID

	code, _ = e.do(t, "alice", http.MethodPost, base+"/proposals", nil)
	assert.Equal(t, http.StatusBadRequest, code, "creators cannot propose on their own trade")

	code, env = e.do(t, "bob", http.MethodPost, base+"/proposals", gin.H{"message": "I can teach guitar"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	proposalID := dataField(t, env, "id").(string)
	assert.Equal(t, fmt.Sprintf("bob_%s", tradeID), proposalID)

	code, _ = e.do(t, "bob", http.MethodPost, base+"/proposals", gin.H{"message": "again"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = e.do(t, "mallory", http.MethodPost, base+"/proposals/"+proposalID+"/accept", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = e.do(t, "alice", http.MethodPost, base+"/proposals/"+proposalID+"/accept", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, services.TradeAccepted, dataField(t, env, "status"))

	code, _ = e.do(t, "alice", http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, "bob", http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, "bob", http.MethodPost, base+"/confirm", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code, "the submitter cannot confirm")

	code, _ = e.do(t, "alice", http.MethodPost, base+"/request-changes", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code, "a reason is required")

	code, env = e.do(t, "alice", http.MethodPost, base+"/confirm", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, services.TradeCompleted, dataField(t, env, "status"))

	code, _ = e.do(t, "alice", http.MethodGet, "/api/trades/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_JoinChallengeTwice(t *testing.T) {
	e := newAPIEnv(t)

	code, env := e.do(t, "carol", http.MethodPost, "/api/challenges", gin.H{"title": "30 days of sketching", "xpReward": 75})
	require.Equal(t, http.StatusCreated, code, env.Message)
	id := dataField(t, env, "id").(string)

	code, env = e.do(t, "dave", http.MethodPost, "/api/challenges/"+id+"/join", nil)
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.Equal(t, "dave_"+id, dataField(t, env, "id"))

	code, _ = e.do(t, "dave", http.MethodPost, "/api/challenges/"+id+"/join", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{docstore.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", docstore.ErrNotFound), http.StatusNotFound},
		{rules.ErrPermissionDenied, http.StatusForbidden},
		{docstore.ErrAlreadyExists, http.StatusConflict},
		{services.ErrRelationshipExists, http.StatusConflict},
		{services.ErrInvalidTransition, http.StatusUnprocessableEntity},
		{services.ErrSelfRelationship, http.StatusBadRequest},
		{services.ErrInvalidInput, http.StatusBadRequest},
		{services.ErrInvalidCredentials, http.StatusUnauthorized},
		{services.ErrUserDisabled, http.StatusForbidden},
		{&services.PartialWriteError{Written: []string{"a"}, Missing: []string{"b"}, Err: errors.New("boom")}, http.StatusInternalServerError},
		{response.NewConflict("custom"), http.StatusConflict},
		{errors.New("database is locked"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, toAppError(tc.err).HTTPStatus, tc.err.Error())
	}

	assert.Equal(t, "internal server error", toAppError(errors.New("secret dsn")).Message)
}
