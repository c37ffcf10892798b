/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Auth: public signup, login, bearer middleware
- Travel lifecycle over HTTP: submit, list, approve, reject
- Error mapping: 400/401/403/404/409/422 with the JSON error body
- Route aliases and health
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/travel-engine/auth"
	"github.com/warp/travel-engine/generic"
	"github.com/warp/travel-engine/store/memory"
	"github.com/warp/travel-engine/travel"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	t       *testing.T
	router  *chi.Mux
	manager string // token
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	engine := travel.NewEngine(memory.New(), tokens, travel.DefaultConfig())
	engine.Passwords = auth.Passwords{Cost: bcrypt.MinCost}

	h := NewHandler(engine)
	ts := &testServer{t: t, router: NewRouter(h, DefaultRouterOptions())}

	rec := ts.do(http.MethodPost, "/api/auth/signup/public", "", map[string]any{
		"firstName":  "Maria",
		"lastName":   "Manager",
		"email":      "manager@gmail.com",
		"password":   "password123",
		"role":       "MANAGER",
		"leavesLeft": 25,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var login LoginResponse
	decodeBody(t, rec, &login)
	ts.manager = login.Token
	return ts
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// employee creates an employee through the manager and returns its id and token.
func (ts *testServer) employee(first, email string, leaves int) (string, string) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/auth/signup", ts.manager, map[string]any{
		"firstName":  first,
		"lastName":   "Tester",
		"email":      email,
		"password":   "password123",
		"role":       "EMPLOYEE",
		"leavesLeft": leaves,
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	var u UserDTO
	decodeBody(ts.t, rec, &u)

	rec = ts.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: email, Password: "password123"})
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	var login LoginResponse
	decodeBody(ts.t, rec, &login)
	return u.ID, login.Token
}

func (ts *testServer) submit(token, from, to string) *httptest.ResponseRecorder {
	return ts.do(http.MethodPost, "/api/travel", token, map[string]string{
		"fromLocation":    "Berlin",
		"destination":     "Paris",
		"fromDate":        from,
		"toDate":          to,
		"purposeOfTravel": "Client workshop",
		"modeOfTransport": "train",
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e ErrorResponse
	decodeBody(t, rec, &e)
	return e.Code
}

// =============================================================================
// AUTH
// =============================================================================

func TestPublicSignup_OnlyOnce(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/auth/signup/public", "", map[string]any{
		"firstName": "Eve",
		"lastName":  "Intruder",
		"email":     "eve@gmail.com",
		"password":  "password123",
		"role":      "MANAGER",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorCode(t, rec))
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "Manager@gmail.com", Password: "password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	var login LoginResponse
	decodeBody(t, rec, &login)
	assert.Equal(t, "Bearer", login.Type)
	assert.Equal(t, "MANAGER", login.Role)
	assert.NotEmpty(t, login.Token)

	rec = ts.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "manager@gmail.com", Password: "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/travel/mine", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			ts.router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthenticated", errorCode(t, rec))
		})
	}
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.employee("Alice", "alice@gmail.com", 30)

	rec := ts.do(http.MethodGet, "/api/users/me", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me UserDTO
	decodeBody(t, rec, &me)
	assert.Equal(t, "alice@gmail.com", me.Email)
	assert.Equal(t, "EMPLOYEE", me.Role)
	assert.Equal(t, 30, me.LeavesLeft)
	assert.NotContains(t, rec.Body.String(), "password")
}

// =============================================================================
// TRAVEL LIFECYCLE
// =============================================================================

func TestSubmitApprove_DebitsLeaves(t *testing.T) {
	// GIVEN: Alice with 30 days
	// WHEN:  She submits a 3 day trip and the manager approves it
	// THEN:  27 days remain, and a second approval is a 409

	ts := newTestServer(t)
	aliceID, alice := ts.employee("Alice", "alice@gmail.com", 30)

	rec := ts.submit(alice, "2025-06-10", "2025-06-12")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var req TravelRequestDTO
	decodeBody(t, rec, &req)
	assert.Equal(t, "PENDING", req.Status)
	assert.Equal(t, 3, req.DaysRequested)
	assert.Equal(t, "TRAIN", req.ModeOfTransport)

	rec = ts.do(http.MethodPut, "/api/travel/"+req.ID+"/approve", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "employees cannot decide")

	rec = ts.do(http.MethodPut, "/api/travel/"+req.ID+"/approve", ts.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &req)
	assert.Equal(t, "APPROVED", req.Status)
	assert.NotNil(t, req.DecidedAt)

	rec = ts.do(http.MethodPut, "/api/travel/"+req.ID+"/approve", ts.manager, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rec))

	rec = ts.do(http.MethodGet, "/api/users/"+aliceID+"/leaves", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal BalanceDTO
	decodeBody(t, rec, &bal)
	assert.Equal(t, 27, bal.LeavesLeft)

	rec = ts.do(http.MethodGet, "/api/users/"+aliceID+"/transactions", ts.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger LedgerDTO
	decodeBody(t, rec, &ledger)
	require.Len(t, ledger.Transactions, 2)
	assert.Equal(t, 27, ledger.Balance)
	assert.Equal(t, 3, ledger.TotalConsumed)
	assert.Equal(t, 27, ledger.Transactions[1].Balance)
}

func TestReject(t *testing.T) {
	ts := newTestServer(t)
	aliceID, alice := ts.employee("Alice", "alice@gmail.com", 30)

	rec := ts.submit(alice, "2025-06-10", "2025-06-10")
	require.Equal(t, http.StatusCreated, rec.Code)
	var req TravelRequestDTO
	decodeBody(t, rec, &req)

	rec = ts.do(http.MethodPut, "/api/travel/"+req.ID+"/reject", ts.manager, RejectRequest{Reason: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reason is required")

	rec = ts.do(http.MethodPut, "/api/travel/"+req.ID+"/reject", ts.manager, RejectRequest{Reason: "Budget freeze"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &req)
	assert.Equal(t, "REJECTED", req.Status)
	assert.Equal(t, "Budget freeze", req.RejectionReason)

	rec = ts.do(http.MethodPut, "/api/travel/"+req.ID+"/approve", ts.manager, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodGet, "/api/users/"+aliceID+"/leaves", alice, nil)
	var bal BalanceDTO
	decodeBody(t, rec, &bal)
	assert.Equal(t, 30, bal.LeavesLeft, "rejection does not touch the balance")

	rec = ts.do(http.MethodGet, "/api/travel/"+req.ID+"/history", ts.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []AuditEntryDTO
	decodeBody(t, rec, &history)
	require.Len(t, history, 2)
	assert.Equal(t, "request_created", history[0].Action)
	assert.Equal(t, "request_rejected", history[1].Action)
}

func TestSubmit_Errors(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.employee("Alice", "alice@gmail.com", 2)

	t.Run("validation details", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/travel", alice, map[string]string{"fromDate": "2025-06-10"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body struct {
			Code    string `json:"code"`
			Details []struct {
				Field string `json:"field"`
			} `json:"details"`
		}
		decodeBody(t, rec, &body)
		assert.Equal(t, "validation_error", body.Code)
		fields := make([]string, len(body.Details))
		for i, d := range body.Details {
			fields[i] = d.Field
		}
		assert.Contains(t, fields, "destination")
		assert.Contains(t, fields, "toDate")
	})

	t.Run("end before start", func(t *testing.T) {
		rec := ts.submit(alice, "2025-06-12", "2025-06-10")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/travel", bytes.NewBufferString("{"))
		req.Header.Set("Authorization", "Bearer "+alice)
		rec := httptest.NewRecorder()
		ts.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", errorCode(t, rec))
	})

	t.Run("exceeds balance", func(t *testing.T) {
		rec := ts.submit(alice, "2025-06-10", "2025-06-12")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "insufficient_balance", errorCode(t, rec))
	})
}

// =============================================================================
// LISTING AND VISIBILITY
// =============================================================================

func TestListing(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.employee("Alice", "alice@gmail.com", 30)
	_, bob := ts.employee("Bobby", "bob@gmail.com", 28)

	require.Equal(t, http.StatusCreated, ts.submit(alice, "2025-06-10", "2025-06-11").Code)
	rec := ts.submit(bob, "2025-07-01", "2025-07-01")
	require.Equal(t, http.StatusCreated, rec.Code)
	var bobs TravelRequestDTO
	decodeBody(t, rec, &bobs)

	for _, path := range []string{"/api/travel/mine", "/api/travel/myrequests"} {
		rec := ts.do(http.MethodGet, path, alice, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		var mine []TravelRequestDTO
		decodeBody(t, rec, &mine)
		assert.Len(t, mine, 1, path)
	}

	rec = ts.do(http.MethodGet, "/api/travel/"+bobs.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "other people's requests are invisible")

	rec = ts.do(http.MethodGet, "/api/travel", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, path := range []string{"/api/travel", "/api/travel/all"} {
		rec := ts.do(http.MethodGet, path, ts.manager, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		var all []TravelRequestDTO
		decodeBody(t, rec, &all)
		require.Len(t, all, 2, path)
		require.NotNil(t, all[0].Employee)
	}

	rec = ts.do(http.MethodPut, "/api/travel/"+bobs.ID+"/approve", ts.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/travel/all?status=approved", ts.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var approved []TravelRequestDTO
	decodeBody(t, rec, &approved)
	require.Len(t, approved, 1)
	assert.Equal(t, bobs.ID, approved[0].ID)
	require.NotNil(t, approved[0].Decider)
	assert.Equal(t, "manager@gmail.com", approved[0].Decider.Email)

	rec = ts.do(http.MethodGet, "/api/travel?status=CANCELLED", ts.manager, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsers_ManagerOnly(t *testing.T) {
	ts := newTestServer(t)
	aliceID, alice := ts.employee("Alice", "alice@gmail.com", 30)

	rec := ts.do(http.MethodGet, "/api/users", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/api/users", ts.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []UserDTO
	decodeBody(t, rec, &users)
	assert.Len(t, users, 2)

	rec = ts.do(http.MethodPost, "/api/users/"+aliceID+"/adjustments", alice, AdjustmentRequest{Delta: 5, Reason: "please"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/api/users/"+aliceID+"/adjustments", ts.manager, AdjustmentRequest{Delta: -2, Reason: "correction"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var bal BalanceDTO
	decodeBody(t, rec, &bal)
	assert.Equal(t, 28, bal.LeavesLeft)

	rec = ts.do(http.MethodPost, "/api/auth/signup", ts.manager, map[string]any{
		"firstName": "Alice",
		"lastName":  "Again",
		"email":     "alice@gmail.com",
		"password":  "password123",
		"role":      "EMPLOYEE",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email_taken", errorCode(t, rec))
}

// =============================================================================
// SCENARIOS, HEALTH, ROUTING
// =============================================================================

func TestScenarios(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/scenarios", ts.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ScenarioDTO
	decodeBody(t, rec, &list)
	require.NotEmpty(t, list)
	assert.Equal(t, "demo", list[0].ID)

	rec = ts.do(http.MethodPost, "/api/scenarios/load", ts.manager, LoadScenarioRequest{ScenarioID: "demo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var loaded struct {
		Created []UserDTO `json:"created"`
	}
	decodeBody(t, rec, &loaded)
	assert.Len(t, loaded.Created, 2, "the manager account already exists")

	rec = ts.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "bob@gmail.com", Password: travel.DemoPassword})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/api/scenarios/load", ts.manager, LoadScenarioRequest{ScenarioID: "missing"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/nope", ts.manager, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth_StoreDown(t *testing.T) {
	h := NewHandler(nil)
	h.Ready = func(*http.Request) error { return context.DeadlineExceeded }

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor_Internal(t *testing.T) {
	status, code := statusFor(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", code)
}

func TestStatusFor_WrappedErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("request r1: %w", generic.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("decide: %w", &generic.TransitionError{ID: "r1", Current: "APPROVED", Target: "REJECTED"}), http.StatusConflict},
		{generic.NewValidationError("reason", "required", "reason is required"), http.StatusBadRequest},
		{fmt.Errorf("%w: closed", generic.ErrForbidden), http.StatusForbidden},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
