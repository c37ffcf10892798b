/*
handlers.go - HTTP API handlers for the travel request system

PURPOSE:
  Exposes the travel engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to travel.Engine.

ENDPOINTS:
  Auth:
    POST   /api/auth/login              Login, returns a bearer token
    POST   /api/auth/signup             Create an account (manager)
    POST   /api/auth/signup/public      Bootstrap the first manager

  Users:
    GET    /api/users                   List accounts (manager)
    GET    /api/users/me                Current user
    GET    /api/users/{id}/leaves       Remaining leave days
    GET    /api/users/{id}/transactions Ledger history
    POST   /api/users/{id}/adjustments  Manual correction (manager)

  Travel:
    POST   /api/travel                  Submit a request
    GET    /api/travel/mine             Own requests
    GET    /api/travel?status=          All requests (manager)
    GET    /api/travel/{id}             One request
    GET    /api/travel/{id}/history     Audit trail (manager)
    PUT    /api/travel/{id}/approve     Approve (manager)
    PUT    /api/travel/{id}/reject      Reject with reason (manager)

REQUEST FLOW:
  1. Authenticate (middleware.go puts the actor in the context)
  2. Decode input
  3. Call the engine
  4. Serialize response, or map the error to a status code

ERROR HANDLING:
  Errors are returned as JSON {"error", "code", "details"}:
  - 400: Validation errors, malformed body
  - 401: Missing or invalid token, bad credentials
  - 403: Role does not allow the operation
  - 404: Resource not found (or not visible to the caller)
  - 409: Request already decided, email taken
  - 422: Insufficient leave balance
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/travel-engine/generic"
	"github.com/warp/travel-engine/travel"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *travel.Engine

	// Logger receives internal errors. Nil uses the standard logger.
	Logger *log.Logger

	// Ready reports whether the backing store is reachable. Nil means always.
	Ready func(r *http.Request) error
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *travel.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Login exchanges credentials for a token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.Engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(session))
}

// Signup creates an account on behalf of a manager.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var in travel.SignupInput
	if !h.decode(w, r, &in) {
		return
	}
	u, err := h.Engine.Signup(r.Context(), actorFrom(r), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*u))
}

// PublicSignup creates the first manager and logs them in.
func (h *Handler) PublicSignup(w http.ResponseWriter, r *http.Request) {
	var in travel.SignupInput
	if !h.decode(w, r, &in) {
		return
	}
	session, err := h.Engine.PublicSignup(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoginResponse(session))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Engine.Me(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// ListUsers returns every account.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Engine.ListUsers(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLeaves returns the remaining leave days of a user.
func (h *Handler) GetLeaves(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.Balance(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{LeavesLeft: n})
}

// GetTransactions returns a user's ledger with a running balance.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	snap, txs, err := h.Engine.Ledger(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(snap, txs))
}

// CreateAdjustment applies a manual balance correction.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.Engine.AdjustBalance(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Delta, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{LeavesLeft: n})
}

// =============================================================================
// TRAVEL REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates a PENDING request for the caller.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var in travel.SubmitInput
	if !h.decode(w, r, &in) {
		return
	}
	req, err := h.Engine.Submit(r.Context(), actorFrom(r), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTravelRequestDTO(*req))
}

// ListMyRequests returns the caller's requests, newest first.
func (h *Handler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Engine.ListMine(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTravelRequestDTOs(reqs))
}

// ListAllRequests returns every request with people joined, optionally
// filtered by ?status=.
func (h *Handler) ListAllRequests(w http.ResponseWriter, r *http.Request) {
	var status *travel.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := travel.ParseStatus(raw)
		if !ok {
			h.writeError(w, generic.NewValidationError("status", "oneof", "status must be one of: PENDING APPROVED REJECTED"))
			return
		}
		status = &st
	}
	views, err := h.Engine.ListAll(r.Context(), actorFrom(r), status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewDTOs(views))
}

// GetRequest returns one request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTravelRequestDTO(*req))
}

// GetHistory returns the audit trail of one request.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.History(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// ApproveRequest approves a pending request and debits the balance.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Approve(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTravelRequestDTO(*req))
}

// RejectRequest rejects a pending request with a reason.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body RejectRequest
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.Engine.Reject(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTravelRequestDTO(*req))
}

// Health reports liveness and store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decode reads a JSON body. On failure it writes a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "bad_request",
			Details: err.Error(),
		})
		return false
	}
	return true
}

// statusFor maps engine errors to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrValidation), errors.Is(err, generic.ErrInvalidPeriod):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, generic.ErrUnauthenticated), errors.Is(err, travel.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case generic.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, travel.ErrEmailTaken):
		return http.StatusConflict, "email_taken"
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var ve *generic.ValidationError
	var ibe *generic.InsufficientBalanceError
	switch {
	case errors.As(err, &ve):
		resp.Error = "Validation failed"
		resp.Details = ve.Fields
	case errors.As(err, &ibe):
		resp.Details = map[string]int{
			"available": ibe.Available.Int(),
			"requested": ibe.Requested.Int(),
			"shortfall": ibe.Shortfall.Int(),
		}
	case status == http.StatusInternalServerError:
		h.logf("internal error: %v", err)
		resp.Error = "Internal server error"
	}
	writeJSON(w, status, resp)
}

func (h *Handler) logf(format string, args ...any) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
