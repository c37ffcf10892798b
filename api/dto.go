/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - Hiding internal fields (password hashes never leave the server)
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Auth:     LoginRequest, LoginResponse
  Users:    UserDTO, BalanceDTO, AdjustmentRequest, LedgerDTO, TransactionDTO
  Travel:   TravelRequestDTO, RejectRequest
  Audit:    AuditEntryDTO
  Scenario: ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Input validation lives in the travel package (validator struct tags on
  travel.SubmitInput and travel.SignupInput), which the handlers decode
  into directly.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/travel-engine/generic"
	"github.com/warp/travel-engine/travel"
)

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	Type      string `json:"type"`
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

func toLoginResponse(s *travel.Session) LoginResponse {
	return LoginResponse{
		Token:     s.Token,
		Type:      "Bearer",
		ID:        s.User.ID,
		Email:     s.User.Email,
		FirstName: s.User.FirstName,
		LastName:  s.User.LastName,
		Role:      string(s.User.Role),
	}
}

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents a user in API responses.
type UserDTO struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	LeavesLeft int       `json:"leavesLeft"`
	ManagerID  string    `json:"managerId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toUserDTO(u travel.User) UserDTO {
	return UserDTO{
		ID:         u.ID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Email:      u.Email,
		Role:       string(u.Role),
		LeavesLeft: u.LeavesLeft,
		ManagerID:  u.ManagerID,
		CreatedAt:  u.CreatedAt,
	}
}

func toUserRef(u *travel.User) *UserDTO {
	if u == nil {
		return nil
	}
	dto := toUserDTO(*u)
	return &dto
}

type BalanceDTO struct {
	LeavesLeft int `json:"leavesLeft"`
}

type AdjustmentRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// TransactionDTO represents a ledger entry in API responses.
type TransactionDTO struct {
	ID          string `json:"id"`
	EffectiveAt string `json:"effectiveAt"`
	Delta       int    `json:"delta"`
	Type        string `json:"type"`
	ReferenceID string `json:"referenceId,omitempty"`
	Reason      string `json:"reason,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`
	Balance     int    `json:"balance"` // running balance after this entry
}

type LedgerDTO struct {
	EmployeeID    string           `json:"employeeId"`
	Balance       int              `json:"balance"`
	TotalGranted  int              `json:"totalGranted"`
	TotalConsumed int              `json:"totalConsumed"`
	TotalAdjusted int              `json:"totalAdjusted"`
	Transactions  []TransactionDTO `json:"transactions"`
}

func toLedgerDTO(snap generic.BalanceSnapshot, txs []generic.Transaction) LedgerDTO {
	dto := LedgerDTO{
		EmployeeID:    string(snap.EntityID),
		Balance:       snap.Balance.Int(),
		TotalGranted:  snap.TotalGranted.Int(),
		TotalConsumed: snap.TotalConsumed.Int(),
		TotalAdjusted: snap.TotalAdjusted.Int(),
		Transactions:  make([]TransactionDTO, len(txs)),
	}
	running := 0
	for i, tx := range txs {
		running += tx.Delta.Int()
		dto.Transactions[i] = TransactionDTO{
			ID:          string(tx.ID),
			EffectiveAt: tx.EffectiveAt.String(),
			Delta:       tx.Delta.Int(),
			Type:        string(tx.Type),
			ReferenceID: tx.ReferenceID,
			Reason:      tx.Reason,
			CreatedBy:   tx.CreatedBy,
			Balance:     running,
		}
	}
	return dto
}

// =============================================================================
// TRAVEL REQUESTS
// =============================================================================

// TravelRequestDTO represents a travel request in API responses. The people
// fields are only filled by the manager listing.
type TravelRequestDTO struct {
	ID              string     `json:"id"`
	EmployeeID      string     `json:"employeeId"`
	FromLocation    string     `json:"fromLocation"`
	Destination     string     `json:"destination"`
	FromDate        string     `json:"fromDate"`
	ToDate          string     `json:"toDate"`
	PurposeOfTravel string     `json:"purposeOfTravel"`
	ModeOfTransport string     `json:"modeOfTransport"`
	DaysRequested   int        `json:"daysRequested"`
	Status          string     `json:"status"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	DecidedAt       *time.Time `json:"decidedAt,omitempty"`
	DecidedBy       string     `json:"decidedBy,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`

	Employee *UserDTO `json:"employee,omitempty"`
	Manager  *UserDTO `json:"manager,omitempty"`
	Decider  *UserDTO `json:"decider,omitempty"`
}

func toTravelRequestDTO(r travel.TravelRequest) TravelRequestDTO {
	return TravelRequestDTO{
		ID:              r.ID,
		EmployeeID:      r.EmployeeID,
		FromLocation:    r.FromLocation,
		Destination:     r.Destination,
		FromDate:        r.FromDate.String(),
		ToDate:          r.ToDate.String(),
		PurposeOfTravel: r.PurposeOfTravel,
		ModeOfTransport: string(r.ModeOfTransport),
		DaysRequested:   r.DaysRequested,
		Status:          string(r.Status),
		RejectionReason: r.RejectionReason,
		DecidedAt:       r.DecidedAt,
		DecidedBy:       r.DecidedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toTravelRequestDTOs(rs []travel.TravelRequest) []TravelRequestDTO {
	dtos := make([]TravelRequestDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toTravelRequestDTO(r)
	}
	return dtos
}

func toViewDTOs(vs []travel.RequestView) []TravelRequestDTO {
	dtos := make([]TravelRequestDTO, len(vs))
	for i, v := range vs {
		dto := toTravelRequestDTO(v.TravelRequest)
		dto.Employee = toUserRef(v.Employee)
		dto.Manager = toUserRef(v.Manager)
		dto.Decider = toUserRef(v.Decider)
		dtos[i] = dto
	}
	return dtos
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actorId,omitempty"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func toAuditDTOs(es []generic.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, len(es))
	for i, e := range es {
		dtos[i] = AuditEntryDTO{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			ActorID:   e.ActorID,
			Action:    string(e.Action),
			Payload:   e.Payload,
		}
	}
	return dtos
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}
