// Package travel implements travel request management on top of the
// generic leave ledger: request lifecycle, access policy and user accounts.
package travel

import (
	"strings"
	"time"

	"github.com/warp/travel-engine/generic"
)

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleManager  Role = "MANAGER"
)

func (r Role) Valid() bool { return r == RoleEmployee || r == RoleManager }

// ParseRole accepts any casing.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}

// =============================================================================
// USER
// =============================================================================

type User struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	Role         Role
	LeavesLeft   int
	ManagerID    string // reporting manager, display only
	CreatedAt    time.Time
}

func (u User) FullName() string { return strings.TrimSpace(u.FirstName + " " + u.LastName) }

// Actor returns the identity u acts as.
func (u User) Actor() Actor { return Actor{ID: u.ID, Role: u.Role} }

// EntityID is the ledger key of the user's balance.
func (u User) EntityID() generic.EntityID { return generic.EntityID(u.ID) }

// =============================================================================
// TRAVEL REQUEST
// =============================================================================

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// IsTerminal is true for APPROVED and REJECTED.
func (s Status) IsTerminal() bool { return s == StatusApproved || s == StatusRejected }

// ParseStatus accepts any casing.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

type Mode string

const (
	ModeFlight Mode = "FLIGHT"
	ModeTrain  Mode = "TRAIN"
	ModeBus    Mode = "BUS"
	ModeCar    Mode = "CAR"
	ModeOther  Mode = "OTHER"
)

var Modes = []Mode{ModeFlight, ModeTrain, ModeBus, ModeCar, ModeOther}

func (m Mode) Valid() bool {
	for _, v := range Modes {
		if m == v {
			return true
		}
	}
	return false
}

type TravelRequest struct {
	ID              string
	EmployeeID      string
	FromLocation    string
	Destination     string
	FromDate        generic.TimePoint
	ToDate          generic.TimePoint
	PurposeOfTravel string
	ModeOfTransport Mode
	DaysRequested   int
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Set once, by the deciding transition.
	DecidedAt       *time.Time
	DecidedBy       string
	RejectionReason string
}

// Period is the inclusive date range of the trip.
func (r TravelRequest) Period() generic.Period {
	return generic.Period{Start: r.FromDate, End: r.ToDate}
}

// Decided is true once a manager has approved or rejected the request.
func (r TravelRequest) Decided() bool { return r.Status.IsTerminal() }

// CheckInvariants reports the first violated record invariant, or nil.
// Stores call it before persisting a decision.
func (r TravelRequest) CheckInvariants() error {
	if r.DaysRequested < 1 || r.DaysRequested != r.Period().Len() {
		return generic.NewValidationError("daysRequested", "eq", "daysRequested must equal the inclusive day count")
	}
	if (r.Status == StatusRejected) != (r.RejectionReason != "") {
		return generic.NewValidationError("rejectionReason", "required_if", "rejection reason is required exactly when status is REJECTED")
	}
	decided := r.DecidedAt != nil && r.DecidedBy != ""
	if r.Status.IsTerminal() != decided {
		return generic.NewValidationError("decidedAt", "required_if", "decision fields are required exactly when the request is decided")
	}
	return nil
}

// RequestView is a request joined with the people around it.
type RequestView struct {
	TravelRequest
	Employee *User // owner
	Manager  *User // owner's reporting manager
	Decider  *User // manager who decided
}
