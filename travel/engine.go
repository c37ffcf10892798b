/*
engine.go - Travel request lifecycle

PURPOSE:
  The Engine is the only component that changes a travel request or a
  leave balance. Every operation is checked against the access Policy
  before it touches the store.

STATE MACHINE:
  ┌─────────┐  approve (debit ledger)  ┌──────────┐
  │ PENDING │ ───────────────────────▶ │ APPROVED │
  └─────────┘                          └──────────┘
       │        reject (reason)        ┌──────────┐
       └─────────────────────────────▶ │ REJECTED │
                                       └──────────┘
  APPROVED and REJECTED are terminal. Any further decision fails with
  generic.ErrInvalidTransition.

ATOMIC DECISIONS:
  Approve runs inside one store transaction:
    1. load the request and require PENDING
    2. debit the owner's ledger by DaysRequested (balance read inside the tx)
    3. conditional status update (WHERE status = 'PENDING')
    4. audit entry
  If any step fails the transaction is rolled back: the balance is never
  debited without the status changing, or the reverse. The debit carries
  the idempotency key "approve-<id>", so even a bypassed status check could
  not debit twice.

CONCURRENCY:
  Concurrent decisions on one request race on the conditional update; the
  loser sees *generic.TransitionError. Decisions on different requests
  only share the store's short write critical section.

TIMEOUTS:
  Every store interaction runs under Config.StoreTimeout. A deadline
  surfaces as an error and the transaction rolls back.

SEE ALSO:
  - policy.go: Role rules
  - users.go: Signup and login
  - generic/ledger.go: Guarded debits
*/
package travel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/travel-engine/auth"
	"github.com/warp/travel-engine/generic"
)

// MaxReasonLength bounds rejection reasons and adjustment notes.
const MaxReasonLength = 1000

// Config tunes the engine.
type Config struct {
	// StoreTimeout bounds each store interaction. Zero means 5s.
	StoreTimeout time.Duration

	// CheckBalanceOnSubmit refuses submissions that already exceed the
	// current balance. Pending requests do not hold balance, so approval
	// still re-checks.
	CheckBalanceOnSubmit bool

	// DefaultLeaves is granted at signup when the input has none.
	DefaultLeaves int
}

// DefaultConfig uses 5s store calls, checks balance on submit and grants 30 days.
func DefaultConfig() Config {
	return Config{
		StoreTimeout:         5 * time.Second,
		CheckBalanceOnSubmit: true,
		DefaultLeaves:        30,
	}
}

// Engine implements every travel operation.
type Engine struct {
	Store     TxStore
	Policy    Policy
	Tokens    *auth.TokenService
	Passwords auth.Passwords
	Config    Config

	// Logger receives one line per decision. Nil is silent.
	Logger *log.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// NewEngine builds an engine with the default policy and the system clock.
// A non-positive StoreTimeout becomes 5s.
func NewEngine(store TxStore, tokens *auth.TokenService, cfg Config) *Engine {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Engine{
		Store:  store,
		Policy: DefaultPolicy(),
		Tokens: tokens,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.Config.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (e *Engine) ledger(s generic.Store) *generic.DefaultLedger {
	l := generic.NewLedger(s)
	l.Now = e.now
	return l
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// failed logs err unless it is an outcome the caller is expected to handle,
// and returns it unchanged.
func (e *Engine) failed(op, id string, err error) error {
	if !generic.IsClientError(err) && !generic.IsNotFound(err) && !errors.Is(err, generic.ErrForbidden) {
		e.logf("%s %s failed: %v", op, id, err)
	}
	return err
}

func (e *Engine) audit(ctx context.Context, s Store, actor Actor, action generic.AuditAction, entity, ref string, payload map[string]any) error {
	return s.AppendAudit(ctx, generic.AuditEntry{
		ID:          uuid.NewString(),
		Timestamp:   e.now(),
		ActorID:     actor.ID,
		Action:      action,
		EntityID:    generic.EntityID(entity),
		ReferenceID: ref,
		Payload:     payload,
	})
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit creates a PENDING request owned by actor.
func (e *Engine) Submit(ctx context.Context, actor Actor, in SubmitInput) (*TravelRequest, error) {
	if err := e.Policy.Authorize(actor, ActionSubmit, actor.ID); err != nil {
		return nil, err
	}

	in.normalize()
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	from, err := generic.ParseDate(in.FromDate)
	if err != nil {
		return nil, generic.NewValidationError("fromDate", "datetime", err.Error())
	}
	to, err := generic.ParseDate(in.ToDate)
	if err != nil {
		return nil, generic.NewValidationError("toDate", "datetime", err.Error())
	}
	period, err := generic.NewPeriod(from, to)
	if err != nil {
		return nil, generic.NewValidationError("toDate", "gtefield", "toDate must not be before fromDate")
	}

	now := e.now()
	req := TravelRequest{
		ID:              uuid.NewString(),
		EmployeeID:      actor.ID,
		FromLocation:    in.FromLocation,
		Destination:     in.Destination,
		FromDate:        from,
		ToDate:          to,
		PurposeOfTravel: in.PurposeOfTravel,
		ModeOfTransport: Mode(in.ModeOfTransport),
		DaysRequested:   period.Len(),
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.DaysRequested < 1 {
		return nil, generic.NewValidationError("daysRequested", "gte", "a trip must span at least one day")
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	err = e.Store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetUser(ctx, actor.ID); err != nil {
			return err
		}
		if e.Config.CheckBalanceOnSubmit {
			balance, err := e.ledger(s).Balance(ctx, generic.EntityID(actor.ID))
			if err != nil {
				return err
			}
			requested := generic.Days(req.DaysRequested)
			if requested.GreaterThan(balance) {
				return &generic.InsufficientBalanceError{
					EntityID:  generic.EntityID(actor.ID),
					Available: balance,
					Requested: requested,
					Shortfall: requested.Sub(balance),
				}
			}
		}
		if err := s.CreateRequest(ctx, req); err != nil {
			return err
		}
		return e.audit(ctx, s, actor, generic.AuditRequestCreated, req.EmployeeID, req.ID, map[string]any{
			"days":        req.DaysRequested,
			"destination": req.Destination,
		})
	})
	if err != nil {
		return nil, e.failed("submit", actor.ID, err)
	}

	e.logf("request %s submitted by %s: %s, %d days", req.ID, actor.ID, period, req.DaysRequested)
	return &req, nil
}

// =============================================================================
// APPROVE / REJECT - The critical transactional operations
// =============================================================================

// Approve moves a PENDING request to APPROVED and debits the owner's balance
// by DaysRequested, as one all-or-nothing step.
func (e *Engine) Approve(ctx context.Context, actor Actor, requestID string) (*TravelRequest, error) {
	if err := e.Policy.Authorize(actor, ActionApprove, ""); err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var decided TravelRequest
	var remaining generic.Amount
	err := e.Store.WithTx(ctx, func(s Store) error {
		req, err := s.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return &generic.TransitionError{ID: req.ID, Current: string(req.Status), Target: string(StatusApproved)}
		}

		remaining, err = e.ledger(s).Debit(ctx, generic.Debit{
			EntityID:       generic.EntityID(req.EmployeeID),
			Amount:         generic.Days(req.DaysRequested),
			ReferenceID:    req.ID,
			Reason:         fmt.Sprintf("travel to %s approved", req.Destination),
			IdempotencyKey: "approve-" + req.ID,
			Actor:          actor.ID,
		})
		if err != nil {
			return err
		}

		now := e.now()
		req.Status = StatusApproved
		req.DecidedAt = &now
		req.DecidedBy = actor.ID
		req.UpdatedAt = now
		if err := s.DecideRequest(ctx, *req); err != nil {
			return err
		}

		decided = *req
		return e.audit(ctx, s, actor, generic.AuditRequestApproved, req.EmployeeID, req.ID, map[string]any{
			"days":       req.DaysRequested,
			"leavesLeft": remaining.Int(),
		})
	})
	if err != nil {
		return nil, e.failed("approve", requestID, err)
	}

	e.logf("request %s approved by %s: %d days debited from %s, %d left",
		decided.ID, actor.ID, decided.DaysRequested, decided.EmployeeID, remaining.Int())
	return &decided, nil
}

// Reject moves a PENDING request to REJECTED with a non-empty reason. The
// ledger is not touched.
func (e *Engine) Reject(ctx context.Context, actor Actor, requestID, reason string) (*TravelRequest, error) {
	if err := e.Policy.Authorize(actor, ActionReject, ""); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, generic.NewValidationError("reason", "required", "rejection reason is required")
	}
	if len(reason) > MaxReasonLength {
		return nil, generic.NewValidationError("reason", "max", fmt.Sprintf("rejection reason must be at most %d characters", MaxReasonLength))
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var decided TravelRequest
	err := e.Store.WithTx(ctx, func(s Store) error {
		req, err := s.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return &generic.TransitionError{ID: req.ID, Current: string(req.Status), Target: string(StatusRejected)}
		}

		now := e.now()
		req.Status = StatusRejected
		req.DecidedAt = &now
		req.DecidedBy = actor.ID
		req.RejectionReason = reason
		req.UpdatedAt = now
		if err := s.DecideRequest(ctx, *req); err != nil {
			return err
		}

		decided = *req
		return e.audit(ctx, s, actor, generic.AuditRequestRejected, req.EmployeeID, req.ID, map[string]any{
			"reason": reason,
		})
	})
	if err != nil {
		return nil, e.failed("reject", requestID, err)
	}

	e.logf("request %s rejected by %s: %s", decided.ID, actor.ID, reason)
	return &decided, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns one request. A caller who may not see it gets the same
// not-found error as for an absent id.
func (e *Engine) Get(ctx context.Context, actor Actor, requestID string) (*TravelRequest, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	req, err := e.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := e.Policy.Authorize(actor, ActionViewRequest, req.EmployeeID); err != nil {
		return nil, fmt.Errorf("request %s: %w", requestID, generic.ErrNotFound)
	}
	return req, nil
}

// ListMine returns the actor's own requests, newest first.
func (e *Engine) ListMine(ctx context.Context, actor Actor) ([]TravelRequest, error) {
	return e.ListForEmployee(ctx, actor, actor.ID)
}

// ListForEmployee returns one employee's requests, newest first.
func (e *Engine) ListForEmployee(ctx context.Context, actor Actor, employeeID string) ([]TravelRequest, error) {
	if err := e.Policy.Authorize(actor, ActionListEmployee, employeeID); err != nil {
		return nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Store.ListRequestsByEmployee(ctx, employeeID)
}

// ListAll returns every request, newest first, joined with employee,
// reporting manager and decider.
func (e *Engine) ListAll(ctx context.Context, actor Actor, status *Status) ([]RequestView, error) {
	if err := e.Policy.Authorize(actor, ActionListAll, ""); err != nil {
		return nil, err
	}
	if status != nil && !status.Valid() {
		return nil, generic.NewValidationError("status", "oneof", "status must be one of: PENDING APPROVED REJECTED")
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	reqs, err := e.Store.ListRequests(ctx, status)
	if err != nil {
		return nil, err
	}
	users, err := e.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return joinViews(reqs, users), nil
}

func joinViews(reqs []TravelRequest, users []User) []RequestView {
	byID := make(map[string]*User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	views := make([]RequestView, len(reqs))
	for i, r := range reqs {
		v := RequestView{TravelRequest: r, Employee: byID[r.EmployeeID]}
		if v.Employee != nil && v.Employee.ManagerID != "" {
			v.Manager = byID[v.Employee.ManagerID]
		}
		if r.DecidedBy != "" {
			v.Decider = byID[r.DecidedBy]
		}
		views[i] = v
	}
	return views
}

// Balance returns the employee's remaining leave days.
func (e *Engine) Balance(ctx context.Context, actor Actor, employeeID string) (int, error) {
	if err := e.Policy.Authorize(actor, ActionViewBalance, employeeID); err != nil {
		return 0, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	u, err := e.Store.GetUser(ctx, employeeID)
	if err != nil {
		return 0, err
	}
	return u.LeavesLeft, nil
}

// Ledger returns the employee's balance history and totals.
func (e *Engine) Ledger(ctx context.Context, actor Actor, employeeID string) (generic.BalanceSnapshot, []generic.Transaction, error) {
	if err := e.Policy.Authorize(actor, ActionViewBalance, employeeID); err != nil {
		return generic.BalanceSnapshot{}, nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if _, err := e.Store.GetUser(ctx, employeeID); err != nil {
		return generic.BalanceSnapshot{}, nil, err
	}
	txs, err := e.Store.Load(ctx, generic.EntityID(employeeID))
	if err != nil {
		return generic.BalanceSnapshot{}, nil, err
	}
	return generic.Summarize(generic.EntityID(employeeID), txs), txs, nil
}

// History returns the audit trail of one request, oldest first.
func (e *Engine) History(ctx context.Context, actor Actor, requestID string) ([]generic.AuditEntry, error) {
	if err := e.Policy.Authorize(actor, ActionViewAudit, ""); err != nil {
		return nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if _, err := e.Store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return e.Store.QueryAudit(ctx, generic.AuditFilter{ReferenceID: &requestID})
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// AdjustBalance applies a manual correction to an employee's balance and
// returns the new balance.
func (e *Engine) AdjustBalance(ctx context.Context, actor Actor, employeeID string, delta int, reason string) (int, error) {
	if err := e.Policy.Authorize(actor, ActionAdjustBalance, ""); err != nil {
		return 0, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return 0, generic.NewValidationError("reason", "required", "adjustment reason is required")
	}
	if len(reason) > MaxReasonLength {
		return 0, generic.NewValidationError("reason", "max", fmt.Sprintf("adjustment reason must be at most %d characters", MaxReasonLength))
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var next generic.Amount
	err := e.Store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetUser(ctx, employeeID); err != nil {
			return err
		}
		var err error
		next, err = e.ledger(s).Adjust(ctx, generic.EntityID(employeeID), generic.Days(delta), reason, actor.ID)
		if err != nil {
			return err
		}
		return e.audit(ctx, s, actor, generic.AuditManualAdjust, employeeID, "", map[string]any{
			"delta":  delta,
			"reason": reason,
		})
	})
	if err != nil {
		return 0, e.failed("adjust", employeeID, err)
	}

	e.logf("balance of %s adjusted by %d by %s: %s", employeeID, delta, actor.ID, reason)
	return next.Int(), nil
}
