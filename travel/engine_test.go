package travel_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

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

type fixture struct {
	engine   *travel.Engine
	store    *memory.Store
	manager  travel.Actor
	employee travel.Actor
	other    travel.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	tokens, err := auth.NewTokenService("test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	store := memory.New()
	e := travel.NewEngine(store, tokens, travel.DefaultConfig())
	e.Passwords = auth.Passwords{Cost: bcrypt.MinCost}
	e.Now = tickingClock(time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC))

	session, err := e.PublicSignup(ctx, signupInput("Maria", "manager@gmail.com", "", 25))
	require.NoError(t, err)
	manager := session.User.Actor()

	alice, err := e.Signup(ctx, manager, signupInput("Alice", "alice@gmail.com", "EMPLOYEE", 30))
	require.NoError(t, err)
	bob, err := e.Signup(ctx, manager, signupInput("Bobby", "bob@gmail.com", "EMPLOYEE", 28))
	require.NoError(t, err)

	return &fixture{engine: e, store: store, manager: manager, employee: alice.Actor(), other: bob.Actor()}
}

// tickingClock advances one second per call so creation order is
// observable in timestamps.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func signupInput(first, email, role string, leaves int) travel.SignupInput {
	return travel.SignupInput{
		FirstName:  first,
		LastName:   "Tester",
		Email:      email,
		Password:   "password123",
		Role:       role,
		LeavesLeft: &leaves,
	}
}

func trip(from, to string) travel.SubmitInput {
	return travel.SubmitInput{
		FromLocation:    "Berlin",
		Destination:     "Paris",
		FromDate:        from,
		ToDate:          to,
		PurposeOfTravel: "Client workshop",
		ModeOfTransport: "TRAIN",
	}
}

func (f *fixture) balance(t *testing.T, a travel.Actor) int {
	t.Helper()
	n, err := f.engine.Balance(context.Background(), f.manager, a.ID)
	require.NoError(t, err)
	return n
}

// =============================================================================
// LIFECYCLE SCENARIOS
// =============================================================================

func TestSubmit_CreatesPendingRequestWithInclusiveDays(t *testing.T) {
	f := newFixture(t)

	req, err := f.engine.Submit(context.Background(), f.employee, trip("2025-06-01", "2025-06-03"))
	require.NoError(t, err)

	assert.Equal(t, travel.StatusPending, req.Status)
	assert.Equal(t, 3, req.DaysRequested)
	assert.Equal(t, f.employee.ID, req.EmployeeID)
	assert.Nil(t, req.DecidedAt)
	assert.Empty(t, req.RejectionReason)
	assert.Equal(t, 30, f.balance(t, f.employee), "submission must not touch the balance")
}

func TestApprove_DebitsBalanceOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Submit(ctx, f.employee, trip("2025-06-01", "2025-06-03"))
	require.NoError(t, err)

	approved, err := f.engine.Approve(ctx, f.manager, req.ID)
	require.NoError(t, err)

	assert.Equal(t, travel.StatusApproved, approved.Status)
	require.NotNil(t, approved.DecidedAt)
	assert.Equal(t, f.manager.ID, approved.DecidedBy)
	assert.Equal(t, 27, f.balance(t, f.employee))

	snap, txs, err := f.engine.Ledger(ctx, f.manager, f.employee.ID)
	require.NoError(t, err)
	assert.Equal(t, 27, snap.Balance.Int())
	assert.Equal(t, 3, snap.TotalConsumed.Int())
	require.Len(t, txs, 2)
	assert.Equal(t, generic.TxConsumption, txs[1].Type)
	assert.Equal(t, req.ID, txs[1].ReferenceID)
}

func TestReject_LeavesLedgerUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Submit(ctx, f.employee, trip("2025-07-10", "2025-07-12"))
	require.NoError(t, err)

	rejected, err := f.engine.Reject(ctx, f.manager, req.ID, "  Budget constraints ")
	require.NoError(t, err)

	assert.Equal(t, travel.StatusRejected, rejected.Status)
	assert.Equal(t, "Budget constraints", rejected.RejectionReason)
	require.NotNil(t, rejected.DecidedAt)
	assert.Equal(t, 30, f.balance(t, f.employee))
}

func TestReject_EmptyReason_ValidationError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Submit(ctx, f.employee, trip("2025-07-10", "2025-07-12"))
	require.NoError(t, err)

	for _, reason := range []string{"", "   "} {
		_, err = f.engine.Reject(ctx, f.manager, req.ID, reason)
		assert.ErrorIs(t, err, generic.ErrValidation)
	}

	got, err := f.engine.Get(ctx, f.manager, req.ID)
	require.NoError(t, err)
	assert.Equal(t, travel.StatusPending, got.Status)
}

func TestApprove_AlreadyApproved_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second, err := f.engine.Signup(ctx, f.manager, signupInput("Second", "second@gmail.com", "MANAGER", 20))
	require.NoError(t, err)

	req, err := f.engine.Submit(ctx, f.employee, trip("2025-06-01", "2025-06-03"))
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, f.manager, req.ID)
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, second.Actor(), req.ID)
	var te *generic.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "APPROVED", te.Current)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = f.engine.Reject(ctx, second.Actor(), req.ID, "too late")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	assert.Equal(t, 27, f.balance(t, f.employee), "second decision must not debit")
}

func TestApprove_ByEmployee_Forbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Submit(ctx, f.employee, trip("2025-06-01", "2025-06-03"))
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, f.employee, req.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)
	_, err = f.engine.Approve(ctx, f.other, req.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)
	_, err = f.engine.Reject(ctx, f.employee, req.ID, "no")
	assert.ErrorIs(t, err, generic.ErrForbidden)

	got, err := f.engine.Get(ctx, f.employee, req.ID)
	require.NoError(t, err)
	assert.Equal(t, travel.StatusPending, got.Status)
	assert.Equal(t, 30, f.balance(t, f.employee))
}

func TestApprove_UnknownRequest_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Approve(context.Background(), f.manager, "does-not-exist")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestApprove_InsufficientBalance_NothingChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two requests that each fit, but not together.
	first, err := f.engine.Submit(ctx, f.other, trip("2025-08-01", "2025-08-20"))
	require.NoError(t, err)
	second, err := f.engine.Submit(ctx, f.other, trip("2025-09-01", "2025-09-10"))
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, f.manager, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, f.balance(t, f.other))

	_, err = f.engine.Approve(ctx, f.manager, second.ID)
	var ibe *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, 8, ibe.Available.Int())
	assert.Equal(t, 10, ibe.Requested.Int())

	got, err := f.engine.Get(ctx, f.manager, second.ID)
	require.NoError(t, err)
	assert.Equal(t, travel.StatusPending, got.Status)
	assert.Equal(t, 8, f.balance(t, f.other))
}

func TestApproveThenReject_EitherOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.Submit(ctx, f.employee, trip("2025-06-01", "2025-06-01"))
	require.NoError(t, err)
	_, err = f.engine.Reject(ctx, f.manager, a.ID, "no budget")
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, f.manager, a.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	assert.Equal(t, 30, f.balance(t, f.employee))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentDecisions_ExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Submit(ctx, f.employee, trip("2025-06-01", "2025-06-05"))
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = f.engine.Approve(ctx, f.manager, req.ID)
			} else {
				_, errs[i] = f.engine.Reject(ctx, f.manager, req.ID, "conflict")
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	}
	assert.Equal(t, 1, wins)

	got, err := f.engine.Get(ctx, f.manager, req.ID)
	require.NoError(t, err)
	switch got.Status {
	case travel.StatusApproved:
		assert.Equal(t, 25, f.balance(t, f.employee))
	case travel.StatusRejected:
		assert.Equal(t, 30, f.balance(t, f.employee))
	default:
		t.Fatalf("request still %s", got.Status)
	}
}

func TestConcurrentApprovals_DifferentRequests_NeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 28 days available, 10 requests of 5 days: at most 5 can be approved.
	var ids []string
	for i := 0; i < 10; i++ {
		req, err := f.engine.Submit(ctx, f.other, trip("2025-10-01", "2025-10-05"))
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	approved := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.engine.Approve(ctx, f.manager, id)
			if err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 5, approved)
	assert.Equal(t, 3, f.balance(t, f.other))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    travel.SubmitInput
		field string
	}{
		{"to before from", trip("2025-06-03", "2025-06-01"), "toDate"},
		{"bad date", trip("2025-13-01", "2025-06-01"), "fromDate"},
		{"missing destination", func() travel.SubmitInput { in := trip("2025-06-01", "2025-06-02"); in.Destination = " "; return in }(), "destination"},
		{"unknown mode", func() travel.SubmitInput { in := trip("2025-06-01", "2025-06-02"); in.ModeOfTransport = "ROCKET"; return in }(), "modeOfTransport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Submit(ctx, f.employee, tt.in)
			var ve *generic.ValidationError
			require.ErrorAs(t, err, &ve)
			require.NotEmpty(t, ve.Fields)
			assert.Equal(t, tt.field, ve.Fields[0].Field)
		})
	}

	mine, err := f.engine.ListMine(ctx, f.employee)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestSubmit_ModeIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	in := trip("2025-06-01", "2025-06-01")
	in.ModeOfTransport = "flight"

	req, err := f.engine.Submit(context.Background(), f.employee, in)
	require.NoError(t, err)
	assert.Equal(t, travel.ModeFlight, req.ModeOfTransport)
	assert.Equal(t, 1, req.DaysRequested)
}

func TestSubmit_ExceedingBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, f.employee, trip("2025-06-01", "2025-07-15"))
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	f.engine.Config.CheckBalanceOnSubmit = false
	req, err := f.engine.Submit(ctx, f.employee, trip("2025-06-01", "2025-07-15"))
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, f.manager, req.ID)
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance, "approval re-checks the balance")
}

func TestSubmit_LongRange_ExactDayCount(t *testing.T) {
	// GIVEN: A trip spanning more than three centuries
	// WHEN:  It is submitted without the balance check
	// THEN:  daysRequested is the exact inclusive count

	f := newFixture(t)
	f.engine.Config.CheckBalanceOnSubmit = false

	req, err := f.engine.Submit(context.Background(), f.employee, trip("1700-01-01", "2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, 118705, req.DaysRequested)
	assert.NoError(t, req.CheckInvariants())
}

// =============================================================================
// VISIBILITY
// =============================================================================

func TestGet_OtherEmployeesRequest_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Submit(ctx, f.employee, trip("2025-06-01", "2025-06-03"))
	require.NoError(t, err)

	_, err = f.engine.Get(ctx, f.other, req.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)
	assert.False(t, errors.Is(err, generic.ErrForbidden))

	_, err = f.engine.Get(ctx, f.manager, req.ID)
	assert.NoError(t, err)
}

func TestListForEmployee_OwnerOrManager(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, f.employee, trip("2025-06-01", "2025-06-03"))
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, f.employee, trip("2025-07-01", "2025-07-02"))
	require.NoError(t, err)

	mine, err := f.engine.ListMine(ctx, f.employee)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "2025-07-01", mine[0].FromDate.String(), "newest first")

	_, err = f.engine.ListForEmployee(ctx, f.other, f.employee.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)

	theirs, err := f.engine.ListForEmployee(ctx, f.manager, f.employee.ID)
	require.NoError(t, err)
	assert.Len(t, theirs, 2)

	_, err = f.engine.Balance(ctx, f.other, f.employee.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)
	n, err := f.engine.Balance(ctx, f.employee, f.employee.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
}

func TestListAll_JoinsPeopleAndFiltersStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.Submit(ctx, f.employee, trip("2025-06-01", "2025-06-03"))
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, f.other, trip("2025-06-05", "2025-06-06"))
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, f.manager, a.ID)
	require.NoError(t, err)

	all, err := f.engine.ListAll(ctx, f.manager, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	approved := travel.StatusApproved
	views, err := f.engine.ListAll(ctx, f.manager, &approved)
	require.NoError(t, err)
	require.Len(t, views, 1)
	v := views[0]
	require.NotNil(t, v.Employee)
	assert.Equal(t, "alice@gmail.com", v.Employee.Email)
	require.NotNil(t, v.Decider)
	assert.Equal(t, f.manager.ID, v.Decider.ID)

	_, err = f.engine.ListAll(ctx, f.employee, nil)
	assert.ErrorIs(t, err, generic.ErrForbidden)

	bogus := travel.Status("CANCELLED")
	_, err = f.engine.ListAll(ctx, f.manager, &bogus)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestHistory_RecordsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Submit(ctx, f.employee, trip("2025-06-01", "2025-06-03"))
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, f.manager, req.ID)
	require.NoError(t, err)

	entries, err := f.engine.History(ctx, f.manager, req.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, generic.AuditRequestCreated, entries[0].Action)
	assert.Equal(t, generic.AuditRequestApproved, entries[1].Action)
	assert.Equal(t, f.manager.ID, entries[1].ActorID)

	_, err = f.engine.History(ctx, f.employee, req.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestInvariants_HoldAfterMixedDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for _, d := range [][2]string{{"2025-06-01", "2025-06-02"}, {"2025-06-10", "2025-06-12"}, {"2025-07-01", "2025-07-01"}} {
		req, err := f.engine.Submit(ctx, f.employee, trip(d[0], d[1]))
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}
	_, err := f.engine.Approve(ctx, f.manager, ids[0])
	require.NoError(t, err)
	_, err = f.engine.Reject(ctx, f.manager, ids[1], "overlap with release")
	require.NoError(t, err)

	reqs, err := f.engine.ListMine(ctx, f.employee)
	require.NoError(t, err)
	approvedDays := 0
	for _, r := range reqs {
		assert.NoError(t, r.CheckInvariants())
		if r.Status == travel.StatusApproved {
			approvedDays += r.DaysRequested
		}
	}
	assert.Equal(t, 30-approvedDays, f.balance(t, f.employee))

	snap, _, err := f.engine.Ledger(ctx, f.employee, f.employee.ID)
	require.NoError(t, err)
	assert.Equal(t, f.balance(t, f.employee), snap.Balance.Int(), "materialised balance equals ledger sum")
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestAdjustBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.engine.AdjustBalance(ctx, f.manager, f.employee.ID, 2, "comp days for weekend travel")
	require.NoError(t, err)
	assert.Equal(t, 32, n)

	_, err = f.engine.AdjustBalance(ctx, f.manager, f.employee.ID, -40, "typo")
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	_, err = f.engine.AdjustBalance(ctx, f.manager, f.employee.ID, 1, "")
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.engine.AdjustBalance(ctx, f.manager, f.employee.ID, 0, "nothing")
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.engine.AdjustBalance(ctx, f.employee, f.employee.ID, 5, "self service")
	assert.ErrorIs(t, err, generic.ErrForbidden)

	_, err = f.engine.AdjustBalance(ctx, f.manager, "ghost", 1, "who")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	assert.Equal(t, 32, f.balance(t, f.employee))
}

// =============================================================================
// TIMEOUTS
// =============================================================================

func TestApprove_CancelledContext(t *testing.T) {
	f := newFixture(t)
	req, err := f.engine.Submit(context.Background(), f.employee, trip("2025-06-01", "2025-06-03"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.engine.Approve(ctx, f.manager, req.ID)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := f.engine.Get(context.Background(), f.manager, req.ID)
	require.NoError(t, err)
	assert.Equal(t, travel.StatusPending, got.Status)
	assert.Equal(t, 30, f.balance(t, f.employee))
}

func TestDecisionFailures_LogOnlyUnexpected(t *testing.T) {
	f := newFixture(t)
	req, err := f.engine.Submit(context.Background(), f.employee, trip("2025-06-01", "2025-06-03"))
	require.NoError(t, err)

	var buf bytes.Buffer
	f.engine.Logger = log.New(&buf, "", 0)

	_, err = f.engine.Reject(context.Background(), f.manager, req.ID, "")
	require.ErrorIs(t, err, generic.ErrValidation)
	_, err = f.engine.Approve(context.Background(), f.manager, "missing")
	require.ErrorIs(t, err, generic.ErrNotFound)
	assert.Empty(t, buf.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.engine.Approve(ctx, f.manager, req.ID)
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, buf.String(), "approve "+req.ID+" failed")

	buf.Reset()
	_, err = f.engine.Approve(context.Background(), f.manager, req.ID)
	require.NoError(t, err)
	_, err = f.engine.Approve(context.Background(), f.manager, req.ID)
	require.ErrorIs(t, err, generic.ErrInvalidTransition)
	assert.NotContains(t, buf.String(), "failed")
}
