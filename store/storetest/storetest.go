// Package storetest holds the behaviour every travel.TxStore must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/travel-engine/generic"
	"github.com/warp/travel-engine/travel"
)

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) travel.TxStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s travel.TxStore)
	}{
		{"Users", testUsers},
		{"DuplicateEmail", testDuplicateEmail},
		{"AppendMovesBalance", testAppendMovesBalance},
		{"AppendRefusesOverdraw", testAppendRefusesOverdraw},
		{"Idempotency", testIdempotency},
		{"RequestsNewestFirst", testRequestsNewestFirst},
		{"DecideOnlyPending", testDecideOnlyPending},
		{"WithTxRollsBack", testWithTxRollsBack},
		{"WithTxCommits", testWithTxCommits},
		{"Audit", testAudit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)

func user(id, email string, role travel.Role) travel.User {
	return travel.User{
		ID:           id,
		FirstName:    "Test",
		LastName:     "User",
		Email:        email,
		PasswordHash: "hash",
		Role:         role,
		CreatedAt:    base,
	}
}

func request(id, employeeID string, created time.Time) travel.TravelRequest {
	return travel.TravelRequest{
		ID:              id,
		EmployeeID:      employeeID,
		FromLocation:    "Berlin",
		Destination:     "Paris",
		FromDate:        generic.NewTimePoint(2025, time.June, 1),
		ToDate:          generic.NewTimePoint(2025, time.June, 3),
		PurposeOfTravel: "Workshop",
		ModeOfTransport: travel.ModeTrain,
		DaysRequested:   3,
		Status:          travel.StatusPending,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func grant(entityID string, days int, key string) generic.Transaction {
	return generic.Transaction{
		ID:             generic.TransactionID("tx-" + key),
		EntityID:       generic.EntityID(entityID),
		EffectiveAt:    generic.NewTimePoint(2025, time.May, 1),
		CreatedAt:      generic.NewTimePoint(2025, time.May, 1),
		Delta:          generic.Days(days),
		Type:           generic.TxGrant,
		IdempotencyKey: key,
	}
}

func seedUser(t *testing.T, s travel.Store, id string, days int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, user(id, id+"@gmail.com", travel.RoleEmployee)))
	if days > 0 {
		require.NoError(t, s.Append(ctx, grant(id, days, "grant-"+id)))
	}
}

func testUsers(t *testing.T, s travel.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, user("m1", "Boss@gmail.com", travel.RoleManager)))
	require.NoError(t, s.CreateUser(ctx, user("e1", "e1@gmail.com", travel.RoleEmployee)))

	u, err := s.GetUser(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, travel.RoleManager, u.Role)
	assert.True(t, base.Equal(u.CreatedAt))

	u, err = s.GetUserByEmail(ctx, "boss@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "m1", u.ID)

	_, err = s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = s.GetUserByEmail(ctx, "nobody@gmail.com")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	n, err := s.CountUsersByRole(ctx, travel.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testDuplicateEmail(t *testing.T, s travel.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, user("a", "same@gmail.com", travel.RoleEmployee)))
	err := s.CreateUser(ctx, user("b", "SAME@gmail.com", travel.RoleEmployee))
	assert.ErrorIs(t, err, travel.ErrEmailTaken)
}

func testAppendMovesBalance(t *testing.T, s travel.TxStore) {
	ctx := context.Background()
	seedUser(t, s, "e1", 30)

	debit := grant("e1", -3, "approve-r1")
	debit.Type = generic.TxConsumption
	require.NoError(t, s.Append(ctx, debit))

	u, err := s.GetUser(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 27, u.LeavesLeft)

	txs, err := s.Load(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, generic.TxGrant, txs[0].Type)
	assert.Equal(t, -3, txs[1].Delta.Int())
	assert.Equal(t, "2025-05-01", txs[1].EffectiveAt.String())
}

func testAppendRefusesOverdraw(t *testing.T, s travel.TxStore) {
	ctx := context.Background()
	seedUser(t, s, "e1", 2)

	debit := grant("e1", -3, "approve-r1")
	debit.Type = generic.TxConsumption
	err := s.WithTx(ctx, func(tx travel.Store) error { return tx.Append(ctx, debit) })
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	u, err := s.GetUser(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, u.LeavesLeft)
	txs, err := s.Load(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func testIdempotency(t *testing.T, s travel.TxStore) {
	ctx := context.Background()
	seedUser(t, s, "e1", 0)

	require.NoError(t, s.Append(ctx, grant("e1", 5, "k1")))
	ok, err := s.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	dup := grant("e1", 5, "k1")
	dup.ID = "tx-other"
	assert.ErrorIs(t, s.Append(ctx, dup), generic.ErrDuplicateIdempotencyKey)

	u, err := s.GetUser(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 5, u.LeavesLeft)
}

func testRequestsNewestFirst(t *testing.T, s travel.TxStore) {
	ctx := context.Background()
	seedUser(t, s, "e1", 30)
	seedUser(t, s, "e2", 30)

	require.NoError(t, s.CreateRequest(ctx, request("r1", "e1", base)))
	require.NoError(t, s.CreateRequest(ctx, request("r2", "e2", base.Add(time.Minute))))
	require.NoError(t, s.CreateRequest(ctx, request("r3", "e1", base.Add(2*time.Minute))))

	mine, err := s.ListRequestsByEmployee(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "r3", mine[0].ID)
	assert.Equal(t, "r1", mine[1].ID)

	all, err := s.ListRequests(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"r3", "r2", "r1"}, []string{all[0].ID, all[1].ID, all[2].ID})

	none, err := s.ListRequestsByEmployee(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	got, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", got.FromDate.String())
	assert.Equal(t, travel.ModeTrain, got.ModeOfTransport)
	assert.Nil(t, got.DecidedAt)

	_, err = s.GetRequest(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func testDecideOnlyPending(t *testing.T, s travel.TxStore) {
	ctx := context.Background()
	seedUser(t, s, "e1", 30)
	require.NoError(t, s.CreateUser(ctx, user("m1", "m1@gmail.com", travel.RoleManager)))
	require.NoError(t, s.CreateRequest(ctx, request("r1", "e1", base)))

	decided := request("r1", "e1", base)
	at := base.Add(time.Hour)
	decided.Status = travel.StatusRejected
	decided.DecidedAt = &at
	decided.DecidedBy = "m1"
	decided.RejectionReason = "Budget constraints"
	decided.UpdatedAt = at
	require.NoError(t, s.DecideRequest(ctx, decided))

	got, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, travel.StatusRejected, got.Status)
	assert.Equal(t, "Budget constraints", got.RejectionReason)
	require.NotNil(t, got.DecidedAt)
	assert.True(t, at.Equal(*got.DecidedAt))

	again := decided
	again.Status = travel.StatusApproved
	again.RejectionReason = ""
	err = s.DecideRequest(ctx, again)
	var te *generic.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, string(travel.StatusRejected), te.Current)

	approved, err := s.ListRequests(ctx, statusPtr(travel.StatusApproved))
	require.NoError(t, err)
	assert.Empty(t, approved)
	rejected, err := s.ListRequests(ctx, statusPtr(travel.StatusRejected))
	require.NoError(t, err)
	assert.Len(t, rejected, 1)
}

func testWithTxRollsBack(t *testing.T, s travel.TxStore) {
	ctx := context.Background()
	seedUser(t, s, "e1", 30)
	require.NoError(t, s.CreateRequest(ctx, request("r1", "e1", base)))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx travel.Store) error {
		debit := grant("e1", -3, "approve-r1")
		debit.Type = generic.TxConsumption
		if err := tx.Append(ctx, debit); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, err := s.GetUser(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 30, u.LeavesLeft)
	ok, err := s.Exists(ctx, "approve-r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testWithTxCommits(t *testing.T, s travel.TxStore) {
	ctx := context.Background()
	seedUser(t, s, "e1", 30)
	require.NoError(t, s.CreateUser(ctx, user("m1", "m1@gmail.com", travel.RoleManager)))
	require.NoError(t, s.CreateRequest(ctx, request("r1", "e1", base)))

	err := s.WithTx(ctx, func(tx travel.Store) error {
		r, err := tx.GetRequest(ctx, "r1")
		if err != nil {
			return err
		}
		debit := grant("e1", -r.DaysRequested, "approve-r1")
		debit.Type = generic.TxConsumption
		if err := tx.Append(ctx, debit); err != nil {
			return err
		}
		at := base.Add(time.Hour)
		r.Status = travel.StatusApproved
		r.DecidedAt = &at
		r.DecidedBy = "m1"
		r.UpdatedAt = at
		return tx.DecideRequest(ctx, *r)
	})
	require.NoError(t, err)

	u, err := s.GetUser(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 27, u.LeavesLeft)
	r, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, travel.StatusApproved, r.Status)
}

func testAudit(t *testing.T, s travel.TxStore) {
	ctx := context.Background()
	entries := []generic.AuditEntry{
		{ID: "a1", Timestamp: base, ActorID: "e1", Action: generic.AuditRequestCreated, EntityID: "e1", ReferenceID: "r1", Payload: map[string]any{"days": 3}},
		{ID: "a2", Timestamp: base.Add(time.Minute), ActorID: "m1", Action: generic.AuditRequestApproved, EntityID: "e1", ReferenceID: "r1"},
		{ID: "a3", Timestamp: base.Add(2 * time.Minute), ActorID: "m1", Action: generic.AuditUserCreated, EntityID: "e2"},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendAudit(ctx, e))
	}

	ref := "r1"
	got, err := s.QueryAudit(ctx, generic.AuditFilter{ReferenceID: &ref})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, generic.AuditRequestApproved, got[1].Action)
	assert.EqualValues(t, 3, got[0].Payload["days"])

	actor := "m1"
	got, err = s.QueryAudit(ctx, generic.AuditFilter{ActorID: &actor, Actions: []generic.AuditAction{generic.AuditUserCreated}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a3", got[0].ID)
}

func statusPtr(s travel.Status) *travel.Status { return &s }
