/*
ledger.go - Append-only leave ledger

PURPOSE:
  The Ledger is the source of truth for every leave balance change.
  Grants, consumptions and adjustments are recorded here; the balance is
  computed by replaying them.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete
  2. NON-NEGATIVE: Debit and Adjust never take a balance below zero
  3. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)

ATOMICITY:
  The ledger itself holds no lock. Callers that need a balance check and a
  write to be one step (approving a request) construct the ledger over the
  transactional view handed out by the store's WithTx, so the read and the
  append happen inside the same database transaction.

EXAMPLE FLOW:
  1. Employee signs up with 30 days: TxGrant +30
  2. Trip of 3 days approved:        TxConsumption -3
  3. Manager corrects by +1:         TxAdjustment +1

  Ledger: [+30, -3, +1] = 28 days

SEE ALSO:
  - store.go: Low-level persistence interface
  - travel/engine.go: The only caller that debits
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER - Append-only transaction log
// =============================================================================

// Ledger is the source of truth for all balance changes.
type Ledger interface {
	// Append adds a transaction. Fails if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// Transactions returns all transactions for an entity, chronologically.
	Transactions(ctx context.Context, entityID EntityID) ([]Transaction, error)

	// Balance computes the current balance from transactions.
	Balance(ctx context.Context, entityID EntityID) (Amount, error)

	// Debit consumes amount and returns the new balance. Fails with
	// *InsufficientBalanceError without writing if amount exceeds balance.
	Debit(ctx context.Context, d Debit) (Amount, error)
}

// Debit describes a guarded consumption.
type Debit struct {
	EntityID       EntityID
	Amount         Amount
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Actor          string
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store

	// Now is the clock used for EffectiveAt/CreatedAt. Defaults to time.Now.
	Now func() time.Time
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: time.Now}
}

func (l *DefaultLedger) now() TimePoint {
	if l.Now == nil {
		return Today()
	}
	return DayOf(l.Now())
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	if tx.ID == "" {
		tx.ID = TransactionID(uuid.NewString())
	}
	if tx.EffectiveAt.IsZero() {
		tx.EffectiveAt = l.now()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = tx.EffectiveAt
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) Transactions(ctx context.Context, entityID EntityID) ([]Transaction, error) {
	return l.Store.Load(ctx, entityID)
}

func (l *DefaultLedger) Balance(ctx context.Context, entityID EntityID) (Amount, error) {
	txs, err := l.Store.Load(ctx, entityID)
	if err != nil {
		return Amount{}, err
	}
	return Summarize(entityID, txs).Balance, nil
}

// Snapshot returns the folded totals for an entity.
func (l *DefaultLedger) Snapshot(ctx context.Context, entityID EntityID) (BalanceSnapshot, error) {
	txs, err := l.Store.Load(ctx, entityID)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	return Summarize(entityID, txs), nil
}

func (l *DefaultLedger) Debit(ctx context.Context, d Debit) (Amount, error) {
	if !d.Amount.IsPositive() {
		return Amount{}, NewValidationError("amount", "gt", "debit amount must be positive")
	}

	balance, err := l.Balance(ctx, d.EntityID)
	if err != nil {
		return Amount{}, fmt.Errorf("balance check failed: %w", err)
	}
	if d.Amount.GreaterThan(balance) {
		return Amount{}, &InsufficientBalanceError{
			EntityID:  d.EntityID,
			Available: balance,
			Requested: d.Amount,
			Shortfall: d.Amount.Sub(balance),
		}
	}

	err = l.Append(ctx, Transaction{
		EntityID:       d.EntityID,
		Delta:          d.Amount.Neg(),
		Type:           TxConsumption,
		ReferenceID:    d.ReferenceID,
		Reason:         d.Reason,
		IdempotencyKey: d.IdempotencyKey,
		CreatedBy:      d.Actor,
	})
	if err != nil {
		return Amount{}, err
	}
	return balance.Sub(d.Amount), nil
}

// Grant records an allocation. Amount must be zero or positive.
func (l *DefaultLedger) Grant(ctx context.Context, entityID EntityID, amount Amount, reason, actor string) error {
	if amount.IsNegative() {
		return NewValidationError("amount", "gte", "grant amount must not be negative")
	}
	if amount.IsZero() {
		return nil
	}
	return l.Append(ctx, Transaction{
		EntityID:       entityID,
		Delta:          amount,
		Type:           TxGrant,
		Reason:         reason,
		IdempotencyKey: "grant-" + string(entityID),
		CreatedBy:      actor,
	})
}

// Adjust records a manual correction and returns the new balance. The
// resulting balance may not be negative.
func (l *DefaultLedger) Adjust(ctx context.Context, entityID EntityID, delta Amount, reason, actor string) (Amount, error) {
	if delta.IsZero() {
		return Amount{}, NewValidationError("delta", "ne", "adjustment must be non-zero")
	}
	balance, err := l.Balance(ctx, entityID)
	if err != nil {
		return Amount{}, fmt.Errorf("balance check failed: %w", err)
	}
	next := balance.Add(delta)
	if next.IsNegative() {
		return Amount{}, &InsufficientBalanceError{
			EntityID:  entityID,
			Available: balance,
			Requested: delta.Neg(),
			Shortfall: next.Neg(),
		}
	}
	err = l.Append(ctx, Transaction{
		EntityID:  entityID,
		Delta:     delta,
		Type:      TxAdjustment,
		Reason:    reason,
		CreatedBy: actor,
	})
	if err != nil {
		return Amount{}, err
	}
	return next, nil
}
