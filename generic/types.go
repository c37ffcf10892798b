/*
Package generic provides the leave ledger engine.

PURPOSE:
  This package contains the domain-agnostic pieces of leave accounting:
  amounts, ledger transactions, calendar periods and the error taxonomy.
  The travel package builds the request lifecycle on top of it; nothing in
  here knows what a travel request is.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity of leave with a unit (e.g., 3 days)
  - Transaction: An immutable ledger entry recording a balance change
  - EntityID: The owner of a balance (an employee)

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing entity/transaction IDs
  4. Auditability: Every transaction has reason, reference, and idempotency key

USAGE:
  tx := generic.Transaction{
      EntityID: "emp-123",
      Delta:    generic.NewAmountFromInt(-3, generic.UnitDays),
      Type:     generic.TxConsumption,
  }

SEE ALSO:
  - ledger.go: Balance calculation and guarded debits
  - store.go: Transaction persistence interface
  - period.go: Inclusive calendar ranges
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays Unit = "days"
)

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

// Days is shorthand for a whole number of days.
func Days(n int) Amount { return NewAmountFromInt(n, UnitDays) }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }

// Int returns the whole-day part of the amount. Leave is granted and
// consumed in whole days, so this is lossless for ledger-produced amounts.
func (a Amount) Int() int { return int(a.Value.IntPart()) }

func (a Amount) String() string { return a.Value.String() + " " + string(a.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change to a leave balance
// =============================================================================

type TransactionType string

const (
	TxGrant       TransactionType = "grant"       // Initial allocation at signup
	TxConsumption TransactionType = "consumption" // Leave used (approved request)
	TxAdjustment  TransactionType = "adjustment"  // Manual manager correction
	TxReversal    TransactionType = "reversal"    // Undo a previous transaction
)

type Transaction struct {
	ID             TransactionID
	EntityID       EntityID
	EffectiveAt    TimePoint
	Delta          Amount
	Type           TransactionType
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	// Audit fields
	CreatedBy string // Actor who created this transaction
	CreatedAt TimePoint
}

// =============================================================================
// BALANCE SNAPSHOT - Computed state at a point in time
// =============================================================================

type BalanceSnapshot struct {
	EntityID      EntityID
	Balance       Amount
	TotalGranted  Amount
	TotalConsumed Amount
	TotalAdjusted Amount
}

// Summarize folds a transaction history into a snapshot.
func Summarize(entityID EntityID, txs []Transaction) BalanceSnapshot {
	snap := BalanceSnapshot{
		EntityID:      entityID,
		Balance:       Days(0),
		TotalGranted:  Days(0),
		TotalConsumed: Days(0),
		TotalAdjusted: Days(0),
	}
	for _, tx := range txs {
		snap.Balance = snap.Balance.Add(tx.Delta)
		switch tx.Type {
		case TxGrant:
			snap.TotalGranted = snap.TotalGranted.Add(tx.Delta)
		case TxConsumption:
			snap.TotalConsumed = snap.TotalConsumed.Add(tx.Delta.Neg())
		case TxReversal:
			snap.TotalConsumed = snap.TotalConsumed.Sub(tx.Delta)
		case TxAdjustment:
			snap.TotalAdjusted = snap.TotalAdjusted.Add(tx.Delta)
		}
	}
	return snap
}
