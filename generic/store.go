/*
store.go - Persistence interface for ledger transactions and audit entries

PURPOSE:
  Defines the interface between the ledger logic and the database.
  The Store handles persistence while maintaining append-only semantics.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:    Core transaction persistence (append, load, exists)
  AuditLog: Who did what when

APPEND-ONLY CONTRACT:
  The Store interface enforces append-only semantics:
  - Append(): Single transaction write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Every debit carries an idempotency key. If the key already exists,
  the write is rejected. Approving a request uses "approve-<request id>",
  so the same request can never be debited twice.

MATERIALISED BALANCE:
  Implementations also keep users.leaves_left in step with the ledger:
  every Append adds the delta to the owner's row in the same write.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/memory/memory.go: In-memory for testing and demos

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for transaction persistence (append-only)
// =============================================================================

// Store handles persistence of transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the key exists. This is the ONLY write operation.
	Append(ctx context.Context, tx Transaction) error

	// Load returns all transactions for an entity, oldest first.
	Load(ctx context.Context, entityID EntityID) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// AUDIT LOG - Separate from ledger, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID          string
	Timestamp   time.Time
	ActorID     string // who performed the action
	Action      AuditAction
	EntityID    EntityID // whose record was affected
	ReferenceID string   // request id, when the action concerns one
	Payload     map[string]any
}

type AuditAction string

const (
	AuditRequestCreated  AuditAction = "request_created"
	AuditRequestApproved AuditAction = "request_approved"
	AuditRequestRejected AuditAction = "request_rejected"
	AuditUserCreated     AuditAction = "user_created"
	AuditManualAdjust    AuditAction = "manual_adjustment"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EntityID    *EntityID
	ReferenceID *string
	ActorID     *string
	Actions     []AuditAction
}

// Matches reports whether an entry passes the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.EntityID != nil && e.EntityID != *f.EntityID {
		return false
	}
	if f.ReferenceID != nil && e.ReferenceID != *f.ReferenceID {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		for _, a := range f.Actions {
			if a == e.Action {
				return true
			}
		}
		return false
	}
	return true
}
