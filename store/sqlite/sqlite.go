/*
Package sqlite provides a SQLite-backed implementation of travel.TxStore.

PURPOSE:
  Persists users, travel requests, the leave ledger and the audit log. In
  production, the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

INTERFACES IMPLEMENTED:
  generic.Store:    Ledger transaction persistence
  generic.AuditLog: Audit entries
  travel.UserStore, travel.RequestStore
  travel.TxStore:   All of the above inside one database transaction

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on transactions or audit_log
  - users.leaves_left is the materialised sum of the user's transactions,
    updated by the same statement group as every Append
  - CHECK (leaves_left >= 0) rejects any write that would overdraw

KEY TABLES:
  users:           Accounts with role and materialised balance
  travel_requests: Requests; decision fields written once
  transactions:    Immutable leave ledger
  audit_log:       Who did what when

CONDITIONAL DECISIONS:
  DecideRequest updates WHERE status = 'PENDING'. Zero rows affected means
  another decision won; the caller gets *generic.TransitionError and its
  surrounding transaction rolls back.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single pooled connection, so
  a WithTx callback is the only writer while it runs. Helpers inside a
  transaction never take the lock again.

USAGE:
  store, err := sqlite.New("./data/travel.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/warp/travel-engine/generic"
	"github.com/warp/travel-engine/travel"
)

// Fixed width so that lexical order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements travel.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ travel.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every ":memory:" connection is its own database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('EMPLOYEE', 'MANAGER')),
		leaves_left INTEGER NOT NULL DEFAULT 0 CHECK (leaves_left >= 0),
		manager_id TEXT REFERENCES users(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	CREATE TABLE IF NOT EXISTS travel_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES users(id),
		from_location TEXT NOT NULL,
		destination TEXT NOT NULL,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		purpose_of_travel TEXT NOT NULL,
		mode_of_transport TEXT NOT NULL,
		days_requested INTEGER NOT NULL CHECK (days_requested >= 1),
		status TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
		decided_at TEXT,
		decided_by TEXT REFERENCES users(id),
		rejection_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_travel_requests_employee
		ON travel_requests(employee_id);
	CREATE INDEX IF NOT EXISTS idx_travel_requests_status
		ON travel_requests(status);
	CREATE INDEX IF NOT EXISTS idx_travel_requests_created_at
		ON travel_requests(created_at DESC);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_entity_date
		ON transactions(entity_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		entity_id TEXT,
		reference_id TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_reference
		ON audit_log(reference_id) WHERE reference_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_log(entity_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs every statement against q without locking. Store methods take
// the lock and delegate here; txStore uses it directly inside WithTx.
type conn struct {
	q querier
}

// =============================================================================
// TRANSACTIONAL STORE (travel.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store travel.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTxLocked(ctx, fn)
}

func (s *Store) withTxLocked(ctx context.Context, fn func(store travel.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{conn{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", generic.ErrTransactionFailed, err)
	}
	return nil
}

type txStore struct {
	conn
}

// =============================================================================
// TRANSACTION STORE (generic.Store interface)
// =============================================================================

// Append adds a transaction to the ledger and moves the owner's
// materialised balance, atomically.
func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTxLocked(ctx, func(st travel.Store) error {
		return st.Append(ctx, tx)
	})
}

func (c conn) Append(ctx context.Context, tx generic.Transaction) error {
	var metadataJSON sql.NullString
	if len(tx.Metadata) > 0 {
		b, err := json.Marshal(tx.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = tx.EffectiveAt
	}

	query := `
		INSERT INTO transactions
		(id, entity_id, effective_at, delta_value, delta_unit, tx_type,
		 reference_id, reason, idempotency_key, metadata_json, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.q.ExecContext(ctx, query,
		tx.ID,
		tx.EntityID,
		tx.EffectiveAt.String(),
		tx.Delta.Value.String(),
		tx.Delta.Unit,
		tx.Type,
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		metadataJSON,
		nullString(tx.CreatedBy),
		createdAt.String(),
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	_, err = c.q.ExecContext(ctx,
		"UPDATE users SET leaves_left = leaves_left + ? WHERE id = ?",
		tx.Delta.Int(), tx.EntityID,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintCheck) {
			return fmt.Errorf("%w: balance of %s would become negative", generic.ErrInsufficientBalance, tx.EntityID)
		}
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// Load returns all transactions for an entity, oldest first.
func (s *Store) Load(ctx context.Context, entityID generic.EntityID) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{q: s.db}.Load(ctx, entityID)
}

func (c conn) Load(ctx context.Context, entityID generic.EntityID) ([]generic.Transaction, error) {
	query := `
		SELECT id, entity_id, effective_at, delta_value, delta_unit, tx_type,
		       reference_id, reason, idempotency_key, metadata_json, created_by, created_at
		FROM transactions
		WHERE entity_id = ?
		ORDER BY effective_at ASC, rowid ASC
	`
	rows, err := c.q.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{q: s.db}.Exists(ctx, idempotencyKey)
}

func (c conn) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx             generic.Transaction
		effectiveAt    string
		deltaValue     string
		deltaUnit      string
		referenceID    sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.EntityID, &effectiveAt, &deltaValue, &deltaUnit, &tx.Type,
		&referenceID, &reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.EffectiveAt, err = generic.ParseDate(effectiveAt); err != nil {
		return tx, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	if tx.CreatedAt, err = generic.ParseDate(createdAt); err != nil {
		return tx, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	tx.Delta = parseAmount(deltaValue, deltaUnit)
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("transaction %s metadata: %w", tx.ID, err)
		}
	}
	return tx, nil
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{q: s.db}.AppendAudit(ctx, e)
}

func (c conn) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	var payload sql.NullString
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode audit payload: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, entity_id, reference_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, formatTime(e.Timestamp), nullString(e.ActorID), e.Action,
		nullString(string(e.EntityID)), nullString(e.ReferenceID), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries, oldest first.
func (s *Store) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{q: s.db}.QueryAudit(ctx, f)
}

func (c conn) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var where []string
	var args []any
	if f.EntityID != nil {
		where = append(where, "entity_id = ?")
		args = append(args, string(*f.EntityID))
	}
	if f.ReferenceID != nil {
		where = append(where, "reference_id = ?")
		args = append(args, *f.ReferenceID)
	}
	if f.ActorID != nil {
		where = append(where, "actor_id = ?")
		args = append(args, *f.ActorID)
	}
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT id, ts, actor_id, action, entity_id, reference_id, payload_json FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts ASC, rowid ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			e                             generic.AuditEntry
			ts                            string
			actorID, entityID, refID, pay sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &actorID, &e.Action, &entityID, &refID, &pay); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.ActorID = actorID.String
		e.EntityID = generic.EntityID(entityID.String)
		e.ReferenceID = refID.String
		if pay.Valid && pay.String != "" {
			if err := json.Unmarshal([]byte(pay.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("audit entry %s payload: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// USER STORE (travel.UserStore interface)
// =============================================================================

const userColumns = `id, first_name, last_name, email, password_hash, role, leaves_left, manager_id, created_at`

func (s *Store) CreateUser(ctx context.Context, u travel.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{q: s.db}.CreateUser(ctx, u)
}

func (c conn) CreateUser(ctx context.Context, u travel.User) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.ID, u.FirstName, u.LastName, strings.ToLower(u.Email), u.PasswordHash,
		u.Role, u.LeavesLeft, nullString(u.ManagerID), formatTime(u.CreatedAt),
	)
	if err != nil {
		switch {
		case isConstraint(err, sqlite3.ErrConstraintUnique) && strings.Contains(err.Error(), "users.email"):
			return fmt.Errorf("%w: %s", travel.ErrEmailTaken, u.Email)
		case isConstraint(err, sqlite3.ErrConstraintForeignKey):
			return generic.NewValidationError("managerId", "exists", "managerId does not name a user")
		case isConstraint(err, sqlite3.ErrConstraintCheck):
			return generic.NewValidationError("user", "check", err.Error())
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*travel.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{q: s.db}.GetUser(ctx, id)
}

func (c conn) GetUser(ctx context.Context, id string) (*travel.User, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, generic.ErrNotFound)
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*travel.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{q: s.db}.GetUserByEmail(ctx, email)
}

func (c conn) GetUserByEmail(ctx context.Context, email string) (*travel.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := c.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, generic.ErrNotFound)
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]travel.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{q: s.db}.ListUsers(ctx)
}

func (c conn) ListUsers(ctx context.Context) ([]travel.User, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []travel.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Store) CountUsersByRole(ctx context.Context, role travel.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{q: s.db}.CountUsersByRole(ctx, role)
}

func (c conn) CountUsersByRole(ctx context.Context, role travel.Role) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE role = ?", role).Scan(&n)
	return n, err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*travel.User, error) {
	var (
		u         travel.User
		managerID sql.NullString
		createdAt string
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash,
		&u.Role, &u.LeavesLeft, &managerID, &createdAt)
	if err != nil {
		return nil, err
	}
	u.ManagerID = managerID.String
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// =============================================================================
// REQUEST STORE (travel.RequestStore interface)
// =============================================================================

const requestColumns = `id, employee_id, from_location, destination, from_date, to_date,
	purpose_of_travel, mode_of_transport, days_requested, status,
	decided_at, decided_by, rejection_reason, created_at, updated_at`

func (s *Store) CreateRequest(ctx context.Context, r travel.TravelRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{q: s.db}.CreateRequest(ctx, r)
}

func (c conn) CreateRequest(ctx context.Context, r travel.TravelRequest) error {
	if err := r.CheckInvariants(); err != nil {
		return err
	}
	var decidedAt sql.NullString
	if r.DecidedAt != nil {
		decidedAt = sql.NullString{String: formatTime(*r.DecidedAt), Valid: true}
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO travel_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.EmployeeID, r.FromLocation, r.Destination,
		r.FromDate.String(), r.ToDate.String(),
		r.PurposeOfTravel, r.ModeOfTransport, r.DaysRequested, r.Status,
		decidedAt, nullString(r.DecidedBy), nullString(r.RejectionReason),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return fmt.Errorf("employee %s: %w", r.EmployeeID, generic.ErrNotFound)
		}
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*travel.TravelRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{q: s.db}.GetRequest(ctx, id)
}

func (c conn) GetRequest(ctx context.Context, id string) (*travel.TravelRequest, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM travel_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", id, generic.ErrNotFound)
	}
	return r, err
}

func (s *Store) ListRequestsByEmployee(ctx context.Context, employeeID string) ([]travel.TravelRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{q: s.db}.ListRequestsByEmployee(ctx, employeeID)
}

func (c conn) ListRequestsByEmployee(ctx context.Context, employeeID string) ([]travel.TravelRequest, error) {
	return c.queryRequests(ctx, `
		SELECT `+requestColumns+` FROM travel_requests
		WHERE employee_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, employeeID)
}

func (s *Store) ListRequests(ctx context.Context, status *travel.Status) ([]travel.TravelRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{q: s.db}.ListRequests(ctx, status)
}

func (c conn) ListRequests(ctx context.Context, status *travel.Status) ([]travel.TravelRequest, error) {
	if status != nil {
		return c.queryRequests(ctx, `
			SELECT `+requestColumns+` FROM travel_requests
			WHERE status = ?
			ORDER BY created_at DESC, rowid DESC
		`, *status)
	}
	return c.queryRequests(ctx, `
		SELECT `+requestColumns+` FROM travel_requests
		ORDER BY created_at DESC, rowid DESC
	`)
}

func (c conn) queryRequests(ctx context.Context, query string, args ...any) ([]travel.TravelRequest, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	requests := []travel.TravelRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

func (s *Store) DecideRequest(ctx context.Context, r travel.TravelRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTxLocked(ctx, func(st travel.Store) error {
		return st.DecideRequest(ctx, r)
	})
}

// DecideRequest writes the decision fields only while the row is PENDING.
func (c conn) DecideRequest(ctx context.Context, r travel.TravelRequest) error {
	if !r.Status.IsTerminal() || r.DecidedAt == nil {
		return &generic.TransitionError{ID: r.ID, Current: string(travel.StatusPending), Target: string(r.Status)}
	}

	res, err := c.q.ExecContext(ctx, `
		UPDATE travel_requests
		SET status = ?, decided_at = ?, decided_by = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'
	`,
		r.Status, formatTime(*r.DecidedAt), r.DecidedBy, nullString(r.RejectionReason),
		formatTime(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to decide request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to decide request: %w", err)
	}
	if n == 1 {
		return nil
	}

	cur, err := c.GetRequest(ctx, r.ID)
	if err != nil {
		return err
	}
	return &generic.TransitionError{ID: r.ID, Current: string(cur.Status), Target: string(r.Status)}
}

func scanRequest(row scanner) (*travel.TravelRequest, error) {
	var (
		r                    travel.TravelRequest
		fromDate, toDate     string
		decidedAt            sql.NullString
		decidedBy, rejection sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.EmployeeID, &r.FromLocation, &r.Destination, &fromDate, &toDate,
		&r.PurposeOfTravel, &r.ModeOfTransport, &r.DaysRequested, &r.Status,
		&decidedAt, &decidedBy, &rejection, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if r.FromDate, err = generic.ParseDate(fromDate); err != nil {
		return nil, err
	}
	if r.ToDate, err = generic.ParseDate(toDate); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		t, err := parseTime(decidedAt.String)
		if err != nil {
			return nil, err
		}
		r.DecidedAt = &t
	}
	r.DecidedBy = decidedBy.String
	r.RejectionReason = rejection.String
	return &r, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseAmount(value, unit string) generic.Amount {
	return generic.Amount{
		Value: generic.MustParseDecimal(value),
		Unit:  generic.Unit(unit),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}
