// Package memory provides an in-memory travel.TxStore (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warp/travel-engine/generic"
	"github.com/warp/travel-engine/travel"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps everything in maps guarded by one RWMutex. WithTx holds the
// write lock for the whole callback and restores a snapshot on error.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	transactions map[generic.EntityID][]generic.Transaction
	idempotency  map[string]bool
	users        map[string]travel.User
	emails       map[string]string // email -> user id
	requests     map[string]travel.TravelRequest
	seq          map[string]int // insertion order, breaks created_at ties
	nextSeq      int
	audit        []generic.AuditEntry
}

func newState() *state {
	return &state{
		transactions: make(map[generic.EntityID][]generic.Transaction),
		idempotency:  make(map[string]bool),
		users:        make(map[string]travel.User),
		emails:       make(map[string]string),
		requests:     make(map[string]travel.TravelRequest),
		seq:          make(map[string]int),
	}
}

func New() *Store {
	return &Store{st: newState()}
}

var _ travel.TxStore = (*Store)(nil)

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Store) Append(ctx context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.append(tx)
}

func (m *Store) Load(_ context.Context, entityID generic.EntityID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.load(entityID), nil
}

func (m *Store) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.idempotency[idempotencyKey], nil
}

func (m *Store) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.appendAudit(e)
	return nil
}

func (m *Store) QueryAudit(_ context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.queryAudit(f), nil
}

func (m *Store) CreateUser(_ context.Context, u travel.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createUser(u)
}

func (m *Store) GetUser(_ context.Context, id string) (*travel.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getUser(id)
}

func (m *Store) GetUserByEmail(_ context.Context, email string) (*travel.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getUserByEmail(email)
}

func (m *Store) ListUsers(_ context.Context) ([]travel.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listUsers(), nil
}

func (m *Store) CountUsersByRole(_ context.Context, role travel.Role) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.countUsersByRole(role), nil
}

func (m *Store) CreateRequest(_ context.Context, r travel.TravelRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createRequest(r)
}

func (m *Store) GetRequest(_ context.Context, id string) (*travel.TravelRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getRequest(id)
}

func (m *Store) ListRequestsByEmployee(_ context.Context, employeeID string) ([]travel.TravelRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listRequests(func(r travel.TravelRequest) bool { return r.EmployeeID == employeeID }), nil
}

func (m *Store) ListRequests(_ context.Context, status *travel.Status) ([]travel.TravelRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listRequests(func(r travel.TravelRequest) bool { return status == nil || r.Status == *status }), nil
}

func (m *Store) DecideRequest(_ context.Context, r travel.TravelRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.decideRequest(r)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Store) WithTx(ctx context.Context, fn func(travel.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// txView is the Store handed to WithTx callbacks. The parent lock is held
// for its whole lifetime so it reads and writes state directly.
type txView struct {
	st *state
}

func (v *txView) Append(_ context.Context, tx generic.Transaction) error { return v.st.append(tx) }

func (v *txView) Load(_ context.Context, entityID generic.EntityID) ([]generic.Transaction, error) {
	return v.st.load(entityID), nil
}

func (v *txView) Exists(_ context.Context, key string) (bool, error) {
	return v.st.idempotency[key], nil
}

func (v *txView) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	v.st.appendAudit(e)
	return nil
}

func (v *txView) QueryAudit(_ context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	return v.st.queryAudit(f), nil
}

func (v *txView) CreateUser(_ context.Context, u travel.User) error { return v.st.createUser(u) }

func (v *txView) GetUser(_ context.Context, id string) (*travel.User, error) { return v.st.getUser(id) }

func (v *txView) GetUserByEmail(_ context.Context, email string) (*travel.User, error) {
	return v.st.getUserByEmail(email)
}

func (v *txView) ListUsers(_ context.Context) ([]travel.User, error) { return v.st.listUsers(), nil }

func (v *txView) CountUsersByRole(_ context.Context, role travel.Role) (int, error) {
	return v.st.countUsersByRole(role), nil
}

func (v *txView) CreateRequest(_ context.Context, r travel.TravelRequest) error {
	return v.st.createRequest(r)
}

func (v *txView) GetRequest(_ context.Context, id string) (*travel.TravelRequest, error) {
	return v.st.getRequest(id)
}

func (v *txView) ListRequestsByEmployee(_ context.Context, employeeID string) ([]travel.TravelRequest, error) {
	return v.st.listRequests(func(r travel.TravelRequest) bool { return r.EmployeeID == employeeID }), nil
}

func (v *txView) ListRequests(_ context.Context, status *travel.Status) ([]travel.TravelRequest, error) {
	return v.st.listRequests(func(r travel.TravelRequest) bool { return status == nil || r.Status == *status }), nil
}

func (v *txView) DecideRequest(_ context.Context, r travel.TravelRequest) error {
	return v.st.decideRequest(r)
}

// =============================================================================
// STATE (callers hold the lock)
// =============================================================================

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.transactions {
		c.transactions[k] = append([]generic.Transaction{}, v...)
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	c.nextSeq = s.nextSeq
	c.audit = append([]generic.AuditEntry{}, s.audit...)
	return c
}

// append inserts in EffectiveAt order and keeps the owner's materialised
// balance in step. A write that would make the balance negative is refused.
func (s *state) append(tx generic.Transaction) error {
	if tx.IdempotencyKey != "" && s.idempotency[tx.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}

	u, hasUser := s.users[string(tx.EntityID)]
	if hasUser {
		next := u.LeavesLeft + tx.Delta.Int()
		if next < 0 {
			return fmt.Errorf("%w: balance of %s would become %d", generic.ErrInsufficientBalance, u.ID, next)
		}
		u.LeavesLeft = next
		s.users[u.ID] = u
	}

	txs := s.transactions[tx.EntityID]
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})
	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	s.transactions[tx.EntityID] = txs

	if tx.IdempotencyKey != "" {
		s.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (s *state) load(entityID generic.EntityID) []generic.Transaction {
	result := make([]generic.Transaction, len(s.transactions[entityID]))
	copy(result, s.transactions[entityID])
	return result
}

func (s *state) appendAudit(e generic.AuditEntry) {
	e.Payload = copyPayload(e.Payload)
	s.audit = append(s.audit, e)
}

func (s *state) queryAudit(f generic.AuditFilter) []generic.AuditEntry {
	var out []generic.AuditEntry
	for _, e := range s.audit {
		if f.Matches(e) {
			e.Payload = copyPayload(e.Payload)
			out = append(out, e)
		}
	}
	return out
}

func copyPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	c := make(map[string]any, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

func (s *state) createUser(u travel.User) error {
	email := strings.ToLower(u.Email)
	if _, ok := s.emails[email]; ok {
		return fmt.Errorf("%w: %s", travel.ErrEmailTaken, email)
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	if u.LeavesLeft < 0 {
		return generic.NewValidationError("leavesLeft", "gte", "leavesLeft must not be negative")
	}
	s.users[u.ID] = u
	s.emails[email] = u.ID
	s.seq[u.ID] = s.bump()
	return nil
}

func (s *state) getUser(id string) (*travel.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, generic.ErrNotFound)
	}
	return &u, nil
}

func (s *state) getUserByEmail(email string) (*travel.User, error) {
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, generic.ErrNotFound)
	}
	return s.getUser(id)
}

func (s *state) listUsers() []travel.User {
	out := make([]travel.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out
}

func (s *state) countUsersByRole(role travel.Role) int {
	n := 0
	for _, u := range s.users {
		if u.Role == role {
			n++
		}
	}
	return n
}

func (s *state) createRequest(r travel.TravelRequest) error {
	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	if _, ok := s.users[r.EmployeeID]; !ok {
		return fmt.Errorf("employee %s: %w", r.EmployeeID, generic.ErrNotFound)
	}
	if err := r.CheckInvariants(); err != nil {
		return err
	}
	s.requests[r.ID] = r
	s.seq[r.ID] = s.bump()
	return nil
}

func (s *state) getRequest(id string) (*travel.TravelRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, generic.ErrNotFound)
	}
	return &r, nil
}

// listRequests returns matching requests newest first.
func (s *state) listRequests(keep func(travel.TravelRequest) bool) []travel.TravelRequest {
	out := []travel.TravelRequest{}
	for _, r := range s.requests {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	return out
}

// decideRequest is the conditional update: only a PENDING request may be
// overwritten, and only its decision fields change.
func (s *state) decideRequest(r travel.TravelRequest) error {
	cur, ok := s.requests[r.ID]
	if !ok {
		return fmt.Errorf("request %s: %w", r.ID, generic.ErrNotFound)
	}
	if cur.Status != travel.StatusPending {
		return &generic.TransitionError{ID: r.ID, Current: string(cur.Status), Target: string(r.Status)}
	}
	if !r.Status.IsTerminal() {
		return &generic.TransitionError{ID: r.ID, Current: string(cur.Status), Target: string(r.Status)}
	}

	cur.Status = r.Status
	cur.DecidedAt = r.DecidedAt
	cur.DecidedBy = r.DecidedBy
	cur.RejectionReason = r.RejectionReason
	cur.UpdatedAt = r.UpdatedAt
	if err := cur.CheckInvariants(); err != nil {
		return err
	}
	s.requests[r.ID] = cur
	return nil
}

func (s *state) bump() int {
	s.nextSeq++
	return s.nextSeq
}
