package travel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/warp/travel-engine/auth"
	"github.com/warp/travel-engine/generic"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// Session is the result of a successful login or public signup.
type Session struct {
	Token string
	User  User
}

// Signup creates an account on behalf of a manager and grants its initial
// balance through the ledger.
func (e *Engine) Signup(ctx context.Context, actor Actor, in SignupInput) (*User, error) {
	if err := e.Policy.Authorize(actor, ActionCreateUser, ""); err != nil {
		return nil, err
	}
	return e.createUser(ctx, actor.ID, in, nil)
}

// PublicSignup bootstraps the first manager. It is only open while no
// manager exists; the created account is always a MANAGER.
//
// The check runs twice: once up front so a closed signup costs no bcrypt
// work, and again inside the transaction that inserts the account, which
// is the one that decides between concurrent callers.
func (e *Engine) PublicSignup(ctx context.Context, in SignupInput) (*Session, error) {
	in.Role = string(RoleManager)
	in.ManagerID = ""

	cctx, cancel := e.withTimeout(ctx)
	err := noManagerYet(cctx, e.Store)
	cancel()
	if err != nil {
		return nil, err
	}

	u, err := e.createUser(ctx, "", in, noManagerYet)
	if err != nil {
		return nil, err
	}
	return e.session(*u)
}

func noManagerYet(ctx context.Context, s Store) error {
	n, err := s.CountUsersByRole(ctx, RoleManager)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: public signup is closed once a manager exists", generic.ErrForbidden)
	}
	return nil
}

// createUser validates and hashes outside the store transaction. precond,
// if set, runs inside it before the insert.
func (e *Engine) createUser(ctx context.Context, createdBy string, in SignupInput, precond func(context.Context, Store) error) (*User, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	hash, err := e.Passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	leaves := e.Config.DefaultLeaves
	if in.LeavesLeft != nil {
		leaves = *in.LeavesLeft
	}

	u := User{
		ID:           uuid.NewString(),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         Role(in.Role),
		ManagerID:    in.ManagerID,
		CreatedAt:    e.now(),
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	err = e.Store.WithTx(ctx, func(s Store) error {
		if precond != nil {
			if err := precond(ctx, s); err != nil {
				return err
			}
		}
		if u.ManagerID != "" {
			m, err := s.GetUser(ctx, u.ManagerID)
			if err != nil {
				if generic.IsNotFound(err) {
					return generic.NewValidationError("managerId", "exists", "managerId does not name a user")
				}
				return err
			}
			if m.Role != RoleManager {
				return generic.NewValidationError("managerId", "role", "managerId must name a manager")
			}
		}
		if err := s.CreateUser(ctx, u); err != nil {
			return err
		}
		if err := e.ledger(s).Grant(ctx, u.EntityID(), generic.Days(leaves), "initial allocation", createdBy); err != nil {
			return err
		}
		return e.audit(ctx, s, Actor{ID: createdBy}, generic.AuditUserCreated, u.ID, "", map[string]any{
			"email":      u.Email,
			"role":       string(u.Role),
			"leavesLeft": leaves,
		})
	})
	if err != nil {
		return nil, err
	}

	u.LeavesLeft = leaves
	e.logf("user %s <%s> (%s) created with %d days", u.FullName(), u.Email, u.Role, leaves)
	return &u, nil
}

// Login checks the credentials and issues a token. Unknown emails and wrong
// passwords both return ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	u, err := e.Store.GetUserByEmail(ctx, email)
	if err != nil {
		if generic.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := e.Passwords.Compare(u.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return e.session(*u)
}

func (e *Engine) session(u User) (*Session, error) {
	if e.Tokens == nil {
		return nil, errors.New("token service not configured")
	}
	token, err := e.Tokens.Issue(auth.Claims{UserID: u.ID, Email: u.Email, Role: string(u.Role)})
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: u}, nil
}

// Authenticate resolves a bearer token to the current actor. The role is
// read from the store so a stale token cannot keep old privileges.
func (e *Engine) Authenticate(ctx context.Context, token string) (Actor, error) {
	if e.Tokens == nil {
		return Actor{}, errors.New("token service not configured")
	}
	claims, err := e.Tokens.Verify(strings.TrimSpace(token))
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", generic.ErrUnauthenticated, err)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	u, err := e.Store.GetUser(ctx, claims.UserID)
	if err != nil {
		if generic.IsNotFound(err) {
			return Actor{}, fmt.Errorf("%w: user no longer exists", generic.ErrUnauthenticated)
		}
		return Actor{}, err
	}
	return u.Actor(), nil
}

// Me returns the actor's own account.
func (e *Engine) Me(ctx context.Context, actor Actor) (*User, error) {
	if actor.ID == "" {
		return nil, generic.ErrUnauthenticated
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Store.GetUser(ctx, actor.ID)
}

// ListUsers returns every account. Managers only.
func (e *Engine) ListUsers(ctx context.Context, actor Actor) ([]User, error) {
	if err := e.Policy.Authorize(actor, ActionListAll, ""); err != nil {
		return nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Store.ListUsers(ctx)
}
