package travel

import (
	"context"
	"fmt"

	"github.com/warp/travel-engine/generic"
)

// =============================================================================
// DEMO SCENARIOS
// =============================================================================

// Scenario is a named set of demo accounts.
type Scenario struct {
	ID          string
	Name        string
	Description string
	users       []demoUser
}

type demoUser struct {
	first, last, email string
	role               Role
	leaves             int
}

// DemoPassword is the password of every demo account.
const DemoPassword = "password123"

var Scenarios = []Scenario{
	{
		ID:          "demo",
		Name:        "Demo Team",
		Description: "One manager and two employees reporting to them",
		users: []demoUser{
			{"Maria", "Manager", "manager@gmail.com", RoleManager, 25},
			{"Alice", "Johnson", "alice@gmail.com", RoleEmployee, 30},
			{"Bob", "Smith", "bob@gmail.com", RoleEmployee, 28},
		},
	},
}

// LookupScenario returns the scenario with the given id.
func LookupScenario(id string) (Scenario, bool) {
	for _, s := range Scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// LoadScenario seeds a scenario on behalf of a manager.
func (e *Engine) LoadScenario(ctx context.Context, actor Actor, id string) ([]User, error) {
	if err := e.Policy.Authorize(actor, ActionLoadScenario, ""); err != nil {
		return nil, err
	}
	return e.Seed(ctx, id)
}

// Seed creates the accounts of a scenario. Accounts whose email already
// exists are left untouched, so seeding twice is harmless. The first
// manager of the scenario becomes the reporting manager of its employees.
func (e *Engine) Seed(ctx context.Context, id string) ([]User, error) {
	sc, ok := LookupScenario(id)
	if !ok {
		return nil, generic.NewValidationError("scenarioId", "oneof", fmt.Sprintf("unknown scenario %q", id))
	}

	var managerID string
	var created []User
	for _, du := range sc.users {
		cctx, cancel := e.withTimeout(ctx)
		existing, err := e.Store.GetUserByEmail(cctx, du.email)
		cancel()
		switch {
		case err == nil:
			if du.role == RoleManager && managerID == "" {
				managerID = existing.ID
			}
			continue
		case !generic.IsNotFound(err):
			return nil, err
		}

		leaves := du.leaves
		in := SignupInput{
			FirstName:  du.first,
			LastName:   du.last,
			Email:      du.email,
			Password:   DemoPassword,
			Role:       string(du.role),
			LeavesLeft: &leaves,
		}
		if du.role == RoleEmployee {
			in.ManagerID = managerID
		}
		u, err := e.createUser(ctx, "", in, nil)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", du.email, err)
		}
		if du.role == RoleManager && managerID == "" {
			managerID = u.ID
		}
		created = append(created, *u)
	}

	e.logf("scenario %s loaded: %d accounts created", sc.ID, len(created))
	return created, nil
}
