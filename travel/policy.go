package travel

import (
	"fmt"

	"github.com/warp/travel-engine/generic"
)

// =============================================================================
// ACCESS POLICY - Who may invoke what
// =============================================================================

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role Role
}

type Action string

const (
	ActionSubmit        Action = "submit"
	ActionViewRequest   Action = "view_request"
	ActionListEmployee  Action = "list_employee"
	ActionListAll       Action = "list_all"
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionViewBalance   Action = "view_balance"
	ActionCreateUser    Action = "create_user"
	ActionAdjustBalance Action = "adjust_balance"
	ActionViewAudit     Action = "view_audit"
	ActionLoadScenario  Action = "load_scenario"
)

// rule grants an action to a set of roles. If owner is set, the action is
// also granted to any authenticated actor acting on their own records.
type rule struct {
	roles []Role
	owner bool
}

// Policy is a static table of rules. The zero value is not usable; use
// DefaultPolicy.
type Policy struct {
	rules map[Action]rule
}

// DefaultPolicy encodes the role rules of the service:
//   - employees submit and read their own records
//   - managers read everything and decide any pending request
func DefaultPolicy() Policy {
	return Policy{rules: map[Action]rule{
		ActionSubmit:        {roles: []Role{RoleEmployee, RoleManager}},
		ActionViewRequest:   {roles: []Role{RoleManager}, owner: true},
		ActionListEmployee:  {roles: []Role{RoleManager}, owner: true},
		ActionViewBalance:   {roles: []Role{RoleManager}, owner: true},
		ActionListAll:       {roles: []Role{RoleManager}},
		ActionApprove:       {roles: []Role{RoleManager}},
		ActionReject:        {roles: []Role{RoleManager}},
		ActionCreateUser:    {roles: []Role{RoleManager}},
		ActionAdjustBalance: {roles: []Role{RoleManager}},
		ActionViewAudit:     {roles: []Role{RoleManager}},
		ActionLoadScenario:  {roles: []Role{RoleManager}},
	}}
}

// Authorize returns an error wrapping generic.ErrForbidden unless actor may
// perform action on records owned by ownerID. ownerID is ignored for
// actions without an ownership rule.
func (p Policy) Authorize(actor Actor, action Action, ownerID string) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return fmt.Errorf("%w: %s requires an authenticated user", generic.ErrForbidden, action)
	}
	r, ok := p.rules[action]
	if !ok {
		return fmt.Errorf("%w: unknown action %s", generic.ErrForbidden, action)
	}
	if r.owner && ownerID != "" && actor.ID == ownerID {
		return nil
	}
	for _, role := range r.roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not %s", generic.ErrForbidden, actor.Role, action)
}
