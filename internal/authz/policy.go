// Package authz answers "may this role perform this action". The policy is
// built once from a versioned role matrix and is read-only afterwards.
package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
)

// Action names a permission-gated operation.
type Action string

const (
	ActionUploadOrganizations Action = "upload:organization"
	ActionUploadPersons       Action = "upload:person"
	ActionReadBatch           Action = "batch:read"
	ActionReadRecord          Action = "record:read"
	ActionCreateSegment       Action = "segment:create"
	ActionCreateOrganization  Action = "organization:create"
	ActionApproveOrganization Action = "organization:approve"
	ActionRejectOrganization  Action = "organization:reject"
	ActionCreatePerson        Action = "person:create"
	ActionApprovePerson       Action = "person:approve"
	ActionAssignPerson        Action = "person:assign"
	ActionSchedulePerson      Action = "person:schedule"
	ActionCreateAssignment    Action = "assignment:create"
	ActionTriggerSweep        Action = "sweep:trigger"
)

// Checker is the capability check consumed by the HTTP layer.
type Checker interface {
	CanPerform(role string, action Action) bool
}

const rbacModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.act == p.act
`

// DefaultMatrix is the built-in role matrix. Roles inherit downwards:
// admin > manager > rep > viewer.
const DefaultMatrix = `
p, viewer, batch:read
p, viewer, record:read
p, rep, upload:person
p, rep, person:create
p, rep, person:schedule
p, manager, upload:organization
p, manager, segment:create
p, manager, organization:create
p, manager, organization:approve
p, manager, organization:reject
p, manager, person:approve
p, manager, person:assign
p, manager, assignment:create
p, admin, sweep:trigger
g, rep, viewer
g, manager, rep
g, admin, manager
`

// Policy is an immutable casbin enforcer tagged with the matrix version.
type Policy struct {
	Version  string
	enforcer *casbin.Enforcer
}

// NewPolicy builds a policy from a casbin CSV role matrix.
func NewPolicy(version, matrix string) (*Policy, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz: parse model: %w", err)
	}
	enf, err := casbin.NewEnforcer(m, stringadapter.NewAdapter(matrix))
	if err != nil {
		return nil, fmt.Errorf("authz: init enforcer: %w", err)
	}
	enf.EnableAutoSave(false)
	return &Policy{Version: version, enforcer: enf}, nil
}

// CanPerform reports whether role is granted action. Enforcement errors deny.
func (p *Policy) CanPerform(role string, action Action) bool {
	if role == "" {
		return false
	}
	ok, err := p.enforcer.Enforce(role, string(action))
	return err == nil && ok
}
