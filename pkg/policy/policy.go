// Package policy evaluates role-to-action allow-lists with the embedded OPA
// rego engine. Roles are header-asserted by the caller; this layer only
// answers whether a given role may perform a given action.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Actions gated by the policy.
const (
	ActionAcknowledge = "acknowledge"
	ActionResolve     = "resolve"
	ActionClaim       = "claim"
	ActionAttest      = "attest"
	ActionZoneCreate  = "zone_create"
	ActionZoneExpire  = "zone_expire"
	ActionSetMode     = "set_mode"
)

// Roles recognized by the default policy.
const (
	RoleOperator   = "OPERATOR"
	RoleSupervisor = "SUPERVISOR"
	RoleCommander  = "COMMANDER"
	RoleAdmin      = "ADMIN"
	RoleNode       = "NODE"
)

const authzModule = `
package sentinel.authz

default allow := false

role_actions := {
	"OPERATOR":   {"acknowledge"},
	"SUPERVISOR": {"acknowledge", "claim"},
	"COMMANDER":  {"acknowledge", "claim", "resolve", "zone_create", "zone_expire"},
	"ADMIN":      {"acknowledge", "claim", "resolve", "zone_create", "zone_expire", "set_mode"},
	"NODE":       {"attest"},
}

allow {
	role_actions[input.role][input.action]
}
`

// Checker answers role/action authorization queries against a prepared rego
// policy.
type Checker struct {
	query rego.PreparedEvalQuery
}

// NewChecker prepares the embedded authorization policy.
func NewChecker(ctx context.Context) (*Checker, error) {
	query, err := rego.New(
		rego.Query("data.sentinel.authz.allow"),
		rego.Module("authz.rego", authzModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare authz policy: %w", err)
	}
	return &Checker{query: query}, nil
}

// Allowed reports whether the asserted role may perform the action. A policy
// evaluation failure denies.
func (c *Checker) Allowed(ctx context.Context, role, action string) bool {
	results, err := c.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"role":   role,
		"action": action,
	}))
	if err != nil || len(results) == 0 || len(results[0].Expressions) == 0 {
		return false
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	return ok && allowed
}
