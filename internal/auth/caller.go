// Package auth carries the caller identity resolved by the upstream
// authentication layer. The core trusts it and only enforces role and
// ownership rules.
package auth

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	RoleContributor Role = "CONTRIBUTOR"
	RoleBranchAdmin Role = "BRANCH_ADMIN"
	RoleSystemAdmin Role = "SYSTEM_ADMIN"
	RoleCharity     Role = "CHARITY"
)

func (r Role) Valid() bool {
	switch r {
	case RoleContributor, RoleBranchAdmin, RoleSystemAdmin, RoleCharity:
		return true
	}
	return false
}

// Caller identifies who is invoking an operation. BranchID is set for branch
// admins and scopes their authority to that branch.
type Caller struct {
	UserID   uuid.UUID
	Role     Role
	BranchID *uuid.UUID
}

// CanManageBranch reports whether the caller administers the given branch.
// System admins manage every branch.
func (c Caller) CanManageBranch(branchID uuid.UUID) bool {
	if c.Role == RoleSystemAdmin {
		return true
	}
	return c.Role == RoleBranchAdmin && c.BranchID != nil && *c.BranchID == branchID
}

type ctxKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ctxKey{}).(Caller)
	return c, ok
}
