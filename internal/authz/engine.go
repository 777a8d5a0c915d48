package authz

import (
	"github.com/jwalitptl/account-api/internal/model"
)

// Engine evaluates role- and business-scoped access decisions. All checks
// are pure predicates over the principal already loaded into the session,
// so they are safe to run on every route decision.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// CanAccessRole reports whether the principal may use surfaces that require
// the given role. Owner passes every check, an admin passes admin and user
// checks, a sub-user passes only user checks.
func (e *Engine) CanAccessRole(principal *model.Account, requiredRole string) bool {
	if principal == nil {
		return false
	}
	switch principal.Role {
	case model.RoleOwner:
		return true
	case model.RoleAdmin:
		return requiredRole == model.RoleAdmin || requiredRole == model.RoleUser
	case model.RoleUser:
		return requiredRole == model.RoleUser
	default:
		return false
	}
}

// HasBusinessAccess reports whether the principal may touch data scoped to
// the given business. The owner crosses every tenant boundary; everyone
// else stays inside their own.
func (e *Engine) HasBusinessAccess(principal *model.Account, businessID string) bool {
	if principal == nil {
		return false
	}
	if principal.Role == model.RoleOwner {
		return true
	}
	return businessID != "" && principal.BusinessID == businessID
}
