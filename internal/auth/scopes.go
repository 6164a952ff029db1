// Package auth - scopes.go defines the permission scopes checked by the RBAC middleware.
// Every signed-in account holds the owner scopes; admin profiles additionally hold the
// admin wildcard.
package auth

// Scope represents a permission
type Scope string

const (
	// Owner scopes, granted to every signed-in account. Ownership of the target row is
	// still checked by the service layer.
	ScopeProfileWrite     Scope = "profile:write"
	ScopeMembershipsWrite Scope = "memberships:write"
	ScopeEventsWrite      Scope = "events:write"
	ScopeMessagesWrite    Scope = "messages:write"
	ScopeUploadsWrite     Scope = "uploads:write"

	// Admin-only scopes
	ScopeModerate    Scope = "moderation:manage"
	ScopeBlogManage  Scope = "blog:manage"
	ScopeInboxManage Scope = "inbox:manage"
	ScopeAuditRead   Scope = "audit:read"

	// ScopeAdmin is the wildcard held by admin profiles
	ScopeAdmin Scope = "admin"
)

// OwnerScopes returns the scopes every signed-in account holds
func OwnerScopes() []Scope {
	return []Scope{
		ScopeProfileWrite,
		ScopeMembershipsWrite,
		ScopeEventsWrite,
		ScopeMessagesWrite,
		ScopeUploadsWrite,
	}
}

// ScopesFor derives the scopes of an account from its profile's admin flag
func ScopesFor(isAdmin bool) []string {
	owner := OwnerScopes()
	out := make([]string, 0, len(owner)+1)
	for _, s := range owner {
		out = append(out, string(s))
	}
	if isAdmin {
		out = append(out, string(ScopeAdmin))
	}
	return out
}

// HasScope checks if the given scopes include required. The admin scope matches
// everything.
func HasScope(userScopes []string, required Scope) bool {
	for _, scope := range userScopes {
		if scope == string(required) || scope == string(ScopeAdmin) {
			return true
		}
	}
	return false
}

// HasAnyScope checks if the given scopes include at least one of required
func HasAnyScope(userScopes []string, required []Scope) bool {
	for _, r := range required {
		if HasScope(userScopes, r) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the scopes carry the admin wildcard
func IsAdmin(userScopes []string) bool {
	for _, s := range userScopes {
		if s == string(ScopeAdmin) {
			return true
		}
	}
	return false
}
