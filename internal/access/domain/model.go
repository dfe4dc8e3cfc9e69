package domain

import (
	"strings"
	"time"

	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
)

// Archetype is a permission template. Every role built on it holds a
// subset of its permissions.
type Archetype struct {
	ID          types.ID      `json:"id"`
	Code        string        `json:"code"`
	Name        string        `json:"name"`
	Permissions PermissionSet `json:"permissions"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Role is an assignable bundle of permissions drawn from one archetype.
type Role struct {
	ID          types.ID      `json:"id"`
	Code        string        `json:"code"`
	Name        string        `json:"name"`
	ArchetypeID types.ID      `json:"archetype_id"`
	Permissions PermissionSet `json:"permissions"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Principal is a staff user.
type Principal struct {
	ID        types.ID   `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Active    bool       `json:"active"`
	RoleIDs   []types.ID `json:"role_ids"`
	CreatedAt time.Time  `json:"created_at"`
}

// RoleGrant links a principal to a role.
type RoleGrant struct {
	PrincipalID types.ID  `json:"principal_id"`
	RoleID      types.ID  `json:"role_id"`
	GrantedBy   *types.ID `json:"granted_by,omitempty"`
	GrantedAt   time.Time `json:"granted_at"`
}

// ValidateSubset checks requested codes against the archetype's set and
// returns them as a PermissionSet. Codes outside the catalog and codes the
// archetype does not grant are both reported as offending.
func ValidateSubset(archetype *Archetype, requested []string) (PermissionSet, error) {
	set, unknown := ParsePermissionSet(requested)
	offending := set.Difference(archetype.Permissions).Codes()
	seen := make(map[string]bool, len(unknown))
	for _, code := range unknown {
		if !seen[code] {
			seen[code] = true
			offending = append(offending, code)
		}
	}
	if len(offending) > 0 {
		return nil, errors.InvalidPermissionSubset(archetype.Code, offending)
	}
	return set, nil
}

// OrphanedBy lists the role permissions that a narrowed archetype set would
// no longer cover.
func OrphanedBy(narrowed PermissionSet, roles []Role) []string {
	orphaned := make(PermissionSet)
	for _, r := range roles {
		orphaned = orphaned.Union(r.Permissions.Difference(narrowed))
	}
	return orphaned.Codes()
}

// ValidateCode checks an archetype or role code.
func ValidateCode(code string) error {
	if code == "" {
		return errors.Validation("code is required", map[string]string{"code": "required"})
	}
	if len(code) > 64 {
		return errors.Validation("code is too long", map[string]string{"code": "max 64 characters"})
	}
	for _, r := range code {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return errors.Validation("code may contain only lowercase letters, digits, '_' and '-'",
				map[string]string{"code": "invalid character"})
		}
	}
	return nil
}

// ValidateEmail performs the minimal shape check used for staff and
// reporter addresses.
func ValidateEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n") &&
		strings.Contains(email[at+1:], ".")
}
