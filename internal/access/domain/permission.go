// Package domain holds the permission catalog and the archetype, role and
// principal types the authorization model is built from.
package domain

import (
	"sort"
	"strings"
)

// Permission is a code from the fixed catalog. Codes outside the catalog
// cannot be constructed except through ParsePermission, which rejects them.
type Permission string

// Case permissions
const (
	PermCaseRead             Permission = "case.read"
	PermCaseCreate           Permission = "case.create"
	PermCaseTriage           Permission = "case.triage"
	PermCaseResolve          Permission = "case.resolve"
	PermCaseClose            Permission = "case.close"
	PermCaseAssign           Permission = "case.assign"
	PermCasePriority         Permission = "case.priority"
	PermCaseReporterIdentity Permission = "case.reporter_identity"
	PermResolutionRecord     Permission = "resolution.record"
)

// Comment permissions. Reading and writing a tier need the same code.
const (
	PermCommentPublic   Permission = "comment.public"
	PermCommentInternal Permission = "comment.internal"
	PermCommentAnalyst  Permission = "comment.analyst"
)

// Admin permissions
const (
	PermArchetypeManage Permission = "access.archetype.manage"
	PermRoleManage      Permission = "access.role.manage"
	PermPrincipalManage Permission = "access.principal.manage"
	PermAuditRead       Permission = "audit.read"
)

var catalog = map[Permission]string{
	PermCaseRead:             "View cases assigned to the organization",
	PermCaseCreate:           "Register cases on behalf of a reporter",
	PermCaseTriage:           "Start work on a case or request more information",
	PermCaseResolve:          "Mark a case resolved",
	PermCaseClose:            "Close or dismiss a case",
	PermCaseAssign:           "Assign and reassign case owners",
	PermCasePriority:         "Change case priority",
	PermCaseReporterIdentity: "See reporter identity on anonymous cases",
	PermResolutionRecord:     "Record the resolution of a case",
	PermCommentPublic:        "Write comments visible to the reporter",
	PermCommentInternal:      "Read and write internal staff comments",
	PermCommentAnalyst:       "Read and write analyst-only comments",
	PermArchetypeManage:      "Create archetypes and edit their permissions",
	PermRoleManage:           "Create roles and edit their permissions",
	PermPrincipalManage:      "Create staff principals and grant roles",
	PermAuditRead:            "Read case history and chains of custody",
}

// CatalogEntry describes one permission.
type CatalogEntry struct {
	Code        Permission `json:"code"`
	Description string     `json:"description"`
}

// Catalog returns every permission, sorted by code.
func Catalog() []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(catalog))
	for code, desc := range catalog {
		entries = append(entries, CatalogEntry{Code: code, Description: desc})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Code < entries[j].Code })
	return entries
}

// ParsePermission maps a code to a catalog permission.
func ParsePermission(code string) (Permission, bool) {
	p := Permission(strings.TrimSpace(code))
	_, ok := catalog[p]
	return p, ok
}

// Valid reports whether p is in the catalog.
func (p Permission) Valid() bool {
	_, ok := catalog[p]
	return ok
}

func (p Permission) String() string { return string(p) }

// PermissionSet is an unordered, de-duplicated set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// AllPermissions returns the whole catalog as a set.
func AllPermissions() PermissionSet {
	set := make(PermissionSet, len(catalog))
	for p := range catalog {
		set[p] = struct{}{}
	}
	return set
}

// ParsePermissionSet splits codes into a set of known permissions and the
// list of codes the catalog does not know.
func ParsePermissionSet(codes []string) (PermissionSet, []string) {
	set := make(PermissionSet, len(codes))
	var unknown []string
	for _, code := range codes {
		p, ok := ParsePermission(code)
		if !ok {
			unknown = append(unknown, code)
			continue
		}
		set[p] = struct{}{}
	}
	return set, unknown
}

// Contains reports whether p is in the set.
func (s PermissionSet) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Union returns a new set holding the members of both sets.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

// Difference returns the members of s that are not in other.
func (s PermissionSet) Difference(other PermissionSet) PermissionSet {
	out := make(PermissionSet)
	for p := range s {
		if !other.Contains(p) {
			out[p] = struct{}{}
		}
	}
	return out
}

// SubsetOf reports whether every member of s is in other.
func (s PermissionSet) SubsetOf(other PermissionSet) bool {
	return len(s.Difference(other)) == 0
}

// Clone returns a copy of the set.
func (s PermissionSet) Clone() PermissionSet {
	return s.Union(nil)
}

// Sorted returns the set as a sorted slice.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Codes returns the set as sorted strings.
func (s PermissionSet) Codes() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, p := range sorted {
		out[i] = string(p)
	}
	return out
}

// MarshalJSON encodes the set as a sorted list of codes.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return marshalCodes(s.Codes())
}
