package domain

// Built-in archetypes installed by the startup seed.
const (
	ArchetypeAdministrator = "administrator"
	ArchetypeSupervisor    = "supervisor"
	ArchetypeAuditor       = "auditor"
)

// Template describes a seeded archetype and its default role.
type Template struct {
	Code        string
	Name        string
	RoleCode    string
	RoleName    string
	Permissions []Permission
}

// Templates returns the built-in archetypes.
func Templates() []Template {
	return []Template{
		{
			Code:        ArchetypeAdministrator,
			Name:        "Administrator",
			RoleCode:    "admin",
			RoleName:    "Administrator",
			Permissions: AllPermissions().Sorted(),
		},
		{
			Code:     ArchetypeSupervisor,
			Name:     "Supervisor",
			RoleCode: "case_supervisor",
			RoleName: "Case supervisor",
			Permissions: []Permission{
				PermCaseRead, PermCaseCreate, PermCaseTriage, PermCaseResolve, PermCaseClose,
				PermCaseAssign, PermCasePriority, PermResolutionRecord,
				PermCommentPublic, PermCommentInternal, PermCommentAnalyst,
			},
		},
		{
			Code:     ArchetypeAuditor,
			Name:     "Auditor",
			RoleCode: "auditor",
			RoleName: "Auditor",
			Permissions: []Permission{
				PermCaseRead, PermCommentInternal, PermAuditRead,
			},
		},
	}
}
