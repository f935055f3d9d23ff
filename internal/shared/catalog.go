package shared

// Core platform permissions. The catalog is the authoritative list used by the
// seeder and referenced from route gates. Category is a UI grouping tag only.
const (
	PermProjectsView    = "projects.view"
	PermProjectsViewAll = "projects.view_all"
	PermProjectsEdit    = "projects.edit"
	PermProjectsDelete  = "projects.delete"

	PermTasksView   = "tasks.view"
	PermTasksEdit   = "tasks.edit"
	PermTasksAssign = "tasks.assign"

	PermIssuesView = "issues.view"
	PermIssuesEdit = "issues.edit"

	PermDocumentsView    = "documents.view"
	PermDocumentsEdit    = "documents.edit"
	PermDocumentsApprove = "documents.approve"

	PermNotesView = "notes.view"
	PermNotesEdit = "notes.edit"

	PermCalendarView = "calendar.view"
	PermCalendarEdit = "calendar.edit"

	PermApprovalsView   = "approvals.view"
	PermApprovalsDecide = "approvals.decide"

	PermDashboardView = "dashboard.view"

	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView   = "permissions.view"
	PermPermissionsManage = "permissions.manage"

	PermSessionsManage = "sessions.manage"
)

// CatalogEntry describes one seedable permission.
type CatalogEntry struct {
	Code      string
	Name      string
	NameLocal string
	Category  string
}

// PermissionCatalog lists every grantable capability.
func PermissionCatalog() []CatalogEntry {
	return []CatalogEntry{
		{PermProjectsView, "View projects", "Projekte ansehen", "projects"},
		{PermProjectsViewAll, "View all projects", "Alle Projekte ansehen", "projects"},
		{PermProjectsEdit, "Edit projects", "Projekte bearbeiten", "projects"},
		{PermProjectsDelete, "Delete projects", "Projekte löschen", "projects"},
		{PermTasksView, "View tasks", "Aufgaben ansehen", "tasks"},
		{PermTasksEdit, "Edit tasks", "Aufgaben bearbeiten", "tasks"},
		{PermTasksAssign, "Assign tasks", "Aufgaben zuweisen", "tasks"},
		{PermIssuesView, "View issues", "Mängel ansehen", "issues"},
		{PermIssuesEdit, "Edit issues", "Mängel bearbeiten", "issues"},
		{PermDocumentsView, "View documents", "Dokumente ansehen", "documents"},
		{PermDocumentsEdit, "Edit documents", "Dokumente bearbeiten", "documents"},
		{PermDocumentsApprove, "Approve documents", "Dokumente freigeben", "documents"},
		{PermNotesView, "View notes", "Notizen ansehen", "notes"},
		{PermNotesEdit, "Edit notes", "Notizen bearbeiten", "notes"},
		{PermCalendarView, "View calendar", "Kalender ansehen", "calendar"},
		{PermCalendarEdit, "Edit calendar", "Kalender bearbeiten", "calendar"},
		{PermApprovalsView, "View approvals", "Freigaben ansehen", "approvals"},
		{PermApprovalsDecide, "Decide approvals", "Freigaben entscheiden", "approvals"},
		{PermDashboardView, "View dashboard", "Dashboard ansehen", "dashboard"},
		{PermUsersView, "View users", "Benutzer ansehen", "admin"},
		{PermUsersEdit, "Edit users", "Benutzer bearbeiten", "admin"},
		{PermRolesView, "View roles", "Rollen ansehen", "admin"},
		{PermRolesEdit, "Edit roles", "Rollen bearbeiten", "admin"},
		{PermPermissionsView, "View permission matrix", "Berechtigungsmatrix ansehen", "admin"},
		{PermPermissionsManage, "Manage permission matrix", "Berechtigungsmatrix verwalten", "admin"},
		{PermSessionsManage, "Manage user sessions", "Benutzersitzungen verwalten", "admin"},
	}
}

// Role codes. RoleViewer is the tier new registrations start in.
const (
	RoleAdmin          = "ADMIN"
	RoleProjectManager = "PROJECT_MANAGER"
	RoleBIMCoordinator = "BIM_COORDINATOR"
	RoleSiteEngineer   = "SITE_ENGINEER"
	RoleViewer         = "VIEWER"
)

// RoleSeed describes one seedable role.
type RoleSeed struct {
	Code      string
	Name      string
	NameLocal string
	Color     string
}

// RoleCatalog lists the built-in access tiers.
func RoleCatalog() []RoleSeed {
	return []RoleSeed{
		{RoleAdmin, "Administrator", "Administrator", "#d4380d"},
		{RoleProjectManager, "Project manager", "Projektleiter", "#096dd9"},
		{RoleBIMCoordinator, "BIM coordinator", "BIM-Koordinator", "#531dab"},
		{RoleSiteEngineer, "Site engineer", "Bauleiter", "#389e0d"},
		{RoleViewer, "Viewer", "Betrachter", "#8c8c8c"},
	}
}
