package authz

// Role codes known to the catalog application.
const (
	RoleViewer      = "viewer"
	RoleReporter    = "reporter"
	RoleContributor = "contributor"
	RoleEditor      = "editor"
	RoleSteward     = "steward"
	RoleAdmin       = "admin"
)

// Change-type keys for catalog mutations.
const (
	ChangeAddProjectNote      = "add_project_note"
	ChangeUpdateVendorProfile = "update_vendor_profile"
	ChangeAddOffering         = "add_offering"
	ChangeUpdateContract      = "update_contract"
	ChangeArchiveVendor       = "archive_vendor"
	ChangeGrantScope          = "grant_scope"
)

// GlobalVendorScope is the sentinel vendor value for change types that
// are not tied to a single vendor; it is exempt from LOB-scope checks.
const GlobalVendorScope = "*"

// DefaultRoles returns the fixed role definitions loaded at startup.
func DefaultRoles() []Role {
	return []Role{
		{Code: RoleViewer, Name: "Viewer", Level: 0},
		{Code: RoleReporter, Name: "Reporter", Level: 2, CanReport: true},
		{Code: RoleContributor, Name: "Contributor", Level: 3},
		{Code: RoleEditor, Name: "Editor", Level: 5, CanEdit: true, CanReport: true},
		{Code: RoleSteward, Name: "Steward", Level: 7, CanEdit: true, CanReport: true},
		{Code: RoleAdmin, Name: "Administrator", Level: 10, CanEdit: true, CanReport: true, CanDirectApply: true},
	}
}

// DefaultChangeTypeRules returns the fixed change-type authority map.
func DefaultChangeTypeRules() []ChangeTypeRule {
	return []ChangeTypeRule{
		{ChangeType: ChangeAddProjectNote, RequiredLevel: 3},
		{ChangeType: ChangeUpdateVendorProfile, RequiredLevel: 5},
		{ChangeType: ChangeAddOffering, RequiredLevel: 5},
		{ChangeType: ChangeUpdateContract, RequiredLevel: 6},
		{ChangeType: ChangeArchiveVendor, RequiredLevel: 8},
		{ChangeType: ChangeGrantScope, RequiredLevel: 9},
	}
}

// AdminPortalRoles lists the roles allowed into the admin portal and
// the session role-override feature.
func AdminPortalRoles() []string {
	return []string{RoleAdmin, RoleSteward}
}

// DefaultCatalog builds the catalog from the fixed configuration.
func DefaultCatalog() *Catalog {
	return NewCatalog(DefaultRoles(), DefaultChangeTypeRules(), AdminPortalRoles())
}
