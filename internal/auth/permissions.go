package auth

// Permission keys checked by the enforcement layer. Flat strings, no
// hierarchy beyond what a role definition enumerates.
const (
	PermContentRead    = "content:read"
	PermContentWrite   = "content:write"
	PermContentPublish = "content:publish"
	PermMediaUpload    = "media:upload"
	PermSiteSettings   = "site:settings"
	PermUsersManage    = "users:manage"
	PermRolesManage    = "roles:manage"
	PermEventsRead     = "events:read"
)

// Builtin role definitions seeded at provisioning time.
var BuiltinRoles = []Role{
	{
		Name:        "admin",
		Description: "Full control of a site",
		Permissions: []string{
			PermContentRead, PermContentWrite, PermContentPublish,
			PermMediaUpload, PermSiteSettings, PermUsersManage,
			PermRolesManage, PermEventsRead,
		},
	},
	{
		Name:        "editor",
		Description: "Create and edit content",
		Permissions: []string{PermContentRead, PermContentWrite, PermMediaUpload},
	},
	{
		Name:        "publisher",
		Description: "Edit and publish content",
		Permissions: []string{PermContentRead, PermContentWrite, PermContentPublish, PermMediaUpload},
	},
	{
		Name:        "viewer",
		Description: "Read-only access",
		Permissions: []string{PermContentRead},
	},
}
