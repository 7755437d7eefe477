package rbac

import "strings"

type Role string
type Action string

const (
	RoleLead        Role = "lead"
	RoleContributor Role = "contributor"
	RoleReviewer    Role = "reviewer"
	RoleEditor      Role = "editor"
)

const (
	ActionEdit    Action = "edit"
	ActionComment Action = "comment"
	ActionApprove Action = "approve"
	ActionPublish Action = "publish"
	ActionInvite  Action = "invite"
)

// Permissions is the capability set stored on each author. It is the only
// thing consulted when authorizing an action; the role merely seeds it.
type Permissions struct {
	CanEdit    bool `json:"canEdit"`
	CanComment bool `json:"canComment"`
	CanApprove bool `json:"canApprove"`
	CanPublish bool `json:"canPublish"`
	CanInvite  bool `json:"canInvite"`
}

func Actions() []Action {
	return []Action{ActionEdit, ActionComment, ActionApprove, ActionPublish, ActionInvite}
}

func Roles() []Role {
	return []Role{RoleLead, RoleContributor, RoleReviewer, RoleEditor}
}

// DefaultPermissions returns the permission set a new author with role starts
// with. Unknown roles get nothing.
func DefaultPermissions(role Role) Permissions {
	switch role {
	case RoleLead:
		return Permissions{CanEdit: true, CanComment: true, CanApprove: true, CanPublish: true, CanInvite: true}
	case RoleContributor, RoleEditor:
		return Permissions{CanEdit: true, CanComment: true}
	case RoleReviewer:
		return Permissions{CanComment: true, CanApprove: true}
	default:
		return Permissions{}
	}
}

func Can(perms Permissions, action Action) bool {
	switch action {
	case ActionEdit:
		return perms.CanEdit
	case ActionComment:
		return perms.CanComment
	case ActionApprove:
		return perms.CanApprove
	case ActionPublish:
		return perms.CanPublish
	case ActionInvite:
		return perms.CanInvite
	default:
		return false
	}
}

func Normalize(role string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(role))); r {
	case RoleLead, RoleContributor, RoleReviewer, RoleEditor:
		return r, true
	default:
		return "", false
	}
}
