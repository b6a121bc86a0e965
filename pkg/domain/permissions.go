package domain

// Permission is a capability a viewer holds within a room.
type Permission string

// Room permissions.
const (
	PermViewRoom             Permission = "view_room"
	PermViewMembers          Permission = "view_members"
	PermViewHidden           Permission = "view_hidden"
	PermViewComments         Permission = "view_comments"
	PermViewGroupPredictions Permission = "view_group_predictions"
	PermPredict              Permission = "predict"
	PermComment              Permission = "comment"
	PermModerate             Permission = "moderate"
	PermManageQuestions      Permission = "manage_questions"
	PermManageMembers        Permission = "manage_members"
	PermManageRoom           Permission = "manage_room"
	PermExport               Permission = "export"
)

// PermissionSet is an immutable set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from perms.
func NewPermissionSet(perms ...Permission) PermissionSet {
	out := make(PermissionSet, len(perms))
	for _, p := range perms {
		out[p] = struct{}{}
	}
	return out
}

// Has reports membership. A nil set holds nothing.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Contains reports whether s holds every permission in other.
func (s PermissionSet) Contains(other PermissionSet) bool {
	for p := range other {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

var rolePermissions = map[Role]PermissionSet{
	RoleViewer: NewPermissionSet(
		PermViewRoom, PermViewMembers, PermViewComments,
	),
	RolePredictor: NewPermissionSet(
		PermViewRoom, PermViewMembers, PermViewComments,
		PermPredict, PermComment,
	),
	RoleModerator: NewPermissionSet(
		PermViewRoom, PermViewMembers, PermViewComments,
		PermPredict, PermComment,
		PermViewHidden, PermViewGroupPredictions, PermModerate, PermManageQuestions, PermExport,
	),
	RoleOwner: NewPermissionSet(
		PermViewRoom, PermViewMembers, PermViewComments,
		PermPredict, PermComment,
		PermViewHidden, PermViewGroupPredictions, PermModerate, PermManageQuestions, PermExport,
		PermManageMembers, PermManageRoom,
	),
}

var allPermissions = rolePermissions[RoleOwner]

// RolePermissions returns the permissions granted by a role.
func RolePermissions(role Role) PermissionSet {
	return rolePermissions[role]
}

// Permissions resolves what viewer may do in room. Unknown viewers get nothing
// unless the room grants a public role; site admins get everything.
func Permissions(viewer Viewer, room Room) PermissionSet {
	if viewer.Admin {
		return allPermissions
	}
	if role, ok := room.MemberRole(viewer.UserID); ok {
		return rolePermissions[role]
	}
	if room.PublicRole != "" {
		return rolePermissions[room.PublicRole]
	}
	return nil
}

// RoleRank orders roles; higher ranks hold more permissions.
func RoleRank(role Role) int {
	switch role {
	case RoleOwner:
		return 4
	case RoleModerator:
		return 3
	case RolePredictor:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}
