package domain

import "testing"

func TestPermissionsDenyByDefault(t *testing.T) {
	room := Room{Members: []Member{{User: RefTo[User]("u1"), Role: RoleOwner}}}
	if perms := Permissions(Viewer{}, room); perms.Has(PermViewRoom) {
		t.Fatalf("anonymous viewer must not see a private room")
	}
	if perms := Permissions(Viewer{UserID: "stranger"}, room); len(perms) != 0 {
		t.Fatalf("non-member must hold no permissions, got %v", perms)
	}
	if perms := Permissions(Viewer{UserID: "u1"}, room); !perms.Has(PermManageRoom) {
		t.Fatalf("owner must manage room")
	}
}

func TestPermissionsPublicRoleAndAdmin(t *testing.T) {
	room := Room{PublicRole: RoleViewer}
	perms := Permissions(Viewer{}, room)
	if !perms.Has(PermViewRoom) || perms.Has(PermPredict) {
		t.Fatalf("public viewer role mismatch: %v", perms)
	}
	if !Permissions(Viewer{UserID: "a", Admin: true}, Room{}).Has(PermViewHidden) {
		t.Fatalf("admin must hold every permission")
	}
}

func TestRolePermissionsAreNested(t *testing.T) {
	order := []Role{RoleViewer, RolePredictor, RoleModerator, RoleOwner}
	for i := 1; i < len(order); i++ {
		lower, higher := RolePermissions(order[i-1]), RolePermissions(order[i])
		if !higher.Contains(lower) {
			t.Fatalf("%s must include every permission of %s", order[i], order[i-1])
		}
		if RoleRank(order[i]) <= RoleRank(order[i-1]) {
			t.Fatalf("rank order mismatch for %s", order[i])
		}
	}
}
