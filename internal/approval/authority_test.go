package approval

import (
	"testing"

	"github.com/heavensprominence/credparity/internal/storage"
)

func TestAuthorityMonotonicity(t *testing.T) {
	roles := []storage.Role{storage.RoleUser, storage.RoleAdmin, storage.RoleSuperAdmin, storage.RoleOwner}
	levels := []storage.ApprovalLevel{storage.LevelAuto, storage.LevelAdmin, storage.LevelSuperAdmin, storage.LevelOwner}

	for _, level := range levels {
		for i, lower := range roles {
			for _, higher := range roles[i+1:] {
				if CanDecide(lower, level) && !CanDecide(higher, level) {
					t.Fatalf("role %s decides %s but higher role %s cannot", lower, level, higher)
				}
			}
		}
	}
}

func TestCanDecideMatrix(t *testing.T) {
	cases := []struct {
		role  storage.Role
		level storage.ApprovalLevel
		want  bool
	}{
		{storage.RoleUser, storage.LevelAdmin, false},
		{storage.RoleUser, storage.LevelAuto, false},
		{storage.RoleAdmin, storage.LevelAdmin, true},
		{storage.RoleAdmin, storage.LevelSuperAdmin, false},
		{storage.RoleSuperAdmin, storage.LevelAdmin, true},
		{storage.RoleSuperAdmin, storage.LevelSuperAdmin, true},
		{storage.RoleSuperAdmin, storage.LevelOwner, false},
		{storage.RoleOwner, storage.LevelOwner, true},
		{storage.Role("intruder"), storage.LevelAdmin, false},
	}
	for _, tc := range cases {
		if got := CanDecide(tc.role, tc.level); got != tc.want {
			t.Fatalf("CanDecide(%s, %s) = %v, want %v", tc.role, tc.level, got, tc.want)
		}
	}
}

func TestAtLeast(t *testing.T) {
	if !AtLeast(storage.RoleOwner, storage.RoleAdmin) {
		t.Fatal("owner should rank at least admin")
	}
	if AtLeast(storage.RoleUser, storage.RoleAdmin) {
		t.Fatal("user should not rank at least admin")
	}
}
