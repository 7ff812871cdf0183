package approval

import (
	"github.com/shopspring/decimal"

	"github.com/heavensprominence/credparity/internal/storage"
)

// Policy maps transaction amounts to approval levels, thresholds in the
// reference currency unit. Boundaries are inclusive: amount == AutoMax still
// self-approves.
type Policy struct {
	AutoMax       decimal.Decimal
	AdminMax      decimal.Decimal
	SuperAdminMax decimal.Decimal
}

// DefaultPolicy returns the stock thresholds: auto ≤ 10, admin ≤ 100,
// super_admin ≤ 1000, owner above.
func DefaultPolicy() Policy {
	return Policy{
		AutoMax:       decimal.NewFromInt(10),
		AdminMax:      decimal.NewFromInt(100),
		SuperAdminMax: decimal.NewFromInt(1000),
	}
}

// LevelFor derives the approval level from an amount.
func (p Policy) LevelFor(amount decimal.Decimal) storage.ApprovalLevel {
	switch {
	case amount.LessThanOrEqual(p.AutoMax):
		return storage.LevelAuto
	case amount.LessThanOrEqual(p.AdminMax):
		return storage.LevelAdmin
	case amount.LessThanOrEqual(p.SuperAdminMax):
		return storage.LevelSuperAdmin
	default:
		return storage.LevelOwner
	}
}

// Role authority ranks. A single integer comparison replaces scattered
// per-role conditionals.
var roleRank = map[storage.Role]int{
	storage.RoleUser:       0,
	storage.RoleAdmin:      1,
	storage.RoleSuperAdmin: 2,
	storage.RoleOwner:      3,
}

// Required authority per approval level. Auto never reaches a human, but an
// admin can decide one if it somehow surfaces.
var levelRank = map[storage.ApprovalLevel]int{
	storage.LevelAuto:       1,
	storage.LevelAdmin:      1,
	storage.LevelSuperAdmin: 2,
	storage.LevelOwner:      3,
}

// Authority returns a role's rank; unknown roles rank below user.
func Authority(role storage.Role) int {
	if rank, ok := roleRank[role]; ok {
		return rank
	}
	return -1
}

// CanDecide reports whether a role carries enough authority to approve or
// reject a transaction at the given level.
func CanDecide(role storage.Role, level storage.ApprovalLevel) bool {
	required, ok := levelRank[level]
	if !ok {
		return false
	}
	return Authority(role) >= required
}

// AtLeast reports whether role has at least the authority of min.
func AtLeast(role, min storage.Role) bool {
	return Authority(role) >= Authority(min)
}
