package serverdb

// Role is a user's role within a store.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleCashier Role = "cashier"
)

// Permission names the gated operations.
type Permission string

const (
	PermVoidSale     Permission = "sale.void"
	PermRefundSale   Permission = "sale.refund"
	PermAdjustStock  Permission = "stock.adjust"
	PermRestockStock Permission = "stock.restock"
)

// rolePermissions is the fixed role → permission table. Cashiers sell;
// anything that rewrites history or inventory needs manager or owner.
var rolePermissions = map[Role]map[Permission]bool{
	RoleOwner: {
		PermVoidSale:     true,
		PermRefundSale:   true,
		PermAdjustStock:  true,
		PermRestockStock: true,
	},
	RoleManager: {
		PermVoidSale:     true,
		PermRefundSale:   true,
		PermAdjustStock:  true,
		PermRestockStock: true,
	},
	RoleCashier: {},
}

// HasPermission answers "does this role have permission p".
func HasPermission(role Role, p Permission) bool {
	return rolePermissions[role][p]
}
