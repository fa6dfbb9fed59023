package rbac

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Permission names checked by the HTTP layer.
const (
	PermLedgerView     = "ledger.view"
	PermLedgerPost     = "ledger.post"
	PermLedgerAdmin    = "ledger.admin"
	PermInventoryView  = "inventory.view"
	PermInventoryEdit  = "inventory.edit"
	PermBranchesView   = "branches.view"
	PermBranchesAdmin  = "branches.admin"
	PermPermissionView = "permissions.view"
)

// Catalog lists every permission with its description. EnsureCatalog seeds it.
var Catalog = []Permission{
	{Name: PermLedgerView, Description: "Read journal entries and balances"},
	{Name: PermLedgerPost, Description: "Post manual journal entries"},
	{Name: PermLedgerAdmin, Description: "Reassign entries between branches"},
	{Name: PermInventoryView, Description: "Read stock levels and movements"},
	{Name: PermInventoryEdit, Description: "Record purchases, production, waste, transfers and counts"},
	{Name: PermBranchesView, Description: "List branches"},
	{Name: PermBranchesAdmin, Description: "Create and archive branches"},
	{Name: PermPermissionView, Description: "List permissions"},
}
