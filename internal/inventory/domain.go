package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

// TransactionType enumerates supported inventory movements.
//
// Quantity sign per type:
//   - PURCHASE_IN: positive base-unit quantity received.
//   - PRODUCTION: positive on the output row, negative on each ingredient row.
//   - WASTE: negative quantity discarded.
//   - TRANSFER: negative on the source branch row, positive on the destination row.
//   - ADJUSTMENT: signed variance, counted minus system.
type TransactionType string

const (
	TransactionPurchaseIn TransactionType = "PURCHASE_IN"
	TransactionProduction TransactionType = "PRODUCTION"
	TransactionWaste      TransactionType = "WASTE"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
	TransactionTransfer   TransactionType = "TRANSFER"
)

// Valid reports whether t is a known movement type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionPurchaseIn, TransactionProduction, TransactionWaste, TransactionAdjustment, TransactionTransfer:
		return true
	}
	return false
}

// Product carries the global weighted average cost. Cost is mutated only by costing.
type Product struct {
	ID               int64
	SKU              string
	Name             string
	Unit             string
	PurchaseUnit     string
	ConversionFactor decimal.Decimal
	Cost             decimal.Decimal
	IsActive         bool
}

// Level is the quantity on hand of one product in one branch.
type Level struct {
	ProductID      int64
	BranchID       int64
	QuantityOnHand decimal.Decimal
	UpdatedAt      time.Time
}

// Transaction is an append-only stock movement row.
type Transaction struct {
	ID              int64
	Type            TransactionType
	ProductID       int64
	Quantity        decimal.Decimal
	BranchID        int64
	CounterBranchID *int64
	Notes           string
	Reference       string
	OccurredAt      time.Time
	CreatedBy       int64
}

// PurchaseItem is one invoice line in purchase units.
type PurchaseItem struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
}

// PurchaseInput records received goods for the caller's branch.
type PurchaseInput struct {
	VendorID      int64
	InvoiceNumber string
	BranchID      *int64
	Date          time.Time
	Items         []PurchaseItem
	ActorID       int64
}

// PurchaseLine reports the costing outcome of one item.
type PurchaseLine struct {
	ProductID    int64
	BaseQuantity decimal.Decimal
	Value        decimal.Decimal
	PreviousCost decimal.Decimal
	NewCost      decimal.Decimal
}

// PurchaseResult summarises a committed purchase. TotalValuePosted is zero when the
// posting was skipped under the fail-open mapping policy.
type PurchaseResult struct {
	BranchID         int64
	TotalValue       decimal.Decimal
	TotalValuePosted decimal.Decimal
	Lines            []PurchaseLine
	Entry            *accounting.JournalEntry
}

// IngredientUsage is one consumed ingredient in base units.
type IngredientUsage struct {
	ProductID    int64
	QuantityUsed decimal.Decimal
}

// ProductionInput converts ingredients into an output product.
type ProductionInput struct {
	RecipeID         *int64
	OutputProductID  int64
	QuantityProduced decimal.Decimal
	BranchID         *int64
	Date             time.Time
	Ingredients      []IngredientUsage
	ActorID          int64
}

// BatchIngredient is an ingredient valued at its cost before the batch ran.
type BatchIngredient struct {
	ProductID    int64
	QuantityUsed decimal.Decimal
	UnitCost     decimal.Decimal
	LineCost     decimal.Decimal
}

// Batch is the outcome of a production run.
type Batch struct {
	RecipeID         *int64
	OutputProductID  int64
	QuantityProduced decimal.Decimal
	BranchID         int64
	Ingredients      []BatchIngredient
	BatchCost        decimal.Decimal
	PreviousCost     decimal.Decimal
	NewCost          decimal.Decimal
	Entry            *accounting.JournalEntry
}

// WasteInput discards stock at current cost.
type WasteInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	BranchID  *int64
	Reason    string
	Date      time.Time
	ActorID   int64
}

// WasteResult reports a recorded waste.
type WasteResult struct {
	Transaction Transaction
	Value       decimal.Decimal
	Entry       *accounting.JournalEntry
}

// TransferInput moves stock between branches.
type TransferInput struct {
	ProductID    int64
	Quantity     decimal.Decimal
	FromBranchID *int64
	ToBranchID   int64
	Notes        string
	ActorID      int64
}

// TransferResult holds the source and destination rows.
type TransferResult struct {
	Out Transaction
	In  Transaction
}

// CountItem is one physically counted product.
type CountItem struct {
	ProductID      int64
	ActualQuantity decimal.Decimal
}

// ReconcileInput is a stock-take for one branch.
type ReconcileInput struct {
	BranchID *int64
	Items    []CountItem
	ActorID  int64
}

// ReconcileResult lists the adjustments written. Items with no variance are counted in
// ItemsProcessed but produce no adjustment.
type ReconcileResult struct {
	BranchID       int64
	ItemsProcessed int
	Adjustments    []Transaction
}

// TransactionFilter narrows Transactions. Zero values are unbounded.
type TransactionFilter struct {
	ProductID int64
	Type      TransactionType
	From      *time.Time
	To        *time.Time
	Limit     int
}

// PurchaseKeyModule tags the idempotency keys that make a vendor invoice receivable
// once. Cleanup never prunes them.
const PurchaseKeyModule = "inventory.purchase"

var (
	// ErrNegativeStock triggered when movement would result negative qty.
	ErrNegativeStock = fmt.Errorf("%w: inventory: negative stock not allowed", shared.ErrValidation)
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = fmt.Errorf("%w: inventory: quantity must be positive", shared.ErrValidation)
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = fmt.Errorf("%w: inventory: unit cost must be >= 0", shared.ErrValidation)
	// ErrProductNotFound indicates an unknown product reference.
	ErrProductNotFound = fmt.Errorf("%w: inventory: product not found", shared.ErrNotFound)
	// ErrBranchNotFound indicates an unknown or inactive branch.
	ErrBranchNotFound = fmt.Errorf("%w: inventory: branch not found", shared.ErrNotFound)
	// ErrDuplicateInvoice indicates the vendor invoice was already received.
	ErrDuplicateInvoice = fmt.Errorf("%w: inventory: invoice already received", shared.ErrValidation)
	// ErrLevelNotFound is returned by repositories for a missing level row.
	ErrLevelNotFound = errors.New("inventory: level not found")
)

// Validate checks a purchase before any write.
func (in PurchaseInput) Validate() error {
	if in.VendorID <= 0 {
		return shared.Validationf("inventory: vendor required")
	}
	if len(in.Items) == 0 {
		return shared.Validationf("inventory: purchase requires at least one item")
	}
	for idx, item := range in.Items {
		if item.ProductID <= 0 {
			return shared.Validationf("inventory: item %d missing product", idx)
		}
		if !item.Quantity.IsPositive() {
			return fmt.Errorf("item %d: %w", idx, ErrInvalidQuantity)
		}
		if item.UnitCost.IsNegative() {
			return fmt.Errorf("item %d: %w", idx, ErrInvalidUnitCost)
		}
	}
	return nil
}

// Validate checks a production run before any write.
func (in ProductionInput) Validate() error {
	if in.OutputProductID <= 0 {
		return shared.Validationf("inventory: output product required")
	}
	if !in.QuantityProduced.IsPositive() {
		return fmt.Errorf("output: %w", ErrInvalidQuantity)
	}
	if len(in.Ingredients) == 0 {
		return shared.Validationf("inventory: production requires at least one ingredient")
	}
	seen := make(map[int64]struct{}, len(in.Ingredients))
	for idx, ing := range in.Ingredients {
		if ing.ProductID <= 0 {
			return shared.Validationf("inventory: ingredient %d missing product", idx)
		}
		if ing.ProductID == in.OutputProductID {
			return shared.Validationf("inventory: ingredient %d is the output product", idx)
		}
		if _, dup := seen[ing.ProductID]; dup {
			return shared.Validationf("inventory: ingredient product %d listed twice", ing.ProductID)
		}
		seen[ing.ProductID] = struct{}{}
		if !ing.QuantityUsed.IsPositive() {
			return fmt.Errorf("ingredient %d: %w", idx, ErrInvalidQuantity)
		}
	}
	return nil
}

// Validate checks a waste record before any write.
func (in WasteInput) Validate() error {
	if in.ProductID <= 0 {
		return shared.Validationf("inventory: product required")
	}
	if !in.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	return nil
}

// Validate checks a transfer before any write.
func (in TransferInput) Validate() error {
	if in.ProductID <= 0 {
		return shared.Validationf("inventory: product required")
	}
	if in.ToBranchID <= 0 {
		return shared.Validationf("inventory: destination branch required")
	}
	if in.FromBranchID != nil && *in.FromBranchID == in.ToBranchID {
		return shared.Validationf("inventory: source and destination branch must differ")
	}
	if !in.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	return nil
}

// Validate checks a stock count before any write.
func (in ReconcileInput) Validate() error {
	if len(in.Items) == 0 {
		return shared.Validationf("inventory: stock count requires at least one item")
	}
	seen := make(map[int64]struct{}, len(in.Items))
	for idx, item := range in.Items {
		if item.ProductID <= 0 {
			return shared.Validationf("inventory: count item %d missing product", idx)
		}
		if _, dup := seen[item.ProductID]; dup {
			return shared.Validationf("inventory: product %d counted twice", item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
		if item.ActualQuantity.IsNegative() {
			return shared.Validationf("inventory: count item %d has negative quantity", idx)
		}
	}
	return nil
}
