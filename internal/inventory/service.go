package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PostingObserver is notified about journal entries committed with a stock movement.
type PostingObserver interface {
	RecordPosting(ctx context.Context, input accounting.PostingInput, entry accounting.JournalEntry)
}

// MovementRecorder counts appended inventory transactions.
type MovementRecorder interface {
	StockMovement(kind string)
}

// Service coordinates stock movements, costing and their ledger postings.
type Service struct {
	repo     RepositoryPort
	resolver *accounting.Resolver
	postings PostingObserver
	audit    AuditPort
	recorder MovementRecorder
	logger   *slog.Logger
	allowNeg bool
	now      func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// Dependencies wires optional collaborators.
type Dependencies struct {
	Postings PostingObserver
	Audit    AuditPort
	Recorder MovementRecorder
	Logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, resolver *accounting.Resolver, cfg ServiceConfig, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = accounting.NewResolver(accounting.MappingFailClosed, logger, nil)
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		postings: deps.Postings,
		audit:    deps.Audit,
		recorder: deps.Recorder,
		logger:   logger,
		allowNeg: cfg.AllowNegativeStock,
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// committed collects side effects reported only after the transaction commits.
type committed struct {
	movements []Transaction
	postings  []posted
}

type posted struct {
	input accounting.PostingInput
	entry accounting.JournalEntry
}

func (c *committed) reset() {
	c.movements = c.movements[:0]
	c.postings = c.postings[:0]
}

// Purchase receives goods into the operating branch, recomputes each product's weighted
// average cost and posts one entry debiting inventory and crediting payables.
func (s *Service) Purchase(ctx context.Context, scope branchscope.Scope, input PurchaseInput) (PurchaseResult, error) {
	if err := input.Validate(); err != nil {
		return PurchaseResult{}, err
	}
	branchID, err := scope.OperatingBranch(input.BranchID)
	if err != nil {
		return PurchaseResult{}, err
	}
	date := s.dateOr(input.Date)
	var (
		result PurchaseResult
		effect committed
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		effect.reset()
		result = PurchaseResult{BranchID: branchID, TotalValue: decimal.Zero, TotalValuePosted: decimal.Zero}
		if err := requireBranch(ctx, tx, branchID); err != nil {
			return err
		}
		if input.InvoiceNumber != "" {
			key := fmt.Sprintf("purchase:%d:%s", input.VendorID, input.InvoiceNumber)
			if err := tx.ClaimKey(ctx, key, PurchaseKeyModule); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					return fmt.Errorf("%w: vendor %d invoice %s", ErrDuplicateInvoice, input.VendorID, input.InvoiceNumber)
				}
				return err
			}
		}
		ids := make([]int64, 0, len(input.Items))
		for _, item := range input.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, item := range input.Items {
			product := products[item.ProductID]
			if !product.ConversionFactor.IsPositive() {
				return shared.Configurationf("inventory: product %s has no positive conversion factor", product.SKU)
			}
			baseQty, value := ReceiptValue(item.Quantity, product.ConversionFactor, item.UnitCost)
			stock, err := tx.GlobalStock(ctx, product.ID)
			if err != nil {
				return err
			}
			newCost := WeightedAverage(stock, product.Cost, baseQty, value)
			if err := tx.UpdateProductCost(ctx, product.ID, newCost); err != nil {
				return err
			}
			if _, err := tx.AddToLevel(ctx, product.ID, branchID, baseQty); err != nil {
				return err
			}
			movement, err := tx.InsertTransaction(ctx, Transaction{
				Type:       TransactionPurchaseIn,
				ProductID:  product.ID,
				Quantity:   baseQty,
				BranchID:   branchID,
				Notes:      fmt.Sprintf("Purchase from vendor %d: %s %s at %s", input.VendorID, item.Quantity, product.PurchaseUnit, item.UnitCost),
				Reference:  input.InvoiceNumber,
				OccurredAt: date,
				CreatedBy:  input.ActorID,
			})
			if err != nil {
				return err
			}
			effect.movements = append(effect.movements, movement)
			result.Lines = append(result.Lines, PurchaseLine{
				ProductID:    product.ID,
				BaseQuantity: baseQty,
				Value:        value,
				PreviousCost: product.Cost,
				NewCost:      newCost,
			})
			product.Cost = newCost
			products[product.ID] = product
			result.TotalValue = result.TotalValue.Add(value)
		}
		amount := accounting.RoundMoney(result.TotalValue)
		if amount.IsZero() {
			return nil
		}
		description := fmt.Sprintf("Purchase from vendor %d", input.VendorID)
		if input.InvoiceNumber != "" {
			description = fmt.Sprintf("Purchase invoice %s from vendor %d", input.InvoiceNumber, input.VendorID)
		}
		entry, ok, err := s.post(ctx, tx, &effect, postingSpec{
			date:        date,
			description: description,
			reference:   input.InvoiceNumber,
			branchID:    branchID,
			actorID:     input.ActorID,
			source:      "purchase",
			debitKey:    accounting.EventInventoryAsset,
			creditKey:   accounting.EventAccountsPayable,
			amount:      amount,
		})
		if err != nil {
			return err
		}
		if ok {
			result.Entry = &entry
			result.TotalValuePosted = amount
		}
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	s.afterCommit(ctx, effect, input.ActorID, "inventory.purchase", map[string]any{
		"vendor_id": input.VendorID,
		"invoice":   input.InvoiceNumber,
		"branch_id": branchID,
		"total":     result.TotalValue.StringFixed(2),
	})
	return result, nil
}

// Produce consumes ingredients at their pre-batch cost, adds the output to stock and
// pools its weighted average cost with the batch value.
func (s *Service) Produce(ctx context.Context, scope branchscope.Scope, input ProductionInput) (Batch, error) {
	if err := input.Validate(); err != nil {
		return Batch{}, err
	}
	branchID, err := scope.OperatingBranch(input.BranchID)
	if err != nil {
		return Batch{}, err
	}
	date := s.dateOr(input.Date)
	reference := ""
	if input.RecipeID != nil {
		reference = fmt.Sprintf("recipe:%d", *input.RecipeID)
	}
	var (
		batch  Batch
		effect committed
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		effect.reset()
		batch = Batch{
			RecipeID:         input.RecipeID,
			OutputProductID:  input.OutputProductID,
			QuantityProduced: input.QuantityProduced,
			BranchID:         branchID,
			BatchCost:        decimal.Zero,
		}
		if err := requireBranch(ctx, tx, branchID); err != nil {
			return err
		}
		ids := []int64{input.OutputProductID}
		for _, ing := range input.Ingredients {
			ids = append(ids, ing.ProductID)
		}
		products, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		output := products[input.OutputProductID]

		// Costs are captured before any level moves so the batch values every
		// ingredient at the same point in time.
		for _, ing := range input.Ingredients {
			cost := products[ing.ProductID].Cost
			line := BatchIngredient{
				ProductID:    ing.ProductID,
				QuantityUsed: ing.QuantityUsed,
				UnitCost:     cost,
				LineCost:     cost.Mul(ing.QuantityUsed),
			}
			batch.Ingredients = append(batch.Ingredients, line)
			batch.BatchCost = batch.BatchCost.Add(line.LineCost)
		}

		for _, ing := range input.Ingredients {
			if err := s.consume(ctx, tx, ing.ProductID, branchID, ing.QuantityUsed); err != nil {
				return err
			}
			movement, err := tx.InsertTransaction(ctx, Transaction{
				Type:       TransactionProduction,
				ProductID:  ing.ProductID,
				Quantity:   ing.QuantityUsed.Neg(),
				BranchID:   branchID,
				Notes:      fmt.Sprintf("Consumed for %s", output.SKU),
				Reference:  reference,
				OccurredAt: date,
				CreatedBy:  input.ActorID,
			})
			if err != nil {
				return err
			}
			effect.movements = append(effect.movements, movement)
		}

		if _, err := tx.AddToLevel(ctx, output.ID, branchID, input.QuantityProduced); err != nil {
			return err
		}
		globalAfter, err := tx.GlobalStock(ctx, output.ID)
		if err != nil {
			return err
		}
		oldStock := globalAfter.Sub(input.QuantityProduced)
		batch.PreviousCost = output.Cost
		batch.NewCost = WeightedAverage(oldStock, output.Cost, input.QuantityProduced, batch.BatchCost)
		if err := tx.UpdateProductCost(ctx, output.ID, batch.NewCost); err != nil {
			return err
		}
		movement, err := tx.InsertTransaction(ctx, Transaction{
			Type:       TransactionProduction,
			ProductID:  output.ID,
			Quantity:   input.QuantityProduced,
			BranchID:   branchID,
			Notes:      fmt.Sprintf("Produced %s %s", input.QuantityProduced, output.Unit),
			Reference:  reference,
			OccurredAt: date,
			CreatedBy:  input.ActorID,
		})
		if err != nil {
			return err
		}
		effect.movements = append(effect.movements, movement)

		amount := accounting.RoundMoney(batch.BatchCost)
		if amount.IsZero() {
			return nil
		}
		entry, ok, err := s.post(ctx, tx, &effect, postingSpec{
			date:        date,
			description: fmt.Sprintf("Production of %s x %s", input.QuantityProduced, output.SKU),
			reference:   reference,
			branchID:    branchID,
			actorID:     input.ActorID,
			source:      "production",
			debitKey:    accounting.EventInventoryFinishedGoods,
			creditKey:   accounting.EventInventoryRawMaterials,
			amount:      amount,
		})
		if err != nil {
			return err
		}
		if ok {
			batch.Entry = &entry
		}
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	s.afterCommit(ctx, effect, input.ActorID, "inventory.production", map[string]any{
		"output_product_id": input.OutputProductID,
		"quantity":          input.QuantityProduced.String(),
		"branch_id":         branchID,
		"batch_cost":        batch.BatchCost.StringFixed(2),
	})
	return batch, nil
}

// RecordWaste removes stock from the operating branch and expenses it at current cost.
func (s *Service) RecordWaste(ctx context.Context, scope branchscope.Scope, input WasteInput) (WasteResult, error) {
	if err := input.Validate(); err != nil {
		return WasteResult{}, err
	}
	branchID, err := scope.OperatingBranch(input.BranchID)
	if err != nil {
		return WasteResult{}, err
	}
	date := s.dateOr(input.Date)
	var (
		result WasteResult
		effect committed
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		effect.reset()
		result = WasteResult{}
		if err := requireBranch(ctx, tx, branchID); err != nil {
			return err
		}
		products, err := lockProducts(ctx, tx, []int64{input.ProductID})
		if err != nil {
			return err
		}
		product := products[input.ProductID]
		if err := s.consume(ctx, tx, product.ID, branchID, input.Quantity); err != nil {
			return err
		}
		notes := "Waste"
		if input.Reason != "" {
			notes = "Waste: " + input.Reason
		}
		movement, err := tx.InsertTransaction(ctx, Transaction{
			Type:       TransactionWaste,
			ProductID:  product.ID,
			Quantity:   input.Quantity.Neg(),
			BranchID:   branchID,
			Notes:      notes,
			OccurredAt: date,
			CreatedBy:  input.ActorID,
		})
		if err != nil {
			return err
		}
		effect.movements = append(effect.movements, movement)
		result.Transaction = movement
		result.Value = accounting.RoundMoney(product.Cost.Mul(input.Quantity))
		if result.Value.IsZero() {
			return nil
		}
		entry, ok, err := s.post(ctx, tx, &effect, postingSpec{
			date:        date,
			description: fmt.Sprintf("Waste of %s %s %s", input.Quantity, product.Unit, product.SKU),
			branchID:    branchID,
			actorID:     input.ActorID,
			source:      "waste",
			debitKey:    accounting.EventInventoryWasteExpense,
			creditKey:   accounting.EventInventoryAsset,
			amount:      result.Value,
		})
		if err != nil {
			return err
		}
		if ok {
			result.Entry = &entry
		}
		return nil
	})
	if err != nil {
		return WasteResult{}, err
	}
	s.afterCommit(ctx, effect, input.ActorID, "inventory.waste", map[string]any{
		"product_id": input.ProductID,
		"quantity":   input.Quantity.String(),
		"branch_id":  branchID,
	})
	return result, nil
}

// Transfer moves stock between branches. Global stock is unchanged, so cost is too.
func (s *Service) Transfer(ctx context.Context, scope branchscope.Scope, input TransferInput) (TransferResult, error) {
	if err := input.Validate(); err != nil {
		return TransferResult{}, err
	}
	fromID, err := scope.OperatingBranch(input.FromBranchID)
	if err != nil {
		return TransferResult{}, err
	}
	if fromID == input.ToBranchID {
		return TransferResult{}, shared.Validationf("inventory: source and destination branch must differ")
	}
	now := s.now().UTC()
	var (
		result TransferResult
		effect committed
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		effect.reset()
		for _, id := range []int64{fromID, input.ToBranchID} {
			if err := requireBranch(ctx, tx, id); err != nil {
				return err
			}
		}
		if _, err := lockProducts(ctx, tx, []int64{input.ProductID}); err != nil {
			return err
		}
		if err := s.consume(ctx, tx, input.ProductID, fromID, input.Quantity); err != nil {
			return err
		}
		if _, err := tx.AddToLevel(ctx, input.ProductID, input.ToBranchID, input.Quantity); err != nil {
			return err
		}
		toID := input.ToBranchID
		out, err := tx.InsertTransaction(ctx, Transaction{
			Type:            TransactionTransfer,
			ProductID:       input.ProductID,
			Quantity:        input.Quantity.Neg(),
			BranchID:        fromID,
			CounterBranchID: &toID,
			Notes:           transferNote("Transfer to", toID, input.Notes),
			OccurredAt:      now,
			CreatedBy:       input.ActorID,
		})
		if err != nil {
			return err
		}
		in, err := tx.InsertTransaction(ctx, Transaction{
			Type:            TransactionTransfer,
			ProductID:       input.ProductID,
			Quantity:        input.Quantity,
			BranchID:        toID,
			CounterBranchID: &fromID,
			Notes:           transferNote("Transfer from", fromID, input.Notes),
			OccurredAt:      now,
			CreatedBy:       input.ActorID,
		})
		if err != nil {
			return err
		}
		effect.movements = append(effect.movements, out, in)
		result = TransferResult{Out: out, In: in}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.afterCommit(ctx, effect, input.ActorID, "inventory.transfer", map[string]any{
		"product_id": input.ProductID,
		"quantity":   input.Quantity.String(),
		"from":       fromID,
		"to":         input.ToBranchID,
	})
	return result, nil
}

// Levels returns the scoped per-branch quantities of one product.
func (s *Service) Levels(ctx context.Context, scope branchscope.Scope, productID int64) ([]Level, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if productID <= 0 {
		return nil, shared.Validationf("inventory: product required")
	}
	var levels []Level
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		levels, err = tx.ListLevels(ctx, scope, productID)
		return err
	})
	return levels, err
}

// Transactions returns scoped stock movements ordered by time then id.
func (s *Service) Transactions(ctx context.Context, scope branchscope.Scope, filter TransactionFilter) ([]Transaction, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.Validationf("inventory: unknown transaction type %q", filter.Type)
	}
	var out []Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListTransactions(ctx, scope, filter)
		return err
	})
	return out, err
}

type postingSpec struct {
	date        time.Time
	description string
	reference   string
	branchID    int64
	actorID     int64
	source      string
	debitKey    accounting.EventKey
	creditKey   accounting.EventKey
	amount      decimal.Decimal
}

// post resolves both accounts and posts a two-line entry inside tx. ok is false when
// the fail-open mapping policy skipped the posting.
func (s *Service) post(ctx context.Context, tx TxRepository, effect *committed, spec postingSpec) (accounting.JournalEntry, bool, error) {
	ledger := tx.Ledger()
	accounts, ok, err := s.resolver.Resolve(ctx, ledger, spec.debitKey, spec.creditKey)
	if err != nil || !ok {
		return accounting.JournalEntry{}, false, err
	}
	branchID := spec.branchID
	input := accounting.PostingInput{
		Date:        spec.date,
		Description: spec.description,
		BranchID:    &branchID,
		PostedBy:    spec.actorID,
		Source:      spec.source,
		Lines: []accounting.PostingLineInput{
			{AccountID: accounts[spec.debitKey].ID, Debit: spec.amount},
			{AccountID: accounts[spec.creditKey].ID, Credit: spec.amount},
		},
	}
	if spec.reference != "" {
		ref := spec.reference
		input.Reference = &ref
	}
	entry, err := accounting.PostInTx(ctx, ledger, input)
	if err != nil {
		return accounting.JournalEntry{}, false, err
	}
	effect.postings = append(effect.postings, posted{input: input, entry: entry})
	return entry, true, nil
}

// consume decrements a branch level, refusing to go negative unless configured to.
func (s *Service) consume(ctx context.Context, tx TxRepository, productID, branchID int64, qty decimal.Decimal) error {
	if !s.allowNeg {
		level, err := tx.GetLevel(ctx, productID, branchID)
		if err != nil && !errors.Is(err, ErrLevelNotFound) {
			return err
		}
		if level.QuantityOnHand.LessThan(qty) {
			return fmt.Errorf("%w: product %d has %s on hand in branch %d, need %s",
				ErrNegativeStock, productID, level.QuantityOnHand, branchID, qty)
		}
	}
	_, err := tx.AddToLevel(ctx, productID, branchID, qty.Neg())
	return err
}

// lockProducts takes row locks in ascending id order so concurrent operations touching
// overlapping products cannot deadlock.
func lockProducts(ctx context.Context, tx TxRepository, ids []int64) (map[int64]Product, error) {
	sorted := sortedUnique(ids)
	products, err := tx.LockProducts(ctx, sorted)
	if err != nil {
		return nil, err
	}
	for _, id := range sorted {
		if !products[id].IsActive {
			return nil, shared.Validationf("inventory: product %d is inactive", id)
		}
	}
	return products, nil
}

func sortedUnique(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func requireBranch(ctx context.Context, tx TxRepository, branchID int64) error {
	ok, err := tx.BranchActive(ctx, branchID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrBranchNotFound, branchID)
	}
	return nil
}

func (s *Service) dateOr(date time.Time) time.Time {
	if date.IsZero() {
		return s.now().UTC()
	}
	return date
}

func (s *Service) afterCommit(ctx context.Context, effect committed, actorID int64, action string, meta map[string]any) {
	if s.recorder != nil {
		for _, m := range effect.movements {
			s.recorder.StockMovement(string(m.Type))
		}
	}
	if s.postings != nil {
		for _, p := range effect.postings {
			s.postings.RecordPosting(ctx, p.input, p.entry)
		}
	}
	if s.audit == nil || len(effect.movements) == 0 {
		return
	}
	meta["movements"] = len(effect.movements)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_tx",
		EntityID: fmt.Sprintf("%d", effect.movements[0].ID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit inventory movement", slog.String("action", action), slog.Any("error", err))
	}
}

func transferNote(prefix string, branchID int64, notes string) string {
	if notes == "" {
		return fmt.Sprintf("%s branch %d", prefix, branchID)
	}
	return fmt.Sprintf("%s branch %d: %s", prefix, branchID, notes)
}
