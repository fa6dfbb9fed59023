package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
)

// Reconcile applies a physical stock count to the operating branch. Each counted product
// with a variance gets its level overwritten and an ADJUSTMENT row carrying the signed
// variance. A product whose level already matches the count is left untouched, so
// repeating a count is a no-op. Reconciliation adjusts quantity only and never posts to
// the ledger.
func (s *Service) Reconcile(ctx context.Context, scope branchscope.Scope, input ReconcileInput) (ReconcileResult, error) {
	if err := input.Validate(); err != nil {
		return ReconcileResult{}, err
	}
	branchID, err := scope.OperatingBranch(input.BranchID)
	if err != nil {
		return ReconcileResult{}, err
	}
	now := s.now().UTC()
	var (
		result ReconcileResult
		effect committed
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		effect.reset()
		result = ReconcileResult{BranchID: branchID}
		if err := requireBranch(ctx, tx, branchID); err != nil {
			return err
		}
		ids := make([]int64, 0, len(input.Items))
		for _, item := range input.Items {
			ids = append(ids, item.ProductID)
		}
		if _, err := tx.LockProducts(ctx, sortedUnique(ids)); err != nil {
			return err
		}
		for _, item := range input.Items {
			result.ItemsProcessed++
			level, err := tx.GetLevel(ctx, item.ProductID, branchID)
			exists := err == nil
			if err != nil && !errors.Is(err, ErrLevelNotFound) {
				return err
			}
			system := level.QuantityOnHand
			variance := item.ActualQuantity.Sub(system)
			if variance.IsZero() && exists {
				continue
			}
			if _, err := tx.SetLevel(ctx, item.ProductID, branchID, item.ActualQuantity); err != nil {
				return err
			}
			movement, err := tx.InsertTransaction(ctx, Transaction{
				Type:       TransactionAdjustment,
				ProductID:  item.ProductID,
				Quantity:   variance,
				BranchID:   branchID,
				Notes:      fmt.Sprintf("Stock count: system %s, counted %s, variance %s", system, item.ActualQuantity, variance),
				OccurredAt: now,
				CreatedBy:  input.ActorID,
			})
			if err != nil {
				return err
			}
			effect.movements = append(effect.movements, movement)
			result.Adjustments = append(result.Adjustments, movement)
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	s.afterCommit(ctx, effect, input.ActorID, "inventory.reconcile", map[string]any{
		"branch_id": branchID,
		"items":     result.ItemsProcessed,
	})
	return result, nil
}
