package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/platform/db"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

// TxRepository exposes transactional operations used by service. Ledger returns the
// accounting view of the same transaction so stock and postings commit together.
type TxRepository interface {
	Ledger() accounting.TxRepository
	LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	GlobalStock(ctx context.Context, productID int64) (decimal.Decimal, error)
	GetLevel(ctx context.Context, productID, branchID int64) (Level, error)
	AddToLevel(ctx context.Context, productID, branchID int64, delta decimal.Decimal) (Level, error)
	SetLevel(ctx context.Context, productID, branchID int64, qty decimal.Decimal) (Level, error)
	UpdateProductCost(ctx context.Context, productID int64, cost decimal.Decimal) error
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	ClaimKey(ctx context.Context, key, module string) error
	BranchActive(ctx context.Context, branchID int64) (bool, error)
	ListLevels(ctx context.Context, scope branchscope.Scope, productID int64) ([]Level, error)
	ListTransactions(ctx context.Context, scope branchscope.Scope, filter TransactionFilter) ([]Transaction, error)
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(runner *db.Runner) *Repository {
	return &Repository{runner: runner}
}

// WithTx executes the callback inside a repeatable-read transaction. Serialization
// failures rerun the callback from scratch.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.runner == nil {
		return errors.New("inventory repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: accounting.NewTxRepository(tx)})
	})
}

type txRepo struct {
	tx     pgx.Tx
	ledger accounting.TxRepository
}

func (r *txRepo) Ledger() accounting.TxRepository {
	return r.ledger
}

func (r *txRepo) LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, sku, name, unit, purchase_unit, conversion_factor, cost, is_active
FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.PurchaseUnit, &p.ConversionFactor, &p.Cost, &p.IsActive); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
		}
	}
	return out, nil
}

func (r *txRepo) GlobalStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_on_hand), 0) FROM inventory_levels WHERE product_id=$1`, productID).Scan(&total)
	return total, err
}

const levelColumns = `product_id, branch_id, quantity_on_hand, updated_at`

func scanLevel(row pgx.Row) (Level, error) {
	var l Level
	err := row.Scan(&l.ProductID, &l.BranchID, &l.QuantityOnHand, &l.UpdatedAt)
	return l, err
}

func (r *txRepo) GetLevel(ctx context.Context, productID, branchID int64) (Level, error) {
	level, err := scanLevel(r.tx.QueryRow(ctx, `SELECT `+levelColumns+` FROM inventory_levels WHERE product_id=$1 AND branch_id=$2`, productID, branchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Level{ProductID: productID, BranchID: branchID}, ErrLevelNotFound
		}
		return Level{}, err
	}
	return level, nil
}

func (r *txRepo) AddToLevel(ctx context.Context, productID, branchID int64, delta decimal.Decimal) (Level, error) {
	level, err := scanLevel(r.tx.QueryRow(ctx, `INSERT INTO inventory_levels (product_id, branch_id, quantity_on_hand, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (product_id, branch_id) DO UPDATE
SET quantity_on_hand = inventory_levels.quantity_on_hand + EXCLUDED.quantity_on_hand, updated_at = NOW()
RETURNING `+levelColumns, productID, branchID, delta))
	if err != nil {
		return Level{}, err
	}
	return level, r.bumpStockVersion(ctx, productID)
}

func (r *txRepo) SetLevel(ctx context.Context, productID, branchID int64, qty decimal.Decimal) (Level, error) {
	level, err := scanLevel(r.tx.QueryRow(ctx, `INSERT INTO inventory_levels (product_id, branch_id, quantity_on_hand, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (product_id, branch_id) DO UPDATE
SET quantity_on_hand = EXCLUDED.quantity_on_hand, updated_at = NOW()
RETURNING `+levelColumns, productID, branchID, qty))
	if err != nil {
		return Level{}, err
	}
	return level, r.bumpStockVersion(ctx, productID)
}

// bumpStockVersion writes the product row on every level change. A RepeatableRead
// transaction waiting in LockProducts then fails with 40001 instead of summing levels
// from a snapshot that predates the change, and the runner retries it.
func (r *txRepo) bumpStockVersion(ctx context.Context, productID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET stock_version = stock_version + 1 WHERE id=$1`, productID)
	return err
}

func (r *txRepo) UpdateProductCost(ctx context.Context, productID int64, cost decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE products SET cost=$2, updated_at=NOW() WHERE id=$1`, productID, cost)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	return nil
}

func (r *txRepo) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transactions
(type, product_id, quantity, branch_id, counter_branch_id, notes, reference, occurred_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		txn.Type, txn.ProductID, txn.Quantity, txn.BranchID, txn.CounterBranchID, txn.Notes, txn.Reference, txn.OccurredAt, nullInt(txn.CreatedBy)).
		Scan(&txn.ID)
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

func (r *txRepo) ClaimKey(ctx context.Context, key, module string) error {
	return shared.NewIdempotencyStore(r.tx).CheckAndInsert(ctx, key, module)
}

func (r *txRepo) BranchActive(ctx context.Context, branchID int64) (bool, error) {
	var active bool
	err := r.tx.QueryRow(ctx, `SELECT is_active FROM branches WHERE id=$1`, branchID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return active, err
}

func (r *txRepo) ListLevels(ctx context.Context, scope branchscope.Scope, productID int64) ([]Level, error) {
	pred, args := scope.Predicate("branch_id", 2)
	rows, err := r.tx.Query(ctx, `SELECT `+levelColumns+` FROM inventory_levels WHERE product_id=$1 AND `+pred+` ORDER BY branch_id`,
		append([]any{productID}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var levels []Level
	for rows.Next() {
		l, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

func (r *txRepo) ListTransactions(ctx context.Context, scope branchscope.Scope, filter TransactionFilter) ([]Transaction, error) {
	pred, args := scope.Predicate("branch_id", 1)
	conds := []string{pred}
	if filter.ProductID > 0 {
		args = append(args, filter.ProductID)
		conds = append(conds, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	rows, err := r.tx.Query(ctx, `SELECT id, type, product_id, quantity, branch_id, counter_branch_id, notes, reference, occurred_at, COALESCE(created_by, 0)
FROM inventory_transactions WHERE `+strings.Join(conds, " AND ")+fmt.Sprintf(` ORDER BY occurred_at ASC, id ASC LIMIT $%d`, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.ProductID, &t.Quantity, &t.BranchID, &t.CounterBranchID, &t.Notes, &t.Reference, &t.OccurredAt, &t.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
