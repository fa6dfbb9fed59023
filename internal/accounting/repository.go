package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/platform/db"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	GetAccountsByIDs(ctx context.Context, ids []int64) (map[int64]Account, error)
	GetAccountByCode(ctx context.Context, code string) (Account, error)
	GetMapping(ctx context.Context, eventKey string) (AccountMapping, bool, error)
	BranchExists(ctx context.Context, id int64) (bool, error)
	InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) ([]JournalLine, error)
	GetJournalWithLines(ctx context.Context, scope branchscope.Scope, entryID int64) (JournalEntry, error)
	ListJournalEntries(ctx context.Context, scope branchscope.Scope, filter EntryFilter) ([]JournalEntry, error)
	AccountBalances(ctx context.Context, scope branchscope.Scope, from, to *time.Time) ([]AccountBalance, error)
	ReassignBranch(ctx context.Context, from, to *int64) (int64, error)
}

// Repository persists accounting entities.
type Repository struct {
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(runner *db.Runner) *Repository {
	return &Repository{runner: runner}
}

// WithTx executes fn within a repeatable-read transaction, retrying on serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.runner == nil {
		return errors.New("accounting repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository binds ledger queries to an open transaction owned by another module.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// FindImbalancedEntries returns ids of entries whose lines do not balance within BalanceEpsilon.
func FindImbalancedEntries(ctx context.Context, pool *pgxpool.Pool, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := pool.Query(ctx, `SELECT entry_id FROM journal_lines
GROUP BY entry_id
HAVING ABS(SUM(debit) - SUM(credit)) > $1
ORDER BY entry_id
LIMIT $2`, BalanceEpsilon, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

const accountColumns = `id, code, name, type, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) GetAccountsByIDs(ctx context.Context, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: code %s", ErrAccountNotFound, code)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetMapping(ctx context.Context, eventKey string) (AccountMapping, bool, error) {
	var m AccountMapping
	err := r.tx.QueryRow(ctx, `SELECT event_key, account_id, updated_at FROM account_mappings WHERE event_key=$1`, eventKey).
		Scan(&m.EventKey, &m.AccountID, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, false, nil
		}
		return AccountMapping{}, false, err
	}
	return m, true, nil
}

func (r *txRepository) BranchExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM branches WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (date, description, reference, branch_id, related_entry_id, posted_by, source)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		in.Date, in.Description, in.Reference, in.BranchID, in.RelatedEntryID, nullInt(in.PostedBy), in.Source)
	entry := JournalEntry{
		Date:           in.Date,
		Description:    in.Description,
		Reference:      in.Reference,
		BranchID:       in.BranchID,
		RelatedEntryID: in.RelatedEntryID,
		PostedBy:       in.PostedBy,
	}
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		inserted := JournalLine{EntryID: entryID, AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit}
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit)
VALUES ($1,$2,$3,$4) RETURNING id`, entryID, line.AccountID, line.Debit, line.Credit).Scan(&inserted.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, inserted)
	}
	return out, nil
}

const entryColumns = `je.id, je.date, je.description, je.reference, je.branch_id, je.related_entry_id, COALESCE(je.posted_by, 0), je.created_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Date, &e.Description, &e.Reference, &e.BranchID, &e.RelatedEntryID, &e.PostedBy, &e.CreatedAt)
	return e, err
}

func (r *txRepository) GetJournalWithLines(ctx context.Context, scope branchscope.Scope, entryID int64) (JournalEntry, error) {
	pred, args := scope.Predicate("je.branch_id", 2)
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries je WHERE je.id=$1 AND `+pred,
		append([]any{entryID}, args...)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	entries := []JournalEntry{entry}
	if err := r.attachLines(ctx, entries); err != nil {
		return JournalEntry{}, err
	}
	return entries[0], nil
}

func (r *txRepository) ListJournalEntries(ctx context.Context, scope branchscope.Scope, filter EntryFilter) ([]JournalEntry, error) {
	var (
		conds []string
		args  []any
	)
	pred, predArgs := scope.Predicate("je.branch_id", 1)
	conds = append(conds, pred)
	args = append(args, predArgs...)
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("je.date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("je.date <= $%d", len(args)))
	}
	query := `SELECT ` + entryColumns + ` FROM journal_entries je WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY je.date ASC, je.id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachLines(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *txRepository) attachLines(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]int64, len(entries))
	index := make(map[int64]int, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		index[e.ID] = i
	}
	rows, err := r.tx.Query(ctx, `SELECT jl.id, jl.entry_id, jl.account_id, jl.debit, jl.credit,
a.id, a.code, a.name, a.type, a.is_active, a.created_at, a.updated_at
FROM journal_lines jl JOIN accounts a ON a.id = jl.account_id
WHERE jl.entry_id = ANY($1) ORDER BY jl.entry_id, jl.id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line JournalLine
			acc  Account
		)
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit,
			&acc.ID, &acc.Code, &acc.Name, &acc.Type, &acc.IsActive, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return err
		}
		line.Account = &acc
		i := index[line.EntryID]
		entries[i].Lines = append(entries[i].Lines, line)
	}
	return rows.Err()
}

func (r *txRepository) AccountBalances(ctx context.Context, scope branchscope.Scope, from, to *time.Time) ([]AccountBalance, error) {
	pred, args := scope.Predicate("je.branch_id", 1)
	conds := []string{pred}
	if from != nil {
		args = append(args, *from)
		conds = append(conds, fmt.Sprintf("je.date >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		conds = append(conds, fmt.Sprintf("je.date <= $%d", len(args)))
	}
	rows, err := r.tx.Query(ctx, `SELECT a.id, a.code, a.name, a.type, a.is_active, a.created_at, a.updated_at,
COALESCE(SUM(jl.debit), 0), COALESCE(SUM(jl.credit), 0)
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.entry_id
JOIN accounts a ON a.id = jl.account_id
WHERE `+strings.Join(conds, " AND ")+`
GROUP BY a.id
ORDER BY a.code`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBalance
	for rows.Next() {
		var (
			b             AccountBalance
			debit, credit decimal.Decimal
		)
		if err := rows.Scan(&b.Account.ID, &b.Account.Code, &b.Account.Name, &b.Account.Type, &b.Account.IsActive,
			&b.Account.CreatedAt, &b.Account.UpdatedAt, &debit, &credit); err != nil {
			return nil, err
		}
		b.Debit, b.Credit = debit, credit
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *txRepository) ReassignBranch(ctx context.Context, from, to *int64) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if from == nil {
		tag, err = r.tx.Exec(ctx, `UPDATE journal_entries SET branch_id=$1 WHERE branch_id IS NULL`, to)
	} else {
		tag, err = r.tx.Exec(ctx, `UPDATE journal_entries SET branch_id=$1 WHERE branch_id=$2`, to, *from)
	}
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
