package accounting

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/odyssey-erp/resto-ledger/internal/accounting/accrual"
	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PostingRecorder counts committed entries.
type PostingRecorder interface {
	EntryPosted(source string)
}

// Service coordinates posting and reading journal entries.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	recorder PostingRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, recorder PostingRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, recorder: recorder, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PostEntry validates, authorises and persists a manual journal entry together with
// its accrual schedule, if any.
func (s *Service) PostEntry(ctx context.Context, scope branchscope.Scope, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	branchID, err := scope.AuthorizeWrite(input.BranchID)
	if err != nil {
		return JournalEntry{}, err
	}
	input.BranchID = branchID
	if input.Source == "" {
		input.Source = "manual"
	}
	var entry JournalEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = PostInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.afterCommit(ctx, input, entry)
	return entry, nil
}

// PostInTx posts input inside an already open transaction. Callers authorise the branch.
func PostInTx(ctx context.Context, tx TxRepository, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var schedule []accrual.Installment
	if input.Accrual != nil {
		var err error
		schedule, err = planAccrual(input)
		if err != nil {
			return JournalEntry{}, err
		}
	}
	if input.BranchID != nil {
		ok, err := tx.BranchExists(ctx, *input.BranchID)
		if err != nil {
			return JournalEntry{}, err
		}
		if !ok {
			return JournalEntry{}, fmt.Errorf("%w: %d", ErrBranchNotFound, *input.BranchID)
		}
	}
	accounts, err := loadAccounts(ctx, tx, input)
	if err != nil {
		return JournalEntry{}, err
	}
	entry, err := insertEntry(ctx, tx, input, accounts)
	if err != nil {
		return JournalEntry{}, err
	}
	for _, inst := range schedule {
		parentID := entry.ID
		child := PostingInput{
			Date:           inst.Date,
			Description:    inst.Description,
			Reference:      input.Reference,
			BranchID:       input.BranchID,
			RelatedEntryID: &parentID,
			PostedBy:       input.PostedBy,
			Source:         "accrual",
			Lines: []PostingLineInput{
				{AccountID: input.Accrual.DebitAccountID, Debit: inst.Amount},
				{AccountID: input.Accrual.CreditAccountID, Credit: inst.Amount},
			},
		}
		installment, err := insertEntry(ctx, tx, child, accounts)
		if err != nil {
			return JournalEntry{}, fmt.Errorf("accounting: accrual installment %d/%d: %w", inst.Index, inst.Of, err)
		}
		entry.Installments = append(entry.Installments, installment)
	}
	return entry, nil
}

func planAccrual(input PostingInput) ([]accrual.Installment, error) {
	total := input.Accrual.TotalAmount
	if total.IsZero() {
		total = input.TotalDebit()
	}
	schedule, err := accrual.Plan(accrual.Input{
		Description:  input.Description,
		TotalAmount:  total,
		Installments: input.Accrual.Installments,
		FirstDate:    input.Accrual.FirstDate,
	})
	if err != nil {
		return nil, shared.Validationf("%s", err.Error())
	}
	if !schedule[0].Amount.IsPositive() {
		return nil, shared.Validationf("accounting: accrual total %s too small for %d installments", total, input.Accrual.Installments)
	}
	return schedule, nil
}

func loadAccounts(ctx context.Context, tx TxRepository, input PostingInput) (map[int64]Account, error) {
	ids := make([]int64, 0, len(input.Lines)+2)
	for _, line := range input.Lines {
		ids = append(ids, line.AccountID)
	}
	if input.Accrual != nil {
		ids = append(ids, input.Accrual.DebitAccountID, input.Accrual.CreditAccountID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	accounts, err := tx.GetAccountsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		acc, ok := accounts[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
		}
		if !acc.IsActive {
			return nil, shared.Validationf("accounting: account %s is inactive", acc.Code)
		}
	}
	return accounts, nil
}

func insertEntry(ctx context.Context, tx TxRepository, input PostingInput, accounts map[int64]Account) (JournalEntry, error) {
	entry, err := tx.InsertJournalEntry(ctx, input)
	if err != nil {
		return JournalEntry{}, err
	}
	lines, err := tx.InsertJournalLines(ctx, entry.ID, input.Lines)
	if err != nil {
		return JournalEntry{}, err
	}
	for i := range lines {
		if acc, ok := accounts[lines[i].AccountID]; ok {
			lines[i].Account = &acc
		}
	}
	entry.Lines = lines
	return entry, nil
}

func (s *Service) afterCommit(ctx context.Context, input PostingInput, entry JournalEntry) {
	if s.recorder != nil {
		s.recorder.EntryPosted(input.Source)
		for range entry.Installments {
			s.recorder.EntryPosted("accrual")
		}
	}
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"source":       input.Source,
		"description":  entry.Description,
		"total":        entry.TotalDebit().StringFixed(AmountPlaces),
		"installments": len(entry.Installments),
	}
	if entry.BranchID != nil {
		meta["branch_id"] = *entry.BranchID
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  input.PostedBy,
		Action:   "journal.post",
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit journal post", slog.Int64("entry_id", entry.ID), slog.Any("error", err))
	}
}

// RecordPosting lets other modules report entries they posted through PostInTx.
func (s *Service) RecordPosting(ctx context.Context, input PostingInput, entry JournalEntry) {
	s.afterCommit(ctx, input, entry)
}

// GetEntry returns one entry visible in scope.
func (s *Service) GetEntry(ctx context.Context, scope branchscope.Scope, id int64) (JournalEntry, error) {
	if err := scope.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if id <= 0 {
		return JournalEntry{}, shared.Validationf("accounting: entry id required")
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetJournalWithLines(ctx, scope, id)
		return err
	})
	return entry, err
}

// ListEntries returns scoped entries ordered by date then id.
func (s *Service) ListEntries(ctx context.Context, scope branchscope.Scope, filter EntryFilter) ([]JournalEntry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, shared.Validationf("accounting: date range is inverted")
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, shared.Validationf("accounting: negative paging")
	}
	var entries []JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListJournalEntries(ctx, scope, filter)
		return err
	})
	return entries, err
}

// AccountBalances returns the scoped trial balance for the date range.
func (s *Service) AccountBalances(ctx context.Context, scope branchscope.Scope, from, to *time.Time) ([]AccountBalance, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, shared.Validationf("accounting: date range is inverted")
	}
	var balances []AccountBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		balances, err = tx.AccountBalances(ctx, scope, from, to)
		return err
	})
	return balances, err
}

// ListAccounts retrieves all chart of accounts entries.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx)
		return err
	})
	return accounts, err
}

// ReassignBranch moves every entry of one branch (nil = global) to another during a
// branch archive or merge. Only the head office may do this.
func (s *Service) ReassignBranch(ctx context.Context, scope branchscope.Scope, actorID int64, from, to *int64) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	if !scope.IsHeadOffice() {
		return 0, shared.Forbiddenf("accounting: branch reassignment requires head office")
	}
	if (from == nil && to == nil) || (from != nil && to != nil && *from == *to) {
		return 0, shared.Validationf("accounting: source and target branch are the same")
	}
	var moved int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, id := range []*int64{from, to} {
			if id == nil {
				continue
			}
			ok, err := tx.BranchExists(ctx, *id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %d", ErrBranchNotFound, *id)
			}
		}
		var err error
		moved, err = tx.ReassignBranch(ctx, from, to)
		return err
	})
	if err != nil {
		return 0, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "journal.reassign_branch",
			Entity:   "branch",
			EntityID: branchLabel(from),
			Meta:     map[string]any{"to": branchLabel(to), "entries": moved},
			At:       s.now(),
		}); err != nil {
			s.logger.WarnContext(ctx, "audit branch reassignment", slog.Any("error", err))
		}
	}
	return moved, nil
}

func branchLabel(id *int64) string {
	if id == nil {
		return "global"
	}
	return fmt.Sprintf("%d", *id)
}
