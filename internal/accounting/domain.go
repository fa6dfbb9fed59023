package accounting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/resto-ledger/internal/accounting/accrual"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// BalanceEpsilon is the largest tolerated difference between debits and credits of one entry.
var BalanceEpsilon = decimal.RequireFromString("0.01")

// AmountPlaces is the precision journal line amounts are stored at.
const AmountPlaces = 3

// Account models a chart of accounts node.
type Account struct {
	ID        int64
	Code      string
	Name      string
	Type      AccountType
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JournalEntry captures posting metadata. BranchID nil marks a global entry visible
// from every branch.
type JournalEntry struct {
	ID             int64
	Date           time.Time
	Description    string
	Reference      *string
	BranchID       *int64
	RelatedEntryID *int64
	PostedBy       int64
	CreatedAt      time.Time
	Lines          []JournalLine
	Installments   []JournalEntry
}

// TotalDebit sums the debit side of the entry.
func (e JournalEntry) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		total = total.Add(line.Debit)
	}
	return total
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID        int64
	EntryID   int64
	AccountID int64
	Account   *Account
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// AccountMapping links an event key to a ledger account.
type AccountMapping struct {
	EventKey  string
	AccountID int64
	UpdatedAt time.Time
}

// AccountBalance is one trial-balance row.
type AccountBalance struct {
	Account Account
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// Net returns debit minus credit.
func (b AccountBalance) Net() decimal.Decimal {
	return b.Debit.Sub(b.Credit)
}

// PostingLineInput describes a journal line for posting request.
type PostingLineInput struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// AccrualInput requests an installment schedule alongside the parent entry.
// TotalAmount defaults to the parent's debit total when zero.
type AccrualInput struct {
	TotalAmount     decimal.Decimal
	Installments    int
	FirstDate       time.Time
	DebitAccountID  int64
	CreditAccountID int64
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	Date           time.Time
	Description    string
	Reference      *string
	BranchID       *int64
	RelatedEntryID *int64
	PostedBy       int64
	Source         string
	Lines          []PostingLineInput
	Accrual        *AccrualInput
}

// TotalDebit sums the debit side of the input lines.
func (in PostingInput) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range in.Lines {
		total = total.Add(line.Debit)
	}
	return total
}

// EntryFilter narrows ListEntries. Zero values are unbounded.
type EntryFilter struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

var (
	// ErrUnbalanced indicates debit != credit. Every ImbalancedEntryError matches it.
	ErrUnbalanced = shared.ErrImbalanced
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = fmt.Errorf("%w: accounting: journal requires at least two lines", shared.ErrValidation)
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = fmt.Errorf("%w: accounting: journal entry not found", shared.ErrNotFound)
	// ErrAccountNotFound indicates an unknown account reference.
	ErrAccountNotFound = fmt.Errorf("%w: accounting: account not found", shared.ErrNotFound)
	// ErrBranchNotFound indicates an unknown branch reference.
	ErrBranchNotFound = fmt.Errorf("%w: accounting: branch not found", shared.ErrNotFound)
	// ErrMappingNotFound indicates neither a mapping nor the fallback account exists.
	ErrMappingNotFound = fmt.Errorf("%w: accounting: account mapping not found", shared.ErrConfiguration)
)

// Validate ensures posting input meets minimum criteria. It never touches storage.
func (in PostingInput) Validate() error {
	if in.Date.IsZero() {
		return shared.Validationf("accounting: date required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return shared.Validationf("accounting: description required")
	}
	if in.BranchID != nil && *in.BranchID <= 0 {
		return shared.Validationf("accounting: invalid branch id %d", *in.BranchID)
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range in.Lines {
		if line.AccountID <= 0 {
			return shared.Validationf("accounting: line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return shared.Validationf("accounting: line %d negative amount", idx)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return shared.Validationf("accounting: line %d cannot be both debit and credit", idx)
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			return shared.Validationf("accounting: line %d has no amount", idx)
		}
		if exceedsPlaces(line.Debit) || exceedsPlaces(line.Credit) {
			return shared.Validationf("accounting: line %d amount has more than %d decimal places", idx, AmountPlaces)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if debit.Sub(credit).Abs().GreaterThan(BalanceEpsilon) {
		return &shared.ImbalancedEntryError{Debits: debit, Credits: credit}
	}
	if in.Accrual != nil {
		if err := in.Accrual.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (a AccrualInput) validate() error {
	if a.DebitAccountID <= 0 || a.CreditAccountID <= 0 {
		return shared.Validationf("accounting: accrual accounts required")
	}
	if a.FirstDate.IsZero() {
		return shared.Validationf("accounting: accrual first date required")
	}
	if a.Installments < accrual.MinInstallments || a.Installments > accrual.MaxInstallments {
		return shared.Validationf("accounting: accrual installments must be between %d and %d", accrual.MinInstallments, accrual.MaxInstallments)
	}
	if a.TotalAmount.IsNegative() {
		return shared.Validationf("accounting: accrual total must be positive")
	}
	return nil
}

func exceedsPlaces(d decimal.Decimal) bool {
	return !d.Equal(d.Truncate(AmountPlaces))
}

// RoundMoney rounds a computed amount half-up to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
