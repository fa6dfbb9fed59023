package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/resto-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/resto-ledger/internal/rbac"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

const dateLayout = "2006-01-02"

// balancesTimeout bounds a shared trial-balance query once it is detached from the
// request that started it.
const balancesTimeout = 30 * time.Second

// Handler wires ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
	balances singleflight.Group
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers ledger routes. Callers mount it under /ledger behind the
// branch scope middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermLedgerView, rbac.PermLedgerPost))
		r.Get("/entries", h.handleListEntries)
		r.Get("/entries/{id}", h.handleGetEntry)
		r.Get("/balances", h.handleBalances)
		r.Get("/accounts", h.handleAccounts)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(rbac.PermLedgerPost))
		r.Post("/entries", h.handlePostEntry)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(rbac.PermLedgerAdmin))
		r.Post("/branches/reassign", h.handleReassign)
	})
}

type lineRequest struct {
	AccountID int64           `json:"account_id" validate:"required,gt=0"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

type accrualRequest struct {
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Installments    int             `json:"installments" validate:"required,min=1,max=36"`
	FirstDate       string          `json:"first_date" validate:"required,datetime=2006-01-02"`
	DebitAccountID  int64           `json:"debit_account_id" validate:"required,gt=0"`
	CreditAccountID int64           `json:"credit_account_id" validate:"required,gt=0"`
}

type postEntryRequest struct {
	Date        string          `json:"date" validate:"required,datetime=2006-01-02"`
	Description string          `json:"description" validate:"required,max=500"`
	Reference   *string         `json:"reference" validate:"omitempty,max=120"`
	BranchID    *int64          `json:"branch_id" validate:"omitempty,gt=0"`
	Lines       []lineRequest   `json:"lines" validate:"required,min=2,dive"`
	Accrual     *accrualRequest `json:"accrual"`
}

func (req postEntryRequest) toInput(actorID int64) (PostingInput, error) {
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return PostingInput{}, shared.Validationf("date: %v", err)
	}
	input := PostingInput{
		Date:        date,
		Description: strings.TrimSpace(req.Description),
		Reference:   req.Reference,
		BranchID:    req.BranchID,
		PostedBy:    actorID,
		Source:      "manual",
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, PostingLineInput{AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit})
	}
	if req.Accrual != nil {
		first, err := time.Parse(dateLayout, req.Accrual.FirstDate)
		if err != nil {
			return PostingInput{}, shared.Validationf("accrual.first_date: %v", err)
		}
		input.Accrual = &AccrualInput{
			TotalAmount:     req.Accrual.TotalAmount,
			Installments:    req.Accrual.Installments,
			FirstDate:       first,
			DebitAccountID:  req.Accrual.DebitAccountID,
			CreditAccountID: req.Accrual.CreditAccountID,
		}
	}
	return input, nil
}

type lineResponse struct {
	ID          int64           `json:"id"`
	AccountID   int64           `json:"account_id"`
	AccountCode string          `json:"account_code,omitempty"`
	AccountName string          `json:"account_name,omitempty"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

type entryResponse struct {
	ID             int64           `json:"id"`
	Date           string          `json:"date"`
	Description    string          `json:"description"`
	Reference      *string         `json:"reference,omitempty"`
	BranchID       *int64          `json:"branch_id"`
	RelatedEntryID *int64          `json:"related_entry_id,omitempty"`
	PostedBy       int64           `json:"posted_by,omitempty"`
	Lines          []lineResponse  `json:"lines"`
	Installments   []entryResponse `json:"installments,omitempty"`
}

func toEntryResponse(e JournalEntry) entryResponse {
	resp := entryResponse{
		ID:             e.ID,
		Date:           e.Date.Format(dateLayout),
		Description:    e.Description,
		Reference:      e.Reference,
		BranchID:       e.BranchID,
		RelatedEntryID: e.RelatedEntryID,
		PostedBy:       e.PostedBy,
		Lines:          make([]lineResponse, 0, len(e.Lines)),
	}
	for _, line := range e.Lines {
		lr := lineResponse{ID: line.ID, AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit}
		if line.Account != nil {
			lr.AccountCode = line.Account.Code
			lr.AccountName = line.Account.Name
		}
		resp.Lines = append(resp.Lines, lr)
	}
	for _, inst := range e.Installments {
		resp.Installments = append(resp.Installments, toEntryResponse(inst))
	}
	return resp
}

func (h *Handler) handlePostEntry(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req postEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, shared.Validationf("decode request: %v", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, validationError(err))
		return
	}
	input, err := req.toInput(shared.ActorID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.PostEntry(r.Context(), scope, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.fail(w, r, shared.Validationf("invalid entry id"))
		return
	}
	entry, err := h.service.GetEntry(r.Context(), scope, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := EntryFilter{From: from, To: to}
	if filter.Limit, err = parseInt(q.Get("limit")); err != nil {
		h.fail(w, r, shared.Validationf("invalid limit"))
		return
	}
	if filter.Offset, err = parseInt(q.Get("offset")); err != nil {
		h.fail(w, r, shared.Validationf("invalid offset"))
		return
	}
	entries, err := h.service.ListEntries(r.Context(), scope, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key := fmt.Sprintf("%s|%s|%s", scope.String(), q.Get("from"), q.Get("to"))
	// Followers share the leader's call, so it must outlive the leader's request.
	ch := h.balances.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), balancesTimeout)
		defer cancel()
		return h.service.AccountBalances(ctx, scope, from, to)
	})
	var res singleflight.Result
	select {
	case <-r.Context().Done():
		return
	case res = <-ch:
	}
	if res.Err != nil {
		h.fail(w, r, res.Err)
		return
	}
	balances := res.Val.([]AccountBalance)
	rows := make([]reports.AccountBalance, 0, len(balances))
	for _, b := range balances {
		rows = append(rows, reports.AccountBalance{
			Code:   b.Account.Code,
			Name:   b.Account.Name,
			Type:   string(b.Account.Type),
			Debit:  b.Debit,
			Credit: b.Credit,
		})
	}
	httpx.JSON(w, http.StatusOK, reports.BuildTrialBalance(rows))
}

type accountResponse struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsActive bool   `json:"is_active"`
}

func (h *Handler) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, accountResponse{ID: acc.ID, Code: acc.Code, Name: acc.Name, Type: string(acc.Type), IsActive: acc.IsActive})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": out})
}

type reassignRequest struct {
	FromBranchID *int64 `json:"from_branch_id" validate:"omitempty,gt=0"`
	ToBranchID   *int64 `json:"to_branch_id" validate:"omitempty,gt=0"`
}

func (h *Handler) handleReassign(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req reassignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, shared.Validationf("decode request: %v", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, validationError(err))
		return
	}
	moved, err := h.service.ReassignBranch(r.Context(), scope, shared.ActorID(r.Context()), req.FromBranchID, req.ToBranchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries_moved": moved})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (branchscope.Scope, bool) {
	scope, err := branchscope.FromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return branchscope.Scope{}, false
	}
	return scope, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.Kind(err) == shared.KindInternal {
		h.logger.ErrorContext(r.Context(), "ledger request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return shared.Validationf("invalid fields: %s", strings.Join(fields, ", "))
	}
	return shared.Validationf("%v", err)
}

func parseRange(fromRaw, toRaw string) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if fromRaw != "" {
		t, err := time.Parse(dateLayout, fromRaw)
		if err != nil {
			return nil, nil, shared.Validationf("invalid from date")
		}
		from = &t
	}
	if toRaw != "" {
		t, err := time.Parse(dateLayout, toRaw)
		if err != nil {
			return nil, nil, shared.Validationf("invalid to date")
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	return from, to, nil
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
