package inventory

import (
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

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/resto-ledger/internal/rbac"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers inventory routes. The branch always comes from the caller's
// scope; a branch_id in the body only selects among the caller's own branches.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermInventoryView, rbac.PermInventoryEdit))
		r.Get("/levels/{productID}", h.handleLevels)
		r.Get("/transactions", h.handleTransactions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(rbac.PermInventoryEdit))
		r.Post("/purchases", h.handlePurchase)
		r.Post("/productions", h.handleProduction)
		r.Post("/waste", h.handleWaste)
		r.Post("/transfers", h.handleTransfer)
		r.Post("/reconciliations", h.handleReconcile)
	})
}

type purchaseItemRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type purchaseRequest struct {
	VendorID      int64                 `json:"vendor_id" validate:"required,gt=0"`
	InvoiceNumber string                `json:"invoice_number" validate:"omitempty,max=64"`
	BranchID      *int64                `json:"branch_id" validate:"omitempty,gt=0"`
	Date          string                `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Items         []purchaseItemRequest `json:"items" validate:"required,min=1,dive"`
}

type ingredientRequest struct {
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	QuantityUsed decimal.Decimal `json:"quantity_used"`
}

type productionRequest struct {
	RecipeID         *int64              `json:"recipe_id" validate:"omitempty,gt=0"`
	OutputProductID  int64               `json:"output_product_id" validate:"required,gt=0"`
	QuantityProduced decimal.Decimal     `json:"quantity_produced"`
	BranchID         *int64              `json:"branch_id" validate:"omitempty,gt=0"`
	Date             string              `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Ingredients      []ingredientRequest `json:"ingredients" validate:"required,min=1,dive"`
}

type wasteRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	BranchID  *int64          `json:"branch_id" validate:"omitempty,gt=0"`
	Reason    string          `json:"reason" validate:"max=255"`
	Date      string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type transferRequest struct {
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	Quantity     decimal.Decimal `json:"quantity"`
	FromBranchID *int64          `json:"from_branch_id" validate:"omitempty,gt=0"`
	ToBranchID   int64           `json:"to_branch_id" validate:"required,gt=0"`
	Notes        string          `json:"notes" validate:"max=255"`
}

type countItemRequest struct {
	ProductID      int64           `json:"product_id" validate:"required,gt=0"`
	ActualQuantity decimal.Decimal `json:"actual_quantity"`
}

type reconcileRequest struct {
	BranchID *int64             `json:"branch_id" validate:"omitempty,gt=0"`
	Items    []countItemRequest `json:"items" validate:"required,min=1,dive"`
}

type transactionResponse struct {
	ID              int64           `json:"id"`
	Type            TransactionType `json:"type"`
	ProductID       int64           `json:"product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	BranchID        int64           `json:"branch_id"`
	CounterBranchID *int64          `json:"counter_branch_id,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Reference       string          `json:"reference,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

func toTransactionResponse(t Transaction) transactionResponse {
	return transactionResponse{
		ID:              t.ID,
		Type:            t.Type,
		ProductID:       t.ProductID,
		Quantity:        t.Quantity,
		BranchID:        t.BranchID,
		CounterBranchID: t.CounterBranchID,
		Notes:           t.Notes,
		Reference:       t.Reference,
		OccurredAt:      t.OccurredAt,
	}
}

func entryID(entry *accounting.JournalEntry) *int64 {
	if entry == nil {
		return nil
	}
	id := entry.ID
	return &id
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req purchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	input := PurchaseInput{
		VendorID:      req.VendorID,
		InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
		BranchID:      req.BranchID,
		Date:          date,
		ActorID:       shared.ActorID(r.Context()),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, PurchaseItem{ProductID: item.ProductID, Quantity: item.Quantity, UnitCost: item.UnitCost})
	}
	res, err := h.service.Purchase(r.Context(), scope, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lines := make([]map[string]any, 0, len(res.Lines))
	for _, line := range res.Lines {
		lines = append(lines, map[string]any{
			"product_id":    line.ProductID,
			"base_quantity": line.BaseQuantity,
			"value":         line.Value,
			"previous_cost": line.PreviousCost,
			"new_cost":      line.NewCost,
		})
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"branch_id":          res.BranchID,
		"total_value":        res.TotalValue,
		"total_value_posted": res.TotalValuePosted,
		"lines":              lines,
		"journal_entry_id":   entryID(res.Entry),
	})
}

func (h *Handler) handleProduction(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req productionRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	input := ProductionInput{
		RecipeID:         req.RecipeID,
		OutputProductID:  req.OutputProductID,
		QuantityProduced: req.QuantityProduced,
		BranchID:         req.BranchID,
		Date:             date,
		ActorID:          shared.ActorID(r.Context()),
	}
	for _, ing := range req.Ingredients {
		input.Ingredients = append(input.Ingredients, IngredientUsage{ProductID: ing.ProductID, QuantityUsed: ing.QuantityUsed})
	}
	batch, err := h.service.Produce(r.Context(), scope, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"branch_id":         batch.BranchID,
		"output_product_id": batch.OutputProductID,
		"quantity_produced": batch.QuantityProduced,
		"batch_cost":        batch.BatchCost,
		"previous_cost":     batch.PreviousCost,
		"new_cost":          batch.NewCost,
		"journal_entry_id":  entryID(batch.Entry),
	})
}

func (h *Handler) handleWaste(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req wasteRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.RecordWaste(r.Context(), scope, WasteInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		BranchID:  req.BranchID,
		Reason:    strings.TrimSpace(req.Reason),
		Date:      date,
		ActorID:   shared.ActorID(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"transaction":      toTransactionResponse(res.Transaction),
		"value":            res.Value,
		"journal_entry_id": entryID(res.Entry),
	})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Transfer(r.Context(), scope, TransferInput{
		ProductID:    req.ProductID,
		Quantity:     req.Quantity,
		FromBranchID: req.FromBranchID,
		ToBranchID:   req.ToBranchID,
		Notes:        strings.TrimSpace(req.Notes),
		ActorID:      shared.ActorID(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"out": toTransactionResponse(res.Out),
		"in":  toTransactionResponse(res.In),
	})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req reconcileRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := ReconcileInput{BranchID: req.BranchID, ActorID: shared.ActorID(r.Context())}
	for _, item := range req.Items {
		input.Items = append(input.Items, CountItem{ProductID: item.ProductID, ActualQuantity: item.ActualQuantity})
	}
	res, err := h.service.Reconcile(r.Context(), scope, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	adjustments := make([]transactionResponse, 0, len(res.Adjustments))
	for _, adj := range res.Adjustments {
		adjustments = append(adjustments, toTransactionResponse(adj))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"branch_id":       res.BranchID,
		"items_processed": res.ItemsProcessed,
		"adjustments":     adjustments,
	})
}

func (h *Handler) handleLevels(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		h.fail(w, r, shared.Validationf("invalid product id"))
		return
	}
	levels, err := h.service.Levels(r.Context(), scope, productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(levels))
	for _, l := range levels {
		out = append(out, map[string]any{
			"branch_id":        l.BranchID,
			"quantity_on_hand": l.QuantityOnHand,
			"updated_at":       l.UpdatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": productID, "levels": out})
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := TransactionFilter{Type: TransactionType(strings.ToUpper(q.Get("type")))}
	if raw := q.Get("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.fail(w, r, shared.Validationf("invalid product id"))
			return
		}
		filter.ProductID = id
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.fail(w, r, shared.Validationf("invalid limit"))
			return
		}
		filter.Limit = limit
	}
	for name, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			h.fail(w, r, shared.Validationf("invalid %s date", name))
			return
		}
		if name == "to" {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		*target = &t
	}
	txns, err := h.service.Transactions(r.Context(), scope, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, toTransactionResponse(t))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (branchscope.Scope, bool) {
	scope, err := branchscope.FromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return branchscope.Scope{}, false
	}
	return scope, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		h.fail(w, r, shared.Validationf("decode request: %v", err))
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			h.fail(w, r, shared.Validationf("invalid fields: %s", strings.Join(fields, ", ")))
			return false
		}
		h.fail(w, r, shared.Validationf("%v", err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.Kind(err) == shared.KindInternal {
		h.logger.ErrorContext(r.Context(), "inventory request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, shared.Validationf("invalid date %q", raw)
	}
	return t, nil
}
