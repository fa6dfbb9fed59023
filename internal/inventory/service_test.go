package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/inventory"
	"github.com/odyssey-erp/resto-ledger/internal/masterdata/branches"
	"github.com/odyssey-erp/resto-ledger/internal/platform/db"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
	"github.com/odyssey-erp/resto-ledger/internal/testing/memstore"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type unresolvedSpy struct {
	keys []string
}

func (s *unresolvedSpy) MappingUnresolved(key string) { s.keys = append(s.keys, key) }

type movementSpy struct {
	kinds []string
}

func (s *movementSpy) StockMovement(kind string) { s.kinds = append(s.kinds, kind) }

type fixture struct {
	store      *memstore.Store
	svc        *inventory.Service
	unresolved *unresolvedSpy
	movements  *movementSpy
	kitchen    int64
	outlet     int64
	accounts   map[string]int64
}

type option func(*fixtureConfig)

type fixtureConfig struct {
	policy     accounting.MappingPolicy
	allowNeg   bool
	noAccounts bool
}

func failOpen() option      { return func(c *fixtureConfig) { c.policy = accounting.MappingFailOpen } }
func allowNegative() option { return func(c *fixtureConfig) { c.allowNeg = true } }
func withoutAccounts() option {
	return func(c *fixtureConfig) { c.noAccounts = true }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	cfg := fixtureConfig{policy: accounting.MappingFailClosed}
	for _, opt := range opts {
		opt(&cfg)
	}
	store := memstore.New()
	f := &fixture{
		store:      store,
		unresolved: &unresolvedSpy{},
		movements:  &movementSpy{},
		kitchen:    store.AddBranch("CK", "Central Kitchen", branches.TypeCentralKitchen),
		outlet:     store.AddBranch("KDY", "Kedoya", branches.TypeRestaurant),
		accounts:   map[string]int64{},
	}
	if !cfg.noAccounts {
		f.accounts["1300"] = store.AddAccount("1300", "Inventory", accounting.AccountTypeAsset)
		f.accounts["2100"] = store.AddAccount("2100", "Accounts Payable", accounting.AccountTypeLiability)
		f.accounts["1310"] = store.AddAccount("1310", "Raw Materials", accounting.AccountTypeAsset)
		f.accounts["1320"] = store.AddAccount("1320", "Finished Goods", accounting.AccountTypeAsset)
		f.accounts["5300"] = store.AddAccount("5300", "Waste Expense", accounting.AccountTypeExpense)
	}
	ledger := accounting.NewService(store.Ledger(), nil, nil, nil)
	resolver := accounting.NewResolver(cfg.policy, nil, f.unresolved)
	f.svc = inventory.NewService(store.Inventory(), resolver, inventory.ServiceConfig{AllowNegativeStock: cfg.allowNeg}, inventory.Dependencies{
		Postings: ledger,
		Recorder: f.movements,
	})
	f.svc.WithNow(func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) })
	return f
}

func (f *fixture) kitchenScope() branchscope.Scope { return branchscope.ForBranch(f.kitchen) }

func (f *fixture) purchase(t *testing.T, productID int64, qty, unitCost, invoice string) inventory.PurchaseResult {
	t.Helper()
	res, err := f.svc.Purchase(context.Background(), f.kitchenScope(), inventory.PurchaseInput{
		VendorID:      3,
		InvoiceNumber: invoice,
		Items:         []inventory.PurchaseItem{{ProductID: productID, Quantity: d(qty), UnitCost: d(unitCost)}},
		ActorID:       11,
	})
	require.NoError(t, err)
	return res
}

func requireLevel(t *testing.T, store *memstore.Store, productID, branchID int64, want string) {
	t.Helper()
	level, ok := store.Level(productID, branchID)
	require.True(t, ok, "level for product %d branch %d missing", productID, branchID)
	require.True(t, level.QuantityOnHand.Equal(d(want)), "level %s want %s", level.QuantityOnHand, want)
}

func requireEntryLines(t *testing.T, entry accounting.JournalEntry, debitAccount, creditAccount int64, amount string) {
	t.Helper()
	require.Len(t, entry.Lines, 2)
	require.Equal(t, debitAccount, entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(d(amount)), "debit %s want %s", entry.Lines[0].Debit, amount)
	require.Equal(t, creditAccount, entry.Lines[1].AccountID)
	require.True(t, entry.Lines[1].Credit.Equal(d(amount)), "credit %s want %s", entry.Lines[1].Credit, amount)
}

func TestPurchaseWeightedAverageCost(t *testing.T) {
	f := newFixture(t)
	flour := f.store.AddProduct("FLOUR", d("5"), decimal.Zero)

	first := f.purchase(t, flour, "10", "2.00", "INV-1")
	require.Equal(t, f.kitchen, first.BranchID)
	require.True(t, first.Lines[0].BaseQuantity.Equal(d("50")))
	require.True(t, first.TotalValue.Equal(d("20")))
	require.True(t, first.Lines[0].NewCost.Equal(d("0.4")))
	require.True(t, f.store.Product(flour).Cost.Equal(d("0.4")))
	requireLevel(t, f.store, flour, f.kitchen, "50")
	require.NotNil(t, first.Entry)
	require.Equal(t, f.kitchen, *first.Entry.BranchID)
	requireEntryLines(t, *first.Entry, f.accounts["1300"], f.accounts["2100"], "20")
	require.True(t, first.TotalValuePosted.Equal(d("20")))

	second := f.purchase(t, flour, "5", "3.00", "INV-2")
	require.True(t, second.Lines[0].PreviousCost.Equal(d("0.4")))
	require.Equal(t, "0.4667", f.store.Product(flour).Cost.StringFixed(4))
	requireLevel(t, f.store, flour, f.kitchen, "75")
	requireEntryLines(t, *second.Entry, f.accounts["1300"], f.accounts["2100"], "15")

	txns := f.store.Transactions()
	require.Len(t, txns, 2)
	require.Equal(t, inventory.TransactionPurchaseIn, txns[0].Type)
	require.True(t, txns[1].Quantity.Equal(d("25")))
	require.Equal(t, []string{"PURCHASE_IN", "PURCHASE_IN"}, f.movements.kinds)
}

func TestPurchasePoolsGlobalStockAcrossBranches(t *testing.T) {
	f := newFixture(t)
	oil := f.store.AddProduct("OIL", d("1"), d("10"))
	f.store.SetLevel(oil, f.outlet, d("30"))

	res := f.purchase(t, oil, "10", "20", "")
	// (30 x 10 + 200) / 40
	require.True(t, res.Lines[0].NewCost.Equal(d("12.5")), "cost %s", res.Lines[0].NewCost)
	requireLevel(t, f.store, oil, f.kitchen, "10")
	requireLevel(t, f.store, oil, f.outlet, "30")
}

func TestPurchaseCostStaysBetweenOldAndIncoming(t *testing.T) {
	f := newFixture(t)
	rice := f.store.AddProduct("RICE", d("1"), decimal.Zero)
	receipts := []struct{ qty, cost string }{
		{"12", "4.10"}, {"3", "9.00"}, {"40", "3.333"}, {"1", "0.50"}, {"18", "4.75"},
	}
	tolerance := decimal.New(1, -inventory.CostPlaces)
	for i, r := range receipts {
		before := f.store.Product(rice).Cost
		f.purchase(t, rice, r.qty, r.cost, "")
		after := f.store.Product(rice).Cost
		incoming := d(r.cost)
		if i == 0 {
			require.True(t, after.Equal(incoming))
			continue
		}
		lo, hi := decimal.Min(before, incoming), decimal.Max(before, incoming)
		require.True(t, after.GreaterThanOrEqual(lo.Sub(tolerance)) && after.LessThanOrEqual(hi.Add(tolerance)),
			"receipt %d: cost %s outside [%s, %s]", i, after, lo, hi)
	}
}

func TestPurchaseRejectsDuplicateInvoice(t *testing.T) {
	f := newFixture(t)
	sugar := f.store.AddProduct("SUGAR", d("1"), decimal.Zero)
	f.purchase(t, sugar, "5", "1", "INV-9")

	_, err := f.svc.Purchase(context.Background(), f.kitchenScope(), inventory.PurchaseInput{
		VendorID:      3,
		InvoiceNumber: "INV-9",
		Items:         []inventory.PurchaseItem{{ProductID: sugar, Quantity: d("5"), UnitCost: d("1")}},
	})
	require.ErrorIs(t, err, inventory.ErrDuplicateInvoice)
	requireLevel(t, f.store, sugar, f.kitchen, "5")
	require.Len(t, f.store.Entries(), 1)
}

func TestPurchaseRollsBackWhenPostingFails(t *testing.T) {
	f := newFixture(t)
	butter := f.store.AddProduct("BUTTER", d("1"), d("2"))
	f.store.SetLevel(butter, f.kitchen, d("10"))
	f.store.FailOn("InsertJournalLines", memstore.ErrInjected)

	_, err := f.svc.Purchase(context.Background(), f.kitchenScope(), inventory.PurchaseInput{
		VendorID:      3,
		InvoiceNumber: "INV-77",
		Items:         []inventory.PurchaseItem{{ProductID: butter, Quantity: d("10"), UnitCost: d("4")}},
	})
	require.ErrorIs(t, err, memstore.ErrInjected)
	require.True(t, f.store.Product(butter).Cost.Equal(d("2")))
	requireLevel(t, f.store, butter, f.kitchen, "10")
	require.Empty(t, f.store.Transactions())
	require.Empty(t, f.store.Entries())
	require.Empty(t, f.movements.kinds)

	f.store.FailOn("InsertJournalLines", nil)
	res := f.purchase(t, butter, "10", "4", "INV-77")
	require.True(t, res.Lines[0].NewCost.Equal(d("3")))
}

func TestPurchaseRetryRecomputesCostFromFreshStock(t *testing.T) {
	f := newFixture(t)
	flour := f.store.AddProduct("FLOUR", d("1"), d("0.4"))
	f.store.SetLevel(flour, f.kitchen, d("50"))
	f.store.SetLevel(flour, f.outlet, d("30"))

	runner := db.NewRunner(nil, 3)
	retries := 0
	runner.OnRetry(func(int, error) {
		retries++
		// Another branch wasted stock while the first attempt waited on the product lock.
		f.store.SetLevel(flour, f.outlet, d("15"))
	})
	f.store.RetryWith(runner.Retry)
	f.store.FailTimes("InsertTransaction", 1, &pgconn.PgError{Code: "40001"})

	res := f.purchase(t, flour, "25", "0.60", "INV-RETRY")
	require.Equal(t, 1, retries)
	require.True(t, res.Lines[0].NewCost.Equal(d("0.455556")), "new cost %s", res.Lines[0].NewCost)
	require.True(t, f.store.Product(flour).Cost.Equal(d("0.455556")))
	requireLevel(t, f.store, flour, f.kitchen, "75")
	require.Len(t, f.store.Transactions(), 1)
	require.Len(t, f.store.Entries(), 1)
	require.Equal(t, []string{string(inventory.TransactionPurchaseIn)}, f.movements.kinds)
}

func TestPurchaseRetryExhaustionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	flour := f.store.AddProduct("FLOUR", d("1"), d("0.4"))
	f.store.SetLevel(flour, f.kitchen, d("50"))

	f.store.RetryWith(db.NewRunner(nil, 2).Retry)
	f.store.FailTimes("InsertTransaction", 2, &pgconn.PgError{Code: "40P01"})

	_, err := f.svc.Purchase(context.Background(), f.kitchenScope(), inventory.PurchaseInput{
		VendorID:      3,
		InvoiceNumber: "INV-BUSY",
		Items:         []inventory.PurchaseItem{{ProductID: flour, Quantity: d("25"), UnitCost: d("0.60")}},
	})
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	requireLevel(t, f.store, flour, f.kitchen, "50")
	require.True(t, f.store.Product(flour).Cost.Equal(d("0.4")))
	require.Empty(t, f.store.Entries())
	require.Empty(t, f.movements.kinds)

	res := f.purchase(t, flour, "25", "0.60", "INV-BUSY")
	require.NotNil(t, res.Entry)
}

func TestPurchaseFailClosedWithoutAccounts(t *testing.T) {
	f := newFixture(t, withoutAccounts())
	salt := f.store.AddProduct("SALT", d("1"), decimal.Zero)

	_, err := f.svc.Purchase(context.Background(), f.kitchenScope(), inventory.PurchaseInput{
		VendorID: 3,
		Items:    []inventory.PurchaseItem{{ProductID: salt, Quantity: d("2"), UnitCost: d("1")}},
	})
	require.ErrorIs(t, err, shared.ErrConfiguration)
	require.Equal(t, shared.KindConfiguration, shared.Kind(err))
	_, ok := f.store.Level(salt, f.kitchen)
	require.False(t, ok)
	require.True(t, f.store.Product(salt).Cost.IsZero())
	require.Empty(t, f.store.Transactions())
}

func TestPurchaseFailOpenSkipsPosting(t *testing.T) {
	f := newFixture(t, withoutAccounts(), failOpen())
	salt := f.store.AddProduct("SALT", d("1"), decimal.Zero)

	res, err := f.svc.Purchase(context.Background(), f.kitchenScope(), inventory.PurchaseInput{
		VendorID: 3,
		Items:    []inventory.PurchaseItem{{ProductID: salt, Quantity: d("2"), UnitCost: d("1.5")}},
	})
	require.NoError(t, err)
	require.Nil(t, res.Entry)
	require.True(t, res.TotalValue.Equal(d("3")))
	require.True(t, res.TotalValuePosted.IsZero())
	requireLevel(t, f.store, salt, f.kitchen, "2")
	require.True(t, f.store.Product(salt).Cost.Equal(d("1.5")))
	require.Empty(t, f.store.Entries())
	require.Equal(t, []string{"inventory.asset"}, f.unresolved.keys)
}

func TestPurchaseRequiresOperatingBranch(t *testing.T) {
	f := newFixture(t)
	salt := f.store.AddProduct("SALT", d("1"), decimal.Zero)
	input := inventory.PurchaseInput{
		VendorID: 3,
		Items:    []inventory.PurchaseItem{{ProductID: salt, Quantity: d("2"), UnitCost: d("1")}},
	}

	_, err := f.svc.Purchase(context.Background(), branchscope.HeadOffice(), input)
	require.ErrorIs(t, err, shared.ErrForbidden)

	input.BranchID = &f.outlet
	_, err = f.svc.Purchase(context.Background(), f.kitchenScope(), input)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.Purchase(context.Background(), branchscope.Consolidated(f.kitchen, f.outlet), inventory.PurchaseInput{
		VendorID: 3,
		Items:    input.Items,
	})
	require.ErrorIs(t, err, shared.ErrForbidden)

	res, err := f.svc.Purchase(context.Background(), branchscope.Consolidated(f.kitchen, f.outlet), input)
	require.NoError(t, err)
	require.Equal(t, f.outlet, res.BranchID)
}

func TestProduceBatchCost(t *testing.T) {
	f := newFixture(t)
	ingA := f.store.AddProduct("ING-A", d("1"), d("1.00"))
	ingB := f.store.AddProduct("ING-B", d("1"), d("0.50"))
	sauce := f.store.AddProduct("SAUCE", d("1"), decimal.Zero)
	f.store.SetLevel(ingA, f.kitchen, d("20"))
	f.store.SetLevel(ingB, f.kitchen, d("4"))
	recipe := int64(5)

	batch, err := f.svc.Produce(context.Background(), f.kitchenScope(), inventory.ProductionInput{
		RecipeID:         &recipe,
		OutputProductID:  sauce,
		QuantityProduced: d("6"),
		Ingredients: []inventory.IngredientUsage{
			{ProductID: ingA, QuantityUsed: d("10")},
			{ProductID: ingB, QuantityUsed: d("4")},
		},
	})
	require.NoError(t, err)
	require.True(t, batch.BatchCost.Equal(d("12")))
	require.True(t, batch.NewCost.Equal(d("2")))
	require.True(t, f.store.Product(sauce).Cost.Equal(d("2")))
	requireLevel(t, f.store, ingA, f.kitchen, "10")
	requireLevel(t, f.store, ingB, f.kitchen, "0")
	requireLevel(t, f.store, sauce, f.kitchen, "6")
	require.True(t, f.store.Product(ingA).Cost.Equal(d("1")))
	require.NotNil(t, batch.Entry)
	requireEntryLines(t, *batch.Entry, f.accounts["1320"], f.accounts["1310"], "12")
	require.Equal(t, "recipe:5", *batch.Entry.Reference)

	txns := f.store.Transactions()
	require.Len(t, txns, 3)
	require.True(t, txns[0].Quantity.IsNegative())
	require.True(t, txns[1].Quantity.IsNegative())
	require.True(t, txns[2].Quantity.Equal(d("6")))
}

func TestProduceRejectsShortIngredient(t *testing.T) {
	f := newFixture(t)
	ing := f.store.AddProduct("ING", d("1"), d("1"))
	out := f.store.AddProduct("OUT", d("1"), decimal.Zero)
	f.store.SetLevel(ing, f.kitchen, d("3"))

	_, err := f.svc.Produce(context.Background(), f.kitchenScope(), inventory.ProductionInput{
		OutputProductID:  out,
		QuantityProduced: d("1"),
		Ingredients:      []inventory.IngredientUsage{{ProductID: ing, QuantityUsed: d("5")}},
	})
	require.ErrorIs(t, err, inventory.ErrNegativeStock)
	requireLevel(t, f.store, ing, f.kitchen, "3")
	_, ok := f.store.Level(out, f.kitchen)
	require.False(t, ok)
	require.Empty(t, f.store.Entries())
}

func TestRecordWaste(t *testing.T) {
	f := newFixture(t)
	fish := f.store.AddProduct("FISH", d("1"), d("1.5"))
	f.store.SetLevel(fish, f.kitchen, d("10"))

	res, err := f.svc.RecordWaste(context.Background(), f.kitchenScope(), inventory.WasteInput{
		ProductID: fish,
		Quantity:  d("4"),
		Reason:    "spoiled",
	})
	require.NoError(t, err)
	require.True(t, res.Value.Equal(d("6")))
	require.True(t, res.Transaction.Quantity.Equal(d("-4")))
	require.Equal(t, "Waste: spoiled", res.Transaction.Notes)
	requireLevel(t, f.store, fish, f.kitchen, "6")
	requireEntryLines(t, *res.Entry, f.accounts["5300"], f.accounts["1300"], "6")
	require.True(t, f.store.Product(fish).Cost.Equal(d("1.5")))

	_, err = f.svc.RecordWaste(context.Background(), f.kitchenScope(), inventory.WasteInput{ProductID: fish, Quantity: d("7")})
	require.ErrorIs(t, err, inventory.ErrNegativeStock)
	requireLevel(t, f.store, fish, f.kitchen, "6")
}

func TestRecordWasteAllowsNegativeWhenConfigured(t *testing.T) {
	f := newFixture(t, allowNegative())
	fish := f.store.AddProduct("FISH", d("1"), d("2"))
	f.store.SetLevel(fish, f.kitchen, d("1"))

	_, err := f.svc.RecordWaste(context.Background(), f.kitchenScope(), inventory.WasteInput{ProductID: fish, Quantity: d("3")})
	require.NoError(t, err)
	requireLevel(t, f.store, fish, f.kitchen, "-2")
}

func TestPurchaseAfterDeficitTakesReceiptCost(t *testing.T) {
	f := newFixture(t, allowNegative())
	fish := f.store.AddProduct("FISH", d("1"), d("2.00"))
	f.store.SetLevel(fish, f.kitchen, d("10"))

	_, err := f.svc.RecordWaste(context.Background(), f.kitchenScope(), inventory.WasteInput{ProductID: fish, Quantity: d("15")})
	require.NoError(t, err)
	requireLevel(t, f.store, fish, f.kitchen, "-5")

	res := f.purchase(t, fish, "10", "3.00", "INV-DEFICIT")
	require.True(t, res.Lines[0].NewCost.Equal(d("3")), "new cost %s", res.Lines[0].NewCost)
	require.True(t, f.store.Product(fish).Cost.Equal(d("3")))
	requireLevel(t, f.store, fish, f.kitchen, "5")
}

func TestProduceIntoDeficitTakesBatchCost(t *testing.T) {
	f := newFixture(t, allowNegative())
	flour := f.store.AddProduct("FLOUR", d("1"), d("1.50"))
	bread := f.store.AddProduct("BREAD", d("1"), d("9.00"))
	f.store.SetLevel(flour, f.kitchen, d("4"))
	f.store.SetLevel(bread, f.kitchen, d("-3"))

	batch, err := f.svc.Produce(context.Background(), f.kitchenScope(), inventory.ProductionInput{
		OutputProductID:  bread,
		QuantityProduced: d("2"),
		Ingredients:      []inventory.IngredientUsage{{ProductID: flour, QuantityUsed: d("4")}},
	})
	require.NoError(t, err)
	require.True(t, batch.BatchCost.Equal(d("6")))
	require.True(t, batch.NewCost.Equal(d("3")), "new cost %s", batch.NewCost)
}

func TestTransferMovesStockWithoutPosting(t *testing.T) {
	f := newFixture(t)
	dough := f.store.AddProduct("DOUGH", d("1"), d("0.8"))
	f.store.SetLevel(dough, f.kitchen, d("10"))

	res, err := f.svc.Transfer(context.Background(), f.kitchenScope(), inventory.TransferInput{
		ProductID:  dough,
		Quantity:   d("3"),
		ToBranchID: f.outlet,
		Notes:      "morning run",
	})
	require.NoError(t, err)
	requireLevel(t, f.store, dough, f.kitchen, "7")
	requireLevel(t, f.store, dough, f.outlet, "3")
	require.True(t, res.Out.Quantity.Equal(d("-3")))
	require.Equal(t, f.outlet, *res.Out.CounterBranchID)
	require.True(t, res.In.Quantity.Equal(d("3")))
	require.Equal(t, f.kitchen, *res.In.CounterBranchID)
	require.Contains(t, res.In.Notes, "morning run")
	require.True(t, f.store.Product(dough).Cost.Equal(d("0.8")))
	require.Empty(t, f.store.Entries())

	_, err = f.svc.Transfer(context.Background(), branchscope.ForBranch(f.outlet), inventory.TransferInput{
		ProductID:    dough,
		Quantity:     d("1"),
		FromBranchID: &f.kitchen,
		ToBranchID:   f.outlet,
	})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.Transfer(context.Background(), f.kitchenScope(), inventory.TransferInput{
		ProductID:  dough,
		Quantity:   d("1"),
		ToBranchID: f.kitchen,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransferToArchivedBranchFails(t *testing.T) {
	f := newFixture(t)
	dough := f.store.AddProduct("DOUGH", d("1"), d("0.8"))
	f.store.SetLevel(dough, f.kitchen, d("10"))
	require.NoError(t, f.store.Branches().SetActive(context.Background(), f.outlet, false))

	_, err := f.svc.Transfer(context.Background(), f.kitchenScope(), inventory.TransferInput{
		ProductID:  dough,
		Quantity:   d("3"),
		ToBranchID: f.outlet,
	})
	require.ErrorIs(t, err, inventory.ErrBranchNotFound)
	requireLevel(t, f.store, dough, f.kitchen, "10")
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	eggs := f.store.AddProduct("EGGS", d("1"), d("0.2"))
	milk := f.store.AddProduct("MILK", d("1"), d("1"))
	f.store.SetLevel(eggs, f.kitchen, d("10"))
	f.store.SetLevel(milk, f.kitchen, d("4"))
	input := inventory.ReconcileInput{Items: []inventory.CountItem{
		{ProductID: eggs, ActualQuantity: d("8")},
		{ProductID: milk, ActualQuantity: d("4")},
	}}

	first, err := f.svc.Reconcile(context.Background(), f.kitchenScope(), input)
	require.NoError(t, err)
	require.Equal(t, 2, first.ItemsProcessed)
	require.Len(t, first.Adjustments, 1)
	adj := first.Adjustments[0]
	require.Equal(t, inventory.TransactionAdjustment, adj.Type)
	require.True(t, adj.Quantity.Equal(d("-2")))
	require.Equal(t, "Stock count: system 10, counted 8, variance -2", adj.Notes)
	requireLevel(t, f.store, eggs, f.kitchen, "8")

	second, err := f.svc.Reconcile(context.Background(), f.kitchenScope(), input)
	require.NoError(t, err)
	require.Equal(t, 2, second.ItemsProcessed)
	require.Empty(t, second.Adjustments)
	require.Len(t, f.store.Transactions(), 1)
	require.Empty(t, f.store.Entries())
	require.True(t, f.store.Product(eggs).Cost.Equal(d("0.2")))
}

func TestReconcileCreatesMissingLevel(t *testing.T) {
	f := newFixture(t)
	herbs := f.store.AddProduct("HERBS", d("1"), d("3"))

	res, err := f.svc.Reconcile(context.Background(), f.kitchenScope(), inventory.ReconcileInput{
		Items: []inventory.CountItem{{ProductID: herbs, ActualQuantity: d("5")}},
	})
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 1)
	require.True(t, res.Adjustments[0].Quantity.Equal(d("5")))
	requireLevel(t, f.store, herbs, f.kitchen, "5")
}

func TestReadsAreBranchScoped(t *testing.T) {
	f := newFixture(t)
	flour := f.store.AddProduct("FLOUR", d("1"), decimal.Zero)
	f.purchase(t, flour, "4", "1", "")

	levels, err := f.svc.Levels(context.Background(), branchscope.ForBranch(f.outlet), flour)
	require.NoError(t, err)
	require.Empty(t, levels)

	levels, err = f.svc.Levels(context.Background(), branchscope.Consolidated(f.kitchen, f.outlet), flour)
	require.NoError(t, err)
	require.Len(t, levels, 1)

	txns, err := f.svc.Transactions(context.Background(), branchscope.ForBranch(f.outlet), inventory.TransactionFilter{})
	require.NoError(t, err)
	require.Empty(t, txns)

	txns, err = f.svc.Transactions(context.Background(), f.kitchenScope(), inventory.TransactionFilter{Type: inventory.TransactionPurchaseIn})
	require.NoError(t, err)
	require.Len(t, txns, 1)

	_, err = f.svc.Transactions(context.Background(), f.kitchenScope(), inventory.TransactionFilter{Type: "THEFT"})
	require.ErrorIs(t, err, shared.ErrValidation)
}
