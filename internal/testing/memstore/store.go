// Package memstore is an in-memory implementation of the ledger and inventory
// repositories. Every WithTx call runs against a snapshot that is discarded when the
// callback fails, so tests observe the same all-or-nothing behaviour as PostgreSQL.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/inventory"
	"github.com/odyssey-erp/resto-ledger/internal/masterdata/branches"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

type levelKey struct {
	product int64
	branch  int64
}

type state struct {
	accounts     map[int64]accounting.Account
	mappings     map[string]accounting.AccountMapping
	branches     map[int64]branches.Branch
	entries      map[int64]accounting.JournalEntry
	products     map[int64]inventory.Product
	levels       map[levelKey]inventory.Level
	transactions []inventory.Transaction
	keys         map[string]string
	nextID       int64
}

func (s *state) clone() *state {
	out := &state{
		accounts:     maps.Clone(s.accounts),
		mappings:     maps.Clone(s.mappings),
		branches:     maps.Clone(s.branches),
		entries:      make(map[int64]accounting.JournalEntry, len(s.entries)),
		products:     maps.Clone(s.products),
		levels:       maps.Clone(s.levels),
		transactions: slices.Clone(s.transactions),
		keys:         maps.Clone(s.keys),
		nextID:       s.nextID,
	}
	for id, e := range s.entries {
		e.Lines = slices.Clone(e.Lines)
		out.entries[id] = e
	}
	return out
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store holds the shared state. It serialises transactions with a mutex.
type Store struct {
	mu      sync.Mutex
	data    *state
	failOn  map[string]failure
	clock   func() time.Time
	commits int
	retry   func(ctx context.Context, run func() error) error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data: &state{
			accounts: make(map[int64]accounting.Account),
			mappings: make(map[string]accounting.AccountMapping),
			branches: make(map[int64]branches.Branch),
			entries:  make(map[int64]accounting.JournalEntry),
			products: make(map[int64]inventory.Product),
			levels:   make(map[levelKey]inventory.Level),
			keys:     make(map[string]string),
		},
		failOn: make(map[string]failure),
		clock:  func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

type failure struct {
	skip  int
	times int
	err   error
}

// FailOn makes the named operation return err until cleared with a nil error.
// Names match the repository method names, e.g. "InsertJournalLines".
func (s *Store) FailOn(op string, err error) {
	s.FailAfter(op, 0, err)
}

// FailTimes makes the named operation return err for its next n calls only.
func (s *Store) FailTimes(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[op] = failure{times: n, err: err}
}

// FailAfter lets the named operation succeed n times before it starts failing.
func (s *Store) FailAfter(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = failure{skip: n, err: err}
}

func (s *Store) fail(op string) error {
	f, ok := s.failOn[op]
	if !ok {
		return nil
	}
	if f.skip > 0 {
		f.skip--
		s.failOn[op] = f
		return nil
	}
	if f.times > 0 {
		f.times--
		if f.times == 0 {
			delete(s.failOn, op)
		} else {
			s.failOn[op] = f
		}
	}
	return f.err
}

// RetryWith routes every transaction through retry, typically (*db.Runner).Retry, so
// tests can replay callbacks the way the PostgreSQL runner does after a conflict.
func (s *Store) RetryWith(retry func(ctx context.Context, run func() error) error) {
	s.retry = retry
}

// Commits reports how many transactions committed.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) run(ctx context.Context, fn func(*txView) error) error {
	if s.retry != nil {
		return s.retry(ctx, func() error { return s.attempt(ctx, fn) })
	}
	return s.attempt(ctx, fn)
}

func (s *Store) attempt(ctx context.Context, fn func(*txView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	view := &txView{store: s, data: s.data.clone()}
	if err := fn(view); err != nil {
		return err
	}
	s.data = view.data
	s.commits++
	return nil
}

// Ledger returns the accounting repository view of the store.
func (s *Store) Ledger() *LedgerRepo {
	return &LedgerRepo{store: s}
}

// Inventory returns the inventory repository view of the store.
func (s *Store) Inventory() *InventoryRepo {
	return &InventoryRepo{store: s}
}

// Branches returns the branch repository view of the store.
func (s *Store) Branches() *BranchRepo {
	return &BranchRepo{store: s}
}

// LedgerRepo implements accounting.RepositoryPort.
type LedgerRepo struct {
	store *Store
}

// WithTx runs fn against a snapshot committed only when fn succeeds.
func (r *LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	return r.store.run(ctx, func(v *txView) error { return fn(ctx, v) })
}

// InventoryRepo implements inventory.RepositoryPort.
type InventoryRepo struct {
	store *Store
}

// WithTx runs fn against a snapshot committed only when fn succeeds.
func (r *InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.store.run(ctx, func(v *txView) error { return fn(ctx, v) })
}

// Seeding helpers. They write directly without a transaction.

// AddAccount inserts an active account and returns its id.
func (s *Store) AddAccount(code, name string, typ accounting.AccountType) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.data.id()
	now := s.clock()
	s.data.accounts[id] = accounting.Account{ID: id, Code: code, Name: name, Type: typ, IsActive: true, CreatedAt: now, UpdatedAt: now}
	return id
}

// DeactivateAccount flags an account inactive.
func (s *Store) DeactivateAccount(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.data.accounts[id]
	acc.IsActive = false
	s.data.accounts[id] = acc
}

// SetMapping points an event key at an account.
func (s *Store) SetMapping(key accounting.EventKey, accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.mappings[string(key)] = accounting.AccountMapping{EventKey: string(key), AccountID: accountID, UpdatedAt: s.clock()}
}

// AddBranch inserts an active branch and returns its id.
func (s *Store) AddBranch(code, name string, typ branches.Type) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.data.id()
	now := s.clock()
	s.data.branches[id] = branches.Branch{ID: id, Code: code, Name: name, Type: typ, IsActive: true, CreatedAt: now, UpdatedAt: now}
	return id
}

// AddProduct inserts an active product and returns its id.
func (s *Store) AddProduct(sku string, conversion, cost decimal.Decimal) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.data.id()
	s.data.products[id] = inventory.Product{
		ID: id, SKU: sku, Name: sku, Unit: "g", PurchaseUnit: "pack",
		ConversionFactor: conversion, Cost: cost, IsActive: true,
	}
	return id
}

// SetLevel seeds a branch level.
func (s *Store) SetLevel(productID, branchID int64, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.levels[levelKey{productID, branchID}] = inventory.Level{ProductID: productID, BranchID: branchID, QuantityOnHand: qty, UpdatedAt: s.clock()}
}

// Read accessors for assertions.

// Product returns the committed product row.
func (s *Store) Product(id int64) inventory.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.products[id]
}

// Level returns the committed level and whether it exists.
func (s *Store) Level(productID, branchID int64) (inventory.Level, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.data.levels[levelKey{productID, branchID}]
	return l, ok
}

// Transactions returns every committed inventory transaction.
func (s *Store) Transactions() []inventory.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.transactions)
}

// Entries returns every committed journal entry ordered by id.
func (s *Store) Entries() []accounting.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounting.JournalEntry, 0, len(s.data.entries))
	for _, e := range s.data.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b accounting.JournalEntry) int { return cmpInt(a.ID, b.ID) })
	return out
}

type txView struct {
	store *Store
	data  *state
}

var _ accounting.TxRepository = (*txView)(nil)
var _ inventory.TxRepository = (*txView)(nil)

func (v *txView) Ledger() accounting.TxRepository { return v }

func (v *txView) ListAccounts(ctx context.Context) ([]accounting.Account, error) {
	out := slices.Collect(maps.Values(v.data.accounts))
	slices.SortFunc(out, func(a, b accounting.Account) int { return cmpString(a.Code, b.Code) })
	return out, nil
}

func (v *txView) GetAccountsByIDs(ctx context.Context, ids []int64) (map[int64]accounting.Account, error) {
	out := make(map[int64]accounting.Account, len(ids))
	for _, id := range ids {
		if acc, ok := v.data.accounts[id]; ok {
			out[id] = acc
		}
	}
	return out, nil
}

func (v *txView) GetAccountByCode(ctx context.Context, code string) (accounting.Account, error) {
	for _, acc := range v.data.accounts {
		if acc.Code == code {
			return acc, nil
		}
	}
	return accounting.Account{}, fmt.Errorf("%w: code %s", accounting.ErrAccountNotFound, code)
}

func (v *txView) GetMapping(ctx context.Context, eventKey string) (accounting.AccountMapping, bool, error) {
	m, ok := v.data.mappings[eventKey]
	return m, ok, nil
}

func (v *txView) BranchExists(ctx context.Context, id int64) (bool, error) {
	_, ok := v.data.branches[id]
	return ok, nil
}

func (v *txView) InsertJournalEntry(ctx context.Context, in accounting.PostingInput) (accounting.JournalEntry, error) {
	if err := v.store.fail("InsertJournalEntry"); err != nil {
		return accounting.JournalEntry{}, err
	}
	entry := accounting.JournalEntry{
		ID:             v.data.id(),
		Date:           in.Date,
		Description:    in.Description,
		Reference:      in.Reference,
		BranchID:       in.BranchID,
		RelatedEntryID: in.RelatedEntryID,
		PostedBy:       in.PostedBy,
		CreatedAt:      v.store.clock(),
	}
	v.data.entries[entry.ID] = entry
	return entry, nil
}

func (v *txView) InsertJournalLines(ctx context.Context, entryID int64, lines []accounting.PostingLineInput) ([]accounting.JournalLine, error) {
	if err := v.store.fail("InsertJournalLines"); err != nil {
		return nil, err
	}
	entry, ok := v.data.entries[entryID]
	if !ok {
		return nil, accounting.ErrJournalNotFound
	}
	out := make([]accounting.JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, accounting.JournalLine{
			ID:        v.data.id(),
			EntryID:   entryID,
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
		})
	}
	entry.Lines = append(entry.Lines, out...)
	v.data.entries[entryID] = entry
	return out, nil
}

func (v *txView) withAccounts(e accounting.JournalEntry) accounting.JournalEntry {
	lines := slices.Clone(e.Lines)
	for i := range lines {
		if acc, ok := v.data.accounts[lines[i].AccountID]; ok {
			lines[i].Account = &acc
		}
	}
	e.Lines = lines
	return e
}

func (v *txView) GetJournalWithLines(ctx context.Context, scope branchscope.Scope, entryID int64) (accounting.JournalEntry, error) {
	e, ok := v.data.entries[entryID]
	if !ok || !scope.Visible(e.BranchID) {
		return accounting.JournalEntry{}, accounting.ErrJournalNotFound
	}
	return v.withAccounts(e), nil
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func (v *txView) ListJournalEntries(ctx context.Context, scope branchscope.Scope, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	for _, e := range v.data.entries {
		if scope.Visible(e.BranchID) && inRange(e.Date, filter.From, filter.To) {
			out = append(out, v.withAccounts(e))
		}
	}
	slices.SortFunc(out, func(a, b accounting.JournalEntry) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmpInt(a.ID, b.ID)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (v *txView) AccountBalances(ctx context.Context, scope branchscope.Scope, from, to *time.Time) ([]accounting.AccountBalance, error) {
	sums := make(map[int64]*accounting.AccountBalance)
	for _, e := range v.data.entries {
		if !scope.Visible(e.BranchID) || !inRange(e.Date, from, to) {
			continue
		}
		for _, line := range e.Lines {
			b, ok := sums[line.AccountID]
			if !ok {
				b = &accounting.AccountBalance{Account: v.data.accounts[line.AccountID], Debit: decimal.Zero, Credit: decimal.Zero}
				sums[line.AccountID] = b
			}
			b.Debit = b.Debit.Add(line.Debit)
			b.Credit = b.Credit.Add(line.Credit)
		}
	}
	out := make([]accounting.AccountBalance, 0, len(sums))
	for _, b := range sums {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b accounting.AccountBalance) int { return cmpString(a.Account.Code, b.Account.Code) })
	return out, nil
}

func (v *txView) ReassignBranch(ctx context.Context, from, to *int64) (int64, error) {
	var moved int64
	for id, e := range v.data.entries {
		if !sameBranch(e.BranchID, from) {
			continue
		}
		if to == nil {
			e.BranchID = nil
		} else {
			target := *to
			e.BranchID = &target
		}
		v.data.entries[id] = e
		moved++
	}
	return moved, nil
}

func sameBranch(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (v *txView) LockProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	out := make(map[int64]inventory.Product, len(ids))
	for _, id := range ids {
		p, ok := v.data.products[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", inventory.ErrProductNotFound, id)
		}
		out[id] = p
	}
	return out, nil
}

func (v *txView) GlobalStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for k, l := range v.data.levels {
		if k.product == productID {
			total = total.Add(l.QuantityOnHand)
		}
	}
	return total, nil
}

func (v *txView) GetLevel(ctx context.Context, productID, branchID int64) (inventory.Level, error) {
	l, ok := v.data.levels[levelKey{productID, branchID}]
	if !ok {
		return inventory.Level{ProductID: productID, BranchID: branchID}, inventory.ErrLevelNotFound
	}
	return l, nil
}

func (v *txView) AddToLevel(ctx context.Context, productID, branchID int64, delta decimal.Decimal) (inventory.Level, error) {
	k := levelKey{productID, branchID}
	l, ok := v.data.levels[k]
	if !ok {
		l = inventory.Level{ProductID: productID, BranchID: branchID}
	}
	l.QuantityOnHand = l.QuantityOnHand.Add(delta)
	l.UpdatedAt = v.store.clock()
	v.data.levels[k] = l
	return l, nil
}

func (v *txView) SetLevel(ctx context.Context, productID, branchID int64, qty decimal.Decimal) (inventory.Level, error) {
	l := inventory.Level{ProductID: productID, BranchID: branchID, QuantityOnHand: qty, UpdatedAt: v.store.clock()}
	v.data.levels[levelKey{productID, branchID}] = l
	return l, nil
}

func (v *txView) UpdateProductCost(ctx context.Context, productID int64, cost decimal.Decimal) error {
	p, ok := v.data.products[productID]
	if !ok {
		return fmt.Errorf("%w: %d", inventory.ErrProductNotFound, productID)
	}
	p.Cost = cost
	v.data.products[productID] = p
	return nil
}

func (v *txView) InsertTransaction(ctx context.Context, txn inventory.Transaction) (inventory.Transaction, error) {
	if err := v.store.fail("InsertTransaction"); err != nil {
		return inventory.Transaction{}, err
	}
	txn.ID = v.data.id()
	v.data.transactions = append(v.data.transactions, txn)
	return txn, nil
}

func (v *txView) ClaimKey(ctx context.Context, key, module string) error {
	if _, ok := v.data.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	v.data.keys[key] = module
	return nil
}

func (v *txView) BranchActive(ctx context.Context, branchID int64) (bool, error) {
	b, ok := v.data.branches[branchID]
	return ok && b.IsActive, nil
}

func (v *txView) ListLevels(ctx context.Context, scope branchscope.Scope, productID int64) ([]inventory.Level, error) {
	var out []inventory.Level
	for k, l := range v.data.levels {
		branchID := k.branch
		if k.product == productID && scope.Visible(&branchID) {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b inventory.Level) int { return cmpInt(a.BranchID, b.BranchID) })
	return out, nil
}

func (v *txView) ListTransactions(ctx context.Context, scope branchscope.Scope, filter inventory.TransactionFilter) ([]inventory.Transaction, error) {
	var out []inventory.Transaction
	for _, t := range v.data.transactions {
		branchID := t.BranchID
		if !scope.Visible(&branchID) {
			continue
		}
		if filter.ProductID > 0 && t.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if !inRange(t.OccurredAt, filter.From, filter.To) {
			continue
		}
		out = append(out, t)
	}
	slices.SortStableFunc(out, func(a, b inventory.Transaction) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		return cmpInt(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// BranchRepo implements the branch listing port.
type BranchRepo struct {
	store *Store
}

// List returns branches visible in scope ordered by code. Head office sees all.
func (r *BranchRepo) List(ctx context.Context, scope branchscope.Scope) ([]branches.Branch, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []branches.Branch
	for _, b := range r.store.data.branches {
		id := b.ID
		if scope.IsHeadOffice() || scope.Visible(&id) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b branches.Branch) int { return cmpString(a.Code, b.Code) })
	return out, nil
}

// Create registers a branch.
func (r *BranchRepo) Create(ctx context.Context, b branches.Branch) (branches.Branch, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.data.branches {
		if existing.Code == b.Code {
			return branches.Branch{}, branches.ErrDuplicateCode
		}
	}
	b.ID = r.store.data.id()
	b.IsActive = true
	b.CreatedAt = r.store.clock()
	b.UpdatedAt = b.CreatedAt
	r.store.data.branches[b.ID] = b
	return b, nil
}

// Get returns one branch.
func (r *BranchRepo) Get(ctx context.Context, id int64) (branches.Branch, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.data.branches[id]
	if !ok {
		return branches.Branch{}, branches.ErrNotFound
	}
	return b, nil
}

// SetActive toggles a branch.
func (r *BranchRepo) SetActive(ctx context.Context, id int64, active bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.data.branches[id]
	if !ok {
		return branches.ErrNotFound
	}
	b.IsActive = active
	r.store.data.branches[id] = b
	return nil
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ErrInjected is a convenience error for FailOn.
var ErrInjected = errors.New("memstore: injected failure")
