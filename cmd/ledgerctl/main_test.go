package main

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/masterdata/branches"
	"github.com/odyssey-erp/resto-ledger/internal/testing/memstore"
)

func TestParseBranchTarget(t *testing.T) {
	id, err := parseBranchTarget("12")
	require.NoError(t, err)
	require.EqualValues(t, 12, *id)

	id, err = parseBranchTarget(" Global ")
	require.NoError(t, err)
	require.Nil(t, id)

	for _, raw := range []string{"", "-3", "kedoya"} {
		_, err := parseBranchTarget(raw)
		require.Error(t, err, raw)
	}
}

func TestParseMergeFlags(t *testing.T) {
	opts, err := parseMergeFlags([]string{"-from", "4", "-to", "global", "-actor", "9", "-archive"}, io.Discard)
	require.NoError(t, err)
	require.EqualValues(t, 4, *opts.from)
	require.Nil(t, opts.to)
	require.EqualValues(t, 9, opts.actor)
	require.True(t, opts.archive)

	_, err = parseMergeFlags([]string{"-from", "global", "-to", "2", "-archive"}, io.Discard)
	require.Error(t, err)
	_, err = parseMergeFlags([]string{"-to", "2"}, io.Discard)
	require.Error(t, err)
}

func TestRunRejectsUnknownCommands(t *testing.T) {
	var stderr bytes.Buffer
	require.Equal(t, 2, run(context.Background(), nil, io.Discard, &stderr))
	require.Contains(t, stderr.String(), "merge-branch")
	require.Equal(t, 2, run(context.Background(), []string{"rebuild"}, io.Discard, io.Discard))
	require.Equal(t, 2, run(context.Background(), []string{"jobs", "trigger"}, io.Discard, io.Discard))
	require.Equal(t, 2, run(context.Background(), []string{"merge-branch", "-from", "x"}, io.Discard, io.Discard))
}

func TestMergeBranchMovesEntriesAndArchives(t *testing.T) {
	store := memstore.New()
	closing := store.AddBranch("KDY", "Kedoya", branches.TypeRestaurant)
	keeper := store.AddBranch("CKT", "Cikini", branches.TypeRestaurant)
	cash := store.AddAccount("1100", "Cash", accounting.AccountTypeAsset)
	rent := store.AddAccount("6100", "Rent", accounting.AccountTypeExpense)
	ledger := accounting.NewService(store.Ledger(), nil, nil, nil)
	registry := branches.NewService(store.Branches())

	_, err := ledger.PostEntry(context.Background(), branchscope.ForBranch(closing), accounting.PostingInput{
		Date:        time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Description: "May rent",
		Lines: []accounting.PostingLineInput{
			{AccountID: rent, Debit: decimal.NewFromInt(50)},
			{AccountID: cash, Credit: decimal.NewFromInt(50)},
		},
	})
	require.NoError(t, err)

	var stdout bytes.Buffer
	code := mergeBranch(context.Background(), ledger, registry, mergeOptions{from: &closing, to: &keeper, archive: true}, &stdout, io.Discard)
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "moved 1 journal entries")
	require.Contains(t, stdout.String(), "archived branch")
	require.Equal(t, keeper, *store.Entries()[0].BranchID)

	b, err := registry.Get(context.Background(), branchscope.HeadOffice(), closing)
	require.NoError(t, err)
	require.False(t, b.IsActive)

	var stderr bytes.Buffer
	code = mergeBranch(context.Background(), ledger, registry, mergeOptions{from: &keeper, to: &keeper}, io.Discard, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "validation")
}
