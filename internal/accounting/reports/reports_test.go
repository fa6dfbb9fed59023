package reports

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildTrialBalance(t *testing.T) {
	accounts := []AccountBalance{
		{Code: "2100", Name: "Accounts Payable", Type: "LIABILITY", Debit: d("10"), Credit: d("400")},
		{Code: "1310", Name: "Raw Materials", Type: "ASSET", Debit: d("200"), Credit: d("150")},
		{Code: "1300", Name: "Inventory", Type: "ASSET", Debit: d("340"), Credit: d("0")},
	}

	tb := BuildTrialBalance(accounts)
	require.Len(t, tb.Groups, 2)
	require.Equal(t, "13", tb.Groups[0].Key)
	require.Equal(t, "1300", tb.Groups[0].Accounts[0].Code)
	require.True(t, tb.Groups[0].Net.Equal(d("390")))
	require.True(t, tb.TotalDebit.Equal(d("550")))
	require.True(t, tb.TotalCredit.Equal(d("550")))
	require.True(t, tb.Difference.IsZero())
}

func TestBuildTrialBalanceEmpty(t *testing.T) {
	tb := BuildTrialBalance(nil)
	require.Empty(t, tb.Groups)
	require.True(t, tb.Difference.IsZero())
}
