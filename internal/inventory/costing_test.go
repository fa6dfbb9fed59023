package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWeightedAverage(t *testing.T) {
	cases := []struct {
		name                            string
		oldQty, oldCost, addQty, addVal string
		want                            string
	}{
		{"empty stock takes receipt cost", "0", "0", "50", "20", "0.4"},
		{"pools with existing stock", "50", "0.4", "25", "15", "0.466667"},
		{"free goods dilute cost", "10", "2", "10", "0", "1"},
		{"deficit takes receipt cost", "-10", "3", "5", "10", "2"},
		{"deficit larger than receipt takes receipt cost", "-5", "2", "10", "30", "3"},
		{"nothing received keeps cost", "0", "3", "0", "0", "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := WeightedAverage(d(tc.oldQty), d(tc.oldCost), d(tc.addQty), d(tc.addVal))
			require.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestWeightedAverageStaysWithinBounds(t *testing.T) {
	oldQty, oldCost := d("0"), d("0")
	receipts := []struct{ qty, unit string }{
		{"40", "1.25"}, {"3", "9.99"}, {"120", "0.333"}, {"7.5", "2"}, {"1", "150"}, {"64", "0.01"},
	}
	tolerance := decimal.New(1, -CostPlaces)
	for _, r := range receipts {
		qty, unit := d(r.qty), d(r.unit)
		newCost := WeightedAverage(oldQty, oldCost, qty, qty.Mul(unit))
		lo, hi := decimal.Min(oldCost, unit), decimal.Max(oldCost, unit)
		if oldQty.IsZero() {
			lo, hi = unit, unit
		}
		require.True(t, newCost.GreaterThanOrEqual(lo.Sub(tolerance)), "cost %s below %s", newCost, lo)
		require.True(t, newCost.LessThanOrEqual(hi.Add(tolerance)), "cost %s above %s", newCost, hi)
		oldQty, oldCost = oldQty.Add(qty), newCost
	}
}

func TestReceiptValue(t *testing.T) {
	base, value := ReceiptValue(d("10"), d("5"), d("2.00"))
	require.True(t, base.Equal(d("50")))
	require.True(t, value.Equal(d("20")))
}
