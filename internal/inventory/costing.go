package inventory

import "github.com/shopspring/decimal"

// CostPlaces is the precision product cost is stored at.
const CostPlaces = 6

// WeightedAverage pools existing stock at oldCost with an addition worth addedValue.
// A negative oldQty counts as empty so the deficit is valued at the incoming cost.
// When the pooled stock is not positive the old cost is kept.
func WeightedAverage(oldQty, oldCost, addedQty, addedValue decimal.Decimal) decimal.Decimal {
	if oldQty.IsNegative() {
		oldQty = decimal.Zero
	}
	newQty := oldQty.Add(addedQty)
	if !newQty.IsPositive() {
		return oldCost
	}
	return oldQty.Mul(oldCost).Add(addedValue).DivRound(newQty, CostPlaces)
}

// ReceiptValue converts a purchase line into base units and value.
func ReceiptValue(quantity, conversionFactor, unitCost decimal.Decimal) (baseQty, value decimal.Decimal) {
	return quantity.Mul(conversionFactor), quantity.Mul(unitCost)
}
