package risk

import (
	"github.com/shopspring/decimal"
)

// Size computes spec.md §4.D step 3's authoritative sizing rule:
// shares = floor(max_position_usdc / best_ask).
func Size(maxPositionUSDC, bestAsk decimal.Decimal) decimal.Decimal {
	if bestAsk.IsZero() {
		return decimal.Zero
	}
	return maxPositionUSDC.Div(bestAsk).Floor()
}

// SizeByConfidence is the supplemented, disabled-by-default variant
// (SPEC_FULL.md §12) grounded on the teacher's risk/manager.go
// CalculateSize: scales the base size by a 0-1 confidence factor, still
// bounded by maxPositionUSDC. Never used unless SIZE_BY_CONFIDENCE=true;
// spec.md's own sizing rule remains the default.
func SizeByConfidence(maxPositionUSDC, bestAsk, confidence decimal.Decimal) decimal.Decimal {
	base := Size(maxPositionUSDC, bestAsk)
	if confidence.LessThan(decimal.Zero) {
		confidence = decimal.Zero
	}
	if confidence.GreaterThan(decimal.NewFromInt(1)) {
		confidence = decimal.NewFromInt(1)
	}
	return base.Mul(confidence).Floor()
}
