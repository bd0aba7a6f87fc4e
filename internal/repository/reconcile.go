package repository

import (
	"github.com/shopspring/decimal"

	"fuelops/internal/domain"
)

// closeReading validates one closing meter value against its reading row and
// derives the sold quantity and the expected amount at the snapshotted rate.
func closeReading(reading domain.NozzleReading, closing decimal.Decimal) (domain.NozzleReading, error) {
	if closing.LessThan(reading.OpeningReading) {
		return domain.NozzleReading{}, domain.Validationf(
			"closing reading %s is below opening reading %s for nozzle %d",
			closing.String(), reading.OpeningReading.String(), reading.NozzleID,
		)
	}
	quantity := closing.Sub(reading.OpeningReading)
	expected := quantity.Mul(reading.RateAtShift).Round(2)

	reading.ClosingReading = decimal.NewNullDecimal(closing)
	reading.QuantitySold = decimal.NewNullDecimal(quantity)
	reading.ExpectedAmount = decimal.NewNullDecimal(expected)
	return reading, nil
}

// variance is meter-derived expected revenue minus declared collections.
// Positive means a cash shortfall. Borrowing is recorded on the shift but is
// deliberately not part of the formula.
func variance(totalSales, cash, credit, digital decimal.Decimal) decimal.Decimal {
	return totalSales.Sub(cash.Add(credit).Add(digital))
}

// itemizedDrift compares meter-derived totals against the sum of itemized
// sale tickets. The tickets are a secondary audit trail permitted to diverge;
// the bool reports whether the divergence exceeds tolerancePercent of the
// meter total and deserves a warning.
func itemizedDrift(totalSales, itemizedSum decimal.Decimal, tolerancePercent int) (decimal.Decimal, bool) {
	drift := totalSales.Sub(itemizedSum).Abs()
	if totalSales.IsZero() {
		return drift, !drift.IsZero()
	}
	threshold := totalSales.Abs().Mul(decimal.NewFromInt(int64(tolerancePercent))).Div(decimal.NewFromInt(100))
	return drift, drift.GreaterThan(threshold)
}

// checkStockBounds enforces the capacity and non-negative bounds for a tank
// movement. The dispensing stock-out path skips the lower bound: fuel already
// left the tank regardless of bookkeeping.
func checkStockBounds(entryType domain.EntryType, stockAfter, capacity decimal.Decimal) error {
	switch entryType {
	case domain.EntryStockIn:
		if stockAfter.GreaterThan(capacity) {
			return domain.ErrCapacityExceeded
		}
	case domain.EntryAdjustment:
		if stockAfter.GreaterThan(capacity) {
			return domain.ErrCapacityExceeded
		}
		if stockAfter.IsNegative() {
			return domain.ErrNegativeStock
		}
	case domain.EntryStockOut:
		// no bounds; caller logs a warning when stockAfter goes negative
	}
	return nil
}
