package repository

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"fuelops/internal/domain"
)

func dec(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", raw, err)
	}
	return value
}

func TestCloseReading(t *testing.T) {
	reading := domain.NozzleReading{
		NozzleID:       3,
		OpeningReading: dec(t, "100"),
		RateAtShift:    dec(t, "90"),
	}

	closed, err := closeReading(reading, dec(t, "150"))
	if err != nil {
		t.Fatalf("closeReading: %v", err)
	}
	if !closed.QuantitySold.Decimal.Equal(dec(t, "50")) {
		t.Errorf("quantity sold = %s, want 50", closed.QuantitySold.Decimal)
	}
	if !closed.ExpectedAmount.Decimal.Equal(dec(t, "4500")) {
		t.Errorf("expected amount = %s, want 4500", closed.ExpectedAmount.Decimal)
	}
	if !closed.ClosingReading.Valid || !closed.ClosingReading.Decimal.Equal(dec(t, "150")) {
		t.Errorf("closing reading = %v, want 150", closed.ClosingReading)
	}
}

func TestCloseReadingZeroDispensed(t *testing.T) {
	reading := domain.NozzleReading{
		NozzleID:       1,
		OpeningReading: dec(t, "2350.75"),
		RateAtShift:    dec(t, "104.5"),
	}

	closed, err := closeReading(reading, dec(t, "2350.75"))
	if err != nil {
		t.Fatalf("closeReading: %v", err)
	}
	if !closed.QuantitySold.Decimal.IsZero() {
		t.Errorf("quantity sold = %s, want 0", closed.QuantitySold.Decimal)
	}
	if !closed.ExpectedAmount.Decimal.IsZero() {
		t.Errorf("expected amount = %s, want 0", closed.ExpectedAmount.Decimal)
	}
}

func TestCloseReadingRejectsRollback(t *testing.T) {
	reading := domain.NozzleReading{
		NozzleID:       7,
		OpeningReading: dec(t, "500"),
		RateAtShift:    dec(t, "95"),
	}

	_, err := closeReading(reading, dec(t, "499.99"))
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCloseReadingRoundsExpectedAmount(t *testing.T) {
	reading := domain.NozzleReading{
		NozzleID:       2,
		OpeningReading: dec(t, "10"),
		RateAtShift:    dec(t, "104.555"),
	}

	closed, err := closeReading(reading, dec(t, "11.333"))
	if err != nil {
		t.Fatalf("closeReading: %v", err)
	}
	// 1.333 * 104.555 = 139.371815 -> 139.37
	if !closed.ExpectedAmount.Decimal.Equal(dec(t, "139.37")) {
		t.Errorf("expected amount = %s, want 139.37", closed.ExpectedAmount.Decimal)
	}
}

func TestVariance(t *testing.T) {
	cases := []struct {
		name                         string
		total, cash, credit, digital string
		want                         string
	}{
		{"shortfall", "4500", "3000", "1000", "400", "100"},
		{"exact", "4500", "2000", "1500", "1000", "0"},
		{"overage", "4500", "3200", "1000", "400", "-100"},
		{"nothing declared", "4500", "0", "0", "0", "4500"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := variance(dec(t, tc.total), dec(t, tc.cash), dec(t, tc.credit), dec(t, tc.digital))
			if !got.Equal(dec(t, tc.want)) {
				t.Errorf("variance = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestVarianceIgnoresBorrowing(t *testing.T) {
	// Borrowing is bookkeeping on the shift, not a collection channel.
	withTotals := variance(dec(t, "1000"), dec(t, "600"), dec(t, "200"), dec(t, "100"))
	if !withTotals.Equal(dec(t, "100")) {
		t.Fatalf("variance = %s, want 100", withTotals)
	}
}

func TestItemizedDrift(t *testing.T) {
	drift, exceeds := itemizedDrift(dec(t, "1000"), dec(t, "960"), 5)
	if !drift.Equal(dec(t, "40")) {
		t.Errorf("drift = %s, want 40", drift)
	}
	if exceeds {
		t.Errorf("40 on 1000 at 5%% tolerance should not exceed")
	}

	drift, exceeds = itemizedDrift(dec(t, "1000"), dec(t, "940"), 5)
	if !drift.Equal(dec(t, "60")) {
		t.Errorf("drift = %s, want 60", drift)
	}
	if !exceeds {
		t.Errorf("60 on 1000 at 5%% tolerance should exceed")
	}
}

func TestItemizedDriftZeroTotal(t *testing.T) {
	_, exceeds := itemizedDrift(decimal.Zero, decimal.Zero, 5)
	if exceeds {
		t.Errorf("zero against zero should not exceed")
	}
	_, exceeds = itemizedDrift(decimal.Zero, dec(t, "10"), 5)
	if !exceeds {
		t.Errorf("any itemized sum against a zero meter total should exceed")
	}
}

func TestCheckStockBounds(t *testing.T) {
	capacity := dec(t, "10000")

	if err := checkStockBounds(domain.EntryStockIn, dec(t, "10000"), capacity); err != nil {
		t.Errorf("stock at capacity should pass: %v", err)
	}
	if err := checkStockBounds(domain.EntryStockIn, dec(t, "10000.01"), capacity); !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Errorf("stock over capacity = %v, want ErrCapacityExceeded", err)
	}
	if err := checkStockBounds(domain.EntryAdjustment, dec(t, "-0.01"), capacity); !errors.Is(err, domain.ErrNegativeStock) {
		t.Errorf("negative adjustment result = %v, want ErrNegativeStock", err)
	}
	if err := checkStockBounds(domain.EntryStockOut, dec(t, "-5"), capacity); err != nil {
		t.Errorf("dispensing below zero should pass: %v", err)
	}
}
