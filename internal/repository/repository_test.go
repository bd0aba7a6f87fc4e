package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fuelops/internal/db"
	"fuelops/internal/domain"
)

// Integration tests run against a real PostgreSQL database. Set
// TEST_DATABASE_URL to enable them; each test works inside its own tenant so
// runs do not interfere with each other or with leftover data.

type testEnv struct {
	repo   *Repository
	tenant string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.RunMigrations(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return &testEnv{
		repo:   New(pool, 3, 5),
		tenant: uuid.NewString(),
	}
}

type stationFixture struct {
	fuelTypeID int64
	tankID     int64
	pumpID     int64
	nozzleID   int64
}

// buildStation wires one fuel type at rate 90, a 10000-litre tank holding
// 8000, and a single-nozzle pump with the meter at 100.
func buildStation(t *testing.T, env *testEnv) stationFixture {
	t.Helper()
	ctx := context.Background()

	fuelType, err := env.repo.CreateFuelType(ctx, env.tenant, "Petrol", "litre")
	if err != nil {
		t.Fatalf("create fuel type: %v", err)
	}
	if _, err := env.repo.SetRate(ctx, env.tenant, fuelType.ID, dec(t, "90")); err != nil {
		t.Fatalf("set rate: %v", err)
	}

	tank, err := env.repo.CreateTank(ctx, env.tenant, TankCreateInput{
		Code:         "T1",
		FuelTypeID:   fuelType.ID,
		Capacity:     dec(t, "10000"),
		MinimumLevel: dec(t, "500"),
	})
	if err != nil {
		t.Fatalf("create tank: %v", err)
	}
	if _, err := env.repo.StockIn(ctx, env.tenant, StockInInput{
		TankID:   tank.ID,
		Quantity: dec(t, "8000"),
	}); err != nil {
		t.Fatalf("initial stock-in: %v", err)
	}

	pump, err := env.repo.CreatePump(ctx, env.tenant, "P1")
	if err != nil {
		t.Fatalf("create pump: %v", err)
	}
	nozzle, err := env.repo.CreateNozzle(ctx, env.tenant, NozzleCreateInput{
		PumpID:         pump.ID,
		TankID:         tank.ID,
		FuelTypeID:     fuelType.ID,
		Code:           "P1-N1",
		CurrentReading: dec(t, "100"),
	})
	if err != nil {
		t.Fatalf("create nozzle: %v", err)
	}

	return stationFixture{
		fuelTypeID: fuelType.ID,
		tankID:     tank.ID,
		pumpID:     pump.ID,
		nozzleID:   nozzle.ID,
	}
}

func TestShiftLifecycle(t *testing.T) {
	env := setupEnv(t)
	fx := buildStation(t, env)
	ctx := context.Background()

	shift, err := env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
		WorkerID:   "w1",
		WorkerName: "Asha",
		PumpID:     fx.pumpID,
		ShiftDate:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	if shift.Status != domain.ShiftActive {
		t.Fatalf("status = %s, want active", shift.Status)
	}
	if len(shift.Readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(shift.Readings))
	}
	reading := shift.Readings[0]
	if !reading.OpeningReading.Equal(dec(t, "100")) {
		t.Errorf("opening reading = %s, want 100", reading.OpeningReading)
	}
	if !reading.RateAtShift.Equal(dec(t, "90")) {
		t.Errorf("rate at shift = %s, want 90", reading.RateAtShift)
	}

	// A rate change mid-shift must not touch the snapshot.
	if _, err := env.repo.SetRate(ctx, env.tenant, fx.fuelTypeID, dec(t, "95")); err != nil {
		t.Fatalf("set mid-shift rate: %v", err)
	}

	sale, err := env.repo.RecordSale(ctx, env.tenant, RecordSaleInput{
		ShiftID:       shift.ID,
		NozzleID:      fx.nozzleID,
		Quantity:      dec(t, "20"),
		PaymentMethod: domain.PayCash,
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if !sale.Rate.Equal(dec(t, "90")) {
		t.Errorf("sale rate = %s, want snapshotted 90", sale.Rate)
	}
	if !sale.Amount.Equal(dec(t, "1800")) {
		t.Errorf("sale amount = %s, want 1800", sale.Amount)
	}

	closed, err := env.repo.CloseShift(ctx, env.tenant, CloseShiftInput{
		ShiftID:         shift.ID,
		ClosingReadings: map[int64]decimal.Decimal{fx.nozzleID: dec(t, "150")},
		CashCollected:   dec(t, "3000"),
		CreditSales:     dec(t, "1000"),
		DigitalPayments: dec(t, "400"),
	})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if closed.Status != domain.ShiftClosed || closed.EndedAt == nil {
		t.Fatalf("shift not closed: %+v", closed)
	}
	if !closed.TotalSales.Equal(dec(t, "4500")) {
		t.Errorf("total sales = %s, want 4500", closed.TotalSales)
	}
	if !closed.Variance.Equal(dec(t, "100")) {
		t.Errorf("variance = %s, want 100", closed.Variance)
	}

	tank, err := env.repo.GetTank(ctx, env.tenant, fx.tankID)
	if err != nil {
		t.Fatalf("get tank: %v", err)
	}
	if !tank.CurrentStock.Equal(dec(t, "7950")) {
		t.Errorf("tank stock = %s, want 7950 after dispensing 50", tank.CurrentStock)
	}

	entryType := domain.EntryStockOut
	history, err := env.repo.StockHistory(ctx, env.tenant, StockHistoryFilter{
		TankID:    &fx.tankID,
		EntryType: &entryType,
	})
	if err != nil {
		t.Fatalf("stock history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d stock-out entries, want 1", len(history))
	}
	debit := history[0]
	if debit.ShiftID == nil || *debit.ShiftID != shift.ID {
		t.Errorf("debit shift id = %v, want %d", debit.ShiftID, shift.ID)
	}
	if !debit.Quantity.Equal(dec(t, "-50")) {
		t.Errorf("debit quantity = %s, want -50", debit.Quantity)
	}
	if !debit.StockAfter.Equal(debit.StockBefore.Add(debit.Quantity)) {
		t.Errorf("ledger continuity broken: %s != %s + %s", debit.StockAfter, debit.StockBefore, debit.Quantity)
	}
}

func TestOpenShiftExclusivity(t *testing.T) {
	env := setupEnv(t)
	fx := buildStation(t, env)
	ctx := context.Background()

	if _, err := env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
		WorkerID: "w1", PumpID: fx.pumpID,
	}); err != nil {
		t.Fatalf("open shift: %v", err)
	}

	// Same worker, any pump.
	_, err := env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
		WorkerID: "w1", PumpID: fx.pumpID,
	})
	if !domain.IsConflict(err) {
		t.Fatalf("second shift for worker should conflict, got %v", err)
	}

	// Different worker, same nozzles.
	_, err = env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
		WorkerID: "w2", PumpID: fx.pumpID,
	})
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("busy nozzle should conflict, got %v", err)
	}
	if conflict.HeldBy == "" {
		t.Errorf("conflict should name the holding worker: %v", conflict)
	}
}

func TestOpenShiftRace(t *testing.T) {
	env := setupEnv(t)
	fx := buildStation(t, env)
	ctx := context.Background()

	// Two workers race for the same pump's nozzle. Exactly one shift may
	// open; the loser must see a conflict naming the winner, never an
	// internal error, regardless of whether it loses at the guard query or
	// at the unique index.
	results := make(chan error, 2)
	for _, worker := range []string{"w1", "w2"} {
		go func(worker string) {
			_, err := env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
				WorkerID: worker, PumpID: fx.pumpID,
			})
			results <- err
		}(worker)
	}

	successes, conflicts := 0, 0
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			successes++
		case domain.IsConflict(err):
			conflicts++
			var conflict *domain.ConflictError
			if errors.As(err, &conflict) && conflict.HeldBy == "" {
				t.Errorf("losing open should name the holder: %v", err)
			}
		default:
			t.Errorf("racing open returned %v, want success or conflict", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("got %d successes and %d conflicts, want exactly one of each", successes, conflicts)
	}
}

func TestOpeningOverridesAndMeterAdvance(t *testing.T) {
	env := setupEnv(t)
	fx := buildStation(t, env)
	ctx := context.Background()

	// Override below the stored meter value.
	_, err := env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
		WorkerID: "w1", PumpID: fx.pumpID,
		OpeningOverrides: map[int64]decimal.Decimal{fx.nozzleID: dec(t, "99.9")},
	})
	if !domain.IsValidation(err) {
		t.Fatalf("override below meter = %v, want validation error", err)
	}

	// Override keyed by a nozzle that is not on the pump.
	_, err = env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
		WorkerID: "w1", PumpID: fx.pumpID,
		OpeningOverrides: map[int64]decimal.Decimal{fx.nozzleID + 999: dec(t, "120")},
	})
	if !domain.IsValidation(err) {
		t.Fatalf("override for unknown nozzle = %v, want validation error", err)
	}

	shift, err := env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
		WorkerID: "w1", PumpID: fx.pumpID,
		OpeningOverrides: map[int64]decimal.Decimal{fx.nozzleID: dec(t, "120")},
	})
	if err != nil {
		t.Fatalf("open with override: %v", err)
	}
	if !shift.Readings[0].OpeningReading.Equal(dec(t, "120")) {
		t.Errorf("opening reading = %s, want overridden 120", shift.Readings[0].OpeningReading)
	}

	if _, err := env.repo.CloseShift(ctx, env.tenant, CloseShiftInput{
		ShiftID:         shift.ID,
		ClosingReadings: map[int64]decimal.Decimal{fx.nozzleID: dec(t, "180")},
	}); err != nil {
		t.Fatalf("close shift: %v", err)
	}

	// The meter advanced through open (100 -> 120) and close (120 -> 180):
	// the next shift defaults its opening to the last closing value.
	next, err := env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
		WorkerID: "w2", PumpID: fx.pumpID,
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !next.Readings[0].OpeningReading.Equal(dec(t, "180")) {
		t.Errorf("next opening = %s, want advanced meter 180", next.Readings[0].OpeningReading)
	}
}

func TestCloseShiftEdgeCases(t *testing.T) {
	env := setupEnv(t)
	fx := buildStation(t, env)
	ctx := context.Background()

	shift, err := env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
		WorkerID: "w1", PumpID: fx.pumpID,
	})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}

	// Closing below opening must fail and leave the shift active.
	_, err = env.repo.CloseShift(ctx, env.tenant, CloseShiftInput{
		ShiftID:         shift.ID,
		ClosingReadings: map[int64]decimal.Decimal{fx.nozzleID: dec(t, "99")},
	})
	if !domain.IsValidation(err) {
		t.Fatalf("rollback closing should fail validation, got %v", err)
	}
	current, err := env.repo.GetShift(ctx, env.tenant, shift.ID)
	if err != nil {
		t.Fatalf("get shift: %v", err)
	}
	if current.Status != domain.ShiftActive {
		t.Fatalf("failed close must not change status, got %s", current.Status)
	}

	// Missing nozzle reading.
	_, err = env.repo.CloseShift(ctx, env.tenant, CloseShiftInput{
		ShiftID:         shift.ID,
		ClosingReadings: map[int64]decimal.Decimal{},
	})
	if !domain.IsValidation(err) {
		t.Fatalf("missing closing reading should fail validation, got %v", err)
	}

	// Closing reading keyed by a nozzle outside the shift.
	_, err = env.repo.CloseShift(ctx, env.tenant, CloseShiftInput{
		ShiftID: shift.ID,
		ClosingReadings: map[int64]decimal.Decimal{
			fx.nozzleID:       dec(t, "100"),
			fx.nozzleID + 999: dec(t, "50"),
		},
	})
	if !domain.IsValidation(err) {
		t.Fatalf("closing reading for unknown nozzle should fail validation, got %v", err)
	}

	if _, err := env.repo.CloseShift(ctx, env.tenant, CloseShiftInput{
		ShiftID:         shift.ID,
		ClosingReadings: map[int64]decimal.Decimal{fx.nozzleID: dec(t, "100")},
	}); err != nil {
		t.Fatalf("close shift: %v", err)
	}

	// Closing twice must conflict, not re-apply totals.
	_, err = env.repo.CloseShift(ctx, env.tenant, CloseShiftInput{
		ShiftID:         shift.ID,
		ClosingReadings: map[int64]decimal.Decimal{fx.nozzleID: dec(t, "100")},
	})
	if !domain.IsConflict(err) {
		t.Fatalf("double close should conflict, got %v", err)
	}
}

func TestOpenShiftRequiresRate(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	fuelType, err := env.repo.CreateFuelType(ctx, env.tenant, "Diesel", "litre")
	if err != nil {
		t.Fatalf("create fuel type: %v", err)
	}
	tank, err := env.repo.CreateTank(ctx, env.tenant, TankCreateInput{
		Code: "T1", FuelTypeID: fuelType.ID, Capacity: dec(t, "5000"),
	})
	if err != nil {
		t.Fatalf("create tank: %v", err)
	}
	pump, err := env.repo.CreatePump(ctx, env.tenant, "P1")
	if err != nil {
		t.Fatalf("create pump: %v", err)
	}
	if _, err := env.repo.CreateNozzle(ctx, env.tenant, NozzleCreateInput{
		PumpID: pump.ID, TankID: tank.ID, FuelTypeID: fuelType.ID, Code: "P1-N1",
	}); err != nil {
		t.Fatalf("create nozzle: %v", err)
	}

	_, err = env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
		WorkerID: "w1", PumpID: pump.ID,
	})
	if !domain.IsValidation(err) {
		t.Fatalf("open without a rate should fail validation, got %v", err)
	}
}

func TestStockLedgerBounds(t *testing.T) {
	env := setupEnv(t)
	fx := buildStation(t, env)
	ctx := context.Background()

	// 8000 in a 10000 tank; 2500 more would overflow.
	_, err := env.repo.StockIn(ctx, env.tenant, StockInInput{
		TankID: fx.tankID, Quantity: dec(t, "2500"),
	})
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("overfill = %v, want ErrCapacityExceeded", err)
	}

	_, err = env.repo.Adjustment(ctx, env.tenant, AdjustmentInput{
		TankID: fx.tankID, Quantity: dec(t, "-8000.01"), Notes: "impossible drain",
	})
	if !errors.Is(err, domain.ErrNegativeStock) {
		t.Fatalf("negative adjustment = %v, want ErrNegativeStock", err)
	}

	_, err = env.repo.Adjustment(ctx, env.tenant, AdjustmentInput{
		TankID: fx.tankID, Quantity: dec(t, "-10"),
	})
	if !domain.IsValidation(err) {
		t.Fatalf("adjustment without notes = %v, want validation error", err)
	}

	if _, err := env.repo.Adjustment(ctx, env.tenant, AdjustmentInput{
		TankID: fx.tankID, Quantity: dec(t, "-10"), Notes: "evaporation survey",
	}); err != nil {
		t.Fatalf("valid adjustment: %v", err)
	}

	history, err := env.repo.StockHistory(ctx, env.tenant, StockHistoryFilter{TankID: &fx.tankID})
	if err != nil {
		t.Fatalf("stock history: %v", err)
	}
	for _, entry := range history {
		if !entry.StockAfter.Equal(entry.StockBefore.Add(entry.Quantity)) {
			t.Errorf("entry %d breaks continuity: %s != %s + %s",
				entry.ID, entry.StockAfter, entry.StockBefore, entry.Quantity)
		}
	}
}

func TestRateHistory(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	fuelType, err := env.repo.CreateFuelType(ctx, env.tenant, "Petrol", "litre")
	if err != nil {
		t.Fatalf("create fuel type: %v", err)
	}

	if _, err := env.repo.CurrentRate(ctx, env.tenant, fuelType.ID); !errors.Is(err, domain.ErrNoCurrentRate) {
		t.Fatalf("fresh fuel type rate = %v, want ErrNoCurrentRate", err)
	}

	if _, err := env.repo.SetRate(ctx, env.tenant, fuelType.ID, dec(t, "88")); err != nil {
		t.Fatalf("set first rate: %v", err)
	}
	if _, err := env.repo.SetRate(ctx, env.tenant, fuelType.ID, dec(t, "92.5")); err != nil {
		t.Fatalf("set second rate: %v", err)
	}

	rate, err := env.repo.CurrentRate(ctx, env.tenant, fuelType.ID)
	if err != nil {
		t.Fatalf("current rate: %v", err)
	}
	if !rate.Equal(dec(t, "92.5")) {
		t.Errorf("current rate = %s, want 92.5", rate)
	}
}

func TestVoidSale(t *testing.T) {
	env := setupEnv(t)
	fx := buildStation(t, env)
	ctx := context.Background()

	shift, err := env.repo.OpenShift(ctx, env.tenant, OpenShiftInput{
		WorkerID: "w1", PumpID: fx.pumpID,
	})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	sale, err := env.repo.RecordSale(ctx, env.tenant, RecordSaleInput{
		ShiftID: shift.ID, NozzleID: fx.nozzleID,
		Quantity: dec(t, "5"), PaymentMethod: domain.PayCash,
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	if _, err := env.repo.VoidSale(ctx, env.tenant, sale.ID, ""); !domain.IsValidation(err) {
		t.Fatalf("void without reason = %v, want validation error", err)
	}

	voided, err := env.repo.VoidSale(ctx, env.tenant, sale.ID, "test pour")
	if err != nil {
		t.Fatalf("void sale: %v", err)
	}
	if !voided.Voided || voided.VoidReason == nil {
		t.Fatalf("sale not marked voided: %+v", voided)
	}

	if _, err := env.repo.VoidSale(ctx, env.tenant, sale.ID, "again"); !domain.IsConflict(err) {
		t.Fatalf("double void = %v, want conflict", err)
	}

	active, err := env.repo.ListSales(ctx, env.tenant, shift.ID, false)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("voided sale should be hidden by default, got %d", len(active))
	}
	all, err := env.repo.ListSales(ctx, env.tenant, shift.ID, true)
	if err != nil {
		t.Fatalf("list all sales: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("include_voided should show the sale, got %d", len(all))
	}
}

func TestDeleteTankDegradesToDeactivate(t *testing.T) {
	env := setupEnv(t)
	fx := buildStation(t, env)
	ctx := context.Background()

	// T1 already has a stock-in entry, so delete must degrade.
	deleted, err := env.repo.DeleteTank(ctx, env.tenant, fx.tankID)
	if err != nil {
		t.Fatalf("delete tank: %v", err)
	}
	if deleted {
		t.Fatalf("tank with ledger history must be deactivated, not deleted")
	}
	tank, err := env.repo.GetTank(ctx, env.tenant, fx.tankID)
	if err != nil {
		t.Fatalf("get tank: %v", err)
	}
	if tank.IsActive {
		t.Errorf("tank should be inactive after degraded delete")
	}

	empty, err := env.repo.CreateTank(ctx, env.tenant, TankCreateInput{
		Code: "T2", FuelTypeID: fx.fuelTypeID, Capacity: dec(t, "1000"),
	})
	if err != nil {
		t.Fatalf("create empty tank: %v", err)
	}
	deleted, err = env.repo.DeleteTank(ctx, env.tenant, empty.ID)
	if err != nil {
		t.Fatalf("delete empty tank: %v", err)
	}
	if !deleted {
		t.Errorf("tank without history should be deleted outright")
	}
	if _, err := env.repo.GetTank(ctx, env.tenant, empty.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted tank lookup = %v, want ErrNotFound", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	env := setupEnv(t)
	fx := buildStation(t, env)
	ctx := context.Background()

	otherTenant := uuid.NewString()
	if _, err := env.repo.GetTank(ctx, otherTenant, fx.tankID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cross-tenant tank lookup = %v, want ErrNotFound", err)
	}
	if _, err := env.repo.CurrentRate(ctx, otherTenant, fx.fuelTypeID); !errors.Is(err, domain.ErrNoCurrentRate) {
		t.Errorf("cross-tenant rate lookup = %v, want ErrNoCurrentRate", err)
	}
}
