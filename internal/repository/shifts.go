package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"fuelops/internal/domain"
)

type PumpCreateInput struct {
	Code string
}

func (r *Repository) CreatePump(ctx context.Context, tenantID, code string) (domain.Pump, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Pump{}, domain.Validationf("pump code is required")
	}
	var pump domain.Pump
	err := r.pool.QueryRow(ctx, `
		INSERT INTO pumps (tenant_id, code)
		VALUES ($1, $2)
		RETURNING id, tenant_id, code, created_at
	`, tenantID, code).Scan(&pump.ID, &pump.TenantID, &pump.Code, &pump.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "uq_pumps_tenant_code") {
			return domain.Pump{}, domain.Conflictf("pump code %q already exists", code)
		}
		return domain.Pump{}, fmt.Errorf("create pump: %w", err)
	}
	return pump, nil
}

type NozzleCreateInput struct {
	PumpID         int64
	TankID         int64
	FuelTypeID     int64
	Code           string
	CurrentReading decimal.Decimal
}

func (r *Repository) CreateNozzle(ctx context.Context, tenantID string, input NozzleCreateInput) (domain.Nozzle, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return domain.Nozzle{}, domain.Validationf("nozzle code is required")
	}
	if input.CurrentReading.IsNegative() {
		return domain.Nozzle{}, domain.Validationf("meter reading cannot be negative")
	}
	var nozzle domain.Nozzle
	err := r.pool.QueryRow(ctx, `
		INSERT INTO nozzles (tenant_id, pump_id, tank_id, fuel_type_id, code, current_reading)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING
			id, tenant_id, pump_id, tank_id, fuel_type_id, code,
			current_reading::text, created_at, updated_at
	`, tenantID, input.PumpID, input.TankID, input.FuelTypeID, code, input.CurrentReading).Scan(
		&nozzle.ID, &nozzle.TenantID, &nozzle.PumpID, &nozzle.TankID, &nozzle.FuelTypeID,
		&nozzle.Code, &nozzle.CurrentReading, &nozzle.CreatedAt, &nozzle.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_nozzles_tenant_code") {
			return domain.Nozzle{}, domain.Conflictf("nozzle code %q already exists", code)
		}
		return domain.Nozzle{}, fmt.Errorf("create nozzle: %w", err)
	}
	return nozzle, nil
}

type OpenShiftInput struct {
	WorkerID         string
	WorkerName       string
	PumpID           int64
	ShiftDate        time.Time
	OpeningOverrides map[int64]decimal.Decimal // nozzle id -> explicit opening reading
	Actor            *string
}

type openNozzleState struct {
	id             int64
	tankID         int64
	fuelTypeID     int64
	code           string
	currentReading decimal.Decimal
}

// OpenShift creates an active shift and one reading row per nozzle on the
// pump, all in one transaction: worker and nozzle exclusivity are checked
// against freshly-read state, the current rate is snapshotted per nozzle, and
// each nozzle meter is advanced to its opening value. The partial unique
// indexes back the same rules at the store, so the loser of a race surfaces as
// a conflict rather than a second success.
func (r *Repository) OpenShift(ctx context.Context, tenantID string, input OpenShiftInput) (*domain.Shift, error) {
	workerID := strings.TrimSpace(input.WorkerID)
	if workerID == "" {
		return nil, domain.Validationf("worker_id is required")
	}
	workerName := strings.TrimSpace(input.WorkerName)
	if workerName == "" {
		workerName = workerID
	}
	shiftDate := input.ShiftDate
	if shiftDate.IsZero() {
		shiftDate = time.Now().UTC()
	}

	reference := uuid.New()
	var (
		shift        *domain.Shift
		raceLostNozz int64
	)
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var pumpCode string
		err := tx.QueryRow(ctx,
			"SELECT code FROM pumps WHERE id = $1 AND tenant_id = $2",
			input.PumpID, tenantID,
		).Scan(&pumpCode)
		if err != nil {
			return notFoundOr(err, fmt.Sprintf("load pump %d", input.PumpID))
		}

		nozzles, err := lockPumpNozzles(ctx, tx, tenantID, input.PumpID)
		if err != nil {
			return err
		}
		if len(nozzles) == 0 {
			return domain.Validationf("pump %s has no nozzles", pumpCode)
		}
		onPump := make(map[int64]bool, len(nozzles))
		for _, nozzle := range nozzles {
			onPump[nozzle.id] = true
		}
		for nozzleID := range input.OpeningOverrides {
			if !onPump[nozzleID] {
				return domain.Validationf("nozzle %d is not on pump %s", nozzleID, pumpCode)
			}
		}

		if err := guardWorkerFree(ctx, tx, tenantID, workerID); err != nil {
			return err
		}

		created := domain.Shift{
			TenantID:   tenantID,
			Reference:  reference,
			WorkerID:   workerID,
			WorkerName: workerName,
			PumpID:     input.PumpID,
			ShiftDate:  shiftDate,
			Status:     domain.ShiftActive,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO shifts (tenant_id, reference, worker_id, worker_name, pump_id, shift_date)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, started_at
		`, tenantID, reference, workerID, workerName, input.PumpID, shiftDate).Scan(&created.ID, &created.StartedAt)
		if err != nil {
			if isUniqueViolation(err, "uq_shifts_worker_active") {
				return &domain.ConflictError{Msg: fmt.Sprintf("worker %s already has an active shift", workerID)}
			}
			return fmt.Errorf("insert shift: %w", err)
		}

		for _, nozzle := range nozzles {
			if err := guardNozzleFree(ctx, tx, nozzle.id, nozzle.code); err != nil {
				return err
			}

			opening := nozzle.currentReading
			if override, ok := input.OpeningOverrides[nozzle.id]; ok {
				if override.LessThan(nozzle.currentReading) {
					return domain.Validationf(
						"opening reading %s for nozzle %s is below its meter value %s",
						override.String(), nozzle.code, nozzle.currentReading.String(),
					)
				}
				opening = override
			}

			rate, err := currentRate(ctx, tx, tenantID, nozzle.fuelTypeID)
			if err != nil {
				if errors.Is(err, domain.ErrNoCurrentRate) {
					return domain.Validationf("nozzle %s has no current fuel rate", nozzle.code)
				}
				return err
			}

			reading := domain.NozzleReading{
				ShiftID:        created.ID,
				NozzleID:       nozzle.id,
				OpeningReading: opening,
				RateAtShift:    rate,
			}
			err = tx.QueryRow(ctx, `
				INSERT INTO nozzle_readings (shift_id, nozzle_id, opening_reading, rate_at_shift)
				VALUES ($1, $2, $3, $4)
				RETURNING id
			`, created.ID, nozzle.id, opening, rate).Scan(&reading.ID)
			if err != nil {
				if isUniqueViolation(err, "uq_readings_open_nozzle") {
					// The failed insert leaves the transaction aborted; the
					// holder is looked up on the pool after rollback.
					raceLostNozz = nozzle.id
					return domain.Conflictf("nozzle %s is attached to an active shift", nozzle.code)
				}
				return fmt.Errorf("insert reading for nozzle %s: %w", nozzle.code, err)
			}

			if _, err := tx.Exec(ctx, `
				UPDATE nozzles SET current_reading = $2, updated_at = NOW() WHERE id = $1
			`, nozzle.id, opening); err != nil {
				return fmt.Errorf("advance meter for nozzle %s: %w", nozzle.code, err)
			}
			created.Readings = append(created.Readings, reading)
		}

		shift = &created
		return nil
	})
	if err != nil {
		var conflict *domain.ConflictError
		if raceLostNozz != 0 && errors.As(err, &conflict) && conflict.HeldBy == "" {
			if holder, holderErr := nozzleHolder(ctx, r.pool, raceLostNozz); holderErr == nil {
				conflict.HeldBy = holder
			}
		}
		return nil, err
	}
	return shift, nil
}

func lockPumpNozzles(ctx context.Context, tx pgx.Tx, tenantID string, pumpID int64) ([]openNozzleState, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, tank_id, fuel_type_id, code, current_reading::text
		FROM nozzles
		WHERE tenant_id = $1 AND pump_id = $2
		ORDER BY id ASC
		FOR UPDATE
	`, tenantID, pumpID)
	if err != nil {
		return nil, fmt.Errorf("lock nozzles for pump %d: %w", pumpID, err)
	}
	defer rows.Close()

	nozzles := make([]openNozzleState, 0, 4)
	for rows.Next() {
		var n openNozzleState
		if err := rows.Scan(&n.id, &n.tankID, &n.fuelTypeID, &n.code, &n.currentReading); err != nil {
			return nil, fmt.Errorf("scan nozzle: %w", err)
		}
		nozzles = append(nozzles, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nozzles: %w", err)
	}
	return nozzles, nil
}

func guardWorkerFree(ctx context.Context, tx pgx.Tx, tenantID, workerID string) error {
	var existing int64
	err := tx.QueryRow(ctx, `
		SELECT id FROM shifts
		WHERE tenant_id = $1 AND worker_id = $2 AND status = 'active'
	`, tenantID, workerID).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check worker %s: %w", workerID, err)
	}
	return &domain.ConflictError{Msg: fmt.Sprintf("worker %s already has an active shift", workerID)}
}

// nozzleHolder returns the worker name holding an open reading on the nozzle,
// or "" when the nozzle is free.
func nozzleHolder(ctx context.Context, q rowQuerier, nozzleID int64) (string, error) {
	var holder string
	err := q.QueryRow(ctx, `
		SELECT s.worker_name
		FROM nozzle_readings nr
		JOIN shifts s ON s.id = nr.shift_id
		WHERE nr.nozzle_id = $1 AND nr.closing_reading IS NULL AND s.status = 'active'
	`, nozzleID).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return holder, nil
}

func guardNozzleFree(ctx context.Context, tx pgx.Tx, nozzleID int64, nozzleCode string) error {
	holder, err := nozzleHolder(ctx, tx, nozzleID)
	if err != nil {
		return fmt.Errorf("check nozzle %s: %w", nozzleCode, err)
	}
	if holder == "" {
		return nil
	}
	return &domain.ConflictError{
		Msg:    fmt.Sprintf("nozzle %s is attached to an active shift", nozzleCode),
		HeldBy: holder,
	}
}

type CloseShiftInput struct {
	ShiftID         int64
	ClosingReadings map[int64]decimal.Decimal // nozzle id -> closing reading
	CashCollected   decimal.Decimal
	CreditSales     decimal.Decimal
	DigitalPayments decimal.Decimal
	Borrowing       decimal.Decimal
	Notes           *string
	Actor           *string
}

type closeReadingState struct {
	reading    domain.NozzleReading
	tankID     int64
	nozzleCode string
}

// CloseShift terminates an active shift atomically: every reading gets its
// closing value validated and its sold quantity priced at the snapshotted
// rate, nozzle meters advance, totals and variance land on the shift, each
// nozzle's tank is debited through the dispensing path, and the status flips
// to closed. A shift that is already closed fails without re-applying totals;
// any validation failure leaves the shift untouched.
func (r *Repository) CloseShift(ctx context.Context, tenantID string, input CloseShiftInput) (*domain.Shift, error) {
	for _, declared := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"cash_collected", input.CashCollected},
		{"credit_sales", input.CreditSales},
		{"digital_payments", input.DigitalPayments},
		{"borrowing", input.Borrowing},
	} {
		if declared.value.IsNegative() {
			return nil, domain.Validationf("%s cannot be negative", declared.name)
		}
	}

	dispenseRefs := map[int64]uuid.UUID{}
	var closed *domain.Shift
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		shift, err := lockShift(ctx, tx, tenantID, input.ShiftID)
		if err != nil {
			return err
		}
		if shift.Status == domain.ShiftClosed {
			return domain.Conflictf("shift %d is already closed", shift.ID)
		}

		states, err := lockShiftReadings(ctx, tx, shift.ID)
		if err != nil {
			return err
		}
		inShift := make(map[int64]bool, len(states))
		for _, state := range states {
			inShift[state.reading.NozzleID] = true
		}
		for nozzleID := range input.ClosingReadings {
			if !inShift[nozzleID] {
				return domain.Validationf("nozzle %d is not part of shift %d", nozzleID, shift.ID)
			}
		}

		totalSales := decimal.Zero
		for i, state := range states {
			closing, ok := input.ClosingReadings[state.reading.NozzleID]
			if !ok {
				return domain.Validationf("missing closing reading for nozzle %s", state.nozzleCode)
			}
			updated, err := closeReading(state.reading, closing)
			if err != nil {
				return err
			}
			states[i].reading = updated
			totalSales = totalSales.Add(updated.ExpectedAmount.Decimal)
		}

		for _, state := range states {
			if _, err := tx.Exec(ctx, `
				UPDATE nozzle_readings
				SET closing_reading = $2, quantity_sold = $3, expected_amount = $4
				WHERE id = $1
			`, state.reading.ID, state.reading.ClosingReading.Decimal,
				state.reading.QuantitySold.Decimal, state.reading.ExpectedAmount.Decimal,
			); err != nil {
				return fmt.Errorf("close reading for nozzle %s: %w", state.nozzleCode, err)
			}
			if _, err := tx.Exec(ctx, `
				UPDATE nozzles SET current_reading = $2, updated_at = NOW() WHERE id = $1
			`, state.reading.NozzleID, state.reading.ClosingReading.Decimal); err != nil {
				return fmt.Errorf("advance meter for nozzle %s: %w", state.nozzleCode, err)
			}
		}

		shiftVariance := variance(totalSales, input.CashCollected, input.CreditSales, input.DigitalPayments)

		itemized, err := sumShiftSales(ctx, tx, shift.ID)
		if err != nil {
			return err
		}
		if drift, exceeded := itemizedDrift(totalSales, itemized, r.reconTolerancePct); exceeded {
			log.Printf("warn: shift %d itemized sales %s diverge from meter total %s by %s (tolerance %d%%)",
				shift.ID, itemized.String(), totalSales.String(), drift.String(), r.reconTolerancePct)
		}

		// Tank debits ride in the same transaction so meter truth and tank
		// stock cannot silently diverge.
		for _, state := range states {
			qty := state.reading.QuantitySold.Decimal
			if qty.IsZero() {
				continue
			}
			ref, ok := dispenseRefs[state.reading.NozzleID]
			if !ok {
				ref = uuid.New()
				dispenseRefs[state.reading.NozzleID] = ref
			}
			shiftID := shift.ID
			if _, err := applyStockMovementTx(ctx, tx, tenantID, state.tankID, stockMovement{
				reference:  ref,
				entryType:  domain.EntryStockOut,
				quantity:   qty.Neg(),
				shiftID:    &shiftID,
				recordedBy: input.Actor,
			}); err != nil {
				return fmt.Errorf("debit tank %d for nozzle %s: %w", state.tankID, state.nozzleCode, err)
			}
		}

		var endedAt time.Time
		err = tx.QueryRow(ctx, `
			UPDATE shifts
			SET
				status = 'closed',
				ended_at = NOW(),
				total_sales = $2,
				cash_collected = $3,
				credit_sales = $4,
				digital_payments = $5,
				borrowing = $6,
				variance = $7,
				notes = COALESCE($8, notes)
			WHERE id = $1
			RETURNING ended_at
		`, shift.ID, totalSales, input.CashCollected, input.CreditSales,
			input.DigitalPayments, input.Borrowing, shiftVariance, input.Notes,
		).Scan(&endedAt)
		if err != nil {
			return fmt.Errorf("close shift %d: %w", shift.ID, err)
		}

		shift.Status = domain.ShiftClosed
		shift.EndedAt = &endedAt
		shift.TotalSales = totalSales
		shift.CashCollected = input.CashCollected
		shift.CreditSales = input.CreditSales
		shift.DigitalPayments = input.DigitalPayments
		shift.Borrowing = input.Borrowing
		shift.Variance = shiftVariance
		if input.Notes != nil {
			shift.Notes = input.Notes
		}
		for _, state := range states {
			shift.Readings = append(shift.Readings, state.reading)
		}
		closed = shift
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func lockShift(ctx context.Context, tx pgx.Tx, tenantID string, shiftID int64) (*domain.Shift, error) {
	var shift domain.Shift
	err := tx.QueryRow(ctx, `
		SELECT
			id, tenant_id, reference, worker_id, worker_name, pump_id,
			shift_date, started_at, ended_at, status,
			total_sales::text, cash_collected::text, credit_sales::text,
			digital_payments::text, borrowing::text, variance::text, notes
		FROM shifts
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE
	`, shiftID, tenantID).Scan(
		&shift.ID, &shift.TenantID, &shift.Reference, &shift.WorkerID, &shift.WorkerName,
		&shift.PumpID, &shift.ShiftDate, &shift.StartedAt, &shift.EndedAt, &shift.Status,
		&shift.TotalSales, &shift.CashCollected, &shift.CreditSales,
		&shift.DigitalPayments, &shift.Borrowing, &shift.Variance, &shift.Notes,
	)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("lock shift %d", shiftID))
	}
	return &shift, nil
}

func lockShiftReadings(ctx context.Context, tx pgx.Tx, shiftID int64) ([]closeReadingState, error) {
	rows, err := tx.Query(ctx, `
		SELECT
			nr.id, nr.shift_id, nr.nozzle_id,
			nr.opening_reading::text, nr.closing_reading::text,
			nr.quantity_sold::text, nr.rate_at_shift::text, nr.expected_amount::text,
			n.tank_id, n.code
		FROM nozzle_readings nr
		JOIN nozzles n ON n.id = nr.nozzle_id
		WHERE nr.shift_id = $1
		ORDER BY nr.id ASC
		FOR UPDATE OF nr, n
	`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("lock readings for shift %d: %w", shiftID, err)
	}
	defer rows.Close()

	states := make([]closeReadingState, 0, 4)
	for rows.Next() {
		var state closeReadingState
		if err := rows.Scan(
			&state.reading.ID, &state.reading.ShiftID, &state.reading.NozzleID,
			&state.reading.OpeningReading, &state.reading.ClosingReading,
			&state.reading.QuantitySold, &state.reading.RateAtShift, &state.reading.ExpectedAmount,
			&state.tankID, &state.nozzleCode,
		); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}
	return states, nil
}

func sumShiftSales(ctx context.Context, tx pgx.Tx, shiftID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM fuel_sales
		WHERE shift_id = $1 AND NOT voided
	`, shiftID).Scan(&sum)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("sum itemized sales for shift %d: %w", shiftID, err)
	}
	return sum, nil
}
