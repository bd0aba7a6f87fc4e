package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fuelops/internal/domain"
)

const shiftColumns = `
	id, tenant_id, reference, worker_id, worker_name, pump_id,
	shift_date, started_at, ended_at, status,
	total_sales::text, cash_collected::text, credit_sales::text,
	digital_payments::text, borrowing::text, variance::text, notes
`

func scanShift(row pgx.Row, shift *domain.Shift) error {
	return row.Scan(
		&shift.ID, &shift.TenantID, &shift.Reference, &shift.WorkerID, &shift.WorkerName,
		&shift.PumpID, &shift.ShiftDate, &shift.StartedAt, &shift.EndedAt, &shift.Status,
		&shift.TotalSales, &shift.CashCollected, &shift.CreditSales,
		&shift.DigitalPayments, &shift.Borrowing, &shift.Variance, &shift.Notes,
	)
}

func (r *Repository) GetShift(ctx context.Context, tenantID string, shiftID int64) (*domain.Shift, error) {
	var shift domain.Shift
	row := r.pool.QueryRow(ctx,
		"SELECT "+shiftColumns+" FROM shifts WHERE id = $1 AND tenant_id = $2",
		shiftID, tenantID,
	)
	if err := scanShift(row, &shift); err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("get shift %d", shiftID))
	}

	readings, err := r.shiftReadings(ctx, shift.ID)
	if err != nil {
		return nil, err
	}
	shift.Readings = readings
	return &shift, nil
}

// ActiveShiftForWorker returns the worker's current active shift with its
// readings, or ErrNotFound when the worker has none.
func (r *Repository) ActiveShiftForWorker(ctx context.Context, tenantID, workerID string) (*domain.Shift, error) {
	var shift domain.Shift
	row := r.pool.QueryRow(ctx,
		"SELECT "+shiftColumns+" FROM shifts WHERE tenant_id = $1 AND worker_id = $2 AND status = 'active'",
		tenantID, workerID,
	)
	if err := scanShift(row, &shift); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("active shift for worker %s: %w", workerID, err)
	}

	readings, err := r.shiftReadings(ctx, shift.ID)
	if err != nil {
		return nil, err
	}
	shift.Readings = readings
	return &shift, nil
}

func (r *Repository) shiftReadings(ctx context.Context, shiftID int64) ([]domain.NozzleReading, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			id, shift_id, nozzle_id,
			opening_reading::text, closing_reading::text,
			quantity_sold::text, rate_at_shift::text, expected_amount::text
		FROM nozzle_readings
		WHERE shift_id = $1
		ORDER BY id ASC
	`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("load readings for shift %d: %w", shiftID, err)
	}
	defer rows.Close()

	readings := make([]domain.NozzleReading, 0, 4)
	for rows.Next() {
		var reading domain.NozzleReading
		if err := rows.Scan(
			&reading.ID, &reading.ShiftID, &reading.NozzleID,
			&reading.OpeningReading, &reading.ClosingReading,
			&reading.QuantitySold, &reading.RateAtShift, &reading.ExpectedAmount,
		); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}
	return readings, nil
}

func (r *Repository) ListShifts(ctx context.Context, tenantID string, limit, offset int) ([]domain.Shift, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx,
		"SELECT "+shiftColumns+" FROM shifts WHERE tenant_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3",
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Shift, 0, limit)
	for rows.Next() {
		var shift domain.Shift
		if err := scanShift(rows, &shift); err != nil {
			return nil, fmt.Errorf("scan shift: %w", err)
		}
		items = append(items, shift)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shifts: %w", err)
	}
	return items, nil
}
