package repository

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"fuelops/internal/domain"
)

type TankCreateInput struct {
	Code         string
	FuelTypeID   int64
	Capacity     decimal.Decimal
	MinimumLevel decimal.Decimal
}

func (r *Repository) CreateTank(ctx context.Context, tenantID string, input TankCreateInput) (domain.Tank, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return domain.Tank{}, domain.Validationf("tank code is required")
	}
	if !input.Capacity.IsPositive() {
		return domain.Tank{}, domain.Validationf("tank capacity must be positive")
	}
	if input.MinimumLevel.IsNegative() {
		return domain.Tank{}, domain.Validationf("minimum level cannot be negative")
	}

	var tank domain.Tank
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tanks (tenant_id, code, fuel_type_id, capacity, minimum_level)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING
			id, tenant_id, code, fuel_type_id,
			capacity::text, current_stock::text, minimum_level::text,
			is_active, created_at, updated_at
	`, tenantID, code, input.FuelTypeID, input.Capacity, input.MinimumLevel).Scan(
		&tank.ID, &tank.TenantID, &tank.Code, &tank.FuelTypeID,
		&tank.Capacity, &tank.CurrentStock, &tank.MinimumLevel,
		&tank.IsActive, &tank.CreatedAt, &tank.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_tanks_tenant_code") {
			return domain.Tank{}, domain.Conflictf("tank code %q already exists", code)
		}
		return domain.Tank{}, fmt.Errorf("create tank: %w", err)
	}
	return tank, nil
}

func (r *Repository) GetTank(ctx context.Context, tenantID string, tankID int64) (*domain.Tank, error) {
	var tank domain.Tank
	err := r.pool.QueryRow(ctx, `
		SELECT
			id, tenant_id, code, fuel_type_id,
			capacity::text, current_stock::text, minimum_level::text,
			is_active, created_at, updated_at
		FROM tanks
		WHERE id = $1 AND tenant_id = $2
	`, tankID, tenantID).Scan(
		&tank.ID, &tank.TenantID, &tank.Code, &tank.FuelTypeID,
		&tank.Capacity, &tank.CurrentStock, &tank.MinimumLevel,
		&tank.IsActive, &tank.CreatedAt, &tank.UpdatedAt,
	)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("get tank %d", tankID))
	}
	return &tank, nil
}

func (r *Repository) ListTanks(ctx context.Context, tenantID string, includeInactive bool) ([]domain.Tank, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			id, tenant_id, code, fuel_type_id,
			capacity::text, current_stock::text, minimum_level::text,
			is_active, created_at, updated_at
		FROM tanks
		WHERE tenant_id = $1 AND ($2 OR is_active)
		ORDER BY id ASC
	`, tenantID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("list tanks: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Tank, 0)
	for rows.Next() {
		var tank domain.Tank
		if err := rows.Scan(
			&tank.ID, &tank.TenantID, &tank.Code, &tank.FuelTypeID,
			&tank.Capacity, &tank.CurrentStock, &tank.MinimumLevel,
			&tank.IsActive, &tank.CreatedAt, &tank.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tank: %w", err)
		}
		items = append(items, tank)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tanks: %w", err)
	}
	return items, nil
}

// DeleteTank physically deletes a tank only while no stock entry references
// it; once the ledger has rows the delete degrades to an is-active flag flip.
// The returned bool reports whether the row was actually deleted.
func (r *Repository) DeleteTank(ctx context.Context, tenantID string, tankID int64) (bool, error) {
	deleted := false
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var locked int64
		err := tx.QueryRow(ctx, `
			SELECT id FROM tanks WHERE id = $1 AND tenant_id = $2 FOR UPDATE
		`, tankID, tenantID).Scan(&locked)
		if err != nil {
			return notFoundOr(err, fmt.Sprintf("load tank %d", tankID))
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM stock_entries WHERE tank_id = $1)",
			tankID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check tank references %d: %w", tankID, err)
		}

		if !exists {
			if _, err := tx.Exec(ctx, "DELETE FROM tanks WHERE id = $1", tankID); err != nil {
				return fmt.Errorf("delete tank %d: %w", tankID, err)
			}
			deleted = true
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE tanks SET is_active = FALSE, updated_at = NOW() WHERE id = $1
		`, tankID); err != nil {
			return fmt.Errorf("deactivate tank %d: %w", tankID, err)
		}
		return nil
	})
	return deleted, err
}

type StockInInput struct {
	TankID     int64
	Quantity   decimal.Decimal
	UnitPrice  decimal.NullDecimal
	Vendor     *string
	Notes      *string
	RecordedBy *string
}

func (r *Repository) StockIn(ctx context.Context, tenantID string, input StockInInput) (domain.StockEntry, error) {
	if !input.Quantity.IsPositive() {
		return domain.StockEntry{}, domain.Validationf("stock-in quantity must be positive")
	}
	if input.UnitPrice.Valid && !input.UnitPrice.Decimal.IsPositive() {
		return domain.StockEntry{}, domain.Validationf("unit price must be positive when given")
	}

	mv := stockMovement{
		reference:  uuid.New(),
		entryType:  domain.EntryStockIn,
		quantity:   input.Quantity,
		unitPrice:  input.UnitPrice,
		vendor:     input.Vendor,
		notes:      input.Notes,
		recordedBy: input.RecordedBy,
	}
	if input.UnitPrice.Valid {
		mv.totalAmount = decimal.NewNullDecimal(input.Quantity.Mul(input.UnitPrice.Decimal).Round(2))
	}

	var entry domain.StockEntry
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		entry, err = applyStockMovementTx(ctx, tx, tenantID, input.TankID, mv)
		return err
	})
	return entry, err
}

type AdjustmentInput struct {
	TankID     int64
	Quantity   decimal.Decimal
	Notes      string
	RecordedBy *string
}

func (r *Repository) Adjustment(ctx context.Context, tenantID string, input AdjustmentInput) (domain.StockEntry, error) {
	if input.Quantity.IsZero() {
		return domain.StockEntry{}, domain.Validationf("adjustment quantity cannot be zero")
	}
	notes := strings.TrimSpace(input.Notes)
	if notes == "" {
		return domain.StockEntry{}, domain.Validationf("adjustment reason is required")
	}

	mv := stockMovement{
		reference:  uuid.New(),
		entryType:  domain.EntryAdjustment,
		quantity:   input.Quantity,
		notes:      &notes,
		recordedBy: input.RecordedBy,
	}

	var entry domain.StockEntry
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		entry, err = applyStockMovementTx(ctx, tx, tenantID, input.TankID, mv)
		return err
	})
	return entry, err
}

type DispenseOutInput struct {
	TankID     int64
	Quantity   decimal.Decimal
	ShiftID    *int64
	SaleID     *int64
	RecordedBy *string
}

// StockOutFromDispensing debits a tank for fuel that already physically left
// it. The negative-stock bound does not apply here, but going negative is
// logged so the divergence is visible.
func (r *Repository) StockOutFromDispensing(ctx context.Context, tenantID string, input DispenseOutInput) (domain.StockEntry, error) {
	if !input.Quantity.IsPositive() {
		return domain.StockEntry{}, domain.Validationf("dispensed quantity must be positive")
	}

	var entry domain.StockEntry
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		entry, err = dispenseOutTx(ctx, tx, tenantID, input)
		return err
	})
	return entry, err
}

func dispenseOutTx(ctx context.Context, tx pgx.Tx, tenantID string, input DispenseOutInput) (domain.StockEntry, error) {
	mv := stockMovement{
		reference:  uuid.New(),
		entryType:  domain.EntryStockOut,
		quantity:   input.Quantity.Neg(),
		shiftID:    input.ShiftID,
		saleID:     input.SaleID,
		recordedBy: input.RecordedBy,
	}
	return applyStockMovementTx(ctx, tx, tenantID, input.TankID, mv)
}

type stockMovement struct {
	reference   uuid.UUID
	entryType   domain.EntryType
	quantity    decimal.Decimal // signed delta applied to current_stock
	unitPrice   decimal.NullDecimal
	totalAmount decimal.NullDecimal
	vendor      *string
	notes       *string
	recordedBy  *string
	shiftID     *int64
	saleID      *int64
}

// applyStockMovementTx is the single write path for the tank ledger: lock the
// tank, validate the bounds against the freshly-read stock, append exactly one
// entry and move current_stock to stock_after, all inside the caller's
// transaction.
func applyStockMovementTx(ctx context.Context, tx pgx.Tx, tenantID string, tankID int64, mv stockMovement) (domain.StockEntry, error) {
	var (
		code     string
		capacity decimal.Decimal
		before   decimal.Decimal
		isActive bool
	)
	err := tx.QueryRow(ctx, `
		SELECT code, capacity::text, current_stock::text, is_active
		FROM tanks
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE
	`, tankID, tenantID).Scan(&code, &capacity, &before, &isActive)
	if err != nil {
		return domain.StockEntry{}, notFoundOr(err, fmt.Sprintf("lock tank %d", tankID))
	}
	if !isActive {
		return domain.StockEntry{}, domain.Conflictf("tank %s is inactive", code)
	}

	after := before.Add(mv.quantity)
	if err := checkStockBounds(mv.entryType, after, capacity); err != nil {
		return domain.StockEntry{}, err
	}
	if mv.entryType == domain.EntryStockOut && after.IsNegative() {
		log.Printf("warn: tank %s stock is negative after dispensing: %s", code, after.String())
	}

	entry := domain.StockEntry{
		TankID:      tankID,
		Reference:   mv.reference,
		EntryType:   mv.entryType,
		Quantity:    mv.quantity,
		StockBefore: before,
		StockAfter:  after,
		UnitPrice:   mv.unitPrice,
		TotalAmount: mv.totalAmount,
		Vendor:      mv.vendor,
		ShiftID:     mv.shiftID,
		SaleID:      mv.saleID,
		Notes:       mv.notes,
		RecordedBy:  mv.recordedBy,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO stock_entries (
			tank_id, reference, entry_type, quantity, stock_before, stock_after,
			unit_price, total_amount, vendor, shift_id, sale_id, notes, recorded_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, entry_date
	`, tankID, mv.reference, mv.entryType, mv.quantity, before, after,
		mv.unitPrice, mv.totalAmount, mv.vendor, mv.shiftID, mv.saleID, mv.notes, mv.recordedBy,
	).Scan(&entry.ID, &entry.EntryDate)
	if err != nil {
		if isUniqueViolation(err, "stock_entries_reference_key") {
			// the previous attempt committed; the replay must not double-apply
			return domain.StockEntry{}, domain.Conflictf("stock movement %s already recorded", mv.reference)
		}
		return domain.StockEntry{}, fmt.Errorf("insert stock entry: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE tanks SET current_stock = $2, updated_at = NOW() WHERE id = $1
	`, tankID, after); err != nil {
		return domain.StockEntry{}, fmt.Errorf("update tank stock: %w", err)
	}
	return entry, nil
}

type StockHistoryFilter struct {
	TankID     *int64
	FuelTypeID *int64
	EntryType  *domain.EntryType
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

func (r *Repository) StockHistory(ctx context.Context, tenantID string, filter StockHistoryFilter) ([]domain.StockEntry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	conditions := []string{"t.tenant_id = $1"}
	args := []any{tenantID}
	index := 2
	if filter.TankID != nil {
		conditions = append(conditions, fmt.Sprintf("e.tank_id = $%d", index))
		args = append(args, *filter.TankID)
		index++
	}
	if filter.FuelTypeID != nil {
		conditions = append(conditions, fmt.Sprintf("t.fuel_type_id = $%d", index))
		args = append(args, *filter.FuelTypeID)
		index++
	}
	if filter.EntryType != nil {
		conditions = append(conditions, fmt.Sprintf("e.entry_type = $%d", index))
		args = append(args, *filter.EntryType)
		index++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("e.entry_date >= $%d", index))
		args = append(args, *filter.From)
		index++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("e.entry_date <= $%d", index))
		args = append(args, *filter.To)
		index++
	}

	query := fmt.Sprintf(`
		SELECT
			e.id, e.tank_id, e.reference, e.entry_type,
			e.quantity::text, e.stock_before::text, e.stock_after::text,
			e.unit_price::text, e.total_amount::text,
			e.vendor, e.shift_id, e.sale_id, e.notes, e.recorded_by, e.entry_date
		FROM stock_entries e
		JOIN tanks t ON t.id = e.tank_id
		WHERE %s
		ORDER BY e.id DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(conditions, " AND "), index, index+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stock history: %w", err)
	}
	defer rows.Close()

	items := make([]domain.StockEntry, 0, limit)
	for rows.Next() {
		entry, err := scanStockEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock history: %w", err)
	}
	return items, nil
}

func scanStockEntry(rows pgx.Rows) (domain.StockEntry, error) {
	var entry domain.StockEntry
	if err := rows.Scan(
		&entry.ID, &entry.TankID, &entry.Reference, &entry.EntryType,
		&entry.Quantity, &entry.StockBefore, &entry.StockAfter,
		&entry.UnitPrice, &entry.TotalAmount,
		&entry.Vendor, &entry.ShiftID, &entry.SaleID, &entry.Notes, &entry.RecordedBy, &entry.EntryDate,
	); err != nil {
		return domain.StockEntry{}, fmt.Errorf("scan stock entry: %w", err)
	}
	return entry, nil
}

// MovementReport aggregates the ledger per tank over a date range: opening
// balance before the first entry, totals per movement kind, and the closing
// balance after the last entry. Tanks with no movement in the range are
// omitted.
func (r *Repository) MovementReport(ctx context.Context, tenantID string, from, to time.Time) ([]domain.TankMovementSummary, error) {
	rows, err := r.pool.Query(ctx, `
		WITH ranged AS (
			SELECT
				e.tank_id,
				t.code,
				e.entry_type,
				e.quantity,
				e.stock_before,
				e.stock_after,
				ROW_NUMBER() OVER (PARTITION BY e.tank_id ORDER BY e.id ASC) AS rn_first,
				ROW_NUMBER() OVER (PARTITION BY e.tank_id ORDER BY e.id DESC) AS rn_last
			FROM stock_entries e
			JOIN tanks t ON t.id = e.tank_id
			WHERE t.tenant_id = $1 AND e.entry_date >= $2 AND e.entry_date <= $3
		)
		SELECT
			tank_id,
			code,
			MAX(CASE WHEN rn_first = 1 THEN stock_before END)::text AS opening_balance,
			COALESCE(SUM(CASE WHEN entry_type = 'stock_in' THEN quantity END), 0)::text AS total_in,
			COALESCE(SUM(CASE WHEN entry_type = 'stock_out' THEN quantity END), 0)::text AS total_out,
			COALESCE(SUM(CASE WHEN entry_type = 'adjustment' THEN quantity END), 0)::text AS total_adjustment,
			MAX(CASE WHEN rn_last = 1 THEN stock_after END)::text AS closing_balance,
			COUNT(*)::int AS entry_count
		FROM ranged
		GROUP BY tank_id, code
		ORDER BY code ASC
	`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("movement report: %w", err)
	}
	defer rows.Close()

	items := make([]domain.TankMovementSummary, 0)
	for rows.Next() {
		var row domain.TankMovementSummary
		if err := rows.Scan(
			&row.TankID, &row.TankCode, &row.OpeningBalance,
			&row.TotalIn, &row.TotalOut, &row.TotalAdjustment,
			&row.ClosingBalance, &row.EntryCount,
		); err != nil {
			return nil, fmt.Errorf("scan movement summary: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate movement report: %w", err)
	}
	return items, nil
}
