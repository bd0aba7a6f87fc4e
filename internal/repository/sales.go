package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"fuelops/internal/domain"
)

type RecordSaleInput struct {
	ShiftID       int64
	NozzleID      int64
	Quantity      decimal.Decimal
	PaymentMethod domain.PaymentMethod
	RecordedBy    *string
}

// RecordSale writes an itemized ticket against an active shift. The rate is
// always copied from the shift's reading snapshot for the nozzle; it is never
// looked up from the rate table, so later price changes cannot leak in.
func (r *Repository) RecordSale(ctx context.Context, tenantID string, input RecordSaleInput) (domain.FuelSale, error) {
	if !input.Quantity.IsPositive() {
		return domain.FuelSale{}, domain.Validationf("sale quantity must be positive")
	}
	switch input.PaymentMethod {
	case domain.PayCash, domain.PayCredit, domain.PayDigital:
	default:
		return domain.FuelSale{}, domain.Validationf("invalid payment method %q", input.PaymentMethod)
	}

	reference := uuid.New()
	var sale domain.FuelSale
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var status domain.ShiftStatus
		err := tx.QueryRow(ctx, `
			SELECT status FROM shifts WHERE id = $1 AND tenant_id = $2 FOR UPDATE
		`, input.ShiftID, tenantID).Scan(&status)
		if err != nil {
			return notFoundOr(err, fmt.Sprintf("load shift %d", input.ShiftID))
		}
		if status != domain.ShiftActive {
			return domain.Conflictf("shift %d is not active", input.ShiftID)
		}

		var rate decimal.Decimal
		err = tx.QueryRow(ctx, `
			SELECT rate_at_shift::text
			FROM nozzle_readings
			WHERE shift_id = $1 AND nozzle_id = $2
		`, input.ShiftID, input.NozzleID).Scan(&rate)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Validationf("nozzle %d is not part of shift %d", input.NozzleID, input.ShiftID)
		}
		if err != nil {
			return fmt.Errorf("load reading snapshot: %w", err)
		}

		amount := input.Quantity.Mul(rate).Round(2)
		sale = domain.FuelSale{
			ShiftID:       input.ShiftID,
			NozzleID:      input.NozzleID,
			Reference:     reference,
			Quantity:      input.Quantity,
			Rate:          rate,
			Amount:        amount,
			PaymentMethod: input.PaymentMethod,
			RecordedBy:    input.RecordedBy,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO fuel_sales (shift_id, nozzle_id, reference, quantity, rate, amount, payment_method, recorded_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at
		`, input.ShiftID, input.NozzleID, reference, input.Quantity, rate, amount,
			input.PaymentMethod, input.RecordedBy,
		).Scan(&sale.ID, &sale.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.FuelSale{}, err
	}
	return sale, nil
}

// VoidSale flags a ticket as voided. Voided tickets drop out of the itemized
// rollup; the row itself is kept for the audit trail. Only tickets on a still
// active shift can be voided, since reconciliation has already run after close.
func (r *Repository) VoidSale(ctx context.Context, tenantID string, saleID int64, reason string) (domain.FuelSale, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.FuelSale{}, domain.Validationf("void reason is required")
	}

	var sale domain.FuelSale
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var (
			voided      bool
			shiftStatus domain.ShiftStatus
		)
		err := tx.QueryRow(ctx, `
			SELECT fs.voided, s.status
			FROM fuel_sales fs
			JOIN shifts s ON s.id = fs.shift_id
			WHERE fs.id = $1 AND s.tenant_id = $2
			FOR UPDATE OF fs, s
		`, saleID, tenantID).Scan(&voided, &shiftStatus)
		if err != nil {
			return notFoundOr(err, fmt.Sprintf("load sale %d", saleID))
		}
		if voided {
			return domain.Conflictf("sale %d is already voided", saleID)
		}
		if shiftStatus != domain.ShiftActive {
			return domain.Conflictf("sale %d belongs to a closed shift", saleID)
		}

		row := tx.QueryRow(ctx, `
			UPDATE fuel_sales
			SET voided = TRUE, void_reason = $2, voided_at = NOW()
			WHERE id = $1
			RETURNING
				id, shift_id, nozzle_id, reference,
				quantity::text, rate::text, amount::text,
				payment_method, voided, void_reason, voided_at, recorded_by, created_at
		`, saleID, reason)
		if err := scanSaleRow(row, &sale); err != nil {
			return fmt.Errorf("void sale %d: %w", saleID, err)
		}
		return nil
	})
	if err != nil {
		return domain.FuelSale{}, err
	}
	return sale, nil
}

func (r *Repository) ListSales(ctx context.Context, tenantID string, shiftID int64, includeVoided bool) ([]domain.FuelSale, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			fs.id, fs.shift_id, fs.nozzle_id, fs.reference,
			fs.quantity::text, fs.rate::text, fs.amount::text,
			fs.payment_method, fs.voided, fs.void_reason, fs.voided_at, fs.recorded_by, fs.created_at
		FROM fuel_sales fs
		JOIN shifts s ON s.id = fs.shift_id
		WHERE s.tenant_id = $1 AND fs.shift_id = $2 AND ($3 OR NOT fs.voided)
		ORDER BY fs.id ASC
	`, tenantID, shiftID, includeVoided)
	if err != nil {
		return nil, fmt.Errorf("list sales for shift %d: %w", shiftID, err)
	}
	defer rows.Close()

	items := make([]domain.FuelSale, 0)
	for rows.Next() {
		var sale domain.FuelSale
		if err := scanSaleRow(rows, &sale); err != nil {
			return nil, err
		}
		items = append(items, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return items, nil
}

func scanSaleRow(row pgx.Row, sale *domain.FuelSale) error {
	if err := row.Scan(
		&sale.ID, &sale.ShiftID, &sale.NozzleID, &sale.Reference,
		&sale.Quantity, &sale.Rate, &sale.Amount,
		&sale.PaymentMethod, &sale.Voided, &sale.VoidReason, &sale.VoidedAt,
		&sale.RecordedBy, &sale.CreatedAt,
	); err != nil {
		return fmt.Errorf("scan sale: %w", err)
	}
	return nil
}
