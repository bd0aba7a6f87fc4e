package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"fuelops/internal/domain"
)

func (r *Repository) CreateFuelType(ctx context.Context, tenantID, name, unit string) (domain.FuelType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.FuelType{}, domain.Validationf("fuel type name is required")
	}
	if strings.TrimSpace(unit) == "" {
		unit = "litre"
	}

	var ft domain.FuelType
	err := r.pool.QueryRow(ctx, `
		INSERT INTO fuel_types (tenant_id, name, unit)
		VALUES ($1, $2, $3)
		RETURNING id, tenant_id, name, unit, created_at
	`, tenantID, name, unit).Scan(&ft.ID, &ft.TenantID, &ft.Name, &ft.Unit, &ft.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "uq_fuel_types_tenant_name") {
			return domain.FuelType{}, domain.Conflictf("fuel type %q already exists", name)
		}
		return domain.FuelType{}, fmt.Errorf("create fuel type: %w", err)
	}
	return ft, nil
}

func (r *Repository) ListFuelTypes(ctx context.Context, tenantID string) ([]domain.FuelType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, unit, created_at
		FROM fuel_types
		WHERE tenant_id = $1
		ORDER BY id ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list fuel types: %w", err)
	}
	defer rows.Close()

	items := make([]domain.FuelType, 0)
	for rows.Next() {
		var ft domain.FuelType
		if err := rows.Scan(&ft.ID, &ft.TenantID, &ft.Name, &ft.Unit, &ft.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fuel type: %w", err)
		}
		items = append(items, ft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fuel types: %w", err)
	}
	return items, nil
}

// SetRate closes the currently open rate for the fuel type (if any) and opens
// the new one, in one transaction. Readings that already snapshotted the old
// rate keep it.
func (r *Repository) SetRate(ctx context.Context, tenantID string, fuelTypeID int64, rate decimal.Decimal) (domain.FuelRate, error) {
	if !rate.IsPositive() {
		return domain.FuelRate{}, domain.Validationf("rate must be positive")
	}

	var created domain.FuelRate
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM fuel_types WHERE id = $1 AND tenant_id = $2)",
			fuelTypeID, tenantID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check fuel type %d: %w", fuelTypeID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE fuel_rates
			SET effective_to = $3
			WHERE tenant_id = $1 AND fuel_type_id = $2 AND effective_to IS NULL
		`, tenantID, fuelTypeID, now); err != nil {
			return fmt.Errorf("close current rate: %w", err)
		}

		var effectiveTo *time.Time
		err := tx.QueryRow(ctx, `
			INSERT INTO fuel_rates (tenant_id, fuel_type_id, rate, effective_from)
			VALUES ($1, $2, $3, $4)
			RETURNING id, tenant_id, fuel_type_id, rate::text, effective_from, effective_to
		`, tenantID, fuelTypeID, rate, now).Scan(
			&created.ID, &created.TenantID, &created.FuelTypeID, &created.Rate,
			&created.EffectiveFrom, &effectiveTo,
		)
		if err != nil {
			return fmt.Errorf("insert rate: %w", err)
		}
		created.EffectiveTo = effectiveTo
		return nil
	})
	if err != nil {
		return domain.FuelRate{}, err
	}
	return created, nil
}

// CurrentRate resolves the single open-ended rate for a fuel type. It is what
// gets snapshotted onto a nozzle reading at shift open.
func (r *Repository) CurrentRate(ctx context.Context, tenantID string, fuelTypeID int64) (decimal.Decimal, error) {
	return currentRate(ctx, r.pool, tenantID, fuelTypeID)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func currentRate(ctx context.Context, q rowQuerier, tenantID string, fuelTypeID int64) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT rate::text
		FROM fuel_rates
		WHERE tenant_id = $1 AND fuel_type_id = $2 AND effective_to IS NULL
	`, tenantID, fuelTypeID).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, domain.ErrNoCurrentRate
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("resolve current rate for fuel type %d: %w", fuelTypeID, err)
	}
	return rate, nil
}
