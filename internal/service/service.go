package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fuelops/internal/domain"
	"fuelops/internal/repository"
)

type Service struct {
	repo *repository.Repository
}

func New(repo *repository.Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateFuelType(ctx context.Context, tenantID, name, unit string) (domain.FuelType, error) {
	return s.repo.CreateFuelType(ctx, tenantID, name, unit)
}

func (s *Service) ListFuelTypes(ctx context.Context, tenantID string) ([]domain.FuelType, error) {
	return s.repo.ListFuelTypes(ctx, tenantID)
}

func (s *Service) SetRate(ctx context.Context, tenantID string, fuelTypeID int64, rate decimal.Decimal, actor *string) (domain.FuelRate, error) {
	created, err := s.repo.SetRate(ctx, tenantID, fuelTypeID, rate)
	if err != nil {
		return domain.FuelRate{}, err
	}
	s.logAction(ctx, tenantID, "rate_set",
		fmt.Sprintf("rate for fuel type %d set to %s", fuelTypeID, rate.String()), "", actor)
	return created, nil
}

func (s *Service) CurrentRate(ctx context.Context, tenantID string, fuelTypeID int64) (decimal.Decimal, error) {
	return s.repo.CurrentRate(ctx, tenantID, fuelTypeID)
}

func (s *Service) CreatePump(ctx context.Context, tenantID, code string) (domain.Pump, error) {
	return s.repo.CreatePump(ctx, tenantID, code)
}

func (s *Service) CreateNozzle(ctx context.Context, tenantID string, input repository.NozzleCreateInput) (domain.Nozzle, error) {
	return s.repo.CreateNozzle(ctx, tenantID, input)
}

func (s *Service) OpenShift(ctx context.Context, tenantID string, input repository.OpenShiftInput) (*domain.Shift, error) {
	shift, err := s.repo.OpenShift(ctx, tenantID, input)
	if err != nil {
		return nil, err
	}
	s.logAction(ctx, tenantID, "shift_open",
		fmt.Sprintf("shift %d opened by %s on pump %d", shift.ID, shift.WorkerID, shift.PumpID),
		fmt.Sprintf("reference=%s nozzles=%d", shift.Reference, len(shift.Readings)), input.Actor)
	return shift, nil
}

func (s *Service) CloseShift(ctx context.Context, tenantID string, input repository.CloseShiftInput) (*domain.Shift, error) {
	shift, err := s.repo.CloseShift(ctx, tenantID, input)
	if err != nil {
		return nil, err
	}
	s.logAction(ctx, tenantID, "shift_close",
		fmt.Sprintf("shift %d closed by %s", shift.ID, shift.WorkerID),
		fmt.Sprintf("total_sales=%s variance=%s", shift.TotalSales.String(), shift.Variance.String()), input.Actor)
	return shift, nil
}

func (s *Service) GetShift(ctx context.Context, tenantID string, shiftID int64) (*domain.Shift, error) {
	return s.repo.GetShift(ctx, tenantID, shiftID)
}

func (s *Service) ActiveShiftForWorker(ctx context.Context, tenantID, workerID string) (*domain.Shift, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, domain.Validationf("worker_id is required")
	}
	return s.repo.ActiveShiftForWorker(ctx, tenantID, workerID)
}

func (s *Service) ListShifts(ctx context.Context, tenantID string, limit, offset int) ([]domain.Shift, error) {
	return s.repo.ListShifts(ctx, tenantID, limit, offset)
}

func (s *Service) RecordSale(ctx context.Context, tenantID string, input repository.RecordSaleInput) (domain.FuelSale, error) {
	return s.repo.RecordSale(ctx, tenantID, input)
}

func (s *Service) VoidSale(ctx context.Context, tenantID string, saleID int64, reason string, actor *string) (domain.FuelSale, error) {
	sale, err := s.repo.VoidSale(ctx, tenantID, saleID, reason)
	if err != nil {
		return domain.FuelSale{}, err
	}
	s.logAction(ctx, tenantID, "sale_void",
		fmt.Sprintf("sale %d voided", sale.ID), reason, actor)
	return sale, nil
}

func (s *Service) ListSales(ctx context.Context, tenantID string, shiftID int64, includeVoided bool) ([]domain.FuelSale, error) {
	return s.repo.ListSales(ctx, tenantID, shiftID, includeVoided)
}

func (s *Service) CreateTank(ctx context.Context, tenantID string, input repository.TankCreateInput) (domain.Tank, error) {
	return s.repo.CreateTank(ctx, tenantID, input)
}

func (s *Service) GetTank(ctx context.Context, tenantID string, tankID int64) (*domain.Tank, error) {
	return s.repo.GetTank(ctx, tenantID, tankID)
}

func (s *Service) ListTanks(ctx context.Context, tenantID string, includeInactive bool) ([]domain.Tank, error) {
	return s.repo.ListTanks(ctx, tenantID, includeInactive)
}

func (s *Service) DeleteTank(ctx context.Context, tenantID string, tankID int64, actor *string) (bool, error) {
	deleted, err := s.repo.DeleteTank(ctx, tenantID, tankID)
	if err != nil {
		return false, err
	}
	verb := "deactivated"
	if deleted {
		verb = "deleted"
	}
	s.logAction(ctx, tenantID, "tank_delete", fmt.Sprintf("tank %d %s", tankID, verb), "", actor)
	return deleted, nil
}

func (s *Service) StockIn(ctx context.Context, tenantID string, input repository.StockInInput) (domain.StockEntry, error) {
	entry, err := s.repo.StockIn(ctx, tenantID, input)
	if err != nil {
		return domain.StockEntry{}, err
	}
	s.logAction(ctx, tenantID, "stock_in",
		fmt.Sprintf("tank %d received %s", entry.TankID, entry.Quantity.String()),
		fmt.Sprintf("reference=%s stock_after=%s", entry.Reference, entry.StockAfter.String()), input.RecordedBy)
	return entry, nil
}

func (s *Service) Adjustment(ctx context.Context, tenantID string, input repository.AdjustmentInput) (domain.StockEntry, error) {
	entry, err := s.repo.Adjustment(ctx, tenantID, input)
	if err != nil {
		return domain.StockEntry{}, err
	}
	s.logAction(ctx, tenantID, "stock_adjustment",
		fmt.Sprintf("tank %d adjusted by %s", entry.TankID, entry.Quantity.String()),
		input.Notes, input.RecordedBy)
	return entry, nil
}

func (s *Service) StockOutFromDispensing(ctx context.Context, tenantID string, input repository.DispenseOutInput) (domain.StockEntry, error) {
	return s.repo.StockOutFromDispensing(ctx, tenantID, input)
}

func (s *Service) StockHistory(ctx context.Context, tenantID string, filter repository.StockHistoryFilter) ([]domain.StockEntry, error) {
	return s.repo.StockHistory(ctx, tenantID, filter)
}

func (s *Service) MovementReport(ctx context.Context, tenantID string, from, to time.Time) ([]domain.TankMovementSummary, error) {
	if to.Before(from) {
		return nil, domain.Validationf("report range end is before start")
	}
	return s.repo.MovementReport(ctx, tenantID, from, to)
}

// ImportDeliveries applies parsed delivery rows as stock-in movements. Rows
// are applied independently; a failed row does not roll back the others, and
// every failure comes back keyed by its sheet row.
func (s *Service) ImportDeliveries(ctx context.Context, tenantID string, rows []domain.DeliveryImportRow, actor *string) (int, []string) {
	applied := 0
	failures := make([]string, 0)
	for _, row := range rows {
		tank, err := s.findTankByCode(ctx, tenantID, row.TankCode)
		if err != nil {
			failures = append(failures, fmt.Sprintf("row %d: tank %q: %v", row.SheetRow, row.TankCode, err))
			continue
		}
		input := repository.StockInInput{
			TankID:     tank.ID,
			Quantity:   row.Quantity,
			UnitPrice:  row.UnitPrice,
			Vendor:     row.Vendor,
			Notes:      row.Reference,
			RecordedBy: actor,
		}
		if _, err := s.StockIn(ctx, tenantID, input); err != nil {
			failures = append(failures, fmt.Sprintf("row %d: %v", row.SheetRow, err))
			continue
		}
		applied++
	}
	return applied, failures
}

func (s *Service) findTankByCode(ctx context.Context, tenantID, code string) (*domain.Tank, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.Validationf("tank code is required")
	}
	tanks, err := s.repo.ListTanks(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	for i := range tanks {
		if strings.EqualFold(tanks[i].Code, code) {
			return &tanks[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Service) ListActions(ctx context.Context, tenantID string, limit, offset int, search string) ([]domain.ActionEntry, error) {
	return s.repo.ListActions(ctx, tenantID, limit, offset, search)
}

// logAction records the audit trail for a mutating operation. Audit failures
// never fail the operation itself.
func (s *Service) logAction(ctx context.Context, tenantID, actionType, title, details string, actor *string) {
	if err := s.repo.LogAction(ctx, tenantID, actionType, title, details, actor); err != nil {
		log.Printf("warn: audit log failed for %s: %v", actionType, err)
	}
}
