package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fuelops/internal/domain"
	"fuelops/internal/excel"
	"fuelops/internal/repository"
	"fuelops/internal/service"
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type createFuelTypeRequest struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

func (h *Handler) CreateFuelType(w http.ResponseWriter, r *http.Request) {
	var req createFuelTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.svc.CreateFuelType(r.Context(), tenantFrom(r), req.Name, req.Unit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListFuelTypes(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListFuelTypes(r.Context(), tenantFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type setRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

func (h *Handler) SetRate(w http.ResponseWriter, r *http.Request) {
	fuelTypeID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req setRateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.svc.SetRate(r.Context(), tenantFrom(r), fuelTypeID, req.Rate, actorFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) CurrentRate(w http.ResponseWriter, r *http.Request) {
	fuelTypeID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rate, err := h.svc.CurrentRate(r.Context(), tenantFrom(r), fuelTypeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fuel_type_id": fuelTypeID, "rate": rate})
}

type createPumpRequest struct {
	Code string `json:"code"`
}

func (h *Handler) CreatePump(w http.ResponseWriter, r *http.Request) {
	var req createPumpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.svc.CreatePump(r.Context(), tenantFrom(r), req.Code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type createNozzleRequest struct {
	PumpID         int64           `json:"pump_id"`
	TankID         int64           `json:"tank_id"`
	FuelTypeID     int64           `json:"fuel_type_id"`
	Code           string          `json:"code"`
	CurrentReading decimal.Decimal `json:"current_reading"`
}

func (h *Handler) CreateNozzle(w http.ResponseWriter, r *http.Request) {
	var req createNozzleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.svc.CreateNozzle(r.Context(), tenantFrom(r), repository.NozzleCreateInput{
		PumpID:         req.PumpID,
		TankID:         req.TankID,
		FuelTypeID:     req.FuelTypeID,
		Code:           req.Code,
		CurrentReading: req.CurrentReading,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type openShiftRequest struct {
	WorkerID         string                    `json:"worker_id"`
	WorkerName       string                    `json:"worker_name"`
	PumpID           int64                     `json:"pump_id"`
	ShiftDate        string                    `json:"shift_date"`
	OpeningOverrides map[int64]decimal.Decimal `json:"opening_overrides"`
}

func (h *Handler) OpenShift(w http.ResponseWriter, r *http.Request) {
	var req openShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shiftDate := time.Now().UTC()
	if strings.TrimSpace(req.ShiftDate) != "" {
		parsed, err := parseRequiredTime(req.ShiftDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid shift_date")
			return
		}
		shiftDate = *parsed
	}
	shift, err := h.svc.OpenShift(r.Context(), tenantFrom(r), repository.OpenShiftInput{
		WorkerID:         req.WorkerID,
		WorkerName:       req.WorkerName,
		PumpID:           req.PumpID,
		ShiftDate:        shiftDate,
		OpeningOverrides: req.OpeningOverrides,
		Actor:            actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

type closeShiftRequest struct {
	ClosingReadings map[int64]decimal.Decimal `json:"closing_readings"`
	CashCollected   decimal.Decimal           `json:"cash_collected"`
	CreditSales     decimal.Decimal           `json:"credit_sales"`
	DigitalPayments decimal.Decimal           `json:"digital_payments"`
	Borrowing       decimal.Decimal           `json:"borrowing"`
	Notes           *string                   `json:"notes"`
}

func (h *Handler) CloseShift(w http.ResponseWriter, r *http.Request) {
	shiftID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req closeShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shift, err := h.svc.CloseShift(r.Context(), tenantFrom(r), repository.CloseShiftInput{
		ShiftID:         shiftID,
		ClosingReadings: req.ClosingReadings,
		CashCollected:   req.CashCollected,
		CreditSales:     req.CreditSales,
		DigitalPayments: req.DigitalPayments,
		Borrowing:       req.Borrowing,
		Notes:           req.Notes,
		Actor:           actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (h *Handler) GetShift(w http.ResponseWriter, r *http.Request) {
	shiftID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shift, err := h.svc.GetShift(r.Context(), tenantFrom(r), shiftID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "shift not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (h *Handler) ActiveShift(w http.ResponseWriter, r *http.Request) {
	shift, err := h.svc.ActiveShiftForWorker(r.Context(), tenantFrom(r), r.URL.Query().Get("worker_id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no active shift for worker")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (h *Handler) ListShifts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalInt(query.Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(query.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.ListShifts(r.Context(), tenantFrom(r), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type recordSaleRequest struct {
	NozzleID      int64           `json:"nozzle_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	PaymentMethod string          `json:"payment_method"`
}

func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	shiftID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req recordSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sale, err := h.svc.RecordSale(r.Context(), tenantFrom(r), repository.RecordSaleInput{
		ShiftID:       shiftID,
		NozzleID:      req.NozzleID,
		Quantity:      req.Quantity,
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		RecordedBy:    actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	shiftID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	includeVoided := false
	if raw := strings.TrimSpace(r.URL.Query().Get("include_voided")); raw != "" {
		includeVoided, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_voided must be true or false")
			return
		}
	}
	items, err := h.svc.ListSales(r.Context(), tenantFrom(r), shiftID, includeVoided)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type voidSaleRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) VoidSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req voidSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sale, err := h.svc.VoidSale(r.Context(), tenantFrom(r), saleID, req.Reason, actorFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

type createTankRequest struct {
	Code         string          `json:"code"`
	FuelTypeID   int64           `json:"fuel_type_id"`
	Capacity     decimal.Decimal `json:"capacity"`
	MinimumLevel decimal.Decimal `json:"minimum_level"`
}

func (h *Handler) CreateTank(w http.ResponseWriter, r *http.Request) {
	var req createTankRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.svc.CreateTank(r.Context(), tenantFrom(r), repository.TankCreateInput{
		Code:         req.Code,
		FuelTypeID:   req.FuelTypeID,
		Capacity:     req.Capacity,
		MinimumLevel: req.MinimumLevel,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) GetTank(w http.ResponseWriter, r *http.Request) {
	tankID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tank, err := h.svc.GetTank(r.Context(), tenantFrom(r), tankID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "tank not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tank)
}

func (h *Handler) ListTanks(w http.ResponseWriter, r *http.Request) {
	includeInactive := false
	if raw := strings.TrimSpace(r.URL.Query().Get("include_inactive")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_inactive must be true or false")
			return
		}
		includeInactive = parsed
	}
	items, err := h.svc.ListTanks(r.Context(), tenantFrom(r), includeInactive)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) DeleteTank(w http.ResponseWriter, r *http.Request) {
	tankID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	deleted, err := h.svc.DeleteTank(r.Context(), tenantFrom(r), tankID, actorFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if deleted {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": false, "deactivated": true})
}

type stockInRequest struct {
	Quantity  decimal.Decimal     `json:"quantity"`
	UnitPrice decimal.NullDecimal `json:"unit_price"`
	Vendor    *string             `json:"vendor"`
	Notes     *string             `json:"notes"`
}

func (h *Handler) StockIn(w http.ResponseWriter, r *http.Request) {
	tankID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req stockInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.svc.StockIn(r.Context(), tenantFrom(r), repository.StockInInput{
		TankID:     tankID,
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		Vendor:     req.Vendor,
		Notes:      req.Notes,
		RecordedBy: actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type adjustmentRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Notes    string          `json:"notes"`
}

func (h *Handler) Adjustment(w http.ResponseWriter, r *http.Request) {
	tankID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req adjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.svc.Adjustment(r.Context(), tenantFrom(r), repository.AdjustmentInput{
		TankID:     tankID,
		Quantity:   req.Quantity,
		Notes:      req.Notes,
		RecordedBy: actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type dispenseRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	ShiftID  *int64          `json:"shift_id"`
	SaleID   *int64          `json:"sale_id"`
}

func (h *Handler) Dispense(w http.ResponseWriter, r *http.Request) {
	tankID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req dispenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.svc.StockOutFromDispensing(r.Context(), tenantFrom(r), repository.DispenseOutInput{
		TankID:     tankID,
		Quantity:   req.Quantity,
		ShiftID:    req.ShiftID,
		SaleID:     req.SaleID,
		RecordedBy: actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) StockHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalInt(query.Get("limit"), 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(query.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tankID, err := parseOptionalInt64(query.Get("tank_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fuelTypeID, err := parseOptionalInt64(query.Get("fuel_type_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseOptionalTime(query.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from time")
		return
	}
	to, err := parseOptionalTime(query.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to time")
		return
	}
	var entryType *domain.EntryType
	if raw := strings.TrimSpace(query.Get("entry_type")); raw != "" {
		et := domain.EntryType(strings.ToLower(raw))
		switch et {
		case domain.EntryStockIn, domain.EntryStockOut, domain.EntryAdjustment:
			entryType = &et
		default:
			writeError(w, http.StatusBadRequest, "entry_type must be stock_in, stock_out or adjustment")
			return
		}
	}
	items, err := h.svc.StockHistory(r.Context(), tenantFrom(r), repository.StockHistoryFilter{
		TankID:     tankID,
		FuelTypeID: fuelTypeID,
		EntryType:  entryType,
		From:       from,
		To:         to,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) MovementReport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := parseRequiredTime(query.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}
	to, err := parseRequiredTime(query.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}
	report, err := h.svc.MovementReport(r.Context(), tenantFrom(r), *from, *to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":  from,
		"to":    to,
		"tanks": report,
	})
}

func (h *Handler) ImportDeliveries(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	rows, err := excel.ParseDeliveryRows(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	applied, failures := h.svc.ImportDeliveries(r.Context(), tenantFrom(r), rows, actorFrom(r))

	writeJSON(w, http.StatusOK, map[string]any{
		"file_name":  header.Filename,
		"total_rows": len(rows),
		"applied":    applied,
		"failed":     len(failures),
		"failures":   failures,
	})
}

func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalInt(query.Get("limit"), 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(query.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.ListActions(r.Context(), tenantFrom(r), limit, offset, query.Get("search"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrNoCurrentRate):
		writeError(w, http.StatusUnprocessableEntity, "no current rate for fuel type")
	case errors.Is(err, domain.ErrCapacityExceeded):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNegativeStock):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func parseOptionalInt(raw string, defaultValue int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %s", raw)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("value cannot be negative")
	}
	return parsed, nil
}

func parseOptionalTime(raw string) (*time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			if layout == "2006-01-02" {
				utc := parsed.UTC()
				return &utc, nil
			}
			return &parsed, nil
		}
	}
	return nil, fmt.Errorf("invalid time")
}

func parseRequiredTime(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("time is required")
	}
	return parseOptionalTime(raw)
}

func parseOptionalInt64(raw string) (*int64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		return nil, fmt.Errorf("invalid id value: %s", raw)
	}
	return &parsed, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
