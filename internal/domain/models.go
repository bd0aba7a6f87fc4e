package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ShiftStatus string

const (
	ShiftActive ShiftStatus = "active"
	ShiftClosed ShiftStatus = "closed"
)

type EntryType string

const (
	EntryStockIn    EntryType = "stock_in"
	EntryStockOut   EntryType = "stock_out"
	EntryAdjustment EntryType = "adjustment"
)

type PaymentMethod string

const (
	PayCash    PaymentMethod = "cash"
	PayCredit  PaymentMethod = "credit"
	PayDigital PaymentMethod = "digital"
)

type FuelType struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	CreatedAt time.Time `json:"created_at"`
}

type FuelRate struct {
	ID            int64           `json:"id"`
	TenantID      string          `json:"tenant_id"`
	FuelTypeID    int64           `json:"fuel_type_id"`
	Rate          decimal.Decimal `json:"rate"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
}

type Tank struct {
	ID           int64           `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Code         string          `json:"code"`
	FuelTypeID   int64           `json:"fuel_type_id"`
	Capacity     decimal.Decimal `json:"capacity"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	MinimumLevel decimal.Decimal `json:"minimum_level"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StockEntry is one append-only row in a tank's inventory ledger.
// Quantity is signed; StockAfter = StockBefore + Quantity always holds.
type StockEntry struct {
	ID          int64               `json:"id"`
	TankID      int64               `json:"tank_id"`
	Reference   uuid.UUID           `json:"reference"`
	EntryType   EntryType           `json:"entry_type"`
	Quantity    decimal.Decimal     `json:"quantity"`
	StockBefore decimal.Decimal     `json:"stock_before"`
	StockAfter  decimal.Decimal     `json:"stock_after"`
	UnitPrice   decimal.NullDecimal `json:"unit_price,omitempty"`
	TotalAmount decimal.NullDecimal `json:"total_amount,omitempty"`
	Vendor      *string             `json:"vendor,omitempty"`
	ShiftID     *int64              `json:"shift_id,omitempty"`
	SaleID      *int64              `json:"sale_id,omitempty"`
	Notes       *string             `json:"notes,omitempty"`
	RecordedBy  *string             `json:"recorded_by,omitempty"`
	EntryDate   time.Time           `json:"entry_date"`
}

type Pump struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// Nozzle.CurrentReading mirrors the latest ledger value for the nozzle's meter.
// It is written only inside the shift open/close transactions and never decreases.
type Nozzle struct {
	ID             int64           `json:"id"`
	TenantID       string          `json:"tenant_id"`
	PumpID         int64           `json:"pump_id"`
	TankID         int64           `json:"tank_id"`
	FuelTypeID     int64           `json:"fuel_type_id"`
	Code           string          `json:"code"`
	CurrentReading decimal.Decimal `json:"current_reading"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Shift struct {
	ID              int64           `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Reference       uuid.UUID       `json:"reference"`
	WorkerID        string          `json:"worker_id"`
	WorkerName      string          `json:"worker_name"`
	PumpID          int64           `json:"pump_id"`
	ShiftDate       time.Time       `json:"shift_date"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	Status          ShiftStatus     `json:"status"`
	TotalSales      decimal.Decimal `json:"total_sales"`
	CashCollected   decimal.Decimal `json:"cash_collected"`
	CreditSales     decimal.Decimal `json:"credit_sales"`
	DigitalPayments decimal.Decimal `json:"digital_payments"`
	Borrowing       decimal.Decimal `json:"borrowing"`
	Variance        decimal.Decimal `json:"variance"`
	Notes           *string         `json:"notes,omitempty"`
	Readings        []NozzleReading `json:"readings,omitempty"`
}

// NozzleReading pairs the opening and closing meter values for one nozzle
// within one shift. RateAtShift is snapshotted at open and never recomputed.
type NozzleReading struct {
	ID             int64               `json:"id"`
	ShiftID        int64               `json:"shift_id"`
	NozzleID       int64               `json:"nozzle_id"`
	OpeningReading decimal.Decimal     `json:"opening_reading"`
	ClosingReading decimal.NullDecimal `json:"closing_reading,omitempty"`
	QuantitySold   decimal.NullDecimal `json:"quantity_sold,omitempty"`
	RateAtShift    decimal.Decimal     `json:"rate_at_shift"`
	ExpectedAmount decimal.NullDecimal `json:"expected_amount,omitempty"`
}

type FuelSale struct {
	ID            int64           `json:"id"`
	ShiftID       int64           `json:"shift_id"`
	NozzleID      int64           `json:"nozzle_id"`
	Reference     uuid.UUID       `json:"reference"`
	Quantity      decimal.Decimal `json:"quantity"`
	Rate          decimal.Decimal `json:"rate"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Voided        bool            `json:"voided"`
	VoidReason    *string         `json:"void_reason,omitempty"`
	VoidedAt      *time.Time      `json:"voided_at,omitempty"`
	RecordedBy    *string         `json:"recorded_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ActionEntry struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ActionType string    `json:"action_type"`
	Title      string    `json:"title"`
	Details    string    `json:"details"`
	Actor      *string   `json:"actor,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type TankMovementSummary struct {
	TankID          int64           `json:"tank_id"`
	TankCode        string          `json:"tank_code"`
	OpeningBalance  decimal.Decimal `json:"opening_balance"`
	TotalIn         decimal.Decimal `json:"total_in"`
	TotalOut        decimal.Decimal `json:"total_out"`
	TotalAdjustment decimal.Decimal `json:"total_adjustment"`
	ClosingBalance  decimal.Decimal `json:"closing_balance"`
	EntryCount      int             `json:"entry_count"`
}

// DeliveryImportRow is one parsed line of a fuel delivery spreadsheet.
type DeliveryImportRow struct {
	SheetRow  int
	TankCode  string
	Quantity  decimal.Decimal
	UnitPrice decimal.NullDecimal
	Vendor    *string
	Reference *string
}
