package excel

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"fuelops/internal/domain"
)

var headerAliases = map[string]string{
	"tank":       "tank_code",
	"tank code":  "tank_code",
	"tank id":    "tank_code",
	"quantity":   "quantity",
	"qty":        "quantity",
	"litres":     "quantity",
	"liters":     "quantity",
	"volume":     "quantity",
	"unit price": "unit_price",
	"price":      "unit_price",
	"rate":       "unit_price",
	"vendor":     "vendor",
	"supplier":   "vendor",
	"reference":  "reference",
	"invoice":    "reference",
	"invoice no": "reference",
}

// ParseDeliveryRows reads a fuel delivery sheet. The first sheet is used and
// the first row must be a header; rows with an empty tank code are skipped.
func ParseDeliveryRows(reader io.Reader) ([]domain.DeliveryImportRow, error) {
	file, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	colMap := mapColumns(rows[0])
	if _, ok := colMap["tank_code"]; !ok {
		return nil, fmt.Errorf("missing required column: tank_code")
	}
	if _, ok := colMap["quantity"]; !ok {
		return nil, fmt.Errorf("missing required column: quantity")
	}

	result := make([]domain.DeliveryImportRow, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		tankCode := strings.TrimSpace(readCell(cells, colMap["tank_code"]))
		if tankCode == "" {
			continue
		}

		qty, err := parseDecimal(readCell(cells, colMap["quantity"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid quantity: %w", index+1, err)
		}
		if !qty.IsPositive() {
			return nil, fmt.Errorf("row %d invalid quantity: must be positive", index+1)
		}

		var unitPrice decimal.NullDecimal
		if idx, ok := colMap["unit_price"]; ok {
			raw := strings.TrimSpace(readCell(cells, idx))
			if raw != "" {
				parsed, err := parseDecimal(raw)
				if err != nil {
					return nil, fmt.Errorf("row %d invalid unit_price: %w", index+1, err)
				}
				unitPrice = decimal.NewNullDecimal(parsed)
			}
		}

		var vendor *string
		if idx, ok := colMap["vendor"]; ok {
			value := strings.TrimSpace(readCell(cells, idx))
			if value != "" {
				vendor = &value
			}
		}

		var reference *string
		if idx, ok := colMap["reference"]; ok {
			value := strings.TrimSpace(readCell(cells, idx))
			if value != "" {
				reference = &value
			}
		}

		result = append(result, domain.DeliveryImportRow{
			SheetRow:  index + 1,
			TankCode:  tankCode,
			Quantity:  qty,
			UnitPrice: unitPrice,
			Vendor:    vendor,
			Reference: reference,
		})
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("excel file has no valid data rows")
	}
	return result, nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		canonical, ok := headerAliases[normalized]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

func readCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return decimal.Decimal{}, fmt.Errorf("value is empty")
	}
	parsed, err := decimal.NewFromString(strings.ReplaceAll(value, ",", ""))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a number")
	}
	return parsed, nil
}
