package excel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildSheet(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row %d: %v", i+1, err)
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return &buf
}

func TestParseDeliveryRows(t *testing.T) {
	buf := buildSheet(t, [][]any{
		{"Tank Code", "Quantity", "Unit Price", "Vendor", "Invoice"},
		{"T1", "5000", "88.25", "Acme Fuels", "INV-100"},
		{"T2", "1200.5", "", "", ""},
	})

	rows, err := ParseDeliveryRows(buf)
	if err != nil {
		t.Fatalf("ParseDeliveryRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	first := rows[0]
	if first.TankCode != "T1" {
		t.Errorf("tank code = %q, want T1", first.TankCode)
	}
	if first.SheetRow != 2 {
		t.Errorf("sheet row = %d, want 2", first.SheetRow)
	}
	if first.Quantity.String() != "5000" {
		t.Errorf("quantity = %s, want 5000", first.Quantity)
	}
	if !first.UnitPrice.Valid || first.UnitPrice.Decimal.String() != "88.25" {
		t.Errorf("unit price = %v, want 88.25", first.UnitPrice)
	}
	if first.Vendor == nil || *first.Vendor != "Acme Fuels" {
		t.Errorf("vendor = %v, want Acme Fuels", first.Vendor)
	}
	if first.Reference == nil || *first.Reference != "INV-100" {
		t.Errorf("reference = %v, want INV-100", first.Reference)
	}

	second := rows[1]
	if second.UnitPrice.Valid {
		t.Errorf("unit price should be null when the cell is empty")
	}
	if second.Vendor != nil || second.Reference != nil {
		t.Errorf("vendor and reference should be nil when empty")
	}
}

func TestParseDeliveryRowsHeaderAliases(t *testing.T) {
	buf := buildSheet(t, [][]any{
		{"tank", "litres", "price", "supplier"},
		{"T9", "300", "90", "Vendor X"},
	})

	rows, err := ParseDeliveryRows(buf)
	if err != nil {
		t.Fatalf("ParseDeliveryRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].TankCode != "T9" || rows[0].Quantity.String() != "300" {
		t.Errorf("aliased headers parsed wrong: %+v", rows[0])
	}
}

func TestParseDeliveryRowsSkipsEmptyTankCode(t *testing.T) {
	buf := buildSheet(t, [][]any{
		{"Tank Code", "Quantity"},
		{"", "999"},
		{"T1", "10"},
	})

	rows, err := ParseDeliveryRows(buf)
	if err != nil {
		t.Fatalf("ParseDeliveryRows: %v", err)
	}
	if len(rows) != 1 || rows[0].TankCode != "T1" {
		t.Fatalf("blank tank code row should be skipped, got %+v", rows)
	}
}

func TestParseDeliveryRowsMissingColumn(t *testing.T) {
	buf := buildSheet(t, [][]any{
		{"Tank Code", "Vendor"},
		{"T1", "Acme"},
	})

	_, err := ParseDeliveryRows(buf)
	if err == nil || !strings.Contains(err.Error(), "quantity") {
		t.Fatalf("expected missing quantity column error, got %v", err)
	}
}

func TestParseDeliveryRowsRejectsBadQuantity(t *testing.T) {
	cases := []struct {
		name string
		qty  string
	}{
		{"not a number", "abc"},
		{"zero", "0"},
		{"negative", "-40"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := buildSheet(t, [][]any{
				{"Tank Code", "Quantity"},
				{"T1", tc.qty},
			})
			if _, err := ParseDeliveryRows(buf); err == nil {
				t.Fatalf("quantity %q should be rejected", tc.qty)
			}
		})
	}
}
