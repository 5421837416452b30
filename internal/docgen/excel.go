package docgen

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"kalyn/backend/internal/domain"
)

// WriteOrderXLSX writes an order summary spreadsheet: one row per line plus
// a grand-total row, with display prices in the rupiah format.
func WriteOrderXLSX(w io.Writer, order *domain.DeliveryOrder) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"

	headers := []string{"No", "Label", "SKU", "Color", "Size", "Qty", "Unit Price", "Line Total"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
	}

	for i, line := range order.Lines {
		row := i + 2
		f.SetCellValue(sheet, "A"+fmt.Sprint(row), line.Index)
		f.SetCellValue(sheet, "B"+fmt.Sprint(row), line.Label)
		f.SetCellValue(sheet, "C"+fmt.Sprint(row), line.SKU)
		f.SetCellValue(sheet, "D"+fmt.Sprint(row), line.Color)
		f.SetCellValue(sheet, "E"+fmt.Sprint(row), line.Size)
		f.SetCellValue(sheet, "F"+fmt.Sprint(row), line.Quantity)
		f.SetCellValue(sheet, "G"+fmt.Sprint(row), line.UnitPriceDisplay)
		f.SetCellValue(sheet, "H"+fmt.Sprint(row), line.LineTotalDisplay)
	}

	totalRow := len(order.Lines) + 2
	f.SetCellValue(sheet, "G"+fmt.Sprint(totalRow), "Total")
	f.SetCellValue(sheet, "H"+fmt.Sprint(totalRow), domain.FormatRupiah(order.GrandTotal))

	return f.Write(w)
}
