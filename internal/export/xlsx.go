package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"itemprice/internal/models"
)

const historySheet = "History"

var historyHeader = []interface{}{"Added at", "Price", "Inflated", "Manual check", "Reports"}

// WritePriceHistory renders an item's trusted prices as an xlsx workbook.
func WritePriceHistory(w io.Writer, item models.CatalogItem, prices []models.TrustedPrice) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return eris.Wrap(err, "rename sheet")
	}
	if err := f.SetCellValue(historySheet, "A1", item.Name); err != nil {
		return eris.Wrap(err, "write title")
	}
	if err := f.SetSheetRow(historySheet, "A2", &historyHeader); err != nil {
		return eris.Wrap(err, "write header")
	}

	for i, p := range prices {
		manual := ""
		if p.ManualCheck != nil {
			manual = *p.ManualCheck
		}
		ids, err := p.ReportIDs()
		if err != nil {
			return err
		}
		row := []interface{}{
			p.AddedAt.UTC().Format("2006-01-02 15:04:05"),
			p.Price,
			p.Inflated(),
			manual,
			len(ids),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		if err != nil {
			return eris.Wrap(err, "cell name")
		}
		if err := f.SetSheetRow(historySheet, cell, &row); err != nil {
			return eris.Wrapf(err, "write row %d", i)
		}
	}

	if err := f.SetColWidth(historySheet, "A", "A", 22); err != nil {
		return eris.Wrap(err, "set column width")
	}
	if _, err := f.WriteTo(w); err != nil {
		return eris.Wrap(err, "write workbook")
	}
	return nil
}
