package billing

import (
	"io"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

const reportSheet = "Bills"

// WriteXLSX writes the report as a spreadsheet: one row per bill, then the totals.
func (rep Report) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return errors.Wrap(err, "naming sheet")
	}
	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	if err != nil {
		return errors.Wrap(err, "creating date style")
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return errors.Wrap(err, "creating money style")
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "creating header style")
	}

	sw, err := f.NewStreamWriter(reportSheet)
	if err != nil {
		return errors.Wrap(err, "creating stream writer")
	}
	_ = sw.SetColWidth(1, 1, 28) // Tenant
	_ = sw.SetColWidth(2, 3, 14) // Period, Due
	_ = sw.SetColWidth(4, 4, 12) // Status
	_ = sw.SetColWidth(5, 9, 14) // amounts

	header := []interface{}{"Tenant", "Period", "Due", "Status", "Rent", "Late fees", "Total", "Paid", "Balance"}
	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = excelize.Cell{StyleID: boldStyle, Value: h}
	}
	if err = sw.SetRow("A1", headerRow); err != nil {
		return errors.Wrap(err, "writing header")
	}

	money := func(v float64) excelize.Cell { return excelize.Cell{StyleID: moneyStyle, Value: v} }
	rowIdx := 2
	for _, r := range rep.Rows {
		tenant := r.TenantName
		if tenant == "" {
			tenant = r.TenantID
		}
		row := []interface{}{
			tenant,
			excelize.Cell{StyleID: dateStyle, Value: r.PeriodStart},
			excelize.Cell{StyleID: dateStyle, Value: r.DueDate},
			r.Status,
			money(r.Rent.Round(2).InexactFloat64()),
			money(r.LateFees.Round(2).InexactFloat64()),
			money(r.Total.Round(2).InexactFloat64()),
			money(r.Paid.Round(2).InexactFloat64()),
			money(r.Balance.Round(2).InexactFloat64()),
		}
		cell, _ := excelize.CoordinatesToCellName(1, rowIdx)
		if err = sw.SetRow(cell, row); err != nil {
			return errors.Wrap(err, "writing row")
		}
		rowIdx++
	}

	totals := []interface{}{
		excelize.Cell{StyleID: boldStyle, Value: "Total"},
		nil,
		nil,
		rep.Totals.Bills,
		money(rep.Totals.Rent.Round(2).InexactFloat64()),
		money(rep.Totals.LateFees.Round(2).InexactFloat64()),
		money(rep.Totals.Total.Round(2).InexactFloat64()),
		money(rep.Totals.Paid.Round(2).InexactFloat64()),
		money(rep.Totals.Balance.Round(2).InexactFloat64()),
	}
	cell, _ := excelize.CoordinatesToCellName(1, rowIdx)
	if err = sw.SetRow(cell, totals); err != nil {
		return errors.Wrap(err, "writing totals")
	}
	if err = sw.Flush(); err != nil {
		return errors.Wrap(err, "flushing sheet")
	}

	_, err = f.WriteTo(w)
	return err
}
