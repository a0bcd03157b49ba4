package main

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

// BuildOperationsWorkbook renders the dashboard listing as a spreadsheet for
// the export endpoint.
func BuildOperationsWorkbook(rows []models.OperacionRow) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Operaciones"

	index, err := f.NewSheet(sheet)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, err
	}

	headers := []string{"ID", "Fecha de Ingreso", "Cliente", "Monto", "Moneda", "Estado"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		rowNo := i + 2
		f.SetCellValue(sheet, "A"+fmt.Sprint(rowNo), row.ID)
		f.SetCellValue(sheet, "B"+fmt.Sprint(rowNo), row.FechaIngreso.Format(time.RFC3339))
		f.SetCellValue(sheet, "C"+fmt.Sprint(rowNo), row.Cliente)
		monto, _ := row.Monto.Float64()
		f.SetCellValue(sheet, "D"+fmt.Sprint(rowNo), monto)
		f.SetCellValue(sheet, "E"+fmt.Sprint(rowNo), string(row.Moneda))
		f.SetCellValue(sheet, "F"+fmt.Sprint(rowNo), string(row.Estado))
	}
	return f, nil
}
