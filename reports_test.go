package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

func TestBuildOperationsWorkbook(t *testing.T) {
	rows := []models.OperacionRow{
		{
			ID:           "OP-20260901-001",
			FechaIngreso: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
			Cliente:      "Comercial Andina SAC",
			Monto:        decimal.RequireFromString("1500.50"),
			Moneda:       models.MonedaPEN,
			Estado:       models.EstadoOperacionEnVerificacion,
		},
		{
			ID:           "OP-20260901-002",
			FechaIngreso: time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC),
			Cliente:      "Exportadora del Sur SA",
			Monto:        decimal.RequireFromString("980"),
			Moneda:       models.MonedaUSD,
			Estado:       models.EstadoOperacionConforme,
		},
	}

	f, err := BuildOperationsWorkbook(rows)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	const sheet = "Operaciones"
	header, err := f.GetCellValue(sheet, "A1")
	if err != nil {
		t.Fatal(err)
	}
	if header != "ID" {
		t.Errorf("unexpected header: %s", header)
	}

	id, _ := f.GetCellValue(sheet, "A2")
	if id != "OP-20260901-001" {
		t.Errorf("unexpected first row id: %s", id)
	}
	cliente, _ := f.GetCellValue(sheet, "C3")
	if cliente != "Exportadora del Sur SA" {
		t.Errorf("unexpected second row cliente: %s", cliente)
	}
	estado, _ := f.GetCellValue(sheet, "F2")
	if estado != string(models.EstadoOperacionEnVerificacion) {
		t.Errorf("unexpected estado: %s", estado)
	}
}
