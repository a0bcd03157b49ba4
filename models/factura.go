package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Factura is one invoice line of an operation, carrying the registry verdict
// recorded for it at persistence time.
type Factura struct {
	ID               int             `gorm:"primary_key" json:"id"`
	IdOperacion      string          `gorm:"size:255;not null;index" json:"id_operacion"`
	NumeroDocumento  string          `gorm:"size:255;not null;index;index:idx_factura_fingerprint,priority:2" json:"numero_documento"`
	DeudorRuc        string          `gorm:"size:11;index;index:idx_factura_fingerprint,priority:1" json:"deudor_ruc"`
	Deudor           *Empresa        `gorm:"foreignKey:DeudorRuc;references:Ruc" json:"deudor,omitempty"`
	FechaEmision     *time.Time      `json:"fecha_emision"`
	FechaVencimiento *time.Time      `json:"fecha_vencimiento"`
	Moneda           Moneda          `gorm:"size:10" json:"moneda"`
	MontoTotal       decimal.Decimal `gorm:"type:decimal(20,6)" json:"monto_total"`
	MontoNeto        decimal.Decimal `gorm:"type:decimal(20,6)" json:"monto_neto"`
	MensajeCavali    string          `gorm:"type:text" json:"mensaje_cavali"`
	IdProcesoCavali  string          `gorm:"size:255" json:"id_proceso_cavali"`
	Estado           EstadoFactura   `gorm:"size:50;not null;default:'En Verificación'" json:"estado"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindFacturaByFingerprint looks for an already-persisted invoice with the
// same debtor RUC, document number, gross amount and issue date.
func FindFacturaByFingerprint(ctx context.Context, tx *gorm.DB, deudorRuc string, numeroDocumento string, montoTotal decimal.Decimal, fechaEmision time.Time) (*Factura, error) {
	var factura Factura
	err := tx.WithContext(ctx).
		Where("deudor_ruc = ? AND numero_documento = ? AND monto_total = ? AND DATE(fecha_emision) = ?",
			deudorRuc, numeroDocumento, montoTotal, fechaEmision.Format("2006-01-02")).
		First(&factura).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &factura, nil
}
