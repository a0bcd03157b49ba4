package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// Empresa is a company referenced by RUC: either the client assigning the
// invoices or a debtor named on them.
type Empresa struct {
	Ruc         string    `gorm:"primary_key;size:11" json:"ruc"`
	RazonSocial string    `gorm:"size:255;not null" json:"razon_social"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindOrCreateEmpresa resolves a company by RUC, creating it on first sight.
// Concurrent creators racing on the same RUC lose with a duplicate-key error;
// the loser re-reads the winner's row.
func FindOrCreateEmpresa(ctx context.Context, tx *gorm.DB, ruc string, razonSocial string) (*Empresa, error) {
	ruc = strings.TrimSpace(ruc)
	razonSocial = strings.TrimSpace(razonSocial)
	if ruc == "" || razonSocial == "" {
		return nil, nil
	}

	var empresa Empresa
	err := tx.WithContext(ctx).Where("ruc = ?", ruc).First(&empresa).Error
	if err == nil {
		return &empresa, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	empresa = Empresa{Ruc: ruc, RazonSocial: razonSocial}
	if err := tx.WithContext(ctx).Create(&empresa).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			var existing Empresa
			if rerr := tx.WithContext(ctx).Where("ruc = ?", ruc).First(&existing).Error; rerr != nil {
				return nil, rerr
			}
			return &existing, nil
		}
		return nil, err
	}
	return &empresa, nil
}
