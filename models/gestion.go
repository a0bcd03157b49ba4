package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
	"bitbucket.org/capitalexpress/operaciones_backend/utils"
)

// Gestion is one follow-up entry on an operation: a call, a mail, a note.
type Gestion struct {
	ID                    int       `gorm:"primary_key" json:"id"`
	IdOperacion           string    `gorm:"size:255;not null;index" json:"id_operacion"`
	FechaCreacion         time.Time `gorm:"autoCreateTime" json:"fecha_creacion"`
	AnalistaEmail         string    `gorm:"size:255;index" json:"analista_email"`
	Analista              *Usuario  `gorm:"foreignKey:AnalistaEmail;references:Email" json:"analista,omitempty"`
	Tipo                  string    `gorm:"size:50" json:"tipo"`
	Resultado             string    `gorm:"size:100" json:"resultado"`
	NombreContacto        string    `gorm:"size:255" json:"nombre_contacto"`
	CargoContacto         string    `gorm:"size:100" json:"cargo_contacto"`
	TelefonoEmailContacto string    `gorm:"size:255" json:"telefono_email_contacto"`
	Notas                 string    `gorm:"type:text" json:"notas"`
}

// NewGestion is the request body for registering a follow-up entry.
type NewGestion struct {
	Tipo                  string `json:"tipo" binding:"required"`
	Resultado             string `json:"resultado" binding:"required"`
	NombreContacto        string `json:"nombre_contacto"`
	CargoContacto         string `json:"cargo_contacto"`
	TelefonoEmailContacto string `json:"telefono_email_contacto"`
	Notas                 string `json:"notas"`
}

// CreateGestion records a follow-up entry on an existing operation.
func CreateGestion(ctx context.Context, opID string, analystEmail string, input *NewGestion) (*Gestion, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not ready")
	}

	var gestion Gestion
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var op Operacion
		if err := tx.Select("id").Where("id = ?", opID).First(&op).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		gestion = Gestion{
			IdOperacion:           opID,
			AnalistaEmail:         analystEmail,
			Tipo:                  input.Tipo,
			Resultado:             input.Resultado,
			NombreContacto:        input.NombreContacto,
			CargoContacto:         input.CargoContacto,
			TelefonoEmailContacto: input.TelefonoEmailContacto,
			Notas:                 input.Notas,
		}
		return tx.Create(&gestion).Error
	})
	if err != nil {
		return nil, err
	}
	return &gestion, nil
}
