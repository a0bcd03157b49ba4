package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
)

// Usuario is a session user of the operations panel.
type Usuario struct {
	Email         string    `gorm:"primary_key;size:255" json:"email"`
	Nombre        string    `gorm:"size:255" json:"nombre"`
	UltimoIngreso time.Time `json:"ultimo_ingreso"`
	Rol           string    `gorm:"size:50;not null;default:'ventas'" json:"rol"`
}

// TouchLastLogin records a login and returns the previous login time, nil on
// first sight. Unknown users are created with the default role.
func TouchLastLogin(ctx context.Context, email string, nombre string) (*time.Time, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not ready")
	}

	now := time.Now().UTC()
	var previous *time.Time
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var usuario Usuario
		err := tx.Where("email = ?", email).First(&usuario).Error
		if err == nil {
			prev := usuario.UltimoIngreso
			previous = &prev
			return tx.Model(&usuario).Update("ultimo_ingreso", now).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		usuario = Usuario{Email: email, Nombre: nombre, UltimoIngreso: now, Rol: "ventas"}
		return tx.Create(&usuario).Error
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// GetUsuarioByEmail loads one user record.
func GetUsuarioByEmail(ctx context.Context, email string) (*Usuario, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not ready")
	}

	var usuario Usuario
	err := db.WithContext(ctx).Where("email = ?", email).First(&usuario).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &usuario, nil
}

// ListAnalysts returns the users eligible for follow-up assignment.
func ListAnalysts(ctx context.Context) ([]Usuario, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not ready")
	}

	var analysts []Usuario
	err := db.WithContext(ctx).
		Where("rol IN ?", []string{"admin", "gestion"}).
		Order("nombre ASC").
		Find(&analysts).Error
	if err != nil {
		return nil, err
	}
	return analysts, nil
}
