package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
)

// OperationStaging accumulates the worker results for one submission until all
// three have arrived. One row per tracking id; each worker writes only its own
// column, so out-of-order and concurrent arrivals are safe.
type OperationStaging struct {
	TrackingID     string          `gorm:"primary_key;size:255" json:"tracking_id"`
	InitialPayload json.RawMessage `gorm:"type:json" json:"initial_payload"`
	ParsedData     json.RawMessage `gorm:"type:json" json:"parsed_data"`
	CavaliData     json.RawMessage `gorm:"type:json" json:"cavali_data"`
	DriveData      json.RawMessage `gorm:"type:json" json:"drive_data"`
	TrelloData     json.RawMessage `gorm:"type:json" json:"trello_data"`
	FechaCreacion  time.Time       `gorm:"autoCreateTime;index" json:"fecha_creacion"`
}

// Staging columns a worker result may land in.
const (
	StagingFieldParsed = "parsed_data"
	StagingFieldCavali = "cavali_data"
	StagingFieldDrive  = "drive_data"
	StagingFieldTrello = "trello_data"
)

func stagingFieldAllowed(field string) bool {
	switch field {
	case StagingFieldParsed, StagingFieldCavali, StagingFieldDrive, StagingFieldTrello:
		return true
	}
	return false
}

// UpsertStagingField writes one worker result column, creating the staging row
// if this result arrived first. Redelivery overwrites the column with the same
// content, so the write is idempotent. The initial payload is kept
// first-writer-wins: a later arrival never clobbers an existing snapshot.
func UpsertStagingField(ctx context.Context, tx *gorm.DB, trackingID string, field string, value json.RawMessage, initialPayload json.RawMessage) error {
	if trackingID == "" {
		return errors.New("tracking id is required")
	}
	if !stagingFieldAllowed(field) {
		return fmt.Errorf("unknown staging field %q", field)
	}

	row := OperationStaging{TrackingID: trackingID, InitialPayload: initialPayload}
	switch field {
	case StagingFieldParsed:
		row.ParsedData = value
	case StagingFieldCavali:
		row.CavaliData = value
	case StagingFieldDrive:
		row.DriveData = value
	case StagingFieldTrello:
		row.TrelloData = value
	}

	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tracking_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			field:             gorm.Expr(fmt.Sprintf("VALUES(%s)", field)),
			"initial_payload": gorm.Expr("COALESCE(initial_payload, VALUES(initial_payload))"),
		}),
	}).Create(&row).Error
}

// UpsertStagingInitial writes the submission snapshot, creating the row when
// intake got there first. First writer wins: an existing snapshot is kept.
func UpsertStagingInitial(ctx context.Context, tx *gorm.DB, trackingID string, initial json.RawMessage) error {
	if trackingID == "" {
		return errors.New("tracking id is required")
	}
	row := OperationStaging{TrackingID: trackingID, InitialPayload: initial}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tracking_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"initial_payload": gorm.Expr("COALESCE(initial_payload, VALUES(initial_payload))"),
		}),
	}).Create(&row).Error
}

// LockStaging loads the staging row under a row-level write lock. Callers must
// run inside a transaction; the lock serializes the completeness check so only
// one worker result can finalize the submission.
func LockStaging(ctx context.Context, tx *gorm.DB, trackingID string) (*OperationStaging, error) {
	var staging OperationStaging
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tracking_id = ?", trackingID).
		First(&staging).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &staging, nil
}

// IsComplete reports whether all three worker results have landed.
func (s *OperationStaging) IsComplete() bool {
	if s == nil {
		return false
	}
	return jsonPresent(s.ParsedData) && jsonPresent(s.CavaliData) && jsonPresent(s.DriveData)
}

// HasInitialPayload reports whether the submission snapshot has landed.
func (s *OperationStaging) HasInitialPayload() bool {
	return s != nil && jsonPresent(s.InitialPayload)
}

// DeleteStaging removes the row after its operation has been persisted.
func DeleteStaging(ctx context.Context, tx *gorm.DB, trackingID string) error {
	return tx.WithContext(ctx).Where("tracking_id = ?", trackingID).Delete(&OperationStaging{}).Error
}

// GetStaging loads a staging row without locking, for status queries.
func GetStaging(ctx context.Context, trackingID string) (*OperationStaging, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not ready")
	}

	var staging OperationStaging
	err := db.WithContext(ctx).Where("tracking_id = ?", trackingID).First(&staging).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &staging, nil
}

// ReapExpiredStaging deletes staging rows older than the TTL. These are
// submissions where at least one worker never reported back, or leftovers from
// redeliveries after finalization.
func ReapExpiredStaging(ctx context.Context, ttl time.Duration) (int64, error) {
	db := config.GetDB()
	if db == nil {
		return 0, errors.New("database is not ready")
	}

	cutoff := time.Now().UTC().Add(-ttl)
	result := db.WithContext(ctx).
		Where("fecha_creacion < ?", cutoff).
		Delete(&OperationStaging{})
	return result.RowsAffected, result.Error
}
