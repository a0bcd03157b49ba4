package workflow

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

var (
	// ErrUnknownWorkerEvent marks a payload carrying none of the known result
	// fields. Not retryable; the handler acks and drops it.
	ErrUnknownWorkerEvent = errors.New("worker event carries no recognizable result")

	// ErrMissingInitialPayload marks a staging row that is complete on worker
	// results but still lacks the submission snapshot. Retryable: the intake
	// write is in flight.
	ErrMissingInitialPayload = errors.New("staging record has no initial payload yet")
)

// driveData is the staging shape of the archiver result.
type driveData struct {
	DriveFolderURL string `json:"drive_folder_url"`
}

// ProcessWorkerResult lands one worker result in staging and, when it was the
// last one missing, finalizes the submission in the same transaction. Returns
// the notification payloads to dispatch after commit; empty when the record is
// still incomplete or the finalizer rejected the submission.
//
// The staging row is locked FOR UPDATE before the completeness check, so of
// several concurrent deliveries exactly one observes the full record and
// persists. Redelivery after finalization recreates a partial row with no
// initial payload; it never completes again and the reaper removes it.
func ProcessWorkerResult(ctx context.Context, event *models.WorkerEvent) ([]models.NotificationPayload, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not ready")
	}
	logger := config.GetLogger()

	var (
		field string
		value json.RawMessage
		err   error
	)
	switch event.Kind() {
	case models.WorkerEventParsed:
		field = models.StagingFieldParsed
		value, err = json.Marshal(event.ParsedResults)
	case models.WorkerEventCavali:
		field = models.StagingFieldCavali
		value, err = json.Marshal(event.CavaliResults)
	case models.WorkerEventDrive:
		field = models.StagingFieldDrive
		value, err = json.Marshal(driveData{DriveFolderURL: event.DriveFolderURL})
	default:
		return nil, ErrUnknownWorkerEvent
	}
	if err != nil {
		return nil, err
	}

	var notifications []models.NotificationPayload
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := models.UpsertStagingField(ctx, tx, event.TrackingID, field, value, nil); err != nil {
			return err
		}

		staging, err := models.LockStaging(ctx, tx, event.TrackingID)
		if err != nil {
			return err
		}
		if staging == nil || !staging.IsComplete() {
			return nil
		}
		if !staging.HasInitialPayload() {
			return ErrMissingInitialPayload
		}

		logger.WithFields(logrus.Fields{
			"tracking_id": event.TrackingID,
			"field":       field,
		}).Info("aggregator: all worker results received, finalizing")

		submission, parsed, cavali, drive, err := decodeStaging(staging)
		if err != nil {
			return err
		}
		notifications, err = FinalizeOperation(ctx, tx, submission, parsed, cavali, drive.DriveFolderURL)
		if err != nil {
			return err
		}
		return models.DeleteStaging(ctx, tx, event.TrackingID)
	})
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

func decodeStaging(staging *models.OperationStaging) (*models.OperationSubmission, []models.ParsedInvoice, map[string]models.CavaliResult, *driveData, error) {
	var submission models.OperationSubmission
	if err := json.Unmarshal(staging.InitialPayload, &submission); err != nil {
		return nil, nil, nil, nil, err
	}
	if submission.TrackingID == "" {
		submission.TrackingID = staging.TrackingID
	}

	var parsed []models.ParsedInvoice
	if err := json.Unmarshal(staging.ParsedData, &parsed); err != nil {
		return nil, nil, nil, nil, err
	}

	cavali := map[string]models.CavaliResult{}
	if err := json.Unmarshal(staging.CavaliData, &cavali); err != nil {
		return nil, nil, nil, nil, err
	}

	var drive driveData
	if err := json.Unmarshal(staging.DriveData, &drive); err != nil {
		return nil, nil, nil, nil, err
	}
	return &submission, parsed, cavali, &drive, nil
}

// StoreSubmissionSnapshot writes the intake payload into staging so the
// aggregator can join it with the worker results. First writer wins; a worker
// result arriving before the snapshot creates the row and this call fills the
// missing column.
func StoreSubmissionSnapshot(ctx context.Context, submission *models.OperationSubmission) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("database is not ready")
	}
	initial, err := json.Marshal(submission)
	if err != nil {
		return err
	}
	return models.UpsertStagingInitial(ctx, db, submission.TrackingID, initial)
}

// StoreSyncWorkerResults lands the parser and registry results gathered on the
// synchronous path, leaving the record waiting only for the archiver event.
func StoreSyncWorkerResults(ctx context.Context, trackingID string, parsed []models.ParsedInvoice, cavali map[string]models.CavaliResult) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("database is not ready")
	}

	parsedJSON, err := json.Marshal(parsed)
	if err != nil {
		return err
	}
	cavaliJSON, err := json.Marshal(cavali)
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := models.UpsertStagingField(ctx, tx, trackingID, models.StagingFieldParsed, parsedJSON, nil); err != nil {
			return err
		}
		return models.UpsertStagingField(ctx, tx, trackingID, models.StagingFieldCavali, cavaliJSON, nil)
	})
}

// RecordTrelloOutcome stores the board-card outcome on the staging row, best
// effort. The row may already be gone when the card was created after
// finalization; that is fine.
func RecordTrelloOutcome(ctx context.Context, trackingID string, outcome interface{}) {
	db := config.GetDB()
	if db == nil {
		return
	}
	value, err := json.Marshal(outcome)
	if err != nil {
		return
	}
	if err := models.UpsertStagingField(ctx, db, trackingID, models.StagingFieldTrello, value, nil); err != nil {
		config.LogError(config.GetLogger(), "workflow", "RecordTrelloOutcome", "upsert trello outcome", trackingID, err)
	}
}
