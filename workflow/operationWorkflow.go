package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
	"bitbucket.org/capitalexpress/operaciones_backend/models"
	"bitbucket.org/capitalexpress/operaciones_backend/utils"
)

// SubmittedFile is one uploaded file from the intake form.
type SubmittedFile struct {
	Filename string
	Data     []byte
}

// UploadSubmissionFiles stores the uploaded artifacts under a per-submission
// prefix and returns the manifest recorded on the initial payload.
func UploadSubmissionFiles(ctx context.Context, trackingID string, xmlFiles, pdfFiles, respaldoFiles []SubmittedFile) (*models.GCSPaths, error) {
	prefix := fmt.Sprintf("operations/%s/%s", time.Now().UTC().Format("2006-01-02"), trackingID)

	uploadGroup := func(files []SubmittedFile, subfolder string) ([]string, error) {
		var refs []string
		for _, f := range files {
			ref, err := utils.UploadBytesToGCS(ctx, fmt.Sprintf("%s/%s/%s", prefix, subfolder, f.Filename), f.Data)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
		return refs, nil
	}

	paths := &models.GCSPaths{}
	var err error
	if paths.XML, err = uploadGroup(xmlFiles, "xml"); err != nil {
		return nil, err
	}
	if paths.PDF, err = uploadGroup(pdfFiles, "pdf"); err != nil {
		return nil, err
	}
	if paths.Respaldo, err = uploadGroup(respaldoFiles, "respaldos"); err != nil {
		return nil, err
	}
	return paths, nil
}

// NewTrackingID mints the submission identity.
func NewTrackingID() string {
	return uuid.NewString()
}

// SubmitOperation starts the asynchronous flow: snapshot the submission into
// staging, then fan it out to the workers through the broker. Returns once the
// broker confirmed the publish; all processing happens behind the scenes.
func SubmitOperation(ctx context.Context, submission *models.OperationSubmission) error {
	if err := StoreSubmissionSnapshot(ctx, submission); err != nil {
		return err
	}
	msgID, err := config.PublishOperationEventWithTimeout(config.TopicOperationSubmitted, submission)
	if err != nil {
		return err
	}
	config.GetLogger().WithFields(logrus.Fields{
		"tracking_id": submission.TrackingID,
		"message_id":  msgID,
	}).Info("intake: submission published")
	return nil
}

// SubmitOperationSync runs the hybrid flow: parser and registry synchronously
// in the request, archiving in parallel through the broker. The submission
// fails outright when the parser is down; a registry outage degrades to
// persisting without verdicts. Finalization still happens in the aggregator
// once the archiver reports back, unless the direct archive call already
// completed the record.
//
// The returned payloads are non-empty only when finalization happened inline;
// the caller dispatches them after this function returns.
func SubmitOperationSync(ctx context.Context, client *MicroserviceClient, submission *models.OperationSubmission) ([]models.NotificationPayload, error) {
	logger := config.GetLogger()
	trackingID := submission.TrackingID

	if err := StoreSubmissionSnapshot(ctx, submission); err != nil {
		return nil, err
	}

	parsed, err := client.CallParserService(ctx, submission)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("%w: parser returned no invoices for %s", ErrServiceUnavailable, trackingID)
	}

	cavali := client.CallCavaliService(ctx, submission)

	if err := StoreSyncWorkerResults(ctx, trackingID, parsed, cavali); err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"tracking_id": trackingID,
		"invoices":    len(parsed),
	}).Info("intake: parser and registry results staged, waiting for archiver")

	// Try the direct archive call first; it is fast when the service is
	// healthy and closes the record in this request.
	if driveURL := client.CallDriveService(ctx, submission); driveURL != "" {
		return ProcessWorkerResult(ctx, &models.WorkerEvent{
			TrackingID:     trackingID,
			DriveFolderURL: driveURL,
			CorrelationId:  submission.CorrelationId,
		})
	}

	// Fall back to the broker; the archiver's completion event finalizes.
	if _, err := config.PublishOperationEventWithTimeout(config.TopicOperationSubmitted, submission); err != nil {
		return nil, err
	}
	return nil, nil
}
