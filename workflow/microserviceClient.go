package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

// ErrServiceUnavailable marks a dependency the hybrid path cannot proceed
// without.
var ErrServiceUnavailable = errors.New("dependent service unavailable")

// Per-service call budgets, matching each worker's worst case.
const (
	parserCallTimeout = 300 * time.Second
	cavaliCallTimeout = 600 * time.Second
	driveCallTimeout  = 30 * time.Second
	targetCallTimeout = 30 * time.Second
)

// MicroserviceClient talks HTTP to the worker services on the synchronous
// path. Zero value is unusable; build with NewMicroserviceClient.
type MicroserviceClient struct {
	httpClient *http.Client

	ParserURL string
	CavaliURL string
	DriveURL  string
}

// NewMicroserviceClient reads the worker base URLs from the environment. An
// unset URL degrades that worker's call (see each method).
func NewMicroserviceClient() *MicroserviceClient {
	return &MicroserviceClient{
		httpClient: &http.Client{},
		ParserURL:  strings.TrimRight(os.Getenv("PARSER_SERVICE_URL"), "/"),
		CavaliURL:  strings.TrimRight(os.Getenv("CAVALI_SERVICE_URL"), "/"),
		DriveURL:   strings.TrimRight(os.Getenv("DRIVE_SERVICE_URL"), "/"),
	}
}

func (c *MicroserviceClient) postJSON(ctx context.Context, url string, timeout time.Duration, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s responded %d: %s", url, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CallParserService extracts the invoices synchronously. The hybrid path
// cannot continue without parsed data, so failures surface as
// ErrServiceUnavailable.
func (c *MicroserviceClient) CallParserService(ctx context.Context, submission *models.OperationSubmission) ([]models.ParsedInvoice, error) {
	logger := config.GetLogger()
	if c.ParserURL == "" {
		return nil, fmt.Errorf("%w: PARSER_SERVICE_URL is not configured", ErrServiceUnavailable)
	}

	var result struct {
		ParsedResults []models.ParsedInvoice `json:"parsed_results"`
	}
	err := c.postJSON(ctx, c.ParserURL+"/parse-direct", parserCallTimeout, submission, &result)
	if err != nil {
		config.LogError(logger, "workflow", "CallParserService", "parser call failed", submission.TrackingID, err)
		return nil, fmt.Errorf("%w: parser: %v", ErrServiceUnavailable, err)
	}
	logger.WithFields(logrus.Fields{
		"tracking_id": submission.TrackingID,
		"invoices":    len(result.ParsedResults),
	}).Info("parser: extraction succeeded")
	return result.ParsedResults, nil
}

// CallCavaliService validates the invoices against the registry. Failures
// degrade to an empty result set so the submission still persists, without
// registry verdicts.
func (c *MicroserviceClient) CallCavaliService(ctx context.Context, submission *models.OperationSubmission) map[string]models.CavaliResult {
	logger := config.GetLogger()
	if c.CavaliURL == "" {
		logger.Warn("cavali: CAVALI_SERVICE_URL not configured, continuing without validation")
		return map[string]models.CavaliResult{}
	}

	var result struct {
		CavaliResults map[string]models.CavaliResult `json:"cavali_results"`
	}
	err := c.postJSON(ctx, c.CavaliURL+"/validate-direct", cavaliCallTimeout, submission, &result)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"tracking_id": submission.TrackingID,
			"error":       err.Error(),
		}).Warn("cavali: call failed, continuing without validation")
		return map[string]models.CavaliResult{}
	}
	if result.CavaliResults == nil {
		result.CavaliResults = map[string]models.CavaliResult{}
	}
	logger.WithFields(logrus.Fields{"tracking_id": submission.TrackingID}).Info("cavali: validation succeeded")
	return result.CavaliResults
}

// CallDriveService archives the files synchronously, tolerating failure. The
// async completion event remains the source of truth for the folder URL.
func (c *MicroserviceClient) CallDriveService(ctx context.Context, submission *models.OperationSubmission) string {
	logger := config.GetLogger()
	if c.DriveURL == "" {
		logger.Warn("drive: DRIVE_SERVICE_URL not configured, continuing without archiving")
		return ""
	}

	var result struct {
		DriveFolderURL string `json:"drive_folder_url"`
	}
	err := c.postJSON(ctx, c.DriveURL+"/archive-direct", driveCallTimeout, submission, &result)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"tracking_id": submission.TrackingID,
			"error":       err.Error(),
		}).Warn("drive: call failed, continuing without archiving")
		return ""
	}
	logger.WithFields(logrus.Fields{"tracking_id": submission.TrackingID}).Info("drive: archiving succeeded")
	return result.DriveFolderURL
}
