package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

// NotificationOutcome is the per-target result of one dispatch. Targets fail
// independently; one broken integration never blocks the others.
type NotificationOutcome struct {
	Target  string `json:"target"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// trelloOutcome is what gets stored back on the staging row.
type trelloOutcome struct {
	Created bool   `json:"created"`
	CardID  string `json:"card_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NotificationDispatcher fans a persisted operation out to the downstream
// targets: the board-card service, the mailer and the operation-persisted
// topic. Runs strictly after the persisting transaction has committed.
type NotificationDispatcher struct {
	httpClient *http.Client
	tracer     trace.Tracer

	TrelloURL string
	GmailURL  string
}

func NewNotificationDispatcher() *NotificationDispatcher {
	return &NotificationDispatcher{
		httpClient: &http.Client{Timeout: targetCallTimeout},
		tracer:     otel.Tracer("workflow/notification"),
		TrelloURL:  strings.TrimRight(os.Getenv("TRELLO_SERVICE_URL"), "/"),
		GmailURL:   strings.TrimRight(os.Getenv("GMAIL_SERVICE_URL"), "/"),
	}
}

// Dispatch notifies every target about one persisted operation and returns the
// per-target outcomes. Consumers downstream deduplicate on the payload's
// idempotency key, so redispatch after partial failure is safe.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, payload models.NotificationPayload) []NotificationOutcome {
	ctx, span := d.tracer.Start(ctx, "notification.dispatch", trace.WithAttributes(
		attribute.String("operation.id", payload.OperationID),
		attribute.String("operation.tracking_id", payload.OriginalTrackingID),
	))
	defer span.End()

	logger := config.GetLogger()
	var outcomes []NotificationOutcome

	// Broker event first: it is the durable notification channel.
	if _, err := config.PublishOperationEvent(ctx, config.TopicOperationPersisted, payload); err != nil {
		config.LogError(logger, "workflow", "Dispatch", "publish operation-persisted", payload.OperationID, err)
		outcomes = append(outcomes, NotificationOutcome{Target: "pubsub", Error: err.Error()})
	} else {
		outcomes = append(outcomes, NotificationOutcome{Target: "pubsub", Success: true})
	}

	outcomes = append(outcomes, d.dispatchTrello(ctx, payload))
	outcomes = append(outcomes, d.dispatchGmail(ctx, payload))

	for _, o := range outcomes {
		logger.WithFields(logrus.Fields{
			"operation_id": payload.OperationID,
			"target":       o.Target,
			"success":      o.Success,
			"error":        o.Error,
		}).Info("notification: target outcome")
	}
	return outcomes
}

// DispatchAll handles the payload fan-out for a multi-currency submission.
func (d *NotificationDispatcher) DispatchAll(ctx context.Context, payloads []models.NotificationPayload) {
	for _, payload := range payloads {
		d.Dispatch(ctx, payload)
	}
}

func (d *NotificationDispatcher) dispatchTrello(ctx context.Context, payload models.NotificationPayload) NotificationOutcome {
	outcome := NotificationOutcome{Target: "trello"}
	if d.TrelloURL == "" {
		outcome.Error = "TRELLO_SERVICE_URL is not configured"
		RecordTrelloOutcome(ctx, payload.OriginalTrackingID, trelloOutcome{Created: false, Error: outcome.Error})
		return outcome
	}

	var result struct {
		CardID string `json:"card_id"`
	}
	err := d.postJSON(ctx, d.TrelloURL+"/create-card", payload, &result)
	if err != nil {
		outcome.Error = err.Error()
		RecordTrelloOutcome(ctx, payload.OriginalTrackingID, trelloOutcome{Created: false, Error: err.Error()})
		return outcome
	}
	outcome.Success = true
	RecordTrelloOutcome(ctx, payload.OriginalTrackingID, trelloOutcome{Created: true, CardID: result.CardID})
	return outcome
}

func (d *NotificationDispatcher) dispatchGmail(ctx context.Context, payload models.NotificationPayload) NotificationOutcome {
	outcome := NotificationOutcome{Target: "gmail"}
	if d.GmailURL == "" {
		outcome.Error = "GMAIL_SERVICE_URL is not configured"
		return outcome
	}
	if err := d.postJSON(ctx, d.GmailURL+"/send-email", payload, nil); err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Success = true
	return outcome
}

func (d *NotificationDispatcher) postJSON(ctx context.Context, url string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
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
