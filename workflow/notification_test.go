package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

func newTestDispatcher(trelloURL, gmailURL string) *NotificationDispatcher {
	return &NotificationDispatcher{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		tracer:     otel.Tracer("test"),
		TrelloURL:  trelloURL,
		GmailURL:   gmailURL,
	}
}

func outcomeFor(outcomes []NotificationOutcome, target string) *NotificationOutcome {
	for i := range outcomes {
		if outcomes[i].Target == target {
			return &outcomes[i]
		}
	}
	return nil
}

func TestDispatch_TargetsFailIndependently(t *testing.T) {
	var trelloGot models.NotificationPayload
	trello := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&trelloGot); err != nil {
			t.Errorf("trello body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"card_id": "card-77"})
	}))
	defer trello.Close()

	gmail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailer down", http.StatusBadGateway)
	}))
	defer gmail.Close()

	d := newTestDispatcher(trello.URL, gmail.URL)
	payload := models.NotificationPayload{
		OperationID:        "OP-20260901-001",
		IdempotencyKey:     "OP-20260901-001_PEN",
		OriginalTrackingID: "t-1",
		UserEmail:          "ana.perez@example.com",
	}
	outcomes := d.Dispatch(context.Background(), payload)

	if o := outcomeFor(outcomes, "trello"); o == nil || !o.Success {
		t.Fatalf("expected trello success, got %+v", o)
	}
	if o := outcomeFor(outcomes, "gmail"); o == nil || o.Success || o.Error == "" {
		t.Fatalf("expected gmail failure with error, got %+v", o)
	}
	if trelloGot.OperationID != payload.OperationID || trelloGot.IdempotencyKey != payload.IdempotencyKey {
		t.Errorf("trello received wrong payload: %+v", trelloGot)
	}
}

func TestDispatch_UnconfiguredTargetsReportOutcome(t *testing.T) {
	d := newTestDispatcher("", "")
	outcomes := d.Dispatch(context.Background(), models.NotificationPayload{
		OperationID:        "OP-20260901-002",
		OriginalTrackingID: "t-2",
	})

	for _, target := range []string{"trello", "gmail"} {
		o := outcomeFor(outcomes, target)
		if o == nil || o.Success || o.Error == "" {
			t.Errorf("expected explicit failure outcome for %s, got %+v", target, o)
		}
	}
}

// One persisted operation per currency means one dispatch per payload: the two
// targets are attempted for every operation even when an earlier one failed.
func TestDispatchAll_EveryPayloadReachesTargets(t *testing.T) {
	var gmailCalls int
	gmail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gmailCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer gmail.Close()

	d := newTestDispatcher("", gmail.URL)
	d.DispatchAll(context.Background(), []models.NotificationPayload{
		{OperationID: "OP-20260901-003", OriginalTrackingID: "t-3"},
		{OperationID: "OP-20260901-004", OriginalTrackingID: "t-3"},
	})

	if gmailCalls != 2 {
		t.Fatalf("expected 2 mailer calls, got %d", gmailCalls)
	}
}
