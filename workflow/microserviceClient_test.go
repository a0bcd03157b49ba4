package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

func newTestClient(parserURL, cavaliURL, driveURL string) *MicroserviceClient {
	return &MicroserviceClient{
		httpClient: &http.Client{},
		ParserURL:  parserURL,
		CavaliURL:  cavaliURL,
		DriveURL:   driveURL,
	}
}

func TestCallParserService_Success(t *testing.T) {
	parser := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/parse-direct" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"parsed_results": []models.ParsedInvoice{{DocumentID: "F001-1", Currency: "PEN"}},
		})
	}))
	defer parser.Close()

	client := newTestClient(parser.URL, "", "")
	parsed, err := client.CallParserService(context.Background(), &models.OperationSubmission{TrackingID: "t-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) != 1 || parsed[0].DocumentID != "F001-1" {
		t.Fatalf("unexpected result: %+v", parsed)
	}
}

func TestCallParserService_FailureIsFatal(t *testing.T) {
	parser := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer parser.Close()

	client := newTestClient(parser.URL, "", "")
	if _, err := client.CallParserService(context.Background(), &models.OperationSubmission{TrackingID: "t-1"}); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}

	// Unconfigured parser is equally fatal.
	unconfigured := newTestClient("", "", "")
	if _, err := unconfigured.CallParserService(context.Background(), &models.OperationSubmission{TrackingID: "t-1"}); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestCallCavaliService_DegradesToEmpty(t *testing.T) {
	cavali := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "registry down", http.StatusServiceUnavailable)
	}))
	defer cavali.Close()

	client := newTestClient("", cavali.URL, "")
	results := client.CallCavaliService(context.Background(), &models.OperationSubmission{TrackingID: "t-1"})
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil result, got %+v", results)
	}
}

func TestCallDriveService_DegradesToEmptyURL(t *testing.T) {
	client := newTestClient("", "", "")
	if url := client.CallDriveService(context.Background(), &models.OperationSubmission{TrackingID: "t-1"}); url != "" {
		t.Fatalf("expected empty url, got %q", url)
	}

	drive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"drive_folder_url": "https://drive.example/f/9"})
	}))
	defer drive.Close()

	configured := newTestClient("", "", drive.URL)
	if url := configured.CallDriveService(context.Background(), &models.OperationSubmission{TrackingID: "t-1"}); url != "https://drive.example/f/9" {
		t.Fatalf("unexpected url: %q", url)
	}
}
