package models

import (
	"encoding/json"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

// mustJSON builds staging row fixtures.
func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func TestWorkerEventKind(t *testing.T) {
	cases := []struct {
		name  string
		event WorkerEvent
		want  WorkerEventKind
	}{
		{"parsed", WorkerEvent{ParsedResults: []ParsedInvoice{{DocumentID: "F001-1"}}}, WorkerEventParsed},
		{"parsed empty list still counts", WorkerEvent{ParsedResults: []ParsedInvoice{}}, WorkerEventParsed},
		{"cavali", WorkerEvent{CavaliResults: map[string]CavaliResult{}}, WorkerEventCavali},
		{"drive", WorkerEvent{DriveFolderURL: "https://drive.example/f/1"}, WorkerEventDrive},
		{"unknown", WorkerEvent{TrackingID: "t-1"}, WorkerEventUnknown},
	}
	for _, tc := range cases {
		if got := tc.event.Kind(); got != tc.want {
			t.Errorf("%s: Kind() = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestWorkerEventKind_FromWire(t *testing.T) {
	// The three workers publish different shapes on one push endpoint; the
	// kind must survive JSON decoding.
	var parsed WorkerEvent
	if err := json.Unmarshal([]byte(`{"tracking_id":"t-1","parsed_results":[]}`), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Kind() != WorkerEventParsed {
		t.Errorf("wire parsed event misclassified as %s", parsed.Kind())
	}

	var drive WorkerEvent
	if err := json.Unmarshal([]byte(`{"tracking_id":"t-1","drive_folder_url":"https://drive.example/f"}`), &drive); err != nil {
		t.Fatal(err)
	}
	if drive.Kind() != WorkerEventDrive {
		t.Errorf("wire drive event misclassified as %s", drive.Kind())
	}
}

func TestParsedInvoiceIsUsable(t *testing.T) {
	cases := []struct {
		name string
		inv  ParsedInvoice
		want bool
	}{
		{"no flag", ParsedInvoice{}, true},
		{"valid true", ParsedInvoice{Valid: boolPtr(true)}, true},
		{"valid false", ParsedInvoice{Valid: boolPtr(false)}, false},
		{"error set", ParsedInvoice{Error: "broken"}, false},
		{"error beats valid", ParsedInvoice{Valid: boolPtr(true), Error: "broken"}, false},
	}
	for _, tc := range cases {
		if got := tc.inv.IsUsable(); got != tc.want {
			t.Errorf("%s: IsUsable() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOperationStagingIsComplete(t *testing.T) {
	full := &OperationStaging{
		TrackingID:     "t-1",
		InitialPayload: mustJSON(OperationSubmission{TrackingID: "t-1"}),
		ParsedData:     mustJSON([]ParsedInvoice{{DocumentID: "F001-1"}}),
		CavaliData:     mustJSON(map[string]CavaliResult{}),
		DriveData:      mustJSON(map[string]string{"drive_folder_url": "https://drive.example/f"}),
	}
	if !full.IsComplete() || !full.HasInitialPayload() {
		t.Fatal("record with all columns must be complete")
	}

	missingDrive := &OperationStaging{
		TrackingID: "t-2",
		ParsedData: mustJSON([]ParsedInvoice{}),
		CavaliData: mustJSON(map[string]CavaliResult{}),
	}
	if missingDrive.IsComplete() {
		t.Fatal("record without drive data must not be complete")
	}

	// GORM writes "null" for nil json.RawMessage; that counts as absent.
	nullDrive := &OperationStaging{
		TrackingID: "t-3",
		ParsedData: mustJSON([]ParsedInvoice{}),
		CavaliData: mustJSON(map[string]CavaliResult{}),
		DriveData:  []byte("null"),
	}
	if nullDrive.IsComplete() {
		t.Fatal("JSON null drive data must not count as present")
	}
	if nullDrive.HasInitialPayload() {
		t.Fatal("missing initial payload must be reported")
	}

	var nilStaging *OperationStaging
	if nilStaging.IsComplete() || nilStaging.HasInitialPayload() {
		t.Fatal("nil staging row is never complete")
	}
}

func TestMonedaWhitelist(t *testing.T) {
	for _, m := range []Moneda{MonedaPEN, MonedaUSD, MonedaEUR} {
		if !m.IsValid() {
			t.Errorf("%s must be accepted", m)
		}
	}
	for _, m := range []Moneda{"CLP", "ARS", "pen", ""} {
		if m.IsValid() {
			t.Errorf("%s must be rejected", m)
		}
	}
}
