package main

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

func TestPubSubEnvelopeDecoding(t *testing.T) {
	inner := `{"tracking_id":"t-1","drive_folder_url":"https://drive.example/f/1"}`
	envelope := `{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte(inner)) + `","id":"m-1"},"subscription":"projects/p/subscriptions/s"}`

	var msg PubSubMessage
	if err := json.Unmarshal([]byte(envelope), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Message.ID != "m-1" {
		t.Errorf("unexpected message id: %s", msg.Message.ID)
	}

	// []byte fields decode base64 transparently.
	var event models.WorkerEvent
	if err := json.Unmarshal(msg.Message.Data, &event); err != nil {
		t.Fatal(err)
	}
	if event.TrackingID != "t-1" {
		t.Errorf("unexpected tracking id: %s", event.TrackingID)
	}
	if event.Kind() != models.WorkerEventDrive {
		t.Errorf("expected drive event, got %s", event.Kind())
	}
}
