package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNotificationWireFormatOmitsTenant(t *testing.T) {
	tenant := uuid.New()
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	n := AppointmentCancelled(tenant, AppointmentSnapshot{ID: "a1", Number: 3, Date: "2024-05-01", Status: "cancel"}, at)

	data, err := n.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if wire["event"] != "cancelAppointment" {
		t.Fatalf("unexpected event %v", wire["event"])
	}
	if _, ok := wire["TenantID"]; ok {
		t.Fatal("tenant id must not be on the wire")
	}
	body := wire["data"].(map[string]any)
	if body["appointment_number"].(float64) != 3 {
		t.Fatalf("unexpected payload %v", body)
	}
	if n.TenantID != tenant {
		t.Fatalf("tenant routing lost")
	}
}

func TestParametersUpdatedCarriesRawJSON(t *testing.T) {
	n := ParametersUpdated(uuid.New(), ParametersChange{AppointmentID: "a1", Parameters: json.RawMessage(`{"bp":"120/80"}`)}, time.Now())
	data, err := n.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var wire struct {
		Event string `json:"event"`
		Data  struct {
			Parameters map[string]string `json:"parameters"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if wire.Event != string(TypeParametersUpdated) || wire.Data.Parameters["bp"] != "120/80" {
		t.Fatalf("unexpected wire %+v", wire)
	}
}
