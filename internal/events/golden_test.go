package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// Terminals parse these payloads as-is; the golden files pin the wire shape.
func TestNotificationGoldenWireFormat(t *testing.T) {
	tenantID := uuid.MustParse("7d4a1c2e-0000-4000-8000-000000000001")
	at := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	snapshot := AppointmentSnapshot{
		ID:      "a1",
		Number:  3,
		Date:    "2024-05-01",
		Time:    "10:30",
		Process: "Consultation",
		Reason:  "Fever",
		Patient: &PatientSummary{ID: "p1", Code: "JD12345", Name: "John Doe"},
	}

	params := ParametersChange{AppointmentID: "a1", Parameters: json.RawMessage(`{"bp":"120/80"}`)}
	submitted := SubmissionSummary{AppointmentID: "a1", Fees: 500, FollowUp: "2024-05-10"}
	cases := map[string]Notification{
		"new_appointment":     AppointmentBooked(tenantID, snapshot, at),
		"parameters_updated":  ParametersUpdated(tenantID, params, at),
		"updated_appointment": AppointmentSubmitted(tenantID, submitted, at),
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for name, n := range cases {
		t.Run(name, func(t *testing.T) {
			raw, err := n.Encode()
			require.NoError(t, err)
			g.Assert(t, name, raw)
		})
	}
}
