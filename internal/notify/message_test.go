package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusText(t *testing.T) {
	cases := map[string]string{
		"pending":        "Pending Review",
		"investigating":  "Being Investigated",
		"resolved":       "Resolved",
		"RESOLVED":       "Resolved",
		"Rejected":       "Rejected",
		"unknown_status": "unknown_status",
		"On Hold":        "On Hold",
	}
	for in, want := range cases {
		assert.Equal(t, want, StatusText(in), in)
	}
}

func TestStatusEventBody(t *testing.T) {
	m := StatusEvent{UserToken: "t", NewStatus: "unknown_status"}.template()
	assert.Contains(t, m.Body, "unknown_status")

	m = StatusEvent{UserToken: "t", NewStatus: "investigating", ReportType: "Pothole", AdminNote: "crew sent"}.template()
	assert.Equal(t, "Your Pothole report is now: Being Investigated\nNote: crew sent", m.Body)
	assert.Equal(t, "t", m.Token)

	m = StatusEvent{UserToken: "t"}.template()
	assert.Equal(t, "Your report is now: Updated", m.Body)
}

func TestDataPayloadKeysAlwaysPresent(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		keys []string
	}{
		{"sos", SOSEvent{}.template(), []string{"type", "reportId", "userName", "location", "timestamp"}},
		{"report", ReportEvent{}.template(), []string{"type", "reportId", "reportType", "location", "userName"}},
		{"status", StatusEvent{}.template(), []string{"type", "reportId", "newStatus", "reportType", "adminNote"}},
		{"broadcast", BroadcastEvent{}.template(), []string{"type", "title", "adminId"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Len(t, tc.msg.Data, len(tc.keys))
			for _, k := range tc.keys {
				v, ok := tc.msg.Data[k]
				assert.True(t, ok, "missing key %q", k)
				if k != "type" {
					assert.Equal(t, "", v)
				}
			}
		})
	}
}

func TestMissingFieldsRenderUnknown(t *testing.T) {
	m := SOSEvent{}.template()
	assert.Equal(t, "Unknown needs immediate help at Unknown", m.Body)

	m = ReportEvent{ReportType: "Flooding"}.template()
	assert.Equal(t, "📋 New Report: Flooding", m.Title)
	assert.Equal(t, "Unknown submitted a Flooding report at Unknown", m.Body)
}

func TestAddressedCopiesData(t *testing.T) {
	msgs := addressed(SOSEvent{ReportID: "r"}.template(), []string{"a", "b"})
	msgs[0].Data["reportId"] = "changed"

	assert.Equal(t, "a", msgs[0].Token)
	assert.Equal(t, "b", msgs[1].Token)
	assert.Equal(t, "r", msgs[1].Data["reportId"])
}
