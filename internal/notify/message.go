package notify

import (
	"fmt"
	"strings"
)

// Event types carried in the data payload under "type".
const (
	TypeSOS          = "sos_alert"
	TypeNewReport    = "new_report"
	TypeStatusUpdate = "status_update"
	TypeBroadcast    = "emergency_broadcast"
)

const unknown = "Unknown"

// Hints are channel specific delivery settings. Empty fields are left to
// the push service defaults.
type Hints struct {
	Priority  string // "high" or "normal"
	ChannelID string // android notification channel
	Sound     string
}

// Message is one notification addressed to one device token.
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
	Hints Hints
}

type SOSEvent struct {
	UserName  string `json:"userName"`
	Location  string `json:"location"`
	ReportID  string `json:"reportId"`
	Timestamp string `json:"timestamp"`
}

type ReportEvent struct {
	ReportID   string `json:"reportId"`
	ReportType string `json:"reportType"`
	Location   string `json:"location"`
	UserName   string `json:"userName"`
}

type StatusEvent struct {
	UserToken  string `json:"userToken"`
	ReportID   string `json:"reportId"`
	NewStatus  string `json:"newStatus"`
	ReportType string `json:"reportType"`
	AdminNote  string `json:"adminNote"`
}

type BroadcastEvent struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	AdminID string `json:"adminId"`
}

var statusText = map[string]string{
	"pending":       "Pending Review",
	"investigating": "Being Investigated",
	"resolved":      "Resolved",
	"rejected":      "Rejected",
}

// StatusText renders a report status for people. Unknown values are
// returned unchanged.
func StatusText(status string) string {
	if s, ok := statusText[strings.ToLower(status)]; ok {
		return s
	}
	return status
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

var urgent = Hints{Priority: "high", ChannelID: "emergency_alerts", Sound: "default"}

// template is a message without its token.
func (e SOSEvent) template() Message {
	return Message{
		Title: "🚨 SOS ALERT",
		Body:  fmt.Sprintf("%s needs immediate help at %s", orUnknown(e.UserName), orUnknown(e.Location)),
		Data: map[string]string{
			"type":      TypeSOS,
			"reportId":  e.ReportID,
			"userName":  e.UserName,
			"location":  e.Location,
			"timestamp": e.Timestamp,
		},
		Hints: urgent,
	}
}

func (e ReportEvent) template() Message {
	return Message{
		Title: "📋 New Report: " + orUnknown(e.ReportType),
		Body: fmt.Sprintf("%s submitted a %s report at %s",
			orUnknown(e.UserName), orUnknown(e.ReportType), orUnknown(e.Location)),
		Data: map[string]string{
			"type":       TypeNewReport,
			"reportId":   e.ReportID,
			"reportType": e.ReportType,
			"location":   e.Location,
			"userName":   e.UserName,
		},
		Hints: Hints{Priority: "high", ChannelID: "reports", Sound: "default"},
	}
}

func (e StatusEvent) template() Message {
	status := StatusText(e.NewStatus)
	if status == "" {
		status = "Updated"
	}
	body := "Your report is now: " + status
	if e.ReportType != "" {
		body = fmt.Sprintf("Your %s report is now: %s", e.ReportType, status)
	}
	if e.AdminNote != "" {
		body += "\nNote: " + e.AdminNote
	}
	return Message{
		Token: e.UserToken,
		Title: "Report Status Updated",
		Body:  body,
		Data: map[string]string{
			"type":       TypeStatusUpdate,
			"reportId":   e.ReportID,
			"newStatus":  e.NewStatus,
			"reportType": e.ReportType,
			"adminNote":  e.AdminNote,
		},
		Hints: Hints{Priority: "normal", ChannelID: "report_updates", Sound: "default"},
	}
}

func (e BroadcastEvent) template() Message {
	return Message{
		Title: "📢 " + e.Title,
		Body:  e.Message,
		Data: map[string]string{
			"type":    TypeBroadcast,
			"title":   e.Title,
			"adminId": e.AdminID,
		},
		Hints: urgent,
	}
}

// addressed copies m once per token, each with its own data map.
func addressed(m Message, tokens []string) []Message {
	out := make([]Message, len(tokens))
	for i, tok := range tokens {
		data := make(map[string]string, len(m.Data))
		for k, v := range m.Data {
			data[k] = v
		}
		out[i] = m
		out[i].Token = tok
		out[i].Data = data
	}
	return out
}
