package fcm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/AlexKimmel/aiproxy/internal/notify"
)

func TestBuild_HighPriority(t *testing.T) {
	m := Build(notify.Message{
		Token: "tok",
		Title: "🚨 SOS ALERT",
		Body:  "help",
		Data:  map[string]string{"type": "sos_alert", "reportId": ""},
		Hints: notify.Hints{Priority: "high", ChannelID: "emergency_alerts", Sound: "default"},
	})

	assert.Equal(t, "tok", m.Token)
	assert.Equal(t, "help", m.Notification.Body)
	assert.Equal(t, "HIGH", m.Android.Priority)
	assert.Equal(t, "emergency_alerts", m.Android.Notification.ChannelId)
	assert.Equal(t, "10", m.Apns.Headers["apns-priority"])
	assert.JSONEq(t, `{"aps":{"sound":"default"}}`, string(m.Apns.Payload))

	_, ok := m.Data["reportId"]
	assert.True(t, ok, "empty values keep their key")
}

func TestBuild_Defaults(t *testing.T) {
	m := Build(notify.Message{Token: "tok"})
	assert.Equal(t, "NORMAL", m.Android.Priority)
	assert.Nil(t, m.Android.Notification)
	assert.Equal(t, "5", m.Apns.Headers["apns-priority"])
}

type sendRecorder struct {
	mu    sync.Mutex
	paths []string
	token []string
}

func newFakeFCM(t *testing.T, rec *sendRecorder, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Message struct {
				Token string `json:"token"`
			} `json:"message"`
		}
		_ = json.Unmarshal(body, &req)

		rec.mu.Lock()
		rec.paths = append(rec.paths, r.URL.Path)
		rec.token = append(rec.token, req.Message.Token)
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = io.WriteString(w, `{"name":"projects/p/messages/1"}`)
			return
		}
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSend(t *testing.T) {
	rec := &sendRecorder{}
	srv := newFakeFCM(t, rec, http.StatusOK)

	s, err := New(context.Background(), Config{ProjectID: "p", PerSecond: 100},
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), notify.Message{Token: "device-1", Title: "t", Body: "b"}))

	require.Len(t, rec.paths, 1)
	assert.True(t, strings.HasSuffix(rec.paths[0], "/projects/p/messages:send"), rec.paths[0])
	assert.Equal(t, []string{"device-1"}, rec.token)
}

func TestSend_Rejected(t *testing.T) {
	rec := &sendRecorder{}
	srv := newFakeFCM(t, rec, http.StatusNotFound)

	s, err := New(context.Background(), Config{ProjectID: "p"},
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	err = s.Send(context.Background(), notify.Message{Token: "stale"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestNew_RequiresProject(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
