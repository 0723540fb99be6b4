package vision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const annotateResp = `{
  "responses": [{
    "labelAnnotations": [{"description": "Flood", "score": 0.93}, {"description": "Water", "score": 0.88}],
    "localizedObjectAnnotations": [{"name": "Car", "score": 0.71}],
    "safeSearchAnnotation": {"adult": "VERY_UNLIKELY", "violence": "UNLIKELY", "racy": "VERY_UNLIKELY"}
  }]
}`

func TestAnalyze(t *testing.T) {
	var gotReq map[string]any
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, annotateResp)
	}))
	defer srv.Close()

	a, err := New(context.Background(), "vision-key", option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	got, err := a.Analyze(context.Background(), "https://cdn.example/flood.jpg")
	require.NoError(t, err)

	assert.Equal(t, "vision-key", gotKey)
	assert.Equal(t, []Label{{"Flood", 0.93}, {"Water", 0.88}}, got.Labels)
	assert.Equal(t, []Object{{"Car", 0.71}}, got.Objects)
	assert.Equal(t, map[string]string{"adult": "VERY_UNLIKELY", "violence": "UNLIKELY", "racy": "VERY_UNLIKELY"}, got.SafeSearch)

	reqs := gotReq["requests"].([]any)
	require.Len(t, reqs, 1)
	feats := reqs[0].(map[string]any)["features"].([]any)
	assert.Len(t, feats, 3)
}

func TestAnalyze_PerImageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"responses":[{"error":{"code":3,"message":"image URI unreachable"}}]}`)
	}))
	defer srv.Close()

	a, err := New(context.Background(), "k", option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "https://nowhere/x.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestReshape_Empty(t *testing.T) {
	got := reshape(nil)
	assert.NotNil(t, got.Labels)
	assert.NotNil(t, got.Objects)
	assert.NotNil(t, got.SafeSearch)
}
