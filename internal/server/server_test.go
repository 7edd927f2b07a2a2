package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victoria-analytics/traitmeter/internal/cluster"
	"github.com/victoria-analytics/traitmeter/internal/config"
	"github.com/victoria-analytics/traitmeter/internal/database"
	"github.com/victoria-analytics/traitmeter/internal/mapper"
	"github.com/victoria-analytics/traitmeter/internal/pipeline"
	"github.com/victoria-analytics/traitmeter/internal/profile"
	"github.com/victoria-analytics/traitmeter/internal/traits"
)

const surveyCSV = `respondent_id,F1,F2,O1,O2
p1,Always (91-100%),Often (66-90%),Always (91-100%),Often (66-90%)
p2,Often (66-90%),Always (91-100%),Often (66-90%),Always (91-100%)
p3,Always (91-100%),Always (91-100%),Often (66-90%),Often (66-90%)
p4,Never (0-10%),Seldom (11-35%),Never (0-10%),Seldom (11-35%)
p5,Seldom (11-35%),Never (0-10%),Seldom (11-35%),Never (0-10%)
p6,Never (0-10%),Never (0-10%),Seldom (11-35%),Seldom (11-35%)
`

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	def, err := traits.Parse([]byte(`
traits:
  - name: Focus
    items: [F1, F2]
  - name: Openness
    items: [O1, O2]
`))
	require.NoError(t, err)

	templates, err := cluster.ParseTemplates([]byte(`
archetypes:
  - {name: Driver, weights: {Focus: 1.0, Openness: -1.0}}
  - {name: Supporter, weights: {Focus: -1.0, Openness: 1.0}}
  - {name: Explorer, weights: {Openness: 1.0}}
  - {name: Anchor, weights: {Focus: 1.0}}
  - {name: Generalist, weights: {Focus: 0.5, Openness: 0.5}}
`))
	require.NoError(t, err)

	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipe := pipeline.New(mapper.DefaultLikertScale(), def, templates, nil, logger)

	cfg := config.Config{
		AllowedOrigins:     []string{"http://localhost:3000"},
		RateLimitPerMinute: 6000,
		RateLimitBurst:     100,
	}
	return New(pipe, database.NewStore(db), cfg, logger).Router()
}

func uploadRequest(t *testing.T, csvBody string, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "survey.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csvBody))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCreateBatchScoresAndPersists(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, surveyCSV, map[string]string{"seed": "7"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var outcome struct {
		Report   pipeline.BatchReport    `json:"report"`
		Profiles []profile.PersonProfile `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.NotEmpty(t, outcome.Report.RunID)
	assert.Len(t, outcome.Profiles, 6)
	assert.True(t, outcome.Report.Converged)

	runID := outcome.Report.RunID

	// The run is immediately retrievable.
	get := httptest.NewRecorder()
	router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/v1/batches/"+runID, nil))
	assert.Equal(t, http.StatusOK, get.Code)

	list := httptest.NewRecorder()
	router.ServeHTTP(list, httptest.NewRequest(http.MethodGet, "/v1/batches", nil))
	assert.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), runID)

	profiles := httptest.NewRecorder()
	router.ServeHTTP(profiles, httptest.NewRequest(http.MethodGet, "/v1/batches/"+runID+"/profiles", nil))
	assert.Equal(t, http.StatusOK, profiles.Code)

	one := httptest.NewRecorder()
	router.ServeHTTP(one, httptest.NewRequest(http.MethodGet, "/v1/batches/"+runID+"/profiles/p3", nil))
	assert.Equal(t, http.StatusOK, one.Code)
	assert.Contains(t, one.Body.String(), `"person_id":"p3"`)
}

func TestCreateBatchRequiresFile(t *testing.T) {
	router := newTestRouter(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("estimator", "jmle"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "data_format")
}

func TestCreateBatchRejectsMalformedCSV(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "id,Q1\np1,Never (0-10%)\n", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "data_format")
}

func TestCreateBatchRejectsDuplicatePersons(t *testing.T) {
	router := newTestRouter(t)
	dup := strings.Replace(surveyCSV, "p2,", "p1,", 1)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, dup, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicates")
}

func TestCreateBatchRejectsUnknownOptions(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name   string
		fields map[string]string
	}{
		{name: "unknown estimator", fields: map[string]string{"estimator": "bayesian"}},
		{name: "unknown percentile mode", fields: map[string]string{"percentile_mode": "zscore"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, uploadRequest(t, surveyCSV, tt.fields))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "data_format")
		})
	}
}

func TestGetBatchNotFound(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		path string
	}{
		{name: "unknown run", path: "/v1/batches/no-such-run"},
		{name: "unknown run profiles", path: "/v1/batches/no-such-run/profiles"},
		{name: "unknown person", path: "/v1/batches/no-such-run/profiles/p1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestListBatchesLimitClamped(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batches?limit=0", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	post := httptest.NewRecorder()
	router.ServeHTTP(post, uploadRequest(t, surveyCSV, nil))
	require.Equal(t, http.StatusCreated, post.Code)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, float64(1), stats["batches_scored"])
	assert.Equal(t, float64(6), stats["persons_scored"])
}

func TestStatsCountErrorResponses(t *testing.T) {
	router := newTestRouter(t)

	// A rejected upload must be recorded with the status the client saw.
	bad := httptest.NewRecorder()
	router.ServeHTTP(bad, uploadRequest(t, "id,Q1\np1,Never (0-10%)\n", nil))
	require.Equal(t, http.StatusBadRequest, bad.Code)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Errors   float64            `json:"errors"`
		ByStatus map[string]float64 `json:"requests_by_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.GreaterOrEqual(t, stats.Errors, float64(1))
	assert.GreaterOrEqual(t, stats.ByStatus["400"], float64(1))
}

func TestSecurityHeadersApplied(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestGetBatchServedFromCacheOnRepeat(t *testing.T) {
	router := newTestRouter(t)

	post := httptest.NewRecorder()
	router.ServeHTTP(post, uploadRequest(t, surveyCSV, nil))
	require.Equal(t, http.StatusCreated, post.Code)

	var outcome struct {
		Report pipeline.BatchReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(post.Body.Bytes(), &outcome))

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/batches/"+outcome.Report.RunID, nil))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/batches/"+outcome.Report.RunID, nil))

	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	stats := httptest.NewRecorder()
	router.ServeHTTP(stats, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	var snap map[string]interface{}
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &snap))
	assert.GreaterOrEqual(t, snap["cache_hits"].(float64), float64(1))
}
