package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/emitra/internal/clock"
	"github.com/smallbiznis/emitra/internal/config"
	"github.com/smallbiznis/emitra/internal/events"
	"github.com/smallbiznis/emitra/internal/idempotency"
	ingestdomain "github.com/smallbiznis/emitra/internal/ingest/domain"
	ingestrepository "github.com/smallbiznis/emitra/internal/ingest/repository"
	ingestservice "github.com/smallbiznis/emitra/internal/ingest/service"
	measurementdomain "github.com/smallbiznis/emitra/internal/measurement/domain"
	sitedomain "github.com/smallbiznis/emitra/internal/site/domain"
	siterepository "github.com/smallbiznis/emitra/internal/site/repository"
	siteservice "github.com/smallbiznis/emitra/internal/site/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&sitedomain.Site{},
		&measurementdomain.Measurement{},
		&events.OutboxEvent{},
		&idempotency.Record{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	systemClock := clock.NewSystemClock()
	guard := idempotency.NewGuard(idempotency.GuardParams{
		DB:    db,
		Log:   log,
		Clock: systemClock,
		Cache: idempotency.NewMemoryCache(),
	})
	outbox := events.NewOutbox(node, systemClock)
	notifier := events.NewNotifier()

	siteSvc := siteservice.New(siteservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  siterepository.Provide(),
	})
	ingestSvc := ingestservice.New(ingestservice.Params{
		DB:       db,
		Log:      log,
		Clock:    systemClock,
		GenID:    node,
		Repo:     ingestrepository.Provide(),
		Guard:    guard,
		Outbox:   outbox,
		Notifier: notifier,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	return NewServer(ServerParams{
		Gin:       engine,
		Cfg:       config.Config{},
		DB:        db,
		SiteSvc:   siteSvc,
		IngestSvc: ingestSvc,
		Outbox:    outbox,
		Notifier:  notifier,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorPayload   `json:"error"`
	Meta    Meta            `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func createSite(t *testing.T, s *Server) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/v1/sites", gin.H{
		"name":           "North Field",
		"location":       "Permian Basin",
		"emission_limit": "5000",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	env := decodeEnvelope(t, rec)
	var site struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &site))
	require.NotEmpty(t, site.ID)
	return site.ID
}

func ingestBody(siteID string, values ...float64) gin.H {
	measurements := make([]gin.H, 0, len(values))
	for _, v := range values {
		measurements = append(measurements, gin.H{
			"value":     v,
			"timestamp": time.Date(2024, 6, 1, 11, 30, 0, 0, time.UTC),
		})
	}
	return gin.H{"site_id": siteID, "measurements": measurements}
}

func TestCreateAndGetSite(t *testing.T) {
	s := newTestServer(t)
	siteID := createSite(t, s)

	rec := doJSON(t, s, http.MethodGet, "/v1/sites/"+siteID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	var site struct {
		Name          string `json:"name"`
		EmissionLimit string `json:"emission_limit"`
		Version       int64  `json:"version"`
	}
	assert.NoError(t, json.Unmarshal(env.Data, &site))
	assert.Equal(t, "North Field", site.Name)
	assert.Equal(t, int64(1), site.Version)

	rec = doJSON(t, s, http.MethodGet, "/v1/sites", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSiteValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/sites", gin.H{
		"name":           "",
		"location":       "here",
		"emission_limit": "100",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_name", env.Error.Code)
}

func TestIngestEndpoint(t *testing.T) {
	s := newTestServer(t)
	siteID := createSite(t, s)

	rec := doJSON(t, s, http.MethodPost, "/v1/ingest", ingestBody(siteID, 50.5, 75.2), map[string]string{
		idempotencyKeyHeader: "K1",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.False(t, env.Meta.Duplicate)
	assert.Equal(t, "K1", env.Meta.IdempotencyKey)

	var result struct {
		BatchID          string `json:"batch_id"`
		MeasurementCount int    `json:"measurement_count"`
		Site             struct {
			TotalEmissions string `json:"total_emissions_to_date"`
			Version        int64  `json:"version"`
		} `json:"site"`
	}
	assert.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 2, result.MeasurementCount)
	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, "125.7", result.Site.TotalEmissions)
	assert.Equal(t, int64(2), result.Site.Version)
}

func TestIngestReplayReturnsIdenticalData(t *testing.T) {
	s := newTestServer(t)
	siteID := createSite(t, s)
	body := ingestBody(siteID, 10)
	headers := map[string]string{idempotencyKeyHeader: "K1"}

	first := doJSON(t, s, http.MethodPost, "/v1/ingest", body, headers)
	assert.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, s, http.MethodPost, "/v1/ingest", body, headers)
	assert.Equal(t, http.StatusCreated, second.Code)

	firstEnv := decodeEnvelope(t, first)
	secondEnv := decodeEnvelope(t, second)
	assert.False(t, firstEnv.Meta.Duplicate)
	assert.True(t, secondEnv.Meta.Duplicate)
	assert.JSONEq(t, string(firstEnv.Data), string(secondEnv.Data))
	assert.Equal(t, []byte(firstEnv.Data), []byte(secondEnv.Data))
}

func TestIngestMissingIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	siteID := createSite(t, s)

	rec := doJSON(t, s, http.MethodPost, "/v1/ingest", ingestBody(siteID, 10), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "missing_idempotency_key", env.Error.Code)
}

func TestIngestUnknownSiteEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/ingest", ingestBody("99999999999999", 10), map[string]string{
		idempotencyKeyHeader: "K1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "site_not_found", env.Error.Code)
}

func TestIngestMalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyKeyHeader, "K1")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_request", env.Error.Code)
}

func TestSiteMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	siteID := createSite(t, s)

	rec := doJSON(t, s, http.MethodPost, "/v1/ingest", ingestBody(siteID, 3000, 2500), map[string]string{
		idempotencyKeyHeader: "K1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/v1/sites/%s/metrics", siteID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var metrics struct {
		ComplianceStatus string `json:"compliance_status"`
		MeasurementCount int64  `json:"measurement_count"`
		AverageEmission  string `json:"average_emission"`
		TotalEmissions   string `json:"total_emissions_to_date"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &metrics))
	// 5500 against a 5000 limit
	assert.Equal(t, sitedomain.ComplianceLimitExceeded, metrics.ComplianceStatus)
	assert.Equal(t, int64(2), metrics.MeasurementCount)
	assert.Equal(t, "2750", metrics.AverageEmission)
	assert.Equal(t, "5500", metrics.TotalEmissions)
}

func TestOutboxStatsEndpoint(t *testing.T) {
	s := newTestServer(t)
	siteID := createSite(t, s)

	rec := doJSON(t, s, http.MethodGet, "/v1/outbox/stats", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	var stats struct {
		Pending int64 `json:"pending"`
	}
	assert.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Zero(t, stats.Pending)

	rec = doJSON(t, s, http.MethodPost, "/v1/ingest", ingestBody(siteID, 10), map[string]string{
		idempotencyKeyHeader: "K1",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/outbox/stats", nil, nil)
	env = decodeEnvelope(t, rec)
	assert.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.Pending)
}

func TestKeyContentionMapsToRetryableStatus(t *testing.T) {
	status, payload := mapError(ingestdomain.ErrKeyContention)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "idempotency_key_contention", payload.Code)
}
