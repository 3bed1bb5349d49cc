package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/delivery-insights/internal/analyzer"
	"github.com/sells-group/delivery-insights/internal/attribution"
	"github.com/sells-group/delivery-insights/internal/correlate"
	"github.com/sells-group/delivery-insights/internal/model"
	"github.com/sells-group/delivery-insights/internal/store"
)

func testEnv(t *testing.T) *analysisEnv {
	t.Helper()

	failedAt := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	deliveredAt := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	batch := &model.Batch{
		Orders: []model.Order{
			{
				ID: "o1", ClientID: "c1", WarehouseID: "w1", City: "chennai",
				CreatedAt: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
				FailedAt:  &failedAt, Status: model.StatusFailed,
			},
			{
				ID: "o2", ClientID: "c2", WarehouseID: "w1", City: "pune",
				CreatedAt:   time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
				DeliveredAt: &deliveredAt, Status: model.StatusDelivered,
			},
		},
		WarehouseLogs: []model.WarehouseLogEntry{
			{
				ID: "wh1", WarehouseID: "w1", OrderID: "o1", Stage: model.StagePicked,
				Timestamp:  time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
				IssueCodes: []model.IssueCode{model.IssueStockout},
			},
		},
	}

	st := store.NewMemory()
	require.NoError(t, st.SaveBatch(context.Background(), batch))

	idx, err := correlate.Build(batch)
	require.NoError(t, err)
	engine := attribution.NewEngine(idx, attribution.DefaultPolicy(), attribution.DefaultConfig())
	an := analyzer.New(idx, engine, analyzer.DefaultConfig())

	return &analysisEnv{Store: st, Index: idx, Engine: engine, Analyzer: an}
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	return newRouter(testEnv(t), rate.NewLimiter(rate.Inf, 0))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeHealth(t *testing.T) {
	rec := get(t, testRouter(t), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestServeAttribution(t *testing.T) {
	rec := get(t, testRouter(t), "/api/attribution/o1")
	require.Equal(t, http.StatusOK, rec.Code)

	var att model.Attribution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &att))
	assert.Equal(t, "o1", att.OrderID)
	require.NotEmpty(t, att.Candidates)
	assert.Equal(t, model.CauseWarehouse, att.Candidates[0].Kind)
}

func TestServeAttributionNotFound(t *testing.T) {
	rec := get(t, testRouter(t), "/api/attribution/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeAttributionNotEligible(t *testing.T) {
	// o2 was delivered on time, so attribution is rejected.
	rec := get(t, testRouter(t), "/api/attribution/o2")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServeProfile(t *testing.T) {
	rec := get(t, testRouter(t), "/api/profile?city=Chennai")
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.AggregateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.TotalOrders)
	assert.Equal(t, 1, result.FailedOrders)
}

func TestServeProfileBadDate(t *testing.T) {
	rec := get(t, testRouter(t), "/api/profile?from=03/01/2026")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeCompare(t *testing.T) {
	rec := get(t, testRouter(t), "/api/compare?city_a=Chennai&city_b=Pune")
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.ComparativeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.InDelta(t, 1.0, result.RateDelta, 1e-9)
}

func TestServeCompareMissingCities(t *testing.T) {
	rec := get(t, testRouter(t), "/api/compare?city_a=Chennai")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeScalingRisk(t *testing.T) {
	rec := get(t, testRouter(t), "/api/risk/scaling?city=Chennai&extra_orders=1000&months=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var proj model.ScalingProjection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proj))
	assert.Equal(t, 2000, proj.ProjectedFailures)
	assert.True(t, proj.CapacityRisk)
}

func TestServeScalingRiskBadParams(t *testing.T) {
	rec := get(t, testRouter(t), "/api/risk/scaling")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, testRouter(t), "/api/risk/scaling?extra_orders=100&months=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeFestivalRisk(t *testing.T) {
	rec := get(t, testRouter(t), "/api/risk/festival")
	require.Equal(t, http.StatusOK, rec.Code)

	var proj model.RiskProjection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proj))
	// No holiday or strike records in the batch.
	assert.True(t, proj.Profile.InsufficientData)
}

func TestServeRateLimit(t *testing.T) {
	router := newRouter(testEnv(t), rate.NewLimiter(rate.Limit(0), 1))

	first := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, first.Code)

	second := get(t, router, "/health")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
