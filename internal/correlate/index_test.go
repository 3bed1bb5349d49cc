package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/delivery-insights/internal/model"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func sampleBatch() *model.Batch {
	return &model.Batch{
		Orders: []model.Order{
			{ID: "o1", ClientID: "c1", WarehouseID: "w1", City: "chennai", CreatedAt: ts("2026-03-10T08:00:00Z"), Status: model.StatusFailed},
			{ID: "o2", ClientID: "c2", WarehouseID: "w1", City: "pune", CreatedAt: ts("2026-03-11T08:00:00Z"), Status: model.StatusDelivered},
			{ID: "o3", City: "", CreatedAt: ts("2026-03-11T08:00:00Z")}, // malformed, no city
		},
		FleetLogs: []model.FleetLogEntry{
			{ID: "f2", OrderID: "o1", DriverID: "d1", Timestamp: ts("2026-03-10T11:00:00Z"), Event: model.FleetDelay, LocationKey: "chennai"},
			{ID: "f1", OrderID: "o1", DriverID: "d1", Timestamp: ts("2026-03-10T09:00:00Z"), Event: model.FleetRouteStart, LocationKey: "chennai"},
			{ID: "f3", DriverID: "d2", Timestamp: ts("2026-03-10T10:00:00Z"), Event: model.FleetBreakdown, LocationKey: "chennai"},
			{ID: "f4", DriverID: "d2", Timestamp: ts("2026-03-10T10:00:00Z"), Event: model.FleetDelay, LocationKey: ""}, // malformed
		},
		WarehouseLogs: []model.WarehouseLogEntry{
			{ID: "wh1", WarehouseID: "w1", OrderID: "o1", Stage: model.StagePicked, Timestamp: ts("2026-03-10T07:00:00Z"), IssueCodes: []model.IssueCode{model.IssueStockout}},
		},
		ExternalFactors: []model.ExternalFactorRecord{
			{ID: "e1", LocationKey: "chennai", Date: ts("2026-03-10T00:00:00Z"), Factor: model.FactorWeather, Severity: 2},
			{ID: "e2", LocationKey: "chennai", Date: ts("2026-03-09T00:00:00Z"), Factor: model.FactorHoliday, Severity: 1},
			{ID: "e3", LocationKey: "pune", Date: ts("2026-03-11T00:00:00Z"), Factor: model.FactorStrike, Severity: 3},
		},
		Feedback: []model.FeedbackRecord{
			{ID: "fb1", OrderID: "o1", Timestamp: ts("2026-03-12T08:00:00Z"), Sentiment: -0.8},
		},
	}
}

func TestBuildRejectsEmptyBatch(t *testing.T) {
	t.Parallel()

	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = Build(&model.Batch{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestBuildCountsMalformed(t *testing.T) {
	t.Parallel()

	idx, err := Build(sampleBatch())
	require.NoError(t, err)

	// o3 (no city) and f4 (no location key).
	assert.Equal(t, 2, idx.Excluded())
	assert.Nil(t, idx.Order("o3"))
}

func TestOrdersFilterAndSort(t *testing.T) {
	t.Parallel()

	idx, err := Build(sampleBatch())
	require.NoError(t, err)

	all := idx.Orders(model.OrderFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, "o1", all[0].ID)
	assert.Equal(t, "o2", all[1].ID)

	chennai := idx.Orders(model.OrderFilter{City: "chennai"})
	require.Len(t, chennai, 1)
	assert.Equal(t, "o1", chennai[0].ID)
}

func TestBucketsSortedByTimestampThenID(t *testing.T) {
	t.Parallel()

	idx, err := Build(sampleBatch())
	require.NoError(t, err)

	linked := idx.FleetByOrder("o1")
	require.Len(t, linked, 2)
	assert.Equal(t, "f1", linked[0].ID)
	assert.Equal(t, "f2", linked[1].ID)
}

func TestFleetInWindow(t *testing.T) {
	t.Parallel()

	idx, err := Build(sampleBatch())
	require.NoError(t, err)

	// Window covering 09:00-10:30 picks up f1 and f3, not f2.
	got := idx.FleetInWindow("chennai", ts("2026-03-10T09:00:00Z"), ts("2026-03-10T10:30:00Z"))
	require.Len(t, got, 2)
	assert.Equal(t, "f1", got[0].ID)
	assert.Equal(t, "f3", got[1].ID)

	// Bounds are inclusive.
	exact := idx.FleetInWindow("chennai", ts("2026-03-10T11:00:00Z"), ts("2026-03-10T11:00:00Z"))
	require.Len(t, exact, 1)
	assert.Equal(t, "f2", exact[0].ID)

	assert.Empty(t, idx.FleetInWindow("pune", ts("2026-03-10T00:00:00Z"), ts("2026-03-10T23:00:00Z")))
}

func TestFleetInWindowSpansDays(t *testing.T) {
	t.Parallel()

	batch := &model.Batch{
		Orders: []model.Order{{ID: "o1", City: "pune", CreatedAt: ts("2026-03-10T08:00:00Z")}},
		FleetLogs: []model.FleetLogEntry{
			{ID: "f1", DriverID: "d1", Timestamp: ts("2026-03-09T23:30:00Z"), Event: model.FleetDelay, LocationKey: "pune"},
			{ID: "f2", DriverID: "d1", Timestamp: ts("2026-03-10T00:30:00Z"), Event: model.FleetDelay, LocationKey: "pune"},
		},
	}
	idx, err := Build(batch)
	require.NoError(t, err)

	got := idx.FleetInWindow("pune", ts("2026-03-09T23:00:00Z"), ts("2026-03-10T01:00:00Z"))
	assert.Len(t, got, 2)
}

func TestExternalInWindowDayResolution(t *testing.T) {
	t.Parallel()

	idx, err := Build(sampleBatch())
	require.NoError(t, err)

	// A mid-day window still matches the factor dated that day.
	got := idx.ExternalInWindow("chennai", ts("2026-03-10T06:00:00Z"), ts("2026-03-10T18:00:00Z"))
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)

	// 48h window reaches the previous day's holiday too.
	got = idx.ExternalInWindow("chennai", ts("2026-03-09T12:00:00Z"), ts("2026-03-10T12:00:00Z"))
	require.Len(t, got, 2)
	assert.Equal(t, "e2", got[0].ID)
	assert.Equal(t, "e1", got[1].ID)
}

func TestInHolidayPeriod(t *testing.T) {
	t.Parallel()

	batch := sampleBatch()
	batch.Orders = append(batch.Orders, model.Order{
		ID: "o4", City: "pune", CreatedAt: ts("2026-03-11T14:00:00Z"), Status: model.StatusDelivered,
	})
	idx, err := Build(batch)
	require.NoError(t, err)

	// o4 created on pune's strike day.
	assert.True(t, idx.InHolidayPeriod(idx.Order("o4")))
	// o1 created on chennai's weather day, not a holiday.
	assert.False(t, idx.InHolidayPeriod(idx.Order("o1")))
}

func TestHasWarehouse(t *testing.T) {
	t.Parallel()

	idx, err := Build(sampleBatch())
	require.NoError(t, err)

	assert.True(t, idx.HasWarehouse("w1"))
	assert.False(t, idx.HasWarehouse("w9"))
}
