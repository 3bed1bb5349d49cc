package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/delivery-insights/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNormalizeLocationKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"lowercase passthrough", "chennai", "chennai"},
		{"case folded", "Chennai", "chennai"},
		{"spaces collapsed", "New  Delhi ", "new_delhi"},
		{"mixed whitespace", "\tnew\tdelhi\n", "new_delhi"},
		{"empty", "", ""},
		{"already keyed", "new_delhi", "new_delhi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeLocationKey(tt.raw))
		})
	}
}

func TestLoadDirCSV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "orders.csv", `order_id,client_id,warehouse_id,city,created_at,delivered_at,failed_at,status,failure_reason
o1,c1,Warehouse A,Chennai,2026-03-10T08:00:00Z,,2026-03-10T20:00:00Z,failed,address not found
o2,c2,Warehouse A,Pune,2026-03-10 09:00:00,2026-03-11T09:00:00Z,,Delivered,
,c3,Warehouse A,Pune,2026-03-10T08:00:00Z,,,failed,
o4,c4,Warehouse A,,2026-03-10T08:00:00Z,,,failed,
`)
	writeFile(t, dir, "fleet_logs.csv", `log_id,order_id,driver_id,timestamp,event,note,location_key
f1,o1,d1,2026-03-10T10:00:00Z,breakdown,engine,Chennai
f2,,d2,2026-03-10T11:00:00Z,unknown_event,,Chennai
`)
	writeFile(t, dir, "external_factors.csv", `factor_id,location_key,date,factor,severity
e1,Chennai,2026-03-10,weather,2
e2,Chennai,2026-03-10,weather,9
`)

	result, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)

	// o3 has no id, o4 has no city, f2 an unknown event, e2 severity 9.
	assert.Equal(t, 4, result.Malformed)

	require.Len(t, result.Batch.Orders, 2)
	o1 := result.Batch.Orders[0]
	assert.Equal(t, "o1", o1.ID)
	assert.Equal(t, "chennai", o1.City)
	assert.Equal(t, "warehouse_a", o1.WarehouseID)
	assert.Equal(t, model.StatusFailed, o1.Status)
	require.NotNil(t, o1.FailedAt)
	assert.Nil(t, o1.DeliveredAt)

	o2 := result.Batch.Orders[1]
	assert.Equal(t, model.StatusDelivered, o2.Status)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), o2.CreatedAt)

	require.Len(t, result.Batch.FleetLogs, 1)
	assert.Equal(t, model.FleetBreakdown, result.Batch.FleetLogs[0].Event)
	assert.Equal(t, "chennai", result.Batch.FleetLogs[0].LocationKey)

	require.Len(t, result.Batch.ExternalFactors, 1)
	assert.Equal(t, 2, result.Batch.ExternalFactors[0].Severity)
}

func TestLoadDirWarehouseIssueCodes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "warehouse_logs.csv", `log_id,warehouse_id,order_id,stage,timestamp,delay_minutes,issue_codes
wh1,Warehouse A,o1,picked,2026-03-10T09:00:00Z,45,stockout; mis_pick
wh2,Warehouse A,o2,packed,2026-03-10T10:00:00Z,,
`)

	result, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, result.Batch.WarehouseLogs, 2)

	wh1 := result.Batch.WarehouseLogs[0]
	require.NotNil(t, wh1.DelayMinutes)
	assert.Equal(t, 45, *wh1.DelayMinutes)
	assert.Equal(t, []model.IssueCode{model.IssueStockout, model.IssueMisPick}, wh1.IssueCodes)

	wh2 := result.Batch.WarehouseLogs[1]
	assert.Nil(t, wh2.DelayMinutes)
	assert.Empty(t, wh2.IssueCodes)
}

func TestLoadDirFeedbackValidation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "feedback.csv", `feedback_id,order_id,timestamp,sentiment,category
fb1,o1,2026-03-10T12:00:00Z,-0.8,delivery
fb2,o1,2026-03-10T12:00:00Z,2.5,delivery
fb3,,2026-03-10T12:00:00Z,0.1,delivery
`)

	result, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Malformed)
	require.Len(t, result.Batch.Feedback, 1)
	assert.InDelta(t, -0.8, result.Batch.Feedback[0].Sentiment, 1e-9)
}

func TestLoadDirXLSX(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("orders")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"order_id", "client_id", "warehouse_id", "city", "created_at", "status"},
		{"o1", "c1", "Warehouse A", "Chennai", "2026-03-10T08:00:00Z", "failed"},
	} {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}
	require.NoError(t, f.Save(filepath.Join(dir, "orders.xlsx")))

	result, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, result.Batch.Orders, 1)
	assert.Equal(t, "o1", result.Batch.Orders[0].ID)
	assert.Equal(t, "chennai", result.Batch.Orders[0].City)
}

func TestLoadDirSkipsMissingTables(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "orders.csv", `order_id,city,created_at,status
o1,Chennai,2026-03-10T08:00:00Z,failed
`)

	result, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, result.Batch.Orders, 1)
	assert.Empty(t, result.Batch.FleetLogs)
}

func TestLoadDirNoTables(t *testing.T) {
	t.Parallel()

	_, err := LoadDir(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestLoadDirCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LoadDir(ctx, t.TempDir())
	assert.Error(t, err)
}

func TestParseTimeLayouts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2026-03-10T08:00:00Z", time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)},
		{"2026-03-10 08:00:00", time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)},
		{"2026-03-10T08:00:00", time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)},
		{"2026-03-10", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		{"not a time", time.Time{}},
		{"", time.Time{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseTime(tt.raw), tt.raw)
	}
}

func TestParseFTPURL(t *testing.T) {
	t.Parallel()

	host, path, err := parseFTPURL("ftp://drops.example.com/daily")
	require.NoError(t, err)
	assert.Equal(t, "drops.example.com:21", host)
	assert.Equal(t, "/daily", path)

	host, _, err = parseFTPURL("ftp://drops.example.com:2121/daily")
	require.NoError(t, err)
	assert.Equal(t, "drops.example.com:2121", host)

	_, _, err = parseFTPURL("https://example.com/daily")
	assert.Error(t, err)

	_, _, err = parseFTPURL("ftp://example.com")
	assert.Error(t, err)
}
