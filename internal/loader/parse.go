package loader

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/delivery-insights/internal/model"
)

var keyFolder = cases.Fold()

// NormalizeLocationKey folds a raw city or warehouse name into the
// shared location vocabulary: unicode-normalized, case-folded, spaces
// collapsed to underscores. "New  Delhi " and "new delhi" produce the
// same key.
func NormalizeLocationKey(raw string) string {
	s := norm.NFKC.String(strings.TrimSpace(raw))
	s = keyFolder.String(s)
	return strings.Join(strings.Fields(s), "_")
}

// timeLayouts lists the timestamp formats seen across source exports.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTime tries each known layout. The zero time signals failure.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseTimePtr(s string) *time.Time {
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

// orderStatuses maps source export spellings to the normalized status.
var orderStatuses = map[string]model.OrderStatus{
	"delivered":  model.StatusDelivered,
	"failed":     model.StatusFailed,
	"in_transit": model.StatusInTransit,
	"in-transit": model.StatusInTransit,
	"intransit":  model.StatusInTransit,
	"pending":    model.StatusInTransit,
	"cancelled":  model.StatusCancelled,
	"canceled":   model.StatusCancelled,
}

func parseOrders(rows [][]string, batch *model.Batch) int {
	if len(rows) < 2 {
		return 0
	}
	cols := columns(rows[0])
	malformed := 0
	for _, row := range rows[1:] {
		id := field(row, cols, "order_id")
		created := parseTime(field(row, cols, "created_at"))
		city := NormalizeLocationKey(field(row, cols, "city"))
		status, ok := orderStatuses[strings.ToLower(field(row, cols, "status"))]
		if id == "" || created.IsZero() || city == "" || !ok {
			malformed++
			continue
		}
		batch.Orders = append(batch.Orders, model.Order{
			ID:            id,
			ClientID:      field(row, cols, "client_id"),
			WarehouseID:   NormalizeLocationKey(field(row, cols, "warehouse_id")),
			City:          city,
			CreatedAt:     created,
			DispatchedAt:  parseTimePtr(field(row, cols, "dispatched_at")),
			DeliveredAt:   parseTimePtr(field(row, cols, "delivered_at")),
			FailedAt:      parseTimePtr(field(row, cols, "failed_at")),
			Status:        status,
			FailureReason: field(row, cols, "failure_reason"),
		})
	}
	return malformed
}

// fleetEvents maps source export spellings to the normalized event kind.
var fleetEvents = map[string]model.FleetEventKind{
	"route_start":   model.FleetRouteStart,
	"delay":         model.FleetDelay,
	"breakdown":     model.FleetBreakdown,
	"address_issue": model.FleetAddressIssue,
}

func parseFleetLogs(rows [][]string, batch *model.Batch) int {
	if len(rows) < 2 {
		return 0
	}
	cols := columns(rows[0])
	malformed := 0
	for _, row := range rows[1:] {
		id := field(row, cols, "log_id")
		ts := parseTime(field(row, cols, "timestamp"))
		loc := NormalizeLocationKey(field(row, cols, "location_key"))
		event, ok := fleetEvents[strings.ToLower(field(row, cols, "event"))]
		if id == "" || ts.IsZero() || loc == "" || !ok {
			malformed++
			continue
		}
		batch.FleetLogs = append(batch.FleetLogs, model.FleetLogEntry{
			ID:          id,
			OrderID:     field(row, cols, "order_id"),
			DriverID:    field(row, cols, "driver_id"),
			Timestamp:   ts,
			Event:       event,
			Note:        field(row, cols, "note"),
			LocationKey: loc,
		})
	}
	return malformed
}

var warehouseStages = map[string]model.WarehouseStage{
	"picked":     model.StagePicked,
	"packed":     model.StagePacked,
	"dispatched": model.StageDispatched,
}

func parseWarehouseLogs(rows [][]string, batch *model.Batch) int {
	if len(rows) < 2 {
		return 0
	}
	cols := columns(rows[0])
	malformed := 0
	for _, row := range rows[1:] {
		id := field(row, cols, "log_id")
		ts := parseTime(field(row, cols, "timestamp"))
		warehouse := NormalizeLocationKey(field(row, cols, "warehouse_id"))
		orderID := field(row, cols, "order_id")
		stage, ok := warehouseStages[strings.ToLower(field(row, cols, "stage"))]
		if id == "" || ts.IsZero() || warehouse == "" || orderID == "" || !ok {
			malformed++
			continue
		}
		entry := model.WarehouseLogEntry{
			ID:          id,
			WarehouseID: warehouse,
			OrderID:     orderID,
			Stage:       stage,
			Timestamp:   ts,
		}
		if raw := field(row, cols, "delay_minutes"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				entry.DelayMinutes = &n
			}
		}
		// Issue codes arrive semicolon-separated in one cell.
		for _, code := range strings.Split(field(row, cols, "issue_codes"), ";") {
			code = strings.ToLower(strings.TrimSpace(code))
			if code != "" {
				entry.IssueCodes = append(entry.IssueCodes, model.IssueCode(code))
			}
		}
		batch.WarehouseLogs = append(batch.WarehouseLogs, entry)
	}
	return malformed
}

var factorKinds = map[string]model.FactorKind{
	"weather": model.FactorWeather,
	"traffic": model.FactorTraffic,
	"holiday": model.FactorHoliday,
	"strike":  model.FactorStrike,
}

func parseExternalFactors(rows [][]string, batch *model.Batch) int {
	if len(rows) < 2 {
		return 0
	}
	cols := columns(rows[0])
	malformed := 0
	for _, row := range rows[1:] {
		id := field(row, cols, "factor_id")
		date := parseTime(field(row, cols, "date"))
		loc := NormalizeLocationKey(field(row, cols, "location_key"))
		factor, ok := factorKinds[strings.ToLower(field(row, cols, "factor"))]
		if id == "" || date.IsZero() || loc == "" || !ok {
			malformed++
			continue
		}
		severity, err := strconv.Atoi(field(row, cols, "severity"))
		if err != nil || severity < 0 || severity > 3 {
			malformed++
			continue
		}
		batch.ExternalFactors = append(batch.ExternalFactors, model.ExternalFactorRecord{
			ID:          id,
			LocationKey: loc,
			Date:        date,
			Factor:      factor,
			Severity:    severity,
		})
	}
	return malformed
}

func parseFeedback(rows [][]string, batch *model.Batch) int {
	if len(rows) < 2 {
		return 0
	}
	cols := columns(rows[0])
	malformed := 0
	for _, row := range rows[1:] {
		id := field(row, cols, "feedback_id")
		orderID := field(row, cols, "order_id")
		ts := parseTime(field(row, cols, "timestamp"))
		if id == "" || orderID == "" || ts.IsZero() {
			malformed++
			continue
		}
		sentiment, err := strconv.ParseFloat(field(row, cols, "sentiment"), 64)
		if err != nil || sentiment < -1 || sentiment > 1 {
			malformed++
			continue
		}
		batch.Feedback = append(batch.Feedback, model.FeedbackRecord{
			ID:        id,
			OrderID:   orderID,
			Timestamp: ts,
			Sentiment: sentiment,
			Category:  field(row, cols, "category"),
		})
	}
	return malformed
}
