// Package model defines the normalized record types and analysis output
// types shared across the attribution pipeline.
package model

import "time"

// OrderStatus represents the terminal state of an order.
type OrderStatus string

const (
	StatusDelivered OrderStatus = "delivered"
	StatusFailed    OrderStatus = "failed"
	StatusInTransit OrderStatus = "in_transit"
	StatusCancelled OrderStatus = "cancelled"
)

// Order is a single customer order. Stage timestamps are nil when the
// stage was never reached. Records are immutable once loaded.
type Order struct {
	ID            string      `json:"id"`
	ClientID      string      `json:"client_id"`
	WarehouseID   string      `json:"warehouse_id"`
	City          string      `json:"city"`
	CreatedAt     time.Time   `json:"created_at"`
	DispatchedAt  *time.Time  `json:"dispatched_at,omitempty"`
	DeliveredAt   *time.Time  `json:"delivered_at,omitempty"`
	FailedAt      *time.Time  `json:"failed_at,omitempty"`
	Status        OrderStatus `json:"status"`
	FailureReason string      `json:"failure_reason,omitempty"`
}

// LatestTimestamp returns the most recent stage timestamp the order
// reached. Used as the anchor for contextual correlation when an order
// has no failure timestamp.
func (o *Order) LatestTimestamp() time.Time {
	ts := o.CreatedAt
	for _, t := range []*time.Time{o.DispatchedAt, o.DeliveredAt, o.FailedAt} {
		if t != nil && t.After(ts) {
			ts = *t
		}
	}
	return ts
}

// FleetEventKind classifies a fleet log entry.
type FleetEventKind string

const (
	FleetRouteStart   FleetEventKind = "route_start"
	FleetDelay        FleetEventKind = "delay"
	FleetBreakdown    FleetEventKind = "breakdown"
	FleetAddressIssue FleetEventKind = "address_issue"
)

// FleetLogEntry is one driver/vehicle telemetry event. OrderID is empty
// for route-level entries that are not tied to a single order.
type FleetLogEntry struct {
	ID          string         `json:"id"`
	OrderID     string         `json:"order_id,omitempty"`
	DriverID    string         `json:"driver_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Event       FleetEventKind `json:"event"`
	Note        string         `json:"note,omitempty"`
	LocationKey string         `json:"location_key"`
}

// WarehouseStage identifies a step in warehouse order handling.
type WarehouseStage string

const (
	StagePicked     WarehouseStage = "picked"
	StagePacked     WarehouseStage = "packed"
	StageDispatched WarehouseStage = "dispatched"
)

// IssueCode classifies a warehouse handling problem.
type IssueCode string

const (
	IssueStockout IssueCode = "stockout"
	IssueMisPick  IssueCode = "mis_pick"
)

// WarehouseLogEntry is one stage record from warehouse dispatch logs.
// DelayMinutes is nil when the stage completed on schedule. A single
// entry may carry several issue codes.
type WarehouseLogEntry struct {
	ID           string         `json:"id"`
	WarehouseID  string         `json:"warehouse_id"`
	OrderID      string         `json:"order_id"`
	Stage        WarehouseStage `json:"stage"`
	Timestamp    time.Time      `json:"timestamp"`
	DelayMinutes *int           `json:"delay_minutes,omitempty"`
	IssueCodes   []IssueCode    `json:"issue_codes,omitempty"`
}

// FactorKind classifies an external condition record.
type FactorKind string

const (
	FactorWeather FactorKind = "weather"
	FactorTraffic FactorKind = "traffic"
	FactorHoliday FactorKind = "holiday"
	FactorStrike  FactorKind = "strike"
)

// ExternalFactorRecord is an ambient condition observed at a location on
// a date. Severity is ordinal 0-3.
type ExternalFactorRecord struct {
	ID          string     `json:"id"`
	LocationKey string     `json:"location_key"`
	Date        time.Time  `json:"date"`
	Factor      FactorKind `json:"factor"`
	Severity    int        `json:"severity"`
}

// FeedbackRecord is one piece of customer feedback tied to an order.
// Sentiment is continuous in [-1, 1].
type FeedbackRecord struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
	Sentiment float64   `json:"sentiment"`
	Category  string    `json:"category,omitempty"`
}

// RecordKind names a record domain for index lookups.
type RecordKind string

const (
	KindOrder     RecordKind = "order"
	KindFleet     RecordKind = "fleet"
	KindWarehouse RecordKind = "warehouse"
	KindExternal  RecordKind = "external"
	KindFeedback  RecordKind = "feedback"
)

// Batch is one closed set of normalized records for an analysis run.
// Held read-only for the run's duration.
type Batch struct {
	Orders          []Order                `json:"orders"`
	FleetLogs       []FleetLogEntry        `json:"fleet_logs"`
	WarehouseLogs   []WarehouseLogEntry    `json:"warehouse_logs"`
	ExternalFactors []ExternalFactorRecord `json:"external_factors"`
	Feedback        []FeedbackRecord       `json:"feedback"`
}

// Empty reports whether the batch contains no records of any kind.
func (b *Batch) Empty() bool {
	return b == nil || (len(b.Orders) == 0 && len(b.FleetLogs) == 0 &&
		len(b.WarehouseLogs) == 0 && len(b.ExternalFactors) == 0 && len(b.Feedback) == 0)
}
