package model

import "time"

// CauseKind tags the domain a cause candidate came from. The declared
// order is also the tie-break priority for equal scores: warehouse
// evidence outranks fleet, fleet outranks external, external outranks
// feedback.
type CauseKind string

const (
	CauseWarehouse CauseKind = "warehouse"
	CauseFleet     CauseKind = "fleet"
	CauseExternal  CauseKind = "external"
	CauseFeedback  CauseKind = "feedback"
)

// causePriority maps each kind to its tie-break rank. Lower is stronger.
var causePriority = map[CauseKind]int{
	CauseWarehouse: 0,
	CauseFleet:     1,
	CauseExternal:  2,
	CauseFeedback:  3,
}

// Priority returns the tie-break rank of the kind. Unknown kinds sort
// last.
func (k CauseKind) Priority() int {
	p, ok := causePriority[k]
	if !ok {
		return len(causePriority)
	}
	return p
}

// CauseCandidate is one piece of evidence considered a possible
// contributor to an order's failure or delay.
type CauseCandidate struct {
	Kind      CauseKind `json:"kind"`
	RecordID  string    `json:"record_id"`
	Score     float64   `json:"score"`
	Rationale string    `json:"rationale"`
	Direct    bool      `json:"direct"`
}

// Attribution is the ranked explanation for a single order. Candidates
// are sorted descending by score with the kind-priority tie-break, so
// identical inputs always reproduce identical output. An attribution
// with no candidates is explicitly unattributed, never dropped.
type Attribution struct {
	OrderID    string           `json:"order_id"`
	Candidates []CauseCandidate `json:"candidates"`
	Confidence float64          `json:"confidence"`
}

// Unattributed reports whether no evidence was found for the order.
func (a *Attribution) Unattributed() bool {
	return len(a.Candidates) == 0
}

// Primary returns the top-ranked candidate, or nil when unattributed.
func (a *Attribution) Primary() *CauseCandidate {
	if len(a.Candidates) == 0 {
		return nil
	}
	return &a.Candidates[0]
}

// OrderFilter selects a subset of orders for aggregate analysis. Zero
// fields match everything; set fields are ANDed together.
type OrderFilter struct {
	City        string     `json:"city,omitempty"`
	ClientID    string     `json:"client_id,omitempty"`
	WarehouseID string     `json:"warehouse_id,omitempty"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
}

// Matches reports whether the order satisfies every set field. The date
// range applies to the order's creation timestamp, inclusive on both
// ends.
func (f OrderFilter) Matches(o *Order) bool {
	if f.City != "" && o.City != f.City {
		return false
	}
	if f.ClientID != "" && o.ClientID != f.ClientID {
		return false
	}
	if f.WarehouseID != "" && o.WarehouseID != f.WarehouseID {
		return false
	}
	if f.From != nil && o.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && o.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// CauseFrequency is one row of a ranked cause table.
type CauseFrequency struct {
	Kind  CauseKind `json:"kind"`
	Count int       `json:"count"`
	Share float64   `json:"share"` // fraction of failed orders, 0 when none
}

// AggregateResult is the reduced statistics for one filtered order
// scope. When InsufficientData is set the counts are zero and rates
// must not be rendered.
type AggregateResult struct {
	Filter             OrderFilter      `json:"filter"`
	TotalOrders        int              `json:"total_orders"`
	FailedOrders       int              `json:"failed_orders"`
	FailureRate        float64          `json:"failure_rate"`
	PrimaryCauses      []CauseFrequency `json:"primary_causes"`
	ContributingCauses []CauseFrequency `json:"contributing_causes"`
	Unattributed       int              `json:"unattributed"`
	ExcludedRecords    int              `json:"excluded_records"`
	InsufficientData   bool             `json:"insufficient_data"`
}

// ComparativeResult contrasts two scopes.
type ComparativeResult struct {
	A         AggregateResult `json:"a"`
	B         AggregateResult `json:"b"`
	RateDelta float64         `json:"rate_delta"` // A minus B
	OnlyInA   []CauseKind     `json:"only_in_a"`  // top-3 dominant in A, absent from B's top-3
	OnlyInB   []CauseKind     `json:"only_in_b"`
}

// RiskProjection estimates failure risk for the next festival-like
// period from historical holiday/strike windows. It is a historical
// analogy, not a statistical forecast.
type RiskProjection struct {
	Profile      AggregateResult `json:"profile"`
	PeriodOrders int             `json:"period_orders"`
	ExpectedRate float64         `json:"expected_rate"`
	HighRisk     bool            `json:"high_risk"`
}

// ScalingProjection extrapolates the baseline failure rate onto added
// monthly volume. The extrapolation is linear; it does not model
// congestion effects at higher volume.
type ScalingProjection struct {
	Baseline           AggregateResult `json:"baseline"`
	ExtraMonthlyOrders int             `json:"extra_monthly_orders"`
	Months             int             `json:"months"`
	ProjectedFailures  int             `json:"projected_failures"`
	CapacityRisk       bool            `json:"capacity_risk"`
	Threshold          float64         `json:"threshold"`
}
