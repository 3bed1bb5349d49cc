package attribution

import (
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/delivery-insights/internal/correlate"
	"github.com/sells-group/delivery-insights/internal/model"
)

// LocationRadius selects the location vocabulary used for contextual
// correlation.
type LocationRadius string

const (
	RadiusSameCity      LocationRadius = "same_city"
	RadiusSameWarehouse LocationRadius = "same_warehouse"
)

// Config holds the engine knobs consumed from configuration.
type Config struct {
	// Lookback bounds the contextual evidence window before the
	// order's anchor timestamp.
	Lookback time.Duration

	// Radius picks the location key contextual evidence must share
	// with the order.
	Radius LocationRadius

	// DelayThreshold marks a delivered order as delayed when the gap
	// between creation and delivery exceeds it.
	DelayThreshold time.Duration
}

// DefaultConfig returns the engine defaults: 48h lookback, same-city
// correlation, 72h delay threshold.
func DefaultConfig() Config {
	return Config{
		Lookback:       48 * time.Hour,
		Radius:         RadiusSameCity,
		DelayThreshold: 72 * time.Hour,
	}
}

// ErrNotEligible is returned when Attribute is called on an order that
// neither failed nor exceeded the delay threshold.
var ErrNotEligible = eris.New("attribution: order is neither failed nor delayed")

// MissingReferenceError records a cross-referenced id absent from the
// batch. It degrades the attribution to contextual evidence for that
// edge; it is never fatal.
type MissingReferenceError struct {
	OrderID string
	RefKind string
	RefID   string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("attribution: order %s references unknown %s %s", e.OrderID, e.RefKind, e.RefID)
}

// Engine attributes a single order's failure or delay to ranked cause
// candidates. It reads only from the immutable correlation index, so a
// single Engine is safe for concurrent use.
type Engine struct {
	idx    *correlate.Index
	policy Policy
	cfg    Config
}

// NewEngine creates an Engine over a built index.
func NewEngine(idx *correlate.Index, policy Policy, cfg Config) *Engine {
	return &Engine{idx: idx, policy: policy, cfg: cfg}
}

// Eligible reports whether the order qualifies for attribution: failed,
// or delivered later than the delay threshold after creation.
func (e *Engine) Eligible(o *model.Order) bool {
	if o.Status == model.StatusFailed {
		return true
	}
	if o.Status == model.StatusDelivered && o.DeliveredAt != nil {
		return o.DeliveredAt.Sub(o.CreatedAt) > e.cfg.DelayThreshold
	}
	return false
}

// Attribute produces the ranked attribution for one order. Output is
// deterministic for a fixed batch: same inputs, byte-identical ranking.
// An order with no correlated evidence yields an explicit unattributed
// result, not an error.
func (e *Engine) Attribute(o *model.Order) (model.Attribution, error) {
	if o == nil {
		return model.Attribution{}, eris.New("attribution: nil order")
	}
	if !e.Eligible(o) {
		return model.Attribution{}, eris.Wrapf(ErrNotEligible, "order %s status %s", o.ID, o.Status)
	}

	anchor := e.anchor(o)
	candidates := e.directEvidence(o)
	candidates = append(candidates, e.contextualEvidence(o, anchor)...)
	candidates = dropZeroScore(candidates)

	rank(candidates)

	return model.Attribution{
		OrderID:    o.ID,
		Candidates: candidates,
		Confidence: confidence(candidates, e.policy.Epsilon),
	}, nil
}

// anchor returns the timestamp contextual windows are measured from:
// the failure time when present, otherwise the latest known stage.
func (e *Engine) anchor(o *model.Order) time.Time {
	if o.FailedAt != nil {
		return *o.FailedAt
	}
	return o.LatestTimestamp()
}

// directEvidence admits every record cross-referenced by the order's id
// regardless of window. Direct linkage carries full recency.
func (e *Engine) directEvidence(o *model.Order) []model.CauseCandidate {
	var out []model.CauseCandidate

	warehouseLogs := e.idx.WarehouseByOrder(o.ID)
	if len(warehouseLogs) == 0 && o.WarehouseID != "" && !e.idx.HasWarehouse(o.WarehouseID) {
		refErr := &MissingReferenceError{OrderID: o.ID, RefKind: "warehouse", RefID: o.WarehouseID}
		zap.L().Debug("attribution: missing reference", zap.Error(refErr))
	}
	for _, w := range warehouseLogs {
		base := e.policy.BaseWeights[model.CauseWarehouse]
		if len(w.IssueCodes) == 0 {
			out = append(out, model.CauseCandidate{
				Kind:      model.CauseWarehouse,
				RecordID:  w.ID,
				Score:     base * e.delaySeverity(w),
				Rationale: fmt.Sprintf("direct_warehouse_stage:%s", w.Stage),
				Direct:    true,
			})
			continue
		}
		// Each issue code on the entry is a separate candidate sharing
		// the record's base score.
		for _, code := range w.IssueCodes {
			out = append(out, model.CauseCandidate{
				Kind:      model.CauseWarehouse,
				RecordID:  w.ID,
				Score:     base * e.policy.issueSeverity(code),
				Rationale: fmt.Sprintf("direct_warehouse_issue:%s", code),
				Direct:    true,
			})
		}
	}

	for _, f := range e.idx.FleetByOrder(o.ID) {
		out = append(out, model.CauseCandidate{
			Kind:      model.CauseFleet,
			RecordID:  f.ID,
			Score:     e.policy.BaseWeights[model.CauseFleet] * e.policy.fleetSeverity(f.Event),
			Rationale: fmt.Sprintf("direct_fleet_event:%s", f.Event),
			Direct:    true,
		})
	}

	for _, fb := range e.idx.FeedbackByOrder(o.ID) {
		out = append(out, model.CauseCandidate{
			Kind:      model.CauseFeedback,
			RecordID:  fb.ID,
			Score:     e.policy.BaseWeights[model.CauseFeedback] * e.policy.feedbackSeverity(fb.Sentiment),
			Rationale: "direct_feedback_sentiment",
			Direct:    true,
		})
	}

	return out
}

// contextualEvidence pulls external factors and unlinked fleet entries
// sharing the order's location key within the lookback window before
// the anchor. Scores decay linearly to zero at the window boundary.
func (e *Engine) contextualEvidence(o *model.Order, anchor time.Time) []model.CauseCandidate {
	loc := o.City
	if e.cfg.Radius == RadiusSameWarehouse {
		loc = o.WarehouseID
	}
	if loc == "" {
		return nil
	}
	from := anchor.Add(-e.cfg.Lookback)

	var out []model.CauseCandidate

	for _, ext := range e.idx.ExternalInWindow(loc, from, anchor) {
		recency := e.recency(ext.Date, anchor)
		out = append(out, model.CauseCandidate{
			Kind:      model.CauseExternal,
			RecordID:  ext.ID,
			Score:     e.policy.BaseWeights[model.CauseExternal] * recency * e.policy.externalSeverity(ext.Severity),
			Rationale: fmt.Sprintf("external_factor:%s", ext.Factor),
		})
	}

	for _, f := range e.idx.FleetInWindow(loc, from, anchor) {
		if f.OrderID != "" {
			// Linked entries belong to their own order's direct evidence.
			continue
		}
		recency := e.recency(f.Timestamp, anchor)
		out = append(out, model.CauseCandidate{
			Kind:      model.CauseFleet,
			RecordID:  f.ID,
			Score:     e.policy.BaseWeights[model.CauseFleet] * recency * e.policy.fleetSeverity(f.Event),
			Rationale: fmt.Sprintf("contextual_fleet_event:%s", f.Event),
		})
	}

	return out
}

// recency decays linearly from 1 at the anchor to 0 at the lookback
// boundary. Records at or after the anchor keep full recency.
func (e *Engine) recency(t, anchor time.Time) float64 {
	dt := anchor.Sub(t)
	if dt <= 0 {
		return 1
	}
	if dt >= e.cfg.Lookback {
		return 0
	}
	return 1 - float64(dt)/float64(e.cfg.Lookback)
}

// delaySeverity scales a warehouse entry without issue codes by its
// reported delay. Entries with no delay scalar get the neutral value so
// direct evidence is never erased by a missing field.
func (e *Engine) delaySeverity(w *model.WarehouseLogEntry) float64 {
	if w.DelayMinutes == nil {
		return e.policy.NeutralSeverity
	}
	s := float64(*w.DelayMinutes) / 120
	if s < e.policy.NeutralSeverity {
		return e.policy.NeutralSeverity
	}
	if s > 1 {
		return 1
	}
	return s
}

// dropZeroScore removes candidates whose score decayed to zero. Day
// granular records can land in the window while their midnight
// timestamp sits at or past the lookback boundary; those carry no
// evidential weight and must not pad the ranking.
func dropZeroScore(candidates []model.CauseCandidate) []model.CauseCandidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.Score > 0 {
			out = append(out, c)
		}
	}
	return out
}

// rank sorts candidates descending by score. Exact ties fall back to
// the fixed domain priority, then to record id for a total order.
func rank(candidates []model.CauseCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Kind.Priority() != b.Kind.Priority() {
			return a.Kind.Priority() < b.Kind.Priority()
		}
		return a.RecordID < b.RecordID
	})
}

// confidence is top/(top+runnerUp+ε). Zero candidates means confidence
// zero: explicitly unattributed.
func confidence(candidates []model.CauseCandidate, epsilon float64) float64 {
	if len(candidates) == 0 {
		return 0
	}
	top := candidates[0].Score
	var runnerUp float64
	if len(candidates) > 1 {
		runnerUp = candidates[1].Score
	}
	return top / (top + runnerUp + epsilon)
}
