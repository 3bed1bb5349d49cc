// Package analyzer applies the attribution engine across filtered order
// sets and reduces the results into failure profiles, comparisons, and
// risk projections.
package analyzer

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/delivery-insights/internal/attribution"
	"github.com/sells-group/delivery-insights/internal/correlate"
	"github.com/sells-group/delivery-insights/internal/model"
)

// Config holds the analyzer knobs consumed from configuration.
type Config struct {
	// PrimaryCauseTopK bounds how many top-ranked candidates count
	// toward the primary-cause table.
	PrimaryCauseTopK int

	// ScalingRiskThreshold is the baseline failure rate above which
	// added volume is flagged a capacity risk.
	ScalingRiskThreshold float64

	// Concurrency bounds the attribution worker pool.
	Concurrency int
}

// DefaultConfig returns the analyzer defaults.
func DefaultConfig() Config {
	return Config{
		PrimaryCauseTopK:     1,
		ScalingRiskThreshold: 0.15,
		Concurrency:          8,
	}
}

// Analyzer reduces many attributions into aggregate statistics. It
// holds only immutable state and is safe for concurrent use.
type Analyzer struct {
	idx    *correlate.Index
	engine *attribution.Engine
	cfg    Config
}

// New creates an Analyzer over a built index and engine.
func New(idx *correlate.Index, engine *attribution.Engine, cfg Config) *Analyzer {
	if cfg.PrimaryCauseTopK <= 0 {
		cfg.PrimaryCauseTopK = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Analyzer{idx: idx, engine: engine, cfg: cfg}
}

// FailureProfile computes failure statistics for the filtered order
// scope. An empty scope returns zero counts with InsufficientData set,
// never a division error. Re-running an identical query against an
// identical batch reproduces identical numbers.
func (a *Analyzer) FailureProfile(ctx context.Context, filter model.OrderFilter) (model.AggregateResult, error) {
	orders := a.idx.Orders(filter)
	return a.profile(ctx, filter, orders)
}

func (a *Analyzer) profile(ctx context.Context, filter model.OrderFilter, orders []*model.Order) (model.AggregateResult, error) {
	result := model.AggregateResult{
		Filter:          filter,
		ExcludedRecords: a.idx.Excluded(),
	}
	if len(orders) == 0 {
		result.InsufficientData = true
		return result, nil
	}

	result.TotalOrders = len(orders)

	var eligible []*model.Order
	for _, o := range orders {
		if o.Status == model.StatusFailed {
			result.FailedOrders++
		}
		if a.engine.Eligible(o) {
			eligible = append(eligible, o)
		}
	}
	result.FailureRate = float64(result.FailedOrders) / float64(result.TotalOrders)

	attributions, err := a.attributeAll(ctx, eligible)
	if err != nil {
		return model.AggregateResult{}, err
	}

	primary := make(map[model.CauseKind]int)
	contributing := make(map[model.CauseKind]int)
	for _, att := range attributions {
		if att.Unattributed() {
			result.Unattributed++
			continue
		}
		topK := a.cfg.PrimaryCauseTopK
		if topK > len(att.Candidates) {
			topK = len(att.Candidates)
		}
		// Count each kind once per attribution even when several
		// top-ranked candidates share it.
		topSeen := make(map[model.CauseKind]bool)
		for _, c := range att.Candidates[:topK] {
			if !topSeen[c.Kind] {
				topSeen[c.Kind] = true
				primary[c.Kind]++
			}
		}
		seen := make(map[model.CauseKind]bool)
		for _, c := range att.Candidates {
			if !seen[c.Kind] {
				seen[c.Kind] = true
				contributing[c.Kind]++
			}
		}
	}

	result.PrimaryCauses = frequencyTable(primary, result.FailedOrders)
	result.ContributingCauses = frequencyTable(contributing, result.FailedOrders)
	return result, nil
}

// attributeAll runs per-order attribution on a bounded worker pool.
// Orders arrive sorted by id from the index and results are folded in
// that same order, so parallel execution never changes output.
func (a *Analyzer) attributeAll(ctx context.Context, orders []*model.Order) ([]model.Attribution, error) {
	results := make([]model.Attribution, len(orders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for i, o := range orders {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			att, err := a.engine.Attribute(o)
			if err != nil {
				return eris.Wrapf(err, "attribute order %s", o.ID)
			}
			results[i] = att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// frequencyTable builds the ranked cause table. Rows sort by count
// descending, ties broken by the fixed domain priority.
func frequencyTable(counts map[model.CauseKind]int, failed int) []model.CauseFrequency {
	out := make([]model.CauseFrequency, 0, len(counts))
	for kind, n := range counts {
		row := model.CauseFrequency{Kind: kind, Count: n}
		if failed > 0 {
			row.Share = float64(n) / float64(failed)
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind.Priority() < out[j].Kind.Priority()
	})
	return out
}

// Compare runs FailureProfile on both scopes and reports the rate delta
// plus the cause kinds dominant on one side but not the other.
func (a *Analyzer) Compare(ctx context.Context, filterA, filterB model.OrderFilter) (model.ComparativeResult, error) {
	profileA, err := a.FailureProfile(ctx, filterA)
	if err != nil {
		return model.ComparativeResult{}, eris.Wrap(err, "compare: profile a")
	}
	profileB, err := a.FailureProfile(ctx, filterB)
	if err != nil {
		return model.ComparativeResult{}, eris.Wrap(err, "compare: profile b")
	}

	result := model.ComparativeResult{
		A:         profileA,
		B:         profileB,
		RateDelta: profileA.FailureRate - profileB.FailureRate,
	}
	result.OnlyInA = dominantDiff(profileA.PrimaryCauses, profileB.PrimaryCauses)
	result.OnlyInB = dominantDiff(profileB.PrimaryCauses, profileA.PrimaryCauses)
	return result, nil
}

// dominantDiff returns kinds in a's top-3 that are absent from b's
// top-3, preserving a's ranking order.
func dominantDiff(a, b []model.CauseFrequency) []model.CauseKind {
	inB := make(map[model.CauseKind]bool)
	for i, row := range b {
		if i >= 3 {
			break
		}
		inB[row.Kind] = true
	}
	var out []model.CauseKind
	for i, row := range a {
		if i >= 3 {
			break
		}
		if !inB[row.Kind] {
			out = append(out, row.Kind)
		}
	}
	return out
}

// ProjectFestivalRisk profiles the subset of orders created on days
// flagged Holiday or Strike at their destination and reports it as the
// expected risk for the next such period. This is a historical analogy,
// not a statistical forecast.
func (a *Analyzer) ProjectFestivalRisk(ctx context.Context, filter model.OrderFilter) (model.RiskProjection, error) {
	var festival []*model.Order
	for _, o := range a.idx.Orders(filter) {
		if a.idx.InHolidayPeriod(o) {
			festival = append(festival, o)
		}
	}

	profile, err := a.profile(ctx, filter, festival)
	if err != nil {
		return model.RiskProjection{}, eris.Wrap(err, "festival risk: profile")
	}

	proj := model.RiskProjection{
		Profile:      profile,
		PeriodOrders: len(festival),
		ExpectedRate: profile.FailureRate,
		HighRisk:     profile.FailureRate > a.cfg.ScalingRiskThreshold,
	}
	if profile.InsufficientData {
		zap.L().Warn("festival risk: no orders in holiday periods for scope")
	}
	return proj, nil
}

// ProjectScalingRisk applies the baseline failure rate uniformly to the
// added monthly volume. The extrapolation is linear and deliberately
// ignores congestion effects at higher volume.
func (a *Analyzer) ProjectScalingRisk(ctx context.Context, filter model.OrderFilter, extraMonthlyOrders, months int) (model.ScalingProjection, error) {
	if extraMonthlyOrders < 0 || months <= 0 {
		return model.ScalingProjection{}, eris.New("scaling risk: volume and months must be positive")
	}

	baseline, err := a.FailureProfile(ctx, filter)
	if err != nil {
		return model.ScalingProjection{}, eris.Wrap(err, "scaling risk: baseline profile")
	}

	proj := model.ScalingProjection{
		Baseline:           baseline,
		ExtraMonthlyOrders: extraMonthlyOrders,
		Months:             months,
		Threshold:          a.cfg.ScalingRiskThreshold,
	}
	if baseline.InsufficientData {
		return proj, nil
	}
	proj.ProjectedFailures = int(math.Round(baseline.FailureRate * float64(extraMonthlyOrders) * float64(months)))
	proj.CapacityRisk = baseline.FailureRate > a.cfg.ScalingRiskThreshold
	return proj, nil
}
