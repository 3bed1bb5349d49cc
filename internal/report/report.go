// Package report renders analysis output types into human-readable
// narratives and recommendations. It consumes the core's value objects
// only and never reaches into the correlation index.
package report

import (
	"fmt"
	"strings"

	"github.com/sells-group/delivery-insights/internal/model"
)

// recommendations maps a rationale tag prefix to an actionable
// recommendation. Rendering walks a ranked attribution or cause table
// and emits the first matching recommendation per cause.
var recommendations = []struct {
	match  string
	advice string
}{
	{"direct_warehouse_issue:stockout", "Implement real-time inventory tracking and automated reorder points"},
	{"direct_warehouse_issue:mis_pick", "Add barcode verification at picking stations"},
	{"direct_warehouse", "Review warehouse staging throughput and shift coverage"},
	{"direct_fleet_event:breakdown", "Tighten preventive vehicle maintenance schedules"},
	{"direct_fleet_event:address_issue", "Deploy address verification at order intake and driver training"},
	{"direct_fleet_event:delay", "Deploy dynamic routing with live traffic feeds"},
	{"contextual_fleet_event", "Review route planning for the affected zone"},
	{"external_factor:weather", "Build weather contingency plans and flexible delivery windows"},
	{"external_factor:traffic", "Schedule dispatches around known congestion windows"},
	{"external_factor:holiday", "Pre-position inventory and surge staffing before festival periods"},
	{"external_factor:strike", "Prepare alternate carrier arrangements for labor disruptions"},
	{"direct_feedback", "Follow up with affected customers and review complaint categories"},
}

func adviceFor(rationale string) string {
	for _, r := range recommendations {
		if strings.HasPrefix(rationale, r.match) {
			return r.advice
		}
	}
	return ""
}

// kindLabels are display names for cause kinds.
var kindLabels = map[model.CauseKind]string{
	model.CauseWarehouse: "warehouse handling",
	model.CauseFleet:     "fleet operations",
	model.CauseExternal:  "external conditions",
	model.CauseFeedback:  "customer feedback",
}

// Attribution renders a single order's ranked attribution.
func Attribution(att model.Attribution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s\n", att.OrderID)

	if att.Unattributed() {
		b.WriteString("  No correlated evidence found: unattributed.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "  Confidence: %.2f\n", att.Confidence)
	fmt.Fprintf(&b, "  Primary cause: %s (%s, score %.3f)\n",
		att.Primary().Rationale, kindLabels[att.Primary().Kind], att.Primary().Score)

	if len(att.Candidates) > 1 {
		b.WriteString("  Contributing causes:\n")
		for _, c := range att.Candidates[1:] {
			fmt.Fprintf(&b, "    - %s (%s, score %.3f)\n", c.Rationale, kindLabels[c.Kind], c.Score)
		}
	}

	seen := map[string]bool{}
	for _, c := range att.Candidates {
		if advice := adviceFor(c.Rationale); advice != "" && !seen[advice] {
			seen[advice] = true
			fmt.Fprintf(&b, "  Recommendation: %s\n", advice)
		}
	}
	return b.String()
}

// Profile renders an aggregate failure profile.
func Profile(r model.AggregateResult) string {
	var b strings.Builder
	b.WriteString(scopeLine(r.Filter))

	if r.InsufficientData {
		b.WriteString("  Insufficient data: no orders matched the scope.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "  Orders: %d total, %d failed (%.1f%% failure rate)\n",
		r.TotalOrders, r.FailedOrders, r.FailureRate*100)
	if r.Unattributed > 0 {
		fmt.Fprintf(&b, "  Unattributed failures: %d\n", r.Unattributed)
	}
	if r.ExcludedRecords > 0 {
		fmt.Fprintf(&b, "  Malformed records excluded from correlation: %d\n", r.ExcludedRecords)
	}

	writeCauseTable(&b, "Primary causes", r.PrimaryCauses)
	writeCauseTable(&b, "Contributing causes", r.ContributingCauses)
	return b.String()
}

// scopeLine describes the filter a profile was computed over.
func scopeLine(f model.OrderFilter) string {
	var parts []string
	if f.City != "" {
		parts = append(parts, "city="+f.City)
	}
	if f.ClientID != "" {
		parts = append(parts, "client="+f.ClientID)
	}
	if f.WarehouseID != "" {
		parts = append(parts, "warehouse="+f.WarehouseID)
	}
	if f.From != nil {
		parts = append(parts, "from="+f.From.Format("2006-01-02"))
	}
	if f.To != nil {
		parts = append(parts, "to="+f.To.Format("2006-01-02"))
	}
	if len(parts) == 0 {
		return "Failure profile (all orders)\n"
	}
	return "Failure profile (" + strings.Join(parts, " ") + ")\n"
}

func writeCauseTable(b *strings.Builder, title string, rows []model.CauseFrequency) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(b, "  %s:\n", title)
	for _, row := range rows {
		fmt.Fprintf(b, "    - %s: %d (%.1f%% of failures)\n", kindLabels[row.Kind], row.Count, row.Share*100)
	}
}

// Comparison renders a two-scope comparison.
func Comparison(c model.ComparativeResult) string {
	var b strings.Builder
	b.WriteString("Comparison\n")
	b.WriteString("A: " + Profile(c.A))
	b.WriteString("B: " + Profile(c.B))

	if !c.A.InsufficientData && !c.B.InsufficientData {
		fmt.Fprintf(&b, "Failure rate delta (A-B): %+.1f%%\n", c.RateDelta*100)
	}
	if len(c.OnlyInA) > 0 {
		fmt.Fprintf(&b, "Dominant only in A: %s\n", joinKinds(c.OnlyInA))
	}
	if len(c.OnlyInB) > 0 {
		fmt.Fprintf(&b, "Dominant only in B: %s\n", joinKinds(c.OnlyInB))
	}
	return b.String()
}

func joinKinds(kinds []model.CauseKind) string {
	labels := make([]string, len(kinds))
	for i, k := range kinds {
		labels[i] = kindLabels[k]
	}
	return strings.Join(labels, ", ")
}

// FestivalRisk renders a festival-period risk projection.
func FestivalRisk(p model.RiskProjection) string {
	var b strings.Builder
	b.WriteString("Festival period risk (historical analogy over holiday/strike days)\n")
	if p.Profile.InsufficientData {
		b.WriteString("  No historical festival-period orders in scope.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "  Historical festival orders: %d\n", p.PeriodOrders)
	fmt.Fprintf(&b, "  Expected failure rate: %.1f%%\n", p.ExpectedRate*100)
	if p.HighRisk {
		b.WriteString("  HIGH RISK: plan surge capacity for the next festival period.\n")
	}
	b.WriteString(Profile(p.Profile))
	return b.String()
}

// ScalingRisk renders a volume-scaling projection.
func ScalingRisk(p model.ScalingProjection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scaling projection: +%d orders/month over %d month(s)\n",
		p.ExtraMonthlyOrders, p.Months)
	if p.Baseline.InsufficientData {
		b.WriteString("  Insufficient baseline data for projection.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "  Baseline failure rate: %.1f%%\n", p.Baseline.FailureRate*100)
	fmt.Fprintf(&b, "  Projected additional failures: %d (linear extrapolation)\n", p.ProjectedFailures)
	if p.CapacityRisk {
		fmt.Fprintf(&b, "  CAPACITY RISK: baseline failure rate exceeds %.0f%% threshold.\n", p.Threshold*100)
	}
	b.WriteString("  Note: linear model; congestion effects at higher volume are not modeled.\n")
	return b.String()
}
