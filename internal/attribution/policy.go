// Package attribution implements the per-order root-cause attribution
// engine: it gathers direct and contextual evidence from the correlation
// index, scores each candidate against a declarative policy, and emits a
// deterministic ranked attribution.
package attribution

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/delivery-insights/internal/model"
)

// Policy is the scoring table for cause candidates. It is a data
// artifact: base weights and severity scales can be tuned and versioned
// independently of the traversal logic.
type Policy struct {
	Version string `yaml:"version"`

	// BaseWeights encodes the domain priority of each evidence kind.
	BaseWeights map[model.CauseKind]float64 `yaml:"base_weights"`

	// IssueSeverity maps warehouse issue codes to a 0-1 scale.
	IssueSeverity map[model.IssueCode]float64 `yaml:"issue_severity"`

	// FleetEventSeverity maps fleet event kinds to a 0-1 scale.
	FleetEventSeverity map[model.FleetEventKind]float64 `yaml:"fleet_event_severity"`

	// ExternalSeverityScale maps the ordinal severity 0-3 to a 0-1
	// scale, indexed by ordinal.
	ExternalSeverityScale []float64 `yaml:"external_severity_scale"`

	// NeutralSeverity is used when a record carries no scalar severity.
	// Must be positive so absence of a scalar never erases direct
	// evidence.
	NeutralSeverity float64 `yaml:"neutral_severity"`

	// Epsilon stabilizes the confidence ratio for single-candidate
	// attributions.
	Epsilon float64 `yaml:"epsilon"`
}

// DefaultPolicy returns the built-in scoring table. Direct warehouse
// evidence outweighs direct fleet evidence, which outweighs external
// factors, which outweigh sentiment-only feedback.
func DefaultPolicy() Policy {
	return Policy{
		Version: "v1",
		BaseWeights: map[model.CauseKind]float64{
			model.CauseWarehouse: 1.0,
			model.CauseFleet:     0.8,
			model.CauseExternal:  0.5,
			model.CauseFeedback:  0.3,
		},
		IssueSeverity: map[model.IssueCode]float64{
			model.IssueStockout: 1.0,
			model.IssueMisPick:  0.8,
		},
		FleetEventSeverity: map[model.FleetEventKind]float64{
			model.FleetBreakdown:    1.0,
			model.FleetAddressIssue: 0.8,
			model.FleetDelay:        0.7,
			model.FleetRouteStart:   0.2,
		},
		ExternalSeverityScale: []float64{0.25, 0.5, 0.75, 1.0},
		NeutralSeverity:       0.5,
		Epsilon:               0.01,
	}
}

// LoadPolicy reads a policy from a YAML file and validates it.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, eris.Wrap(err, "policy: read file")
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, eris.Wrap(err, "policy: unmarshal")
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks that a policy is internally consistent.
func (p Policy) Validate() error {
	var errs []string

	for _, kind := range []model.CauseKind{model.CauseWarehouse, model.CauseFleet, model.CauseExternal, model.CauseFeedback} {
		w, ok := p.BaseWeights[kind]
		if !ok {
			errs = append(errs, fmt.Sprintf("base_weights missing %q", kind))
			continue
		}
		if w < 0 {
			errs = append(errs, fmt.Sprintf("base_weights[%s] must be >= 0", kind))
		}
	}

	if len(p.ExternalSeverityScale) != 4 {
		errs = append(errs, "external_severity_scale must have 4 entries (ordinals 0-3)")
	}
	for i, v := range p.ExternalSeverityScale {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("external_severity_scale[%d] must be in [0,1]", i))
		}
	}

	if p.NeutralSeverity <= 0 || p.NeutralSeverity > 1 {
		errs = append(errs, "neutral_severity must be in (0,1]")
	}
	if p.Epsilon <= 0 {
		errs = append(errs, "epsilon must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("policy: invalid: %v", errs)
	}
	return nil
}

// externalSeverity maps an ordinal severity onto the 0-1 scale. Out of
// range ordinals fall back to the neutral value.
func (p Policy) externalSeverity(ordinal int) float64 {
	if ordinal < 0 || ordinal >= len(p.ExternalSeverityScale) {
		return p.NeutralSeverity
	}
	return p.ExternalSeverityScale[ordinal]
}

// issueSeverity maps a warehouse issue code onto the 0-1 scale.
func (p Policy) issueSeverity(code model.IssueCode) float64 {
	if s, ok := p.IssueSeverity[code]; ok {
		return s
	}
	return p.NeutralSeverity
}

// fleetSeverity maps a fleet event kind onto the 0-1 scale.
func (p Policy) fleetSeverity(kind model.FleetEventKind) float64 {
	if s, ok := p.FleetEventSeverity[kind]; ok {
		return s
	}
	return p.NeutralSeverity
}

// feedbackSeverity maps sentiment in [-1,1] onto the 0-1 scale: strongly
// negative feedback scores 1, neutral 0.5, positive approaches 0.
func (p Policy) feedbackSeverity(sentiment float64) float64 {
	s := (1 - sentiment) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
