/*
Package factory provides JSON to Go program spec conversion.

PURPOSE:
  Converts JSON program definitions into program.Spec objects. This
  enables program configuration without code changes - HR can define a
  whole reward program (policies, catalog, manager budget) in JSON and
  the factory produces the struct the program manager consumes.

WHY JSON?
  - Non-developers can author programs
  - Easy integration with an admin UI
  - Version control for program definitions
  - Database storage of program configs

JSON SCHEMA:
  {
    "name": "Q3 Recognition",
    "description": "Attendance rewards for Q3",
    "giving_budget": "100",
    "start_at": "2026-07-01",
    "end_at": "2026-09-30",
    "activate": true,
    "policies": [
      {"type": "overtime", "unit_value": "30", "points_per_unit": "5"},
      {"type": "not_late", "unit_value": "1", "points_per_unit": "2"}
    ],
    "items": [
      {"name": "Coffee Voucher", "required_points": "25", "quantity": 40},
      {"name": "Company Tee", "required_points": "60", "quantity": -1}
    ]
  }

KEY FEATURES:
  - Validates JSON structure (structural errors surface here, semantic
    validation happens in program.Spec.Validate)
  - Accepts numeric fields as JSON strings to keep decimal precision
  - Quantity -1 marks unlimited stock
  - Round-trips back to JSON for export

USAGE:
  f := factory.NewProgramFactory()
  spec, err := f.ParseProgram(jsonString)
  detail, err := programs.Create(ctx, spec)

SEE ALSO:
  - program/manager.go: Spec type and semantic validation
  - api/scenarios.go: Preset program definitions built on this factory
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pulse/reward-engine/program"
	"github.com/pulse/reward-engine/reward"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProgramJSON is the JSON representation of a full reward program.
type ProgramJSON struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	GivingBudget string       `json:"giving_budget"`
	StartAt      string       `json:"start_at,omitempty"` // 2006-01-02
	EndAt        string       `json:"end_at,omitempty"`
	Activate     bool         `json:"activate,omitempty"`
	Policies     []PolicyJSON `json:"policies,omitempty"`
	Items        []ItemJSON   `json:"items,omitempty"`
}

// PolicyJSON represents one accrual policy.
type PolicyJSON struct {
	Type          string `json:"type"` // overtime, not_late, full_attendance
	UnitValue     string `json:"unit_value"`
	PointsPerUnit string `json:"points_per_unit"`
}

// ItemJSON represents one catalog item. Quantity -1 means unlimited.
type ItemJSON struct {
	Name           string `json:"name"`
	RequiredPoints string `json:"required_points"`
	Quantity       int64  `json:"quantity"`
	ImageURL       string `json:"image_url,omitempty"`
}

// =============================================================================
// PROGRAM FACTORY
// =============================================================================

// ProgramFactory converts JSON program definitions to program.Spec.
type ProgramFactory struct{}

// NewProgramFactory creates a new program factory.
func NewProgramFactory() *ProgramFactory {
	return &ProgramFactory{}
}

// ParseProgram parses a JSON string into a program.Spec.
func (f *ProgramFactory) ParseProgram(jsonStr string) (program.Spec, error) {
	var pj ProgramJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return program.Spec{}, fmt.Errorf("failed to parse program JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts ProgramJSON to a program.Spec. Structural conversion
// only; semantic rules run in Spec.Validate via the program manager.
func (f *ProgramFactory) FromJSON(pj ProgramJSON) (program.Spec, error) {
	budget, err := parseAmount("giving_budget", pj.GivingBudget)
	if err != nil {
		return program.Spec{}, err
	}

	spec := program.Spec{
		Name:         pj.Name,
		Description:  pj.Description,
		GivingBudget: reward.PointsFromDecimal(budget),
		Activate:     pj.Activate,
	}

	if pj.StartAt != "" {
		spec.StartAt, err = parseDate("start_at", pj.StartAt)
		if err != nil {
			return program.Spec{}, err
		}
	}
	if pj.EndAt != "" {
		spec.EndAt, err = parseDate("end_at", pj.EndAt)
		if err != nil {
			return program.Spec{}, err
		}
	}

	for i, polJSON := range pj.Policies {
		pol, err := parsePolicy(i, polJSON)
		if err != nil {
			return program.Spec{}, err
		}
		spec.Policies = append(spec.Policies, pol)
	}

	for i, itemJSON := range pj.Items {
		it, err := parseItem(i, itemJSON)
		if err != nil {
			return program.Spec{}, err
		}
		spec.Items = append(spec.Items, it)
	}

	return spec, nil
}

// ToJSON converts a created program detail back to its JSON representation.
func (f *ProgramFactory) ToJSON(d program.Detail) ProgramJSON {
	pj := ProgramJSON{
		Name:         d.Program.Name,
		Description:  d.Program.Description,
		GivingBudget: d.Program.GivingBudget.Value.String(),
		Activate:     d.Program.Status == reward.ProgramActive,
	}
	if !d.Program.StartAt.IsZero() {
		pj.StartAt = d.Program.StartAt.Format("2006-01-02")
	}
	if !d.Program.EndAt.IsZero() {
		pj.EndAt = d.Program.EndAt.Format("2006-01-02")
	}

	for _, pol := range d.Policies {
		pj.Policies = append(pj.Policies, PolicyJSON{
			Type:          string(pol.Type),
			UnitValue:     pol.UnitValue.String(),
			PointsPerUnit: pol.PointsPerUnit.Value.String(),
		})
	}
	for _, it := range d.Items {
		pj.Items = append(pj.Items, ItemJSON{
			Name:           it.Name,
			RequiredPoints: it.RequiredPoints.Value.String(),
			Quantity:       it.Quantity,
			ImageURL:       it.ImageURL,
		})
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parsePolicy(idx int, pj PolicyJSON) (program.PolicySpec, error) {
	unitValue, err := parseAmount(fmt.Sprintf("policies[%d].unit_value", idx), pj.UnitValue)
	if err != nil {
		return program.PolicySpec{}, err
	}
	ppu, err := parseAmount(fmt.Sprintf("policies[%d].points_per_unit", idx), pj.PointsPerUnit)
	if err != nil {
		return program.PolicySpec{}, err
	}
	return program.PolicySpec{
		Type:          reward.PolicyType(pj.Type),
		UnitValue:     unitValue,
		PointsPerUnit: reward.PointsFromDecimal(ppu),
	}, nil
}

func parseItem(idx int, ij ItemJSON) (program.ItemSpec, error) {
	required, err := parseAmount(fmt.Sprintf("items[%d].required_points", idx), ij.RequiredPoints)
	if err != nil {
		return program.ItemSpec{}, err
	}
	return program.ItemSpec{
		Name:           ij.Name,
		RequiredPoints: reward.PointsFromDecimal(required),
		Quantity:       ij.Quantity,
		ImageURL:       ij.ImageURL,
	}, nil
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, &reward.ValidationError{Field: field, Reason: "is required"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &reward.ValidationError{Field: field, Reason: "is not a valid number"}
	}
	return d, nil
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		// Accept full timestamps too.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, &reward.ValidationError{Field: field, Reason: "expected YYYY-MM-DD or RFC3339"}
		}
	}
	return t, nil
}
