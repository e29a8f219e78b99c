/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the engine with realistic
	data for testing and demos. Each scenario creates a program with
	policies and catalog items, activates it, and replays a plausible
	month of activity through the real engine paths.

AVAILABLE SCENARIOS:

	attendance-month:  Three employees accrue points from attendance facts
	manager-gifting:   Manager distributes a monthly giving budget
	limited-stock:     Redemptions against a catalog with scarce items

HOW SCENARIOS WORK:
 1. Define the program as JSON and create it via the factory
 2. Activate it (demoting any currently active program)
 3. Feed attendance facts through the accrual engine
 4. Optionally gift and redeem

	Scenarios never bypass the domain services, so everything they create
	reconciles against the ledger like production data.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "manager-gifting"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Loading a scenario creates and activates a new program. Existing
	programs are retired, not deleted; history stays intact.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - factory/program.go: Program JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/pulse/reward-engine/accrual"
	"github.com/pulse/reward-engine/exchange"
	"github.com/pulse/reward-engine/program"
	"github.com/pulse/reward-engine/reward"
	"github.com/pulse/reward-engine/wallet"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "attendance-month",
		Name:        "Attendance Month",
		Description: "Three employees accrue points from overtime and punctuality",
	},
	{
		ID:          "manager-gifting",
		Name:        "Manager Gifting",
		Description: "Manager distributes a monthly giving budget to the team",
	},
	{
		ID:          "limited-stock",
		Name:        "Limited Stock",
		Description: "Redemptions against a catalog with scarce and unlimited items",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:   current,
		Name: current,
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	var err error
	switch req.ScenarioID {
	case "attendance-month":
		err = h.loadAttendanceMonthScenario(ctx)
	case "manager-gifting":
		err = h.loadManagerGiftingScenario(ctx)
	case "limited-stock":
		err = h.loadLimitedStockScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadAttendanceMonthScenario creates a program and runs a month of
// attendance facts for three employees through the accrual engine.
func (h *Handler) loadAttendanceMonthScenario(ctx context.Context) error {
	detail, err := h.createScenarioProgram(ctx, `{
		"name": "Attendance Month",
		"description": "Overtime and punctuality rewards",
		"giving_budget": "100",
		"activate": true,
		"policies": [
			{"type": "overtime", "unit_value": "30", "points_per_unit": "5"},
			{"type": "not_late", "unit_value": "1", "points_per_unit": "2"},
			{"type": "full_attendance", "unit_value": "1", "points_per_unit": "20"}
		],
		"items": [
			{"name": "Coffee Voucher", "required_points": "25", "quantity": 40},
			{"name": "Half Day Off", "required_points": "80", "quantity": 10}
		]
	}`)
	if err != nil {
		return err
	}

	period := reward.CurrentMonthKey()
	facts := []accrual.AttendanceFact{
		// alice: 185 minutes overtime -> 6 units -> 30 points
		{EmployeeID: "alice", PolicyType: reward.PolicyOvertime, Magnitude: decimal.NewFromInt(185), PeriodKey: period},
		// alice: 20 punctual days -> 40 points
		{EmployeeID: "alice", PolicyType: reward.PolicyNotLate, Magnitude: decimal.NewFromInt(20), PeriodKey: period},
		// bob: 65 minutes overtime -> 2 units -> 10 points
		{EmployeeID: "bob", PolicyType: reward.PolicyOvertime, Magnitude: decimal.NewFromInt(65), PeriodKey: period},
		// carol: perfect month -> 20 points
		{EmployeeID: "carol", PolicyType: reward.PolicyFullAttendance, Magnitude: decimal.NewFromInt(1), PeriodKey: period},
		{EmployeeID: "carol", PolicyType: reward.PolicyNotLate, Magnitude: decimal.NewFromInt(22), PeriodKey: period},
	}
	_, err = h.Accruals.AccrueBatch(ctx, facts)
	if err != nil {
		return fmt.Errorf("scenario accruals failed for program %s: %w", detail.Program.ID, err)
	}
	return nil
}

// loadManagerGiftingScenario sets up a team, accrues points, then has the
// manager distribute most of the giving budget.
func (h *Handler) loadManagerGiftingScenario(ctx context.Context) error {
	detail, err := h.createScenarioProgram(ctx, `{
		"name": "Manager Gifting",
		"description": "Recognition via manager giving budgets",
		"giving_budget": "100",
		"activate": true,
		"policies": [
			{"type": "not_late", "unit_value": "1", "points_per_unit": "2"}
		],
		"items": [
			{"name": "Team Lunch", "required_points": "50", "quantity": -1}
		]
	}`)
	if err != nil {
		return err
	}
	programID := detail.Program.ID

	period := reward.CurrentMonthKey()
	_, err = h.Accruals.AccrueBatch(ctx, []accrual.AttendanceFact{
		{EmployeeID: "dave", PolicyType: reward.PolicyNotLate, Magnitude: decimal.NewFromInt(18), PeriodKey: period},
		{EmployeeID: "erin", PolicyType: reward.PolicyNotLate, Magnitude: decimal.NewFromInt(21), PeriodKey: period},
	})
	if err != nil {
		return err
	}

	mgr, err := h.Wallets.GetOrCreate(ctx, "mallory", programID)
	if err != nil {
		return err
	}

	_, err = h.Wallets.Gift(ctx, mgr.ID, []wallet.GiftRecipient{
		{EmployeeID: "dave", Amount: reward.NewPoints(40)},
		{EmployeeID: "erin", Amount: reward.NewPoints(35)},
	})
	return err
}

// loadLimitedStockScenario builds a catalog with one scarce item and runs
// redemptions against it.
func (h *Handler) loadLimitedStockScenario(ctx context.Context) error {
	detail, err := h.createScenarioProgram(ctx, `{
		"name": "Limited Stock",
		"description": "Scarce catalog redemptions",
		"giving_budget": "50",
		"activate": true,
		"policies": [
			{"type": "overtime", "unit_value": "30", "points_per_unit": "10"}
		],
		"items": [
			{"name": "Concert Tickets", "required_points": "30", "quantity": 1},
			{"name": "Movie Pass", "required_points": "15", "quantity": 5},
			{"name": "Charity Donation", "required_points": "10", "quantity": -1}
		]
	}`)
	if err != nil {
		return err
	}
	programID := detail.Program.ID

	period := reward.CurrentMonthKey()
	_, err = h.Accruals.AccrueBatch(ctx, []accrual.AttendanceFact{
		// frank: 150 minutes -> 5 units -> 50 points
		{EmployeeID: "frank", PolicyType: reward.PolicyOvertime, Magnitude: decimal.NewFromInt(150), PeriodKey: period},
	})
	if err != nil {
		return err
	}

	fw, err := h.Wallets.GetOrCreate(ctx, "frank", programID)
	if err != nil {
		return err
	}

	// Takes the only concert tickets plus a movie pass: 45 of 50 points.
	var tickets, pass reward.ItemID
	for _, it := range detail.Items {
		switch it.Name {
		case "Concert Tickets":
			tickets = it.ID
		case "Movie Pass":
			pass = it.ID
		}
	}
	_, err = h.Exchanges.Redeem(ctx, fw.ID, []exchange.RedemptionLine{
		{ItemID: tickets, Quantity: 1},
		{ItemID: pass, Quantity: 1},
	})
	return err
}

// createScenarioProgram parses and creates a program from its JSON
// definition.
func (h *Handler) createScenarioProgram(ctx context.Context, jsonStr string) (*program.Detail, error) {
	spec, err := h.Factory.ParseProgram(jsonStr)
	if err != nil {
		return nil, err
	}
	return h.Programs.Create(ctx, spec)
}
