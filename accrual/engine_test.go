package accrual_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/reward-engine/accrual"
	"github.com/pulse/reward-engine/logging"
	"github.com/pulse/reward-engine/program"
	"github.com/pulse/reward-engine/reward"
	memstore "github.com/pulse/reward-engine/reward/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*accrual.Engine, *memstore.Memory, *program.Manager) {
	t.Helper()
	store := memstore.NewMemory()
	log := logging.NewNop()
	return accrual.New(store, log), store, program.New(store, log)
}

// activeProgram creates and activates a program with an overtime policy
// (30 minutes per unit, 5 points per unit) and a punctuality policy.
func activeProgram(t *testing.T, programs *program.Manager) *program.Detail {
	t.Helper()
	detail, err := programs.Create(context.Background(), program.Spec{
		Name:         "Attendance Rewards",
		GivingBudget: reward.NewPoints(100),
		Activate:     true,
		Policies: []program.PolicySpec{
			{Type: reward.PolicyOvertime, UnitValue: decimal.NewFromInt(30), PointsPerUnit: reward.NewPoints(5)},
			{Type: reward.PolicyNotLate, UnitValue: decimal.NewFromInt(1), PointsPerUnit: reward.NewPoints(2)},
		},
	})
	require.NoError(t, err)
	return detail
}

func overtimeFact(employee string, minutes int64) accrual.AttendanceFact {
	return accrual.AttendanceFact{
		EmployeeID: reward.EmployeeID(employee),
		PolicyType: reward.PolicyOvertime,
		Magnitude:  decimal.NewFromInt(minutes),
		PeriodKey:  "2026-08",
	}
}

// =============================================================================
// ACCRUAL MATH TESTS
// =============================================================================

func TestAccrue_FloorsPartialUnits(t *testing.T) {
	// GIVEN: 65 minutes of overtime under a 30-minute/5-point policy
	// WHEN: Accruing
	// THEN: floor(65/30) = 2 units -> 10 points; the 5 leftover minutes
	//       earn nothing

	engine, store, programs := newTestEngine(t)
	ctx := context.Background()
	activeProgram(t, programs)

	tx, err := engine.Accrue(ctx, overtimeFact("emp-1", 65))
	require.NoError(t, err)
	require.NotNil(t, tx)

	assert.Equal(t, reward.TxPolicyReward, tx.Type)
	assert.Equal(t, "10", tx.Amount.Value.String())
	assert.Equal(t, "2", tx.Metadata["units"])

	w, err := store.Wallet(ctx, tx.DestinationWalletID)
	require.NoError(t, err)
	assert.Equal(t, "10", w.PersonalPoint.Value.String())
}

func TestAccrue_SubUnitMagnitude_NoOp(t *testing.T) {
	engine, _, programs := newTestEngine(t)
	ctx := context.Background()
	activeProgram(t, programs)

	tx, err := engine.Accrue(ctx, overtimeFact("emp-1", 29))
	require.NoError(t, err)
	assert.Nil(t, tx, "29 minutes is below one 30-minute unit")
}

func TestAccrue_FractionalUnitValue(t *testing.T) {
	// Policies with non-integer unit values must not lose precision.

	engine, _, programs := newTestEngine(t)
	ctx := context.Background()

	_, err := programs.Create(ctx, program.Spec{
		Name:         "Half Days",
		GivingBudget: reward.NewPoints(50),
		Activate:     true,
		Policies: []program.PolicySpec{
			{Type: reward.PolicyFullAttendance, UnitValue: decimal.RequireFromString("0.5"), PointsPerUnit: reward.NewPoints(3)},
		},
	})
	require.NoError(t, err)

	tx, err := engine.Accrue(ctx, accrual.AttendanceFact{
		EmployeeID: "emp-1",
		PolicyType: reward.PolicyFullAttendance,
		Magnitude:  decimal.RequireFromString("1.75"),
		PeriodKey:  "2026-08",
	})
	require.NoError(t, err)
	require.NotNil(t, tx)
	// floor(1.75/0.5) = 3 units * 3 points
	assert.Equal(t, "9", tx.Amount.Value.String())
}

// =============================================================================
// APPLICABILITY TESTS
// =============================================================================

func TestAccrue_NoActiveProgram_NoOp(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	tx, err := engine.Accrue(context.Background(), overtimeFact("emp-1", 120))
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestAccrue_ExplicitInactiveProgram_NoOp(t *testing.T) {
	engine, _, programs := newTestEngine(t)
	ctx := context.Background()

	detail, err := programs.Create(ctx, program.Spec{
		Name:         "Not Yet Live",
		GivingBudget: reward.NewPoints(100),
		Policies: []program.PolicySpec{
			{Type: reward.PolicyOvertime, UnitValue: decimal.NewFromInt(30), PointsPerUnit: reward.NewPoints(5)},
		},
	})
	require.NoError(t, err)

	fact := overtimeFact("emp-1", 120)
	fact.ProgramID = detail.Program.ID

	tx, err := engine.Accrue(ctx, fact)
	require.NoError(t, err)
	assert.Nil(t, tx, "pending program must not accrue")
}

func TestAccrue_UnknownExplicitProgram_NotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	fact := overtimeFact("emp-1", 120)
	fact.ProgramID = "no-such-program"

	_, err := engine.Accrue(context.Background(), fact)
	assert.True(t, reward.IsNotFound(err))
}

func TestAccrue_NoMatchingPolicy_NoOp(t *testing.T) {
	engine, _, programs := newTestEngine(t)
	ctx := context.Background()
	activeProgram(t, programs) // has overtime + not_late, no full_attendance

	tx, err := engine.Accrue(ctx, accrual.AttendanceFact{
		EmployeeID: "emp-1",
		PolicyType: reward.PolicyFullAttendance,
		Magnitude:  decimal.NewFromInt(1),
		PeriodKey:  "2026-08",
	})
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestAccrue_ZeroUnitValuePolicy_IntegrityError(t *testing.T) {
	// A zero unit value can only enter the store by bypassing validation.
	// The engine must report the corrupt row, not divide by it.

	engine, store, programs := newTestEngine(t)
	ctx := context.Background()
	detail := activeProgram(t, programs)

	require.NoError(t, store.CreatePolicy(ctx, reward.RewardPolicy{
		ID:            "pol-corrupt",
		ProgramID:     detail.Program.ID,
		Type:          reward.PolicyFullAttendance,
		UnitValue:     decimal.Zero,
		PointsPerUnit: reward.NewPoints(50),
		CreatedAt:     time.Now().UTC(),
	}))

	_, err := engine.Accrue(ctx, accrual.AttendanceFact{
		EmployeeID: "emp-1",
		PolicyType: reward.PolicyFullAttendance,
		Magnitude:  decimal.NewFromInt(1),
		PeriodKey:  "2026-08",
	})
	require.Error(t, err)
	assert.True(t, reward.IsNotFound(err))
}

func TestAccrue_InvalidFact_Rejected(t *testing.T) {
	engine, _, programs := newTestEngine(t)
	ctx := context.Background()
	activeProgram(t, programs)

	_, err := engine.Accrue(ctx, accrual.AttendanceFact{
		PolicyType: reward.PolicyOvertime,
		Magnitude:  decimal.NewFromInt(60),
		PeriodKey:  "2026-08",
	})
	assert.ErrorIs(t, err, reward.ErrValidation, "missing employee")

	_, err = engine.Accrue(ctx, accrual.AttendanceFact{
		EmployeeID: "emp-1",
		PolicyType: reward.PolicyOvertime,
		Magnitude:  decimal.NewFromInt(-60),
		PeriodKey:  "2026-08",
	})
	assert.ErrorIs(t, err, reward.ErrValidation, "negative magnitude")
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestAccrue_ResentFact_SilentNoOp(t *testing.T) {
	// GIVEN: A fact already accrued for (employee, policy type, period)
	// WHEN: The same fact arrives again, even with a different magnitude
	// THEN: No error, no transaction, wallet unchanged

	engine, store, programs := newTestEngine(t)
	ctx := context.Background()
	activeProgram(t, programs)

	first, err := engine.Accrue(ctx, overtimeFact("emp-1", 65))
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := engine.Accrue(ctx, overtimeFact("emp-1", 300))
	require.NoError(t, err)
	assert.Nil(t, again)

	w, err := store.Wallet(ctx, first.DestinationWalletID)
	require.NoError(t, err)
	assert.Equal(t, "10", w.PersonalPoint.Value.String())
}

func TestAccrue_DifferentPeriods_AccrueIndependently(t *testing.T) {
	engine, store, programs := newTestEngine(t)
	ctx := context.Background()
	activeProgram(t, programs)

	fact := overtimeFact("emp-1", 60)
	first, err := engine.Accrue(ctx, fact)
	require.NoError(t, err)
	require.NotNil(t, first)

	fact.PeriodKey = "2026-09"
	second, err := engine.Accrue(ctx, fact)
	require.NoError(t, err)
	require.NotNil(t, second)

	w, err := store.Wallet(ctx, first.DestinationWalletID)
	require.NoError(t, err)
	assert.Equal(t, "20", w.PersonalPoint.Value.String())
}

// =============================================================================
// BATCH TESTS
// =============================================================================

func TestAccrueBatch_CountsAccruedAndSkipped(t *testing.T) {
	engine, _, programs := newTestEngine(t)
	ctx := context.Background()
	activeProgram(t, programs)

	result, err := engine.AccrueBatch(ctx, []accrual.AttendanceFact{
		overtimeFact("emp-1", 65),  // accrues 10
		overtimeFact("emp-1", 65),  // duplicate period -> skipped
		overtimeFact("emp-2", 29),  // sub-unit -> skipped
		overtimeFact("emp-3", 120), // accrues 20
	})
	require.NoError(t, err)

	assert.Len(t, result.Accrued, 2)
	assert.Equal(t, 2, result.Skipped)
}

func TestAccrueBatch_InvalidFactAbortsWithPartialResult(t *testing.T) {
	engine, store, programs := newTestEngine(t)
	ctx := context.Background()
	activeProgram(t, programs)

	bad := overtimeFact("", 60)
	result, err := engine.AccrueBatch(ctx, []accrual.AttendanceFact{
		overtimeFact("emp-1", 60),
		bad,
		overtimeFact("emp-2", 60),
	})
	require.Error(t, err)
	assert.Len(t, result.Accrued, 1, "facts before the failure stay applied")

	// The fact after the failure was never processed.
	w, err := store.WalletByUser(ctx, "emp-2", result.Accrued[0].ProgramID)
	require.NoError(t, err)
	assert.Nil(t, w)
}
