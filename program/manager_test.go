package program_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/reward-engine/logging"
	"github.com/pulse/reward-engine/program"
	"github.com/pulse/reward-engine/reward"
	memstore "github.com/pulse/reward-engine/reward/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestManager(t *testing.T) (*program.Manager, *memstore.Memory) {
	t.Helper()
	store := memstore.NewMemory()
	return program.New(store, logging.NewNop()), store
}

func q3Spec() program.Spec {
	return program.Spec{
		Name:         "Q3 Recognition",
		Description:  "Attendance rewards for Q3",
		GivingBudget: reward.NewPoints(100),
		Policies: []program.PolicySpec{
			{Type: reward.PolicyOvertime, UnitValue: decimal.NewFromInt(30), PointsPerUnit: reward.NewPoints(5)},
			{Type: reward.PolicyNotLate, UnitValue: decimal.NewFromInt(1), PointsPerUnit: reward.NewPoints(2)},
		},
		Items: []program.ItemSpec{
			{Name: "Coffee Mug", RequiredPoints: reward.NewPoints(15), Quantity: 10},
		},
	}
}

// =============================================================================
// CREATION TESTS
// =============================================================================

func TestCreate_StartsPendingWithPoliciesAndCatalog(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	detail, err := mgr.Create(ctx, q3Spec())
	require.NoError(t, err)

	assert.Equal(t, reward.ProgramPending, detail.Program.Status)
	assert.Len(t, detail.Policies, 2)
	assert.Len(t, detail.Items, 1)

	// A pending program is not the active one.
	active, err := mgr.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCreate_WithActivate_IsImmediatelyActive(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	spec := q3Spec()
	spec.Activate = true
	detail, err := mgr.Create(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, reward.ProgramActive, detail.Program.Status)

	active, err := mgr.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, detail.Program.ID, active.ID)
}

func TestCreate_InvalidSpecs(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*program.Spec)
	}{
		{"empty name", func(s *program.Spec) { s.Name = "" }},
		{"negative budget", func(s *program.Spec) { s.GivingBudget = reward.NewPoints(-1) }},
		{"end before start", func(s *program.Spec) {
			s.StartAt = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
			s.EndAt = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		}},
		{"unknown policy type", func(s *program.Spec) { s.Policies[0].Type = "telepathy" }},
		{"zero unit value", func(s *program.Spec) { s.Policies[0].UnitValue = decimal.Zero }},
		{"item quantity below sentinel", func(s *program.Spec) { s.Items[0].Quantity = -2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := q3Spec()
			tc.mutate(&spec)
			_, err := mgr.Create(ctx, spec)
			assert.ErrorIs(t, err, reward.ErrValidation)
		})
	}
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestActivate_DemotesCurrentActiveProgram(t *testing.T) {
	// GIVEN: An active program
	// WHEN: Activating a second, pending program
	// THEN: The second is active and the first is INACTIVE, atomically

	mgr, _ := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.Create(ctx, q3Spec())
	require.NoError(t, err)
	require.NoError(t, mgr.Activate(ctx, first.Program.ID))

	spec := q3Spec()
	spec.Name = "Q4 Recognition"
	second, err := mgr.Create(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, mgr.Activate(ctx, second.Program.ID))

	active, err := mgr.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.Program.ID, active.ID)

	demoted, err := mgr.Get(ctx, first.Program.ID)
	require.NoError(t, err)
	assert.Equal(t, reward.ProgramInactive, demoted.Program.Status)
}

func TestActivate_AlreadyActive_NoOp(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	spec := q3Spec()
	spec.Activate = true
	detail, err := mgr.Create(ctx, spec)
	require.NoError(t, err)

	require.NoError(t, mgr.Activate(ctx, detail.Program.ID))

	active, err := mgr.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, detail.Program.ID, active.ID)
}

func TestActivate_InactiveProgram_Rejected(t *testing.T) {
	// INACTIVE is terminal. A retired program can never come back.

	mgr, _ := newTestManager(t)
	ctx := context.Background()

	detail, err := mgr.Create(ctx, q3Spec())
	require.NoError(t, err)
	require.NoError(t, mgr.Deactivate(ctx, detail.Program.ID))

	err = mgr.Activate(ctx, detail.Program.ID)
	assert.ErrorIs(t, err, reward.ErrProgramStateTransition)
}

func TestActivate_UnknownProgram_NotFound(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.Activate(context.Background(), "no-such")
	assert.True(t, reward.IsNotFound(err))
}

func TestDeactivate_FromPendingAndActive(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	pending, err := mgr.Create(ctx, q3Spec())
	require.NoError(t, err)
	require.NoError(t, mgr.Deactivate(ctx, pending.Program.ID))

	spec := q3Spec()
	spec.Activate = true
	active, err := mgr.Create(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, mgr.Deactivate(ctx, active.Program.ID))

	// Repeat deactivation is a no-op.
	require.NoError(t, mgr.Deactivate(ctx, active.Program.ID))

	none, err := mgr.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

// =============================================================================
// POLICY & CATALOG ADMINISTRATION TESTS
// =============================================================================

func TestAddPolicy_AppendsToProgram(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	detail, err := mgr.Create(ctx, q3Spec())
	require.NoError(t, err)

	pol, err := mgr.AddPolicy(ctx, detail.Program.ID, program.PolicySpec{
		Type:          reward.PolicyFullAttendance,
		UnitValue:     decimal.NewFromInt(1),
		PointsPerUnit: reward.NewPoints(50),
	})
	require.NoError(t, err)

	after, err := mgr.Get(ctx, detail.Program.ID)
	require.NoError(t, err)
	assert.Len(t, after.Policies, 3)
	assert.Equal(t, pol.ID, after.Policies[2].ID)
}

func TestUpdatePolicy_BeforeAnyAccrual(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	detail, err := mgr.Create(ctx, q3Spec())
	require.NoError(t, err)
	polID := detail.Policies[0].ID

	updated, err := mgr.UpdatePolicy(ctx, polID, program.PolicySpec{
		Type:          reward.PolicyOvertime,
		UnitValue:     decimal.NewFromInt(60),
		PointsPerUnit: reward.NewPoints(8),
	})
	require.NoError(t, err)
	assert.Equal(t, "60", updated.UnitValue.String())
	assert.Equal(t, "8", updated.PointsPerUnit.Value.String())
}

func TestUpdatePolicy_AfterAccrual_Rejected(t *testing.T) {
	// GIVEN: A policy that has already rewarded someone
	// WHEN: Editing its rate
	// THEN: Rejected. Past transactions are never re-priced.

	mgr, store := newTestManager(t)
	ctx := context.Background()

	spec := q3Spec()
	spec.Activate = true
	detail, err := mgr.Create(ctx, spec)
	require.NoError(t, err)
	polID := detail.Policies[0].ID

	now := time.Now().UTC()
	require.NoError(t, store.CreateWallet(ctx, reward.UserWallet{
		ID: "wal-1", UserID: "alice", ProgramID: detail.Program.ID,
		PersonalPoint: reward.NewPoints(5), GivingBudget: reward.NewPoints(100),
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.AppendTransaction(ctx, reward.PointTransaction{
		ID: reward.NewTransactionID(), Type: reward.TxPolicyReward,
		Amount: reward.NewPoints(5), DestinationWalletID: "wal-1",
		ProgramID: detail.Program.ID, PolicyID: polID, CreatedAt: now,
	}))

	_, err = mgr.UpdatePolicy(ctx, polID, program.PolicySpec{
		Type:          reward.PolicyOvertime,
		UnitValue:     decimal.NewFromInt(60),
		PointsPerUnit: reward.NewPoints(8),
	})
	assert.ErrorIs(t, err, reward.ErrValidation)
}

func TestAddItem_IncludingUnlimited(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	detail, err := mgr.Create(ctx, q3Spec())
	require.NoError(t, err)

	item, err := mgr.AddItem(ctx, detail.Program.ID, program.ItemSpec{
		Name:           "Profile Badge",
		RequiredPoints: reward.NewPoints(5),
		Quantity:       reward.UnlimitedStock,
	})
	require.NoError(t, err)
	assert.True(t, item.Unlimited())

	after, err := mgr.Get(ctx, detail.Program.ID)
	require.NoError(t, err)
	assert.Len(t, after.Items, 2)
}

func TestGet_UnknownProgram_NotFound(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.Get(context.Background(), "no-such")
	assert.True(t, reward.IsNotFound(err))
}
