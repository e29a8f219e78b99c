package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/reward-engine/reward"
)

func seedItem(t *testing.T, m *Memory, id reward.ItemID, quantity int64) {
	t.Helper()
	err := m.CreateItem(context.Background(), reward.RewardItem{
		ID:             id,
		ProgramID:      "prog-1",
		Name:           "Test Item",
		RequiredPoints: reward.NewPoints(10),
		Quantity:       quantity,
	})
	require.NoError(t, err)
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes a wallet and then fails
	// WHEN: WithTx returns the error
	// THEN: The wallet write is rolled back

	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(s reward.Store) error {
		if err := s.CreateWallet(ctx, reward.UserWallet{
			ID: "w-1", UserID: "u-1", ProgramID: "prog-1",
			PersonalPoint: reward.ZeroPoints(), GivingBudget: reward.ZeroPoints(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := m.Wallet(ctx, "w-1")
	require.NoError(t, err)
	assert.Nil(t, w, "rolled-back wallet should not exist")
}

func TestMemory_WithTx_CommitsOnSuccess(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.WithTx(ctx, func(s reward.Store) error {
		return s.CreateWallet(ctx, reward.UserWallet{
			ID: "w-1", UserID: "u-1", ProgramID: "prog-1",
			PersonalPoint: reward.ZeroPoints(), GivingBudget: reward.ZeroPoints(),
		})
	})
	require.NoError(t, err)

	w, err := m.Wallet(ctx, "w-1")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, reward.EmployeeID("u-1"), w.UserID)
}

func TestMemory_AdjustStock_NeverGoesNegative(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedItem(t, m, "item-1", 2)

	require.NoError(t, m.AdjustStock(ctx, "item-1", -2))

	err := m.AdjustStock(ctx, "item-1", -1)
	assert.ErrorIs(t, err, reward.ErrInsufficientStock)

	it, err := m.Item(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), it.Quantity)
}

func TestMemory_AdjustStock_UnlimitedRejected(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedItem(t, m, "item-unltd", reward.UnlimitedStock)

	err := m.AdjustStock(ctx, "item-unltd", -1)
	assert.ErrorIs(t, err, reward.ErrValidation)
}

func TestMemory_UpdateWalletBalances_StaleVersionRejected(t *testing.T) {
	// GIVEN: A wallet at version 1 after one write
	// WHEN: Writing again with the stale expected version 0
	// THEN: ErrConcurrencyConflict, balances untouched

	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateWallet(ctx, reward.UserWallet{
		ID: "w-1", UserID: "u-1", ProgramID: "prog-1",
		PersonalPoint: reward.ZeroPoints(), GivingBudget: reward.ZeroPoints(),
	}))

	require.NoError(t, m.UpdateWalletBalances(ctx, "w-1", 0, reward.NewPoints(10), reward.ZeroPoints()))

	err := m.UpdateWalletBalances(ctx, "w-1", 0, reward.NewPoints(99), reward.ZeroPoints())
	assert.ErrorIs(t, err, reward.ErrConcurrencyConflict)

	w, err := m.Wallet(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "10", w.PersonalPoint.Value.String())
	assert.Equal(t, int64(1), w.Version)
}

func TestMemory_RecordBudgetReset_OnePerProgramPeriod(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	run := reward.BudgetResetRun{ID: "run-1", ProgramID: "prog-1", Period: "2026-08", WalletsReset: 3}
	require.NoError(t, m.RecordBudgetReset(ctx, run))

	done, err := m.IsBudgetResetComplete(ctx, "prog-1", "2026-08")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = m.IsBudgetResetComplete(ctx, "prog-1", "2026-09")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestMemory_TransactionOrdering_InsertionOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, id := range []reward.TransactionID{"t1", "t2", "t3"} {
		require.NoError(t, m.AppendTransaction(ctx, reward.PointTransaction{
			ID: id, Type: reward.TxPolicyReward, Amount: reward.NewPoints(1),
			DestinationWalletID: "w-1", ProgramID: "prog-1", PolicyID: "pol-1",
		}))
	}

	txs, err := m.TransactionsByWallet(ctx, "w-1", reward.TransactionFilter{}, reward.Page{})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, reward.TransactionID("t1"), txs[0].ID)
	assert.Equal(t, reward.TransactionID("t3"), txs[2].ID)
}
