package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/reward-engine/reward"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedTestWallet(t *testing.T, s *Store, id reward.WalletID) {
	t.Helper()
	now := time.Now().UTC()
	err := s.CreateWallet(context.Background(), reward.UserWallet{
		ID: id, UserID: reward.EmployeeID("user-" + string(id)), ProgramID: "prog-1",
		PersonalPoint: reward.ZeroPoints(), GivingBudget: reward.NewPoints(100),
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
}

// =============================================================================
// CONNECTION TESTS
// =============================================================================

func TestNew_MemoryDatabaseSharedAcrossGoroutines(t *testing.T) {
	// A ":memory:" database is per-connection. Parallel readers must not
	// pull a second pooled connection with its own empty schema.

	store := newTestStore(t)
	ctx := context.Background()
	seedTestWallet(t, store, "w-shared")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := store.Wallet(ctx, "w-shared")
			if err != nil {
				errs <- err
				return
			}
			if w == nil {
				errs <- errors.New("seeded wallet not visible")
				return
			}
			errs <- nil
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestSQLite_AppendAndQueryTransaction_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := reward.PointTransaction{
		ID:             "tx-1",
		Type:           reward.TxExchange,
		Amount:         reward.NewPoints(30),
		SourceWalletID: "w-1",
		ProgramID:      "prog-1",
		LineItems: []reward.LineItem{
			{ItemID: "item-1", Quantity: 2, UnitPoints: reward.NewPoints(15)},
		},
		IdempotencyKey: "redeem-1",
		Metadata:       map[string]string{"period": "2026-08"},
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.AppendTransaction(ctx, tx))

	txs, err := store.TransactionsByWallet(ctx, "w-1", reward.TransactionFilter{}, reward.Page{})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	got := txs[0]
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, reward.TxExchange, got.Type)
	assert.Equal(t, "30", got.Amount.Value.String())
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, int64(2), got.LineItems[0].Quantity)
	assert.Equal(t, "15", got.LineItems[0].UnitPoints.Value.String())
	assert.Equal(t, "2026-08", got.Metadata["period"])
}

func TestSQLite_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := reward.PointTransaction{
		ID: "tx-1", Type: reward.TxPolicyReward, Amount: reward.NewPoints(10),
		DestinationWalletID: "w-1", ProgramID: "prog-1", PolicyID: "pol-1",
		IdempotencyKey: "accrual:prog-1:emp-1:overtime:2026-08",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.AppendTransaction(ctx, tx))

	tx.ID = "tx-2"
	err := store.AppendTransaction(ctx, tx)
	assert.ErrorIs(t, err, reward.ErrDuplicateIdempotencyKey)

	exists, err := store.TransactionExists(ctx, tx.IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLite_TransactionFilter_TypesAndPaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, typ := range []reward.TransactionType{reward.TxPolicyReward, reward.TxPolicyReward, reward.TxGift} {
		tx := reward.PointTransaction{
			ID:        reward.NewTransactionID(),
			Type:      typ,
			Amount:    reward.NewPoints(5),
			ProgramID: "prog-1",
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if typ == reward.TxGift {
			tx.SourceWalletID = "w-1"
			tx.DestinationWalletID = "w-2"
		} else {
			tx.DestinationWalletID = "w-1"
			tx.PolicyID = "pol-1"
		}
		require.NoError(t, store.AppendTransaction(ctx, tx))
	}

	gifts, err := store.TransactionsByProgram(ctx, "prog-1",
		reward.TransactionFilter{Types: []reward.TransactionType{reward.TxGift}}, reward.Page{})
	require.NoError(t, err)
	assert.Len(t, gifts, 1)

	page, err := store.TransactionsByProgram(ctx, "prog-1", reward.TransactionFilter{}, reward.Page{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	offset, err := store.TransactionsByProgram(ctx, "prog-1", reward.TransactionFilter{}, reward.Page{Offset: 2})
	require.NoError(t, err)
	assert.Len(t, offset, 1)
}

// =============================================================================
// TRANSACTIONAL UNIT TESTS
// =============================================================================

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A unit that appends a transaction and then fails
	// WHEN: WithTx returns the error
	// THEN: Nothing was committed

	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(s reward.Store) error {
		if err := s.AppendTransaction(ctx, reward.PointTransaction{
			ID: "tx-1", Type: reward.TxPolicyReward, Amount: reward.NewPoints(10),
			DestinationWalletID: "w-1", ProgramID: "prog-1", PolicyID: "pol-1",
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	txs, err := store.TransactionsByWallet(ctx, "w-1", reward.TransactionFilter{}, reward.Page{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSQLite_WithTx_ReadsSeeUncommittedWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s reward.Store) error {
		now := time.Now().UTC()
		if err := s.CreateWallet(ctx, reward.UserWallet{
			ID: "w-1", UserID: "u-1", ProgramID: "prog-1",
			PersonalPoint: reward.ZeroPoints(), GivingBudget: reward.ZeroPoints(),
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		w, err := s.Wallet(ctx, "w-1")
		if err != nil {
			return err
		}
		require.NotNil(t, w, "in-unit read must see the uncommitted wallet")
		return nil
	})
	require.NoError(t, err)
}

// =============================================================================
// WALLET TESTS
// =============================================================================

func TestSQLite_Wallet_MissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	w, err := store.Wallet(context.Background(), "no-such")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestSQLite_CreateWallet_DuplicateUserProgramRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTestWallet(t, store, "w-1")

	now := time.Now().UTC()
	err := store.CreateWallet(ctx, reward.UserWallet{
		ID: "w-other", UserID: "user-w-1", ProgramID: "prog-1",
		PersonalPoint: reward.ZeroPoints(), GivingBudget: reward.ZeroPoints(),
		CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, reward.ErrValidation)
}

func TestSQLite_UpdateWalletBalances_VersionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTestWallet(t, store, "w-1")

	require.NoError(t, store.UpdateWalletBalances(ctx, "w-1", 0, reward.NewPoints(10), reward.NewPoints(100)))

	err := store.UpdateWalletBalances(ctx, "w-1", 0, reward.NewPoints(99), reward.NewPoints(100))
	assert.ErrorIs(t, err, reward.ErrConcurrencyConflict)

	w, err := store.Wallet(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "10", w.PersonalPoint.Value.String())
	assert.Equal(t, int64(1), w.Version)
}

func TestSQLite_UpdateWalletBalances_MissingWalletIsNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateWalletBalances(context.Background(), "no-such", 0, reward.ZeroPoints(), reward.ZeroPoints())
	assert.True(t, reward.IsNotFound(err))
}

// =============================================================================
// PROGRAM AND CATALOG TESTS
// =============================================================================

func TestSQLite_Program_RoundTripAndActiveLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateProgram(ctx, reward.RewardProgram{
		ID: "prog-1", Name: "Q3 Recognition", Status: reward.ProgramPending,
		GivingBudget: reward.NewPoints(100), CreatedAt: now, UpdatedAt: now,
	}))

	active, err := store.ActiveProgram(ctx)
	require.NoError(t, err)
	assert.Nil(t, active, "pending program is not active")

	require.NoError(t, store.SetProgramStatus(ctx, "prog-1", reward.ProgramActive))

	active, err = store.ActiveProgram(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "Q3 Recognition", active.Name)
	assert.Equal(t, "100", active.GivingBudget.Value.String())
}

func TestSQLite_AdjustStock_GuardsAndSentinel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateItem(ctx, reward.RewardItem{
		ID: "item-1", ProgramID: "prog-1", Name: "Mug",
		RequiredPoints: reward.NewPoints(10), Quantity: 1, CreatedAt: now,
	}))
	require.NoError(t, store.CreateItem(ctx, reward.RewardItem{
		ID: "item-2", ProgramID: "prog-1", Name: "Donation",
		RequiredPoints: reward.NewPoints(5), Quantity: reward.UnlimitedStock, CreatedAt: now,
	}))

	require.NoError(t, store.AdjustStock(ctx, "item-1", -1))
	err := store.AdjustStock(ctx, "item-1", -1)
	assert.ErrorIs(t, err, reward.ErrInsufficientStock)

	err = store.AdjustStock(ctx, "item-2", -1)
	assert.ErrorIs(t, err, reward.ErrValidation)
}

// =============================================================================
// BUDGET RESET TESTS
// =============================================================================

func TestSQLite_BudgetResets_OnePerProgramPeriod(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := reward.BudgetResetRun{
		ID: "run-1", ProgramID: "prog-1", Period: "2026-08",
		WalletsReset: 4, CompletedAt: time.Now().UTC(),
	}
	require.NoError(t, store.RecordBudgetReset(ctx, run))

	// Second record for the same period is absorbed, not duplicated.
	run.ID = "run-2"
	require.NoError(t, store.RecordBudgetReset(ctx, run))

	runs, err := store.BudgetResets(ctx, "prog-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].WalletsReset)

	done, err := store.IsBudgetResetComplete(ctx, "prog-1", "2026-08")
	require.NoError(t, err)
	assert.True(t, done)
}
