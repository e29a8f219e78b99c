/*
Package wallet maintains the per-employee, per-program balance view.

PURPOSE:
  The Manager owns every wallet mutation: credits from the policy engine,
  manager gifts, balance debits for exchanges, and the periodic budget
  reset. Each mutation appends to the ledger and updates the materialized
  wallet row inside the same atomic unit, so the two can never diverge.

INVARIANTS:
  - PersonalPoint >= 0 and GivingBudget >= 0, always
  - A gift batch is all-or-nothing: the full total is checked against the
    budget before any recipient is credited
  - One wallet per (user, program), created lazily on first participation
  - Budget resets are idempotent per (program, period)

IN-TX PRIMITIVES:
  CreditTx and DebitBalanceTx operate on an already-open transaction view
  so the policy engine and exchange service can compose them with their
  own checks in a single atomic unit.

SEE ALSO:
  - reward/ledger.go: The append-only log these mutations flow through
  - exchange: Composes DebitBalanceTx with stock checks
*/
package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pulse/reward-engine/logging"
	"github.com/pulse/reward-engine/reward"
)

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	store reward.TxStore
	log   *logging.Logger
}

func New(store reward.TxStore, log *logging.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// =============================================================================
// WALLET CREATION - Lazy, one per (user, program)
// =============================================================================

// GetOrCreate returns the user's wallet for the program, creating it on
// first participation with a zero balance and the program's default
// giving budget.
func (m *Manager) GetOrCreate(ctx context.Context, userID reward.EmployeeID, programID reward.ProgramID) (*reward.UserWallet, error) {
	var result *reward.UserWallet
	err := m.store.WithTx(ctx, func(s reward.Store) error {
		w, err := GetOrCreateTx(ctx, s, userID, programID)
		if err != nil {
			return err
		}
		result = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetOrCreateTx is the in-transaction form of GetOrCreate.
func GetOrCreateTx(ctx context.Context, s reward.Store, userID reward.EmployeeID, programID reward.ProgramID) (*reward.UserWallet, error) {
	if userID == "" {
		return nil, &reward.ValidationError{Field: "user_id", Reason: "required"}
	}
	prog, err := s.Program(ctx, programID)
	if err != nil {
		return nil, err
	}
	if prog == nil {
		return nil, &reward.IntegrityError{Kind: "program", Ref: string(programID)}
	}

	w, err := s.WalletByUser(ctx, userID, programID)
	if err != nil {
		return nil, err
	}
	if w != nil {
		return w, nil
	}

	now := time.Now().UTC()
	fresh := reward.UserWallet{
		ID:            reward.NewWalletID(),
		UserID:        userID,
		ProgramID:     programID,
		PersonalPoint: reward.ZeroPoints(),
		GivingBudget:  prog.GivingBudget,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.CreateWallet(ctx, fresh); err != nil {
		return nil, err
	}
	return &fresh, nil
}

// =============================================================================
// CREDIT - Points only ever increase via policy rewards and gifts
// =============================================================================

// Credit appends tx and raises the destination wallet's personal points by
// tx.Amount, atomically. The transaction must be a policy reward or a
// gift-side credit prepared by the caller.
func (m *Manager) Credit(ctx context.Context, tx reward.PointTransaction) (*reward.PointTransaction, error) {
	var result *reward.PointTransaction
	err := m.store.WithTx(ctx, func(s reward.Store) error {
		appended, err := CreditTx(ctx, s, tx)
		if err != nil {
			return err
		}
		result = appended
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreditTx validates and appends tx, then raises the destination wallet's
// balance in the same unit. Runs against an already-open transaction view.
func CreditTx(ctx context.Context, s reward.Store, tx reward.PointTransaction) (*reward.PointTransaction, error) {
	if tx.Type != reward.TxPolicyReward && tx.Type != reward.TxGift {
		return nil, &reward.ValidationError{Field: "type", Reason: "credit requires a policy reward or gift"}
	}

	ledger := reward.NewLedger(s)
	id, err := ledger.Append(ctx, tx)
	if err != nil {
		return nil, err
	}
	tx.ID = id

	dest, err := s.Wallet(ctx, tx.DestinationWalletID)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		return nil, &reward.IntegrityError{Kind: "wallet", Ref: string(tx.DestinationWalletID)}
	}
	newBalance := dest.PersonalPoint.Add(tx.Amount)
	if err := s.UpdateWalletBalances(ctx, dest.ID, dest.Version, newBalance, dest.GivingBudget); err != nil {
		return nil, err
	}
	return &tx, nil
}

// =============================================================================
// BALANCE DEBIT - Used by the exchange service
// =============================================================================

// DebitBalanceTx checks the source wallet covers tx.Amount, appends tx,
// and lowers the balance, all in the caller's open transaction. Returns
// InsufficientBalanceError without side effects on a shortfall.
func DebitBalanceTx(ctx context.Context, s reward.Store, tx reward.PointTransaction) (*reward.PointTransaction, error) {
	src, err := s.Wallet(ctx, tx.SourceWalletID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, &reward.IntegrityError{Kind: "wallet", Ref: string(tx.SourceWalletID)}
	}
	if src.PersonalPoint.LessThan(tx.Amount) {
		return nil, &reward.InsufficientBalanceError{
			WalletID:  src.ID,
			Available: src.PersonalPoint,
			Requested: tx.Amount,
		}
	}

	ledger := reward.NewLedger(s)
	id, err := ledger.Append(ctx, tx)
	if err != nil {
		return nil, err
	}
	tx.ID = id

	newBalance := src.PersonalPoint.Sub(tx.Amount)
	if err := s.UpdateWalletBalances(ctx, src.ID, src.Version, newBalance, src.GivingBudget); err != nil {
		return nil, err
	}
	return &tx, nil
}

// =============================================================================
// GIFTS - Budget-capped, all-or-nothing batches
// =============================================================================

// GiftRecipient is one target of a gift batch. Recipients are addressed by
// employee so their wallet can be created lazily.
type GiftRecipient struct {
	EmployeeID reward.EmployeeID
	Amount     reward.Points
}

// Gift debits the manager wallet's giving budget by the batch total and
// credits every recipient, appending one GIFT transaction per recipient.
// The whole batch is evaluated up front: if the budget cannot cover the
// total, no wallet is mutated and InsufficientBudgetError is returned.
func (m *Manager) Gift(ctx context.Context, managerWalletID reward.WalletID, recipients []GiftRecipient) ([]reward.PointTransaction, error) {
	if len(recipients) == 0 {
		return nil, &reward.ValidationError{Field: "recipients", Reason: "at least one recipient required"}
	}
	total := reward.ZeroPoints()
	for _, r := range recipients {
		if r.EmployeeID == "" {
			return nil, &reward.ValidationError{Field: "recipients", Reason: "employee_id required"}
		}
		if !r.Amount.IsPositive() {
			return nil, &reward.ValidationError{Field: "recipients", Reason: "amount must be positive"}
		}
		total = total.Add(r.Amount)
	}

	var appended []reward.PointTransaction
	err := m.store.WithTx(ctx, func(s reward.Store) error {
		mgr, err := s.Wallet(ctx, managerWalletID)
		if err != nil {
			return err
		}
		if mgr == nil {
			return &reward.IntegrityError{Kind: "wallet", Ref: string(managerWalletID)}
		}
		if mgr.GivingBudget.LessThan(total) {
			return &reward.InsufficientBudgetError{
				WalletID:  mgr.ID,
				Available: mgr.GivingBudget,
				Requested: total,
			}
		}

		for _, r := range recipients {
			dest, err := GetOrCreateTx(ctx, s, r.EmployeeID, mgr.ProgramID)
			if err != nil {
				return err
			}
			if dest.ID == mgr.ID {
				return &reward.ValidationError{Field: "recipients", Reason: "cannot gift to the gifting wallet"}
			}
			tx := reward.PointTransaction{
				Type:                reward.TxGift,
				Amount:              r.Amount,
				SourceWalletID:      mgr.ID,
				DestinationWalletID: dest.ID,
				ProgramID:           mgr.ProgramID,
			}
			credited, err := CreditTx(ctx, s, tx)
			if err != nil {
				return err
			}
			appended = append(appended, *credited)
		}

		newBudget := mgr.GivingBudget.Sub(total)
		return s.UpdateWalletBalances(ctx, mgr.ID, mgr.Version, mgr.PersonalPoint, newBudget)
	})
	if err != nil {
		return nil, err
	}
	if m.log != nil {
		m.log.Debug("gift batch applied",
			"manager_wallet", string(managerWalletID),
			"recipients", len(recipients),
			"total", total.String())
	}
	return appended, nil
}

// =============================================================================
// BUDGET RESETS - Scheduled, idempotent per (program, period)
// =============================================================================

// ResetBudgets sets every wallet of the program back to the program's
// default giving budget for the given period. Re-running the same period
// is a no-op; personal points and prior transactions are untouched.
func (m *Manager) ResetBudgets(ctx context.Context, programID reward.ProgramID, period reward.PeriodKey) (*reward.BudgetResetRun, error) {
	if !period.Valid() {
		return nil, &reward.ValidationError{Field: "period", Reason: "must be a year-month key"}
	}

	var run *reward.BudgetResetRun
	err := m.store.WithTx(ctx, func(s reward.Store) error {
		prog, err := s.Program(ctx, programID)
		if err != nil {
			return err
		}
		if prog == nil {
			return &reward.IntegrityError{Kind: "program", Ref: string(programID)}
		}

		done, err := s.IsBudgetResetComplete(ctx, programID, period)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		wallets, err := s.WalletsByProgram(ctx, programID)
		if err != nil {
			return err
		}
		for _, w := range wallets {
			if err := s.UpdateWalletBalances(ctx, w.ID, w.Version, w.PersonalPoint, prog.GivingBudget); err != nil {
				return err
			}
		}

		r := reward.BudgetResetRun{
			ID:           uuid.NewString(),
			ProgramID:    programID,
			Period:       period,
			WalletsReset: len(wallets),
			CompletedAt:  time.Now().UTC(),
		}
		if err := s.RecordBudgetReset(ctx, r); err != nil {
			return err
		}
		run = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if run != nil && m.log != nil {
		m.log.Info("budget reset applied",
			"program", string(programID),
			"period", period.String(),
			"wallets", run.WalletsReset)
	}
	return run, nil
}

// =============================================================================
// READS & RECONCILIATION
// =============================================================================

// Wallet returns the materialized wallet state.
func (m *Manager) Wallet(ctx context.Context, id reward.WalletID) (*reward.UserWallet, error) {
	w, err := m.store.Wallet(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, &reward.IntegrityError{Kind: "wallet", Ref: string(id)}
	}
	return w, nil
}

// ReconciliationReport compares the materialized balance with a full
// ledger replay.
type ReconciliationReport struct {
	WalletID     reward.WalletID
	Materialized reward.Points
	Replayed     reward.Points
	BudgetSpent  reward.Points
	Transactions int
	Consistent   bool
}

// Reconcile replays the wallet's ledger and checks the personal point
// invariant: the materialized balance must equal the replayed sum.
func (m *Manager) Reconcile(ctx context.Context, id reward.WalletID) (*ReconciliationReport, error) {
	w, err := m.Wallet(ctx, id)
	if err != nil {
		return nil, err
	}
	replayed, err := reward.Replay(ctx, reward.NewLedger(m.store), id)
	if err != nil {
		return nil, err
	}
	return &ReconciliationReport{
		WalletID:     id,
		Materialized: w.PersonalPoint,
		Replayed:     replayed.PersonalPoint,
		BudgetSpent:  replayed.BudgetSpent,
		Transactions: replayed.Transactions,
		Consistent:   w.PersonalPoint.Equal(replayed.PersonalPoint),
	}, nil
}
