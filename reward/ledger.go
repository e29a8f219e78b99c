/*
ledger.go - Append-only point transaction ledger

PURPOSE:
  The Ledger is the single source of truth for all balance changes. Every
  accrual, gift, and exchange is recorded here; wallet balances are a
  materialized view that must always reconcile with this log.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No update, no delete. Ever.
  2. IMMUTABLE: Once written, transactions cannot be modified.
  3. VALIDATED: Appends with missing type-specific fields are rejected
     before they reach storage.
  4. IDEMPOTENT: Same idempotency key = same transaction, no duplicates.

WHY APPEND-ONLY?
  - Audit trail: every balance is explainable from its history
  - Correctness: no partial updates can corrupt derived state
  - Reconciliation: Replay() recomputes any wallet from scratch

SEE ALSO:
  - store.go: LedgerStore persistence contract
  - wallet: Maintains the materialized balances under the same WithTx
*/
package reward

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Validating append-only log over a Store
// =============================================================================

// Ledger is the write and read surface of the transaction log.
type Ledger interface {
	// Append validates and persists one transaction, filling in ID and
	// CreatedAt when absent. This is the ONLY write path for the ledger.
	Append(ctx context.Context, tx PointTransaction) (TransactionID, error)

	// ByWallet returns the wallet's transactions, oldest first.
	ByWallet(ctx context.Context, walletID WalletID, f TransactionFilter, p Page) ([]PointTransaction, error)

	// ByProgram returns the program's transactions, oldest first.
	ByProgram(ctx context.Context, programID ProgramID, f TransactionFilter, p Page) ([]PointTransaction, error)
}

// DefaultLedger implements Ledger over any Store. Construct one per atomic
// unit: NewLedger(txView) inside WithTx shares that unit's transaction.
type DefaultLedger struct {
	store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx PointTransaction) (TransactionID, error) {
	if err := l.validate(ctx, &tx); err != nil {
		return "", err
	}
	if tx.ID == "" {
		tx.ID = NewTransactionID()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.IdempotencyKey != "" {
		exists, err := l.store.TransactionExists(ctx, tx.IdempotencyKey)
		if err != nil {
			return "", err
		}
		if exists {
			return "", ErrDuplicateIdempotencyKey
		}
	}
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		return "", err
	}
	return tx.ID, nil
}

func (l *DefaultLedger) ByWallet(ctx context.Context, walletID WalletID, f TransactionFilter, p Page) ([]PointTransaction, error) {
	return l.store.TransactionsByWallet(ctx, walletID, f, p)
}

func (l *DefaultLedger) ByProgram(ctx context.Context, programID ProgramID, f TransactionFilter, p Page) ([]PointTransaction, error) {
	return l.store.TransactionsByProgram(ctx, programID, f, p)
}

// =============================================================================
// VALIDATION - Type-specific required fields
// =============================================================================

func (l *DefaultLedger) validate(ctx context.Context, tx *PointTransaction) error {
	if tx.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "must be a non-negative magnitude"}
	}
	if tx.ProgramID == "" {
		return &ValidationError{Field: "program_id", Reason: "required"}
	}

	switch tx.Type {
	case TxPolicyReward:
		if tx.DestinationWalletID == "" {
			return &ValidationError{Field: "destination_wallet_id", Reason: "required for policy rewards"}
		}
		if tx.PolicyID == "" {
			return &ValidationError{Field: "policy_id", Reason: "required for policy rewards"}
		}
		if tx.SourceWalletID != "" {
			return &ValidationError{Field: "source_wallet_id", Reason: "must be empty for policy rewards"}
		}
	case TxGift:
		if tx.SourceWalletID == "" {
			return &ValidationError{Field: "source_wallet_id", Reason: "required for gifts"}
		}
		if tx.DestinationWalletID == "" {
			return &ValidationError{Field: "destination_wallet_id", Reason: "required for gifts"}
		}
		if tx.SourceWalletID == tx.DestinationWalletID {
			return &ValidationError{Field: "destination_wallet_id", Reason: "cannot gift to the source wallet"}
		}
	case TxExchange:
		if tx.SourceWalletID == "" {
			return &ValidationError{Field: "source_wallet_id", Reason: "required for exchanges"}
		}
		if len(tx.LineItems) == 0 {
			return &ValidationError{Field: "line_items", Reason: "required for exchanges"}
		}
		total := decimal.Zero
		for _, li := range tx.LineItems {
			if li.ItemID == "" {
				return &ValidationError{Field: "line_items", Reason: "item_id required"}
			}
			if li.Quantity < 1 {
				return &ValidationError{Field: "line_items", Reason: "quantity must be >= 1"}
			}
			if li.UnitPoints.IsNegative() {
				return &ValidationError{Field: "line_items", Reason: "unit_points must be non-negative"}
			}
			total = total.Add(li.Cost().Value)
		}
		if !total.Equal(tx.Amount.Value) {
			return &ValidationError{Field: "amount", Reason: "must equal the sum of line item costs"}
		}
	default:
		return &ValidationError{Field: "type", Reason: "unknown transaction type"}
	}

	// Referenced wallets must exist.
	for _, ref := range []WalletID{tx.SourceWalletID, tx.DestinationWalletID} {
		if ref == "" {
			continue
		}
		w, err := l.store.Wallet(ctx, ref)
		if err != nil {
			return err
		}
		if w == nil {
			return &IntegrityError{Kind: "wallet", Ref: string(ref)}
		}
	}
	return nil
}

// =============================================================================
// REPLAY - Derive balances from the ledger alone
// =============================================================================

// ReplayResult is a wallet state recomputed purely from transactions.
type ReplayResult struct {
	WalletID      WalletID
	PersonalPoint Points
	// BudgetSpent is the total gifted out of this wallet's budget. Budget
	// resets do not pass through the ledger, so the remaining budget
	// itself cannot be replayed, only the spend.
	BudgetSpent  Points
	Transactions int
}

// Replay folds the wallet's full history into derived balances. Used by
// reconciliation checks against the materialized wallet row.
func Replay(ctx context.Context, l Ledger, walletID WalletID) (ReplayResult, error) {
	txs, err := l.ByWallet(ctx, walletID, TransactionFilter{}, Page{})
	if err != nil {
		return ReplayResult{}, err
	}
	personal := decimal.Zero
	spent := decimal.Zero
	for _, tx := range txs {
		personal = personal.Add(tx.BalanceDelta(walletID))
		spent = spent.Sub(tx.BudgetDelta(walletID))
	}
	return ReplayResult{
		WalletID:      walletID,
		PersonalPoint: PointsFromDecimal(personal),
		BudgetSpent:   PointsFromDecimal(spent),
		Transactions:  len(txs),
	}, nil
}
