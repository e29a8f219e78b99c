/*
store.go - Persistence contracts for the reward engine

PURPOSE:
  Defines the interface between domain logic and the database. The ledger
  side is strictly append-only; wallets, items, and programs are mutable
  rows whose writes must happen inside the same transaction as the ledger
  append that justifies them.

KEY INTERFACES:
  LedgerStore:  Append-only transaction persistence and paged reads
  WalletStore:  Wallet rows with optimistic version checks
  ProgramStore: Programs and their policies
  CatalogStore: Reward items and stock adjustments
  ResetStore:   Budget reset run bookkeeping (idempotence)
  TxStore:      Atomic multi-write units via WithTx

APPEND-ONLY CONTRACT:
  LedgerStore has AppendTransaction and reads. No update or delete method
  exists for transactions, and none may be added.

ATOMIC UNITS:
  Every operation that checks a precondition (balance, budget, stock) and
  then mutates state runs inside WithTx. Stores serialize writers so a
  check-then-write is never observably split under concurrent access.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - reward/store: In-memory store for tests and dev mode

SEE ALSO:
  - ledger.go: Validating ledger built on LedgerStore
*/
package reward

import (
	"context"
	"time"
)

// =============================================================================
// TRANSACTION READS - Filtering and paging
// =============================================================================

// TransactionFilter narrows ledger reads. Zero values mean "no constraint".
type TransactionFilter struct {
	Types []TransactionType
	From  time.Time
	To    time.Time
}

// Matches reports whether tx passes the filter.
func (f TransactionFilter) Matches(tx PointTransaction) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if tx.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.From.IsZero() && tx.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// Page bounds a read. A zero or negative limit means "no limit".
type Page struct {
	Limit  int
	Offset int
}

// =============================================================================
// STORE CONTRACTS
// =============================================================================

// LedgerStore persists transactions. APPEND-ONLY: no update, no delete.
type LedgerStore interface {
	// AppendTransaction persists one transaction. Fails with
	// ErrDuplicateIdempotencyKey if the idempotency key exists.
	AppendTransaction(ctx context.Context, tx PointTransaction) error

	// TransactionsByWallet returns transactions touching the wallet on
	// either side, oldest first.
	TransactionsByWallet(ctx context.Context, walletID WalletID, f TransactionFilter, p Page) ([]PointTransaction, error)

	// TransactionsByProgram returns the program's ledger, oldest first.
	TransactionsByProgram(ctx context.Context, programID ProgramID, f TransactionFilter, p Page) ([]PointTransaction, error)

	// TransactionExists checks whether an idempotency key was seen.
	TransactionExists(ctx context.Context, idempotencyKey string) (bool, error)

	// HasPolicyAccruals reports whether any policy reward exists for the
	// policy. Gates policy edits after activation.
	HasPolicyAccruals(ctx context.Context, policyID PolicyID) (bool, error)
}

// WalletStore persists wallet rows. Lookups return (nil, nil) when absent.
type WalletStore interface {
	CreateWallet(ctx context.Context, w UserWallet) error
	Wallet(ctx context.Context, id WalletID) (*UserWallet, error)
	WalletByUser(ctx context.Context, userID EmployeeID, programID ProgramID) (*UserWallet, error)
	WalletsByProgram(ctx context.Context, programID ProgramID) ([]UserWallet, error)

	// UpdateWalletBalances writes both balances and bumps the version.
	// Fails with ErrConcurrencyConflict when expectedVersion is stale.
	UpdateWalletBalances(ctx context.Context, id WalletID, expectedVersion int64, personal, budget Points) error
}

// ProgramStore persists programs and their policies. Lookups return
// (nil, nil) when absent.
type ProgramStore interface {
	CreateProgram(ctx context.Context, p RewardProgram) error
	Program(ctx context.Context, id ProgramID) (*RewardProgram, error)
	// ActiveProgram returns the single active program, or nil.
	ActiveProgram(ctx context.Context) (*RewardProgram, error)
	Programs(ctx context.Context) ([]RewardProgram, error)
	SetProgramStatus(ctx context.Context, id ProgramID, status ProgramStatus) error

	CreatePolicy(ctx context.Context, pol RewardPolicy) error
	UpdatePolicy(ctx context.Context, pol RewardPolicy) error
	Policy(ctx context.Context, id PolicyID) (*RewardPolicy, error)
	PoliciesByProgram(ctx context.Context, programID ProgramID) ([]RewardPolicy, error)
}

// CatalogStore persists reward items. Lookups return (nil, nil) when absent.
type CatalogStore interface {
	CreateItem(ctx context.Context, it RewardItem) error
	Item(ctx context.Context, id ItemID) (*RewardItem, error)
	ItemsByProgram(ctx context.Context, programID ProgramID) ([]RewardItem, error)

	// AdjustStock changes a finite item's quantity by delta. Fails with
	// ErrInsufficientStock if the result would be negative, and is a
	// validation error on unlimited items.
	AdjustStock(ctx context.Context, id ItemID, delta int64) error
}

// BudgetResetRun records one completed budget reset for audit and
// idempotence.
type BudgetResetRun struct {
	ID           string
	ProgramID    ProgramID
	Period       PeriodKey
	WalletsReset int
	CompletedAt  time.Time
}

// ResetStore records budget reset runs. One run per (program, period).
type ResetStore interface {
	IsBudgetResetComplete(ctx context.Context, programID ProgramID, period PeriodKey) (bool, error)
	RecordBudgetReset(ctx context.Context, run BudgetResetRun) error
	BudgetResets(ctx context.Context, programID ProgramID) ([]BudgetResetRun, error)
}

// Store is the full persistence surface the engines operate on.
type Store interface {
	LedgerStore
	WalletStore
	ProgramStore
	CatalogStore
	ResetStore
}

// TxStore wraps Store with transaction support.
//
// WithTx executes fn within one atomic unit: if fn returns an error the
// unit is rolled back, otherwise it is committed. The Store passed to fn
// must only be used inside fn.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
