/*
Package reward provides the core types for the reward points ledger.

PURPOSE:
  This package contains the data model shared by every component of the
  recognition platform: programs, policies, catalog items, wallets, and
  the point transactions that tie them together.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: An exact, decimal-backed point quantity
  - PointTransaction: An immutable ledger entry recording a balance change
  - RewardProgram/RewardPolicy/RewardItem: What is active and redeemable
  - UserWallet: The materialized per-user, per-program balance view

DESIGN PRINCIPLES:
  1. Ledger as truth: Wallet balances are a materialized view over the
     transaction log. Nothing mutates a balance without an append.
  2. Immutability: Transactions are never updated or deleted.
  3. Precision: Uses decimal.Decimal to avoid floating-point errors.
  4. Unsigned amounts: Transaction amounts are magnitudes; the effect on a
     wallet is derived from the transaction type, never stored as a sign.

USAGE:
  tx := reward.PointTransaction{
      Type:                reward.TxPolicyReward,
      Amount:              reward.NewPoints(10),
      DestinationWalletID: walletID,
      ProgramID:           programID,
  }

SEE ALSO:
  - ledger.go: Validating append-only ledger over a Store
  - errors.go: Error kinds returned by every component
  - store.go: Persistence contracts
*/
package reward

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// POINTS - Exact point quantity
// =============================================================================

// Points is a non-negative point magnitude in transactions, and a
// (still non-negative) balance in wallets. Arithmetic is exact.
type Points struct {
	Value decimal.Decimal
}

func NewPoints(v int64) Points {
	return Points{Value: decimal.NewFromInt(v)}
}

func PointsFromDecimal(d decimal.Decimal) Points {
	return Points{Value: d}
}

// ParsePoints parses a decimal string. Invalid input yields zero points.
func ParsePoints(s string) Points {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Points{Value: decimal.Zero}
	}
	return Points{Value: d}
}

func ZeroPoints() Points { return Points{Value: decimal.Zero} }

func (p Points) Add(q Points) Points              { return Points{Value: p.Value.Add(q.Value)} }
func (p Points) Sub(q Points) Points              { return Points{Value: p.Value.Sub(q.Value)} }
func (p Points) Mul(s decimal.Decimal) Points     { return Points{Value: p.Value.Mul(s)} }
func (p Points) Neg() Points                      { return Points{Value: p.Value.Neg()} }
func (p Points) IsNegative() bool                 { return p.Value.IsNegative() }
func (p Points) IsZero() bool                     { return p.Value.IsZero() }
func (p Points) IsPositive() bool                 { return p.Value.IsPositive() }
func (p Points) GreaterThan(q Points) bool        { return p.Value.GreaterThan(q.Value) }
func (p Points) GreaterThanOrEqual(q Points) bool { return p.Value.GreaterThanOrEqual(q.Value) }
func (p Points) LessThan(q Points) bool           { return p.Value.LessThan(q.Value) }
func (p Points) Equal(q Points) bool              { return p.Value.Equal(q.Value) }
func (p Points) String() string                   { return p.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProgramID string
type PolicyID string
type ItemID string
type WalletID string
type TransactionID string
type EmployeeID string

func NewProgramID() ProgramID         { return ProgramID(uuid.NewString()) }
func NewPolicyID() PolicyID           { return PolicyID(uuid.NewString()) }
func NewItemID() ItemID               { return ItemID(uuid.NewString()) }
func NewWalletID() WalletID           { return WalletID(uuid.NewString()) }
func NewTransactionID() TransactionID { return TransactionID(uuid.NewString()) }

// =============================================================================
// REWARD PROGRAM - Time-boxed campaign bundling policies and a catalog
// =============================================================================

type ProgramStatus string

const (
	ProgramPending  ProgramStatus = "pending"
	ProgramActive   ProgramStatus = "active"
	ProgramInactive ProgramStatus = "inactive" // terminal, retained for audit
)

// RewardProgram bundles accrual policies and a redeemable catalog.
//
// INVARIANT: At most one program is active at any instant, enforced
// transactionally by the program lifecycle manager.
type RewardProgram struct {
	ID          ProgramID
	Name        string
	Description string
	StartAt     time.Time
	EndAt       time.Time
	Status      ProgramStatus
	// GivingBudget is the default points budget a manager wallet receives
	// on each periodic reset.
	GivingBudget Points
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// =============================================================================
// REWARD POLICY - Attendance fact to points conversion rule
// =============================================================================

type PolicyType string

const (
	PolicyOvertime       PolicyType = "overtime"
	PolicyNotLate        PolicyType = "not_late"
	PolicyFullAttendance PolicyType = "full_attendance"
)

// KnownPolicyType reports whether t is one of the supported policy types.
func KnownPolicyType(t PolicyType) bool {
	switch t {
	case PolicyOvertime, PolicyNotLate, PolicyFullAttendance:
		return true
	}
	return false
}

// RewardPolicy converts attendance magnitudes into points:
// floor(magnitude / UnitValue) * PointsPerUnit.
// A policy becomes immutable once points have accrued under it.
type RewardPolicy struct {
	ID            PolicyID
	ProgramID     ProgramID
	Type          PolicyType
	UnitValue     decimal.Decimal // magnitude of one accrual unit (minutes, days)
	PointsPerUnit Points
	CreatedAt     time.Time
}

// =============================================================================
// REWARD ITEM - Stock-limited catalog entry
// =============================================================================

// UnlimitedStock is the quantity sentinel for items with no stock limit.
const UnlimitedStock int64 = -1

type RewardItem struct {
	ID             ItemID
	ProgramID      ProgramID
	Name           string
	RequiredPoints Points
	// Quantity is the remaining stock. UnlimitedStock (-1) disables stock
	// tracking; any other value is kept >= 0 at all times.
	Quantity  int64
	ImageURL  string
	CreatedAt time.Time
}

func (i RewardItem) Unlimited() bool { return i.Quantity == UnlimitedStock }

// =============================================================================
// USER WALLET - Materialized balance view (one per user+program)
// =============================================================================

// UserWallet holds the derived balances for one user in one program.
//
// INVARIANTS:
//   - PersonalPoint >= 0 at all times
//   - GivingBudget >= 0, and <= the program default right after a reset
//   - PersonalPoint always reconciles with the ledger (see Reconcile)
type UserWallet struct {
	ID            WalletID
	UserID        EmployeeID
	ProgramID     ProgramID
	PersonalPoint Points
	// GivingBudget is the remaining points this wallet's owner may gift in
	// the current period. Meaningful only for manager-role users; it is
	// initialized for every wallet since role checks live upstream.
	GivingBudget Points
	// Version increments on every balance write. Stores reject writes
	// against a stale version with ErrConcurrencyConflict.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// POINT TRANSACTION - Atomic, immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxPolicyReward TransactionType = "policy_reward" // accrual credited by the policy engine
	TxGift         TransactionType = "gift"          // manager budget -> employee wallet
	TxExchange     TransactionType = "exchange"      // wallet balance -> catalog items
)

// LineItem is one redeemed catalog entry inside an exchange transaction.
// UnitPoints records the price in force at redemption time.
type LineItem struct {
	ItemID     ItemID `json:"item_id"`
	Quantity   int64  `json:"quantity"`
	UnitPoints Points `json:"unit_points"`
}

func (li LineItem) Cost() Points {
	return li.UnitPoints.Mul(decimal.NewFromInt(li.Quantity))
}

// PointTransaction is the sole authoritative record of a balance change.
//
// Amount is always a non-negative magnitude; its effect on a wallet is
// derived from Type (see BalanceDelta / BudgetDelta), never stored signed.
type PointTransaction struct {
	ID     TransactionID
	Type   TransactionType
	Amount Points

	// SourceWalletID is the debited wallet: the manager wallet for gifts
	// (budget debit), the spending wallet for exchanges (balance debit).
	SourceWalletID WalletID
	// DestinationWalletID is the credited wallet for gifts and policy
	// rewards.
	DestinationWalletID WalletID

	ProgramID ProgramID
	// PolicyID is set for policy rewards only.
	PolicyID PolicyID
	// LineItems is set for exchanges only.
	LineItems []LineItem

	// IdempotencyKey deduplicates appends. The policy engine derives it
	// from (employee, policy type, period) so resent attendance facts are
	// harmless.
	IdempotencyKey string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// BalanceDelta returns the signed effect of this transaction on walletID's
// personal point balance. Gift sources are unaffected here: gifting spends
// budget, not personal points.
func (t PointTransaction) BalanceDelta(walletID WalletID) decimal.Decimal {
	switch t.Type {
	case TxPolicyReward, TxGift:
		if t.DestinationWalletID == walletID {
			return t.Amount.Value
		}
	case TxExchange:
		if t.SourceWalletID == walletID {
			return t.Amount.Value.Neg()
		}
	}
	return decimal.Zero
}

// BudgetDelta returns the signed effect of this transaction on walletID's
// giving budget. Only gift sources are affected; budget resets do not pass
// through the ledger.
func (t PointTransaction) BudgetDelta(walletID WalletID) decimal.Decimal {
	if t.Type == TxGift && t.SourceWalletID == walletID {
		return t.Amount.Value.Neg()
	}
	return decimal.Zero
}

// TouchesWallet reports whether walletID appears on either side.
func (t PointTransaction) TouchesWallet(walletID WalletID) bool {
	return t.SourceWalletID == walletID || t.DestinationWalletID == walletID
}
