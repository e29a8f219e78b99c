/*
Package exchange executes point-for-item redemptions against the catalog.

PURPOSE:
  Validates and applies redemptions: the employee spends personal points
  for one or more catalog items, limited by balance and per-item stock.

ATOMICITY:
  All checks happen before any mutation, inside one transaction:
    1. Wallet exists and covers the total cost
    2. Every line's stock covers its quantity (unlimited items skip this)
  On success the wallet is debited, every finite stock is decremented, and
  exactly ONE exchange transaction carrying all line items is appended.
  Any single failing line aborts the whole request with no side effects;
  partial redemption never happens.

SEE ALSO:
  - wallet: DebitBalanceTx primitive
  - reward/types.go: LineItem records the unit price paid
*/
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pulse/reward-engine/logging"
	"github.com/pulse/reward-engine/reward"
	"github.com/pulse/reward-engine/wallet"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store reward.TxStore
	log   *logging.Logger
}

func New(store reward.TxStore, log *logging.Logger) *Service {
	return &Service{store: store, log: log}
}

// RedemptionLine is one requested catalog entry.
type RedemptionLine struct {
	ItemID   reward.ItemID
	Quantity int64
}

// Redeem spends walletID's personal points for the requested items.
// Returns the single appended EXCHANGE transaction, or one of
// InsufficientBalanceError / InsufficientStockError with no state change.
func (s *Service) Redeem(ctx context.Context, walletID reward.WalletID, lines []RedemptionLine) (*reward.PointTransaction, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	var result *reward.PointTransaction
	err := s.store.WithTx(ctx, func(st reward.Store) error {
		w, err := st.Wallet(ctx, walletID)
		if err != nil {
			return err
		}
		if w == nil {
			return &reward.IntegrityError{Kind: "wallet", Ref: string(walletID)}
		}

		// Resolve every line and price it before touching anything.
		lineItems := make([]reward.LineItem, 0, len(lines))
		items := make([]*reward.RewardItem, 0, len(lines))
		total := reward.ZeroPoints()
		for _, line := range lines {
			item, err := st.Item(ctx, line.ItemID)
			if err != nil {
				return err
			}
			if item == nil {
				return &reward.IntegrityError{Kind: "item", Ref: string(line.ItemID)}
			}
			if item.ProgramID != w.ProgramID {
				return &reward.ValidationError{Field: "items", Reason: "item belongs to another program"}
			}
			li := reward.LineItem{
				ItemID:     item.ID,
				Quantity:   line.Quantity,
				UnitPoints: item.RequiredPoints,
			}
			lineItems = append(lineItems, li)
			items = append(items, item)
			total = total.Add(li.Cost())
		}

		if w.PersonalPoint.LessThan(total) {
			return &reward.InsufficientBalanceError{
				WalletID:  w.ID,
				Available: w.PersonalPoint,
				Requested: total,
			}
		}
		for i, item := range items {
			if item.Unlimited() {
				continue
			}
			if item.Quantity < lineItems[i].Quantity {
				return &reward.InsufficientStockError{
					ItemID:    item.ID,
					Available: item.Quantity,
					Requested: lineItems[i].Quantity,
				}
			}
		}

		// All checks passed: mutate stock + balance and append the single
		// exchange record in this same unit.
		for i, item := range items {
			if item.Unlimited() {
				continue
			}
			if err := st.AdjustStock(ctx, item.ID, -lineItems[i].Quantity); err != nil {
				return err
			}
		}

		tx := reward.PointTransaction{
			Type:           reward.TxExchange,
			Amount:         total,
			SourceWalletID: w.ID,
			ProgramID:      w.ProgramID,
			LineItems:      lineItems,
		}
		debited, err := wallet.DebitBalanceTx(ctx, st, tx)
		if err != nil {
			return err
		}
		result = debited
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.log != nil {
		s.log.Debug("redemption applied",
			"wallet", string(walletID),
			"lines", len(lines),
			"total", result.Amount.String())
	}
	return result, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateLines(lines []RedemptionLine) error {
	if len(lines) == 0 {
		return &reward.ValidationError{Field: "items", Reason: "at least one item required"}
	}
	seen := make(map[reward.ItemID]bool, len(lines))
	for _, line := range lines {
		if line.ItemID == "" {
			return &reward.ValidationError{Field: "items", Reason: "item_id required"}
		}
		if line.Quantity < 1 {
			return &reward.ValidationError{Field: "items", Reason: "quantity must be >= 1"}
		}
		if seen[line.ItemID] {
			return &reward.ValidationError{Field: "items", Reason: "duplicate item in request"}
		}
		seen[line.ItemID] = true
	}
	return nil
}

// Cost computes what a line set would cost at the given unit prices.
// Exposed for callers that want to preview a redemption.
func Cost(lines []reward.LineItem) reward.Points {
	total := decimal.Zero
	for _, li := range lines {
		total = total.Add(li.Cost().Value)
	}
	return reward.PointsFromDecimal(total)
}
