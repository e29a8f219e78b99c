/*
Package accrual converts finalized attendance facts into point accruals.

PURPOSE:
  The policy engine is the only producer of POLICY_REWARD transactions.
  It matches each attendance fact against the active program's policies,
  computes whole-unit accruals, and credits the employee's wallet through
  the wallet primitives inside one atomic unit.

ACCRUAL RULE:
  units  = floor(magnitude / policy.UnitValue)
  points = units * policy.PointsPerUnit
  A fact below one whole unit accrues nothing. No partial-unit rounding.

IDEMPOTENCY:
  Upstream may resend facts. The engine derives a natural idempotency key
  from (program, employee, policy type, period); a duplicate append is
  treated as "already accrued" and reported as skipped, not as an error.

NOT AN ERROR:
  No active program, no matching policy, or a sub-unit magnitude simply
  produce no transaction. Accrual is inapplicable, not failed.

SEE ALSO:
  - wallet: CreditTx, GetOrCreateTx primitives
  - program: Governs which program and policies are active
*/
package accrual

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pulse/reward-engine/logging"
	"github.com/pulse/reward-engine/reward"
	"github.com/pulse/reward-engine/wallet"
)

// =============================================================================
// ATTENDANCE FACTS
// =============================================================================

// AttendanceFact is a finalized attendance outcome for one employee and
// one period, as produced by the attendance collaborator.
//
// Magnitude is policy-type specific: overtime minutes for overtime
// policies, qualifying day counts for not-late and full-attendance
// policies.
type AttendanceFact struct {
	EmployeeID reward.EmployeeID
	// ProgramID may be empty, in which case the active program is used.
	ProgramID  reward.ProgramID
	PolicyType reward.PolicyType
	Magnitude  decimal.Decimal
	PeriodKey  reward.PeriodKey
}

func (f AttendanceFact) validate() error {
	if f.EmployeeID == "" {
		return &reward.ValidationError{Field: "employee_id", Reason: "required"}
	}
	if !reward.KnownPolicyType(f.PolicyType) {
		return &reward.ValidationError{Field: "policy_type", Reason: "unknown policy type"}
	}
	if f.Magnitude.IsNegative() {
		return &reward.ValidationError{Field: "magnitude", Reason: "must be non-negative"}
	}
	if !f.PeriodKey.Valid() {
		return &reward.ValidationError{Field: "period_key", Reason: "must be a year-month key"}
	}
	return nil
}

// idempotencyKey is the natural key that makes resent facts harmless.
func (f AttendanceFact) idempotencyKey(programID reward.ProgramID) string {
	return fmt.Sprintf("accrual:%s:%s:%s:%s", programID, f.EmployeeID, f.PolicyType, f.PeriodKey)
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store reward.TxStore
	log   *logging.Logger
}

func New(store reward.TxStore, log *logging.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Accrue applies one fact. Returns the appended POLICY_REWARD transaction,
// or (nil, nil) when accrual is inapplicable: no active program, no
// matching policy, a sub-unit magnitude, or a fact already processed.
func (e *Engine) Accrue(ctx context.Context, fact AttendanceFact) (*reward.PointTransaction, error) {
	if err := fact.validate(); err != nil {
		return nil, err
	}

	var result *reward.PointTransaction
	err := e.store.WithTx(ctx, func(s reward.Store) error {
		prog, err := e.resolveProgram(ctx, s, fact.ProgramID)
		if err != nil || prog == nil {
			return err
		}

		policy, err := matchPolicy(ctx, s, prog.ID, fact.PolicyType)
		if err != nil || policy == nil {
			return err
		}

		// UnitValue is validated positive on every write path; a zero here
		// is a corrupt row and would panic the division.
		if !policy.UnitValue.IsPositive() {
			return &reward.IntegrityError{Kind: "policy", Ref: string(policy.ID)}
		}

		units := fact.Magnitude.Div(policy.UnitValue).Floor()
		if units.LessThan(decimal.NewFromInt(1)) {
			return nil
		}
		amount := policy.PointsPerUnit.Mul(units)

		dest, err := wallet.GetOrCreateTx(ctx, s, fact.EmployeeID, prog.ID)
		if err != nil {
			return err
		}

		tx := reward.PointTransaction{
			Type:                reward.TxPolicyReward,
			Amount:              amount,
			DestinationWalletID: dest.ID,
			ProgramID:           prog.ID,
			PolicyID:            policy.ID,
			IdempotencyKey:      fact.idempotencyKey(prog.ID),
			Metadata: map[string]string{
				"policy_type":     string(fact.PolicyType),
				"period":          fact.PeriodKey.String(),
				"units":           units.String(),
				"points_per_unit": policy.PointsPerUnit.String(),
			},
		}
		credited, err := wallet.CreditTx(ctx, s, tx)
		if err != nil {
			return err
		}
		result = credited
		return nil
	})
	if errors.Is(err, reward.ErrDuplicateIdempotencyKey) {
		// Already accrued for this (employee, policy type, period).
		if e.log != nil {
			e.log.Debug("attendance fact already accrued",
				"employee", string(fact.EmployeeID),
				"policy_type", string(fact.PolicyType),
				"period", fact.PeriodKey.String())
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolveProgram returns the program accrual should run against, or nil
// when there is nothing active to accrue under.
func (e *Engine) resolveProgram(ctx context.Context, s reward.Store, programID reward.ProgramID) (*reward.RewardProgram, error) {
	if programID == "" {
		return s.ActiveProgram(ctx)
	}
	prog, err := s.Program(ctx, programID)
	if err != nil {
		return nil, err
	}
	if prog == nil {
		return nil, &reward.IntegrityError{Kind: "program", Ref: string(programID)}
	}
	if prog.Status != reward.ProgramActive {
		return nil, nil
	}
	return prog, nil
}

// matchPolicy returns the first policy of the program with the fact's
// type, in creation order.
func matchPolicy(ctx context.Context, s reward.Store, programID reward.ProgramID, t reward.PolicyType) (*reward.RewardPolicy, error) {
	policies, err := s.PoliciesByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	for i := range policies {
		if policies[i].Type == t {
			return &policies[i], nil
		}
	}
	return nil, nil
}

// =============================================================================
// BATCH INGESTION
// =============================================================================

// BatchResult summarizes an attendance batch.
type BatchResult struct {
	Accrued []reward.PointTransaction
	// Skipped counts facts that produced no transaction (inapplicable or
	// already processed).
	Skipped int
}

// AccrueBatch applies a batch of facts, each in its own atomic unit. Facts
// are processed in order, which also serializes multiple facts targeting
// the same wallet; a failing fact aborts the batch and reports the facts
// already applied.
func (e *Engine) AccrueBatch(ctx context.Context, facts []AttendanceFact) (BatchResult, error) {
	var result BatchResult
	for _, fact := range facts {
		tx, err := e.Accrue(ctx, fact)
		if err != nil {
			return result, err
		}
		if tx == nil {
			result.Skipped++
			continue
		}
		result.Accrued = append(result.Accrued, *tx)
	}
	return result, nil
}
