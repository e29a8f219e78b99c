/*
Package program governs the lifecycle of reward programs, their accrual
policies, and their redeemable catalog.

PURPOSE:
  Programs move PENDING -> ACTIVE -> INACTIVE, with PENDING -> INACTIVE as
  the cancel path. INACTIVE is terminal: balances and history are retained
  for audit, but the program never accrues again.

GLOBAL EXCLUSIVITY:
  At most one program is ACTIVE at any instant. Activate() enforces this
  inside a single transaction: read the current active program, demote it
  to INACTIVE, promote the target. There is no separate global flag; the
  status column plus this transactional swap is the whole mechanism.

POLICY IMMUTABILITY:
  Once any points have accrued under a policy, edits to it are rejected.
  Past transactions already record the points-per-unit in force when they
  were created, so history stays explainable either way.

SEE ALSO:
  - accrual: Consumes the active program's policies
  - factory: Declarative JSON program specs
*/
package program

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pulse/reward-engine/logging"
	"github.com/pulse/reward-engine/reward"
)

// =============================================================================
// SPECS - Input shapes for program creation
// =============================================================================

// PolicySpec describes one accrual policy to create.
type PolicySpec struct {
	Type          reward.PolicyType
	UnitValue     decimal.Decimal
	PointsPerUnit reward.Points
}

// ItemSpec describes one catalog item to create.
type ItemSpec struct {
	Name           string
	RequiredPoints reward.Points
	Quantity       int64
	ImageURL       string
}

// Spec describes a whole program. Activate requests immediate activation,
// which demotes any currently active program.
type Spec struct {
	Name         string
	Description  string
	StartAt      time.Time
	EndAt        time.Time
	GivingBudget reward.Points
	Activate     bool
	Policies     []PolicySpec
	Items        []ItemSpec
}

func (sp Spec) validate() error {
	if sp.Name == "" {
		return &reward.ValidationError{Field: "name", Reason: "required"}
	}
	if sp.GivingBudget.IsNegative() {
		return &reward.ValidationError{Field: "giving_budget", Reason: "must be non-negative"}
	}
	if !sp.EndAt.IsZero() && !sp.StartAt.IsZero() && sp.EndAt.Before(sp.StartAt) {
		return &reward.ValidationError{Field: "end_at", Reason: "must not precede start_at"}
	}
	for i, p := range sp.Policies {
		if err := validatePolicySpec(p); err != nil {
			return fmt.Errorf("policy %d: %w", i, err)
		}
	}
	for i, it := range sp.Items {
		if err := validateItemSpec(it); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func validatePolicySpec(p PolicySpec) error {
	if !reward.KnownPolicyType(p.Type) {
		return &reward.ValidationError{Field: "type", Reason: "unknown policy type"}
	}
	if !p.UnitValue.IsPositive() {
		return &reward.ValidationError{Field: "unit_value", Reason: "must be positive"}
	}
	if p.PointsPerUnit.IsNegative() {
		return &reward.ValidationError{Field: "points_per_unit", Reason: "must be non-negative"}
	}
	return nil
}

func validateItemSpec(it ItemSpec) error {
	if it.Name == "" {
		return &reward.ValidationError{Field: "name", Reason: "required"}
	}
	if it.RequiredPoints.IsNegative() {
		return &reward.ValidationError{Field: "required_points", Reason: "must be non-negative"}
	}
	if it.Quantity < 0 && it.Quantity != reward.UnlimitedStock {
		return &reward.ValidationError{Field: "quantity", Reason: "must be >= 0, or -1 for unlimited"}
	}
	return nil
}

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

// Detail is a program with its policies and catalog.
type Detail struct {
	Program  reward.RewardProgram
	Policies []reward.RewardPolicy
	Items    []reward.RewardItem
}

// Create persists the program, its policies, and its catalog in one unit.
// The program starts PENDING unless the spec requests activation.
func (m *Manager) Create(ctx context.Context, spec Spec) (*Detail, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	prog := reward.RewardProgram{
		ID:           reward.NewProgramID(),
		Name:         spec.Name,
		Description:  spec.Description,
		StartAt:      spec.StartAt,
		EndAt:        spec.EndAt,
		Status:       reward.ProgramPending,
		GivingBudget: spec.GivingBudget,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	detail := &Detail{Program: prog}
	err := m.store.WithTx(ctx, func(s reward.Store) error {
		if err := s.CreateProgram(ctx, prog); err != nil {
			return err
		}
		for i, ps := range spec.Policies {
			pol := reward.RewardPolicy{
				ID:            reward.NewPolicyID(),
				ProgramID:     prog.ID,
				Type:          ps.Type,
				UnitValue:     ps.UnitValue,
				PointsPerUnit: ps.PointsPerUnit,
				// Creation order is the policy match order.
				CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			}
			if err := s.CreatePolicy(ctx, pol); err != nil {
				return err
			}
			detail.Policies = append(detail.Policies, pol)
		}
		for i, is := range spec.Items {
			item := reward.RewardItem{
				ID:             reward.NewItemID(),
				ProgramID:      prog.ID,
				Name:           is.Name,
				RequiredPoints: is.RequiredPoints,
				Quantity:       is.Quantity,
				ImageURL:       is.ImageURL,
				CreatedAt:      now.Add(time.Duration(i) * time.Microsecond),
			}
			if err := s.CreateItem(ctx, item); err != nil {
				return err
			}
			detail.Items = append(detail.Items, item)
		}
		if spec.Activate {
			if err := activateTx(ctx, s, prog.ID); err != nil {
				return err
			}
			detail.Program.Status = reward.ProgramActive
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.log != nil {
		m.log.Info("program created",
			"program", string(prog.ID),
			"name", prog.Name,
			"active", spec.Activate)
	}
	return detail, nil
}

// =============================================================================
// LIFECYCLE - pending -> active -> inactive (terminal)
// =============================================================================

// Activate promotes the program to ACTIVE, demoting any currently active
// program to INACTIVE first, as one atomic step. Activating the already
// active program is a no-op; an INACTIVE program can never come back.
func (m *Manager) Activate(ctx context.Context, id reward.ProgramID) error {
	err := m.store.WithTx(ctx, func(s reward.Store) error {
		return activateTx(ctx, s, id)
	})
	if err != nil {
		return err
	}
	if m.log != nil {
		m.log.Info("program activated", "program", string(id))
	}
	return nil
}

func activateTx(ctx context.Context, s reward.Store, id reward.ProgramID) error {
	target, err := s.Program(ctx, id)
	if err != nil {
		return err
	}
	if target == nil {
		return &reward.IntegrityError{Kind: "program", Ref: string(id)}
	}
	switch target.Status {
	case reward.ProgramActive:
		return nil
	case reward.ProgramInactive:
		return fmt.Errorf("%w: program %s is inactive", reward.ErrProgramStateTransition, id)
	}

	current, err := s.ActiveProgram(ctx)
	if err != nil {
		return err
	}
	if current != nil {
		if err := s.SetProgramStatus(ctx, current.ID, reward.ProgramInactive); err != nil {
			return err
		}
	}
	return s.SetProgramStatus(ctx, id, reward.ProgramActive)
}

// Deactivate retires the program. Works from PENDING (cancel) and ACTIVE;
// already-inactive programs are a no-op. Wallets keep their balances and
// history.
func (m *Manager) Deactivate(ctx context.Context, id reward.ProgramID) error {
	err := m.store.WithTx(ctx, func(s reward.Store) error {
		target, err := s.Program(ctx, id)
		if err != nil {
			return err
		}
		if target == nil {
			return &reward.IntegrityError{Kind: "program", Ref: string(id)}
		}
		if target.Status == reward.ProgramInactive {
			return nil
		}
		return s.SetProgramStatus(ctx, id, reward.ProgramInactive)
	})
	if err != nil {
		return err
	}
	if m.log != nil {
		m.log.Info("program deactivated", "program", string(id))
	}
	return nil
}

// =============================================================================
// POLICY & CATALOG ADMINISTRATION
// =============================================================================

// AddPolicy attaches a new policy to the program.
func (m *Manager) AddPolicy(ctx context.Context, programID reward.ProgramID, spec PolicySpec) (*reward.RewardPolicy, error) {
	if err := validatePolicySpec(spec); err != nil {
		return nil, err
	}
	pol := reward.RewardPolicy{
		ID:            reward.NewPolicyID(),
		ProgramID:     programID,
		Type:          spec.Type,
		UnitValue:     spec.UnitValue,
		PointsPerUnit: spec.PointsPerUnit,
		CreatedAt:     time.Now().UTC(),
	}
	err := m.store.WithTx(ctx, func(s reward.Store) error {
		prog, err := s.Program(ctx, programID)
		if err != nil {
			return err
		}
		if prog == nil {
			return &reward.IntegrityError{Kind: "program", Ref: string(programID)}
		}
		return s.CreatePolicy(ctx, pol)
	})
	if err != nil {
		return nil, err
	}
	return &pol, nil
}

// UpdatePolicy edits a policy's unit value and points-per-unit. Rejected
// once any points have accrued under the policy: past transactions must
// never be retroactively re-priced.
func (m *Manager) UpdatePolicy(ctx context.Context, policyID reward.PolicyID, spec PolicySpec) (*reward.RewardPolicy, error) {
	if err := validatePolicySpec(spec); err != nil {
		return nil, err
	}
	var updated *reward.RewardPolicy
	err := m.store.WithTx(ctx, func(s reward.Store) error {
		pol, err := s.Policy(ctx, policyID)
		if err != nil {
			return err
		}
		if pol == nil {
			return &reward.IntegrityError{Kind: "policy", Ref: string(policyID)}
		}
		accrued, err := s.HasPolicyAccruals(ctx, policyID)
		if err != nil {
			return err
		}
		if accrued {
			return &reward.ValidationError{Field: "policy", Reason: "points have accrued under this policy; it can no longer be edited"}
		}
		pol.Type = spec.Type
		pol.UnitValue = spec.UnitValue
		pol.PointsPerUnit = spec.PointsPerUnit
		if err := s.UpdatePolicy(ctx, *pol); err != nil {
			return err
		}
		updated = pol
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddItem attaches a new catalog item to the program.
func (m *Manager) AddItem(ctx context.Context, programID reward.ProgramID, spec ItemSpec) (*reward.RewardItem, error) {
	if err := validateItemSpec(spec); err != nil {
		return nil, err
	}
	item := reward.RewardItem{
		ID:             reward.NewItemID(),
		ProgramID:      programID,
		Name:           spec.Name,
		RequiredPoints: spec.RequiredPoints,
		Quantity:       spec.Quantity,
		ImageURL:       spec.ImageURL,
		CreatedAt:      time.Now().UTC(),
	}
	err := m.store.WithTx(ctx, func(s reward.Store) error {
		prog, err := s.Program(ctx, programID)
		if err != nil {
			return err
		}
		if prog == nil {
			return &reward.IntegrityError{Kind: "program", Ref: string(programID)}
		}
		return s.CreateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns the program with its policies and catalog.
func (m *Manager) Get(ctx context.Context, id reward.ProgramID) (*Detail, error) {
	prog, err := m.store.Program(ctx, id)
	if err != nil {
		return nil, err
	}
	if prog == nil {
		return nil, &reward.IntegrityError{Kind: "program", Ref: string(id)}
	}
	policies, err := m.store.PoliciesByProgram(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := m.store.ItemsByProgram(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Program: *prog, Policies: policies, Items: items}, nil
}

// List returns all programs, oldest first. Inactive programs are included
// for audit.
func (m *Manager) List(ctx context.Context) ([]reward.RewardProgram, error) {
	return m.store.Programs(ctx)
}

// Active returns the single active program, or nil when none is active.
func (m *Manager) Active(ctx context.Context) (*reward.RewardProgram, error) {
	return m.store.ActiveProgram(ctx)
}
