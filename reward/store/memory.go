// Package store provides an in-memory reward.Store implementation
// (for testing and dev mode).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulse/reward-engine/reward"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of reward.Store
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions []reward.PointTransaction
	idempotency  map[string]bool
	wallets      map[reward.WalletID]reward.UserWallet
	programs     map[reward.ProgramID]reward.RewardProgram
	policies     map[reward.PolicyID]reward.RewardPolicy
	items        map[reward.ItemID]reward.RewardItem
	resets       map[resetKey]reward.BudgetResetRun
}

type resetKey struct {
	ProgramID reward.ProgramID
	Period    reward.PeriodKey
}

func NewMemory() *Memory {
	return &Memory{
		idempotency: make(map[string]bool),
		wallets:     make(map[reward.WalletID]reward.UserWallet),
		programs:    make(map[reward.ProgramID]reward.RewardProgram),
		policies:    make(map[reward.PolicyID]reward.RewardPolicy),
		items:       make(map[reward.ItemID]reward.RewardItem),
		resets:      make(map[resetKey]reward.BudgetResetRun),
	}
}

var _ reward.TxStore = (*Memory)(nil)

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tx reward.PointTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx reward.PointTransaction) error {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return reward.ErrDuplicateIdempotencyKey
	}
	// Line items are copied so callers cannot mutate stored history.
	if len(tx.LineItems) > 0 {
		tx.LineItems = append([]reward.LineItem(nil), tx.LineItems...)
	}
	m.transactions = append(m.transactions, tx)
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) TransactionsByWallet(_ context.Context, walletID reward.WalletID, f reward.TransactionFilter, p reward.Page) ([]reward.PointTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reward.PointTransaction
	for _, tx := range m.transactions {
		if tx.TouchesWallet(walletID) && f.Matches(tx) {
			result = append(result, tx)
		}
	}
	return paginate(result, p), nil
}

func (m *Memory) TransactionsByProgram(_ context.Context, programID reward.ProgramID, f reward.TransactionFilter, p reward.Page) ([]reward.PointTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reward.PointTransaction
	for _, tx := range m.transactions {
		if tx.ProgramID == programID && f.Matches(tx) {
			result = append(result, tx)
		}
	}
	return paginate(result, p), nil
}

func (m *Memory) TransactionExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) HasPolicyAccruals(_ context.Context, policyID reward.PolicyID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, tx := range m.transactions {
		if tx.Type == reward.TxPolicyReward && tx.PolicyID == policyID {
			return true, nil
		}
	}
	return false, nil
}

func paginate(txs []reward.PointTransaction, p reward.Page) []reward.PointTransaction {
	if p.Offset > 0 {
		if p.Offset >= len(txs) {
			return nil
		}
		txs = txs[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(txs) {
		txs = txs[:p.Limit]
	}
	result := make([]reward.PointTransaction, len(txs))
	copy(result, txs)
	return result
}

// =============================================================================
// WALLET STORE
// =============================================================================

func (m *Memory) CreateWallet(_ context.Context, w reward.UserWallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.ID] = w
	return nil
}

func (m *Memory) Wallet(_ context.Context, id reward.WalletID) (*reward.UserWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.wallets[id]; ok {
		return &w, nil
	}
	return nil, nil
}

func (m *Memory) WalletByUser(_ context.Context, userID reward.EmployeeID, programID reward.ProgramID) (*reward.UserWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.wallets {
		if w.UserID == userID && w.ProgramID == programID {
			w := w
			return &w, nil
		}
	}
	return nil, nil
}

func (m *Memory) WalletsByProgram(_ context.Context, programID reward.ProgramID) ([]reward.UserWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []reward.UserWallet
	for _, w := range m.wallets {
		if w.ProgramID == programID {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) UpdateWalletBalances(_ context.Context, id reward.WalletID, expectedVersion int64, personal, budget reward.Points) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[id]
	if !ok {
		return &reward.IntegrityError{Kind: "wallet", Ref: string(id)}
	}
	if w.Version != expectedVersion {
		return &reward.ConcurrencyConflictError{WalletID: id, ExpectedVersion: expectedVersion}
	}
	w.PersonalPoint = personal
	w.GivingBudget = budget
	w.Version++
	w.UpdatedAt = time.Now().UTC()
	m.wallets[id] = w
	return nil
}

// =============================================================================
// PROGRAM STORE
// =============================================================================

func (m *Memory) CreateProgram(_ context.Context, p reward.RewardProgram) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[p.ID] = p
	return nil
}

func (m *Memory) Program(_ context.Context, id reward.ProgramID) (*reward.RewardProgram, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.programs[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) ActiveProgram(_ context.Context) (*reward.RewardProgram, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.programs {
		if p.Status == reward.ProgramActive {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (m *Memory) Programs(_ context.Context) ([]reward.RewardProgram, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]reward.RewardProgram, 0, len(m.programs))
	for _, p := range m.programs {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) SetProgramStatus(_ context.Context, id reward.ProgramID, status reward.ProgramStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.programs[id]
	if !ok {
		return &reward.IntegrityError{Kind: "program", Ref: string(id)}
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	m.programs[id] = p
	return nil
}

func (m *Memory) CreatePolicy(_ context.Context, pol reward.RewardPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[pol.ID] = pol
	return nil
}

func (m *Memory) UpdatePolicy(_ context.Context, pol reward.RewardPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[pol.ID]; !ok {
		return &reward.IntegrityError{Kind: "policy", Ref: string(pol.ID)}
	}
	m.policies[pol.ID] = pol
	return nil
}

func (m *Memory) Policy(_ context.Context, id reward.PolicyID) (*reward.RewardPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pol, ok := m.policies[id]; ok {
		return &pol, nil
	}
	return nil, nil
}

func (m *Memory) PoliciesByProgram(_ context.Context, programID reward.ProgramID) ([]reward.RewardPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []reward.RewardPolicy
	for _, pol := range m.policies {
		if pol.ProgramID == programID {
			result = append(result, pol)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// =============================================================================
// CATALOG STORE
// =============================================================================

func (m *Memory) CreateItem(_ context.Context, it reward.RewardItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
	return nil
}

func (m *Memory) Item(_ context.Context, id reward.ItemID) (*reward.RewardItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if it, ok := m.items[id]; ok {
		return &it, nil
	}
	return nil, nil
}

func (m *Memory) ItemsByProgram(_ context.Context, programID reward.ProgramID) ([]reward.RewardItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []reward.RewardItem
	for _, it := range m.items {
		if it.ProgramID == programID {
			result = append(result, it)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) AdjustStock(_ context.Context, id reward.ItemID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return &reward.IntegrityError{Kind: "item", Ref: string(id)}
	}
	if it.Unlimited() {
		return &reward.ValidationError{Field: "quantity", Reason: "cannot adjust unlimited stock"}
	}
	next := it.Quantity + delta
	if next < 0 {
		return &reward.InsufficientStockError{ItemID: id, Available: it.Quantity, Requested: -delta}
	}
	it.Quantity = next
	m.items[id] = it
	return nil
}

// =============================================================================
// RESET STORE
// =============================================================================

func (m *Memory) IsBudgetResetComplete(_ context.Context, programID reward.ProgramID, period reward.PeriodKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.resets[resetKey{ProgramID: programID, Period: period}]
	return ok, nil
}

func (m *Memory) RecordBudgetReset(_ context.Context, run reward.BudgetResetRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[resetKey{ProgramID: run.ProgramID, Period: run.Period}] = run
	return nil
}

func (m *Memory) BudgetResets(_ context.Context, programID reward.ProgramID) ([]reward.BudgetResetRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []reward.BudgetResetRun
	for _, run := range m.resets {
		if run.ProgramID == programID {
			result = append(result, run)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Period < result[j].Period })
	return result, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback on error
// =============================================================================

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a full-state snapshot restored on error. The store-wide
// lock also serializes every check-then-write against concurrent callers.
func (m *Memory) WithTx(_ context.Context, fn func(reward.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	view := &txView{parent: m}

	if err := fn(view); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions []reward.PointTransaction
	idempotency  map[string]bool
	wallets      map[reward.WalletID]reward.UserWallet
	programs     map[reward.ProgramID]reward.RewardProgram
	policies     map[reward.PolicyID]reward.RewardPolicy
	items        map[reward.ItemID]reward.RewardItem
	resets       map[resetKey]reward.BudgetResetRun
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		transactions: append([]reward.PointTransaction(nil), m.transactions...),
		idempotency:  make(map[string]bool, len(m.idempotency)),
		wallets:      make(map[reward.WalletID]reward.UserWallet, len(m.wallets)),
		programs:     make(map[reward.ProgramID]reward.RewardProgram, len(m.programs)),
		policies:     make(map[reward.PolicyID]reward.RewardPolicy, len(m.policies)),
		items:        make(map[reward.ItemID]reward.RewardItem, len(m.items)),
		resets:       make(map[resetKey]reward.BudgetResetRun, len(m.resets)),
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range m.wallets {
		s.wallets[k] = v
	}
	for k, v := range m.programs {
		s.programs[k] = v
	}
	for k, v := range m.policies {
		s.policies[k] = v
	}
	for k, v := range m.items {
		s.items[k] = v
	}
	for k, v := range m.resets {
		s.resets[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.transactions = s.transactions
	m.idempotency = s.idempotency
	m.wallets = s.wallets
	m.programs = s.programs
	m.policies = s.policies
	m.items = s.items
	m.resets = s.resets
}

// txView routes Store calls back to the parent without taking its lock,
// which WithTx already holds.
type txView struct {
	parent *Memory
}

var _ reward.Store = (*txView)(nil)

func (tv *txView) AppendTransaction(_ context.Context, tx reward.PointTransaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txView) TransactionsByWallet(_ context.Context, walletID reward.WalletID, f reward.TransactionFilter, p reward.Page) ([]reward.PointTransaction, error) {
	var result []reward.PointTransaction
	for _, tx := range tv.parent.transactions {
		if tx.TouchesWallet(walletID) && f.Matches(tx) {
			result = append(result, tx)
		}
	}
	return paginate(result, p), nil
}

func (tv *txView) TransactionsByProgram(_ context.Context, programID reward.ProgramID, f reward.TransactionFilter, p reward.Page) ([]reward.PointTransaction, error) {
	var result []reward.PointTransaction
	for _, tx := range tv.parent.transactions {
		if tx.ProgramID == programID && f.Matches(tx) {
			result = append(result, tx)
		}
	}
	return paginate(result, p), nil
}

func (tv *txView) TransactionExists(_ context.Context, key string) (bool, error) {
	return tv.parent.idempotency[key], nil
}

func (tv *txView) HasPolicyAccruals(_ context.Context, policyID reward.PolicyID) (bool, error) {
	for _, tx := range tv.parent.transactions {
		if tx.Type == reward.TxPolicyReward && tx.PolicyID == policyID {
			return true, nil
		}
	}
	return false, nil
}

func (tv *txView) CreateWallet(_ context.Context, w reward.UserWallet) error {
	tv.parent.wallets[w.ID] = w
	return nil
}

func (tv *txView) Wallet(_ context.Context, id reward.WalletID) (*reward.UserWallet, error) {
	if w, ok := tv.parent.wallets[id]; ok {
		return &w, nil
	}
	return nil, nil
}

func (tv *txView) WalletByUser(_ context.Context, userID reward.EmployeeID, programID reward.ProgramID) (*reward.UserWallet, error) {
	for _, w := range tv.parent.wallets {
		if w.UserID == userID && w.ProgramID == programID {
			w := w
			return &w, nil
		}
	}
	return nil, nil
}

func (tv *txView) WalletsByProgram(_ context.Context, programID reward.ProgramID) ([]reward.UserWallet, error) {
	var result []reward.UserWallet
	for _, w := range tv.parent.wallets {
		if w.ProgramID == programID {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (tv *txView) UpdateWalletBalances(_ context.Context, id reward.WalletID, expectedVersion int64, personal, budget reward.Points) error {
	w, ok := tv.parent.wallets[id]
	if !ok {
		return &reward.IntegrityError{Kind: "wallet", Ref: string(id)}
	}
	if w.Version != expectedVersion {
		return &reward.ConcurrencyConflictError{WalletID: id, ExpectedVersion: expectedVersion}
	}
	w.PersonalPoint = personal
	w.GivingBudget = budget
	w.Version++
	w.UpdatedAt = time.Now().UTC()
	tv.parent.wallets[id] = w
	return nil
}

func (tv *txView) CreateProgram(_ context.Context, p reward.RewardProgram) error {
	tv.parent.programs[p.ID] = p
	return nil
}

func (tv *txView) Program(_ context.Context, id reward.ProgramID) (*reward.RewardProgram, error) {
	if p, ok := tv.parent.programs[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (tv *txView) ActiveProgram(_ context.Context) (*reward.RewardProgram, error) {
	for _, p := range tv.parent.programs {
		if p.Status == reward.ProgramActive {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (tv *txView) Programs(_ context.Context) ([]reward.RewardProgram, error) {
	result := make([]reward.RewardProgram, 0, len(tv.parent.programs))
	for _, p := range tv.parent.programs {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (tv *txView) SetProgramStatus(_ context.Context, id reward.ProgramID, status reward.ProgramStatus) error {
	p, ok := tv.parent.programs[id]
	if !ok {
		return &reward.IntegrityError{Kind: "program", Ref: string(id)}
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	tv.parent.programs[id] = p
	return nil
}

func (tv *txView) CreatePolicy(_ context.Context, pol reward.RewardPolicy) error {
	tv.parent.policies[pol.ID] = pol
	return nil
}

func (tv *txView) UpdatePolicy(_ context.Context, pol reward.RewardPolicy) error {
	if _, ok := tv.parent.policies[pol.ID]; !ok {
		return &reward.IntegrityError{Kind: "policy", Ref: string(pol.ID)}
	}
	tv.parent.policies[pol.ID] = pol
	return nil
}

func (tv *txView) Policy(_ context.Context, id reward.PolicyID) (*reward.RewardPolicy, error) {
	if pol, ok := tv.parent.policies[id]; ok {
		return &pol, nil
	}
	return nil, nil
}

func (tv *txView) PoliciesByProgram(_ context.Context, programID reward.ProgramID) ([]reward.RewardPolicy, error) {
	var result []reward.RewardPolicy
	for _, pol := range tv.parent.policies {
		if pol.ProgramID == programID {
			result = append(result, pol)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (tv *txView) CreateItem(_ context.Context, it reward.RewardItem) error {
	tv.parent.items[it.ID] = it
	return nil
}

func (tv *txView) Item(_ context.Context, id reward.ItemID) (*reward.RewardItem, error) {
	if it, ok := tv.parent.items[id]; ok {
		return &it, nil
	}
	return nil, nil
}

func (tv *txView) ItemsByProgram(_ context.Context, programID reward.ProgramID) ([]reward.RewardItem, error) {
	var result []reward.RewardItem
	for _, it := range tv.parent.items {
		if it.ProgramID == programID {
			result = append(result, it)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (tv *txView) AdjustStock(_ context.Context, id reward.ItemID, delta int64) error {
	it, ok := tv.parent.items[id]
	if !ok {
		return &reward.IntegrityError{Kind: "item", Ref: string(id)}
	}
	if it.Unlimited() {
		return &reward.ValidationError{Field: "quantity", Reason: "cannot adjust unlimited stock"}
	}
	next := it.Quantity + delta
	if next < 0 {
		return &reward.InsufficientStockError{ItemID: id, Available: it.Quantity, Requested: -delta}
	}
	it.Quantity = next
	tv.parent.items[id] = it
	return nil
}

func (tv *txView) IsBudgetResetComplete(_ context.Context, programID reward.ProgramID, period reward.PeriodKey) (bool, error) {
	_, ok := tv.parent.resets[resetKey{ProgramID: programID, Period: period}]
	return ok, nil
}

func (tv *txView) RecordBudgetReset(_ context.Context, run reward.BudgetResetRun) error {
	tv.parent.resets[resetKey{ProgramID: run.ProgramID, Period: run.Period}] = run
	return nil
}

func (tv *txView) BudgetResets(_ context.Context, programID reward.ProgramID) ([]reward.BudgetResetRun, error) {
	var result []reward.BudgetResetRun
	for _, run := range tv.parent.resets {
		if run.ProgramID == programID {
			result = append(result, run)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Period < result[j].Period })
	return result, nil
}
