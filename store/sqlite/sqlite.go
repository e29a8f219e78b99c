/*
Package sqlite provides the SQLite-backed implementation of reward.Store.

PURPOSE:
  Implements the full persistence surface (ledger, wallets, programs,
  catalog, budget reset runs) on SQLite. The same patterns apply to
  PostgreSQL with only dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statement exists for the transactions table
  - A UNIQUE index on idempotency_key rejects duplicate appends

KEY TABLES:
  transactions:  Immutable ledger of all point movements
  wallets:       Materialized balances with an optimistic version column
  programs:      Reward programs (status drives the single-active rule)
  policies:      Accrual policies per program
  items:         Redeemable catalog with live stock
  budget_resets: One row per completed (program, period) reset

CONCURRENCY:
  A store-wide sync.RWMutex serializes writers, and WithTx wraps a
  database transaction, so every check-then-write sequence runs as one
  atomic, serialized unit. Wallet balance writes additionally carry an
  optimistic version check so a caller operating on stale state gets a
  conflict error instead of silently clobbering.

WAL MODE:
  Opened with WAL and foreign keys on: readers don't block, one writer
  at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/rewards.db")   // or ":memory:"
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - reward/store.go: Interface definitions
  - reward/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/pulse/reward-engine/reward"
)

// Store implements reward.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ reward.TxStore = (*Store)(nil)

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One pooled connection: a second connection to ":memory:" would see
	// its own separate empty database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		source_wallet_id TEXT,
		destination_wallet_id TEXT,
		program_id TEXT NOT NULL,
		policy_id TEXT,
		line_items_json TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_source
		ON transactions(source_wallet_id) WHERE source_wallet_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_destination
		ON transactions(destination_wallet_id) WHERE destination_wallet_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_program_created
		ON transactions(program_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_policy
		ON transactions(policy_id) WHERE policy_id IS NOT NULL;

	-- Programs
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		start_at TEXT,
		end_at TEXT,
		status TEXT NOT NULL,
		giving_budget TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_programs_status
		ON programs(status);

	-- Policies
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		policy_type TEXT NOT NULL,
		unit_value TEXT NOT NULL,
		points_per_unit TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policies_program
		ON policies(program_id);

	-- Catalog items
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		name TEXT NOT NULL,
		required_points TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		image_url TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_program
		ON items(program_id);

	-- Wallets (materialized balances, one per user+program)
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		program_id TEXT NOT NULL,
		personal_point TEXT NOT NULL,
		giving_budget TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(user_id, program_id)
	);

	CREATE INDEX IF NOT EXISTS idx_wallets_program
		ON wallets(program_id);

	-- Budget resets (one per program+period, makes resets re-runnable)
	CREATE TABLE IF NOT EXISTS budget_resets (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		period TEXT NOT NULL,
		wallets_reset INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT NOT NULL,
		UNIQUE(program_id, period)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query helper can
// run inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements reward.Store against any dbtx without locking. The
// public Store methods add the mutex; the transaction view inside WithTx
// already runs with the lock held and must not re-acquire it.
type queries struct {
	db dbtx
}

var _ reward.Store = queries{}

// =============================================================================
// PUBLIC SURFACE - mutex + delegation
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx reward.PointTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.AppendTransaction(ctx, tx)
}

func (s *Store) TransactionsByWallet(ctx context.Context, walletID reward.WalletID, f reward.TransactionFilter, p reward.Page) ([]reward.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.TransactionsByWallet(ctx, walletID, f, p)
}

func (s *Store) TransactionsByProgram(ctx context.Context, programID reward.ProgramID, f reward.TransactionFilter, p reward.Page) ([]reward.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.TransactionsByProgram(ctx, programID, f, p)
}

func (s *Store) TransactionExists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.TransactionExists(ctx, key)
}

func (s *Store) HasPolicyAccruals(ctx context.Context, policyID reward.PolicyID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.HasPolicyAccruals(ctx, policyID)
}

func (s *Store) CreateWallet(ctx context.Context, w reward.UserWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.CreateWallet(ctx, w)
}

func (s *Store) Wallet(ctx context.Context, id reward.WalletID) (*reward.UserWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.Wallet(ctx, id)
}

func (s *Store) WalletByUser(ctx context.Context, userID reward.EmployeeID, programID reward.ProgramID) (*reward.UserWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.WalletByUser(ctx, userID, programID)
}

func (s *Store) WalletsByProgram(ctx context.Context, programID reward.ProgramID) ([]reward.UserWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.WalletsByProgram(ctx, programID)
}

func (s *Store) UpdateWalletBalances(ctx context.Context, id reward.WalletID, expectedVersion int64, personal, budget reward.Points) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.UpdateWalletBalances(ctx, id, expectedVersion, personal, budget)
}

func (s *Store) CreateProgram(ctx context.Context, p reward.RewardProgram) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.CreateProgram(ctx, p)
}

func (s *Store) Program(ctx context.Context, id reward.ProgramID) (*reward.RewardProgram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.Program(ctx, id)
}

func (s *Store) ActiveProgram(ctx context.Context) (*reward.RewardProgram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ActiveProgram(ctx)
}

func (s *Store) Programs(ctx context.Context) ([]reward.RewardProgram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.Programs(ctx)
}

func (s *Store) SetProgramStatus(ctx context.Context, id reward.ProgramID, status reward.ProgramStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SetProgramStatus(ctx, id, status)
}

func (s *Store) CreatePolicy(ctx context.Context, pol reward.RewardPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.CreatePolicy(ctx, pol)
}

func (s *Store) UpdatePolicy(ctx context.Context, pol reward.RewardPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.UpdatePolicy(ctx, pol)
}

func (s *Store) Policy(ctx context.Context, id reward.PolicyID) (*reward.RewardPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.Policy(ctx, id)
}

func (s *Store) PoliciesByProgram(ctx context.Context, programID reward.ProgramID) ([]reward.RewardPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.PoliciesByProgram(ctx, programID)
}

func (s *Store) CreateItem(ctx context.Context, it reward.RewardItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.CreateItem(ctx, it)
}

func (s *Store) Item(ctx context.Context, id reward.ItemID) (*reward.RewardItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.Item(ctx, id)
}

func (s *Store) ItemsByProgram(ctx context.Context, programID reward.ProgramID) ([]reward.RewardItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ItemsByProgram(ctx, programID)
}

func (s *Store) AdjustStock(ctx context.Context, id reward.ItemID, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.AdjustStock(ctx, id, delta)
}

func (s *Store) IsBudgetResetComplete(ctx context.Context, programID reward.ProgramID, period reward.PeriodKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.IsBudgetResetComplete(ctx, programID, period)
}

func (s *Store) RecordBudgetReset(ctx context.Context, run reward.BudgetResetRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.RecordBudgetReset(ctx, run)
}

func (s *Store) BudgetResets(ctx context.Context, programID reward.ProgramID) ([]reward.BudgetResetRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.BudgetResets(ctx, programID)
}

// WithTx executes fn inside one database transaction. The store-wide lock
// is held for the duration, so check-then-write sequences inside fn are
// serialized against every other writer.
func (s *Store) WithTx(ctx context.Context, fn func(reward.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (q queries) AppendTransaction(ctx context.Context, tx reward.PointTransaction) error {
	lineItemsJSON := ""
	if len(tx.LineItems) > 0 {
		b, err := json.Marshal(tx.LineItems)
		if err != nil {
			return fmt.Errorf("failed to encode line items: %w", err)
		}
		lineItemsJSON = string(b)
	}
	metadataJSON := ""
	if len(tx.Metadata) > 0 {
		b, err := json.Marshal(tx.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadataJSON = string(b)
	}

	query := `
		INSERT INTO transactions
		(id, tx_type, amount, source_wallet_id, destination_wallet_id,
		 program_id, policy_id, line_items_json, idempotency_key, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.db.ExecContext(ctx, query,
		tx.ID,
		tx.Type,
		tx.Amount.Value.String(),
		nullString(string(tx.SourceWalletID)),
		nullString(string(tx.DestinationWalletID)),
		tx.ProgramID,
		nullString(string(tx.PolicyID)),
		nullString(lineItemsJSON),
		nullString(tx.IdempotencyKey),
		nullString(metadataJSON),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return reward.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

const txColumns = `id, tx_type, amount, source_wallet_id, destination_wallet_id,
	program_id, policy_id, line_items_json, idempotency_key, metadata_json, created_at`

func (q queries) TransactionsByWallet(ctx context.Context, walletID reward.WalletID, f reward.TransactionFilter, p reward.Page) ([]reward.PointTransaction, error) {
	where := []string{"(source_wallet_id = ? OR destination_wallet_id = ?)"}
	args := []any{walletID, walletID}
	where, args = applyFilter(where, args, f)

	query := fmt.Sprintf("SELECT %s FROM transactions WHERE %s ORDER BY created_at ASC, id ASC%s",
		txColumns, strings.Join(where, " AND "), pageClause(p))
	return q.queryTransactions(ctx, query, args...)
}

func (q queries) TransactionsByProgram(ctx context.Context, programID reward.ProgramID, f reward.TransactionFilter, p reward.Page) ([]reward.PointTransaction, error) {
	where := []string{"program_id = ?"}
	args := []any{programID}
	where, args = applyFilter(where, args, f)

	query := fmt.Sprintf("SELECT %s FROM transactions WHERE %s ORDER BY created_at ASC, id ASC%s",
		txColumns, strings.Join(where, " AND "), pageClause(p))
	return q.queryTransactions(ctx, query, args...)
}

func applyFilter(where []string, args []any, f reward.TransactionFilter) ([]string, []any) {
	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		where = append(where, "tx_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(f.To))
	}
	return where, args
}

func pageClause(p reward.Page) string {
	if p.Limit <= 0 && p.Offset <= 0 {
		return ""
	}
	limit := p.Limit
	if limit <= 0 {
		limit = -1 // no limit, offset still applies
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, p.Offset)
}

func (q queries) queryTransactions(ctx context.Context, query string, args ...any) ([]reward.PointTransaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []reward.PointTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (reward.PointTransaction, error) {
	var (
		tx            reward.PointTransaction
		amount        string
		source        sql.NullString
		destination   sql.NullString
		policyID      sql.NullString
		lineItemsJSON sql.NullString
		idemKey       sql.NullString
		metadataJSON  sql.NullString
		createdAt     string
	)
	err := rows.Scan(
		&tx.ID, &tx.Type, &amount, &source, &destination,
		&tx.ProgramID, &policyID, &lineItemsJSON, &idemKey, &metadataJSON, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Amount = reward.ParsePoints(amount)
	tx.SourceWalletID = reward.WalletID(source.String)
	tx.DestinationWalletID = reward.WalletID(destination.String)
	tx.PolicyID = reward.PolicyID(policyID.String)
	tx.IdempotencyKey = idemKey.String
	tx.CreatedAt = parseTime(createdAt)

	if lineItemsJSON.Valid && lineItemsJSON.String != "" {
		if err := json.Unmarshal([]byte(lineItemsJSON.String), &tx.LineItems); err != nil {
			return tx, fmt.Errorf("failed to decode line items: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return tx, nil
}

func (q queries) TransactionExists(ctx context.Context, key string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count > 0, err
}

func (q queries) HasPolicyAccruals(ctx context.Context, policyID reward.PolicyID) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE policy_id = ? AND tx_type = ?",
		policyID, reward.TxPolicyReward,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// WALLET STORE
// =============================================================================

func (q queries) CreateWallet(ctx context.Context, w reward.UserWallet) error {
	query := `
		INSERT INTO wallets
		(id, user_id, program_id, personal_point, giving_budget, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.db.ExecContext(ctx, query,
		w.ID, w.UserID, w.ProgramID,
		w.PersonalPoint.Value.String(), w.GivingBudget.Value.String(),
		w.Version,
		formatTime(w.CreatedAt),
		formatTime(w.UpdatedAt),
	)
	if err != nil && isUniqueConstraintError(err) {
		return &reward.ValidationError{Field: "wallet", Reason: "wallet already exists for this user and program"}
	}
	return err
}

const walletColumns = `id, user_id, program_id, personal_point, giving_budget, version, created_at, updated_at`

func (q queries) Wallet(ctx context.Context, id reward.WalletID) (*reward.UserWallet, error) {
	row := q.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM wallets WHERE id = ?", walletColumns), id)
	return scanWalletRow(row)
}

func (q queries) WalletByUser(ctx context.Context, userID reward.EmployeeID, programID reward.ProgramID) (*reward.UserWallet, error) {
	row := q.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM wallets WHERE user_id = ? AND program_id = ?", walletColumns),
		userID, programID)
	return scanWalletRow(row)
}

func (q queries) WalletsByProgram(ctx context.Context, programID reward.ProgramID) ([]reward.UserWallet, error) {
	rows, err := q.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM wallets WHERE program_id = ? ORDER BY created_at ASC, id ASC", walletColumns),
		programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []reward.UserWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// rowScanner lets the same scan helper serve *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWalletRow(row *sql.Row) (*reward.UserWallet, error) {
	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanWallet(sc rowScanner) (reward.UserWallet, error) {
	var (
		w         reward.UserWallet
		personal  string
		budget    string
		createdAt string
		updatedAt string
	)
	err := sc.Scan(&w.ID, &w.UserID, &w.ProgramID, &personal, &budget, &w.Version, &createdAt, &updatedAt)
	if err != nil {
		return w, err
	}
	w.PersonalPoint = reward.ParsePoints(personal)
	w.GivingBudget = reward.ParsePoints(budget)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return w, nil
}

func (q queries) UpdateWalletBalances(ctx context.Context, id reward.WalletID, expectedVersion int64, personal, budget reward.Points) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE wallets
		SET personal_point = ?, giving_budget = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		personal.Value.String(), budget.Value.String(),
		formatTime(time.Now()),
		id, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Missing row or stale version: decide which.
		w, err := q.Wallet(ctx, id)
		if err != nil {
			return err
		}
		if w == nil {
			return &reward.IntegrityError{Kind: "wallet", Ref: string(id)}
		}
		return &reward.ConcurrencyConflictError{WalletID: id, ExpectedVersion: expectedVersion}
	}
	return nil
}

// =============================================================================
// PROGRAM STORE
// =============================================================================

func (q queries) CreateProgram(ctx context.Context, p reward.RewardProgram) error {
	query := `
		INSERT INTO programs
		(id, name, description, start_at, end_at, status, giving_budget, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.db.ExecContext(ctx, query,
		p.ID, p.Name, nullString(p.Description),
		nullTime(p.StartAt), nullTime(p.EndAt),
		p.Status, p.GivingBudget.Value.String(),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	return err
}

const programColumns = `id, name, description, start_at, end_at, status, giving_budget, created_at, updated_at`

func (q queries) Program(ctx context.Context, id reward.ProgramID) (*reward.RewardProgram, error) {
	row := q.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM programs WHERE id = ?", programColumns), id)
	return scanProgramRow(row)
}

func (q queries) ActiveProgram(ctx context.Context) (*reward.RewardProgram, error) {
	row := q.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM programs WHERE status = ? LIMIT 1", programColumns),
		reward.ProgramActive)
	return scanProgramRow(row)
}

func (q queries) Programs(ctx context.Context) ([]reward.RewardProgram, error) {
	rows, err := q.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM programs ORDER BY created_at ASC, id ASC", programColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var programs []reward.RewardProgram
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

func scanProgramRow(row *sql.Row) (*reward.RewardProgram, error) {
	p, err := scanProgram(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProgram(sc rowScanner) (reward.RewardProgram, error) {
	var (
		p           reward.RewardProgram
		description sql.NullString
		startAt     sql.NullString
		endAt       sql.NullString
		budget      string
		createdAt   string
		updatedAt   string
	)
	err := sc.Scan(&p.ID, &p.Name, &description, &startAt, &endAt, &p.Status, &budget, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	p.Description = description.String
	if startAt.Valid {
		p.StartAt = parseTime(startAt.String)
	}
	if endAt.Valid {
		p.EndAt = parseTime(endAt.String)
	}
	p.GivingBudget = reward.ParsePoints(budget)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func (q queries) SetProgramStatus(ctx context.Context, id reward.ProgramID, status reward.ProgramStatus) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE programs SET status = ?, updated_at = ? WHERE id = ?",
		status, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &reward.IntegrityError{Kind: "program", Ref: string(id)}
	}
	return nil
}

func (q queries) CreatePolicy(ctx context.Context, pol reward.RewardPolicy) error {
	query := `
		INSERT INTO policies (id, program_id, policy_type, unit_value, points_per_unit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := q.db.ExecContext(ctx, query,
		pol.ID, pol.ProgramID, pol.Type,
		pol.UnitValue.String(), pol.PointsPerUnit.Value.String(),
		formatTime(pol.CreatedAt),
	)
	return err
}

func (q queries) UpdatePolicy(ctx context.Context, pol reward.RewardPolicy) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE policies SET policy_type = ?, unit_value = ?, points_per_unit = ? WHERE id = ?",
		pol.Type, pol.UnitValue.String(), pol.PointsPerUnit.Value.String(), pol.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &reward.IntegrityError{Kind: "policy", Ref: string(pol.ID)}
	}
	return nil
}

const policyColumns = `id, program_id, policy_type, unit_value, points_per_unit, created_at`

func (q queries) Policy(ctx context.Context, id reward.PolicyID) (*reward.RewardPolicy, error) {
	row := q.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM policies WHERE id = ?", policyColumns), id)
	pol, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pol, nil
}

func (q queries) PoliciesByProgram(ctx context.Context, programID reward.ProgramID) ([]reward.RewardPolicy, error) {
	rows, err := q.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM policies WHERE program_id = ? ORDER BY created_at ASC, id ASC", policyColumns),
		programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []reward.RewardPolicy
	for rows.Next() {
		pol, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, pol)
	}
	return policies, rows.Err()
}

func scanPolicy(sc rowScanner) (reward.RewardPolicy, error) {
	var (
		pol       reward.RewardPolicy
		unitValue string
		ppu       string
		createdAt string
	)
	err := sc.Scan(&pol.ID, &pol.ProgramID, &pol.Type, &unitValue, &ppu, &createdAt)
	if err != nil {
		return pol, err
	}
	pol.UnitValue = parseDecimal(unitValue)
	pol.PointsPerUnit = reward.ParsePoints(ppu)
	pol.CreatedAt = parseTime(createdAt)
	return pol, nil
}

// =============================================================================
// CATALOG STORE
// =============================================================================

func (q queries) CreateItem(ctx context.Context, it reward.RewardItem) error {
	query := `
		INSERT INTO items (id, program_id, name, required_points, quantity, image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.db.ExecContext(ctx, query,
		it.ID, it.ProgramID, it.Name,
		it.RequiredPoints.Value.String(), it.Quantity,
		nullString(it.ImageURL),
		formatTime(it.CreatedAt),
	)
	return err
}

const itemColumns = `id, program_id, name, required_points, quantity, image_url, created_at`

func (q queries) Item(ctx context.Context, id reward.ItemID) (*reward.RewardItem, error) {
	row := q.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM items WHERE id = ?", itemColumns), id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (q queries) ItemsByProgram(ctx context.Context, programID reward.ProgramID) ([]reward.RewardItem, error) {
	rows, err := q.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM items WHERE program_id = ? ORDER BY created_at ASC, id ASC", itemColumns),
		programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []reward.RewardItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanItem(sc rowScanner) (reward.RewardItem, error) {
	var (
		it        reward.RewardItem
		required  string
		imageURL  sql.NullString
		createdAt string
	)
	err := sc.Scan(&it.ID, &it.ProgramID, &it.Name, &required, &it.Quantity, &imageURL, &createdAt)
	if err != nil {
		return it, err
	}
	it.RequiredPoints = reward.ParsePoints(required)
	it.ImageURL = imageURL.String
	it.CreatedAt = parseTime(createdAt)
	return it, nil
}

func (q queries) AdjustStock(ctx context.Context, id reward.ItemID, delta int64) error {
	it, err := q.Item(ctx, id)
	if err != nil {
		return err
	}
	if it == nil {
		return &reward.IntegrityError{Kind: "item", Ref: string(id)}
	}
	if it.Unlimited() {
		return &reward.ValidationError{Field: "quantity", Reason: "cannot adjust unlimited stock"}
	}
	if it.Quantity+delta < 0 {
		return &reward.InsufficientStockError{ItemID: id, Available: it.Quantity, Requested: -delta}
	}
	// Serialized write path plus the guard above keeps quantity >= 0.
	_, err = q.db.ExecContext(ctx,
		"UPDATE items SET quantity = quantity + ? WHERE id = ?", delta, id)
	return err
}

// =============================================================================
// RESET STORE
// =============================================================================

func (q queries) IsBudgetResetComplete(ctx context.Context, programID reward.ProgramID, period reward.PeriodKey) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM budget_resets WHERE program_id = ? AND period = ?",
		programID, period,
	).Scan(&count)
	return count > 0, err
}

func (q queries) RecordBudgetReset(ctx context.Context, run reward.BudgetResetRun) error {
	query := `
		INSERT INTO budget_resets (id, program_id, period, wallets_reset, completed_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := q.db.ExecContext(ctx, query,
		run.ID, run.ProgramID, run.Period, run.WalletsReset,
		formatTime(run.CompletedAt),
	)
	if err != nil && isUniqueConstraintError(err) {
		// Another run already completed this period; the reset is idempotent.
		return nil
	}
	return err
}

func (q queries) BudgetResets(ctx context.Context, programID reward.ProgramID) ([]reward.BudgetResetRun, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, program_id, period, wallets_reset, completed_at FROM budget_resets WHERE program_id = ? ORDER BY period ASC",
		programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []reward.BudgetResetRun
	for rows.Next() {
		var (
			run         reward.BudgetResetRun
			completedAt string
		)
		if err := rows.Scan(&run.ID, &run.ProgramID, &run.Period, &run.WalletsReset, &completedAt); err != nil {
			return nil, err
		}
		run.CompletedAt = parseTime(completedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
