/*
handlers.go - HTTP API handlers for the reward points engine

PURPOSE:
  Exposes the reward engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Programs:
    GET    /api/programs                      List all programs
    POST   /api/programs                      Create program (JSON spec)
    GET    /api/programs/active               Get the active program
    GET    /api/programs/{id}                 Get program with policies/items
    POST   /api/programs/{id}/activate        Activate (demotes current active)
    POST   /api/programs/{id}/deactivate      Deactivate
    POST   /api/programs/{id}/policies        Add accrual policy
    PUT    /api/policies/{id}                 Update policy (pre-accrual only)
    POST   /api/programs/{id}/items           Add catalog item
    GET    /api/programs/{id}/transactions    Program ledger slice

  Accrual:
    POST   /api/attendance                    Process one attendance fact
    POST   /api/attendance/batch              Process a batch of facts

  Gifting and redemption:
    POST   /api/gifts                         Manager budget distribution
    POST   /api/redemptions                   Exchange points for items

  Wallets:
    GET    /api/wallets?user_id=&program_id=  Find or create a wallet
    GET    /api/wallets/{id}                  Wallet balances
    GET    /api/wallets/{id}/transactions     Wallet ledger slice
    GET    /api/wallets/{id}/reconciliation   Replay check

  Admin:
    POST   /api/admin/budget-resets           Trigger a budget reset
    GET    /api/admin/budget-resets           List reset runs for a program

  Scenarios:
    GET    /api/scenarios                     List demo scenarios
    POST   /api/scenarios/load                Load a demo scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input shape (semantic rules live in the domain packages)
  3. Call domain logic (program manager, accrual engine, etc.)
  4. Serialize response
  5. Map domain errors to HTTP statuses (see dto.go statusFor)

SECURITY NOTE:
  No authentication or authorization. Role checks (who is a manager, who
  may call admin endpoints) are expected upstream.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pulse/reward-engine/accrual"
	"github.com/pulse/reward-engine/exchange"
	"github.com/pulse/reward-engine/factory"
	"github.com/pulse/reward-engine/logging"
	"github.com/pulse/reward-engine/program"
	"github.com/pulse/reward-engine/reward"
	"github.com/pulse/reward-engine/wallet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     reward.TxStore
	Programs  *program.Manager
	Wallets   *wallet.Manager
	Accruals  *accrual.Engine
	Exchanges *exchange.Service
	Ledger    reward.Ledger
	Factory   *factory.ProgramFactory
	Log       *logging.Logger

	// Track currently loaded scenario. Guarded by mu: LoadScenario writes
	// it while GetCurrentScenario reads it from other requests.
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires all domain services onto the given store.
func NewHandler(store reward.TxStore, log *logging.Logger) *Handler {
	return &Handler{
		Store:     store,
		Programs:  program.New(store, log),
		Wallets:   wallet.New(store, log),
		Accruals:  accrual.New(store, log),
		Exchanges: exchange.New(store, log),
		Ledger:    reward.NewLedger(store),
		Factory:   factory.NewProgramFactory(),
		Log:       log,
	}
}

// =============================================================================
// PROGRAM HANDLERS
// =============================================================================

// ListPrograms returns all programs, oldest first.
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.Programs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list programs", err)
		return
	}

	dtos := make([]ProgramDTO, len(programs))
	for i, p := range programs {
		dtos[i] = toProgramDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProgram creates a program from its JSON definition.
func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	var pj factory.ProgramJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	spec, err := h.Factory.FromJSON(pj)
	if err != nil {
		writeDomainError(w, "Invalid program definition", err)
		return
	}

	detail, err := h.Programs.Create(r.Context(), spec)
	if err != nil {
		writeDomainError(w, "Failed to create program", err)
		return
	}

	writeJSON(w, http.StatusCreated, toProgramDetailDTO(*detail))
}

// GetProgram returns one program with its policies and catalog.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	id := reward.ProgramID(chi.URLParam(r, "id"))

	detail, err := h.Programs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get program", err)
		return
	}

	writeJSON(w, http.StatusOK, toProgramDetailDTO(*detail))
}

// GetActiveProgram returns the currently active program, if any.
func (h *Handler) GetActiveProgram(w http.ResponseWriter, r *http.Request) {
	p, err := h.Programs.Active(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get active program", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "No active program", nil)
		return
	}

	writeJSON(w, http.StatusOK, toProgramDTO(*p))
}

// ActivateProgram promotes a program, demoting any currently active one.
func (h *Handler) ActivateProgram(w http.ResponseWriter, r *http.Request) {
	id := reward.ProgramID(chi.URLParam(r, "id"))

	if err := h.Programs.Activate(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to activate program", err)
		return
	}

	detail, err := h.Programs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get program", err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDetailDTO(*detail))
}

// DeactivateProgram retires a program. Terminal; history is retained.
func (h *Handler) DeactivateProgram(w http.ResponseWriter, r *http.Request) {
	id := reward.ProgramID(chi.URLParam(r, "id"))

	if err := h.Programs.Deactivate(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to deactivate program", err)
		return
	}

	detail, err := h.Programs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get program", err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDetailDTO(*detail))
}

// AddPolicy adds an accrual policy to a program.
func (h *Handler) AddPolicy(w http.ResponseWriter, r *http.Request) {
	programID := reward.ProgramID(chi.URLParam(r, "id"))

	spec, ok := decodePolicyRequest(w, r)
	if !ok {
		return
	}

	pol, err := h.Programs.AddPolicy(r.Context(), programID, spec)
	if err != nil {
		writeDomainError(w, "Failed to add policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(*pol))
}

// UpdatePolicy rewrites a policy. Rejected once points have accrued under it.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	policyID := reward.PolicyID(chi.URLParam(r, "id"))

	spec, ok := decodePolicyRequest(w, r)
	if !ok {
		return
	}

	pol, err := h.Programs.UpdatePolicy(r.Context(), policyID, spec)
	if err != nil {
		writeDomainError(w, "Failed to update policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*pol))
}

func decodePolicyRequest(w http.ResponseWriter, r *http.Request) (program.PolicySpec, bool) {
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return program.PolicySpec{}, false
	}

	unitValue, err := parseAmount("unit_value", req.UnitValue)
	if err != nil {
		writeDomainError(w, "Invalid policy", err)
		return program.PolicySpec{}, false
	}
	ppu, err := parseAmount("points_per_unit", req.PointsPerUnit)
	if err != nil {
		writeDomainError(w, "Invalid policy", err)
		return program.PolicySpec{}, false
	}

	return program.PolicySpec{
		Type:          reward.PolicyType(req.Type),
		UnitValue:     unitValue,
		PointsPerUnit: reward.PointsFromDecimal(ppu),
	}, true
}

// AddItem adds a catalog item to a program.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	programID := reward.ProgramID(chi.URLParam(r, "id"))

	var req ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	required, err := parseAmount("required_points", req.RequiredPoints)
	if err != nil {
		writeDomainError(w, "Invalid item", err)
		return
	}

	it, err := h.Programs.AddItem(r.Context(), programID, program.ItemSpec{
		Name:           req.Name,
		RequiredPoints: reward.PointsFromDecimal(required),
		Quantity:       req.Quantity,
		ImageURL:       req.ImageURL,
	})
	if err != nil {
		writeDomainError(w, "Failed to add item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(*it))
}

// ListProgramItems returns a program's catalog with current stock.
func (h *Handler) ListProgramItems(w http.ResponseWriter, r *http.Request) {
	programID := reward.ProgramID(chi.URLParam(r, "id"))

	detail, err := h.Programs.Get(r.Context(), programID)
	if err != nil {
		writeDomainError(w, "Failed to get program", err)
		return
	}
	dtos := make([]ItemDTO, 0, len(detail.Items))
	for _, it := range detail.Items {
		dtos = append(dtos, toItemDTO(it))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProgramTransactions returns a program's ledger slice.
func (h *Handler) GetProgramTransactions(w http.ResponseWriter, r *http.Request) {
	programID := reward.ProgramID(chi.URLParam(r, "id"))

	txs, err := h.Ledger.ByProgram(r.Context(), programID, parseFilter(r), parsePage(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// ACCRUAL HANDLERS
// =============================================================================

// RecordAttendance processes one attendance fact through the policy engine.
// Facts that match no active program/policy, or that were already
// processed, succeed with accrued=false.
func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	var req AttendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	fact, err := toAttendanceFact(req)
	if err != nil {
		writeDomainError(w, "Invalid attendance fact", err)
		return
	}

	tx, err := h.Accruals.Accrue(r.Context(), fact)
	if err != nil {
		writeDomainError(w, "Failed to process attendance", err)
		return
	}

	resp := AccrualResponseDTO{Accrued: tx != nil}
	if tx != nil {
		dto := toTransactionDTO(*tx)
		resp.Transaction = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordAttendanceBatch processes a batch of attendance facts.
func (h *Handler) RecordAttendanceBatch(w http.ResponseWriter, r *http.Request) {
	var req AttendanceBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	facts := make([]accrual.AttendanceFact, 0, len(req.Facts))
	for _, fr := range req.Facts {
		fact, err := toAttendanceFact(fr)
		if err != nil {
			writeDomainError(w, "Invalid attendance fact", err)
			return
		}
		facts = append(facts, fact)
	}

	result, err := h.Accruals.AccrueBatch(r.Context(), facts)
	if err != nil {
		writeDomainError(w, "Failed to process attendance batch", err)
		return
	}

	writeJSON(w, http.StatusOK, BatchAccrualResponseDTO{
		Accrued:      len(result.Accrued),
		Skipped:      result.Skipped,
		Transactions: toTransactionDTOs(result.Accrued),
	})
}

func toAttendanceFact(req AttendanceRequest) (accrual.AttendanceFact, error) {
	magnitude, err := parseAmount("magnitude", req.Magnitude)
	if err != nil {
		return accrual.AttendanceFact{}, err
	}

	period := reward.PeriodKey(req.Period)
	if period == "" {
		period = reward.CurrentMonthKey()
	}

	return accrual.AttendanceFact{
		EmployeeID: reward.EmployeeID(req.EmployeeID),
		ProgramID:  reward.ProgramID(req.ProgramID),
		PolicyType: reward.PolicyType(req.PolicyType),
		Magnitude:  magnitude,
		PeriodKey:  period,
	}, nil
}

// =============================================================================
// GIFT AND REDEMPTION HANDLERS
// =============================================================================

// CreateGift distributes points from a manager's giving budget to one or
// more recipients. All-or-nothing: one recipient over budget fails all.
func (h *Handler) CreateGift(w http.ResponseWriter, r *http.Request) {
	var req GiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	recipients := make([]wallet.GiftRecipient, 0, len(req.Recipients))
	for i, rec := range req.Recipients {
		amount, err := parseAmount("recipients["+strconv.Itoa(i)+"].amount", rec.Amount)
		if err != nil {
			writeDomainError(w, "Invalid gift", err)
			return
		}
		recipients = append(recipients, wallet.GiftRecipient{
			EmployeeID: reward.EmployeeID(rec.EmployeeID),
			Amount:     reward.PointsFromDecimal(amount),
		})
	}

	txs, err := h.Wallets.Gift(r.Context(), reward.WalletID(req.ManagerWalletID), recipients)
	if err != nil {
		writeDomainError(w, "Failed to gift points", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTOs(txs))
}

// CreateRedemption exchanges wallet points for catalog items.
func (h *Handler) CreateRedemption(w http.ResponseWriter, r *http.Request) {
	var req RedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lines := make([]exchange.RedemptionLine, 0, len(req.Items))
	for _, l := range req.Items {
		lines = append(lines, exchange.RedemptionLine{
			ItemID:   reward.ItemID(l.ItemID),
			Quantity: l.Quantity,
		})
	}

	tx, err := h.Exchanges.Redeem(r.Context(), reward.WalletID(req.WalletID), lines)
	if err != nil {
		writeDomainError(w, "Failed to redeem items", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// FindWallet finds the wallet for a user in a program. Wallets exist
// lazily: first access creates one with a zero balance and the program's
// default giving budget, so this read intentionally writes on a miss.
// Callers that must not create should use GET /api/wallets/{id}.
func (h *Handler) FindWallet(w http.ResponseWriter, r *http.Request) {
	userID := reward.EmployeeID(r.URL.Query().Get("user_id"))
	programID := reward.ProgramID(r.URL.Query().Get("program_id"))
	if userID == "" || programID == "" {
		writeError(w, http.StatusBadRequest, "user_id and program_id are required", nil)
		return
	}

	wl, err := h.Wallets.GetOrCreate(r.Context(), userID, programID)
	if err != nil {
		writeDomainError(w, "Failed to get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wl))
}

// GetWallet returns the materialized balances for one wallet.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id := reward.WalletID(chi.URLParam(r, "id"))

	wl, err := h.Wallets.Wallet(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wl))
}

// GetWalletTransactions returns a wallet's ledger slice.
func (h *Handler) GetWalletTransactions(w http.ResponseWriter, r *http.Request) {
	id := reward.WalletID(chi.URLParam(r, "id"))

	txs, err := h.Ledger.ByWallet(r.Context(), id, parseFilter(r), parsePage(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetWalletReconciliation replays the wallet's ledger and reports whether
// the materialized balance matches.
func (h *Handler) GetWalletReconciliation(w http.ResponseWriter, r *http.Request) {
	id := reward.WalletID(chi.URLParam(r, "id"))

	report, err := h.Wallets.Reconcile(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to reconcile wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*report))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerBudgetReset resets every wallet's giving budget in a program to
// the program default. One reset per (program, period); re-runs no-op.
func (h *Handler) TriggerBudgetReset(w http.ResponseWriter, r *http.Request) {
	var req BudgetResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	period := reward.PeriodKey(req.Period)
	if period == "" {
		period = reward.CurrentMonthKey()
	}

	run, err := h.Wallets.ResetBudgets(r.Context(), reward.ProgramID(req.ProgramID), period)
	if err != nil {
		writeDomainError(w, "Failed to reset budgets", err)
		return
	}
	if run == nil {
		// Already done for this period.
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_complete"})
		return
	}
	writeJSON(w, http.StatusCreated, toBudgetResetDTO(*run))
}

// ListBudgetResets lists completed reset runs for a program.
func (h *Handler) ListBudgetResets(w http.ResponseWriter, r *http.Request) {
	programID := reward.ProgramID(r.URL.Query().Get("program_id"))
	if programID == "" {
		writeError(w, http.StatusBadRequest, "program_id is required", nil)
		return
	}

	runs, err := h.Store.BudgetResets(r.Context(), programID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list budget resets", err)
		return
	}

	dtos := make([]BudgetResetDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toBudgetResetDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REQUEST PARSING HELPERS
// =============================================================================

func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, &reward.ValidationError{Field: field, Reason: "is required"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &reward.ValidationError{Field: field, Reason: "is not a valid number"}
	}
	return d, nil
}

func parsePage(r *http.Request) reward.Page {
	var p reward.Page
	if v := r.URL.Query().Get("limit"); v != "" {
		p.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		p.Offset, _ = strconv.Atoi(v)
	}
	return p
}

func parseFilter(r *http.Request) reward.TransactionFilter {
	var f reward.TransactionFilter
	for _, t := range r.URL.Query()["type"] {
		f.Types = append(f.Types, reward.TransactionType(t))
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = t
		}
	}
	return f
}
