/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Point amounts travel as JSON strings ("12.5") to keep decimal
  precision. Clients must not round-trip amounts through floats.

ERROR MAPPING:
  statusFor translates domain errors to HTTP statuses:
  - 400: Validation errors
  - 404: Missing referents (program, wallet, item)
  - 409: Insufficient balance/budget/stock, conflicts, duplicates
  - 500: Everything else

SEE ALSO:
  - handlers.go: Uses these types
  - factory/program.go: ProgramJSON used for program creation
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pulse/reward-engine/program"
	"github.com/pulse/reward-engine/reward"
	"github.com/pulse/reward-engine/wallet"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ProgramDTO represents a reward program in API responses.
type ProgramDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status"`
	GivingBudget string `json:"giving_budget"`
	StartAt      string `json:"start_at,omitempty"`
	EndAt        string `json:"end_at,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// ProgramDetailDTO is a program with its policies and catalog.
type ProgramDetailDTO struct {
	Program  ProgramDTO  `json:"program"`
	Policies []PolicyDTO `json:"policies"`
	Items    []ItemDTO   `json:"items"`
}

// PolicyDTO represents an accrual policy in API responses.
type PolicyDTO struct {
	ID            string `json:"id"`
	ProgramID     string `json:"program_id"`
	Type          string `json:"type"`
	UnitValue     string `json:"unit_value"`
	PointsPerUnit string `json:"points_per_unit"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// PolicyRequest is the request to add or update a policy.
type PolicyRequest struct {
	Type          string `json:"type"`
	UnitValue     string `json:"unit_value"`
	PointsPerUnit string `json:"points_per_unit"`
}

// ItemDTO represents a catalog item. Quantity -1 means unlimited stock.
type ItemDTO struct {
	ID             string `json:"id"`
	ProgramID      string `json:"program_id"`
	Name           string `json:"name"`
	RequiredPoints string `json:"required_points"`
	Quantity       int64  `json:"quantity"`
	Unlimited      bool   `json:"unlimited"`
	ImageURL       string `json:"image_url,omitempty"`
}

// ItemRequest is the request to add a catalog item.
type ItemRequest struct {
	Name           string `json:"name"`
	RequiredPoints string `json:"required_points"`
	Quantity       int64  `json:"quantity"`
	ImageURL       string `json:"image_url,omitempty"`
}

// WalletDTO represents a user wallet.
type WalletDTO struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	ProgramID     string `json:"program_id"`
	PersonalPoint string `json:"personal_point"`
	GivingBudget  string `json:"giving_budget"`
	Version       int64  `json:"version"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// LineItemDTO is one redeemed entry inside an exchange transaction.
type LineItemDTO struct {
	ItemID     string `json:"item_id"`
	Quantity   int64  `json:"quantity"`
	UnitPoints string `json:"unit_points"`
}

// TransactionDTO represents a ledger transaction.
type TransactionDTO struct {
	ID                  string            `json:"id"`
	Type                string            `json:"type"`
	Amount              string            `json:"amount"`
	SourceWalletID      string            `json:"source_wallet_id,omitempty"`
	DestinationWalletID string            `json:"destination_wallet_id,omitempty"`
	ProgramID           string            `json:"program_id"`
	PolicyID            string            `json:"policy_id,omitempty"`
	LineItems           []LineItemDTO     `json:"line_items,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           string            `json:"created_at"`
}

// AttendanceRequest reports one attendance fact for accrual.
type AttendanceRequest struct {
	EmployeeID string `json:"employee_id"`
	ProgramID  string `json:"program_id,omitempty"` // empty = active program
	PolicyType string `json:"policy_type"`
	Magnitude  string `json:"magnitude"`
	Period     string `json:"period,omitempty"` // YYYY-MM, empty = current month
}

// AttendanceBatchRequest reports multiple attendance facts at once.
type AttendanceBatchRequest struct {
	Facts []AttendanceRequest `json:"facts"`
}

// AccrualResponseDTO is the result of processing one attendance fact.
type AccrualResponseDTO struct {
	Accrued     bool            `json:"accrued"`
	Transaction *TransactionDTO `json:"transaction,omitempty"`
}

// BatchAccrualResponseDTO summarizes a batch accrual.
type BatchAccrualResponseDTO struct {
	Accrued      int              `json:"accrued"`
	Skipped      int              `json:"skipped"`
	Transactions []TransactionDTO `json:"transactions"`
}

// GiftRequest distributes points from a manager's giving budget.
type GiftRequest struct {
	ManagerWalletID string              `json:"manager_wallet_id"`
	Recipients      []GiftRecipientJSON `json:"recipients"`
}

// GiftRecipientJSON is one gift recipient.
type GiftRecipientJSON struct {
	EmployeeID string `json:"employee_id"`
	Amount     string `json:"amount"`
}

// RedemptionRequest exchanges wallet points for catalog items.
type RedemptionRequest struct {
	WalletID string               `json:"wallet_id"`
	Items    []RedemptionLineJSON `json:"items"`
}

// RedemptionLineJSON is one requested catalog item.
type RedemptionLineJSON struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

// ReconciliationDTO reports a wallet's ledger replay check.
type ReconciliationDTO struct {
	WalletID     string `json:"wallet_id"`
	Materialized string `json:"materialized"`
	Replayed     string `json:"replayed"`
	BudgetSpent  string `json:"budget_spent"`
	Transactions int    `json:"transactions"`
	Consistent   bool   `json:"consistent"`
}

// BudgetResetRequest triggers a budget reset for a program period.
type BudgetResetRequest struct {
	ProgramID string `json:"program_id"`
	Period    string `json:"period,omitempty"` // YYYY-MM, empty = current month
}

// BudgetResetDTO reports one completed reset run.
type BudgetResetDTO struct {
	ID           string `json:"id"`
	ProgramID    string `json:"program_id"`
	Period       string `json:"period"`
	WalletsReset int    `json:"wallets_reset"`
	CompletedAt  string `json:"completed_at"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toProgramDTO(p reward.RewardProgram) ProgramDTO {
	dto := ProgramDTO{
		ID:           string(p.ID),
		Name:         p.Name,
		Description:  p.Description,
		Status:       string(p.Status),
		GivingBudget: p.GivingBudget.Value.String(),
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
	}
	if !p.StartAt.IsZero() {
		dto.StartAt = p.StartAt.Format("2006-01-02")
	}
	if !p.EndAt.IsZero() {
		dto.EndAt = p.EndAt.Format("2006-01-02")
	}
	return dto
}

func toProgramDetailDTO(d program.Detail) ProgramDetailDTO {
	dto := ProgramDetailDTO{
		Program:  toProgramDTO(d.Program),
		Policies: []PolicyDTO{},
		Items:    []ItemDTO{},
	}
	for _, pol := range d.Policies {
		dto.Policies = append(dto.Policies, toPolicyDTO(pol))
	}
	for _, it := range d.Items {
		dto.Items = append(dto.Items, toItemDTO(it))
	}
	return dto
}

func toPolicyDTO(p reward.RewardPolicy) PolicyDTO {
	return PolicyDTO{
		ID:            string(p.ID),
		ProgramID:     string(p.ProgramID),
		Type:          string(p.Type),
		UnitValue:     p.UnitValue.String(),
		PointsPerUnit: p.PointsPerUnit.Value.String(),
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
}

func toItemDTO(i reward.RewardItem) ItemDTO {
	return ItemDTO{
		ID:             string(i.ID),
		ProgramID:      string(i.ProgramID),
		Name:           i.Name,
		RequiredPoints: i.RequiredPoints.Value.String(),
		Quantity:       i.Quantity,
		Unlimited:      i.Unlimited(),
		ImageURL:       i.ImageURL,
	}
}

func toWalletDTO(w reward.UserWallet) WalletDTO {
	return WalletDTO{
		ID:            string(w.ID),
		UserID:        string(w.UserID),
		ProgramID:     string(w.ProgramID),
		PersonalPoint: w.PersonalPoint.Value.String(),
		GivingBudget:  w.GivingBudget.Value.String(),
		Version:       w.Version,
		UpdatedAt:     w.UpdatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(tx reward.PointTransaction) TransactionDTO {
	dto := TransactionDTO{
		ID:                  string(tx.ID),
		Type:                string(tx.Type),
		Amount:              tx.Amount.Value.String(),
		SourceWalletID:      string(tx.SourceWalletID),
		DestinationWalletID: string(tx.DestinationWalletID),
		ProgramID:           string(tx.ProgramID),
		PolicyID:            string(tx.PolicyID),
		Metadata:            tx.Metadata,
		CreatedAt:           tx.CreatedAt.Format(time.RFC3339),
	}
	for _, li := range tx.LineItems {
		dto.LineItems = append(dto.LineItems, LineItemDTO{
			ItemID:     string(li.ItemID),
			Quantity:   li.Quantity,
			UnitPoints: li.UnitPoints.Value.String(),
		})
	}
	return dto
}

func toTransactionDTOs(txs []reward.PointTransaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toReconciliationDTO(r wallet.ReconciliationReport) ReconciliationDTO {
	return ReconciliationDTO{
		WalletID:     string(r.WalletID),
		Materialized: r.Materialized.Value.String(),
		Replayed:     r.Replayed.Value.String(),
		BudgetSpent:  r.BudgetSpent.Value.String(),
		Transactions: r.Transactions,
		Consistent:   r.Consistent,
	}
}

func toBudgetResetDTO(run reward.BudgetResetRun) BudgetResetDTO {
	return BudgetResetDTO{
		ID:           run.ID,
		ProgramID:    string(run.ProgramID),
		Period:       string(run.Period),
		WalletsReset: run.WalletsReset,
		CompletedAt:  run.CompletedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// RESPONSE WRITERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, reward.ErrValidation):
		return http.StatusBadRequest
	case reward.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, reward.ErrInsufficientBalance),
		errors.Is(err, reward.ErrInsufficientBudget),
		errors.Is(err, reward.ErrInsufficientStock),
		errors.Is(err, reward.ErrConcurrencyConflict),
		errors.Is(err, reward.ErrDuplicateIdempotencyKey),
		errors.Is(err, reward.ErrProgramStateTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
