/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Decimals are encoded as JSON strings ("350000.5") so no precision is lost
  in JavaScript clients. Each money DTO also carries a display string
  formatted for its currency ("$350.000,00").

VALIDATION:
  Validation is done by the ledger, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/operation.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cambio-ledger/ledger"
)

// =============================================================================
// OPERATIONS
// =============================================================================

// OperationDTO represents an operation in API responses.
type OperationDTO struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	UserID    string `json:"user_id"`
	OwnerID   string `json:"owner_id"`

	AmountIn    decimal.Decimal  `json:"amount_in"`
	CurrencyIn  string           `json:"currency_in,omitempty"`
	AmountOut   decimal.Decimal  `json:"amount_out"`
	CurrencyOut string           `json:"currency_out,omitempty"`
	Rate        *decimal.Decimal `json:"rate,omitempty"`
	RateType    string           `json:"rate_type,omitempty"`

	ExecutedAmountIn   decimal.Decimal `json:"executed_amount_in"`
	ExecutedAmountOut  decimal.Decimal `json:"executed_amount_out"`
	RemainingAmountIn  decimal.Decimal `json:"remaining_amount_in"`
	RemainingAmountOut decimal.Decimal `json:"remaining_amount_out"`
	Status             string          `json:"status"`
	Executions         []ExecutionDTO  `json:"executions"`

	ClientID    string            `json:"client_id,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	Display OperationDisplayDTO `json:"display"`
}

// OperationDisplayDTO holds pre-formatted amounts.
type OperationDisplayDTO struct {
	AmountIn  string `json:"amount_in,omitempty"`
	AmountOut string `json:"amount_out,omitempty"`
}

// ExecutionDTO is one settlement step of an operation.
type ExecutionDTO struct {
	ID           string           `json:"id"`
	ExecutedAt   string           `json:"executed_at"`
	ExecutedBy   string           `json:"executed_by"`
	AmountIn     decimal.Decimal  `json:"amount_in"`
	CurrencyIn   string           `json:"currency_in,omitempty"`
	CashBoxInID  string           `json:"cash_box_in_id,omitempty"`
	AmountOut    decimal.Decimal  `json:"amount_out"`
	CurrencyOut  string           `json:"currency_out,omitempty"`
	CashBoxOutID string           `json:"cash_box_out_id,omitempty"`
	Rate         *decimal.Decimal `json:"rate,omitempty"`
}

// CreateOperationRequest is the request to book an operation. Either
// client_id or new_client_name may be set.
type CreateOperationRequest struct {
	Type          string            `json:"type"`
	AmountIn      *decimal.Decimal  `json:"amount_in"`
	CurrencyIn    string            `json:"currency_in"`
	AmountOut     *decimal.Decimal  `json:"amount_out"`
	CurrencyOut   string            `json:"currency_out"`
	Rate          *decimal.Decimal  `json:"rate"`
	ClientID      string            `json:"client_id"`
	NewClientName string            `json:"new_client_name"`
	OwnerID       string            `json:"owner_id"`
	Description   string            `json:"description"`
	Metadata      map[string]string `json:"metadata"`
}

// UpdateOperationRequest patches an operation. Absent fields are unchanged.
type UpdateOperationRequest struct {
	Description *string           `json:"description"`
	ClientID    *string           `json:"client_id"`
	OwnerID     *string           `json:"owner_id"`
	Metadata    map[string]string `json:"metadata"`
	AmountIn    *decimal.Decimal  `json:"amount_in"`
	CurrencyIn  *string           `json:"currency_in"`
	AmountOut   *decimal.Decimal  `json:"amount_out"`
	CurrencyOut *string           `json:"currency_out"`
	Rate        *decimal.Decimal  `json:"rate"`
}

// ExecuteOperationRequest settles part or all of an operation. Empty cash box
// ids resolve to the default box of the leg's currency.
type ExecuteOperationRequest struct {
	AmountIn     decimal.Decimal  `json:"amount_in"`
	CurrencyIn   string           `json:"currency_in"`
	CashBoxInID  string           `json:"cash_box_in_id"`
	AmountOut    decimal.Decimal  `json:"amount_out"`
	CurrencyOut  string           `json:"currency_out"`
	CashBoxOutID string           `json:"cash_box_out_id"`
	Rate         *decimal.Decimal `json:"rate"`
}

// OperationTypeDTO describes an entry of the operation type catalog.
type OperationTypeDTO struct {
	Tag           string `json:"tag"`
	Label         string `json:"label"`
	Category      string `json:"category"`
	Flow          string `json:"flow"`
	Transactional bool   `json:"transactional"`
	RateType      string `json:"rate_type,omitempty"`
	Direction     string `json:"direction,omitempty"`
	CurrencyIn    string `json:"currency_in,omitempty"`
	CurrencyOut   string `json:"currency_out,omitempty"`
	Cable         bool   `json:"cable"`
	AdminOnly     bool   `json:"admin_only"`
	CashEffect    string `json:"cash_effect,omitempty"`
}

// SolveRateRequest asks the rate calculator to derive one field.
type SolveRateRequest struct {
	Type      string           `json:"type"`
	Driver    string           `json:"driver"`
	AmountIn  *decimal.Decimal `json:"amount_in"`
	AmountOut *decimal.Decimal `json:"amount_out"`
	Rate      *decimal.Decimal `json:"rate"`
}

// SolveRateDTO is the calculator's answer. Derived is empty when the inputs
// were insufficient.
type SolveRateDTO struct {
	AmountIn  *decimal.Decimal `json:"amount_in,omitempty"`
	AmountOut *decimal.Decimal `json:"amount_out,omitempty"`
	Rate      *decimal.Decimal `json:"rate,omitempty"`
	Derived   string           `json:"derived,omitempty"`
}

// =============================================================================
// CASH BOXES
// =============================================================================

// CashBoxDTO represents a cash box in API responses.
type CashBoxDTO struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Currency       string            `json:"currency"`
	Type           string            `json:"type"`
	Balance        decimal.Decimal   `json:"balance"`
	Display        string            `json:"display"`
	AllowsNegative bool              `json:"allows_negative"`
	IsDefault      bool              `json:"is_default"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
}

// CreateCashBoxRequest creates a cash box at zero balance.
type CreateCashBoxRequest struct {
	Name           string            `json:"name"`
	Currency       string            `json:"currency"`
	Type           string            `json:"type"`
	AllowsNegative bool              `json:"allows_negative"`
	IsDefault      bool              `json:"is_default"`
	Metadata       map[string]string `json:"metadata"`
}

// UpdateCashBoxRequest patches a cash box's configuration.
type UpdateCashBoxRequest struct {
	Name           *string           `json:"name"`
	Currency       *string           `json:"currency"`
	Type           *string           `json:"type"`
	AllowsNegative *bool             `json:"allows_negative"`
	IsDefault      *bool             `json:"is_default"`
	Metadata       map[string]string `json:"metadata"`
}

// AdjustCashBoxRequest overwrites a cash box balance.
type AdjustCashBoxRequest struct {
	Balance *decimal.Decimal `json:"balance"`
	Reason  string           `json:"reason"`
}

// =============================================================================
// CLIENTS, CATEGORIES, AUDIT
// =============================================================================

// ClientDTO represents a client in API responses.
type ClientDTO struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// ClientRequest creates or updates a client.
type ClientRequest struct {
	Name     *string           `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

// ExpenseCategoryRequest adds a tag to the expense categories.
type ExpenseCategoryRequest struct {
	Tag string `json:"tag"`
}

// AuditEntryDTO is one admin log entry.
type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Warning   string         `json:"warning,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

// CurrencyAmountDTO is a per-currency total.
type CurrencyAmountDTO struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Display  string          `json:"display"`
}

// OutstandingDTO is what remains to be received and paid in one currency.
type OutstandingDTO struct {
	Currency   string          `json:"currency"`
	Receive    decimal.Decimal `json:"receive"`
	Pay        decimal.Decimal `json:"pay"`
	Operations int             `json:"operations"`
}

// CashFlowDTO is the real inflow and outflow in one currency.
type CashFlowDTO struct {
	Currency string          `json:"currency"`
	Inflow   decimal.Decimal `json:"inflow"`
	Outflow  decimal.Decimal `json:"outflow"`
	Net      decimal.Decimal `json:"net"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func display(amount decimal.Decimal, c ledger.Currency) string {
	if c == "" {
		return ""
	}
	return ledger.FormatAmount(amount, c)
}

func toOperationDTO(op ledger.Operation) OperationDTO {
	dto := OperationDTO{
		ID:                 string(op.ID),
		Type:               string(op.Type),
		CreatedAt:          formatTime(op.CreatedAt),
		UpdatedAt:          formatTime(op.UpdatedAt),
		UserID:             op.UserID,
		OwnerID:            op.OwnerID,
		AmountIn:           op.AmountIn,
		CurrencyIn:         string(op.CurrencyIn),
		AmountOut:          op.AmountOut,
		CurrencyOut:        string(op.CurrencyOut),
		Rate:               op.Rate,
		RateType:           string(op.RateType),
		ExecutedAmountIn:   op.ExecutedAmountIn,
		ExecutedAmountOut:  op.ExecutedAmountOut,
		RemainingAmountIn:  op.RemainingAmountIn,
		RemainingAmountOut: op.RemainingAmountOut,
		Status:             string(op.Status),
		Executions:         make([]ExecutionDTO, len(op.Executions)),
		ClientID:           string(op.ClientID),
		Description:        op.Description,
		Metadata:           op.Metadata,
		Display: OperationDisplayDTO{
			AmountIn:  display(op.AmountIn, op.CurrencyIn),
			AmountOut: display(op.AmountOut, op.CurrencyOut),
		},
	}
	for i, e := range op.Executions {
		dto.Executions[i] = ExecutionDTO{
			ID:           string(e.ID),
			ExecutedAt:   formatTime(e.ExecutedAt),
			ExecutedBy:   e.ExecutedBy,
			AmountIn:     e.AmountIn,
			CurrencyIn:   string(e.CurrencyIn),
			CashBoxInID:  string(e.CashBoxInID),
			AmountOut:    e.AmountOut,
			CurrencyOut:  string(e.CurrencyOut),
			CashBoxOutID: string(e.CashBoxOutID),
			Rate:         e.Rate,
		}
	}
	return dto
}

func toOperationDTOs(ops []ledger.Operation) []OperationDTO {
	dtos := make([]OperationDTO, len(ops))
	for i, op := range ops {
		dtos[i] = toOperationDTO(op)
	}
	return dtos
}

func toOperationTypeDTO(s ledger.TypeSpec) OperationTypeDTO {
	return OperationTypeDTO{
		Tag:           string(s.Tag),
		Label:         s.Label,
		Category:      string(s.Category),
		Flow:          string(s.Flow),
		Transactional: s.Transactional,
		RateType:      string(s.Rate),
		Direction:     string(s.Direction),
		CurrencyIn:    string(s.Pair.In),
		CurrencyOut:   string(s.Pair.Out),
		Cable:         s.Cable,
		AdminOnly:     s.AdminOnly,
		CashEffect:    string(s.Cash),
	}
}

func toCashBoxDTO(b ledger.CashBox) CashBoxDTO {
	return CashBoxDTO{
		ID:             string(b.ID),
		Name:           b.Name,
		Currency:       string(b.Currency),
		Type:           string(b.Type),
		Balance:        b.Balance,
		Display:        display(b.Balance, b.Currency),
		AllowsNegative: b.AllowsNegative,
		IsDefault:      b.IsDefault,
		Metadata:       b.Metadata,
		CreatedAt:      formatTime(b.CreatedAt),
		UpdatedAt:      formatTime(b.UpdatedAt),
	}
}

func toClientDTO(c ledger.Client) ClientDTO {
	return ClientDTO{
		ID:        string(c.ID),
		Name:      c.Name,
		Metadata:  c.Metadata,
		CreatedAt: formatTime(c.CreatedAt),
	}
}

func toAuditEntryDTO(e ledger.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:        e.ID,
		Timestamp: formatTime(e.Timestamp),
		ActorID:   e.ActorID,
		Action:    string(e.Action),
		Details:   e.Details,
		Warning:   e.Warning(),
	}
}

func toCurrencyAmountDTOs(rows []ledger.CurrencyAmount) []CurrencyAmountDTO {
	dtos := make([]CurrencyAmountDTO, len(rows))
	for i, r := range rows {
		dtos[i] = CurrencyAmountDTO{
			Currency: string(r.Currency),
			Amount:   r.Amount,
			Display:  display(r.Amount, r.Currency),
		}
	}
	return dtos
}
