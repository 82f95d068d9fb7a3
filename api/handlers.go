/*
handlers.go - HTTP API handlers for the operation ledger

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the ledger package.

ENDPOINTS:
  Catalog:
    GET    /api/operation-types            Types the actor may create
    POST   /api/rates/solve                Run the rate calculator

  Operations:
    GET    /api/operations                 List (status, type, client_id, owner_id)
    POST   /api/operations                 Create
    GET    /api/operations/{id}            Get
    PUT    /api/operations/{id}            Update (admin)
    DELETE /api/operations/{id}            Delete (admin)
    POST   /api/operations/{id}/executions Execute part of an operation

  Cash boxes:
    GET    /api/cashboxes                  List
    POST   /api/cashboxes                  Create (admin)
    GET    /api/cashboxes/{id}             Get
    PUT    /api/cashboxes/{id}             Update configuration (admin)
    DELETE /api/cashboxes/{id}             Delete (admin)
    POST   /api/cashboxes/{id}/adjust      Overwrite balance (admin)

  Clients and expense categories:
    GET|POST   /api/clients, PUT|DELETE /api/clients/{id}
    GET|POST   /api/expense-categories, DELETE /api/expense-categories/{tag}

  Admin:
    GET    /api/admin/log                  Audit log (admin)
    POST   /api/admin/reset                Wipe all data (admin)

  Reports:
    GET    /api/reports/balances           Cash box totals per currency
    GET    /api/reports/expenses           Executed expenses (from, to)
    GET    /api/reports/outstanding        Pending receivables and payables
    GET    /api/reports/cashflow           Real inflow and outflow (from, to)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing actor
  - 403: Admin-only call by a regular user
  - 404: Resource not found
  - 409: Duplicate client, non-empty cash box
  - 422: Execution rejected (currency mismatch, overdraft, over-execution)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - actor.go: Actor middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/cambio-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Ledger
}

// NewHandler creates a new handler for a loaded ledger.
func NewHandler(l *ledger.Ledger) *Handler {
	return &Handler{Ledger: l}
}

// =============================================================================
// CATALOG
// =============================================================================

// ListOperationTypes returns the operation types available to the actor.
func (h *Handler) ListOperationTypes(w http.ResponseWriter, r *http.Request) {
	specs := h.Ledger.OperationTypes(actorFrom(r.Context()))
	dtos := make([]OperationTypeDTO, len(specs))
	for i, s := range specs {
		dtos[i] = toOperationTypeDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SolveRate derives the missing field of an amount/amount/rate triple.
func (h *Handler) SolveRate(w http.ResponseWriter, r *http.Request) {
	var req SolveRateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.Ledger.SolveRate(ledger.OperationType(req.Type), ledger.RateInput{
		Driver:    ledger.Field(req.Driver),
		AmountIn:  req.AmountIn,
		AmountOut: req.AmountOut,
		Rate:      req.Rate,
	})
	if err != nil {
		writeLedgerError(w, "Failed to solve rate", err)
		return
	}

	writeJSON(w, http.StatusOK, SolveRateDTO{
		AmountIn:  res.AmountIn,
		AmountOut: res.AmountOut,
		Rate:      res.Rate,
		Derived:   string(res.Derived),
	})
}

// =============================================================================
// OPERATION HANDLERS
// =============================================================================

// ListOperations returns operations newest first. Query parameters:
// status (comma separated), type, client_id, owner_id.
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.OperationFilter{
		Type:     ledger.OperationType(q.Get("type")),
		ClientID: ledger.ClientID(q.Get("client_id")),
		OwnerID:  q.Get("owner_id"),
	}
	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			f.Statuses = append(f.Statuses, ledger.Status(strings.TrimSpace(part)))
		}
	}

	writeJSON(w, http.StatusOK, toOperationDTOs(h.Ledger.ListOperations(f)))
}

// CreateOperation books a new pending operation.
func (h *Handler) CreateOperation(w http.ResponseWriter, r *http.Request) {
	var req CreateOperationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	op, err := h.Ledger.CreateOperation(r.Context(), actorFrom(r.Context()), ledger.CreateRequest{
		Type:          ledger.OperationType(req.Type),
		AmountIn:      req.AmountIn,
		CurrencyIn:    ledger.Currency(req.CurrencyIn),
		AmountOut:     req.AmountOut,
		CurrencyOut:   ledger.Currency(req.CurrencyOut),
		Rate:          req.Rate,
		ClientID:      ledger.ClientID(req.ClientID),
		NewClientName: req.NewClientName,
		OwnerID:       req.OwnerID,
		Description:   req.Description,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeLedgerError(w, "Failed to create operation", err)
		return
	}

	writeJSON(w, http.StatusCreated, toOperationDTO(op))
}

// GetOperation returns a single operation.
func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.Ledger.GetOperation(ledger.OperationID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, "Operation not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTO(op))
}

// UpdateOperation patches an operation. Admin only.
func (h *Handler) UpdateOperation(w http.ResponseWriter, r *http.Request) {
	var req UpdateOperationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p := ledger.OperationPatch{
		Description: req.Description,
		OwnerID:     req.OwnerID,
		Metadata:    req.Metadata,
		AmountIn:    req.AmountIn,
		AmountOut:   req.AmountOut,
		Rate:        req.Rate,
	}
	if req.ClientID != nil {
		id := ledger.ClientID(*req.ClientID)
		p.ClientID = &id
	}
	if req.CurrencyIn != nil {
		c := ledger.Currency(*req.CurrencyIn)
		p.CurrencyIn = &c
	}
	if req.CurrencyOut != nil {
		c := ledger.Currency(*req.CurrencyOut)
		p.CurrencyOut = &c
	}

	op, err := h.Ledger.UpdateOperation(r.Context(), actorFrom(r.Context()), ledger.OperationID(chi.URLParam(r, "id")), p)
	if err != nil {
		writeLedgerError(w, "Failed to update operation", err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTO(op))
}

// DeleteOperation removes an operation. Admin only. Cash box balances are
// left as they are.
func (h *Handler) DeleteOperation(w http.ResponseWriter, r *http.Request) {
	err := h.Ledger.DeleteOperation(r.Context(), actorFrom(r.Context()), ledger.OperationID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, "Failed to delete operation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteOperation settles part or all of an operation against cash boxes.
func (h *Handler) ExecuteOperation(w http.ResponseWriter, r *http.Request) {
	var req ExecuteOperationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	op, err := h.Ledger.ExecuteOperation(r.Context(), actorFrom(r.Context()), ledger.OperationID(chi.URLParam(r, "id")), ledger.ExecuteRequest{
		AmountIn:     req.AmountIn,
		CurrencyIn:   ledger.Currency(req.CurrencyIn),
		CashBoxInID:  ledger.CashBoxID(req.CashBoxInID),
		AmountOut:    req.AmountOut,
		CurrencyOut:  ledger.Currency(req.CurrencyOut),
		CashBoxOutID: ledger.CashBoxID(req.CashBoxOutID),
		Rate:         req.Rate,
	})
	if err != nil {
		writeLedgerError(w, "Execution rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTO(op))
}

// =============================================================================
// CASH BOX HANDLERS
// =============================================================================

// ListCashBoxes returns all cash boxes.
func (h *Handler) ListCashBoxes(w http.ResponseWriter, r *http.Request) {
	boxes := h.Ledger.ListCashBoxes()
	dtos := make([]CashBoxDTO, len(boxes))
	for i, b := range boxes {
		dtos[i] = toCashBoxDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCashBox returns a single cash box.
func (h *Handler) GetCashBox(w http.ResponseWriter, r *http.Request) {
	b, err := h.Ledger.GetCashBox(ledger.CashBoxID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, "Cash box not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toCashBoxDTO(b))
}

// CreateCashBox adds a cash box at zero balance. Admin only.
func (h *Handler) CreateCashBox(w http.ResponseWriter, r *http.Request) {
	var req CreateCashBoxRequest
	if !decodeBody(w, r, &req) {
		return
	}

	b, err := h.Ledger.CreateCashBox(r.Context(), actorFrom(r.Context()), ledger.CashBox{
		Name:           req.Name,
		Currency:       ledger.Currency(req.Currency),
		Type:           ledger.CashBoxType(req.Type),
		AllowsNegative: req.AllowsNegative,
		IsDefault:      req.IsDefault,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeLedgerError(w, "Failed to create cash box", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCashBoxDTO(b))
}

// UpdateCashBox changes a cash box's configuration. Admin only.
func (h *Handler) UpdateCashBox(w http.ResponseWriter, r *http.Request) {
	var req UpdateCashBoxRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p := ledger.CashBoxPatch{
		Name:           req.Name,
		AllowsNegative: req.AllowsNegative,
		IsDefault:      req.IsDefault,
		Metadata:       req.Metadata,
	}
	if req.Currency != nil {
		c := ledger.Currency(*req.Currency)
		p.Currency = &c
	}
	if req.Type != nil {
		t := ledger.CashBoxType(*req.Type)
		p.Type = &t
	}

	b, err := h.Ledger.UpdateCashBox(r.Context(), actorFrom(r.Context()), ledger.CashBoxID(chi.URLParam(r, "id")), p)
	if err != nil {
		writeLedgerError(w, "Failed to update cash box", err)
		return
	}
	writeJSON(w, http.StatusOK, toCashBoxDTO(b))
}

// DeleteCashBox removes a cash box with zero balance. Admin only.
func (h *Handler) DeleteCashBox(w http.ResponseWriter, r *http.Request) {
	err := h.Ledger.DeleteCashBox(r.Context(), actorFrom(r.Context()), ledger.CashBoxID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, "Failed to delete cash box", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdjustCashBox overwrites a cash box balance. Admin only.
func (h *Handler) AdjustCashBox(w http.ResponseWriter, r *http.Request) {
	var req AdjustCashBoxRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Balance == nil {
		writeError(w, http.StatusBadRequest, "balance is required", nil)
		return
	}

	b, err := h.Ledger.AdjustCashBoxBalance(r.Context(), actorFrom(r.Context()), ledger.CashBoxID(chi.URLParam(r, "id")), *req.Balance, req.Reason)
	if err != nil {
		writeLedgerError(w, "Failed to adjust cash box", err)
		return
	}
	writeJSON(w, http.StatusOK, toCashBoxDTO(b))
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns all clients sorted by name.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients := h.Ledger.ListClients()
	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateClient registers a client.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var name string
	if req.Name != nil {
		name = *req.Name
	}

	c, err := h.Ledger.AddClient(r.Context(), actorFrom(r.Context()), name, req.Metadata)
	if err != nil {
		writeLedgerError(w, "Failed to create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(c))
}

// UpdateClient renames a client or replaces its metadata.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.Ledger.UpdateClient(r.Context(), actorFrom(r.Context()), ledger.ClientID(chi.URLParam(r, "id")), req.Name, req.Metadata)
	if err != nil {
		writeLedgerError(w, "Failed to update client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

// DeleteClient removes a client. Admin only.
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	err := h.Ledger.DeleteClient(r.Context(), actorFrom(r.Context()), ledger.ClientID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, "Failed to delete client", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// EXPENSE CATEGORY HANDLERS
// =============================================================================

// ListExpenseCategories returns the operation types counted as expenses.
func (h *Handler) ListExpenseCategories(w http.ResponseWriter, r *http.Request) {
	tags := h.Ledger.ListExpenseCategories()
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	writeJSON(w, http.StatusOK, out)
}

// AddExpenseCategory adds a tag. Adding a present tag is a no-op.
func (h *Handler) AddExpenseCategory(w http.ResponseWriter, r *http.Request) {
	var req ExpenseCategoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.Ledger.AddExpenseCategory(r.Context(), actorFrom(r.Context()), ledger.OperationType(req.Tag)); err != nil {
		writeLedgerError(w, "Failed to add expense category", err)
		return
	}
	h.ListExpenseCategories(w, r)
}

// RemoveExpenseCategory removes a tag. Removing an absent tag is a no-op.
func (h *Handler) RemoveExpenseCategory(w http.ResponseWriter, r *http.Request) {
	tag := ledger.OperationType(chi.URLParam(r, "tag"))
	if err := h.Ledger.RemoveExpenseCategory(r.Context(), actorFrom(r.Context()), tag); err != nil {
		writeLedgerError(w, "Failed to remove expense category", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListAuditLog returns audit entries newest first. Query parameters:
// action (comma separated), actor_id, limit.
func (h *Handler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.AuditFilter{ActorID: q.Get("actor_id")}
	if s := q.Get("action"); s != "" {
		for _, part := range strings.Split(s, ",") {
			f.Actions = append(f.Actions, ledger.AuditAction(strings.TrimSpace(part)))
		}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		f.Limit = n
	}

	entries, err := h.Ledger.ListAuditLog(actorFrom(r.Context()), f)
	if err != nil {
		writeLedgerError(w, "Failed to list audit log", err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetData wipes operations, clients and the audit log and re-seeds the
// cash boxes. Admin only.
func (h *Handler) ResetData(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.ResetAllData(r.Context(), actorFrom(r.Context())); err != nil {
		writeLedgerError(w, "Failed to reset data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// ReportBalances returns the sum of cash box balances per currency.
func (h *Handler) ReportBalances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toCurrencyAmountDTOs(h.Ledger.CurrencyTotals()))
}

// ReportExpenses returns executed expenses per currency within [from, to).
func (h *Handler) ReportExpenses(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	writeJSON(w, http.StatusOK, toCurrencyAmountDTOs(h.Ledger.ExpenseTotals(from, to)))
}

// ReportOutstanding returns what remains to be received and paid.
func (h *Handler) ReportOutstanding(w http.ResponseWriter, r *http.Request) {
	rows := h.Ledger.Outstanding()
	dtos := make([]OutstandingDTO, len(rows))
	for i, row := range rows {
		dtos[i] = OutstandingDTO{
			Currency:   string(row.Currency),
			Receive:    row.Receive,
			Pay:        row.Pay,
			Operations: row.Operations,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReportCashFlow returns real inflow and outflow per currency within [from, to).
func (h *Handler) ReportCashFlow(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	rows := h.Ledger.CashFlow(from, to)
	dtos := make([]CashFlowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = CashFlowDTO{
			Currency: string(row.Currency),
			Inflow:   row.Inflow,
			Outflow:  row.Outflow,
			Net:      row.Inflow.Sub(row.Outflow),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// parseWindow reads optional from/to query parameters as dates (2006-01-02)
// or RFC 3339 timestamps. A missing bound is open.
func parseWindow(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if from, err = parseTime(q.Get("from")); err != nil {
		return
	}
	if to, err = parseTime(q.Get("to")); err != nil {
		return
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		err = fmt.Errorf("from must be before to")
	}
	return
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t, nil
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeLedgerError maps a ledger error to its HTTP status.
func writeLedgerError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsUnauthorized(err):
		writeError(w, http.StatusForbidden, message, err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrDuplicateClient), errors.Is(err, ledger.ErrCashBoxNotEmpty):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsExecutionRejection(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

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
