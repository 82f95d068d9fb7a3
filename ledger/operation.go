/*
operation.go - Operation and Execution records, fulfillment state machine

PURPOSE:
  An Operation is a booked financial transaction with nominal in/out
  amounts. It is settled through one or more Executions, each moving a
  slice of the nominal amounts through real cash boxes.

STATE MACHINE:
  pending ──execute──▶ partial ──execute──▶ completed (terminal)
     └────────────execute (full)──────────────▲

  - completed ⇔ remainingIn < ε ∧ remainingOut < ε
  - status never moves backwards, even if an admin edit raises the
    nominal amounts of a completed operation

ACCUMULATORS:
  executed* only grow; remaining* = amount* − executed*, clamped at zero.
  0 ≤ executed ≤ amount holds at all times.

IMMUTABILITY:
  Executions are never edited or removed. Editing or deleting the owning
  operation does not replay or reverse their cash box effects.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusCompleted Status = "completed"
)

func (s Status) rank() int {
	switch s {
	case StatusPartial:
		return 1
	case StatusCompleted:
		return 2
	}
	return 0
}

// Execution is one settlement step. Immutable once recorded.
type Execution struct {
	ID           ExecutionID
	ExecutedAt   time.Time
	ExecutedBy   string
	AmountIn     decimal.Decimal
	CurrencyIn   Currency
	CashBoxInID  CashBoxID
	AmountOut    decimal.Decimal
	CurrencyOut  Currency
	CashBoxOutID CashBoxID
	Rate         *decimal.Decimal
}

type Operation struct {
	ID        OperationID
	Type      OperationType
	CreatedAt time.Time
	UpdatedAt time.Time
	UserID    string // actor who booked it
	OwnerID   string // beneficiary; defaults to UserID

	AmountIn    decimal.Decimal
	CurrencyIn  Currency
	AmountOut   decimal.Decimal
	CurrencyOut Currency
	Rate        *decimal.Decimal
	RateType    RateKind

	ExecutedAmountIn   decimal.Decimal
	ExecutedAmountOut  decimal.Decimal
	RemainingAmountIn  decimal.Decimal
	RemainingAmountOut decimal.Decimal
	Executions         []Execution
	Status             Status

	ClientID    ClientID
	Description string
	Metadata    map[string]string // e.g. wire-transfer banking details
}

// HasExecutions reports whether any amount has been settled.
func (o Operation) HasExecutions() bool {
	return o.ExecutedAmountIn.IsPositive() || o.ExecutedAmountOut.IsPositive()
}

func (o Operation) clone() Operation {
	if o.Executions != nil {
		o.Executions = append([]Execution(nil), o.Executions...)
	}
	if o.Metadata != nil {
		m := make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			m[k] = v
		}
		o.Metadata = m
	}
	if o.Rate != nil {
		r := *o.Rate
		o.Rate = &r
	}
	return o
}

// settle recomputes remaining amounts and advances the status.
func (o *Operation) settle() {
	o.RemainingAmountIn = clampZero(o.AmountIn.Sub(o.ExecutedAmountIn))
	o.RemainingAmountOut = clampZero(o.AmountOut.Sub(o.ExecutedAmountOut))

	next := StatusPending
	switch {
	case o.RemainingAmountIn.LessThan(Epsilon) && o.RemainingAmountOut.LessThan(Epsilon):
		next = StatusCompleted
	case o.HasExecutions():
		next = StatusPartial
	}
	if next.rank() > o.Status.rank() {
		o.Status = next
	}
}

// OperationPatch carries the fields an admin may edit. Nil means unchanged.
type OperationPatch struct {
	Description *string
	ClientID    *ClientID
	OwnerID     *string
	Metadata    map[string]string
	AmountIn    *decimal.Decimal
	CurrencyIn  *Currency
	AmountOut   *decimal.Decimal
	CurrencyOut *Currency
	Rate        *decimal.Decimal
}

func (p OperationPatch) fields() []string {
	var f []string
	add := func(set bool, name string) {
		if set {
			f = append(f, name)
		}
	}
	add(p.Description != nil, "description")
	add(p.ClientID != nil, "client_id")
	add(p.OwnerID != nil, "owner_id")
	add(p.Metadata != nil, "metadata")
	add(p.AmountIn != nil, "amount_in")
	add(p.CurrencyIn != nil, "currency_in")
	add(p.AmountOut != nil, "amount_out")
	add(p.CurrencyOut != nil, "currency_out")
	add(p.Rate != nil, "rate")
	return f
}

// OperationFilter narrows ListOperations. Zero values match everything.
type OperationFilter struct {
	Statuses []Status
	Type     OperationType
	ClientID ClientID
	OwnerID  string
}

func (f OperationFilter) match(o Operation) bool {
	if f.Type != "" && o.Type != f.Type {
		return false
	}
	if f.ClientID != "" && o.ClientID != f.ClientID {
		return false
	}
	if f.OwnerID != "" && o.OwnerID != f.OwnerID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == o.Status {
			return true
		}
	}
	return false
}
