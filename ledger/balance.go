/*
balance.go - Atomic balance updates across cash boxes

PURPOSE:
  The BalanceManager is the ONLY code that changes a cash box balance.
  An execution touches zero, one or two boxes; each touch is a leg
  (cash box, currency, signed delta). Apply checks every leg first and
  commits all of them together, or none.

CHECKS PER LEG (in order):
  1. The cash box exists                          → NotFoundError
  2. The leg currency equals the box currency     → CurrencyMismatchError
  3. A box that disallows negative balances stays
     at or above zero after the delta             → InsufficientFundsError

  When both legs hit the same box, the second check sees the projected
  balance after the first leg.

CONCURRENCY:
  Apply and Overwrite hold the registry write lock for the whole
  check-and-commit, so two executions touching the same box serialize and
  the second observes the post-state of the first.

SEE ALSO:
  - cashbox.go: Registry and configuration
  - ledger.go: Builds legs from executions
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BalanceDelta is one leg of a balance update.
type BalanceDelta struct {
	Leg       Leg
	CashBoxID CashBoxID
	Currency  Currency
	Delta     decimal.Decimal // positive credits, negative debits
}

type BalanceManager struct {
	reg *CashBoxRegistry
}

func NewBalanceManager(reg *CashBoxRegistry) *BalanceManager {
	return &BalanceManager{reg: reg}
}

// Registry exposes the underlying cash box registry for reads and config.
func (m *BalanceManager) Registry() *CashBoxRegistry { return m.reg }

// Apply validates and commits all legs atomically. It returns the updated
// boxes in leg order.
func (m *BalanceManager) Apply(legs []BalanceDelta) ([]CashBox, error) {
	if len(legs) > 2 {
		return nil, invalid("legs", "at most two legs per execution, got %d", len(legs))
	}

	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()

	projected, err := m.projectLocked(legs)
	if err != nil {
		return nil, err
	}

	now := m.reg.now()
	out := make([]CashBox, 0, len(legs))
	for id, bal := range projected {
		b := m.reg.boxes[id]
		b.Balance = bal
		b.UpdatedAt = now
	}
	for _, l := range legs {
		out = append(out, m.reg.boxes[l.CashBoxID].clone())
	}
	return out, nil
}

func (m *BalanceManager) projectLocked(legs []BalanceDelta) (map[CashBoxID]decimal.Decimal, error) {
	projected := make(map[CashBoxID]decimal.Decimal, len(legs))
	for _, l := range legs {
		b, ok := m.reg.boxes[l.CashBoxID]
		if !ok {
			return nil, &NotFoundError{Kind: "cash_box", ID: string(l.CashBoxID)}
		}
		if b.Currency != l.Currency {
			return nil, &CurrencyMismatchError{Leg: l.Leg, CashBoxID: b.ID, Expected: b.Currency, Got: l.Currency}
		}
		bal, seen := projected[b.ID]
		if !seen {
			bal = b.Balance
		}
		next := bal.Add(l.Delta)
		if l.Delta.IsNegative() && !b.AllowsNegative && next.IsNegative() {
			return nil, &InsufficientFundsError{Leg: l.Leg, CashBoxID: b.ID, Balance: bal, Requested: l.Delta.Neg()}
		}
		projected[b.ID] = next
	}
	return projected, nil
}

// Overwrite sets a box balance outright and returns the box before and after.
func (m *BalanceManager) Overwrite(id CashBoxID, balance decimal.Decimal) (before, after CashBox, err error) {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()

	b, ok := m.reg.boxes[id]
	if !ok {
		return CashBox{}, CashBox{}, &NotFoundError{Kind: "cash_box", ID: string(id)}
	}
	if balance.IsNegative() && !b.AllowsNegative {
		return CashBox{}, CashBox{}, invalid("balance", "cash box %s does not allow negative balances", id)
	}
	before = b.clone()
	b.Balance = balance
	b.UpdatedAt = m.reg.now()
	return before, b.clone(), nil
}

func fmtBoxErr(sentinel error, b *CashBox, msg string) error {
	return fmt.Errorf("%w: cash box %s: %s", sentinel, b.ID, msg)
}
