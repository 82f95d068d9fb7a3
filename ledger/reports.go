package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyAmount is one row of a per-currency report.
type CurrencyAmount struct {
	Currency Currency
	Amount   decimal.Decimal
}

// OutstandingRow is what is still to be received and paid in a currency.
type OutstandingRow struct {
	Currency   Currency
	Receive    decimal.Decimal // remaining in
	Pay        decimal.Decimal // remaining out
	Operations int
}

// CashFlowRow sums executed real inflows and outflows in a currency.
type CashFlowRow struct {
	Currency Currency
	Inflow   decimal.Decimal
	Outflow  decimal.Decimal
}

// CurrencyTotals sums cash box balances per currency, ordered by currency.
func (l *Ledger) CurrencyTotals() []CurrencyAmount {
	return sortedAmounts(l.cashBoxes.TotalsByCurrency())
}

// ExpenseTotals sums the executed out amounts of expense-category operations
// per currency, counting executions in [from, to). Zero bounds are open.
func (l *Ledger) ExpenseTotals(from, to time.Time) []CurrencyAmount {
	totals := make(map[Currency]decimal.Decimal)
	for _, o := range l.ListOperations(OperationFilter{}) {
		if !l.categories.Contains(o.Type) {
			continue
		}
		for _, e := range o.Executions {
			if !inWindow(e.ExecutedAt, from, to) || !e.AmountOut.IsPositive() {
				continue
			}
			totals[e.CurrencyOut] = totals[e.CurrencyOut].Add(e.AmountOut)
		}
	}
	return sortedAmounts(totals)
}

// Outstanding sums remaining amounts of non-completed operations.
func (l *Ledger) Outstanding() []OutstandingRow {
	rows := make(map[Currency]*OutstandingRow)
	row := func(c Currency) *OutstandingRow {
		r, ok := rows[c]
		if !ok {
			r = &OutstandingRow{Currency: c}
			rows[c] = r
		}
		return r
	}

	open := OperationFilter{Statuses: []Status{StatusPending, StatusPartial}}
	for _, o := range l.ListOperations(open) {
		if o.RemainingAmountIn.IsPositive() {
			r := row(o.CurrencyIn)
			r.Receive = r.Receive.Add(o.RemainingAmountIn)
			r.Operations++
		}
		if o.RemainingAmountOut.IsPositive() {
			r := row(o.CurrencyOut)
			r.Pay = r.Pay.Add(o.RemainingAmountOut)
			if o.CurrencyOut != o.CurrencyIn || !o.RemainingAmountIn.IsPositive() {
				r.Operations++
			}
		}
	}

	out := make([]OutstandingRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// CashFlow sums executed amounts of types classified as real inflows or
// outflows of the business, counting executions in [from, to).
func (l *Ledger) CashFlow(from, to time.Time) []CashFlowRow {
	rows := make(map[Currency]*CashFlowRow)
	add := func(c Currency, in, out decimal.Decimal) {
		r, ok := rows[c]
		if !ok {
			r = &CashFlowRow{Currency: c}
			rows[c] = r
		}
		r.Inflow = r.Inflow.Add(in)
		r.Outflow = r.Outflow.Add(out)
	}

	for _, o := range l.ListOperations(OperationFilter{}) {
		spec, ok := l.catalog.Lookup(o.Type)
		if !ok || spec.Cash == CashNeutral {
			continue
		}
		for _, e := range o.Executions {
			if !inWindow(e.ExecutedAt, from, to) {
				continue
			}
			switch spec.Cash {
			case CashInflow:
				if e.AmountIn.IsPositive() {
					add(e.CurrencyIn, e.AmountIn, decimal.Zero)
				}
			case CashOutflow:
				if e.AmountOut.IsPositive() {
					add(e.CurrencyOut, decimal.Zero, e.AmountOut)
				}
			}
		}
	}

	out := make([]CashFlowRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

func inWindow(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func sortedAmounts(m map[Currency]decimal.Decimal) []CurrencyAmount {
	out := make([]CurrencyAmount, 0, len(m))
	for c, a := range m {
		out = append(out, CurrencyAmount{Currency: c, Amount: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}
