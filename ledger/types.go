/*
Package ledger provides the operation ledger and partial-execution engine.

PURPOSE:
  This package records financial operations of a currency-exchange desk
  (trades, loans, dividends, petty-cash movements, adjustments), lets them
  be executed incrementally against cash boxes, and keeps cash box balances
  consistent across currencies.

KEY CONCEPTS IN THIS FILE (types.go):
  - Currency: One of the fixed currencies the desk operates in
  - Actor: Who performs a call, with a user/admin role
  - Epsilon: Tolerance used when comparing remaining amounts
  - Rounding helpers for money (2 places) and rates (4 places)

DESIGN PRINCIPLES:
  1. Precision: All amounts are decimal.Decimal, never float64
  2. Explicit state: Every mutation goes through the Ledger, which then
     flushes a snapshot to the Store
  3. Atomicity: Cash box legs commit together or not at all

SEE ALSO:
  - catalog.go: Operation type registry
  - rate.go: Rate calculator
  - cashbox.go: Cash box registry
  - balance.go: Balance manager
  - ledger.go: Operation ledger
*/
package ledger

import (
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCIES
// =============================================================================

type Currency string

const (
	ARS  Currency = "ARS"
	USD  Currency = "USD"
	EUR  Currency = "EUR"
	USDT Currency = "USDT"
	BRL  Currency = "BRL"
	GBP  Currency = "GBP"
)

// Currencies is the fixed set of currencies a cash box or operation leg may use.
var Currencies = []Currency{ARS, USD, EUR, USDT, BRL, GBP}

func init() {
	// go-money has no entry for tether.
	if money.GetCurrency(string(USDT)) == nil {
		money.AddCurrency(string(USDT), "₮", "$1", ".", ",", 2)
	}
}

// Valid reports whether c belongs to the supported currency set.
func (c Currency) Valid() bool {
	for _, k := range Currencies {
		if k == c {
			return money.GetCurrency(string(c)) != nil
		}
	}
	return false
}

// FormatAmount renders an amount using the currency's display template,
// e.g. "$350.000,00" for ARS or "₮10.50" for USDT.
func FormatAmount(amount decimal.Decimal, c Currency) string {
	cur := money.GetCurrency(string(c))
	if cur == nil {
		return amount.StringFixed(2) + " " + string(c)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, string(c)).Display()
}

// =============================================================================
// ACTORS
// =============================================================================

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor identifies the caller of a ledger operation. Authentication is done
// elsewhere; the ledger only checks the role.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// SystemActor is used for seeding and maintenance tasks.
var SystemActor = Actor{ID: "system", Role: RoleAdmin}

// =============================================================================
// NUMERIC HELPERS
// =============================================================================

// Epsilon absorbs rounding when deciding whether an amount is fully settled.
var Epsilon = decimal.RequireFromString("0.001")

const (
	MoneyPlaces = 2
	RatePlaces  = 4
)

func roundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }
func roundRate(d decimal.Decimal) decimal.Decimal  { return d.Round(RatePlaces) }

// clampZero returns d, or zero if d is negative.
func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OperationID string
type ExecutionID string
type CashBoxID string
type ClientID string

func newID() string { return uuid.NewString() }

// Clock returns the current time. Tests replace it for determinism.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
