/*
cashbox.go - Cash box registry

PURPOSE:
  A cash box is a named account holding a balance in exactly one currency:
  a drawer of banknotes, a digital wallet, a bank account. The registry
  owns the set of boxes and their configuration (name, type, overdraft
  policy, default flag).

BALANCES:
  The registry never changes a balance. Balance mutations go through the
  BalanceManager (balance.go), which shares the registry's lock so that
  legs are checked and committed atomically.

INVARIANTS:
  - Currency is one of the supported currencies
  - At most one default box per currency
  - A box that disallows negative balances never holds one
  - A box can be deleted only with zero balance and when not default

SEE ALSO:
  - balance.go: Balance mutations
  - ledger.go: Admin checks and audit logging around these calls
*/
package ledger

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CASH BOX
// =============================================================================

type CashBoxType string

const (
	CashBoxCash           CashBoxType = "cash"
	CashBoxDigitalWallet  CashBoxType = "digital_wallet"
	CashBoxBankAccount    CashBoxType = "bank_account"
	CashBoxDigitalAccount CashBoxType = "digital_account"
)

func (t CashBoxType) valid() bool {
	switch t {
	case CashBoxCash, CashBoxDigitalWallet, CashBoxBankAccount, CashBoxDigitalAccount:
		return true
	}
	return false
}

type CashBox struct {
	ID             CashBoxID
	Name           string
	Currency       Currency
	Type           CashBoxType
	Balance        decimal.Decimal
	AllowsNegative bool
	IsDefault      bool
	Metadata       map[string]string // bank name, account number, owner
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (b CashBox) clone() CashBox {
	if b.Metadata != nil {
		m := make(map[string]string, len(b.Metadata))
		for k, v := range b.Metadata {
			m[k] = v
		}
		b.Metadata = m
	}
	return b
}

// CashBoxPatch carries the configurable fields of a box. Nil fields are
// left unchanged. The balance is deliberately absent.
type CashBoxPatch struct {
	Name           *string
	Currency       *Currency
	Type           *CashBoxType
	AllowsNegative *bool
	IsDefault      *bool
	Metadata       map[string]string
}

// =============================================================================
// REGISTRY
// =============================================================================

type CashBoxRegistry struct {
	mu    sync.RWMutex
	boxes map[CashBoxID]*CashBox
	now   Clock
}

func NewCashBoxRegistry(clock Clock) *CashBoxRegistry {
	if clock == nil {
		clock = systemClock
	}
	return &CashBoxRegistry{boxes: make(map[CashBoxID]*CashBox), now: clock}
}

// Get returns a copy of the box.
func (r *CashBoxRegistry) Get(id CashBoxID) (CashBox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boxes[id]
	if !ok {
		return CashBox{}, false
	}
	return b.clone(), true
}

// List returns all boxes ordered by currency, then name.
func (r *CashBoxRegistry) List() []CashBox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *CashBoxRegistry) listLocked() []CashBox {
	out := make([]CashBox, 0, len(r.boxes))
	for _, b := range r.boxes {
		out = append(out, b.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Currency != out[j].Currency {
			return out[i].Currency < out[j].Currency
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DefaultFor returns the default box for a currency, if any.
func (r *CashBoxRegistry) DefaultFor(c Currency) (CashBox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.boxes {
		if b.Currency == c && b.IsDefault {
			return b.clone(), true
		}
	}
	return CashBox{}, false
}

// Create adds a box. An empty ID gets a generated one.
func (r *CashBoxRegistry) Create(b CashBox) (CashBox, error) {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return CashBox{}, invalid("name", "must not be empty")
	}
	if !b.Currency.Valid() {
		return CashBox{}, invalid("currency", "unsupported currency %q", b.Currency)
	}
	if !b.Type.valid() {
		return CashBox{}, invalid("type", "unknown cash box type %q", b.Type)
	}
	if b.Balance.IsNegative() && !b.AllowsNegative {
		return CashBox{}, invalid("balance", "negative balance not allowed for this box")
	}
	if b.ID == "" {
		b.ID = CashBoxID(newID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.boxes[b.ID]; exists {
		return CashBox{}, invalid("id", "cash box %s already exists", b.ID)
	}
	now := r.now()
	b.CreatedAt, b.UpdatedAt = now, now
	if b.IsDefault {
		r.clearDefaultLocked(b.Currency)
	}
	stored := b.clone()
	r.boxes[b.ID] = &stored
	return b.clone(), nil
}

// Update applies a patch to the configuration of a box.
func (r *CashBoxRegistry) Update(id CashBoxID, p CashBoxPatch) (CashBox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.boxes[id]
	if !ok {
		return CashBox{}, &NotFoundError{Kind: "cash_box", ID: string(id)}
	}
	next := cur.clone()
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return CashBox{}, invalid("name", "must not be empty")
		}
		next.Name = name
	}
	if p.Currency != nil && *p.Currency != next.Currency {
		if !p.Currency.Valid() {
			return CashBox{}, invalid("currency", "unsupported currency %q", *p.Currency)
		}
		if !next.Balance.IsZero() {
			return CashBox{}, invalid("currency", "cannot change currency of a box with balance %s", next.Balance)
		}
		next.Currency = *p.Currency
	}
	if p.Type != nil {
		if !p.Type.valid() {
			return CashBox{}, invalid("type", "unknown cash box type %q", *p.Type)
		}
		next.Type = *p.Type
	}
	if p.AllowsNegative != nil {
		if !*p.AllowsNegative && next.Balance.IsNegative() {
			return CashBox{}, invalid("allows_negative", "box balance %s is already negative", next.Balance)
		}
		next.AllowsNegative = *p.AllowsNegative
	}
	if p.IsDefault != nil {
		next.IsDefault = *p.IsDefault
	}
	if p.Metadata != nil {
		next.Metadata = p.Metadata
	}
	if next.IsDefault {
		r.clearDefaultLocked(next.Currency)
	}
	next.UpdatedAt = r.now()
	r.boxes[id] = &next
	return next.clone(), nil
}

// Delete removes a box with zero balance that is not the default.
func (r *CashBoxRegistry) Delete(id CashBoxID) (CashBox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.boxes[id]
	if !ok {
		return CashBox{}, &NotFoundError{Kind: "cash_box", ID: string(id)}
	}
	if !b.Balance.IsZero() {
		return CashBox{}, fmtBoxErr(ErrCashBoxNotEmpty, b, "balance is "+b.Balance.String())
	}
	if b.IsDefault {
		return CashBox{}, invalid("id", "cash box %s is the default for %s", b.ID, b.Currency)
	}
	delete(r.boxes, id)
	return b.clone(), nil
}

func (r *CashBoxRegistry) clearDefaultLocked(c Currency) {
	for _, b := range r.boxes {
		if b.Currency == c && b.IsDefault {
			b.IsDefault = false
		}
	}
}

// Replace swaps the whole registry content, e.g. after loading a snapshot.
func (r *CashBoxRegistry) Replace(boxes []CashBox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boxes = make(map[CashBoxID]*CashBox, len(boxes))
	for _, b := range boxes {
		c := b.clone()
		r.boxes[c.ID] = &c
	}
}

// Snapshot returns every box for persistence.
func (r *CashBoxRegistry) Snapshot() []CashBox { return r.List() }

// TotalsByCurrency sums balances per currency.
func (r *CashBoxRegistry) TotalsByCurrency() map[Currency]decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Currency]decimal.Decimal)
	for _, b := range r.boxes {
		out[b.Currency] = out[b.Currency].Add(b.Balance)
	}
	return out
}
