/*
ledger.go - Operation ledger and partial-execution engine

PURPOSE:
  The Ledger is the single entry point for every mutation: creating,
  executing, editing and deleting operations, managing cash boxes,
  clients and expense categories, and resetting data. It validates input,
  drives the fulfillment state machine, moves balances through the
  BalanceManager, writes the audit log and flushes snapshots to the Store.

EXECUTION FLOW:
  1. Lock the target operation (per-operation mutex)
  2. Validate amounts against what remains (+ε)
  3. Resolve cash boxes (explicit id, else default box for the currency)
  4. BalanceManager.Apply: all legs or none
  5. Append the Execution, grow accumulators, recompute status
  6. Audit and flush

CONCURRENCY:
  Executions against the same operation serialize on its mutex. Legs
  touching the same cash box serialize inside BalanceManager.Apply.
  Executions against disjoint operations and boxes only contend for the
  short registry critical section. Every mutation holds the reset gate in
  read mode; Load and ResetAllData hold it in write mode, so a reset never
  interleaves with a half-applied mutation.

PERSISTENCE:
  In-memory state is mutated first, then the affected collections are
  flushed. A flush failure is logged; it does not undo the mutation.

KNOWN LIMITATION:
  Editing or deleting an operation that already moved cash does NOT
  replay or reverse those movements. The audit entry carries a warning.
*/
package ledger

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Options configures a Ledger. Zero values pick defaults.
type Options struct {
	Catalog           *Catalog
	AuditCap          int
	Clock             Clock
	SeedCashBoxes     []CashBox
	ExpenseCategories []OperationType
}

type Ledger struct {
	store      Store
	catalog    *Catalog
	cashBoxes  *CashBoxRegistry
	balances   *BalanceManager
	audit      *AuditLog
	clients    *ClientRegistry
	categories *CategoryRegistry
	seeds      []CashBox
	seedTags   []OperationType
	now        Clock

	// gate: read by mutations, written by Load and ResetAllData.
	gate  sync.RWMutex
	mu    sync.RWMutex
	ops   map[OperationID]Operation
	locks map[OperationID]*sync.Mutex

	persistMu sync.Mutex
}

func New(store Store, opts Options) *Ledger {
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Clock == nil {
		opts.Clock = systemClock
	}
	if opts.SeedCashBoxes == nil {
		opts.SeedCashBoxes = DefaultCashBoxes()
	}
	if opts.ExpenseCategories == nil {
		opts.ExpenseCategories = DefaultExpenseCategories
	}

	reg := NewCashBoxRegistry(opts.Clock)
	return &Ledger{
		store:      store,
		catalog:    opts.Catalog,
		cashBoxes:  reg,
		balances:   NewBalanceManager(reg),
		audit:      NewAuditLog(opts.AuditCap, opts.Clock),
		clients:    NewClientRegistry(opts.Clock),
		categories: NewCategoryRegistry(),
		seeds:      opts.SeedCashBoxes,
		seedTags:   opts.ExpenseCategories,
		now:        opts.Clock,
		ops:        make(map[OperationID]Operation),
		locks:      make(map[OperationID]*sync.Mutex),
	}
}

func (l *Ledger) Catalog() *Catalog { return l.catalog }

// =============================================================================
// LOADING AND FLUSHING
// =============================================================================

// Load reads every collection from the store. Cash boxes and expense
// categories that were never saved are seeded and flushed.
func (l *Ledger) Load(ctx context.Context) error {
	l.gate.Lock()
	defer l.gate.Unlock()

	ops, err := l.store.LoadOperations(ctx)
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return err
	}
	clients, err := l.store.LoadClients(ctx)
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return err
	}
	entries, err := l.store.LoadAuditLog(ctx)
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return err
	}

	var seeded []Collection
	boxes, err := l.store.LoadCashBoxes(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		boxes, seeded = l.seedBoxes(), append(seeded, CollectionCashBoxes)
	case err != nil:
		return err
	}
	tags, err := l.store.LoadExpenseCategories(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		tags, seeded = l.seedTags, append(seeded, CollectionExpenseCategories)
	case err != nil:
		return err
	}

	l.mu.Lock()
	l.ops = make(map[OperationID]Operation, len(ops))
	for _, o := range ops {
		l.ops[o.ID] = o.clone()
	}
	l.mu.Unlock()
	l.cashBoxes.Replace(boxes)
	l.clients.Replace(clients)
	l.audit.Replace(entries)
	l.categories.Replace(tags)

	if len(seeded) > 0 {
		log.Printf("ledger: seeding %v", seeded)
		return l.flush(ctx, seeded...)
	}
	return nil
}

func (l *Ledger) seedBoxes() []CashBox {
	now := l.now()
	out := make([]CashBox, len(l.seeds))
	for i, b := range l.seeds {
		b = b.clone()
		b.Balance = decimal.Zero
		b.CreatedAt, b.UpdatedAt = now, now
		out[i] = b
	}
	return out
}

// Flush saves every collection.
func (l *Ledger) Flush(ctx context.Context) error {
	return l.flush(ctx, AllCollections...)
}

func (l *Ledger) flush(ctx context.Context, cols ...Collection) error {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	var errs []error
	for _, c := range cols {
		var err error
		switch c {
		case CollectionOperations:
			err = l.store.SaveOperations(ctx, l.snapshotOperations())
		case CollectionCashBoxes:
			err = l.store.SaveCashBoxes(ctx, l.cashBoxes.Snapshot())
		case CollectionClients:
			err = l.store.SaveClients(ctx, l.clients.Snapshot())
		case CollectionAuditLog:
			err = l.store.SaveAuditLog(ctx, l.audit.Snapshot())
		case CollectionExpenseCategories:
			err = l.store.SaveExpenseCategories(ctx, l.categories.List())
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writer holds off Load and ResetAllData until the mutation returns.
func (l *Ledger) writer() func() {
	l.gate.RLock()
	return l.gate.RUnlock
}

// persist flushes after a committed mutation; failures are only logged.
func (l *Ledger) persist(ctx context.Context, cols ...Collection) {
	if err := l.flush(ctx, cols...); err != nil {
		log.Printf("ledger: persist %v: %v", cols, err)
	}
}

func (l *Ledger) snapshotOperations() []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sortedLocked(OperationFilter{})
}

// =============================================================================
// READS
// =============================================================================

func (l *Ledger) GetOperation(id OperationID) (Operation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.ops[id]
	if !ok {
		return Operation{}, &NotFoundError{Kind: "operation", ID: string(id)}
	}
	return o.clone(), nil
}

// ListOperations returns matching operations, newest first.
func (l *Ledger) ListOperations(f OperationFilter) []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sortedLocked(f)
}

func (l *Ledger) sortedLocked(f OperationFilter) []Operation {
	out := make([]Operation, 0, len(l.ops))
	for _, o := range l.ops {
		if f.match(o) {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (l *Ledger) ListCashBoxes() []CashBox { return l.cashBoxes.List() }

func (l *Ledger) GetCashBox(id CashBoxID) (CashBox, error) {
	b, ok := l.cashBoxes.Get(id)
	if !ok {
		return CashBox{}, &NotFoundError{Kind: "cash_box", ID: string(id)}
	}
	return b, nil
}

func (l *Ledger) ListClients() []Client { return l.clients.List() }

func (l *Ledger) ListExpenseCategories() []OperationType { return l.categories.List() }

// ListAuditLog returns audit entries, newest first. Admin only.
func (l *Ledger) ListAuditLog(actor Actor, f AuditFilter) ([]AuditEntry, error) {
	return l.audit.List(actor, f)
}

// OperationTypes returns the types the actor may create.
func (l *Ledger) OperationTypes(actor Actor) []TypeSpec { return l.catalog.Available(actor) }

// SolveRate runs the rate calculator for an operation type.
func (l *Ledger) SolveRate(tag OperationType, in RateInput) (RateResult, error) {
	return l.catalog.SolveFor(tag, in)
}

// =============================================================================
// CREATE
// =============================================================================

type CreateRequest struct {
	Type          OperationType
	AmountIn      *decimal.Decimal
	CurrencyIn    Currency
	AmountOut     *decimal.Decimal
	CurrencyOut   Currency
	Rate          *decimal.Decimal
	ClientID      ClientID
	NewClientName string // creates the client if no client has this name
	OwnerID       string
	Description   string
	Metadata      map[string]string
}

// CreateOperation validates and stores a new pending operation.
func (l *Ledger) CreateOperation(ctx context.Context, actor Actor, req CreateRequest) (Operation, error) {
	spec, ok := l.catalog.Lookup(req.Type)
	if !ok {
		return Operation{}, invalid("type", "unknown operation type %q", req.Type)
	}
	if spec.AdminOnly && !actor.IsAdmin() {
		return Operation{}, unauthorized("creating " + string(spec.Tag))
	}
	defer l.writer()()

	legs, err := l.shapeLegs(spec, req)
	if err != nil {
		return Operation{}, err
	}

	if req.ClientID != "" && req.NewClientName == "" {
		if _, ok := l.clients.Get(req.ClientID); !ok {
			return Operation{}, &NotFoundError{Kind: "client", ID: string(req.ClientID)}
		}
	}

	cols := []Collection{CollectionOperations}
	clientID := req.ClientID
	if name := strings.TrimSpace(req.NewClientName); name != "" {
		c, created, err := l.findOrCreateClient(name)
		if err != nil {
			return Operation{}, err
		}
		clientID = c.ID
		if created {
			cols = append(cols, CollectionClients)
			if actor.IsAdmin() {
				l.audit.Record(AuditClientCreate, map[string]any{"client_id": c.ID, "name": c.Name, "implicit": true}, actor.ID)
			}
		}
	}

	now := l.now()
	op := Operation{
		ID:          OperationID(newID()),
		Type:        spec.Tag,
		CreatedAt:   now,
		UpdatedAt:   now,
		UserID:      actor.ID,
		OwnerID:     req.OwnerID,
		AmountIn:    legs.amountIn,
		CurrencyIn:  legs.currencyIn,
		AmountOut:   legs.amountOut,
		CurrencyOut: legs.currencyOut,
		Rate:        legs.rate,
		RateType:    spec.Rate,
		Status:      StatusPending,
		ClientID:    clientID,
		Description: strings.TrimSpace(req.Description),
		Metadata:    req.Metadata,
	}
	if op.OwnerID == "" {
		op.OwnerID = actor.ID
	}
	op.settle()

	l.mu.Lock()
	l.ops[op.ID] = op.clone()
	l.mu.Unlock()

	if actor.IsAdmin() {
		l.audit.Record(AuditOperationCreate, map[string]any{"operation_id": op.ID, "type": op.Type}, actor.ID)
		cols = append(cols, CollectionAuditLog)
	}
	l.persist(ctx, cols...)
	return op.clone(), nil
}

type shapedLegs struct {
	amountIn, amountOut     decimal.Decimal
	currencyIn, currencyOut Currency
	rate                    *decimal.Decimal
}

// shapeLegs applies the flow shape and rate rules of the type.
func (l *Ledger) shapeLegs(spec TypeSpec, req CreateRequest) (shapedLegs, error) {
	var s shapedLegs
	for _, a := range []*decimal.Decimal{req.AmountIn, req.AmountOut} {
		if a != nil && a.IsNegative() {
			return s, invalid("amount", "amounts must not be negative")
		}
	}

	amountIn, amountOut := req.AmountIn, req.AmountOut
	if spec.Transactional {
		if req.Rate != nil {
			if err := checkRate(spec, *req.Rate); err != nil {
				return s, err
			}
		}
		// One amount plus a rate derives the other.
		if req.Rate != nil && (amountIn == nil) != (amountOut == nil) {
			driver := FieldAmountIn
			if amountIn == nil {
				driver = FieldAmountOut
			}
			res, err := Solve(RateInput{
				Driver: driver, AmountIn: amountIn, AmountOut: amountOut, Rate: req.Rate,
				Direction: spec.Direction, Kind: spec.Rate,
			})
			if err != nil {
				return s, err
			}
			if res.Derived == "" {
				return s, invalid("rate", "cannot derive the missing amount from rate %s", req.Rate)
			}
			amountIn, amountOut = res.AmountIn, res.AmountOut
		}
	}

	in, out := decimal.Zero, decimal.Zero
	if amountIn != nil {
		in = *amountIn
	}
	if amountOut != nil {
		out = *amountOut
	}

	switch spec.Flow {
	case FlowIn:
		if out.IsPositive() {
			return s, invalid("amount_out", "%s only has an incoming amount", spec.Tag)
		}
		if !in.IsPositive() {
			return s, invalid("amount_in", "must be greater than zero")
		}
	case FlowOut:
		if in.IsPositive() {
			return s, invalid("amount_in", "%s only has an outgoing amount", spec.Tag)
		}
		if !out.IsPositive() {
			return s, invalid("amount_out", "must be greater than zero")
		}
	case FlowInOutSelectable:
		if in.IsPositive() == out.IsPositive() {
			return s, invalid("amount", "%s needs exactly one of amount_in or amount_out", spec.Tag)
		}
	case FlowInOut:
		if !in.IsPositive() && !out.IsPositive() {
			return s, invalid("amount", "at least one amount must be greater than zero")
		}
	}

	s.amountIn, s.amountOut = in, out
	if in.IsPositive() || spec.Transactional {
		if !req.CurrencyIn.Valid() {
			return s, invalid("currency_in", "unsupported currency %q", req.CurrencyIn)
		}
		s.currencyIn = req.CurrencyIn
	}
	if out.IsPositive() || spec.Transactional {
		if !req.CurrencyOut.Valid() {
			return s, invalid("currency_out", "unsupported currency %q", req.CurrencyOut)
		}
		s.currencyOut = req.CurrencyOut
	}

	if !spec.Transactional {
		return s, nil
	}
	if !spec.Pair.In.Allows(s.currencyIn) {
		return s, invalid("currency_in", "%s not allowed for %s", s.currencyIn, spec.Tag)
	}
	if !spec.Pair.Out.Allows(s.currencyOut) {
		return s, invalid("currency_out", "%s not allowed for %s", s.currencyOut, spec.Tag)
	}
	if spec.RequiresDistinctCurrencies() && s.currencyIn == s.currencyOut {
		return s, invalid("currency_out", "in and out currencies must differ for %s", spec.Tag)
	}
	rate := decimal.Zero
	if req.Rate != nil {
		rate = *req.Rate
	}
	if spec.RequiresRate() && rate.IsZero() {
		return s, invalid("rate", "rate must not be zero for %s", spec.Tag)
	}
	s.rate = &rate
	return s, nil
}

// checkRate applies the sign and zero rules of the type's rate kind.
func checkRate(spec TypeSpec, rate decimal.Decimal) error {
	if spec.Rate == RatePercentageFee {
		if rate.LessThanOrEqual(hundred.Neg()) {
			return invalid("rate", "fee must be above -100%% for %s", spec.Tag)
		}
	} else if rate.IsNegative() {
		return invalid("rate", "rate must not be negative for %s", spec.Tag)
	}
	if spec.RequiresRate() && rate.IsZero() {
		return invalid("rate", "rate must not be zero for %s", spec.Tag)
	}
	return nil
}

func (l *Ledger) findOrCreateClient(name string) (Client, bool, error) {
	if c, ok := l.clients.FindByName(name); ok {
		return c, false, nil
	}
	c, err := l.clients.Add(name, nil)
	if errors.Is(err, ErrDuplicateClient) {
		// Lost a race with a concurrent insert of the same name.
		c, _ = l.clients.FindByName(name)
		return c, false, nil
	}
	return c, err == nil, err
}

// =============================================================================
// EXECUTE
// =============================================================================

// ExecuteRequest settles part of an operation. Empty currencies default to
// the operation's; empty cash box ids default to the currency's default box.
type ExecuteRequest struct {
	AmountIn     decimal.Decimal
	CurrencyIn   Currency
	CashBoxInID  CashBoxID
	AmountOut    decimal.Decimal
	CurrencyOut  Currency
	CashBoxOutID CashBoxID
	Rate         *decimal.Decimal
}

// ExecuteOperation applies one execution atomically.
func (l *Ledger) ExecuteOperation(ctx context.Context, actor Actor, id OperationID, req ExecuteRequest) (Operation, error) {
	defer l.writer()()
	unlock, err := l.lockOperation(id)
	if err != nil {
		return Operation{}, err
	}
	defer unlock()

	op, err := l.GetOperation(id)
	if err != nil {
		return Operation{}, err
	}

	if req.AmountIn.IsNegative() || req.AmountOut.IsNegative() {
		return Operation{}, invalid("amount", "execution amounts must not be negative")
	}
	if !req.AmountIn.IsPositive() && !req.AmountOut.IsPositive() {
		return Operation{}, invalid("amount", "nothing to execute")
	}
	if req.Rate != nil {
		spec, _ := l.catalog.Lookup(op.Type)
		if !spec.Transactional {
			return Operation{}, invalid("rate", "%s does not carry a rate", op.Type)
		}
		if err := checkRate(spec, *req.Rate); err != nil {
			return Operation{}, err
		}
	}
	amountIn, err := fitRemaining(LegIn, req.AmountIn, op.RemainingAmountIn)
	if err != nil {
		return Operation{}, err
	}
	amountOut, err := fitRemaining(LegOut, req.AmountOut, op.RemainingAmountOut)
	if err != nil {
		return Operation{}, err
	}

	exec := Execution{
		ID:         ExecutionID(newID()),
		ExecutedAt: l.now(),
		ExecutedBy: actor.ID,
		AmountIn:   amountIn,
		AmountOut:  amountOut,
		Rate:       req.Rate,
	}
	if exec.Rate == nil && op.Rate != nil {
		r := *op.Rate
		exec.Rate = &r
	}

	var legs []BalanceDelta
	if amountIn.IsPositive() {
		leg, err := l.resolveLeg(LegIn, op.CurrencyIn, req.CurrencyIn, req.CashBoxInID, amountIn)
		if err != nil {
			return Operation{}, err
		}
		exec.CurrencyIn, exec.CashBoxInID = leg.Currency, leg.CashBoxID
		legs = append(legs, leg)
	}
	if amountOut.IsPositive() {
		leg, err := l.resolveLeg(LegOut, op.CurrencyOut, req.CurrencyOut, req.CashBoxOutID, amountOut.Neg())
		if err != nil {
			return Operation{}, err
		}
		exec.CurrencyOut, exec.CashBoxOutID = leg.Currency, leg.CashBoxID
		legs = append(legs, leg)
	}

	boxes, err := l.balances.Apply(legs)
	if err != nil {
		return Operation{}, err
	}

	op.ExecutedAmountIn = op.ExecutedAmountIn.Add(amountIn)
	op.ExecutedAmountOut = op.ExecutedAmountOut.Add(amountOut)
	op.Executions = append(op.Executions, exec)
	op.UpdatedAt = exec.ExecutedAt
	op.settle()

	l.mu.Lock()
	l.ops[op.ID] = op.clone()
	l.mu.Unlock()

	balances := make(map[string]any, len(boxes))
	for _, b := range boxes {
		balances[string(b.ID)] = b.Balance.String()
	}
	l.audit.Record(AuditCashBoxUpdate, map[string]any{
		"operation_id": op.ID,
		"balances":     balances,
	}, actor.ID)
	l.audit.Record(AuditOperationExecute, map[string]any{
		"operation_id":        op.ID,
		"execution_id":        exec.ID,
		"executed_amount_in":  amountIn.String(),
		"executed_amount_out": amountOut.String(),
		"status":              op.Status,
	}, actor.ID)

	l.persist(ctx, CollectionOperations, CollectionCashBoxes, CollectionAuditLog)
	return op, nil
}

// fitRemaining rejects amounts beyond remaining+ε and trims the ε overshoot
// so accumulators never exceed the nominal amount.
func fitRemaining(leg Leg, requested, remaining decimal.Decimal) (decimal.Decimal, error) {
	if requested.GreaterThan(remaining.Add(Epsilon)) {
		return decimal.Zero, &OverExecutionError{Leg: leg, Requested: requested, Remaining: remaining}
	}
	if requested.GreaterThan(remaining) {
		return remaining, nil
	}
	return requested, nil
}

func (l *Ledger) resolveLeg(leg Leg, opCurrency, reqCurrency Currency, boxID CashBoxID, delta decimal.Decimal) (BalanceDelta, error) {
	field := "currency_" + string(leg)
	cur := opCurrency
	if reqCurrency != "" {
		if opCurrency != "" && reqCurrency != opCurrency {
			return BalanceDelta{}, invalid(field, "operation leg is %s, execution leg is %s", opCurrency, reqCurrency)
		}
		cur = reqCurrency
	}
	if cur == "" {
		return BalanceDelta{}, invalid(field, "operation has no %s leg", leg)
	}
	if boxID == "" {
		b, ok := l.cashBoxes.DefaultFor(cur)
		if !ok {
			return BalanceDelta{}, invalid("cash_box_"+string(leg)+"_id", "no cash box given and no default box for %s", cur)
		}
		boxID = b.ID
	}
	return BalanceDelta{Leg: leg, CashBoxID: boxID, Currency: cur, Delta: delta}, nil
}

// lockOperation takes the per-operation mutex. Unknown ids get no lock entry.
func (l *Ledger) lockOperation(id OperationID) (func(), error) {
	l.mu.Lock()
	if _, exists := l.ops[id]; !exists {
		l.mu.Unlock()
		return nil, &NotFoundError{Kind: "operation", ID: string(id)}
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

// =============================================================================
// UPDATE / DELETE
// =============================================================================

// UpdateOperation edits an operation. Admin only. A completed operation
// stays completed and prior executions are not replayed.
func (l *Ledger) UpdateOperation(ctx context.Context, actor Actor, id OperationID, p OperationPatch) (Operation, error) {
	if !actor.IsAdmin() {
		return Operation{}, unauthorized("updating operations")
	}
	defer l.writer()()
	unlock, err := l.lockOperation(id)
	if err != nil {
		return Operation{}, err
	}
	defer unlock()

	op, err := l.GetOperation(id)
	if err != nil {
		return Operation{}, err
	}
	spec, _ := l.catalog.Lookup(op.Type)
	wasCompleted := op.Status == StatusCompleted

	if err := l.applyPatch(spec, &op, p); err != nil {
		return Operation{}, err
	}
	op.UpdatedAt = l.now()
	op.settle()
	if wasCompleted {
		op.Status = StatusCompleted
	}

	l.mu.Lock()
	l.ops[op.ID] = op.clone()
	l.mu.Unlock()

	details := map[string]any{"operation_id": op.ID, "fields": p.fields(), "status": op.Status}
	if op.HasExecutions() {
		details["warning"] = warningNotReplayed
	}
	l.audit.Record(AuditOperationUpdate, details, actor.ID)

	l.persist(ctx, CollectionOperations, CollectionAuditLog)
	return op, nil
}

func (l *Ledger) applyPatch(spec TypeSpec, op *Operation, p OperationPatch) error {
	if p.Description != nil {
		op.Description = strings.TrimSpace(*p.Description)
	}
	if p.ClientID != nil {
		if *p.ClientID != "" {
			if _, ok := l.clients.Get(*p.ClientID); !ok {
				return &NotFoundError{Kind: "client", ID: string(*p.ClientID)}
			}
		}
		op.ClientID = *p.ClientID
	}
	if p.OwnerID != nil {
		op.OwnerID = *p.OwnerID
	}
	if p.Metadata != nil {
		op.Metadata = p.Metadata
	}

	if p.AmountIn != nil {
		if p.AmountIn.LessThan(op.ExecutedAmountIn) {
			return invalid("amount_in", "must not be below the executed %s", op.ExecutedAmountIn)
		}
		op.AmountIn = *p.AmountIn
	}
	if p.AmountOut != nil {
		if p.AmountOut.LessThan(op.ExecutedAmountOut) {
			return invalid("amount_out", "must not be below the executed %s", op.ExecutedAmountOut)
		}
		op.AmountOut = *p.AmountOut
	}
	if p.CurrencyIn != nil && *p.CurrencyIn != op.CurrencyIn {
		if op.ExecutedAmountIn.IsPositive() {
			return invalid("currency_in", "cannot change after executions")
		}
		op.CurrencyIn = *p.CurrencyIn
	}
	if p.CurrencyOut != nil && *p.CurrencyOut != op.CurrencyOut {
		if op.ExecutedAmountOut.IsPositive() {
			return invalid("currency_out", "cannot change after executions")
		}
		op.CurrencyOut = *p.CurrencyOut
	}
	if p.Rate != nil {
		if !spec.Transactional {
			return invalid("rate", "%s does not carry a rate", spec.Tag)
		}
		r := *p.Rate
		op.Rate = &r
	}

	// Re-check the nominal shape with the patched values.
	in, out := op.AmountIn, op.AmountOut
	_, err := l.shapeLegs(spec, CreateRequest{
		Type: spec.Tag, AmountIn: &in, AmountOut: &out,
		CurrencyIn: op.CurrencyIn, CurrencyOut: op.CurrencyOut, Rate: op.Rate,
	})
	return err
}

// DeleteOperation removes an operation. Admin only. Cash box effects of
// its executions stay in place; the audit log records a warning.
func (l *Ledger) DeleteOperation(ctx context.Context, actor Actor, id OperationID) error {
	if !actor.IsAdmin() {
		return unauthorized("deleting operations")
	}
	defer l.writer()()
	unlock, err := l.lockOperation(id)
	if err != nil {
		return err
	}
	defer unlock()

	op, err := l.GetOperation(id)
	if err != nil {
		return err
	}
	if op.HasExecutions() {
		l.audit.Record(AuditOperationDeletePartial, map[string]any{
			"operation_id":        op.ID,
			"status":              op.Status,
			"executed_amount_in":  op.ExecutedAmountIn.String(),
			"executed_amount_out": op.ExecutedAmountOut.String(),
			"warning":             warningNotReversed,
		}, actor.ID)
	}

	l.mu.Lock()
	delete(l.ops, id)
	delete(l.locks, id)
	l.mu.Unlock()

	l.audit.Record(AuditOperationDelete, map[string]any{"operation_id": op.ID, "type": op.Type}, actor.ID)
	l.persist(ctx, CollectionOperations, CollectionAuditLog)
	return nil
}

// =============================================================================
// CASH BOXES
// =============================================================================

// AdjustCashBoxBalance overwrites a balance and books a completed
// cash-adjustment operation for the delta. Admin only.
func (l *Ledger) AdjustCashBoxBalance(ctx context.Context, actor Actor, id CashBoxID, balance decimal.Decimal, reason string) (CashBox, error) {
	if !actor.IsAdmin() {
		return CashBox{}, unauthorized("adjusting cash box balances")
	}
	defer l.writer()()
	before, after, err := l.balances.Overwrite(id, balance)
	if err != nil {
		return CashBox{}, err
	}

	details := map[string]any{
		"cash_box_id": id,
		"name":        after.Name,
		"old_balance": before.Balance.String(),
		"new_balance": after.Balance.String(),
		"reason":      reason,
	}
	cols := []Collection{CollectionCashBoxes, CollectionAuditLog}

	if delta := after.Balance.Sub(before.Balance); !delta.IsZero() {
		op := l.adjustmentOperation(actor, after, delta, reason)
		l.mu.Lock()
		l.ops[op.ID] = op
		l.mu.Unlock()
		details["operation_id"] = op.ID
		cols = append(cols, CollectionOperations)
	}
	l.audit.Record(AuditCashBoxAdjust, details, actor.ID)

	l.persist(ctx, cols...)
	return after, nil
}

func (l *Ledger) adjustmentOperation(actor Actor, box CashBox, delta decimal.Decimal, reason string) Operation {
	now := l.now()
	exec := Execution{ID: ExecutionID(newID()), ExecutedAt: now, ExecutedBy: actor.ID}
	op := Operation{
		ID: OperationID(newID()), Type: TypeCashAdjustment,
		CreatedAt: now, UpdatedAt: now, UserID: actor.ID, OwnerID: actor.ID,
		Description: reason,
		Metadata:    map[string]string{"cash_box_id": string(box.ID), "reason": reason},
	}
	if delta.IsPositive() {
		op.AmountIn, op.CurrencyIn, op.ExecutedAmountIn = delta, box.Currency, delta
		exec.AmountIn, exec.CurrencyIn, exec.CashBoxInID = delta, box.Currency, box.ID
	} else {
		d := delta.Neg()
		op.AmountOut, op.CurrencyOut, op.ExecutedAmountOut = d, box.Currency, d
		exec.AmountOut, exec.CurrencyOut, exec.CashBoxOutID = d, box.Currency, box.ID
	}
	op.Executions = []Execution{exec}
	op.settle()
	return op
}

func (l *Ledger) CreateCashBox(ctx context.Context, actor Actor, b CashBox) (CashBox, error) {
	if !actor.IsAdmin() {
		return CashBox{}, unauthorized("creating cash boxes")
	}
	defer l.writer()()
	created, err := l.cashBoxes.Create(b)
	if err != nil {
		return CashBox{}, err
	}
	l.audit.Record(AuditCashBoxCreate, map[string]any{
		"cash_box_id": created.ID, "name": created.Name, "initial_balance": created.Balance.String(),
	}, actor.ID)
	l.persist(ctx, CollectionCashBoxes, CollectionAuditLog)
	return created, nil
}

func (l *Ledger) UpdateCashBox(ctx context.Context, actor Actor, id CashBoxID, p CashBoxPatch) (CashBox, error) {
	if !actor.IsAdmin() {
		return CashBox{}, unauthorized("updating cash boxes")
	}
	defer l.writer()()
	updated, err := l.cashBoxes.Update(id, p)
	if err != nil {
		return CashBox{}, err
	}
	l.audit.Record(AuditCashBoxConfigUpdate, map[string]any{"cash_box_id": id, "name": updated.Name}, actor.ID)
	l.persist(ctx, CollectionCashBoxes, CollectionAuditLog)
	return updated, nil
}

func (l *Ledger) DeleteCashBox(ctx context.Context, actor Actor, id CashBoxID) error {
	if !actor.IsAdmin() {
		return unauthorized("deleting cash boxes")
	}
	defer l.writer()()
	deleted, err := l.cashBoxes.Delete(id)
	if err != nil {
		return err
	}
	l.audit.Record(AuditCashBoxDelete, map[string]any{"cash_box_id": id, "name": deleted.Name}, actor.ID)
	l.persist(ctx, CollectionCashBoxes, CollectionAuditLog)
	return nil
}

// =============================================================================
// CLIENTS AND EXPENSE CATEGORIES
// =============================================================================

func (l *Ledger) AddClient(ctx context.Context, actor Actor, name string, metadata map[string]string) (Client, error) {
	if !actor.IsAdmin() {
		return Client{}, unauthorized("adding clients")
	}
	defer l.writer()()
	c, err := l.clients.Add(name, metadata)
	if err != nil {
		return Client{}, err
	}
	l.audit.Record(AuditClientCreate, map[string]any{"client_id": c.ID, "name": c.Name}, actor.ID)
	l.persist(ctx, CollectionClients, CollectionAuditLog)
	return c, nil
}

func (l *Ledger) UpdateClient(ctx context.Context, actor Actor, id ClientID, name *string, metadata map[string]string) (Client, error) {
	if !actor.IsAdmin() {
		return Client{}, unauthorized("updating clients")
	}
	defer l.writer()()
	c, err := l.clients.Update(id, name, metadata)
	if err != nil {
		return Client{}, err
	}
	l.audit.Record(AuditClientUpdate, map[string]any{"client_id": c.ID, "name": c.Name}, actor.ID)
	l.persist(ctx, CollectionClients, CollectionAuditLog)
	return c, nil
}

func (l *Ledger) DeleteClient(ctx context.Context, actor Actor, id ClientID) error {
	if !actor.IsAdmin() {
		return unauthorized("deleting clients")
	}
	defer l.writer()()
	c, err := l.clients.Delete(id)
	if err != nil {
		return err
	}
	l.audit.Record(AuditClientDelete, map[string]any{"client_id": c.ID, "name": c.Name}, actor.ID)
	l.persist(ctx, CollectionClients, CollectionAuditLog)
	return nil
}

// AddExpenseCategory marks an operation type as an expense. Adding a tag
// that is already present is a silent no-op.
func (l *Ledger) AddExpenseCategory(ctx context.Context, actor Actor, tag OperationType) error {
	if !actor.IsAdmin() {
		return unauthorized("managing expense categories")
	}
	defer l.writer()()
	if _, ok := l.catalog.Lookup(tag); !ok {
		return invalid("tag", "unknown operation type %q", tag)
	}
	if !l.categories.Add(tag) {
		return nil
	}
	l.audit.Record(AuditExpenseCategoryAdd, map[string]any{"tag": tag}, actor.ID)
	l.persist(ctx, CollectionExpenseCategories, CollectionAuditLog)
	return nil
}

// RemoveExpenseCategory is a silent no-op for an absent tag.
func (l *Ledger) RemoveExpenseCategory(ctx context.Context, actor Actor, tag OperationType) error {
	if !actor.IsAdmin() {
		return unauthorized("managing expense categories")
	}
	defer l.writer()()
	if !l.categories.Remove(tag) {
		return nil
	}
	l.audit.Record(AuditExpenseCategoryRemove, map[string]any{"tag": tag}, actor.ID)
	l.persist(ctx, CollectionExpenseCategories, CollectionAuditLog)
	return nil
}

// =============================================================================
// RESET
// =============================================================================

// ResetAllData wipes operations, clients and the audit log and re-seeds the
// cash boxes at zero balance. Irreversible; meant for non-production use.
func (l *Ledger) ResetAllData(ctx context.Context, actor Actor) error {
	if !actor.IsAdmin() {
		return unauthorized("resetting data")
	}
	l.gate.Lock()
	defer l.gate.Unlock()

	l.mu.Lock()
	l.ops = make(map[OperationID]Operation)
	l.locks = make(map[OperationID]*sync.Mutex)
	l.mu.Unlock()

	l.clients.Replace(nil)
	l.audit.Replace(nil)
	l.cashBoxes.Replace(l.seedBoxes())
	l.audit.Record(AuditDataReset, nil, actor.ID)

	return l.Flush(ctx)
}
