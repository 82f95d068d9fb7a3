/*
catalog.go - Typed registry of operation types

PURPOSE:
  Every operation carries a type tag ("venta_divisa_ars", "sueldos", ...).
  The tag decides how the operation is validated and executed: which legs
  it has, whether it carries a rate, which side of the trade the desk is
  on, and which currencies each leg may use. Those behaviour flags live
  here as data, validated once when the catalog is built.

KEY TYPES:
  FlowShape:    in | out | in_out | in_out_selectable
  RateKind:     multiplicative_quote | percentage_fee (transactional only)
  Direction:    sell | buy (which way the multiplicative quote applies)
  CurrencyPair: Allowed currency class for the in and out legs

DIRECTION:
  For transactional types without an explicit direction the tag prefix
  decides: "venta_" is the sell side, "compra_" the buy side.

SEE ALSO:
  - rate.go: Uses Direction and RateKind
  - ledger.go: Validates Create against the TypeSpec
*/
package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// ENUMS
// =============================================================================

type OperationType string

type FlowShape string

const (
	FlowIn              FlowShape = "in"
	FlowOut             FlowShape = "out"
	FlowInOut           FlowShape = "in_out"
	FlowInOutSelectable FlowShape = "in_out_selectable"
)

func (f FlowShape) valid() bool {
	switch f {
	case FlowIn, FlowOut, FlowInOut, FlowInOutSelectable:
		return true
	}
	return false
}

type RateKind string

const (
	RateNone                RateKind = ""
	RateMultiplicativeQuote RateKind = "multiplicative_quote"
	RatePercentageFee       RateKind = "percentage_fee"
)

type Direction string

const (
	DirectionNone Direction = ""
	DirectionSell Direction = "sell"
	DirectionBuy  Direction = "buy"
)

type Category string

const (
	CategoryTransaction Category = "transaction"
	CategoryCable       Category = "cable"
	CategoryExpense     Category = "expense"
	CategorySociety     Category = "society"
	CategoryInvestment  Category = "investment"
	CategoryAdjustment  Category = "adjustment"
	CategoryAdmin       Category = "admin"
)

// CashEffect classifies a type as a real inflow or outflow of the business,
// as opposed to an exchange between currencies.
type CashEffect string

const (
	CashNeutral CashEffect = ""
	CashInflow  CashEffect = "inflow"
	CashOutflow CashEffect = "outflow"
)

// =============================================================================
// CURRENCY CLASSES
// =============================================================================

// CurrencyClass is either a concrete currency code or one of the named groups.
type CurrencyClass string

const (
	ClassAny                     CurrencyClass = "any"
	ClassForeignExcludingUSDT    CurrencyClass = "foreign_excluding_usdt"
	ClassForeignExcludingUSDTUSD CurrencyClass = "foreign_excluding_usdt_usd"
)

// Allows reports whether c is a member of the class.
func (k CurrencyClass) Allows(c Currency) bool {
	if !c.Valid() {
		return false
	}
	switch k {
	case ClassAny, "":
		return true
	case ClassForeignExcludingUSDT:
		return c != ARS && c != USDT
	case ClassForeignExcludingUSDTUSD:
		return c != ARS && c != USDT && c != USD
	default:
		return Currency(k) == c
	}
}

func (k CurrencyClass) valid() bool {
	switch k {
	case ClassAny, ClassForeignExcludingUSDT, ClassForeignExcludingUSDTUSD:
		return true
	}
	return Currency(k).Valid()
}

// CurrencyPair constrains the in and out legs of an operation.
type CurrencyPair struct {
	In  CurrencyClass
	Out CurrencyClass
}

// =============================================================================
// TYPE SPEC
// =============================================================================

// TypeSpec is the static behaviour of one operation type.
type TypeSpec struct {
	Tag           OperationType
	Label         string
	Category      Category
	Flow          FlowShape
	Transactional bool
	Rate          RateKind
	Direction     Direction
	Pair          CurrencyPair
	Cable         bool
	AdminOnly     bool
	Cash          CashEffect
}

// RequiresRate reports whether a zero rate is rejected on create.
func (s TypeSpec) RequiresRate() bool {
	return s.Transactional && s.Rate == RateMultiplicativeQuote && !s.Cable
}

// RequiresDistinctCurrencies reports whether in and out must differ.
func (s TypeSpec) RequiresDistinctCurrencies() bool {
	return s.Transactional && !s.Cable
}

func (s TypeSpec) validate() error {
	if s.Tag == "" {
		return fmt.Errorf("catalog: empty type tag")
	}
	if !s.Flow.valid() {
		return fmt.Errorf("catalog: %s: invalid flow %q", s.Tag, s.Flow)
	}
	if s.Transactional {
		if s.Flow != FlowInOut {
			return fmt.Errorf("catalog: %s: transactional types must be in_out", s.Tag)
		}
		if s.Rate != RateMultiplicativeQuote && s.Rate != RatePercentageFee {
			return fmt.Errorf("catalog: %s: transactional types need a rate kind", s.Tag)
		}
		if s.Direction != DirectionSell && s.Direction != DirectionBuy {
			return fmt.Errorf("catalog: %s: transactional types need a direction", s.Tag)
		}
		if !s.Pair.In.valid() || !s.Pair.Out.valid() {
			return fmt.Errorf("catalog: %s: invalid currency pair %v", s.Tag, s.Pair)
		}
	} else if s.Rate != RateNone {
		return fmt.Errorf("catalog: %s: only transactional types carry a rate", s.Tag)
	}
	if s.Cable && !s.Transactional {
		return fmt.Errorf("catalog: %s: cable types must be transactional", s.Tag)
	}
	return nil
}

// directionFromTag derives the trade side from the tag prefix.
func directionFromTag(tag OperationType) Direction {
	switch {
	case strings.HasPrefix(string(tag), "venta_"):
		return DirectionSell
	case strings.HasPrefix(string(tag), "compra_"):
		return DirectionBuy
	}
	return DirectionNone
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog maps type tags to their TypeSpec. It is immutable once built.
type Catalog struct {
	specs map[OperationType]TypeSpec
	order []OperationType
}

// NewCatalog validates the specs and builds a catalog.
func NewCatalog(specs ...TypeSpec) (*Catalog, error) {
	c := &Catalog{specs: make(map[OperationType]TypeSpec, len(specs))}
	for _, s := range specs {
		if s.Transactional && s.Direction == DirectionNone {
			s.Direction = directionFromTag(s.Tag)
		}
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.specs[s.Tag]; dup {
			return nil, fmt.Errorf("catalog: duplicate type %s", s.Tag)
		}
		c.specs[s.Tag] = s
		c.order = append(c.order, s.Tag)
	}
	return c, nil
}

// Lookup returns the spec for a tag.
func (c *Catalog) Lookup(tag OperationType) (TypeSpec, bool) {
	s, ok := c.specs[tag]
	return s, ok
}

// All returns every spec in declaration order.
func (c *Catalog) All() []TypeSpec {
	out := make([]TypeSpec, 0, len(c.order))
	for _, tag := range c.order {
		out = append(out, c.specs[tag])
	}
	return out
}

// Available returns the specs the actor may create, grouped by category.
func (c *Catalog) Available(actor Actor) []TypeSpec {
	var out []TypeSpec
	for _, s := range c.All() {
		if s.AdminOnly && !actor.IsAdmin() {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return categoryRank(out[i].Category) < categoryRank(out[j].Category)
	})
	return out
}

var categoryOrder = []Category{
	CategoryTransaction, CategoryCable, CategoryExpense, CategorySociety,
	CategoryInvestment, CategoryAdjustment, CategoryAdmin,
}

func categoryRank(c Category) int {
	for i, k := range categoryOrder {
		if k == c {
			return i
		}
	}
	return len(categoryOrder)
}

// =============================================================================
// DEFAULT CATALOG
// =============================================================================

const (
	TypeCashAdjustment OperationType = "ajuste_caja"
	TypeOpeningEntry   OperationType = "asiento_base"
	TypePettyCash      OperationType = "caja_chica"
)

func trade(tag OperationType, label string, rate RateKind, in, out CurrencyClass) TypeSpec {
	return TypeSpec{
		Tag: tag, Label: label, Category: CategoryTransaction, Flow: FlowInOut,
		Transactional: true, Rate: rate, Pair: CurrencyPair{In: in, Out: out},
	}
}

func simple(tag OperationType, label string, cat Category, flow FlowShape, cash CashEffect) TypeSpec {
	return TypeSpec{Tag: tag, Label: label, Category: cat, Flow: flow, Cash: cash}
}

// DefaultSpecs is the desk's operation catalog.
func DefaultSpecs() []TypeSpec {
	mq, pf := RateMultiplicativeQuote, RatePercentageFee
	ars, usd, usdt := CurrencyClass(ARS), CurrencyClass(USD), CurrencyClass(USDT)

	specs := []TypeSpec{
		trade("compra_divisa_ars", "Compra Divisa (con ARS)", mq, ars, ClassForeignExcludingUSDT),
		trade("venta_divisa_ars", "Venta Divisa (a ARS)", mq, ClassForeignExcludingUSDT, ars),
		trade("compra_divisa_usd", "Compra Otra Divisa (con USD)", mq, usd, ClassForeignExcludingUSDTUSD),
		trade("venta_divisa_usd", "Venta Otra Divisa (a USD)", mq, ClassForeignExcludingUSDTUSD, usd),
		trade("compra_usdt_ars", "Compra USDT (con ARS)", pf, ars, usdt),
		trade("venta_usdt_ars", "Venta USDT (a ARS)", pf, usdt, ars),
		trade("compra_usdt_usd", "Compra USDT (con USD)", pf, usd, usdt),
		trade("venta_usdt_usd", "Venta USDT (a USD)", pf, usdt, usd),
		{
			Tag: "envio_cable_usd", Label: "Envío Cable (USD)", Category: CategoryCable,
			Flow: FlowInOut, Transactional: true, Rate: pf, Direction: DirectionSell,
			Pair: CurrencyPair{In: usd, Out: usd}, Cable: true,
		},
		{
			Tag: "recepcion_cable_usd", Label: "Recepción Cable (USD)", Category: CategoryCable,
			Flow: FlowInOut, Transactional: true, Rate: pf, Direction: DirectionBuy,
			Pair: CurrencyPair{In: usd, Out: usd}, Cable: true,
		},

		simple(TypePettyCash, "Movimiento Caja Chica", CategoryAdjustment, FlowInOutSelectable, CashNeutral),

		simple("sueldos", "Sueldos", CategoryExpense, FlowOut, CashNeutral),
		simple("alquileres_pagados", "Alquileres Pagados", CategoryExpense, FlowOut, CashNeutral),
		simple("gastos_varios", "Gastos Varios", CategoryExpense, FlowOut, CashNeutral),
		simple("costos_fijos", "Costos Fijos", CategoryExpense, FlowOut, CashNeutral),

		simple("prestamo_otorgado", "Préstamo Otorgado", CategorySociety, FlowOut, CashOutflow),
		simple("prestamo_recibido", "Préstamo Recibido", CategorySociety, FlowIn, CashInflow),
		simple("comision_ganada", "Comisión Ganada", CategorySociety, FlowIn, CashInflow),
		simple("comision_pagada", "Comisión Pagada", CategorySociety, FlowOut, CashOutflow),
		simple("pago_deuda", "Pago Deuda", CategorySociety, FlowOut, CashOutflow),
		simple("cobro_deuda", "Cobro Deuda", CategorySociety, FlowIn, CashInflow),
		simple("dividendos_pagados", "Dividendos Pagados", CategorySociety, FlowOut, CashOutflow),
		simple("dividendos_recibidos", "Dividendos Recibidos", CategorySociety, FlowIn, CashInflow),
		simple("aporte_capital", "Aporte de Capital", CategorySociety, FlowIn, CashInflow),
		simple("retiro_capital", "Retiro de Capital", CategorySociety, FlowOut, CashOutflow),

		simple("inversion_realizada", "Inversión Realizada", CategoryInvestment, FlowOut, CashOutflow),
		simple("inversion_retorno", "Retorno Inversión", CategoryInvestment, FlowIn, CashInflow),

		simple("otro_ingreso", "Otro Ingreso", CategoryAdjustment, FlowIn, CashInflow),
		simple("otro_egreso", "Otro Egreso", CategoryAdjustment, FlowOut, CashOutflow),
	}

	opening := simple(TypeOpeningEntry, "Asiento Base / Constitución", CategoryAdmin, FlowIn, CashNeutral)
	opening.AdminOnly = true
	adjust := simple(TypeCashAdjustment, "Ajuste de Caja", CategoryAdmin, FlowInOutSelectable, CashNeutral)
	adjust.AdminOnly = true

	return append(specs, opening, adjust)
}

// DefaultCatalog builds the catalog from DefaultSpecs. It panics on an
// invalid spec since the specs are compiled in.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultSpecs()...)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultExpenseCategories are the type tags reported as expenses out of the box.
var DefaultExpenseCategories = []OperationType{
	"sueldos", "alquileres_pagados", "gastos_varios", "costos_fijos",
}
