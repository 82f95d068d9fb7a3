/*
rate.go - Bidirectional amount/rate calculator

PURPOSE:
  A transactional operation relates its two legs through a rate. Given the
  field the operator just edited (the driver) and whatever else is known,
  Solve derives exactly one of the other fields. It is a pure function:
  no state, no I/O, callers invoke it explicitly after each edit.

MULTIPLICATIVE QUOTE:
  sell side:  amountOut = amountIn × rate     rate = amountOut / amountIn
  buy side:   amountOut = amountIn / rate     rate = amountIn / amountOut

PERCENTAGE FEE (direction does not matter, rate may be negative):
  amountOut = amountIn × (1 + rate/100)
  amountIn  = amountOut / (1 + rate/100)
  rate      = (amountOut/amountIn − 1) × 100

DRIVER RULES:
  driver amount_in  + rate known   → amount_out
  driver amount_out + rate known   → amount_in
  driver rate       + amount_in    → amount_out (else amount_out → amount_in)
  driver amount_*   + no usable rate + both amounts → rate

ROUNDING:
  Amounts to 2 places, rates to 4 places. Divisions by (near) zero derive
  nothing.

EXAMPLE:
  res, _ := Solve(RateInput{Driver: FieldAmountIn, AmountIn: d(1000),
      Rate: d(350), Direction: DirectionSell, Kind: RateMultiplicativeQuote})
  // *res.AmountOut == 350000
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

type Field string

const (
	FieldAmountIn  Field = "amount_in"
	FieldAmountOut Field = "amount_out"
	FieldRate      Field = "rate"
)

// RateInput is what the operator has entered so far. Nil means unknown.
type RateInput struct {
	Driver    Field
	AmountIn  *decimal.Decimal
	AmountOut *decimal.Decimal
	Rate      *decimal.Decimal
	Direction Direction
	Kind      RateKind
}

// RateResult echoes the inputs with at most one field derived.
type RateResult struct {
	AmountIn  *decimal.Decimal
	AmountOut *decimal.Decimal
	Rate      *decimal.Decimal
	Derived   Field // empty when nothing could be derived
}

var (
	hundred        = decimal.NewFromInt(100)
	divisorEpsilon = decimal.New(1, -9)
)

func usable(d *decimal.Decimal) bool { return d != nil && d.Abs().GreaterThan(divisorEpsilon) }

// Solve derives the missing field. It only fails on an unknown driver or
// rate kind; insufficient input yields a result with Derived == "".
func Solve(in RateInput) (RateResult, error) {
	res := RateResult{AmountIn: in.AmountIn, AmountOut: in.AmountOut, Rate: in.Rate}

	switch in.Driver {
	case FieldAmountIn, FieldAmountOut, FieldRate:
	default:
		return res, invalid("driver", "unknown field %q", in.Driver)
	}

	switch in.Kind {
	case RateMultiplicativeQuote:
		if in.Direction != DirectionSell && in.Direction != DirectionBuy {
			return res, invalid("direction", "multiplicative quote needs sell or buy, got %q", in.Direction)
		}
		solveQuote(in, &res)
	case RatePercentageFee:
		solveFee(in, &res)
	default:
		return res, invalid("rate_type", "unknown rate kind %q", in.Kind)
	}
	return res, nil
}

func solveQuote(in RateInput, res *RateResult) {
	sell := in.Direction == DirectionSell
	outFromIn := func(a, r decimal.Decimal) decimal.Decimal {
		if sell {
			return a.Mul(r)
		}
		return a.Div(r)
	}
	inFromOut := func(b, r decimal.Decimal) decimal.Decimal {
		if sell {
			return b.Div(r)
		}
		return b.Mul(r)
	}

	switch {
	case in.Driver == FieldAmountIn && in.AmountIn != nil && usable(in.Rate):
		res.setOut(outFromIn(*in.AmountIn, *in.Rate))
	case in.Driver == FieldAmountOut && in.AmountOut != nil && usable(in.Rate):
		res.setIn(inFromOut(*in.AmountOut, *in.Rate))
	case in.Driver == FieldRate && usable(in.Rate):
		if in.AmountIn != nil {
			res.setOut(outFromIn(*in.AmountIn, *in.Rate))
		} else if in.AmountOut != nil {
			res.setIn(inFromOut(*in.AmountOut, *in.Rate))
		}
	case in.Driver != FieldRate && usable(in.AmountIn) && usable(in.AmountOut):
		if sell {
			res.setRate(in.AmountOut.Div(*in.AmountIn))
		} else {
			res.setRate(in.AmountIn.Div(*in.AmountOut))
		}
	}
}

func solveFee(in RateInput, res *RateResult) {
	factor := func(r decimal.Decimal) decimal.Decimal { return decimal.NewFromInt(1).Add(r.Div(hundred)) }

	switch {
	case in.Driver == FieldAmountIn && in.AmountIn != nil && in.Rate != nil:
		res.setOut(in.AmountIn.Mul(factor(*in.Rate)))
	case in.Driver == FieldAmountOut && in.AmountOut != nil && in.Rate != nil:
		if f := factor(*in.Rate); usable(&f) {
			res.setIn(in.AmountOut.Div(f))
		}
	case in.Driver == FieldRate && in.Rate != nil:
		if in.AmountIn != nil {
			res.setOut(in.AmountIn.Mul(factor(*in.Rate)))
		} else if in.AmountOut != nil {
			if f := factor(*in.Rate); usable(&f) {
				res.setIn(in.AmountOut.Div(f))
			}
		}
	case in.Driver != FieldRate && usable(in.AmountIn) && in.AmountOut != nil:
		res.setRate(in.AmountOut.Div(*in.AmountIn).Sub(decimal.NewFromInt(1)).Mul(hundred))
	}
}

func (r *RateResult) setIn(d decimal.Decimal) {
	v := roundMoney(d)
	r.AmountIn, r.Derived = &v, FieldAmountIn
}

func (r *RateResult) setOut(d decimal.Decimal) {
	v := roundMoney(d)
	r.AmountOut, r.Derived = &v, FieldAmountOut
}

func (r *RateResult) setRate(d decimal.Decimal) {
	v := roundRate(d)
	r.Rate, r.Derived = &v, FieldRate
}

// SolveFor runs Solve with the direction and rate kind of an operation type.
func (c *Catalog) SolveFor(tag OperationType, in RateInput) (RateResult, error) {
	spec, ok := c.Lookup(tag)
	if !ok {
		return RateResult{}, invalid("type", "unknown operation type %q", tag)
	}
	if !spec.Transactional {
		return RateResult{}, invalid("type", "%s does not carry a rate", tag)
	}
	in.Direction, in.Kind = spec.Direction, spec.Rate
	return Solve(in)
}
