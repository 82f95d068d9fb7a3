package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cambio-ledger/ledger"
)

func TestSolve_MultiplicativeQuote(t *testing.T) {
	tests := []struct {
		name     string
		in       ledger.RateInput
		derived  ledger.Field
		wantIn   string
		wantOut  string
		wantRate string
	}{
		{
			name:    "sell: amountIn drives amountOut",
			in:      ledger.RateInput{Driver: ledger.FieldAmountIn, AmountIn: dp("1000"), Rate: dp("350"), Direction: ledger.DirectionSell},
			derived: ledger.FieldAmountOut, wantIn: "1000", wantOut: "350000", wantRate: "350",
		},
		{
			name:    "sell: amountOut drives amountIn",
			in:      ledger.RateInput{Driver: ledger.FieldAmountOut, AmountOut: dp("350000"), Rate: dp("350"), Direction: ledger.DirectionSell},
			derived: ledger.FieldAmountIn, wantIn: "1000", wantOut: "350000", wantRate: "350",
		},
		{
			name:    "sell: both amounts derive rate",
			in:      ledger.RateInput{Driver: ledger.FieldAmountOut, AmountIn: dp("1000"), AmountOut: dp("350000"), Direction: ledger.DirectionSell},
			derived: ledger.FieldRate, wantIn: "1000", wantOut: "350000", wantRate: "350",
		},
		{
			name:    "buy: amountIn drives amountOut by division",
			in:      ledger.RateInput{Driver: ledger.FieldAmountIn, AmountIn: dp("350000"), Rate: dp("350"), Direction: ledger.DirectionBuy},
			derived: ledger.FieldAmountOut, wantIn: "350000", wantOut: "1000", wantRate: "350",
		},
		{
			name:    "buy: both amounts derive rate as in/out",
			in:      ledger.RateInput{Driver: ledger.FieldAmountIn, AmountIn: dp("350000"), AmountOut: dp("1000"), Direction: ledger.DirectionBuy},
			derived: ledger.FieldRate, wantIn: "350000", wantOut: "1000", wantRate: "350",
		},
		{
			name:    "rate driver recomputes amountOut from amountIn",
			in:      ledger.RateInput{Driver: ledger.FieldRate, AmountIn: dp("10"), AmountOut: dp("1"), Rate: dp("3.3333"), Direction: ledger.DirectionSell},
			derived: ledger.FieldAmountOut, wantIn: "10", wantOut: "33.33", wantRate: "3.3333",
		},
		{
			name:    "rate is rounded to four places",
			in:      ledger.RateInput{Driver: ledger.FieldAmountIn, AmountIn: dp("3"), AmountOut: dp("1"), Direction: ledger.DirectionSell},
			derived: ledger.FieldRate, wantIn: "3", wantOut: "1", wantRate: "0.3333",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Kind = ledger.RateMultiplicativeQuote
			res, err := ledger.Solve(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.derived, res.Derived)
			require.NotNil(t, res.AmountIn)
			require.NotNil(t, res.AmountOut)
			require.NotNil(t, res.Rate)
			assertAmount(t, tt.wantIn, *res.AmountIn)
			assertAmount(t, tt.wantOut, *res.AmountOut)
			assertAmount(t, tt.wantRate, *res.Rate)
		})
	}
}

func TestSolve_RoundTrip(t *testing.T) {
	// GIVEN: 1000 × 350 derived forward
	// WHEN: Solving back from both amounts
	// THEN: The rate is 350.0000
	fwd, err := ledger.Solve(ledger.RateInput{
		Driver: ledger.FieldAmountIn, AmountIn: dp("1000"), Rate: dp("350"),
		Direction: ledger.DirectionSell, Kind: ledger.RateMultiplicativeQuote,
	})
	require.NoError(t, err)

	back, err := ledger.Solve(ledger.RateInput{
		Driver: ledger.FieldAmountOut, AmountIn: fwd.AmountIn, AmountOut: fwd.AmountOut,
		Direction: ledger.DirectionSell, Kind: ledger.RateMultiplicativeQuote,
	})
	require.NoError(t, err)
	assert.Equal(t, "350.0000", back.Rate.StringFixed(4))
}

func TestSolve_PercentageFee(t *testing.T) {
	fee := func(in ledger.RateInput) ledger.RateResult {
		in.Kind = ledger.RatePercentageFee
		res, err := ledger.Solve(in)
		require.NoError(t, err)
		return res
	}

	res := fee(ledger.RateInput{Driver: ledger.FieldAmountIn, AmountIn: dp("100"), Rate: dp("2.5")})
	assertAmount(t, "102.5", *res.AmountOut)

	res = fee(ledger.RateInput{Driver: ledger.FieldAmountOut, AmountOut: dp("102.5"), Rate: dp("2.5")})
	assertAmount(t, "100", *res.AmountIn)

	res = fee(ledger.RateInput{Driver: ledger.FieldAmountIn, AmountIn: dp("100"), Rate: dp("-1.5")})
	assertAmount(t, "98.5", *res.AmountOut)

	res = fee(ledger.RateInput{Driver: ledger.FieldAmountIn, AmountIn: dp("200"), AmountOut: dp("205")})
	assert.Equal(t, ledger.FieldRate, res.Derived)
	assertAmount(t, "2.5", *res.Rate)

	// Direction is irrelevant for fees.
	res = fee(ledger.RateInput{Driver: ledger.FieldAmountIn, AmountIn: dp("100"), Rate: dp("2.5"), Direction: ledger.DirectionBuy})
	assertAmount(t, "102.5", *res.AmountOut)
}

func TestSolve_InsufficientInputDerivesNothing(t *testing.T) {
	tests := []ledger.RateInput{
		{Driver: ledger.FieldAmountIn, AmountIn: dp("100"), Direction: ledger.DirectionSell},
		{Driver: ledger.FieldAmountIn, AmountIn: dp("100"), Rate: dp("0"), Direction: ledger.DirectionSell},
		{Driver: ledger.FieldAmountOut, AmountIn: dp("0"), AmountOut: dp("5"), Direction: ledger.DirectionSell},
		{Driver: ledger.FieldRate, Rate: dp("350"), Direction: ledger.DirectionBuy},
	}
	for _, in := range tests {
		in.Kind = ledger.RateMultiplicativeQuote
		res, err := ledger.Solve(in)
		require.NoError(t, err)
		assert.Equal(t, ledger.Field(""), res.Derived)
	}
}

func TestSolve_Errors(t *testing.T) {
	_, err := ledger.Solve(ledger.RateInput{Driver: "volume", Kind: ledger.RatePercentageFee})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = ledger.Solve(ledger.RateInput{Driver: ledger.FieldRate, Kind: "spread"})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = ledger.Solve(ledger.RateInput{Driver: ledger.FieldRate, Kind: ledger.RateMultiplicativeQuote})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}
