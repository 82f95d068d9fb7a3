package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cambio-ledger/ledger"
	"github.com/warp/cambio-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	admin = ledger.Actor{ID: "admin-1", Role: ledger.RoleAdmin}
	user  = ledger.Actor{ID: "user-1", Role: ledger.RoleUser}
)

// tickClock advances one second per call so creation order is stable.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newClock() *tickClock {
	return &tickClock{t: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

func newTestLedger(t *testing.T) (*ledger.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	l := ledger.New(mem, ledger.Options{Clock: newClock().Now})
	require.NoError(t, l.Load(context.Background()))
	return l, mem
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func balanceOf(t *testing.T, l *ledger.Ledger, id ledger.CashBoxID) decimal.Decimal {
	t.Helper()
	b, err := l.GetCashBox(id)
	require.NoError(t, err)
	return b.Balance
}

func fund(t *testing.T, l *ledger.Ledger, id ledger.CashBoxID, amount string) {
	t.Helper()
	_, err := l.AdjustCashBoxBalance(context.Background(), admin, id, d(amount), "test funding")
	require.NoError(t, err)
}

// sellUSD books 1000 USD sold for ARS at 350.
func sellUSD(t *testing.T, l *ledger.Ledger) ledger.Operation {
	t.Helper()
	op, err := l.CreateOperation(context.Background(), admin, ledger.CreateRequest{
		Type:        "venta_divisa_ars",
		AmountIn:    dp("1000"),
		CurrencyIn:  ledger.USD,
		CurrencyOut: ledger.ARS,
		Rate:        dp("350"),
	})
	require.NoError(t, err)
	return op
}

func loanReceived(t *testing.T, l *ledger.Ledger, amount string, c ledger.Currency) ledger.Operation {
	t.Helper()
	op, err := l.CreateOperation(context.Background(), admin, ledger.CreateRequest{
		Type:       "prestamo_recibido",
		AmountIn:   dp(amount),
		CurrencyIn: c,
	})
	require.NoError(t, err)
	return op
}

func auditCount(t *testing.T, l *ledger.Ledger, action ledger.AuditAction) int {
	t.Helper()
	entries, err := l.ListAuditLog(admin, ledger.AuditFilter{Actions: []ledger.AuditAction{action}})
	require.NoError(t, err)
	return len(entries)
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_TradeDerivesMissingAmount(t *testing.T) {
	// GIVEN: A sell trade with amountIn and rate only
	// WHEN: Creating it
	// THEN: amountOut = 1000 × 350 and the operation is pending
	l, _ := newTestLedger(t)

	op := sellUSD(t, l)

	assertAmount(t, "350000", op.AmountOut)
	assertAmount(t, "350", *op.Rate)
	assert.Equal(t, ledger.RateMultiplicativeQuote, op.RateType)
	assert.Equal(t, ledger.StatusPending, op.Status)
	assertAmount(t, "1000", op.RemainingAmountIn)
	assertAmount(t, "350000", op.RemainingAmountOut)
	assert.Equal(t, admin.ID, op.OwnerID)
	assert.Empty(t, op.Executions)
}

func TestCreate_ValidationFailures(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ledger.CreateRequest
	}{
		{"unknown type", ledger.CreateRequest{Type: "trueque", AmountIn: dp("10"), CurrencyIn: ledger.ARS}},
		{"negative amount", ledger.CreateRequest{Type: "prestamo_recibido", AmountIn: dp("-5"), CurrencyIn: ledger.ARS}},
		{"zero amount", ledger.CreateRequest{Type: "prestamo_recibido", AmountIn: dp("0"), CurrencyIn: ledger.ARS}},
		{"outflow with incoming amount", ledger.CreateRequest{Type: "sueldos", AmountIn: dp("10"), CurrencyIn: ledger.ARS}},
		{"unsupported currency", ledger.CreateRequest{Type: "prestamo_recibido", AmountIn: dp("10"), CurrencyIn: "JPY"}},
		{"selectable with both legs", ledger.CreateRequest{
			Type: "caja_chica", AmountIn: dp("10"), CurrencyIn: ledger.ARS, AmountOut: dp("10"), CurrencyOut: ledger.ARS,
		}},
		{"quote with zero rate", ledger.CreateRequest{
			Type: "venta_divisa_ars", AmountIn: dp("10"), CurrencyIn: ledger.USD,
			AmountOut: dp("3500"), CurrencyOut: ledger.ARS, Rate: dp("0"),
		}},
		{"quote with negative rate", ledger.CreateRequest{
			Type: "venta_divisa_ars", AmountIn: dp("10"), CurrencyIn: ledger.USD, CurrencyOut: ledger.ARS, Rate: dp("-1"),
		}},
		{"fee of minus one hundred percent derives nothing", ledger.CreateRequest{
			Type: "compra_usdt_ars", CurrencyIn: ledger.ARS, AmountOut: dp("100"), CurrencyOut: ledger.USDT, Rate: dp("-100"),
		}},
		{"fee below minus one hundred percent", ledger.CreateRequest{
			Type: "compra_usdt_ars", AmountIn: dp("100"), CurrencyIn: ledger.ARS, CurrencyOut: ledger.USDT, Rate: dp("-150"),
		}},
		{"currency outside pair", ledger.CreateRequest{
			Type: "venta_divisa_ars", AmountIn: dp("10"), CurrencyIn: ledger.ARS, CurrencyOut: ledger.ARS, Rate: dp("1"),
		}},
		{"usdt not allowed in fiat trade", ledger.CreateRequest{
			Type: "compra_divisa_ars", AmountIn: dp("10"), CurrencyIn: ledger.ARS, CurrencyOut: ledger.USDT, Rate: dp("1"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.CreateOperation(ctx, admin, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ledger.ErrValidation)
			assert.True(t, ledger.IsClientError(err))
		})
	}
	assert.Empty(t, l.ListOperations(ledger.OperationFilter{}))
}

func TestCreate_CableAllowsSameCurrencyAndZeroRate(t *testing.T) {
	l, _ := newTestLedger(t)

	op, err := l.CreateOperation(context.Background(), user, ledger.CreateRequest{
		Type: "envio_cable_usd", AmountIn: dp("1000"), CurrencyIn: ledger.USD,
		AmountOut: dp("1000"), CurrencyOut: ledger.USD, Rate: dp("0"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.RatePercentageFee, op.RateType)
}

func TestCreate_FeeTradeDerivesAmountOut(t *testing.T) {
	// GIVEN: 100 ARS at 2.5% fee
	// THEN: amountOut = 102.5
	l, _ := newTestLedger(t)

	op, err := l.CreateOperation(context.Background(), user, ledger.CreateRequest{
		Type: "compra_usdt_ars", AmountIn: dp("100"), CurrencyIn: ledger.ARS,
		CurrencyOut: ledger.USDT, Rate: dp("2.5"),
	})
	require.NoError(t, err)
	assertAmount(t, "102.5", op.AmountOut)
}

func TestCreate_NonTransactionalClearsUnusedLeg(t *testing.T) {
	l, _ := newTestLedger(t)

	op, err := l.CreateOperation(context.Background(), user, ledger.CreateRequest{
		Type: "caja_chica", AmountOut: dp("50"), CurrencyOut: ledger.ARS, CurrencyIn: ledger.USD,
		Rate: dp("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.Currency(""), op.CurrencyIn)
	assert.Nil(t, op.Rate)
	assertAmount(t, "0", op.RemainingAmountIn)
}

func TestCreate_AdminOnlyTypeRequiresAdmin(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	req := ledger.CreateRequest{Type: ledger.TypeOpeningEntry, AmountIn: dp("5000"), CurrencyIn: ledger.USD}

	_, err := l.CreateOperation(ctx, user, req)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = l.CreateOperation(ctx, admin, req)
	assert.NoError(t, err)
}

func TestCreate_ImplicitClientIsReusedCaseInsensitively(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.CreateOperation(ctx, user, ledger.CreateRequest{
		Type: "prestamo_otorgado", AmountOut: dp("100"), CurrencyOut: ledger.USD, NewClientName: "Juan Perez",
	})
	require.NoError(t, err)
	second, err := l.CreateOperation(ctx, user, ledger.CreateRequest{
		Type: "cobro_deuda", AmountIn: dp("100"), CurrencyIn: ledger.USD, NewClientName: "  juan perez ",
	})
	require.NoError(t, err)

	require.NotEmpty(t, first.ClientID)
	assert.Equal(t, first.ClientID, second.ClientID)
	require.Len(t, l.ListClients(), 1)
	assert.Equal(t, "Juan Perez", l.ListClients()[0].Name)
}

func TestCreate_UnknownClientIsNotFound(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.CreateOperation(context.Background(), user, ledger.CreateRequest{
		Type: "cobro_deuda", AmountIn: dp("100"), CurrencyIn: ledger.USD, ClientID: "nobody",
	})
	assert.True(t, ledger.IsNotFound(err))
}

func TestCreate_AuditedOnlyForAdmins(t *testing.T) {
	l, _ := newTestLedger(t)

	loanReceived(t, l, "10", ledger.ARS)
	_, err := l.CreateOperation(context.Background(), user, ledger.CreateRequest{
		Type: "prestamo_recibido", AmountIn: dp("10"), CurrencyIn: ledger.ARS,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, auditCount(t, l, ledger.AuditOperationCreate))
}

// =============================================================================
// EXECUTE
// =============================================================================

func TestExecute_PartialThenComplete(t *testing.T) {
	// GIVEN: 1000 USD sold at 350, ARS drawer funded
	// WHEN: Executing 400 then 600
	// THEN: pending → partial → completed, balances follow each leg
	l, _ := newTestLedger(t)
	ctx := context.Background()
	fund(t, l, "cash_ars_principal", "1000000")
	op := sellUSD(t, l)

	got, err := l.ExecuteOperation(ctx, user, op.ID, ledger.ExecuteRequest{
		AmountIn: d("400"), AmountOut: d("140000"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartial, got.Status)
	assertAmount(t, "600", got.RemainingAmountIn)
	assertAmount(t, "210000", got.RemainingAmountOut)
	assertAmount(t, "400", balanceOf(t, l, "cash_usd_principal"))
	assertAmount(t, "860000", balanceOf(t, l, "cash_ars_principal"))

	got, err = l.ExecuteOperation(ctx, user, op.ID, ledger.ExecuteRequest{
		AmountIn: d("600"), AmountOut: d("210000"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, got.Status)
	assertAmount(t, "0", got.RemainingAmountIn)
	assertAmount(t, "0", got.RemainingAmountOut)
	assertAmount(t, "1000", got.ExecutedAmountIn)
	assertAmount(t, "350000", got.ExecutedAmountOut)
	assertAmount(t, "1000", balanceOf(t, l, "cash_usd_principal"))
	assertAmount(t, "650000", balanceOf(t, l, "cash_ars_principal"))

	require.Len(t, got.Executions, 2)
	exec := got.Executions[0]
	assert.Equal(t, ledger.CashBoxID("cash_usd_principal"), exec.CashBoxInID)
	assert.Equal(t, ledger.CashBoxID("cash_ars_principal"), exec.CashBoxOutID)
	assert.Equal(t, user.ID, exec.ExecutedBy)
	require.NotNil(t, exec.Rate)
	assertAmount(t, "350", *exec.Rate)

	assert.Equal(t, 2, auditCount(t, l, ledger.AuditOperationExecute))
	assert.Equal(t, 2, auditCount(t, l, ledger.AuditCashBoxUpdate))
}

func TestExecute_OverdraftOnCashDrawerIsRejected(t *testing.T) {
	// GIVEN: An outflow of 1000 ARS and an empty ARS drawer
	// WHEN: Executing the full amount from the drawer
	// THEN: Insufficient funds, nothing changes
	l, _ := newTestLedger(t)
	op, err := l.CreateOperation(context.Background(), admin, ledger.CreateRequest{
		Type: "prestamo_otorgado", AmountOut: dp("1000"), CurrencyOut: ledger.ARS,
	})
	require.NoError(t, err)
	auditBefore, _ := l.ListAuditLog(admin, ledger.AuditFilter{})

	_, err = l.ExecuteOperation(context.Background(), admin, op.ID, ledger.ExecuteRequest{
		AmountOut: d("1000"), CashBoxOutID: "cash_ars_principal",
	})

	require.Error(t, err)
	var insufficient *ledger.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, ledger.LegOut, insufficient.Leg)
	assert.True(t, ledger.IsExecutionRejection(err))

	assertAmount(t, "0", balanceOf(t, l, "cash_ars_principal"))
	after, err := l.GetOperation(op.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, after.Status)
	assert.Empty(t, after.Executions)
	auditAfter, _ := l.ListAuditLog(admin, ledger.AuditFilter{})
	assert.Len(t, auditAfter, len(auditBefore))
}

func TestExecute_FailingLegRollsBackOtherLeg(t *testing.T) {
	// GIVEN: A trade whose in leg is valid but out leg would overdraw
	// THEN: The in leg is not credited either
	l, _ := newTestLedger(t)
	op := sellUSD(t, l)

	_, err := l.ExecuteOperation(context.Background(), user, op.ID, ledger.ExecuteRequest{
		AmountIn: d("100"), AmountOut: d("35000"),
	})

	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assertAmount(t, "0", balanceOf(t, l, "cash_usd_principal"))
}

func TestExecute_OverdraftAllowedOnBankAccount(t *testing.T) {
	l, _ := newTestLedger(t)
	op, err := l.CreateOperation(context.Background(), user, ledger.CreateRequest{
		Type: "sueldos", AmountOut: dp("250"), CurrencyOut: ledger.ARS,
	})
	require.NoError(t, err)

	_, err = l.ExecuteOperation(context.Background(), user, op.ID, ledger.ExecuteRequest{
		AmountOut: d("250"), CashBoxOutID: "bank_ars_galicia",
	})
	require.NoError(t, err)
	assertAmount(t, "-250", balanceOf(t, l, "bank_ars_galicia"))
}

func TestExecute_CurrencyMismatch(t *testing.T) {
	l, _ := newTestLedger(t)
	op := loanReceived(t, l, "500", ledger.USD)

	_, err := l.ExecuteOperation(context.Background(), user, op.ID, ledger.ExecuteRequest{
		AmountIn: d("500"), CashBoxInID: "cash_ars_principal",
	})

	var mismatch *ledger.CurrencyMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, ledger.LegIn, mismatch.Leg)
	assert.Equal(t, ledger.ARS, mismatch.Expected)
	assert.Equal(t, ledger.USD, mismatch.Got)
	assertAmount(t, "0", balanceOf(t, l, "cash_ars_principal"))
}

func TestExecute_ExplicitCurrencyMustMatchOperation(t *testing.T) {
	l, _ := newTestLedger(t)
	op := loanReceived(t, l, "500", ledger.USD)

	_, err := l.ExecuteOperation(context.Background(), user, op.ID, ledger.ExecuteRequest{
		AmountIn: d("500"), CurrencyIn: ledger.ARS,
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestExecute_OverExecution(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	op := loanReceived(t, l, "1000", ledger.ARS)

	_, err := l.ExecuteOperation(ctx, user, op.ID, ledger.ExecuteRequest{AmountIn: d("1000.5")})
	var over *ledger.OverExecutionError
	require.True(t, errors.As(err, &over))
	assertAmount(t, "1000", over.Remaining)

	// Within tolerance: accepted and trimmed to the nominal amount.
	got, err := l.ExecuteOperation(ctx, user, op.ID, ledger.ExecuteRequest{AmountIn: d("1000.0005")})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, got.Status)
	assertAmount(t, "1000", got.ExecutedAmountIn)
	assertAmount(t, "1000", balanceOf(t, l, "cash_ars_principal"))

	_, err = l.ExecuteOperation(ctx, user, op.ID, ledger.ExecuteRequest{AmountIn: d("1")})
	assert.ErrorIs(t, err, ledger.ErrOverExecution)
}

func TestExecute_RejectsEmptyAndNegative(t *testing.T) {
	l, _ := newTestLedger(t)
	op := loanReceived(t, l, "1000", ledger.ARS)

	_, err := l.ExecuteOperation(context.Background(), user, op.ID, ledger.ExecuteRequest{})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = l.ExecuteOperation(context.Background(), user, op.ID, ledger.ExecuteRequest{AmountIn: d("-1")})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestExecute_RateRules(t *testing.T) {
	// GIVEN: A quoted sale, a fee trade and a loan
	// WHEN: Executing with a per-execution rate
	// THEN: The rate obeys the same rules as on creation
	l, _ := newTestLedger(t)
	ctx := context.Background()
	fund(t, l, "cash_ars_principal", "1000000")
	sale := sellUSD(t, l)
	fee, err := l.CreateOperation(ctx, user, ledger.CreateRequest{
		Type: "compra_usdt_ars", AmountIn: dp("100"), CurrencyIn: ledger.ARS,
		CurrencyOut: ledger.USDT, Rate: dp("2.5"),
	})
	require.NoError(t, err)
	loan := loanReceived(t, l, "10", ledger.ARS)

	tests := []struct {
		name string
		id   ledger.OperationID
		req  ledger.ExecuteRequest
	}{
		{"negative quote", sale.ID, ledger.ExecuteRequest{AmountIn: d("10"), Rate: dp("-5")}},
		{"zero quote", sale.ID, ledger.ExecuteRequest{AmountIn: d("10"), Rate: dp("0")}},
		{"fee at minus one hundred percent", fee.ID, ledger.ExecuteRequest{AmountIn: d("10"), Rate: dp("-100")}},
		{"rate on a non-trade", loan.ID, ledger.ExecuteRequest{AmountIn: d("1"), Rate: dp("1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.ExecuteOperation(ctx, user, tt.id, tt.req)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}

	got, err := l.GetOperation(sale.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Executions)

	got, err = l.ExecuteOperation(ctx, user, sale.ID, ledger.ExecuteRequest{AmountIn: d("10"), Rate: dp("355")})
	require.NoError(t, err)
	assertAmount(t, "355", *got.Executions[0].Rate)

	got, err = l.ExecuteOperation(ctx, user, fee.ID, ledger.ExecuteRequest{AmountIn: d("10"), Rate: dp("-1.5")})
	require.NoError(t, err)
	assertAmount(t, "-1.5", *got.Executions[0].Rate)
}

func TestExecute_UnknownOperationOrCashBox(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.ExecuteOperation(context.Background(), user, "missing", ledger.ExecuteRequest{AmountIn: d("1")})
	assert.True(t, ledger.IsNotFound(err))

	op := loanReceived(t, l, "10", ledger.ARS)
	_, err = l.ExecuteOperation(context.Background(), user, op.ID, ledger.ExecuteRequest{
		AmountIn: d("1"), CashBoxInID: "no_such_box",
	})
	assert.True(t, ledger.IsNotFound(err))
}

func TestExecute_NoDefaultBoxForCurrency(t *testing.T) {
	l, _ := newTestLedger(t)
	op := loanReceived(t, l, "10", ledger.EUR)

	_, err := l.ExecuteOperation(context.Background(), user, op.ID, ledger.ExecuteRequest{AmountIn: d("10")})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestExecute_ConcurrentExecutionsSerialize(t *testing.T) {
	// GIVEN: 1000 ARS to receive
	// WHEN: 20 goroutines each execute 100
	// THEN: exactly 10 succeed and the drawer holds exactly 1000
	l, _ := newTestLedger(t)
	op := loanReceived(t, l, "1000", ledger.ARS)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ExecuteOperation(context.Background(), user, op.ID, ledger.ExecuteRequest{AmountIn: d("100")})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ledger.ErrOverExecution):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, int32(10), rejected.Load())
	got, err := l.GetOperation(op.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, got.Status)
	assert.Len(t, got.Executions, 10)
	assertAmount(t, "1000", balanceOf(t, l, "cash_ars_principal"))
}

func TestExecute_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	// GIVEN: A drawer with 500 and five outflows of 200 each
	// THEN: At most two succeed and the drawer never goes negative
	l, _ := newTestLedger(t)
	fund(t, l, "cash_usd_principal", "500")

	var ids []ledger.OperationID
	for i := 0; i < 5; i++ {
		op, err := l.CreateOperation(context.Background(), user, ledger.CreateRequest{
			Type: "gastos_varios", AmountOut: dp("200"), CurrencyOut: ledger.USD,
		})
		require.NoError(t, err)
		ids = append(ids, op.ID)
	}

	var ok atomic.Int32
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id ledger.OperationID) {
			defer wg.Done()
			if _, err := l.ExecuteOperation(context.Background(), user, id, ledger.ExecuteRequest{AmountOut: d("200")}); err == nil {
				ok.Add(1)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(2), ok.Load())
	assertAmount(t, "100", balanceOf(t, l, "cash_usd_principal"))
}

func TestExecute_CurrencyTotalsMatchNetMovements(t *testing.T) {
	// Sum of balances per currency equals the net of all executions.
	l, _ := newTestLedger(t)
	ctx := context.Background()
	fund(t, l, "bank_ars_macro", "500000")

	op := sellUSD(t, l)
	_, err := l.ExecuteOperation(ctx, user, op.ID, ledger.ExecuteRequest{
		AmountIn: d("300"), AmountOut: d("105000"), CashBoxOutID: "bank_ars_macro",
	})
	require.NoError(t, err)
	loan := loanReceived(t, l, "2500", ledger.ARS)
	_, err = l.ExecuteOperation(ctx, user, loan.ID, ledger.ExecuteRequest{AmountIn: d("2500"), CashBoxInID: "bank_ars_galicia"})
	require.NoError(t, err)

	totals := map[ledger.Currency]decimal.Decimal{}
	for _, row := range l.CurrencyTotals() {
		totals[row.Currency] = row.Amount
	}
	assertAmount(t, "397500", totals[ledger.ARS])
	assertAmount(t, "300", totals[ledger.USD])
}

// =============================================================================
// UPDATE / DELETE
// =============================================================================

func completedSale(t *testing.T, l *ledger.Ledger) ledger.Operation {
	t.Helper()
	fund(t, l, "cash_ars_principal", "350000")
	op := sellUSD(t, l)
	got, err := l.ExecuteOperation(context.Background(), admin, op.ID, ledger.ExecuteRequest{
		AmountIn: d("1000"), AmountOut: d("350000"),
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCompleted, got.Status)
	return got
}

func TestUpdate_CompletedStaysCompleted(t *testing.T) {
	// GIVEN: A completed operation
	// WHEN: An admin raises its nominal amounts
	// THEN: Status stays completed and the audit entry carries a warning
	l, _ := newTestLedger(t)
	op := completedSale(t, l)

	got, err := l.UpdateOperation(context.Background(), admin, op.ID, ledger.OperationPatch{
		AmountIn: dp("2000"), AmountOut: dp("700000"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, got.Status)
	assertAmount(t, "1000", got.RemainingAmountIn)

	entries, err := l.ListAuditLog(admin, ledger.AuditFilter{Actions: []ledger.AuditAction{ledger.AuditOperationUpdate}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].Warning())
	assert.ElementsMatch(t, []string{"amount_in", "amount_out"}, entries[0].Details["fields"])
}

func TestUpdate_Rules(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	op := loanReceived(t, l, "1000", ledger.ARS)
	_, err := l.ExecuteOperation(ctx, user, op.ID, ledger.ExecuteRequest{AmountIn: d("400")})
	require.NoError(t, err)

	_, err = l.UpdateOperation(ctx, user, op.ID, ledger.OperationPatch{AmountIn: dp("900")})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = l.UpdateOperation(ctx, admin, op.ID, ledger.OperationPatch{AmountIn: dp("300")})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	usd := ledger.USD
	_, err = l.UpdateOperation(ctx, admin, op.ID, ledger.OperationPatch{CurrencyIn: &usd})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = l.UpdateOperation(ctx, admin, "missing", ledger.OperationPatch{})
	assert.True(t, ledger.IsNotFound(err))

	// Lowering to the executed amount completes the operation.
	desc := "renegotiated"
	got, err := l.UpdateOperation(ctx, admin, op.ID, ledger.OperationPatch{AmountIn: dp("400"), Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, got.Status)
	assert.Equal(t, "renegotiated", got.Description)
}

func TestDelete_CompletedOperationKeepsBalances(t *testing.T) {
	// GIVEN: A completed operation that moved cash
	// WHEN: An admin deletes it
	// THEN: Balances are unchanged and a partial-delete warning is logged
	l, _ := newTestLedger(t)
	op := completedSale(t, l)
	before := l.ListCashBoxes()

	require.NoError(t, l.DeleteOperation(context.Background(), admin, op.ID))

	assert.Equal(t, before, l.ListCashBoxes())
	_, err := l.GetOperation(op.ID)
	assert.True(t, ledger.IsNotFound(err))

	entries, err := l.ListAuditLog(admin, ledger.AuditFilter{
		Actions: []ledger.AuditAction{ledger.AuditOperationDeletePartial},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].Warning())
	assert.Equal(t, 1, auditCount(t, l, ledger.AuditOperationDelete))
}

func TestDelete_PendingHasNoWarning(t *testing.T) {
	l, _ := newTestLedger(t)
	op := loanReceived(t, l, "10", ledger.ARS)

	require.ErrorIs(t, l.DeleteOperation(context.Background(), user, op.ID), ledger.ErrUnauthorized)
	require.NoError(t, l.DeleteOperation(context.Background(), admin, op.ID))
	assert.Equal(t, 0, auditCount(t, l, ledger.AuditOperationDeletePartial))
	assert.True(t, ledger.IsNotFound(l.DeleteOperation(context.Background(), admin, op.ID)))
}

// =============================================================================
// CASH BOXES
// =============================================================================

func TestSeededCashBoxes(t *testing.T) {
	l, _ := newTestLedger(t)

	boxes := l.ListCashBoxes()
	require.Len(t, boxes, 11)
	for _, b := range boxes {
		assert.True(t, b.Balance.IsZero(), b.ID)
		if b.Type == ledger.CashBoxCash {
			assert.False(t, b.AllowsNegative, b.ID)
		}
	}
}

func TestAdjustCashBoxBalance_BooksAdjustment(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	box, err := l.AdjustCashBoxBalance(ctx, admin, "cash_usd_principal", d("500"), "count")
	require.NoError(t, err)
	assertAmount(t, "500", box.Balance)

	_, err = l.AdjustCashBoxBalance(ctx, admin, "cash_usd_principal", d("200"), "recount")
	require.NoError(t, err)

	ops := l.ListOperations(ledger.OperationFilter{Type: ledger.TypeCashAdjustment})
	require.Len(t, ops, 2)
	latest := ops[0]
	assert.Equal(t, ledger.StatusCompleted, latest.Status)
	assertAmount(t, "300", latest.AmountOut)
	assert.Equal(t, ledger.USD, latest.CurrencyOut)
	assert.Equal(t, "cash_usd_principal", latest.Metadata["cash_box_id"])
	assertAmount(t, "500", ops[1].AmountIn)
	assert.Equal(t, 2, auditCount(t, l, ledger.AuditCashBoxAdjust))
}

func TestAdjustCashBoxBalance_Rejections(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.AdjustCashBoxBalance(ctx, user, "cash_usd_principal", d("1"), "")
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = l.AdjustCashBoxBalance(ctx, admin, "cash_usd_principal", d("-1"), "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = l.AdjustCashBoxBalance(ctx, admin, "nope", d("1"), "")
	assert.True(t, ledger.IsNotFound(err))

	// Same balance: no adjustment operation.
	_, err = l.AdjustCashBoxBalance(ctx, admin, "cash_usd_principal", d("0"), "noop")
	require.NoError(t, err)
	assert.Empty(t, l.ListOperations(ledger.OperationFilter{}))
}

func TestCashBoxLifecycle(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreateCashBox(ctx, user, ledger.CashBox{Name: "Caja EUR", Currency: ledger.EUR, Type: ledger.CashBoxCash})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	box, err := l.CreateCashBox(ctx, admin, ledger.CashBox{
		Name: "Caja EUR", Currency: ledger.EUR, Type: ledger.CashBoxCash, IsDefault: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, box.ID)

	// Now EUR operations find a default box.
	op := loanReceived(t, l, "50", ledger.EUR)
	_, err = l.ExecuteOperation(ctx, user, op.ID, ledger.ExecuteRequest{AmountIn: d("50")})
	require.NoError(t, err)

	name := "Caja EUR Principal"
	updated, err := l.UpdateCashBox(ctx, admin, box.ID, ledger.CashBoxPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assertAmount(t, "50", updated.Balance)

	notDefault := false
	_, err = l.UpdateCashBox(ctx, admin, box.ID, ledger.CashBoxPatch{IsDefault: &notDefault})
	require.NoError(t, err)

	err = l.DeleteCashBox(ctx, admin, box.ID)
	assert.ErrorIs(t, err, ledger.ErrCashBoxNotEmpty)

	_, err = l.AdjustCashBoxBalance(ctx, admin, box.ID, d("0"), "closing")
	require.NoError(t, err)
	require.NoError(t, l.DeleteCashBox(ctx, admin, box.ID))
	assert.Equal(t, 1, auditCount(t, l, ledger.AuditCashBoxDelete))
}

// =============================================================================
// CLIENTS AND EXPENSE CATEGORIES
// =============================================================================

func TestClients(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.AddClient(ctx, user, "Ana", nil)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	c, err := l.AddClient(ctx, admin, "Ana", map[string]string{"phone": "555"})
	require.NoError(t, err)

	_, err = l.AddClient(ctx, admin, "ANA", nil)
	assert.ErrorIs(t, err, ledger.ErrDuplicateClient)

	name := "Ana Gomez"
	got, err := l.UpdateClient(ctx, admin, c.ID, &name, nil)
	require.NoError(t, err)
	assert.Equal(t, "Ana Gomez", got.Name)
	assert.Equal(t, "555", got.Metadata["phone"])

	require.NoError(t, l.DeleteClient(ctx, admin, c.ID))
	assert.Empty(t, l.ListClients())
	assert.True(t, ledger.IsNotFound(l.DeleteClient(ctx, admin, c.ID)))
}

func TestExpenseCategories(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	assert.Equal(t, []ledger.OperationType{"alquileres_pagados", "costos_fijos", "gastos_varios", "sueldos"},
		l.ListExpenseCategories())

	assert.ErrorIs(t, l.AddExpenseCategory(ctx, admin, "no_such_type"), ledger.ErrValidation)
	assert.ErrorIs(t, l.AddExpenseCategory(ctx, user, "otro_egreso"), ledger.ErrUnauthorized)

	require.NoError(t, l.AddExpenseCategory(ctx, admin, "otro_egreso"))
	require.NoError(t, l.AddExpenseCategory(ctx, admin, "otro_egreso"))
	assert.Equal(t, 1, auditCount(t, l, ledger.AuditExpenseCategoryAdd))

	require.NoError(t, l.RemoveExpenseCategory(ctx, admin, "sueldos"))
	require.NoError(t, l.RemoveExpenseCategory(ctx, admin, "sueldos"))
	assert.Equal(t, 1, auditCount(t, l, ledger.AuditExpenseCategoryRemove))
	assert.NotContains(t, l.ListExpenseCategories(), ledger.OperationType("sueldos"))
}

// =============================================================================
// READS, REPORTS
// =============================================================================

func TestListOperations_NewestFirstWithFilters(t *testing.T) {
	l, _ := newTestLedger(t)
	first := loanReceived(t, l, "10", ledger.ARS)
	second := loanReceived(t, l, "20", ledger.ARS)
	_, err := l.ExecuteOperation(context.Background(), user, second.ID, ledger.ExecuteRequest{AmountIn: d("5")})
	require.NoError(t, err)

	all := l.ListOperations(ledger.OperationFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	partial := l.ListOperations(ledger.OperationFilter{Statuses: []ledger.Status{ledger.StatusPartial}})
	require.Len(t, partial, 1)
	assert.Equal(t, second.ID, partial[0].ID)
}

func TestOperationTypes_HideAdminTypesFromUsers(t *testing.T) {
	l, _ := newTestLedger(t)

	for _, s := range l.OperationTypes(user) {
		assert.False(t, s.AdminOnly, s.Tag)
	}
	assert.Len(t, l.OperationTypes(admin), len(l.Catalog().All()))
}

func TestReports(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	fund(t, l, "cash_ars_principal", "100000")

	salary, err := l.CreateOperation(ctx, user, ledger.CreateRequest{Type: "sueldos", AmountOut: dp("30000"), CurrencyOut: ledger.ARS})
	require.NoError(t, err)
	_, err = l.ExecuteOperation(ctx, user, salary.ID, ledger.ExecuteRequest{AmountOut: d("30000")})
	require.NoError(t, err)

	loan := loanReceived(t, l, "500", ledger.USD)
	_, err = l.ExecuteOperation(ctx, user, loan.ID, ledger.ExecuteRequest{AmountIn: d("200")})
	require.NoError(t, err)
	sellUSD(t, l)

	expenses := l.ExpenseTotals(time.Time{}, time.Time{})
	require.Len(t, expenses, 1)
	assert.Equal(t, ledger.ARS, expenses[0].Currency)
	assertAmount(t, "30000", expenses[0].Amount)
	assert.Empty(t, l.ExpenseTotals(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), time.Time{}))

	outstanding := map[ledger.Currency]ledger.OutstandingRow{}
	for _, row := range l.Outstanding() {
		outstanding[row.Currency] = row
	}
	assertAmount(t, "350000", outstanding[ledger.ARS].Pay)
	assertAmount(t, "1300", outstanding[ledger.USD].Receive)

	flow := l.CashFlow(time.Time{}, time.Time{})
	require.Len(t, flow, 1)
	assert.Equal(t, ledger.USD, flow[0].Currency)
	assertAmount(t, "200", flow[0].Inflow)

	totals := l.CurrencyTotals()
	for _, row := range totals {
		switch row.Currency {
		case ledger.ARS:
			assertAmount(t, "70000", row.Amount)
		case ledger.USD:
			assertAmount(t, "200", row.Amount)
		}
	}
}

func TestSolveRate(t *testing.T) {
	l, _ := newTestLedger(t)

	res, err := l.SolveRate("venta_divisa_ars", ledger.RateInput{
		Driver: ledger.FieldAmountOut, AmountIn: dp("1000"), AmountOut: dp("350000"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.FieldRate, res.Derived)
	assertAmount(t, "350", *res.Rate)

	_, err = l.SolveRate("sueldos", ledger.RateInput{Driver: ledger.FieldRate})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// PERSISTENCE AND RESET
// =============================================================================

func TestLoad_RestoresState(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	op := loanReceived(t, l, "1000", ledger.ARS)
	_, err := l.ExecuteOperation(ctx, user, op.ID, ledger.ExecuteRequest{AmountIn: d("250")})
	require.NoError(t, err)
	require.NoError(t, l.AddExpenseCategory(ctx, admin, "otro_egreso"))

	reloaded := ledger.New(mem, ledger.Options{})
	require.NoError(t, reloaded.Load(ctx))

	got, err := reloaded.GetOperation(op.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartial, got.Status)
	assertAmount(t, "750", got.RemainingAmountIn)
	require.Len(t, got.Executions, 1)
	assertAmount(t, "250", balanceOf(t, reloaded, "cash_ars_principal"))
	assert.Contains(t, reloaded.ListExpenseCategories(), ledger.OperationType("otro_egreso"))
	entries, err := reloaded.ListAuditLog(admin, ledger.AuditFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestPersistFailureDoesNotFailMutation(t *testing.T) {
	l, mem := newTestLedger(t)
	mem.FailSaves(errors.New("disk full"))

	op := loanReceived(t, l, "10", ledger.ARS)
	_, err := l.GetOperation(op.ID)
	require.NoError(t, err)

	assert.Error(t, l.Flush(context.Background()))

	mem.FailSaves(nil)
	require.NoError(t, l.Flush(context.Background()))
	ops, err := mem.LoadOperations(context.Background())
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestResetAllData(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	completedSale(t, l)
	_, err := l.AddClient(ctx, admin, "Ana", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, l.ResetAllData(ctx, user), ledger.ErrUnauthorized)
	require.NoError(t, l.ResetAllData(ctx, admin))

	assert.Empty(t, l.ListOperations(ledger.OperationFilter{}))
	assert.Empty(t, l.ListClients())
	require.Len(t, l.ListCashBoxes(), 11)
	for _, b := range l.ListCashBoxes() {
		assert.True(t, b.Balance.IsZero(), b.ID)
	}
	entries, err := l.ListAuditLog(admin, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.AuditDataReset, entries[0].Action)
}

func TestResetAllData_WaitsForInFlightExecution(t *testing.T) {
	// GIVEN: An execution paused after validation, before moving cash
	// WHEN: ResetAllData is called and the execution is then released
	// THEN: The reset lands last: no operations and a zero USD balance
	base := newClock()
	var armed atomic.Bool
	entered := make(chan struct{})
	release := make(chan struct{})
	clock := func() time.Time {
		if armed.CompareAndSwap(true, false) {
			close(entered)
			<-release
		}
		return base.Now()
	}
	l := ledger.New(store.NewMemory(), ledger.Options{Clock: clock})
	ctx := context.Background()
	require.NoError(t, l.Load(ctx))
	op := loanReceived(t, l, "1000", ledger.USD)

	armed.Store(true)
	execErr := make(chan error, 1)
	go func() {
		_, err := l.ExecuteOperation(ctx, admin, op.ID, ledger.ExecuteRequest{AmountIn: d("400")})
		execErr <- err
	}()
	<-entered

	resetErr := make(chan error, 1)
	go func() { resetErr <- l.ResetAllData(ctx, admin) }()

	select {
	case <-resetErr:
		t.Fatal("reset returned while an execution was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-execErr)
	require.NoError(t, <-resetErr)

	assert.Empty(t, l.ListOperations(ledger.OperationFilter{}))
	assert.True(t, balanceOf(t, l, "cash_usd_principal").IsZero())
	assert.Equal(t, 1, auditCount(t, l, ledger.AuditDataReset))
	assert.Equal(t, 0, auditCount(t, l, ledger.AuditOperationExecute))
}
