package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cambio-ledger/config"
	"github.com/warp/cambio-ledger/ledger"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSolveRateCommand(t *testing.T) {
	out, err := run(t, "solve-rate", "--type", "venta_divisa_ars", "--amount-in", "1000", "--rate", "350")
	require.NoError(t, err)
	assert.Contains(t, out, "amount_out 350000")
	assert.Contains(t, out, "derived    amount_out")

	out, err = run(t, "solve-rate", "--type", "compra_usdt_ars", "--amount-in", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "not enough input")

	_, err = run(t, "solve-rate", "--type", "sueldos", "--rate", "1", "--driver", "rate")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = run(t, "solve-rate", "--type", "venta_divisa_ars", "--rate", "abc")
	assert.Error(t, err)
}

func TestResetCommand(t *testing.T) {
	// GIVEN: A sqlite database holding an adjusted cash box
	// WHEN: Running reset --yes against it
	// THEN: The balance is back to zero after reopening
	dbPath := filepath.Join(t.TempDir(), "data", "cambio.db")
	cfg := config.Default()
	cfg.Storage.Path = dbPath

	l, closeStore, err := openLedger(context.Background(), cfg)
	require.NoError(t, err)
	_, err = l.AdjustCashBoxBalance(context.Background(), ledger.SystemActor, "cash_usd_principal", decimal.NewFromInt(500), "seed")
	require.NoError(t, err)
	closeStore()

	_, err = run(t, "reset", "--db", dbPath)
	assert.EqualError(t, err, "refusing to reset without --yes")

	out, err := run(t, "reset", "--yes", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "reset complete")

	l, closeStore, err = openLedger(context.Background(), cfg)
	require.NoError(t, err)
	defer closeStore()
	b, err := l.GetCashBox("cash_usd_principal")
	require.NoError(t, err)
	assert.True(t, b.Balance.IsZero())
	assert.Empty(t, l.ListOperations(ledger.OperationFilter{}))
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cambio.yaml")
	cfg := config.Default()
	cfg.Server.Port = 9000
	require.NoError(t, config.Save(path, cfg))
	t.Setenv("CAMBIO_PORT", "9100")

	cmd := newRootCommand()
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags([]string{"--config", path, "--storage", "memory"}))

	got, err := loadConfig(serve)
	require.NoError(t, err)
	assert.Equal(t, 9100, got.Server.Port)
	assert.Equal(t, config.DriverMemory, got.Storage.Driver)

	require.NoError(t, serve.ParseFlags([]string{"--port", "9200"}))
	got, err = loadConfig(serve)
	require.NoError(t, err)
	assert.Equal(t, 9200, got.Server.Port)
}
