package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/cambio-ledger/api"
	"github.com/warp/cambio-ledger/config"
	"github.com/warp/cambio-ledger/ledger"
	"github.com/warp/cambio-ledger/ledger/store"
	"github.com/warp/cambio-ledger/store/sqlite"
)

// =============================================================================
// CONFIG AND STORAGE
// =============================================================================

// loadConfig applies the config file, environment and explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("db") {
		cfg.Storage.Path, _ = flags.GetString("db")
	}
	if flags.Changed("storage") {
		cfg.Storage.Driver, _ = flags.GetString("storage")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openLedger opens the configured store and loads the ledger from it.
func openLedger(ctx context.Context, cfg *config.Config) (*ledger.Ledger, func(), error) {
	var st ledger.Store
	closeFn := func() {}

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		st = store.NewMemory()
	default:
		if cfg.Storage.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		db, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing database: %w", err)
		}
		st = db
		closeFn = func() {
			if err := db.Close(); err != nil {
				log.Printf("Closing database: %v", err)
			}
		}
	}

	l := ledger.New(st, cfg.LedgerOptions())
	if err := l.Load(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("loading ledger: %w", err)
	}
	return l, closeFn, nil
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().Int("port", 8080, "HTTP server port")
	cmd.Flags().String("db", "./data/cambio.db", "SQLite database path (\":memory:\" for in-memory)")
	cmd.Flags().String("storage", config.DriverSQLite, "storage driver: sqlite or memory")

	return cmd
}

func runServe(cfg *config.Config) error {
	l, closeStore, err := openLedger(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	scheduler := api.NewFlushScheduler(l, cfg.Ledger.FlushInterval)
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(api.NewHandler(l), cfg.Server.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on http://localhost:%d (storage: %s)", cfg.Server.Port, cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		scheduler.Stop()
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	scheduler.Stop()

	log.Println("Server stopped")
	return nil
}

// =============================================================================
// RESET
// =============================================================================

func newResetCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe operations, clients and the audit log and re-seed cash boxes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			l, closeStore, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := l.ResetAllData(cmd.Context(), ledger.SystemActor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset complete: %d cash boxes seeded\n", len(l.ListCashBoxes()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the irreversible reset")
	cmd.Flags().String("db", "./data/cambio.db", "SQLite database path")
	cmd.Flags().String("storage", config.DriverSQLite, "storage driver: sqlite or memory")

	return cmd
}

// =============================================================================
// SOLVE-RATE
// =============================================================================

func newSolveRateCommand() *cobra.Command {
	var (
		opType    string
		driver    string
		amountIn  string
		amountOut string
		rate      string
	)

	cmd := &cobra.Command{
		Use:   "solve-rate",
		Short: "Derive the missing amount or rate of a trade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := ledger.RateInput{Driver: ledger.Field(driver)}
			var err error
			if in.AmountIn, err = optionalDecimal("amount-in", amountIn); err != nil {
				return err
			}
			if in.AmountOut, err = optionalDecimal("amount-out", amountOut); err != nil {
				return err
			}
			if in.Rate, err = optionalDecimal("rate", rate); err != nil {
				return err
			}

			res, err := ledger.DefaultCatalog().SolveFor(ledger.OperationType(opType), in)
			if err != nil {
				return err
			}
			printRate(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVar(&opType, "type", "", "operation type tag (required)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().StringVar(&driver, "driver", string(ledger.FieldAmountIn), "field edited last: amount_in, amount_out or rate")
	cmd.Flags().StringVar(&amountIn, "amount-in", "", "incoming amount")
	cmd.Flags().StringVar(&amountOut, "amount-out", "", "outgoing amount")
	cmd.Flags().StringVar(&rate, "rate", "", "quote or fee percentage")

	return cmd
}

func optionalDecimal(name, value string) (*decimal.Decimal, error) {
	if value == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &d, nil
}

func printRate(w io.Writer, res ledger.RateResult) {
	if res.Derived == "" {
		fmt.Fprintln(w, "not enough input to derive a value")
		return
	}
	show := func(label string, d *decimal.Decimal) {
		if d != nil {
			fmt.Fprintf(w, "%-10s %s\n", label, d.String())
		}
	}
	show("amount_in", res.AmountIn)
	show("amount_out", res.AmountOut)
	show("rate", res.Rate)
	fmt.Fprintf(w, "derived    %s\n", res.Derived)
}
