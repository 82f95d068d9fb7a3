/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the cambio ledger server. Wires configuration,
  storage, the ledger and the HTTP API, and offers maintenance commands.

COMMANDS:
  serve       Start the HTTP API (default port 8080)
  reset       Wipe operations, clients and the audit log (requires --yes)
  solve-rate  Run the rate calculator offline

CONFIGURATION:
  Defaults, then --config YAML file, then CAMBIO_* environment variables,
  then command-line flags. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the flush scheduler (final flush)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server serve --db ./data/cambio.db

  # Run without persistence
  ./server serve --storage memory

  # Derive the ARS amount of a 1000 USD sale at 350
  ./server solve-rate --type venta_divisa_ars --amount-in 1000 --rate 350 --driver amount_in

SEE ALSO:
  - commands.go: Subcommands
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand creates the root CLI command with all subcommands registered.
func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Operation ledger for a currency exchange desk",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to cambio.yaml")
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newSolveRateCommand())

	return rootCmd
}
