/*
store.go - Persistence interface for the five ledger collections

PURPOSE:
  The ledger keeps its state in memory and flushes snapshots after every
  successful mutation. The Store persists those snapshots. Each
  collection is loaded and saved independently.

COLLECTIONS:
  operations          Operations with their executions
  cash_boxes          Cash boxes and balances
  clients             Counterparties
  audit_log           Capped admin log, newest first
  expense_categories  Operation types reported as expenses

FIRST RUN:
  Load* returns ErrNoSnapshot for a collection that was never saved, so
  the ledger can seed cash boxes and expense categories.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go: SQLite for production
*/
package ledger

import (
	"context"
	"errors"
)

// ErrNoSnapshot is returned when a collection has never been saved.
var ErrNoSnapshot = errors.New("no snapshot stored")

type Collection string

const (
	CollectionOperations        Collection = "operations"
	CollectionCashBoxes         Collection = "cash_boxes"
	CollectionClients           Collection = "clients"
	CollectionAuditLog          Collection = "audit_log"
	CollectionExpenseCategories Collection = "expense_categories"
)

// AllCollections lists every collection in flush order.
var AllCollections = []Collection{
	CollectionOperations, CollectionCashBoxes, CollectionClients,
	CollectionAuditLog, CollectionExpenseCategories,
}

type Store interface {
	LoadOperations(ctx context.Context) ([]Operation, error)
	SaveOperations(ctx context.Context, ops []Operation) error

	LoadCashBoxes(ctx context.Context) ([]CashBox, error)
	SaveCashBoxes(ctx context.Context, boxes []CashBox) error

	LoadClients(ctx context.Context) ([]Client, error)
	SaveClients(ctx context.Context, clients []Client) error

	LoadAuditLog(ctx context.Context) ([]AuditEntry, error)
	SaveAuditLog(ctx context.Context, entries []AuditEntry) error

	LoadExpenseCategories(ctx context.Context) ([]OperationType, error)
	SaveExpenseCategories(ctx context.Context, tags []OperationType) error
}
