/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists the five ledger collections (operations, cash boxes, clients,
  audit log, expense categories) as snapshots. Each Save replaces the whole
  collection inside one SQL transaction, so a crash mid-save leaves the
  previous snapshot intact.

KEY TABLES:
  operations:          One row per operation; executions as JSON
  cash_boxes:          Boxes with balance and overdraft policy
  clients:             Counterparties
  audit_log:           Capped log; seq 0 is the newest entry
  expense_categories:  Operation type tags reported as expenses
  snapshots:           Which collections have ever been saved

AMOUNTS:
  Decimals are stored as TEXT (decimal.Decimal.String) and parsed back
  exactly; no REAL columns.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, which also
  keeps ":memory:" databases alive across calls.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/cambio.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store, ledger.Options{})
  if err := l.Load(ctx); err != nil { ... }

SEE ALSO:
  - ledger/store.go: Interface definition
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/cambio-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		user_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		amount_in TEXT NOT NULL,
		currency_in TEXT NOT NULL,
		amount_out TEXT NOT NULL,
		currency_out TEXT NOT NULL,
		rate TEXT,
		rate_type TEXT NOT NULL,
		executed_amount_in TEXT NOT NULL,
		executed_amount_out TEXT NOT NULL,
		remaining_amount_in TEXT NOT NULL,
		remaining_amount_out TEXT NOT NULL,
		status TEXT NOT NULL,
		client_id TEXT,
		description TEXT,
		metadata_json TEXT,
		executions_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_operations_status
		ON operations(status);
	CREATE INDEX IF NOT EXISTS idx_operations_created_at
		ON operations(created_at DESC);

	CREATE TABLE IF NOT EXISTS cash_boxes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		type TEXT NOT NULL,
		balance TEXT NOT NULL,
		allows_negative BOOLEAN NOT NULL DEFAULT FALSE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		metadata_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- At most one default box per currency
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cash_boxes_default
		ON cash_boxes(currency) WHERE is_default;

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		details_json TEXT
	);

	CREATE TABLE IF NOT EXISTS expense_categories (
		tag TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		collection TEXT PRIMARY KEY,
		saved_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SNAPSHOT HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// replace runs fn inside a transaction after clearing table, and marks the
// collection as saved.
func (s *Store) replace(ctx context.Context, c ledger.Collection, table string, fn func(execer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	if err := fn(tx); err != nil {
		return fmt.Errorf("failed to save %s: %w", c, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (collection, saved_at) VALUES (?, ?)
		 ON CONFLICT(collection) DO UPDATE SET saved_at = excluded.saved_at`,
		string(c), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to mark %s saved: %w", c, err)
	}
	return tx.Commit()
}

// saved reports whether a collection was ever written. Callers hold s.mu.
func (s *Store) saved(ctx context.Context, c ledger.Collection) error {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots WHERE collection = ?", string(c)).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to read snapshot state: %w", err)
	}
	if n == 0 {
		return ledger.ErrNoSnapshot
	}
	return nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

type executionRecord struct {
	ID           ledger.ExecutionID `json:"id"`
	ExecutedAt   time.Time          `json:"executed_at"`
	ExecutedBy   string             `json:"executed_by"`
	AmountIn     decimal.Decimal    `json:"amount_in"`
	CurrencyIn   ledger.Currency    `json:"currency_in,omitempty"`
	CashBoxInID  ledger.CashBoxID   `json:"cash_box_in_id,omitempty"`
	AmountOut    decimal.Decimal    `json:"amount_out"`
	CurrencyOut  ledger.Currency    `json:"currency_out,omitempty"`
	CashBoxOutID ledger.CashBoxID   `json:"cash_box_out_id,omitempty"`
	Rate         *decimal.Decimal   `json:"rate,omitempty"`
}

func (s *Store) SaveOperations(ctx context.Context, ops []ledger.Operation) error {
	return s.replace(ctx, ledger.CollectionOperations, "operations", func(db execer) error {
		query := `
			INSERT INTO operations
			(id, type, created_at, updated_at, user_id, owner_id,
			 amount_in, currency_in, amount_out, currency_out, rate, rate_type,
			 executed_amount_in, executed_amount_out, remaining_amount_in, remaining_amount_out,
			 status, client_id, description, metadata_json, executions_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		for _, o := range ops {
			execs := make([]executionRecord, len(o.Executions))
			for i, e := range o.Executions {
				execs[i] = executionRecord(e)
			}
			execJSON, err := json.Marshal(execs)
			if err != nil {
				return err
			}
			metaJSON, _ := json.Marshal(o.Metadata)

			var rate sql.NullString
			if o.Rate != nil {
				rate = sql.NullString{String: o.Rate.String(), Valid: true}
			}

			_, err = db.ExecContext(ctx, query,
				o.ID, o.Type,
				o.CreatedAt.Format(time.RFC3339Nano), o.UpdatedAt.Format(time.RFC3339Nano),
				o.UserID, o.OwnerID,
				o.AmountIn.String(), o.CurrencyIn, o.AmountOut.String(), o.CurrencyOut,
				rate, o.RateType,
				o.ExecutedAmountIn.String(), o.ExecutedAmountOut.String(),
				o.RemainingAmountIn.String(), o.RemainingAmountOut.String(),
				o.Status, nullString(string(o.ClientID)), o.Description,
				string(metaJSON), string(execJSON),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadOperations(ctx context.Context) ([]ledger.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.saved(ctx, ledger.CollectionOperations); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, created_at, updated_at, user_id, owner_id,
		       amount_in, currency_in, amount_out, currency_out, rate, rate_type,
		       executed_amount_in, executed_amount_out, remaining_amount_in, remaining_amount_out,
		       status, client_id, description, metadata_json, executions_json
		FROM operations
		ORDER BY created_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []ledger.Operation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}

func scanOperation(rows *sql.Rows) (ledger.Operation, error) {
	var (
		o                                     ledger.Operation
		createdAt, updatedAt                  string
		amountIn, amountOut                   string
		executedIn, executedOut               string
		remainingIn, remainingOut             string
		rate, clientID, description, metaJSON sql.NullString
		execJSON                              string
	)
	err := rows.Scan(
		&o.ID, &o.Type, &createdAt, &updatedAt, &o.UserID, &o.OwnerID,
		&amountIn, &o.CurrencyIn, &amountOut, &o.CurrencyOut, &rate, &o.RateType,
		&executedIn, &executedOut, &remainingIn, &remainingOut,
		&o.Status, &clientID, &description, &metaJSON, &execJSON,
	)
	if err != nil {
		return o, fmt.Errorf("failed to scan operation: %w", err)
	}

	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	o.AmountIn = parseDecimal(amountIn)
	o.AmountOut = parseDecimal(amountOut)
	o.ExecutedAmountIn = parseDecimal(executedIn)
	o.ExecutedAmountOut = parseDecimal(executedOut)
	o.RemainingAmountIn = parseDecimal(remainingIn)
	o.RemainingAmountOut = parseDecimal(remainingOut)
	if rate.Valid {
		r := parseDecimal(rate.String)
		o.Rate = &r
	}
	o.ClientID = ledger.ClientID(clientID.String)
	o.Description = description.String
	o.Metadata = parseMeta(metaJSON)

	var execs []executionRecord
	if err := json.Unmarshal([]byte(execJSON), &execs); err != nil {
		return o, fmt.Errorf("failed to decode executions of %s: %w", o.ID, err)
	}
	for _, e := range execs {
		o.Executions = append(o.Executions, ledger.Execution(e))
	}
	return o, nil
}

// =============================================================================
// CASH BOXES
// =============================================================================

func (s *Store) SaveCashBoxes(ctx context.Context, boxes []ledger.CashBox) error {
	return s.replace(ctx, ledger.CollectionCashBoxes, "cash_boxes", func(db execer) error {
		query := `
			INSERT INTO cash_boxes
			(id, name, currency, type, balance, allows_negative, is_default, metadata_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		for _, b := range boxes {
			metaJSON, _ := json.Marshal(b.Metadata)
			_, err := db.ExecContext(ctx, query,
				b.ID, b.Name, b.Currency, b.Type, b.Balance.String(),
				b.AllowsNegative, b.IsDefault, string(metaJSON),
				b.CreatedAt.Format(time.RFC3339Nano), b.UpdatedAt.Format(time.RFC3339Nano),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadCashBoxes(ctx context.Context) ([]ledger.CashBox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.saved(ctx, ledger.CollectionCashBoxes); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, currency, type, balance, allows_negative, is_default, metadata_json, created_at, updated_at
		FROM cash_boxes
		ORDER BY currency ASC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash boxes: %w", err)
	}
	defer rows.Close()

	var boxes []ledger.CashBox
	for rows.Next() {
		var (
			b                    ledger.CashBox
			balance              string
			metaJSON             sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&b.ID, &b.Name, &b.Currency, &b.Type, &balance,
			&b.AllowsNegative, &b.IsDefault, &metaJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cash box: %w", err)
		}
		b.Balance = parseDecimal(balance)
		b.Metadata = parseMeta(metaJSON)
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		boxes = append(boxes, b)
	}
	return boxes, rows.Err()
}

// =============================================================================
// CLIENTS
// =============================================================================

func (s *Store) SaveClients(ctx context.Context, clients []ledger.Client) error {
	return s.replace(ctx, ledger.CollectionClients, "clients", func(db execer) error {
		for _, c := range clients {
			metaJSON, _ := json.Marshal(c.Metadata)
			_, err := db.ExecContext(ctx,
				"INSERT INTO clients (id, name, metadata_json, created_at) VALUES (?, ?, ?, ?)",
				c.ID, c.Name, string(metaJSON), c.CreatedAt.Format(time.RFC3339Nano),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadClients(ctx context.Context) ([]ledger.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.saved(ctx, ledger.CollectionClients); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, metadata_json, created_at FROM clients ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []ledger.Client
	for rows.Next() {
		var (
			c         ledger.Client
			metaJSON  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		c.Metadata = parseMeta(metaJSON)
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) SaveAuditLog(ctx context.Context, entries []ledger.AuditEntry) error {
	return s.replace(ctx, ledger.CollectionAuditLog, "audit_log", func(db execer) error {
		query := `
			INSERT INTO audit_log (seq, id, timestamp, actor_id, action, details_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		for i, e := range entries {
			details, err := json.Marshal(e.Details)
			if err != nil {
				return err
			}
			_, err = db.ExecContext(ctx, query,
				i, e.ID, e.Timestamp.Format(time.RFC3339Nano), e.ActorID, e.Action, string(details))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadAuditLog(ctx context.Context) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.saved(ctx, ledger.CollectionAuditLog); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, timestamp, actor_id, action, details_json FROM audit_log ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			e         ledger.AuditEntry
			ts        string
			detailsJS sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &e.Action, &detailsJS); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Details = map[string]any{}
		if detailsJS.Valid && detailsJS.String != "" {
			if err := json.Unmarshal([]byte(detailsJS.String), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit entry %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// EXPENSE CATEGORIES
// =============================================================================

func (s *Store) SaveExpenseCategories(ctx context.Context, tags []ledger.OperationType) error {
	return s.replace(ctx, ledger.CollectionExpenseCategories, "expense_categories", func(db execer) error {
		for _, t := range tags {
			if _, err := db.ExecContext(ctx, "INSERT INTO expense_categories (tag) VALUES (?)", t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadExpenseCategories(ctx context.Context) ([]ledger.OperationType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.saved(ctx, ledger.CollectionExpenseCategories); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT tag FROM expense_categories ORDER BY tag ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query expense categories: %w", err)
	}
	defer rows.Close()

	var tags []ledger.OperationType
	for rows.Next() {
		var t ledger.OperationType
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan expense category: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// Reset drops every snapshot. The next ledger Load seeds from scratch.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"operations", "cash_boxes", "clients", "audit_log", "expense_categories", "snapshots"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseMeta(js sql.NullString) map[string]string {
	if !js.Valid || js.String == "" || js.String == "null" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(js.String), &m); err != nil {
		return nil
	}
	return m
}

var _ ledger.Store = (*Store)(nil)
