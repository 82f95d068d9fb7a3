// Package config loads the cambio.yaml server configuration.
//
// Precedence, lowest first: Default, the YAML file, CAMBIO_* environment
// variables, then command-line flags (applied by cmd/server).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/cambio-ledger/ledger"
)

// Config represents the top-level cambio.yaml configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	CashBoxes []CashBoxConfig `yaml:"cash_boxes,omitempty"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig selects where snapshots are persisted.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	Path   string `yaml:"path"`
}

// LedgerConfig tunes the engine.
type LedgerConfig struct {
	AuditCap          int           `yaml:"audit_cap"`
	ExpenseCategories []string      `yaml:"expense_categories,omitempty"`
	FlushInterval     time.Duration `yaml:"flush_interval"` // 0 disables periodic flush
}

// CashBoxConfig seeds a cash box on first start and after a data reset.
type CashBoxConfig struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Currency       string            `yaml:"currency"`
	Type           string            `yaml:"type"`
	AllowsNegative bool              `yaml:"allows_negative"`
	IsDefault      bool              `yaml:"is_default"`
	Metadata       map[string]string `yaml:"metadata,omitempty"`
}

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Load reads a cambio.yaml file from disk. Fields absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a single desk.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "./data/cambio.db",
		},
		Ledger: LedgerConfig{
			AuditCap:      ledger.DefaultAuditCap,
			FlushInterval: 5 * time.Minute,
		},
	}
}

// ApplyEnv overrides fields from CAMBIO_* environment variables.
func (c *Config) ApplyEnv() error {
	port, err := strconv.Atoi(getEnv("CAMBIO_PORT", strconv.Itoa(c.Server.Port)))
	if err != nil {
		return fmt.Errorf("CAMBIO_PORT: %w", err)
	}
	auditCap, err := strconv.Atoi(getEnv("CAMBIO_AUDIT_CAP", strconv.Itoa(c.Ledger.AuditCap)))
	if err != nil {
		return fmt.Errorf("CAMBIO_AUDIT_CAP: %w", err)
	}
	c.Server.Port = port
	c.Ledger.AuditCap = auditCap
	c.Storage.Driver = getEnv("CAMBIO_STORAGE", c.Storage.Driver)
	c.Storage.Path = getEnv("CAMBIO_DB", c.Storage.Path)
	return nil
}

// getEnv retrieves an environment variable or returns a default value if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks the configuration before the server starts.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver %q: want %s or %s", c.Storage.Driver, DriverSQLite, DriverMemory)
	}
	if c.Ledger.AuditCap <= 0 {
		return fmt.Errorf("ledger.audit_cap must be positive, got %d", c.Ledger.AuditCap)
	}
	if c.Ledger.FlushInterval < 0 {
		return fmt.Errorf("ledger.flush_interval must not be negative")
	}

	catalog := ledger.DefaultCatalog()
	for _, tag := range c.Ledger.ExpenseCategories {
		if _, ok := catalog.Lookup(ledger.OperationType(tag)); !ok {
			return fmt.Errorf("ledger.expense_categories: unknown operation type %q", tag)
		}
	}

	seen := make(map[string]bool)
	defaults := make(map[string]string)
	for _, b := range c.CashBoxes {
		if b.ID == "" {
			return fmt.Errorf("cash_boxes: box %q has no id", b.Name)
		}
		if seen[b.ID] {
			return fmt.Errorf("cash_boxes: duplicate id %q", b.ID)
		}
		seen[b.ID] = true
		if !ledger.Currency(b.Currency).Valid() {
			return fmt.Errorf("cash_boxes: %s: unsupported currency %q", b.ID, b.Currency)
		}
		if b.IsDefault {
			if other, ok := defaults[b.Currency]; ok {
				return fmt.Errorf("cash_boxes: %s and %s are both default for %s", other, b.ID, b.Currency)
			}
			defaults[b.Currency] = b.ID
		}
	}
	return nil
}

// LedgerOptions converts the ledger-related settings. Empty seed lists fall
// back to the built-in defaults.
func (c *Config) LedgerOptions() ledger.Options {
	opts := ledger.Options{AuditCap: c.Ledger.AuditCap}
	for _, tag := range c.Ledger.ExpenseCategories {
		opts.ExpenseCategories = append(opts.ExpenseCategories, ledger.OperationType(tag))
	}
	for _, b := range c.CashBoxes {
		opts.SeedCashBoxes = append(opts.SeedCashBoxes, ledger.CashBox{
			ID:             ledger.CashBoxID(b.ID),
			Name:           b.Name,
			Currency:       ledger.Currency(b.Currency),
			Type:           ledger.CashBoxType(b.Type),
			AllowsNegative: b.AllowsNegative,
			IsDefault:      b.IsDefault,
			Metadata:       b.Metadata,
		})
	}
	return opts
}
