// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/cambio-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	operations []ledger.Operation
	cashBoxes  []ledger.CashBox
	clients    []ledger.Client
	audit      []ledger.AuditEntry
	categories []ledger.OperationType
	saved      map[ledger.Collection]bool
	saves      map[ledger.Collection]int
	failWith   error
}

func NewMemory() *Memory {
	return &Memory{
		saved: make(map[ledger.Collection]bool),
		saves: make(map[ledger.Collection]int),
	}
}

// FailSaves makes every subsequent Save return err. Pass nil to recover.
func (m *Memory) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Saves reports how many times a collection was saved.
func (m *Memory) Saves(c ledger.Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[c]
}

func (m *Memory) load(c ledger.Collection) error {
	if !m.saved[c] {
		return ledger.ErrNoSnapshot
	}
	return nil
}

func (m *Memory) save(c ledger.Collection) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.saved[c] = true
	m.saves[c]++
	return nil
}

func (m *Memory) LoadOperations(_ context.Context) ([]ledger.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.load(ledger.CollectionOperations); err != nil {
		return nil, err
	}
	return copyOperations(m.operations), nil
}

func (m *Memory) SaveOperations(_ context.Context, ops []ledger.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.save(ledger.CollectionOperations); err != nil {
		return err
	}
	m.operations = copyOperations(ops)
	return nil
}

func (m *Memory) LoadCashBoxes(_ context.Context) ([]ledger.CashBox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.load(ledger.CollectionCashBoxes); err != nil {
		return nil, err
	}
	return copyBoxes(m.cashBoxes), nil
}

func (m *Memory) SaveCashBoxes(_ context.Context, boxes []ledger.CashBox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.save(ledger.CollectionCashBoxes); err != nil {
		return err
	}
	m.cashBoxes = copyBoxes(boxes)
	return nil
}

func (m *Memory) LoadClients(_ context.Context) ([]ledger.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.load(ledger.CollectionClients); err != nil {
		return nil, err
	}
	return copyClients(m.clients), nil
}

func (m *Memory) SaveClients(_ context.Context, clients []ledger.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.save(ledger.CollectionClients); err != nil {
		return err
	}
	m.clients = copyClients(clients)
	return nil
}

func (m *Memory) LoadAuditLog(_ context.Context) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.load(ledger.CollectionAuditLog); err != nil {
		return nil, err
	}
	return append([]ledger.AuditEntry(nil), m.audit...), nil
}

func (m *Memory) SaveAuditLog(_ context.Context, entries []ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.save(ledger.CollectionAuditLog); err != nil {
		return err
	}
	m.audit = append([]ledger.AuditEntry(nil), entries...)
	return nil
}

func (m *Memory) LoadExpenseCategories(_ context.Context) ([]ledger.OperationType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.load(ledger.CollectionExpenseCategories); err != nil {
		return nil, err
	}
	return append([]ledger.OperationType(nil), m.categories...), nil
}

func (m *Memory) SaveExpenseCategories(_ context.Context, tags []ledger.OperationType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.save(ledger.CollectionExpenseCategories); err != nil {
		return err
	}
	m.categories = append([]ledger.OperationType(nil), tags...)
	return nil
}

// =============================================================================
// COPY HELPERS - Callers must not share slices or maps with the store
// =============================================================================

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyOperations(ops []ledger.Operation) []ledger.Operation {
	out := make([]ledger.Operation, len(ops))
	for i, o := range ops {
		o.Executions = append([]ledger.Execution(nil), o.Executions...)
		o.Metadata = copyMeta(o.Metadata)
		out[i] = o
	}
	return out
}

func copyBoxes(boxes []ledger.CashBox) []ledger.CashBox {
	out := make([]ledger.CashBox, len(boxes))
	for i, b := range boxes {
		b.Metadata = copyMeta(b.Metadata)
		out[i] = b
	}
	return out
}

func copyClients(clients []ledger.Client) []ledger.Client {
	out := make([]ledger.Client, len(clients))
	for i, c := range clients {
		c.Metadata = copyMeta(c.Metadata)
		out[i] = c
	}
	return out
}

var _ ledger.Store = (*Memory)(nil)
