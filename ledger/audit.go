/*
audit.go - Capped, append-only log of privileged mutations

PURPOSE:
  Records who did what when: operation edits and deletes, executions,
  cash box adjustments and configuration changes, registry changes.
  Separate from the operations themselves; it is the trail an admin
  reads to explain a balance.

CONTRACT:
  - Record prepends; the newest entry is first
  - Entries beyond the cap are evicted, oldest first
  - No update or delete of single entries exists
  - Reading requires the admin role

WARNINGS:
  Editing or deleting an operation that already moved cash does not
  reverse those movements. Such entries carry details["warning"].
*/
package ledger

import (
	"sync"
	"time"
)

type AuditAction string

const (
	AuditOperationCreate        AuditAction = "OPERATION_CREATE"
	AuditOperationExecute       AuditAction = "OPERATION_EXECUTE"
	AuditOperationUpdate        AuditAction = "OPERATION_UPDATE"
	AuditOperationDeletePartial AuditAction = "OPERATION_DELETE_ATTEMPT_PARTIAL"
	AuditOperationDelete        AuditAction = "OPERATION_DELETE"
	AuditCashBoxUpdate          AuditAction = "CASHBOX_UPDATE"
	AuditCashBoxAdjust          AuditAction = "CASHBOX_ADJUST"
	AuditCashBoxCreate          AuditAction = "CASHBOX_CREATE"
	AuditCashBoxConfigUpdate    AuditAction = "CASHBOX_CONFIG_UPDATE"
	AuditCashBoxDelete          AuditAction = "CASHBOX_DELETE"
	AuditClientCreate           AuditAction = "CLIENT_CREATE"
	AuditClientUpdate           AuditAction = "CLIENT_UPDATE"
	AuditClientDelete           AuditAction = "CLIENT_DELETE"
	AuditExpenseCategoryAdd     AuditAction = "EXPENSE_CATEGORY_ADD"
	AuditExpenseCategoryRemove  AuditAction = "EXPENSE_CATEGORY_REMOVE"
	AuditDataReset              AuditAction = "DATA_RESET"
)

// DefaultAuditCap is the number of entries retained.
const DefaultAuditCap = 500

const (
	warningNotReplayed = "cash box effects of prior executions were not replayed"
	warningNotReversed = "cash box balances are not reversed"
)

type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	Details   map[string]any
}

// Warning returns the warning attached to the entry, if any.
func (e AuditEntry) Warning() string {
	w, _ := e.Details["warning"].(string)
	return w
}

type AuditFilter struct {
	Actions []AuditAction
	ActorID string
	Limit   int
}

func (f AuditFilter) match(e AuditEntry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if len(f.Actions) == 0 {
		return true
	}
	for _, a := range f.Actions {
		if a == e.Action {
			return true
		}
	}
	return false
}

type AuditLog struct {
	mu      sync.RWMutex
	entries []AuditEntry
	cap     int
	now     Clock
}

func NewAuditLog(capacity int, clock Clock) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCap
	}
	if clock == nil {
		clock = systemClock
	}
	return &AuditLog{cap: capacity, now: clock}
}

// Record prepends an entry and evicts beyond the cap.
func (l *AuditLog) Record(action AuditAction, details map[string]any, actorID string) AuditEntry {
	if details == nil {
		details = map[string]any{}
	}
	e := AuditEntry{
		ID:        newID(),
		Timestamp: l.now(),
		ActorID:   actorID,
		Action:    action,
		Details:   details,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]AuditEntry, 0, min(len(l.entries)+1, l.cap))
	next = append(next, e)
	for _, old := range l.entries {
		if len(next) == l.cap {
			break
		}
		next = append(next, old)
	}
	l.entries = next
	return e
}

// List returns entries newest first. Admin only.
func (l *AuditLog) List(actor Actor, f AuditFilter) ([]AuditEntry, error) {
	if !actor.IsAdmin() {
		return nil, unauthorized("reading the audit log")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []AuditEntry
	for _, e := range l.entries {
		if !f.match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot returns a copy of all entries for persistence.
func (l *AuditLog) Snapshot() []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]AuditEntry(nil), l.entries...)
}

// Replace loads entries, newest first, truncating to the cap.
func (l *AuditLog) Replace(entries []AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(entries) > l.cap {
		entries = entries[:l.cap]
	}
	l.entries = append([]AuditEntry(nil), entries...)
}
