/*
registry.go - Client and expense-category reference data

PURPOSE:
  Lightweight lookups consumed by the ledger:
  - Clients: counterparties of operations, unique by case-insensitive name
  - Expense categories: the operation types reported as expenses

Neither registry checks roles or writes the audit log; the Ledger does
both before calling in.
*/
package ledger

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CLIENTS
// =============================================================================

type Client struct {
	ID        ClientID
	Name      string
	Metadata  map[string]string // contact and banking details
	CreatedAt time.Time
}

func (c Client) clone() Client {
	if c.Metadata != nil {
		m := make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			m[k] = v
		}
		c.Metadata = m
	}
	return c
}

type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[ClientID]Client
	now     Clock
}

func NewClientRegistry(clock Clock) *ClientRegistry {
	if clock == nil {
		clock = systemClock
	}
	return &ClientRegistry{clients: make(map[ClientID]Client), now: clock}
}

func nameKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Add creates a client. Empty or duplicate names are rejected.
func (r *ClientRegistry) Add(name string, metadata map[string]string) (Client, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Client{}, invalid("name", "must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byNameLocked(name); ok {
		return Client{}, &duplicateClientError{name: name, existing: existing.ID}
	}
	c := Client{ID: ClientID(newID()), Name: name, Metadata: metadata, CreatedAt: r.now()}.clone()
	r.clients[c.ID] = c
	return c.clone(), nil
}

// Update renames a client and/or replaces its metadata.
func (r *ClientRegistry) Update(id ClientID, name *string, metadata map[string]string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return Client{}, &NotFoundError{Kind: "client", ID: string(id)}
	}
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return Client{}, invalid("name", "must not be empty")
		}
		if other, ok := r.byNameLocked(n); ok && other.ID != id {
			return Client{}, &duplicateClientError{name: n, existing: other.ID}
		}
		c.Name = n
	}
	if metadata != nil {
		c.Metadata = metadata
	}
	c = c.clone()
	r.clients[id] = c
	return c.clone(), nil
}

func (r *ClientRegistry) Delete(id ClientID) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return Client{}, &NotFoundError{Kind: "client", ID: string(id)}
	}
	delete(r.clients, id)
	return c, nil
}

func (r *ClientRegistry) Get(id ClientID) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c.clone(), ok
}

// FindByName looks a client up case-insensitively.
func (r *ClientRegistry) FindByName(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byNameLocked(name)
	return c.clone(), ok
}

func (r *ClientRegistry) byNameLocked(name string) (Client, bool) {
	k := nameKey(name)
	for _, c := range r.clients {
		if nameKey(c.Name) == k {
			return c, true
		}
	}
	return Client{}, false
}

// List returns clients ordered by name.
func (r *ClientRegistry) List() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return nameKey(out[i].Name) < nameKey(out[j].Name) })
	return out
}

func (r *ClientRegistry) Snapshot() []Client { return r.List() }

func (r *ClientRegistry) Replace(clients []Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = make(map[ClientID]Client, len(clients))
	for _, c := range clients {
		r.clients[c.ID] = c.clone()
	}
}

type duplicateClientError struct {
	name     string
	existing ClientID
}

func (e *duplicateClientError) Error() string {
	return "client " + e.name + " already exists (" + string(e.existing) + ")"
}

func (e *duplicateClientError) Unwrap() error { return ErrDuplicateClient }

// =============================================================================
// EXPENSE CATEGORIES
// =============================================================================

type CategoryRegistry struct {
	mu   sync.RWMutex
	tags map[OperationType]struct{}
}

func NewCategoryRegistry(tags ...OperationType) *CategoryRegistry {
	r := &CategoryRegistry{tags: make(map[OperationType]struct{})}
	for _, t := range tags {
		r.tags[t] = struct{}{}
	}
	return r
}

// Add reports whether the tag was newly added.
func (r *CategoryRegistry) Add(tag OperationType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[tag]; ok {
		return false
	}
	r.tags[tag] = struct{}{}
	return true
}

// Remove reports whether the tag was present.
func (r *CategoryRegistry) Remove(tag OperationType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[tag]; !ok {
		return false
	}
	delete(r.tags, tag)
	return true
}

func (r *CategoryRegistry) Contains(tag OperationType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tags[tag]
	return ok
}

// List returns the tags sorted.
func (r *CategoryRegistry) List() []OperationType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]OperationType, 0, len(r.tags))
	for t := range r.tags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *CategoryRegistry) Replace(tags []OperationType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = make(map[OperationType]struct{}, len(tags))
	for _, t := range tags {
		r.tags[t] = struct{}{}
	}
}
