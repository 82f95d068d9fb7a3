package ledger_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cambio-ledger/ledger"
)

func TestAuditLog_NewestFirstAndCapped(t *testing.T) {
	// GIVEN: A log capped at 3
	// WHEN: Recording 5 entries
	// THEN: Only the 3 newest remain, newest first
	log := ledger.NewAuditLog(3, newClock().Now)
	for i := 0; i < 5; i++ {
		log.Record(ledger.AuditOperationExecute, map[string]any{"n": i}, "admin-1")
	}

	entries, err := log.List(admin, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, want := range []int{4, 3, 2} {
		assert.Equal(t, want, entries[i].Details["n"], fmt.Sprintf("entry %d", i))
	}
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
}

func TestAuditLog_AdminOnlyAndFilters(t *testing.T) {
	log := ledger.NewAuditLog(0, nil)
	log.Record(ledger.AuditClientCreate, nil, "admin-1")
	log.Record(ledger.AuditOperationDelete, map[string]any{"warning": "not reversed"}, "admin-2")
	log.Record(ledger.AuditClientDelete, nil, "admin-1")

	_, err := log.List(user, ledger.AuditFilter{})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	byActor, err := log.List(admin, ledger.AuditFilter{ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	limited, err := log.List(admin, ledger.AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, ledger.AuditClientDelete, limited[0].Action)

	deletes, err := log.List(admin, ledger.AuditFilter{Actions: []ledger.AuditAction{ledger.AuditOperationDelete}})
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	assert.Equal(t, "not reversed", deletes[0].Warning())
	assert.Empty(t, limited[0].Warning())
}

func TestAuditLog_ReplaceTruncatesToCap(t *testing.T) {
	log := ledger.NewAuditLog(2, nil)
	log.Replace([]ledger.AuditEntry{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	assert.Equal(t, 2, log.Len())
	snap := log.Snapshot()
	assert.Equal(t, "a", snap[0].ID)
}

func TestClientRegistry(t *testing.T) {
	reg := ledger.NewClientRegistry(nil)

	_, err := reg.Add("  ", nil)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	bruno, err := reg.Add("Bruno", nil)
	require.NoError(t, err)
	_, err = reg.Add("ana", nil)
	require.NoError(t, err)

	found, ok := reg.FindByName("BRUNO")
	require.True(t, ok)
	assert.Equal(t, bruno.ID, found.ID)

	clash := "Ana"
	_, err = reg.Update(bruno.ID, &clash, nil)
	assert.ErrorIs(t, err, ledger.ErrDuplicateClient)

	names := []string{}
	for _, c := range reg.List() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"ana", "Bruno"}, names)
}

func TestCategoryRegistry(t *testing.T) {
	reg := ledger.NewCategoryRegistry("sueldos")

	assert.False(t, reg.Add("sueldos"))
	assert.True(t, reg.Add("costos_fijos"))
	assert.True(t, reg.Contains("costos_fijos"))
	assert.True(t, reg.Remove("sueldos"))
	assert.False(t, reg.Remove("sueldos"))
	assert.Equal(t, []ledger.OperationType{"costos_fijos"}, reg.List())
}
