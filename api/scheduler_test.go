package api_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cambio-ledger/api"
	"github.com/warp/cambio-ledger/ledger"
	"github.com/warp/cambio-ledger/ledger/store"
)

type countingFlusher struct {
	calls atomic.Int32
	err   error
}

func (f *countingFlusher) Flush(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func TestFlushScheduler_FlushesOnTickAndStop(t *testing.T) {
	f := &countingFlusher{}
	s := api.NewFlushScheduler(f, 10*time.Millisecond)

	s.Start()
	require.Eventually(t, func() bool { return f.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	stopped := f.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, f.calls.Load(), "no flush after Stop")

	last, runs := s.LastRun()
	assert.Equal(t, int(stopped), runs)
	assert.NoError(t, last.Err)

	// Stopping twice is harmless.
	s.Stop()
}

func TestFlushScheduler_Disabled(t *testing.T) {
	f := &countingFlusher{}
	s := api.NewFlushScheduler(f, 0)
	assert.False(t, s.Enabled)

	s.Start()
	s.Stop()
	assert.Zero(t, f.calls.Load())
}

func TestFlushScheduler_RecordsFailure(t *testing.T) {
	f := &countingFlusher{err: errors.New("disk full")}
	s := api.NewFlushScheduler(f, time.Hour)

	s.Start()
	s.Stop()

	last, runs := s.LastRun()
	assert.Equal(t, 1, runs)
	assert.EqualError(t, last.Err, "disk full")
}

func TestFlushScheduler_HealsFailedPersist(t *testing.T) {
	// GIVEN: A mutation whose persist failed
	// WHEN: The scheduler flushes after storage recovers
	// THEN: The store holds the mutation
	mem := store.NewMemory()
	l := ledger.New(mem, ledger.Options{})
	require.NoError(t, l.Load(context.Background()))

	mem.FailSaves(errors.New("locked"))
	_, err := l.AddClient(context.Background(), ledger.SystemActor, "Ana", nil)
	require.NoError(t, err)
	mem.FailSaves(nil)

	s := api.NewFlushScheduler(l, time.Hour)
	s.Start()
	s.Stop()

	clients, err := mem.LoadClients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Ana", clients[0].Name)
}
