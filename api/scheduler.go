/*
scheduler.go - Periodic snapshot flush

PURPOSE:
  Every mutation persists the collections it touched, but a failed write is
  only logged so the desk keeps working. The scheduler periodically flushes
  all five collections so a transient storage failure heals on the next tick.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Flushes once more on Stop so shutdown leaves a complete snapshot
  - Records the last run for the health endpoint

USAGE:
  scheduler := NewFlushScheduler(l, 5*time.Minute)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/ledger.go: Flush
  - cmd/server/main.go: Lifecycle
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"
)

// Flusher is implemented by *ledger.Ledger.
type Flusher interface {
	Flush(ctx context.Context) error
}

// FlushRun records the outcome of one flush.
type FlushRun struct {
	At  time.Time
	Err error
}

// FlushScheduler periodically persists the full ledger state.
type FlushScheduler struct {
	Ledger   Flusher
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   FlushRun
	runs   int
}

// NewFlushScheduler creates a new scheduler. A non-positive interval
// disables it.
func NewFlushScheduler(l Flusher, interval time.Duration) *FlushScheduler {
	return &FlushScheduler{
		Ledger:   l,
		Interval: interval,
		Enabled:  interval > 0,
	}
}

// Start begins the scheduler.
func (fs *FlushScheduler) Start() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if fs.ticker != nil {
		return
	}

	fs.ticker = time.NewTicker(fs.Interval)
	fs.stop = make(chan struct{})
	fs.wg.Add(1)

	go fs.run(fs.ticker, fs.stop)

	log.Printf("[Scheduler] Started with flush interval: %v", fs.Interval)
}

// Stop stops the scheduler and performs a final flush.
func (fs *FlushScheduler) Stop() {
	fs.mu.Lock()
	ticker, stop := fs.ticker, fs.stop
	fs.ticker, fs.stop = nil, nil
	fs.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	fs.wg.Wait()
	fs.flush()
	log.Println("[Scheduler] Stopped")
}

// LastRun returns the most recent flush and how many have run.
func (fs *FlushScheduler) LastRun() (FlushRun, int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.last, fs.runs
}

func (fs *FlushScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer fs.wg.Done()

	for {
		select {
		case <-ticker.C:
			fs.flush()
		case <-stop:
			return
		}
	}
}

func (fs *FlushScheduler) flush() {
	err := fs.Ledger.Flush(context.Background())
	if err != nil {
		log.Printf("[Scheduler] Flush failed: %v", err)
	}

	fs.mu.Lock()
	fs.last = FlushRun{At: time.Now(), Err: err}
	fs.runs++
	fs.mu.Unlock()
}
