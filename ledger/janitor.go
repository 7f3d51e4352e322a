/*
janitor.go - Idempotency retention sweeper

PURPOSE:
  Periodically prunes idempotency records older than the retention
  window. A retry may arrive arbitrarily late, so the window should be
  generous (default 30 days); ledger entries themselves are never pruned.

DESIGN:
  - Background goroutine on a ticker, Start/Stop lifecycle
  - Each sweep is one store call; failures are logged and retried on the
    next tick
*/
package ledger

import (
	"context"
	"log"
	"sync"
	"time"
)

// Janitor prunes expired idempotency records on an interval.
type Janitor struct {
	Store     Store
	Interval  time.Duration
	Retention time.Duration

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
	now     func() time.Time
}

// NewJanitor creates a janitor with hourly sweeps and a 30-day window.
func NewJanitor(store Store) *Janitor {
	return &Janitor{
		Store:     store,
		Interval:  time.Hour,
		Retention: 30 * 24 * time.Hour,
		stop:      make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the background sweep loop.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.started {
		return
	}
	j.started = true
	j.ticker = time.NewTicker(j.Interval)
	j.wg.Add(1)
	go j.run(j.ticker.C)

	log.Printf("[Janitor] Started: interval=%v retention=%v", j.Interval, j.Retention)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.started || j.stopped {
		j.mu.Unlock()
		return
	}
	j.stopped = true
	j.ticker.Stop()
	j.mu.Unlock()

	close(j.stop)
	j.wg.Wait()
	log.Println("[Janitor] Stopped")
}

// run receives its tick channel as an argument so Stop never races the
// loop over the ticker field.
func (j *Janitor) run(tick <-chan time.Time) {
	defer j.wg.Done()
	for {
		select {
		case <-tick:
			j.Sweep(context.Background())
		case <-j.stop:
			return
		}
	}
}

// Sweep prunes once. Exposed so operators and tests can trigger it
// directly.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := j.now().Add(-j.Retention)
	pruned, err := j.Store.PruneIdempotency(ctx, cutoff)
	if err != nil {
		log.Printf("[Janitor] Prune failed: %v", err)
		return
	}
	if pruned > 0 {
		log.Printf("[Janitor] Pruned %d idempotency records older than %s", pruned, cutoff.Format(time.RFC3339))
	}
}
