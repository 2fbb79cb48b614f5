/*
scheduler.go - Automated consolidation scheduler

PURPOSE:
  Periodically consolidates every billing group over the elapsed portion of
  the current month, so invoices stay current without an operator pressing
  the button.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each cycle consolidates all groups for [first of month, now]
  - Groups with no new purchases are skipped (that is the batch semantics,
    not an error)
  - An all-groups-failed cycle is logged and retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewConsolidationScheduler(handler, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Consolidate endpoint (manual consolidation)
  - billing/consolidator.go: ConsolidateBatch semantics
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cantina/billing-engine/billing"
)

// ConsolidationScheduler handles automated periodic consolidation.
type ConsolidationScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	log     zerolog.Logger
	ticker  *time.Ticker
	stop    chan bool
	stopped bool
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewConsolidationScheduler creates a new scheduler.
func NewConsolidationScheduler(handler *Handler, log zerolog.Logger) *ConsolidationScheduler {
	return &ConsolidationScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.With().Str("component", "scheduler").Logger(),
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (cs *ConsolidationScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.log.Info().Msg("scheduler disabled, not starting")
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.wg.Add(1)

	go cs.run()

	cs.log.Info().Dur("interval", cs.CheckInterval).Msg("scheduler started")
}

// Stop stops the scheduler. Safe to call more than once.
func (cs *ConsolidationScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker == nil || cs.stopped {
		return
	}
	cs.stopped = true
	cs.ticker.Stop()
	close(cs.stop)
	cs.wg.Wait()
	cs.log.Info().Msg("scheduler stopped")
}

func (cs *ConsolidationScheduler) run() {
	defer cs.wg.Done()

	// Run immediately on start
	cs.consolidateAll()

	for {
		select {
		case <-cs.ticker.C:
			cs.consolidateAll()
		case <-cs.stop:
			return
		}
	}
}

func (cs *ConsolidationScheduler) consolidateAll() {
	ctx := context.Background()
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	groups, err := cs.Handler.Store.ListGroups(ctx)
	if err != nil {
		cs.log.Error().Err(err).Msg("listing groups for scheduled consolidation")
		return
	}
	if len(groups) == 0 {
		return
	}

	groupIDs := make([]billing.GroupID, len(groups))
	for i, g := range groups {
		groupIDs[i] = g.ID
	}

	results, err := cs.Handler.Consolidator.ConsolidateBatch(ctx, groupIDs, start, now)
	if err != nil && !errors.Is(err, billing.ErrAllGroupsFailed) {
		cs.log.Error().Err(err).Msg("scheduled consolidation failed")
		return
	}

	created, updated, skipped := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.Result.Created:
			created++
		case r.Result.Updated:
			updated++
		}
	}

	if created > 0 || updated > 0 {
		cs.log.Info().
			Int("created", created).
			Int("updated", updated).
			Int("skipped", skipped).
			Msg("scheduled consolidation completed")
	}
}

// RunNow triggers an immediate cycle (for testing/admin).
func (cs *ConsolidationScheduler) RunNow() {
	cs.consolidateAll()
}
