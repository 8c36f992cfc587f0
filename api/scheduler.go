/*
scheduler.go - Automated monthly distribution scheduler

PURPOSE:
  Periodically distributes the previous calendar month's revenue for
  every active song with a configured monthly revenue. Distribution is
  idempotent per (song, period), so a tick that overlaps a manual admin
  run is a harmless no-op.

DESIGN:
  - Background goroutine with a configurable check interval
  - Each tick targets the previous month (periods distribute after
    they close)
  - Songs already distributed for the period are skipped by the engine
  - One song's failure never blocks the rest of the batch

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the scheduler is active (default: false; most
    deployments trigger distributions through the admin endpoint)

USAGE:
  scheduler := NewDistributionScheduler(store, engine, logger)
  scheduler.Enabled = true
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Distribute endpoint (manual distribution)
  - royalty/engine.go: Distribution semantics
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tunevest/royalty-engine/royalty"
)

// DistributionScheduler runs monthly revenue distributions in the
// background.
type DistributionScheduler struct {
	Store         royalty.TxStore
	Engine        *royalty.Engine
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDistributionScheduler creates a scheduler. It starts disabled.
func NewDistributionScheduler(store royalty.TxStore, engine *royalty.Engine, logger *zap.Logger) *DistributionScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DistributionScheduler{
		Store:         store,
		Engine:        engine,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ds *DistributionScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled {
		ds.Logger.Info("distribution scheduler disabled, not starting")
		return
	}

	ds.ticker = time.NewTicker(ds.CheckInterval)
	ds.wg.Add(1)
	go ds.run()

	ds.Logger.Info("distribution scheduler started",
		zap.Duration("check_interval", ds.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight tick to finish.
func (ds *DistributionScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker != nil {
		ds.ticker.Stop()
		close(ds.stop)
		ds.wg.Wait()
		ds.Logger.Info("distribution scheduler stopped")
	}
}

func (ds *DistributionScheduler) run() {
	defer ds.wg.Done()

	// Run immediately on start
	ds.checkAndDistribute()

	for {
		select {
		case <-ds.ticker.C:
			ds.checkAndDistribute()
		case <-ds.stop:
			return
		}
	}
}

func (ds *DistributionScheduler) checkAndDistribute() {
	ctx := context.Background()
	period := royalty.PreviousPeriod(time.Now().UTC())

	songs, err := ds.Store.ListSongs(ctx, true)
	if err != nil {
		ds.Logger.Error("scheduler failed to list songs", zap.Error(err))
		return
	}

	distributed := 0
	skipped := 0
	for _, song := range songs {
		if song.MonthlyRevenue.Sign() <= 0 {
			skipped++
			continue
		}

		result, err := ds.Engine.Distribute(ctx, song.ID, period, song.MonthlyRevenue)
		if err != nil {
			ds.Logger.Error("scheduled distribution failed",
				zap.String("song_id", string(song.ID)),
				zap.String("period", string(period)),
				zap.Error(err))
			continue
		}
		if result.AlreadyDistributed {
			skipped++
			continue
		}
		distributed++
	}

	if distributed > 0 || skipped > 0 {
		ds.Logger.Info("scheduled distribution pass complete",
			zap.String("period", string(period)),
			zap.Int("distributed", distributed),
			zap.Int("skipped", skipped))
	}
}

// RunNow triggers an immediate pass (for testing/admin).
func (ds *DistributionScheduler) RunNow() {
	ds.checkAndDistribute()
}
