// Package scheduler runs the channel scan on a fixed interval so the join
// registry stays current without anyone invoking a command.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/welcome-tracker/internal/services"
)

// Refresher is the engine operation the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context) (services.ScanResult, error)
}

// Stats describes the scheduler's history since Start.
type Stats struct {
	Runs       int64
	Failures   int64
	LastRunAt  *time.Time
	LastResult services.ScanResult
	LastError  string
}

// Scheduler calls Refresh once at start and then every interval. Runs never
// overlap: a tick that fires during a run is dropped by the ticker.
type Scheduler struct {
	engine   Refresher
	interval time.Duration
	timeout  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// New returns a scheduler. timeout bounds a single run; zero means no bound.
func New(engine Refresher, interval, timeout time.Duration) *Scheduler {
	return &Scheduler{engine: engine, interval: interval, timeout: timeout}
}

// Start launches the loop. It is a no-op when interval <= 0.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		log.Info().Msg("periodic refresh disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	log.Info().Dur("interval", s.interval).Msg("starting refresh scheduler")
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels an in-flight run and waits for the loop to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()

	st := s.Stats()
	ev := log.Info().Int64("runs", st.Runs).Int64("failures", st.Failures)
	if st.LastError != "" {
		ev = ev.Str("last_error", st.LastError)
	}
	ev.Msg("refresh scheduler stopped")
}

// Stats returns a snapshot.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.engine.Refresh(ctx)
	now := time.Now()

	s.mu.Lock()
	s.stats.Runs++
	s.stats.LastRunAt = &now
	s.stats.LastResult = res
	s.stats.LastError = ""
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("scheduled refresh failed")
	}
}
