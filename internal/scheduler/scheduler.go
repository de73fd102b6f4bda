// Package scheduler drives the sequence dispatcher on a fixed cadence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/magictalent/ai-agent-backend/internal/clock"
	"github.com/magictalent/ai-agent-backend/internal/logging"
	"github.com/magictalent/ai-agent-backend/internal/service"
)

var (
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
	ErrSchedulerNotRunning     = errors.New("scheduler not running")
	ErrTickInProgress          = errors.New("tick already in progress")
)

// Config contains scheduler configuration.
type Config struct {
	// Interval between ticks. Default: 60 seconds.
	Interval time.Duration

	// BatchSize is the limit passed to each tick. Default: 50.
	BatchSize int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  60 * time.Second,
		BatchSize: 50,
	}
}

// Dispatcher is the work performed on every tick.
type Dispatcher interface {
	Tick(ctx context.Context, limit int) *service.TickResult
}

// Stats contains scheduler statistics.
type Stats struct {
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at,omitempty"`

	// Ticks is the number of ticks that ran to completion or panicked.
	Ticks int64 `json:"ticks"`

	// Skipped counts triggers dropped because a tick was in flight.
	Skipped int64 `json:"skipped"`

	Panics         int64      `json:"panics"`
	ItemsProcessed int64      `json:"items_processed"`
	LastTickAt     *time.Time `json:"last_tick_at,omitempty"`
}

// Scheduler runs the dispatcher from one loop goroutine. Ticks never overlap.
type Scheduler struct {
	config     Config
	dispatcher Dispatcher
	clock      clock.Clock
	logger     zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	busy atomic.Bool

	statsMu sync.RWMutex
	stats   Stats
}

// New creates a new Scheduler. A nil clock means wall time.
func New(config Config, dispatcher Dispatcher, clk clock.Clock) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{
		config:     config,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logging.Component("scheduler"),
	}
}

// Start begins ticking. The ticker is armed before Start returns.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	now := s.clock.Now()
	s.statsMu.Lock()
	s.stats.Running = true
	s.stats.StartedAt = &now
	s.statsMu.Unlock()

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Int("batch_size", s.config.BatchSize).
		Msg("scheduler starting")

	ticker := s.clock.NewTicker(s.config.Interval)
	s.wg.Add(1)
	go s.runLoop(loopCtx, ticker)
	return nil
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.logger.Info().Msg("scheduler stopping")
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()

	s.statsMu.Lock()
	s.stats.Running = false
	s.statsMu.Unlock()

	s.logger.Info().Msg("scheduler stopped")
	return nil
}

// TriggerNow runs one tick on the caller's goroutine. It works whether or
// not the loop is running and returns ErrTickInProgress instead of
// overlapping a running tick. A limit <= 0 uses the configured batch size.
func (s *Scheduler) TriggerNow(ctx context.Context, limit int) (*service.TickResult, error) {
	return s.runTick(ctx, limit)
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

func (s *Scheduler) runLoop(ctx context.Context, ticker clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			// Stop must not cut a tick short; items would be left claimed.
			if _, err := s.runTick(context.WithoutCancel(ctx), 0); err != nil && !errors.Is(err, ErrTickInProgress) {
				s.logger.Error().Err(err).Msg("tick failed")
			}
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context, limit int) (result *service.TickResult, err error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.statsMu.Lock()
		s.stats.Skipped++
		s.statsMu.Unlock()
		s.logger.Debug().Msg("tick skipped, previous tick still running")
		return nil, ErrTickInProgress
	}
	defer s.busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
			s.statsMu.Lock()
			s.stats.Ticks++
			s.stats.Panics++
			s.statsMu.Unlock()
		}
	}()

	if limit <= 0 {
		limit = s.config.BatchSize
	}
	started := s.clock.Now()
	result = s.dispatcher.Tick(ctx, limit)

	s.statsMu.Lock()
	s.stats.Ticks++
	s.stats.LastTickAt = &started
	if result != nil {
		s.stats.ItemsProcessed += int64(result.Processed)
	}
	s.statsMu.Unlock()
	return result, nil
}
