package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/timo-math/adaptive-backend/internal/logger"
)

// PoolWarmer reloads the question pool into the cache.
type PoolWarmer interface {
	WarmPoolCache(ctx context.Context) error
}

// Scheduler runs background maintenance jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	warmer    PoolWarmer
	interval  time.Duration
	log       *logger.Logger
}

func New(warmer PoolWarmer, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		warmer:    warmer,
		interval:  interval,
		log:       log.With("service", "Scheduler"),
	}
}

// Start registers the jobs and runs them in the background. The first run
// happens immediately.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %v", s.interval)
	}
	if _, err := s.scheduler.Every(s.interval).SingletonMode().Do(s.warmPool); err != nil {
		return fmt.Errorf("schedule pool warmer: %w", err)
	}
	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) warmPool() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.warmer.WarmPoolCache(ctx); err != nil {
		s.log.Warn("pool cache warm-up failed", "error", err)
		return
	}
	s.log.Debug("pool cache warmed")
}
