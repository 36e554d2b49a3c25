package worker

import (
	"context"
	"sync"
	"time"

	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

type schedule struct {
	runner   *Runner
	interval time.Duration
}

// Scheduler runs jobs on fixed intervals in addition to the cron endpoints
type Scheduler struct {
	schedules []schedule
	logger    logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates an empty Scheduler
func NewScheduler(logger logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{logger: logger, ctx: ctx, cancel: cancel}
}

// Every registers runner on interval. A zero interval disables it.
func (s *Scheduler) Every(interval time.Duration, runner *Runner) {
	if interval <= 0 {
		s.logger.Info("Schedule disabled", "job", runner.Name())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = append(s.schedules, schedule{runner: runner, interval: interval})
}

// Start launches one loop per schedule
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	for _, sc := range s.schedules {
		s.wg.Add(1)
		go func(sc schedule) {
			defer s.wg.Done()
			s.loop(sc)
		}(sc)

		s.logger.Info("Schedule started", "job", sc.runner.Name(), "interval", sc.interval)
	}
}

// Stop cancels in-flight runs and waits for the loops to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(sc schedule) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, sc.interval)
			_, _ = sc.runner.Run(ctx)
			cancel()
		}
	}
}
