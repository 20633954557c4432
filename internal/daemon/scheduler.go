package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/zerolock-network/zerolock/internal/infra/dsa"
)

// ─── Heartbeat ──────────────────────────────────────────────────────────────
// Each job runs at most once per its own period. The scheduler wakes every
// tick, runs whatever the deadline queue says is due, and reschedules it.
// Jobs run sequentially so sweeps never race each other.

// Job is periodic maintenance work.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) (int, error) // returns how much work was done
}

// Scheduler runs Jobs on their periods.
type Scheduler struct {
	tick   time.Duration
	queue  *dsa.DeadlineQueue
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler creates a scheduler that wakes every tick.
func NewScheduler(tick time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		tick:   tick,
		queue:  dsa.NewDeadlineQueue(),
		logger: logger.With("component", "heartbeat"),
		now:    time.Now,
	}
}

// Add schedules job to first run one period from now.
func (s *Scheduler) Add(job Job) {
	s.queue.Push(dsa.Item{Key: job.Name, Due: s.now().Add(job.Every), Value: job})
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int { return s.queue.Len() }

// RunDue runs every job whose deadline has passed and returns how many ran.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()
	due := s.queue.PopDue(now)
	for _, item := range due {
		job := item.Value.(Job)
		n, err := job.Run(ctx)
		switch {
		case err != nil:
			s.logger.Warn("job failed", "job", job.Name, "err", err)
		case n > 0:
			s.logger.Info("job finished", "job", job.Name, "processed", n)
		}
		s.queue.Push(dsa.Item{Key: job.Name, Due: now.Add(job.Every), Value: job})
	}
	return len(due)
}

// Run wakes every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}
