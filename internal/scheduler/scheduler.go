package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds configuration for the daily broadcast scheduler.
type Config struct {
	// Timezone for scheduling (e.g., "America/Chicago").
	Timezone string
	// DailyHour is the hour (0-23) when the daily broadcast fires.
	DailyHour int
	// DailyMinute is the minute (0-59) when the daily broadcast fires.
	DailyMinute int
	// CheckInterval is how often to check if it's time to run.
	CheckInterval time.Duration
}

// DefaultConfig returns the default scheduler configuration:
// 13:00 UTC, matching the original daily reminder slot.
func DefaultConfig() Config {
	return Config{
		Timezone:      "UTC",
		DailyHour:     13,
		DailyMinute:   0,
		CheckInterval: 30 * time.Second,
	}
}

// Job is the work the scheduler fires once per day.
type Job func(ctx context.Context)

// Scheduler runs a job at a fixed local time, once per day. A manual
// RunNow trigger is exposed for the HTTP endpoint.
type Scheduler struct {
	config      Config
	job         Job
	location    *time.Location
	logger      *zerolog.Logger
	mu          sync.Mutex
	lastRunDate string // YYYY-MM-DD of last run
	running     bool
	stopCh      chan struct{}
	now         func() time.Time
}

// New creates a scheduler for the given job.
func New(config Config, job Job, logger *zerolog.Logger) (*Scheduler, error) {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		config:   config,
		job:      job,
		location: loc,
		logger:   logger,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().
		Str("timezone", s.config.Timezone).
		Str("daily_time", s.formatTime()).
		Msg("daily scheduler started")

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("daily scheduler stopped by context")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("daily scheduler stopped")
			return
		case <-ticker.C:
			s.checkAndRun(ctx)
		}
	}
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
}

// checkAndRun fires the job if the scheduled minute has arrived and it
// has not run yet today.
func (s *Scheduler) checkAndRun(ctx context.Context) {
	now := s.now().In(s.location)
	today := now.Format("2006-01-02")

	s.mu.Lock()
	alreadyRan := s.lastRunDate == today
	s.mu.Unlock()

	if alreadyRan {
		return
	}
	if now.Hour() != s.config.DailyHour || now.Minute() != s.config.DailyMinute {
		return
	}

	s.logger.Info().Str("date", today).Msg("starting daily broadcast")

	s.mu.Lock()
	s.lastRunDate = today
	s.mu.Unlock()

	s.job(ctx)
}

// RunNow forces an immediate run of the job.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.logger.Info().Msg("manual broadcast triggered")
	s.job(ctx)
}

// IsRunning returns whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) formatTime() string {
	return time.Date(2000, 1, 1, s.config.DailyHour, s.config.DailyMinute, 0, 0, time.UTC).Format("15:04")
}
