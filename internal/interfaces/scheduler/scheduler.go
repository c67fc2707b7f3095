// Package scheduler triggers sync passes at fixed times of day.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"finsync/internal/domain/openfinance"
)

// ScheduleTime represents a specific time of day when the scheduler should run.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	_, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// Runner runs one full sync pass.
type Runner interface {
	RunFullSync(ctx context.Context) (*openfinance.PassResult, error)
}

// Scheduler manages periodic sync passes at specific times.
// A tick that lands while a pass is still running is dropped by the runner's lock.
type Scheduler struct {
	runner        Runner
	scheduleTimes []ScheduleTime
	runOnStartup  bool
	passTimeout   time.Duration
	log           logrus.FieldLogger
	now           func() time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	lastRunDate string
	mu          sync.Mutex
}

// Config holds configuration for the scheduler.
type Config struct {
	ScheduleTimes []string
	RunOnStartup  bool
	// PassTimeout bounds one pass. 0 means no limit.
	PassTimeout time.Duration
	Logger      logrus.FieldLogger
}

// New creates a new scheduler with the given configuration.
func New(runner Runner, config Config) (*Scheduler, error) {
	scheduleTimes := make([]ScheduleTime, 0, len(config.ScheduleTimes))
	for _, timeStr := range config.ScheduleTimes {
		st, err := ParseScheduleTime(timeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", timeStr, err)
		}
		scheduleTimes = append(scheduleTimes, st)
	}

	if len(scheduleTimes) == 0 {
		return nil, errors.New("at least one schedule time is required")
	}
	sort.Slice(scheduleTimes, func(i, j int) bool {
		return scheduleTimes[i].Hour*60+scheduleTimes[i].Minute < scheduleTimes[j].Hour*60+scheduleTimes[j].Minute
	})

	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger.WithField("times", config.ScheduleTimes).Info("scheduler initialized")

	return &Scheduler{
		runner:        runner,
		scheduleTimes: scheduleTimes,
		runOnStartup:  config.RunOnStartup,
		passTimeout:   config.PassTimeout,
		log:           logger.WithField("component", "scheduler"),
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the schedule loop.
func (s *Scheduler) Start() {
	if s.runOnStartup {
		s.log.Info("running initial sync pass on startup")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runPass()
		}()
	}

	s.wg.Add(1)
	go s.scheduleLoop()

	s.log.Info("scheduler started")
}

// scheduleLoop is the main scheduling loop.
func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Debug("schedule loop stopping")
			return

		case now := <-ticker.C:
			if s.shouldRun(now) {
				s.log.WithField("at", now.Format("15:04")).Info("scheduled sync triggered")
				s.runPass()
			}
		}
	}
}

// shouldRun checks if the current time matches any scheduled time.
// Each scheduled minute fires at most once per day.
func (s *Scheduler) shouldRun(now time.Time) bool {
	currentHour := now.Hour()
	currentMinute := now.Minute()
	currentKey := fmt.Sprintf("%s-%02d:%02d", now.Format("2006-01-02"), currentHour, currentMinute)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRunDate == currentKey {
		return false
	}

	for _, st := range s.scheduleTimes {
		if currentHour == st.Hour && currentMinute == st.Minute {
			s.lastRunDate = currentKey
			return true
		}
	}

	return false
}

// runPass runs one sync pass, bounded by the pass timeout.
func (s *Scheduler) runPass() {
	ctx := s.ctx
	if s.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.passTimeout)
		defer cancel()
	}

	result, err := s.runner.RunFullSync(ctx)
	if errors.Is(err, openfinance.ErrSyncInProgress) {
		s.log.Info("sync pass already running, skipping scheduled trigger")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("scheduled sync pass failed")
		return
	}

	s.log.WithFields(logrus.Fields{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	}).Info("scheduled sync pass finished")
}

// Shutdown cancels a running pass and waits for the loop to stop.
func (s *Scheduler) Shutdown(timeout time.Duration) bool {
	s.log.Info("initiating graceful shutdown")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return true
	case <-time.After(timeout):
		s.log.Warn("timeout waiting for scheduler to stop")
		return false
	}
}

// TriggerNow runs a pass in the background immediately.
func (s *Scheduler) TriggerNow() {
	s.log.Info("manual trigger")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPass()
	}()
}

// NextScheduledTime returns the next scheduled run time.
func (s *Scheduler) NextScheduledTime() time.Time {
	now := s.now()

	for _, st := range s.scheduleTimes {
		scheduledTime := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
		if scheduledTime.After(now) {
			return scheduledTime
		}
	}

	st := s.scheduleTimes[0]
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), st.Hour, st.Minute, 0, 0, now.Location())
}

// ScheduleTimes returns the configured schedule times in order.
func (s *Scheduler) ScheduleTimes() []ScheduleTime {
	return s.scheduleTimes
}
