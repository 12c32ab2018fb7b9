// Package scheduler implements the Cleanup Scheduler: it fires policy
// executions on daily/weekly/monthly/interval/cron expressions. Firing is
// wall-clock based; a missed tick during downtime is never replayed, only
// the next upcoming one runs.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"gmaildispatch/internal/cleanup/policy"
	"gmaildispatch/internal/storage"
	"gmaildispatch/pkg/logger"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// Scheduler owns one cron.Cron instance for "cron"-type schedules plus a
// goroutine per hand-computed schedule (daily/weekly/monthly/interval).
type Scheduler struct {
	factory *storage.Factory
	engine  *policy.Engine
	cronRunner *cron.Cron
	log     *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Scheduler. Call LoadUser to register a user's schedules and
// Start to begin firing.
func New(factory *storage.Factory, engine *policy.Engine) *Scheduler {
	return &Scheduler{
		factory:    factory,
		engine:     engine,
		cronRunner: cron.New(),
		log:        logger.SchedulerLogger(),
		done:       make(chan struct{}),
	}
}

// LoadUser registers every enabled schedule belonging to userID.
func (s *Scheduler) LoadUser(userID string) error {
	db, err := s.factory.DatabaseFor(userID)
	if err != nil {
		return err
	}
	schedules, err := db.ListSchedules()
	if err != nil {
		return err
	}
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.register(userID, sched); err != nil {
			s.log.Error("failed to register cleanup schedule", zap.Int64("schedule_id", sched.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) register(userID string, sched *storage.CleanupSchedule) error {
	switch sched.Type {
	case "cron":
		_, err := s.cronRunner.AddFunc(sched.Expression, func() { s.fire(userID, sched) })
		return err
	case "daily", "weekly", "monthly", "interval":
		next, err := nextFireTime(sched.Type, sched.Expression, time.Now())
		if err != nil {
			return err
		}
		s.wg.Add(1)
		go s.runHandComputed(userID, sched, next)
		return nil
	default:
		return fmt.Errorf("unsupported schedule type %q", sched.Type)
	}
}

func (s *Scheduler) runHandComputed(userID string, sched *storage.CleanupSchedule, next time.Time) {
	defer s.wg.Done()
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			s.fire(userID, sched)
			var err error
			next, err = nextFireTime(sched.Type, sched.Expression, time.Now())
			if err != nil {
				s.log.Error("failed to compute next fire time, stopping schedule",
					zap.Int64("schedule_id", sched.ID), zap.Error(err))
				return
			}
		case <-s.done:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) fire(userID string, sched *storage.CleanupSchedule) {
	s.log.Info("firing cleanup schedule", zap.String("user_id", userID), zap.Int64("schedule_id", sched.ID), zap.Int64("policy_id", sched.PolicyID))
	if _, err := s.engine.Trigger(userID, sched.PolicyID, policy.TriggerOptions{Force: true}); err != nil {
		s.log.Error("scheduled cleanup trigger failed", zap.Int64("schedule_id", sched.ID), zap.Error(err))
	}
}

// Start begins firing cron-type schedules. Hand-computed schedules are
// already running their own goroutines as of LoadUser.
func (s *Scheduler) Start() {
	s.cronRunner.Start()
	s.log.Info("cleanup scheduler started")
}

// Stop halts all firing and waits for hand-computed goroutines to exit.
func (s *Scheduler) Stop() {
	close(s.done)
	ctx := s.cronRunner.Stop()
	<-ctx.Done()
	s.wg.Wait()
	s.log.Info("cleanup scheduler stopped")
}

// nextFireTime computes the next wall-clock firing moment for a
// hand-computed schedule type, relative to now. It never looks backward
// for a missed tick — only ever the next upcoming occurrence.
func nextFireTime(scheduleType, expression string, now time.Time) (time.Time, error) {
	switch scheduleType {
	case "interval":
		ms, err := strconv.ParseInt(expression, 10, 64)
		if err != nil || ms <= 0 {
			return time.Time{}, fmt.Errorf("interval schedule requires a positive millisecond count, got %q", expression)
		}
		return now.Add(time.Duration(ms) * time.Millisecond), nil

	case "daily":
		hh, mm, err := parseHHMM(expression)
		if err != nil {
			return time.Time{}, err
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case "weekly":
		parts := strings.SplitN(expression, ":", 2)
		if len(parts) != 2 {
			return time.Time{}, fmt.Errorf("weekly schedule expects \"day:HH:MM\", got %q", expression)
		}
		day, ok := weekdays[strings.ToLower(parts[0])[:3]]
		if !ok {
			return time.Time{}, fmt.Errorf("unrecognized weekday %q", parts[0])
		}
		hh, mm, err := parseHHMM(parts[1])
		if err != nil {
			return time.Time{}, err
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		for next.Weekday() != day || !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case "monthly":
		parts := strings.SplitN(expression, ":", 2)
		if len(parts) != 2 {
			return time.Time{}, fmt.Errorf("monthly schedule expects \"DD:HH:MM\", got %q", expression)
		}
		dom, err := strconv.Atoi(parts[0])
		if err != nil || dom < 1 || dom > 31 {
			return time.Time{}, fmt.Errorf("invalid day-of-month %q", parts[0])
		}
		hh, mm, err := parseHHMM(parts[1])
		if err != nil {
			return time.Time{}, err
		}
		next := time.Date(now.Year(), now.Month(), dom, hh, mm, 0, 0, now.Location())
		if !next.After(now) {
			next = time.Date(now.Year(), now.Month()+1, dom, hh, mm, 0, 0, now.Location())
		}
		return next, nil

	default:
		return time.Time{}, fmt.Errorf("unsupported hand-computed schedule type %q", scheduleType)
	}
}

func parseHHMM(s string) (hh, mm int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"HH:MM\", got %q", s)
	}
	hh, err = strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	mm, err = strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hh, mm, nil
}
