// Package schedule fires persisted recurring calls and broadcasts their
// results to every open push channel.
package schedule

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/geomcp/internal/channel"
	"github.com/basket/geomcp/internal/dispatch"
	"github.com/basket/geomcp/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the scheduler.
type Config struct {
	Store      *persistence.Store
	Dispatcher *dispatch.Dispatcher
	Channels   *channel.Registry
	Logger     *slog.Logger
	Interval   time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler periodically queries the store for due schedules, executes each
// one through the dispatcher, and fans the result out to all open channels.
type Scheduler struct {
	store      *persistence.Store
	dispatcher *dispatch.Dispatcher
	channels   *channel.Registry
	logger     *slog.Logger
	interval   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		channels:   cfg.Channels,
		logger:     logger,
		interval:   interval,
	}
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("schedule runner started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("schedule runner stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("schedule: failed to query due schedules", "error", err)
		return
	}
	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
}

// fire runs one due schedule and advances its run timestamps. The run
// timestamps move forward even when the call itself fails, so a broken
// schedule does not fire on every tick.
func (s *Scheduler) fire(ctx context.Context, sched *persistence.Schedule, now time.Time) {
	var params map[string]any
	if err := json.Unmarshal([]byte(sched.ParamsJSON), &params); err != nil {
		s.logger.Error("schedule: invalid params",
			"schedule_id", sched.ID, "schedule_name", sched.Name, "error", err)
		return
	}

	result, callErr := s.dispatcher.Call(ctx, sched.Function, params)

	data := map[string]any{
		"schedule_id":   sched.ID,
		"schedule_name": sched.Name,
		"function":      sched.Function,
	}
	if callErr != nil {
		data["status"] = "error"
		data["error"] = callErr.Error()
		s.logger.Error("schedule: call failed",
			"schedule_id", sched.ID, "schedule_name", sched.Name, "error", callErr)
	} else {
		data["status"] = "success"
		data["result"] = result
	}
	s.broadcast(channel.Message{ID: sched.ID, Event: channel.EventResult, Data: data})

	nextRun, err := NextRunTime(sched.CronExpr, now)
	if err != nil {
		s.logger.Error("schedule: failed to compute next run time",
			"schedule_id", sched.ID, "cron_expr", sched.CronExpr, "error", err)
		return
	}
	if err := s.store.UpdateScheduleRun(ctx, sched.ID, now, nextRun); err != nil {
		s.logger.Error("schedule: failed to update run timestamps",
			"schedule_id", sched.ID, "error", err)
		return
	}

	s.logger.Info("schedule fired",
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"function", sched.Function,
		"next_run_at", nextRun,
	)
}

// broadcast enqueues the frame on every open channel, best effort.
func (s *Scheduler) broadcast(msg channel.Message) {
	for _, id := range s.channels.OpenIDs() {
		if err := s.channels.Enqueue(id, msg); err != nil {
			s.logger.Warn("schedule: broadcast dropped", "client_id", id, "reason", err.Error())
		}
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
