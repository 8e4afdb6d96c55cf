package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/eventbus"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// Schedule actions.
const (
	ActionStart       = "start"
	ActionStop        = "stop"
	ActionReset       = "reset"
	ActionRestart     = "restart"
	ActionSynchronize = "synchronize"
)

var (
	// ErrInvalidSchedule covers bad cron expressions, actions and missing timer ids.
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrScheduleNotFound is returned when updating or deleting an unknown schedule.
	ErrScheduleNotFound = errors.New("schedule not found")
)

// Schedule is a cron-triggered timer action.
type Schedule struct {
	ID             int64     `json:"id"`
	TimerID        string    `json:"timer_id"`
	Action         string    `json:"action"`
	CronExpression string    `json:"cron_expression"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the action, the cron expression and that timer actions name a timer.
func (s Schedule) Validate() error {
	switch s.Action {
	case ActionStart, ActionStop, ActionReset, ActionRestart:
		if s.TimerID == "" {
			return fmt.Errorf("%w: action %q needs a timer_id", ErrInvalidSchedule, s.Action)
		}
	case ActionSynchronize:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidSchedule, s.Action)
	}
	if _, err := cron.ParseStandard(s.CronExpression); err != nil {
		return fmt.Errorf("%w: invalid cron expression: %v", ErrInvalidSchedule, err)
	}
	return nil
}

type SchedulerService struct {
	db     *sql.DB
	timers *TimerService
	bus    eventbus.Publisher
	cron   *cron.Cron
	jobs   map[int64]cron.EntryID
	mu     sync.Mutex
}

func NewSchedulerService(db *sql.DB, timers *TimerService, bus eventbus.Publisher) *SchedulerService {
	return &SchedulerService{
		db:     db,
		timers: timers,
		bus:    bus,
		cron:   cron.New(),
		jobs:   make(map[int64]cron.EntryID),
	}
}

func (s *SchedulerService) Start() {
	logger.Infof("Starting Scheduler Service...")
	s.cron.Start()
	if err := s.LoadSchedules(); err != nil {
		logger.Errorf("Failed to load schedules: %v", err)
	}
}

func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
}

// LoadSchedules replaces all cron jobs with the enabled rows of timer_schedules.
func (s *SchedulerService) LoadSchedules() error {
	schedules, err := s.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.jobs {
		s.cron.Remove(entryID)
	}
	s.jobs = make(map[int64]cron.EntryID)

	count := 0
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.addJob(sched); err != nil {
			logger.Errorf("Failed to add job for schedule %d: %v", sched.ID, err)
			continue
		}
		count++
	}
	logger.Infof("Loaded %d active timer schedules", count)
	return nil
}

// List returns every schedule, enabled or not.
func (s *SchedulerService) List() ([]Schedule, error) {
	rows, err := s.db.Query("SELECT id, timer_id, action, cron_expression, enabled, created_at FROM timer_schedules ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sched Schedule
		if err := rows.Scan(&sched.ID, &sched.TimerID, &sched.Action, &sched.CronExpression, &sched.Enabled, &sched.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// Get returns one schedule.
func (s *SchedulerService) Get(id int64) (Schedule, error) {
	var sched Schedule
	err := s.db.QueryRow("SELECT id, timer_id, action, cron_expression, enabled, created_at FROM timer_schedules WHERE id = ?", id).
		Scan(&sched.ID, &sched.TimerID, &sched.Action, &sched.CronExpression, &sched.Enabled, &sched.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, fmt.Errorf("%w: %d", ErrScheduleNotFound, id)
	}
	return sched, err
}

func (s *SchedulerService) addJob(sched Schedule) error {
	entryID, err := s.cron.AddFunc(sched.CronExpression, func() {
		s.Run(sched)
	})
	if err != nil {
		return err
	}
	s.jobs[sched.ID] = entryID
	return nil
}

// Run executes a schedule's action immediately.
func (s *SchedulerService) Run(sched Schedule) {
	logger.Infof("Executing scheduled %s for timer %q (Schedule ID: %d)", sched.Action, sched.TimerID, sched.ID)
	ctx := WithSource(context.Background(), "schedule")

	var err error
	switch sched.Action {
	case ActionStart:
		_, err = s.timers.Start(ctx, sched.TimerID)
	case ActionStop:
		_, err = s.timers.Stop(ctx, sched.TimerID)
	case ActionReset:
		_, err = s.timers.Reset(ctx, sched.TimerID)
	case ActionRestart:
		_, err = s.timers.Restart(ctx, sched.TimerID)
	case ActionSynchronize:
		_, err = s.timers.Synchronize(ctx)
	default:
		err = fmt.Errorf("%w: unknown action %q", ErrInvalidSchedule, sched.Action)
	}

	data := map[string]interface{}{
		"schedule_id": sched.ID,
		"timer_id":    sched.TimerID,
		"action":      sched.Action,
	}
	if err != nil {
		logger.Errorf("Scheduled %s for timer %q failed: %v", sched.Action, sched.TimerID, err)
		data["error"] = err.Error()
	}
	if s.bus != nil {
		if perr := s.bus.Publish(domain.Event{
			AggregateType: "schedule",
			AggregateID:   fmt.Sprintf("%d", sched.ID),
			EventType:     domain.ScheduleTriggered,
			EventData:     data,
		}); perr != nil {
			logger.Errorf("Failed to publish schedule event: %v", perr)
		}
	}
}

// AddSchedule validates, stores and activates a new schedule.
func (s *SchedulerService) AddSchedule(timerID, action, cronExpr string) (int64, error) {
	sched := Schedule{TimerID: timerID, Action: action, CronExpression: cronExpr, Enabled: true}
	if err := sched.Validate(); err != nil {
		return 0, err
	}

	res, err := s.db.Exec("INSERT INTO timer_schedules (timer_id, action, cron_expression, enabled) VALUES (?, ?, ?, 1)", timerID, action, cronExpr)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	sched.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.addJob(sched); err != nil {
		return id, fmt.Errorf("saved to DB but failed to schedule: %v", err)
	}

	return id, nil
}

func (s *SchedulerService) DeleteSchedule(id int64) error {
	res, err := s.db.Exec("DELETE FROM timer_schedules WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrScheduleNotFound, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[id]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, id)
	}

	return nil
}

// UpdateSchedule changes the cron expression (when non-empty) and the enabled flag.
func (s *SchedulerService) UpdateSchedule(id int64, cronExpr string, enabled bool) error {
	current, err := s.Get(id)
	if err != nil {
		return err
	}
	if cronExpr != "" {
		current.CronExpression = cronExpr
	}
	current.Enabled = enabled
	if err := current.Validate(); err != nil {
		return err
	}

	if _, err := s.db.Exec("UPDATE timer_schedules SET enabled = ?, cron_expression = ? WHERE id = ?", enabled, current.CronExpression, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.jobs[id]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, id)
	}
	if enabled {
		if err := s.addJob(current); err != nil {
			logger.Errorf("Failed to reschedule job %d: %v", id, err)
		}
	}

	return nil
}

// ActiveJobs returns the number of scheduled cron entries.
func (s *SchedulerService) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
