package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"

	"marketdata_hub/models"
)

// MarketHours gates intraday jobs to weekday trading hours in one fixed
// exchange timezone.
type MarketHours struct {
	Location  *time.Location
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
}

// NewMarketHours resolves a timezone name into a gate. Falls back to UTC
// when the name is unknown.
func NewMarketHours(tz string, openHour, openMin, closeHour, closeMin int) MarketHours {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("Unknown market timezone %q, falling back to UTC: %v", tz, err)
		loc = time.UTC
	}
	return MarketHours{
		Location:  loc,
		OpenHour:  openHour,
		OpenMin:   openMin,
		CloseHour: closeHour,
		CloseMin:  closeMin,
	}
}

// IsOpen reports whether the market is open at t. Weekends are closed;
// exchange holidays are not modeled.
func (m MarketHours) IsOpen(t time.Time) bool {
	local := t.In(m.Location)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	open := m.OpenHour*60 + m.OpenMin
	close := m.CloseHour*60 + m.CloseMin
	return minutes >= open && minutes < close
}

// Schedule describes when a job fires. Exactly one of EveryMinutes,
// DailyAt, or WeeklyAt should be set.
type Schedule struct {
	EveryMinutes    int
	DailyAt         string // "16:05"
	WeeklyDay       time.Weekday
	WeeklyAt        string // "01:00", used with WeeklyDay
	MarketHoursOnly bool
}

func (s Schedule) String() string {
	switch {
	case s.EveryMinutes > 0:
		if s.MarketHoursOnly {
			return fmt.Sprintf("every %dm (market hours)", s.EveryMinutes)
		}
		return fmt.Sprintf("every %dm", s.EveryMinutes)
	case s.DailyAt != "":
		return "daily at " + s.DailyAt
	case s.WeeklyAt != "":
		return fmt.Sprintf("weekly %s at %s", s.WeeklyDay, s.WeeklyAt)
	}
	return "unscheduled"
}

// entry is one registered job with its runtime state. Scheduled ticks run
// with no symbol override; manual triggers may carry one.
type entry struct {
	name     string
	dataType models.DataType
	schedule Schedule
	run      func(ctx context.Context, symbols []string)

	paused   atomic.Bool
	inFlight atomic.Bool
	lastRun  atomic.Pointer[time.Time]
}

// JobStatus is the monitoring view of one job.
type JobStatus struct {
	Name     string          `json:"name"`
	DataType models.DataType `json:"data_type,omitempty"`
	Schedule string          `json:"schedule"`
	Paused   bool            `json:"paused"`
	Running  bool            `json:"running"`
	LastRun  *time.Time      `json:"last_run,omitempty"`
	NextRun  *time.Time      `json:"next_run,omitempty"`
}

// Scheduler owns the cron loop and the registered jobs. Jobs never
// overlap themselves: a tick that lands while the previous run is still
// going is skipped.
type Scheduler struct {
	cron    *gocron.Scheduler
	hours   MarketHours
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	started bool
	wired   bool
}

// New creates a scheduler with the given market-hours gate.
func New(hours MarketHours) *Scheduler {
	return &Scheduler{
		cron:    gocron.NewScheduler(time.UTC),
		hours:   hours,
		entries: make(map[string]*entry),
	}
}

// AddJob registers a data-collection job. Must be called before Start.
func (s *Scheduler) AddJob(job Job, schedule Schedule, run func(ctx context.Context, symbols []string)) error {
	return s.add(&entry{
		name:     job.Name(),
		dataType: job.DataType(),
		schedule: schedule,
		run:      run,
	})
}

// AddFunc registers a maintenance job that is not tied to a data type and
// takes no symbol override.
func (s *Scheduler) AddFunc(name string, schedule Schedule, run func(ctx context.Context)) error {
	return s.add(&entry{
		name:     name,
		schedule: schedule,
		run:      func(ctx context.Context, _ []string) { run(ctx) },
	})
}

func (s *Scheduler) add(e *entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.wired {
		return fmt.Errorf("cannot add job %s: scheduler already started", e.name)
	}
	if _, exists := s.entries[e.name]; exists {
		return fmt.Errorf("job %s already registered", e.name)
	}
	s.entries[e.name] = e
	s.order = append(s.order, e.name)
	return nil
}

// Start wires every registered job into the cron loop and starts it.
// Calling Start twice logs a warning and does nothing. A restart after
// Stop resumes the already-wired jobs instead of registering them again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		log.Println("Scheduler already started, ignoring Start")
		return
	}
	log.Println("Starting scheduler...")

	if !s.wired {
		for _, name := range s.order {
			e := s.entries[name]
			sched := s.cron.Tag(e.name)
			switch {
			case e.schedule.EveryMinutes > 0:
				sched = sched.Every(e.schedule.EveryMinutes).Minutes()
			case e.schedule.DailyAt != "":
				sched = sched.Every(1).Day().At(e.schedule.DailyAt)
			case e.schedule.WeeklyAt != "":
				sched = sched.Every(1).Week().Weekday(e.schedule.WeeklyDay).At(e.schedule.WeeklyAt)
			default:
				log.Printf("Job %s has no schedule, skipping", e.name)
				continue
			}
			if _, err := sched.Do(func() { s.tick(e) }); err != nil {
				log.Printf("Failed to schedule job %s: %v", e.name, err)
				continue
			}
			log.Printf("Scheduled job %s (%s)", e.name, e.schedule)
		}
		s.wired = true
	}

	s.cron.StartAsync()
	s.started = true
	log.Println("Scheduler started successfully")
}

// Stop halts the cron loop. Safe to call before Start or more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cron.Stop()
	s.started = false
	log.Println("Scheduler stopped")
}

// tick is the scheduled path: respects pause and the market-hours gate.
func (s *Scheduler) tick(e *entry) {
	if e.paused.Load() {
		return
	}
	if e.schedule.MarketHoursOnly && !s.hours.IsOpen(time.Now()) {
		return
	}
	s.execute(e, nil)
}

// execute runs a job once, skipping if the previous run is still going.
func (s *Scheduler) execute(e *entry, symbols []string) {
	if !e.inFlight.CompareAndSwap(false, true) {
		log.Printf("Job %s still running, skipping this tick", e.name)
		return
	}
	defer e.inFlight.Store(false)

	now := time.Now()
	e.lastRun.Store(&now)
	e.run(context.Background(), symbols)
}

// RunJobNow triggers a job immediately, bypassing its schedule, the
// market-hours gate, and the paused flag. A non-empty symbols list
// overrides the job's own symbol resolution for this run only. The run
// happens in the background; an already-running job is an error.
func (s *Scheduler) RunJobNow(name string, symbols []string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	if e.inFlight.Load() {
		return fmt.Errorf("job %s is already running", name)
	}
	go s.execute(e, symbols)
	return nil
}

// PauseJob stops a job from firing on schedule until resumed.
func (s *Scheduler) PauseJob(name string) error {
	return s.setPaused(name, true)
}

// ResumeJob re-enables a paused job.
func (s *Scheduler) ResumeJob(name string) error {
	return s.setPaused(name, false)
}

func (s *Scheduler) setPaused(name string, paused bool) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	e.paused.Store(paused)
	if paused {
		log.Printf("Job %s paused", name)
	} else {
		log.Printf("Job %s resumed", name)
	}
	return nil
}

// Running reports whether the cron loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Status returns the monitoring view of every job, in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRuns := make(map[string]time.Time)
	for _, j := range s.cron.Jobs() {
		for _, tag := range j.Tags() {
			nextRuns[tag] = j.NextRun()
		}
	}

	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		st := JobStatus{
			Name:     e.name,
			DataType: e.dataType,
			Schedule: e.schedule.String(),
			Paused:   e.paused.Load(),
			Running:  e.inFlight.Load(),
			LastRun:  e.lastRun.Load(),
		}
		if next, ok := nextRuns[name]; ok && !next.IsZero() {
			n := next
			st.NextRun = &n
		}
		out = append(out, st)
	}
	return out
}
