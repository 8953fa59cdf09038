package runner

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"stepflow/events"
	"stepflow/runner/storage"
)

// Scheduler triggers automatic pipeline runs for registered projects based
// on the schedules declared in their configs.
type Scheduler struct {
	projectsConfig *ProjectsConfig
	storage        *storage.Storage
	baseDir        string
	stopChan       chan struct{}
	lastRuns       map[string]time.Time // last trigger per schedule
	runningJobs    map[string]bool      // schedules currently executing
	mu             sync.RWMutex
}

func NewScheduler(projectsConfig *ProjectsConfig, storage *storage.Storage, baseDir string) *Scheduler {
	return &Scheduler{
		projectsConfig: projectsConfig,
		storage:        storage,
		baseDir:        baseDir,
		stopChan:       make(chan struct{}),
		lastRuns:       make(map[string]time.Time),
		runningJobs:    make(map[string]bool),
	}
}

// Start begins the scheduler loop. It blocks until Stop is called.
func (s *Scheduler) Start() {
	log.Println("scheduler started")
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	s.tick()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopChan:
			log.Println("scheduler stopped")
			return
		}
	}
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// tick checks every registered project's schedules and triggers due runs.
func (s *Scheduler) tick() {
	for _, project := range s.projectsConfig.Projects {
		configPath := project.ConfigPath(s.baseDir)

		cfg, err := LoadConfig(configPath)
		if err != nil {
			// Projects without a loadable config simply have no schedules.
			continue
		}
		if len(cfg.Schedules) == 0 {
			continue
		}

		for i, schedule := range cfg.Schedules {
			scheduleKey := fmt.Sprintf("%s-schedule-%d", project.Name, i)

			s.mu.RLock()
			lastRun := s.lastRuns[scheduleKey]
			isRunning := s.runningJobs[scheduleKey]
			s.mu.RUnlock()

			if isRunning {
				continue
			}
			if !s.shouldRun(schedule, lastRun) {
				continue
			}

			s.mu.Lock()
			s.runningJobs[scheduleKey] = true
			s.lastRuns[scheduleKey] = time.Now()
			s.mu.Unlock()

			go func(p Project, key string) {
				s.executeSchedule(p)

				s.mu.Lock()
				delete(s.runningJobs, key)
				s.mu.Unlock()
			}(project, scheduleKey)
		}
	}
}

// shouldRun determines whether a schedule is due.
func (s *Scheduler) shouldRun(schedule Schedule, lastRun time.Time) bool {
	now := time.Now()

	// Time-of-day schedule (at: "HH:MM").
	if schedule.At != "" {
		hour, minute, err := parseAtTime(schedule.At)
		if err != nil {
			log.Printf("invalid time format %q: %v", schedule.At, err)
			return false
		}
		if now.Hour() == hour && now.Minute() == minute {
			// Only once per day at this time.
			if lastRun.IsZero() || now.Sub(lastRun) >= 23*time.Hour {
				return true
			}
		}
		return false
	}

	// Interval schedule (every: "1h", "30m", ...).
	if schedule.Every != "" {
		interval, err := parseInterval(schedule.Every)
		if err != nil {
			log.Printf("invalid interval format %q: %v", schedule.Every, err)
			return false
		}
		return lastRun.IsZero() || now.Sub(lastRun) >= interval
	}

	return false
}

// executeSchedule runs a project's whole pipeline, recording it to storage
// and broadcasting events like an operator-triggered run.
func (s *Scheduler) executeSchedule(project Project) {
	configPath := project.ConfigPath(s.baseDir)
	log.Printf("schedule triggered: %s", project.Name)

	report, err := New().RunFile(configPath, RunOptions{
		Storage:     s.storage,
		Broker:      events.GetBroker(),
		Stdout:      io.Discard,
		Stderr:      io.Discard,
		ProjectName: project.Name,
		Quiet:       true,
	})
	if err != nil {
		log.Printf("scheduled run failed for %s: %v", project.Name, err)
		return
	}
	log.Printf("scheduled run completed: %s (run %d, %s)", project.Name, report.RunID, report.Duration.Round(time.Millisecond))
}

// parseAtTime parses "HH:MM".
func parseAtTime(at string) (hour, minute int, err error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time format, expected HH:MM")
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour")
	}

	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute")
	}

	return hour, minute, nil
}

// parseInterval parses duration strings like "1h", "30m", "1h30m".
func parseInterval(every string) (time.Duration, error) {
	duration, err := time.ParseDuration(every)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format")
	}
	if duration <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	return duration, nil
}
