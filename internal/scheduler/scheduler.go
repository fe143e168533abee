package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskRunning  = errors.New("task is already running")
)

// TaskFunc is the function signature for scheduled tasks.
type TaskFunc func(ctx context.Context) error

// TaskConfig describes a scheduled task.
type TaskConfig struct {
	ID          string
	Name        string
	Description string
	Cron        string // five-field cron or "@every 5m"
	Func        TaskFunc
	RunOnStart  bool
}

// TaskInfo is the API view of a task.
type TaskInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Cron        string     `json:"cron"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	Running     bool       `json:"running"`
}

type taskEntry struct {
	config  TaskConfig
	job     gocron.Job
	lastRun *time.Time
	lastErr error
	running bool
}

// Scheduler runs background tasks on cron schedules. A task never overlaps
// with itself; a tick that arrives while it is still running is dropped.
type Scheduler struct {
	gocron gocron.Scheduler
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	tasks map[string]*taskEntry
}

// New creates a scheduler.
func New(logger zerolog.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		gocron: gs,
		logger: logger.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*taskEntry),
	}, nil
}

// RegisterTask adds a task. IDs must be unique; Name defaults to the ID.
func (s *Scheduler) RegisterTask(task *TaskConfig) error {
	if task == nil || task.Func == nil {
		return fmt.Errorf("task has no function")
	}
	if task.ID == "" {
		return fmt.Errorf("task has no ID")
	}
	cfg := *task
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[cfg.ID]; exists {
		return fmt.Errorf("task with ID %q already registered", cfg.ID)
	}

	id := cfg.ID
	job, err := s.gocron.NewJob(
		definition(cfg.Cron),
		gocron.NewTask(func() { s.executeTask(id) }),
		gocron.WithName(cfg.Name),
		gocron.WithTags(cfg.ID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job for task %q: %w", cfg.ID, err)
	}

	s.tasks[cfg.ID] = &taskEntry{config: cfg, job: job}

	s.logger.Info().
		Str("id", cfg.ID).
		Str("name", cfg.Name).
		Str("cron", cfg.Cron).
		Bool("runOnStart", cfg.RunOnStart).
		Msg("Registered task")
	return nil
}

func definition(expr string) gocron.JobDefinition {
	const every = "@every "
	if len(expr) > len(every) && expr[:len(every)] == every {
		if d, err := time.ParseDuration(expr[len(every):]); err == nil {
			return gocron.DurationJob(d)
		}
	}
	return gocron.CronJob(expr, false)
}

// UnregisterTask removes a task. Unknown IDs are ignored.
func (s *Scheduler) UnregisterTask(id string) error {
	s.mu.Lock()
	entry, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := s.gocron.RemoveJob(entry.job.ID()); err != nil {
		return fmt.Errorf("failed to remove task %q: %w", id, err)
	}
	return nil
}

func (s *Scheduler) executeTask(id string) {
	s.mu.Lock()
	entry, exists := s.tasks[id]
	if !exists || entry.running {
		s.mu.Unlock()
		return
	}
	entry.running = true
	s.mu.Unlock()

	start := time.Now()
	s.logger.Debug().Str("id", id).Str("name", entry.config.Name).Msg("Starting task")

	err := entry.config.Func(s.ctx)

	s.mu.Lock()
	entry.running = false
	entry.lastRun = &start
	entry.lastErr = err
	s.mu.Unlock()

	duration := time.Since(start)
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Str("name", entry.config.Name).Dur("duration", duration).Msg("Task failed")
		return
	}
	s.logger.Debug().Str("id", id).Str("name", entry.config.Name).Dur("duration", duration).Msg("Task completed")
}

// Start starts the scheduler and runs the RunOnStart tasks in the
// background.
func (s *Scheduler) Start() {
	s.logger.Info().Msg("Starting scheduler")
	s.gocron.Start()

	s.mu.RLock()
	var onStart []string
	for id, entry := range s.tasks {
		if entry.config.RunOnStart {
			onStart = append(onStart, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range onStart {
		go s.executeTask(id)
	}
}

// Stop cancels running tasks and waits for gocron to shut down.
func (s *Scheduler) Stop() error {
	s.logger.Info().Msg("Stopping scheduler")
	s.cancel()
	return s.gocron.Shutdown()
}

// RunNow triggers a task in the background.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	entry, exists := s.tasks[id]
	running := exists && entry.running
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if running {
		return fmt.Errorf("%w: %s", ErrTaskRunning, id)
	}

	go s.executeTask(id)
	return nil
}

// ListTasks returns every task ordered by ID.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]TaskInfo, 0, len(s.tasks))
	for _, entry := range s.tasks {
		tasks = append(tasks, entry.info())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// GetTask returns one task.
func (s *Scheduler) GetTask(id string) (*TaskInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.tasks[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	info := entry.info()
	return &info, nil
}

func (e *taskEntry) info() TaskInfo {
	info := TaskInfo{
		ID:          e.config.ID,
		Name:        e.config.Name,
		Description: e.config.Description,
		Cron:        e.config.Cron,
		LastRun:     e.lastRun,
		Running:     e.running,
	}
	if e.lastErr != nil {
		info.LastError = e.lastErr.Error()
	}
	if next, err := e.job.NextRun(); err == nil && !next.IsZero() {
		info.NextRun = &next
	}
	return info
}
