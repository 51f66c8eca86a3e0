// Package schedule runs standing prompts on a cron schedule. Jobs are
// declared in the config file; each fire submits the job's prompt to the
// Claude bridge and delivers the response to the target chat.
// Uses robfig/cron for cron expression parsing and execution.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Job is a standing prompt with a cron schedule.
type Job struct {
	// ID identifies the job in logs and status output. Assigned a
	// random UUID when left empty in the config.
	ID string `yaml:"id,omitempty"`

	// Schedule is a standard 5-field cron expression or a descriptor
	// like "@daily" or "@every 1h30m".
	Schedule string `yaml:"schedule"`

	// Prompt is the text submitted to Claude on every fire.
	Prompt string `yaml:"prompt"`

	// Channel is the target channel ("whatsapp", "telegram", "discord").
	Channel string `yaml:"channel"`

	// ChatID is the target chat identifier on that channel.
	ChatID string `yaml:"chat_id"`

	// SystemPrompt overrides the Claude system prompt for this job.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// Disabled keeps the job in the config without scheduling it.
	Disabled bool `yaml:"disabled,omitempty"`

	// Runtime bookkeeping, shown in status output.
	CreatedAt time.Time  `yaml:"-"`
	LastRunAt *time.Time `yaml:"-"`
	LastError string     `yaml:"-"`
	RunCount  int        `yaml:"-"`
}

// JobHandler is called when a job fires. It submits the prompt and
// delivers the response; the returned string is only used for logging.
type JobHandler func(ctx context.Context, job *Job) (string, error)

// minJobInterval is the minimum time between consecutive executions of
// the same job. Prevents a spin loop when cron fires multiple times
// within the same second.
const minJobInterval = 2 * time.Second

// Scheduler manages standing prompt jobs using cron expressions.
type Scheduler struct {
	// jobs stores registered jobs indexed by ID.
	jobs map[string]*Job

	// cron is the real cron scheduler from robfig/cron.
	cron *cron.Cron

	// cronIDs maps job IDs to their cron entry IDs for removal.
	cronIDs map[string]cron.EntryID

	// running tracks jobs currently executing to prevent duplicate
	// runs when a fire overlaps the previous one.
	running map[string]bool

	// handler is called when a job triggers.
	handler JobHandler

	// jobTimeout is the maximum time a single job execution can take.
	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler with the given handler.
func New(handler JobHandler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:       make(map[string]*Job),
		cronIDs:    make(map[string]cron.EntryID),
		running:    make(map[string]bool),
		handler:    handler,
		jobTimeout: 5 * time.Minute,
		logger:     logger.With("component", "schedule"),
	}
}

// SetJobTimeout overrides the per-execution timeout.
func (s *Scheduler) SetJobTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.jobTimeout = d
	}
}

// Add registers a job. When the scheduler is already started and the
// job is not disabled, it is armed immediately.
func (s *Scheduler) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	if job.Schedule == "" {
		return fmt.Errorf("job %q: schedule is required", job.ID)
	}
	if job.Prompt == "" {
		return fmt.Errorf("job %q: prompt is required", job.ID)
	}
	if job.Channel == "" || job.ChatID == "" {
		return fmt.Errorf("job %q: channel and chat_id are required", job.ID)
	}

	job.CreatedAt = time.Now()

	if s.cron != nil && !job.Disabled {
		if err := s.armJob(job); err != nil {
			return fmt.Errorf("job %q: invalid schedule %q: %w", job.ID, job.Schedule, err)
		}
	}

	s.jobs[job.ID] = job

	s.logger.Info("job added",
		"id", job.ID,
		"schedule", job.Schedule,
		"channel", job.Channel,
		"chat_id", job.ChatID,
	)
	return nil
}

// Remove deletes a job by ID.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return fmt.Errorf("job %q not found", jobID)
	}

	if entryID, ok := s.cronIDs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, jobID)
	}
	delete(s.jobs, jobID)

	s.logger.Info("job removed", "id", jobID)
	return nil
}

// List returns all registered jobs sorted by ID.
func (s *Scheduler) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get returns a job by ID.
func (s *Scheduler) Get(jobID string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// Start arms every enabled job and starts the cron loop. Jobs with
// invalid schedules are skipped with a warning rather than aborting
// the daemon.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	// Standard 5-field cron plus @descriptors.
	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	s.mu.Lock()
	for _, job := range s.jobs {
		if job.Disabled {
			continue
		}
		if err := s.armJob(job); err != nil {
			s.logger.Warn("skipping job with invalid schedule",
				"id", job.ID, "schedule", job.Schedule, "error", err)
		}
	}
	s.mu.Unlock()

	s.cron.Start()

	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// ---------- Internal ----------

// armJob registers a job with the cron scheduler. Caller holds s.mu.
func (s *Scheduler) armJob(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return err
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

// executeJob runs a job's prompt through the handler with safety guards:
// a per-job lock prevents duplicate concurrent runs, a spin guard skips
// fires that land within minJobInterval of the previous run, and panic
// recovery isolates errors so one bad job doesn't stop the others.
func (s *Scheduler) executeJob(job *Job) {
	s.mu.Lock()
	if s.running[job.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", job.ID)
		return
	}
	if job.LastRunAt != nil && time.Since(*job.LastRunAt) < minJobInterval {
		s.mu.Unlock()
		s.logger.Debug("skipping job (ran too recently)",
			"id", job.ID,
			"last_run_at", job.LastRunAt.Format(time.RFC3339),
		)
		return
	}
	s.running[job.ID] = true

	now := time.Now()
	job.LastRunAt = &now
	job.RunCount++
	timeout := s.jobTimeout
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.mu.Lock()
			job.LastError = fmt.Sprintf("panic: %v", r)
			s.mu.Unlock()
			s.logger.Error("scheduled job panicked", "id", job.ID, "panic", r)
		}
	}()

	s.logger.Info("executing scheduled job", "id", job.ID, "channel", job.Channel, "chat_id", job.ChatID)

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	runStart := time.Now()
	result, err := s.handler(ctx, job)
	runDuration := time.Since(runStart)

	s.mu.Lock()
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job failed",
			"id", job.ID, "error", err, "duration", runDuration)
	} else {
		s.logger.Info("scheduled job completed",
			"id", job.ID, "result_len", len(result), "duration", runDuration)
	}
}
