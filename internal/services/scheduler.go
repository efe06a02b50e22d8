package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Job is a periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

type jobState struct {
	job    Job
	paused bool
	// busy is held while Run executes; overlapping triggers are skipped.
	busy sync.Mutex
}

// Scheduler drives independent periodic jobs from a clock. Jobs can be
// paused without stopping the others. Runs receive a context that is not
// cancelled by Stop, so in-flight work completes.
type Scheduler struct {
	clock  clockwork.Clock
	logger *logrus.Logger

	mu      sync.Mutex
	jobs    map[string]*jobState
	order   []string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewScheduler(clock clockwork.Clock, logger *logrus.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, logger: logger, jobs: make(map[string]*jobState)}
}

// Add registers a job. It must be called before Start.
func (s *Scheduler) Add(job Job) error {
	if job.Interval <= 0 || job.Run == nil || job.Name == "" {
		return fmt.Errorf("invalid job %q", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started, cannot add %q", job.Name)
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	s.jobs[job.Name] = &jobState{job: job}
	s.order = append(s.order, job.Name)
	return nil
}

// Start launches one timer loop per job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.order {
		state := s.jobs[name]
		s.wg.Add(1)
		go s.loop(ctx, state)
	}
	s.logger.WithField("jobs", s.order).Info("Scheduler started")
}

func (s *Scheduler) loop(ctx context.Context, state *jobState) {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(state.job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if s.Paused(state.job.Name) {
				continue
			}
			s.run(context.WithoutCancel(ctx), state)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, state *jobState) bool {
	if !state.busy.TryLock() {
		s.logger.WithField("job", state.job.Name).Debug("Previous run still in progress, skipping")
		return false
	}
	defer state.busy.Unlock()
	state.job.Run(ctx)
	return true
}

// RunNow executes a job synchronously, ignoring pause. It returns false if
// the job is unknown or already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	state, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.run(ctx, state)
}

func (s *Scheduler) Pause(name string) {
	s.setPaused(name, true)
}

func (s *Scheduler) Resume(name string) {
	s.setPaused(name, false)
}

func (s *Scheduler) setPaused(name string, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.jobs[name]; ok {
		state.paused = paused
	}
}

// Paused reports whether the named job is paused.
func (s *Scheduler) Paused(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[name]
	return ok && state.paused
}

// Stop cancels future runs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}
