// Package scheduler runs periodic jobs until their context is canceled.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/depth-analytics/internal/tfutils"
	"github.com/amirphl/depth-analytics/internal/utils"
)

type Option func(*job)

// Aligned starts the job on the next wall-clock multiple of its interval,
// e.g. 00:00, 04:00, 08:00 for four hours.
func Aligned() Option {
	return func(j *job) { j.align = true }
}

// Immediately runs the job once as soon as the scheduler starts.
func Immediately() Option {
	return func(j *job) { j.runAtStart = true }
}

type job struct {
	name       string
	interval   time.Duration
	align      bool
	runAtStart bool
	fn         func(context.Context) error
	trigger    chan struct{}
}

// Scheduler runs each job on its own goroutine. Runs of one job never
// overlap.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	started bool
	now     func() time.Time
}

func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job), now: time.Now}
}

// Every registers fn to run every interval. It must be called before Run.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(context.Context) error, opts ...Option) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("job %s: scheduler already running", name)
	}
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}

	j := &job{name: name, interval: interval, fn: fn, trigger: make(chan struct{}, 1)}
	for _, o := range opts {
		o(j)
	}
	s.jobs[name] = j
	s.order = append(s.order, name)
	return nil
}

// RunNow asks a job to run as soon as it is idle. It reports whether the
// job exists. Repeated requests while one is pending collapse into one.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case j.trigger <- struct{}{}:
	default:
	}
	return true
}

// Run blocks until ctx is canceled and every job has returned.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	jobs := make([]*job, 0, len(s.order))
	for _, name := range s.order {
		jobs = append(jobs, s.jobs[name])
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()
}

func (s *Scheduler) firstRun(j *job) time.Time {
	now := s.now()
	if j.align {
		return tfutils.NextBoundary(now, j.interval)
	}
	return now.Add(j.interval)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	log := utils.GetLogger().WithField("job", j.name)
	log.Infof("Scheduler | starting job every %v", j.interval)

	if j.runAtStart {
		s.exec(ctx, j)
	}

	next := s.firstRun(j)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Scheduler | job stopped")
			return
		case <-timer.C:
			s.exec(ctx, j)
			now := s.now()
			next = next.Add(j.interval)
			if !next.After(now) {
				// a run overran one or more periods; skip them
				next = now.Add(j.interval)
				if j.align {
					next = tfutils.NextBoundary(now, j.interval)
				}
			}
			timer.Reset(time.Until(next))
		case <-j.trigger:
			s.exec(ctx, j)
		}
	}
}

func (s *Scheduler) exec(ctx context.Context, j *job) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			utils.GetLogger().WithField("job", j.name).Errorf("Scheduler | job panicked: %v", r)
		}
	}()

	start := s.now()
	if err := j.fn(ctx); err != nil {
		utils.GetLogger().WithField("job", j.name).Errorf("Scheduler | job failed after %v: %v", s.now().Sub(start), err)
		return
	}
	utils.GetLogger().WithField("job", j.name).Debugf("Scheduler | job finished in %v", s.now().Sub(start))
}
