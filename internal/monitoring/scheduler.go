// internal/monitoring/scheduler.go - per-monitor scheduling with a bounded worker pool
package monitoring

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/John-MustangGT/raven-uptime/internal/database"
	"github.com/John-MustangGT/raven-uptime/internal/metrics"
	"github.com/sirupsen/logrus"
)

// idleWait bounds how long the dispatcher sleeps with nothing queued.
const idleWait = time.Minute

// JobRunner executes the full probe chain for one monitor.
type JobRunner interface {
	Run(ctx context.Context, monitorID string) error
}

type JobRunnerFunc func(ctx context.Context, monitorID string) error

func (f JobRunnerFunc) Run(ctx context.Context, monitorID string) error { return f(ctx, monitorID) }

type SchedulerMetrics struct {
	Scheduled int   `json:"scheduled"`
	Running   int   `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

type SchedulerOptions struct {
	Workers             int
	DefaultInterval     time.Duration
	Metrics             *metrics.Collector
	Maintenance         *Maintainer
	MaintenanceInterval time.Duration
}

type panicError struct {
	value any
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

type Scheduler struct {
	runner JobRunner
	opts   SchedulerOptions
	now    func() time.Time

	mu        sync.Mutex
	jobs      map[string]*job
	queue     jobQueue
	running   int
	completed int64
	failed    int64
	skipped   int64
	started   bool
	draining  bool

	wake            chan struct{}
	work            chan *job
	stop            chan struct{}
	stopOnce        sync.Once
	drainOnce       sync.Once
	drained         chan struct{}
	dispatcherDone  chan struct{}
	maintenanceDone chan struct{}
	inflight        sync.WaitGroup
	workers         sync.WaitGroup
}

func NewScheduler(runner JobRunner, opts SchedulerOptions) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = time.Minute
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = time.Hour
	}
	return &Scheduler{
		runner:          runner,
		opts:            opts,
		now:             time.Now,
		jobs:            make(map[string]*job),
		wake:            make(chan struct{}, 1),
		work:            make(chan *job),
		stop:            make(chan struct{}),
		drained:         make(chan struct{}),
		dispatcherDone:  make(chan struct{}),
		maintenanceDone: make(chan struct{}),
	}
}

// Start launches the dispatcher, the workers and the maintenance loop.
// Cancelling ctx stops admission; executions already handed to a worker run
// on a detached context and always finish their writes.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return errors.New("scheduler is draining")
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"workers":  s.opts.Workers,
		"interval": s.opts.DefaultInterval,
	}).Info("Starting scheduler")

	execCtx := context.WithoutCancel(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		s.workers.Add(1)
		go s.worker(execCtx, i)
	}

	go s.dispatch(ctx)

	if s.opts.Maintenance != nil {
		mctx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-s.stop:
			case <-mctx.Done():
			}
			cancel()
		}()
		go func() {
			defer close(s.maintenanceDone)
			s.opts.Maintenance.Run(mctx, s.opts.MaintenanceInterval)
		}()
	} else {
		close(s.maintenanceDone)
	}
	return nil
}

// Register schedules an active monitor. Its first probe is due immediately.
// Registering a known monitor behaves like Reschedule.
func (s *Scheduler) Register(mon *database.Monitor) {
	s.upsert(mon)
}

// Reschedule applies a changed interval or active flag. An inactive monitor
// is unregistered.
func (s *Scheduler) Reschedule(mon *database.Monitor) {
	s.upsert(mon)
}

func (s *Scheduler) upsert(mon *database.Monitor) {
	if !mon.IsActive {
		s.Unregister(mon.ID)
		return
	}

	interval := mon.Interval
	if interval <= 0 {
		interval = s.opts.DefaultInterval
	}
	now := s.now()

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		logrus.WithField("monitor_id", mon.ID).Debug("Scheduler draining, ignoring registration")
		return
	}

	j, exists := s.jobs[mon.ID]
	if exists {
		j.gen++
	}
	switch {
	case !exists:
		j = &job{monitorID: mon.ID, interval: interval, next: now, index: -1}
		s.jobs[mon.ID] = j
		heap.Push(&s.queue, j)
	case j.removed:
		// Unregistered while running and now back; the running flag still
		// holds off the next execution until the old one completes.
		j.removed = false
		j.interval = interval
		j.next = now
		heap.Push(&s.queue, j)
	case j.interval != interval:
		j.interval = interval
		if !j.inFlight {
			j.next = now.Add(interval)
			heap.Fix(&s.queue, j.index)
		}
	}
	scheduled, running := len(s.queue), s.running
	s.mu.Unlock()

	s.opts.Metrics.SetScheduler(scheduled, running)
	s.signal()
}

// Unregister drops the monitor's job. A running execution finishes but is
// not rescheduled.
func (s *Scheduler) Unregister(monitorID string) {
	s.mu.Lock()
	s.removeLocked(monitorID)
	scheduled, running := len(s.queue), s.running
	s.mu.Unlock()

	s.opts.Metrics.SetScheduler(scheduled, running)
	s.signal()
}

func (s *Scheduler) removeLocked(monitorID string) {
	j, ok := s.jobs[monitorID]
	if !ok {
		return
	}
	if j.index >= 0 {
		heap.Remove(&s.queue, j.index)
	}
	if j.inFlight {
		j.removed = true
		return
	}
	delete(s.jobs, monitorID)
}

func (s *Scheduler) Metrics() SchedulerMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerMetrics{
		Scheduled: len(s.queue),
		Running:   s.running,
		Completed: s.completed,
		Failed:    s.failed,
		Skipped:   s.skipped,
	}
}

// JobInfo is a point-in-time view of one scheduled monitor.
type JobInfo struct {
	MonitorID string        `json:"monitor_id"`
	Interval  time.Duration `json:"interval"`
	NextRun   time.Time     `json:"next_run"`
	Running   bool          `json:"running"`
}

// Jobs lists scheduled monitors in firing order.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobInfo, 0, len(s.queue))
	for _, j := range s.queue {
		jobs = append(jobs, JobInfo{
			MonitorID: j.monitorID,
			Interval:  j.interval,
			NextRun:   j.next,
			Running:   j.inFlight,
		})
	}
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].NextRun.Equal(jobs[b].NextRun) {
			return jobs[a].MonitorID < jobs[b].MonitorID
		}
		return jobs[a].NextRun.Before(jobs[b].NextRun)
	})
	return jobs
}

// Flush unregisters every job and returns how many were dropped. Running
// executions finish but are not rescheduled. Monitors stay active in storage
// and are picked up again by Register, Reschedule or a restart.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	ids := make([]string, 0, len(s.queue))
	for _, j := range s.queue {
		ids = append(ids, j.monitorID)
	}
	for _, id := range ids {
		s.removeLocked(id)
	}
	scheduled, running := len(s.queue), s.running
	s.mu.Unlock()

	s.opts.Metrics.SetScheduler(scheduled, running)
	s.signal()
	logrus.WithField("jobs", len(ids)).Info("Flushed scheduler")
	return len(ids)
}

// Drain stops admitting due jobs, stops maintenance, and waits until every
// running execution has finished. It returns ctx's error if that happens
// first; executions keep going in the background in that case.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	started := s.started
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })
	if !started {
		return nil
	}

	s.drainOnce.Do(func() {
		logrus.Info("Draining scheduler")
		go func() {
			<-s.dispatcherDone
			<-s.maintenanceDone
			s.inflight.Wait()
			close(s.work)
			s.workers.Wait()
			close(s.drained)
		}()
	})

	select {
	case <-s.drained:
		logrus.Info("Scheduler drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	defer close(s.dispatcherDone)

	for {
		due, wait := s.collectDue()
		for i, j := range due {
			select {
			case s.work <- j:
			case <-s.stop:
				s.abandon(due[i:])
				return
			case <-ctx.Done():
				s.abandon(due[i:])
				return
			}
		}
		if len(due) > 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stop:
			timer.Stop()
			return
		case <-s.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// collectDue marks every due job as running and returns them, along with how
// long to sleep until the next one. A due job whose previous execution is
// still running is deferred by one interval instead.
func (s *Scheduler) collectDue() ([]*job, time.Duration) {
	now := s.now()
	var (
		due     []*job
		skipped []string
	)

	s.mu.Lock()
	wait := idleWait
	for !s.draining {
		j := s.queue.peek()
		if j == nil {
			break
		}
		if j.next.After(now) {
			wait = j.next.Sub(now)
			break
		}
		if j.inFlight {
			j.next = j.next.Add(j.interval)
			if !j.next.After(now) {
				j.next = now.Add(j.interval)
			}
			heap.Fix(&s.queue, j.index)
			s.skipped++
			skipped = append(skipped, j.monitorID)
			continue
		}
		j.inFlight = true
		j.runGen = j.gen
		j.next = now.Add(j.interval)
		heap.Fix(&s.queue, j.index)
		s.running++
		s.inflight.Add(1)
		due = append(due, j)
	}
	scheduled, running := len(s.queue), s.running
	s.mu.Unlock()

	for _, id := range skipped {
		logrus.WithField("monitor_id", id).Debug("Previous probe still running, deferring tick")
		s.opts.Metrics.RecordSkip(id)
	}
	if len(due) > 0 || len(skipped) > 0 {
		s.opts.Metrics.SetScheduler(scheduled, running)
	}
	return due, wait
}

// abandon releases jobs that were marked running but never handed to a worker.
func (s *Scheduler) abandon(jobs []*job) {
	s.mu.Lock()
	now := s.now()
	for _, j := range jobs {
		s.releaseLocked(j, now.Add(j.interval))
	}
	s.mu.Unlock()
	for range jobs {
		s.inflight.Done()
	}
}

func (s *Scheduler) releaseLocked(j *job, next time.Time) {
	j.inFlight = false
	s.running--
	if j.removed {
		if s.jobs[j.monitorID] == j {
			delete(s.jobs, j.monitorID)
		}
		return
	}
	j.next = next
	heap.Fix(&s.queue, j.index)
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.workers.Done()
	logrus.WithField("worker", id).Debug("Started worker")

	for j := range s.work {
		err := s.runSafely(ctx, j.monitorID)
		s.complete(j, err)
	}
}

func (s *Scheduler) runSafely(ctx context.Context, monitorID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return s.runner.Run(ctx, monitorID)
}

func (s *Scheduler) complete(j *job, err error) {
	gone := errors.Is(err, database.ErrMonitorNotFound) || errors.Is(err, ErrMonitorInactive)

	s.mu.Lock()
	now := s.now()
	next := now.Add(j.interval)
	// A monitor registered again while this execution ran must stay
	// scheduled even though the run saw it missing or inactive.
	reregistered := j.gen != j.runGen
	switch {
	case gone && !reregistered:
		s.completed++
		if j.index >= 0 {
			heap.Remove(&s.queue, j.index)
		}
		j.removed = true
	case gone:
		s.completed++
		next = now
	case err != nil:
		s.failed++
	default:
		s.completed++
	}
	s.releaseLocked(j, next)
	scheduled, running := len(s.queue), s.running
	s.mu.Unlock()

	s.inflight.Done()
	s.opts.Metrics.SetScheduler(scheduled, running)
	s.signal()

	switch {
	case gone && reregistered:
		logrus.WithField("monitor_id", j.monitorID).Debug("Monitor registered again during run, keeping job")
	case gone:
		logrus.WithField("monitor_id", j.monitorID).Debug("Monitor no longer scheduled, dropping job")
	case err != nil:
		reason := failureReason(err)
		s.opts.Metrics.RecordJobFailure(reason)
		logrus.WithError(err).WithFields(logrus.Fields{
			"monitor_id": j.monitorID,
			"reason":     reason,
		}).Error("Monitor job failed")
	}
}

func failureReason(err error) string {
	var p *panicError
	switch {
	case errors.As(err, &p):
		return "panic"
	case errors.Is(err, ErrMissingAddress), errors.Is(err, ErrUnsupportedProtocol):
		return "config"
	default:
		return "store"
	}
}
