// Package cron runs named in-process maintenance jobs on cron schedules.
package cron

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// JobFunc is the work a job performs. It receives the service context.
type JobFunc func(ctx context.Context) error

type JobState struct {
	LastRunAt  time.Time
	LastStatus string // "ok" or "error"
	LastError  string
	Runs       int
}

// Job is a snapshot of a registered job.
type Job struct {
	Name    string
	Expr    string
	Next    time.Time
	State   JobState
	entryID rcron.EntryID
	fn      JobFunc
}

type Service struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	cron   *rcron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewService() *Service {
	return &Service{
		jobs: make(map[string]*Job),
		cron: rcron.New(rcron.WithSeconds()),
		ctx:  context.Background(),
	}
}

// AddJob registers fn under name with a six-field (seconds first) cron
// expression. Names are unique.
func (s *Service) AddJob(name, expr string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	id, err := s.cron.AddFunc(expr, func() { s.execute(name) })
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", name, expr, err)
	}
	s.jobs[name] = &Job{Name: name, Expr: expr, entryID: id, fn: fn}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", n)

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.cron.Stop().Done()
	log.Printf("[cron] stopped")
}

// RunJob executes a job immediately, outside its schedule.
func (s *Service) RunJob(name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return s.execute(name)
}

func (s *Service) execute(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	ctx := s.ctx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}

	log.Printf("[cron] executing job %s", name)
	start := time.Now()
	err := job.fn(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	job.State.LastRunAt = start
	job.State.Runs++
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		log.Printf("[cron] job %s error: %v", name, err)
		return err
	}
	job.State.LastStatus = "ok"
	job.State.LastError = ""
	log.Printf("[cron] job %s done in %s", name, time.Since(start).Round(time.Millisecond))
	return nil
}

// ListJobs returns job snapshots sorted by name.
func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		snap := *j
		snap.Next = s.cron.Entry(j.entryID).Next
		snap.fn = nil
		out = append(out, snap)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}
