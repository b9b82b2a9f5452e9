// Package backup writes date-stamped copies of the permission snapshot to one
// or more archive targets on a cron schedule.
package backup

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/schoolwelfare/caseboard/pkg/observability"
	"github.com/schoolwelfare/caseboard/pkg/rbac"
	"github.com/schoolwelfare/caseboard/pkg/storage"
)

// Source produces the snapshot to back up. *rbac.Service implements it.
type Source interface {
	ExportSnapshot() rbac.Snapshot
}

// Target is a named archive destination
type Target struct {
	Name     string
	Archiver storage.Archiver
}

// Result describes one backup run
type Result struct {
	Name    string    `json:"name"`
	Targets []string  `json:"targets"`
	Bytes   int       `json:"bytes"`
	At      time.Time `json:"at"`
}

// Scheduler runs backups on a cron schedule
type Scheduler struct {
	source  Source
	targets []Target
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
	last *Result
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the scheduler logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics records one counter per target write
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = metrics }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler writing to every target
func NewScheduler(source Source, targets []Target, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:  source,
		targets: targets,
		logger:  discardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules RunOnce. schedule accepts the standard five-field cron
// syntax and descriptors such as @daily or @every 6h.
func (s *Scheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("backup scheduler already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, s.runScheduled); err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.WithFields(logrus.Fields{
		"schedule": schedule,
		"targets":  len(s.targets),
	}).Info("Backup scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running backup to finish or ctx to
// expire
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runScheduled() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithError(observability.MustRecover(r)).Errorf("Backup job panicked\n%s", debug.Stack())
		}
	}()

	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.WithError(err).Error("Scheduled backup failed")
	}
}

// RunOnce exports the current snapshot and archives it to every target in
// parallel. A failing target does not cancel the others; the first error is
// returned after all writes finish. Backups are named per day, so a later run
// on the same day replaces that day's backup.
func (s *Scheduler) RunOnce(ctx context.Context) (*Result, error) {
	data, err := rbac.MarshalSnapshot(s.source.ExportSnapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	at := s.now()
	name := storage.BackupName(at)

	var g errgroup.Group
	for _, target := range s.targets {
		g.Go(func() error {
			err := target.Archiver.Archive(ctx, name, data)
			s.metrics.RecordBackup(target.Name, err)
			if err != nil {
				return fmt.Errorf("backup to %s failed: %w", target.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Name: name, Bytes: len(data), At: at}
	for _, target := range s.targets {
		result.Targets = append(result.Targets, target.Name)
	}

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"backup": name,
		"bytes":  len(data),
	}).Info("Snapshot backup written")
	return result, nil
}

// Last returns the most recent successful backup, or nil
func (s *Scheduler) Last() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
