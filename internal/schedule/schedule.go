// Package schedule runs the dashboard's periodic jobs on cron schedules
// evaluated in the reference timezone.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calboard/internal/log"
)

// Job is one periodic task. Spec is a five-field crontab line or a
// descriptor such as "@every 1m" or "@hourly".
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

type entry struct {
	job      Job
	schedule cron.Schedule
}

// Scheduler wraps a cron.Cron. Overlapping runs of the same job are
// skipped and panics are recovered.
type Scheduler struct {
	loc     *time.Location
	parser  cron.Parser
	cron    *cron.Cron
	entries []entry
}

// New returns a Scheduler whose crontab specs are read in loc.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	return &Scheduler{
		loc:    loc,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Add registers job. An empty Spec disables the job.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	if job.Spec == "" {
		appLog.Info("schedule: job disabled", "job", job.Name)
		return nil
	}
	sched, err := s.parser.Parse(job.Spec)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name, err)
	}
	s.entries = append(s.entries, entry{job: job, schedule: sched})
	s.cron.Schedule(sched, cron.FuncJob(func() { runJob(ctx, job) }))
	appLog.Info("schedule: job registered", "job", job.Name, "spec", job.Spec)
	return nil
}

func runJob(ctx context.Context, job Job) {
	if err := job.Run(ctx); err != nil {
		appLog.Error("schedule: job failed", err, "job", job.Name)
	}
}

// Start runs the cron loop until ctx is cancelled, then waits for running
// jobs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		appLog.Info("schedule: stopped")
	}()
}

// Next returns the next run of each job after now, keyed by job name.
func (s *Scheduler) Next(now time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for _, e := range s.entries {
		out[e.job.Name] = e.schedule.Next(now.In(s.loc))
	}
	return out
}

// Run is one job activation found by RunDue.
type Run struct {
	Job string
	At  time.Time
}

// RunDue runs, in time order, every activation in (from, to] without
// waiting for the wall clock. at is called before each job so a test clock
// can be moved to the activation time. It returns the activations run.
func (s *Scheduler) RunDue(ctx context.Context, from, to time.Time, at func(time.Time)) []Run {
	type due struct {
		e  entry
		at time.Time
	}
	var all []due
	for _, e := range s.entries {
		for t := e.schedule.Next(from.In(s.loc)); !t.IsZero() && !t.After(to); t = e.schedule.Next(t) {
			all = append(all, due{e: e, at: t})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	runs := make([]Run, 0, len(all))
	for _, d := range all {
		if ctx.Err() != nil {
			break
		}
		if at != nil {
			at(d.at)
		}
		runJob(ctx, d.e.job)
		runs = append(runs, Run{Job: d.e.job.Name, At: d.at})
	}
	return runs
}

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
