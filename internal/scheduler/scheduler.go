// Package scheduler runs the periodic jobs: macro indicator refreshes and
// warming the chart cache for the watchlist.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"marketpulse/internal/source"
)

// MacroRefresher reloads the macro indicators.
type MacroRefresher interface {
	Refresh(ctx context.Context) error
}

// Warmer builds and caches charts ahead of viewers.
type Warmer interface {
	Warm(ctx context.Context, reqs []source.Request) int
}

// Lister returns the instruments to warm.
type Lister interface {
	List(ctx context.Context) ([]source.Request, error)
}

// Jobs wires the scheduler to the rest of the server. Any nil field
// disables its job.
type Jobs struct {
	Macro MacroRefresher
	// OnMacro runs after every macro refresh, successful or not.
	OnMacro   func()
	Warmer    Warmer
	Watchlist Lister
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	cron *cron.Cron
	jobs Jobs
	ctx  context.Context
	log  *slog.Logger
}

// New creates a Scheduler whose jobs run under ctx.
func New(ctx context.Context, jobs Jobs, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		jobs: jobs,
		ctx:  ctx,
		log:  log.With("component", "scheduler"),
	}
}

// Register adds the macro and warm jobs with six-field cron expressions. An
// empty expression skips the job.
func (s *Scheduler) Register(macroSpec, warmSpec string) error {
	if macroSpec != "" && s.jobs.Macro != nil {
		if _, err := s.cron.AddFunc(macroSpec, s.RefreshMacro); err != nil {
			return fmt.Errorf("register macro task: %w", err)
		}
	}
	if warmSpec != "" && s.jobs.Warmer != nil && s.jobs.Watchlist != nil {
		if _, err := s.cron.AddFunc(warmSpec, s.WarmWatchlist); err != nil {
			return fmt.Errorf("register warm task: %w", err)
		}
	}
	return nil
}

// Start runs both jobs once in the background and then starts the cron
// scheduler.
func (s *Scheduler) Start() {
	go func() {
		s.RefreshMacro()
		s.WarmWatchlist()
	}()
	s.cron.Start()
	s.log.Info("scheduler started", "entries", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RefreshMacro reloads the macro indicators and notifies OnMacro.
func (s *Scheduler) RefreshMacro() {
	if s.jobs.Macro == nil || s.ctx.Err() != nil {
		return
	}
	if err := s.jobs.Macro.Refresh(s.ctx); err != nil {
		s.log.Warn("macro refresh", "error", err)
	}
	if s.jobs.OnMacro != nil {
		s.jobs.OnMacro()
	}
}

// WarmWatchlist builds the chart for every watchlist instrument.
func (s *Scheduler) WarmWatchlist() {
	if s.jobs.Warmer == nil || s.jobs.Watchlist == nil || s.ctx.Err() != nil {
		return
	}
	reqs, err := s.jobs.Watchlist.List(s.ctx)
	if err != nil {
		s.log.Warn("listing watchlist", "error", err)
		return
	}
	if len(reqs) == 0 {
		return
	}
	s.jobs.Warmer.Warm(s.ctx, reqs)
}
