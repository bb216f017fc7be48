// Package recovery runs the background jobs that keep the saga store
// healthy: failing over sagas whose current step stopped reporting, purging
// aged terminal sagas, and trimming the event stream.
package recovery

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/payrail/orchestrator/internal/metrics"
	"github.com/payrail/orchestrator/internal/orchestrator"
	"github.com/payrail/orchestrator/pkg/logger"
	"github.com/payrail/orchestrator/pkg/streams"
)

// stuckFinder is the slice of the repository the sweeper needs.
type stuckFinder interface {
	FindStuckRunning(ctx context.Context, idleFor time.Duration, limit int) ([]string, error)
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}

// failer pushes a stuck saga into the normal retry/compensation path.
// Satisfied by *orchestrator.Orchestrator.
type failer interface {
	FailStepByTimeout(ctx context.Context, sagaID string) error
}

// Options tune the sweeper schedules and thresholds.
type Options struct {
	// StuckAfter is how long a RUNNING step may go without an update
	// before it is treated as timed out.
	StuckAfter time.Duration
	// SweepBatch caps how many stuck sagas one sweep handles.
	SweepBatch int
	// Retention is how long terminal sagas are kept before purge.
	Retention time.Duration
	// StreamMaxLen caps the event stream length; 0 disables trimming.
	StreamMaxLen int64
	// SweepSpec and PurgeSpec are cron expressions. Defaults run the
	// sweep every minute and the purge nightly.
	SweepSpec string
	PurgeSpec string
}

func (o *Options) withDefaults() {
	if o.StuckAfter <= 0 {
		o.StuckAfter = 5 * time.Minute
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = 50
	}
	if o.Retention <= 0 {
		o.Retention = 30 * 24 * time.Hour
	}
	if o.SweepSpec == "" {
		o.SweepSpec = "@every 1m"
	}
	if o.PurgeSpec == "" {
		o.PurgeSpec = "0 3 * * *"
	}
}

// Sweeper schedules the background jobs on a cron runner.
type Sweeper struct {
	store   stuckFinder
	orch    failer
	stream  *streams.Client
	streamK string
	opts    Options
	cron    *cron.Cron
	log     *logger.Logger
}

func NewSweeper(store stuckFinder, orch failer, stream *streams.Client, streamKey string, opts Options, log *logger.Logger) *Sweeper {
	opts.withDefaults()
	return &Sweeper{
		store:   store,
		orch:    orch,
		stream:  stream,
		streamK: streamKey,
		opts:    opts,
		cron:    cron.New(),
		log:     log,
	}
}

// Start registers the jobs and starts the cron runner. ctx bounds each
// job run, not the runner itself; call Stop to shut down.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.opts.SweepSpec, func() { s.SweepStuck(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.opts.PurgeSpec, func() { s.Purge(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Infof("recovery sweeper started", map[string]interface{}{
		"sweepSpec":  s.opts.SweepSpec,
		"purgeSpec":  s.opts.PurgeSpec,
		"stuckAfter": s.opts.StuckAfter.String(),
	})
	return nil
}

// Stop halts the cron runner and waits for running jobs.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// SweepStuck fails over every saga whose current step has been RUNNING
// with no update for longer than StuckAfter. Each saga then follows its
// normal retry and compensation path.
func (s *Sweeper) SweepStuck(ctx context.Context) {
	ids, err := s.store.FindStuckRunning(ctx, s.opts.StuckAfter, s.opts.SweepBatch)
	if err != nil {
		s.log.Err("find stuck sagas", err)
		return
	}
	for _, id := range ids {
		if err := s.orch.FailStepByTimeout(ctx, id); err != nil {
			if orchestrator.IsBenign(err) {
				continue
			}
			s.log.WithField("sagaID", id).Err("recover stuck saga", err)
			continue
		}
		metrics.IncSagasRecovered()
		s.log.WithField("sagaID", id).Info("stuck saga recovered")
	}
}

// Purge deletes terminal sagas older than the retention window and trims
// the event stream to its cap.
func (s *Sweeper) Purge(ctx context.Context) {
	n, err := s.store.PurgeTerminal(ctx, s.opts.Retention)
	if err != nil {
		s.log.Err("purge terminal sagas", err)
	} else if n > 0 {
		s.log.Infof("purged terminal sagas", map[string]interface{}{"count": n})
	}

	if s.stream != nil && s.opts.StreamMaxLen > 0 {
		if err := s.stream.Trim(ctx, s.streamK, s.opts.StreamMaxLen); err != nil {
			s.log.Err("trim event stream", err)
		}
	}
}
