// Package syncer runs incremental sync passes: per replication set, fetch the
// changes after the lowest destination marker once and apply them to every
// destination.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/dbsmedya/ctsync/internal/apply"
	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/logger"
	"github.com/dbsmedya/ctsync/internal/metrics"
	"github.com/dbsmedya/ctsync/internal/tracking"
)

// Outcome is the result state of a pass.
type Outcome int

const (
	Succeeded Outcome = iota
	PartiallyFailed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case PartiallyFailed:
		return "partially-failed"
	default:
		return "failed"
	}
}

// Notification is delivered after a succeeded pass that advanced a set.
type Notification struct {
	ReplicationSet string
	Version        int64
}

// Notifier receives notifications. It runs on the pass goroutine.
type Notifier func(Notification)

// DestinationResult is the outcome of one destination in a pass.
type DestinationResult struct {
	Name   string
	Stored int64 // marker before the pass; 0 when unreadable
	Report *apply.Report
	Err    error
}

// SetResult is the outcome of one replication set in a pass.
type SetResult struct {
	Set          string
	PassID       string
	Outcome      Outcome
	DryRun       bool
	Floor        int64
	Version      int64
	Changes      int
	Destinations []DestinationResult
	Err          error // set-level failure: source, lock or fetch
	Duration     time.Duration
}

// Failures returns the failed destinations.
func (r *SetResult) Failures() []DestinationResult {
	var out []DestinationResult
	for _, d := range r.Destinations {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// PassResult aggregates every set of one pass.
type PassResult struct {
	Sets []*SetResult
}

// Outcome is Succeeded when every set succeeded, Failed when every set
// failed and PartiallyFailed otherwise.
func (p *PassResult) Outcome() Outcome {
	if len(p.Sets) == 0 {
		return Succeeded
	}
	failed, succeeded := 0, 0
	for _, s := range p.Sets {
		switch s.Outcome {
		case Succeeded:
			succeeded++
		case Failed:
			failed++
		}
	}
	switch {
	case succeeded == len(p.Sets):
		return Succeeded
	case failed == len(p.Sets):
		return Failed
	default:
		return PartiallyFailed
	}
}

// Err joins the set and destination errors of the pass.
func (p *PassResult) Err() error {
	var errs []error
	for _, s := range p.Sets {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Set, s.Err))
		}
		for _, d := range s.Failures() {
			errs = append(errs, fmt.Errorf("%s/%s: %w", s.Set, d.Name, d.Err))
		}
	}
	return errors.Join(errs...)
}

// DefaultInterval is the loop wait when none is configured.
const DefaultInterval = 30 * time.Second

// Options controls the synchronizer.
type Options struct {
	Workers  int           // concurrent destinations per set, <= 1 is sequential
	DryRun   bool          // report instead of writing
	Force    bool          // skip the per-set advisory lock
	Timeout  time.Duration // per database operation, 0 = none
	Interval time.Duration // wait between loop passes
	Notifier Notifier
	Metrics  *metrics.Registry
}

// OptionsFromConfig derives Options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:  cfg.Workers,
		DryRun:   cfg.DryRun,
		Timeout:  time.Duration(cfg.Timeout) * time.Second,
		Interval: time.Duration(cfg.Interval) * time.Second,
	}
}

// Synchronizer runs passes over the configured replication sets.
type Synchronizer struct {
	cfg       *config.Config
	endpoints Endpoints
	opts      Options
	logger    *logger.Logger
	destLocks *keyedMutex
}

// New creates a Synchronizer.
func New(cfg *config.Config, endpoints Endpoints, opts Options, log *logger.Logger) (*Synchronizer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if endpoints == nil {
		return nil, fmt.Errorf("endpoints are nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Synchronizer{
		cfg:       cfg,
		endpoints: endpoints,
		opts:      opts,
		logger:    log,
		destLocks: newKeyedMutex(),
	}, nil
}

// SyncOnce runs one pass over every replication set in configuration order.
func (s *Synchronizer) SyncOnce(ctx context.Context) *PassResult {
	result := &PassResult{}
	for i := range s.cfg.ReplicationSets {
		result.Sets = append(result.Sets, s.SyncSet(ctx, &s.cfg.ReplicationSets[i]))
	}
	return result
}

func (s *Synchronizer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// target pairs an opened destination with its configuration and marker.
type target struct {
	info   config.DatabaseInfo
	t      Target
	stored int64
	index  int
}

// SyncSet runs one pass over a single replication set.
func (s *Synchronizer) SyncSet(ctx context.Context, rs *config.ReplicationSet) *SetResult {
	start := time.Now()
	res := &SetResult{
		Set:          rs.Name,
		PassID:       uuid.NewString(),
		DryRun:       s.opts.DryRun,
		Destinations: make([]DestinationResult, len(rs.Destinations)),
	}
	log := s.logger.WithSet(rs.Name).WithPass(res.PassID)

	defer func() {
		res.Duration = time.Since(start)
		s.opts.Metrics.RecordPass(rs.Name, res.Outcome.String(), res.Duration)
		log.Infow("Pass finished",
			"outcome", res.Outcome.String(),
			"floor", res.Floor,
			"version", res.Version,
			"changes", res.Changes,
			"failed_destinations", len(res.Failures()),
			"duration", res.Duration)
	}()

	fail := func(err error) *SetResult {
		res.Outcome = Failed
		res.Err = err
		log.Errorw("Pass failed", "error", err)
		return res
	}

	opCtx, cancel := s.withTimeout(ctx)
	src, err := s.endpoints.Source(opCtx, rs)
	cancel()
	if err != nil {
		return fail(fmt.Errorf("source unavailable: %w", err))
	}

	if !s.opts.Force {
		opCtx, cancel := s.withTimeout(ctx)
		unlock, err := src.Lock(opCtx, rs.Name)
		cancel()
		if err != nil {
			return fail(err)
		}
		defer unlock()
	}

	opCtx, cancel = s.withTimeout(ctx)
	tables, err := src.Tables(opCtx, rs)
	cancel()
	if err != nil {
		return fail(err)
	}

	targets := s.openTargets(ctx, rs, res, log)
	if len(targets) == 0 {
		return fail(fmt.Errorf("no destination is readable"))
	}

	res.Floor = targets[0].stored
	for _, t := range targets[1:] {
		if t.stored < res.Floor {
			res.Floor = t.stored
		}
	}
	res.Version = res.Floor

	if len(tables) == 0 {
		log.Warn("Replication set has no tables (none configured and none tracked); nothing to do")
		res.Outcome = s.outcome(res)
		return res
	}

	opCtx, cancel = s.withTimeout(ctx)
	info, err := src.Fetch(opCtx, tables, res.Floor)
	cancel()
	if err != nil {
		var expired *tracking.ChangeTrackingExpiredError
		if errors.As(err, &expired) {
			log.Errorw("Change tracking retention exceeded; destinations must be bootstrapped again",
				"table", expired.Table, "floor", expired.Floor, "min_valid", expired.MinValid)
		}
		return fail(fmt.Errorf("fetch failed: %w", err))
	}
	res.Version = info.Version
	res.Changes = len(info.Changes)
	s.opts.Metrics.RecordSourceVersion(rs.Name, info.Version)

	s.applyAll(ctx, rs, info, targets, res, log)

	res.Outcome = s.outcome(res)
	if res.Outcome == Succeeded && !res.DryRun && s.advanced(res) && s.opts.Notifier != nil {
		s.opts.Notifier(Notification{ReplicationSet: rs.Name, Version: info.Version})
	}
	return res
}

// openTargets opens every destination and reads its marker. Unreadable
// destinations are recorded as failed and left out.
func (s *Synchronizer) openTargets(ctx context.Context, rs *config.ReplicationSet, res *SetResult, log *logger.Logger) []target {
	var targets []target
	for i, dst := range rs.Destinations {
		res.Destinations[i].Name = dst.Name

		opCtx, cancel := s.withTimeout(ctx)
		t, err := s.endpoints.Target(opCtx, dst)
		var stored int64
		if err == nil {
			stored, err = t.ReadVersion(opCtx)
		}
		cancel()

		if err != nil {
			res.Destinations[i].Err = err
			s.opts.Metrics.RecordDestinationFailure(rs.Name, dst.Name)
			log.Errorw("Destination unavailable", "destination", dst.Name, "error", err)
			continue
		}
		res.Destinations[i].Stored = stored
		targets = append(targets, target{info: dst, t: t, stored: stored, index: i})
	}
	return targets
}

// applyAll applies info to every target, at most Workers at a time. Each
// destination endpoint is applied by one goroutine at a time.
func (s *Synchronizer) applyAll(ctx context.Context, rs *config.ReplicationSet, info *tracking.ChangeInfo, targets []target, res *SetResult, log *logger.Logger) {
	p := pool.New().WithMaxGoroutines(s.opts.Workers)
	for _, t := range targets {
		p.Go(func() {
			dlog := log.WithDestination(t.info.Name)
			unlock := s.destLocks.Lock(t.info.Key())
			defer unlock()

			var (
				report *apply.Report
				err    error
			)
			if s.opts.DryRun {
				report, err = t.t.Preview(info, t.stored)
			} else {
				opCtx, cancel := s.withTimeout(ctx)
				report, err = t.t.Apply(opCtx, info)
				cancel()
			}

			dr := &res.Destinations[t.index]
			if err != nil {
				dr.Err = err
				s.opts.Metrics.RecordDestinationFailure(rs.Name, t.info.Name)
				dlog.Errorw("Apply failed", "error", err)
				return
			}
			dr.Report = report
			if !report.DryRun && !report.Skipped {
				totals := report.Totals()
				s.opts.Metrics.RecordApplied(rs.Name, t.info.Name, totals.Inserts, totals.Updates, totals.Deletes, report.ToVersion)
			}
		})
	}
	p.Wait()
}

func (s *Synchronizer) outcome(res *SetResult) Outcome {
	failed := len(res.Failures())
	switch {
	case res.Err != nil || failed == len(res.Destinations):
		return Failed
	case failed > 0:
		return PartiallyFailed
	default:
		return Succeeded
	}
}

func (s *Synchronizer) advanced(res *SetResult) bool {
	for _, d := range res.Destinations {
		if d.Report != nil && d.Report.Advanced() {
			return true
		}
	}
	return false
}

// keyedMutex serializes work per destination endpoint.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex of key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
