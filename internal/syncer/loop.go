package syncer

import (
	"context"
	"time"
)

// Loop runs passes until ctx is cancelled, waiting Interval between them.
//
// Passes run on a context detached from ctx so that cancellation never cuts
// a destination transaction short; Timeout still bounds every database
// operation. Pass failures are logged and retried on the next interval.
// Loop returns nil once ctx is cancelled.
func (s *Synchronizer) Loop(ctx context.Context) error {
	passCtx := context.WithoutCancel(ctx)
	s.logger.Infow("Sync loop started", "interval", s.opts.Interval, "sets", len(s.cfg.ReplicationSets))

	for {
		if ctx.Err() != nil {
			s.logger.Info("Sync loop stopped")
			return nil
		}
		result := s.SyncOnce(passCtx)
		if result.Outcome() != Succeeded {
			s.logger.Warnw("Pass did not fully succeed; retrying next interval",
				"outcome", result.Outcome().String(), "error", result.Err())
		}

		timer := time.NewTimer(s.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Sync loop stopped")
			return nil
		case <-timer.C:
		}
	}
}
