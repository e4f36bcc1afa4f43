package syncer

import (
	"context"
	"fmt"
)

// DestinationStatus is the replication position of one destination.
type DestinationStatus struct {
	Name   string
	Stored int64
	Lag    int64 // source version minus stored version; -1 when unknown
	Err    error
}

// SetStatus is the replication position of one set.
type SetStatus struct {
	Set           string
	SourceVersion int64
	SourceErr     error
	Running       bool // another instance holds the set's lock
	RunningErr    error
	Destinations  []DestinationStatus
}

// Status reads the source's current version and every destination's marker.
// It never writes. The set lock is tried without waiting and released at
// once, so Running is a snapshot.
func (s *Synchronizer) Status(ctx context.Context) []SetStatus {
	out := make([]SetStatus, 0, len(s.cfg.ReplicationSets))

	for i := range s.cfg.ReplicationSets {
		rs := &s.cfg.ReplicationSets[i]
		st := SetStatus{Set: rs.Name, SourceVersion: -1}

		opCtx, cancel := s.withTimeout(ctx)
		src, err := s.endpoints.Source(opCtx, rs)
		if err == nil {
			var ok bool
			st.SourceVersion, ok, err = src.CurrentVersion(opCtx)
			if err == nil && !ok {
				err = fmt.Errorf("change tracking is not enabled on the source")
			}
			st.Running, st.RunningErr = src.Running(opCtx, rs.Name)
		}
		cancel()
		if err != nil {
			st.SourceVersion = -1
			st.SourceErr = err
		}

		for _, dst := range rs.Destinations {
			ds := DestinationStatus{Name: dst.Name, Lag: -1}

			opCtx, cancel := s.withTimeout(ctx)
			t, err := s.endpoints.Target(opCtx, dst)
			if err == nil {
				ds.Stored, err = t.ReadVersion(opCtx)
			}
			cancel()

			if err != nil {
				ds.Err = err
			} else if st.SourceErr == nil {
				ds.Lag = st.SourceVersion - ds.Stored
			}
			st.Destinations = append(st.Destinations, ds)
		}

		out = append(out, st)
	}
	return out
}
