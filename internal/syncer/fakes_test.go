package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/ctsync/internal/apply"
	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/schema"
	"github.com/dbsmedya/ctsync/internal/tracking"
)

var itemsSpec = &schema.TableSpec{
	Name:  "dbo.Items",
	Table: dialect.Table{Schema: "dbo", Name: "Items"},
	Keys:  []string{"Id"},
}

type fakeSource struct {
	mu       sync.Mutex
	tables   []*schema.TableSpec
	version  int64 // version returned by Fetch when above floor
	changes  int
	fetchErr error
	lockErr  error
	running  bool
	current  int64
	floors   []int64
	locked   int
	unlocked int
	onFetch  func()
}

func (f *fakeSource) Tables(context.Context, *config.ReplicationSet) ([]*schema.TableSpec, error) {
	return f.tables, nil
}

func (f *fakeSource) Fetch(_ context.Context, tables []*schema.TableSpec, floor int64) (*tracking.ChangeInfo, error) {
	f.mu.Lock()
	f.floors = append(f.floors, floor)
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	info := &tracking.ChangeInfo{Version: floor, Tables: tables}
	if f.version > floor {
		info.Version = f.version
		info.Changes = make([]tracking.Change, f.changes)
	}
	return info, nil
}

func (f *fakeSource) CurrentVersion(context.Context) (int64, bool, error) {
	return f.current, f.current > 0, nil
}

func (f *fakeSource) Lock(context.Context, string) (func(), error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	f.locked++
	return func() { f.unlocked++ }, nil
}

func (f *fakeSource) Running(context.Context, string) (bool, error) {
	return f.running, nil
}

type fakeTarget struct {
	mu       sync.Mutex
	stored   int64
	readErr  error
	applyErr error
	applied  int
	previews int
	delay    time.Duration
	active   *int32
	maxSeen  *int32
}

func (t *fakeTarget) ReadVersion(context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stored, t.readErr
}

func (t *fakeTarget) Apply(_ context.Context, info *tracking.ChangeInfo) (*apply.Report, error) {
	if t.active != nil {
		n := atomic.AddInt32(t.active, 1)
		for {
			m := atomic.LoadInt32(t.maxSeen)
			if n <= m || atomic.CompareAndSwapInt32(t.maxSeen, m, n) {
				break
			}
		}
		defer atomic.AddInt32(t.active, -1)
	}
	if t.delay > 0 {
		time.Sleep(t.delay)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.applyErr != nil {
		return nil, t.applyErr
	}
	t.applied++
	r := report(t.stored, info.Version, false)
	if t.stored >= info.Version {
		r.Skipped = true
		return r, nil
	}
	t.stored = info.Version
	return r, nil
}

func (t *fakeTarget) Preview(info *tracking.ChangeInfo, stored int64) (*apply.Report, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.previews++
	r := report(stored, info.Version, true)
	r.Skipped = stored >= info.Version
	return r, nil
}

func report(from, to int64, dryRun bool) *apply.Report {
	return &apply.Report{
		FromVersion: from,
		ToVersion:   to,
		DryRun:      dryRun,
		Tables:      orderedmap.NewOrderedMap[string, *apply.TableCounts](),
	}
}

type fakeEndpoints struct {
	source    *fakeSource
	sourceErr error
	targets   map[string]*fakeTarget
}

func (e *fakeEndpoints) Source(context.Context, *config.ReplicationSet) (ChangeSource, error) {
	if e.sourceErr != nil {
		return nil, e.sourceErr
	}
	return e.source, nil
}

func (e *fakeEndpoints) Target(_ context.Context, dst config.DatabaseInfo) (Target, error) {
	t, ok := e.targets[dst.Name]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return t, nil
}

func testConfig(destinations ...string) *config.Config {
	cfg := config.DefaultConfig()
	rs := config.ReplicationSet{
		Name:   "sales",
		Source: config.DatabaseInfo{Name: "src", ConnectionString: "sqlserver://src"},
		Tables: []string{"dbo.Items"},
	}
	for _, d := range destinations {
		rs.Destinations = append(rs.Destinations, config.DatabaseInfo{Name: d, Driver: "sqlite", ConnectionString: d + ".db"})
	}
	cfg.ReplicationSets = []config.ReplicationSet{rs}
	return cfg
}
