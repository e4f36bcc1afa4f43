package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dbsmedya/ctsync/internal/apply"
	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/lock"
	"github.com/dbsmedya/ctsync/internal/logger"
	"github.com/dbsmedya/ctsync/internal/schema"
	"github.com/dbsmedya/ctsync/internal/tracking"
	"github.com/dbsmedya/ctsync/internal/version"
)

// ChangeSource is the source side of a replication set.
type ChangeSource interface {
	// Tables resolves the set's table scope. An empty scope is not an error.
	Tables(ctx context.Context, rs *config.ReplicationSet) ([]*schema.TableSpec, error)
	Fetch(ctx context.Context, tables []*schema.TableSpec, floor int64) (*tracking.ChangeInfo, error)
	CurrentVersion(ctx context.Context) (int64, bool, error)
	// Lock takes the set's advisory lock; the returned func releases it.
	Lock(ctx context.Context, set string) (func(), error)
	// Running reports whether another instance holds the set's lock.
	Running(ctx context.Context, set string) (bool, error)
}

// Target is one destination.
type Target interface {
	ReadVersion(ctx context.Context) (int64, error)
	Apply(ctx context.Context, info *tracking.ChangeInfo) (*apply.Report, error)
	Preview(info *tracking.ChangeInfo, stored int64) (*apply.Report, error)
}

// Endpoints opens the source and destinations of replication sets.
type Endpoints interface {
	Source(ctx context.Context, rs *config.ReplicationSet) (ChangeSource, error)
	Target(ctx context.Context, dst config.DatabaseInfo) (Target, error)
}

// Opener opens database endpoints; *database.Manager satisfies it.
type Opener interface {
	Open(ctx context.Context, info config.DatabaseInfo) (*sql.DB, error)
}

// DatabaseEndpoints implements Endpoints over real database connections.
type DatabaseEndpoints struct {
	dbs      Opener
	snapshot bool
	logger   *logger.Logger
}

// NewDatabaseEndpoints creates Endpoints backed by dbs.
func NewDatabaseEndpoints(dbs Opener, snapshotIsolation bool, log *logger.Logger) *DatabaseEndpoints {
	if log == nil {
		log = logger.NewDefault()
	}
	return &DatabaseEndpoints{dbs: dbs, snapshot: snapshotIsolation, logger: log}
}

// Source opens the set's source database.
func (e *DatabaseEndpoints) Source(ctx context.Context, rs *config.ReplicationSet) (ChangeSource, error) {
	db, err := e.dbs.Open(ctx, rs.Source)
	if err != nil {
		return nil, err
	}
	src, err := tracking.NewSource(db, e.logger.WithSet(rs.Name), e.snapshot)
	if err != nil {
		return nil, err
	}
	return &sourceEndpoint{Source: src, driver: rs.Source.DriverName()}, nil
}

// Target opens a destination and binds its dialect.
func (e *DatabaseEndpoints) Target(ctx context.Context, dst config.DatabaseInfo) (Target, error) {
	d, err := dialect.Lookup(dst.DriverName())
	if err != nil {
		return nil, err
	}
	db, err := e.dbs.Open(ctx, dst)
	if err != nil {
		return nil, err
	}

	log := e.logger.WithDestination(dst.Name)
	store, err := version.NewStore(db, d, log)
	if err != nil {
		return nil, err
	}
	applier, err := apply.NewApplier(dst.Name, db, d, log)
	if err != nil {
		return nil, err
	}
	return &targetEndpoint{Applier: applier, store: store}, nil
}

type sourceEndpoint struct {
	*tracking.Source
	driver string
}

func (s *sourceEndpoint) Tables(ctx context.Context, rs *config.ReplicationSet) ([]*schema.TableSpec, error) {
	scope, err := s.ResolveScope(ctx, rs)
	if err != nil {
		return nil, err
	}
	return scope.Specs, nil
}

func (s *sourceEndpoint) Lock(ctx context.Context, set string) (func(), error) {
	l := lock.NewSetLock(s.DB(), s.driver, set)
	if err := l.AcquireOrFail(ctx); err != nil {
		return nil, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = l.ReleaseLock(releaseCtx)
	}, nil
}

func (s *sourceEndpoint) Running(ctx context.Context, set string) (bool, error) {
	return lock.IsSetRunning(ctx, s.DB(), s.driver, set)
}

type targetEndpoint struct {
	*apply.Applier
	store *version.Store
}

func (t *targetEndpoint) ReadVersion(ctx context.Context) (int64, error) {
	v, err := t.store.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read version marker: %w", err)
	}
	return v, nil
}
