package cloudsync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrean/genstudio/internal/metrics"
	"github.com/fyrean/genstudio/types"
)

// Record identifies a user's snapshot record in the remote store.
type Record struct {
	ID      string
	OwnerID string

	// FileName is the stored archive's name; empty when the record exists
	// but holds no snapshot yet.
	FileName string
}

// RemoteStore is the storage backend holding one snapshot record per user.
type RemoteStore interface {
	// FindByOwner returns the owner's record, or nil when none exists.
	FindByOwner(ctx context.Context, ownerID string) (*Record, error)

	// Create stores a new record with the archive attached.
	Create(ctx context.Context, ownerID string, archive []byte) error

	// Update replaces the archive on an existing record.
	Update(ctx context.Context, recordID string, archive []byte) error

	// FetchArchive downloads the record's stored archive.
	FetchArchive(ctx context.Context, rec *Record) ([]byte, error)
}

// OutcomeType classifies the result of a sync pass.
type OutcomeType string

const (
	// OutcomeUploaded means the local gallery became the cloud copy.
	OutcomeUploaded OutcomeType = "upload"

	// OutcomeInSync means both copies were already identical.
	OutcomeInSync OutcomeType = "none"

	// OutcomeConflict means the copies diverged and need a resolution choice.
	OutcomeConflict OutcomeType = "conflict"
)

// Outcome reports a sync pass. Conflict is set only for OutcomeConflict.
type Outcome struct {
	Type     OutcomeType
	Message  string
	Conflict *Conflict
}

// Choice selects a conflict resolution strategy.
type Choice string

const (
	ChoiceMerge Choice = "merge"
	ChoiceCloud Choice = "cloud"
	ChoiceLocal Choice = "local"
)

// Conflict holds both divergent galleries until the user picks a strategy.
type Conflict struct {
	Local []*types.Project
	Cloud []*types.Project

	record *Record
	syncer *Syncer
}

// Syncer runs the sync protocol against a remote store.
type Syncer struct {
	remote  RemoteStore
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithSyncMetrics attaches a metrics collector.
func WithSyncMetrics(c *metrics.Collector) SyncerOption {
	return func(s *Syncer) { s.metrics = c }
}

// withClock overrides snapshot timestamps, for tests.
func withClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) { s.now = now }
}

// NewSyncer creates a Syncer.
func NewSyncer(remote RemoteStore, logger *zap.Logger, opts ...SyncerOption) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Syncer{remote: remote, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync compares the local gallery with the user's cloud record. An absent or
// empty record is populated from local state; an identical record is left
// alone; a divergent record yields a conflict for the caller to resolve.
// Sync itself never merges and never mutates local state.
func (s *Syncer) Sync(ctx context.Context, ownerID string, local []*types.Project) (*Outcome, error) {
	if ownerID == "" {
		return nil, types.NewError(types.ErrValidation, "sign in before syncing")
	}

	rec, err := s.remote.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if rec == nil || rec.FileName == "" {
		archive, err := EncodeArchive(local, s.now())
		if err != nil {
			return nil, err
		}
		if rec == nil {
			err = s.remote.Create(ctx, ownerID, archive)
		} else {
			err = s.remote.Update(ctx, rec.ID, archive)
		}
		if err != nil {
			return nil, err
		}
		s.logger.Info("gallery uploaded to cloud", zap.String("owner", ownerID))
		return &Outcome{Type: OutcomeUploaded, Message: "Gallery uploaded to cloud"}, nil
	}

	data, err := s.remote.FetchArchive(ctx, rec)
	if err != nil {
		return nil, err
	}
	snap, err := DecodeArchive(data)
	if err != nil {
		return nil, err
	}

	if projectsEqual(snap.Projects, local) {
		return &Outcome{Type: OutcomeInSync, Message: "Gallery is already in sync"}, nil
	}

	if s.metrics != nil {
		s.metrics.SyncConflict()
	}
	s.logger.Info("sync conflict detected", zap.String("owner", ownerID))
	return &Outcome{
		Type:    OutcomeConflict,
		Message: "Differences detected between local and cloud versions",
		Conflict: &Conflict{
			Local:  local,
			Cloud:  snap.Projects,
			record: rec,
			syncer: s,
		},
	}, nil
}

// Resolve applies the chosen strategy, uploads the winning gallery, and
// returns it so the caller can adopt it locally.
func (c *Conflict) Resolve(ctx context.Context, choice Choice) ([]*types.Project, error) {
	var resolved []*types.Project
	switch choice {
	case ChoiceMerge:
		resolved = MergeProjects(c.Local, c.Cloud)
	case ChoiceCloud:
		resolved = c.Cloud
	case ChoiceLocal:
		resolved = c.Local
	default:
		return nil, types.NewError(types.ErrValidation, "invalid conflict resolution choice: "+string(choice))
	}

	archive, err := EncodeArchive(resolved, c.syncer.now())
	if err != nil {
		return nil, err
	}
	if err := c.syncer.remote.Update(ctx, c.record.ID, archive); err != nil {
		return nil, err
	}
	if c.syncer.metrics != nil {
		c.syncer.metrics.SyncResolved(string(choice))
	}
	c.syncer.logger.Info("sync conflict resolved", zap.String("choice", string(choice)))
	return resolved, nil
}
