package workspace

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrean/genstudio/internal/metrics"
	"github.com/fyrean/genstudio/types"
)

const (
	workspaceKey   = "currentWorkspace"
	credentialsKey = "apiKeys"

	// DefaultSaveDebounce collapses bursts of mutations into one persisted
	// snapshot.
	DefaultSaveDebounce = 2 * time.Second
)

// Store owns the in-memory workspace and persists it to a KV backend. All
// mutations funnel through a single mutex so concurrent poller callbacks and
// user edits never interleave partial states. Every mutation schedules a
// debounced save of the full snapshot.
type Store struct {
	mu      sync.Mutex
	ws      *types.Workspace
	apiKeys map[string]string

	// saveMu serializes whole persist cycles (encode + Put). Without it,
	// two in-flight flushes could complete out of order and a stale
	// snapshot would overwrite a newer one.
	saveMu sync.Mutex

	kv       KV
	debounce time.Duration
	timer    *time.Timer
	dirty    bool
	closed   bool

	metrics *metrics.Collector
	logger  *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSaveDebounce overrides the autosave debounce window. Zero disables
// debouncing; every mutation saves immediately.
func WithSaveDebounce(d time.Duration) StoreOption {
	return func(s *Store) { s.debounce = d }
}

// WithStoreMetrics attaches a metrics collector.
func WithStoreMetrics(c *metrics.Collector) StoreOption {
	return func(s *Store) { s.metrics = c }
}

// NewStore loads the persisted workspace from kv, or starts a fresh one when
// the backend holds nothing.
func NewStore(ctx context.Context, kv KV, logger *zap.Logger, opts ...StoreOption) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		ws:       types.NewWorkspace(),
		apiKeys:  map[string]string{},
		kv:       kv,
		debounce: DefaultSaveDebounce,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	data, ok, err := kv.Get(ctx, workspaceKey)
	if err != nil {
		return nil, err
	}
	if ok {
		doc, err := DecodeDocument(data)
		if err != nil {
			// A corrupt snapshot must not take the application down.
			logger.Warn("stored workspace unreadable, starting fresh", zap.Error(err))
		} else {
			doc.apply(s.ws)
		}
	}

	keyData, ok, err := kv.Get(ctx, credentialsKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := decodeCredentials(keyData, s.apiKeys); err != nil {
			logger.Warn("stored credentials unreadable", zap.Error(err))
		}
	}
	return s, nil
}

// Snapshot returns a deep copy of the current workspace.
func (s *Store) Snapshot() *types.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.Clone()
}

// Update applies fn to the workspace under the store lock and schedules a
// save. fn must not retain references past its return.
func (s *Store) Update(fn func(ws *types.Workspace)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.ws)
	s.scheduleSaveLocked()
}

// HasProject reports whether a concrete project with the given id exists.
// The aggregate view is not a valid generation target.
func (s *Store) HasProject(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.FindProject(projectID) != nil
}

// AppendJobs adds freshly created jobs to a project.
func (s *Store) AppendJobs(projectID string, jobs []*types.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ws.FindProject(projectID)
	if p == nil {
		return types.NewError(types.ErrNotFound, "project not found: "+projectID)
	}
	p.Jobs = append(p.Jobs, jobs...)
	s.scheduleSaveLocked()
	return nil
}

// UpdateJob applies fn to the job with the given id and reports whether the
// write took effect. Missing jobs (deleted mid-flight) and jobs already in a
// terminal status are not touched; callers treat a false return as a signal
// to stop driving the job.
func (s *Store) UpdateJob(jobID string, fn func(job *types.GenerationJob)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, job := s.ws.FindJob(jobID)
	if job == nil || job.Status.IsTerminal() {
		return false
	}
	fn(job)
	s.scheduleSaveLocked()
	return true
}

// AddProject creates a project with the next numeric id and selects it.
func (s *Store) AddProject(name string) *types.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &types.Project{
		ID:   types.NewJobID(),
		Name: name,
		Jobs: []*types.GenerationJob{},
	}
	s.ws.Projects = append(s.ws.Projects, p)
	s.ws.SelectedProjectID = p.ID
	s.scheduleSaveLocked()
	return p.Clone()
}

// RenameProject updates a project's display name.
func (s *Store) RenameProject(projectID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ws.FindProject(projectID)
	if p == nil {
		return types.NewError(types.ErrNotFound, "project not found: "+projectID)
	}
	p.Name = name
	s.scheduleSaveLocked()
	return nil
}

// RemoveProject deletes a project and its jobs. Deleting the last project
// recreates the default one so the workspace always has a generation target.
// If the deleted project was selected, selection moves to the first remaining
// project.
func (s *Store) RemoveProject(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, p := range s.ws.Projects {
		if p.ID == projectID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return types.NewError(types.ErrNotFound, "project not found: "+projectID)
	}
	for _, j := range s.ws.Projects[idx].Jobs {
		delete(s.ws.StarredJobIDs, j.ID)
	}
	s.ws.Projects = append(s.ws.Projects[:idx], s.ws.Projects[idx+1:]...)
	if len(s.ws.Projects) == 0 {
		s.ws.Projects = types.NewWorkspace().Projects
	}
	if s.ws.SelectedProjectID == projectID {
		s.ws.SelectedProjectID = s.ws.Projects[0].ID
	}
	s.scheduleSaveLocked()
	return nil
}

// RemoveJob deletes a job from whichever project holds it. Removing a job
// that is still being polled causes the poller's next write to become a
// no-op, which cancels the poll.
func (s *Store) RemoveJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.ws.Projects {
		for i, j := range p.Jobs {
			if j.ID == jobID {
				p.Jobs = append(p.Jobs[:i], p.Jobs[i+1:]...)
				delete(s.ws.StarredJobIDs, jobID)
				s.scheduleSaveLocked()
				return nil
			}
		}
	}
	return types.NewError(types.ErrNotFound, "job not found: "+jobID)
}

// SetStarred toggles a job's starred flag.
func (s *Store) SetStarred(jobID string, starred bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if starred {
		s.ws.StarredJobIDs[jobID] = true
	} else {
		delete(s.ws.StarredJobIDs, jobID)
	}
	s.scheduleSaveLocked()
}

// SelectProject changes the active project. The aggregate id is accepted.
func (s *Store) SelectProject(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if projectID != types.AllProjectsID && s.ws.FindProject(projectID) == nil {
		return types.NewError(types.ErrNotFound, "project not found: "+projectID)
	}
	s.ws.SelectedProjectID = projectID
	s.scheduleSaveLocked()
	return nil
}

// Reset discards the workspace and restores the default empty state. The
// reset is persisted immediately, not debounced.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.ws = types.NewWorkspace()
	s.dirty = true
	s.mu.Unlock()
	return s.Flush(ctx)
}

// APIKey returns the stored credential for a provider, or empty.
func (s *Store) APIKey(provider string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKeys[provider]
}

// SetAPIKey stores a provider credential. Credentials persist separately
// from the workspace document and never appear in exports.
func (s *Store) SetAPIKey(ctx context.Context, provider, key string) error {
	s.mu.Lock()
	if key == "" {
		delete(s.apiKeys, provider)
	} else {
		s.apiKeys[provider] = key
	}
	data, err := encodeCredentials(s.apiKeys)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, credentialsKey, data)
}

// Export serializes the current workspace as a portable document.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EncodeDocument(s.ws)
}

// Import replaces the workspace with the contents of an export document.
// A malformed document leaves the current workspace untouched.
func (s *Store) Import(ctx context.Context, data []byte) error {
	doc, err := DecodeDocument(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	doc.apply(s.ws)
	s.dirty = true
	s.mu.Unlock()
	return s.Flush(ctx)
}

// Flush persists the current snapshot immediately and cancels any pending
// debounced save. Persist cycles are serialized: a flush that starts after
// another one always encodes at least as recent a snapshot, so the last
// write to the backend is never stale.
func (s *Store) Flush(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := EncodeDocument(s.ws)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.dirty = false
	s.mu.Unlock()

	if err := s.kv.Put(ctx, workspaceKey, data); err != nil {
		s.logger.Error("workspace save failed", zap.Error(err))
		return err
	}
	if s.metrics != nil {
		s.metrics.WorkspaceSaved()
	}
	return nil
}

// Close flushes pending state and releases the backend.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if err := s.Flush(ctx); err != nil {
		return err
	}
	return s.kv.Close()
}

// scheduleSaveLocked arms (or re-arms) the debounce timer. Callers hold mu.
func (s *Store) scheduleSaveLocked() {
	s.dirty = true
	if s.closed {
		return
	}
	if s.debounce <= 0 {
		go s.Flush(context.Background())
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.debounce)
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(context.Background()); err != nil {
			s.logger.Warn("debounced save failed", zap.Error(err))
		}
	})
}
