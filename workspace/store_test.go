package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrean/genstudio/types"
)

// countingKV wraps a KV and counts Put calls so tests can assert on how many
// snapshots actually hit the backend.
type countingKV struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func newCountingKV() *countingKV {
	return &countingKV{data: map[string][]byte{}}
}

func (c *countingKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *countingKV) Put(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	if key == workspaceKey {
		c.puts++
	}
	return nil
}

func (c *countingKV) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *countingKV) Close() error { return nil }

func (c *countingKV) workspacePuts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

func newTestStore(t *testing.T, kv KV, opts ...StoreOption) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), kv, zap.NewNop(), opts...)
	require.NoError(t, err)
	return s
}

func TestNewStoreEmptyBackend(t *testing.T) {
	s := newTestStore(t, newCountingKV())
	ws := s.Snapshot()
	require.Len(t, ws.Projects, 1)
	assert.Equal(t, "Default", ws.Projects[0].Name)
	assert.Equal(t, ws.Projects[0].ID, ws.SelectedProjectID)
}

func TestDebounceCollapsesMutations(t *testing.T) {
	kv := newCountingKV()
	s := newTestStore(t, kv, WithSaveDebounce(30*time.Millisecond))
	projectID := s.Snapshot().Projects[0].ID

	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendJobs(projectID, []*types.GenerationJob{{
			ID:     types.NewJobID(),
			Kind:   types.KindImage,
			Status: types.StatusGenerating,
		}}))
	}

	assert.Equal(t, 0, kv.workspacePuts(), "no save inside the debounce window")

	require.Eventually(t, func() bool {
		return kv.workspacePuts() == 1
	}, time.Second, 5*time.Millisecond, "burst should collapse to one save")

	// The persisted snapshot carries the final state, not an intermediate one.
	doc, err := DecodeDocument(kv.data[workspaceKey])
	require.NoError(t, err)
	require.Len(t, doc.Projects, 1)
	assert.Len(t, doc.Projects[0].Jobs, 10)
}

// stallKV delays the first workspace Put so a second save can start while
// the first is still in flight.
type stallKV struct {
	countingKV
	delay   time.Duration
	stalled bool
}

func (s *stallKV) Put(ctx context.Context, key string, value []byte) error {
	if key == workspaceKey {
		s.mu.Lock()
		first := !s.stalled
		s.stalled = true
		s.mu.Unlock()
		if first {
			time.Sleep(s.delay)
		}
	}
	return s.countingKV.Put(ctx, key, value)
}

func TestOverlappingSavesKeepNewestSnapshot(t *testing.T) {
	kv := &stallKV{
		countingKV: countingKV{data: map[string][]byte{}},
		delay:      150 * time.Millisecond,
	}
	s := newTestStore(t, kv, WithSaveDebounce(0))
	projectID := s.Snapshot().Projects[0].ID

	require.NoError(t, s.AppendJobs(projectID, []*types.GenerationJob{
		{ID: "j1", Kind: types.KindImage, Status: types.StatusGenerating},
	}))
	// Let the first save reach the backend write before mutating again.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.AppendJobs(projectID, []*types.GenerationJob{
		{ID: "j2", Kind: types.KindImage, Status: types.StatusGenerating},
	}))

	require.Eventually(t, func() bool {
		kv.mu.Lock()
		data := append([]byte(nil), kv.data[workspaceKey]...)
		kv.mu.Unlock()
		if len(data) == 0 {
			return false
		}
		doc, err := DecodeDocument(data)
		if err != nil {
			return false
		}
		return len(doc.Projects) == 1 && len(doc.Projects[0].Jobs) == 2
	}, 2*time.Second, 10*time.Millisecond, "last persisted snapshot must contain both jobs")

	require.NoError(t, s.Close(context.Background()))
}

func TestUpdateJobTerminalGuard(t *testing.T) {
	s := newTestStore(t, newCountingKV(), WithSaveDebounce(0))
	projectID := s.Snapshot().Projects[0].ID

	job := &types.GenerationJob{ID: "j1", Kind: types.KindImage, Status: types.StatusGenerating}
	require.NoError(t, s.AppendJobs(projectID, []*types.GenerationJob{job}))

	ok := s.UpdateJob("j1", func(j *types.GenerationJob) {
		j.Status = types.StatusCompleted
		j.ResultURI = "https://example.com/a.png"
	})
	assert.True(t, ok)

	// A second terminal transition is refused.
	ok = s.UpdateJob("j1", func(j *types.GenerationJob) {
		j.Status = types.StatusFailed
	})
	assert.False(t, ok)

	_, got := s.Snapshot().FindJob("j1")
	require.NotNil(t, got)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, "https://example.com/a.png", got.ResultURI)
}

func TestUpdateJobMissingIsNoOp(t *testing.T) {
	s := newTestStore(t, newCountingKV(), WithSaveDebounce(0))
	ok := s.UpdateJob("nope", func(j *types.GenerationJob) {
		t.Fatal("callback must not run for a missing job")
	})
	assert.False(t, ok)
}

func TestRemoveJobCancelsInFlightWrites(t *testing.T) {
	s := newTestStore(t, newCountingKV(), WithSaveDebounce(0))
	projectID := s.Snapshot().Projects[0].ID
	require.NoError(t, s.AppendJobs(projectID, []*types.GenerationJob{
		{ID: "j1", Kind: types.KindImage, Status: types.StatusProcessing},
	}))
	require.NoError(t, s.RemoveJob("j1"))

	assert.False(t, s.UpdateJob("j1", func(j *types.GenerationJob) {}))
	assert.Error(t, s.RemoveJob("j1"))
}

func TestRemoveProjectReselects(t *testing.T) {
	s := newTestStore(t, newCountingKV(), WithSaveDebounce(0))
	first := s.Snapshot().Projects[0]
	second := s.AddProject("Second")
	assert.Equal(t, second.ID, s.Snapshot().SelectedProjectID)

	require.NoError(t, s.RemoveProject(second.ID))
	ws := s.Snapshot()
	require.Len(t, ws.Projects, 1)
	assert.Equal(t, first.ID, ws.SelectedProjectID)

	// Deleting the last project recreates the default one.
	require.NoError(t, s.RemoveProject(first.ID))
	ws = s.Snapshot()
	require.Len(t, ws.Projects, 1)
	assert.Equal(t, "Default", ws.Projects[0].Name)
}

func TestRemoveProjectDropsStars(t *testing.T) {
	s := newTestStore(t, newCountingKV(), WithSaveDebounce(0))
	p := s.AddProject("Scratch")
	require.NoError(t, s.AppendJobs(p.ID, []*types.GenerationJob{
		{ID: "j1", Kind: types.KindImage, Status: types.StatusCompleted},
	}))
	s.SetStarred("j1", true)
	require.NoError(t, s.RemoveProject(p.ID))
	assert.Empty(t, s.Snapshot().StarredJobIDs)
}

func TestSelectProjectAcceptsAggregate(t *testing.T) {
	s := newTestStore(t, newCountingKV(), WithSaveDebounce(0))
	require.NoError(t, s.SelectProject(types.AllProjectsID))
	assert.Equal(t, types.AllProjectsID, s.Snapshot().SelectedProjectID)
	assert.Error(t, s.SelectProject("missing"))
}

func TestPersistenceRoundTrip(t *testing.T) {
	kv := newCountingKV()
	ctx := context.Background()

	s := newTestStore(t, kv, WithSaveDebounce(0))
	p := s.AddProject("Art")
	require.NoError(t, s.AppendJobs(p.ID, []*types.GenerationJob{
		{ID: "j1", Kind: types.KindModel3D, Status: types.StatusCompleted, ModelData: []byte{0x67, 0x6c}},
	}))
	s.SetStarred("j1", true)
	require.NoError(t, s.SetAPIKey(ctx, "aihorde", "secret"))
	require.NoError(t, s.Close(ctx))

	reloaded := newTestStore(t, kv)
	ws := reloaded.Snapshot()
	got := ws.FindProject(p.ID)
	require.NotNil(t, got)
	assert.Equal(t, "Art", got.Name)
	require.Len(t, got.Jobs, 1)
	assert.Equal(t, []byte{0x67, 0x6c}, got.Jobs[0].ModelData)
	assert.True(t, ws.StarredJobIDs["j1"])
	assert.Equal(t, "secret", reloaded.APIKey("aihorde"))
}

func TestImportMalformedLeavesWorkspaceUntouched(t *testing.T) {
	s := newTestStore(t, newCountingKV(), WithSaveDebounce(0))
	s.AddProject("Keep")
	before := s.Snapshot()

	err := s.Import(context.Background(), []byte(`{"projects": "not-a-list"`))
	require.Error(t, err)
	assert.Equal(t, types.ErrImportMalformed, types.GetErrorCode(err))
	assert.Equal(t, len(before.Projects), len(s.Snapshot().Projects))
}

func TestImportRetainsSelectionsWhenAbsent(t *testing.T) {
	s := newTestStore(t, newCountingKV(), WithSaveDebounce(0))
	s.Update(func(ws *types.Workspace) {
		ws.SelectedProviderID = "deepinfra"
		ws.SelectedTask = "3d"
	})

	doc := []byte(`{"projects":[{"id":"7","name":"Imported","images":[]}],"selectedProject":"7","generationInputs":{},"starredImages":{}}`)
	require.NoError(t, s.Import(context.Background(), doc))

	ws := s.Snapshot()
	require.Len(t, ws.Projects, 1)
	assert.Equal(t, "Imported", ws.Projects[0].Name)
	assert.Equal(t, "deepinfra", ws.SelectedProviderID)
	assert.Equal(t, "3d", ws.SelectedTask)
}

func TestImportWithoutSelectionSelectsFirstProject(t *testing.T) {
	s := newTestStore(t, newCountingKV(), WithSaveDebounce(0))

	doc := []byte(`{"projects":[{"id":"9","name":"Imported","images":[]},{"id":"10","name":"Other","images":[]}],"generationInputs":{},"starredImages":{}}`)
	require.NoError(t, s.Import(context.Background(), doc))

	ws := s.Snapshot()
	require.Len(t, ws.Projects, 2)
	assert.Equal(t, "9", ws.SelectedProjectID)
}

func TestResetRestoresDefaults(t *testing.T) {
	kv := newCountingKV()
	s := newTestStore(t, kv, WithSaveDebounce(time.Hour))
	s.AddProject("Gone")
	require.NoError(t, s.Reset(context.Background()))

	ws := s.Snapshot()
	require.Len(t, ws.Projects, 1)
	assert.Equal(t, "Default", ws.Projects[0].Name)
	assert.GreaterOrEqual(t, kv.workspacePuts(), 1, "reset persists without waiting for the debounce")
}
