package gen

import (
	"context"
	"sync"

	"github.com/fyrean/genstudio/types"
)

// memStore is an in-memory JobStore with the same terminal-once and
// missing-job guards the workspace store enforces.
type memStore struct {
	mu       sync.Mutex
	projects map[string][]*types.GenerationJob
}

func newMemStore(projectIDs ...string) *memStore {
	s := &memStore{projects: map[string][]*types.GenerationJob{}}
	for _, id := range projectIDs {
		s.projects[id] = nil
	}
	return s
}

func (s *memStore) HasProject(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.projects[projectID]
	return ok
}

func (s *memStore) AppendJobs(projectID string, jobs []*types.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return types.NewError(types.ErrNotFound, "project not found")
	}
	s.projects[projectID] = append(s.projects[projectID], jobs...)
	return nil
}

func (s *memStore) UpdateJob(jobID string, fn func(*types.GenerationJob)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, jobs := range s.projects {
		for _, j := range jobs {
			if j.ID == jobID {
				if j.Status.IsTerminal() {
					return false
				}
				fn(j)
				return true
			}
		}
	}
	return false
}

func (s *memStore) remove(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pid, jobs := range s.projects {
		for i, j := range jobs {
			if j.ID == jobID {
				s.projects[pid] = append(jobs[:i], jobs[i+1:]...)
				return
			}
		}
	}
}

func (s *memStore) jobs(projectID string) []*types.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.GenerationJob, len(s.projects[projectID]))
	copy(out, s.projects[projectID])
	return out
}

func (s *memStore) job(jobID string) *types.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, jobs := range s.projects {
		for _, j := range jobs {
			if j.ID == jobID {
				clone := *j
				return &clone
			}
		}
	}
	return nil
}

// mapCreds resolves API keys from a map.
type mapCreds map[string]string

func (m mapCreds) APIKey(provider string) string { return m[provider] }

// fakeAdapter is a scriptable synchronous adapter.
type fakeAdapter struct {
	caps     Capabilities
	defaults types.ParameterSet

	// dispatch overrides the default always-succeed behavior.
	dispatch func(inputs types.ParameterSet) (*DispatchResult, error)

	mu         sync.Mutex
	dispatched []types.ParameterSet
}

func (f *fakeAdapter) Capabilities() Capabilities { return f.caps }

func (f *fakeAdapter) DefaultParameters() types.ParameterSet {
	if f.defaults == nil {
		return types.ParameterSet{}
	}
	return f.defaults.Clone()
}

func (f *fakeAdapter) BuildRequest(apiKey, modelID string, inputs types.ParameterSet) (*Request, error) {
	return &Request{
		Dispatch: func(ctx context.Context) (*DispatchResult, error) {
			f.mu.Lock()
			f.dispatched = append(f.dispatched, inputs)
			f.mu.Unlock()
			if f.dispatch != nil {
				return f.dispatch(inputs)
			}
			return &DispatchResult{
				Sync:   true,
				Result: &NormalizedResult{Kind: types.KindImage, URI: "ok://" + inputs.String("prompt")},
			}, nil
		},
	}, nil
}

func (f *fakeAdapter) dispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

// fakePoller replays a scripted sequence of progress reports.
type fakePoller struct {
	fakeAdapter

	progress []*Progress
	checkErr error
	result   *NormalizedResult
	fetchErr error

	pmu    sync.Mutex
	checks int
}

func (f *fakePoller) CheckProgress(ctx context.Context, apiKey, token string) (*Progress, error) {
	f.pmu.Lock()
	defer f.pmu.Unlock()
	f.checks++
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	i := f.checks - 1
	if i >= len(f.progress) {
		i = len(f.progress) - 1
	}
	return f.progress[i], nil
}

func (f *fakePoller) FetchResult(ctx context.Context, apiKey, token string) (*NormalizedResult, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.result, nil
}

func (f *fakePoller) checkCount() int {
	f.pmu.Lock()
	defer f.pmu.Unlock()
	return f.checks
}
