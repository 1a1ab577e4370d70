package types

// AllProjectsID is the reserved pseudo-project id that aggregates every real
// project's jobs for display. It is read-only and never owns a job.
const AllProjectsID = "all"

// Project groups generation jobs. Jobs appear in insertion order, which is
// chronological submission order; display order is the caller's concern.
type Project struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Jobs []*GenerationJob `json:"images"`
}

// FindJob returns the job with the given id, or nil.
func (p *Project) FindJob(jobID string) *GenerationJob {
	for _, j := range p.Jobs {
		if j.ID == jobID {
			return j
		}
	}
	return nil
}

// Clone returns a deep copy of the project.
func (p *Project) Clone() *Project {
	out := &Project{ID: p.ID, Name: p.Name}
	if p.Jobs != nil {
		out.Jobs = make([]*GenerationJob, len(p.Jobs))
		for i, j := range p.Jobs {
			out.Jobs[i] = j.Clone()
		}
	}
	return out
}

// Workspace is the complete persisted application state: projects, selection,
// the current parameter draft, and the starred set. It is the unit of
// persistence, of export/import, and of cloud sync.
type Workspace struct {
	Projects           []*Project   `json:"projects"`
	SelectedProjectID  string       `json:"selectedProject"`
	GenerationInputs   ParameterSet `json:"generationInputs"`
	SelectedProviderID string       `json:"selectedProvider,omitempty"`
	SelectedTask       string       `json:"selectedTask,omitempty"`
	StarredJobIDs      map[string]bool `json:"starredImages"`
}

// NewWorkspace returns a workspace with a single empty default project
// selected.
func NewWorkspace() *Workspace {
	return &Workspace{
		Projects:          []*Project{{ID: "1", Name: "Default"}},
		SelectedProjectID: "1",
		GenerationInputs:  ParameterSet{},
		StarredJobIDs:     map[string]bool{},
	}
}

// FindProject returns the project with the given id, or nil. The aggregate
// pseudo-id never resolves to a project.
func (w *Workspace) FindProject(id string) *Project {
	if id == AllProjectsID {
		return nil
	}
	for _, p := range w.Projects {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// FindJob locates a job across all projects and returns it with its owning
// project. Returns nil, nil when absent.
func (w *Workspace) FindJob(jobID string) (*Project, *GenerationJob) {
	for _, p := range w.Projects {
		if j := p.FindJob(jobID); j != nil {
			return p, j
		}
	}
	return nil, nil
}

// AllJobs returns every project's jobs flattened in project order. This is the
// aggregate pseudo-project view.
func (w *Workspace) AllJobs() []*GenerationJob {
	var out []*GenerationJob
	for _, p := range w.Projects {
		out = append(out, p.Jobs...)
	}
	return out
}

// Clone returns a deep copy of the workspace.
func (w *Workspace) Clone() *Workspace {
	out := &Workspace{
		SelectedProjectID:  w.SelectedProjectID,
		GenerationInputs:   w.GenerationInputs.Clone(),
		SelectedProviderID: w.SelectedProviderID,
		SelectedTask:       w.SelectedTask,
	}
	if w.Projects != nil {
		out.Projects = make([]*Project, len(w.Projects))
		for i, p := range w.Projects {
			out.Projects[i] = p.Clone()
		}
	}
	if w.StarredJobIDs != nil {
		out.StarredJobIDs = make(map[string]bool, len(w.StarredJobIDs))
		for k, v := range w.StarredJobIDs {
			out.StarredJobIDs[k] = v
		}
	}
	return out
}
