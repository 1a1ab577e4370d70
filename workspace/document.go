package workspace

import (
	"encoding/json"
	"time"

	"github.com/fyrean/genstudio/types"
)

// Document is the portable export format of a workspace: a single
// self-contained JSON document. Binary 3D payloads serialize as base64 under
// modelData/previewData inside each job record; display handles are never
// part of the document.
type Document struct {
	Projects         []*types.Project   `json:"projects"`
	SelectedProject  string             `json:"selectedProject"`
	GenerationInputs types.ParameterSet `json:"generationInputs"`
	StarredImages    map[string]bool    `json:"starredImages"`
	SelectedProvider string             `json:"selectedProvider,omitempty"`
	SelectedTask     string             `json:"selectedTask,omitempty"`
	Timestamp        time.Time          `json:"timestamp"`
}

// EncodeDocument serializes a workspace snapshot into an export document.
func EncodeDocument(ws *types.Workspace) ([]byte, error) {
	clean := ws.Clone()
	for _, p := range clean.Projects {
		for _, j := range p.Jobs {
			if j.Kind == types.KindModel3D {
				// Blob URIs are session-scoped; only bytes persist.
				j.ResultURI = ""
			}
		}
	}
	doc := Document{
		Projects:         clean.Projects,
		SelectedProject:  clean.SelectedProjectID,
		GenerationInputs: clean.GenerationInputs,
		StarredImages:    clean.StarredJobIDs,
		SelectedProvider: clean.SelectedProviderID,
		SelectedTask:     clean.SelectedTask,
		Timestamp:        time.Now().UTC(),
	}
	return json.Marshal(doc)
}

// DecodeDocument parses an export document. A malformed payload yields an
// IMPORT_MALFORMED error and no partial result.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.NewError(types.ErrImportMalformed, "failed to parse workspace document").WithCause(err)
	}
	if doc.Projects == nil {
		return nil, types.NewError(types.ErrImportMalformed, "workspace document has no projects")
	}
	return &doc, nil
}

// apply writes the document onto the workspace. Optional fields that are
// absent retain the current in-memory values rather than being cleared.
func (d *Document) apply(ws *types.Workspace) {
	ws.Projects = d.Projects
	ws.SelectedProjectID = d.SelectedProject
	if ws.SelectedProjectID == "" && len(ws.Projects) > 0 {
		// A workspace always has a selected project when any exist.
		ws.SelectedProjectID = ws.Projects[0].ID
	}
	ws.GenerationInputs = d.GenerationInputs
	if ws.GenerationInputs == nil {
		ws.GenerationInputs = types.ParameterSet{}
	}
	ws.StarredJobIDs = d.StarredImages
	if ws.StarredJobIDs == nil {
		ws.StarredJobIDs = map[string]bool{}
	}
	if d.SelectedProvider != "" {
		ws.SelectedProviderID = d.SelectedProvider
	}
	if d.SelectedTask != "" {
		ws.SelectedTask = d.SelectedTask
	}
}
