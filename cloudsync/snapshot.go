// Package cloudsync replicates the project gallery to a per-user cloud
// record and resolves divergence between the local and cloud copies.
package cloudsync

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/fyrean/genstudio/types"
)

// archiveEntry is the single JSON document inside the snapshot archive.
const archiveEntry = "gallery.json"

// Snapshot is the cloud-stored gallery state: the projects and the moment it
// was taken. Selections, drafts, and credentials never leave the device.
type Snapshot struct {
	Projects  []*types.Project `json:"projects"`
	Timestamp time.Time        `json:"timestamp"`
}

// EncodeArchive packs projects into a zip archive holding one gallery.json.
func EncodeArchive(projects []*types.Project, at time.Time) ([]byte, error) {
	doc, err := json.MarshalIndent(Snapshot{Projects: projects, Timestamp: at.UTC()}, "", "  ")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(archiveEntry)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(doc); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeArchive unpacks a snapshot archive.
func DecodeArchive(data []byte) (*Snapshot, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, types.NewError(types.ErrImportMalformed, "cloud snapshot is not a valid archive").WithCause(err)
	}
	for _, f := range zr.File {
		if f.Name != archiveEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, types.NewError(types.ErrImportMalformed, "failed to open snapshot entry").WithCause(err)
		}
		doc, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, types.NewError(types.ErrImportMalformed, "failed to read snapshot entry").WithCause(err)
		}
		var snap Snapshot
		if err := json.Unmarshal(doc, &snap); err != nil {
			return nil, types.NewError(types.ErrImportMalformed, "failed to parse snapshot").WithCause(err)
		}
		return &snap, nil
	}
	return nil, types.NewError(types.ErrImportMalformed, "snapshot archive has no gallery entry")
}

// projectsEqual compares two galleries by canonical serialization, the same
// comparison used to decide whether a sync conflict exists.
func projectsEqual(a, b []*types.Project) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
