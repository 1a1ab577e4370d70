package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobKind distinguishes the artifact a job produces.
type JobKind string

const (
	KindImage   JobKind = "image"
	KindModel3D JobKind = "3d"
)

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

const (
	// StatusGenerating indicates the job is locally queued or dispatching.
	StatusGenerating JobStatus = "generating"

	// StatusProcessing indicates the provider acknowledged the job and the
	// poller is awaiting async completion.
	StatusProcessing JobStatus = "processing"

	// StatusCompleted indicates the job finished with a result. Terminal.
	StatusCompleted JobStatus = "completed"

	// StatusFailed indicates the job ended with an error. Terminal.
	StatusFailed JobStatus = "failed"

	// StatusTimedOut indicates polling exceeded its configured deadline.
	// Terminal. Only produced when a poll deadline is set.
	StatusTimedOut JobStatus = "timed_out"
)

// IsTerminal returns true if the status has no outgoing transition.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// ParameterSet is a provider-specific parameter bag. Jobs carry the fully
// resolved set they were dispatched with; the workspace carries the current
// draft being edited.
type ParameterSet map[string]any

// Clone returns a shallow copy. Values are treated as immutable once set.
func (p ParameterSet) Clone() ParameterSet {
	if p == nil {
		return nil
	}
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns the string value for key, or "" if absent or not a string.
func (p ParameterSet) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the integer value for key, accepting the numeric types JSON
// decoding produces.
func (p ParameterSet) Int(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Float64 returns the float value for key, or 0 if absent.
func (p ParameterSet) Float64(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Bool returns the boolean value for key, or false if absent.
func (p ParameterSet) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// GenerationJob is one dispatched generation request and its tracked outcome.
//
// The inputs are immutable once dispatched. The record is mutated only by the
// lifecycle engine (sync providers) or the poller (async providers), and never
// after reaching a terminal status. JSON field names match the export document
// of the workspace format; binary fields serialize as base64.
type GenerationJob struct {
	ID       string       `json:"id"`
	Kind     JobKind      `json:"type"`
	Provider string       `json:"provider"`
	Inputs   ParameterSet `json:"generationInputs,omitempty"`
	Status   JobStatus    `json:"status"`

	// ResultURI is a displayable URI, populated for completed image jobs.
	ResultURI string `json:"url,omitempty"`

	// ModelData and PreviewData hold the raw binary payloads of a completed
	// 3D job (GLB model and preview video). Display handles are derived
	// fresh each session and never persisted.
	ModelData   []byte `json:"modelData,omitempty"`
	PreviewData []byte `json:"previewData,omitempty"`

	// StatusDetail is free-form diagnostic text captured at each transition:
	// the last error, or the raw provider status payload verbatim.
	StatusDetail string `json:"metadata,omitempty"`

	// WaitTimeSeconds is an optional ETA extracted from the provider status
	// payload, for progress display.
	WaitTimeSeconds float64 `json:"waitTime,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state.
func (j *GenerationJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep copy of the job.
func (j *GenerationJob) Clone() *GenerationJob {
	out := *j
	out.Inputs = j.Inputs.Clone()
	if j.ModelData != nil {
		out.ModelData = append([]byte(nil), j.ModelData...)
	}
	if j.PreviewData != nil {
		out.PreviewData = append([]byte(nil), j.PreviewData...)
	}
	return &out
}

// NewJobID returns a time-based identifier with a random disambiguator so ids
// minted in the same millisecond never collide.
func NewJobID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
