package gen

import (
	"context"

	"github.com/fyrean/genstudio/types"
)

// Size is a supported output resolution.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Capabilities describes a provider adapter to the engine and to callers.
type Capabilities struct {
	Name        string
	DisplayName string
	Kind        types.JobKind

	// RequiresAPIKey is false for credential-free providers.
	RequiresAPIKey bool

	// FileDriven providers take an input asset instead of a prompt
	// (image-to-3D); prompt-driven providers require a non-empty template.
	FileDriven bool

	SupportsInpainting  bool
	SupportsOutpainting bool
	SupportedSizes      []Size

	// SeedUpperBound is the exclusive upper bound for client-generated
	// random seeds when the user leaves the seed empty.
	SeedUpperBound int64

	// SharedQueue marks providers whose jobs share server-side queue state;
	// the engine dispatches to them sequentially with pacing.
	SharedQueue bool
}

// DispatchResult is the outcome of one dispatch round trip. Exactly one of
// Result (synchronous completion) or JobToken (asynchronous accept) is set.
type DispatchResult struct {
	Sync     bool
	Result   *NormalizedResult
	JobToken string
}

// NormalizedResult is the provider-independent shape of a finished
// generation.
type NormalizedResult struct {
	Kind types.JobKind

	// URI is a displayable location for image results.
	URI string

	// Model and Preview carry the raw binary payloads of a 3D result.
	Model   []byte
	Preview []byte

	// Detail is the raw provider metadata captured with the result,
	// serialized verbatim into the job's status detail.
	Detail string
}

// Request is a dispatchable, fully built provider request.
type Request struct {
	// Dispatch performs the network call. Failures are *types.Error with
	// code PROVIDER_ERROR or TRANSPORT; they never panic and are never
	// swallowed.
	Dispatch func(ctx context.Context) (*DispatchResult, error)
}

// Adapter is the uniform contract every generation backend implements.
// Adapters perform network calls only; none may mutate workspace state.
type Adapter interface {
	Capabilities() Capabilities

	// DefaultParameters returns a fresh copy of the provider's defaults.
	DefaultParameters() types.ParameterSet

	// BuildRequest constructs a dispatchable request from fully resolved
	// inputs. It performs no I/O itself.
	BuildRequest(apiKey, modelID string, inputs types.ParameterSet) (*Request, error)
}

// Progress is one asynchronous status check outcome.
type Progress struct {
	// Done means the artifact should now be fetched with FetchResult.
	Done bool

	// Faulted means the provider signaled an explicit failure; polling
	// stops immediately.
	Faulted bool

	// FaultMessage carries the provider's failure description when Faulted.
	FaultMessage string

	// WaitTimeSeconds is the provider's completion estimate, when reported.
	WaitTimeSeconds float64

	// RawPayload is the raw progress body, kept verbatim for status detail.
	RawPayload string
}

// Poller is implemented by adapters whose dispatch returns a job token.
type Poller interface {
	Adapter

	// CheckProgress performs one cheap status probe for the job token.
	CheckProgress(ctx context.Context, apiKey, token string) (*Progress, error)

	// FetchResult retrieves the finished artifact after CheckProgress
	// reported done. A done signal without an artifact is an error.
	FetchResult(ctx context.Context, apiKey, token string) (*NormalizedResult, error)
}
