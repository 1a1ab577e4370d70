package gen

import (
	"context"
	"math/rand"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fyrean/genstudio/internal/metrics"
	"github.com/fyrean/genstudio/prompt"
	"github.com/fyrean/genstudio/types"
)

// JobStore is the workspace surface the engine and poller write through. All
// mutations are whole-record updates keyed by stable ids; the implementation
// serializes writers.
type JobStore interface {
	// HasProject reports whether a concrete project with the id exists.
	HasProject(projectID string) bool

	// AppendJobs adds job records to the project in submission order.
	AppendJobs(projectID string, jobs []*types.GenerationJob) error

	// UpdateJob applies fn to the job if it still exists and is not yet
	// terminal, and reports whether the write was applied. A false return
	// makes the caller's transition a discarded no-op.
	UpdateJob(jobID string, fn func(*types.GenerationJob)) bool
}

// CredentialSource resolves stored API keys per provider.
type CredentialSource interface {
	APIKey(provider string) string
}

// Intent is a user's generation request: which provider, which project, the
// current parameter draft, and how many repetitions of each expanded prompt.
type Intent struct {
	ProjectID  string
	Provider   string
	ModelID    string
	Inputs     types.ParameterSet
	BatchCount int

	// InputAsset is the attached source asset for file-driven providers.
	InputAsset []byte
}

// Engine translates generation intents into job records and drives them to
// completion through the registered adapters.
type Engine struct {
	registry *Registry
	store    JobStore
	creds    CredentialSource
	poller   *Runner
	limiter  *rate.Limiter
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

// WithQueuePacing overrides the dispatch rate limit used for shared-queue
// providers.
func WithQueuePacing(l *rate.Limiter) EngineOption {
	return func(e *Engine) { e.limiter = l }
}

// NewEngine creates a lifecycle engine.
func NewEngine(registry *Registry, store JobStore, creds CredentialSource, poller *Runner, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		store:    store,
		creds:    creds,
		poller:   poller,
		// One dispatch per second keeps shared-queue providers from
		// seeing a burst of submissions for a single batch.
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate validates the intent, expands the prompt template, appends one job
// record per batch repetition and expanded prompt, and dispatches each job.
// Job records are visible in the store before any network call resolves.
//
// A dispatch failure marks only the affected job failed; sibling jobs in the
// batch proceed independently. The returned ids are in submission order.
func (e *Engine) Generate(ctx context.Context, intent Intent) ([]string, error) {
	adapter, err := e.registry.Get(intent.Provider)
	if err != nil {
		return nil, err
	}
	caps := adapter.Capabilities()

	apiKey := e.creds.APIKey(intent.Provider)
	if err := e.validate(intent, caps, apiKey); err != nil {
		return nil, err
	}

	jobs := e.buildJobs(intent, caps)
	if err := e.store.AppendJobs(intent.ProjectID, jobs); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.JobsDispatched(caps.Name, len(jobs))
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}

	if caps.SharedQueue {
		// Jobs share server-side queue state: submit sequentially, paced.
		for _, job := range jobs {
			if err := e.limiter.Wait(ctx); err != nil {
				e.failJob(job.ID, caps.Name, err.Error())
				continue
			}
			e.dispatchJob(ctx, adapter, apiKey, intent.ModelID, job)
		}
		return ids, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			e.dispatchJob(gctx, adapter, apiKey, intent.ModelID, job)
			return nil // per-job failures stay on the job record
		})
	}
	_ = g.Wait()
	return ids, nil
}

func (e *Engine) validate(intent Intent, caps Capabilities, apiKey string) error {
	if intent.ProjectID == "" || intent.ProjectID == types.AllProjectsID {
		return types.NewError(types.ErrValidation, "select a specific project before generating")
	}
	if !e.store.HasProject(intent.ProjectID) {
		return types.NewError(types.ErrValidation, "selected project does not exist")
	}
	if caps.RequiresAPIKey && apiKey == "" {
		return types.NewError(types.ErrValidation, "missing API key").WithProvider(caps.Name)
	}
	if caps.FileDriven {
		if len(intent.InputAsset) == 0 {
			return types.NewError(types.ErrValidation, "an input image is required").WithProvider(caps.Name)
		}
		return nil
	}
	if intent.Inputs.String("promptTemplate") == "" {
		return types.NewError(types.ErrValidation, "enter a prompt to generate")
	}
	return nil
}

func (e *Engine) buildJobs(intent Intent, caps Capabilities) []*types.GenerationJob {
	batch := intent.BatchCount
	if batch < 1 {
		batch = intent.Inputs.Int("batchCount")
	}
	if batch < 1 {
		batch = 1
	}

	prompts := []string{""}
	if !caps.FileDriven {
		prompts = prompt.Expand(intent.Inputs.String("promptTemplate"))
	}

	var jobs []*types.GenerationJob
	for i := 0; i < batch; i++ {
		for _, p := range prompts {
			inputs := intent.Inputs.Clone()
			if inputs == nil {
				inputs = types.ParameterSet{}
			}
			if !caps.FileDriven {
				inputs["prompt"] = p
			}
			if caps.FileDriven {
				inputs["file"] = intent.InputAsset
			}
			if inputs.String("seed") == "" {
				inputs["seed"] = randomSeed(caps.SeedUpperBound)
			}
			inputs["provider"] = caps.Name
			jobs = append(jobs, &types.GenerationJob{
				ID:       types.NewJobID(),
				Kind:     caps.Kind,
				Provider: caps.Name,
				Inputs:   inputs,
				Status:   types.StatusGenerating,
			})
		}
	}
	return jobs
}

func (e *Engine) dispatchJob(ctx context.Context, adapter Adapter, apiKey, modelID string, job *types.GenerationJob) {
	req, err := adapter.BuildRequest(apiKey, modelID, job.Inputs)
	if err != nil {
		e.failJob(job.ID, job.Provider, err.Error())
		return
	}

	res, err := req.Dispatch(ctx)
	if err != nil {
		e.failJob(job.ID, job.Provider, err.Error())
		return
	}

	if res.Sync {
		applyResult(e.store, job.ID, res.Result)
		if e.metrics != nil {
			e.metrics.JobCompleted(job.Provider)
		}
		e.logger.Debug("job completed synchronously",
			zap.String("job_id", job.ID),
			zap.String("provider", job.Provider))
		return
	}

	applied := e.store.UpdateJob(job.ID, func(j *types.GenerationJob) {
		j.Status = types.StatusProcessing
	})
	if !applied {
		// Job removed while dispatching; nothing to poll for.
		return
	}
	poller, ok := adapter.(Poller)
	if !ok {
		e.failJob(job.ID, job.Provider, "provider returned a job token but does not support polling")
		return
	}
	e.logger.Debug("job accepted, polling",
		zap.String("job_id", job.ID),
		zap.String("provider", job.Provider),
		zap.String("token", res.JobToken))
	e.poller.Watch(ctx, poller, apiKey, job.ID, res.JobToken)
}

func (e *Engine) failJob(jobID, provider, detail string) {
	e.store.UpdateJob(jobID, func(j *types.GenerationJob) {
		j.Status = types.StatusFailed
		j.StatusDetail = detail
	})
	if e.metrics != nil {
		e.metrics.JobFailed(provider)
	}
	e.logger.Warn("job failed",
		zap.String("job_id", jobID),
		zap.String("provider", provider),
		zap.String("detail", detail))
}

// applyResult writes a normalized result onto the job record in one update.
func applyResult(store JobStore, jobID string, res *NormalizedResult) {
	store.UpdateJob(jobID, func(j *types.GenerationJob) {
		j.Status = types.StatusCompleted
		j.StatusDetail = res.Detail
		switch res.Kind {
		case types.KindModel3D:
			j.ModelData = res.Model
			j.PreviewData = res.Preview
		default:
			j.ResultURI = res.URI
		}
	})
}

// randomSeed returns a uniform random non-negative seed below bound, as the
// decimal string providers accept in the seed field.
func randomSeed(bound int64) string {
	if bound <= 0 {
		bound = 1 << 31
	}
	return strconv.FormatInt(rand.Int63n(bound), 10)
}
